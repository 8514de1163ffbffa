// Package claude orchestrates assistant turns over the claude CLI
// subprocess: prompt assembly, streaming classification, timeouts, and the
// tool-use policy.
package claude

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"strings"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"slackclaw/pkg/config"
	"slackclaw/pkg/mcp"
	"slackclaw/pkg/session"
	"slackclaw/pkg/workspace"
)

// mcpConfigDirEnv tells the subprocess where the consolidated manifest lives.
const mcpConfigDirEnv = "CLAUDE_MCP_CONFIG_DIR"

const maxScanTokenSize = 1024 * 1024

// DeltaFunc receives classified output units while a turn streams.
type DeltaFunc func(Delta)

// Runner executes assistant turns. Turns sharing a conversation key are
// serialized by the session gate; distinct keys run fully in parallel.
type Runner struct {
	cfg      config.Claude
	resolver *mcp.Resolver
	sessions *session.Store
	log      *slog.Logger
	builder  *promptBuilder
	preamble string
	workDir  string
}

// NewRunner wires the orchestrator to its manifest resolver and session store.
func NewRunner(cfg config.Claude, resolver *mcp.Resolver, sessions *session.Store, log *slog.Logger) (*Runner, error) {
	if resolver == nil {
		return nil, errors.New("mcp resolver is required")
	}
	if sessions == nil {
		return nil, errors.New("session store is required")
	}
	if log == nil {
		log = slog.Default()
	}

	workDir, err := workspace.ResolveRoot(cfg.WorkingDir)
	if err != nil {
		return nil, fmt.Errorf("resolve working directory: %w", err)
	}

	return &Runner{
		cfg:      cfg,
		resolver: resolver,
		sessions: sessions,
		log:      log.With("component", "claude.runner"),
		builder:  newPromptBuilder(cfg.HistoryTokenBudget),
		preamble: resolvePreamble(cfg.SystemPreamble),
		workDir:  workDir,
	}, nil
}

// Tools resolves the current manifest set without running a turn.
func (r *Runner) Tools() (mcp.Resolved, error) {
	return r.resolver.Resolve()
}

// ResetSession discards the cached conversation for key.
func (r *Runner) ResetSession(key string) {
	r.sessions.Remove(key)
}

// RunTurn executes one turn. An empty key runs an ephemeral, uncached
// session. The returned text is the raw answer; presentation-layer
// sanitization is the router's concern.
func (r *Runner) RunTurn(ctx context.Context, key string, prompt string, onDelta DeltaFunc) (string, error) {
	resolved, err := r.resolver.Resolve()
	if err != nil {
		r.log.Error("Tool manifest resolution failed", "error", err)
		return "", ErrToolsUnavailable
	}

	var entry *session.Entry
	var history []session.Turn
	if key != "" {
		for {
			entry = r.sessions.GetOrCreate(key, nil)
			if err := entry.Acquire(ctx); err != nil {
				return "", fmt.Errorf("acquire session gate: %w", err)
			}
			if !entry.Faulted() {
				break
			}
			// The turn we waited behind failed and removed this entry.
			// Start over on the fresh one that replaced it.
			entry.Release()
		}
		defer entry.Release()

		entry.Touch()
		history = entry.History()
	}

	effective := r.builder.Build(r.preamble, resolved.ToolNames, history, prompt)

	started := time.Now()
	answer, toolUsed, err := r.execute(ctx, resolved.ConfigDir, effective, onDelta)
	if err != nil {
		r.failSession(entry, key)
		return "", err
	}

	if r.cfg.RequireToolUse && !resolved.Empty() && !toolUsed && !IsTrivialPrompt(prompt) {
		r.failSession(entry, key)
		return "", ErrToolPolicy
	}

	if entry != nil {
		entry.AppendTurn(prompt, answer, r.cfg.MaxHistoryTurns)
	}

	r.log.Info("Turn completed", "session_key", key, "tool_used", toolUsed, "duration", time.Since(started))
	return answer, nil
}

// failSession marks the entry faulted and removes it so the next turn on
// this key starts from clean state.
func (r *Runner) failSession(entry *session.Entry, key string) {
	if entry == nil {
		return
	}

	entry.MarkFaulted()
	r.sessions.Remove(key)
}

// execute launches the subprocess and pumps its streams until exit, timeout,
// or cancellation. On timeout the whole process group is killed.
func (r *Runner) execute(ctx context.Context, configDir string, prompt string, onDelta DeltaFunc) (string, bool, error) {
	timeout := time.Duration(r.cfg.TurnTimeoutSeconds) * time.Second
	turnCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	args := append([]string{"--dangerously-skip-permissions"}, r.cfg.ExtraArgs...)
	cmd := exec.Command(r.cfg.Binary, args...)
	cmd.Dir = r.workDir
	cmd.Env = append(os.Environ(), mcpConfigDirEnv+"="+configDir)
	// Own process group so a timeout kill reaches spawned tool children too.
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return "", false, fmt.Errorf("open stdin pipe: %w", err)
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return "", false, fmt.Errorf("open stdout pipe: %w", err)
	}

	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	if err := cmd.Start(); err != nil {
		if errors.Is(err, exec.ErrNotFound) {
			return "", false, ErrNotInstalled
		}
		return "", false, fmt.Errorf("start claude: %w", err)
	}

	processDone := make(chan struct{})
	go func() {
		select {
		case <-turnCtx.Done():
			if cmd.Process != nil {
				_ = syscall.Kill(-cmd.Process.Pid, syscall.SIGKILL)
			}
		case <-processDone:
		}
	}()

	var answerParts []string
	toolUsed := false

	var pumps errgroup.Group
	pumps.Go(func() error {
		defer stdin.Close()
		if _, err := io.WriteString(stdin, prompt+"\n"); err != nil {
			return fmt.Errorf("write prompt: %w", err)
		}
		return nil
	})
	pumps.Go(func() error {
		scanner := bufio.NewScanner(stdout)
		scanner.Buffer(make([]byte, 0, 64*1024), maxScanTokenSize)
		for scanner.Scan() {
			delta, used := classifyLine(scanner.Text())
			if used {
				toolUsed = true
			}
			if delta.Kind == "" || delta.Text == "" {
				continue
			}
			if delta.Kind == DeltaAnswer {
				answerParts = append(answerParts, delta.Text)
			}
			if onDelta != nil {
				onDelta(delta)
			}
		}
		// Read errors after a kill are expected; the wait result decides.
		return nil
	})

	pumpErr := pumps.Wait()
	waitErr := cmd.Wait()
	close(processDone)

	answer := strings.TrimSpace(strings.Join(answerParts, "\n"))

	if turnCtx.Err() == context.DeadlineExceeded {
		return "", toolUsed, &TimeoutError{Partial: answer}
	}
	if ctx.Err() != nil {
		return "", toolUsed, ctx.Err()
	}
	if waitErr != nil {
		var exitErr *exec.ExitError
		if errors.As(waitErr, &exitErr) {
			return "", toolUsed, classifyExit(exitErr.ExitCode(), stderr.String())
		}
		return "", toolUsed, fmt.Errorf("wait for claude: %w", waitErr)
	}
	if pumpErr != nil {
		return "", toolUsed, pumpErr
	}

	return answer, toolUsed, nil
}

var permissionMarkers = []string{"permission denied", "not authorized", "unauthorized", "requires authorization", "consent"}

// classifyExit rewrites permission failures into actionable remediation text
// instead of surfacing raw stderr.
func classifyExit(code int, stderr string) error {
	trimmed := strings.TrimSpace(stderr)
	lower := strings.ToLower(trimmed)

	for _, marker := range permissionMarkers {
		if strings.Contains(lower, marker) {
			return &ExitError{
				Code:   code,
				Stderr: trimmed,
				Message: "claude refused the request for lack of authorization; " +
					"re-run `claude login`, or configure a pre-authorized tool profile " +
					"so the gateway can pass --dangerously-skip-permissions",
			}
		}
	}

	return &ExitError{Code: code, Stderr: trimmed}
}
