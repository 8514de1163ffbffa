package claude

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"slackclaw/pkg/config"
	"slackclaw/pkg/mcp"
	"slackclaw/pkg/session"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

// writeStub writes an executable shell script acting as the assistant binary.
func writeStub(t *testing.T, script string) string {
	t.Helper()

	path := filepath.Join(t.TempDir(), "claude-stub")
	full := "#!/bin/sh\n" + script + "\n"
	if err := os.WriteFile(path, []byte(full), 0o755); err != nil {
		t.Fatalf("write stub: %v", err)
	}

	return path
}

func testRunner(t *testing.T, cfg config.Claude, mcpCfg config.MCP) *Runner {
	t.Helper()

	if mcpCfg.ConfigDir == "" {
		mcpCfg.ConfigDir = filepath.Join(t.TempDir(), "mcp")
	}
	if cfg.TurnTimeoutSeconds == 0 {
		cfg.TurnTimeoutSeconds = 10
	}
	if cfg.MaxHistoryTurns == 0 {
		cfg.MaxHistoryTurns = 10
	}
	if cfg.HistoryTokenBudget == 0 {
		cfg.HistoryTokenBudget = 8000
	}

	sessions := session.NewStore(time.Minute)
	t.Cleanup(sessions.Close)

	runner, err := NewRunner(cfg, mcp.NewResolver(mcpCfg, testLogger()), sessions, testLogger())
	if err != nil {
		t.Fatalf("NewRunner: %v", err)
	}

	return runner
}

func TestRunTurnCollectsAnswer(t *testing.T) {
	stub := writeStub(t, `cat >/dev/null
echo '{"type":"thinking_delta","delta":"pondering"}'
echo '{"type":"assistant_message","delta":"hello from stub"}'`)

	runner := testRunner(t, config.Claude{Binary: stub}, config.MCP{})

	var kinds []DeltaKind
	answer, err := runner.RunTurn(context.Background(), "chan:1", "what is up", func(d Delta) {
		kinds = append(kinds, d.Kind)
	})
	if err != nil {
		t.Fatalf("RunTurn: %v", err)
	}
	if answer != "hello from stub" {
		t.Fatalf("answer = %q", answer)
	}
	if len(kinds) != 2 || kinds[0] != DeltaThinking || kinds[1] != DeltaAnswer {
		t.Fatalf("deltas = %v", kinds)
	}
}

func TestRunTurnAppendsHistory(t *testing.T) {
	stub := writeStub(t, `cat >/dev/null
echo 'first answer'`)

	runner := testRunner(t, config.Claude{Binary: stub}, config.MCP{})

	if _, err := runner.RunTurn(context.Background(), "chan:2", "question one", nil); err != nil {
		t.Fatalf("RunTurn: %v", err)
	}

	entry := runner.sessions.GetOrCreate("chan:2", nil)
	history := entry.History()
	if len(history) != 1 {
		t.Fatalf("history length = %d", len(history))
	}
	if history[0].Prompt != "question one" || history[0].Response != "first answer" {
		t.Fatalf("history[0] = %+v", history[0])
	}
}

func TestRunTurnBinaryMissing(t *testing.T) {
	runner := testRunner(t, config.Claude{Binary: "slackclaw-no-such-binary"}, config.MCP{})

	_, err := runner.RunTurn(context.Background(), "", "hello", nil)
	if !errors.Is(err, ErrNotInstalled) {
		t.Fatalf("err = %v, want ErrNotInstalled", err)
	}
}

func TestRunTurnTimeoutKillsProcess(t *testing.T) {
	stub := writeStub(t, `echo 'partial output'
sleep 30`)

	runner := testRunner(t, config.Claude{Binary: stub, TurnTimeoutSeconds: 1}, config.MCP{})

	start := time.Now()
	_, err := runner.RunTurn(context.Background(), "chan:3", "hello", nil)

	var timeoutErr *TimeoutError
	if !errors.As(err, &timeoutErr) {
		t.Fatalf("err = %v, want TimeoutError", err)
	}
	if timeoutErr.Partial != "partial output" {
		t.Fatalf("partial = %q", timeoutErr.Partial)
	}
	if elapsed := time.Since(start); elapsed > 5*time.Second {
		t.Fatalf("kill took too long: %v", elapsed)
	}
}

func TestRunTurnExitFailure(t *testing.T) {
	stub := writeStub(t, `echo 'boom' >&2
exit 3`)

	runner := testRunner(t, config.Claude{Binary: stub}, config.MCP{})

	_, err := runner.RunTurn(context.Background(), "chan:4", "hello", nil)

	var exitErr *ExitError
	if !errors.As(err, &exitErr) {
		t.Fatalf("err = %v, want ExitError", err)
	}
	if exitErr.Code != 3 || exitErr.Stderr != "boom" {
		t.Fatalf("exit = %+v", exitErr)
	}
}

func TestRunTurnFailureResetsSession(t *testing.T) {
	stub := writeStub(t, `exit 1`)

	runner := testRunner(t, config.Claude{Binary: stub}, config.MCP{})

	if _, err := runner.RunTurn(context.Background(), "chan:5", "hello", nil); err == nil {
		t.Fatal("expected error")
	}

	entry := runner.sessions.GetOrCreate("chan:5", nil)
	if entry.Faulted() {
		t.Fatal("session should have been replaced with a clean entry")
	}
	if len(entry.History()) != 0 {
		t.Fatal("replacement entry should have empty history")
	}
}

func TestRunTurnWaiterSkipsFaultedEntry(t *testing.T) {
	stub := writeStub(t, `cat >/dev/null
echo 'fresh start'`)

	runner := testRunner(t, config.Claude{Binary: stub}, config.MCP{})

	// Hold the gate as a turn in flight would.
	stale := runner.sessions.GetOrCreate("chan:6", nil)
	if err := stale.Acquire(context.Background()); err != nil {
		t.Fatalf("Acquire: %v", err)
	}

	type result struct {
		answer string
		err    error
	}
	done := make(chan result, 1)
	go func() {
		answer, err := runner.RunTurn(context.Background(), "chan:6", "queued question", nil)
		done <- result{answer: answer, err: err}
	}()

	// Fail the in-flight turn while the second one is queued on the gate.
	time.Sleep(100 * time.Millisecond)
	stale.MarkFaulted()
	runner.sessions.Remove("chan:6")
	stale.Release()

	res := <-done
	if res.err != nil {
		t.Fatalf("RunTurn: %v", res.err)
	}
	if res.answer != "fresh start" {
		t.Fatalf("answer = %q", res.answer)
	}

	// The turn landed on the replacement entry, not the faulted orphan.
	if len(stale.History()) != 0 {
		t.Fatalf("orphan history = %d, want 0", len(stale.History()))
	}
	entry := runner.sessions.GetOrCreate("chan:6", nil)
	if entry.Faulted() {
		t.Fatal("replacement entry is faulted")
	}
	history := entry.History()
	if len(history) != 1 || history[0].Prompt != "queued question" {
		t.Fatalf("history = %+v", history)
	}
}

func TestRunTurnPolicyRejectsToollessTask(t *testing.T) {
	manifestDir := t.TempDir()
	manifest := filepath.Join(manifestDir, "mcp.json")
	data := `{"mcpServers":{"files":{"command":"files-server","args":["--stdio"]}}}`
	if err := os.WriteFile(manifest, []byte(data), 0o644); err != nil {
		t.Fatalf("write manifest: %v", err)
	}

	stub := writeStub(t, `cat >/dev/null
echo 'done, all tests pass'`)

	runner := testRunner(t,
		config.Claude{Binary: stub, RequireToolUse: true},
		config.MCP{ManifestPaths: []string{manifest}})

	_, err := runner.RunTurn(context.Background(), "chan:6", "Fix this bug in my repository and run tests", nil)
	if !errors.Is(err, ErrToolPolicy) {
		t.Fatalf("err = %v, want ErrToolPolicy", err)
	}

	// Trivial prompts are exempt even when the policy is on.
	answer, err := runner.RunTurn(context.Background(), "chan:7", "What is UTC?", nil)
	if err != nil {
		t.Fatalf("trivial prompt: %v", err)
	}
	if answer == "" {
		t.Fatal("expected answer for trivial prompt")
	}
}

func TestClassifyExit(t *testing.T) {
	err := classifyExit(2, "Error: permission denied for tool access\n")

	var exitErr *ExitError
	if !errors.As(err, &exitErr) {
		t.Fatalf("err = %v", err)
	}
	if !strings.Contains(exitErr.Message, "claude login") {
		t.Fatalf("message = %q", exitErr.Message)
	}

	err = classifyExit(1, "segfault")
	if !errors.As(err, &exitErr) {
		t.Fatalf("err = %v", err)
	}
	if exitErr.Message != "" || exitErr.Code != 1 {
		t.Fatalf("exit = %+v", exitErr)
	}
}

func TestRunTurnUsesWorkingDirectory(t *testing.T) {
	stub := writeStub(t, `cat >/dev/null
pwd`)
	workDir := filepath.Join(t.TempDir(), "workspace")

	runner := testRunner(t, config.Claude{Binary: stub, WorkingDir: workDir}, config.MCP{})

	answer, err := runner.RunTurn(context.Background(), "", "where am i", nil)
	if err != nil {
		t.Fatalf("RunTurn: %v", err)
	}

	want, err := filepath.EvalSymlinks(workDir)
	if err != nil {
		t.Fatalf("EvalSymlinks: %v", err)
	}
	if answer != want {
		t.Fatalf("answer = %q, want %q", answer, want)
	}
}
