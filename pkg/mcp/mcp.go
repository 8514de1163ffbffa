// Package mcp resolves MCP server manifests into one consolidated
// configuration the assistant subprocess can consume.
package mcp

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"sort"
	"strings"

	"slackclaw/pkg/config"
)

const (
	// Wildcard marks a server exposing all of its tools.
	Wildcard = "*"

	defaultTransport     = "stdio"
	consolidatedFileName = "mcp.json"
)

// ServerSpec is one normalized MCP server declaration.
type ServerSpec struct {
	Command string   `json:"command"`
	Args    []string `json:"args"`
	Type    string   `json:"type"`
	Tools   []string `json:"tools"`
}

// Resolved is the outcome of one resolution pass.
type Resolved struct {
	// Servers maps server name to its normalized spec.
	Servers map[string]ServerSpec
	// ConfigDir holds the consolidated manifest and is exported to the
	// subprocess environment.
	ConfigDir string
	// ToolNames enumerates fully-qualified tool names (server.tool).
	ToolNames []string
}

// Empty reports whether resolution found no usable servers.
func (r Resolved) Empty() bool {
	return len(r.Servers) == 0
}

// Resolver merges manifest files and writes the consolidated result.
type Resolver struct {
	cfg config.MCP
	log *slog.Logger

	// lookPath is swapped in tests to control shell fallback behavior.
	lookPath func(string) (string, error)
}

// NewResolver builds a resolver over the configured manifest sources.
func NewResolver(cfg config.MCP, log *slog.Logger) *Resolver {
	if log == nil {
		log = slog.Default()
	}

	return &Resolver{
		cfg:      cfg,
		log:      log.With("component", "mcp.resolver"),
		lookPath: exec.LookPath,
	}
}

// Resolve reads every manifest source, merges last-wins by server name, and
// writes the consolidated manifest. Missing or malformed sources are logged
// and skipped; an empty result means "no external tools available" and is
// not an error.
func (r *Resolver) Resolve() (Resolved, error) {
	merged := make(map[string]ServerSpec)

	for _, path := range r.cfg.ManifestPaths {
		servers, err := r.readManifest(path)
		if err != nil {
			r.log.Warn("Skipping unreadable manifest", "path", path, "error", err)
			continue
		}
		for name, spec := range servers {
			merged[name] = spec
		}
	}

	configDir, err := resolveConfigDir(r.cfg.ConfigDir)
	if err != nil {
		return Resolved{}, err
	}

	if err := writeConsolidated(configDir, merged); err != nil {
		return Resolved{}, err
	}

	return Resolved{
		Servers:   merged,
		ConfigDir: configDir,
		ToolNames: enumerateTools(merged),
	}, nil
}

// manifest is the on-disk shape: current key first, then the legacy one.
type manifest struct {
	Servers map[string]rawSpec `json:"mcpServers"`
	Legacy  map[string]rawSpec `json:"servers"`
}

// rawSpec decodes tools leniently so a malformed field degrades to wildcard.
type rawSpec struct {
	Command string          `json:"command"`
	Args    []string        `json:"args"`
	Type    string          `json:"type"`
	Tools   json.RawMessage `json:"tools"`
}

func (r *Resolver) readManifest(path string) (map[string]ServerSpec, error) {
	expanded, err := expandHome(strings.TrimSpace(path))
	if err != nil {
		return nil, err
	}

	content, err := os.ReadFile(expanded)
	if err != nil {
		return nil, fmt.Errorf("read manifest: %w", err)
	}

	var parsed manifest
	if err := json.Unmarshal(content, &parsed); err != nil {
		return nil, fmt.Errorf("parse manifest: %w", err)
	}

	source := parsed.Servers
	if len(source) == 0 {
		source = parsed.Legacy
	}

	servers := make(map[string]ServerSpec, len(source))
	for name, raw := range source {
		spec, ok := r.normalize(name, raw)
		if !ok {
			continue
		}
		servers[name] = spec
	}

	return servers, nil
}

// normalize validates and fills in one server definition. Definitions
// violating the hard invariants (command, args) are dropped with a warning.
func (r *Resolver) normalize(name string, raw rawSpec) (ServerSpec, bool) {
	command := strings.TrimSpace(raw.Command)
	if command == "" {
		r.log.Warn("Dropping MCP server without command", "server", name)
		return ServerSpec{}, false
	}
	if len(raw.Args) == 0 {
		r.log.Warn("Dropping MCP server without args", "server", name)
		return ServerSpec{}, false
	}

	command = r.substituteShell(name, command)

	args := append([]string{}, raw.Args...)
	if isPackageRunner(command) && !hasNonInteractiveFlag(args) {
		// Without this flag npx blocks forever on an install prompt.
		args = append([]string{"-y"}, args...)
		r.log.Warn("Injected non-interactive flag for package runner", "server", name, "command", command)
	}

	transport := strings.TrimSpace(raw.Type)
	if transport == "" {
		transport = defaultTransport
	}

	return ServerSpec{
		Command: command,
		Args:    args,
		Type:    transport,
		Tools:   decodeTools(raw.Tools),
	}, true
}

// substituteShell swaps a missing shell variant for an available fallback.
func (r *Resolver) substituteShell(name string, command string) string {
	if !isShell(command) {
		return command
	}
	if _, err := r.lookPath(command); err == nil {
		return command
	}

	for _, fallback := range shellFallbacks(command) {
		if _, err := r.lookPath(fallback); err == nil {
			r.log.Warn("Substituted unavailable shell", "server", name, "requested", command, "using", fallback)
			return fallback
		}
	}

	return command
}

func decodeTools(raw json.RawMessage) []string {
	if len(raw) == 0 {
		return []string{Wildcard}
	}

	var tools []string
	if err := json.Unmarshal(raw, &tools); err != nil {
		return []string{Wildcard}
	}

	clean := make([]string, 0, len(tools))
	for _, tool := range tools {
		if trimmed := strings.TrimSpace(tool); trimmed != "" {
			clean = append(clean, trimmed)
		}
	}
	if len(clean) == 0 {
		return []string{Wildcard}
	}

	return clean
}

func isShell(command string) bool {
	switch filepath.Base(command) {
	case "sh", "bash", "zsh", "dash":
		return true
	default:
		return false
	}
}

func shellFallbacks(command string) []string {
	switch filepath.Base(command) {
	case "zsh":
		return []string{"bash", "sh"}
	case "bash", "dash":
		return []string{"sh"}
	default:
		return nil
	}
}

func isPackageRunner(command string) bool {
	switch filepath.Base(command) {
	case "npx", "bunx", "pnpx":
		return true
	default:
		return false
	}
}

func hasNonInteractiveFlag(args []string) bool {
	for _, arg := range args {
		if arg == "-y" || arg == "--yes" {
			return true
		}
	}

	return false
}

// writeConsolidated serializes the merged server set under the current key.
func writeConsolidated(configDir string, servers map[string]ServerSpec) error {
	payload, err := json.MarshalIndent(map[string]any{"mcpServers": servers}, "", "  ")
	if err != nil {
		return fmt.Errorf("encode consolidated manifest: %w", err)
	}

	target := filepath.Join(configDir, consolidatedFileName)
	if err := os.WriteFile(target, append(payload, '\n'), 0o600); err != nil {
		return fmt.Errorf("write consolidated manifest: %w", err)
	}

	return nil
}

// enumerateTools produces sorted server.tool names for policy and advisory use.
func enumerateTools(servers map[string]ServerSpec) []string {
	names := make([]string, 0, len(servers))
	for name := range servers {
		names = append(names, name)
	}
	sort.Strings(names)

	var tools []string
	for _, name := range names {
		for _, tool := range servers[name].Tools {
			tools = append(tools, name+"."+tool)
		}
	}

	return tools
}
