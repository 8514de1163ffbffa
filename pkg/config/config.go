package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strings"
)

// EnvConfigPath overrides where config.json is looked up.
const EnvConfigPath = "SLACKCLAW_CONFIG"

const (
	envSlackAppToken     = "SLACK_APP_TOKEN"
	envSlackBotToken     = "SLACK_BOT_TOKEN"
	envTelegramBotToken  = "TELEGRAM_BOT_TOKEN"
	envTelegramAllowFrom = "TELEGRAM_ALLOW_FROM"
)

// Config is the root runtime configuration loaded from config.json.
type Config struct {
	Channels Channels `json:"channels"`
	Claude   Claude   `json:"claude"`
	MCP      MCP      `json:"mcp"`
	Gateway  Gateway  `json:"gateway"`
	Logging  Logging  `json:"logging,omitempty"`
}

// Logging controls structured log output format and verbosity.
type Logging struct {
	Format    string `json:"format,omitempty"`
	Level     string `json:"level,omitempty"`
	AddSource bool   `json:"add_source,omitempty"`
}

// Channels stores transport adapter settings.
type Channels struct {
	Slack    Slack    `json:"slack"`
	Telegram Telegram `json:"telegram"`
}

// Slack configures the Socket Mode connection and outbound Web API calls.
type Slack struct {
	Enabled bool `json:"enabled"`
	// AppToken is the xapp- token used for apps.connections.open.
	AppToken string `json:"app_token"`
	// BotToken is the xoxb- token used for chat.postMessage/chat.update.
	BotToken string `json:"bot_token"`
	// AllowFrom restricts accepted senders by Slack user ID. Empty allows all.
	AllowFrom []string `json:"allow_from"`
	// DedupeWindowSeconds is the sliding window for dropping redelivered events.
	DedupeWindowSeconds int `json:"dedupe_window_seconds"`
}

// Telegram configures the optional Telegram channel.
type Telegram struct {
	Enabled   bool     `json:"enabled"`
	Token     string   `json:"token"`
	AllowFrom []string `json:"allow_from"`
}

// Claude configures the assistant CLI subprocess.
type Claude struct {
	// Binary is the claude executable name or path.
	Binary string `json:"binary"`
	// ExtraArgs are appended after the fixed invocation flags.
	ExtraArgs []string `json:"extra_args,omitempty"`
	// TurnTimeoutSeconds bounds one full turn including process exit.
	TurnTimeoutSeconds int `json:"turn_timeout_seconds"`
	// MaxHistoryTurns caps retained prompt/response pairs per conversation.
	MaxHistoryTurns int `json:"max_history_turns"`
	// HistoryTokenBudget caps tokens spent on replayed history per prompt.
	HistoryTokenBudget int `json:"history_token_budget"`
	// RequireToolUse enables the tool-use policy for non-trivial prompts.
	RequireToolUse bool `json:"require_tool_use"`
	// SystemPreamble overrides the built-in advisory preamble when set.
	SystemPreamble string `json:"system_preamble,omitempty"`
	// WorkingDir is the directory the subprocess runs in. Created when
	// missing; empty inherits the gateway's own directory.
	WorkingDir string `json:"working_dir,omitempty"`
}

// MCP configures tool manifest resolution.
type MCP struct {
	// ManifestPaths are read and merged in order; later entries win.
	ManifestPaths []string `json:"manifest_paths"`
	// ConfigDir receives the consolidated manifest handed to the subprocess.
	// Defaults to ~/.slackclaw/mcp when empty.
	ConfigDir string `json:"config_dir,omitempty"`
}

// Gateway configures the health server and inbound dispatch limits.
type Gateway struct {
	Host string `json:"host"`
	Port int    `json:"port"`
	// DispatchWorkers bounds concurrent turn executions across all keys.
	DispatchWorkers int `json:"dispatch_workers"`
	// QueueSize bounds pending inbound events before the gateway sheds load.
	QueueSize int `json:"queue_size"`
	// SessionTTLMinutes evicts idle conversation sessions.
	SessionTTLMinutes int `json:"session_ttl_minutes"`
}

// LoadConfig resolves config.json, unmarshals it, and applies environment overrides.
func LoadConfig() (*Config, error) {
	configPath, err := findConfigPath()
	if err != nil {
		return nil, err
	}

	content, err := os.ReadFile(configPath)
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}

	var cfg Config
	if err := json.Unmarshal(content, &cfg); err != nil {
		return nil, fmt.Errorf("parse config file: %w", err)
	}

	applyEnvOverrides(&cfg)
	applyDefaults(&cfg)

	return &cfg, nil
}

// applyEnvOverrides injects secret-bearing env settings on top of file config.
func applyEnvOverrides(cfg *Config) {
	if cfg == nil {
		return
	}

	if token := strings.TrimSpace(os.Getenv(envSlackAppToken)); token != "" {
		cfg.Channels.Slack.AppToken = token
	}

	if token := strings.TrimSpace(os.Getenv(envSlackBotToken)); token != "" {
		cfg.Channels.Slack.BotToken = token
	}

	if token := strings.TrimSpace(os.Getenv(envTelegramBotToken)); token != "" {
		cfg.Channels.Telegram.Token = token
	}

	if rawAllowFrom := strings.TrimSpace(os.Getenv(envTelegramAllowFrom)); rawAllowFrom != "" {
		cfg.Channels.Telegram.AllowFrom = parseCSV(rawAllowFrom)
	}
}

// applyDefaults fills zero values that have sensible operational defaults.
func applyDefaults(cfg *Config) {
	if cfg == nil {
		return
	}

	if strings.TrimSpace(cfg.Claude.Binary) == "" {
		cfg.Claude.Binary = "claude"
	}
	if cfg.Claude.TurnTimeoutSeconds <= 0 {
		cfg.Claude.TurnTimeoutSeconds = 300
	}
	if cfg.Claude.MaxHistoryTurns <= 0 {
		cfg.Claude.MaxHistoryTurns = 10
	}
	if cfg.Claude.HistoryTokenBudget <= 0 {
		cfg.Claude.HistoryTokenBudget = 8000
	}
	if cfg.Channels.Slack.DedupeWindowSeconds <= 0 {
		cfg.Channels.Slack.DedupeWindowSeconds = 120
	}
	if cfg.Gateway.DispatchWorkers <= 0 {
		cfg.Gateway.DispatchWorkers = 8
	}
	if cfg.Gateway.QueueSize <= 0 {
		cfg.Gateway.QueueSize = 64
	}
	if cfg.Gateway.SessionTTLMinutes <= 0 {
		cfg.Gateway.SessionTTLMinutes = 60
	}
}

// parseCSV splits comma-separated values and returns a trimmed compact slice.
func parseCSV(input string) []string {
	parts := strings.Split(input, ",")
	clean := make([]string, 0, len(parts))
	for _, part := range parts {
		trimmed := strings.TrimSpace(part)
		if trimmed == "" {
			continue
		}
		clean = append(clean, trimmed)
	}

	return slices.Clip(clean)
}

// findConfigPath resolves the active config file location.
//
// Precedence is SLACKCLAW_CONFIG first, then cwd-local fallback paths.
func findConfigPath() (string, error) {
	if value := strings.TrimSpace(os.Getenv(EnvConfigPath)); value != "" {
		if info, err := os.Stat(value); err == nil && !info.IsDir() {
			return value, nil
		}
		return "", fmt.Errorf("SLACKCLAW_CONFIG does not point to a file: %s", value)
	}

	cwd, err := os.Getwd()
	if err != nil {
		return "", fmt.Errorf("get current working directory: %w", err)
	}

	candidates := []string{
		filepath.Join(cwd, "config.json"),
		filepath.Join(cwd, "config", "config.json"),
	}

	for _, candidate := range candidates {
		if info, err := os.Stat(candidate); err == nil && !info.IsDir() {
			return candidate, nil
		}
	}

	return "", fmt.Errorf("config.json not found (checked %s and %s)", candidates[0], candidates[1])
}
