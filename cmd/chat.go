package cmd

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"slackclaw/pkg/claude"
	"slackclaw/pkg/config"
	"slackclaw/pkg/mcp"
	"slackclaw/pkg/session"
	"slackclaw/pkg/ui/chat"
)

var promptText string

var chatCmd = &cobra.Command{
	Use:   "chat [prompt]",
	Short: "Chat with the assistant locally",
	Long:  "Runs assistant turns in a local terminal UI, or sends one prompt and prints the answer.",
	Run: func(cmd *cobra.Command, args []string) {
		prompt := resolvePrompt(args)

		cfg, err := config.LoadConfig()
		if err != nil {
			fmt.Printf("failed to load config: %v\n", err)
			return
		}

		// The TUI owns the terminal; keep log output away from it.
		log := slog.New(slog.NewTextHandler(io.Discard, nil))

		sessions := session.NewStore(time.Duration(cfg.Gateway.SessionTTLMinutes) * time.Minute)
		defer sessions.Close()

		resolver := mcp.NewResolver(cfg.MCP, log)
		runner, err := claude.NewRunner(cfg.Claude, resolver, sessions, log)
		if err != nil {
			fmt.Printf("failed to initialize orchestrator: %v\n", err)
			return
		}

		info := chat.RuntimeInfo{Binary: cfg.Claude.Binary}
		if resolved, err := runner.Tools(); err == nil {
			info.ToolCount = len(resolved.ToolNames)
		}

		promptFn := func(ctx context.Context, text string, onDelta claude.DeltaFunc) (string, error) {
			return runner.RunTurn(ctx, "", text, onDelta)
		}

		ctx := cmd.Context()
		if ctx == nil {
			ctx = context.Background()
		}

		if prompt != "" {
			if err := chat.RunOneShot(ctx, promptFn, prompt, info); err != nil {
				fmt.Printf("chat failed: %v\n", err)
			}
			return
		}

		if err := chat.RunInteractive(ctx, promptFn, info); err != nil {
			fmt.Printf("chat failed: %v\n", err)
		}
	},
}

func init() {
	rootCmd.AddCommand(chatCmd)
	chatCmd.Flags().StringVarP(&promptText, "prompt", "p", "", "prompt text to send")
}

func resolvePrompt(args []string) string {
	if value := strings.TrimSpace(promptText); value != "" {
		return value
	}

	if len(args) == 0 {
		return ""
	}

	return strings.TrimSpace(strings.Join(args, " "))
}
