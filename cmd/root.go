package cmd

import (
	"os"
	"strings"

	"github.com/spf13/cobra"

	"slackclaw/pkg/config"
)

var configPath string

var rootCmd = &cobra.Command{
	Use:     "slackclaw",
	Short:   "Bridge Slack and Telegram to the claude CLI",
	Long:    "slackclaw relays chat messages to the claude CLI, preserving per-conversation history and mediating tool usage.",
	Version: "0.3.0",
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		if value := strings.TrimSpace(configPath); value != "" {
			os.Setenv(config.EnvConfigPath, value)
		}
	},
}

func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "path to config.json")
}
