package cmd

import (
	"fmt"
	"log/slog"
	"sort"
	"strings"

	"github.com/spf13/cobra"

	"slackclaw/pkg/config"
	"slackclaw/pkg/logger"
	"slackclaw/pkg/mcp"
)

var toolsCmd = &cobra.Command{
	Use:   "tools",
	Short: "List resolved external tools",
	Long:  "Resolves the configured MCP manifests and prints each server with its tools.",
	Run: func(cmd *cobra.Command, args []string) {
		cfg, err := config.LoadConfig()
		if err != nil {
			fmt.Printf("failed to load config: %v\n", err)
			return
		}

		log, err := logger.New(cfg.Logging)
		if err != nil {
			fmt.Printf("failed to initialize logger: %v\n", err)
			return
		}
		slog.SetDefault(log)

		resolved, err := mcp.NewResolver(cfg.MCP, log).Resolve()
		if err != nil {
			fmt.Printf("failed to resolve tools: %v\n", err)
			return
		}

		if len(resolved.Servers) == 0 {
			fmt.Println("No external tools are configured.")
			return
		}

		names := make([]string, 0, len(resolved.Servers))
		for name := range resolved.Servers {
			names = append(names, name)
		}
		sort.Strings(names)

		for _, name := range names {
			spec := resolved.Servers[name]
			fmt.Printf("%s (%s %s)\n", name, spec.Command, strings.Join(spec.Args, " "))
			for _, tool := range spec.Tools {
				fmt.Printf("  • %s.%s\n", name, tool)
			}
		}
		fmt.Printf("\n%d tools across %d servers\n", len(resolved.ToolNames), len(resolved.Servers))
	},
}

func init() {
	rootCmd.AddCommand(toolsCmd)
}
