// Package chat is the local terminal frontend: it drives assistant turns
// directly and renders streamed thinking/tool/answer content as cards.
package chat

import (
	"context"
	"fmt"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"slackclaw/pkg/claude"
)

// PromptFunc runs one assistant turn, streaming deltas while it works.
type PromptFunc func(ctx context.Context, prompt string, onDelta claude.DeltaFunc) (string, error)

// RuntimeInfo is the static header metadata shown above the conversation.
type RuntimeInfo struct {
	Binary    string
	ToolCount int
}

func RunInteractive(ctx context.Context, promptFn PromptFunc, info RuntimeInfo) error {
	model := newModel(ctx, promptFn, modeInteractive, "", info)
	program := tea.NewProgram(model, tea.WithMouseCellMotion())
	if _, err := program.Run(); err != nil {
		return err
	}

	fmt.Print("\033[H\033[2J")
	fmt.Println(renderGoodbyeBanner())
	return nil
}

func RunOneShot(ctx context.Context, promptFn PromptFunc, prompt string, info RuntimeInfo) error {
	model := newModel(ctx, promptFn, modeOneShot, prompt, info)
	program := tea.NewProgram(model)
	_, err := program.Run()
	return err
}

func renderGoodbyeBanner() string {
	style := lipgloss.NewStyle().
		Bold(true).
		Foreground(lipgloss.Color("231")).
		Background(lipgloss.Color("25")).
		Padding(1, 2)

	return style.Render("📎 Thanks for using slackclaw")
}
