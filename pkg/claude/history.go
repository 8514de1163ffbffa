package claude

import (
	"strings"

	"github.com/pkoukk/tiktoken-go"

	"slackclaw/pkg/session"
)

// promptBuilder assembles token-budgeted effective prompts from retained
// conversation history.
type promptBuilder struct {
	tokenizer   *tiktoken.Tiktoken
	tokenBudget int
}

// newPromptBuilder selects a tokenizer for budgeting replayed history. When
// the BPE dictionary is unavailable a character-based estimate is used.
func newPromptBuilder(tokenBudget int) *promptBuilder {
	enc, err := tiktoken.GetEncoding("cl100k_base")
	if err != nil {
		enc = nil
	}

	return &promptBuilder{tokenizer: enc, tokenBudget: tokenBudget}
}

func (b *promptBuilder) countTokens(text string) int {
	if b.tokenizer != nil {
		return len(b.tokenizer.Encode(text, nil, nil))
	}

	// Rough estimate: ASCII ~4 chars/token, wide scripts closer to 1:2.
	ascii, wide := 0, 0
	for _, r := range text {
		if r <= 127 {
			ascii++
		} else {
			wide++
		}
	}

	return ascii/4 + wide*2 + 1
}

// Build prepends the advisory preamble and as much recent history as the
// token budget allows (newest turns kept, oldest dropped first).
func (b *promptBuilder) Build(preamble string, toolNames []string, history []session.Turn, prompt string) string {
	var sections []string

	if trimmed := strings.TrimSpace(preamble); trimmed != "" {
		sections = append(sections, trimmed)
	}
	if len(toolNames) > 0 {
		sections = append(sections, "Available external tools: "+strings.Join(toolNames, ", "))
	}
	if replay := b.renderHistory(history); replay != "" {
		sections = append(sections, replay)
	}

	sections = append(sections, prompt)

	return strings.Join(sections, "\n\n")
}

// renderHistory walks turns newest-first until the budget is spent, then
// renders the kept turns oldest-first.
func (b *promptBuilder) renderHistory(history []session.Turn) string {
	if len(history) == 0 {
		return ""
	}

	spent := 0
	keepFrom := len(history)
	for i := len(history) - 1; i >= 0; i-- {
		cost := b.countTokens(history[i].Prompt) + b.countTokens(history[i].Response)
		if spent+cost > b.tokenBudget {
			break
		}
		spent += cost
		keepFrom = i
	}

	kept := history[keepFrom:]
	if len(kept) == 0 {
		return ""
	}

	var sb strings.Builder
	sb.WriteString("Previous conversation:")
	for _, turn := range kept {
		sb.WriteString("\nUser: ")
		sb.WriteString(strings.TrimSpace(turn.Prompt))
		sb.WriteString("\nAssistant: ")
		sb.WriteString(strings.TrimSpace(turn.Response))
	}

	return sb.String()
}
