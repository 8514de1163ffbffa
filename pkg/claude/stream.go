package claude

import (
	"encoding/json"
	"strings"
)

// DeltaKind classifies one unit of streamed subprocess output.
type DeltaKind string

const (
	// DeltaThinking is internal reasoning, surfaced but never shown as the answer.
	DeltaThinking DeltaKind = "thinking"
	// DeltaAnswer is user-visible answer content.
	DeltaAnswer DeltaKind = "answer"
	// DeltaTool is tool activity; it sets the tool-used flag for policy.
	DeltaTool DeltaKind = "tool"
)

// Delta is one classified unit of streamed output.
type Delta struct {
	Kind DeltaKind
	Text string
}

// streamLine is the NDJSON shape the CLI emits in streaming mode. Plain text
// lines that fail to parse are classified heuristically instead.
type streamLine struct {
	Type    string `json:"type"`
	Role    string `json:"role"`
	Delta   string `json:"delta"`
	Content string `json:"content"`
	Text    string `json:"text"`
}

var (
	thinkingMarkers = []string{"thinking", "reasoning"}
	toolMarkers     = []string{"tool", "function", "command", "mcp"}
)

// classifyLine turns one stdout line into a Delta. The boolean reports tool
// activity regardless of whether any text is surfaced.
func classifyLine(line string) (Delta, bool) {
	trimmed := strings.TrimSpace(line)
	if trimmed == "" {
		return Delta{}, false
	}

	if strings.HasPrefix(trimmed, "{") {
		var parsed streamLine
		if err := json.Unmarshal([]byte(trimmed), &parsed); err == nil {
			return classifyStructured(parsed)
		}
	}

	return classifyPlain(trimmed)
}

func classifyStructured(parsed streamLine) (Delta, bool) {
	hint := strings.ToLower(parsed.Type + " " + parsed.Role)
	text := firstNonEmpty(parsed.Delta, parsed.Content, parsed.Text)

	if containsAny(hint, thinkingMarkers) {
		return Delta{Kind: DeltaThinking, Text: text}, false
	}
	if containsAny(hint, toolMarkers) {
		return Delta{Kind: DeltaTool, Text: text}, true
	}
	if text == "" {
		// Control frames (init, result metadata) carry nothing to surface.
		return Delta{}, false
	}

	return Delta{Kind: DeltaAnswer, Text: text}, false
}

// classifyPlain applies the structured signals as substring heuristics to
// lines that are not JSON.
func classifyPlain(line string) (Delta, bool) {
	lower := strings.ToLower(line)

	if containsAny(lower, []string{"[thinking]", "thinking:", "reasoning:"}) {
		return Delta{Kind: DeltaThinking, Text: line}, false
	}
	if containsAny(lower, []string{"[tool]", "tool call", "tool_use", "running command", "mcp:"}) {
		return Delta{Kind: DeltaTool, Text: line}, true
	}

	return Delta{Kind: DeltaAnswer, Text: line}, false
}

func containsAny(text string, markers []string) bool {
	for _, marker := range markers {
		if strings.Contains(text, marker) {
			return true
		}
	}

	return false
}

func firstNonEmpty(values ...string) string {
	for _, value := range values {
		if strings.TrimSpace(value) != "" {
			return value
		}
	}

	return ""
}
