package claude

import "strings"

// Prompt triviality thresholds. Trivial prompts are exempt from the
// tool-use policy: a short, single-line question does not need tools.
const (
	trivialMaxLength = 120
	trivialMaxWords  = 15
)

var taskKeywords = []string{
	"fix", "implement", "create", "write", "build", "refactor", "update",
	"add", "remove", "delete", "install", "deploy", "run", "test",
	"analyze", "search", "find", "read", "check", "review",
}

// IsTrivialPrompt reports whether a prompt is simple enough that completing
// it without tool activity is acceptable.
func IsTrivialPrompt(prompt string) bool {
	trimmed := strings.TrimSpace(prompt)
	if trimmed == "" {
		return true
	}
	if len(trimmed) > trivialMaxLength {
		return false
	}
	if strings.ContainsAny(trimmed, "\n\r") {
		return false
	}
	if len(strings.Fields(trimmed)) > trivialMaxWords {
		return false
	}

	lower := strings.ToLower(trimmed)
	for _, keyword := range taskKeywords {
		if containsWord(lower, keyword) {
			return false
		}
	}

	return true
}

// containsWord matches keyword on word boundaries so "test" does not match
// inside "latest".
func containsWord(text string, word string) bool {
	index := 0
	for {
		found := strings.Index(text[index:], word)
		if found < 0 {
			return false
		}
		start := index + found
		end := start + len(word)

		beforeOK := start == 0 || !isWordChar(text[start-1])
		afterOK := end == len(text) || !isWordChar(text[end])
		if beforeOK && afterOK {
			return true
		}

		index = start + 1
		if index >= len(text) {
			return false
		}
	}
}

func isWordChar(c byte) bool {
	return c >= 'a' && c <= 'z' || c >= 'A' && c <= 'Z' || c >= '0' && c <= '9' || c == '_'
}
