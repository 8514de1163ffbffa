package router

import "strings"

// CompletionStatement replaces assistant output that clearly reports success.
// The original phrasing tends to narrate what was done; the user only needs
// an unambiguous confirmation.
const CompletionStatement = "Done. The task completed successfully."

// unconfirmedSuffix marks output that is neither a clear success nor a clear
// failure.
const unconfirmedSuffix = "\n\n(could not confirm completion)"

// These phrase lists are heuristics tuned against observed assistant output.
// They approximate intent, they do not define it; adjust freely as phrasing
// drifts.
var (
	failureMarkers = []string{
		"error", "failed", "failure", "could not", "couldn't", "cannot",
		"unable to", "exception", "denied", "timed out", "not found",
	}

	successMarkers = []string{
		"done", "completed", "complete", "finished", "success",
		"successfully", "all set", "all tests pass",
	}

	firstPersonStarts = []string{
		"i'll ", "i will ", "i'm ", "i am ", "let me ", "i need to ",
		"i'm going to ", "now i", "first, i", "next, i",
	}

	toolingVocab = []string{
		"tool", "command", "file", "mcp", "run", "execute", "search",
		"read", "write", "check", "terminal", "script",
	}
)

// BuildFinalMessage turns raw assistant output into the definitive closing
// message. Failure-sounding text passes through verbatim so the user sees
// what actually went wrong; clear success collapses to a fixed statement;
// anything in between is flagged as unconfirmed.
func BuildFinalMessage(text string) string {
	trimmed := strings.TrimSpace(text)
	if trimmed == "" {
		return strings.TrimSpace(unconfirmedSuffix)
	}

	lower := strings.ToLower(trimmed)
	if containsAny(lower, failureMarkers) {
		return trimmed
	}
	if containsAny(lower, successMarkers) {
		return CompletionStatement
	}

	return trimmed + unconfirmedSuffix
}

// SanitizeOutput strips lines that read like internal process narration,
// first-person intent phrasing combined with tooling vocabulary. If the
// heuristic would erase everything, the original text is kept; losing the
// answer is worse than showing a narration line.
func SanitizeOutput(text string) string {
	lines := strings.Split(text, "\n")
	kept := make([]string, 0, len(lines))
	for _, line := range lines {
		if isNarrationLine(line) {
			continue
		}
		kept = append(kept, line)
	}

	result := strings.TrimSpace(strings.Join(kept, "\n"))
	if result == "" {
		return strings.TrimSpace(text)
	}

	return result
}

func isNarrationLine(line string) bool {
	lower := strings.ToLower(strings.TrimSpace(line))
	if lower == "" {
		return false
	}

	firstPerson := false
	for _, start := range firstPersonStarts {
		if strings.HasPrefix(lower, start) {
			firstPerson = true
			break
		}
	}
	if !firstPerson {
		return false
	}

	return containsAny(lower, toolingVocab)
}

func containsAny(text string, markers []string) bool {
	for _, marker := range markers {
		if strings.Contains(text, marker) {
			return true
		}
	}

	return false
}
