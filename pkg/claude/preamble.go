package claude

import (
	"embed"
	"strings"
)

//go:embed templates/preamble.md
var templatesFS embed.FS

// resolvePreamble returns the configured override or the built-in template.
func resolvePreamble(override string) string {
	if trimmed := strings.TrimSpace(override); trimmed != "" {
		return trimmed
	}

	content, err := templatesFS.ReadFile("templates/preamble.md")
	if err != nil {
		return ""
	}

	return strings.TrimSpace(string(content))
}
