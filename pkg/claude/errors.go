package claude

import (
	"errors"
	"fmt"
)

// PolicyViolationMessage is the fixed advisory shown when a non-trivial
// prompt completes without any tool activity while the policy is enabled.
const PolicyViolationMessage = "I completed the request without using any workspace tools, " +
	"which usually means I answered from memory instead of doing the work. " +
	"Please rephrase the task or check the MCP tool configuration."

var (
	// ErrNotInstalled indicates the assistant binary could not be launched.
	ErrNotInstalled = errors.New("claude CLI not found; install it and run `claude login` once before starting the gateway")

	// ErrToolsUnavailable indicates manifests resolved to servers that cannot
	// be used right now. The router turns this into a user-facing apology.
	ErrToolsUnavailable = errors.New("external tools temporarily unavailable")

	// ErrToolPolicy indicates the tool-use policy rejected a completed turn.
	ErrToolPolicy = errors.New(PolicyViolationMessage)
)

// TimeoutError reports a turn that exceeded the configured deadline. Partial
// output collected before the kill is preserved for diagnostics.
type TimeoutError struct {
	Partial string
}

func (e *TimeoutError) Error() string {
	return "claude turn timed out"
}

// ExitError reports a non-zero subprocess exit with a remediation message
// already tailored to what stderr indicated.
type ExitError struct {
	Code    int
	Stderr  string
	Message string
}

func (e *ExitError) Error() string {
	if e.Message != "" {
		return e.Message
	}

	return fmt.Sprintf("claude exited with status %d", e.Code)
}
