package tools

import "fmt"

// ErrToolUnavailable is returned by Lookup when a tool name is not
// registered. The model asked for a capability this bot does not have,
// so retrying will not help.
type ErrToolUnavailable struct {
	ToolName string
}

// Error implements the error interface.
func (e *ErrToolUnavailable) Error() string {
	return fmt.Sprintf("tool %q is not available in this context", e.ToolName)
}
