package transcript

import (
	"fmt"
	"strings"
)

// ProtocolViolation reports a tool-call pairing that preflight could not repair,
// or that a provider rejected despite preflight.
type ProtocolViolation struct {
	Reason      string
	Index       int
	ToolCallIDs []string
	Err         error
}

func (e *ProtocolViolation) Error() string {
	msg := "protocol violation: " + e.Reason
	if len(e.ToolCallIDs) > 0 {
		msg += fmt.Sprintf(" (tool_call_ids: %s)", strings.Join(e.ToolCallIDs, ", "))
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *ProtocolViolation) Unwrap() error {
	return e.Err
}
