package transcript

import "strings"

// Role identifies who produced a turn
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleTool      Role = "tool"
)

// ParseRole maps a wire role onto a Role. Unknown roles become RoleUser.
func ParseRole(s string) Role {
	switch Role(strings.ToLower(strings.TrimSpace(s))) {
	case RoleSystem:
		return RoleSystem
	case RoleAssistant:
		return RoleAssistant
	case RoleTool:
		return RoleTool
	default:
		return RoleUser
	}
}

// ToolCallRequest is a single tool invocation requested by an assistant turn
type ToolCallRequest struct {
	ID   string                 `json:"id"`
	Name string                 `json:"name"`
	Args map[string]interface{} `json:"args"`
}

// Turn is one canonical entry in a conversation
type Turn struct {
	Role       Role              `json:"role"`
	Content    string            `json:"content"`
	ToolCalls  []ToolCallRequest `json:"tool_calls,omitempty"`
	ToolCallID string            `json:"tool_call_id,omitempty"`
}

// HasToolCalls reports whether the turn requests tool execution
func (t Turn) HasToolCalls() bool {
	return t.Role == RoleAssistant && len(t.ToolCalls) > 0
}

// ToolCallIDs returns the ids declared by an assistant turn, in order
func (t Turn) ToolCallIDs() []string {
	ids := make([]string, 0, len(t.ToolCalls))
	for _, tc := range t.ToolCalls {
		ids = append(ids, tc.ID)
	}
	return ids
}

// System creates a system turn
func System(content string) Turn {
	return Turn{Role: RoleSystem, Content: content}
}

// User creates a user turn
func User(content string) Turn {
	return Turn{Role: RoleUser, Content: content}
}

// Assistant creates an assistant turn, optionally carrying tool calls
func Assistant(content string, calls ...ToolCallRequest) Turn {
	t := Turn{Role: RoleAssistant, Content: content}
	if len(calls) > 0 {
		t.ToolCalls = calls
	}
	return t
}

// ToolResponse creates a tool turn answering the call with the given id
func ToolResponse(toolCallID, content string) Turn {
	return Turn{Role: RoleTool, Content: content, ToolCallID: toolCallID}
}
