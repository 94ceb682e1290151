package transcript

import (
	"encoding/json"
	"fmt"
	"strings"
)

// Normalize converts mixed-shape turns into canonical Turns. It never fails:
// unknown roles become user turns, unusable tool calls are discarded and
// malformed argument encodings become empty argument maps.
func Normalize(history []RawTurn) []Turn {
	turns := make([]Turn, 0, len(history))
	for i, raw := range history {
		t, ok := normalizeTurn(i, raw)
		if !ok {
			continue
		}
		turns = append(turns, t)
	}
	return turns
}

// NormalizeToolCalls converts raw tool calls into ToolCallRequests
func NormalizeToolCalls(calls []RawToolCall) []ToolCallRequest {
	return normalizeCalls(0, calls)
}

func normalizeTurn(index int, raw RawTurn) (Turn, bool) {
	switch v := raw.(type) {
	case Turn:
		return canonical(index, string(v.Role), v.Content, liftCalls(v.ToolCalls), v.ToolCallID), true
	case *Turn:
		if v == nil {
			return Turn{Role: RoleUser}, false
		}
		return canonical(index, string(v.Role), v.Content, liftCalls(v.ToolCalls), v.ToolCallID), true
	case Message:
		return canonical(index, v.Role, v.Content, v.ToolCalls, v.ToolCallID), true
	case Record:
		if v == nil {
			return Turn{Role: RoleUser}, false
		}
		return fromRecord(index, v), true
	default:
		return Turn{Role: RoleUser}, false
	}
}

func canonical(index int, role, content string, calls []RawToolCall, toolCallID string) Turn {
	t := Turn{Role: ParseRole(role), Content: content}
	switch t.Role {
	case RoleAssistant:
		t.ToolCalls = normalizeCalls(index, calls)
	case RoleTool:
		t.ToolCallID = toolCallID
	}
	return t
}

func liftCalls(calls []ToolCallRequest) []RawToolCall {
	if len(calls) == 0 {
		return nil
	}
	raw := make([]RawToolCall, len(calls))
	for i, c := range calls {
		raw[i] = c
	}
	return raw
}

func normalizeCalls(turnIndex int, calls []RawToolCall) []ToolCallRequest {
	var out []ToolCallRequest
	for i, raw := range calls {
		var call ToolCallRequest
		switch c := raw.(type) {
		case ToolCallRequest:
			call = ToolCallRequest{ID: c.ID, Name: c.Name, Args: copyArgs(c.Args)}
		case FunctionCall:
			call = ToolCallRequest{ID: c.ID, Name: c.Function.Name, Args: ParseArguments(c.Function.Arguments)}
		default:
			continue
		}
		call.Name = strings.TrimSpace(call.Name)
		if call.Name == "" {
			continue
		}
		if call.ID == "" {
			call.ID = fmt.Sprintf("call_%d_%d", turnIndex, i)
		}
		out = append(out, call)
	}
	return out
}

// ParseArguments decodes a JSON object of tool arguments. Anything that is not
// a JSON object decodes to an empty map.
func ParseArguments(encoded string) map[string]interface{} {
	args := map[string]interface{}{}
	encoded = strings.TrimSpace(encoded)
	if encoded == "" {
		return args
	}
	var decoded map[string]interface{}
	if err := json.Unmarshal([]byte(encoded), &decoded); err != nil || decoded == nil {
		return args
	}
	return decoded
}

func copyArgs(args map[string]interface{}) map[string]interface{} {
	out := make(map[string]interface{}, len(args))
	for k, v := range args {
		out[k] = v
	}
	return out
}

func fromRecord(index int, r Record) Turn {
	role, _ := r["role"].(string)
	toolCallID, _ := r["tool_call_id"].(string)
	return canonical(index, role, recordContent(r["content"]), recordCalls(r["tool_calls"]), toolCallID)
}

// recordContent accepts plain strings and lists of {"type":"text","text":...} parts
func recordContent(v interface{}) string {
	switch c := v.(type) {
	case string:
		return c
	case []interface{}:
		var parts []string
		for _, p := range c {
			switch part := p.(type) {
			case string:
				parts = append(parts, part)
			case map[string]interface{}:
				if text, ok := part["text"].(string); ok {
					parts = append(parts, text)
				}
			}
		}
		return strings.Join(parts, "")
	default:
		return ""
	}
}

func recordCalls(v interface{}) []RawToolCall {
	var entries []map[string]interface{}
	switch c := v.(type) {
	case []interface{}:
		for _, e := range c {
			if m, ok := e.(map[string]interface{}); ok {
				entries = append(entries, m)
			}
		}
	case []map[string]interface{}:
		entries = c
	case []RawToolCall:
		return c
	case []ToolCallRequest:
		return liftCalls(c)
	default:
		return nil
	}

	calls := make([]RawToolCall, 0, len(entries))
	for _, e := range entries {
		id, _ := e["id"].(string)
		if fn, ok := e["function"].(map[string]interface{}); ok {
			name, _ := fn["name"].(string)
			switch args := fn["arguments"].(type) {
			case string:
				calls = append(calls, FunctionCall{ID: id, Function: FunctionSpec{Name: name, Arguments: args}})
			case map[string]interface{}:
				calls = append(calls, ToolCallRequest{ID: id, Name: name, Args: args})
			default:
				calls = append(calls, ToolCallRequest{ID: id, Name: name})
			}
			continue
		}
		name, _ := e["name"].(string)
		switch args := e["args"].(type) {
		case map[string]interface{}:
			calls = append(calls, ToolCallRequest{ID: id, Name: name, Args: args})
		case string:
			calls = append(calls, ToolCallRequest{ID: id, Name: name, Args: ParseArguments(args)})
		default:
			calls = append(calls, ToolCallRequest{ID: id, Name: name})
		}
	}
	return calls
}
