package transcript

import (
	"github.com/rs/zerolog"
)

// Validate drops orphan tool turns in a single pass. A tool turn is kept only
// when its id is pending on the assistant turn that governs it. Any assistant
// turn resets the pending set to its own declared ids; user and system turns
// close the exchange.
//
// Orphans are logged at WARNING when calls were pending but the id did not
// match, and at DEBUG when no exchange was open.
func Validate(turns []Turn, logger zerolog.Logger) []Turn {
	out := make([]Turn, 0, len(turns))
	var pending map[string]struct{}

	for i, t := range turns {
		switch t.Role {
		case RoleAssistant:
			pending = nil
			if len(t.ToolCalls) > 0 {
				pending = make(map[string]struct{}, len(t.ToolCalls))
				for _, tc := range t.ToolCalls {
					pending[tc.ID] = struct{}{}
				}
			}
			out = append(out, t)

		case RoleTool:
			if _, ok := pending[t.ToolCallID]; ok {
				delete(pending, t.ToolCallID)
				out = append(out, t)
				continue
			}
			if len(pending) > 0 {
				logger.Warn().
					Int("index", i).
					Str("tool_call_id", t.ToolCallID).
					Int("pending", len(pending)).
					Msg("Dropping tool turn with mismatched tool_call_id")
			} else {
				logger.Debug().
					Int("index", i).
					Str("tool_call_id", t.ToolCallID).
					Msg("Dropping tool turn outside an open tool exchange")
			}

		default:
			pending = nil
			out = append(out, t)
		}
	}

	return out
}

// EnsureComplete rejects a sequence in which an assistant turn's tool calls are
// not all answered before the next non-tool turn or the end of the sequence.
func EnsureComplete(turns []Turn) error {
	var (
		open      []string
		answered  map[string]bool
		openIndex int
	)

	unanswered := func() []string {
		var missing []string
		for _, id := range open {
			if !answered[id] {
				missing = append(missing, id)
			}
		}
		return missing
	}

	for i, t := range turns {
		if t.Role == RoleTool {
			if answered != nil {
				answered[t.ToolCallID] = true
			}
			continue
		}
		if missing := unanswered(); len(missing) > 0 {
			return &ProtocolViolation{
				Reason:      "assistant tool calls left unanswered",
				Index:       openIndex,
				ToolCallIDs: missing,
			}
		}
		open, answered = nil, nil
		if t.HasToolCalls() {
			open = t.ToolCallIDs()
			answered = make(map[string]bool, len(open))
			openIndex = i
		}
	}

	if missing := unanswered(); len(missing) > 0 {
		return &ProtocolViolation{
			Reason:      "assistant tool calls left unanswered",
			Index:       openIndex,
			ToolCallIDs: missing,
		}
	}
	return nil
}

// Preflight normalizes, validates and checks completeness in one step
func Preflight(history []RawTurn, logger zerolog.Logger) ([]Turn, error) {
	turns := Validate(Normalize(history), logger)
	if err := EnsureComplete(turns); err != nil {
		return turns, err
	}
	return turns, nil
}

// ExtractToolExchangeSlice returns the smallest trailing slice that can be
// resent for an in-progress tool exchange: the nearest preceding system or
// user turn, the latest assistant turn with tool calls, and the tool turns
// already answering it. It reports false when the tail is not a clean,
// contiguous exchange.
func ExtractToolExchangeSlice(turns []Turn) ([]Turn, bool) {
	start := -1
	for i := len(turns) - 1; i >= 0; i-- {
		if turns[i].HasToolCalls() {
			start = i
			break
		}
	}
	if start < 0 {
		return nil, false
	}

	declared := make(map[string]bool, len(turns[start].ToolCalls))
	for _, id := range turns[start].ToolCallIDs() {
		declared[id] = true
	}
	seen := make(map[string]bool)
	for _, t := range turns[start+1:] {
		if t.Role != RoleTool || !declared[t.ToolCallID] || seen[t.ToolCallID] {
			return nil, false
		}
		seen[t.ToolCallID] = true
	}

	var slice []Turn
	for i := start - 1; i >= 0; i-- {
		if turns[i].Role == RoleSystem || turns[i].Role == RoleUser {
			slice = append(slice, turns[i])
			break
		}
	}
	slice = append(slice, turns[start:]...)
	return slice, true
}
