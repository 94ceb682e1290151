package transcript

import (
	"bytes"
	"encoding/json"
	"strings"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type logLine struct {
	Level      string `json:"level"`
	ToolCallID string `json:"tool_call_id"`
}

func captureLogger() (zerolog.Logger, *bytes.Buffer) {
	buf := &bytes.Buffer{}
	return zerolog.New(buf).Level(zerolog.DebugLevel), buf
}

func readLines(t *testing.T, buf *bytes.Buffer) []logLine {
	var lines []logLine
	for _, raw := range strings.Split(strings.TrimSpace(buf.String()), "\n") {
		if raw == "" {
			continue
		}
		var l logLine
		require.NoError(t, json.Unmarshal([]byte(raw), &l))
		lines = append(lines, l)
	}
	return lines
}

func call(id, name string) ToolCallRequest {
	return ToolCallRequest{ID: id, Name: name, Args: map[string]interface{}{}}
}

func TestValidate(t *testing.T) {
	t.Run("should drop a tool turn with no open exchange at debug", func(t *testing.T) {
		logger, buf := captureLogger()

		out := Validate([]Turn{User("hi"), ToolResponse("x", "late")}, logger)

		assert.Equal(t, []Turn{User("hi")}, out)
		lines := readLines(t, buf)
		require.Len(t, lines, 1)
		assert.Equal(t, "debug", lines[0].Level)
		assert.Equal(t, "x", lines[0].ToolCallID)
	})

	t.Run("should drop a mismatched id at warning", func(t *testing.T) {
		logger, buf := captureLogger()

		out := Validate([]Turn{
			User("go"),
			Assistant("", call("a", "get_item")),
			ToolResponse("zzz", "wrong"),
			ToolResponse("a", "right"),
		}, logger)

		require.Len(t, out, 3)
		assert.Equal(t, "a", out[2].ToolCallID)
		lines := readLines(t, buf)
		require.Len(t, lines, 1)
		assert.Equal(t, "warn", lines[0].Level)
	})

	t.Run("should not carry pending ids past a new assistant turn", func(t *testing.T) {
		logger, buf := captureLogger()

		out := Validate([]Turn{
			User("go"),
			Assistant("", call("a", "get_item"), call("b", "get_item")),
			ToolResponse("a", "1"),
			Assistant("", call("c", "list_items")),
			ToolResponse("b", "late answer to the previous turn"),
			ToolResponse("c", "2"),
		}, logger)

		require.Len(t, out, 5)
		assert.Equal(t, "c", out[4].ToolCallID)
		lines := readLines(t, buf)
		require.Len(t, lines, 1)
		assert.Equal(t, "warn", lines[0].Level)
		assert.Equal(t, "b", lines[0].ToolCallID)
	})

	t.Run("should drop a duplicate answer once the exchange is closed", func(t *testing.T) {
		logger, buf := captureLogger()

		out := Validate([]Turn{
			Assistant("", call("a", "get_item")),
			ToolResponse("a", "1"),
			ToolResponse("a", "again"),
		}, logger)

		assert.Len(t, out, 2)
		lines := readLines(t, buf)
		require.Len(t, lines, 1)
		assert.Equal(t, "debug", lines[0].Level)
	})

	t.Run("should keep every tool turn paired with its governing assistant turn", func(t *testing.T) {
		logger, _ := captureLogger()

		out := Validate([]Turn{
			System("sys"),
			ToolResponse("q", "orphan"),
			User("go"),
			Assistant("", call("a", "x"), call("b", "y")),
			ToolResponse("b", "1"),
			ToolResponse("a", "2"),
			User("more"),
			ToolResponse("a", "stale"),
			Assistant("done"),
		}, logger)

		var governing map[string]bool
		for _, turn := range out {
			switch turn.Role {
			case RoleAssistant:
				governing = map[string]bool{}
				for _, id := range turn.ToolCallIDs() {
					governing[id] = true
				}
			case RoleTool:
				require.True(t, governing[turn.ToolCallID], "tool turn %s is not governed", turn.ToolCallID)
				delete(governing, turn.ToolCallID)
			default:
				governing = nil
			}
		}
		assert.Len(t, out, 7)
	})
}

func TestEnsureComplete(t *testing.T) {
	t.Run("should accept complete exchanges", func(t *testing.T) {
		err := EnsureComplete([]Turn{
			User("go"),
			Assistant("", call("a", "x")),
			ToolResponse("a", "1"),
			Assistant("done"),
		})
		assert.NoError(t, err)
	})

	t.Run("should reject an exchange left open at the end", func(t *testing.T) {
		err := EnsureComplete([]Turn{
			User("go"),
			Assistant("", call("a", "x"), call("b", "y")),
			ToolResponse("a", "1"),
		})

		var violation *ProtocolViolation
		require.ErrorAs(t, err, &violation)
		assert.Equal(t, []string{"b"}, violation.ToolCallIDs)
		assert.Equal(t, 1, violation.Index)
	})

	t.Run("should reject an exchange interrupted by a user turn", func(t *testing.T) {
		err := EnsureComplete([]Turn{
			Assistant("", call("a", "x")),
			User("never mind"),
		})
		assert.Error(t, err)
	})
}

func TestPreflight(t *testing.T) {
	logger, _ := captureLogger()

	turns, err := Preflight([]RawTurn{
		Record{"role": "user", "content": "go"},
		Record{"role": "tool", "tool_call_id": "x", "content": "orphan"},
	}, logger)

	require.NoError(t, err)
	assert.Equal(t, []Turn{User("go")}, turns)
}

func TestExtractToolExchangeSlice(t *testing.T) {
	t.Run("should return context turn plus the open exchange", func(t *testing.T) {
		turns := []Turn{
			System("sys"),
			User("first"),
			Assistant("answer"),
			User("second"),
			Assistant("", call("a", "x"), call("b", "y")),
			ToolResponse("a", "1"),
		}

		slice, ok := ExtractToolExchangeSlice(turns)

		require.True(t, ok)
		assert.Equal(t, []Turn{turns[3], turns[4], turns[5]}, slice)
	})

	t.Run("should report false when the tail is a plain answer", func(t *testing.T) {
		_, ok := ExtractToolExchangeSlice([]Turn{
			User("go"),
			Assistant("", call("a", "x")),
			ToolResponse("a", "1"),
			Assistant("done"),
		})
		assert.False(t, ok)
	})

	t.Run("should report false when the tail holds foreign tool turns", func(t *testing.T) {
		_, ok := ExtractToolExchangeSlice([]Turn{
			User("go"),
			Assistant("", call("a", "x")),
			ToolResponse("z", "1"),
		})
		assert.False(t, ok)
	})

	t.Run("should report false without any tool exchange", func(t *testing.T) {
		_, ok := ExtractToolExchangeSlice([]Turn{User("go")})
		assert.False(t, ok)
	})
}
