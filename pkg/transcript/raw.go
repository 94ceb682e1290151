package transcript

// RawTurn is a conversation turn in any of the shapes accepted at the boundary:
// Turn (already canonical), Record (loose role/content map) or Message (typed
// wire message whose tool calls may use either call shape).
type RawTurn interface {
	isRawTurn()
}

// RawToolCall is a tool call in one of the two upstream shapes:
// ToolCallRequest (name + structured args) or FunctionCall (function name +
// string-encoded arguments).
type RawToolCall interface {
	isRawToolCall()
}

// Record is the plain role/content representation, typically decoded JSON
type Record map[string]interface{}

// Message is a typed wire message as produced by chat-completion SDK adapters
type Message struct {
	Role       string        `json:"role"`
	Content    string        `json:"content"`
	ToolCalls  []RawToolCall `json:"-"`
	ToolCallID string        `json:"tool_call_id,omitempty"`
}

// FunctionCall is the "named function + string-encoded arguments" call shape
type FunctionCall struct {
	ID       string       `json:"id"`
	Type     string       `json:"type,omitempty"`
	Function FunctionSpec `json:"function"`
}

// FunctionSpec names the function and carries its JSON-encoded arguments
type FunctionSpec struct {
	Name      string `json:"name"`
	Arguments string `json:"arguments"`
}

func (Turn) isRawTurn()    {}
func (Record) isRawTurn()  {}
func (Message) isRawTurn() {}

func (ToolCallRequest) isRawToolCall() {}
func (FunctionCall) isRawToolCall()    {}

// AsRaw lifts canonical turns back into the raw domain
func AsRaw(turns []Turn) []RawTurn {
	raw := make([]RawTurn, len(turns))
	for i, t := range turns {
		raw[i] = t
	}
	return raw
}
