package ai

import (
	"encoding/json"
	"strings"
)

// ToolCall is one tool invocation requested by the oracle.
type ToolCall struct {
	ID   string
	Name string
	Args map[string]any
}

// RawArgs re-encodes the decoded arguments for providers that echo tool input
// back into the conversation history.
func (c ToolCall) RawArgs() json.RawMessage {
	if len(c.Args) == 0 {
		return json.RawMessage(`{}`)
	}
	b, err := json.Marshal(c.Args)
	if err != nil {
		return json.RawMessage(`{}`)
	}
	return b
}

// ToolResult is the recorded outcome of one dispatched tool call. Content is
// the JSON-encoded payload on success, or the error message on failure.
type ToolResult struct {
	CallID  string
	Name    string
	Content string
	IsError bool
}

// Turn is one conversation step in the trace. An assistant turn may carry
// tool calls; a user turn may carry the matching tool results.
type Turn struct {
	Role    string
	Text    string
	Calls   []ToolCall
	Results []ToolResult
}

// Trace is the accumulated conversation state the oracle conditions on. It is
// owned by a single chat request and never shared across requests.
type Trace struct {
	System string
	Turns  []Turn
}

// NewTrace seeds a trace from the client's prior turns.
func NewTrace(system string, history []ChatMessage) *Trace {
	tr := &Trace{System: strings.TrimSpace(system)}
	for _, m := range history {
		tr.Turns = append(tr.Turns, Turn{Role: m.Role, Text: m.Content})
	}
	return tr
}

// AppendAssistant records one oracle turn: its free text and any tool calls.
func (t *Trace) AppendAssistant(text string, calls []ToolCall) {
	t.Turns = append(t.Turns, Turn{Role: "assistant", Text: text, Calls: calls})
}

// AppendResults records tool outcomes as a user-side turn so the next oracle
// iteration can condition on them.
func (t *Trace) AppendResults(results []ToolResult) {
	if len(results) == 0 {
		return
	}
	t.Turns = append(t.Turns, Turn{Role: "user", Results: results})
}
