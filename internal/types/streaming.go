package types

import (
	"encoding/json"
	"fmt"
)

// =============================================================================
// STREAM EVENT CONSTANTS
// =============================================================================

// Stream event type tags used on the wire.
const (
	EventToken    = "token"
	EventToolCall = "tool_call"
	EventValues   = "values"
	EventError    = "error"
	EventDone     = "done"
)

// =============================================================================
// STREAM EVENTS
// =============================================================================

// StreamEvent is one normalized event of an agent run. The set of variants is
// closed: TokenEvent, ToolCallEvent, ValuesEvent, ErrorEvent and DoneEvent.
// A run ends with exactly one ErrorEvent or DoneEvent.
type StreamEvent interface {
	// Type returns the wire tag of the event.
	Type() string
	streamEvent()
}

// TokenEvent carries an incremental piece of assistant text.
type TokenEvent struct {
	MessageID string `json:"messageId"`
	Token     string `json:"token"`
}

// ToolCallEvent carries tool-call fragments for the in-flight message.
type ToolCallEvent struct {
	MessageID string          `json:"messageId,omitempty"`
	ToolCalls []ToolCallChunk `json:"tool_calls"`
}

// ValuesEvent carries a state snapshot. Messages holds only assistant
// messages not yet surfaced during the run.
type ValuesEvent struct {
	Messages      []Message   `json:"messages,omitempty"`
	Todos         []Todo      `json:"todos,omitempty"`
	Files         []FileEntry `json:"files,omitempty"`
	WorkspacePath string      `json:"workspacePath,omitempty"`
	Subagents     []Subagent  `json:"subagents,omitempty"`
	Interrupt     *Interrupt  `json:"interrupt,omitempty"`
}

// ErrorEvent terminates a run with a human-readable message.
type ErrorEvent struct {
	Message string `json:"error"`
}

// DoneEvent terminates a run normally or after cancellation.
type DoneEvent struct{}

func (TokenEvent) Type() string    { return EventToken }
func (ToolCallEvent) Type() string { return EventToolCall }
func (ValuesEvent) Type() string   { return EventValues }
func (ErrorEvent) Type() string    { return EventError }
func (DoneEvent) Type() string     { return EventDone }

func (TokenEvent) streamEvent()    {}
func (ToolCallEvent) streamEvent() {}
func (ValuesEvent) streamEvent()   {}
func (ErrorEvent) streamEvent()    {}
func (DoneEvent) streamEvent()     {}

// IsTerminal reports whether ev ends a run.
func IsTerminal(ev StreamEvent) bool {
	switch ev.(type) {
	case ErrorEvent, DoneEvent:
		return true
	}
	return false
}

// =============================================================================
// WIRE CODEC
// =============================================================================

// wireEvent is the flat JSON form: {"type": "...", "data": {...}}.
type wireEvent struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data,omitempty"`
}

// MarshalStreamEvent encodes ev with its type tag.
func MarshalStreamEvent(ev StreamEvent) ([]byte, error) {
	w := wireEvent{Type: ev.Type()}
	if _, ok := ev.(DoneEvent); !ok {
		data, err := json.Marshal(ev)
		if err != nil {
			return nil, fmt.Errorf("marshal %s event: %w", ev.Type(), err)
		}
		w.Data = data
	}
	return json.Marshal(w)
}

// UnmarshalStreamEvent decodes a tagged event produced by MarshalStreamEvent.
func UnmarshalStreamEvent(b []byte) (StreamEvent, error) {
	var w wireEvent
	if err := json.Unmarshal(b, &w); err != nil {
		return nil, fmt.Errorf("decode stream event: %w", err)
	}

	var (
		ev  StreamEvent
		err error
	)
	switch w.Type {
	case EventToken:
		var e TokenEvent
		err = decodeData(w.Data, &e)
		ev = e
	case EventToolCall:
		var e ToolCallEvent
		err = decodeData(w.Data, &e)
		ev = e
	case EventValues:
		var e ValuesEvent
		err = decodeData(w.Data, &e)
		ev = e
	case EventError:
		var e ErrorEvent
		err = decodeData(w.Data, &e)
		ev = e
	case EventDone:
		ev = DoneEvent{}
	default:
		return nil, fmt.Errorf("unknown stream event type %q", w.Type)
	}
	if err != nil {
		return nil, fmt.Errorf("decode %s event: %w", w.Type, err)
	}
	return ev, nil
}

func decodeData(data json.RawMessage, v any) error {
	if len(data) == 0 {
		return nil
	}
	return json.Unmarshal(data, v)
}
