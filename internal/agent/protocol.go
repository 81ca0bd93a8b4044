// Package agent drives the agent process and decodes its output.
//
// The agent is an external program. It receives one Request as JSON on
// stdin (or in OPENWORK_REQUEST when running under a pseudo-terminal) and
// writes one JSON object per line on stdout:
//
//	{"mode":"messages","data":{"id":"...","type":"ai","content":"Hel","tool_call_chunks":[...]}}
//	{"mode":"values","data":{"messages":[...],"todos":[...],"files":{...},"__interrupt__":{...}}}
//	{"mode":"error","data":{"message":"..."}}
//
// The run ends when stdout closes.
package agent

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"openwork/internal/models"
	"openwork/internal/types"
)

// Output modes
const (
	ModeMessages = "messages"
	ModeValues   = "values"
	ModeError    = "error"
)

// Runner starts agent runs.
type Runner interface {
	Start(ctx context.Context, req Request) (Stream, error)
}

// Stream yields the chunks of one run. Next returns io.EOF after the last
// chunk and ctx.Err() when ctx ends first.
type Stream interface {
	Next(ctx context.Context) (Chunk, error)
	Close() error
}

// Request is the input of one run.
type Request struct {
	ThreadID       string          `json:"threadId"`
	Message        string          `json:"message,omitempty"`
	Command        *Command        `json:"command,omitempty"`
	Model          models.Resolved `json:"model"`
	WorkspacePath  string          `json:"workspacePath,omitempty"`
	MCPURL         string          `json:"mcpUrl,omitempty"`
	RecursionLimit int             `json:"recursionLimit"`
}

// Command resumes an interrupted run with a decision.
type Command struct {
	Resume types.Decision `json:"resume"`
}

// Chunk is one decoded output line. Exactly one of Message and Values is set.
type Chunk struct {
	Mode    string
	Message *MessageChunk
	Values  *State
}

// MessageChunk is an incremental piece of a message.
type MessageChunk struct {
	ID             string                `json:"id,omitempty"`
	Type           string                `json:"type,omitempty"`
	Content        string                `json:"content,omitempty"`
	ToolCallChunks []types.ToolCallChunk `json:"tool_call_chunks,omitempty"`
}

// State is a full snapshot of the agent state.
type State struct {
	Messages      []types.Message     `json:"messages,omitempty"`
	Todos         []types.Todo        `json:"todos,omitempty"`
	Files         map[string]FileData `json:"files,omitempty"`
	WorkspacePath string              `json:"workspacePath,omitempty"`
	Subagents     []types.Subagent    `json:"subagents,omitempty"`
	Interrupt     *types.Interrupt    `json:"__interrupt__,omitempty"`
}

// FileData is a file held in the agent state.
type FileData struct {
	Content string `json:"content"`
}

// Error is reported by the agent through an error line.
type Error struct {
	Message string `json:"message"`
}

func (e *Error) Error() string { return e.Message }

// ErrMalformedLine wraps lines that are JSON but not a valid chunk.
var ErrMalformedLine = errors.New("malformed agent output")

type wireLine struct {
	Mode string          `json:"mode"`
	Data json.RawMessage `json:"data"`
}

// ParseLine decodes one stdout line. It returns an *Error for error lines.
func ParseLine(line []byte) (Chunk, error) {
	var w wireLine
	if err := json.Unmarshal(line, &w); err != nil {
		return Chunk{}, fmt.Errorf("%w: %v", ErrMalformedLine, err)
	}

	switch w.Mode {
	case ModeMessages:
		var m MessageChunk
		if err := json.Unmarshal(w.Data, &m); err != nil {
			return Chunk{}, fmt.Errorf("%w: messages: %v", ErrMalformedLine, err)
		}
		return Chunk{Mode: ModeMessages, Message: &m}, nil
	case ModeValues:
		var s State
		if err := json.Unmarshal(w.Data, &s); err != nil {
			return Chunk{}, fmt.Errorf("%w: values: %v", ErrMalformedLine, err)
		}
		return Chunk{Mode: ModeValues, Values: &s}, nil
	case ModeError:
		var e Error
		if err := json.Unmarshal(w.Data, &e); err != nil || e.Message == "" {
			e.Message = "agent reported an error"
		}
		return Chunk{}, &e
	}
	return Chunk{}, fmt.Errorf("%w: unknown mode %q", ErrMalformedLine, w.Mode)
}

// EncodeChunk renders a chunk in the stdout line format. It is the inverse
// of ParseLine and is used by in-process agents and tests.
func EncodeChunk(c Chunk) ([]byte, error) {
	var data any
	switch c.Mode {
	case ModeMessages:
		data = c.Message
	case ModeValues:
		data = c.Values
	default:
		return nil, fmt.Errorf("cannot encode chunk mode %q", c.Mode)
	}
	raw, err := json.Marshal(data)
	if err != nil {
		return nil, err
	}
	return json.Marshal(wireLine{Mode: c.Mode, Data: raw})
}
