package transport

import (
	"github.com/google/uuid"

	"openwork/internal/types"
)

// UI event names
const (
	EventMetadata = "metadata"
	EventMessages = "messages"
	EventCustom   = "custom"
	EventError    = "error"
)

// Custom event types
const (
	CustomToolCall  = "tool_call"
	CustomMessage   = "message"
	CustomTodos     = "todos"
	CustomWorkspace = "workspace"
	CustomSubagents = "subagents"
	CustomInterrupt = "interrupt"
)

// Error codes
const (
	CodeMissingThreadID = "MISSING_THREAD_ID"
	CodeMissingMessage  = "MISSING_MESSAGE"
	CodeStreamError     = "STREAM_ERROR"
)

// UIEvent is one event handed to the chat view.
type UIEvent struct {
	Event string `json:"event"`
	Data  any    `json:"data"`
}

// Metadata opens every stream.
type Metadata struct {
	RunID    string `json:"run_id"`
	ThreadID string `json:"thread_id"`
}

// MessageData is an assistant message or message fragment.
type MessageData struct {
	ID        string           `json:"id"`
	Type      string           `json:"type"`
	Content   string           `json:"content"`
	ToolCalls []types.ToolCall `json:"tool_calls,omitempty"`
}

// NodeInfo accompanies a streamed fragment.
type NodeInfo struct {
	Node string `json:"langgraph_node"`
}

// ToolCallData carries tool-call fragments.
type ToolCallData struct {
	Type      string                `json:"type"`
	MessageID string                `json:"messageId,omitempty"`
	ToolCalls []types.ToolCallChunk `json:"tool_calls"`
}

// MessageEventData carries a completed assistant message.
type MessageEventData struct {
	Type    string      `json:"type"`
	Message MessageData `json:"message"`
}

// TodosData carries the todo list.
type TodosData struct {
	Type  string       `json:"type"`
	Todos []types.Todo `json:"todos"`
}

// WorkspaceData carries the workspace file list.
type WorkspaceData struct {
	Type  string            `json:"type"`
	Files []types.FileEntry `json:"files"`
	Path  string            `json:"path"`
}

// SubagentsData carries the subagent list.
type SubagentsData struct {
	Type      string           `json:"type"`
	Subagents []types.Subagent `json:"subagents"`
}

// InterruptData asks the user for a decision.
type InterruptData struct {
	Type    string           `json:"type"`
	Request InterruptRequest `json:"request"`
}

// InterruptRequest describes the pending tool call.
type InterruptRequest struct {
	ID               string         `json:"id"`
	ToolCall         types.ToolCall `json:"tool_call"`
	AllowedDecisions []string       `json:"allowed_decisions"`
}

// ErrorData is a typed failure.
type ErrorData struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

func errorEvent(code, message string) UIEvent {
	return UIEvent{Event: EventError, Data: ErrorData{Error: code, Message: message}}
}

// convert maps a non-terminal stream event to UI events.
func convert(ev types.StreamEvent) []UIEvent {
	switch e := ev.(type) {
	case types.TokenEvent:
		return []UIEvent{{
			Event: EventMessages,
			Data: []any{
				MessageData{ID: e.MessageID, Type: types.RoleAssistant, Content: e.Token},
				NodeInfo{Node: "agent"},
			},
		}}

	case types.ToolCallEvent:
		return []UIEvent{{
			Event: EventCustom,
			Data:  ToolCallData{Type: CustomToolCall, MessageID: e.MessageID, ToolCalls: e.ToolCalls},
		}}

	case types.ValuesEvent:
		return convertValues(e)
	}
	return nil
}

func convertValues(e types.ValuesEvent) []UIEvent {
	var out []UIEvent
	for _, m := range e.Messages {
		if m.Type != types.RoleAssistant || m.Content == "" {
			continue
		}
		out = append(out, UIEvent{Event: EventCustom, Data: MessageEventData{
			Type:    CustomMessage,
			Message: MessageData{ID: m.ID, Type: types.RoleAssistant, Content: m.Content, ToolCalls: m.ToolCalls},
		}})
	}

	if len(e.Todos) > 0 {
		out = append(out, UIEvent{Event: EventCustom, Data: TodosData{Type: CustomTodos, Todos: e.Todos}})
	}

	if len(e.Files) > 0 {
		path := e.WorkspacePath
		if path == "" {
			path = "/"
		}
		out = append(out, UIEvent{Event: EventCustom, Data: WorkspaceData{Type: CustomWorkspace, Files: e.Files, Path: path}})
	}

	if len(e.Subagents) > 0 {
		out = append(out, UIEvent{Event: EventCustom, Data: SubagentsData{Type: CustomSubagents, Subagents: e.Subagents}})
	}

	if e.Interrupt != nil {
		id := e.Interrupt.ID
		if id == "" {
			id = uuid.NewString()
		}
		out = append(out, UIEvent{Event: EventCustom, Data: InterruptData{
			Type: CustomInterrupt,
			Request: InterruptRequest{
				ID:               id,
				ToolCall:         e.Interrupt.ToolCall,
				AllowedDecisions: types.AllowedDecisions,
			},
		}})
	}
	return out
}
