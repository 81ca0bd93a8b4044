// Package types provides shared type definitions for OpenWork.
// These types are used across backend, stream, transport and the app shell.
package types

import "time"

// =============================================================================
// WORKSPACE TYPES
// =============================================================================

// FileEntry describes one node of a workspace tree addressed by a virtual path.
// Virtual paths are rooted at "/" and never end with a slash.
// Directory entries never carry Size or ModifiedAt.
type FileEntry struct {
	Path       string     `json:"path"`
	IsDir      bool       `json:"is_dir"`
	Size       *int64     `json:"size,omitempty"`
	ModifiedAt *time.Time `json:"modified_at,omitempty"`
}

// GrepMatch is a single matching line. Line is 1-based.
type GrepMatch struct {
	Path string `json:"path"`
	Line int    `json:"line"`
	Text string `json:"text"`
}

// =============================================================================
// MESSAGE TYPES (agent snapshot payloads)
// =============================================================================

// Message roles as reported by the agent process.
const (
	RoleHuman     = "human"
	RoleAssistant = "ai"
	RoleTool      = "tool"
	RoleSystem    = "system"
)

// Message is a complete conversation message carried in a values snapshot.
type Message struct {
	ID         string     `json:"id"`
	Type       string     `json:"type"` // human, ai, tool, system
	Content    string     `json:"content"`
	ToolCalls  []ToolCall `json:"tool_calls,omitempty"`
	ToolCallID string     `json:"tool_call_id,omitempty"` // set on tool messages
}

// ToolCall is a fully formed tool invocation.
type ToolCall struct {
	ID   string         `json:"id"`
	Name string         `json:"name"`
	Args map[string]any `json:"args"`
}

// ToolCallChunk is a streamed fragment of a tool invocation.
// Args holds a partial JSON string that is only valid once all fragments are joined.
type ToolCallChunk struct {
	ID    string `json:"id,omitempty"`
	Name  string `json:"name,omitempty"`
	Args  string `json:"args,omitempty"`
	Index *int   `json:"index,omitempty"`
}

// Todo is an entry of the agent's task list.
type Todo struct {
	ID      string `json:"id"`
	Content string `json:"content"`
	Status  string `json:"status"` // pending, in_progress, completed
}

// Subagent describes a delegated agent execution.
type Subagent struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
	Status      string `json:"status"` // pending, running, completed, failed
}

// Subagent status constants
const (
	SubagentStatusPending   = "pending"
	SubagentStatusRunning   = "running"
	SubagentStatusCompleted = "completed"
	SubagentStatusFailed    = "failed"
)

// Interrupt is a pending human-in-the-loop approval for a tool call.
type Interrupt struct {
	ID       string   `json:"id,omitempty"`
	ToolCall ToolCall `json:"tool_call"`
}

// =============================================================================
// HITL DECISIONS
// =============================================================================

// Decision types for resolving an interrupt.
const (
	DecisionApprove = "approve"
	DecisionReject  = "reject"
	DecisionEdit    = "edit"
)

// AllowedDecisions lists every decision the UI may offer for an interrupt.
var AllowedDecisions = []string{DecisionApprove, DecisionReject, DecisionEdit}

// Decision resolves a pending interrupt.
type Decision struct {
	Type       string         `json:"type"`                  // approve, reject, edit
	ToolCallID string         `json:"tool_call_id,omitempty"`
	EditedArgs map[string]any `json:"edited_args,omitempty"` // only for edit
	Feedback   string         `json:"feedback,omitempty"`    // only for reject
}

// ValidDecision reports whether t is one of the allowed decision types.
func ValidDecision(t string) bool {
	switch t {
	case DecisionApprove, DecisionReject, DecisionEdit:
		return true
	}
	return false
}

// =============================================================================
// THREAD TYPES
// =============================================================================

// Thread status constants
const (
	ThreadStatusIdle        = "idle"
	ThreadStatusBusy        = "busy"
	ThreadStatusInterrupted = "interrupted"
	ThreadStatusError       = "error"
)

// Thread is a conversation with its own checkpointed file state.
type Thread struct {
	ID        string         `json:"thread_id"`
	Title     string         `json:"title,omitempty"`
	Status    string         `json:"status"`
	Metadata  ThreadMetadata `json:"metadata"`
	CreatedAt time.Time      `json:"created_at"`
	UpdatedAt time.Time      `json:"updated_at"`
}

// ThreadMetadata holds per-thread settings persisted with the thread.
type ThreadMetadata struct {
	WorkspacePath string `json:"workspacePath,omitempty"`
	Model         string `json:"model,omitempty"`
}

// Snapshot is the latest full agent state persisted for a thread.
type Snapshot struct {
	ThreadID  string     `json:"thread_id"`
	Messages  []Message  `json:"messages"`
	Todos     []Todo     `json:"todos,omitempty"`
	Subagents []Subagent `json:"subagents,omitempty"`
	Interrupt *Interrupt `json:"interrupt,omitempty"`
	UpdatedAt time.Time  `json:"updated_at"`
}

// =============================================================================
// EVENT TYPES (for frontend communication)
// =============================================================================

// EventEnvelope wraps all events with routing information.
// All events emitted to the frontend use this envelope pattern.
type EventEnvelope struct {
	ThreadID  string `json:"threadId,omitempty"` // Present for thread-scoped events
	RunID     string `json:"runId,omitempty"`    // Run the event belongs to, for chat streams
	EventType string `json:"eventType"`          // The event name
	Payload   any    `json:"payload"`            // Event-specific data
}
