package stream

import (
	"github.com/google/uuid"

	"openwork/internal/agent"
	"openwork/internal/types"
)

// normalizer turns raw agent chunks into stream events for one run.
//
// Tokens without a producer id are grouped under the id of the message in
// flight, minting one when there is none. A values snapshot that surfaces
// messages ends the in-flight message. Snapshot messages are emitted once
// per run.
type normalizer struct {
	currentID string
	seen      map[string]struct{}
}

func newNormalizer() *normalizer {
	return &normalizer{seen: make(map[string]struct{})}
}

func (n *normalizer) messageID(id string) string {
	if id != "" {
		n.currentID = id
		return id
	}
	if n.currentID == "" {
		n.currentID = uuid.NewString()
	}
	return n.currentID
}

// chunk converts a messages-mode chunk. Non-assistant chunks yield nothing.
func (n *normalizer) chunk(m *agent.MessageChunk) []types.StreamEvent {
	if m == nil || !isAssistant(m.Type) {
		return nil
	}
	if m.Content == "" && len(m.ToolCallChunks) == 0 {
		return nil
	}

	id := n.messageID(m.ID)
	var out []types.StreamEvent
	if m.Content != "" {
		out = append(out, types.TokenEvent{MessageID: id, Token: m.Content})
	}
	if len(m.ToolCallChunks) > 0 {
		out = append(out, types.ToolCallEvent{MessageID: id, ToolCalls: m.ToolCallChunks})
	}
	return out
}

// values converts a values-mode snapshot. Files and WorkspacePath are
// filled in by the router.
func (n *normalizer) values(s *agent.State) types.ValuesEvent {
	ev := types.ValuesEvent{
		Todos:         s.Todos,
		WorkspacePath: s.WorkspacePath,
		Subagents:     s.Subagents,
		Interrupt:     s.Interrupt,
	}

	inflight := n.currentID
	for _, m := range s.Messages {
		if m.Type == "" || !isAssistant(m.Type) || m.Content == "" {
			continue
		}
		contentKey := "~" + m.Content
		if m.ID == "" {
			if _, ok := n.seen[contentKey]; ok {
				continue
			}
			n.seen[contentKey] = struct{}{}
			// the streamed tokens of this message went out under the in-flight id
			m.ID, inflight = inflight, ""
			if m.ID == "" {
				m.ID = uuid.NewString()
			}
		}
		if _, ok := n.seen[m.ID]; ok {
			continue
		}
		n.seen[m.ID] = struct{}{}
		m.Type = types.RoleAssistant
		ev.Messages = append(ev.Messages, m)
	}

	if len(ev.Messages) > 0 {
		n.currentID = ""
	}
	return ev
}

func isAssistant(t string) bool {
	switch t {
	case "", types.RoleAssistant, "AIMessageChunk", "assistant":
		return true
	}
	return false
}
