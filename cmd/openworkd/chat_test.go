package main

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"

	"openwork/internal/transport"
	"openwork/internal/types"
)

func feed(events ...transport.UIEvent) <-chan transport.UIEvent {
	ch := make(chan transport.UIEvent, len(events))
	for _, ev := range events {
		ch <- ev
	}
	close(ch)
	return ch
}

func token(s string) transport.UIEvent {
	return transport.UIEvent{Event: transport.EventMessages, Data: []any{
		transport.MessageData{ID: "m1", Type: types.RoleAssistant, Content: s},
		transport.NodeInfo{Node: "agent"},
	}}
}

func TestPrintStream(t *testing.T) {
	var buf bytes.Buffer
	err := printStream(&buf, feed(
		transport.UIEvent{Event: transport.EventMetadata, Data: transport.Metadata{RunID: "r", ThreadID: "t"}},
		token("Hel"),
		token("lo"),
		transport.UIEvent{Event: transport.EventCustom, Data: transport.ToolCallData{
			Type: transport.CustomToolCall, ToolCalls: []types.ToolCallChunk{{Name: "write_file"}},
		}},
		transport.UIEvent{Event: transport.EventCustom, Data: transport.InterruptData{
			Type: transport.CustomInterrupt,
			Request: transport.InterruptRequest{
				ID:               "i1",
				ToolCall:         types.ToolCall{ID: "c1", Name: "write_file"},
				AllowedDecisions: types.AllowedDecisions,
			},
		}},
	))
	assert.NoError(t, err)
	assert.Equal(t, "Hello\n[tool] write_file\n\n[approval needed] write_file c1 (allowed: approve, reject, edit)\n\n", buf.String())
}

func TestPrintStreamError(t *testing.T) {
	var buf bytes.Buffer
	err := printStream(&buf, feed(transport.UIEvent{
		Event: transport.EventError,
		Data:  transport.ErrorData{Error: transport.CodeStreamError, Message: "Anthropic API key not configured"},
	}))
	assert.EqualError(t, err, "STREAM_ERROR: Anthropic API key not configured")
}
