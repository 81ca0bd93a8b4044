package transport

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"openwork/internal/agent"
	"openwork/internal/agent/agenttest"
	"openwork/internal/ipc"
	"openwork/internal/models"
	"openwork/internal/stream"
	"openwork/internal/types"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

type staticModels struct{}

func (staticModels) Resolve(modelID string) (models.Resolved, error) {
	return models.Resolved{ID: modelID, Provider: models.ProviderAnthropic, Model: "test-model"}, nil
}

type fixture struct {
	transport *Transport
	router    *stream.Router
	runner    *agenttest.Runner
}

func newFixture(t *testing.T, turns ...agenttest.Turn) *fixture {
	t.Helper()
	bus := ipc.New()
	runner := agenttest.NewRunner(turns...)
	router := stream.NewRouter(stream.Options{Runner: runner, Bus: bus, Models: staticModels{}})
	t.Cleanup(func() {
		router.Close()
		router.Wait()
		bus.Close()
	})
	return &fixture{transport: New(bus, router), router: router, runner: runner}
}

// collect reads the stream to the end.
func collect(t *testing.T, ch <-chan UIEvent) []UIEvent {
	t.Helper()
	var out []UIEvent
	timeout := time.After(2 * time.Second)
	for {
		select {
		case ev, ok := <-ch:
			if !ok {
				return out
			}
			out = append(out, ev)
		case <-timeout:
			t.Fatal("stream did not end")
			return nil
		}
	}
}

func TestStreamValidation(t *testing.T) {
	f := newFixture(t)

	events := collect(t, f.transport.Stream(context.Background(), Payload{Message: "hi"}))
	require.Len(t, events, 1)
	assert.Equal(t, errorEvent(CodeMissingThreadID, "Thread ID is required"), events[0])

	events = collect(t, f.transport.Stream(context.Background(), Payload{ThreadID: "t1", Message: "  "}))
	require.Len(t, events, 1)
	assert.Equal(t, errorEvent(CodeMissingMessage, "Message content is required"), events[0])

	assert.Empty(t, f.runner.Requests())
}

func TestStreamGroupsTokensIntoOneMessage(t *testing.T) {
	f := newFixture(t, agenttest.Turn{Chunks: []agent.Chunk{
		agenttest.Token("", "Hel"),
		agenttest.Token("", "lo"),
		agenttest.Values(agent.State{Messages: []types.Message{
			{Type: types.RoleHuman, Content: "say hello"},
			{Type: types.RoleAssistant, Content: "Hello"},
		}}),
	}})

	events := collect(t, f.transport.Stream(context.Background(), Payload{ThreadID: "t1", Message: "say hello"}))
	require.Len(t, events, 4)

	require.Equal(t, EventMetadata, events[0].Event)
	meta := events[0].Data.(Metadata)
	assert.Equal(t, "t1", meta.ThreadID)
	assert.NotEmpty(t, meta.RunID)

	// a consumer that concatenates fragments by id sees one message
	text := map[string]string{}
	var order []string
	for _, ev := range events[1:3] {
		require.Equal(t, EventMessages, ev.Event)
		parts := ev.Data.([]any)
		msg := parts[0].(MessageData)
		assert.Equal(t, NodeInfo{Node: "agent"}, parts[1])
		if _, ok := text[msg.ID]; !ok {
			order = append(order, msg.ID)
		}
		text[msg.ID] += msg.Content
	}
	require.Len(t, order, 1)
	assert.Equal(t, "Hello", text[order[0]])

	final := events[3].Data.(MessageEventData)
	assert.Equal(t, CustomMessage, final.Type)
	assert.Equal(t, order[0], final.Message.ID)
	assert.Equal(t, "Hello", final.Message.Content)
}

func TestStreamConvertsValues(t *testing.T) {
	f := newFixture(t, agenttest.Turn{Chunks: []agent.Chunk{
		agenttest.Values(agent.State{
			Todos:     []types.Todo{{ID: "1", Content: "plan", Status: "in_progress"}},
			Files:     map[string]agent.FileData{"/b.txt": {Content: "bb"}, "/a.txt": {Content: "a"}},
			Subagents: []types.Subagent{{ID: "s1", Name: "researcher", Status: types.SubagentStatusRunning}},
			Interrupt: &types.Interrupt{ToolCall: types.ToolCall{ID: "c1", Name: "write_file"}},
		}),
	}})

	events := collect(t, f.transport.Stream(context.Background(), Payload{ThreadID: "t1", Message: "go"}))
	require.Len(t, events, 5)

	todos := events[1].Data.(TodosData)
	assert.Equal(t, "plan", todos.Todos[0].Content)

	ws := events[2].Data.(WorkspaceData)
	assert.Equal(t, "/", ws.Path)
	require.Len(t, ws.Files, 2)
	assert.Equal(t, "/a.txt", ws.Files[0].Path)
	assert.Equal(t, int64(2), *ws.Files[1].Size)

	subs := events[3].Data.(SubagentsData)
	assert.Equal(t, "researcher", subs.Subagents[0].Name)

	in := events[4].Data.(InterruptData)
	assert.Equal(t, CustomInterrupt, in.Type)
	assert.NotEmpty(t, in.Request.ID)
	assert.Equal(t, "write_file", in.Request.ToolCall.Name)
	assert.Equal(t, []string{"approve", "reject", "edit"}, in.Request.AllowedDecisions)
}

func TestStreamToolCalls(t *testing.T) {
	f := newFixture(t, agenttest.Turn{Chunks: []agent.Chunk{
		{Mode: agent.ModeMessages, Message: &agent.MessageChunk{
			ID:             "m1",
			Type:           types.RoleAssistant,
			ToolCallChunks: []types.ToolCallChunk{{ID: "c1", Name: "grep", Args: `{"pattern":"x"}`}},
		}},
	}})

	events := collect(t, f.transport.Stream(context.Background(), Payload{ThreadID: "t1", Message: "find"}))
	require.Len(t, events, 2)
	tc := events[1].Data.(ToolCallData)
	assert.Equal(t, CustomToolCall, tc.Type)
	assert.Equal(t, "m1", tc.MessageID)
	assert.Equal(t, "grep", tc.ToolCalls[0].Name)
}

func TestStreamError(t *testing.T) {
	f := newFixture(t, agenttest.Turn{Err: errors.New("model overloaded")})

	events := collect(t, f.transport.Stream(context.Background(), Payload{ThreadID: "t1", Message: "x"}))
	require.Len(t, events, 2)
	assert.Equal(t, errorEvent(CodeStreamError, "model overloaded"), events[1])
}

func TestStreamCancelStopsRun(t *testing.T) {
	f := newFixture(t,
		agenttest.Turn{Chunks: []agent.Chunk{agenttest.Token("m1", "working")}, Block: true},
		agenttest.Turn{Chunks: []agent.Chunk{agenttest.Token("m2", "fresh")}},
	)

	ctx, cancel := context.WithCancel(context.Background())
	ch := f.transport.Stream(ctx, Payload{ThreadID: "t1", Message: "long task"})
	assert.Equal(t, EventMetadata, (<-ch).Event)
	assert.Equal(t, EventMessages, (<-ch).Event)

	cancel()
	collect(t, ch)
	require.Eventually(t, func() bool { return !f.router.Active("t1") }, time.Second, 5*time.Millisecond)

	// the subscription is gone, so the thread can stream again
	events := collect(t, f.transport.Stream(context.Background(), Payload{ThreadID: "t1", Message: "next"}))
	require.Len(t, events, 2)
	assert.Equal(t, "fresh", events[1].Data.([]any)[0].(MessageData).Content)
}

func TestStreamRejectsSecondStreamOnThread(t *testing.T) {
	f := newFixture(t, agenttest.Turn{Block: true})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	first := f.transport.Stream(ctx, Payload{ThreadID: "t1", Message: "a"})
	assert.Equal(t, EventMetadata, (<-first).Event)

	events := collect(t, f.transport.Stream(context.Background(), Payload{ThreadID: "t1", Message: "b"}))
	require.Len(t, events, 1)
	assert.Equal(t, CodeStreamError, events[0].Data.(ErrorData).Error)

	cancel()
	collect(t, first)
}

func TestStreamResume(t *testing.T) {
	f := newFixture(t, agenttest.Turn{Chunks: []agent.Chunk{agenttest.Token("m", "resumed")}})

	payload := Payload{ThreadID: "t1", Command: &Command{Resume: types.Decision{Type: types.DecisionApprove}}}
	events := collect(t, f.transport.Stream(context.Background(), payload))
	require.Len(t, events, 2)

	reqs := f.runner.Requests()
	require.Len(t, reqs, 1)
	require.NotNil(t, reqs[0].Command)
	assert.Equal(t, types.DecisionApprove, reqs[0].Command.Resume.Type)
	assert.Empty(t, reqs[0].Message)
}

func TestStreamResumeInvalidDecision(t *testing.T) {
	f := newFixture(t)

	payload := Payload{ThreadID: "t1", Command: &Command{Resume: types.Decision{Type: "maybe"}}}
	events := collect(t, f.transport.Stream(context.Background(), payload))
	require.Len(t, events, 1)
	assert.Equal(t, CodeStreamError, events[0].Data.(ErrorData).Error)
}
