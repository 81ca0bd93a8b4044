package stream

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"openwork/internal/agent"
	"openwork/internal/agent/agenttest"
	"openwork/internal/ipc"
	"openwork/internal/models"
	"openwork/internal/types"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

type staticModels struct {
	err error
}

func (s staticModels) Resolve(modelID string) (models.Resolved, error) {
	if s.err != nil {
		return models.Resolved{}, s.err
	}
	return models.Resolved{ID: modelID, Provider: models.ProviderAnthropic, Model: "test-model"}, nil
}

type memRecorder struct {
	mu        sync.Mutex
	statuses  []string
	snapshots []types.Snapshot
}

func (m *memRecorder) SaveSnapshot(_ context.Context, snap types.Snapshot) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.snapshots = append(m.snapshots, snap)
	return nil
}

func (m *memRecorder) SetStatus(_ context.Context, _ string, status string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.statuses = append(m.statuses, status)
	return nil
}

func (m *memRecorder) lastStatus() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.statuses) == 0 {
		return ""
	}
	return m.statuses[len(m.statuses)-1]
}

type fixture struct {
	router   *Router
	bus      *ipc.Bus
	runner   *agenttest.Runner
	recorder *memRecorder
}

func newFixture(t *testing.T, resolver ModelResolver, turns ...agenttest.Turn) *fixture {
	t.Helper()
	f := &fixture{
		bus:      ipc.New(),
		runner:   agenttest.NewRunner(turns...),
		recorder: &memRecorder{},
	}
	if resolver == nil {
		resolver = staticModels{}
	}
	f.router = NewRouter(Options{Runner: f.runner, Bus: f.bus, Models: resolver, Recorder: f.recorder})
	t.Cleanup(func() {
		f.router.Close()
		f.router.Wait()
		f.bus.Close()
	})
	return f
}

// subscribe collects every event published for threadID.
func (f *fixture) subscribe(t *testing.T, threadID string) <-chan types.StreamEvent {
	t.Helper()
	ch := make(chan types.StreamEvent, 256)
	_, err := f.bus.On(ipc.StreamChannel(threadID), func(p []byte) {
		ev, err := types.UnmarshalStreamEvent(p)
		if err != nil {
			t.Errorf("undecodable event %s: %v", p, err)
			return
		}
		ch <- ev
	})
	require.NoError(t, err)
	return ch
}

func next(t *testing.T, ch <-chan types.StreamEvent) types.StreamEvent {
	t.Helper()
	select {
	case ev := <-ch:
		return ev
	case <-time.After(2 * time.Second):
		t.Fatal("timeout waiting for event")
		return nil
	}
}

// untilTerminal returns every event up to and including the terminal one.
func untilTerminal(t *testing.T, ch <-chan types.StreamEvent) []types.StreamEvent {
	t.Helper()
	var out []types.StreamEvent
	for {
		ev := next(t, ch)
		out = append(out, ev)
		if types.IsTerminal(ev) {
			return out
		}
	}
}

func assertQuiet(t *testing.T, ch <-chan types.StreamEvent) {
	t.Helper()
	select {
	case ev := <-ch:
		t.Fatalf("unexpected event after terminal: %#v", ev)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestTokensGroupUnderOneMessage(t *testing.T) {
	f := newFixture(t, nil, agenttest.Turn{Chunks: []agent.Chunk{
		agenttest.Token("", "Hel"),
		agenttest.Token("", "lo"),
		agenttest.Values(agent.State{Messages: []types.Message{
			{Type: types.RoleHuman, Content: "hi"},
			{Type: types.RoleAssistant, Content: "Hello"},
		}}),
	}})
	ch := f.subscribe(t, "t1")

	_, err := f.router.Invoke(context.Background(), InvokeRequest{ThreadID: "t1", Message: "hi"})
	require.NoError(t, err)
	events := untilTerminal(t, ch)
	require.Len(t, events, 4)

	first := events[0].(types.TokenEvent)
	second := events[1].(types.TokenEvent)
	assert.NotEmpty(t, first.MessageID)
	assert.Equal(t, first.MessageID, second.MessageID)
	assert.Equal(t, "Hello", first.Token+second.Token)

	values := events[2].(types.ValuesEvent)
	require.Len(t, values.Messages, 1)
	assert.Equal(t, first.MessageID, values.Messages[0].ID)
	assert.Equal(t, "Hello", values.Messages[0].Content)

	assert.Equal(t, types.DoneEvent{}, events[3])
	assertQuiet(t, ch)
}

func TestProducerIDsAreKept(t *testing.T) {
	f := newFixture(t, nil, agenttest.Turn{Chunks: []agent.Chunk{
		agenttest.Token("m1", "a"),
		agenttest.Token("", "b"),
		agenttest.Values(agent.State{Messages: []types.Message{{ID: "m1", Type: types.RoleAssistant, Content: "ab"}}}),
		agenttest.Token("", "c"),
	}})
	ch := f.subscribe(t, "t1")

	_, err := f.router.Invoke(context.Background(), InvokeRequest{ThreadID: "t1", Message: "x"})
	require.NoError(t, err)
	events := untilTerminal(t, ch)
	require.Len(t, events, 5)

	assert.Equal(t, "m1", events[0].(types.TokenEvent).MessageID)
	assert.Equal(t, "m1", events[1].(types.TokenEvent).MessageID)
	// the snapshot closed m1, so the next message gets a fresh id
	third := events[3].(types.TokenEvent).MessageID
	assert.NotEqual(t, "m1", third)
	assert.NotEmpty(t, third)
}

func TestSnapshotMessagesEmittedOnce(t *testing.T) {
	state := agent.State{Messages: []types.Message{
		{ID: "a1", Type: types.RoleAssistant, Content: "first"},
		{Type: types.RoleAssistant, Content: "no id"},
	}}
	f := newFixture(t, nil, agenttest.Turn{Chunks: []agent.Chunk{
		agenttest.Values(state),
		agenttest.Values(state),
	}})
	ch := f.subscribe(t, "t1")

	_, err := f.router.Invoke(context.Background(), InvokeRequest{ThreadID: "t1", Message: "x"})
	require.NoError(t, err)
	events := untilTerminal(t, ch)
	require.Len(t, events, 3)

	assert.Len(t, events[0].(types.ValuesEvent).Messages, 2)
	assert.Empty(t, events[1].(types.ValuesEvent).Messages)
}

func TestToolOnlyTurnTerminates(t *testing.T) {
	idx := 0
	f := newFixture(t, nil, agenttest.Turn{Chunks: []agent.Chunk{
		{Mode: agent.ModeMessages, Message: &agent.MessageChunk{
			Type:           types.RoleAssistant,
			ToolCallChunks: []types.ToolCallChunk{{ID: "call1", Name: "ls", Args: `{"path":"/"}`, Index: &idx}},
		}},
		agenttest.Values(agent.State{Messages: []types.Message{
			{ID: "m1", Type: types.RoleAssistant, ToolCalls: []types.ToolCall{{ID: "call1", Name: "ls"}}},
			{ID: "tm1", Type: types.RoleTool, Content: "a.txt", ToolCallID: "call1"},
		}}),
	}})
	ch := f.subscribe(t, "t1")

	_, err := f.router.Invoke(context.Background(), InvokeRequest{ThreadID: "t1", Message: "list"})
	require.NoError(t, err)
	events := untilTerminal(t, ch)
	require.Len(t, events, 3)

	tc := events[0].(types.ToolCallEvent)
	assert.NotEmpty(t, tc.MessageID)
	assert.Equal(t, "ls", tc.ToolCalls[0].Name)
	assert.Empty(t, events[1].(types.ValuesEvent).Messages)
	assert.Equal(t, types.DoneEvent{}, events[2])
}

func TestCancelPublishesSingleDone(t *testing.T) {
	f := newFixture(t, nil,
		agenttest.Turn{Chunks: []agent.Chunk{agenttest.Token("m1", "partial")}, Block: true},
		agenttest.Turn{Chunks: []agent.Chunk{agenttest.Token("m2", "again")}},
	)
	ch := f.subscribe(t, "t1")

	_, err := f.router.Invoke(context.Background(), InvokeRequest{ThreadID: "t1", Message: "x"})
	require.NoError(t, err)
	assert.Equal(t, types.TokenEvent{MessageID: "m1", Token: "partial"}, next(t, ch))

	f.router.Cancel("t1")
	assert.Equal(t, types.DoneEvent{}, next(t, ch))
	assert.False(t, f.router.Active("t1"))
	assert.Equal(t, types.ThreadStatusIdle, f.recorder.lastStatus())

	// the thread is free again immediately
	_, err = f.router.Invoke(context.Background(), InvokeRequest{ThreadID: "t1", Message: "y"})
	require.NoError(t, err)
	events := untilTerminal(t, ch)
	assert.Equal(t, []types.StreamEvent{
		types.TokenEvent{MessageID: "m2", Token: "again"},
		types.DoneEvent{},
	}, events)
	assertQuiet(t, ch)
}

func TestThreadFreeWhenDoneIsDelivered(t *testing.T) {
	f := newFixture(t, nil,
		agenttest.Turn{Chunks: []agent.Chunk{agenttest.Token("m1", "one")}},
		agenttest.Turn{Chunks: []agent.Chunk{agenttest.Token("m2", "two")}},
	)
	activeAtDone := make(chan bool, 2)
	_, err := f.bus.On(ipc.StreamChannel("t1"), func(p []byte) {
		ev, err := types.UnmarshalStreamEvent(p)
		if err == nil && types.IsTerminal(ev) {
			activeAtDone <- f.router.Active("t1")
		}
	})
	require.NoError(t, err)

	for _, msg := range []string{"x", "y"} {
		_, err := f.router.Invoke(context.Background(), InvokeRequest{ThreadID: "t1", Message: msg})
		require.NoError(t, err)
		select {
		case active := <-activeAtDone:
			assert.False(t, active)
		case <-time.After(2 * time.Second):
			t.Fatal("timeout waiting for done")
		}
	}
}

func TestCancelUnknownThreadIsNoop(t *testing.T) {
	f := newFixture(t, nil)
	ch := f.subscribe(t, "t1")
	f.router.Cancel("t1")
	assertQuiet(t, ch)
}

func TestDoubleInvokeRejected(t *testing.T) {
	f := newFixture(t, nil, agenttest.Turn{Block: true})
	ch := f.subscribe(t, "t1")

	_, err := f.router.Invoke(context.Background(), InvokeRequest{ThreadID: "t1", Message: "x"})
	require.NoError(t, err)
	_, err = f.router.Invoke(context.Background(), InvokeRequest{ThreadID: "t1", Message: "y"})
	assert.ErrorIs(t, err, ErrRunInProgress)

	f.router.Cancel("t1")
	assert.Equal(t, types.DoneEvent{}, next(t, ch))
}

func TestThreadsRunIndependently(t *testing.T) {
	f := newFixture(t, nil,
		agenttest.Turn{Block: true},
		agenttest.Turn{Chunks: []agent.Chunk{agenttest.Token("b1", "for b")}},
	)
	a := f.subscribe(t, "a")
	b := f.subscribe(t, "b")

	_, err := f.router.Invoke(context.Background(), InvokeRequest{ThreadID: "a", Message: "x"})
	require.NoError(t, err)
	<-f.runner.Started()
	_, err = f.router.Invoke(context.Background(), InvokeRequest{ThreadID: "b", Message: "y"})
	require.NoError(t, err)

	assert.Equal(t, []types.StreamEvent{types.TokenEvent{MessageID: "b1", Token: "for b"}, types.DoneEvent{}}, untilTerminal(t, b))
	assert.True(t, f.router.Active("a"))
	f.router.Cancel("a")
	assert.Equal(t, types.DoneEvent{}, next(t, a))
}

func TestConfigFailureIsTerminalError(t *testing.T) {
	resolver := staticModels{err: fmt.Errorf("Anthropic API key not configured: %w", models.ErrMissingCredentials)}
	f := newFixture(t, resolver)
	ch := f.subscribe(t, "t1")

	_, err := f.router.Invoke(context.Background(), InvokeRequest{ThreadID: "t1", Message: "x"})
	require.NoError(t, err)
	ev := next(t, ch)
	require.IsType(t, types.ErrorEvent{}, ev)
	assert.Contains(t, ev.(types.ErrorEvent).Message, "API key not configured")
	assertQuiet(t, ch)
	assert.Empty(t, f.runner.Requests())
	assert.Equal(t, types.ThreadStatusError, f.recorder.lastStatus())
}

func TestAgentFailureIsTerminalError(t *testing.T) {
	f := newFixture(t, nil,
		agenttest.Turn{Chunks: []agent.Chunk{agenttest.Token("m", "x")}, Err: errors.New("agent exited: exit status 1")},
		agenttest.Turn{StartErr: errors.New("agent command not found")},
	)
	ch := f.subscribe(t, "t1")

	_, err := f.router.Invoke(context.Background(), InvokeRequest{ThreadID: "t1", Message: "x"})
	require.NoError(t, err)
	events := untilTerminal(t, ch)
	require.Len(t, events, 2)
	assert.Equal(t, types.ErrorEvent{Message: "agent exited: exit status 1"}, events[1])

	require.Eventually(t, func() bool { return !f.router.Active("t1") }, time.Second, 5*time.Millisecond)
	_, err = f.router.Invoke(context.Background(), InvokeRequest{ThreadID: "t1", Message: "x"})
	require.NoError(t, err)
	assert.Equal(t, types.ErrorEvent{Message: "agent command not found"}, next(t, ch))
}

func TestInterruptDoesNotEndRun(t *testing.T) {
	f := newFixture(t, nil, agenttest.Turn{Chunks: []agent.Chunk{
		agenttest.Values(agent.State{
			Todos:     []types.Todo{{ID: "1", Content: "write file", Status: "pending"}},
			Interrupt: &types.Interrupt{ID: "int-1", ToolCall: types.ToolCall{ID: "c1", Name: "write_file"}},
		}),
		agenttest.Token("m2", "still here"),
	}})
	ch := f.subscribe(t, "t1")

	_, err := f.router.Invoke(context.Background(), InvokeRequest{ThreadID: "t1", Message: "x"})
	require.NoError(t, err)
	events := untilTerminal(t, ch)
	require.Len(t, events, 3)

	values := events[0].(types.ValuesEvent)
	require.NotNil(t, values.Interrupt)
	assert.Equal(t, "write_file", values.Interrupt.ToolCall.Name)
	assert.Len(t, values.Todos, 1)
	assert.IsType(t, types.TokenEvent{}, events[1])

	f.router.Wait()
	assert.Equal(t, types.ThreadStatusInterrupted, f.recorder.lastStatus())
	require.Len(t, f.recorder.snapshots, 1)
	assert.Equal(t, "int-1", f.recorder.snapshots[0].Interrupt.ID)
}

func TestResumeCarriesDecision(t *testing.T) {
	f := newFixture(t, nil, agenttest.Turn{})
	ch := f.subscribe(t, "t1")

	_, err := f.router.Resume(context.Background(), ResumeRequest{ThreadID: "t1", Decision: types.Decision{Type: "bogus"}})
	assert.ErrorIs(t, err, ErrInvalidDecision)

	decision := types.Decision{Type: types.DecisionEdit, ToolCallID: "c1", EditedArgs: map[string]any{"path": "/b.txt"}}
	_, err = f.router.Resume(context.Background(), ResumeRequest{ThreadID: "t1", Decision: decision})
	require.NoError(t, err)
	assert.Equal(t, types.DoneEvent{}, next(t, ch))

	reqs := f.runner.Requests()
	require.Len(t, reqs, 1)
	require.NotNil(t, reqs[0].Command)
	assert.Equal(t, decision, reqs[0].Command.Resume)
	assert.Equal(t, "t1", reqs[0].ThreadID)
}

func TestRunOutlivesCallerContext(t *testing.T) {
	f := newFixture(t, nil, agenttest.Turn{Chunks: []agent.Chunk{agenttest.Token("m", "ok")}})
	ch := f.subscribe(t, "t1")

	ctx, cancel := context.WithCancel(context.Background())
	_, err := f.router.Invoke(ctx, InvokeRequest{ThreadID: "t1", Message: "x"})
	require.NoError(t, err)
	cancel()

	assert.Equal(t, []types.StreamEvent{types.TokenEvent{MessageID: "m", Token: "ok"}, types.DoneEvent{}}, untilTerminal(t, ch))
}

func TestInvokeValidation(t *testing.T) {
	f := newFixture(t, nil)
	_, err := f.router.Invoke(context.Background(), InvokeRequest{Message: "x"})
	assert.ErrorIs(t, err, ErrMissingThreadID)

	f.router.Close()
	_, err = f.router.Invoke(context.Background(), InvokeRequest{ThreadID: "t", Message: "x"})
	assert.ErrorIs(t, err, ErrRouterClosed)
}
