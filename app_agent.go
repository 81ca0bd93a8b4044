package main

import (
	"context"
	"errors"

	"openwork/internal/engine"
	"openwork/internal/logging"
	"openwork/internal/stream"
	"openwork/internal/transport"
	"openwork/internal/types"
)

// StreamEventPrefix prefixes the event name a thread's chat stream is
// emitted on.
const StreamEventPrefix = "agent:stream:"

// EventStreamEnd marks the last envelope of a stream.
const EventStreamEnd = "end"

var errNotReady = errors.New("engine not initialized")

func (a *App) requireEngine() (*engine.Engine, error) {
	if a.engine == nil {
		return nil, errNotReady
	}
	return a.engine, nil
}

// =============================================================================
// AGENT METHODS (Bound to frontend)
// =============================================================================

// StreamAgent sends a message (or a resume decision) and emits the UI events
// of the run on "agent:stream:<threadId>" as EventEnvelopes tagged with the
// run id. It returns as soon as the stream is started; validation failures
// arrive as error events. A thread that is still streaming is rejected with
// stream.ErrRunInProgress.
func (a *App) StreamAgent(p transport.Payload) error {
	e, err := a.requireEngine()
	if err != nil {
		return err
	}

	a.streamsMu.Lock()
	if _, ok := a.streams[p.ThreadID]; ok || e.Router().Active(p.ThreadID) {
		a.streamsMu.Unlock()
		return stream.ErrRunInProgress
	}
	ctx, cancel := context.WithCancel(a.ctx)
	a.streams[p.ThreadID] = cancel
	a.streamsMu.Unlock()

	events := e.Stream(ctx, p)
	go a.forward(cancel, p.ThreadID, events)
	return nil
}

// forward emits events until the stream closes. The thread is released
// before the end envelope so the frontend may send again on seeing it.
func (a *App) forward(cancel context.CancelFunc, threadID string, events <-chan transport.UIEvent) {
	name := StreamEventPrefix + threadID
	var runID string
	for ev := range events {
		if meta, ok := ev.Data.(transport.Metadata); ok {
			runID = meta.RunID
		}
		a.emit(a.ctx, name, types.EventEnvelope{
			ThreadID:  threadID,
			RunID:     runID,
			EventType: ev.Event,
			Payload:   ev.Data,
		})
	}

	a.streamsMu.Lock()
	delete(a.streams, threadID)
	a.streamsMu.Unlock()
	cancel()

	a.emit(a.ctx, name, types.EventEnvelope{ThreadID: threadID, RunID: runID, EventType: EventStreamEnd})
}

// CancelAgent stops the run of a thread.
func (a *App) CancelAgent(threadID string) error {
	e, err := a.requireEngine()
	if err != nil {
		return err
	}
	logging.Info("cancel requested", logging.Thread(threadID))
	e.Cancel(threadID)
	return nil
}

// IsAgentRunning reports whether a thread has an active run.
func (a *App) IsAgentRunning(threadID string) bool {
	if a.engine == nil {
		return false
	}
	return a.engine.Router().Active(threadID)
}
