// Package transport is the renderer side of a run. It subscribes to the
// thread channel, starts the run and turns stream events into UI events.
package transport

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"openwork/internal/ipc"
	"openwork/internal/logging"
	"openwork/internal/stream"
	"openwork/internal/types"
)

// eventBuffer holds events received ahead of the consumer.
const eventBuffer = 64

// Remote is the run-side API. stream.Router implements it.
type Remote interface {
	Invoke(ctx context.Context, req stream.InvokeRequest) (string, error)
	Resume(ctx context.Context, req stream.ResumeRequest) (string, error)
	Cancel(threadID string)
}

// Subscriber subscribes to named channels. ipc.Bus implements it.
type Subscriber interface {
	On(name string, handler ipc.Handler) (*ipc.Subscription, error)
}

// Payload is one send from the chat view.
type Payload struct {
	ThreadID string   `json:"threadId"`
	Message  string   `json:"message,omitempty"`
	Command  *Command `json:"command,omitempty"`
	ModelID  string   `json:"modelId,omitempty"`
}

// Command resumes an interrupted thread.
type Command struct {
	Resume types.Decision `json:"resume"`
}

// Transport starts runs and streams their UI events.
type Transport struct {
	bus    Subscriber
	remote Remote
}

// New creates a transport.
func New(bus Subscriber, remote Remote) *Transport {
	return &Transport{bus: bus, remote: remote}
}

// Stream starts a run for p and returns its events. The channel yields a
// metadata event first and is closed after the run ends. Cancelling ctx
// stops the local stream and cancels the run.
func (t *Transport) Stream(ctx context.Context, p Payload) <-chan UIEvent {
	if err := validate(p); err != nil {
		out := make(chan UIEvent, 1)
		out <- *err
		close(out)
		return out
	}

	out := make(chan UIEvent)
	go t.run(ctx, p, out)
	return out
}

func validate(p Payload) *UIEvent {
	if p.ThreadID == "" {
		ev := errorEvent(CodeMissingThreadID, "Thread ID is required")
		return &ev
	}
	if p.Command == nil && strings.TrimSpace(p.Message) == "" {
		ev := errorEvent(CodeMissingMessage, "Message content is required")
		return &ev
	}
	return nil
}

func (t *Transport) run(ctx context.Context, p Payload, out chan<- UIEvent) {
	defer close(out)

	events := make(chan types.StreamEvent, eventBuffer)
	stop := make(chan struct{})
	defer close(stop)

	var sub *ipc.Subscription
	sub, err := t.bus.On(ipc.StreamChannel(p.ThreadID), func(payload []byte) {
		ev, err := types.UnmarshalStreamEvent(payload)
		if err != nil {
			logging.Warn("dropping undecodable stream event", logging.Thread(p.ThreadID), logging.Err(err))
			return
		}
		if types.IsTerminal(ev) {
			sub.Unsubscribe()
		}
		select {
		case events <- ev:
		case <-stop:
		}
	})
	if err != nil {
		if errors.Is(err, ipc.ErrChannelBusy) {
			err = fmt.Errorf("a stream is already open for this thread: %w", err)
		}
		t.emit(ctx, out, errorEvent(CodeStreamError, err.Error()))
		return
	}
	defer sub.Unsubscribe()

	runID, err := t.start(ctx, p)
	if err != nil {
		t.emit(ctx, out, errorEvent(CodeStreamError, err.Error()))
		return
	}

	if !t.emit(ctx, out, UIEvent{Event: EventMetadata, Data: Metadata{RunID: runID, ThreadID: p.ThreadID}}) {
		t.remote.Cancel(p.ThreadID)
		return
	}

	for {
		select {
		case <-ctx.Done():
			t.remote.Cancel(p.ThreadID)
			return
		case ev := <-events:
			switch e := ev.(type) {
			case types.DoneEvent:
				return
			case types.ErrorEvent:
				t.emit(ctx, out, errorEvent(CodeStreamError, e.Message))
				return
			}
			for _, ui := range convert(ev) {
				if !t.emit(ctx, out, ui) {
					t.remote.Cancel(p.ThreadID)
					return
				}
			}
		}
	}
}

func (t *Transport) start(ctx context.Context, p Payload) (string, error) {
	if p.Command != nil {
		return t.remote.Resume(ctx, stream.ResumeRequest{ThreadID: p.ThreadID, Decision: p.Command.Resume, ModelID: p.ModelID})
	}
	return t.remote.Invoke(ctx, stream.InvokeRequest{ThreadID: p.ThreadID, Message: p.Message, ModelID: p.ModelID})
}

// emit hands ev to the consumer. It reports false when ctx ended first.
func (t *Transport) emit(ctx context.Context, out chan<- UIEvent, ev UIEvent) bool {
	select {
	case out <- ev:
		return true
	case <-ctx.Done():
		return false
	}
}
