// Package agenttest provides a scripted agent.Runner for tests.
package agenttest

import (
	"context"
	"io"
	"sync"

	"openwork/internal/agent"
)

// Turn scripts one run.
type Turn struct {
	Chunks   []agent.Chunk
	Err      error // returned by Next after the chunks
	Block    bool  // after the chunks, block until the run context ends
	StartErr error
}

// Runner replays one Turn per Start call, in order. When the script is
// exhausted every further run ends immediately.
type Runner struct {
	mu       sync.Mutex
	turns    []Turn
	requests []agent.Request
	started  chan agent.Request
}

// NewRunner creates a runner replaying turns.
func NewRunner(turns ...Turn) *Runner {
	return &Runner{turns: turns, started: make(chan agent.Request, 64)}
}

// Started delivers the request of every run as it starts.
func (r *Runner) Started() <-chan agent.Request {
	return r.started
}

// Requests returns the requests seen so far.
func (r *Runner) Requests() []agent.Request {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]agent.Request(nil), r.requests...)
}

func (r *Runner) Start(ctx context.Context, req agent.Request) (agent.Stream, error) {
	r.mu.Lock()
	var turn Turn
	if len(r.turns) > 0 {
		turn = r.turns[0]
		r.turns = r.turns[1:]
	}
	r.requests = append(r.requests, req)
	r.mu.Unlock()

	if turn.StartErr != nil {
		return nil, turn.StartErr
	}
	select {
	case r.started <- req:
	default:
	}
	return &stream{runCtx: ctx, turn: turn, closed: make(chan struct{})}, nil
}

type stream struct {
	runCtx    context.Context
	turn      Turn
	pos       int
	errSent   bool
	closeOnce sync.Once
	closed    chan struct{}
}

func (s *stream) Next(ctx context.Context) (agent.Chunk, error) {
	if err := ctx.Err(); err != nil {
		return agent.Chunk{}, err
	}
	if s.pos < len(s.turn.Chunks) {
		c := s.turn.Chunks[s.pos]
		s.pos++
		return c, nil
	}
	if s.turn.Err != nil && !s.errSent {
		s.errSent = true
		return agent.Chunk{}, s.turn.Err
	}
	if s.turn.Block {
		select {
		case <-ctx.Done():
			return agent.Chunk{}, ctx.Err()
		case <-s.runCtx.Done():
			return agent.Chunk{}, s.runCtx.Err()
		case <-s.closed:
		}
	}
	return agent.Chunk{}, io.EOF
}

func (s *stream) Close() error {
	s.closeOnce.Do(func() { close(s.closed) })
	return nil
}

// Token is a messages chunk carrying assistant text.
func Token(id, content string) agent.Chunk {
	return agent.Chunk{Mode: agent.ModeMessages, Message: &agent.MessageChunk{ID: id, Type: "ai", Content: content}}
}

// Values is a values chunk.
func Values(state agent.State) agent.Chunk {
	return agent.Chunk{Mode: agent.ModeValues, Values: &state}
}
