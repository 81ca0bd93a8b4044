// Package stream runs agent turns and relays their events to the
// per-thread channel of the bus.
//
// Each thread has at most one run. A run moves from running to exactly one
// of done, errored or cancelled, and publishes exactly one terminal event.
package stream

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"openwork/internal/agent"
	"openwork/internal/ipc"
	"openwork/internal/logging"
	"openwork/internal/metrics"
	"openwork/internal/models"
	"openwork/internal/types"
)

// DefaultRecursionLimit bounds the agent steps of one run.
const DefaultRecursionLimit = 1000

// recordTimeout bounds the persistence calls made on behalf of a run.
const recordTimeout = 5 * time.Second

var (
	// ErrRunInProgress is returned when a thread already has a live run.
	ErrRunInProgress = errors.New("a run is already in progress for this thread")
	// ErrRouterClosed is returned after Close.
	ErrRouterClosed = errors.New("router closed")
	// ErrMissingThreadID is returned for requests without a thread id.
	ErrMissingThreadID = errors.New("thread id is required")
	// ErrInvalidDecision is returned for a resume with an unknown decision type.
	ErrInvalidDecision = errors.New("invalid decision")
)

// Run outcomes
const (
	OutcomeDone      = "done"
	OutcomeError     = "error"
	OutcomeCancelled = "cancelled"
)

// Publisher delivers encoded events to a named channel.
type Publisher interface {
	Send(name string, payload []byte) bool
}

// ModelResolver resolves a model id into a runnable configuration.
type ModelResolver interface {
	Resolve(modelID string) (models.Resolved, error)
}

// Recorder persists run progress. checkpoint.DB implements it.
type Recorder interface {
	SaveSnapshot(ctx context.Context, snap types.Snapshot) error
	SetStatus(ctx context.Context, threadID, status string) error
}

// WorkspaceInfo describes the files a thread works on.
type WorkspaceInfo interface {
	Files(ctx context.Context, threadID string) ([]types.FileEntry, error)
	WorkspacePath(threadID string) string
}

// Options configures a Router. Runner, Bus and Models are required.
type Options struct {
	Runner         agent.Runner
	Bus            Publisher
	Models         ModelResolver
	Recorder       Recorder
	Workspace      WorkspaceInfo
	RecursionLimit int
}

// InvokeRequest starts a run with a new user message.
type InvokeRequest struct {
	ThreadID string `json:"threadId"`
	Message  string `json:"message"`
	ModelID  string `json:"modelId,omitempty"`
}

// ResumeRequest continues an interrupted run with a decision.
type ResumeRequest struct {
	ThreadID string         `json:"threadId"`
	Decision types.Decision `json:"decision"`
	ModelID  string         `json:"modelId,omitempty"`
}

// Router owns the run registry.
type Router struct {
	opts Options

	mu     sync.Mutex
	runs   map[string]*run
	closed bool
	wg     sync.WaitGroup
}

type run struct {
	id       string
	threadID string
	cancel   context.CancelFunc

	mu        sync.Mutex
	closed    bool
	cancelled bool
}

// NewRouter creates a router.
func NewRouter(opts Options) *Router {
	if opts.RecursionLimit <= 0 {
		opts.RecursionLimit = DefaultRecursionLimit
	}
	return &Router{opts: opts, runs: make(map[string]*run)}
}

// Invoke starts a run for req and returns its id. Events are published on
// ipc.StreamChannel(req.ThreadID). The run outlives ctx; use Cancel to stop it.
func (r *Router) Invoke(ctx context.Context, req InvokeRequest) (string, error) {
	return r.start(ctx, "invoke", req.ThreadID, req.ModelID, func(m models.Resolved) agent.Request {
		return agent.Request{Message: req.Message, Model: m}
	})
}

// Resume continues an interrupted thread with a decision.
func (r *Router) Resume(ctx context.Context, req ResumeRequest) (string, error) {
	if !types.ValidDecision(req.Decision.Type) {
		return "", fmt.Errorf("%w: %q", ErrInvalidDecision, req.Decision.Type)
	}
	return r.start(ctx, "resume", req.ThreadID, req.ModelID, func(m models.Resolved) agent.Request {
		return agent.Request{Command: &agent.Command{Resume: req.Decision}, Model: m}
	})
}

// Cancel stops the run of threadID. It publishes a single DoneEvent and
// frees the thread for a new run at once; events the run produces afterwards
// are dropped. Files already written by the run stay written.
func (r *Router) Cancel(threadID string) {
	r.mu.Lock()
	rn := r.runs[threadID]
	if rn != nil {
		delete(r.runs, threadID)
	}
	r.mu.Unlock()

	if rn == nil {
		return
	}

	rn.mu.Lock()
	rn.cancelled = true
	rn.mu.Unlock()

	rn.cancel()
	r.publish(rn, types.DoneEvent{})
	r.setStatus(threadID, types.ThreadStatusIdle)
	logging.Info("run cancelled", logging.Thread(threadID), logging.String("run_id", rn.id))
}

// Active reports whether threadID has a live run.
func (r *Router) Active(threadID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.runs[threadID]
	return ok
}

// Close cancels every run and rejects new ones. Call Wait to block until
// the run goroutines have exited.
func (r *Router) Close() {
	r.mu.Lock()
	r.closed = true
	ids := make([]string, 0, len(r.runs))
	for id := range r.runs {
		ids = append(ids, id)
	}
	r.mu.Unlock()

	for _, id := range ids {
		r.Cancel(id)
	}
}

// Wait blocks until every run goroutine has exited.
func (r *Router) Wait() {
	r.wg.Wait()
}

func (r *Router) start(ctx context.Context, kind, threadID, modelID string, build func(models.Resolved) agent.Request) (string, error) {
	if threadID == "" {
		return "", ErrMissingThreadID
	}

	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return "", ErrRouterClosed
	}
	if _, ok := r.runs[threadID]; ok {
		r.mu.Unlock()
		return "", ErrRunInProgress
	}
	runCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	rn := &run{id: uuid.NewString(), threadID: threadID, cancel: cancel}
	r.runs[threadID] = rn
	r.wg.Add(1)
	r.mu.Unlock()

	metrics.RunStarted(kind)
	logging.Info("run started",
		logging.Thread(threadID),
		logging.String("run_id", rn.id),
		logging.String("kind", kind))

	r.setStatus(threadID, types.ThreadStatusBusy)
	go r.drive(runCtx, rn, modelID, build)
	return rn.id, nil
}

func (r *Router) finish(rn *run) {
	r.release(rn)
	rn.cancel()
}

// release frees the thread of rn for a new run.
func (r *Router) release(rn *run) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.runs[rn.threadID] == rn {
		delete(r.runs, rn.threadID)
	}
}

func (r *Router) drive(ctx context.Context, rn *run, modelID string, build func(models.Resolved) agent.Request) {
	defer r.wg.Done()
	defer r.finish(rn)

	resolved, err := r.opts.Models.Resolve(modelID)
	if err != nil {
		r.fail(rn, err)
		return
	}

	req := build(resolved)
	req.ThreadID = rn.threadID
	req.RecursionLimit = r.opts.RecursionLimit
	if r.opts.Workspace != nil {
		req.WorkspacePath = r.opts.Workspace.WorkspacePath(rn.threadID)
	}

	s, err := r.opts.Runner.Start(ctx, req)
	if err != nil {
		if ctx.Err() != nil {
			return
		}
		r.fail(rn, err)
		return
	}
	defer s.Close()

	norm := newNormalizer()
	interrupted := false
	for {
		chunk, err := s.Next(ctx)
		if err != nil {
			switch {
			case ctx.Err() != nil:
				// Cancel already published the terminal event.
			case errors.Is(err, io.EOF):
				if r.publish(rn, types.DoneEvent{}) {
					status := types.ThreadStatusIdle
					if interrupted {
						status = types.ThreadStatusInterrupted
					}
					r.setStatus(rn.threadID, status)
				}
			default:
				r.fail(rn, err)
			}
			return
		}

		switch chunk.Mode {
		case agent.ModeMessages:
			for _, ev := range norm.chunk(chunk.Message) {
				r.publish(rn, ev)
			}
		case agent.ModeValues:
			if chunk.Values == nil {
				continue
			}
			ev := norm.values(chunk.Values)
			r.fillWorkspace(ctx, rn.threadID, chunk.Values, &ev)
			interrupted = ev.Interrupt != nil
			if r.publish(rn, ev) {
				r.saveSnapshot(rn.threadID, chunk.Values)
			}
		}
	}
}

// fail publishes a terminal error for rn.
func (r *Router) fail(rn *run, err error) {
	logging.Warn("run failed", logging.Thread(rn.threadID), logging.String("run_id", rn.id), logging.Err(err))
	if r.publish(rn, types.ErrorEvent{Message: err.Error()}) {
		r.setStatus(rn.threadID, types.ThreadStatusError)
	}
}

// publish sends ev on the thread channel. It reports false when the run
// already published its terminal event.
func (r *Router) publish(rn *run, ev types.StreamEvent) bool {
	rn.mu.Lock()
	defer rn.mu.Unlock()

	if rn.closed {
		return false
	}

	payload, err := types.MarshalStreamEvent(ev)
	if err != nil {
		logging.Error("failed to encode stream event", logging.Thread(rn.threadID), logging.Err(err))
		if !types.IsTerminal(ev) {
			return false
		}
		payload, _ = types.MarshalStreamEvent(types.ErrorEvent{Message: err.Error()})
	}
	if types.IsTerminal(ev) {
		// consumers may start the next run as soon as they see the terminal event
		r.release(rn)
	}
	r.opts.Bus.Send(ipc.StreamChannel(rn.threadID), payload)
	metrics.RecordStreamEvent(ev.Type())

	if types.IsTerminal(ev) {
		rn.closed = true
		outcome := OutcomeDone
		switch {
		case rn.cancelled:
			outcome = OutcomeCancelled
		case ev.Type() == types.EventError:
			outcome = OutcomeError
		}
		metrics.RunFinished(outcome)
		logging.Debug("run finished",
			logging.Thread(rn.threadID),
			logging.String("run_id", rn.id),
			logging.String("outcome", outcome))
	}
	return true
}

func (r *Router) fillWorkspace(ctx context.Context, threadID string, state *agent.State, ev *types.ValuesEvent) {
	if len(state.Files) > 0 {
		ev.Files = stateFiles(state.Files)
	}
	if r.opts.Workspace == nil {
		return
	}
	if ev.WorkspacePath == "" {
		ev.WorkspacePath = r.opts.Workspace.WorkspacePath(threadID)
	}
	if ev.Files == nil {
		files, err := r.opts.Workspace.Files(ctx, threadID)
		if err != nil {
			logging.Debug("workspace files unavailable", logging.Thread(threadID), logging.Err(err))
			return
		}
		ev.Files = files
	}
}

func (r *Router) saveSnapshot(threadID string, state *agent.State) {
	if r.opts.Recorder == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), recordTimeout)
	defer cancel()

	snap := types.Snapshot{
		ThreadID:  threadID,
		Messages:  state.Messages,
		Todos:     state.Todos,
		Subagents: state.Subagents,
		Interrupt: state.Interrupt,
		UpdatedAt: time.Now(),
	}
	if err := r.opts.Recorder.SaveSnapshot(ctx, snap); err != nil {
		logging.Warn("failed to save snapshot", logging.Thread(threadID), logging.Err(err))
	}
}

func (r *Router) setStatus(threadID, status string) {
	if r.opts.Recorder == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), recordTimeout)
	defer cancel()
	if err := r.opts.Recorder.SetStatus(ctx, threadID, status); err != nil {
		logging.Debug("failed to set thread status",
			logging.Thread(threadID),
			logging.String("status", status),
			logging.Err(err))
	}
}

func stateFiles(files map[string]agent.FileData) []types.FileEntry {
	entries := make([]types.FileEntry, 0, len(files))
	for p, f := range files {
		size := int64(len(f.Content))
		entries = append(entries, types.FileEntry{Path: p, Size: &size})
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].Path < entries[j].Path })
	return entries
}
