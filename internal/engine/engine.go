// Package engine owns the long-lived pieces of OpenWork: the checkpoint
// database, settings, the run router, the event bus and the workspace
// bindings. The desktop app and the daemon both build on one Engine.
package engine

import (
	"context"
	"errors"
	"fmt"

	"openwork/internal/agent"
	"openwork/internal/backend"
	"openwork/internal/checkpoint"
	"openwork/internal/config"
	"openwork/internal/ipc"
	"openwork/internal/logging"
	"openwork/internal/models"
	"openwork/internal/settings"
	"openwork/internal/state"
	"openwork/internal/stream"
	"openwork/internal/transport"
	"openwork/internal/types"
	"openwork/internal/workspace"
)

// Options configures an Engine.
type Options struct {
	// ConfigDir holds settings, credentials and the recent folder list.
	ConfigDir string
	Config    *config.Config
	// Runner overrides the agent process runner.
	Runner agent.Runner
	// OnFilesChanged receives workspace change notifications.
	OnFilesChanged workspace.ChangeFunc
}

// Engine is the application context object.
type Engine struct {
	cfg       *config.Config
	db        *checkpoint.DB
	settings  *settings.Manager
	models    *models.Service
	bus       *ipc.Bus
	runner    agent.Runner
	router    *stream.Router
	transport *transport.Transport
	bindings  *workspace.Bindings
	recent    *workspace.RecentRegistry
}

// New opens the database and wires every service.
func New(opts Options) (*Engine, error) {
	cfg := opts.Config
	if cfg == nil {
		cfg = config.DefaultConfig(opts.ConfigDir)
	}

	sm, err := settings.NewManagerAt(opts.ConfigDir)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize settings: %w", err)
	}

	db, err := checkpoint.Open(cfg.Database.Path)
	if err != nil {
		return nil, err
	}

	recent := workspace.NewRecentRegistry(opts.ConfigDir)
	if err := recent.Load(); err != nil {
		logging.Warn("failed to load recent workspaces", logging.Err(err))
	}

	runner := opts.Runner
	if runner == nil {
		runner = agent.NewProcessRunner(cfg.Agent)
	}

	e := &Engine{
		cfg:      cfg,
		db:       db,
		settings: sm,
		models:   models.NewService(sm),
		bus:      ipc.New(),
		runner:   runner,
		bindings: workspace.NewBindings(cfg.DebounceDuration(), opts.OnFilesChanged),
		recent:   recent,
	}
	e.router = stream.NewRouter(stream.Options{
		Runner:    runner,
		Bus:       e.bus,
		Models:    e.models,
		Recorder:  db,
		Workspace: e,
	})
	e.transport = transport.New(e.bus, e.router)
	return e, nil
}

// Close cancels every run, releases the workspaces and closes the database.
func (e *Engine) Close() error {
	e.router.Close()
	e.router.Wait()
	e.bindings.Close()
	e.bus.Close()
	return e.db.Close()
}

func (e *Engine) Config() *config.Config { return e.cfg }
func (e *Engine) DB() *checkpoint.DB { return e.db }
func (e *Engine) Settings() *settings.Manager { return e.settings }
func (e *Engine) Models() *models.Service { return e.models }
func (e *Engine) Bus() *ipc.Bus { return e.bus }
func (e *Engine) Runner() agent.Runner { return e.runner }
func (e *Engine) Router() *stream.Router { return e.router }
func (e *Engine) Recent() *workspace.RecentRegistry { return e.recent }
func (e *Engine) Transport() *transport.Transport { return e.transport }

// SetMCPURL hands the workspace tool server URL to the process runner.
func (e *Engine) SetMCPURL(url string) {
	if pr, ok := e.runner.(*agent.ProcessRunner); ok {
		pr.SetMCPURL(url)
	}
}

// Stream sends a message (or a resume decision) and returns the UI events
// of the run. The thread gets a title from its first message and the model
// defaults to the one stored on the thread.
func (e *Engine) Stream(ctx context.Context, p transport.Payload) <-chan transport.UIEvent {
	if p.ThreadID != "" {
		t, err := e.db.GetThread(ctx, p.ThreadID)
		switch {
		case err == nil:
			if p.ModelID == "" {
				p.ModelID = t.Metadata.Model
			}
			if t.Title == "" && p.Message != "" {
				title := TitleFromMessage(p.Message)
				if _, err := e.db.UpdateThread(ctx, t.ID, checkpoint.ThreadUpdate{Title: &title}); err != nil {
					logging.Warn("failed to set thread title", logging.Thread(t.ID), logging.Err(err))
				}
			}
			if _, err := e.ensureBound(ctx, t); err != nil {
				logging.Warn("workspace unavailable", logging.Thread(t.ID), logging.Err(err))
			}
		case !errors.Is(err, checkpoint.ErrThreadNotFound):
			logging.Warn("failed to load thread", logging.Thread(p.ThreadID), logging.Err(err))
		}
	}
	return e.transport.Stream(ctx, p)
}

// Cancel stops the run of threadID.
func (e *Engine) Cancel(threadID string) {
	e.router.Cancel(threadID)
}

// Backend returns the workspace backend of threadID. The thread's folder is
// reopened if it was bound in an earlier session.
func (e *Engine) Backend(ctx context.Context, threadID string) (*backend.SyncedBackend, error) {
	t, err := e.db.GetThread(ctx, threadID)
	if err != nil {
		return nil, err
	}
	binding, err := e.ensureBound(ctx, t)
	if err != nil {
		logging.Warn("workspace unavailable, using thread state only", logging.Thread(threadID), logging.Err(err))
	}

	var disk backend.Store
	if binding != nil {
		disk = binding.Disk
	}
	return backend.NewSynced(threadID, state.New(e.db, threadID), disk), nil
}

// ensureBound reopens the folder recorded on t. It returns nil when the
// thread has no folder.
func (e *Engine) ensureBound(_ context.Context, t *types.Thread) (*workspace.Binding, error) {
	if b, ok := e.bindings.Get(t.ID); ok {
		return b, nil
	}
	if t.Metadata.WorkspacePath == "" {
		return nil, nil
	}
	return e.bindings.Bind(t.ID, t.Metadata.WorkspacePath)
}
