package main

import (
	"openwork/internal/types"
)

// =============================================================================
// THREAD METHODS (Bound to frontend)
// =============================================================================

// CreateThread starts a new thread. An empty model uses the default model and
// a non-empty workspacePath binds that folder.
func (a *App) CreateThread(meta types.ThreadMetadata) (*types.Thread, error) {
	e, err := a.requireEngine()
	if err != nil {
		return nil, err
	}
	return e.CreateThread(a.ctx, meta)
}

// ListThreads returns every thread, most recently updated first.
func (a *App) ListThreads() ([]types.Thread, error) {
	e, err := a.requireEngine()
	if err != nil {
		return nil, err
	}
	return e.ListThreads(a.ctx)
}

// GetThread returns one thread.
func (a *App) GetThread(threadID string) (*types.Thread, error) {
	e, err := a.requireEngine()
	if err != nil {
		return nil, err
	}
	return e.GetThread(a.ctx, threadID)
}

// RenameThread sets a thread title.
func (a *App) RenameThread(threadID, title string) (*types.Thread, error) {
	e, err := a.requireEngine()
	if err != nil {
		return nil, err
	}
	return e.RenameThread(a.ctx, threadID, title)
}

// SetThreadModel changes the model of a thread.
func (a *App) SetThreadModel(threadID, modelID string) (*types.Thread, error) {
	e, err := a.requireEngine()
	if err != nil {
		return nil, err
	}
	return e.SetThreadModel(a.ctx, threadID, modelID)
}

// DeleteThread removes a thread and its files. The bound folder on disk is
// left alone.
func (a *App) DeleteThread(threadID string) error {
	e, err := a.requireEngine()
	if err != nil {
		return err
	}
	return e.DeleteThread(a.ctx, threadID)
}

// GetThreadHistory returns the last saved conversation of a thread.
func (a *App) GetThreadHistory(threadID string) (*types.Snapshot, error) {
	e, err := a.requireEngine()
	if err != nil {
		return nil, err
	}
	return e.ThreadHistory(a.ctx, threadID)
}
