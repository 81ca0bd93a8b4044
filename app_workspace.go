package main

import (
	"openwork/internal/backend"
	"openwork/internal/engine"
	"openwork/internal/types"
	"openwork/internal/workspace"
)

// =============================================================================
// WORKSPACE METHODS (Bound to frontend)
// =============================================================================

// SelectWorkspaceFolder opens the folder picker and binds the chosen folder
// to a thread. A cancelled picker returns nil.
func (a *App) SelectWorkspaceFolder(threadID string) (*engine.BindResult, error) {
	e, err := a.requireEngine()
	if err != nil {
		return nil, err
	}
	dir, err := a.SelectDirectory("Select workspace folder")
	if err != nil || dir == "" {
		return nil, err
	}
	return e.BindWorkspace(a.ctx, threadID, dir)
}

// BindWorkspace binds dir to a thread.
func (a *App) BindWorkspace(threadID, dir string) (*engine.BindResult, error) {
	e, err := a.requireEngine()
	if err != nil {
		return nil, err
	}
	return e.BindWorkspace(a.ctx, threadID, dir)
}

// UnbindWorkspace releases the folder of a thread.
func (a *App) UnbindWorkspace(threadID string) error {
	e, err := a.requireEngine()
	if err != nil {
		return err
	}
	return e.UnbindWorkspace(a.ctx, threadID)
}

// SyncWorkspace loads disk files missing from the thread state.
func (a *App) SyncWorkspace(threadID string) (backend.SyncReport, error) {
	e, err := a.requireEngine()
	if err != nil {
		return backend.SyncReport{}, err
	}
	return e.SyncFromDisk(a.ctx, threadID)
}

// GetWorkspacePath returns the folder bound to a thread, or "".
func (a *App) GetWorkspacePath(threadID string) string {
	if a.engine == nil {
		return ""
	}
	return a.engine.WorkspacePath(threadID)
}

// GetRecentWorkspaces lists recently bound folders.
func (a *App) GetRecentWorkspaces() []workspace.RecentFolder {
	if a.engine == nil {
		return nil
	}
	return a.engine.RecentWorkspaces()
}

// =============================================================================
// FILE METHODS (Bound to frontend)
// =============================================================================

// ListWorkspaceFiles lists every file of a thread.
func (a *App) ListWorkspaceFiles(threadID string) ([]types.FileEntry, error) {
	e, err := a.requireEngine()
	if err != nil {
		return nil, err
	}
	return e.Files(a.ctx, threadID)
}

// ReadWorkspaceFile returns the content of a thread file.
func (a *App) ReadWorkspaceFile(threadID, path string) (string, error) {
	e, err := a.requireEngine()
	if err != nil {
		return "", err
	}
	return e.ReadFile(a.ctx, threadID, path)
}

// WriteWorkspaceFile saves a file edited in the file viewer.
func (a *App) WriteWorkspaceFile(threadID, path, content string) error {
	e, err := a.requireEngine()
	if err != nil {
		return err
	}
	if err := e.WriteFile(a.ctx, threadID, path, content); err != nil {
		return err
	}
	a.emitFilesChanged(threadID, []string{path})
	return nil
}
