package engine

import (
	"context"
	"os"

	"openwork/internal/backend"
	"openwork/internal/checkpoint"
	"openwork/internal/types"
	"openwork/internal/workspace"
)

// BindResult reports a workspace bind.
type BindResult struct {
	Path string              `json:"path"`
	Sync *backend.SyncReport `json:"sync,omitempty"`
}

// BindWorkspace binds dir to a thread, records it on the thread and, when
// the setting is on, loads the folder's files into the thread state.
func (e *Engine) BindWorkspace(ctx context.Context, threadID, dir string) (*BindResult, error) {
	t, err := e.db.GetThread(ctx, threadID)
	if err != nil {
		return nil, err
	}

	binding, err := e.bindings.Bind(threadID, dir)
	if err != nil {
		return nil, err
	}

	meta := t.Metadata
	meta.WorkspacePath = binding.Path
	if _, err := e.db.UpdateThread(ctx, threadID, checkpoint.ThreadUpdate{Metadata: &meta}); err != nil {
		e.bindings.Unbind(threadID)
		return nil, err
	}
	e.recent.Touch(binding.Path)

	result := &BindResult{Path: binding.Path}
	if e.settings.GetSettings().SyncOnBind {
		report, err := e.SyncFromDisk(ctx, threadID)
		if err != nil {
			return nil, err
		}
		result.Sync = &report
	}
	return result, nil
}

// UnbindWorkspace releases the folder of a thread. The thread keeps its
// file state.
func (e *Engine) UnbindWorkspace(ctx context.Context, threadID string) error {
	t, err := e.db.GetThread(ctx, threadID)
	if err != nil {
		return err
	}
	e.bindings.Unbind(threadID)

	meta := t.Metadata
	meta.WorkspacePath = ""
	_, err = e.db.UpdateThread(ctx, threadID, checkpoint.ThreadUpdate{Metadata: &meta})
	return err
}

// SyncFromDisk loads every disk file missing from the thread state.
func (e *Engine) SyncFromDisk(ctx context.Context, threadID string) (backend.SyncReport, error) {
	b, err := e.Backend(ctx, threadID)
	if err != nil {
		return backend.SyncReport{}, err
	}
	return b.SyncFromDisk(ctx)
}

// Files lists every file of a thread, state and disk merged.
func (e *Engine) Files(ctx context.Context, threadID string) ([]types.FileEntry, error) {
	b, err := e.Backend(ctx, threadID)
	if err != nil {
		return nil, err
	}
	entries, err := b.Glob(ctx, "**", "/")
	if err != nil {
		return nil, err
	}
	files := entries[:0]
	for _, fe := range entries {
		if !fe.IsDir {
			files = append(files, fe)
		}
	}
	return files, nil
}

// WorkspacePath returns the folder bound to a thread, or "".
func (e *Engine) WorkspacePath(threadID string) string {
	if p := e.bindings.Path(threadID); p != "" {
		return p
	}
	t, err := e.db.GetThread(context.Background(), threadID)
	if err != nil {
		return ""
	}
	return t.Metadata.WorkspacePath
}

// ReadFile returns the raw content of a thread file.
func (e *Engine) ReadFile(ctx context.Context, threadID, path string) (string, error) {
	b, err := e.Backend(ctx, threadID)
	if err != nil {
		return "", err
	}
	data, err := b.ReadRaw(ctx, path)
	if err != nil {
		return "", err
	}
	return string(data), nil
}

// WriteFile writes a thread file from the editor.
func (e *Engine) WriteFile(ctx context.Context, threadID, path, content string) error {
	b, err := e.Backend(ctx, threadID)
	if err != nil {
		return err
	}
	return b.Write(ctx, path, []byte(content))
}

// RecentWorkspaces lists recently bound folders that still exist.
func (e *Engine) RecentWorkspaces() []workspace.RecentFolder {
	var out []workspace.RecentFolder
	for _, r := range e.recent.Recent() {
		if info, err := os.Stat(r.Path); err == nil && info.IsDir() {
			out = append(out, r)
		}
	}
	return out
}
