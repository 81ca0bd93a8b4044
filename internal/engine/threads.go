package engine

import (
	"context"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"

	"openwork/internal/checkpoint"
	"openwork/internal/logging"
	"openwork/internal/types"
)

// maxTitleLength is the title length generated from a first message.
const maxTitleLength = 50

// TitleFromMessage derives a thread title from the first user message.
func TitleFromMessage(message string) string {
	title := strings.Join(strings.Fields(message), " ")
	if utf8.RuneCountInString(title) <= maxTitleLength {
		return title
	}
	runes := []rune(title)
	return strings.TrimSpace(string(runes[:maxTitleLength]))
}

// CreateThread starts a new thread. An empty model uses the default model.
func (e *Engine) CreateThread(ctx context.Context, meta types.ThreadMetadata) (*types.Thread, error) {
	if meta.Model == "" {
		meta.Model = e.models.Default()
	}
	now := time.Now()
	t := types.Thread{
		ID:        uuid.New().String(),
		Status:    types.ThreadStatusIdle,
		Metadata:  meta,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := e.db.CreateThread(ctx, t); err != nil {
		return nil, err
	}
	if meta.WorkspacePath != "" {
		if _, err := e.BindWorkspace(ctx, t.ID, meta.WorkspacePath); err != nil {
			logging.Warn("failed to bind workspace of new thread", logging.Thread(t.ID), logging.Err(err))
		}
	}
	logging.Info("thread created", logging.Thread(t.ID))
	return e.db.GetThread(ctx, t.ID)
}

// ListThreads returns every thread, most recently updated first.
func (e *Engine) ListThreads(ctx context.Context) ([]types.Thread, error) {
	return e.db.ListThreads(ctx)
}

// GetThread returns one thread.
func (e *Engine) GetThread(ctx context.Context, id string) (*types.Thread, error) {
	return e.db.GetThread(ctx, id)
}

// RenameThread sets the title of a thread.
func (e *Engine) RenameThread(ctx context.Context, id, title string) (*types.Thread, error) {
	title = strings.TrimSpace(title)
	return e.db.UpdateThread(ctx, id, checkpoint.ThreadUpdate{Title: &title})
}

// SetThreadModel changes the model used by future runs of a thread.
func (e *Engine) SetThreadModel(ctx context.Context, id, modelID string) (*types.Thread, error) {
	t, err := e.db.GetThread(ctx, id)
	if err != nil {
		return nil, err
	}
	meta := t.Metadata
	meta.Model = modelID
	return e.db.UpdateThread(ctx, id, checkpoint.ThreadUpdate{Metadata: &meta})
}

// DeleteThread stops its run, releases its workspace and removes the thread
// with its file state.
func (e *Engine) DeleteThread(ctx context.Context, id string) error {
	e.router.Cancel(id)
	e.bindings.Unbind(id)
	if err := e.db.DeleteThread(ctx, id); err != nil {
		return err
	}
	logging.Info("thread deleted", logging.Thread(id))
	return nil
}

// ThreadHistory returns the last persisted snapshot of a thread, or an
// empty one when the thread never ran.
func (e *Engine) ThreadHistory(ctx context.Context, id string) (*types.Snapshot, error) {
	if _, err := e.db.GetThread(ctx, id); err != nil {
		return nil, err
	}
	snap, err := e.db.LoadSnapshot(ctx, id)
	if err != nil {
		return nil, err
	}
	if snap == nil {
		snap = &types.Snapshot{ThreadID: id, Messages: []types.Message{}}
	}
	return snap, nil
}
