// Package checkpoint persists threads, their checkpointed files and the latest
// agent snapshot in a single SQLite database.
package checkpoint

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"

	"openwork/internal/types"
)

// ErrThreadNotFound is returned when a thread id has no row.
var ErrThreadNotFound = errors.New("thread not found")

// DB handles SQLite persistence for threads and their file state.
type DB struct {
	db   *sql.DB
	path string
}

// Open opens or creates a SQLite database at the given path.
// Use ":memory:" for a private in-memory database.
func Open(dbPath string) (*DB, error) {
	if dbPath != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
			return nil, fmt.Errorf("failed to create checkpoint directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open checkpoint database: %w", err)
	}
	// One connection serializes writers and keeps ":memory:" databases shared.
	db.SetMaxOpenConns(1)

	if err := createSchema(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create schema: %w", err)
	}

	return &DB{db: db, path: dbPath}, nil
}

func createSchema(db *sql.DB) error {
	schema := `
		CREATE TABLE IF NOT EXISTS threads (
			id TEXT PRIMARY KEY,
			title TEXT NOT NULL DEFAULT '',
			status TEXT NOT NULL DEFAULT 'idle',
			metadata TEXT NOT NULL DEFAULT '{}',
			created_at INTEGER NOT NULL,
			updated_at INTEGER NOT NULL
		);
		CREATE TABLE IF NOT EXISTS files (
			thread_id TEXT NOT NULL,
			path TEXT NOT NULL,
			content BLOB NOT NULL,
			size INTEGER NOT NULL,
			modified_at INTEGER NOT NULL,
			PRIMARY KEY (thread_id, path)
		);
		CREATE TABLE IF NOT EXISTS snapshots (
			thread_id TEXT PRIMARY KEY,
			data TEXT NOT NULL,
			updated_at INTEGER NOT NULL
		);
		CREATE INDEX IF NOT EXISTS idx_threads_updated ON threads(updated_at);
	`
	_, err := db.Exec(schema)
	return err
}

// Path returns the database location.
func (d *DB) Path() string {
	return d.path
}

// Close closes the database connection.
func (d *DB) Close() error {
	if d.db != nil {
		return d.db.Close()
	}
	return nil
}

// =============================================================================
// THREADS
// =============================================================================

// CreateThread inserts a new thread.
func (d *DB) CreateThread(ctx context.Context, t types.Thread) error {
	meta, err := json.Marshal(t.Metadata)
	if err != nil {
		return fmt.Errorf("encode thread metadata: %w", err)
	}
	if t.Status == "" {
		t.Status = types.ThreadStatusIdle
	}
	_, err = d.db.ExecContext(ctx, `
		INSERT INTO threads (id, title, status, metadata, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?)
	`, t.ID, t.Title, t.Status, string(meta), t.CreatedAt.UnixMilli(), t.UpdatedAt.UnixMilli())
	if err != nil {
		return fmt.Errorf("insert thread %s: %w", t.ID, err)
	}
	return nil
}

// GetThread returns a thread by id.
func (d *DB) GetThread(ctx context.Context, id string) (*types.Thread, error) {
	row := d.db.QueryRowContext(ctx, `
		SELECT id, title, status, metadata, created_at, updated_at
		FROM threads WHERE id = ?
	`, id)
	t, err := scanThread(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrThreadNotFound
	}
	if err != nil {
		return nil, err
	}
	return t, nil
}

// ListThreads returns all threads, most recently updated first.
func (d *DB) ListThreads(ctx context.Context) ([]types.Thread, error) {
	rows, err := d.db.QueryContext(ctx, `
		SELECT id, title, status, metadata, created_at, updated_at
		FROM threads ORDER BY updated_at DESC
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	threads := []types.Thread{}
	for rows.Next() {
		t, err := scanThread(rows)
		if err != nil {
			return nil, err
		}
		threads = append(threads, *t)
	}
	return threads, rows.Err()
}

// ThreadUpdate lists the fields to change. Nil fields are left as they are.
type ThreadUpdate struct {
	Title    *string
	Status   *string
	Metadata *types.ThreadMetadata
}

// UpdateThread applies u and bumps updated_at.
func (d *DB) UpdateThread(ctx context.Context, id string, u ThreadUpdate) (*types.Thread, error) {
	t, err := d.GetThread(ctx, id)
	if err != nil {
		return nil, err
	}
	if u.Title != nil {
		t.Title = *u.Title
	}
	if u.Status != nil {
		t.Status = *u.Status
	}
	if u.Metadata != nil {
		t.Metadata = *u.Metadata
	}
	t.UpdatedAt = time.Now()

	meta, err := json.Marshal(t.Metadata)
	if err != nil {
		return nil, fmt.Errorf("encode thread metadata: %w", err)
	}
	_, err = d.db.ExecContext(ctx, `
		UPDATE threads SET title = ?, status = ?, metadata = ?, updated_at = ? WHERE id = ?
	`, t.Title, t.Status, string(meta), t.UpdatedAt.UnixMilli(), id)
	if err != nil {
		return nil, fmt.Errorf("update thread %s: %w", id, err)
	}
	return t, nil
}

// SetStatus changes only the status of a thread.
func (d *DB) SetStatus(ctx context.Context, id, status string) error {
	_, err := d.UpdateThread(ctx, id, ThreadUpdate{Status: &status})
	return err
}

// DeleteThread removes a thread together with its files and snapshot.
func (d *DB) DeleteThread(ctx context.Context, id string) error {
	tx, err := d.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx, `DELETE FROM threads WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("delete thread %s: %w", id, err)
	}
	if affected, _ := res.RowsAffected(); affected == 0 {
		return ErrThreadNotFound
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM files WHERE thread_id = ?`, id); err != nil {
		return fmt.Errorf("delete files of %s: %w", id, err)
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM snapshots WHERE thread_id = ?`, id); err != nil {
		return fmt.Errorf("delete snapshot of %s: %w", id, err)
	}
	return tx.Commit()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanThread(row rowScanner) (*types.Thread, error) {
	var (
		t                types.Thread
		meta             string
		created, updated int64
	)
	if err := row.Scan(&t.ID, &t.Title, &t.Status, &meta, &created, &updated); err != nil {
		return nil, err
	}
	if meta != "" {
		if err := json.Unmarshal([]byte(meta), &t.Metadata); err != nil {
			return nil, fmt.Errorf("decode metadata of %s: %w", t.ID, err)
		}
	}
	t.CreatedAt = time.UnixMilli(created)
	t.UpdatedAt = time.UnixMilli(updated)
	return &t, nil
}

// =============================================================================
// FILES
// =============================================================================

// File is one checkpointed file of a thread.
type File struct {
	Path       string
	Content    []byte
	Size       int64
	ModifiedAt time.Time
}

// GetFile returns a file, or ok=false when the thread has no such path.
func (d *DB) GetFile(ctx context.Context, threadID, path string) (f File, ok bool, err error) {
	var modified int64
	err = d.db.QueryRowContext(ctx, `
		SELECT path, content, size, modified_at FROM files WHERE thread_id = ? AND path = ?
	`, threadID, path).Scan(&f.Path, &f.Content, &f.Size, &modified)
	if errors.Is(err, sql.ErrNoRows) {
		return File{}, false, nil
	}
	if err != nil {
		return File{}, false, err
	}
	f.ModifiedAt = time.UnixMilli(modified)
	return f, true, nil
}

// PutFile inserts or replaces a file.
func (d *DB) PutFile(ctx context.Context, threadID, path string, content []byte) error {
	if content == nil {
		content = []byte{}
	}
	_, err := d.db.ExecContext(ctx, `
		INSERT INTO files (thread_id, path, content, size, modified_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(thread_id, path) DO UPDATE SET
			content = excluded.content,
			size = excluded.size,
			modified_at = excluded.modified_at
	`, threadID, path, content, len(content), time.Now().UnixMilli())
	return err
}

// ListFiles returns file metadata of a thread ordered by path. Content is
// left empty.
func (d *DB) ListFiles(ctx context.Context, threadID string) ([]File, error) {
	return d.queryFiles(ctx, `
		SELECT path, NULL, size, modified_at FROM files WHERE thread_id = ? ORDER BY path
	`, threadID)
}

// Files returns every file of a thread with content, ordered by path.
func (d *DB) Files(ctx context.Context, threadID string) ([]File, error) {
	return d.queryFiles(ctx, `
		SELECT path, content, size, modified_at FROM files WHERE thread_id = ? ORDER BY path
	`, threadID)
}

func (d *DB) queryFiles(ctx context.Context, query, threadID string) ([]File, error) {
	rows, err := d.db.QueryContext(ctx, query, threadID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var files []File
	for rows.Next() {
		var (
			f        File
			modified int64
		)
		if err := rows.Scan(&f.Path, &f.Content, &f.Size, &modified); err != nil {
			return nil, err
		}
		f.ModifiedAt = time.UnixMilli(modified)
		files = append(files, f)
	}
	return files, rows.Err()
}

// =============================================================================
// SNAPSHOTS
// =============================================================================

// SaveSnapshot replaces the stored snapshot of a thread.
func (d *DB) SaveSnapshot(ctx context.Context, snap types.Snapshot) error {
	if snap.UpdatedAt.IsZero() {
		snap.UpdatedAt = time.Now()
	}
	data, err := json.Marshal(snap)
	if err != nil {
		return fmt.Errorf("encode snapshot: %w", err)
	}
	_, err = d.db.ExecContext(ctx, `
		INSERT INTO snapshots (thread_id, data, updated_at) VALUES (?, ?, ?)
		ON CONFLICT(thread_id) DO UPDATE SET data = excluded.data, updated_at = excluded.updated_at
	`, snap.ThreadID, string(data), snap.UpdatedAt.UnixMilli())
	return err
}

// LoadSnapshot returns the stored snapshot, or nil when the thread has none.
func (d *DB) LoadSnapshot(ctx context.Context, threadID string) (*types.Snapshot, error) {
	var data string
	err := d.db.QueryRowContext(ctx, `SELECT data FROM snapshots WHERE thread_id = ?`, threadID).Scan(&data)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var snap types.Snapshot
	if err := json.Unmarshal([]byte(data), &snap); err != nil {
		return nil, fmt.Errorf("decode snapshot of %s: %w", threadID, err)
	}
	return &snap, nil
}
