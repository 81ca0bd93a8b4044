// Package backend implements the workspace file API the agent works against.
//
// A Store is one rooted file tree addressed by virtual paths ("/src/main.go").
// The state store (package state) is the checkpointed, authoritative copy of a
// thread's files; the disk store (package disk) is an optional mirror of a
// real directory. SyncedBackend composes the two.
package backend

import (
	"context"

	"openwork/internal/types"
)

// DefaultReadLimit is the number of lines Read returns when limit is <= 0.
const DefaultReadLimit = 2000

// Store is the operation set shared by the state store and the disk mirror.
//
// Read returns line-numbered text; ReadRaw returns the stored bytes. All
// failures are *PathError values carrying an ErrorKind.
type Store interface {
	List(ctx context.Context, path string) ([]types.FileEntry, error)
	Read(ctx context.Context, path string, offset, limit int) (string, error)
	ReadRaw(ctx context.Context, path string) ([]byte, error)
	Write(ctx context.Context, path string, content []byte) error
	// Edit replaces oldText with newText and returns the number of
	// replacements. Without replaceAll, oldText must occur exactly once.
	Edit(ctx context.Context, path, oldText, newText string, replaceAll bool) (int, error)
	// Grep searches file contents for a regular expression. An empty glob
	// matches every file under path.
	Grep(ctx context.Context, pattern, path, glob string) ([]types.GrepMatch, error)
	Glob(ctx context.Context, pattern, path string) ([]types.FileEntry, error)
	Upload(ctx context.Context, files []FileUpload) []UploadResult
	Download(ctx context.Context, paths []string) []DownloadResult
}

// FileUpload is one file of a bulk upload.
type FileUpload struct {
	Path    string `json:"path"`
	Content []byte `json:"content"`
}

// UploadResult reports the outcome of one upload.
type UploadResult struct {
	Path string `json:"path"`
	Err  error  `json:"-"`
}

// DownloadResult reports the outcome of one download.
type DownloadResult struct {
	Path    string `json:"path"`
	Content []byte `json:"content,omitempty"`
	Err     error  `json:"-"`
}

// Walker is implemented by stores that can enumerate every file they hold.
type Walker interface {
	Walk(ctx context.Context, fn func(path string) error) error
}
