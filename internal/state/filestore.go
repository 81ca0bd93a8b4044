// Package state implements the checkpointed per-thread file store.
package state

import (
	"context"
	"fmt"
	"strings"

	"openwork/internal/backend"
	"openwork/internal/checkpoint"
	"openwork/internal/types"
)

// FileStore is the authoritative file tree of one thread, persisted in the
// checkpoint database. Directories are implicit: a directory exists while at
// least one file lies below it.
type FileStore struct {
	db       *checkpoint.DB
	threadID string
}

var _ backend.Store = (*FileStore)(nil)
var _ backend.Walker = (*FileStore)(nil)

// New returns the file store of threadID.
func New(db *checkpoint.DB, threadID string) *FileStore {
	return &FileStore{db: db, threadID: threadID}
}

func (s *FileStore) ioErr(op, p string, err error) error {
	return backend.NewError(op, p, backend.KindIO, err)
}

// lookup returns the file at p. A missing file under which other files exist
// reports KindIsDirectory.
func (s *FileStore) lookup(ctx context.Context, op, p string) (checkpoint.File, error) {
	f, ok, err := s.db.GetFile(ctx, s.threadID, p)
	if err != nil {
		return checkpoint.File{}, s.ioErr(op, p, err)
	}
	if ok {
		return f, nil
	}
	isDir, err := s.isDir(ctx, p)
	if err != nil {
		return checkpoint.File{}, s.ioErr(op, p, err)
	}
	if isDir {
		return checkpoint.File{}, backend.NewError(op, p, backend.KindIsDirectory, nil)
	}
	return checkpoint.File{}, backend.NewError(op, p, backend.KindNotFound, nil)
}

func (s *FileStore) isDir(ctx context.Context, p string) (bool, error) {
	if p == "/" {
		return true, nil
	}
	files, err := s.db.ListFiles(ctx, s.threadID)
	if err != nil {
		return false, err
	}
	for _, f := range files {
		if strings.HasPrefix(f.Path, p+"/") {
			return true, nil
		}
	}
	return false, nil
}

// fileAncestor returns the nearest ancestor of p stored as a file.
func (s *FileStore) fileAncestor(ctx context.Context, p string) (string, bool, error) {
	for dir := p[:strings.LastIndex(p, "/")]; dir != ""; dir = dir[:strings.LastIndex(dir, "/")] {
		_, ok, err := s.db.GetFile(ctx, s.threadID, dir)
		if err != nil || ok {
			return dir, ok, err
		}
	}
	return "", false, nil
}

// List returns the direct children of p. Intermediate directories are
// synthesized from file paths. A missing directory lists as empty.
func (s *FileStore) List(ctx context.Context, p string) ([]types.FileEntry, error) {
	p, err := backend.CleanPath("ls", p)
	if err != nil {
		return nil, err
	}
	files, err := s.db.ListFiles(ctx, s.threadID)
	if err != nil {
		return nil, s.ioErr("ls", p, err)
	}

	prefix := p + "/"
	if p == "/" {
		prefix = "/"
	}
	entries := []types.FileEntry{}
	dirs := make(map[string]struct{})
	for _, f := range files {
		if f.Path == p {
			return []types.FileEntry{fileEntry(f)}, nil
		}
		if !strings.HasPrefix(f.Path, prefix) {
			continue
		}
		rest := strings.TrimPrefix(f.Path, prefix)
		if i := strings.IndexByte(rest, '/'); i >= 0 {
			dir := prefix + rest[:i]
			if _, ok := dirs[dir]; !ok {
				dirs[dir] = struct{}{}
				entries = append(entries, types.FileEntry{Path: dir, IsDir: true})
			}
			continue
		}
		entries = append(entries, fileEntry(f))
	}
	return entries, nil
}

// Read returns lines [offset, offset+limit) of p, numbered.
func (s *FileStore) Read(ctx context.Context, p string, offset, limit int) (string, error) {
	p, err := backend.CleanPath("read", p)
	if err != nil {
		return "", err
	}
	f, err := s.lookup(ctx, "read", p)
	if err != nil {
		return "", err
	}
	return backend.NumberLines("read", p, string(f.Content), offset, limit)
}

// ReadRaw returns the stored bytes of p.
func (s *FileStore) ReadRaw(ctx context.Context, p string) ([]byte, error) {
	p, err := backend.CleanPath("read", p)
	if err != nil {
		return nil, err
	}
	f, err := s.lookup(ctx, "read", p)
	if err != nil {
		return nil, err
	}
	return f.Content, nil
}

// Write creates or replaces p.
func (s *FileStore) Write(ctx context.Context, p string, content []byte) error {
	p, err := backend.CleanPath("write", p)
	if err != nil {
		return err
	}
	if p == "/" {
		return backend.NewError("write", p, backend.KindIsDirectory, nil)
	}
	isDir, err := s.isDir(ctx, p)
	if err != nil {
		return s.ioErr("write", p, err)
	}
	if isDir {
		return backend.NewError("write", p, backend.KindIsDirectory, nil)
	}
	parent, isFile, err := s.fileAncestor(ctx, p)
	if err != nil {
		return s.ioErr("write", p, err)
	}
	if isFile {
		return backend.NewError("write", p, backend.KindInvalidPath, fmt.Errorf("%s is a file", parent))
	}
	if err := s.db.PutFile(ctx, s.threadID, p, content); err != nil {
		return s.ioErr("write", p, err)
	}
	return nil
}

// Edit replaces oldText in p.
func (s *FileStore) Edit(ctx context.Context, p, oldText, newText string, replaceAll bool) (int, error) {
	p, err := backend.CleanPath("edit", p)
	if err != nil {
		return 0, err
	}
	f, err := s.lookup(ctx, "edit", p)
	if err != nil {
		return 0, err
	}
	updated, n, err := backend.ReplaceText("edit", p, string(f.Content), oldText, newText, replaceAll)
	if err != nil {
		return 0, err
	}
	if err := s.db.PutFile(ctx, s.threadID, p, []byte(updated)); err != nil {
		return 0, s.ioErr("edit", p, err)
	}
	return n, nil
}

// Grep searches files under p whose path matches glob.
func (s *FileStore) Grep(ctx context.Context, pattern, p, glob string) ([]types.GrepMatch, error) {
	p, err := backend.CleanPath("grep", p)
	if err != nil {
		return nil, err
	}
	re, err := backend.CompilePattern("grep", pattern)
	if err != nil {
		return nil, err
	}
	if err := backend.ValidateGlob("grep", glob); err != nil {
		return nil, err
	}
	files, err := s.db.Files(ctx, s.threadID)
	if err != nil {
		return nil, s.ioErr("grep", p, err)
	}

	matches := []types.GrepMatch{}
	for _, f := range files {
		if !backend.IsUnder(f.Path, p) || !backend.MatchGlob(glob, p, f.Path) {
			continue
		}
		matches = append(matches, backend.GrepContent(re, f.Path, f.Content)...)
	}
	return matches, nil
}

// Glob returns files under p matching pattern.
func (s *FileStore) Glob(ctx context.Context, pattern, p string) ([]types.FileEntry, error) {
	p, err := backend.CleanPath("glob", p)
	if err != nil {
		return nil, err
	}
	if err := backend.ValidateGlob("glob", pattern); err != nil {
		return nil, err
	}
	files, err := s.db.ListFiles(ctx, s.threadID)
	if err != nil {
		return nil, s.ioErr("glob", p, err)
	}

	entries := []types.FileEntry{}
	for _, f := range files {
		if backend.IsUnder(f.Path, p) && backend.MatchGlob(pattern, p, f.Path) {
			entries = append(entries, fileEntry(f))
		}
	}
	return entries, nil
}

// Upload writes each file independently.
func (s *FileStore) Upload(ctx context.Context, files []backend.FileUpload) []backend.UploadResult {
	results := make([]backend.UploadResult, len(files))
	for i, f := range files {
		results[i] = backend.UploadResult{Path: f.Path, Err: s.Write(ctx, f.Path, f.Content)}
	}
	return results
}

// Download reads each path independently.
func (s *FileStore) Download(ctx context.Context, paths []string) []backend.DownloadResult {
	results := make([]backend.DownloadResult, len(paths))
	for i, p := range paths {
		data, err := s.ReadRaw(ctx, p)
		results[i] = backend.DownloadResult{Path: p, Content: data, Err: err}
	}
	return results
}

// Walk calls fn for every file of the thread in path order.
func (s *FileStore) Walk(ctx context.Context, fn func(path string) error) error {
	files, err := s.db.ListFiles(ctx, s.threadID)
	if err != nil {
		return fmt.Errorf("list files of %s: %w", s.threadID, err)
	}
	for _, f := range files {
		if err := fn(f.Path); err != nil {
			return err
		}
	}
	return nil
}

func fileEntry(f checkpoint.File) types.FileEntry {
	size := f.Size
	mod := f.ModifiedAt
	return types.FileEntry{Path: f.Path, Size: &size, ModifiedAt: &mod}
}
