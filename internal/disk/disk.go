// Package disk implements the workspace mirror on the real filesystem.
package disk

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"openwork/internal/backend"
	"openwork/internal/types"
)

// Maximum size of a file searched by Grep (10MB)
const maxGrepFileSize = 10 * 1024 * 1024

// Default ignore patterns for tree walks (Grep, Glob, Walk)
var defaultIgnorePatterns = []string{
	"node_modules",
	".git",
	".venv",
	"__pycache__",
	".next",
	".DS_Store",
	".idea",
	".vscode",
	"coverage",
	".pytest_cache",
	".mypy_cache",
	"*.egg-info",
	".tox",
	".ruff_cache",
}

// Store is a directory on disk addressed by virtual paths: "/" maps to the
// root and "/a/b.txt" to root/a/b.txt. Operations never touch anything that
// resolves outside the root, including through symlinks.
//
// Store does not lock files; concurrent external edits are visible as they happen.
type Store struct {
	root string
}

var _ backend.Store = (*Store)(nil)
var _ backend.Walker = (*Store)(nil)

// Open returns a store rooted at dir, which must be an existing directory.
func Open(dir string) (*Store, error) {
	abs, err := filepath.Abs(dir)
	if err != nil {
		return nil, fmt.Errorf("resolve workspace %s: %w", dir, err)
	}
	root, err := filepath.EvalSymlinks(abs)
	if err != nil {
		return nil, fmt.Errorf("resolve workspace %s: %w", dir, err)
	}
	info, err := os.Stat(root)
	if err != nil {
		return nil, fmt.Errorf("stat workspace %s: %w", dir, err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("workspace %s is not a directory", dir)
	}
	return &Store{root: root}, nil
}

// Root returns the resolved OS path of the workspace.
func (s *Store) Root() string {
	return s.root
}

// =============================================================================
// PATH RESOLUTION
// =============================================================================

// resolve maps a virtual path to an OS path inside the root.
func (s *Store) resolve(op, p string) (virt, real string, err error) {
	virt, err = backend.CleanPath(op, p)
	if err != nil {
		return "", "", err
	}
	real = filepath.Join(s.root, filepath.FromSlash(virt))
	resolved, err := evalExisting(real)
	if err != nil {
		return "", "", backend.NewError(op, virt, backend.KindIO, err)
	}
	if !s.contains(resolved) {
		return "", "", backend.NewError(op, virt, backend.KindInvalidPath,
			fmt.Errorf("resolves outside the workspace"))
	}
	return virt, real, nil
}

// Virtual maps an OS path to its virtual path. ok is false for paths
// outside the root.
func (s *Store) Virtual(real string) (string, bool) {
	rel, err := filepath.Rel(s.root, real)
	if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", false
	}
	if rel == "." {
		return "/", true
	}
	return "/" + filepath.ToSlash(rel), true
}

func (s *Store) contains(real string) bool {
	_, ok := s.Virtual(real)
	return ok
}

// evalExisting resolves symlinks of the longest existing prefix of p and
// appends the missing remainder unchanged.
func evalExisting(p string) (string, error) {
	var missing []string
	cur := p
	for {
		resolved, err := filepath.EvalSymlinks(cur)
		if err == nil {
			for i := len(missing) - 1; i >= 0; i-- {
				resolved = filepath.Join(resolved, missing[i])
			}
			return resolved, nil
		}
		if !errors.Is(err, fs.ErrNotExist) {
			return "", err
		}
		parent := filepath.Dir(cur)
		if parent == cur {
			return p, nil
		}
		missing = append(missing, filepath.Base(cur))
		cur = parent
	}
}

func osError(op, p string, err error) error {
	switch {
	case errors.Is(err, fs.ErrNotExist):
		return backend.NewError(op, p, backend.KindNotFound, nil)
	case errors.Is(err, fs.ErrPermission):
		return backend.NewError(op, p, backend.KindPermissionDenied, err)
	default:
		return backend.NewError(op, p, backend.KindIO, err)
	}
}

// ShouldIgnore reports whether a file or directory name is skipped by walks.
func ShouldIgnore(name string) bool {
	nameLower := strings.ToLower(name)
	for _, pattern := range defaultIgnorePatterns {
		// Handle wildcard patterns like "*.egg-info"
		if strings.HasPrefix(pattern, "*") {
			if strings.HasSuffix(nameLower, strings.TrimPrefix(pattern, "*")) {
				return true
			}
		} else if nameLower == strings.ToLower(pattern) {
			return true
		}
	}
	return false
}

// =============================================================================
// STORE OPERATIONS
// =============================================================================

// List returns the direct children of p.
func (s *Store) List(ctx context.Context, p string) ([]types.FileEntry, error) {
	virt, real, err := s.resolve("ls", p)
	if err != nil {
		return nil, err
	}
	info, err := os.Stat(real)
	if err != nil {
		return nil, osError("ls", virt, err)
	}
	if !info.IsDir() {
		return []types.FileEntry{entryFor(virt, info)}, nil
	}

	dirEntries, err := os.ReadDir(real)
	if err != nil {
		return nil, osError("ls", virt, err)
	}
	entries := make([]types.FileEntry, 0, len(dirEntries))
	for _, d := range dirEntries {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		info, err := d.Info()
		if err != nil {
			continue
		}
		entries = append(entries, entryFor(joinVirtual(virt, d.Name()), info))
	}
	return entries, nil
}

// Read returns lines [offset, offset+limit) of p, numbered.
func (s *Store) Read(ctx context.Context, p string, offset, limit int) (string, error) {
	data, err := s.ReadRaw(ctx, p)
	if err != nil {
		return "", err
	}
	virt, _ := backend.CleanPath("read", p)
	return backend.NumberLines("read", virt, string(data), offset, limit)
}

// ReadRaw returns the bytes of p.
func (s *Store) ReadRaw(_ context.Context, p string) ([]byte, error) {
	virt, real, err := s.resolve("read", p)
	if err != nil {
		return nil, err
	}
	info, err := os.Stat(real)
	if err != nil {
		return nil, osError("read", virt, err)
	}
	if info.IsDir() {
		return nil, backend.NewError("read", virt, backend.KindIsDirectory, nil)
	}
	data, err := os.ReadFile(real)
	if err != nil {
		return nil, osError("read", virt, err)
	}
	return data, nil
}

// Write replaces p atomically, creating parent directories.
func (s *Store) Write(_ context.Context, p string, content []byte) error {
	virt, real, err := s.resolve("write", p)
	if err != nil {
		return err
	}
	if virt == "/" {
		return backend.NewError("write", virt, backend.KindIsDirectory, nil)
	}
	if info, err := os.Stat(real); err == nil && info.IsDir() {
		return backend.NewError("write", virt, backend.KindIsDirectory, nil)
	}

	dir := filepath.Dir(real)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return osError("write", virt, fmt.Errorf("create dirs for %s: %w", virt, err))
	}

	// Write to temp file then rename for atomicity
	tmp, err := os.CreateTemp(dir, ".openwork-*.tmp")
	if err != nil {
		return osError("write", virt, err)
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(content); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return osError("write", virt, err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return osError("write", virt, err)
	}
	if err := os.Rename(tmpName, real); err != nil {
		os.Remove(tmpName)
		return osError("write", virt, err)
	}
	return nil
}

// Edit replaces oldText in p.
func (s *Store) Edit(ctx context.Context, p, oldText, newText string, replaceAll bool) (int, error) {
	data, err := s.ReadRaw(ctx, p)
	if err != nil {
		return 0, err
	}
	virt, _ := backend.CleanPath("edit", p)
	updated, n, err := backend.ReplaceText("edit", virt, string(data), oldText, newText, replaceAll)
	if err != nil {
		return 0, err
	}
	if err := s.Write(ctx, p, []byte(updated)); err != nil {
		return 0, err
	}
	return n, nil
}

// Grep searches text files under p whose path matches glob. Binary files
// and files above 10MB are skipped.
func (s *Store) Grep(ctx context.Context, pattern, p, glob string) ([]types.GrepMatch, error) {
	re, err := backend.CompilePattern("grep", pattern)
	if err != nil {
		return nil, err
	}
	if err := backend.ValidateGlob("grep", glob); err != nil {
		return nil, err
	}
	base, _, err := s.resolve("grep", p)
	if err != nil {
		return nil, err
	}

	matches := []types.GrepMatch{}
	err = s.walkFiles(ctx, base, func(virt, real string, info fs.FileInfo) error {
		if info.Size() > maxGrepFileSize || !backend.MatchGlob(glob, base, virt) {
			return nil
		}
		data, err := os.ReadFile(real)
		if err != nil || isBinary(data) {
			return nil
		}
		matches = append(matches, backend.GrepContent(re, virt, data)...)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return matches, nil
}

// Glob returns files under p matching pattern.
func (s *Store) Glob(ctx context.Context, pattern, p string) ([]types.FileEntry, error) {
	if err := backend.ValidateGlob("glob", pattern); err != nil {
		return nil, err
	}
	base, _, err := s.resolve("glob", p)
	if err != nil {
		return nil, err
	}

	entries := []types.FileEntry{}
	err = s.walkFiles(ctx, base, func(virt, _ string, info fs.FileInfo) error {
		if backend.MatchGlob(pattern, base, virt) {
			entries = append(entries, entryFor(virt, info))
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return entries, nil
}

// Upload writes each file independently.
func (s *Store) Upload(ctx context.Context, files []backend.FileUpload) []backend.UploadResult {
	results := make([]backend.UploadResult, len(files))
	for i, f := range files {
		results[i] = backend.UploadResult{Path: f.Path, Err: s.Write(ctx, f.Path, f.Content)}
	}
	return results
}

// Download reads each path independently.
func (s *Store) Download(ctx context.Context, paths []string) []backend.DownloadResult {
	results := make([]backend.DownloadResult, len(paths))
	for i, p := range paths {
		data, err := s.ReadRaw(ctx, p)
		results[i] = backend.DownloadResult{Path: p, Content: data, Err: err}
	}
	return results
}

// Walk calls fn with the virtual path of every regular file in the
// workspace, skipping ignored directories.
func (s *Store) Walk(ctx context.Context, fn func(path string) error) error {
	return s.walkFiles(ctx, "/", func(virt, _ string, _ fs.FileInfo) error {
		return fn(virt)
	})
}

func (s *Store) walkFiles(ctx context.Context, base string, fn func(virt, real string, info fs.FileInfo) error) error {
	start := filepath.Join(s.root, filepath.FromSlash(base))
	err := filepath.WalkDir(start, func(real string, d fs.DirEntry, err error) error {
		if err != nil {
			if real == start {
				return err
			}
			return nil
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		if d.IsDir() {
			if real != start && ShouldIgnore(d.Name()) {
				return filepath.SkipDir
			}
			return nil
		}
		if ShouldIgnore(d.Name()) || !d.Type().IsRegular() {
			return nil
		}
		virt, ok := s.Virtual(real)
		if !ok {
			return nil
		}
		info, err := d.Info()
		if err != nil {
			return nil
		}
		return fn(virt, real, info)
	})
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		return osError("walk", base, err)
	}
	return nil
}

func entryFor(virt string, info fs.FileInfo) types.FileEntry {
	if info.IsDir() {
		return types.FileEntry{Path: virt, IsDir: true}
	}
	size := info.Size()
	mod := info.ModTime()
	return types.FileEntry{Path: virt, Size: &size, ModifiedAt: &mod}
}

func joinVirtual(dir, name string) string {
	if dir == "/" {
		return "/" + name
	}
	return dir + "/" + name
}

func isBinary(data []byte) bool {
	n := len(data)
	if n > 8000 {
		n = 8000
	}
	return bytes.IndexByte(data[:n], 0) >= 0
}
