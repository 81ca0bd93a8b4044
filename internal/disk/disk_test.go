package disk

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"openwork/internal/backend"
)

func newStore(t *testing.T) (*Store, string) {
	t.Helper()
	root := t.TempDir()
	s, err := Open(root)
	require.NoError(t, err)
	return s, s.Root()
}

func TestOpenRejectsFile(t *testing.T) {
	f := filepath.Join(t.TempDir(), "file")
	require.NoError(t, os.WriteFile(f, []byte("x"), 0644))
	_, err := Open(f)
	assert.Error(t, err)
}

func TestWriteReadList(t *testing.T) {
	ctx := context.Background()
	s, root := newStore(t)

	require.NoError(t, s.Write(ctx, "/src/main.go", []byte("package main\n")))
	data, err := os.ReadFile(filepath.Join(root, "src", "main.go"))
	require.NoError(t, err)
	assert.Equal(t, "package main\n", string(data))

	out, err := s.Read(ctx, "/src/main.go", 0, 0)
	require.NoError(t, err)
	assert.Equal(t, "     1|package main", out)

	entries, err := s.List(ctx, "/")
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "/src", entries[0].Path)
	assert.True(t, entries[0].IsDir)
	assert.Nil(t, entries[0].Size)

	_, err = s.ReadRaw(ctx, "/src")
	assert.ErrorIs(t, err, backend.ErrIsDirectory)

	_, err = s.ReadRaw(ctx, "/missing")
	assert.True(t, backend.IsNotFound(err))
}

func TestContainment(t *testing.T) {
	ctx := context.Background()
	s, root := newStore(t)

	outside := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(outside, "secret.txt"), []byte("secret"), 0644))
	require.NoError(t, os.Symlink(outside, filepath.Join(root, "link")))

	_, err := s.ReadRaw(ctx, "/link/secret.txt")
	assert.ErrorIs(t, err, backend.ErrInvalidPath)

	err = s.Write(ctx, "/link/new.txt", []byte("x"))
	assert.ErrorIs(t, err, backend.ErrInvalidPath)
	_, statErr := os.Stat(filepath.Join(outside, "new.txt"))
	assert.True(t, os.IsNotExist(statErr))

	_, err = s.ReadRaw(ctx, "/../etc/passwd")
	assert.ErrorIs(t, err, backend.ErrInvalidPath)
}

func TestVirtual(t *testing.T) {
	s, root := newStore(t)

	v, ok := s.Virtual(filepath.Join(root, "a", "b.txt"))
	assert.True(t, ok)
	assert.Equal(t, "/a/b.txt", v)

	v, ok = s.Virtual(root)
	assert.True(t, ok)
	assert.Equal(t, "/", v)

	_, ok = s.Virtual(filepath.Dir(root))
	assert.False(t, ok)
}

func TestGrepAndGlobSkipIgnored(t *testing.T) {
	ctx := context.Background()
	s, root := newStore(t)

	require.NoError(t, s.Write(ctx, "/a.go", []byte("TODO one\n")))
	require.NoError(t, s.Write(ctx, "/pkg/b.go", []byte("x\nTODO two\n")))
	require.NoError(t, s.Write(ctx, "/pkg/c.txt", []byte("TODO three\n")))
	require.NoError(t, os.MkdirAll(filepath.Join(root, "node_modules"), 0755))
	require.NoError(t, os.WriteFile(filepath.Join(root, "node_modules", "d.go"), []byte("TODO"), 0644))
	require.NoError(t, os.WriteFile(filepath.Join(root, "bin.dat"), []byte("TODO\x00"), 0644))

	matches, err := s.Grep(ctx, "TODO", "/", "*.go")
	require.NoError(t, err)
	require.Len(t, matches, 2)
	assert.Equal(t, "/a.go", matches[0].Path)
	assert.Equal(t, "/pkg/b.go", matches[1].Path)
	assert.Equal(t, 2, matches[1].Line)

	all, err := s.Grep(ctx, "TODO", "/", "")
	require.NoError(t, err)
	assert.Len(t, all, 3)

	entries, err := s.Glob(ctx, "**/*.go", "/pkg")
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "/pkg/b.go", entries[0].Path)
}

func TestEdit(t *testing.T) {
	ctx := context.Background()
	s, _ := newStore(t)
	require.NoError(t, s.Write(ctx, "/f.txt", []byte("hello world")))

	n, err := s.Edit(ctx, "/f.txt", "world", "there", false)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	data, err := s.ReadRaw(ctx, "/f.txt")
	require.NoError(t, err)
	assert.Equal(t, "hello there", string(data))

	_, err = s.Edit(ctx, "/f.txt", "absent", "x", false)
	assert.ErrorIs(t, err, backend.ErrNoMatch)
}

func TestWalk(t *testing.T) {
	ctx := context.Background()
	s, _ := newStore(t)
	require.NoError(t, s.Write(ctx, "/b.txt", []byte("b")))
	require.NoError(t, s.Write(ctx, "/a/c.txt", []byte("c")))
	require.NoError(t, s.Write(ctx, "/.git/HEAD", []byte("ref")))

	var seen []string
	require.NoError(t, s.Walk(ctx, func(p string) error {
		seen = append(seen, p)
		return nil
	}))
	assert.Equal(t, []string{"/a/c.txt", "/b.txt"}, seen)
}
