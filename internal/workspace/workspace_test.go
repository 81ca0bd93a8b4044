package workspace

import (
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBindAndUnbind(t *testing.T) {
	b := NewBindings(10*time.Millisecond, nil)
	defer b.Close()

	dir := t.TempDir()
	binding, err := b.Bind("t1", dir)
	require.NoError(t, err)
	assert.Equal(t, binding.Disk.Root(), b.Path("t1"))

	again, err := b.Bind("t1", dir)
	require.NoError(t, err)
	assert.Same(t, binding, again)

	assert.Equal(t, []string{"t1"}, b.Threads())
	assert.True(t, b.Unbind("t1"))
	assert.False(t, b.Unbind("t1"))
	assert.Equal(t, "", b.Path("t1"))
}

func TestBindMissingDirectory(t *testing.T) {
	b := NewBindings(10*time.Millisecond, nil)
	_, err := b.Bind("t1", filepath.Join(t.TempDir(), "missing"))
	assert.Error(t, err)
	_, ok := b.Get("t1")
	assert.False(t, ok)
}

func TestRebindReplacesFolder(t *testing.T) {
	b := NewBindings(10*time.Millisecond, func(string, []string) {})
	defer b.Close()

	first, second := t.TempDir(), t.TempDir()
	_, err := b.Bind("t1", first)
	require.NoError(t, err)
	bd, err := b.Bind("t1", second)
	require.NoError(t, err)
	assert.Equal(t, bd.Path, b.Path("t1"))
	assert.NotEqual(t, first, b.Path("t1"))
}

func TestConcurrentBindSameFolder(t *testing.T) {
	b := NewBindings(10*time.Millisecond, func(string, []string) {})
	defer b.Close()
	dir := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(dir, "a", "b"), 0o755))

	results := make([]*Binding, 8)
	var wg sync.WaitGroup
	for i := range results {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			bd, err := b.Bind("t1", dir)
			assert.NoError(t, err)
			results[i] = bd
		}(i)
	}
	wg.Wait()

	cur, ok := b.Get("t1")
	require.True(t, ok)
	for _, bd := range results {
		assert.Same(t, cur, bd)
	}
	assert.Equal(t, []string{"t1"}, b.Threads())
}

func TestChangeNotificationsCarryThread(t *testing.T) {
	var mu sync.Mutex
	got := map[string][]string{}
	b := NewBindings(20*time.Millisecond, func(threadID string, paths []string) {
		mu.Lock()
		defer mu.Unlock()
		got[threadID] = append(got[threadID], paths...)
	})
	defer b.Close()

	bd, err := b.Bind("t1", t.TempDir())
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(filepath.Join(bd.Path, "notes.md"), []byte("x"), 0644))

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		for _, p := range got["t1"] {
			if p == "/notes.md" {
				return true
			}
		}
		return false
	}, 2*time.Second, 10*time.Millisecond)
}

func TestRecentRegistry(t *testing.T) {
	dir := t.TempDir()
	r := NewRecentRegistry(dir)
	require.NoError(t, r.Load())

	r.Touch("/a")
	time.Sleep(2 * time.Millisecond)
	r.Touch("/b")

	recent := r.Recent()
	require.Len(t, recent, 2)
	assert.Equal(t, "/b", recent[0].Path)

	reloaded := NewRecentRegistry(dir)
	require.NoError(t, reloaded.Load())
	assert.Len(t, reloaded.Recent(), 2)

	reloaded.Forget("/a")
	assert.Len(t, reloaded.Recent(), 1)
}

func TestRecentRegistryEvictsOldest(t *testing.T) {
	r := NewRecentRegistry(t.TempDir())
	for i := 0; i < maxRecent+3; i++ {
		r.Touch(filepath.Join("/w", string(rune('a'+i))))
		time.Sleep(time.Millisecond)
	}
	recent := r.Recent()
	assert.Len(t, recent, maxRecent)
	assert.Equal(t, "/w/"+string(rune('a'+maxRecent+2)), recent[0].Path)
}

func TestRecentRegistryCorruptFile(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "workspaces.json"), []byte("{"), 0644))
	r := NewRecentRegistry(dir)
	assert.NoError(t, r.Load())
	assert.Empty(t, r.Recent())
}
