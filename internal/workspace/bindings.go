// Package workspace tracks which on-disk folder each thread is bound to.
package workspace

import (
	"sort"
	"sync"
	"time"

	"openwork/internal/disk"
	"openwork/internal/logging"
	"openwork/internal/metrics"
	"openwork/internal/watcher"
)

// ChangeFunc receives the virtual paths changed in the workspace of a thread.
type ChangeFunc func(threadID string, paths []string)

// Binding is an open workspace folder for one thread.
type Binding struct {
	ThreadID string
	Path     string
	Disk     *disk.Store
	BoundAt  time.Time

	watcher *watcher.FileWatcher
}

// Bindings is the live thread -> folder table. A thread has at most one
// binding; binding a new folder releases the old one.
type Bindings struct {
	mu       sync.RWMutex
	bindings map[string]*Binding
	debounce time.Duration
	onChange ChangeFunc
}

// NewBindings creates an empty table. onChange may be nil, which disables
// watching.
func NewBindings(debounce time.Duration, onChange ChangeFunc) *Bindings {
	return &Bindings{
		bindings: make(map[string]*Binding),
		debounce: debounce,
		onChange: onChange,
	}
}

// Bind opens dir for threadID. Binding the folder already bound is a no-op.
// The folder is opened and watched before the table is locked, so lookups
// are not held up by a large tree.
func (b *Bindings) Bind(threadID, dir string) (*Binding, error) {
	store, err := disk.Open(dir)
	if err != nil {
		return nil, err
	}
	if cur, ok := b.Get(threadID); ok && cur.Path == store.Root() {
		return cur, nil
	}

	binding := &Binding{
		ThreadID: threadID,
		Path:     store.Root(),
		Disk:     store,
		BoundAt:  time.Now(),
	}
	if b.onChange != nil {
		onChange := b.onChange
		w, err := watcher.New(store, b.debounce, func(paths []string) { onChange(threadID, paths) })
		if err != nil {
			// The binding still works without change notifications.
			logging.Warn("workspace watcher unavailable", logging.Thread(threadID), logging.Path(store.Root()), logging.Err(err))
		} else {
			binding.watcher = w
		}
	}

	b.mu.Lock()
	cur, ok := b.bindings[threadID]
	if ok && cur.Path == binding.Path {
		// a concurrent Bind of the same folder won
		b.mu.Unlock()
		binding.release()
		return cur, nil
	}
	b.bindings[threadID] = binding
	n := len(b.bindings)
	b.mu.Unlock()

	if ok {
		cur.release()
	}
	metrics.SetWorkspacesBound(n)
	logging.Info("workspace bound", logging.Thread(threadID), logging.Path(binding.Path))
	return binding, nil
}

// Unbind releases the binding of threadID. It reports whether one existed.
func (b *Bindings) Unbind(threadID string) bool {
	b.mu.Lock()
	cur, ok := b.bindings[threadID]
	delete(b.bindings, threadID)
	n := len(b.bindings)
	b.mu.Unlock()

	if !ok {
		return false
	}
	cur.release()
	metrics.SetWorkspacesBound(n)
	logging.Info("workspace unbound", logging.Thread(threadID), logging.Path(cur.Path))
	return true
}

// Get returns the binding of threadID.
func (b *Bindings) Get(threadID string) (*Binding, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	cur, ok := b.bindings[threadID]
	return cur, ok
}

// Path returns the folder bound to threadID, or "".
func (b *Bindings) Path(threadID string) string {
	if cur, ok := b.Get(threadID); ok {
		return cur.Path
	}
	return ""
}

// Threads returns the ids of every bound thread, sorted.
func (b *Bindings) Threads() []string {
	b.mu.RLock()
	defer b.mu.RUnlock()
	ids := make([]string, 0, len(b.bindings))
	for id := range b.bindings {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Close releases every binding.
func (b *Bindings) Close() {
	b.mu.Lock()
	all := b.bindings
	b.bindings = make(map[string]*Binding)
	b.mu.Unlock()

	for _, cur := range all {
		cur.release()
	}
	metrics.SetWorkspacesBound(0)
}

func (bd *Binding) release() {
	if bd.watcher != nil {
		bd.watcher.Close()
	}
}
