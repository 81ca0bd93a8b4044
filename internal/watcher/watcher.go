// Package watcher provides file system watching for bound workspace folders.
// It reports changed files as virtual paths, batched by a debounce window.
package watcher

import (
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/bep/debounce"
	"github.com/fsnotify/fsnotify"

	"openwork/internal/disk"
	"openwork/internal/logging"
)

// Root maps OS paths into the virtual namespace of a workspace.
// disk.Store implements it.
type Root interface {
	Root() string
	Virtual(real string) (string, bool)
}

// ChangeFunc receives the sorted virtual paths changed in one window.
type ChangeFunc func(paths []string)

// =============================================================================
// FILE WATCHER
// =============================================================================

// FileWatcher watches every directory under a workspace root.
type FileWatcher struct {
	watcher   *fsnotify.Watcher
	root      Root
	onChange  ChangeFunc
	debounced func(func())

	mu          sync.Mutex
	pending     map[string]struct{}
	watchedDirs map[string]bool
	closed      bool

	done chan struct{}
}

// New starts watching root. onChange is called from a timer goroutine at
// most once per delay.
func New(root Root, delay time.Duration, onChange ChangeFunc) (*FileWatcher, error) {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}

	fw := &FileWatcher{
		watcher:     w,
		root:        root,
		onChange:    onChange,
		debounced:   debounce.New(delay),
		pending:     make(map[string]struct{}),
		watchedDirs: make(map[string]bool),
		done:        make(chan struct{}),
	}

	if err := fw.addTree(root.Root()); err != nil {
		w.Close()
		return nil, err
	}

	go fw.run()
	return fw, nil
}

// addTree watches dir and every non-ignored directory below it.
func (fw *FileWatcher) addTree(dir string) error {
	return filepath.WalkDir(dir, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			if p == dir {
				return err
			}
			return nil
		}
		if !d.IsDir() {
			return nil
		}
		if p != dir && disk.ShouldIgnore(d.Name()) {
			return filepath.SkipDir
		}
		if _, ok := fw.root.Virtual(p); !ok {
			return filepath.SkipDir
		}

		fw.mu.Lock()
		defer fw.mu.Unlock()
		if fw.watchedDirs[p] {
			return nil
		}
		if err := fw.watcher.Add(p); err != nil {
			logging.Debug("watch failed", logging.Path(p), logging.Err(err))
			return nil
		}
		fw.watchedDirs[p] = true
		return nil
	})
}

// =============================================================================
// EVENT LOOP
// =============================================================================

func (fw *FileWatcher) run() {
	defer close(fw.done)
	for {
		select {
		case event, ok := <-fw.watcher.Events:
			if !ok {
				return
			}
			fw.handleEvent(event)
		case err, ok := <-fw.watcher.Errors:
			if !ok {
				return
			}
			logging.Warn("workspace watcher error", logging.String("root", fw.root.Root()), logging.Err(err))
		}
	}
}

func (fw *FileWatcher) handleEvent(event fsnotify.Event) {
	if event.Has(fsnotify.Chmod) && !event.Has(fsnotify.Write) {
		return
	}
	virt, ok := fw.root.Virtual(event.Name)
	if !ok || virt == "/" || ignoredPath(virt) {
		return
	}

	if event.Has(fsnotify.Create) {
		if info, err := os.Lstat(event.Name); err == nil && info.IsDir() {
			if err := fw.addTree(event.Name); err != nil {
				logging.Debug("watch new directory failed", logging.Path(event.Name), logging.Err(err))
			}
		}
	}
	if event.Has(fsnotify.Remove) || event.Has(fsnotify.Rename) {
		fw.mu.Lock()
		delete(fw.watchedDirs, event.Name)
		fw.mu.Unlock()
	}

	fw.mu.Lock()
	if fw.closed {
		fw.mu.Unlock()
		return
	}
	fw.pending[virt] = struct{}{}
	fw.mu.Unlock()

	fw.debounced(fw.flush)
}

func (fw *FileWatcher) flush() {
	fw.mu.Lock()
	if fw.closed || len(fw.pending) == 0 {
		fw.mu.Unlock()
		return
	}
	paths := make([]string, 0, len(fw.pending))
	for p := range fw.pending {
		paths = append(paths, p)
	}
	fw.pending = make(map[string]struct{})
	fw.mu.Unlock()

	sort.Strings(paths)
	fw.onChange(paths)
}

// ignoredPath skips ignored directories anywhere in the virtual path and
// the temporary files of atomic writes.
func ignoredPath(virt string) bool {
	base := path.Base(virt)
	if strings.HasPrefix(base, ".openwork-") && strings.HasSuffix(base, ".tmp") {
		return true
	}
	for _, part := range strings.Split(virt, "/") {
		if part != "" && disk.ShouldIgnore(part) {
			return true
		}
	}
	return false
}

// Close stops watching. Pending changes are discarded.
func (fw *FileWatcher) Close() {
	fw.mu.Lock()
	if fw.closed {
		fw.mu.Unlock()
		return
	}
	fw.closed = true
	fw.mu.Unlock()

	fw.watcher.Close()
	<-fw.done
}
