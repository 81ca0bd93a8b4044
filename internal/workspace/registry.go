package workspace

import (
	"encoding/json"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"openwork/internal/logging"
)

// maxRecent bounds the recent folder list.
const maxRecent = 20

// RecentRegistry remembers the folders the user bound most recently so the
// folder picker can offer them again.
//
// Persisted at: ~/.openwork/workspaces.json
type RecentRegistry struct {
	mu       sync.RWMutex
	filePath string
	data     registryData
}

type registryData struct {
	Version int                  `json:"version"`
	Folders map[string]time.Time `json:"folders"` // folder path -> last bound
}

// RecentFolder is one entry of the recent list.
type RecentFolder struct {
	Path     string    `json:"path"`
	LastUsed time.Time `json:"lastUsed"`
}

// NewRecentRegistry creates a registry backed by configPath/workspaces.json.
func NewRecentRegistry(configPath string) *RecentRegistry {
	return &RecentRegistry{
		filePath: filepath.Join(configPath, "workspaces.json"),
		data: registryData{
			Version: 1,
			Folders: make(map[string]time.Time),
		},
	}
}

// Load reads the registry from disk. If the file doesn't exist, starts empty.
func (r *RecentRegistry) Load() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	raw, err := os.ReadFile(r.filePath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}

	var d registryData
	if err := json.Unmarshal(raw, &d); err != nil {
		logging.Warn("corrupt workspace registry, starting fresh", logging.Path(r.filePath), logging.Err(err))
		return nil
	}
	if d.Folders == nil {
		d.Folders = make(map[string]time.Time)
	}
	r.data = d
	return nil
}

// save writes the registry. Callers hold the write lock.
func (r *RecentRegistry) save() error {
	raw, err := json.MarshalIndent(r.data, "", "  ")
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(r.filePath), 0755); err != nil {
		return err
	}
	return os.WriteFile(r.filePath, raw, 0644)
}

// Touch records folder as used now, evicting the oldest entries past the limit.
func (r *RecentRegistry) Touch(folder string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.data.Folders[folder] = time.Now()
	for len(r.data.Folders) > maxRecent {
		oldest := ""
		for f, t := range r.data.Folders {
			if oldest == "" || t.Before(r.data.Folders[oldest]) {
				oldest = f
			}
		}
		delete(r.data.Folders, oldest)
	}
	if err := r.save(); err != nil {
		logging.Warn("failed to persist workspace registry", logging.Err(err))
	}
}

// Forget removes folder from the list.
func (r *RecentRegistry) Forget(folder string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.data.Folders[folder]; !ok {
		return
	}
	delete(r.data.Folders, folder)
	if err := r.save(); err != nil {
		logging.Warn("failed to persist workspace registry", logging.Err(err))
	}
}

// Recent returns the folders most recently used first.
func (r *RecentRegistry) Recent() []RecentFolder {
	r.mu.RLock()
	defer r.mu.RUnlock()

	result := make([]RecentFolder, 0, len(r.data.Folders))
	for f, t := range r.data.Folders {
		result = append(result, RecentFolder{Path: f, LastUsed: t})
	}
	sort.Slice(result, func(i, j int) bool { return result[i].LastUsed.After(result[j].LastUsed) })
	return result
}
