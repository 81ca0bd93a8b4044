package backend

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"openwork/internal/logging"
	"openwork/internal/metrics"
	"openwork/internal/types"
)

// SyncedBackend presents a thread's checkpointed state and an optional disk
// mirror as one Store.
//
// State is authoritative: every read is served from state when the path
// exists there, and disk only supplies paths state has never seen. Writes go
// to state first; the disk copy is updated on a best-effort basis and its
// failures are logged, never returned.
//
// SyncedBackend holds no data of its own. It is safe for concurrent use as
// long as both stores are.
type SyncedBackend struct {
	threadID string
	state    Store
	disk     Store
}

// NewSynced composes state with an optional disk mirror. Pass a nil disk to
// disable mirroring.
func NewSynced(threadID string, state, disk Store) *SyncedBackend {
	return &SyncedBackend{threadID: threadID, state: state, disk: disk}
}

// SyncEnabled reports whether a disk mirror is attached.
func (b *SyncedBackend) SyncEnabled() bool {
	return b.disk != nil
}

// ThreadID returns the thread whose state this backend serves.
func (b *SyncedBackend) ThreadID() string {
	return b.threadID
}

func (b *SyncedBackend) mirrorFailed(op, p string, err error) {
	metrics.RecordMirrorFailure(op)
	logging.Warn("disk mirror failed",
		logging.Thread(b.threadID),
		logging.String("op", op),
		logging.Path(p),
		logging.Err(err))
}

// =============================================================================
// READ OPERATIONS
// =============================================================================

// List returns the direct children of p from both stores, sorted by path.
func (b *SyncedBackend) List(ctx context.Context, p string) ([]types.FileEntry, error) {
	entries, err := b.state.List(ctx, p)
	if err != nil {
		return nil, err
	}
	if !b.SyncEnabled() {
		return sortEntries(entries), nil
	}
	diskEntries, err := b.disk.List(ctx, p)
	if err != nil {
		if !IsNotFound(err) {
			logging.Warn("disk list failed", logging.Thread(b.threadID), logging.Path(p), logging.Err(err))
		}
		return sortEntries(entries), nil
	}
	return MergeEntries(entries, diskEntries), nil
}

// Read returns line-numbered content. A path missing from state is served
// from disk when mirroring is enabled.
func (b *SyncedBackend) Read(ctx context.Context, p string, offset, limit int) (string, error) {
	out, err := b.state.Read(ctx, p, offset, limit)
	if err == nil || !IsNotFound(err) || !b.SyncEnabled() {
		return out, err
	}
	return b.disk.Read(ctx, p, offset, limit)
}

// ReadRaw returns the stored bytes of p with the same fallback as Read.
func (b *SyncedBackend) ReadRaw(ctx context.Context, p string) ([]byte, error) {
	data, err := b.state.ReadRaw(ctx, p)
	if err == nil || !IsNotFound(err) || !b.SyncEnabled() {
		return data, err
	}
	return b.disk.ReadRaw(ctx, p)
}

// Grep searches both stores. Matches are unique by (path, line) and the
// state match wins on collision. A failing disk search only loses the disk
// half of the result.
func (b *SyncedBackend) Grep(ctx context.Context, pattern, p, glob string) ([]types.GrepMatch, error) {
	matches, err := b.state.Grep(ctx, pattern, p, glob)
	if err != nil {
		return nil, err
	}
	if !b.SyncEnabled() {
		return sortMatches(matches), nil
	}
	diskMatches, err := b.disk.Grep(ctx, pattern, p, glob)
	if err != nil {
		if !IsNotFound(err) {
			logging.Warn("disk grep failed", logging.Thread(b.threadID), logging.Path(p), logging.Err(err))
		}
		return sortMatches(matches), nil
	}
	return MergeMatches(matches, diskMatches), nil
}

// Glob returns files under p matching pattern from both stores.
func (b *SyncedBackend) Glob(ctx context.Context, pattern, p string) ([]types.FileEntry, error) {
	entries, err := b.state.Glob(ctx, pattern, p)
	if err != nil {
		return nil, err
	}
	if !b.SyncEnabled() {
		return sortEntries(entries), nil
	}
	diskEntries, err := b.disk.Glob(ctx, pattern, p)
	if err != nil {
		if !IsNotFound(err) {
			logging.Warn("disk glob failed", logging.Thread(b.threadID), logging.Path(p), logging.Err(err))
		}
		return sortEntries(entries), nil
	}
	return MergeEntries(entries, diskEntries), nil
}

// =============================================================================
// WRITE OPERATIONS
// =============================================================================

// Write stores content in state and mirrors it to disk. Only a state failure
// is returned.
func (b *SyncedBackend) Write(ctx context.Context, p string, content []byte) error {
	if err := b.state.Write(ctx, p, content); err != nil {
		return err
	}
	if b.SyncEnabled() {
		if err := b.disk.Write(ctx, p, content); err != nil {
			b.mirrorFailed("write", p, err)
		}
	}
	return nil
}

// Edit applies a text replacement in state and mirrors it to disk.
//
// A path that exists only on disk is first copied into state and the edit is
// retried once. Semantic failures (no match, ambiguous match) are returned
// as they are; the file is known to state, so disk is never consulted.
func (b *SyncedBackend) Edit(ctx context.Context, p, oldText, newText string, replaceAll bool) (int, error) {
	n, err := b.state.Edit(ctx, p, oldText, newText, replaceAll)
	if err != nil {
		if !IsNotFound(err) || !b.SyncEnabled() {
			return 0, err
		}
		n, err = b.bootstrapEdit(ctx, p, oldText, newText, replaceAll, err)
		if err != nil {
			return 0, err
		}
	}
	if b.SyncEnabled() {
		if _, derr := b.disk.Edit(ctx, p, oldText, newText, replaceAll); derr != nil {
			b.mirrorFailed("edit", p, derr)
		}
	}
	return n, nil
}

func (b *SyncedBackend) bootstrapEdit(ctx context.Context, p, oldText, newText string, replaceAll bool, stateErr error) (int, error) {
	raw, err := b.disk.ReadRaw(ctx, p)
	if err != nil {
		if IsNotFound(err) {
			return 0, stateErr
		}
		return 0, err
	}
	if err := b.state.Write(ctx, p, raw); err != nil {
		return 0, fmt.Errorf("bootstrap %s from disk: %w", p, err)
	}
	logging.Debug("bootstrapped file from disk for edit", logging.Thread(b.threadID), logging.Path(p))
	return b.state.Edit(ctx, p, oldText, newText, replaceAll)
}

// Upload writes every file to state and mirrors the successful ones to disk.
func (b *SyncedBackend) Upload(ctx context.Context, files []FileUpload) []UploadResult {
	results := b.state.Upload(ctx, files)
	if !b.SyncEnabled() {
		return results
	}

	var mirror []FileUpload
	for i, r := range results {
		if r.Err == nil {
			mirror = append(mirror, files[i])
		}
	}
	if len(mirror) == 0 {
		return results
	}
	for _, r := range b.disk.Upload(ctx, mirror) {
		if r.Err != nil {
			b.mirrorFailed("upload", r.Path, r.Err)
		}
	}
	return results
}

// Download reads every path from state. Paths state does not have are
// fetched from disk individually; other state failures are kept.
func (b *SyncedBackend) Download(ctx context.Context, paths []string) []DownloadResult {
	results := b.state.Download(ctx, paths)
	if !b.SyncEnabled() {
		return results
	}

	var (
		missing []string
		index   []int
	)
	for i, r := range results {
		if r.Err != nil && IsNotFound(r.Err) {
			missing = append(missing, r.Path)
			index = append(index, i)
		}
	}
	if len(missing) == 0 {
		return results
	}
	for j, r := range b.disk.Download(ctx, missing) {
		results[index[j]] = r
	}
	return results
}

// =============================================================================
// DISK BOOTSTRAP
// =============================================================================

// SyncReport is the outcome of SyncFromDisk.
type SyncReport struct {
	Loaded []string     `json:"loaded"`
	Errors []*PathError `json:"-"`
}

// SyncFromDisk copies every disk file that state does not have yet into
// state. Per-file failures are collected in the report; only cancellation or
// a failure to walk the tree aborts the sync.
//
// Content is copied as raw bytes, so line-number prefixes from the numbered
// read form never reach state.
func (b *SyncedBackend) SyncFromDisk(ctx context.Context) (SyncReport, error) {
	var report SyncReport
	if !b.SyncEnabled() {
		return report, nil
	}
	walker, ok := b.disk.(Walker)
	if !ok {
		return report, fmt.Errorf("disk store %T cannot be walked", b.disk)
	}

	err := walker.Walk(ctx, func(p string) error {
		if err := ctx.Err(); err != nil {
			return err
		}
		_, err := b.state.ReadRaw(ctx, p)
		if err == nil {
			return nil
		}
		if !IsNotFound(err) {
			report.Errors = append(report.Errors, asPathError("sync", p, err))
			return nil
		}
		raw, err := b.disk.ReadRaw(ctx, p)
		if err != nil {
			report.Errors = append(report.Errors, asPathError("sync", p, err))
			return nil
		}
		if err := b.state.Write(ctx, p, raw); err != nil {
			report.Errors = append(report.Errors, asPathError("sync", p, err))
			return nil
		}
		report.Loaded = append(report.Loaded, p)
		return nil
	})

	metrics.RecordSyncedFiles(len(report.Loaded))
	logging.Info("synced workspace from disk",
		logging.Thread(b.threadID),
		logging.Int("loaded", len(report.Loaded)),
		logging.Int("errors", len(report.Errors)))
	if err != nil {
		return report, fmt.Errorf("sync from disk: %w", err)
	}
	return report, nil
}

func asPathError(op, p string, err error) *PathError {
	var pe *PathError
	if errors.As(err, &pe) {
		return pe
	}
	return NewError(op, p, KindIO, err)
}

// =============================================================================
// MERGING
// =============================================================================

// MergeEntries merges two listings by path. Entries of primary win on
// conflict; the result is sorted by path.
func MergeEntries(primary, secondary []types.FileEntry) []types.FileEntry {
	seen := make(map[string]struct{}, len(primary)+len(secondary))
	out := make([]types.FileEntry, 0, len(primary)+len(secondary))
	for _, e := range primary {
		if _, ok := seen[e.Path]; ok {
			continue
		}
		seen[e.Path] = struct{}{}
		out = append(out, e)
	}
	for _, e := range secondary {
		if _, ok := seen[e.Path]; ok {
			continue
		}
		seen[e.Path] = struct{}{}
		out = append(out, e)
	}
	return sortEntries(out)
}

// MergeMatches unions grep results keyed by (path, line). Matches of primary
// win on conflict; the result is sorted by path then line.
func MergeMatches(primary, secondary []types.GrepMatch) []types.GrepMatch {
	type key struct {
		path string
		line int
	}
	seen := make(map[key]struct{}, len(primary)+len(secondary))
	out := make([]types.GrepMatch, 0, len(primary)+len(secondary))
	for _, group := range [][]types.GrepMatch{primary, secondary} {
		for _, m := range group {
			k := key{m.Path, m.Line}
			if _, ok := seen[k]; ok {
				continue
			}
			seen[k] = struct{}{}
			out = append(out, m)
		}
	}
	return sortMatches(out)
}

func sortEntries(entries []types.FileEntry) []types.FileEntry {
	sort.Slice(entries, func(i, j int) bool { return entries[i].Path < entries[j].Path })
	return entries
}

func sortMatches(matches []types.GrepMatch) []types.GrepMatch {
	sort.Slice(matches, func(i, j int) bool {
		if matches[i].Path != matches[j].Path {
			return matches[i].Path < matches[j].Path
		}
		return matches[i].Line < matches[j].Line
	})
	return matches
}
