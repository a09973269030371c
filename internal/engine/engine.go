// Package engine runs status, sync, submit and revert for one manifest.
//
// Each operation holds the manifest lock for its whole duration and follows
// the same shape: load, scan, diff, transfer, then a single barrier after
// which local state is committed. Nothing durable changes before the
// barrier, so a failed or cancelled operation leaves the manifest, the
// base record and every workspace file as they were (apart from hidden
// staging files).
//
// The commit itself is a sequence of renames and is not atomic. If one
// fails, files renamed before it keep their new content and the base
// record is not written. The next run sees those files equal to HEAD and
// classifies them unmodified, so repeating the operation completes it.
package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"strings"

	"github.com/spf13/afero"

	"github.com/aweris/chonky/internal/diff"
	"github.com/aweris/chonky/internal/manifest"
	"github.com/aweris/chonky/internal/store"
	"github.com/aweris/chonky/internal/workspace"
)

// DefaultWorkers bounds concurrent hashing and transfers.
const DefaultWorkers = 8

// Config wires an Engine.
type Config struct {
	// ManifestPath is the CHONKY file the engine operates on.
	ManifestPath string
	// Store is the object store, already wrapped with any decorators.
	Store store.Store
	// Fs defaults to the OS filesystem.
	Fs      afero.Fs
	Workers int
	Logger  *slog.Logger
}

// Engine executes operations against one manifest and its workspace.
type Engine struct {
	fs           afero.Fs
	manifestPath string
	store        store.Store
	workers      int
	logger       *slog.Logger
}

// Result lists the paths an operation touched.
type Result struct {
	Fetched  []string
	Removed  []string
	Uploaded []string
	Skipped  []string
	Restored []string
}

// New returns an Engine for cfg.
func New(cfg Config) *Engine {
	fs := cfg.Fs
	if fs == nil {
		fs = afero.NewOsFs()
	}
	workers := cfg.Workers
	if workers < 1 {
		workers = DefaultWorkers
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Engine{
		fs:           fs,
		manifestPath: cfg.ManifestPath,
		store:        cfg.Store,
		workers:      workers,
		logger:       logger.With("comp", "engine", "manifest", cfg.ManifestPath),
	}
}

// state is everything one operation reads before acting.
type state struct {
	manifest *manifest.Manifest
	base     *manifest.Manifest
	root     string
	report   *diff.Report
}

// Root returns the workspace directory of the manifest.
func (e *Engine) Root() (string, error) {
	m, err := manifest.Load(e.fs, e.manifestPath)
	if err != nil {
		return "", err
	}
	return e.workspaceRoot(m), nil
}

func (e *Engine) workspaceRoot(m *manifest.Manifest) string {
	return filepath.Join(filepath.Dir(e.manifestPath), filepath.FromSlash(m.Workspace()))
}

// begin takes the lock and computes the diff. The returned release func
// must be called once the operation is done.
func (e *Engine) begin(ctx context.Context, checkRemote bool) (*state, func(), error) {
	lock, err := manifest.Acquire(e.fs, e.manifestPath)
	if err != nil {
		return nil, nil, err
	}
	release := func() {
		if err := lock.Release(); err != nil {
			e.logger.Warn("release lock", "err", err)
		}
	}

	st, err := e.load(ctx, checkRemote)
	if err != nil {
		release()
		return nil, nil, err
	}
	return st, release, nil
}

func (e *Engine) load(ctx context.Context, checkRemote bool) (*state, error) {
	m, err := manifest.Load(e.fs, e.manifestPath)
	if err != nil {
		return nil, err
	}

	root := e.workspaceRoot(m)
	base, err := manifest.LoadBase(e.fs, manifest.BasePath(root))
	if err != nil {
		return nil, err
	}

	var exclude []string
	if rel, err := filepath.Rel(root, e.manifestPath); err == nil && rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		exclude = append(exclude, filepath.ToSlash(rel))
	}

	snap, err := workspace.Scan(ctx, e.fs, root, workspace.ScanOptions{
		Ignore:  workspace.NewMatcher(m.Ignore()),
		Exclude: exclude,
		Workers: e.workers,
		Logger:  e.logger,
	})
	if err != nil {
		return nil, fmt.Errorf("scan workspace: %w", err)
	}

	var exists diff.Existence
	if checkRemote {
		exists = e.store
	}
	report, err := diff.Compute(ctx, diff.Input{
		Manifest:  m.Head(),
		Base:      base.Head(),
		Workspace: snap,
	}, exists, e.workers)
	if err != nil {
		return nil, fmt.Errorf("compare workspace: %w", err)
	}

	return &state{manifest: m, base: base, root: root, report: report}, nil
}

// Status classifies every path without changing anything.
func (e *Engine) Status(ctx context.Context) (*diff.Report, error) {
	st, release, err := e.begin(ctx, true)
	if err != nil {
		return nil, err
	}
	defer release()

	return st.report, nil
}

// Sync brings remote changes into the workspace. Local changes that do not
// conflict are kept. With force, conflicted paths take the remote version.
func (e *Engine) Sync(ctx context.Context, force bool) (*Result, error) {
	st, release, err := e.begin(ctx, true)
	if err != nil {
		return nil, err
	}
	defer release()

	report := st.report
	if conflicts := report.Paths(diff.Conflicted); len(conflicts) > 0 && !force {
		return nil, &ConflictError{Paths: conflicts}
	}
	if missing := report.Paths(diff.RemoteMissing); len(missing) > 0 {
		return nil, &RemoteMissingError{Paths: missing}
	}
	for _, entry := range report.Filter(diff.AccessError) {
		if entry.Tracked() {
			return nil, entry.Err
		}
	}

	var work plan
	for _, entry := range report.Filter(diff.MissingLocally, diff.ChangedRemotely, diff.RemovedRemotely, diff.Conflicted) {
		if entry.Status == diff.Conflicted {
			e.logger.Warn("[sync] overwriting local changes", "path", entry.Path)
		}
		if entry.Manifest.IsZero() {
			work.remove = append(work.remove, entry)
			continue
		}
		work.fetch = append(work.fetch, target{entry: entry, want: entry.Manifest})
	}

	if work.empty() {
		e.logger.Info("[sync] workspace is up to date")
	}

	fetched, removed, err := e.apply(ctx, "sync", st.root, work)
	if err != nil {
		return nil, err
	}

	if err := manifest.Persist(e.fs, manifest.BasePath(st.root), manifest.NewBase(st.manifest.Head())); err != nil {
		return nil, fmt.Errorf("record synced state: %w", err)
	}

	e.logger.Info("[sync] done", "fetched", len(fetched), "removed", len(removed))
	return &Result{Fetched: fetched, Removed: removed}, nil
}

// Submit publishes local changes: objects first, then the manifest.
func (e *Engine) Submit(ctx context.Context) (*Result, error) {
	st, release, err := e.begin(ctx, false)
	if err != nil {
		return nil, err
	}
	defer release()

	report := st.report
	if errs := report.Filter(diff.AccessError); len(errs) > 0 {
		return nil, errs[0].Err
	}
	if conflicts := report.Paths(diff.Conflicted); len(conflicts) > 0 {
		return nil, &ConflictError{Paths: conflicts}
	}
	if incoming := report.Paths(diff.Incoming...); len(incoming) > 0 {
		return nil, &OutOfDateError{Paths: incoming}
	}

	outgoing := report.Filter(diff.Outgoing...)
	if len(outgoing) == 0 {
		e.logger.Info("[submit] nothing to submit")
		return &Result{}, nil
	}

	uploaded, skipped, err := e.upload(ctx, st.root, report.Filter(diff.AddedLocally, diff.ModifiedLocally))
	if err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	changes := make(manifest.Changes, len(outgoing))
	for _, entry := range outgoing {
		changes[entry.Path] = entry.Workspace
	}
	next := st.manifest.WithUpdatedEntries(changes)

	if err := manifest.Persist(e.fs, e.manifestPath, next); err != nil {
		return nil, fmt.Errorf("write manifest: %w", err)
	}
	if err := manifest.Persist(e.fs, manifest.BasePath(st.root), manifest.NewBase(next.Head())); err != nil {
		return nil, fmt.Errorf("record submitted state: %w", err)
	}

	e.logger.Info("[submit] done", "uploaded", len(uploaded), "skipped", len(skipped), "entries", len(changes))
	return &Result{
		Uploaded: uploaded,
		Skipped:  skipped,
		Removed:  report.Paths(diff.DeletedLocally),
	}, nil
}

// Revert discards local changes, restoring every path to the content it
// had at the last sync. Neither the manifest nor the base record changes.
func (e *Engine) Revert(ctx context.Context) (*Result, error) {
	st, release, err := e.begin(ctx, false)
	if err != nil {
		return nil, err
	}
	defer release()

	report := st.report
	if errs := report.Filter(diff.AccessError); len(errs) > 0 {
		return nil, errs[0].Err
	}

	var work plan
	for _, entry := range report.Filter(diff.ModifiedLocally, diff.DeletedLocally, diff.AddedLocally, diff.Conflicted) {
		if entry.Base.IsZero() {
			work.remove = append(work.remove, entry)
			continue
		}
		work.fetch = append(work.fetch, target{entry: entry, want: entry.Base})
	}

	if work.empty() {
		e.logger.Info("[revert] nothing to revert")
		return &Result{}, nil
	}

	restored, removed, err := e.apply(ctx, "revert", st.root, work)
	if err != nil {
		return nil, err
	}

	e.logger.Info("[revert] done", "restored", len(restored), "removed", len(removed))
	return &Result{Restored: restored, Removed: removed}, nil
}

// asRemoteMissing turns a not-found fetch into the error callers act on.
func asRemoteMissing(err error, paths []string) error {
	if errors.Is(err, store.ErrNotFound) {
		return &RemoteMissingError{Paths: paths}
	}
	return err
}
