// Package workspace scans a workspace directory into per-path digests and
// writes fetched objects back into it.
//
// Files are never written in place: new content is staged into a hidden
// temporary sibling and renamed over the target once every transfer of an
// operation has succeeded.
package workspace

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"maps"
	"path/filepath"
	"slices"
	"strings"
	"sync"

	"github.com/sourcegraph/conc/pool"
	"github.com/spf13/afero"

	"github.com/aweris/chonky/internal/digest"
)

// DefaultWorkers bounds concurrent hashing when ScanOptions.Workers is unset.
const DefaultWorkers = 8

// ErrAccess marks paths that could not be read.
var ErrAccess = errors.New("chonky: access error")

// AccessError records why a single path could not be scanned.
type AccessError struct {
	Path string
	Err  error
}

func (e *AccessError) Error() string {
	return fmt.Sprintf("cannot access %s: %v", e.Path, e.Err)
}

func (e *AccessError) Unwrap() []error {
	return []error{ErrAccess, e.Err}
}

// ScanOptions tunes a scan.
type ScanOptions struct {
	// Ignore skips matching paths.
	Ignore *Matcher
	// Exclude lists relative paths that are never part of the workspace,
	// such as a manifest stored inside it.
	Exclude []string
	// Workers bounds concurrent hashing.
	Workers int
	Logger  *slog.Logger
}

// Snapshot is the hashed state of a workspace at one point in time.
type Snapshot struct {
	Files  map[string]digest.Digest
	Errors map[string]*AccessError
}

// Lookup returns the digest of a scanned file.
func (s *Snapshot) Lookup(rel string) (digest.Digest, bool) {
	d, ok := s.Files[rel]
	return d, ok
}

// Err returns the access error recorded for rel, if any.
func (s *Snapshot) Err(rel string) *AccessError {
	return s.Errors[rel]
}

// Paths returns every path seen, readable or not, sorted.
func (s *Snapshot) Paths() []string {
	paths := slices.Collect(maps.Keys(s.Files))
	for p := range s.Errors {
		paths = append(paths, p)
	}
	slices.Sort(paths)
	return paths
}

// Scan walks root and hashes every regular file. Hidden entries, ignored
// paths and excluded paths are skipped. Unreadable paths are recorded in
// Snapshot.Errors and never abort the scan. A missing root is an empty
// workspace.
func Scan(ctx context.Context, fsys afero.Fs, root string, opts ScanOptions) (*Snapshot, error) {
	logger := opts.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	workers := opts.Workers
	if workers < 1 {
		workers = DefaultWorkers
	}
	excluded := make(map[string]bool, len(opts.Exclude))
	for _, p := range opts.Exclude {
		excluded[p] = true
	}

	snap := &Snapshot{
		Files:  make(map[string]digest.Digest),
		Errors: make(map[string]*AccessError),
	}
	var mu sync.Mutex

	record := func(rel string, err error) {
		mu.Lock()
		snap.Errors[rel] = &AccessError{Path: rel, Err: err}
		mu.Unlock()
		logger.Warn("unreadable path", "path", rel, "err", err)
	}

	p := pool.New().WithMaxGoroutines(workers).WithContext(ctx)

	walkErr := afero.Walk(fsys, root, func(full string, info fs.FileInfo, err error) error {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}

		rel, relErr := relPath(root, full)
		if relErr != nil {
			return relErr
		}

		if err != nil {
			if rel == "." {
				if errors.Is(err, fs.ErrNotExist) {
					return filepath.SkipAll
				}
				return fmt.Errorf("scan %s: %w", root, err)
			}
			record(rel, err)
			if info != nil && info.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}

		if rel == "." {
			return nil
		}

		isDir := info.IsDir()
		if strings.HasPrefix(info.Name(), ".") || excluded[rel] || opts.Ignore.Match(rel, isDir) {
			if isDir {
				return filepath.SkipDir
			}
			return nil
		}

		switch {
		case isDir:
			return nil
		case info.Mode()&fs.ModeSymlink != 0:
			record(rel, errors.New("symbolic links are not supported"))
			return nil
		case !info.Mode().IsRegular():
			record(rel, fmt.Errorf("not a regular file (%s)", info.Mode().Type()))
			return nil
		}

		p.Go(func(ctx context.Context) error {
			if err := ctx.Err(); err != nil {
				return err
			}
			d, err := digest.FromFile(fsys, full)
			if err != nil {
				record(rel, err)
				return nil
			}
			mu.Lock()
			snap.Files[rel] = d
			mu.Unlock()
			return nil
		})
		return nil
	})

	poolErr := p.Wait()
	if walkErr != nil && !errors.Is(walkErr, filepath.SkipAll) {
		return nil, walkErr
	}
	if poolErr != nil {
		return nil, poolErr
	}

	logger.Debug("scanned workspace", "root", root, "files", len(snap.Files), "errors", len(snap.Errors))
	return snap, nil
}

func relPath(root, full string) (string, error) {
	rel, err := filepath.Rel(root, full)
	if err != nil {
		return "", fmt.Errorf("relative path of %s: %w", full, err)
	}
	return filepath.ToSlash(rel), nil
}
