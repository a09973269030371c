// Package diff classifies every path of a workspace against the manifest
// HEAD and the workspace's base record.
//
// Three digests are compared per path, any of which may be absent:
//
//	M  manifest HEAD (shared, what the remote says)
//	B  base record (what this workspace last synchronized to)
//	W  workspace (what is on disk now)
//
// If W equals M there is nothing to do. Otherwise whichever side moved
// away from B owns the change; when both moved, the path is conflicted.
package diff

import (
	"context"
	"fmt"
	"slices"
	"sync"

	"github.com/samber/lo"
	"github.com/sourcegraph/conc/pool"

	"github.com/aweris/chonky/internal/digest"
	"github.com/aweris/chonky/internal/workspace"
)

// Status is the classification of one path.
type Status string

const (
	Unmodified      Status = "unmodified"
	MissingLocally  Status = "missingLocally"
	AddedLocally    Status = "addedLocally"
	ModifiedLocally Status = "modifiedLocally"
	DeletedLocally  Status = "deletedLocally"
	Conflicted      Status = "conflicted"
	ChangedRemotely Status = "changedRemotely"
	RemovedRemotely Status = "removedRemotely"
	RemoteMissing   Status = "remoteMissing"
	AccessError     Status = "accessError"
)

var (
	// Outgoing statuses are local changes that submit would publish.
	Outgoing = []Status{AddedLocally, ModifiedLocally, DeletedLocally}
	// Incoming statuses are remote changes that sync would apply.
	Incoming = []Status{MissingLocally, ChangedRemotely, RemovedRemotely, RemoteMissing}
)

// Entry is the diff result for one path.
type Entry struct {
	Path      string
	Status    Status
	Manifest  digest.Digest
	Base      digest.Digest
	Workspace digest.Digest
	Err       error
}

// Tracked reports whether the manifest or the base record knows the path.
func (e Entry) Tracked() bool {
	return !e.Manifest.IsZero() || !e.Base.IsZero()
}

// Report is the sorted list of classified paths.
type Report struct {
	Entries []Entry
}

// Filter returns entries with any of the given statuses, in path order.
func (r *Report) Filter(statuses ...Status) []Entry {
	return lo.Filter(r.Entries, func(e Entry, _ int) bool {
		return slices.Contains(statuses, e.Status)
	})
}

// Paths returns the paths of entries with any of the given statuses.
func (r *Report) Paths(statuses ...Status) []string {
	return lo.Map(r.Filter(statuses...), func(e Entry, _ int) string { return e.Path })
}

// Has reports whether any entry has one of the given statuses.
func (r *Report) Has(statuses ...Status) bool {
	return lo.ContainsBy(r.Entries, func(e Entry) bool {
		return slices.Contains(statuses, e.Status)
	})
}

// Counts tallies entries per status.
func (r *Report) Counts() map[Status]int {
	return lo.CountValuesBy(r.Entries, func(e Entry) Status { return e.Status })
}

// Clean reports whether the workspace matches the manifest exactly.
func (r *Report) Clean() bool {
	return lo.EveryBy(r.Entries, func(e Entry) bool { return e.Status == Unmodified })
}

// Existence answers whether the object store holds a digest.
type Existence interface {
	Exists(ctx context.Context, d digest.Digest) (bool, error)
}

// Input is the state compared by Compute.
type Input struct {
	Manifest  map[string]digest.Digest
	Base      map[string]digest.Digest
	Workspace *workspace.Snapshot
}

// Classify applies the three-way rules to one path's digests.
func Classify(m, b, w digest.Digest) Status {
	switch {
	case w == m:
		return Unmodified
	case m == b:
		switch {
		case w.IsZero():
			return DeletedLocally
		case b.IsZero():
			return AddedLocally
		default:
			return ModifiedLocally
		}
	case w == b:
		switch {
		case m.IsZero():
			return RemovedRemotely
		case w.IsZero():
			return MissingLocally
		default:
			return ChangedRemotely
		}
	default:
		return Conflicted
	}
}

// Compute classifies every path known to the manifest, the base record or
// the workspace. When exists is non-nil, digests that would be fetched are
// checked once each, concurrently, and absent ones turn their paths into
// RemoteMissing.
func Compute(ctx context.Context, in Input, exists Existence, workers int) (*Report, error) {
	snap := in.Workspace
	if snap == nil {
		snap = &workspace.Snapshot{}
	}

	paths := lo.Uniq(slices.Concat(
		lo.Keys(in.Manifest),
		lo.Keys(in.Base),
		snap.Paths(),
	))
	slices.Sort(paths)

	report := &Report{Entries: make([]Entry, 0, len(paths))}
	for _, p := range paths {
		e := Entry{
			Path:      p,
			Manifest:  in.Manifest[p],
			Base:      in.Base[p],
			Workspace: snap.Files[p],
		}

		if accessErr := snap.Err(p); accessErr != nil {
			e.Status = AccessError
			e.Err = accessErr
			report.Entries = append(report.Entries, e)
			continue
		}

		// Known only to the base record: gone on both sides already.
		if e.Manifest.IsZero() && e.Workspace.IsZero() {
			continue
		}

		e.Status = Classify(e.Manifest, e.Base, e.Workspace)
		report.Entries = append(report.Entries, e)
	}

	if exists == nil {
		return report, nil
	}

	needed := lo.Uniq(lo.Map(report.Filter(MissingLocally, ChangedRemotely), func(e Entry, _ int) digest.Digest {
		return e.Manifest
	}))
	if len(needed) == 0 {
		return report, nil
	}

	missing, err := checkExistence(ctx, needed, exists, workers)
	if err != nil {
		return nil, err
	}

	for i := range report.Entries {
		e := &report.Entries[i]
		if (e.Status == MissingLocally || e.Status == ChangedRemotely) && missing[e.Manifest] {
			e.Status = RemoteMissing
		}
	}
	return report, nil
}

func checkExistence(ctx context.Context, digests []digest.Digest, exists Existence, workers int) (map[digest.Digest]bool, error) {
	if workers < 1 {
		workers = 1
	}

	var mu sync.Mutex
	missing := make(map[digest.Digest]bool)

	p := pool.New().WithMaxGoroutines(workers).WithContext(ctx).WithCancelOnError()
	for _, d := range digests {
		p.Go(func(ctx context.Context) error {
			ok, err := exists.Exists(ctx, d)
			if err != nil {
				return fmt.Errorf("check %s: %w", d.Short(), err)
			}
			if !ok {
				mu.Lock()
				missing[d] = true
				mu.Unlock()
			}
			return nil
		})
	}
	if err := p.Wait(); err != nil {
		return nil, err
	}
	return missing, nil
}
