package engine

import (
	"context"
	"fmt"
	"slices"
	"sync"

	"github.com/samber/lo"
	"github.com/sourcegraph/conc/pool"

	"github.com/aweris/chonky/internal/diff"
	"github.com/aweris/chonky/internal/digest"
	"github.com/aweris/chonky/internal/store"
	"github.com/aweris/chonky/internal/workspace"
)

// target is a path to be rewritten with the object want.
type target struct {
	entry diff.Entry
	want  digest.Digest
}

// plan is the set of workspace writes one operation performs.
type plan struct {
	fetch  []target
	remove []diff.Entry
}

func (p plan) empty() bool {
	return len(p.fetch) == 0 && len(p.remove) == 0
}

// apply fetches every object of the plan once, stages the files, and only
// after all fetches succeeded checks that nothing moved underneath and
// commits. It returns the written and removed paths.
func (e *Engine) apply(ctx context.Context, op, root string, work plan) ([]string, []string, error) {
	if work.empty() {
		return nil, nil, nil
	}

	var (
		mu     sync.Mutex
		staged []*workspace.Staged
	)
	discard := func() {
		for _, s := range staged {
			s.Discard()
		}
	}

	byDigest := lo.GroupBy(work.fetch, func(t target) digest.Digest { return t.want })

	p := pool.New().WithMaxGoroutines(e.workers).WithContext(ctx).WithCancelOnError().WithFirstError()
	for d, targets := range byDigest {
		paths := lo.Map(targets, func(t target, _ int) string { return t.entry.Path })

		p.Go(func(ctx context.Context) error {
			data, err := e.store.Get(ctx, d)
			if err != nil {
				return fmt.Errorf("fetch %s: %w", d.Short(), asRemoteMissing(err, paths))
			}
			if !d.Verify(data) {
				return fmt.Errorf("fetch %s: %w", d.Short(), store.ErrHashMismatch)
			}

			for _, path := range paths {
				s, err := workspace.Stage(e.fs, root, path, data)
				if err != nil {
					return err
				}
				mu.Lock()
				staged = append(staged, s)
				mu.Unlock()
			}

			e.logger.Debug("["+op+"] fetched", "digest", d.Short(), "paths", len(paths), "bytes", len(data))
			return nil
		})
	}

	// Barrier: nothing below runs unless every transfer succeeded.
	if err := p.Wait(); err != nil {
		discard()
		return nil, nil, err
	}
	if err := ctx.Err(); err != nil {
		discard()
		return nil, nil, err
	}

	expected := make(map[string]digest.Digest, len(work.fetch)+len(work.remove))
	for _, t := range work.fetch {
		expected[t.entry.Path] = t.entry.Workspace
	}
	for _, entry := range work.remove {
		expected[entry.Path] = entry.Workspace
	}
	for path, want := range expected {
		got, err := workspace.Current(e.fs, root, path)
		if err != nil {
			discard()
			return nil, nil, err
		}
		if got != want {
			discard()
			return nil, nil, fmt.Errorf("%w: %s", ErrWorkspaceChanged, path)
		}
	}

	var written, removed []string
	for _, s := range staged {
		if err := s.Commit(root); err != nil {
			discard()
			return written, nil, err
		}
		written = append(written, s.Rel)
		e.logger.Info("["+op+"] updated", "path", s.Rel)
	}
	for _, entry := range work.remove {
		if err := workspace.Remove(e.fs, root, entry.Path); err != nil {
			return written, removed, err
		}
		removed = append(removed, entry.Path)
		e.logger.Info("["+op+"] removed", "path", entry.Path)
	}

	return sortedPaths(written), removed, nil
}

// upload stores the content of every outgoing entry, one transfer per
// unique digest. Each file is re-read and must still hash to its scanned
// digest.
func (e *Engine) upload(ctx context.Context, root string, entries []diff.Entry) ([]string, []string, error) {
	var (
		mu                sync.Mutex
		uploaded, skipped []string
	)

	byDigest := lo.GroupBy(entries, func(entry diff.Entry) digest.Digest { return entry.Workspace })

	p := pool.New().WithMaxGoroutines(e.workers).WithContext(ctx).WithCancelOnError().WithFirstError()
	for d, group := range byDigest {
		paths := lo.Map(group, func(entry diff.Entry, _ int) string { return entry.Path })

		p.Go(func(ctx context.Context) error {
			var data []byte
			for _, path := range paths {
				b, err := workspace.ReadVerified(e.fs, root, path, d)
				if err != nil {
					return err
				}
				data = b
			}

			ok, err := e.store.Exists(ctx, d)
			if err != nil {
				return fmt.Errorf("check %s: %w", d.Short(), err)
			}
			if ok {
				mu.Lock()
				skipped = append(skipped, paths...)
				mu.Unlock()
				e.logger.Debug("[submit] already stored", "digest", d.Short())
				return nil
			}

			if err := e.store.Put(ctx, d, data); err != nil {
				return fmt.Errorf("upload %s: %w", paths[0], err)
			}
			mu.Lock()
			uploaded = append(uploaded, paths...)
			mu.Unlock()
			e.logger.Info("[submit] uploaded", "digest", d.Short(), "paths", paths, "bytes", len(data))
			return nil
		})
	}

	if err := p.Wait(); err != nil {
		return nil, nil, err
	}
	return sortedPaths(uploaded), sortedPaths(skipped), nil
}

func sortedPaths(paths []string) []string {
	if len(paths) == 0 {
		return nil
	}
	out := lo.Uniq(paths)
	slices.Sort(out)
	return out
}
