package store

import (
	"context"
	"errors"
	"log/slog"

	"github.com/aweris/chonky/internal/digest"
)

// TieredStore fronts a remote store with a local cache.
//
// Reads are served from the cache when possible and fill it on a miss.
// Existence checks bypass the cache.
// Writes go to the remote first; the cache is only a copy, so cache
// failures are logged and never fail an operation.
type TieredStore struct {
	cache  Store
	remote Store
	logger *slog.Logger
}

// Tiered returns a store reading through cache into remote.
func Tiered(cache, remote Store, logger *slog.Logger) *TieredStore {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &TieredStore{cache: cache, remote: remote, logger: logger.With("comp", "cache")}
}

// Exists always asks the remote; the cache may hold objects it lacks.
func (t *TieredStore) Exists(ctx context.Context, d digest.Digest) (bool, error) {
	return t.remote.Exists(ctx, d)
}

func (t *TieredStore) Get(ctx context.Context, d digest.Digest) ([]byte, error) {
	data, err := t.cache.Get(ctx, d)
	if err == nil {
		if d.Verify(data) {
			return data, nil
		}
		// A corrupt cache entry is not a store corruption: drop it and refetch.
		t.logger.Warn("dropping corrupt cache entry", "digest", d.Short())
		_ = t.cache.Delete(ctx, d)
	} else if !errors.Is(err, ErrNotFound) {
		t.logger.Debug("cache read failed", "digest", d.Short(), "err", err)
	}

	data, err = t.remote.Get(ctx, d)
	if err != nil {
		return nil, err
	}

	if d.Verify(data) {
		if err := t.cache.Put(ctx, d, data); err != nil {
			t.logger.Warn("cache fill failed", "digest", d.Short(), "err", err)
		}
	}
	return data, nil
}

func (t *TieredStore) Put(ctx context.Context, d digest.Digest, data []byte) error {
	if err := t.remote.Put(ctx, d, data); err != nil {
		return err
	}
	if err := t.cache.Put(ctx, d, data); err != nil {
		t.logger.Warn("cache fill failed", "digest", d.Short(), "err", err)
	}
	return nil
}

func (t *TieredStore) Delete(ctx context.Context, d digest.Digest) error {
	if err := t.remote.Delete(ctx, d); err != nil {
		return err
	}
	return t.cache.Delete(ctx, d)
}

// HasLocal reports whether d is already in the cache tier.
func (t *TieredStore) HasLocal(ctx context.Context, d digest.Digest) bool {
	ok, err := t.cache.Exists(ctx, d)
	return err == nil && ok
}
