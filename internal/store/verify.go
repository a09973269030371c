package store

import (
	"context"
	"fmt"

	"github.com/aweris/chonky/internal/digest"
)

type verified struct {
	inner Store
}

// Verified checks every object crossing the boundary against its digest.
// A mismatch is ErrHashMismatch: the store is corrupt, so it is never retried.
func Verified(inner Store) Store {
	return &verified{inner: inner}
}

func (v *verified) Exists(ctx context.Context, d digest.Digest) (bool, error) {
	return v.inner.Exists(ctx, d)
}

func (v *verified) Get(ctx context.Context, d digest.Digest) ([]byte, error) {
	data, err := v.inner.Get(ctx, d)
	if err != nil {
		return nil, err
	}
	if got := digest.FromBytes(data); got != d {
		return nil, fmt.Errorf("%w: requested %s, received %s", ErrHashMismatch, d, got)
	}
	return data, nil
}

func (v *verified) Put(ctx context.Context, d digest.Digest, data []byte) error {
	if got := digest.FromBytes(data); got != d {
		return fmt.Errorf("%w: refusing to store %s under %s", ErrHashMismatch, got, d)
	}
	return v.inner.Put(ctx, d, data)
}

func (v *verified) Delete(ctx context.Context, d digest.Digest) error {
	return v.inner.Delete(ctx, d)
}
