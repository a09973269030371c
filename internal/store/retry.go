package store

import (
	"context"
	"errors"
	"time"

	"github.com/aweris/chonky/internal/digest"
)

// DefaultAttempts is how often a transfer is tried before surfacing.
const DefaultAttempts = 3

// BaseDelay is the first backoff step; each retry doubles it.
var BaseDelay = 500 * time.Millisecond

type retrying struct {
	inner    Store
	attempts int
}

// WithRetry retries transient failures of inner with exponential backoff.
// ErrNotFound, ErrHashMismatch and context errors are returned immediately.
func WithRetry(inner Store, attempts int) Store {
	if attempts < 1 {
		attempts = 1
	}
	return &retrying{inner: inner, attempts: attempts}
}

func (r *retrying) Exists(ctx context.Context, d digest.Digest) (bool, error) {
	return retry(ctx, r.attempts, func() (bool, error) {
		return r.inner.Exists(ctx, d)
	})
}

func (r *retrying) Get(ctx context.Context, d digest.Digest) ([]byte, error) {
	return retry(ctx, r.attempts, func() ([]byte, error) {
		return r.inner.Get(ctx, d)
	})
}

func (r *retrying) Put(ctx context.Context, d digest.Digest, data []byte) error {
	_, err := retry(ctx, r.attempts, func() (struct{}, error) {
		return struct{}{}, r.inner.Put(ctx, d, data)
	})
	return err
}

func (r *retrying) Delete(ctx context.Context, d digest.Digest) error {
	_, err := retry(ctx, r.attempts, func() (struct{}, error) {
		return struct{}{}, r.inner.Delete(ctx, d)
	})
	return err
}

// Retryable reports whether err is worth another attempt.
func Retryable(err error) bool {
	switch {
	case err == nil:
		return false
	case errors.Is(err, ErrNotFound), errors.Is(err, ErrHashMismatch):
		return false
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return false
	}
	return true
}

func retry[T any](ctx context.Context, maxAttempts int, fn func() (T, error)) (T, error) {
	var zero T
	var lastErr error
	for i := range maxAttempts {
		result, err := fn()
		if err == nil {
			return result, nil
		}
		if !Retryable(err) {
			return zero, err
		}
		lastErr = err
		if i < maxAttempts-1 {
			delay := time.Duration(1<<i) * BaseDelay // 500ms, 1s, 2s, 4s...
			select {
			case <-ctx.Done():
				return zero, ctx.Err()
			case <-time.After(delay):
			}
		}
	}
	return zero, lastErr
}
