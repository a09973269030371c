// Package store implements the object store capability set.
//
// A Store is keyed by content digest and only ever grows during normal
// operation:
// - Exists/Get/Put for transfers, Delete reserved for pruning
// - Put is idempotent, an existing object is never overwritten
// - decorators (retry, verification, tiering) wrap any backend
package store

import (
	"context"
	"errors"

	"github.com/aweris/chonky/internal/digest"
)

var (
	// ErrNotFound is returned by Get when the object is absent.
	ErrNotFound = errors.New("chonky: object not found")
	// ErrTransfer wraps I/O failures talking to a backend.
	ErrTransfer = errors.New("chonky: transfer failed")
	// ErrHashMismatch means the bytes do not hash to the requested digest.
	ErrHashMismatch = errors.New("chonky: hash mismatch")
)

// Store handles content-addressed object storage.
type Store interface {
	// Exists reports whether an object is present.
	Exists(ctx context.Context, d digest.Digest) (bool, error)

	// Get retrieves an object.
	Get(ctx context.Context, d digest.Digest) ([]byte, error)

	// Put stores an object under its digest. A no-op if it already exists.
	Put(ctx context.Context, d digest.Digest, data []byte) error

	// Delete removes an object (pruning only).
	Delete(ctx context.Context, d digest.Digest) error
}
