package chonky

import (
	"errors"

	"github.com/aweris/chonky/internal/engine"
	"github.com/aweris/chonky/internal/manifest"
	"github.com/aweris/chonky/internal/remote"
	"github.com/aweris/chonky/internal/store"
	"github.com/aweris/chonky/internal/workspace"
)

var (
	ErrNoManifest       = errors.New("chonky: manifest not found")
	ErrCorrupt          = manifest.ErrCorrupt
	ErrLocked           = manifest.ErrLocked
	ErrNotFound         = store.ErrNotFound
	ErrTransfer         = store.ErrTransfer
	ErrHashMismatch     = store.ErrHashMismatch
	ErrAccess           = workspace.ErrAccess
	ErrConflict         = engine.ErrConflict
	ErrRemoteMissing    = engine.ErrRemoteMissing
	ErrOutOfDate        = engine.ErrOutOfDate
	ErrWorkspaceChanged = engine.ErrWorkspaceChanged
	ErrUnknownBackend   = remote.ErrUnknownBackend
	ErrInvalidConfig    = remote.ErrInvalidConfig
)

// Typed errors carrying the affected paths.
type (
	ConflictError      = engine.ConflictError
	RemoteMissingError = engine.RemoteMissingError
	OutOfDateError     = engine.OutOfDateError
	AccessError        = workspace.AccessError
)
