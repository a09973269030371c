package engine

import (
	"errors"
	"fmt"
	"strings"

	"github.com/aweris/chonky/internal/workspace"
)

var (
	// ErrConflict matches every ConflictError.
	ErrConflict = errors.New("chonky: conflict")
	// ErrRemoteMissing matches every RemoteMissingError.
	ErrRemoteMissing = errors.New("chonky: object missing from remote")
	// ErrOutOfDate means submit found remote changes not yet synced.
	ErrOutOfDate = errors.New("chonky: pending remote changes, run sync first")
	// ErrWorkspaceChanged means a file moved under a running operation.
	ErrWorkspaceChanged = workspace.ErrChanged
)

// ConflictError lists paths changed both locally and remotely.
type ConflictError struct {
	Paths []string
}

func (e *ConflictError) Error() string {
	return "conflicts must be resolved before you can sync or submit: " + strings.Join(e.Paths, ", ")
}

func (e *ConflictError) Is(target error) bool { return target == ErrConflict }

// RemoteMissingError lists paths whose manifest digest is absent from the store.
type RemoteMissingError struct {
	Paths []string
}

func (e *RemoteMissingError) Error() string {
	return fmt.Sprintf("objects missing from the remote store for: %s", strings.Join(e.Paths, ", "))
}

func (e *RemoteMissingError) Is(target error) bool { return target == ErrRemoteMissing }

// OutOfDateError lists incoming changes that block a submit.
type OutOfDateError struct {
	Paths []string
}

func (e *OutOfDateError) Error() string {
	return fmt.Sprintf("remote changes are available for %s, run sync first", strings.Join(e.Paths, ", "))
}

func (e *OutOfDateError) Is(target error) bool { return target == ErrOutOfDate }
