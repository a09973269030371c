package manifest

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/afero"
)

// ErrLocked is returned when another operation holds the manifest lock.
var ErrLocked = errors.New("chonky: manifest is locked by another operation")

// Lock guards a manifest against concurrent operations. It is a plain
// marker file next to the manifest, created exclusively.
type Lock struct {
	fs   afero.Fs
	path string
}

// LockPath returns the lock file path for a manifest.
func LockPath(manifestPath string) string {
	dir, name := filepath.Split(manifestPath)
	return filepath.Join(dir, "."+name+".lock")
}

// Acquire takes the lock for manifestPath or fails with ErrLocked.
func Acquire(fsys afero.Fs, manifestPath string) (*Lock, error) {
	path := LockPath(manifestPath)

	f, err := fsys.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
	if errors.Is(err, fs.ErrExist) {
		return nil, fmt.Errorf("%w: remove %s if no other chonky process is running", ErrLocked, path)
	}
	if err != nil {
		return nil, fmt.Errorf("create lock %s: %w", path, err)
	}

	_, werr := fmt.Fprintf(f, "pid=%d\ntime=%s\n", os.Getpid(), time.Now().UTC().Format(time.RFC3339))
	if cerr := f.Close(); werr == nil {
		werr = cerr
	}
	if werr != nil {
		_ = fsys.Remove(path)
		return nil, fmt.Errorf("write lock %s: %w", path, werr)
	}

	return &Lock{fs: fsys, path: path}, nil
}

// Release removes the lock file. Releasing twice is harmless.
func (l *Lock) Release() error {
	if l == nil {
		return nil
	}
	if err := l.fs.Remove(l.path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("release lock %s: %w", l.path, err)
	}
	return nil
}
