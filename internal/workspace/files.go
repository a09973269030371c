package workspace

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/google/uuid"
	"github.com/spf13/afero"

	"github.com/aweris/chonky/internal/digest"
)

// TempSuffix marks staged files. Staged files are also hidden, so a scan
// never mistakes an interrupted operation for committed state.
const TempSuffix = ".chonky-tmp"

// ErrChanged is returned when a file no longer holds the content it was
// scanned with.
var ErrChanged = errors.New("chonky: workspace file changed during the operation")

// Abs returns the filesystem path of a workspace-relative path.
func Abs(root, rel string) string {
	return filepath.Join(root, filepath.FromSlash(rel))
}

// Current returns the digest a workspace file holds right now, or the zero
// digest when it does not exist.
func Current(fsys afero.Fs, root, rel string) (digest.Digest, error) {
	d, err := digest.FromFile(fsys, Abs(root, rel))
	if errors.Is(err, fs.ErrNotExist) {
		return "", nil
	}
	if err != nil {
		return "", &AccessError{Path: rel, Err: err}
	}
	return d, nil
}

// ReadVerified reads a workspace file and confirms it still hashes to want.
func ReadVerified(fsys afero.Fs, root, rel string, want digest.Digest) ([]byte, error) {
	data, err := afero.ReadFile(fsys, Abs(root, rel))
	if errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("%w: %s was removed", ErrChanged, rel)
	}
	if err != nil {
		return nil, &AccessError{Path: rel, Err: err}
	}
	if got := digest.FromBytes(data); got != want {
		return nil, fmt.Errorf("%w: %s now hashes to %s, scanned as %s", ErrChanged, rel, got.Short(), want.Short())
	}
	return data, nil
}

// Staged is content written next to its target, waiting for Commit.
type Staged struct {
	Rel  string
	temp string
	fs   afero.Fs
}

// Stage writes data to a hidden temporary file beside rel.
func Stage(fsys afero.Fs, root, rel string, data []byte) (*Staged, error) {
	target := Abs(root, rel)
	dir, name := filepath.Split(target)

	if err := fsys.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create directory for %s: %w", rel, err)
	}

	temp := filepath.Join(dir, "."+name+"."+uuid.NewString()+TempSuffix)
	f, err := fsys.OpenFile(temp, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
	if err != nil {
		return nil, fmt.Errorf("stage %s: %w", rel, err)
	}
	if _, err := f.Write(data); err != nil {
		_ = f.Close()
		_ = fsys.Remove(temp)
		return nil, fmt.Errorf("stage %s: %w", rel, err)
	}
	if err := f.Close(); err != nil {
		_ = fsys.Remove(temp)
		return nil, fmt.Errorf("stage %s: %w", rel, err)
	}

	return &Staged{Rel: rel, temp: temp, fs: fsys}, nil
}

// Commit renames the staged file over its target.
func (s *Staged) Commit(root string) error {
	if err := s.fs.Rename(s.temp, Abs(root, s.Rel)); err != nil {
		return fmt.Errorf("commit %s: %w", s.Rel, err)
	}
	s.temp = ""
	return nil
}

// Discard removes the staged file if it was not committed.
func (s *Staged) Discard() {
	if s == nil || s.temp == "" {
		return
	}
	_ = s.fs.Remove(s.temp)
	s.temp = ""
}

// Remove deletes a workspace file and prunes directories it leaves empty,
// stopping at root. A file that is already gone is not an error.
func Remove(fsys afero.Fs, root, rel string) error {
	target := Abs(root, rel)
	if err := fsys.Remove(target); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("remove %s: %w", rel, err)
	}

	cleanRoot := filepath.Clean(root)
	for dir := filepath.Dir(target); dir != cleanRoot && len(dir) > len(cleanRoot); dir = filepath.Dir(dir) {
		entries, err := afero.ReadDir(fsys, dir)
		if err != nil || len(entries) > 0 {
			break
		}
		if err := fsys.Remove(dir); err != nil {
			break
		}
	}
	return nil
}
