// Package digest implements content addressing for workspace files.
//
// A Digest is the lowercase hex SHA-256 of a file's raw bytes. It names
// objects in every store backend and is the value type of manifest entries.
package digest

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"

	"github.com/spf13/afero"
)

const (
	// Size is the length of a hex encoded digest.
	Size = sha256.Size * 2

	ociPrefix = "sha256:"
)

// ErrInvalid is returned by Parse for anything that is not a hex SHA-256.
var ErrInvalid = errors.New("digest: invalid")

// Digest identifies content by its SHA-256 (e.g., "3a7bd3e2...").
// The zero value means "absent".
type Digest string

// FromBytes returns the digest of data.
func FromBytes(data []byte) Digest {
	h := sha256.Sum256(data)
	return Digest(hex.EncodeToString(h[:]))
}

// FromReader hashes r to EOF and returns the digest and byte count.
func FromReader(r io.Reader) (Digest, int64, error) {
	h := sha256.New()
	n, err := io.Copy(h, r)
	if err != nil {
		return "", n, err
	}
	return Digest(hex.EncodeToString(h.Sum(nil))), n, nil
}

// FromFile hashes the file at path on fs.
func FromFile(fs afero.Fs, path string) (Digest, error) {
	f, err := fs.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()

	d, _, err := FromReader(f)
	return d, err
}

// Parse validates s and returns it as a Digest.
// An "sha256:" prefix is accepted and stripped.
func Parse(s string) (Digest, error) {
	if len(s) == len(ociPrefix)+Size && s[:len(ociPrefix)] == ociPrefix {
		s = s[len(ociPrefix):]
	}
	if len(s) != Size {
		return "", fmt.Errorf("%w: %q has length %d", ErrInvalid, s, len(s))
	}
	for i := 0; i < len(s); i++ {
		c := s[i]
		if (c < '0' || c > '9') && (c < 'a' || c > 'f') {
			return "", fmt.Errorf("%w: %q", ErrInvalid, s)
		}
	}
	return Digest(s), nil
}

func (d Digest) String() string { return string(d) }

// IsZero reports whether d is the absent digest.
func (d Digest) IsZero() bool { return d == "" }

// OCI returns the digest in registry form ("sha256:<hex>").
func (d Digest) OCI() string { return ociPrefix + string(d) }

// Short returns an abbreviated form for log lines.
func (d Digest) Short() string {
	if len(d) <= 12 {
		return string(d)
	}
	return string(d[:12])
}

// Verify reports whether data hashes to d.
func (d Digest) Verify(data []byte) bool {
	return FromBytes(data) == d
}
