package store

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/google/uuid"
	"github.com/spf13/afero"

	"github.com/aweris/chonky/internal/compression"
	"github.com/aweris/chonky/internal/digest"
)

// LocalOptions configures a Local store.
type LocalOptions struct {
	// CacheSize bounds the in-memory object cache (0 disables it).
	CacheSize uint64
	// MaxCachedObject skips caching objects larger than this many bytes.
	MaxCachedObject int
	// CompressionLevel is 1 (fastest) to 3 (best).
	CompressionLevel int
	// Compress enables zstd for objects written from now on.
	Compress bool
}

// DefaultLocalOptions returns the options used for caches and local stores.
func DefaultLocalOptions() LocalOptions {
	return LocalOptions{
		CacheSize:        256,
		MaxCachedObject:  4 << 20,
		CompressionLevel: 2,
		Compress:         true,
	}
}

// Local implements Store on a filesystem directory.
//
// Storage layout:
//
//	basePath/
//	  objects/
//	    ab/cd123...  (content-addressed objects, compression-tagged)
//	  tmp/
//	    <uuid>       (in-flight writes, renamed into objects/)
type Local struct {
	fs         afero.Fs
	basePath   string
	cache      Cache
	compressor *compression.Compressor
}

// NewLocal opens (creating if needed) a local store rooted at basePath.
func NewLocal(fs afero.Fs, basePath string, opts LocalOptions) (*Local, error) {
	for _, dir := range []string{filepath.Join(basePath, "objects"), filepath.Join(basePath, "tmp")} {
		if err := fs.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("create directory %s: %w", dir, err)
		}
	}

	compressor, err := compression.NewCompressor(opts.CompressionLevel, opts.Compress)
	if err != nil {
		return nil, fmt.Errorf("create compressor: %w", err)
	}

	var cache Cache = noCache{}
	if opts.CacheSize > 0 {
		cache = NewMemoryCache(opts.CacheSize, opts.MaxCachedObject)
	}

	return &Local{
		fs:         fs,
		basePath:   basePath,
		cache:      cache,
		compressor: compressor,
	}, nil
}

func (s *Local) Exists(ctx context.Context, d digest.Digest) (bool, error) {
	if s.cache.Has(d) {
		return true, nil
	}

	_, err := s.fs.Stat(s.objectPath(d))
	if err == nil {
		return true, nil
	}
	if os.IsNotExist(err) {
		return false, nil
	}
	return false, fmt.Errorf("%w: stat object %s: %v", ErrTransfer, d.Short(), err)
}

func (s *Local) Get(ctx context.Context, d digest.Digest) ([]byte, error) {
	if data, ok := s.cache.Get(d); ok {
		return data, nil
	}

	encoded, err := afero.ReadFile(s.fs, s.objectPath(d))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("%w: %s", ErrNotFound, d)
		}
		return nil, fmt.Errorf("%w: read object %s: %v", ErrTransfer, d.Short(), err)
	}

	data, err := s.compressor.Decompress(encoded)
	if err != nil {
		return nil, fmt.Errorf("%w: decode object %s: %v", ErrHashMismatch, d.Short(), err)
	}

	s.cache.Add(d, data)
	return data, nil
}

func (s *Local) Put(ctx context.Context, d digest.Digest, data []byte) error {
	path := s.objectPath(d)
	if _, err := s.fs.Stat(path); err == nil {
		return nil
	}

	if err := s.fs.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("%w: create directory: %v", ErrTransfer, err)
	}

	// Write to tmp/ first so a reader never observes a partial object.
	tmp := filepath.Join(s.basePath, "tmp", uuid.NewString())
	if err := afero.WriteFile(s.fs, tmp, s.compressor.Compress(data), 0644); err != nil {
		_ = s.fs.Remove(tmp)
		return fmt.Errorf("%w: write object %s: %v", ErrTransfer, d.Short(), err)
	}
	if err := s.fs.Rename(tmp, path); err != nil {
		_ = s.fs.Remove(tmp)
		return fmt.Errorf("%w: commit object %s: %v", ErrTransfer, d.Short(), err)
	}

	s.cache.Add(d, data)
	return nil
}

func (s *Local) Delete(ctx context.Context, d digest.Digest) error {
	s.cache.Remove(d)
	if err := s.fs.Remove(s.objectPath(d)); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("%w: delete object %s: %v", ErrTransfer, d.Short(), err)
	}
	return nil
}

// Path returns where the object for d lives on disk.
func (s *Local) Path(d digest.Digest) string {
	return s.objectPath(d)
}

func (s *Local) Close() error {
	s.cache.Clear()
	return s.compressor.Close()
}

// objectPath returns the filesystem path for an object digest.
// Git-style sharding: objects/ab/cd123...
func (s *Local) objectPath(d digest.Digest) string {
	hash := d.String()
	if len(hash) < 2 {
		return filepath.Join(s.basePath, "objects", hash)
	}
	return filepath.Join(s.basePath, "objects", hash[:2], hash[2:])
}

type noCache struct{}

func (noCache) Get(digest.Digest) ([]byte, bool) { return nil, false }
func (noCache) Add(digest.Digest, []byte)        {}
func (noCache) Has(digest.Digest) bool           { return false }
func (noCache) Remove(digest.Digest)             {}
func (noCache) Clear()                           {}
