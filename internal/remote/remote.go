// Package remote opens the object store named by a manifest's [config].
//
// Supported types:
//   - local: a directory, see store.Local
//   - s3: an S3 bucket or S3-compatible server
//   - oci: blobs in an OCI registry repository
package remote

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"

	"github.com/mitchellh/go-homedir"
	"github.com/spf13/afero"

	"github.com/aweris/chonky/internal/manifest"
	"github.com/aweris/chonky/internal/store"
)

// Store types.
const (
	TypeLocal = "local"
	TypeS3    = "s3"
	TypeOCI   = "oci"
)

var (
	// ErrUnknownBackend is returned for an unsupported [config] type.
	ErrUnknownBackend = errors.New("chonky: unknown store type")
	// ErrInvalidConfig is returned when a store type lacks a required key.
	ErrInvalidConfig = errors.New("chonky: invalid store configuration")
)

// Options carries what backends need beyond the manifest config.
type Options struct {
	// Fs backs the local store. Defaults to the OS filesystem.
	Fs afero.Fs
	// BaseDir resolves a relative local root, usually the manifest directory.
	BaseDir string
	// Auth supplies registry credentials for oci stores.
	Auth   Authenticator
	Local  store.LocalOptions
	Logger *slog.Logger
}

// Open returns the backend for cfg. The result is a raw backend; callers
// add retry, verification and caching decorators.
func Open(ctx context.Context, cfg manifest.StoreConfig, opts Options) (store.Store, error) {
	logger := opts.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	logger = logger.With("comp", "remote", "type", cfg.Type)

	switch cfg.Type {
	case TypeLocal:
		root, err := localRoot(cfg.Root, opts.BaseDir)
		if err != nil {
			return nil, err
		}
		fs := opts.Fs
		if fs == nil {
			fs = afero.NewOsFs()
		}
		logger.Debug("opening local store", "root", root)
		s, err := store.NewLocal(fs, root, opts.Local)
		if err != nil {
			return nil, err
		}
		return s, nil

	case TypeS3:
		if cfg.Bucket == "" {
			return nil, fmt.Errorf("%w: %s store requires %q", ErrInvalidConfig, cfg.Type, manifest.KeyBucket)
		}
		logger.Debug("opening s3 store", "bucket", cfg.Bucket, "endpoint", cfg.Endpoint)
		s, err := NewS3(ctx, S3Config{
			Bucket:   cfg.Bucket,
			Prefix:   cfg.Root,
			Endpoint: cfg.Endpoint,
			Region:   cfg.Region,
		})
		if err != nil {
			return nil, err
		}
		return s, nil

	case TypeOCI:
		if cfg.Repository == "" {
			return nil, fmt.Errorf("%w: %s store requires %q", ErrInvalidConfig, cfg.Type, manifest.KeyRepository)
		}
		logger.Debug("opening oci store", "repository", cfg.Repository)
		s, err := NewOCI(cfg.Repository, cfg.Insecure, opts.Auth)
		if err != nil {
			return nil, err
		}
		return s, nil
	}

	return nil, fmt.Errorf("%w: %q", ErrUnknownBackend, cfg.Type)
}

func localRoot(root, baseDir string) (string, error) {
	if root == "" {
		return "", fmt.Errorf("%w: %s store requires %q", ErrInvalidConfig, TypeLocal, manifest.KeyRoot)
	}
	expanded, err := homedir.Expand(root)
	if err != nil {
		return "", fmt.Errorf("expand %s: %w", root, err)
	}
	if !filepath.IsAbs(expanded) && baseDir != "" {
		expanded = filepath.Join(baseDir, expanded)
	}
	return filepath.Clean(expanded), nil
}
