package chonky

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/mitchellh/go-homedir"

	"github.com/aweris/chonky/internal/diff"
	"github.com/aweris/chonky/internal/engine"
	"github.com/aweris/chonky/internal/manifest"
	"github.com/aweris/chonky/internal/remote"
	"github.com/aweris/chonky/internal/store"
)

// DefaultManifestName is the file name Locate looks for.
const DefaultManifestName = manifest.DefaultName

type (
	// Report classifies every path of a workspace.
	Report = diff.Report
	// Entry is one classified path.
	Entry = diff.Entry
	// Status is the classification of a path.
	Status = diff.Status
	// Result lists the paths an operation touched.
	Result = engine.Result
)

// Path statuses.
const (
	StatusUnmodified      = diff.Unmodified
	StatusMissingLocally  = diff.MissingLocally
	StatusAddedLocally    = diff.AddedLocally
	StatusModifiedLocally = diff.ModifiedLocally
	StatusDeletedLocally  = diff.DeletedLocally
	StatusConflicted      = diff.Conflicted
	StatusChangedRemotely = diff.ChangedRemotely
	StatusRemovedRemotely = diff.RemovedRemotely
	StatusRemoteMissing   = diff.RemoteMissing
	StatusAccessError     = diff.AccessError
)

// Client operates on one manifest and its workspace.
type Client struct {
	path    string
	engine  *engine.Engine
	closers []io.Closer
}

// Open loads the manifest at manifestPath and connects to the store it
// names. Unless WithNoCache is given, remote objects are cached under the
// cache directory, which every manifest on the machine shares.
func Open(ctx context.Context, manifestPath string, opts ...Option) (*Client, error) {
	options := defaultOptions()
	for _, opt := range opts {
		opt(options)
	}

	path := filepath.Clean(manifestPath)
	if abs, err := filepath.Abs(path); err == nil {
		path = abs
	}

	m, err := manifest.Load(options.Fs, path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("%w: Config=%s was not found", ErrNoManifest, path)
		}
		return nil, err
	}

	cfg := m.Store()
	logger := options.Logger.With("manifest", path)

	raw, err := remote.Open(ctx, cfg, remote.Options{
		Fs:      options.Fs,
		BaseDir: filepath.Dir(path),
		Auth:    options.Auth,
		Local:   store.DefaultLocalOptions(),
		Logger:  logger,
	})
	if err != nil {
		return nil, fmt.Errorf("open %s store: %w", cfg.Type, err)
	}

	c := &Client{path: path}
	c.track(raw)

	s := store.WithRetry(raw, options.Retries)
	if !options.NoCache && cfg.Type != remote.TypeLocal {
		dir, err := homedir.Expand(options.CacheDir)
		if err != nil {
			_ = c.Close()
			return nil, fmt.Errorf("expand cache dir: %w", err)
		}
		cache, err := store.NewLocal(options.Fs, dir, store.DefaultLocalOptions())
		if err != nil {
			_ = c.Close()
			return nil, fmt.Errorf("open cache: %w", err)
		}
		c.track(cache)
		logger.Debug("using object cache", "dir", dir)
		s = store.Tiered(cache, s, logger)
	}

	c.engine = engine.New(engine.Config{
		ManifestPath: path,
		Store:        store.Verified(s),
		Fs:           options.Fs,
		Workers:      options.Workers,
		Logger:       logger,
	})
	return c, nil
}

func (c *Client) track(s store.Store) {
	if closer, ok := s.(io.Closer); ok {
		c.closers = append(c.closers, closer)
	}
}

// Path returns the absolute manifest path.
func (c *Client) Path() string { return c.path }

// Root returns the workspace directory.
func (c *Client) Root() (string, error) { return c.engine.Root() }

// Status classifies every path without changing anything.
func (c *Client) Status(ctx context.Context) (*Report, error) {
	return c.engine.Status(ctx)
}

// Sync brings the workspace up to the manifest HEAD, keeping local
// changes. With force, conflicted paths take the remote version.
func (c *Client) Sync(ctx context.Context, force bool) (*Result, error) {
	return c.engine.Sync(ctx, force)
}

// Submit uploads local changes and advances the manifest.
func (c *Client) Submit(ctx context.Context) (*Result, error) {
	return c.engine.Submit(ctx)
}

// Revert discards local changes.
func (c *Client) Revert(ctx context.Context) (*Result, error) {
	return c.engine.Revert(ctx)
}

// Close releases store resources.
func (c *Client) Close() error {
	var errs []error
	for _, closer := range c.closers {
		errs = append(errs, closer.Close())
	}
	c.closers = nil
	return errors.Join(errs...)
}
