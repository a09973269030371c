package chonky

import (
	"log/slog"
	"os"
	"path/filepath"

	"github.com/spf13/afero"

	"github.com/aweris/chonky/internal/engine"
	"github.com/aweris/chonky/internal/remote"
	"github.com/aweris/chonky/internal/store"
)

// Authenticator provides credentials for OCI registries.
type Authenticator = remote.Authenticator

// Options configures a Client.
type Options struct {
	CacheDir string
	NoCache  bool
	Workers  int
	Retries  int
	Auth     Authenticator
	Logger   *slog.Logger
	Fs       afero.Fs
}

// Option is a functional option for configuring Open.
type Option func(*Options)

func defaultOptions() *Options {
	return &Options{
		CacheDir: DefaultCacheDir(),
		Workers:  engine.DefaultWorkers,
		Retries:  store.DefaultAttempts,
		Auth:     remote.NewEnvAuthenticator(),
		Logger:   slog.New(slog.DiscardHandler),
		Fs:       afero.NewOsFs(),
	}
}

// WithCacheDir sets the local object cache directory.
func WithCacheDir(dir string) Option {
	return func(o *Options) { o.CacheDir = dir }
}

// WithNoCache reads and writes the remote store directly.
func WithNoCache() Option {
	return func(o *Options) { o.NoCache = true }
}

// WithWorkers sets the number of parallel hashes and transfers.
func WithWorkers(n int) Option {
	return func(o *Options) {
		if n > 0 {
			o.Workers = n
		}
	}
}

// WithRetries sets how many times a failed transfer is attempted.
func WithRetries(n int) Option {
	return func(o *Options) {
		if n > 0 {
			o.Retries = n
		}
	}
}

// WithAuth sets custom registry authentication.
func WithAuth(auth Authenticator) Option {
	return func(o *Options) { o.Auth = auth }
}

// WithLogger sets the logger. Logs are discarded by default.
func WithLogger(logger *slog.Logger) Option {
	return func(o *Options) {
		if logger != nil {
			o.Logger = logger
		}
	}
}

// WithFs sets the filesystem for the manifest, workspace and local stores.
func WithFs(fs afero.Fs) Option {
	return func(o *Options) { o.Fs = fs }
}

// DefaultCacheDir returns $XDG_CACHE_HOME/chonky, falling back to
// ~/.cache/chonky.
func DefaultCacheDir() string {
	if xdg := os.Getenv("XDG_CACHE_HOME"); xdg != "" {
		return filepath.Join(xdg, "chonky")
	}
	if home, err := os.UserHomeDir(); err == nil {
		return filepath.Join(home, ".cache", "chonky")
	}
	return ".chonky-cache"
}
