package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/spf13/afero"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/aweris/chonky"
	"github.com/aweris/chonky/internal/logging"
)

// Exit codes.
const (
	exitOK       = 0
	exitFailure  = 1
	exitConflict = 2
)

var errNoWorkspaces = errors.New("No workspaces found")

var rootCmd = &cobra.Command{
	Use:   "chonky",
	Short: "Sync large binary assets with a content-addressed store",
	Long: `chonky keeps large binary files out of version control. A CHONKY manifest
records the digest of every tracked file; the files themselves live in a
local directory, an S3 bucket or an OCI registry.

Without --config, every CHONKY file below the current directory is used.`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

// Execute runs the CLI and exits with 2 on conflicts and 1 on any other error.
func Execute() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := rootCmd.ExecuteContext(ctx)
	stop()

	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
	}
	os.Exit(exitCode(err))
}

func exitCode(err error) int {
	switch {
	case err == nil:
		return exitOK
	case errors.Is(err, chonky.ErrConflict):
		return exitConflict
	default:
		return exitFailure
	}
}

func init() {
	cobra.OnInitialize(initConfig)

	flags := rootCmd.PersistentFlags()
	flags.String("config", "", "manifest file (default: every CHONKY file below the current directory)")
	flags.String("settings", "", "settings file (default: ~/.config/chonky/config.yaml)")
	flags.String("cache-dir", "", "object cache directory (default: ~/.cache/chonky)")
	flags.Int("workers", 0, "parallel hashes and transfers (default 8)")
	flags.Int("retries", 0, "attempts per transfer (default 3)")
	flags.String("log-level", "", "log level: debug, info, warn or error")
	flags.String("log-format", "", "console log format: text or json")
	flags.String("log-file", "", "also write JSON logs to this rotating file")
	flags.Bool("no-cache", false, "do not cache remote objects locally")

	viper.BindPFlag("cache_dir", flags.Lookup("cache-dir"))
	viper.BindPFlag("workers", flags.Lookup("workers"))
	viper.BindPFlag("retries", flags.Lookup("retries"))
	viper.BindPFlag("log_level", flags.Lookup("log-level"))
	viper.BindPFlag("log_format", flags.Lookup("log-format"))
	viper.BindPFlag("log_file", flags.Lookup("log-file"))
	viper.BindPFlag("no_cache", flags.Lookup("no-cache"))
}

func initConfig() {
	if cfg := rootCmd.PersistentFlags().Lookup("settings").Value.String(); cfg != "" {
		viper.SetConfigFile(cfg)
	} else {
		viper.AddConfigPath(configDir())
		viper.SetConfigName("config")
		viper.SetConfigType("yaml")
	}

	viper.SetEnvPrefix("CHONKY")
	viper.AutomaticEnv()
	viper.SetDefault("cache_dir", chonky.DefaultCacheDir())
	viper.SetDefault("workers", 8)
	viper.SetDefault("retries", 3)
	viper.SetDefault("log_level", "info")
	viper.SetDefault("log_format", "text")

	viper.ReadInConfig()
}

func configDir() string {
	if xdg := os.Getenv("XDG_CONFIG_HOME"); xdg != "" {
		return filepath.Join(xdg, "chonky")
	}
	if home, err := os.UserHomeDir(); err == nil {
		return filepath.Join(home, ".config", "chonky")
	}
	return ".chonky"
}

// nonZero returns the viper value, ignoring an unset flag's zero default.
func nonZero(key string, fallback int) int {
	if n := viper.GetInt(key); n > 0 {
		return n
	}
	return fallback
}

// manifests returns the manifest named by --config or every one found
// below the working directory.
func manifests(cmd *cobra.Command) ([]string, error) {
	if path, _ := cmd.Flags().GetString("config"); path != "" {
		return []string{path}, nil
	}

	cwd, err := os.Getwd()
	if err != nil {
		return nil, err
	}
	found, err := chonky.Locate(afero.NewOsFs(), cwd)
	if err != nil {
		return nil, fmt.Errorf("find manifests: %w", err)
	}
	if len(found) == 0 {
		return nil, errNoWorkspaces
	}
	return found, nil
}

// forEachWorkspace opens every manifest in turn and runs fn on it,
// stopping at the first error.
func forEachWorkspace(cmd *cobra.Command, fn func(ctx context.Context, c *chonky.Client, root string) error) error {
	paths, err := manifests(cmd)
	if err != nil {
		return err
	}

	logger, closer := logging.New(logging.Options{
		Level:  viper.GetString("log_level"),
		Format: viper.GetString("log_format"),
		File:   viper.GetString("log_file"),
		Writer: cmd.ErrOrStderr(),
	})
	defer closer.Close()

	opts := []chonky.Option{
		chonky.WithCacheDir(viper.GetString("cache_dir")),
		chonky.WithWorkers(nonZero("workers", 8)),
		chonky.WithRetries(nonZero("retries", 3)),
		chonky.WithLogger(logger),
	}
	if viper.GetBool("no_cache") {
		opts = append(opts, chonky.WithNoCache())
	}

	ctx := cmd.Context()
	for _, path := range paths {
		if err := runWorkspace(ctx, path, opts, fn); err != nil {
			return err
		}
	}
	return nil
}

func runWorkspace(ctx context.Context, path string, opts []chonky.Option, fn func(context.Context, *chonky.Client, string) error) (err error) {
	c, err := chonky.Open(ctx, path, opts...)
	if err != nil {
		return err
	}
	defer func() {
		if cerr := c.Close(); cerr != nil && err == nil {
			err = cerr
		}
	}()

	root, err := c.Root()
	if err != nil {
		return err
	}
	return fn(ctx, c, root)
}

func printHeader(w io.Writer, root string) {
	fmt.Fprintf(w, "Workspace: %s\n", root)
}
