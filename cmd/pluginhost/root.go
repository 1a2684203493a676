package main

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/spf13/cobra"

	plugins "github.com/chabad360/plugins/v2"
	"github.com/chabad360/plugins/v2/sqlite"
)

type app struct {
	cfg    Config
	logger *slog.Logger
}

// NewRootCommand returns the pluginhost command tree.
func NewRootCommand(version string) *cobra.Command {
	a := &app{}
	var flags Config

	rootCmd := &cobra.Command{
		Use:   "pluginhost",
		Short: "Discover, resolve and activate modules",
		Long: `pluginhost loads every module archive in a folder, activates them in
dependency order and reports which ones loaded, failed or are disabled.

Configuration is read from PLUGINHOST_* environment variables; flags take precedence.`,
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
		CompletionOptions: cobra.CompletionOptions{
			DisableDefaultCmd: true,
		},
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			a.cfg = mergeFlags(cmd, cfg, flags)
			a.logger = newLogger(a.cfg.LogLevel, a.cfg.LogFormat, cmd.ErrOrStderr())
			return nil
		},
	}

	pf := rootCmd.PersistentFlags()
	pf.StringVar(&flags.Dir, "dir", "", "module folder (PLUGINHOST_DIR)")
	pf.StringVar(&flags.CacheDir, "cache-dir", "", "extraction cache for Go modules (PLUGINHOST_CACHE_DIR)")
	pf.StringVar(&flags.DBPath, "db", "", "SQLite database holding the exclusion set (PLUGINHOST_DB)")
	pf.StringVar(&flags.ExclusionFile, "exclusion-file", "", "YAML settings file holding the exclusion set (PLUGINHOST_EXCLUSION_FILE)")
	pf.StringVar(&flags.Extension, "ext", "", "module file extension (PLUGINHOST_EXTENSION)")
	pf.StringVar(&flags.LogLevel, "log-level", "", "debug, info, warn or error (PLUGINHOST_LOG_LEVEL)")
	pf.StringVar(&flags.LogFormat, "log-format", "", "text or json (PLUGINHOST_LOG_FORMAT)")

	rootCmd.AddCommand(newDiscoverCommand(a))
	rootCmd.AddCommand(newExcludeCommand(a))

	return rootCmd
}

// mergeFlags overrides cfg with every flag the user set.
func mergeFlags(cmd *cobra.Command, cfg, flags Config) Config {
	set := func(name string, dst *string, v string) {
		if cmd.Flags().Changed(name) {
			*dst = v
		}
	}
	set("dir", &cfg.Dir, flags.Dir)
	set("cache-dir", &cfg.CacheDir, flags.CacheDir)
	set("db", &cfg.DBPath, flags.DBPath)
	set("exclusion-file", &cfg.ExclusionFile, flags.ExclusionFile)
	set("ext", &cfg.Extension, flags.Extension)
	set("log-level", &cfg.LogLevel, flags.LogLevel)
	set("log-format", &cfg.LogFormat, flags.LogFormat)
	return cfg
}

// openStore picks the exclusion store: SQLite when a database is configured,
// then the YAML file, then memory.
func (a *app) openStore(ctx context.Context) (plugins.ExclusionStore, func() error, error) {
	switch {
	case a.cfg.DBPath != "":
		store, err := sqlite.Open(ctx, a.cfg.DBPath)
		if err != nil {
			return nil, nil, fmt.Errorf("open exclusion store: %w", err)
		}
		return store, store.Close, nil
	case a.cfg.ExclusionFile != "":
		return plugins.NewFileStore(a.cfg.ExclusionFile), func() error { return nil }, nil
	default:
		a.logger.Warn("no exclusion store configured, changes will not be kept")
		return plugins.NewMemoryStore(), func() error { return nil }, nil
	}
}

// newHost creates a PluginHost from the configuration.
func (a *app) newHost(ctx context.Context, store plugins.ExclusionStore, extra ...plugins.Option) (*plugins.PluginHost, error) {
	opts := []plugins.Option{
		plugins.WithLogger(a.logger),
		plugins.WithExclusionStore(store),
		plugins.WithExtension(a.cfg.Extension),
	}
	if a.cfg.CacheDir != "" {
		opts = append(opts, plugins.WithLoader(plugins.RuntimeGo, plugins.NewInterpLoader(a.cfg.CacheDir)))
	}
	return plugins.NewPluginHost(ctx, append(opts, extra...)...)
}
