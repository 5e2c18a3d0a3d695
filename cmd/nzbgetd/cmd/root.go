// Package cmd is the cobra CLI surface for the daemon.
package cmd

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/nzbget-go/core/internal/config"
	"github.com/nzbget-go/core/internal/slogutil"
)

var configFile string

// Root is the top-level "nzbgetd" command.
var Root = &cobra.Command{
	Use:   "nzbgetd",
	Short: "nzbgetd is a binary-newsgroup download queue and post-processing daemon",
	Long: "nzbgetd owns a persistent queue of multi-file download jobs, deduplicates " +
		"across runs, renames obfuscated files as articles arrive, and drives each " +
		"job through verification/repair/unpack/cleanup stages.",
}

func init() {
	Root.PersistentFlags().StringVarP(&configFile, "config", "c", "nzbgetd.yaml", "path to the configuration file")
}

// Execute runs the root command.
func Execute() {
	if err := Root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// loadManager reads configFile and wraps it in a config.Manager, setting
// up a console logger before anything else can fail loudly.
func loadManager() (*config.Manager, *slog.Logger, error) {
	cfg, err := config.LoadConfig(configFile)
	if err != nil {
		return nil, nil, fmt.Errorf("load config: %w", err)
	}

	rc := slogutil.RotationConfig{
		File:       cfg.Log.File,
		Level:      cfg.Log.Level,
		MaxSize:    cfg.Log.MaxSize,
		MaxAge:     cfg.Log.MaxAge,
		MaxBackups: cfg.Log.MaxBackups,
		Compress:   cfg.Log.Compress,
	}
	logger, leveler := slogutil.SetupLogRotation(rc)
	slog.SetDefault(logger)

	mgr := config.NewManager(cfg, configFile)
	mgr.Registry().RegisterLogging(slogutil.NewDebugModeUpdater(leveler, cfg.Debug))
	return mgr, logger, nil
}
