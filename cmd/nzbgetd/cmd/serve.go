package cmd

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/nzbget-go/core/internal/app"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the download queue and post-processing daemon",
	RunE:  runServe,
}

func init() {
	Root.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, args []string) error {
	mgr, logger, err := loadManager()
	if err != nil {
		return err
	}

	svc, err := app.Build(mgr, app.NoopTransport{}, logger)
	if err != nil {
		return fmt.Errorf("build services: %w", err)
	}

	ctx, cancel := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := svc.Start(ctx); err != nil {
		return fmt.Errorf("start services: %w", err)
	}
	logger.Info("nzbgetd started", "watch_dir", mgr.GetConfig().Scanner.WatchDir)

	<-ctx.Done()
	logger.Info("shutting down")
	svc.Stop()
	return nil
}
