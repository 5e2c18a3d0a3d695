package cmd

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/nzbget-go/core/internal/app"
)

var scanCmd = &cobra.Command{
	Use:   "scan <nzb-file>",
	Short: "Submit a single NZB file to the running daemon's watch directory",
	Args:  cobra.ExactArgs(1),
	RunE:  runScan,
}

func init() {
	Root.AddCommand(scanCmd)
}

func runScan(cmd *cobra.Command, args []string) error {
	mgr, logger, err := loadManager()
	if err != nil {
		return err
	}

	content, err := os.ReadFile(args[0])
	if err != nil {
		return fmt.Errorf("read nzb file: %w", err)
	}

	svc, err := app.Build(mgr, app.NoopTransport{}, logger)
	if err != nil {
		return fmt.Errorf("build services: %w", err)
	}

	ctx, cancel := context.WithCancel(cmd.Context())
	defer cancel()
	if err := svc.Scanner.Start(ctx); err != nil {
		return fmt.Errorf("start scanner: %w", err)
	}
	defer svc.Scanner.Stop()

	status, err := svc.Scanner.AddExternalFile(ctx, baseName(args[0]), content)
	if err != nil {
		return fmt.Errorf("add external file: %w", err)
	}
	fmt.Printf("scan result: %s\n", status)
	return nil
}

func baseName(path string) string {
	for i := len(path) - 1; i >= 0; i-- {
		if path[i] == '/' || path[i] == '\\' {
			return path[i+1:]
		}
	}
	return path
}
