package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/nzbget-go/core/internal/config"
)

var configDir string

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Configuration file management",
}

var configInitCmd = &cobra.Command{
	Use:   "init",
	Short: "Write a default configuration file",
	RunE:  runConfigInit,
}

func init() {
	configCmd.AddCommand(configInitCmd)
	configInitCmd.Flags().StringVar(&configDir, "state-dir", "./state", "directory the daemon stores queue/history state under")
	Root.AddCommand(configCmd)
}

func runConfigInit(cmd *cobra.Command, args []string) error {
	cfg := config.DefaultConfig(configDir)
	if err := config.SaveToFile(cfg, configFile); err != nil {
		return fmt.Errorf("write default config: %w", err)
	}
	fmt.Printf("wrote default configuration to %s\n", configFile)
	return nil
}
