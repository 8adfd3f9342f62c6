package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/dbehnke/companionlink/internal/config"
)

var (
	// Global flags
	cfgFile string

	// Loaded during PersistentPreRunE
	cfg *config.Config
)

var rootCmd = &cobra.Command{
	Use:   "companiond",
	Short: "Companion frame transport daemon",
	Long: `companiond moves whole frames between a companion application and a
BLE peer. It pairs with a six digit PIN, paces notifications, detects dead
sessions and restarts advertising with backoff.`,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if cmd.Name() == "version" {
			return nil
		}
		path := cfgFile
		if path == "" {
			path = getDefaultConfig()
		}
		cfg = config.NewConfig(path)
		if err := cfg.Load(); err != nil {
			return fmt.Errorf("failed to load config: %w", err)
		}
		if err := cfg.Validate(); err != nil {
			return fmt.Errorf("invalid config %s: %w", path, err)
		}
		return nil
	},
}

// Execute runs the root command
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

// getDefaultConfig returns the default configuration file path
func getDefaultConfig() string {
	// Check for config file in current directory first
	if _, err := os.Stat("companion.ini"); err == nil {
		return "companion.ini"
	}

	// Check system location
	systemConfig := "/etc/companion.ini"
	if _, err := os.Stat(systemConfig); err == nil {
		return systemConfig
	}

	return "companion.ini"
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&cfgFile, "config", "c", "", "config file (default is ./companion.ini, then /etc/companion.ini)")
}
