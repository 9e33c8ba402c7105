// Package commands implements the offline-cache CLI.
package commands

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/always-cache/offline-cache/internal/config"
	"github.com/always-cache/offline-cache/internal/logger"
)

var (
	// Version information injected at build time.
	Version = "dev"
	Commit  = "none"
	Date    = "unknown"
)

var configFile string

var rootCmd = &cobra.Command{
	Use:   "offline-cache",
	Short: "Offline cache in front of a web portal",
	Long: `offline-cache keeps a web portal usable while its origin is unreachable.

It precaches the portal shell into a versioned cache generation, serves
same-origin GET requests cache-first (icons and logos network-first), and
answers with a 503 "Offline" response when neither network nor cache can.`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

// Execute runs the root command.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configFile, "config", "c", "", "Config file (default ./offline-cache.yaml)")

	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(generationsCmd)
	rootCmd.AddCommand(configCmd)
	rootCmd.AddCommand(versionCmd)
}

// loadConfig loads the configuration and sets up the global logger.
func loadConfig() (*config.Config, error) {
	cfg, err := config.Load(configFile)
	if err != nil {
		return nil, fmt.Errorf("could not load config: %w", err)
	}
	logger.Init(cfg.Logging.Level, cfg.Logging.Format, nil)
	return cfg, nil
}
