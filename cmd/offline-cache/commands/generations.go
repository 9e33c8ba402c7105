package commands

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/always-cache/offline-cache/cache"
	"github.com/always-cache/offline-cache/pkg/generation"
)

var showKeys bool

var generationsCmd = &cobra.Command{
	Use:     "generations",
	Aliases: []string{"gen"},
	Short:   "Inspect and delete stored cache generations",
}

var generationsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List generations carrying the configured prefix",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		storage, err := cache.New(cfg.Cache.Provider, cfg.Cache.Path)
		if err != nil {
			return err
		}
		defer storage.Close()

		current := generation.Name{Prefix: cfg.Cache.Prefix, Version: cfg.Cache.Version}
		names, err := storage.Generations(current.Prefix)
		if err != nil {
			return err
		}
		out := cmd.OutOrStdout()
		for _, name := range names {
			marker := " "
			if current.IsCurrent(name) {
				marker = "*"
			}
			fmt.Fprintf(out, "%s %s\n", marker, name)
			if !showKeys {
				continue
			}
			keys, err := storage.Keys(name)
			if err != nil {
				return err
			}
			for _, key := range keys {
				fmt.Fprintf(out, "    %s\n", key)
			}
		}
		return nil
	},
}

var generationsDeleteCmd = &cobra.Command{
	Use:   "delete <name>...",
	Short: "Delete generations by name",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		storage, err := cache.New(cfg.Cache.Provider, cfg.Cache.Path)
		if err != nil {
			return err
		}
		defer storage.Close()

		for _, name := range args {
			deleted, err := storage.DeleteGeneration(name)
			if err != nil {
				return fmt.Errorf("could not delete %s: %w", name, err)
			}
			if !deleted {
				fmt.Fprintf(cmd.OutOrStdout(), "%s: not found\n", name)
				continue
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s: deleted\n", name)
		}
		return nil
	},
}

func init() {
	generationsListCmd.Flags().BoolVar(&showKeys, "keys", false, "Also list the entry keys of each generation")
	generationsCmd.AddCommand(generationsListCmd)
	generationsCmd.AddCommand(generationsDeleteCmd)
}
