package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
)

var cacheCmd = &cobra.Command{
	Use:   "cache",
	Short: "Manage the compiled graph cache",
}

var cacheClearCmd = &cobra.Command{
	Use:   "clear",
	Short: "Clear the configured graph cache",
	Long: `Clear the configured graph cache. Only the redis backend outlives a
process, so clearing the memory backend is a no-op.`,
	Args: cobra.NoArgs,
	RunE: runCacheClear,
}

func init() {
	rootCmd.AddCommand(cacheCmd)
	cacheCmd.AddCommand(cacheClearCmd)
}

func runCacheClear(cmd *cobra.Command, _ []string) error {
	cfg := currentConfig()
	cache, release, err := newGraphCache(commandContext(cmd), cfg)
	if err != nil {
		return err
	}
	defer release()

	if err := cache.Clear(commandContext(cmd)); err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "cleared %s graph cache\n", cfg.Cache.Backend)
	return nil
}
