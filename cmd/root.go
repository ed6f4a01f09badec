package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/shelfmetrics/rank-cli/internal/config"
)

// cfg is populated once per invocation, before any subcommand runs.
var cfg *config.Config

var rootCmd = &cobra.Command{
	Use:   "rank-cli",
	Short: "Storefront search rank checker",
	Long: "Resolves where a catalog identifier ranks in paginated storefront search\n" +
		"results, tracking organic and promoted placements separately.",
	PersistentPreRunE: initRuntime,
	PersistentPostRun: func(*cobra.Command, []string) { _ = zap.L().Sync() },
}

// initRuntime loads configuration and installs the global logger.
func initRuntime(*cobra.Command, []string) error {
	c, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	cfg = c

	if err := config.InitLogger(cfg.Log); err != nil {
		return fmt.Errorf("init logger: %w", err)
	}
	return nil
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
