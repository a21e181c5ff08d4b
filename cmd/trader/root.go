package main

import (
	"fmt"
	"os"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/rollingk/trader/internal/config"
)

// rootCmd is the trader CLI entrypoint.
var rootCmd = &cobra.Command{
	Use:   "trader",
	Short: "Unattended KRX equities trading engine",
	Long: `trader runs the bookkeeping core of an unattended equities trading
system: an append-only trade ledger, FIFO lot tracking, brokerage
reconciliation with evidence-based attribution recovery, and an idempotent
order executor gated by trading windows.`,
	SilenceUsage:      true,
	PersistentPreRunE: setupLogging,
}

var (
	rootConfigPath string
	rootLogLevel   string
)

func init() {
	rootCmd.PersistentFlags().StringVar(&rootConfigPath, "config", "", "Path to yaml config (defaults apply when omitted)")
	rootCmd.PersistentFlags().StringVar(&rootLogLevel, "log-level", "info", "Log level (trace|debug|info|warn|error)")
}

func setupLogging(_ *cobra.Command, _ []string) error {
	level, err := zerolog.ParseLevel(rootLogLevel)
	if err != nil {
		return fmt.Errorf("invalid log level %q: %w", rootLogLevel, err)
	}
	zerolog.SetGlobalLevel(level)
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339})
	return nil
}

func loadConfig() (config.Config, error) {
	cfg, err := config.Load(rootConfigPath)
	if err != nil {
		return config.Config{}, fmt.Errorf("load config: %w", err)
	}
	return cfg, nil
}
