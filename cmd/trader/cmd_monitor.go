package main

import (
	"fmt"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/rollingk/trader/internal/ledger"
	"github.com/rollingk/trader/internal/monitor"
)

// monitorCmd serves the read-only operational endpoints.
var monitorCmd = &cobra.Command{
	Use:   "monitor",
	Short: "Serve metrics and the latest position snapshot over HTTP",
	Long: `Monitor serves /metrics (prometheus), /positions (latest daily
snapshot) and /healthz. It is read-only and never mutates trading state.

Examples:
  trader monitor --addr :9187`,
	RunE: runMonitor,
}

var monitorAddr string

func init() {
	rootCmd.AddCommand(monitorCmd)

	monitorCmd.Flags().StringVar(&monitorAddr, "addr", ":9187", "Listen address")
}

func runMonitor(_ *cobra.Command, _ []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	store := ledger.NewStore(cfg.LedgerDir, cfg.Env, uuid.NewString())
	server := monitor.NewServer(store)
	if err := server.ListenAndServe(monitorAddr); err != nil {
		return fmt.Errorf("monitor server: %w", err)
	}
	return nil
}
