package main

import (
	"encoding/json"
	"os"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/rollingk/trader/internal/ledger"
)

// positionsCmd prints the position view rebuilt from the ledger.
var positionsCmd = &cobra.Command{
	Use:   "positions",
	Short: "Rebuild and print positions from the ledger",
	Long: `Positions replays FILL events from the ledger over the configured
lookback window and prints the resulting position snapshot. The ledger is the
source of truth; this view is always reproducible.

Examples:
  trader positions
  trader positions --lookback-days 30`,
	RunE: runPositions,
}

var positionsLookbackDays int

func init() {
	rootCmd.AddCommand(positionsCmd)

	positionsCmd.Flags().IntVar(&positionsLookbackDays, "lookback-days", 0, "Replay window in days (0 uses the configured default)")
}

func runPositions(_ *cobra.Command, _ []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	lookback := positionsLookbackDays
	if lookback <= 0 {
		lookback = cfg.RebuildLookbackDays
	}
	store := ledger.NewStore(cfg.LedgerDir, cfg.Env, uuid.NewString())
	positions, err := store.RebuildPositions(lookback)
	if err != nil {
		return err
	}
	snap := store.PnLSnapshot(positions, nil)
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(snap)
}
