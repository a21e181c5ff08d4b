package main

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/rollingk/trader/internal/broker"
	"github.com/rollingk/trader/internal/krx"
	"github.com/rollingk/trader/internal/lots"
	"github.com/rollingk/trader/internal/reconcile"
	"github.com/rollingk/trader/internal/recovery"
)

// reconcileCmd repairs the lot book against a holdings snapshot without
// trading.
var reconcileCmd = &cobra.Command{
	Use:   "reconcile",
	Short: "Reconcile local lots against a brokerage holdings snapshot",
	Long: `Reconcile loads the lot book, applies a brokerage holdings snapshot
(from a json file), resolves attribution for any unexplained quantity, and
writes the corrected book back. The reconciliation report is printed to
stdout.

The holdings file is a json array of {"code","qty","avg_price"} records.

Examples:
  trader reconcile --holdings data/holdings.json`,
	RunE: runReconcile,
}

var reconcileHoldingsPath string

func init() {
	rootCmd.AddCommand(reconcileCmd)

	reconcileCmd.Flags().StringVar(&reconcileHoldingsPath, "holdings", "", "Path to holdings snapshot json (required)")
	reconcileCmd.MarkFlagRequired("holdings")
}

func runReconcile(_ *cobra.Command, _ []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	data, err := os.ReadFile(reconcileHoldingsPath)
	if err != nil {
		return fmt.Errorf("read holdings %s: %w", reconcileHoldingsPath, err)
	}
	var holdings []broker.Holding
	if err := json.Unmarshal(data, &holdings); err != nil {
		return fmt.Errorf("parse holdings %s: %w", reconcileHoldingsPath, err)
	}
	for i := range holdings {
		holdings[i].Code = krx.NormalizeCode(holdings[i].Code)
	}

	lotStore := lots.NewStore(cfg.LotStatePath)
	book, err := lotStore.Load()
	if err != nil {
		return err
	}

	// Evidence here is limited to the book's own lots; the full engine
	// cycle also feeds ledger order/fill history into the resolver.
	engine := reconcile.New(recovery.NewResolver(cfg.Recovery))
	report := engine.Reconcile(book, holdings, recovery.Evidence{})

	if err := lotStore.Save(book); err != nil {
		return err
	}
	return json.NewEncoder(os.Stdout).Encode(report)
}
