package main

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/rollingk/trader/internal/broker"
	"github.com/rollingk/trader/internal/engine"
	"github.com/rollingk/trader/internal/exec"
	"github.com/rollingk/trader/internal/ledger"
)

// runCmd executes one trading cycle.
var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run one trading cycle",
	Long: `Run a single synchronous trading cycle: acquire the run lock, decide
the trading window, reconcile positions against brokerage holdings, act on
the resulting phase through the selected executor, and write the daily
position snapshot.

Examples:
  trader run --mode dry_run
  trader run --mode shadow --paper --candidates data/candidates.json
  trader run --mode live --window afternoon --phase entry`,
	RunE: runCycle,
}

var (
	runMode           string
	runID             string
	runWindowOverride string
	runPhaseOverride  string
	runCandidatesPath string
	runPaper          bool
)

func init() {
	rootCmd.AddCommand(runCmd)

	runCmd.Flags().StringVar(&runMode, "mode", string(exec.VariantDryRun), "Executor variant (dry_run|shadow|live)")
	runCmd.Flags().StringVar(&runID, "run-id", "", "Run id (defaults to a fresh uuid)")
	runCmd.Flags().StringVar(&runWindowOverride, "window", "auto", "Window override (auto|morning|afternoon)")
	runCmd.Flags().StringVar(&runPhaseOverride, "phase", "auto", "Phase override (auto|prep|verify|entry|exit)")
	runCmd.Flags().StringVar(&runCandidatesPath, "candidates", "", "Path to candidates json from the signal layer")
	runCmd.Flags().BoolVar(&runPaper, "paper", false, "Use the in-memory paper broker")
}

func runCycle(cmd *cobra.Command, _ []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if runID == "" {
		runID = uuid.NewString()
	}
	owner, _ := os.Hostname()
	if owner == "" {
		owner = "trader"
	}

	store := ledger.NewStore(cfg.LedgerDir, cfg.Env, runID)

	var brk broker.Broker
	if runPaper {
		paper := broker.NewPaper(cfg.Sizing.DailyCapital)
		brk = broker.NewGuard(paper, cfg.Guard)
	}

	executor, err := exec.New(exec.Variant(runMode), exec.Deps{Ledger: store, Broker: brk})
	if err != nil {
		return fmt.Errorf("select executor: %w", err)
	}

	candidates, err := loadCandidates(runCandidatesPath)
	if err != nil {
		return err
	}

	log.Info().
		Str("run_id", runID).
		Str("mode", runMode).
		Str("env", cfg.Env).
		Int("candidates", len(candidates)).
		Msg("starting cycle")

	eng := engine.New(engine.Params{
		Config:         cfg,
		RunID:          runID,
		Owner:          owner,
		Ledger:         store,
		Broker:         brk,
		Executor:       executor,
		Candidates:     candidates,
		WindowOverride: runWindowOverride,
		PhaseOverride:  runPhaseOverride,
	})
	result, err := eng.RunCycle(cmd.Context())
	if err != nil {
		return fmt.Errorf("cycle failed: %w", err)
	}
	return json.NewEncoder(os.Stdout).Encode(result)
}

func loadCandidates(path string) ([]engine.Candidate, error) {
	if path == "" {
		return nil, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read candidates %s: %w", path, err)
	}
	var candidates []engine.Candidate
	if err := json.Unmarshal(data, &candidates); err != nil {
		return nil, fmt.Errorf("parse candidates %s: %w", path, err)
	}
	return candidates, nil
}
