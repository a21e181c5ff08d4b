// Package config loads the trader configuration: defaults first, then an
// optional yaml file, then environment overrides for the paths.
package config

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"

	"github.com/rollingk/trader/internal/broker"
	"github.com/rollingk/trader/internal/recovery"
	"github.com/rollingk/trader/internal/window"
)

// ExitRules are the exit-evaluation percentages applied to corrected
// positions during the exit phase.
type ExitRules struct {
	TakeProfitPct float64 `yaml:"take_profit_pct"`
	StopLossPct   float64 `yaml:"stop_loss_pct"`
	TimeStopDays  int     `yaml:"time_stop_days"`
}

// Sizing controls how cycle capital is split across candidates.
type Sizing struct {
	// DailyCapital is the cash budget for one trading cycle.
	DailyCapital float64 `yaml:"daily_capital"`
	// MaxFraction caps how much of the budget a cycle may deploy.
	MaxFraction float64 `yaml:"max_fraction"`
}

// Config is the full trader configuration.
type Config struct {
	Env          string `yaml:"env"`
	DataDir      string `yaml:"data_dir"`
	LedgerDir    string `yaml:"ledger_dir"`
	LotStatePath string `yaml:"lot_state_path"`
	LockPath     string `yaml:"lock_path"`
	LockTTLSec   int    `yaml:"lock_ttl_sec"`

	IdempotencyLookbackDays int `yaml:"idempotency_lookback_days"`
	RebuildLookbackDays     int `yaml:"rebuild_lookback_days"`
	CacheTTLSec             int `yaml:"cache_ttl_sec"`

	Windows  window.Config       `yaml:"windows"`
	Recovery recovery.Thresholds `yaml:"recovery"`
	Guard    broker.GuardConfig  `yaml:"broker_guard"`
	Sizing   Sizing              `yaml:"sizing"`
	Exit     ExitRules           `yaml:"exit"`
}

// Default returns a usable configuration without any file.
func Default() Config {
	return Config{
		Env:                     "paper",
		DataDir:                 "data",
		LockTTLSec:              900,
		IdempotencyLookbackDays: 7,
		RebuildLookbackDays:     120,
		CacheTTLSec:             10,
		Windows:                 window.DefaultConfig(),
		Recovery:                recovery.DefaultThresholds(),
		Guard:                   broker.DefaultGuardConfig(),
		Sizing:                  Sizing{DailyCapital: 10_000_000, MaxFraction: 0.9},
		Exit:                    ExitRules{TakeProfitPct: 5, StopLossPct: 3, TimeStopDays: 5},
	}
}

// Load merges defaults, the yaml file at path (skipped when path is empty),
// and environment overrides, then derives any unset paths from DataDir.
func Load(path string) (Config, error) {
	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("read config %s: %w", path, err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return Config{}, fmt.Errorf("parse config %s: %w", path, err)
		}
	}
	if v := os.Getenv("TRADER_DATA_DIR"); v != "" {
		cfg.DataDir = v
	}
	if v := os.Getenv("TRADER_ENV"); v != "" {
		cfg.Env = v
	}
	cfg.applyDerived()
	return cfg, nil
}

func (c *Config) applyDerived() {
	if c.LedgerDir == "" {
		c.LedgerDir = filepath.Join(c.DataDir, "ledger")
	}
	if c.LotStatePath == "" {
		c.LotStatePath = filepath.Join(c.DataDir, "lot_state.json")
	}
	if c.LockPath == "" {
		c.LockPath = filepath.Join(c.DataDir, "run.lock")
	}
}
