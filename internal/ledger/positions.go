package ledger

import (
	"fmt"
	"path/filepath"
	"sort"
	"time"

	"github.com/rollingk/trader/internal/atomicio"
)

// DefaultRebuildLookbackDays bounds the fill replay window.
const DefaultRebuildLookbackDays = 120

// PositionKey identifies a position: instrument, strategy, execution mode.
type PositionKey struct {
	Code string
	SID  int
	Mode int
}

// String renders the key in the snapshot form "code|sid=N|mode=M".
func (k PositionKey) String() string {
	return fmt.Sprintf("%s|sid=%d|mode=%d", k.Code, k.SID, k.Mode)
}

// PositionAccumulator is the running average-cost state for one key during
// fill replay. Derived data only; the fills remain the source of truth.
type PositionAccumulator struct {
	TotalQty          int
	TotalCost         float64
	AvgBuyPrice       float64
	HasAvg            bool
	RealizedPnL       float64
	RealizedCostBasis float64
	FirstBuyTS        time.Time
	Market            string
}

// HoldingDays counts whole days since the first open buy, -1 when unknown.
func (p *PositionAccumulator) HoldingDays(now time.Time) int {
	if p.FirstBuyTS.IsZero() {
		return -1
	}
	days := int(now.Sub(p.FirstBuyTS).Hours() / 24)
	if days < 0 {
		return 0
	}
	return days
}

func (p *PositionAccumulator) applyBuy(qty int, price float64, ts time.Time) {
	p.TotalCost += float64(qty) * price
	p.TotalQty += qty
	p.AvgBuyPrice = p.TotalCost / float64(p.TotalQty)
	p.HasAvg = true
	if p.FirstBuyTS.IsZero() {
		p.FirstBuyTS = ts
	}
}

func (p *PositionAccumulator) applySell(qty int, price float64) {
	avg := 0.0
	if p.HasAvg {
		avg = p.AvgBuyPrice
	}
	costBasis := float64(qty) * avg
	p.RealizedPnL += float64(qty)*price - costBasis
	p.RealizedCostBasis += costBasis
	p.TotalQty -= qty
	p.TotalCost -= costBasis
	if p.TotalQty <= 0 {
		p.TotalQty = 0
		p.TotalCost = 0
		p.AvgBuyPrice = 0
		p.HasAvg = false
	}
}

// RebuildPositions replays FILL events from the lookback window in timestamp
// order and returns the average-cost position per (code, sid, mode). The
// replay is deterministic: the same event sequence always yields the same
// result.
func (s *Store) RebuildPositions(lookbackDays int) (map[PositionKey]*PositionAccumulator, error) {
	fills, err := s.Events([]string{KindFills}, lookbackDays)
	if err != nil {
		return nil, fmt.Errorf("rebuild positions: %w", err)
	}
	positions := make(map[PositionKey]*PositionAccumulator)
	for _, ev := range fills {
		if ev.Qty <= 0 {
			continue
		}
		key := PositionKey{Code: ev.Code, SID: ev.SID, Mode: ev.Mode}
		acc, ok := positions[key]
		if !ok {
			acc = &PositionAccumulator{Market: ev.Market}
			positions[key] = acc
		}
		switch ev.Side {
		case "BUY":
			acc.applyBuy(ev.Qty, ev.Price, ev.TS)
		case "SELL":
			acc.applySell(ev.Qty, ev.Price)
		}
	}
	return positions, nil
}

// PositionReturns is the reporting view of one position.
type PositionReturns struct {
	Qty                 int      `json:"qty"`
	AvgBuyPrice         *float64 `json:"avg_buy_price"`
	MarkPriceUsed       *float64 `json:"mark_price_used"`
	UnrealizedReturnPct *float64 `json:"unrealized_return_pct"`
	RealizedPnL         float64  `json:"realized_pnl"`
	RealizedReturnPct   *float64 `json:"realized_return_pct_to_date"`
	HoldingDays         *int     `json:"holding_days"`
	Market              string   `json:"market,omitempty"`
}

// SnapshotTotals aggregates the portfolio.
type SnapshotTotals struct {
	TotalCost          float64 `json:"total_cost"`
	Unrealized         float64 `json:"unrealized"`
	Realized           float64 `json:"realized"`
	PortfolioReturnPct float64 `json:"portfolio_return_pct"`
}

// Snapshot is the daily position report written for downstream consumers.
type Snapshot struct {
	TS        string                     `json:"ts"`
	Positions map[string]PositionReturns `json:"positions"`
	Totals    SnapshotTotals             `json:"totals"`
}

// ComputeReturns joins positions with mark prices into the reporting view.
func (s *Store) ComputeReturns(positions map[PositionKey]*PositionAccumulator, marks map[string]float64) map[PositionKey]PositionReturns {
	now := s.now()
	out := make(map[PositionKey]PositionReturns, len(positions))
	for key, acc := range positions {
		r := PositionReturns{Qty: acc.TotalQty, RealizedPnL: acc.RealizedPnL, Market: acc.Market}
		if acc.HasAvg {
			avg := acc.AvgBuyPrice
			r.AvgBuyPrice = &avg
			if mark, ok := marks[key.Code]; ok {
				m := mark
				r.MarkPriceUsed = &m
				pct := (mark - avg) / avg * 100
				r.UnrealizedReturnPct = &pct
			}
		}
		if acc.RealizedCostBasis > 0 {
			pct := acc.RealizedPnL / acc.RealizedCostBasis * 100
			r.RealizedReturnPct = &pct
		}
		if days := acc.HoldingDays(now); days >= 0 {
			d := days
			r.HoldingDays = &d
		}
		out[key] = r
	}
	return out
}

// PnLSnapshot builds the full snapshot, positions plus portfolio totals.
func (s *Store) PnLSnapshot(positions map[PositionKey]*PositionAccumulator, marks map[string]float64) Snapshot {
	returns := s.ComputeReturns(positions, marks)
	snap := Snapshot{
		TS:        s.now().Format(time.RFC3339),
		Positions: make(map[string]PositionReturns, len(returns)),
	}
	keys := make([]PositionKey, 0, len(positions))
	for key := range positions {
		keys = append(keys, key)
	}
	sort.Slice(keys, func(i, j int) bool { return keys[i].String() < keys[j].String() })
	for _, key := range keys {
		acc := positions[key]
		r := returns[key]
		avg := 0.0
		if acc.HasAvg {
			avg = acc.AvgBuyPrice
		}
		mark := avg
		if r.MarkPriceUsed != nil {
			mark = *r.MarkPriceUsed
		}
		snap.Totals.TotalCost += avg * float64(acc.TotalQty)
		snap.Totals.Unrealized += (mark - avg) * float64(acc.TotalQty)
		snap.Totals.Realized += acc.RealizedPnL
		snap.Positions[key.String()] = r
	}
	if snap.Totals.TotalCost > 0 {
		snap.Totals.PortfolioReturnPct = snap.Totals.Unrealized / snap.Totals.TotalCost * 100
	}
	return snap
}

// WriteSnapshot atomically overwrites today's snapshot file and returns its
// path. One file per day; reruns within a day replace it wholesale.
func (s *Store) WriteSnapshot(snap Snapshot) (string, error) {
	path := s.SnapshotPath(s.now().Format("2006-01-02"))
	if err := atomicio.WriteJSON(path, snap); err != nil {
		return "", fmt.Errorf("write snapshot: %w", err)
	}
	return path, nil
}

// SnapshotPath returns the snapshot location for a calendar date.
func (s *Store) SnapshotPath(date string) string {
	return filepath.Join(s.baseDir, "reports", date, "pnl_snapshot.json")
}

// LatestSnapshotPath returns the most recent snapshot on disk, if any.
func (s *Store) LatestSnapshotPath() (string, bool) {
	matches, _ := filepath.Glob(filepath.Join(s.baseDir, "reports", "*", "pnl_snapshot.json"))
	if len(matches) == 0 {
		return "", false
	}
	sort.Strings(matches)
	return matches[len(matches)-1], true
}
