// Package lots tracks open buy lots per instrument and strategy and matches
// sells against them FIFO. The book is the local model of "what we bought,
// at what price, still owned by which strategy"; reconciliation may clamp it
// down against brokerage truth but only replayed fills ever increase it.
package lots

import (
	"sort"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/rollingk/trader/internal/krx"
)

// Strategy ids reserved for lots whose attribution is not a real strategy.
// Lots under these ids never win DominantStrategy.
const (
	StrategyManual  = "MANUAL"
	StrategyUnknown = "UNKNOWN"
)

// Lot is a single buy fill, tracked until fully sold.
type Lot struct {
	LotID      string         `json:"lot_id"`
	Code       string         `json:"code"`
	StrategyID string         `json:"strategy_id"`
	Engine     string         `json:"engine"`
	EntryTS    time.Time      `json:"entry_ts"`
	EntryPrice float64        `json:"entry_price"`
	Qty        int            `json:"qty"`
	Remaining  int            `json:"remaining_qty"`
	LastSellTS time.Time      `json:"last_sell_ts,omitempty"`
	Meta       map[string]any `json:"meta,omitempty"`
}

// SellBlocked reports whether automated selling of this lot is forbidden
// (manually-attributed lots pending human confirmation).
func (l *Lot) SellBlocked() bool {
	v, ok := l.Meta["sell_blocked"]
	if !ok {
		return false
	}
	b, ok := v.(bool)
	return ok && b
}

// Open reports whether any quantity remains.
func (l *Lot) Open() bool { return l.Remaining > 0 }

// SellOptions controls ApplySell matching.
type SellOptions struct {
	// StrategyID restricts the first matching pass to one strategy.
	// Empty means unfiltered.
	StrategyID string
	// AllowBlocked includes sell_blocked lots in matching.
	AllowBlocked bool
}

// Book holds all lots. Not safe for concurrent use; the engine runs a single
// synchronous cycle per process.
type Book struct {
	lots []*Lot
}

// NewBook returns an empty book.
func NewBook() *Book { return &Book{} }

// Lots returns the underlying lots, oldest entry first.
func (b *Book) Lots() []*Lot {
	b.sortByEntry()
	return b.lots
}

func (b *Book) sortByEntry() {
	sort.SliceStable(b.lots, func(i, j int) bool {
		return b.lots[i].EntryTS.Before(b.lots[j].EntryTS)
	})
}

// RecordBuy appends a new open lot. Recording an already-known lot id is a
// no-op, which makes fill replay idempotent.
func (b *Book) RecordBuy(lot Lot) {
	for _, existing := range b.lots {
		if existing.LotID == lot.LotID {
			return
		}
	}
	lot.Code = krx.NormalizeCode(lot.Code)
	if lot.Remaining == 0 {
		lot.Remaining = lot.Qty
	}
	if lot.Meta == nil {
		lot.Meta = map[string]any{}
	}
	copied := lot
	b.lots = append(b.lots, &copied)
}

// restore re-attaches a persisted lot as-is, preserving remaining quantity.
func (b *Book) restore(lot *Lot) {
	for _, existing := range b.lots {
		if existing.LotID == lot.LotID {
			return
		}
	}
	if lot.Meta == nil {
		lot.Meta = map[string]any{}
	}
	b.lots = append(b.lots, lot)
}

// ApplySell consumes open lots for code in entry-time order until qty is
// satisfied, and returns the quantity it could not match. Pass one honors
// opts.StrategyID; when a filter was given and quantity remains, a second
// unfiltered pass consumes other strategies' lots. That cross-strategy
// spillover mirrors how an account-level sell must land somewhere locally;
// it is logged with its own reason so it stays auditable.
func (b *Book) ApplySell(code string, qty int, ts time.Time, opts SellOptions) int {
	if qty <= 0 {
		return 0
	}
	code = krx.NormalizeCode(code)
	b.sortByEntry()

	remaining := b.consume(code, qty, ts, opts.StrategyID, opts.AllowBlocked)
	if remaining > 0 && opts.StrategyID != "" {
		spilled := remaining
		remaining = b.consume(code, remaining, ts, "", opts.AllowBlocked)
		if spilled != remaining {
			log.Warn().
				Str("code", code).
				Str("strategy_id", opts.StrategyID).
				Int("spill_qty", spilled-remaining).
				Str("reason", "cross_strategy_spill").
				Msg("sell spilled into other strategies' lots")
		}
	}
	return remaining
}

func (b *Book) consume(code string, qty int, ts time.Time, strategyID string, allowBlocked bool) int {
	for _, lot := range b.lots {
		if qty <= 0 {
			break
		}
		if lot.Code != code || !lot.Open() {
			continue
		}
		if !allowBlocked && lot.SellBlocked() {
			continue
		}
		if strategyID != "" && lot.StrategyID != strategyID {
			continue
		}
		delta := lot.Remaining
		if qty < delta {
			delta = qty
		}
		lot.Remaining -= delta
		lot.LastSellTS = ts
		qty -= delta
	}
	return qty
}

// RemainingForStrategy sums open quantity for one (code, strategy).
func (b *Book) RemainingForStrategy(code, strategyID string) int {
	code = krx.NormalizeCode(code)
	total := 0
	for _, lot := range b.lots {
		if lot.Code == code && lot.StrategyID == strategyID && lot.Open() {
			total += lot.Remaining
		}
	}
	return total
}

// RemainingForCode sums open quantity for one code across all strategies.
func (b *Book) RemainingForCode(code string) int {
	code = krx.NormalizeCode(code)
	total := 0
	for _, lot := range b.lots {
		if lot.Code == code && lot.Open() {
			total += lot.Remaining
		}
	}
	return total
}

// RemainingByStrategy breaks down open quantity for one code by strategy id.
func (b *Book) RemainingByStrategy(code string) map[string]int {
	code = krx.NormalizeCode(code)
	out := make(map[string]int)
	for _, lot := range b.lots {
		if lot.Code == code && lot.Open() {
			out[lot.StrategyID] += lot.Remaining
		}
	}
	return out
}

// DominantStrategy returns the real strategy holding the largest open
// quantity for code. MANUAL/UNKNOWN lots never qualify; used when a sell
// signal arrives without strategy attribution.
func (b *Book) DominantStrategy(code string) (string, bool) {
	totals := b.RemainingByStrategy(code)
	best, bestQty := "", 0
	for sid, q := range totals {
		if sid == StrategyManual || sid == StrategyUnknown {
			continue
		}
		if q > bestQty || (q == bestQty && best != "" && sid < best) {
			best, bestQty = sid, q
		}
	}
	return best, best != ""
}

// ForceCloseCode zeroes every open lot for code and returns the quantity
// discarded. Used by reconciliation when the brokerage reports the
// instrument flat; brokerage truth wins for totals.
func (b *Book) ForceCloseCode(code string, ts time.Time) int {
	code = krx.NormalizeCode(code)
	closed := 0
	for _, lot := range b.lots {
		if lot.Code != code || !lot.Open() {
			continue
		}
		closed += lot.Remaining
		lot.Remaining = 0
		lot.LastSellTS = ts
	}
	return closed
}

// ClampToTotal reduces open quantity for code down to target, consuming the
// newest lots first so the oldest lots keep their attribution. It returns
// the quantity removed. Quantity is only ever clamped down here; increases
// come exclusively from replayed fills.
func (b *Book) ClampToTotal(code string, target int, ts time.Time) int {
	code = krx.NormalizeCode(code)
	excess := b.RemainingForCode(code) - target
	if excess <= 0 {
		return 0
	}
	b.sortByEntry()
	removed := 0
	for i := len(b.lots) - 1; i >= 0 && excess > 0; i-- {
		lot := b.lots[i]
		if lot.Code != code || !lot.Open() {
			continue
		}
		delta := lot.Remaining
		if excess < delta {
			delta = excess
		}
		lot.Remaining -= delta
		lot.LastSellTS = ts
		excess -= delta
		removed += delta
	}
	return removed
}

// OpenCodes lists codes with any open quantity, sorted.
func (b *Book) OpenCodes() []string {
	seen := make(map[string]bool)
	for _, lot := range b.lots {
		if lot.Open() {
			seen[lot.Code] = true
		}
	}
	codes := make([]string, 0, len(seen))
	for code := range seen {
		codes = append(codes, code)
	}
	sort.Strings(codes)
	return codes
}

// Position is the derived per-(code, strategy) view over open lots.
type Position struct {
	Code        string
	StrategyID  string
	TotalQty    int
	AvgBuyPrice float64
	EarliestTS  time.Time
}

// Positions groups open lots into derived positions, never persisted as
// primary truth.
func (b *Book) Positions() []Position {
	type agg struct {
		qty      int
		cost     float64
		earliest time.Time
	}
	byKey := make(map[[2]string]*agg)
	for _, lot := range b.lots {
		if !lot.Open() {
			continue
		}
		key := [2]string{lot.Code, lot.StrategyID}
		a, ok := byKey[key]
		if !ok {
			a = &agg{earliest: lot.EntryTS}
			byKey[key] = a
		}
		a.qty += lot.Remaining
		a.cost += float64(lot.Remaining) * lot.EntryPrice
		if lot.EntryTS.Before(a.earliest) {
			a.earliest = lot.EntryTS
		}
	}
	out := make([]Position, 0, len(byKey))
	for key, a := range byKey {
		out = append(out, Position{
			Code:        key[0],
			StrategyID:  key[1],
			TotalQty:    a.qty,
			AvgBuyPrice: a.cost / float64(a.qty),
			EarliestTS:  a.earliest,
		})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Code != out[j].Code {
			return out[i].Code < out[j].Code
		}
		return out[i].StrategyID < out[j].StrategyID
	})
	return out
}
