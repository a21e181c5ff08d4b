// Package reconcile repairs drift between the lot book's belief and the
// brokerage's authoritative holdings. Brokerage truth wins for total
// quantity, never for attribution: unexplained quantity goes through the
// evidence resolver before a lot is synthesized for it. The output is a full
// replacement of the positions view, never a partial patch.
package reconcile

import (
	"fmt"
	"sort"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/rollingk/trader/internal/broker"
	"github.com/rollingk/trader/internal/krx"
	"github.com/rollingk/trader/internal/lots"
	"github.com/rollingk/trader/internal/metrics"
	"github.com/rollingk/trader/internal/recovery"
)

// Clamp records one local-exceeds-brokerage correction.
type Clamp struct {
	Code       string `json:"code"`
	RemovedQty int    `json:"removed_qty"`
	Reason     string `json:"reason"`
}

// ForcedClose records lots zeroed because the brokerage reports the code flat.
type ForcedClose struct {
	Code      string `json:"code"`
	ClosedQty int    `json:"closed_qty"`
}

// Orphan records brokerage quantity no local lot explained and how its
// attribution was resolved.
type Orphan struct {
	Code       string              `json:"code"`
	Qty        int                 `json:"qty"`
	Resolution recovery.Resolution `json:"resolution"`
}

// Report is the corrected, brokerage-consistent view for one cycle.
type Report struct {
	Clamps       []Clamp         `json:"clamps"`
	ForcedCloses []ForcedClose   `json:"forced_closes"`
	Orphans      []Orphan        `json:"orphans"`
	Positions    []lots.Position `json:"positions"`
}

// Engine reconciles a lot book against a holdings snapshot once per cycle.
type Engine struct {
	resolver *recovery.Resolver
	now      func() time.Time
}

// New returns an engine using the given resolver.
func New(resolver *recovery.Resolver) *Engine {
	return &Engine{resolver: resolver, now: krx.Now}
}

// WithClock overrides the engine clock. Test hook.
func (e *Engine) WithClock(now func() time.Time) *Engine {
	e.now = now
	return e
}

type holdingAgg struct {
	qty      int
	avgPrice float64
}

func normalizeHoldings(holdings []broker.Holding) map[string]holdingAgg {
	out := make(map[string]holdingAgg, len(holdings))
	for _, h := range holdings {
		code := krx.NormalizeCode(h.Code)
		if code == "" || h.Qty <= 0 {
			continue
		}
		agg := out[code]
		agg.qty += h.Qty
		if agg.avgPrice == 0 {
			agg.avgPrice = h.AvgPrice
		}
		out[code] = agg
	}
	return out
}

// Reconcile mutates book into a brokerage-consistent state and reports every
// correction. Evidence is gathered by the caller; the book's own open lots
// are merged into it here so the resolver always sees them.
func (e *Engine) Reconcile(book *lots.Book, holdings []broker.Holding, evidence recovery.Evidence) Report {
	now := e.now()
	byCode := normalizeHoldings(holdings)
	report := Report{}

	// Local lots for codes the brokerage reports flat are wrong by
	// definition; force them closed regardless of local belief.
	for _, code := range book.OpenCodes() {
		if _, held := byCode[code]; held {
			continue
		}
		closed := book.ForceCloseCode(code, now)
		if closed > 0 {
			metrics.ReconcileForcedCloses.Inc()
			log.Warn().
				Str("code", code).
				Int("closed_qty", closed).
				Str("reason", "broker_reports_flat").
				Msg("force-closed local lots")
			report.ForcedCloses = append(report.ForcedCloses, ForcedClose{Code: code, ClosedQty: closed})
		}
	}

	evidence.OpenLots = openLotEvidence(book)

	codes := make([]string, 0, len(byCode))
	for code := range byCode {
		codes = append(codes, code)
	}
	sort.Strings(codes)
	for _, code := range codes {
		agg := byCode[code]
		local := book.RemainingForCode(code)
		switch {
		case local > agg.qty:
			removed := book.ClampToTotal(code, agg.qty, now)
			metrics.ReconcileClamps.Inc()
			log.Warn().
				Str("code", code).
				Int("local_qty", local).
				Int("broker_qty", agg.qty).
				Int("removed_qty", removed).
				Str("reason", "broker_qty_lower").
				Msg("clamped local lots to brokerage quantity")
			report.Clamps = append(report.Clamps, Clamp{Code: code, RemovedQty: removed, Reason: "broker_qty_lower"})
		case local < agg.qty:
			orphanQty := agg.qty - local
			resolution := e.resolver.Resolve(evidence, code)
			e.synthesize(book, code, orphanQty, agg.avgPrice, resolution, now, len(report.Orphans))
			metrics.OrphanQty.Add(float64(orphanQty))
			outcome := resolution.StrategyID
			if resolution.Manual {
				outcome = recovery.Manual
			}
			metrics.RecoveryResolutions.WithLabelValues(outcome).Inc()
			log.Warn().
				Str("code", code).
				Int("orphan_qty", orphanQty).
				Str("strategy_id", resolution.StrategyID).
				Float64("confidence", resolution.Confidence).
				Strs("reasons", resolution.Reasons).
				Msg("synthesized lot for unexplained brokerage quantity")
			report.Orphans = append(report.Orphans, Orphan{Code: code, Qty: orphanQty, Resolution: resolution})
		}
	}

	report.Positions = book.Positions()
	return report
}

func (e *Engine) synthesize(book *lots.Book, code string, qty int, avgPrice float64, res recovery.Resolution, now time.Time, seq int) {
	meta := map[string]any{
		"reconciled":          true,
		"recovery_confidence": res.Confidence,
		"recovery_reasons":    res.Reasons,
	}
	if res.Manual {
		// Automated selling stays forbidden until a human clears the flag.
		meta["sell_blocked"] = true
	}
	book.RecordBuy(lots.Lot{
		LotID:      fmt.Sprintf("%s-RECON-%d-%d", code, now.Unix(), seq),
		Code:       code,
		StrategyID: res.StrategyID,
		Engine:     "recovery",
		EntryTS:    now,
		EntryPrice: avgPrice,
		Qty:        qty,
		Remaining:  qty,
		Meta:       meta,
	})
}

func openLotEvidence(book *lots.Book) []recovery.OpenLot {
	var out []recovery.OpenLot
	for _, lot := range book.Lots() {
		if !lot.Open() {
			continue
		}
		out = append(out, recovery.OpenLot{
			Code:       lot.Code,
			StrategyID: lot.StrategyID,
			Remaining:  lot.Remaining,
		})
	}
	return out
}
