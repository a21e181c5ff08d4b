// Package recovery answers "which strategy most likely owns this unexplained
// position?" with a numeric confidence. Each evidence source is a pure
// function returning typed candidates; fusion is a single reduce over those
// lists. Attribution ambiguity is never guessed past the configured
// thresholds: it falls back to MANUAL with automated selling blocked.
package recovery

import (
	"fmt"
	"sort"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/rollingk/trader/internal/krx"
)

// Manual is the fallback attribution when evidence is absent or ambiguous.
const Manual = "MANUAL"

// Confidence assigned per evidence source.
const (
	confOpenLot        = 0.95
	confOrderBase      = 0.90
	confOrderRecency   = 0.09
	confFill           = 0.95
	confEventSingle    = 0.85
	confEventMulti     = 0.70
	confSelectionOne   = 0.75
	confSelectionMulti = 0.55
	confProportional   = 0.70
	confNoEvidence     = 0.40
)

// Thresholds are the resolution cut-offs, kept as named configuration
// rather than magic constants.
type Thresholds struct {
	// ConfidenceFloor is the minimum top-candidate confidence for an
	// automated resolution.
	ConfidenceFloor float64 `yaml:"confidence_floor"`
	// TieGap is the minimum lead over the runner-up; a closer race is
	// treated as ambiguous.
	TieGap float64 `yaml:"tie_gap"`
	// LookbackDays bounds order/fill evidence age.
	LookbackDays int `yaml:"lookback_days"`
}

// DefaultThresholds returns the standard cut-offs.
func DefaultThresholds() Thresholds {
	return Thresholds{ConfidenceFloor: 0.80, TieGap: 0.15, LookbackDays: 30}
}

// Candidate is one attribution guess from one evidence source.
type Candidate struct {
	StrategyID string
	Confidence float64
	Reasons    []string
}

// OpenLot is the resolver's view of an existing open lot.
type OpenLot struct {
	Code       string
	StrategyID string
	Remaining  int
}

// TradeRecord is an order-submission or fill record used as evidence.
type TradeRecord struct {
	Code       string
	Side       string
	StrategyID string
	Qty        int
	TS         time.Time
}

// EventRow is a structured event-log row carrying a strategy tag.
type EventRow struct {
	Code       string
	Side       string
	StrategyID string
	TS         time.Time
}

// Evidence is everything the resolver may consult. The caller gathers it;
// the resolver reads no files itself.
type Evidence struct {
	OpenLots []OpenLot
	Orders   []TradeRecord
	Fills    []TradeRecord
	Events   []EventRow
	// Selection maps strategy id to the codes its latest selection
	// snapshot (rebalance result) contained.
	Selection map[string][]string
}

// Resolution is the fused outcome for one unexplained quantity.
type Resolution struct {
	StrategyID string
	Confidence float64
	Reasons    []string
	// Manual marks a fallback resolution; the synthesized lot must carry
	// sell_blocked until a human clears it.
	Manual bool
}

// Resolver fuses evidence into a strategy attribution.
type Resolver struct {
	thresholds Thresholds
	now        func() time.Time
}

// NewResolver returns a resolver with the given thresholds.
func NewResolver(t Thresholds) *Resolver {
	if t.ConfidenceFloor <= 0 {
		t.ConfidenceFloor = DefaultThresholds().ConfidenceFloor
	}
	if t.TieGap <= 0 {
		t.TieGap = DefaultThresholds().TieGap
	}
	if t.LookbackDays <= 0 {
		t.LookbackDays = DefaultThresholds().LookbackDays
	}
	return &Resolver{thresholds: t, now: krx.Now}
}

// WithClock overrides the resolver clock. Test hook.
func (r *Resolver) WithClock(now func() time.Time) *Resolver {
	r.now = now
	return r
}

func realStrategy(sid string) bool {
	return sid != "" && sid != Manual && sid != lotsUnknown
}

const lotsUnknown = "UNKNOWN"

// fromOpenLots: an existing open lot under a real strategy is the strongest
// evidence; prefer it wholesale rather than re-deriving.
func (r *Resolver) fromOpenLots(ev Evidence, code string) []Candidate {
	var out []Candidate
	for _, lot := range ev.OpenLots {
		if krx.NormalizeCode(lot.Code) != code || lot.Remaining <= 0 {
			continue
		}
		if !realStrategy(lot.StrategyID) {
			continue
		}
		out = append(out, Candidate{
			StrategyID: lot.StrategyID,
			Confidence: confOpenLot,
			Reasons:    []string{"open_lot"},
		})
	}
	return out
}

// fromOrders: recent BUY order submissions, confidence decaying linearly with
// age across the lookback window.
func (r *Resolver) fromOrders(ev Evidence, code string) []Candidate {
	lookback := time.Duration(r.thresholds.LookbackDays) * 24 * time.Hour
	now := r.now()
	var out []Candidate
	for _, rec := range ev.Orders {
		if krx.NormalizeCode(rec.Code) != code || rec.Side != "BUY" {
			continue
		}
		if !realStrategy(rec.StrategyID) {
			continue
		}
		age := now.Sub(rec.TS)
		if rec.TS.IsZero() {
			age = lookback
		}
		if age > lookback {
			continue
		}
		fraction := 1 - float64(age)/float64(lookback)
		if fraction < 0 {
			fraction = 0
		}
		out = append(out, Candidate{
			StrategyID: rec.StrategyID,
			Confidence: confOrderBase + confOrderRecency*fraction,
			Reasons:    []string{"recent_order"},
		})
	}
	return out
}

// fromFills: recent BUY fills within the same lookback.
func (r *Resolver) fromFills(ev Evidence, code string) []Candidate {
	lookback := time.Duration(r.thresholds.LookbackDays) * 24 * time.Hour
	now := r.now()
	var out []Candidate
	for _, rec := range ev.Fills {
		if krx.NormalizeCode(rec.Code) != code || rec.Side != "BUY" {
			continue
		}
		if !realStrategy(rec.StrategyID) {
			continue
		}
		if !rec.TS.IsZero() && now.Sub(rec.TS) > lookback {
			continue
		}
		out = append(out, Candidate{
			StrategyID: rec.StrategyID,
			Confidence: confFill,
			Reasons:    []string{"recent_fill"},
		})
	}
	return out
}

// fromEvents scans structured event rows for strategy tags co-occurring with
// the code. One implicated strategy is strong; several are ambiguous, and
// the most frequent one is put forward with the ambiguity on record.
func (r *Resolver) fromEvents(ev Evidence, code string) []Candidate {
	counts := make(map[string]int)
	for _, row := range ev.Events {
		if krx.NormalizeCode(row.Code) != code {
			continue
		}
		if row.Side != "" && row.Side != "BUY" {
			continue
		}
		if !realStrategy(row.StrategyID) {
			continue
		}
		counts[row.StrategyID]++
	}
	if len(counts) == 0 {
		return nil
	}
	if len(counts) == 1 {
		for sid := range counts {
			return []Candidate{{StrategyID: sid, Confidence: confEventSingle, Reasons: []string{"event_log"}}}
		}
	}
	best, bestN := "", 0
	for sid, n := range counts {
		if n > bestN || (n == bestN && sid < best) {
			best, bestN = sid, n
		}
	}
	return []Candidate{{
		StrategyID: best,
		Confidence: confEventMulti,
		Reasons:    []string{fmt.Sprintf("event_log_ambiguous:%d_strategies", len(counts))},
	}}
}

// fromSelection consults selection-snapshot candidate lists.
func (r *Resolver) fromSelection(ev Evidence, code string) []Candidate {
	var containing []string
	for sid, codes := range ev.Selection {
		if !realStrategy(sid) {
			continue
		}
		for _, c := range codes {
			if krx.NormalizeCode(c) == code {
				containing = append(containing, sid)
				break
			}
		}
	}
	if len(containing) == 0 {
		return nil
	}
	sort.Strings(containing)
	if len(containing) == 1 {
		return []Candidate{{StrategyID: containing[0], Confidence: confSelectionOne, Reasons: []string{"selection_snapshot"}}}
	}
	out := make([]Candidate, 0, len(containing))
	for _, sid := range containing {
		out = append(out, Candidate{
			StrategyID: sid,
			Confidence: confSelectionMulti,
			Reasons:    []string{fmt.Sprintf("selection_snapshot_shared:%d_lists", len(containing))},
		})
	}
	return out
}

// fromProportional is the last-resort source: with no other evidence, follow
// the strategy holding the largest existing share of the instrument's lots.
func (r *Resolver) fromProportional(ev Evidence, code string) []Candidate {
	shares := make(map[string]int)
	for _, lot := range ev.OpenLots {
		if krx.NormalizeCode(lot.Code) != code || lot.Remaining <= 0 {
			continue
		}
		shares[lot.StrategyID] += lot.Remaining
	}
	if len(shares) < 2 {
		return nil
	}
	best, bestQty := "", 0
	for sid, q := range shares {
		if q > bestQty || (q == bestQty && sid < best) {
			best, bestQty = sid, q
		}
	}
	return []Candidate{{StrategyID: best, Confidence: confProportional, Reasons: []string{"proportional_share"}}}
}

// Resolve fuses all evidence for one instrument into a single attribution.
func (r *Resolver) Resolve(ev Evidence, code string) Resolution {
	code = krx.NormalizeCode(code)

	var candidates []Candidate
	for _, source := range []func(Evidence, string) []Candidate{
		r.fromOpenLots,
		r.fromOrders,
		r.fromFills,
		r.fromEvents,
		r.fromSelection,
	} {
		candidates = append(candidates, source(ev, code)...)
	}
	if len(candidates) == 0 {
		candidates = r.fromProportional(ev, code)
	}
	if len(candidates) == 0 {
		return Resolution{
			StrategyID: Manual,
			Confidence: confNoEvidence,
			Reasons:    []string{"no_evidence"},
			Manual:     true,
		}
	}

	// Merge by strategy id keeping the maximum confidence seen; equal
	// confidences concatenate reasons.
	type merged struct {
		confidence float64
		reasons    []string
	}
	bySID := make(map[string]*merged)
	for _, c := range candidates {
		m, ok := bySID[c.StrategyID]
		if !ok {
			bySID[c.StrategyID] = &merged{confidence: c.Confidence, reasons: append([]string(nil), c.Reasons...)}
			continue
		}
		switch {
		case c.Confidence > m.confidence:
			m.confidence = c.Confidence
			m.reasons = append([]string(nil), c.Reasons...)
		case c.Confidence == m.confidence:
			m.reasons = append(m.reasons, c.Reasons...)
		}
	}

	ranked := make([]Candidate, 0, len(bySID))
	for sid, m := range bySID {
		ranked = append(ranked, Candidate{StrategyID: sid, Confidence: m.confidence, Reasons: m.reasons})
	}
	sort.Slice(ranked, func(i, j int) bool {
		if ranked[i].Confidence != ranked[j].Confidence {
			return ranked[i].Confidence > ranked[j].Confidence
		}
		return ranked[i].StrategyID < ranked[j].StrategyID
	})

	top := ranked[0]
	if top.Confidence < r.thresholds.ConfidenceFloor {
		reasons := append([]string{fmt.Sprintf("low_confidence:%s=%.2f", top.StrategyID, top.Confidence)}, top.Reasons...)
		log.Warn().Str("code", code).Float64("confidence", top.Confidence).Msg("attribution below confidence floor")
		return Resolution{StrategyID: Manual, Confidence: top.Confidence, Reasons: reasons, Manual: true}
	}
	if len(ranked) > 1 {
		gap := top.Confidence - ranked[1].Confidence
		if gap < r.thresholds.TieGap {
			reasons := append(
				[]string{fmt.Sprintf("ambiguous:%s=%.2f~%s=%.2f", top.StrategyID, top.Confidence, ranked[1].StrategyID, ranked[1].Confidence)},
				top.Reasons...,
			)
			log.Warn().Str("code", code).Float64("gap", gap).Msg("attribution tie, forcing manual")
			return Resolution{StrategyID: Manual, Confidence: top.Confidence, Reasons: reasons, Manual: true}
		}
	}
	return Resolution{StrategyID: top.StrategyID, Confidence: top.Confidence, Reasons: top.Reasons}
}
