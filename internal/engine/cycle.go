// Package engine runs one synchronous trading cycle: take the run lock,
// decide the window phase, rebuild positions from the ledger, reconcile the
// lot book against brokerage holdings, then act on the phase (size and enter
// candidates, or evaluate exits) through the configured executor, and write
// the day's position snapshot. There is no intra-process parallelism; the
// concurrency concern is overlapping processes, which the lock and the
// client-order-key check cover.
package engine

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/rollingk/trader/internal/broker"
	"github.com/rollingk/trader/internal/cache"
	"github.com/rollingk/trader/internal/config"
	"github.com/rollingk/trader/internal/exec"
	"github.com/rollingk/trader/internal/krx"
	"github.com/rollingk/trader/internal/ledger"
	"github.com/rollingk/trader/internal/lockfile"
	"github.com/rollingk/trader/internal/lots"
	"github.com/rollingk/trader/internal/metrics"
	"github.com/rollingk/trader/internal/reconcile"
	"github.com/rollingk/trader/internal/recovery"
	"github.com/rollingk/trader/internal/window"
)

// Candidate is one instrument the (out-of-scope) signal layer proposes for
// entry this cycle, with its setup verdict and reference price.
type Candidate struct {
	Code    string   `json:"code"`
	Market  string   `json:"market"`
	SID     int      `json:"sid"`
	Mode    int      `json:"mode"`
	SetupOK bool     `json:"setup_ok"`
	Reasons []string `json:"reasons"`
	Price   float64  `json:"price"`

	plannedQty int
}

// Cycle outcomes.
const (
	OutcomeCompleted   = "completed"
	OutcomeLockHeld    = "lock_held"
	OutcomeNoWindow    = "no_window"
	OutcomeDiagnostics = "diagnostics"
)

// ActionRecord describes one order attempt or skip, with its reason.
type ActionRecord struct {
	Code   string `json:"code"`
	Side   string `json:"side"`
	Qty    int    `json:"qty"`
	Status string `json:"status"`
	Reason string `json:"reason,omitempty"`
}

// Result summarizes one cycle.
type Result struct {
	Outcome      string           `json:"outcome"`
	Window       string           `json:"window,omitempty"`
	Phase        string           `json:"phase,omitempty"`
	Actions      []ActionRecord   `json:"actions,omitempty"`
	Reconcile    reconcile.Report `json:"reconcile"`
	SnapshotPath string           `json:"snapshot_path,omitempty"`
}

// Params wire an Engine.
type Params struct {
	Config         config.Config
	RunID          string
	Owner          string
	Ledger         *ledger.Store
	Broker         broker.Broker // nil in dry cycles
	Executor       exec.Executor
	Candidates     []Candidate
	WindowOverride string
	PhaseOverride  string
}

// Engine executes trading cycles.
type Engine struct {
	p          Params
	lotStore   *lots.Store
	reconciler *reconcile.Engine
	quotes     *cache.Cache
	now        func() time.Time
}

// New assembles an engine from params.
func New(p Params) *Engine {
	if p.WindowOverride == "" {
		p.WindowOverride = window.OverrideAuto
	}
	if p.PhaseOverride == "" {
		p.PhaseOverride = window.OverrideAuto
	}
	return &Engine{
		p:          p,
		lotStore:   lots.NewStore(p.Config.LotStatePath),
		reconciler: reconcile.New(recovery.NewResolver(p.Config.Recovery)),
		quotes:     cache.New(time.Duration(p.Config.CacheTTLSec) * time.Second),
		now:        krx.Now,
	}
}

// WithClock overrides the engine clock. Test hook.
func (e *Engine) WithClock(now func() time.Time) *Engine {
	e.now = now
	e.reconciler.WithClock(now)
	return e
}

// RunCycle executes one full cycle. A held lock is a clean no-op outcome,
// not an error; real failures abort the cycle's remaining order actions but
// never touch already-durable ledger state.
func (e *Engine) RunCycle(ctx context.Context) (Result, error) {
	started := time.Now()
	defer func() { metrics.CycleDuration.Observe(time.Since(started).Seconds()) }()

	ttl := time.Duration(e.p.Config.LockTTLSec) * time.Second
	if err := lockfile.Acquire(e.p.Config.LockPath, e.p.Owner, e.p.RunID, ttl); err != nil {
		if errors.Is(err, lockfile.ErrHeld) {
			log.Info().Str("run_id", e.p.RunID).Str("reason", "lock_held").Msg("cycle skipped")
			metrics.CycleOutcomes.WithLabelValues(OutcomeLockHeld).Inc()
			return Result{Outcome: OutcomeLockHeld}, nil
		}
		return Result{}, fmt.Errorf("acquire run lock: %w", err)
	}
	defer func() {
		if err := lockfile.Release(e.p.Config.LockPath, e.p.Owner, e.p.RunID); err != nil {
			log.Warn().Err(err).Msg("lock release failed")
		}
	}()

	now := e.now()
	decision := e.p.Config.Windows.Decide(now, e.p.WindowOverride)
	phase := window.ResolvePhase(decision, e.p.PhaseOverride)

	result := Result{Outcome: OutcomeCompleted}
	if decision != nil {
		result.Window = decision.Name
		result.Phase = phase
	}

	book, err := e.lotStore.Load()
	if err != nil {
		return Result{}, err
	}

	if err := e.reconcileHoldings(ctx, book, &result); err != nil {
		return Result{}, err
	}
	if err := e.lotStore.Save(book); err != nil {
		return Result{}, err
	}

	switch {
	case decision == nil:
		log.Info().Str("reason", "outside_all_windows").Msg("no trading action, diagnostics only")
		result.Outcome = OutcomeNoWindow
	case phase == window.PhaseEntry:
		if err := e.runEntries(ctx, book, decision, &result); err != nil {
			return result, err
		}
	case phase == window.PhaseExit:
		if err := e.runExits(ctx, book, decision, &result); err != nil {
			return result, err
		}
	default:
		// prep and verify phases take no order actions; the
		// reconciliation and snapshot above are the point.
		log.Info().Str("window", decision.Name).Str("phase", phase).Msg("non-trading phase")
	}

	if err := e.lotStore.Save(book); err != nil {
		return result, err
	}
	if err := e.writeSnapshot(ctx, book, &result); err != nil {
		return result, err
	}
	metrics.CycleOutcomes.WithLabelValues(result.Outcome).Inc()
	log.Info().
		Str("run_id", e.p.RunID).
		Str("outcome", result.Outcome).
		Str("phase", result.Phase).
		Int("actions", len(result.Actions)).
		Msg("cycle complete")
	return result, nil
}

// reconcileHoldings pulls the brokerage holdings snapshot and repairs the
// lot book against it. Without a broker the step is skipped with a reason;
// the ledger remains authoritative for the local view.
func (e *Engine) reconcileHoldings(ctx context.Context, book *lots.Book, result *Result) error {
	if e.p.Broker == nil {
		log.Info().Str("reason", "broker_missing").Msg("holdings reconciliation skipped")
		result.Reconcile.Positions = book.Positions()
		return nil
	}
	holdings, err := e.p.Broker.Holdings(ctx)
	if err != nil {
		return fmt.Errorf("fetch holdings: %w", err)
	}
	evidence, err := e.gatherEvidence()
	if err != nil {
		return err
	}
	result.Reconcile = e.reconciler.Reconcile(book, holdings, evidence)
	return nil
}

// gatherEvidence builds the resolver's inputs from the ledger.
func (e *Engine) gatherEvidence() (recovery.Evidence, error) {
	lookback := e.p.Config.Recovery.LookbackDays
	orders, err := e.p.Ledger.Events([]string{ledger.KindOrdersIntent, ledger.KindOrdersAck}, lookback)
	if err != nil {
		return recovery.Evidence{}, fmt.Errorf("gather order evidence: %w", err)
	}
	fills, err := e.p.Ledger.Events([]string{ledger.KindFills}, lookback)
	if err != nil {
		return recovery.Evidence{}, fmt.Errorf("gather fill evidence: %w", err)
	}
	ev := recovery.Evidence{Selection: e.selectionSnapshot()}
	for _, o := range orders {
		ev.Orders = append(ev.Orders, recovery.TradeRecord{
			Code: o.Code, Side: o.Side, StrategyID: sidString(o.SID), Qty: o.Qty, TS: o.TS,
		})
		ev.Events = append(ev.Events, recovery.EventRow{
			Code: o.Code, Side: o.Side, StrategyID: sidString(o.SID), TS: o.TS,
		})
	}
	for _, f := range fills {
		ev.Fills = append(ev.Fills, recovery.TradeRecord{
			Code: f.Code, Side: f.Side, StrategyID: sidString(f.SID), Qty: f.Qty, TS: f.TS,
		})
	}
	return ev, nil
}

// runEntries sizes setup-passing candidates and submits entry orders.
// Capital is divided only among candidates that passed setup evaluation; a
// zero target quantity drops the candidate with an explicit reason, never
// silently.
func (e *Engine) runEntries(ctx context.Context, book *lots.Book, decision *window.Decision, result *Result) error {
	okCount := 0
	for i := range e.p.Candidates {
		if e.p.Candidates[i].SetupOK {
			okCount++
		}
	}
	if okCount == 0 {
		log.Info().Str("reason", "no_candidates").Msg("entry phase with nothing to size")
		return nil
	}
	capitalPer := e.p.Config.Sizing.DailyCapital * e.p.Config.Sizing.MaxFraction / float64(okCount)

	for i := range e.p.Candidates {
		cand := &e.p.Candidates[i]
		if !cand.SetupOK {
			result.Actions = append(result.Actions, ActionRecord{
				Code: cand.Code, Side: broker.SideBuy, Status: "skipped", Reason: firstReason(cand.Reasons, "setup_failed"),
			})
			continue
		}
		price, err := e.markPrice(ctx, cand.Code, cand.Price)
		if err != nil || price <= 0 {
			result.Actions = append(result.Actions, ActionRecord{
				Code: cand.Code, Side: broker.SideBuy, Status: "skipped", Reason: "no_mark_price",
			})
			continue
		}
		cand.plannedQty = int(capitalPer / price)
		if cand.plannedQty <= 0 {
			log.Info().Str("code", cand.Code).Float64("price", price).Str("reason", "planned_qty_zero").Msg("candidate dropped")
			result.Actions = append(result.Actions, ActionRecord{
				Code: cand.Code, Side: broker.SideBuy, Status: "skipped", Reason: "planned_qty_zero",
			})
			continue
		}

		intent := exec.Intent{
			Code:    cand.Code,
			Market:  cand.Market,
			SID:     cand.SID,
			Mode:    cand.Mode,
			Side:    broker.SideBuy,
			Qty:     cand.plannedQty,
			Price:   price,
			Window:  decision.Name,
			Stage:   "ENTRY",
			Reasons: cand.Reasons,
		}
		if skipped, err := e.alreadySubmitted(intent); err != nil {
			return err
		} else if skipped {
			result.Actions = append(result.Actions, ActionRecord{
				Code: cand.Code, Side: broker.SideBuy, Qty: cand.plannedQty,
				Status: exec.StatusSkippedDup, Reason: "duplicate_client_order_key",
			})
			continue
		}

		res, err := e.p.Executor.SubmitOrder(ctx, intent)
		if errors.Is(err, exec.ErrDuplicate) {
			result.Actions = append(result.Actions, ActionRecord{
				Code: cand.Code, Side: broker.SideBuy, Qty: cand.plannedQty,
				Status: exec.StatusSkippedDup, Reason: "duplicate_client_order_key",
			})
			continue
		}
		if err != nil {
			// The intent is durably recorded; surface the failure and
			// abort remaining order actions for the cycle.
			result.Actions = append(result.Actions, ActionRecord{
				Code: cand.Code, Side: broker.SideBuy, Qty: cand.plannedQty,
				Status: res.Status, Reason: firstReason(res.Reasons, "submit_failed"),
			})
			return fmt.Errorf("entry %s: %w", cand.Code, err)
		}
		result.Actions = append(result.Actions, ActionRecord{
			Code: cand.Code, Side: broker.SideBuy, Qty: cand.plannedQty, Status: res.Status,
		})
		if res.Status == exec.StatusFilled {
			book.RecordBuy(lots.Lot{
				LotID:      res.ClientOrderKey,
				Code:       cand.Code,
				StrategyID: sidString(cand.SID),
				Engine:     "entry",
				EntryTS:    e.now(),
				EntryPrice: res.FillPrice,
				Qty:        cand.plannedQty,
			})
		}
	}
	return nil
}

// runExits evaluates exit rules over the corrected positions and submits
// sell orders FIFO. Lots pending manual confirmation are skipped by the
// book's matching and reported with a reason.
func (e *Engine) runExits(ctx context.Context, book *lots.Book, decision *window.Decision, result *Result) error {
	now := e.now()
	rules := e.p.Config.Exit
	for _, pos := range book.Positions() {
		sellable := sellableQty(book, pos.Code, pos.StrategyID)
		if sellable <= 0 {
			result.Actions = append(result.Actions, ActionRecord{
				Code: pos.Code, Side: broker.SideSell, Status: "skipped", Reason: "sell_blocked",
			})
			continue
		}
		mark, err := e.markPrice(ctx, pos.Code, pos.AvgBuyPrice)
		if err != nil || mark <= 0 {
			result.Actions = append(result.Actions, ActionRecord{
				Code: pos.Code, Side: broker.SideSell, Status: "skipped", Reason: "no_mark_price",
			})
			continue
		}
		retPct := (mark - pos.AvgBuyPrice) / pos.AvgBuyPrice * 100
		holdingDays := int(now.Sub(pos.EarliestTS).Hours() / 24)

		reason := ""
		switch {
		case retPct >= rules.TakeProfitPct:
			reason = "take_profit"
		case retPct <= -rules.StopLossPct:
			reason = "stop_loss"
		case rules.TimeStopDays > 0 && holdingDays >= rules.TimeStopDays:
			reason = "time_exit"
		default:
			result.Actions = append(result.Actions, ActionRecord{
				Code: pos.Code, Side: broker.SideSell, Status: "held", Reason: "no_exit_trigger",
			})
			continue
		}

		sid := sidInt(pos.StrategyID)
		intent := exec.Intent{
			Code:    pos.Code,
			SID:     sid,
			Mode:    0,
			Side:    broker.SideSell,
			Qty:     sellable,
			Price:   mark,
			Window:  decision.Name,
			Stage:   "EXIT",
			Reasons: []string{reason},
		}
		if skipped, err := e.alreadySubmitted(intent); err != nil {
			return err
		} else if skipped {
			result.Actions = append(result.Actions, ActionRecord{
				Code: pos.Code, Side: broker.SideSell, Qty: sellable,
				Status: exec.StatusSkippedDup, Reason: "duplicate_client_order_key",
			})
			continue
		}

		res, err := e.p.Executor.SubmitExit(ctx, intent)
		if errors.Is(err, exec.ErrDuplicate) {
			result.Actions = append(result.Actions, ActionRecord{
				Code: pos.Code, Side: broker.SideSell, Qty: sellable,
				Status: exec.StatusSkippedDup, Reason: "duplicate_client_order_key",
			})
			continue
		}
		if err != nil {
			result.Actions = append(result.Actions, ActionRecord{
				Code: pos.Code, Side: broker.SideSell, Qty: sellable,
				Status: res.Status, Reason: firstReason(res.Reasons, "submit_failed"),
			})
			return fmt.Errorf("exit %s: %w", pos.Code, err)
		}
		result.Actions = append(result.Actions, ActionRecord{
			Code: pos.Code, Side: broker.SideSell, Qty: sellable, Status: res.Status, Reason: reason,
		})
		if res.Status == exec.StatusFilled {
			book.ApplySell(pos.Code, sellable, e.now(), lots.SellOptions{StrategyID: pos.StrategyID})
		}
	}
	return nil
}

// alreadySubmitted is the caller-side idempotency check the executor
// contract requires before any action; the executor re-checks internally as
// defense in depth.
func (e *Engine) alreadySubmitted(intent exec.Intent) (bool, error) {
	key := exec.ClientOrderKey(e.now(), krx.NormalizeCode(intent.Code), intent.SID, intent.Mode, intent.Side, intent.Window, intent.Stage)
	found, err := e.p.Ledger.HasClientOrderKeyWithin(key, e.p.Config.IdempotencyLookbackDays)
	if err != nil {
		return false, fmt.Errorf("idempotency check: %w", err)
	}
	if found {
		metrics.OrdersSkippedDuplicate.Inc()
		log.Info().Str("code", intent.Code).Str("key", key).Str("reason", "duplicate_client_order_key").Msg("order skipped")
	}
	return found, nil
}

// writeSnapshot rebuilds positions from the ledger (including any fills this
// cycle produced) and writes the daily PnL snapshot.
func (e *Engine) writeSnapshot(ctx context.Context, book *lots.Book, result *Result) error {
	positions, err := e.p.Ledger.RebuildPositions(e.p.Config.RebuildLookbackDays)
	if err != nil {
		return err
	}
	marks := make(map[string]float64)
	for _, code := range book.OpenCodes() {
		if price, err := e.markPrice(ctx, code, 0); err == nil && price > 0 {
			marks[code] = price
		}
	}
	snap := e.p.Ledger.PnLSnapshot(positions, marks)
	path, err := e.p.Ledger.WriteSnapshot(snap)
	if err != nil {
		return err
	}
	result.SnapshotPath = path
	return nil
}

// markPrice resolves a mark price through the cycle cache, falling back to
// the supplied reference price when no broker quote is available.
func (e *Engine) markPrice(ctx context.Context, code string, fallback float64) (float64, error) {
	if e.p.Broker == nil {
		return fallback, nil
	}
	price, err := e.quotes.GetOrFetch("quote:"+code, func() (float64, error) {
		return e.p.Broker.Quote(ctx, code)
	})
	if err != nil {
		if fallback > 0 {
			return fallback, nil
		}
		return 0, err
	}
	return price, nil
}

func sellableQty(book *lots.Book, code, strategyID string) int {
	total := 0
	for _, lot := range book.Lots() {
		if lot.Code == code && lot.StrategyID == strategyID && lot.Open() && !lot.SellBlocked() {
			total += lot.Remaining
		}
	}
	return total
}

func firstReason(reasons []string, fallback string) string {
	if len(reasons) > 0 {
		return reasons[0]
	}
	return fallback
}
