// Package exec turns order intents into ledger events through one of three
// interchangeable executor variants: dry-run (record only), shadow (validate
// against the brokerage without placing), and live (place for real). The
// variant is selected once per run, not per order. Every variant first
// records the intent durably and then drives it to a terminal ack, fill or
// error event; there is no abandon-in-flight.
package exec

import (
	"context"
	"errors"
	"fmt"

	"github.com/rs/zerolog/log"

	"github.com/rollingk/trader/internal/broker"
	"github.com/rollingk/trader/internal/krx"
	"github.com/rollingk/trader/internal/ledger"
	"github.com/rollingk/trader/internal/metrics"
)

// Variant selects an executor implementation.
type Variant string

// The closed set of executor variants.
const (
	VariantDryRun Variant = "dry_run"
	VariantShadow Variant = "shadow"
	VariantLive   Variant = "live"
)

// Sentinel errors callers branch on.
var (
	// ErrDuplicate reports that the intent's client order key is already
	// in the ledger; the order was skipped entirely.
	ErrDuplicate = errors.New("duplicate client order key")
	// ErrNoBroker reports a missing brokerage client. For the live and
	// shadow executors this is a hard failure, never a silent downgrade.
	ErrNoBroker = errors.New("broker client not configured")
)

// Result statuses.
const (
	StatusDryRun         = "dry_run"
	StatusShadowOK       = "shadow_ok"
	StatusShadowRejected = "shadow_rejected"
	StatusFilled         = "filled"
	StatusUnfilled       = "unfilled"
	StatusSkippedDup     = "skipped_duplicate"
)

// Intent is one order the strategy layer wants executed.
type Intent struct {
	Code    string
	Market  string
	SID     int
	Mode    int
	Side    string
	Qty     int
	Price   float64
	Window  string
	Stage   string
	Reasons []string
}


// Result is the terminal outcome of one intent.
type Result struct {
	Status         string
	OK             bool
	ClientOrderKey string
	BrokerOrderID  string
	FillPrice      float64
	Reasons        []string
}

// Executor drives intents to terminal ledger state.
type Executor interface {
	// SubmitOrder executes an entry intent.
	SubmitOrder(ctx context.Context, intent Intent) (Result, error)
	// SubmitExit executes an exit intent.
	SubmitExit(ctx context.Context, intent Intent) (Result, error)
}

// Deps are the collaborators every variant shares.
type Deps struct {
	Ledger *ledger.Store
	Broker broker.Broker
}

// New returns the executor for the given variant. The variant set is closed;
// anything else is an error.
func New(v Variant, deps Deps) (Executor, error) {
	if deps.Ledger == nil {
		return nil, errors.New("executor requires a ledger store")
	}
	base := base{deps: deps, variant: v}
	switch v {
	case VariantDryRun:
		return &dryRunExecutor{base}, nil
	case VariantShadow:
		return &shadowExecutor{base}, nil
	case VariantLive:
		return &liveExecutor{base}, nil
	default:
		return nil, fmt.Errorf("unknown executor variant %q", v)
	}
}

type base struct {
	deps    Deps
	variant Variant
}

// begin enforces idempotency and durably records the intent. It returns the
// assigned client order key. ErrDuplicate means nothing was written and the
// order must be skipped.
func (b *base) begin(intent Intent, exit bool) (string, error) {
	key := ClientOrderKey(krx.Now(), krx.NormalizeCode(intent.Code), intent.SID, intent.Mode, intent.Side, intent.Window, intent.Stage)
	dup, err := b.deps.Ledger.HasClientOrderKey(key)
	if err != nil {
		return "", fmt.Errorf("idempotency check: %w", err)
	}
	if dup {
		metrics.OrdersSkippedDuplicate.Inc()
		log.Info().
			Str("code", intent.Code).
			Str("key", key).
			Str("reason", "duplicate_client_order_key").
			Msg("order skipped")
		return key, ErrDuplicate
	}
	kind, event := ledger.KindOrdersIntent, ledger.NewOrderIntent(b.event(intent, key))
	if exit {
		kind, event = ledger.KindExitsIntent, ledger.NewExitIntent(b.event(intent, key))
	}
	if _, err := b.deps.Ledger.Append(kind, event); err != nil {
		return "", err
	}
	metrics.OrdersSubmitted.WithLabelValues(string(b.variant), intent.Side).Inc()
	return key, nil
}

func (b *base) event(intent Intent, key string) ledger.Event {
	return ledger.Event{
		Code:           intent.Code,
		Market:         intent.Market,
		SID:            intent.SID,
		Mode:           intent.Mode,
		Side:           intent.Side,
		Qty:            intent.Qty,
		Price:          intent.Price,
		ClientOrderKey: key,
		Reasons:        intent.Reasons,
		Stage:          intent.Stage,
		OK:             true,
	}
}

// dryRunExecutor records an intent and an always-successful ack without
// contacting the brokerage. Used for non-trading windows and diagnostics.
type dryRunExecutor struct{ base }

func (e *dryRunExecutor) SubmitOrder(ctx context.Context, intent Intent) (Result, error) {
	return e.submit(ctx, intent, false)
}

func (e *dryRunExecutor) SubmitExit(ctx context.Context, intent Intent) (Result, error) {
	return e.submit(ctx, intent, true)
}

func (e *dryRunExecutor) submit(_ context.Context, intent Intent, exit bool) (Result, error) {
	key, err := e.begin(intent, exit)
	if err != nil {
		return Result{Status: StatusSkippedDup, ClientOrderKey: key, Reasons: []string{"duplicate_client_order_key"}}, err
	}
	ack := e.event(intent, key)
	ack.OK = true
	ack.Reasons = []string{"dry_run"}
	if _, err := e.deps.Ledger.Append(ledger.KindOrdersAck, ledger.NewOrderAck(ack)); err != nil {
		return Result{}, err
	}
	return Result{Status: StatusDryRun, OK: true, ClientOrderKey: key, Reasons: []string{"dry_run"}}, nil
}

// shadowExecutor validates the order against the brokerage without placing
// it: the orderable check result is recorded both as an ack and a dedicated
// shadow-check event.
type shadowExecutor struct{ base }

func (e *shadowExecutor) SubmitOrder(ctx context.Context, intent Intent) (Result, error) {
	return e.submit(ctx, intent, false)
}

func (e *shadowExecutor) SubmitExit(ctx context.Context, intent Intent) (Result, error) {
	return e.submit(ctx, intent, true)
}

func (e *shadowExecutor) submit(ctx context.Context, intent Intent, exit bool) (Result, error) {
	key, err := e.begin(intent, exit)
	if err != nil {
		return Result{Status: StatusSkippedDup, ClientOrderKey: key, Reasons: []string{"duplicate_client_order_key"}}, err
	}
	if e.deps.Broker == nil {
		errEvent := e.event(intent, key)
		errEvent.Reasons = []string{"broker_missing"}
		if _, aerr := e.deps.Ledger.Append(ledger.KindErrors, ledger.NewError(errEvent)); aerr != nil {
			return Result{}, aerr
		}
		return Result{ClientOrderKey: key, Reasons: []string{"broker_missing"}}, ErrNoBroker
	}
	check, err := e.deps.Broker.CheckOrderable(ctx, broker.Order{
		Code:       intent.Code,
		Market:     intent.Market,
		Side:       intent.Side,
		Qty:        intent.Qty,
		LimitPrice: intent.Price,
	})
	if err != nil {
		errEvent := e.event(intent, key)
		errEvent.Reasons = []string{"orderable_check_failed"}
		if _, aerr := e.deps.Ledger.Append(ledger.KindErrors, ledger.NewError(errEvent)); aerr != nil {
			return Result{}, aerr
		}
		return Result{ClientOrderKey: key}, fmt.Errorf("orderable check: %w", err)
	}

	reasons := check.Reasons
	if len(reasons) == 0 {
		reasons = []string{"orderable"}
	}
	shadow := e.event(intent, key)
	shadow.OK = check.OK
	shadow.Reasons = reasons
	if _, err := e.deps.Ledger.Append(ledger.KindShadowChecks, ledger.NewShadowCheck(shadow)); err != nil {
		return Result{}, err
	}
	ack := e.event(intent, key)
	ack.OK = check.OK
	ack.Reasons = reasons
	if _, err := e.deps.Ledger.Append(ledger.KindOrdersAck, ledger.NewOrderAck(ack)); err != nil {
		return Result{}, err
	}

	status := StatusShadowOK
	verdict := "ok"
	if !check.OK {
		status = StatusShadowRejected
		verdict = "rejected"
	}
	metrics.ShadowChecks.WithLabelValues(verdict).Inc()
	return Result{Status: status, OK: check.OK, ClientOrderKey: key, Reasons: reasons}, nil
}

// liveExecutor places real orders. On success it appends a FILL event, which
// is what moves lot state; on failure it appends UNFILLED. A missing broker
// is a hard failure, never a silent downgrade to dry-run.
type liveExecutor struct{ base }

func (e *liveExecutor) SubmitOrder(ctx context.Context, intent Intent) (Result, error) {
	return e.submit(ctx, intent, false)
}

func (e *liveExecutor) SubmitExit(ctx context.Context, intent Intent) (Result, error) {
	return e.submit(ctx, intent, true)
}

func (e *liveExecutor) submit(ctx context.Context, intent Intent, exit bool) (Result, error) {
	key, err := e.begin(intent, exit)
	if err != nil {
		return Result{Status: StatusSkippedDup, ClientOrderKey: key, Reasons: []string{"duplicate_client_order_key"}}, err
	}
	if e.deps.Broker == nil {
		unfilled := e.event(intent, key)
		unfilled.Reasons = []string{"broker_missing"}
		if _, aerr := e.deps.Ledger.Append(ledger.KindErrors, ledger.NewUnfilled(unfilled)); aerr != nil {
			return Result{}, aerr
		}
		return Result{Status: StatusUnfilled, ClientOrderKey: key, Reasons: []string{"broker_missing"}}, ErrNoBroker
	}

	ack, err := e.deps.Broker.SubmitOrder(ctx, broker.Order{
		Code:       intent.Code,
		Market:     intent.Market,
		Side:       intent.Side,
		Qty:        intent.Qty,
		LimitPrice: intent.Price,
	})
	if err != nil {
		unfilled := e.event(intent, key)
		unfilled.Reasons = []string{"submit_failed"}
		if _, aerr := e.deps.Ledger.Append(ledger.KindErrors, ledger.NewUnfilled(unfilled)); aerr != nil {
			return Result{}, aerr
		}
		return Result{Status: StatusUnfilled, ClientOrderKey: key, Reasons: []string{"submit_failed"}}, fmt.Errorf("submit order: %w", err)
	}

	ackEvent := e.event(intent, key)
	ackEvent.OK = ack.OK
	ackEvent.BrokerOrderID = ack.BrokerOrderID
	if !ack.OK {
		reason := ack.Message
		if reason == "" {
			reason = "order_failed"
		}
		ackEvent.Reasons = []string{reason}
	}
	if _, err := e.deps.Ledger.Append(ledger.KindOrdersAck, ledger.NewOrderAck(ackEvent)); err != nil {
		return Result{}, err
	}

	if !ack.OK {
		unfilled := e.event(intent, key)
		unfilled.Reasons = ackEvent.Reasons
		if _, err := e.deps.Ledger.Append(ledger.KindErrors, ledger.NewUnfilled(unfilled)); err != nil {
			return Result{}, err
		}
		return Result{Status: StatusUnfilled, ClientOrderKey: key, Reasons: ackEvent.Reasons}, nil
	}

	fillPrice := ack.FillPrice
	if fillPrice == 0 {
		fillPrice = intent.Price
	}
	fill := e.event(intent, key)
	fill.Price = fillPrice
	fill.BrokerOrderID = ack.BrokerOrderID
	if _, err := e.deps.Ledger.Append(ledger.KindFills, ledger.NewFill(fill)); err != nil {
		return Result{}, err
	}
	log.Info().
		Str("code", intent.Code).
		Str("side", intent.Side).
		Int("qty", intent.Qty).
		Float64("price", fillPrice).
		Str("odno", ack.BrokerOrderID).
		Msg("order filled")
	return Result{
		Status:         StatusFilled,
		OK:             true,
		ClientOrderKey: key,
		BrokerOrderID:  ack.BrokerOrderID,
		FillPrice:      fillPrice,
	}, nil
}
