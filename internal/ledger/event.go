package ledger

import (
	"time"

	"github.com/google/uuid"

	"github.com/rollingk/trader/internal/krx"
)

// Event types appearing in the ledger. An event is appended once and never
// mutated; corrections are expressed as new events.
const (
	TypeOrderIntent = "ORDER_INTENT"
	TypeOrderAck    = "ORDER_ACK"
	TypeFill        = "FILL"
	TypeExitIntent  = "EXIT_INTENT"
	TypeShadowCheck = "SHADOW_CHECK"
	TypeError       = "ERROR"
	TypeUnfilled    = "UNFILLED"
)

// Partition kinds. Each kind maps to its own directory tree so concurrent
// runs of different kinds never contend on a file.
const (
	KindOrdersIntent = "orders_intent"
	KindOrdersAck    = "orders_ack"
	KindFills        = "fills"
	KindExitsIntent  = "exits_intent"
	KindShadowChecks = "shadow_checks"
	KindErrors       = "errors"
)

// Kinds lists every partition, in scan order.
var Kinds = []string{
	KindOrdersIntent,
	KindOrdersAck,
	KindFills,
	KindExitsIntent,
	KindShadowChecks,
	KindErrors,
}

// idempotencyKinds are the partitions consulted by HasClientOrderKey.
var idempotencyKinds = []string{
	KindOrdersIntent,
	KindOrdersAck,
	KindFills,
	KindExitsIntent,
}

// Event is one immutable ledger record, serialized as a single JSON line.
// The field set is fixed; Payload is the only open extension point and is
// reserved for rarely-used per-stage detail.
type Event struct {
	EventID        string         `json:"event_id"`
	EventType      string         `json:"event_type"`
	TS             time.Time      `json:"ts"`
	RunID          string         `json:"run_id"`
	Env            string         `json:"env"`
	Code           string         `json:"code"`
	Market         string         `json:"market"`
	SID            int            `json:"sid"`
	Mode           int            `json:"mode"`
	Side           string         `json:"side,omitempty"`
	Qty            int            `json:"qty,omitempty"`
	Price          float64        `json:"price,omitempty"`
	BrokerOrderID  string         `json:"odno,omitempty"`
	ClientOrderKey string         `json:"client_order_key,omitempty"`
	OK             bool           `json:"ok"`
	Reasons        []string       `json:"reasons"`
	Stage          string         `json:"stage,omitempty"`
	Payload        map[string]any `json:"payload,omitempty"`
}

// normalize fills identity fields on an event about to be appended.
func (e *Event) normalize(now time.Time) {
	if e.EventID == "" {
		e.EventID = uuid.NewString()
	}
	if e.TS.IsZero() {
		e.TS = now
	}
	e.TS = e.TS.In(krx.KST)
	e.Code = krx.NormalizeCode(e.Code)
	if e.Reasons == nil {
		e.Reasons = []string{}
	}
}

// NewOrderIntent returns an ORDER_INTENT event with identity fields unset;
// the store assigns them on append.
func NewOrderIntent(base Event) Event { return typed(base, TypeOrderIntent, true) }

// NewOrderAck returns an ORDER_ACK event; base.OK carries the broker outcome.
func NewOrderAck(base Event) Event { return typed(base, TypeOrderAck, base.OK) }

// NewFill returns a FILL event, the only event type that moves lot state.
func NewFill(base Event) Event { return typed(base, TypeFill, true) }

// NewExitIntent returns an EXIT_INTENT event.
func NewExitIntent(base Event) Event { return typed(base, TypeExitIntent, true) }

// NewShadowCheck returns a SHADOW_CHECK event; base.OK carries the
// orderable-check verdict.
func NewShadowCheck(base Event) Event { return typed(base, TypeShadowCheck, base.OK) }

// NewError returns an ERROR event, always not-ok.
func NewError(base Event) Event { return typed(base, TypeError, false) }

// NewUnfilled returns an UNFILLED event, always not-ok.
func NewUnfilled(base Event) Event { return typed(base, TypeUnfilled, false) }

func typed(base Event, eventType string, ok bool) Event {
	base.EventType = eventType
	base.OK = ok
	return base
}
