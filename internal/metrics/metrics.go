// Package metrics registers the module's prometheus instruments. All
// instruments live on the default registry and are served by the monitor
// command only.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// OrdersSubmitted counts orders actually handed to an executor,
	// labelled by executor mode and side.
	OrdersSubmitted = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "trader_orders_submitted_total",
		Help: "Orders submitted to an executor, by mode and side.",
	}, []string{"mode", "side"})

	// OrdersSkippedDuplicate counts orders skipped by the idempotency check.
	OrdersSkippedDuplicate = promauto.NewCounter(prometheus.CounterOpts{
		Name: "trader_orders_skipped_duplicate_total",
		Help: "Orders skipped because their client order key was already in the ledger.",
	})

	// ShadowChecks counts shadow orderable checks by verdict.
	ShadowChecks = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "trader_shadow_checks_total",
		Help: "Shadow orderable checks, by verdict.",
	}, []string{"verdict"})

	// ReconcileClamps counts lot quantity clamps against brokerage truth.
	ReconcileClamps = promauto.NewCounter(prometheus.CounterOpts{
		Name: "trader_reconcile_clamps_total",
		Help: "Lots clamped down because local quantity exceeded brokerage quantity.",
	})

	// ReconcileForcedCloses counts lots force-closed because the brokerage
	// reports the instrument flat.
	ReconcileForcedCloses = promauto.NewCounter(prometheus.CounterOpts{
		Name: "trader_reconcile_forced_closes_total",
		Help: "Lots force-closed because the brokerage reported zero quantity.",
	})

	// OrphanQty accumulates brokerage quantity no local lot explained.
	OrphanQty = promauto.NewCounter(prometheus.CounterOpts{
		Name: "trader_reconcile_orphan_qty_total",
		Help: "Brokerage-reported quantity with no matching local lots.",
	})

	// RecoveryResolutions counts attribution recoveries by outcome.
	RecoveryResolutions = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "trader_recovery_resolutions_total",
		Help: "Evidence recovery resolutions, by outcome (strategy or manual).",
	}, []string{"outcome"})

	// CycleDuration observes full trading-cycle duration.
	CycleDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "trader_cycle_duration_seconds",
		Help:    "Duration of one trading cycle.",
		Buckets: prometheus.DefBuckets,
	})

	// CycleOutcomes counts cycle completions by result.
	CycleOutcomes = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "trader_cycles_total",
		Help: "Trading cycles, by outcome.",
	}, []string{"outcome"})
)
