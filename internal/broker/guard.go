package broker

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/sony/gobreaker"
	"golang.org/x/time/rate"
)

// GuardConfig tunes the call guards wrapped around a broker.
type GuardConfig struct {
	// RatePerSec caps brokerage calls per second.
	RatePerSec float64 `yaml:"rate_per_sec"`
	// Burst is the limiter burst size.
	Burst int `yaml:"burst"`
	// ConsecutiveFailures trips the breaker.
	ConsecutiveFailures uint32 `yaml:"consecutive_failures"`
	// OpenTimeoutSec is how long the breaker stays open before probing.
	OpenTimeoutSec int `yaml:"open_timeout_sec"`
}

// DefaultGuardConfig returns conservative guard settings.
func DefaultGuardConfig() GuardConfig {
	return GuardConfig{RatePerSec: 5, Burst: 5, ConsecutiveFailures: 5, OpenTimeoutSec: 30}
}

// Guard decorates a Broker with a rate limiter and a circuit breaker. A
// tripped breaker or an exhausted limiter surfaces as an ordinary error; the
// core treats it like any other hard failure for the cycle.
type Guard struct {
	inner   Broker
	limiter *rate.Limiter
	breaker *gobreaker.CircuitBreaker
}

// NewGuard wraps inner with the given guard settings.
func NewGuard(inner Broker, cfg GuardConfig) *Guard {
	if cfg.RatePerSec <= 0 {
		cfg = DefaultGuardConfig()
	}
	if cfg.Burst <= 0 {
		cfg.Burst = 1
	}
	settings := gobreaker.Settings{
		Name:    "broker",
		Timeout: time.Duration(cfg.OpenTimeoutSec) * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= cfg.ConsecutiveFailures
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			log.Warn().
				Str("breaker", name).
				Str("from", from.String()).
				Str("to", to.String()).
				Msg("broker breaker state change")
		},
	}
	return &Guard{
		inner:   inner,
		limiter: rate.NewLimiter(rate.Limit(cfg.RatePerSec), cfg.Burst),
		breaker: gobreaker.NewCircuitBreaker(settings),
	}
}

func (g *Guard) call(ctx context.Context, op string, fn func() (any, error)) (any, error) {
	if err := g.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("broker %s rate wait: %w", op, err)
	}
	out, err := g.breaker.Execute(fn)
	if err != nil {
		return nil, fmt.Errorf("broker %s: %w", op, err)
	}
	return out, nil
}

// SubmitOrder implements Broker.
func (g *Guard) SubmitOrder(ctx context.Context, order Order) (Ack, error) {
	out, err := g.call(ctx, "submit_order", func() (any, error) {
		return g.inner.SubmitOrder(ctx, order)
	})
	if err != nil {
		return Ack{}, err
	}
	return out.(Ack), nil
}

// CheckOrderable implements Broker.
func (g *Guard) CheckOrderable(ctx context.Context, order Order) (OrderableCheck, error) {
	out, err := g.call(ctx, "check_orderable", func() (any, error) {
		return g.inner.CheckOrderable(ctx, order)
	})
	if err != nil {
		return OrderableCheck{}, err
	}
	return out.(OrderableCheck), nil
}

// Holdings implements Broker.
func (g *Guard) Holdings(ctx context.Context) ([]Holding, error) {
	out, err := g.call(ctx, "holdings", func() (any, error) {
		return g.inner.Holdings(ctx)
	})
	if err != nil {
		return nil, err
	}
	return out.([]Holding), nil
}

// Quote implements Broker.
func (g *Guard) Quote(ctx context.Context, code string) (float64, error) {
	out, err := g.call(ctx, "quote", func() (any, error) {
		return g.inner.Quote(ctx, code)
	})
	if err != nil {
		return 0, err
	}
	return out.(float64), nil
}

// Cash implements Broker.
func (g *Guard) Cash(ctx context.Context) (float64, error) {
	out, err := g.call(ctx, "cash", func() (any, error) {
		return g.inner.Cash(ctx)
	})
	if err != nil {
		return 0, err
	}
	return out.(float64), nil
}
