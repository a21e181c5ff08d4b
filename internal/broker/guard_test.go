package broker

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// failing is a Broker whose quote lookups always fail; other calls delegate
// to a paper broker.
type failing struct {
	*Paper
	calls int
}

var errQuoteDown = errors.New("quote service down")

func (f *failing) Quote(_ context.Context, _ string) (float64, error) {
	f.calls++
	return 0, errQuoteDown
}

func TestGuard_PassesThrough(t *testing.T) {
	paper := NewPaper(1_000_000)
	paper.SetQuote("005930", 70000)
	g := NewGuard(paper, GuardConfig{RatePerSec: 100, Burst: 100, ConsecutiveFailures: 3, OpenTimeoutSec: 30})

	price, err := g.Quote(context.Background(), "005930")
	require.NoError(t, err)
	assert.InDelta(t, 70000, price, 1e-9)

	cash, err := g.Cash(context.Background())
	require.NoError(t, err)
	assert.InDelta(t, 1_000_000, cash, 1e-9)

	ack, err := g.SubmitOrder(context.Background(), Order{Code: "005930", Side: SideBuy, Qty: 1, LimitPrice: 70000})
	require.NoError(t, err)
	assert.True(t, ack.OK)
	assert.Len(t, paper.Placed(), 1)
}

func TestGuard_BreakerOpensAfterConsecutiveFailures(t *testing.T) {
	inner := &failing{Paper: NewPaper(0)}
	g := NewGuard(inner, GuardConfig{RatePerSec: 1000, Burst: 1000, ConsecutiveFailures: 3, OpenTimeoutSec: 60})

	for i := 0; i < 3; i++ {
		_, err := g.Quote(context.Background(), "005930")
		require.ErrorIs(t, err, errQuoteDown)
	}
	assert.Equal(t, 3, inner.calls)

	_, err := g.Quote(context.Background(), "005930")
	require.Error(t, err)
	assert.NotErrorIs(t, err, errQuoteDown, "breaker rejects without calling through")
	assert.Equal(t, 3, inner.calls)
}

func TestGuard_CanceledContextStopsAtLimiter(t *testing.T) {
	paper := NewPaper(0)
	g := NewGuard(paper, DefaultGuardConfig())

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := g.Cash(ctx)
	assert.Error(t, err)
}
