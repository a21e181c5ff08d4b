package cache

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGetSet_ExpiresOnRead(t *testing.T) {
	now := time.Date(2026, 8, 28, 9, 0, 0, 0, time.UTC)
	c := New(10 * time.Second).WithClock(func() time.Time { return now })

	_, ok := c.Get("quote:005930")
	assert.False(t, ok)

	c.Set("quote:005930", 70000)
	v, ok := c.Get("quote:005930")
	require.True(t, ok)
	assert.InDelta(t, 70000, v, 1e-9)

	now = now.Add(9 * time.Second)
	_, ok = c.Get("quote:005930")
	assert.True(t, ok)

	now = now.Add(2 * time.Second)
	_, ok = c.Get("quote:005930")
	assert.False(t, ok, "entry expired after ttl")
}

func TestGetOrFetch(t *testing.T) {
	now := time.Date(2026, 8, 28, 9, 0, 0, 0, time.UTC)
	c := New(10 * time.Second).WithClock(func() time.Time { return now })

	calls := 0
	fetch := func() (float64, error) {
		calls++
		return 70000, nil
	}

	v, err := c.GetOrFetch("quote:005930", fetch)
	require.NoError(t, err)
	assert.InDelta(t, 70000, v, 1e-9)

	_, err = c.GetOrFetch("quote:005930", fetch)
	require.NoError(t, err)
	assert.Equal(t, 1, calls, "second read hits the cache")

	now = now.Add(11 * time.Second)
	_, err = c.GetOrFetch("quote:005930", fetch)
	require.NoError(t, err)
	assert.Equal(t, 2, calls, "expiry forces refetch")
}

func TestGetOrFetch_ErrorNotCached(t *testing.T) {
	c := New(10 * time.Second)
	boom := errors.New("quote unavailable")

	_, err := c.GetOrFetch("quote:000660", func() (float64, error) { return 0, boom })
	assert.ErrorIs(t, err, boom)

	v, err := c.GetOrFetch("quote:000660", func() (float64, error) { return 100000, nil })
	require.NoError(t, err)
	assert.InDelta(t, 100000, v, 1e-9, "failure leaves no poisoned entry")
}
