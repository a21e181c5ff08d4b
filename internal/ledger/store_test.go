package ledger

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rollingk/trader/internal/krx"
)

func fixedClock(t time.Time) func() time.Time {
	return func() time.Time { return t }
}

func testStore(t *testing.T, runID string, now time.Time) *Store {
	t.Helper()
	return NewStore(t.TempDir(), "paper", runID).WithClock(fixedClock(now))
}

func TestAppend_PartitionsByKindDateRun(t *testing.T) {
	now := time.Date(2026, 8, 28, 10, 30, 0, 0, krx.KST)
	store := testStore(t, "r1", now)

	path, err := store.Append(KindFills, NewFill(Event{
		Code: "5930", Side: "BUY", Qty: 10, Price: 70000, SID: 1, Mode: 1,
	}))
	require.NoError(t, err)
	assert.Equal(t, filepath.Join("fills", "2026-08-28", "run_r1.jsonl"), mustRel(t, store.baseDir, path))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	var ev Event
	require.NoError(t, json.Unmarshal(data, &ev))
	assert.NotEmpty(t, ev.EventID)
	assert.Equal(t, "005930", ev.Code, "codes normalized to six digits")
	assert.Equal(t, "r1", ev.RunID)
	assert.Equal(t, "paper", ev.Env)
	assert.True(t, ev.TS.Equal(now))
	assert.NotNil(t, ev.Reasons, "reasons serialized as [] not null")
}

func mustRel(t *testing.T, base, path string) string {
	t.Helper()
	rel, err := filepath.Rel(base, path)
	require.NoError(t, err)
	return rel
}

func TestHasClientOrderKey(t *testing.T) {
	now := time.Date(2026, 8, 28, 10, 30, 0, 0, krx.KST)
	store := testStore(t, "r1", now)

	key := "2026-08-28|005930|sid=1|mode=1|BUY|morning|entry"
	_, err := store.Append(KindOrdersIntent, NewOrderIntent(Event{
		Code: "005930", Side: "BUY", ClientOrderKey: key,
	}))
	require.NoError(t, err)

	found, err := store.HasClientOrderKey(key)
	require.NoError(t, err)
	assert.True(t, found)

	found, err = store.HasClientOrderKey("2026-08-28|000660|sid=1|mode=1|BUY|morning|entry")
	require.NoError(t, err)
	assert.False(t, found)

	found, err = store.HasClientOrderKey("")
	require.NoError(t, err)
	assert.False(t, found, "empty key never matches")
}

func TestHasClientOrderKey_SeenAcrossRuns(t *testing.T) {
	dir := t.TempDir()
	now := time.Date(2026, 8, 28, 10, 30, 0, 0, krx.KST)
	key := "2026-08-28|005930|sid=1|mode=1|BUY|morning|entry"

	first := NewStore(dir, "paper", "r1").WithClock(fixedClock(now))
	_, err := first.Append(KindOrdersIntent, NewOrderIntent(Event{Code: "005930", ClientOrderKey: key}))
	require.NoError(t, err)

	second := NewStore(dir, "paper", "r2").WithClock(fixedClock(now.Add(time.Hour)))
	found, err := second.HasClientOrderKey(key)
	require.NoError(t, err)
	assert.True(t, found, "idempotency survives process restart")
}

func TestEvents_SkipsMalformedLines(t *testing.T) {
	now := time.Date(2026, 8, 28, 10, 30, 0, 0, krx.KST)
	store := testStore(t, "r1", now)

	_, err := store.Append(KindFills, NewFill(Event{Code: "005930", Side: "BUY", Qty: 1, Price: 100}))
	require.NoError(t, err)
	path, err := store.Append(KindFills, NewFill(Event{Code: "000660", Side: "BUY", Qty: 2, Price: 200}))
	require.NoError(t, err)

	// Simulate a crashed writer leaving a partial trailing line.
	f, err := os.OpenFile(path, os.O_APPEND|os.O_WRONLY, 0o644)
	require.NoError(t, err)
	_, err = f.WriteString(`{"event_type":"FILL","co`)
	require.NoError(t, err)
	require.NoError(t, f.Close())

	events, err := store.Events([]string{KindFills}, 1)
	require.NoError(t, err)
	assert.Len(t, events, 2)
}

func TestRebuildPositions_AverageCost(t *testing.T) {
	now := time.Date(2026, 8, 28, 15, 0, 0, 0, krx.KST)
	store := testStore(t, "r1", now)

	fills := []Event{
		{Code: "005930", SID: 1, Mode: 1, Side: "BUY", Qty: 10, Price: 70000, TS: now.Add(-3 * time.Hour)},
		{Code: "005930", SID: 1, Mode: 1, Side: "BUY", Qty: 10, Price: 74000, TS: now.Add(-2 * time.Hour)},
		{Code: "005930", SID: 1, Mode: 1, Side: "SELL", Qty: 5, Price: 75000, TS: now.Add(-time.Hour)},
	}
	for _, fill := range fills {
		_, err := store.Append(KindFills, NewFill(fill))
		require.NoError(t, err)
	}

	positions, err := store.RebuildPositions(7)
	require.NoError(t, err)
	key := PositionKey{Code: "005930", SID: 1, Mode: 1}
	acc := positions[key]
	require.NotNil(t, acc)
	assert.Equal(t, 15, acc.TotalQty)
	assert.InDelta(t, 72000, acc.AvgBuyPrice, 1e-9)
	assert.InDelta(t, 5*(75000-72000), acc.RealizedPnL, 1e-9)
}

func TestRebuildPositions_DeterministicReplay(t *testing.T) {
	dir := t.TempDir()
	now := time.Date(2026, 8, 28, 15, 0, 0, 0, krx.KST)
	store := NewStore(dir, "paper", "r1").WithClock(fixedClock(now))

	for i, code := range []string{"005930", "000660", "035720"} {
		_, err := store.Append(KindFills, NewFill(Event{
			Code: code, SID: i + 1, Mode: 1, Side: "BUY", Qty: 10 + i, Price: 1000 * float64(i+1),
			TS: now.Add(time.Duration(i) * time.Minute),
		}))
		require.NoError(t, err)
	}

	snapshotBytes := func() []byte {
		positions, err := store.RebuildPositions(7)
		require.NoError(t, err)
		snap := store.PnLSnapshot(positions, map[string]float64{"005930": 1100})
		data, err := json.Marshal(snap)
		require.NoError(t, err)
		return data
	}

	first := snapshotBytes()
	for i := 0; i < 5; i++ {
		assert.Equal(t, string(first), string(snapshotBytes()), "replay is byte-identical")
	}
}

func TestPnLSnapshot_Totals(t *testing.T) {
	now := time.Date(2026, 8, 28, 15, 0, 0, 0, krx.KST)
	store := testStore(t, "r1", now)

	_, err := store.Append(KindFills, NewFill(Event{
		Code: "005930", SID: 1, Mode: 1, Side: "BUY", Qty: 10, Price: 70000, TS: now.Add(-time.Hour),
	}))
	require.NoError(t, err)

	positions, err := store.RebuildPositions(7)
	require.NoError(t, err)
	snap := store.PnLSnapshot(positions, map[string]float64{"005930": 77000})

	r, ok := snap.Positions["005930|sid=1|mode=1"]
	require.True(t, ok)
	require.NotNil(t, r.UnrealizedReturnPct)
	assert.InDelta(t, 10.0, *r.UnrealizedReturnPct, 1e-9)
	assert.InDelta(t, 700000, snap.Totals.TotalCost, 1e-9)
	assert.InDelta(t, 70000, snap.Totals.Unrealized, 1e-9)
	assert.InDelta(t, 10.0, snap.Totals.PortfolioReturnPct, 1e-9)
}

func TestWriteSnapshot_OneFilePerDayReplaced(t *testing.T) {
	now := time.Date(2026, 8, 28, 15, 0, 0, 0, krx.KST)
	store := testStore(t, "r1", now)

	path1, err := store.WriteSnapshot(Snapshot{TS: now.Format(time.RFC3339), Positions: map[string]PositionReturns{}})
	require.NoError(t, err)
	path2, err := store.WriteSnapshot(Snapshot{TS: now.Add(time.Hour).Format(time.RFC3339), Positions: map[string]PositionReturns{}})
	require.NoError(t, err)
	assert.Equal(t, path1, path2)

	latest, ok := store.LatestSnapshotPath()
	require.True(t, ok)
	assert.Equal(t, path1, latest)
}
