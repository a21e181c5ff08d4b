package reconcile

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rollingk/trader/internal/broker"
	"github.com/rollingk/trader/internal/krx"
	"github.com/rollingk/trader/internal/lots"
	"github.com/rollingk/trader/internal/recovery"
)

var testNow = time.Date(2026, 8, 28, 8, 55, 0, 0, krx.KST)

func testEngine() *Engine {
	resolver := recovery.NewResolver(recovery.DefaultThresholds()).
		WithClock(func() time.Time { return testNow })
	return New(resolver).WithClock(func() time.Time { return testNow })
}

func entryLot(id, code, sid string, qty int, price float64, entry time.Time) lots.Lot {
	return lots.Lot{
		LotID:      id,
		Code:       code,
		StrategyID: sid,
		Engine:     "entry",
		EntryTS:    entry,
		EntryPrice: price,
		Qty:        qty,
	}
}

func TestReconcile_ClampsLocalExcess(t *testing.T) {
	book := lots.NewBook()
	book.RecordBuy(entryLot("c1", "005930", "1", 7, 70000, testNow.Add(-48*time.Hour)))

	report := testEngine().Reconcile(book, []broker.Holding{
		{Code: "005930", Qty: 5, AvgPrice: 70000},
	}, recovery.Evidence{})

	require.Len(t, report.Clamps, 1)
	assert.Equal(t, Clamp{Code: "005930", RemovedQty: 2, Reason: "broker_qty_lower"}, report.Clamps[0])
	assert.Equal(t, 5, book.RemainingForCode("005930"))
	assert.Empty(t, report.Orphans)
	assert.Empty(t, report.ForcedCloses)
}

func TestReconcile_ForceClosesCodesBrokerReportsFlat(t *testing.T) {
	book := lots.NewBook()
	book.RecordBuy(entryLot("f1", "000660", "2", 10, 100000, testNow.Add(-24*time.Hour)))

	report := testEngine().Reconcile(book, nil, recovery.Evidence{})

	require.Len(t, report.ForcedCloses, 1)
	assert.Equal(t, ForcedClose{Code: "000660", ClosedQty: 10}, report.ForcedCloses[0])
	assert.Equal(t, 0, book.RemainingForCode("000660"))
	assert.Empty(t, report.Positions, "positions view is the full corrected replacement")
}

func TestReconcile_OrphanWithoutEvidenceIsManualAndBlocked(t *testing.T) {
	book := lots.NewBook()

	report := testEngine().Reconcile(book, []broker.Holding{
		{Code: "035720", Qty: 12, AvgPrice: 51000},
	}, recovery.Evidence{})

	require.Len(t, report.Orphans, 1)
	orphan := report.Orphans[0]
	assert.Equal(t, 12, orphan.Qty)
	assert.Equal(t, recovery.Manual, orphan.Resolution.StrategyID)
	assert.InDelta(t, 0.40, orphan.Resolution.Confidence, 1e-9)
	assert.Contains(t, orphan.Resolution.Reasons, "no_evidence")

	synthesized := book.Lots()
	require.Len(t, synthesized, 1)
	assert.Equal(t, "recovery", synthesized[0].Engine)
	assert.True(t, synthesized[0].SellBlocked(), "manual lots stay blocked from automated selling")
	assert.Equal(t, 12, synthesized[0].Remaining)
	assert.InDelta(t, 51000, synthesized[0].EntryPrice, 1e-9)
}

func TestReconcile_OrphanAttributedFromFillEvidence(t *testing.T) {
	book := lots.NewBook()
	evidence := recovery.Evidence{
		Fills: []recovery.TradeRecord{
			{Code: "005930", Side: "BUY", StrategyID: "3", Qty: 10, TS: testNow.Add(-2 * time.Hour)},
		},
	}

	report := testEngine().Reconcile(book, []broker.Holding{
		{Code: "005930", Qty: 10, AvgPrice: 70500},
	}, evidence)

	require.Len(t, report.Orphans, 1)
	assert.Equal(t, "3", report.Orphans[0].Resolution.StrategyID)
	assert.False(t, report.Orphans[0].Resolution.Manual)

	synthesized := book.Lots()
	require.Len(t, synthesized, 1)
	assert.Equal(t, "3", synthesized[0].StrategyID)
	assert.False(t, synthesized[0].SellBlocked())
}

func TestReconcile_PartialOrphanTopsUpExistingLots(t *testing.T) {
	book := lots.NewBook()
	book.RecordBuy(entryLot("p1", "005930", "1", 6, 70000, testNow.Add(-48*time.Hour)))

	report := testEngine().Reconcile(book, []broker.Holding{
		{Code: "005930", Qty: 10, AvgPrice: 70200},
	}, recovery.Evidence{})

	require.Len(t, report.Orphans, 1)
	assert.Equal(t, 4, report.Orphans[0].Qty)
	// The book's own open lot under strategy 1 is the strongest evidence.
	assert.Equal(t, "1", report.Orphans[0].Resolution.StrategyID)
	assert.Equal(t, 10, book.RemainingForCode("005930"))
}

func TestReconcile_DuplicateHoldingRowsSummed(t *testing.T) {
	book := lots.NewBook()
	book.RecordBuy(entryLot("d1", "005930", "1", 10, 70000, testNow.Add(-48*time.Hour)))

	report := testEngine().Reconcile(book, []broker.Holding{
		{Code: "5930", Qty: 4, AvgPrice: 70000},
		{Code: "005930", Qty: 6, AvgPrice: 70100},
	}, recovery.Evidence{})

	assert.Empty(t, report.Clamps)
	assert.Empty(t, report.Orphans)
	assert.Equal(t, 10, book.RemainingForCode("005930"))
}

func TestReconcile_ZeroQtyHoldingTreatedAsFlat(t *testing.T) {
	book := lots.NewBook()
	book.RecordBuy(entryLot("z1", "000660", "2", 5, 100000, testNow.Add(-24*time.Hour)))

	report := testEngine().Reconcile(book, []broker.Holding{
		{Code: "000660", Qty: 0, AvgPrice: 100000},
	}, recovery.Evidence{})

	require.Len(t, report.ForcedCloses, 1)
	assert.Equal(t, 5, report.ForcedCloses[0].ClosedQty)
}
