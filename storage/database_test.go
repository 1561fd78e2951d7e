package storage

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func equityPoints(n int) []EquityPoint {
	start := time.Date(2024, 1, 1, 9, 15, 0, 0, time.UTC)
	out := make([]EquityPoint, n)
	for i := range out {
		out[i] = EquityPoint{
			JobID:     "job1",
			Timestamp: start.Add(time.Duration(i) * 5 * time.Minute),
			Equity:    decimal.NewFromInt(100_000 + int64(i)),
		}
	}
	return out
}

func TestDownsampleEquity_ShortCurveIsUntouched(t *testing.T) {
	points := equityPoints(500)
	assert.Len(t, DownsampleEquity(points), 500)

	points = equityPoints(3)
	assert.Len(t, DownsampleEquity(points), 3)

	assert.Empty(t, DownsampleEquity(nil))
}

func TestDownsampleEquity_StridesLongCurve(t *testing.T) {
	points := equityPoints(10_000)

	sampled := DownsampleEquity(points)

	// 10 000 / 500 = stride 20: indices 0, 20, 40, ... 9980, plus the tail.
	require.Len(t, sampled, 501)
	assert.Equal(t, points[0].Timestamp, sampled[0].Timestamp)
	assert.Equal(t, points[20].Timestamp, sampled[1].Timestamp)
	assert.Equal(t, points[9999].Timestamp, sampled[len(sampled)-1].Timestamp)
}

func TestDownsampleEquity_KeepsLastWithoutDuplicating(t *testing.T) {
	// 1000 points, stride 2: index 998 is sampled, 999 is appended.
	sampled := DownsampleEquity(equityPoints(1000))
	require.GreaterOrEqual(t, len(sampled), 2)
	last := sampled[len(sampled)-1]
	prev := sampled[len(sampled)-2]
	assert.NotEqual(t, prev.Timestamp, last.Timestamp)
	assert.True(t, last.Equity.Equal(decimal.NewFromInt(100_999)))
}

func testDB(t *testing.T) *Database {
	t.Helper()
	db, err := New(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	return db
}

func TestOrderLog_AppendOnlyInInsertionOrder(t *testing.T) {
	db := testDB(t)
	sub := "sub1"

	for _, event := range []string{OrderEventGenerated, OrderEventSubmitted, OrderEventPlaced} {
		require.NoError(t, db.AppendOrderEvent(&OrderLog{
			SubscriptionID: &sub,
			Symbol:         "RELIANCE",
			Exchange:       "NSE",
			Side:           "BUY",
			Quantity:       10,
			EventType:      event,
			Success:        true,
		}))
	}

	events, err := db.OrderEvents(sub, 0)
	require.NoError(t, err)
	require.Len(t, events, 3)
	assert.Equal(t, OrderEventGenerated, events[0].EventType)
	assert.Equal(t, OrderEventSubmitted, events[1].EventType)
	assert.Equal(t, OrderEventPlaced, events[2].EventType)
}

func TestBacktestJob_Lifecycle(t *testing.T) {
	db := testDB(t)

	job := &BacktestJob{
		ID:             "job1",
		UserID:         "u1",
		StrategyID:     "sma_rsi",
		Symbol:         "RELIANCE",
		Exchange:       "NSE",
		Interval:       "5m",
		InitialCapital: decimal.NewFromInt(100_000),
	}
	require.NoError(t, db.CreateBacktestJob(job))

	got, err := db.GetBacktestJob("job1")
	require.NoError(t, err)
	assert.Equal(t, JobPending, got.Status)

	require.NoError(t, db.UpdateBacktestStatus("job1", JobRunning, ""))
	require.NoError(t, db.UpdateBacktestProgress("job1", 40))
	got, err = db.GetBacktestJob("job1")
	require.NoError(t, err)
	assert.Equal(t, JobRunning, got.Status)
	assert.Equal(t, 40, got.Progress)
}

func TestSaveBacktestArtifacts_PersistsDownsampledCurve(t *testing.T) {
	db := testDB(t)

	result := &BacktestResult{JobID: "job1", FinalEquity: decimal.NewFromInt(105_000)}
	trades := []BacktestTrade{{JobID: "job1", Symbol: "RELIANCE", Quantity: 10, PnL: decimal.NewFromInt(500)}}

	require.NoError(t, db.SaveBacktestArtifacts(result, trades, equityPoints(10_000)))

	curve, err := db.GetEquityCurve("job1")
	require.NoError(t, err)
	assert.Len(t, curve, 501)

	gotTrades, err := db.GetBacktestTrades("job1")
	require.NoError(t, err)
	assert.Len(t, gotTrades, 1)

	gotResult, err := db.GetBacktestResult("job1")
	require.NoError(t, err)
	assert.True(t, gotResult.FinalEquity.Equal(decimal.NewFromInt(105_000)))
}

func TestOptimizationSamples_BestFirst(t *testing.T) {
	db := testDB(t)

	require.NoError(t, db.CreateOptimizationJob(&OptimizationJob{ID: "opt1", StrategyID: "sma_rsi", NumSamples: 3}))
	require.NoError(t, db.SaveOptimizationSamples([]OptimizationSample{
		{JobID: "opt1", Objective: 1.1},
		{JobID: "opt1", Objective: 2.4, IsBest: true},
		{JobID: "opt1", Objective: -0.3},
	}))

	samples, err := db.GetOptimizationSamples("opt1")
	require.NoError(t, err)
	require.Len(t, samples, 3)
	assert.True(t, samples[0].IsBest)
	assert.Equal(t, 2.4, samples[0].Objective)
}
