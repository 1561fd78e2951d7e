package broker

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/karthikreddy9595/AlgoTrading-sub000/types"
)

func dailyCandles(from, to time.Time) []types.Candle {
	var out []types.Candle
	for ts := from; !ts.After(to); ts = ts.Add(24 * time.Hour) {
		price := decimal.NewFromInt(100)
		out = append(out, types.Candle{
			Timestamp: ts,
			Open:      price, High: price.Add(decimal.NewFromInt(1)),
			Low: price.Sub(decimal.NewFromInt(1)), Close: price,
			Volume: 1000,
		})
	}
	return out
}

func TestFetchChunked_SplitsLongIntradayRange(t *testing.T) {
	from := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	to := from.Add(250 * 24 * time.Hour)

	var windows [][2]time.Time
	fetch := func(_ context.Context, f, tt time.Time) ([]types.Candle, error) {
		windows = append(windows, [2]time.Time{f, tt})
		return dailyCandles(f, tt), nil
	}

	candles, err := FetchChunked(context.Background(), types.Interval5Min, from, to, fetch)
	require.NoError(t, err)

	// 250 days against a 100-day cap: three windows.
	require.Len(t, windows, 3)
	assert.Equal(t, from, windows[0][0])
	assert.Equal(t, from.Add(100*24*time.Hour), windows[0][1])
	assert.Equal(t, to, windows[2][1])
	for i := 1; i < len(windows); i++ {
		assert.True(t, windows[i][0].After(windows[i-1][1]), "windows must not overlap")
	}

	for i := 1; i < len(candles); i++ {
		assert.True(t, candles[i].Timestamp.After(candles[i-1].Timestamp),
			"candles are ascending and strictly monotonic")
	}
}

func TestFetchChunked_SingleWindowForDailyInterval(t *testing.T) {
	from := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	to := from.Add(250 * 24 * time.Hour)

	calls := 0
	fetch := func(_ context.Context, f, tt time.Time) ([]types.Candle, error) {
		calls++
		return dailyCandles(f, tt), nil
	}

	_, err := FetchChunked(context.Background(), types.Interval1Day, from, to, fetch)
	require.NoError(t, err)
	assert.Equal(t, 1, calls, "250 days fit the 365-day daily cap")
}

func TestFetchChunked_DeduplicatesOverlappingChunks(t *testing.T) {
	from := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	to := from.Add(150 * 24 * time.Hour)

	// Every chunk leaks one candle past its window to fake a broker that
	// rounds ranges outward.
	fetch := func(_ context.Context, f, tt time.Time) ([]types.Candle, error) {
		return dailyCandles(f, tt.Add(24*time.Hour)), nil
	}

	candles, err := FetchChunked(context.Background(), types.Interval5Min, from, to, fetch)
	require.NoError(t, err)

	seen := map[time.Time]struct{}{}
	for _, c := range candles {
		_, dup := seen[c.Timestamp]
		assert.False(t, dup, "duplicate timestamp %s survived", c.Timestamp)
		seen[c.Timestamp] = struct{}{}
	}
}

func TestFetchChunked_RejectsInvertedRange(t *testing.T) {
	now := time.Now()
	_, err := FetchChunked(context.Background(), types.Interval5Min, now, now.Add(-time.Hour),
		func(context.Context, time.Time, time.Time) ([]types.Candle, error) { return nil, nil })
	assert.Error(t, err)
}

func TestFetchChunked_PropagatesFetchError(t *testing.T) {
	from := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	_, err := FetchChunked(context.Background(), types.Interval5Min, from, from.Add(24*time.Hour),
		func(context.Context, time.Time, time.Time) ([]types.Candle, error) {
			return nil, Errorf("rate_limited", "slow down")
		})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "rate_limited")
}
