package broker

import (
	"context"
	"sort"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/karthikreddy9595/AlgoTrading-sub000/types"
)

// ChunkFetch is one raw historical request covering [from, to].
type ChunkFetch func(ctx context.Context, from, to time.Time) ([]types.Candle, error)

// FetchChunked splits [from, to] into windows no longer than the interval's
// per-request range limit, fetches each window, then concatenates, sorts
// ascending and drops duplicate timestamps. Broker implementations build
// GetHistoricalData on top of this.
func FetchChunked(ctx context.Context, interval types.Interval, from, to time.Time, fetch ChunkFetch) ([]types.Candle, error) {
	if to.Before(from) {
		return nil, Errorf("bad_range", "from %s is after to %s", from.Format("2006-01-02"), to.Format("2006-01-02"))
	}

	maxRange := time.Duration(interval.MaxRangeDays()) * 24 * time.Hour

	var all []types.Candle
	for start := from; !start.After(to); {
		end := start.Add(maxRange)
		if end.After(to) {
			end = to
		}

		chunk, err := fetch(ctx, start, end)
		if err != nil {
			return nil, err
		}
		all = append(all, chunk...)

		if !end.Before(to) {
			break
		}
		start = end.Add(time.Second)
	}

	sort.Slice(all, func(i, j int) bool { return all[i].Timestamp.Before(all[j].Timestamp) })

	// Chunk boundaries can overlap; keep the first candle per timestamp.
	deduped := all[:0]
	var last time.Time
	for _, c := range all {
		if len(deduped) > 0 && c.Timestamp.Equal(last) {
			continue
		}
		deduped = append(deduped, c)
		last = c.Timestamp
	}

	log.Debug().
		Str("interval", string(interval)).
		Int("candles", len(deduped)).
		Time("from", from).
		Time("to", to).
		Msg("Historical data fetched")

	return deduped, nil
}
