package optimize

import (
	"context"
	"math"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/karthikreddy9595/AlgoTrading-sub000/backtest"
	"github.com/karthikreddy9595/AlgoTrading-sub000/strategy"
	"github.com/karthikreddy9595/AlgoTrading-sub000/types"
)

// sweepStrategy buys once at the tick selected by entry_tick. Over a rising
// series an earlier entry earns more, so the sweep has a known winner.
type sweepStrategy struct {
	entryTick int
	tick      int
	bought    bool
}

func (*sweepStrategy) Name() string             { return "opt_sweep" }
func (*sweepStrategy) OnStart()                 {}
func (*sweepStrategy) OnStop()                  {}
func (*sweepStrategy) OnPause()                 {}
func (*sweepStrategy) OnResume()                {}
func (*sweepStrategy) GetState() map[string]any { return map[string]any{} }
func (*sweepStrategy) SetState(map[string]any)  {}

func (s *sweepStrategy) ApplyConfig(params map[string]float64) {
	if v, ok := params["entry_tick"]; ok {
		s.entryTick = int(v)
	}
}

func (s *sweepStrategy) OnMarketData(tick types.Tick) *types.Order {
	idx := s.tick
	s.tick++
	if s.bought || idx != s.entryTick {
		return nil
	}
	s.bought = true
	return &types.Order{
		Symbol:    tick.Symbol,
		Exchange:  tick.Exchange,
		Signal:    types.SignalBuy,
		Quantity:  10,
		OrderType: types.OrderTypeMarket,
	}
}

func init() {
	strategy.Register(strategy.Definition{
		ID:   "opt_sweep",
		Name: "Sweep Stub",
		New:  func(_ *types.StrategyContext) strategy.Strategy { return &sweepStrategy{} },
	})
}

func risingCandles(n int) []types.Candle {
	start := time.Date(2024, 1, 1, 9, 15, 0, 0, time.UTC)
	out := make([]types.Candle, n)
	for i := range out {
		price := decimal.NewFromInt(100 + int64(i))
		out[i] = types.Candle{
			Timestamp: start.Add(time.Duration(i) * 5 * time.Minute),
			Open:      price, High: price.Add(decimal.NewFromInt(1)),
			Low: price.Sub(decimal.NewFromInt(1)), Close: price,
			Volume: 1000,
		}
	}
	return out
}

func sweepConfig(numSamples int, ranges map[string]Range) Config {
	return Config{
		Backtest: backtest.Config{
			StrategyID:     "opt_sweep",
			Symbol:         "RELIANCE",
			Exchange:       "NSE",
			Interval:       types.Interval5Min,
			InitialCapital: decimal.NewFromInt(100_000),
		},
		Ranges:     ranges,
		NumSamples: numSamples,
		Seed:       42,
	}
}

func TestGenerate_ExhaustiveWhenProductFits(t *testing.T) {
	cfg := sweepConfig(10, map[string]Range{
		"fast": {Min: 10, Max: 20, Step: 5},  // 10, 15, 20
		"slow": {Min: 30, Max: 40, Step: 10}, // 30, 40
	})

	tuples := generate(cfg)
	require.Len(t, tuples, 6, "3 x 2 grid fits the budget of 10")

	seen := map[string]struct{}{}
	for _, tuple := range tuples {
		seen[tupleKey([]string{"fast", "slow"}, tuple)] = struct{}{}
	}
	assert.Len(t, seen, 6, "no duplicate tuples in an exhaustive sweep")
}

func TestGenerate_CornersComeFirstWhenSampling(t *testing.T) {
	cfg := sweepConfig(40, map[string]Range{
		"a": {Min: 1, Max: 100, Step: 1},
		"b": {Min: 1, Max: 100, Step: 1},
	})

	tuples := generate(cfg)
	require.Len(t, tuples, 40)

	// The four min/max corners fill the front of the list.
	corners := map[[2]float64]bool{}
	for _, tuple := range tuples[:4] {
		corners[[2]float64{tuple["a"], tuple["b"]}] = true
	}
	assert.True(t, corners[[2]float64{1, 1}])
	assert.True(t, corners[[2]float64{1, 100}])
	assert.True(t, corners[[2]float64{100, 1}])
	assert.True(t, corners[[2]float64{100, 100}])
}

func TestGenerate_SeededAndDuplicateFree(t *testing.T) {
	ranges := map[string]Range{
		"a": {Min: 1, Max: 50, Step: 1},
		"b": {Min: 1, Max: 50, Step: 1},
	}

	first := generate(sweepConfig(30, ranges))
	second := generate(sweepConfig(30, ranges))
	assert.Equal(t, first, second, "same seed replays the same tuples")

	other := sweepConfig(30, ranges)
	other.Seed = 7
	assert.NotEqual(t, first, generate(other))

	seen := map[string]struct{}{}
	for _, tuple := range first {
		seen[tupleKey([]string{"a", "b"}, tuple)] = struct{}{}
	}
	assert.Len(t, seen, len(first))
}

func TestGenerate_TinyGridCapsRandomSampling(t *testing.T) {
	// Only 4 distinct tuples exist; the sampler must stop short of the
	// budget instead of spinning forever.
	cfg := sweepConfig(100, map[string]Range{
		"a": {Min: 1, Max: 2, Step: 1},
		"b": {Min: 1, Max: 2, Step: 1},
	})
	tuples := generate(cfg)
	assert.Equal(t, 4, len(tuples))
}

func TestRank_ExactlyOneBest(t *testing.T) {
	samples := []Sample{
		{Objective: 1.0},
		{Objective: 3.0},
		{Objective: 3.0},
		{Objective: -2.0},
	}
	rank(samples, "sharpe_ratio")

	best := 0
	for _, s := range samples {
		if s.IsBest {
			best++
		}
	}
	assert.Equal(t, 1, best)
	assert.True(t, samples[0].IsBest)
	assert.Equal(t, 3.0, samples[0].Objective)
}

func TestRank_MaxDrawdownPrefersSmaller(t *testing.T) {
	samples := []Sample{
		{Objective: 12.0},
		{Objective: 4.0},
		{Objective: 8.0},
	}
	rank(samples, ObjectiveMaxDrawdown)
	assert.Equal(t, 4.0, samples[0].Objective)
	assert.True(t, samples[0].IsBest)
}

func TestRank_ErroredSamplesNeverWin(t *testing.T) {
	samples := []Sample{
		{Objective: math.Inf(-1), Err: "boom"},
		{Objective: 0.5},
	}
	rank(samples, "sharpe_ratio")
	assert.Equal(t, "", samples[0].Err)
	assert.True(t, samples[0].IsBest)

	all := []Sample{{Objective: math.Inf(-1), Err: "boom"}}
	rank(all, "sharpe_ratio")
	assert.False(t, all[0].IsBest)
}

func TestRun_FindsEarliestEntryOnRisingSeries(t *testing.T) {
	cfg := sweepConfig(10, map[string]Range{
		"entry_tick": {Min: 1, Max: 3, Step: 1},
	})

	res, err := Run(context.Background(), cfg, risingCandles(20))
	require.NoError(t, err)
	require.Len(t, res.Samples, 3)
	require.NotNil(t, res.Best)
	assert.Equal(t, 1.0, res.Best.Params["entry_tick"], "earliest entry captures the most of the rise")
	assert.True(t, res.Best.IsBest)
	assert.Greater(t, res.Samples[0].Objective, res.Samples[2].Objective)
}

func TestRun_ProgressAndValidation(t *testing.T) {
	cfg := sweepConfig(10, map[string]Range{
		"entry_tick": {Min: 1, Max: 2, Step: 1},
	})
	var calls int
	cfg.Progress = func(done, total int) {
		calls++
		assert.Equal(t, 2, total)
	}

	_, err := Run(context.Background(), cfg, risingCandles(10))
	require.NoError(t, err)
	assert.Equal(t, 2, calls)

	_, err = Run(context.Background(), sweepConfig(10, nil), risingCandles(10))
	assert.Error(t, err)

	bad := sweepConfig(0, map[string]Range{"a": {Min: 1, Max: 2, Step: 1}})
	_, err = Run(context.Background(), bad, risingCandles(10))
	assert.Error(t, err)
}

func TestRun_RejectsInvertedRange(t *testing.T) {
	// An inverted range enumerates to nothing; it must be refused up front
	// instead of reaching the tuple generator.
	cfg := sweepConfig(10, map[string]Range{
		"rsi_period": {Min: 20, Max: 5, Step: 1},
	})
	_, err := Run(context.Background(), cfg, risingCandles(10))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "rsi_period")

	bad := sweepConfig(10, map[string]Range{
		"rsi_period": {Min: 5, Max: 20, Step: -1},
	})
	_, err = Run(context.Background(), bad, risingCandles(10))
	assert.Error(t, err)
}

func TestRangeValidate(t *testing.T) {
	assert.NoError(t, Range{Min: 5, Max: 20, Step: 1}.Validate("x"))
	assert.NoError(t, Range{Min: 5, Max: 5}.Validate("x"), "a fixed value is a legal range")
	assert.Error(t, Range{Min: 20, Max: 5, Step: 1}.Validate("x"))
	assert.Error(t, Range{Min: 5, Max: 20, Step: -1}.Validate("x"))
}

func TestHeatmap_MeansAndBestCell(t *testing.T) {
	mk := func(a, b, ret float64, errMsg string) Sample {
		return Sample{
			Params:  map[string]float64{"a": a, "b": b},
			Metrics: backtest.Metrics{TotalReturnPct: ret},
			Err:     errMsg,
		}
	}
	samples := []Sample{
		mk(1, 1, 10, ""),
		mk(1, 1, 20, ""), // same cell: mean 15
		mk(1, 2, 40, ""),
		mk(2, 2, 99, "boom"), // errored, excluded
	}

	cells, best := Heatmap(samples, "a", "b", "total_return_percent")
	assert.Len(t, cells, 2)
	require.NotNil(t, best)
	assert.Equal(t, 1.0, best.X)
	assert.Equal(t, 2.0, best.Y)
	assert.Equal(t, 40.0, best.Value)

	for _, c := range cells {
		if c.X == 1 && c.Y == 1 {
			assert.Equal(t, 15.0, c.Value)
			assert.Equal(t, 2, c.Count)
		}
	}
}
