package backtest

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/karthikreddy9595/AlgoTrading-sub000/types"
)

func d(v float64) decimal.Decimal { return decimal.NewFromFloat(v) }

func simContext(capital int64) *types.StrategyContext {
	return &types.StrategyContext{
		Capital: decimal.NewFromInt(capital),
		Limits:  types.DefaultRiskLimits(),
	}
}

func candle(ts time.Time, open, high, low, close float64) types.Candle {
	return types.Candle{Timestamp: ts, Open: d(open), High: d(high), Low: d(low), Close: d(close), Volume: 1000}
}

func marketBuy(symbol string, qty int64) *types.Order {
	return &types.Order{Symbol: symbol, Signal: types.SignalBuy, Quantity: qty, OrderType: types.OrderTypeMarket}
}

func marketSell(symbol string, qty int64) *types.Order {
	return &types.Order{Symbol: symbol, Signal: types.SignalSell, Quantity: qty, OrderType: types.OrderTypeMarket}
}

func TestSimulator_MarketFillAppliesAdverseSlippage(t *testing.T) {
	ctx := simContext(100_000)
	sim := newSimulator(ctx, d(1)) // 1% slippage
	ts := time.Now()

	sim.execute(marketBuy("X", 10), candle(ts, 100, 101, 99, 100))

	lot := sim.lots["X"]
	require.NotNil(t, lot)
	assert.Equal(t, int64(10), lot.quantity)
	assert.True(t, lot.avgPrice.Equal(d(101)), "buy fills at close x 1.01, got %s", lot.avgPrice)

	sim.execute(marketSell("X", 10), candle(ts.Add(time.Minute), 100, 101, 99, 100))
	require.Len(t, sim.trades, 1)
	expectedExit := d(100).Div(d(1.01))
	assert.True(t, sim.trades[0].ExitPrice.Equal(expectedExit), "sell fills at close / 1.01")
}

func TestSimulator_FlatPositionIsRemovedFromContext(t *testing.T) {
	ctx := simContext(100_000)
	sim := newSimulator(ctx, decimal.Zero)
	ts := time.Now()

	sim.execute(marketBuy("X", 10), candle(ts, 100, 101, 99, 100))
	require.NotNil(t, ctx.Position("X"))

	sim.execute(marketSell("X", 10), candle(ts.Add(time.Minute), 100, 101, 99, 100))
	assert.Nil(t, ctx.Position("X"), "a flat position must not survive to the next tick")
	assert.Empty(t, sim.lots)
}

func TestSimulator_BuyAveragesUp(t *testing.T) {
	ctx := simContext(100_000)
	sim := newSimulator(ctx, decimal.Zero)
	ts := time.Now()

	sim.execute(marketBuy("X", 10), candle(ts, 100, 101, 99, 100))
	sim.execute(marketBuy("X", 10), candle(ts.Add(time.Minute), 120, 121, 119, 120))

	lot := sim.lots["X"]
	require.NotNil(t, lot)
	assert.Equal(t, int64(20), lot.quantity)
	assert.True(t, lot.avgPrice.Equal(d(110)), "avg of 100 and 120, got %s", lot.avgPrice)
}

func TestSimulator_SellRealizesPnL(t *testing.T) {
	ctx := simContext(100_000)
	sim := newSimulator(ctx, decimal.Zero)
	ts := time.Now()

	sim.execute(marketBuy("X", 10), candle(ts, 100, 101, 99, 100))
	sim.execute(marketSell("X", 10), candle(ts.Add(time.Minute), 110, 111, 109, 110))

	require.Len(t, sim.trades, 1)
	trade := sim.trades[0]
	assert.True(t, trade.PnL.Equal(d(100)), "(110-100) x 10")
	assert.InDelta(t, 10.0, trade.PnLPct, 1e-9)
	assert.True(t, ctx.RealizedPnL.Equal(d(100)))
}

func TestSimulator_InsufficientCapitalDownscales(t *testing.T) {
	ctx := simContext(1000)
	sim := newSimulator(ctx, decimal.Zero)
	ts := time.Now()

	// 100 shares at 150 needs 15 000; only 1 000 available → 6 shares.
	sim.execute(marketBuy("X", 100), candle(ts, 150, 151, 149, 150))

	lot := sim.lots["X"]
	require.NotNil(t, lot)
	assert.Equal(t, int64(6), lot.quantity)
}

func TestSimulator_RejectsWhenBelowOneShare(t *testing.T) {
	ctx := simContext(100)
	sim := newSimulator(ctx, decimal.Zero)

	sim.execute(marketBuy("X", 10), candle(time.Now(), 150, 151, 149, 150))
	assert.Empty(t, sim.lots)
	assert.True(t, sim.cash.Equal(d(100)))
}

func TestSimulator_LimitFills(t *testing.T) {
	ts := time.Now()

	limitBuy := &types.Order{Symbol: "X", Signal: types.SignalBuy, Quantity: 10, OrderType: types.OrderTypeLimit, LimitPrice: d(95)}

	// Candle low 99 never touches the 95 limit.
	sim := newSimulator(simContext(100_000), decimal.Zero)
	sim.execute(limitBuy, candle(ts, 100, 101, 99, 100))
	assert.Empty(t, sim.lots, "limit above the range does not fill")

	// Candle low 94 crosses the limit: fill at the limit price.
	sim = newSimulator(simContext(100_000), decimal.Zero)
	sim.execute(limitBuy, candle(ts, 100, 101, 94, 100))
	require.NotNil(t, sim.lots["X"])
	assert.True(t, sim.lots["X"].avgPrice.Equal(d(95)))

	// Limit sell fills when the high reaches it.
	sim.execute(&types.Order{Symbol: "X", Signal: types.SignalSell, Quantity: 10, OrderType: types.OrderTypeLimit, LimitPrice: d(105)},
		candle(ts.Add(time.Minute), 100, 106, 99, 104))
	require.Len(t, sim.trades, 1)
	assert.True(t, sim.trades[0].ExitPrice.Equal(d(105)))
}

func TestSimulator_StopTriggersOnAdverseCross(t *testing.T) {
	ts := time.Now()
	sim := newSimulator(simContext(100_000), decimal.Zero)
	sim.execute(marketBuy("X", 10), candle(ts, 100, 101, 99, 100))

	protect := &types.Order{Symbol: "X", Signal: types.SignalExitLong, Quantity: 10, OrderType: types.OrderTypeStopLoss, StopLoss: d(96)}

	// Low stays above the trigger: no fill.
	sim.execute(protect, candle(ts.Add(time.Minute), 100, 101, 97, 100))
	assert.Empty(t, sim.trades)

	// Low crosses the trigger: fill at the trigger price.
	sim.execute(protect, candle(ts.Add(2*time.Minute), 97, 98, 95, 95))
	require.Len(t, sim.trades, 1)
	assert.True(t, sim.trades[0].ExitPrice.Equal(d(96)))
}

func TestSimulator_ForceCloseRecordsOpenLots(t *testing.T) {
	ts := time.Now()
	sim := newSimulator(simContext(100_000), decimal.Zero)
	sim.execute(marketBuy("X", 10), candle(ts, 100, 101, 99, 100))

	sim.forceCloseAll(d(120), ts.Add(time.Hour))

	require.Len(t, sim.trades, 1)
	assert.True(t, sim.trades[0].PnL.Equal(d(200)))
	assert.Empty(t, sim.lots)
}
