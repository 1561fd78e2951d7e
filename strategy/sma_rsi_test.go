package strategy

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/karthikreddy9595/AlgoTrading-sub000/types"
)

func newTestContext() *types.StrategyContext {
	return &types.StrategyContext{
		StrategyID:     "sma_rsi_crossover",
		UserID:         "u1",
		SubscriptionID: "sub1",
		Capital:        decimal.NewFromInt(100_000),
		Limits:         types.DefaultRiskLimits(),
	}
}

func tickAt(close float64, i int) types.Tick {
	price := decimal.NewFromFloat(close)
	return types.Tick{
		Symbol:    "RELIANCE",
		Exchange:  "NSE",
		Timestamp: time.Date(2024, 6, 3, 9, 15, 0, 0, time.UTC).Add(time.Duration(i) * 5 * time.Minute),
		LastPrice: price,
		Open:      price,
		High:      price,
		Low:       price,
		Close:     price,
	}
}

func TestSMARsi_EmitsExactlyOneBuyOnCrossUp(t *testing.T) {
	ctx := newTestContext()
	strat := newSMARsiCrossover(ctx)
	strat.ApplyConfig(map[string]float64{"fast_period": 3, "slow_period": 5})

	closes := []float64{10, 10, 10, 10, 10, 11, 12, 13, 14, 15, 16, 17, 18, 19, 20, 21, 22, 23, 24, 25}

	var orders []*types.Order
	var orderIndex int
	for i, c := range closes {
		if o := strat.OnMarketData(tickAt(c, i)); o != nil {
			orders = append(orders, o)
			orderIndex = i
		}
	}

	require.Len(t, orders, 1, "exactly one BUY per cross")
	assert.Equal(t, 5, orderIndex, "fast SMA crosses above slow at the first rising close")
	order := orders[0]
	assert.Equal(t, types.SignalBuy, order.Signal)
	assert.True(t, order.HasStopLoss(), "entries always carry a stop")
	assert.True(t, order.Quantity >= 1)
}

func TestSMARsi_OverboughtRSISuppressesEntry(t *testing.T) {
	ctx := newTestContext()
	strat := newSMARsiCrossover(ctx)
	// Overbought floor is 50; a long rising series pins RSI at 100.
	strat.ApplyConfig(map[string]float64{"fast_period": 3, "slow_period": 5, "rsi_overbought": 50, "rsi_period": 3})

	var orders int
	for i := 0; i < 30; i++ {
		close := 100.0
		if i >= 10 {
			close = 100 + float64(i-9)
		}
		if o := strat.OnMarketData(tickAt(close, i)); o != nil {
			orders++
		}
	}
	assert.Zero(t, orders, "RSI at or above the overbought level blocks the buy")
}

func TestSMARsi_ExitsOnCrossDown(t *testing.T) {
	ctx := newTestContext()
	strat := newSMARsiCrossover(ctx)
	strat.ApplyConfig(map[string]float64{"fast_period": 3, "slow_period": 5})

	closes := []float64{10, 10, 10, 10, 10, 11, 12, 13, 14, 15, 14, 12, 10, 8, 6}
	var signals []types.Signal
	for i, c := range closes {
		if o := strat.OnMarketData(tickAt(c, i)); o != nil {
			signals = append(signals, o.Signal)
			if o.Signal == types.SignalBuy {
				// Simulate the fill so the exit path sees a position.
				ctx.Positions = append(ctx.Positions, &types.Position{
					Symbol:   o.Symbol,
					Quantity: o.Quantity,
					AvgPrice: decimal.NewFromFloat(c),
				})
			}
		}
	}

	require.Len(t, signals, 2)
	assert.Equal(t, types.SignalBuy, signals[0])
	assert.Equal(t, types.SignalExitLong, signals[1])
}

func TestSMARsi_StateRoundTripIsFixedPoint(t *testing.T) {
	strat := newSMARsiCrossover(newTestContext())
	for i, c := range []float64{10, 11, 12, 13, 14} {
		strat.OnMarketData(tickAt(c, i))
	}

	state := strat.GetState()
	strat.SetState(state)
	assert.Equal(t, state, strat.GetState(), "set_state(get_state()) is a fixed point")
}

func TestRSIMomentum_StateRoundTripIsFixedPoint(t *testing.T) {
	strat := newRSIMomentum(newTestContext())
	for i, c := range []float64{50, 48, 46, 44, 42, 40, 41, 43, 45, 47, 49, 51, 53, 55, 57, 59} {
		strat.OnMarketData(tickAt(c, i))
	}

	state := strat.GetState()
	strat.SetState(state)
	assert.Equal(t, state, strat.GetState())
}

func TestRSIMomentum_BuysOnOversoldRecovery(t *testing.T) {
	ctx := newTestContext()
	strat := newRSIMomentum(ctx)
	strat.ApplyConfig(map[string]float64{"rsi_period": 3, "oversold": 30, "overbought": 70})

	// Steady decline pins RSI at 0, then a recovery lifts it above 30.
	closes := []float64{100, 98, 96, 94, 92, 90, 95, 99, 103}
	var buys int
	for i, c := range closes {
		if o := strat.OnMarketData(tickAt(c, i)); o != nil && o.Signal == types.SignalBuy {
			buys++
			assert.True(t, o.HasStopLoss())
		}
	}
	assert.Equal(t, 1, buys)
}

func TestApplyConfig_ClampsOutOfRangeValues(t *testing.T) {
	strat := newSMARsiCrossover(newTestContext())
	strat.ApplyConfig(map[string]float64{
		"fast_period":    1000, // max 50
		"rsi_overbought": 10,   // min 50
		"unknown_param":  42,   // ignored
	})
	assert.Equal(t, 50, strat.fastPeriod)
	assert.Equal(t, 50.0, strat.rsiOverbought)
}

func TestRegistry_GetAndList(t *testing.T) {
	def, err := Get("sma_rsi_crossover")
	require.NoError(t, err)
	assert.Equal(t, "sma_rsi_crossover", def.ID)
	assert.NotNil(t, def.New)

	_, err = Get("does_not_exist")
	assert.Error(t, err)

	ids := make(map[string]bool)
	for _, d := range List() {
		ids[d.ID] = true
	}
	assert.True(t, ids["sma_rsi_crossover"])
	assert.True(t, ids["rsi_momentum"])
}

func TestParamDescriptor_ClampRoundsIntParams(t *testing.T) {
	d := ParamDescriptor{Name: "p", Type: ParamInt, Min: 2, Max: 50}
	assert.Equal(t, 10.0, d.Clamp(9.7))
	assert.Equal(t, 2.0, d.Clamp(-3))
	assert.Equal(t, 50.0, d.Clamp(1e9))
}
