package risk

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"

	"github.com/karthikreddy9595/AlgoTrading-sub000/types"
)

type stubSwitches struct{ active bool }

func (s stubSwitches) IsStrategyActive(_, _ string) bool { return s.active }

func testContext() *types.StrategyContext {
	return &types.StrategyContext{
		StrategyID:     "sma_rsi_crossover",
		UserID:         "u1",
		SubscriptionID: "sub1",
		Capital:        decimal.NewFromInt(100_000),
		Limits:         types.DefaultRiskLimits(),
	}
}

func buyOrder(qty int64, price float64) types.Order {
	return types.Order{
		Symbol:     "RELIANCE",
		Exchange:   "NSE",
		Signal:     types.SignalBuy,
		Quantity:   qty,
		OrderType:  types.OrderTypeLimit,
		LimitPrice: decimal.NewFromFloat(price),
		StopLoss:   decimal.NewFromFloat(price * 0.98),
	}
}

func TestEvaluate_AllowsCleanOrder(t *testing.T) {
	m := NewManager(stubSwitches{})
	d := m.Evaluate(buyOrder(5, 1000), testContext())
	assert.True(t, d.Allowed)
	assert.False(t, d.TriggerKillSwitch)
}

func TestEvaluate_KillSwitchBlocksEverything(t *testing.T) {
	m := NewManager(stubSwitches{active: true})
	d := m.Evaluate(buyOrder(1, 100), testContext())
	assert.False(t, d.Allowed)
	assert.Equal(t, LimitKillSwitch, d.LimitType)
}

func TestEvaluate_DeniesOversizeEntry(t *testing.T) {
	// Capital 100 000 with the 20% default: order value 25 000 > 20 000.
	m := NewManager(stubSwitches{})
	d := m.Evaluate(buyOrder(10, 2500), testContext())
	assert.False(t, d.Allowed)
	assert.Equal(t, LimitOrderValue, d.LimitType)
	assert.False(t, d.TriggerKillSwitch)
}

func TestEvaluate_DeniesEntryWithoutStopLoss(t *testing.T) {
	m := NewManager(stubSwitches{})
	order := buyOrder(1, 100)
	order.StopLoss = decimal.Zero
	d := m.Evaluate(order, testContext())
	assert.False(t, d.Allowed)
	assert.Equal(t, LimitStopLossRequired, d.LimitType)
}

func TestEvaluate_DrawdownBreachTriggersKillSwitch(t *testing.T) {
	m := NewManager(stubSwitches{})
	ctx := testContext()
	ctx.RealizedPnL = decimal.NewFromInt(-10_001)

	d := m.Evaluate(buyOrder(1, 100), ctx)
	assert.False(t, d.Allowed)
	assert.Equal(t, LimitMaxDrawdown, d.LimitType)
	assert.True(t, d.TriggerKillSwitch)
}

func TestEvaluate_DailyLossBreachTriggersKillSwitch(t *testing.T) {
	m := NewManager(stubSwitches{})
	ctx := testContext()
	ctx.TodayPnL = decimal.NewFromInt(-5_000)

	d := m.Evaluate(buyOrder(1, 100), ctx)
	assert.False(t, d.Allowed)
	assert.Equal(t, LimitDailyLoss, d.LimitType)
	assert.True(t, d.TriggerKillSwitch)
}

func TestEvaluate_DailyTradeLimit(t *testing.T) {
	m := NewManager(stubSwitches{})
	ctx := testContext()
	ctx.TodayTradeCount = 50

	d := m.Evaluate(buyOrder(1, 100), ctx)
	assert.False(t, d.Allowed)
	assert.Equal(t, LimitDailyTrades, d.LimitType)
}

func TestEvaluate_PositionCountOnlyBlocksFreshEntries(t *testing.T) {
	m := NewManager(stubSwitches{})
	ctx := testContext()
	ctx.Limits.MaxPositions = 1
	ctx.Positions = []*types.Position{
		{Symbol: "TCS", Quantity: 10, AvgPrice: decimal.NewFromInt(3000)},
	}

	d := m.Evaluate(buyOrder(1, 100), ctx)
	assert.False(t, d.Allowed)
	assert.Equal(t, LimitPositionCount, d.LimitType)

	// Averaging into the existing position is not a fresh entry.
	existing := buyOrder(1, 100)
	existing.Symbol = "TCS"
	d = m.Evaluate(existing, ctx)
	assert.True(t, d.Allowed)
}

func TestEvaluate_ExitOrdersSkipEntryChecks(t *testing.T) {
	m := NewManager(stubSwitches{})
	ctx := testContext()
	exit := types.Order{
		Symbol:    "RELIANCE",
		Exchange:  "NSE",
		Signal:    types.SignalExitLong,
		Quantity:  100,
		OrderType: types.OrderTypeMarket,
	}
	d := m.Evaluate(exit, ctx)
	assert.True(t, d.Allowed)
}

func TestPositionSizeFromRisk(t *testing.T) {
	// 1% of 100 000 = 1 000 riskable; stop distance 20 → 50 shares.
	qty := PositionSizeFromRisk(
		decimal.NewFromInt(100_000),
		decimal.NewFromInt(1),
		decimal.NewFromInt(1000),
		decimal.NewFromInt(980),
	)
	assert.Equal(t, int64(50), qty)

	assert.Equal(t, int64(0), PositionSizeFromRisk(
		decimal.NewFromInt(100_000),
		decimal.NewFromInt(1),
		decimal.NewFromInt(1000),
		decimal.NewFromInt(1000),
	))
}
