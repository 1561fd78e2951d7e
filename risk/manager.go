package risk

import (
	"fmt"

	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"

	"github.com/karthikreddy9595/AlgoTrading-sub000/types"
)

// ═══════════════════════════════════════════════════════════════════════════════
// RISK MANAGER - Central pre-trade approval
// ═══════════════════════════════════════════════════════════════════════════════
//
// Strategy asks → Risk approves/rejects → Engine executes
//
// Checks run in a fixed order and the first denial returns immediately.
// A denial is a normal control outcome, never an error.
//
// ═══════════════════════════════════════════════════════════════════════════════

// LimitType identifies which rule denied an order.
type LimitType string

const (
	LimitKillSwitch       LimitType = "kill_switch"
	LimitDailyLoss        LimitType = "daily_loss"
	LimitMaxDrawdown      LimitType = "max_drawdown"
	LimitPositionCount    LimitType = "position_count"
	LimitOrderValue       LimitType = "order_value"
	LimitDailyTrades      LimitType = "daily_trades"
	LimitStopLossRequired LimitType = "stop_loss_required"
)

// Decision is the gate verdict for one candidate order.
type Decision struct {
	Allowed   bool
	LimitType LimitType
	Reason    string

	// TriggerKillSwitch is set for drawdown and daily-loss denials; the
	// supervisor upgrades these to a subscription-scoped kill switch.
	TriggerKillSwitch bool
}

// KillSwitches is the slice of the kill-switch plane the gate consults.
// The fast path reads a locally cached snapshot.
type KillSwitches interface {
	IsStrategyActive(subscriptionID, userID string) bool
}

// Manager is the synchronous pre-trade gate. It is pure apart from the
// kill-switch lookup: given (order, context) it returns allow/deny.
type Manager struct {
	switches KillSwitches
}

// NewManager creates a risk manager. switches may be nil (backtests).
func NewManager(switches KillSwitches) *Manager {
	return &Manager{switches: switches}
}

func deny(limit LimitType, reason string) Decision {
	d := Decision{Allowed: false, LimitType: limit, Reason: reason}
	if limit == LimitMaxDrawdown || limit == LimitDailyLoss {
		d.TriggerKillSwitch = true
	}
	log.Debug().Str("limit", string(limit)).Str("reason", reason).Msg("Order rejected")
	return d
}

// Evaluate runs every check in order against the candidate order.
func (m *Manager) Evaluate(order types.Order, ctx *types.StrategyContext) Decision {
	limits := ctx.Limits
	hundred := decimal.NewFromInt(100)

	// 1. Kill-switch fast path
	if m.switches != nil && m.switches.IsStrategyActive(ctx.SubscriptionID, ctx.UserID) {
		return deny(LimitKillSwitch, "kill switch active")
	}

	// 2. Daily loss limit
	if limits.DailyLossLimit.IsPositive() && ctx.TodayPnL.LessThanOrEqual(limits.DailyLossLimit.Neg()) {
		return deny(LimitDailyLoss, fmt.Sprintf("today's PnL %s breaches daily loss limit %s",
			ctx.TodayPnL.StringFixed(2), limits.DailyLossLimit.StringFixed(2)))
	}

	// 3. Max drawdown
	if limits.MaxDrawdownPct.IsPositive() && ctx.Capital.IsPositive() {
		ddPct := ctx.TotalPnL().Div(ctx.Capital).Mul(hundred)
		if ddPct.LessThanOrEqual(limits.MaxDrawdownPct.Neg()) {
			return deny(LimitMaxDrawdown, fmt.Sprintf("drawdown %s%% breaches limit %s%%",
				ddPct.StringFixed(2), limits.MaxDrawdownPct.StringFixed(2)))
		}
	}

	// 4. Position count, only for fresh BUY entries
	if order.Signal == types.SignalBuy && ctx.Position(order.Symbol) == nil {
		if limits.MaxPositions > 0 && ctx.OpenPositionCount() >= limits.MaxPositions {
			return deny(LimitPositionCount, fmt.Sprintf("open positions %d at limit %d",
				ctx.OpenPositionCount(), limits.MaxPositions))
		}
	}

	// 5. Position sizing, only for BUY with an explicit price
	if order.Signal == types.SignalBuy && order.LimitPrice.IsPositive() {
		value := order.LimitPrice.Mul(decimal.NewFromInt(order.Quantity))
		maxValue := ctx.Capital.Mul(limits.MaxOrderValuePct).Div(hundred)
		if value.GreaterThan(maxValue) {
			return deny(LimitOrderValue, fmt.Sprintf("order value %s exceeds %s%% of capital (%s)",
				value.StringFixed(2), limits.MaxOrderValuePct.StringFixed(0), maxValue.StringFixed(2)))
		}
	}

	// 6. Daily trade limit
	if limits.MaxDailyTrades > 0 && ctx.TodayTradeCount >= limits.MaxDailyTrades {
		return deny(LimitDailyTrades, fmt.Sprintf("daily trade count %d at limit %d",
			ctx.TodayTradeCount, limits.MaxDailyTrades))
	}

	// 7. Stop-loss required on every entry signal
	if order.Signal.IsEntry() && !order.HasStopLoss() {
		return deny(LimitStopLossRequired, "entry order without stop-loss")
	}

	return Decision{Allowed: true}
}
