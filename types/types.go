package types

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// ═══════════════════════════════════════════════════════════════════════════════
// SHARED TYPES - Avoid import cycles
// ═══════════════════════════════════════════════════════════════════════════════

// Signal is the trade intent emitted by a strategy.
type Signal string

const (
	SignalBuy       Signal = "BUY"
	SignalSell      Signal = "SELL"
	SignalExitLong  Signal = "EXIT_LONG"
	SignalExitShort Signal = "EXIT_SHORT"
)

// IsEntry reports whether the signal opens exposure (and therefore
// requires a stop-loss).
func (s Signal) IsEntry() bool {
	return s == SignalBuy || s == SignalExitShort
}

// OrderType is the broker order kind.
type OrderType string

const (
	OrderTypeMarket         OrderType = "MARKET"
	OrderTypeLimit          OrderType = "LIMIT"
	OrderTypeStopLoss       OrderType = "STOP_LOSS"
	OrderTypeStopLossMarket OrderType = "STOP_LOSS_MARKET"
)

// Interval is a candle bar interval.
type Interval string

const (
	Interval1Min  Interval = "1min"
	Interval5Min  Interval = "5min"
	Interval15Min Interval = "15min"
	Interval30Min Interval = "30min"
	Interval1Hour Interval = "1hour"
	Interval1Day  Interval = "1day"
)

// Duration returns the bar length.
func (i Interval) Duration() time.Duration {
	switch i {
	case Interval1Min:
		return time.Minute
	case Interval5Min:
		return 5 * time.Minute
	case Interval15Min:
		return 15 * time.Minute
	case Interval30Min:
		return 30 * time.Minute
	case Interval1Hour:
		return time.Hour
	case Interval1Day:
		return 24 * time.Hour
	}
	return time.Minute
}

// MaxRangeDays is the broker per-request range limit for this interval.
// Intraday intervals are capped at 100 days, daily at 365.
func (i Interval) MaxRangeDays() int {
	if i == Interval1Day {
		return 365
	}
	return 100
}

// Valid reports whether the interval is one the platform supports.
func (i Interval) Valid() bool {
	switch i {
	case Interval1Min, Interval5Min, Interval15Min, Interval30Min, Interval1Hour, Interval1Day:
		return true
	}
	return false
}

// Tick is a single market-data update delivered to a strategy.
type Tick struct {
	Symbol    string
	Exchange  string
	Timestamp time.Time
	LastPrice decimal.Decimal
	Open      decimal.Decimal
	High      decimal.Decimal
	Low       decimal.Decimal
	Close     decimal.Decimal
	Volume    int64
	Bid       decimal.Decimal
	BidSize   int64
	Ask       decimal.Decimal
	AskSize   int64
}

// Key returns the "exchange:symbol" index key used for tick fan-out.
func (t Tick) Key() string {
	return t.Exchange + ":" + t.Symbol
}

// SymbolKey builds the fan-out key for an exchange/symbol pair.
func SymbolKey(exchange, symbol string) string {
	return exchange + ":" + symbol
}

// Candle is one OHLCV bar of historical data.
type Candle struct {
	Timestamp time.Time
	Open      decimal.Decimal
	High      decimal.Decimal
	Low       decimal.Decimal
	Close     decimal.Decimal
	Volume    int64
}

// Validate checks the OHLC invariant: low ≤ open,close ≤ high and low > 0.
func (c Candle) Validate() error {
	if !c.Low.IsPositive() {
		return fmt.Errorf("candle at %s: low must be positive, got %s", c.Timestamp.Format(time.RFC3339), c.Low)
	}
	if c.Open.LessThan(c.Low) || c.Close.LessThan(c.Low) {
		return fmt.Errorf("candle at %s: open/close below low", c.Timestamp.Format(time.RFC3339))
	}
	if c.Open.GreaterThan(c.High) || c.Close.GreaterThan(c.High) {
		return fmt.Errorf("candle at %s: open/close above high", c.Timestamp.Format(time.RFC3339))
	}
	return nil
}

// Order is a candidate order emitted by a strategy. Prices left at zero
// mean "not set"; the risk gate rejects entry orders without a stop-loss.
type Order struct {
	Symbol     string
	Exchange   string
	Signal     Signal
	Quantity   int64
	OrderType  OrderType
	LimitPrice decimal.Decimal
	StopLoss   decimal.Decimal
	Target     decimal.Decimal
	Reason     string
}

// HasStopLoss reports whether the order carries a stop-loss price.
func (o Order) HasStopLoss() bool {
	return o.StopLoss.IsPositive()
}

// Position is an open holding. Quantity is signed: positive = long.
type Position struct {
	Symbol       string
	Exchange     string
	Quantity     int64
	AvgPrice     decimal.Decimal
	CurrentPrice decimal.Decimal
	PnL          decimal.Decimal
}

// RiskLimits are the per-subscription limits, immutable for a run.
type RiskLimits struct {
	MaxDrawdownPct   decimal.Decimal // percent of capital
	DailyLossLimit   decimal.Decimal // absolute currency
	StopLossPct      decimal.Decimal // per-trade stop distance, percent
	MaxPositions     int
	MaxOrderValuePct decimal.Decimal // percent of capital, default 20
	MaxDailyTrades   int             // default 50
}

// DefaultRiskLimits returns limits with platform defaults applied.
func DefaultRiskLimits() RiskLimits {
	return RiskLimits{
		MaxDrawdownPct:   decimal.NewFromInt(10),
		DailyLossLimit:   decimal.NewFromInt(5000),
		StopLossPct:      decimal.NewFromInt(2),
		MaxPositions:     5,
		MaxOrderValuePct: decimal.NewFromInt(20),
		MaxDailyTrades:   50,
	}
}

// StrategyContext is the mutable per-runner state shared by reference with
// the strategy. The runtime owns position reconciliation; strategies read it.
type StrategyContext struct {
	StrategyID     string
	UserID         string
	SubscriptionID string
	Capital        decimal.Decimal
	Limits         RiskLimits
	Paper          bool

	Positions     []*Position
	RealizedPnL   decimal.Decimal
	UnrealizedPnL decimal.Decimal
	TodayPnL      decimal.Decimal

	TodayTradeCount int
}

// TotalPnL is always realized + unrealized.
func (c *StrategyContext) TotalPnL() decimal.Decimal {
	return c.RealizedPnL.Add(c.UnrealizedPnL)
}

// Position returns the open position for a symbol, or nil.
func (c *StrategyContext) Position(symbol string) *Position {
	for _, p := range c.Positions {
		if p.Symbol == symbol {
			return p
		}
	}
	return nil
}

// OpenPositionCount returns the number of non-flat positions.
func (c *StrategyContext) OpenPositionCount() int {
	n := 0
	for _, p := range c.Positions {
		if p.Quantity != 0 {
			n++
		}
	}
	return n
}

// RemoveFlat drops positions whose quantity reached zero. A flat position
// must not survive to the next tick.
func (c *StrategyContext) RemoveFlat() {
	kept := c.Positions[:0]
	for _, p := range c.Positions {
		if p.Quantity != 0 {
			kept = append(kept, p)
		}
	}
	c.Positions = kept
}

// MarkPrice updates a symbol's position with the latest price and refreshes
// the unrealized PnL aggregate across all positions.
func (c *StrategyContext) MarkPrice(symbol string, price decimal.Decimal) {
	if p := c.Position(symbol); p != nil {
		p.CurrentPrice = price
		p.PnL = price.Sub(p.AvgPrice).Mul(decimal.NewFromInt(p.Quantity))
	}
	unrealized := decimal.Zero
	for _, p := range c.Positions {
		unrealized = unrealized.Add(p.PnL)
	}
	c.UnrealizedPnL = unrealized
}
