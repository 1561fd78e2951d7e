package strategy

import (
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/karthikreddy9595/AlgoTrading-sub000/internal/indicators"
	"github.com/karthikreddy9595/AlgoTrading-sub000/risk"
	"github.com/karthikreddy9595/AlgoTrading-sub000/types"
)

// maxHistory bounds the close-price ring every library strategy keeps.
const maxHistory = 512

var smaRsiParams = []ParamDescriptor{
	{Name: "fast_period", DisplayName: "Fast SMA Period", Type: ParamInt, Default: 9, Min: 2, Max: 50, Description: "Lookback of the fast moving average"},
	{Name: "slow_period", DisplayName: "Slow SMA Period", Type: ParamInt, Default: 21, Min: 3, Max: 200, Description: "Lookback of the slow moving average"},
	{Name: "rsi_period", DisplayName: "RSI Period", Type: ParamInt, Default: 14, Min: 2, Max: 50, Description: "RSI lookback"},
	{Name: "rsi_overbought", DisplayName: "RSI Overbought", Type: ParamFloat, Default: 70, Min: 50, Max: 95, Description: "Skip entries when RSI is at or above this level"},
	{Name: "risk_per_trade_pct", DisplayName: "Risk Per Trade %", Type: ParamFloat, Default: 1, Min: 0.1, Max: 5, Description: "Capital percent risked between entry and stop"},
}

func init() {
	Register(Definition{
		ID:          "sma_rsi_crossover",
		Name:        "SMA Crossover with RSI Filter",
		Version:     "1.2.0",
		MinCapital:  decimal.NewFromInt(25000),
		Symbols:     []string{"RELIANCE", "TCS", "INFY", "HDFCBANK", "SBIN", "NIFTY50"},
		BarInterval: types.Interval5Min,
		Params:      smaRsiParams,
		New: func(ctx *types.StrategyContext) Strategy {
			return newSMARsiCrossover(ctx)
		},
	})
}

// SMARsiCrossover goes long when the fast SMA crosses above the slow SMA
// while RSI is below the overbought level, and exits on the reverse cross.
type SMARsiCrossover struct {
	ctx *types.StrategyContext

	fastPeriod    int
	slowPeriod    int
	rsiPeriod     int
	rsiOverbought float64
	riskPct       float64

	closes   []float64
	prevFast float64
	prevSlow float64
	havePrev bool
}

func newSMARsiCrossover(ctx *types.StrategyContext) *SMARsiCrossover {
	s := &SMARsiCrossover{ctx: ctx}
	defaults := make(map[string]float64, len(smaRsiParams))
	for _, d := range smaRsiParams {
		defaults[d.Name] = d.Default
	}
	s.ApplyConfig(defaults)
	return s
}

// Name returns the strategy identifier.
func (s *SMARsiCrossover) Name() string { return "sma_rsi_crossover" }

func (s *SMARsiCrossover) OnStart()  {}
func (s *SMARsiCrossover) OnStop()   {}
func (s *SMARsiCrossover) OnPause()  {}
func (s *SMARsiCrossover) OnResume() {}

// ApplyConfig sets parameters, clamping out-of-range values.
func (s *SMARsiCrossover) ApplyConfig(cfg map[string]float64) {
	applyConfig(smaRsiParams, cfg, func(name string, v float64) {
		switch name {
		case "fast_period":
			s.fastPeriod = int(v)
		case "slow_period":
			s.slowPeriod = int(v)
		case "rsi_period":
			s.rsiPeriod = int(v)
		case "rsi_overbought":
			s.rsiOverbought = v
		case "risk_per_trade_pct":
			s.riskPct = v
		}
	})
}

// OnMarketData appends the close, detects SMA crosses and emits at most one
// order per cross.
func (s *SMARsiCrossover) OnMarketData(tick types.Tick) *types.Order {
	price := tick.LastPrice
	s.closes = append(s.closes, price.InexactFloat64())
	if len(s.closes) > maxHistory {
		s.closes = s.closes[len(s.closes)-maxHistory:]
	}

	fast := indicators.SMA(s.closes, s.fastPeriod)
	slow := indicators.SMA(s.closes, s.slowPeriod)

	if !s.havePrev {
		s.prevFast, s.prevSlow, s.havePrev = fast, slow, true
		return nil
	}

	crossUp := s.prevFast <= s.prevSlow && fast > slow
	crossDown := s.prevFast >= s.prevSlow && fast < slow
	s.prevFast, s.prevSlow = fast, slow

	pos := s.ctx.Position(tick.Symbol)

	if crossUp && (pos == nil || pos.Quantity == 0) {
		rsi := indicators.RSI(s.closes, s.rsiPeriod)
		if rsi >= s.rsiOverbought {
			return nil
		}
		stop := stopBelow(price, s.ctx.Limits.StopLossPct)
		qty := risk.PositionSizeFromRisk(s.ctx.Capital, decimal.NewFromFloat(s.riskPct), price, stop)
		if qty < 1 {
			return nil
		}
		return &types.Order{
			Symbol:    tick.Symbol,
			Exchange:  tick.Exchange,
			Signal:    types.SignalBuy,
			Quantity:  qty,
			OrderType: types.OrderTypeMarket,
			StopLoss:  stop,
			Reason:    fmt.Sprintf("fast SMA(%d) crossed above slow SMA(%d), RSI %.1f", s.fastPeriod, s.slowPeriod, rsi),
		}
	}

	if crossDown && pos != nil && pos.Quantity > 0 {
		return &types.Order{
			Symbol:    tick.Symbol,
			Exchange:  tick.Exchange,
			Signal:    types.SignalExitLong,
			Quantity:  pos.Quantity,
			OrderType: types.OrderTypeMarket,
			Reason:    fmt.Sprintf("fast SMA(%d) crossed below slow SMA(%d)", s.fastPeriod, s.slowPeriod),
		}
	}

	return nil
}

// GetState serializes price history and cross tracking for restart recovery.
func (s *SMARsiCrossover) GetState() map[string]any {
	closes := make([]float64, len(s.closes))
	copy(closes, s.closes)
	return map[string]any{
		"closes":    closes,
		"prev_fast": s.prevFast,
		"prev_slow": s.prevSlow,
		"have_prev": s.havePrev,
	}
}

// SetState restores state produced by GetState.
func (s *SMARsiCrossover) SetState(state map[string]any) {
	s.closes = stateFloats(state["closes"])
	s.prevFast = stateFloat(state["prev_fast"])
	s.prevSlow = stateFloat(state["prev_slow"])
	s.havePrev = stateBool(state["have_prev"])
}

// stopBelow places a stop slPct percent below price.
func stopBelow(price, slPct decimal.Decimal) decimal.Decimal {
	hundred := decimal.NewFromInt(100)
	return price.Mul(hundred.Sub(slPct)).Div(hundred)
}
