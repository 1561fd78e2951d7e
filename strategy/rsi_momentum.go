package strategy

import (
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/karthikreddy9595/AlgoTrading-sub000/internal/indicators"
	"github.com/karthikreddy9595/AlgoTrading-sub000/risk"
	"github.com/karthikreddy9595/AlgoTrading-sub000/types"
)

var rsiMomentumParams = []ParamDescriptor{
	{Name: "rsi_period", DisplayName: "RSI Period", Type: ParamInt, Default: 14, Min: 2, Max: 50, Description: "RSI lookback"},
	{Name: "oversold", DisplayName: "Oversold Level", Type: ParamFloat, Default: 30, Min: 5, Max: 50, Description: "Enter long when RSI recovers above this level"},
	{Name: "overbought", DisplayName: "Overbought Level", Type: ParamFloat, Default: 70, Min: 50, Max: 95, Description: "Exit long when RSI reaches this level"},
	{Name: "risk_per_trade_pct", DisplayName: "Risk Per Trade %", Type: ParamFloat, Default: 1, Min: 0.1, Max: 5, Description: "Capital percent risked between entry and stop"},
}

func init() {
	Register(Definition{
		ID:          "rsi_momentum",
		Name:        "RSI Momentum",
		Version:     "1.0.3",
		MinCapital:  decimal.NewFromInt(15000),
		Symbols:     []string{"RELIANCE", "TCS", "INFY", "ICICIBANK", "BANKNIFTY"},
		BarInterval: types.Interval15Min,
		Params:      rsiMomentumParams,
		New: func(ctx *types.StrategyContext) Strategy {
			return newRSIMomentum(ctx)
		},
	})
}

// RSIMomentum buys when RSI recovers out of the oversold zone and exits
// when it reaches the overbought level.
type RSIMomentum struct {
	ctx *types.StrategyContext

	rsiPeriod  int
	oversold   float64
	overbought float64
	riskPct    float64

	closes  []float64
	prevRSI float64
	haveRSI bool
}

func newRSIMomentum(ctx *types.StrategyContext) *RSIMomentum {
	s := &RSIMomentum{ctx: ctx}
	defaults := make(map[string]float64, len(rsiMomentumParams))
	for _, d := range rsiMomentumParams {
		defaults[d.Name] = d.Default
	}
	s.ApplyConfig(defaults)
	return s
}

// Name returns the strategy identifier.
func (s *RSIMomentum) Name() string { return "rsi_momentum" }

func (s *RSIMomentum) OnStart()  {}
func (s *RSIMomentum) OnStop()   {}
func (s *RSIMomentum) OnPause()  {}
func (s *RSIMomentum) OnResume() {}

// ApplyConfig sets parameters, clamping out-of-range values.
func (s *RSIMomentum) ApplyConfig(cfg map[string]float64) {
	applyConfig(rsiMomentumParams, cfg, func(name string, v float64) {
		switch name {
		case "rsi_period":
			s.rsiPeriod = int(v)
		case "oversold":
			s.oversold = v
		case "overbought":
			s.overbought = v
		case "risk_per_trade_pct":
			s.riskPct = v
		}
	})
}

// OnMarketData tracks RSI and trades the oversold-recovery pattern.
func (s *RSIMomentum) OnMarketData(tick types.Tick) *types.Order {
	price := tick.LastPrice
	s.closes = append(s.closes, price.InexactFloat64())
	if len(s.closes) > maxHistory {
		s.closes = s.closes[len(s.closes)-maxHistory:]
	}

	if len(s.closes) < s.rsiPeriod+1 {
		return nil
	}

	rsi := indicators.RSI(s.closes, s.rsiPeriod)
	if !s.haveRSI {
		s.prevRSI, s.haveRSI = rsi, true
		return nil
	}
	prev := s.prevRSI
	s.prevRSI = rsi

	pos := s.ctx.Position(tick.Symbol)

	// Recovery out of oversold: previous reading at or below the level,
	// current reading above it.
	if prev <= s.oversold && rsi > s.oversold && (pos == nil || pos.Quantity == 0) {
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
			Reason:    fmt.Sprintf("RSI recovered from oversold: %.1f -> %.1f", prev, rsi),
		}
	}

	if rsi >= s.overbought && pos != nil && pos.Quantity > 0 {
		return &types.Order{
			Symbol:    tick.Symbol,
			Exchange:  tick.Exchange,
			Signal:    types.SignalExitLong,
			Quantity:  pos.Quantity,
			OrderType: types.OrderTypeMarket,
			Reason:    fmt.Sprintf("RSI overbought at %.1f", rsi),
		}
	}

	return nil
}

// GetState serializes price history and RSI tracking.
func (s *RSIMomentum) GetState() map[string]any {
	closes := make([]float64, len(s.closes))
	copy(closes, s.closes)
	return map[string]any{
		"closes":   closes,
		"prev_rsi": s.prevRSI,
		"have_rsi": s.haveRSI,
	}
}

// SetState restores state produced by GetState.
func (s *RSIMomentum) SetState(state map[string]any) {
	s.closes = stateFloats(state["closes"])
	s.prevRSI = stateFloat(state["prev_rsi"])
	s.haveRSI = stateBool(state["have_rsi"])
}
