// Package backtest replays historical candles through a strategy and
// measures the outcome. The replay is bar-close driven and fully
// deterministic for a given strategy, config and candle series.
package backtest

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"

	"github.com/karthikreddy9595/AlgoTrading-sub000/strategy"
	"github.com/karthikreddy9595/AlgoTrading-sub000/types"
)

// EquityPoint is one sample of the equity curve.
type EquityPoint struct {
	Timestamp   time.Time
	Equity      decimal.Decimal
	DrawdownPct float64
}

// Config describes one backtest run.
type Config struct {
	StrategyID     string
	Symbol         string
	Exchange       string
	Interval       types.Interval
	InitialCapital decimal.Decimal
	Params         map[string]float64
	SlippagePct    decimal.Decimal

	// Progress, when set, is called after every candle with (done, total).
	Progress func(done, total int)
}

// Result bundles everything a run produces.
type Result struct {
	Trades  []Trade
	Equity  []EquityPoint
	Metrics Metrics
}

// Run replays the candles through the strategy. The candle series must be
// ascending and OHLC-consistent; a malformed candle rejects the whole input.
func Run(ctx context.Context, cfg Config, candles []types.Candle) (*Result, error) {
	if len(candles) == 0 {
		return nil, fmt.Errorf("no candles to replay")
	}
	for _, c := range candles {
		if err := c.Validate(); err != nil {
			return nil, fmt.Errorf("rejecting input: %w", err)
		}
	}
	if !cfg.InitialCapital.IsPositive() {
		return nil, fmt.Errorf("initial capital must be positive")
	}

	def, err := strategy.Get(cfg.StrategyID)
	if err != nil {
		return nil, err
	}

	// Limits large enough not to interfere with pure signal testing; only
	// the per-trade stop distance matters to the strategies themselves.
	sctx := &types.StrategyContext{
		StrategyID: cfg.StrategyID,
		Capital:    cfg.InitialCapital,
		Paper:      true,
		Limits: types.RiskLimits{
			StopLossPct:      decimal.NewFromInt(2),
			MaxOrderValuePct: decimal.NewFromInt(100),
		},
	}

	strat := def.New(sctx)
	if len(cfg.Params) > 0 {
		strat.ApplyConfig(cfg.Params)
	}
	strat.OnStart()

	sim := newSimulator(sctx, cfg.SlippagePct)
	equity := make([]EquityPoint, 0, len(candles))
	peak := cfg.InitialCapital

	total := len(candles)
	for i, candle := range candles {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		tick := types.Tick{
			Symbol:    cfg.Symbol,
			Exchange:  cfg.Exchange,
			Timestamp: candle.Timestamp,
			LastPrice: candle.Close,
			Open:      candle.Open,
			High:      candle.High,
			Low:       candle.Low,
			Close:     candle.Close,
			Volume:    candle.Volume,
			Bid:       candle.Close,
			Ask:       candle.Close,
		}

		sctx.MarkPrice(cfg.Symbol, candle.Close)

		eq := sim.equity(candle.Close)
		if eq.GreaterThan(peak) {
			peak = eq
		}
		dd := 0.0
		if peak.IsPositive() {
			dd, _ = peak.Sub(eq).Div(peak).Mul(decimal.NewFromInt(100)).Float64()
		}
		equity = append(equity, EquityPoint{Timestamp: candle.Timestamp, Equity: eq, DrawdownPct: dd})

		if order := strat.OnMarketData(tick); order != nil {
			sim.execute(order, candle)
		}

		if cfg.Progress != nil {
			cfg.Progress(i+1, total)
		}
	}

	last := candles[len(candles)-1]
	sim.forceCloseAll(last.Close, last.Timestamp)
	strat.OnStop()

	metrics := ComputeMetrics(cfg.InitialCapital, equity, sim.trades, candles[0].Timestamp, last.Timestamp)

	log.Info().
		Str("strategy", cfg.StrategyID).
		Str("symbol", cfg.Symbol).
		Int("candles", total).
		Int("trades", len(sim.trades)).
		Float64("return_pct", metrics.TotalReturnPct).
		Msg("Backtest complete")

	return &Result{Trades: sim.trades, Equity: equity, Metrics: metrics}, nil
}
