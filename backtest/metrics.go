package backtest

import (
	"math"
	"time"

	"github.com/shopspring/decimal"
	"gonum.org/v1/gonum/stat"
)

// ═══════════════════════════════════════════════════════════════════════════════
// PERFORMANCE METRICS
// ═══════════════════════════════════════════════════════════════════════════════

const (
	riskFreeAnnual = 0.05
	tradingDays    = 252

	// profitFactorCap stands in for "winners and no losers".
	profitFactorCap = 999.0
)

// Metrics is the full performance snapshot of one run.
type Metrics struct {
	FinalEquity     decimal.Decimal
	TotalReturn     decimal.Decimal
	TotalReturnPct  float64
	CAGR            float64
	SharpeRatio     float64
	SortinoRatio    float64
	MaxDrawdownPct  float64
	MeanDrawdownPct float64
	CalmarRatio     float64
	WinRatePct      float64
	ProfitFactor    float64
	TotalTrades     int
	WinningTrades   int
	LosingTrades    int

	// AvgTradeDuration is the mean exit-minus-entry across completed
	// trades, in whole seconds.
	AvgTradeDuration int64
}

// ObjectiveValue extracts the named optimization objective from the
// snapshot. Unknown names return total return percent.
func (m Metrics) ObjectiveValue(name string) float64 {
	switch name {
	case "sharpe_ratio":
		return m.SharpeRatio
	case "sortino_ratio":
		return m.SortinoRatio
	case "profit_factor":
		return m.ProfitFactor
	case "win_rate":
		return m.WinRatePct
	case "calmar_ratio":
		return m.CalmarRatio
	case "max_drawdown":
		return m.MaxDrawdownPct
	default:
		return m.TotalReturnPct
	}
}

// ComputeMetrics derives the full snapshot from the equity curve and the
// completed trades.
func ComputeMetrics(initial decimal.Decimal, equity []EquityPoint, trades []Trade, start, end time.Time) Metrics {
	var m Metrics
	if len(equity) == 0 || !initial.IsPositive() {
		return m
	}

	final := equity[len(equity)-1].Equity
	m.FinalEquity = final
	m.TotalReturn = final.Sub(initial)
	m.TotalReturnPct, _ = m.TotalReturn.Div(initial).Mul(decimal.NewFromInt(100)).Float64()

	// CAGR over the replayed span, floored to avoid a zero exponent on
	// intraday runs.
	years := end.Sub(start).Hours() / 24 / 365.25
	if years < 0.01 {
		years = 0.01
	}
	finalF, _ := final.Float64()
	initialF, _ := initial.Float64()
	if initialF > 0 && finalF > 0 {
		m.CAGR = math.Pow(finalF/initialF, 1/years) - 1
	}

	daily := dailyReturns(equity)
	rfDaily := riskFreeAnnual / tradingDays
	if len(daily) >= 2 {
		mean := stat.Mean(daily, nil)
		sd := stat.StdDev(daily, nil)
		if sd > 0 {
			m.SharpeRatio = (mean - rfDaily) / sd * math.Sqrt(tradingDays)
		}
		m.SortinoRatio = sortino(daily, mean, rfDaily)
	}

	var ddSum float64
	for _, p := range equity {
		ddSum += p.DrawdownPct
		if p.DrawdownPct > m.MaxDrawdownPct {
			m.MaxDrawdownPct = p.DrawdownPct
		}
	}
	m.MeanDrawdownPct = ddSum / float64(len(equity))
	if m.MaxDrawdownPct > 0 {
		m.CalmarRatio = m.CAGR * 100 / m.MaxDrawdownPct
	}

	m.TotalTrades = len(trades)
	winSum, lossSum := decimal.Zero, decimal.Zero
	var durationSum time.Duration
	for _, t := range trades {
		if t.PnL.IsPositive() {
			m.WinningTrades++
			winSum = winSum.Add(t.PnL)
		} else if t.PnL.IsNegative() {
			m.LosingTrades++
			lossSum = lossSum.Add(t.PnL.Abs())
		}
		durationSum += t.ExitTime.Sub(t.EntryTime)
	}
	if m.TotalTrades > 0 {
		m.WinRatePct = float64(m.WinningTrades) / float64(m.TotalTrades) * 100
		m.AvgTradeDuration = int64((durationSum / time.Duration(m.TotalTrades)).Seconds())
	}

	switch {
	case lossSum.IsPositive():
		m.ProfitFactor, _ = winSum.Div(lossSum).Float64()
	case m.WinningTrades > 0:
		m.ProfitFactor = profitFactorCap
	}

	return m
}

// dailyReturns resamples the equity curve to one closing value per calendar
// day and returns the day-over-day relative changes.
func dailyReturns(equity []EquityPoint) []float64 {
	var closes []float64
	var lastDay string
	for _, p := range equity {
		day := p.Timestamp.Format("2006-01-02")
		v, _ := p.Equity.Float64()
		if day == lastDay && len(closes) > 0 {
			closes[len(closes)-1] = v
		} else {
			closes = append(closes, v)
			lastDay = day
		}
	}

	if len(closes) < 2 {
		return nil
	}
	out := make([]float64, 0, len(closes)-1)
	for i := 1; i < len(closes); i++ {
		if closes[i-1] == 0 {
			out = append(out, 0)
			continue
		}
		out = append(out, closes[i]/closes[i-1]-1)
	}
	return out
}

// sortino uses the root-mean-square of negative returns as the downside
// deviation. No losing days means 0 when the mean clears the risk-free
// rate's opposite case, else the capped sentinel.
func sortino(daily []float64, mean, rfDaily float64) float64 {
	var sumSq float64
	var n int
	for _, r := range daily {
		if r < 0 {
			sumSq += r * r
			n++
		}
	}
	if n == 0 {
		if mean <= rfDaily {
			return 0
		}
		return profitFactorCap
	}
	downside := math.Sqrt(sumSq / float64(n))
	if downside == 0 {
		return profitFactorCap
	}
	return (mean - rfDaily) / downside * math.Sqrt(tradingDays)
}
