package risk

import (
	"github.com/shopspring/decimal"
)

// PositionSizeFromRisk returns the integer quantity whose loss between entry
// and stop equals riskPct percent of capital:
//
//	qty = floor((capital × riskPct / 100) / |entry − stop|)
//
// Returns 0 when entry == stop.
func PositionSizeFromRisk(capital, riskPct, entry, stop decimal.Decimal) int64 {
	perShare := entry.Sub(stop).Abs()
	if perShare.IsZero() {
		return 0
	}
	budget := capital.Mul(riskPct).Div(decimal.NewFromInt(100))
	return budget.Div(perShare).IntPart()
}

// StopHit reports whether a long position's stop-loss has been reached:
// current ≤ avg × (1 − slPct/100).
func StopHit(current, avg, slPct decimal.Decimal) bool {
	hundred := decimal.NewFromInt(100)
	stop := avg.Mul(hundred.Sub(slPct)).Div(hundred)
	return current.LessThanOrEqual(stop)
}
