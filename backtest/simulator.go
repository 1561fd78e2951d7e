package backtest

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/karthikreddy9595/AlgoTrading-sub000/types"
)

// ═══════════════════════════════════════════════════════════════════════════════
// ORDER SIMULATOR - Deterministic fill semantics against one candle
// ═══════════════════════════════════════════════════════════════════════════════

// Trade is one completed (or still-open at force-close time) round trip.
type Trade struct {
	Symbol     string
	Quantity   int64
	EntryPrice decimal.Decimal
	ExitPrice  decimal.Decimal
	EntryTime  time.Time
	ExitTime   time.Time
	PnL        decimal.Decimal
	PnLPct     float64
	IsOpen     bool
}

// openLot tracks the averaged entry for one symbol.
type openLot struct {
	quantity  int64
	avgPrice  decimal.Decimal
	entryTime time.Time
}

// simulator owns cash, open lots and the completed-trade log for one run.
type simulator struct {
	ctx         *types.StrategyContext
	cash        decimal.Decimal
	slippagePct decimal.Decimal
	lots        map[string]*openLot
	trades      []Trade
}

func newSimulator(ctx *types.StrategyContext, slippagePct decimal.Decimal) *simulator {
	return &simulator{
		ctx:         ctx,
		cash:        ctx.Capital,
		slippagePct: slippagePct,
		lots:        make(map[string]*openLot),
	}
}

// slipBuy applies adverse slippage to a buy fill: price × (1 + s/100).
func (s *simulator) slipBuy(price decimal.Decimal) decimal.Decimal {
	factor := decimal.NewFromInt(1).Add(s.slippagePct.Div(decimal.NewFromInt(100)))
	return price.Mul(factor)
}

// slipSell applies adverse slippage to a sell fill: price / (1 + s/100).
func (s *simulator) slipSell(price decimal.Decimal) decimal.Decimal {
	factor := decimal.NewFromInt(1).Add(s.slippagePct.Div(decimal.NewFromInt(100)))
	return price.Div(factor)
}

// execute runs one candidate order against the current candle. Unfilled
// limit/stop conditions simply drop the order; the replay is bar-close
// driven and carries no pending book.
func (s *simulator) execute(order *types.Order, candle types.Candle) {
	buying := order.Signal == types.SignalBuy || order.Signal == types.SignalExitShort

	fill, ok := s.fillPrice(order, candle, buying)
	if !ok {
		return
	}

	if buying {
		s.buy(order.Symbol, order.Quantity, fill, candle.Timestamp)
	} else {
		s.sell(order.Symbol, order.Quantity, fill, candle.Timestamp)
	}
}

// fillPrice resolves the execution price for this candle, or reports that
// the order does not trigger.
func (s *simulator) fillPrice(order *types.Order, candle types.Candle, buying bool) (decimal.Decimal, bool) {
	switch order.OrderType {
	case types.OrderTypeMarket:
		if buying {
			return s.slipBuy(candle.Close), true
		}
		return s.slipSell(candle.Close), true

	case types.OrderTypeLimit:
		limit := order.LimitPrice
		if !limit.IsPositive() {
			return decimal.Zero, false
		}
		if buying && candle.Low.LessThanOrEqual(limit) {
			return limit, true
		}
		if !buying && candle.High.GreaterThanOrEqual(limit) {
			return limit, true
		}
		return decimal.Zero, false

	case types.OrderTypeStopLoss, types.OrderTypeStopLossMarket:
		trigger := order.StopLoss
		if !trigger.IsPositive() {
			return decimal.Zero, false
		}
		// Adverse crossing: a buy stop triggers on the way up, a sell
		// stop on the way down.
		triggered := (buying && candle.High.GreaterThanOrEqual(trigger)) ||
			(!buying && candle.Low.LessThanOrEqual(trigger))
		if !triggered {
			return decimal.Zero, false
		}
		if order.OrderType == types.OrderTypeStopLossMarket {
			if buying {
				return s.slipBuy(trigger), true
			}
			return s.slipSell(trigger), true
		}
		return trigger, true
	}
	return decimal.Zero, false
}

// buy opens or averages up a lot. Insufficient cash downscales the quantity
// to the affordable integer amount; below one share the order is rejected.
func (s *simulator) buy(symbol string, qty int64, fill decimal.Decimal, ts time.Time) {
	if qty <= 0 || !fill.IsPositive() {
		return
	}

	cost := fill.Mul(decimal.NewFromInt(qty))
	if cost.GreaterThan(s.cash) {
		qty = s.cash.Div(fill).IntPart()
		if qty < 1 {
			return
		}
		cost = fill.Mul(decimal.NewFromInt(qty))
	}
	s.cash = s.cash.Sub(cost)

	lot := s.lots[symbol]
	if lot == nil {
		s.lots[symbol] = &openLot{quantity: qty, avgPrice: fill, entryTime: ts}
	} else {
		total := lot.avgPrice.Mul(decimal.NewFromInt(lot.quantity)).Add(cost)
		lot.quantity += qty
		lot.avgPrice = total.Div(decimal.NewFromInt(lot.quantity))
	}
	s.syncPosition(symbol, fill)
}

// sell realizes PnL against the averaged entry and reduces the lot. A flat
// lot is removed immediately.
func (s *simulator) sell(symbol string, qty int64, fill decimal.Decimal, ts time.Time) {
	lot := s.lots[symbol]
	if lot == nil || qty <= 0 {
		return
	}
	if qty > lot.quantity {
		qty = lot.quantity
	}

	proceeds := fill.Mul(decimal.NewFromInt(qty))
	s.cash = s.cash.Add(proceeds)

	pnl := fill.Sub(lot.avgPrice).Mul(decimal.NewFromInt(qty))
	cost := lot.avgPrice.Mul(decimal.NewFromInt(qty))
	pnlPct := 0.0
	if cost.IsPositive() {
		pnlPct, _ = pnl.Div(cost).Mul(decimal.NewFromInt(100)).Float64()
	}
	s.trades = append(s.trades, Trade{
		Symbol:     symbol,
		Quantity:   qty,
		EntryPrice: lot.avgPrice,
		ExitPrice:  fill,
		EntryTime:  lot.entryTime,
		ExitTime:   ts,
		PnL:        pnl,
		PnLPct:     pnlPct,
	})

	s.ctx.RealizedPnL = s.ctx.RealizedPnL.Add(pnl)
	s.ctx.TodayPnL = s.ctx.TodayPnL.Add(pnl)

	lot.quantity -= qty
	if lot.quantity == 0 {
		delete(s.lots, symbol)
	}
	s.syncPosition(symbol, fill)
}

// forceCloseAll liquidates every open lot at the given price, recording each
// as a completed trade. Called once at the end of the replay.
func (s *simulator) forceCloseAll(price decimal.Decimal, ts time.Time) {
	for symbol, lot := range s.lots {
		s.sell(symbol, lot.quantity, price, ts)
	}
}

// syncPosition mirrors the lot book into the shared strategy context so the
// strategy sees the same positions it would live.
func (s *simulator) syncPosition(symbol string, price decimal.Decimal) {
	lot := s.lots[symbol]
	pos := s.ctx.Position(symbol)

	if lot == nil {
		if pos != nil {
			pos.Quantity = 0
			s.ctx.RemoveFlat()
		}
		s.ctx.MarkPrice(symbol, price)
		return
	}

	if pos == nil {
		s.ctx.Positions = append(s.ctx.Positions, &types.Position{
			Symbol:   symbol,
			Quantity: lot.quantity,
			AvgPrice: lot.avgPrice,
		})
	} else {
		pos.Quantity = lot.quantity
		pos.AvgPrice = lot.avgPrice
	}
	s.ctx.MarkPrice(symbol, price)
}

// equity is cash plus the market value of every open lot.
func (s *simulator) equity(price decimal.Decimal) decimal.Decimal {
	eq := s.cash
	for _, lot := range s.lots {
		eq = eq.Add(price.Mul(decimal.NewFromInt(lot.quantity)))
	}
	return eq
}
