// Package paper implements the built-in paper-trading broker. Orders fill
// instantly against a synthetic random-walk quote; nothing leaves the
// process. It is registered unconditionally, not discovered as a plugin.
package paper

import (
	"context"
	"hash/fnv"
	"math/rand"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"

	"github.com/karthikreddy9595/AlgoTrading-sub000/broker"
	"github.com/karthikreddy9595/AlgoTrading-sub000/types"
)

// Name is the broker id the registry serves this implementation under.
const Name = "paper"

// Broker is the paper-trading simulator.
type Broker struct {
	mu        sync.Mutex
	connected bool
	cash      decimal.Decimal
	prices    map[string]decimal.Decimal
	positions map[string]*broker.BrokerPosition
	orders    map[string]*broker.BrokerOrder
	feeds     map[string]context.CancelFunc
	rng       *rand.Rand

	// TickEvery is the synthetic feed period. Tests shrink it.
	TickEvery time.Duration
}

// New creates a paper broker with the given starting cash.
func New(startingCash decimal.Decimal) *Broker {
	return &Broker{
		cash:      startingCash,
		prices:    make(map[string]decimal.Decimal),
		positions: make(map[string]*broker.BrokerPosition),
		orders:    make(map[string]*broker.BrokerOrder),
		feeds:     make(map[string]context.CancelFunc),
		rng:       rand.New(rand.NewSource(time.Now().UnixNano())),
		TickEvery: time.Second,
	}
}

// Name returns the broker id.
func (b *Broker) Name() string { return Name }

// Connect succeeds with any credentials; paper trading needs none.
func (b *Broker) Connect(_ context.Context, _ map[string]string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.connected = true
	log.Info().Msg("📋 Paper broker connected")
	return nil
}

// Disconnect stops every synthetic feed.
func (b *Broker) Disconnect(_ context.Context) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	for key, cancel := range b.feeds {
		cancel()
		delete(b.feeds, key)
	}
	b.connected = false
	return nil
}

// GetProfile returns a fixed simulator identity.
func (b *Broker) GetProfile(_ context.Context) (*broker.Profile, error) {
	return &broker.Profile{UserID: "paper", Name: "Paper Trading", BrokerID: Name}, nil
}

// GetMargin reports the simulated cash balance.
func (b *Broker) GetMargin(_ context.Context) (*broker.Margin, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	used := decimal.Zero
	for _, p := range b.positions {
		used = used.Add(p.AvgPrice.Mul(decimal.NewFromInt(p.Quantity)).Abs())
	}
	return &broker.Margin{Available: b.cash, Used: used, Total: b.cash.Add(used)}, nil
}

// PlaceOrder fills immediately at the synthetic quote (market) or at the
// requested price (limit/stop), then updates cash and positions.
func (b *Broker) PlaceOrder(_ context.Context, req broker.OrderRequest) (*broker.BrokerOrder, error) {
	if req.Quantity <= 0 {
		return nil, broker.Errorf("bad_quantity", "quantity must be positive, got %d", req.Quantity)
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	fill := b.priceLocked(req.Exchange, req.Symbol)
	if req.OrderType != types.OrderTypeMarket && req.Price.IsPositive() {
		fill = req.Price
	}

	order := &broker.BrokerOrder{
		ID:           uuid.NewString(),
		Symbol:       req.Symbol,
		Exchange:     req.Exchange,
		Side:         req.Side,
		Quantity:     req.Quantity,
		FilledQty:    req.Quantity,
		OrderType:    req.OrderType,
		Price:        req.Price,
		TriggerPrice: req.TriggerPrice,
		AvgFillPrice: fill,
		Status:       "COMPLETE",
		PlacedAt:     time.Now(),
	}
	b.orders[order.ID] = order
	b.applyFillLocked(req, fill)

	log.Info().
		Str("symbol", req.Symbol).
		Str("side", string(req.Side)).
		Int64("qty", req.Quantity).
		Str("fill", fill.StringFixed(2)).
		Msg("Paper order filled")

	return order, nil
}

// ModifyOrder is meaningless for instantly-filled paper orders.
func (b *Broker) ModifyOrder(_ context.Context, orderID string, _ broker.OrderRequest) (*broker.BrokerOrder, error) {
	return nil, broker.Errorf("already_filled", "paper order %s filled at placement", orderID)
}

// CancelOrder fails for the same reason.
func (b *Broker) CancelOrder(_ context.Context, orderID string) error {
	return broker.Errorf("already_filled", "paper order %s filled at placement", orderID)
}

// GetOrderStatus returns a previously placed order.
func (b *Broker) GetOrderStatus(_ context.Context, orderID string) (*broker.BrokerOrder, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	o, ok := b.orders[orderID]
	if !ok {
		return nil, broker.Errorf("not_found", "order %s unknown", orderID)
	}
	return o, nil
}

// GetOrders lists every order placed this session.
func (b *Broker) GetOrders(_ context.Context) ([]broker.BrokerOrder, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]broker.BrokerOrder, 0, len(b.orders))
	for _, o := range b.orders {
		out = append(out, *o)
	}
	return out, nil
}

// GetPositions lists open simulated positions.
func (b *Broker) GetPositions(_ context.Context) ([]broker.BrokerPosition, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]broker.BrokerPosition, 0, len(b.positions))
	for key, p := range b.positions {
		cp := *p
		cp.LastPrice = b.prices[key]
		cp.PnL = cp.LastPrice.Sub(cp.AvgPrice).Mul(decimal.NewFromInt(cp.Quantity))
		out = append(out, cp)
	}
	return out, nil
}

// GetQuote returns the current synthetic quote for a symbol.
func (b *Broker) GetQuote(_ context.Context, symbol, exchange string) (*broker.Quote, error) {
	b.mu.Lock()
	price := b.priceLocked(exchange, symbol)
	b.mu.Unlock()
	return b.quoteAt(symbol, exchange, price, time.Now()), nil
}

// GetHistoricalData synthesizes a deterministic random-walk series for the
// requested range, chunked the same way a live broker would be.
func (b *Broker) GetHistoricalData(ctx context.Context, symbol, exchange string, interval types.Interval, from, to time.Time) ([]types.Candle, error) {
	if !interval.Valid() {
		return nil, broker.Errorf("bad_interval", "unsupported interval %s", interval)
	}
	return broker.FetchChunked(ctx, interval, from, to, func(_ context.Context, chunkFrom, chunkTo time.Time) ([]types.Candle, error) {
		return synthesizeCandles(symbol, interval, chunkFrom, chunkTo), nil
	})
}

// SubscribeMarketData starts a synthetic random-walk feed per symbol.
func (b *Broker) SubscribeMarketData(ctx context.Context, symbols []broker.SymbolRef, handler broker.TickHandler) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, ref := range symbols {
		key := types.SymbolKey(ref.Exchange, ref.Symbol)
		if _, running := b.feeds[key]; running {
			continue
		}
		feedCtx, cancel := context.WithCancel(ctx)
		b.feeds[key] = cancel
		go b.runFeed(feedCtx, ref, handler)
	}
	return nil
}

// UnsubscribeMarketData stops the feeds for the given symbols.
func (b *Broker) UnsubscribeMarketData(_ context.Context, symbols []broker.SymbolRef) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, ref := range symbols {
		key := types.SymbolKey(ref.Exchange, ref.Symbol)
		if cancel, ok := b.feeds[key]; ok {
			cancel()
			delete(b.feeds, key)
		}
	}
	return nil
}

// ─── Internals ─────────────────────────────────────────────────────────────────

func (b *Broker) runFeed(ctx context.Context, ref broker.SymbolRef, handler broker.TickHandler) {
	ticker := time.NewTicker(b.TickEvery)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			b.mu.Lock()
			price := b.stepLocked(ref.Exchange, ref.Symbol)
			b.mu.Unlock()
			handler(b.quoteAt(ref.Symbol, ref.Exchange, price, now).Tick())
		}
	}
}

// priceLocked returns the current synthetic price, seeding on first access.
func (b *Broker) priceLocked(exchange, symbol string) decimal.Decimal {
	key := types.SymbolKey(exchange, symbol)
	if p, ok := b.prices[key]; ok {
		return p
	}
	p := basePrice(symbol)
	b.prices[key] = p
	return p
}

// stepLocked advances the random walk one step, ±0.05% stdev per tick.
func (b *Broker) stepLocked(exchange, symbol string) decimal.Decimal {
	key := types.SymbolKey(exchange, symbol)
	price := b.priceLocked(exchange, symbol)
	drift := decimal.NewFromFloat(1 + b.rng.NormFloat64()*0.0005)
	next := price.Mul(drift).Round(2)
	if !next.IsPositive() {
		next = price
	}
	b.prices[key] = next
	return next
}

func (b *Broker) quoteAt(symbol, exchange string, price decimal.Decimal, ts time.Time) *broker.Quote {
	spread := price.Mul(decimal.NewFromFloat(0.0005)).Round(2)
	return &broker.Quote{
		Symbol:    symbol,
		Exchange:  exchange,
		Timestamp: ts,
		LastPrice: price,
		Open:      price,
		High:      price,
		Low:       price,
		Close:     price,
		Volume:    int64(100 + b.rng.Intn(10000)),
		Bid:       price.Sub(spread),
		BidSize:   int64(1 + b.rng.Intn(500)),
		Ask:       price.Add(spread),
		AskSize:   int64(1 + b.rng.Intn(500)),
	}
}

// applyFillLocked folds a fill into cash and the position book.
func (b *Broker) applyFillLocked(req broker.OrderRequest, fill decimal.Decimal) {
	key := types.SymbolKey(req.Exchange, req.Symbol)
	qty := req.Quantity
	if req.Side == broker.SideSell {
		qty = -qty
	}
	value := fill.Mul(decimal.NewFromInt(req.Quantity))
	if req.Side == broker.SideBuy {
		b.cash = b.cash.Sub(value)
	} else {
		b.cash = b.cash.Add(value)
	}

	pos, ok := b.positions[key]
	if !ok {
		b.positions[key] = &broker.BrokerPosition{
			Symbol:   req.Symbol,
			Exchange: req.Exchange,
			Quantity: qty,
			AvgPrice: fill,
			Product:  req.ProductType,
		}
		return
	}

	newQty := pos.Quantity + qty
	if newQty == 0 {
		delete(b.positions, key)
		return
	}
	// Average only when the fill extends the position.
	if (pos.Quantity > 0) == (qty > 0) {
		oldValue := pos.AvgPrice.Mul(decimal.NewFromInt(pos.Quantity))
		pos.AvgPrice = oldValue.Add(fill.Mul(decimal.NewFromInt(qty))).Div(decimal.NewFromInt(newQty))
	}
	pos.Quantity = newQty
}

// basePrice derives a stable starting price from the symbol name so paper
// sessions are comparable across restarts.
func basePrice(symbol string) decimal.Decimal {
	h := fnv.New32a()
	h.Write([]byte(symbol))
	return decimal.NewFromInt(int64(100 + h.Sum32()%3900))
}

// synthesizeCandles generates a deterministic walk for backtest fixtures.
func synthesizeCandles(symbol string, interval types.Interval, from, to time.Time) []types.Candle {
	h := fnv.New64a()
	h.Write([]byte(symbol))
	rng := rand.New(rand.NewSource(int64(h.Sum64())))

	step := interval.Duration()
	price := basePrice(symbol)
	var out []types.Candle
	for ts := from.Truncate(step); !ts.After(to); ts = ts.Add(step) {
		open := price
		drift := decimal.NewFromFloat(1 + rng.NormFloat64()*0.002)
		clos := open.Mul(drift).Round(2)
		if !clos.IsPositive() {
			clos = open
		}
		high := decimal.Max(open, clos).Mul(decimal.NewFromFloat(1.001)).Round(2)
		low := decimal.Min(open, clos).Mul(decimal.NewFromFloat(0.999)).Round(2)
		if !low.IsPositive() {
			low = decimal.New(1, -2)
		}
		out = append(out, types.Candle{
			Timestamp: ts,
			Open:      open,
			High:      high,
			Low:       low,
			Close:     clos,
			Volume:    int64(1000 + rng.Intn(100000)),
		})
		price = clos
	}
	return out
}
