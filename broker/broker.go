package broker

import (
	"context"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/karthikreddy9595/AlgoTrading-sub000/types"
)

// ═══════════════════════════════════════════════════════════════════════════════
// BROKER CONTRACT - The narrow interface the runtime consumes
// ═══════════════════════════════════════════════════════════════════════════════

// Side is the transaction direction sent to a broker.
type Side string

const (
	SideBuy  Side = "BUY"
	SideSell Side = "SELL"
)

// Error is a broker failure carrying the broker's code and message.
type Error struct {
	Code    string
	Message string
}

func (e *Error) Error() string {
	return fmt.Sprintf("broker error %s: %s", e.Code, e.Message)
}

// Errorf builds a broker error.
func Errorf(code, format string, args ...any) *Error {
	return &Error{Code: code, Message: fmt.Sprintf(format, args...)}
}

// Quote is a snapshot market quote.
type Quote struct {
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

// Tick converts the quote into the runtime's tick shape.
func (q Quote) Tick() types.Tick {
	return types.Tick{
		Symbol:    q.Symbol,
		Exchange:  q.Exchange,
		Timestamp: q.Timestamp,
		LastPrice: q.LastPrice,
		Open:      q.Open,
		High:      q.High,
		Low:       q.Low,
		Close:     q.Close,
		Volume:    q.Volume,
		Bid:       q.Bid,
		BidSize:   q.BidSize,
		Ask:       q.Ask,
		AskSize:   q.AskSize,
	}
}

// OrderRequest is a broker-bound order.
type OrderRequest struct {
	Symbol       string
	Exchange     string
	Side         Side
	Quantity     int64
	OrderType    types.OrderType
	Price        decimal.Decimal // limit price, zero for market
	TriggerPrice decimal.Decimal // stop trigger, zero when unused
	ProductType  string          // MIS, CNC, NRML
}

// BrokerOrder is the broker's view of an order.
type BrokerOrder struct {
	ID           string
	Symbol       string
	Exchange     string
	Side         Side
	Quantity     int64
	FilledQty    int64
	OrderType    types.OrderType
	Price        decimal.Decimal
	TriggerPrice decimal.Decimal
	AvgFillPrice decimal.Decimal
	Status       string // OPEN, COMPLETE, CANCELLED, REJECTED
	PlacedAt     time.Time
	Message      string
}

// BrokerPosition is an open position as the broker reports it.
type BrokerPosition struct {
	Symbol    string
	Exchange  string
	Quantity  int64
	AvgPrice  decimal.Decimal
	LastPrice decimal.Decimal
	PnL       decimal.Decimal
	Product   string
}

// Profile is the account holder's identity at the broker.
type Profile struct {
	UserID   string
	Name     string
	Email    string
	BrokerID string
}

// Margin is the account's funds snapshot.
type Margin struct {
	Available decimal.Decimal
	Used      decimal.Decimal
	Total     decimal.Decimal
}

// TickHandler receives streamed ticks from a broker subscription.
type TickHandler func(tick types.Tick)

// SymbolRef names one instrument on one exchange.
type SymbolRef struct {
	Symbol   string
	Exchange string
}

// Broker is the contract every brokerage integration implements. All calls
// may fail with *Error. Blocking calls take a context and honor its
// deadline; order placement should run with a timeout of 15s or less and
// historical chunks with 30s or less.
type Broker interface {
	Name() string

	Connect(ctx context.Context, credentials map[string]string) error
	Disconnect(ctx context.Context) error

	GetProfile(ctx context.Context) (*Profile, error)
	GetMargin(ctx context.Context) (*Margin, error)

	PlaceOrder(ctx context.Context, req OrderRequest) (*BrokerOrder, error)
	ModifyOrder(ctx context.Context, orderID string, req OrderRequest) (*BrokerOrder, error)
	CancelOrder(ctx context.Context, orderID string) error
	GetOrderStatus(ctx context.Context, orderID string) (*BrokerOrder, error)
	GetOrders(ctx context.Context) ([]BrokerOrder, error)

	GetPositions(ctx context.Context) ([]BrokerPosition, error)
	GetQuote(ctx context.Context, symbol, exchange string) (*Quote, error)

	// GetHistoricalData returns candles ascending by timestamp with
	// duplicates removed. Implementations chunk the request to honor the
	// per-interval range limits (types.Interval.MaxRangeDays).
	GetHistoricalData(ctx context.Context, symbol, exchange string, interval types.Interval, from, to time.Time) ([]types.Candle, error)

	SubscribeMarketData(ctx context.Context, symbols []SymbolRef, handler TickHandler) error
	UnsubscribeMarketData(ctx context.Context, symbols []SymbolRef) error
}

// OAuthToken is the credential produced by an OAuth code exchange.
type OAuthToken struct {
	AccessToken  string
	RefreshToken string
	ExpiresAt    time.Time
}

// OAuthBroker is implemented by brokers whose manifest declares
// auth type "oauth".
type OAuthBroker interface {
	AuthorizationURL(state string) string
	ExchangeAuthCode(ctx context.Context, code string) (*OAuthToken, error)
}
