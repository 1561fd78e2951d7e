// Package httpapi implements the generic REST + WebSocket broker driver.
// Plugin manifests select it with broker_class "httpapi.Broker" and supply
// endpoints through config_schema (base_url, ws_url). Indian brokerage
// plugins (Zerodha-style REST APIs) are thin manifests over this driver.
package httpapi

import (
	"context"
	"fmt"
	"net/url"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"

	"github.com/karthikreddy9595/AlgoTrading-sub000/broker"
	"github.com/karthikreddy9595/AlgoTrading-sub000/types"
)

const (
	orderTimeout   = 15 * time.Second
	historyTimeout = 30 * time.Second
)

func init() {
	broker.RegisterDriver("httpapi.Broker", func(m broker.Manifest) (broker.Broker, error) {
		return New(m)
	})
}

// Broker talks to a brokerage REST API described by a plugin manifest.
type Broker struct {
	manifest broker.Manifest
	rest     *resty.Client
	baseURL  string
	wsURL    string

	apiKey      string
	accessToken string

	stream *stream
}

// New builds the driver from a manifest. base_url is required; ws_url only
// when the manifest advertises streaming.
func New(m broker.Manifest) (*Broker, error) {
	baseURL, _ := m.ConfigSchema["base_url"].(string)
	if baseURL == "" {
		return nil, fmt.Errorf("plugin %s: config_schema.base_url is required", m.Name)
	}
	wsURL, _ := m.ConfigSchema["ws_url"].(string)
	if m.Capabilities.Streaming && wsURL == "" {
		return nil, fmt.Errorf("plugin %s: streaming capability requires config_schema.ws_url", m.Name)
	}

	rest := resty.New().
		SetBaseURL(baseURL).
		SetHeader("Content-Type", "application/json").
		SetRetryCount(0)

	b := &Broker{manifest: m, rest: rest, baseURL: baseURL, wsURL: wsURL}
	b.stream = newStream(b)
	return b, nil
}

// Name returns the plugin name.
func (b *Broker) Name() string { return b.manifest.Name }

// Manifest exposes the plugin metadata.
func (b *Broker) Manifest() broker.Manifest { return b.manifest }

// Connect stores credentials and validates them against the profile call.
func (b *Broker) Connect(ctx context.Context, credentials map[string]string) error {
	b.apiKey = credentials["api_key"]
	b.accessToken = credentials["access_token"]
	if b.manifest.Auth.RequiresAPIKey && b.apiKey == "" {
		return broker.Errorf("missing_credentials", "%s requires api_key", b.manifest.Name)
	}
	b.rest.SetHeader("Authorization", "token "+b.apiKey+":"+b.accessToken)

	if _, err := b.GetProfile(ctx); err != nil {
		return err
	}
	log.Info().Str("broker", b.manifest.Name).Msg("Broker connected")
	return nil
}

// Disconnect tears down streaming and drops credentials.
func (b *Broker) Disconnect(_ context.Context) error {
	b.stream.close()
	b.accessToken = ""
	return nil
}

// ─── Wire types ────────────────────────────────────────────────────────────────

type apiEnvelope[T any] struct {
	Status string `json:"status"`
	Data   T      `json:"data"`
	Error  struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

type apiOrder struct {
	OrderID      string          `json:"order_id"`
	Symbol       string          `json:"symbol"`
	Exchange     string          `json:"exchange"`
	Side         string          `json:"transaction_type"`
	Quantity     int64           `json:"quantity"`
	FilledQty    int64           `json:"filled_quantity"`
	OrderType    string          `json:"order_type"`
	Price        decimal.Decimal `json:"price"`
	TriggerPrice decimal.Decimal `json:"trigger_price"`
	AvgPrice     decimal.Decimal `json:"average_price"`
	Status       string          `json:"status"`
	PlacedAt     time.Time       `json:"order_timestamp"`
	Message      string          `json:"status_message"`
}

func (o apiOrder) toBrokerOrder() *broker.BrokerOrder {
	return &broker.BrokerOrder{
		ID:           o.OrderID,
		Symbol:       o.Symbol,
		Exchange:     o.Exchange,
		Side:         broker.Side(o.Side),
		Quantity:     o.Quantity,
		FilledQty:    o.FilledQty,
		OrderType:    types.OrderType(o.OrderType),
		Price:        o.Price,
		TriggerPrice: o.TriggerPrice,
		AvgFillPrice: o.AvgPrice,
		Status:       o.Status,
		PlacedAt:     o.PlacedAt,
		Message:      o.Message,
	}
}

type apiCandle struct {
	Timestamp time.Time       `json:"timestamp"`
	Open      decimal.Decimal `json:"open"`
	High      decimal.Decimal `json:"high"`
	Low       decimal.Decimal `json:"low"`
	Close     decimal.Decimal `json:"close"`
	Volume    int64           `json:"volume"`
}

// call runs one REST request and maps API-level failures to broker errors.
func call[T any](ctx context.Context, b *Broker, timeout time.Duration, build func(r *resty.Request) (*resty.Response, error)) (T, error) {
	var zero T
	reqCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	var env apiEnvelope[T]
	resp, err := build(b.rest.R().SetContext(reqCtx).SetResult(&env).SetError(&env))
	if err != nil {
		return zero, broker.Errorf("transport", "%s: %v", b.manifest.Name, err)
	}
	if resp.IsError() || env.Status == "error" {
		code := env.Error.Code
		if code == "" {
			code = fmt.Sprintf("http_%d", resp.StatusCode())
		}
		msg := env.Error.Message
		if msg == "" {
			msg = resp.Status()
		}
		return zero, &broker.Error{Code: code, Message: msg}
	}
	return env.Data, nil
}

// ─── Account ───────────────────────────────────────────────────────────────────

// GetProfile fetches the account identity.
func (b *Broker) GetProfile(ctx context.Context) (*broker.Profile, error) {
	type apiProfile struct {
		UserID string `json:"user_id"`
		Name   string `json:"user_name"`
		Email  string `json:"email"`
	}
	p, err := call[apiProfile](ctx, b, orderTimeout, func(r *resty.Request) (*resty.Response, error) {
		return r.Get("/user/profile")
	})
	if err != nil {
		return nil, err
	}
	return &broker.Profile{UserID: p.UserID, Name: p.Name, Email: p.Email, BrokerID: b.manifest.Name}, nil
}

// GetMargin fetches available funds.
func (b *Broker) GetMargin(ctx context.Context) (*broker.Margin, error) {
	type apiMargin struct {
		Available decimal.Decimal `json:"available"`
		Used      decimal.Decimal `json:"utilised"`
		Total     decimal.Decimal `json:"net"`
	}
	m, err := call[apiMargin](ctx, b, orderTimeout, func(r *resty.Request) (*resty.Response, error) {
		return r.Get("/user/margins")
	})
	if err != nil {
		return nil, err
	}
	return &broker.Margin{Available: m.Available, Used: m.Used, Total: m.Total}, nil
}

// ─── Orders ────────────────────────────────────────────────────────────────────

// PlaceOrder submits an order. The instrument id honors the manifest's
// symbol-format template.
func (b *Broker) PlaceOrder(ctx context.Context, req broker.OrderRequest) (*broker.BrokerOrder, error) {
	body := map[string]any{
		"tradingsymbol":    b.manifest.FormatSymbol(req.Exchange, req.Symbol),
		"exchange":         req.Exchange,
		"transaction_type": string(req.Side),
		"quantity":         req.Quantity,
		"order_type":       string(req.OrderType),
		"product":          req.ProductType,
	}
	if req.Price.IsPositive() {
		body["price"] = req.Price
	}
	if req.TriggerPrice.IsPositive() {
		body["trigger_price"] = req.TriggerPrice
	}

	o, err := call[apiOrder](ctx, b, orderTimeout, func(r *resty.Request) (*resty.Response, error) {
		return r.SetBody(body).Post("/orders")
	})
	if err != nil {
		return nil, err
	}
	return o.toBrokerOrder(), nil
}

// ModifyOrder updates price/quantity on an open order.
func (b *Broker) ModifyOrder(ctx context.Context, orderID string, req broker.OrderRequest) (*broker.BrokerOrder, error) {
	body := map[string]any{
		"quantity":   req.Quantity,
		"order_type": string(req.OrderType),
	}
	if req.Price.IsPositive() {
		body["price"] = req.Price
	}
	if req.TriggerPrice.IsPositive() {
		body["trigger_price"] = req.TriggerPrice
	}
	o, err := call[apiOrder](ctx, b, orderTimeout, func(r *resty.Request) (*resty.Response, error) {
		return r.SetBody(body).Put("/orders/" + orderID)
	})
	if err != nil {
		return nil, err
	}
	return o.toBrokerOrder(), nil
}

// CancelOrder cancels an open order.
func (b *Broker) CancelOrder(ctx context.Context, orderID string) error {
	_, err := call[struct{}](ctx, b, orderTimeout, func(r *resty.Request) (*resty.Response, error) {
		return r.Delete("/orders/" + orderID)
	})
	return err
}

// GetOrderStatus fetches one order.
func (b *Broker) GetOrderStatus(ctx context.Context, orderID string) (*broker.BrokerOrder, error) {
	o, err := call[apiOrder](ctx, b, orderTimeout, func(r *resty.Request) (*resty.Response, error) {
		return r.Get("/orders/" + orderID)
	})
	if err != nil {
		return nil, err
	}
	return o.toBrokerOrder(), nil
}

// GetOrders fetches the day's order book.
func (b *Broker) GetOrders(ctx context.Context) ([]broker.BrokerOrder, error) {
	list, err := call[[]apiOrder](ctx, b, orderTimeout, func(r *resty.Request) (*resty.Response, error) {
		return r.Get("/orders")
	})
	if err != nil {
		return nil, err
	}
	out := make([]broker.BrokerOrder, 0, len(list))
	for _, o := range list {
		out = append(out, *o.toBrokerOrder())
	}
	return out, nil
}

// GetPositions fetches open positions.
func (b *Broker) GetPositions(ctx context.Context) ([]broker.BrokerPosition, error) {
	type apiPosition struct {
		Symbol    string          `json:"tradingsymbol"`
		Exchange  string          `json:"exchange"`
		Quantity  int64           `json:"quantity"`
		AvgPrice  decimal.Decimal `json:"average_price"`
		LastPrice decimal.Decimal `json:"last_price"`
		PnL       decimal.Decimal `json:"pnl"`
		Product   string          `json:"product"`
	}
	list, err := call[[]apiPosition](ctx, b, orderTimeout, func(r *resty.Request) (*resty.Response, error) {
		return r.Get("/portfolio/positions")
	})
	if err != nil {
		return nil, err
	}
	out := make([]broker.BrokerPosition, 0, len(list))
	for _, p := range list {
		out = append(out, broker.BrokerPosition{
			Symbol:    p.Symbol,
			Exchange:  p.Exchange,
			Quantity:  p.Quantity,
			AvgPrice:  p.AvgPrice,
			LastPrice: p.LastPrice,
			PnL:       p.PnL,
			Product:   p.Product,
		})
	}
	return out, nil
}

// ─── Market data ───────────────────────────────────────────────────────────────

// GetQuote fetches a snapshot quote.
func (b *Broker) GetQuote(ctx context.Context, symbol, exchange string) (*broker.Quote, error) {
	type apiQuote struct {
		LastPrice decimal.Decimal `json:"last_price"`
		Open      decimal.Decimal `json:"open"`
		High      decimal.Decimal `json:"high"`
		Low       decimal.Decimal `json:"low"`
		Close     decimal.Decimal `json:"close"`
		Volume    int64           `json:"volume"`
		Bid       decimal.Decimal `json:"bid"`
		BidSize   int64           `json:"bid_size"`
		Ask       decimal.Decimal `json:"ask"`
		AskSize   int64           `json:"ask_size"`
		Timestamp time.Time       `json:"timestamp"`
	}
	q, err := call[apiQuote](ctx, b, orderTimeout, func(r *resty.Request) (*resty.Response, error) {
		return r.SetQueryParam("i", b.manifest.FormatSymbol(exchange, symbol)).Get("/quote")
	})
	if err != nil {
		return nil, err
	}
	return &broker.Quote{
		Symbol:    symbol,
		Exchange:  exchange,
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
	}, nil
}

// GetHistoricalData fetches candles, chunking to the per-interval range
// limit, and returns an ascending, de-duplicated series.
func (b *Broker) GetHistoricalData(ctx context.Context, symbol, exchange string, interval types.Interval, from, to time.Time) ([]types.Candle, error) {
	if !interval.Valid() {
		return nil, broker.Errorf("bad_interval", "unsupported interval %s", interval)
	}
	instrument := b.manifest.FormatSymbol(exchange, symbol)

	return broker.FetchChunked(ctx, interval, from, to, func(chunkCtx context.Context, chunkFrom, chunkTo time.Time) ([]types.Candle, error) {
		list, err := call[[]apiCandle](chunkCtx, b, historyTimeout, func(r *resty.Request) (*resty.Response, error) {
			return r.
				SetQueryParam("instrument", instrument).
				SetQueryParam("interval", string(interval)).
				SetQueryParam("from", chunkFrom.Format(time.RFC3339)).
				SetQueryParam("to", chunkTo.Format(time.RFC3339)).
				Get("/historical")
		})
		if err != nil {
			return nil, err
		}
		out := make([]types.Candle, 0, len(list))
		for _, c := range list {
			candle := types.Candle{Timestamp: c.Timestamp, Open: c.Open, High: c.High, Low: c.Low, Close: c.Close, Volume: c.Volume}
			if err := candle.Validate(); err != nil {
				log.Warn().Err(err).Str("broker", b.manifest.Name).Msg("Dropping malformed candle")
				continue
			}
			out = append(out, candle)
		}
		return out, nil
	})
}

// SubscribeMarketData streams ticks over the plugin's WebSocket endpoint.
func (b *Broker) SubscribeMarketData(ctx context.Context, symbols []broker.SymbolRef, handler broker.TickHandler) error {
	if !b.manifest.Capabilities.Streaming {
		return broker.Errorf("no_streaming", "%s does not stream market data", b.manifest.Name)
	}
	return b.stream.subscribe(ctx, symbols, handler)
}

// UnsubscribeMarketData stops streaming for the given symbols.
func (b *Broker) UnsubscribeMarketData(_ context.Context, symbols []broker.SymbolRef) error {
	return b.stream.unsubscribe(symbols)
}

// ─── OAuth ─────────────────────────────────────────────────────────────────────

// AuthorizationURL builds the broker's OAuth consent URL.
func (b *Broker) AuthorizationURL(state string) string {
	u, err := url.Parse(b.manifest.Auth.OAuth.AuthURL)
	if err != nil {
		return ""
	}
	q := u.Query()
	q.Set("api_key", b.apiKey)
	q.Set("state", state)
	u.RawQuery = q.Encode()
	return u.String()
}

// ExchangeAuthCode swaps an OAuth request code for an access token.
func (b *Broker) ExchangeAuthCode(ctx context.Context, code string) (*broker.OAuthToken, error) {
	type apiToken struct {
		AccessToken  string `json:"access_token"`
		RefreshToken string `json:"refresh_token"`
	}
	t, err := call[apiToken](ctx, b, orderTimeout, func(r *resty.Request) (*resty.Response, error) {
		return r.SetBody(map[string]string{"api_key": b.apiKey, "request_token": code}).
			Post(b.manifest.Auth.OAuth.TokenURL)
	})
	if err != nil {
		return nil, err
	}
	expiry := time.Now().Add(time.Duration(b.manifest.Auth.TokenExpiryHours) * time.Hour)
	b.accessToken = t.AccessToken
	b.rest.SetHeader("Authorization", "token "+b.apiKey+":"+b.accessToken)
	return &broker.OAuthToken{AccessToken: t.AccessToken, RefreshToken: t.RefreshToken, ExpiresAt: expiry}, nil
}
