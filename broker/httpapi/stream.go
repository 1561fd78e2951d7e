package httpapi

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"

	"github.com/karthikreddy9595/AlgoTrading-sub000/broker"
	"github.com/karthikreddy9595/AlgoTrading-sub000/types"
)

const (
	wsReconnectDelay = 5 * time.Second
	wsWriteTimeout   = 10 * time.Second
)

// wsCommand is the subscribe/unsubscribe frame sent to the broker.
type wsCommand struct {
	Action  string   `json:"action"`
	Symbols []string `json:"symbols"`
}

// wsTick is the tick frame the broker streams back.
type wsTick struct {
	Symbol    string          `json:"symbol"`
	Exchange  string          `json:"exchange"`
	Timestamp time.Time       `json:"timestamp"`
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
}

// stream owns the WebSocket connection for one broker. The read loop
// reconnects with a fixed delay and replays the subscription set, so a
// dropped feed heals without the caller noticing beyond a gap in ticks.
type stream struct {
	parent *Broker

	mu      sync.Mutex
	conn    *websocket.Conn
	cancel  context.CancelFunc
	handler broker.TickHandler
	subs    map[string]broker.SymbolRef // keyed by formatted instrument id
	running bool
}

func newStream(parent *Broker) *stream {
	return &stream{parent: parent, subs: make(map[string]broker.SymbolRef)}
}

func (s *stream) subscribe(ctx context.Context, symbols []broker.SymbolRef, handler broker.TickHandler) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.handler = handler
	added := make([]string, 0, len(symbols))
	for _, ref := range symbols {
		id := s.parent.manifest.FormatSymbol(ref.Exchange, ref.Symbol)
		if _, ok := s.subs[id]; !ok {
			s.subs[id] = ref
			added = append(added, id)
		}
	}

	if !s.running {
		runCtx, cancel := context.WithCancel(context.Background())
		s.cancel = cancel
		s.running = true
		go s.run(runCtx)
		return nil // run() sends the full subscription set on connect
	}
	if len(added) == 0 || s.conn == nil {
		return nil
	}
	return s.send(wsCommand{Action: "subscribe", Symbols: added})
}

func (s *stream) unsubscribe(symbols []broker.SymbolRef) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	removed := make([]string, 0, len(symbols))
	for _, ref := range symbols {
		id := s.parent.manifest.FormatSymbol(ref.Exchange, ref.Symbol)
		if _, ok := s.subs[id]; ok {
			delete(s.subs, id)
			removed = append(removed, id)
		}
	}
	if len(removed) == 0 || s.conn == nil {
		return nil
	}
	return s.send(wsCommand{Action: "unsubscribe", Symbols: removed})
}

func (s *stream) close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cancel != nil {
		s.cancel()
		s.cancel = nil
	}
	if s.conn != nil {
		s.conn.Close()
		s.conn = nil
	}
	s.running = false
	s.subs = make(map[string]broker.SymbolRef)
}

// send writes a command frame. Callers hold s.mu.
func (s *stream) send(cmd wsCommand) error {
	s.conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
	if err := s.conn.WriteJSON(cmd); err != nil {
		return broker.Errorf("ws_write", "%s: %v", s.parent.manifest.Name, err)
	}
	return nil
}

func (s *stream) run(ctx context.Context) {
	name := s.parent.manifest.Name
	for {
		if ctx.Err() != nil {
			return
		}

		conn, _, err := websocket.DefaultDialer.DialContext(ctx, s.dialURL(), nil)
		if err != nil {
			log.Error().Err(err).Str("broker", name).Msg("WebSocket dial failed, retrying")
			select {
			case <-ctx.Done():
				return
			case <-time.After(wsReconnectDelay):
			}
			continue
		}

		s.mu.Lock()
		s.conn = conn
		current := make([]string, 0, len(s.subs))
		for id := range s.subs {
			current = append(current, id)
		}
		var sendErr error
		if len(current) > 0 {
			sendErr = s.send(wsCommand{Action: "subscribe", Symbols: current})
		}
		s.mu.Unlock()

		if sendErr != nil {
			log.Error().Err(sendErr).Str("broker", name).Msg("Resubscribe failed")
			conn.Close()
			continue
		}
		log.Info().Str("broker", name).Int("symbols", len(current)).Msg("📡 Market data stream connected")

		s.readLoop(ctx, conn)

		s.mu.Lock()
		if s.conn == conn {
			s.conn = nil
		}
		s.mu.Unlock()
		conn.Close()

		select {
		case <-ctx.Done():
			return
		case <-time.After(wsReconnectDelay):
		}
	}
}

func (s *stream) readLoop(ctx context.Context, conn *websocket.Conn) {
	for {
		_, raw, err := conn.ReadMessage()
		if err != nil {
			if ctx.Err() == nil {
				log.Warn().Err(err).Str("broker", s.parent.manifest.Name).Msg("WebSocket read failed, reconnecting")
			}
			return
		}

		var t wsTick
		if err := json.Unmarshal(raw, &t); err != nil || t.Symbol == "" {
			continue // heartbeat or control frame
		}

		s.mu.Lock()
		handler := s.handler
		s.mu.Unlock()
		if handler == nil {
			continue
		}
		handler(types.Tick{
			Symbol:    t.Symbol,
			Exchange:  t.Exchange,
			Timestamp: t.Timestamp,
			LastPrice: t.LastPrice,
			Open:      t.Open,
			High:      t.High,
			Low:       t.Low,
			Close:     t.Close,
			Volume:    t.Volume,
			Bid:       t.Bid,
			BidSize:   t.BidSize,
			Ask:       t.Ask,
			AskSize:   t.AskSize,
		})
	}
}

func (s *stream) dialURL() string {
	u := s.parent.wsURL
	if s.parent.accessToken != "" {
		u += "?api_key=" + s.parent.apiKey + "&access_token=" + s.parent.accessToken
	}
	return u
}
