package engine

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/karthikreddy9595/AlgoTrading-sub000/broker"
	"github.com/karthikreddy9595/AlgoTrading-sub000/killswitch"
	"github.com/karthikreddy9595/AlgoTrading-sub000/strategy"
	"github.com/karthikreddy9595/AlgoTrading-sub000/supervisor"
	"github.com/karthikreddy9595/AlgoTrading-sub000/types"
)

// feedBroker records feed subscriptions; nothing else is exercised.
type feedBroker struct {
	broker.Broker

	mu           sync.Mutex
	subscribed   []string
	unsubscribed []string
}

func (f *feedBroker) Name() string { return "feed_stub" }

func (f *feedBroker) SubscribeMarketData(_ context.Context, symbols []broker.SymbolRef, _ broker.TickHandler) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, ref := range symbols {
		f.subscribed = append(f.subscribed, types.SymbolKey(ref.Exchange, ref.Symbol))
	}
	return nil
}

func (f *feedBroker) UnsubscribeMarketData(_ context.Context, symbols []broker.SymbolRef) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, ref := range symbols {
		f.unsubscribed = append(f.unsubscribed, types.SymbolKey(ref.Exchange, ref.Symbol))
	}
	return nil
}

func (f *feedBroker) Disconnect(context.Context) error { return nil }

func (f *feedBroker) unsubscribedKeys() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.unsubscribed...)
}

// quietStrategy never trades.
type quietStrategy struct{}

func (quietStrategy) Name() string                         { return "engine_idle" }
func (quietStrategy) OnStart()                             {}
func (quietStrategy) OnStop()                              {}
func (quietStrategy) OnPause()                             {}
func (quietStrategy) OnResume()                            {}
func (quietStrategy) ApplyConfig(map[string]float64)       {}
func (quietStrategy) GetState() map[string]any             { return map[string]any{} }
func (quietStrategy) SetState(map[string]any)              {}
func (quietStrategy) OnMarketData(types.Tick) *types.Order { return nil }

func init() {
	strategy.Register(strategy.Definition{
		ID:   "engine_idle",
		Name: "Engine Idle",
		New:  func(_ *types.StrategyContext) strategy.Strategy { return quietStrategy{} },
	})
}

func newTestEngine(t *testing.T) (*Engine, *feedBroker) {
	t.Helper()
	fb := &feedBroker{}
	kill := killswitch.NewClient(killswitch.NewMemoryBackend())
	e, err := New(Config{Broker: fb, Kill: kill})
	require.NoError(t, err)
	require.NoError(t, e.Start())
	t.Cleanup(e.Shutdown)
	return e, fb
}

func feedRequest(sub string, symbols ...string) supervisor.StartRequest {
	refs := make([]broker.SymbolRef, 0, len(symbols))
	for _, s := range symbols {
		refs = append(refs, broker.SymbolRef{Symbol: s, Exchange: "NSE"})
	}
	return supervisor.StartRequest{
		SubscriptionID: sub,
		UserID:         "u1",
		StrategyID:     "engine_idle",
		Capital:        decimal.NewFromInt(100_000),
		Limits:         types.DefaultRiskLimits(),
		Symbols:        refs,
		DryRun:         true,
	}
}

func TestStopStrategy_ReleasesOrphanedFeeds(t *testing.T) {
	e, fb := newTestEngine(t)

	require.NoError(t, e.StartStrategy(feedRequest("sub1", "RELIANCE", "TCS")))
	require.NoError(t, e.StartStrategy(feedRequest("sub2", "RELIANCE")))

	fb.mu.Lock()
	assert.Equal(t, []string{"NSE:RELIANCE", "NSE:TCS", "NSE:RELIANCE"}, fb.subscribed)
	fb.mu.Unlock()

	require.NoError(t, e.StopStrategy("sub1", time.Second))
	assert.Equal(t, []string{"NSE:TCS"}, fb.unsubscribedKeys(), "RELIANCE stays live for sub2")

	require.NoError(t, e.StopStrategy("sub2", time.Second))
	assert.Equal(t, []string{"NSE:TCS", "NSE:RELIANCE"}, fb.unsubscribedKeys())
}

func TestStopStrategy_UnknownSubscriptionKeepsFeeds(t *testing.T) {
	e, fb := newTestEngine(t)

	require.NoError(t, e.StartStrategy(feedRequest("sub1", "RELIANCE")))
	assert.Error(t, e.StopStrategy("missing", time.Second))
	assert.Empty(t, fb.unsubscribedKeys())
}
