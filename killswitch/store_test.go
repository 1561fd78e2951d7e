package killswitch

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestClient() *Client {
	return NewClient(NewMemoryBackend())
}

func TestHierarchy_GlobalSupersedesEverything(t *testing.T) {
	ctx := context.Background()
	c := newTestClient()

	require.NoError(t, c.ActivateGlobal(ctx, "market halt", "admin"))

	assert.True(t, c.IsGlobalActive(ctx))
	assert.True(t, c.IsUserActive(ctx, "anyone"))
	assert.True(t, c.IsStrategyActive("any-sub", "anyone"))
}

func TestHierarchy_UserSupersedesStrategy(t *testing.T) {
	ctx := context.Background()
	c := newTestClient()

	require.NoError(t, c.ActivateForUser(ctx, "u1", "manual", "admin"))

	assert.False(t, c.IsGlobalActive(ctx))
	assert.True(t, c.IsUserActive(ctx, "u1"))
	assert.False(t, c.IsUserActive(ctx, "u2"))
	assert.True(t, c.IsStrategyActive("sub1", "u1"))
	assert.False(t, c.IsStrategyActive("sub2", "u2"))
}

func TestHierarchy_StrategyScopeIsNarrow(t *testing.T) {
	ctx := context.Background()
	c := newTestClient()

	require.NoError(t, c.ActivateForStrategy(ctx, "sub1", "drawdown", "risk_manager"))

	assert.True(t, c.IsStrategyActive("sub1", "u1"))
	assert.False(t, c.IsStrategyActive("sub2", "u1"))
	assert.False(t, c.IsUserActive(ctx, "u1"))
	assert.False(t, c.IsGlobalActive(ctx))
}

func TestActivate_Idempotent(t *testing.T) {
	ctx := context.Background()
	c := newTestClient()

	require.NoError(t, c.ActivateGlobal(ctx, "halt", "admin"))
	require.NoError(t, c.ActivateGlobal(ctx, "halt", "admin"))
	assert.True(t, c.IsGlobalActive(ctx))

	require.NoError(t, c.DeactivateGlobal(ctx, "admin"))
	assert.False(t, c.IsGlobalActive(ctx))

	// Deactivating when inactive is a no-op, not an error.
	require.NoError(t, c.DeactivateGlobal(ctx, "admin"))
	assert.False(t, c.IsGlobalActive(ctx))
}

func TestDeactivate_WhenInactivePublishesNothing(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	backend := NewMemoryBackend()
	c := NewClient(backend)

	events := make(chan Event, 8)
	require.NoError(t, c.Subscribe(ctx, func(e Event) { events <- e }))

	require.NoError(t, c.DeactivateGlobal(ctx, "admin"))
	require.NoError(t, c.DeactivateForUser(ctx, "u1"))

	select {
	case e := <-events:
		t.Fatalf("unexpected event %s", e.Type)
	case <-time.After(100 * time.Millisecond):
	}
}

func TestSubscribe_DeliversTypedEvents(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	c := newTestClient()
	events := make(chan Event, 8)
	require.NoError(t, c.Subscribe(ctx, func(e Event) { events <- e }))

	require.NoError(t, c.ActivateForUser(ctx, "u1", "loss limit", "admin"))

	select {
	case e := <-events:
		assert.Equal(t, EventUserStop, e.Type)
		assert.Equal(t, "u1", e.UserID)
		assert.Equal(t, "loss limit", e.Reason)
	case <-time.After(time.Second):
		t.Fatal("no event within bounded time")
	}
}

func TestSubscribe_IgnoresMalformedPayloads(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	backend := NewMemoryBackend()
	c := NewClient(backend)

	events := make(chan Event, 8)
	require.NoError(t, c.Subscribe(ctx, func(e Event) { events <- e }))

	require.NoError(t, backend.Publish(ctx, Channel, []byte("not json")))
	require.NoError(t, backend.Publish(ctx, Channel, []byte(`{"type":"SOMETHING_ELSE"}`)))
	require.NoError(t, c.ActivateGlobal(ctx, "halt", "admin"))

	select {
	case e := <-events:
		assert.Equal(t, EventGlobalStop, e.Type)
	case <-time.After(time.Second):
		t.Fatal("valid event was not delivered")
	}
}

func TestParseEvent_RoundTrip(t *testing.T) {
	evt := Event{Type: EventStrategyStop, SubscriptionID: "sub9", Reason: "drawdown"}
	parsed, ok := ParseEvent(evt.Marshal())
	assert.True(t, ok)
	assert.Equal(t, evt, parsed)

	_, ok = ParseEvent([]byte(`{"type":"UNKNOWN"}`))
	assert.False(t, ok)
}
