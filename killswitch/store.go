package killswitch

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
)

// ═══════════════════════════════════════════════════════════════════════════════
// KILL SWITCH - Hierarchical emergency halt
// ═══════════════════════════════════════════════════════════════════════════════
//
// Three scopes: global → user → strategy (subscription). Global supersedes
// user supersedes strategy. State lives in the shared backend; pub/sub
// events notify every supervisor replica within the bounded-time target.
//
// ═══════════════════════════════════════════════════════════════════════════════

const (
	keyPrefix = "killswitch:"
	// Channel is the pub/sub channel kill-switch events are broadcast on.
	Channel = "killswitch:events"
	// DefaultMaxStaleness bounds how old a cached record may be before the
	// authoritative backend is consulted again.
	DefaultMaxStaleness = time.Second
)

// Record is one scope's stored state.
type Record struct {
	Active      bool      `json:"active"`
	Reason      string    `json:"reason"`
	ActivatedBy string    `json:"activated_by"`
	ActivatedAt time.Time `json:"activated_at"`
}

type cachedRecord struct {
	rec     Record
	ok      bool
	fetched time.Time
}

// Client is the kill-switch store handle. Read paths serve from a local
// snapshot no older than maxStaleness; events invalidate the snapshot.
type Client struct {
	backend      Backend
	maxStaleness time.Duration

	mu    sync.RWMutex
	cache map[string]cachedRecord
}

// NewClient wraps a backend with caching and the scope hierarchy.
func NewClient(backend Backend) *Client {
	return &Client{
		backend:      backend,
		maxStaleness: DefaultMaxStaleness,
		cache:        make(map[string]cachedRecord),
	}
}

func globalKey() string              { return keyPrefix + "global" }
func userKey(userID string) string   { return keyPrefix + "user:" + userID }
func strategyKey(subID string) string { return keyPrefix + "strategy:" + subID }

// ─── Activation ────────────────────────────────────────────────────────────────

// ActivateGlobal halts all trading everywhere. Idempotent.
func (c *Client) ActivateGlobal(ctx context.Context, reason, by string) error {
	if err := c.activate(ctx, globalKey(), reason, by); err != nil {
		return err
	}
	log.Warn().Str("reason", reason).Str("by", by).Msg("🛑 GLOBAL kill switch activated")
	return c.publish(ctx, Event{Type: EventGlobalStop, Reason: reason, ActivatedBy: by})
}

// DeactivateGlobal clears the global halt. A no-op when already inactive.
func (c *Client) DeactivateGlobal(ctx context.Context, by string) error {
	cleared, err := c.deactivate(ctx, globalKey())
	if err != nil || !cleared {
		return err
	}
	log.Info().Str("by", by).Msg("Global kill switch deactivated")
	return c.publish(ctx, Event{Type: EventGlobalResume, DeactivatedBy: by})
}

// ActivateForUser halts all of one user's strategies.
func (c *Client) ActivateForUser(ctx context.Context, userID, reason, by string) error {
	if err := c.activate(ctx, userKey(userID), reason, by); err != nil {
		return err
	}
	log.Warn().Str("user", userID).Str("reason", reason).Msg("Kill switch activated for user")
	return c.publish(ctx, Event{Type: EventUserStop, UserID: userID, Reason: reason})
}

// DeactivateForUser clears a user halt.
func (c *Client) DeactivateForUser(ctx context.Context, userID string) error {
	cleared, err := c.deactivate(ctx, userKey(userID))
	if err != nil || !cleared {
		return err
	}
	return c.publish(ctx, Event{Type: EventUserResume, UserID: userID})
}

// ActivateForStrategy halts a single subscription.
func (c *Client) ActivateForStrategy(ctx context.Context, subscriptionID, reason, by string) error {
	if err := c.activate(ctx, strategyKey(subscriptionID), reason, by); err != nil {
		return err
	}
	log.Warn().Str("subscription", subscriptionID).Str("reason", reason).Msg("Kill switch activated for strategy")
	return c.publish(ctx, Event{Type: EventStrategyStop, SubscriptionID: subscriptionID, Reason: reason})
}

// DeactivateForStrategy clears a subscription halt. No resume event is
// defined for the strategy scope; subscribers re-check state on start.
func (c *Client) DeactivateForStrategy(ctx context.Context, subscriptionID string) error {
	_, err := c.deactivate(ctx, strategyKey(subscriptionID))
	return err
}

// ─── Queries (hierarchy applied) ───────────────────────────────────────────────

// IsGlobalActive reports whether the global halt is on.
func (c *Client) IsGlobalActive(ctx context.Context) bool {
	return c.isActive(ctx, globalKey())
}

// IsUserActive reports whether trading is halted for a user. True whenever
// the global switch is active.
func (c *Client) IsUserActive(ctx context.Context, userID string) bool {
	return c.isActive(ctx, globalKey()) || c.isActive(ctx, userKey(userID))
}

// IsStrategyActive reports whether a subscription is halted. True whenever
// the user or global scope is active.
func (c *Client) IsStrategyActive(subscriptionID, userID string) bool {
	ctx := context.Background()
	return c.IsUserActive(ctx, userID) || c.isActive(ctx, strategyKey(subscriptionID))
}

// GlobalRecord returns the stored global record for status introspection.
func (c *Client) GlobalRecord(ctx context.Context) (Record, bool) {
	return c.fetch(ctx, globalKey())
}

// ─── Event subscription ────────────────────────────────────────────────────────

// Subscribe invokes handler for every well-formed kill-switch event until
// ctx is cancelled. The local cache is invalidated before the handler runs
// so reads behind the handler see fresh state.
func (c *Client) Subscribe(ctx context.Context, handler func(Event)) error {
	payloads, err := c.backend.Subscribe(ctx, Channel)
	if err != nil {
		return err
	}
	go func() {
		for payload := range payloads {
			evt, ok := ParseEvent(payload)
			if !ok {
				log.Warn().Str("payload", string(payload)).Msg("Ignoring unknown kill-switch message")
				continue
			}
			c.invalidate(evt)
			handler(evt)
		}
	}()
	return nil
}

// ─── Internals ─────────────────────────────────────────────────────────────────

func (c *Client) activate(ctx context.Context, key, reason, by string) error {
	rec := Record{Active: true, Reason: reason, ActivatedBy: by, ActivatedAt: time.Now().UTC()}
	raw, err := json.Marshal(rec)
	if err != nil {
		return err
	}
	if err := c.backend.Set(ctx, key, string(raw)); err != nil {
		return err
	}
	c.store(key, rec, true)
	return nil
}

// deactivate clears key and reports whether it was active beforehand.
func (c *Client) deactivate(ctx context.Context, key string) (bool, error) {
	_, existed, err := c.backend.Get(ctx, key)
	if err != nil {
		return false, err
	}
	if !existed {
		return false, nil
	}
	if err := c.backend.Delete(ctx, key); err != nil {
		return false, err
	}
	c.store(key, Record{}, false)
	return true, nil
}

func (c *Client) isActive(ctx context.Context, key string) bool {
	rec, ok := c.fetch(ctx, key)
	return ok && rec.Active
}

func (c *Client) fetch(ctx context.Context, key string) (Record, bool) {
	c.mu.RLock()
	entry, hit := c.cache[key]
	c.mu.RUnlock()
	if hit && time.Since(entry.fetched) < c.maxStaleness {
		return entry.rec, entry.ok
	}

	raw, ok, err := c.backend.Get(ctx, key)
	if err != nil {
		log.Error().Err(err).Str("key", key).Msg("Kill-switch read failed, using last snapshot")
		return entry.rec, entry.ok && hit
	}
	var rec Record
	if ok {
		if err := json.Unmarshal([]byte(raw), &rec); err != nil {
			log.Error().Err(err).Str("key", key).Msg("Corrupt kill-switch record")
			ok = false
		}
	}
	c.store(key, rec, ok)
	return rec, ok
}

func (c *Client) store(key string, rec Record, ok bool) {
	c.mu.Lock()
	c.cache[key] = cachedRecord{rec: rec, ok: ok, fetched: time.Now()}
	c.mu.Unlock()
}

// invalidate drops the cache entries an event makes stale.
func (c *Client) invalidate(evt Event) {
	c.mu.Lock()
	defer c.mu.Unlock()
	switch evt.Type {
	case EventGlobalStop, EventGlobalResume:
		delete(c.cache, globalKey())
	case EventUserStop, EventUserResume:
		delete(c.cache, userKey(evt.UserID))
	case EventStrategyStop:
		delete(c.cache, strategyKey(evt.SubscriptionID))
	}
}

func (c *Client) publish(ctx context.Context, evt Event) error {
	return c.backend.Publish(ctx, Channel, evt.Marshal())
}
