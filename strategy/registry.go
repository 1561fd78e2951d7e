package strategy

import (
	"fmt"
	"sort"
	"sync"
)

// ═══════════════════════════════════════════════════════════════════════════════
// REGISTRY - Compile-time strategy dispatch table
// ═══════════════════════════════════════════════════════════════════════════════
//
// Strategies are keyed by the same id string stored with a subscription.
// The registry replaces dynamic module loading: every strategy the platform
// ships registers itself in init().
//
// ═══════════════════════════════════════════════════════════════════════════════

var (
	regMu    sync.RWMutex
	registry = make(map[string]Definition)
)

// Register adds a strategy definition. Panics on duplicate id: registration
// happens at init time and a duplicate is a programming error.
func Register(def Definition) {
	regMu.Lock()
	defer regMu.Unlock()
	if _, exists := registry[def.ID]; exists {
		panic("strategy: duplicate registration for " + def.ID)
	}
	registry[def.ID] = def
}

// Get returns the definition for a strategy id.
func Get(id string) (Definition, error) {
	regMu.RLock()
	defer regMu.RUnlock()
	def, ok := registry[id]
	if !ok {
		return Definition{}, fmt.Errorf("strategy %q is not registered", id)
	}
	return def, nil
}

// List returns all registered definitions sorted by id.
func List() []Definition {
	regMu.RLock()
	defer regMu.RUnlock()
	defs := make([]Definition, 0, len(registry))
	for _, def := range registry {
		defs = append(defs, def)
	}
	sort.Slice(defs, func(i, j int) bool { return defs[i].ID < defs[j].ID })
	return defs
}
