package broker

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/rs/zerolog/log"
)

// ═══════════════════════════════════════════════════════════════════════════════
// PLUGIN REGISTRY - Manifest-driven broker discovery
// ═══════════════════════════════════════════════════════════════════════════════
//
// At startup the registry scans a plugins directory. Every subdirectory
// holding a plugin.json manifest becomes an available broker. The manifest's
// broker_class selects a driver compiled into the binary; Go has no dynamic
// module loading, so drivers register themselves with RegisterDriver.
//
// ═══════════════════════════════════════════════════════════════════════════════

// OAuthConfig carries the plugin's OAuth endpoints.
type OAuthConfig struct {
	AuthURL  string `json:"auth_url"`
	TokenURL string `json:"token_url"`
}

// AuthConfig declares how a broker authenticates.
type AuthConfig struct {
	Type              string      `json:"type"` // oauth, api_key, totp
	RequiresAPIKey    bool        `json:"requires_api_key"`
	RequiresAPISecret bool        `json:"requires_api_secret"`
	RequiresTOTP      bool        `json:"requires_totp"`
	TokenExpiryHours  int         `json:"token_expiry_hours"`
	OAuth             OAuthConfig `json:"oauth_config"`
}

// Capabilities are the plugin's feature flags.
type Capabilities struct {
	Trading        bool `json:"trading"`
	MarketData     bool `json:"market_data"`
	HistoricalData bool `json:"historical_data"`
	Streaming      bool `json:"streaming"`
	Options        bool `json:"options"`
	Futures        bool `json:"futures"`
	Equity         bool `json:"equity"`
	Commodities    bool `json:"commodities"`
	Currency       bool `json:"currency"`
}

// Manifest is the parsed plugin.json.
type Manifest struct {
	Name         string         `json:"name"`
	DisplayName  string         `json:"display_name"`
	Version      string         `json:"version"`
	Description  string         `json:"description"`
	BrokerClass  string         `json:"broker_class"`
	Capabilities Capabilities   `json:"capabilities"`
	Auth         AuthConfig     `json:"auth"`
	Exchanges    []string       `json:"exchanges"`
	SymbolFormat string         `json:"symbol_format"`
	LogoURL      string         `json:"logo_url"`
	ConfigSchema map[string]any `json:"config_schema"`
}

// FormatSymbol renders the manifest's symbol-format template, e.g.
// "{exchange}:{symbol}-EQ". An empty template returns the symbol unchanged.
func (m Manifest) FormatSymbol(exchange, symbol string) string {
	if m.SymbolFormat == "" {
		return symbol
	}
	out := strings.ReplaceAll(m.SymbolFormat, "{exchange}", exchange)
	return strings.ReplaceAll(out, "{symbol}", symbol)
}

// Driver builds a broker instance from its manifest.
type Driver func(manifest Manifest) (Broker, error)

var (
	driverMu sync.RWMutex
	drivers  = make(map[string]Driver)
)

// RegisterDriver binds a broker_class string to a compiled-in constructor.
func RegisterDriver(class string, driver Driver) {
	driverMu.Lock()
	defer driverMu.Unlock()
	drivers[class] = driver
}

type entry struct {
	manifest Manifest
	broker   Broker
}

// Registry discovers and holds available brokers.
type Registry struct {
	dir string

	mu      sync.RWMutex
	entries map[string]entry
	builtin map[string]Broker
}

// NewRegistry creates a registry rooted at the plugins directory.
func NewRegistry(dir string) *Registry {
	return &Registry{
		dir:     dir,
		entries: make(map[string]entry),
		builtin: make(map[string]Broker),
	}
}

// RegisterBuiltin adds a broker that is always available regardless of the
// plugins directory (the paper-trading broker).
func (r *Registry) RegisterBuiltin(b Broker) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.builtin[b.Name()] = b
}

// Load scans the plugins directory. A missing directory yields an empty
// registry, not an error: deployments without plugins trade on paper only.
func (r *Registry) Load() error {
	dirs, err := os.ReadDir(r.dir)
	if os.IsNotExist(err) {
		log.Warn().Str("dir", r.dir).Msg("Plugins directory missing, builtin brokers only")
		return nil
	}
	if err != nil {
		return fmt.Errorf("scan plugins dir: %w", err)
	}

	loaded := make(map[string]entry)
	for _, d := range dirs {
		if !d.IsDir() {
			continue
		}
		manifestPath := filepath.Join(r.dir, d.Name(), "plugin.json")
		raw, err := os.ReadFile(manifestPath)
		if os.IsNotExist(err) {
			continue
		}
		if err != nil {
			log.Error().Err(err).Str("plugin", d.Name()).Msg("Cannot read manifest, skipping")
			continue
		}

		var m Manifest
		if err := json.Unmarshal(raw, &m); err != nil {
			log.Error().Err(err).Str("plugin", d.Name()).Msg("Invalid plugin.json, skipping")
			continue
		}
		if m.Name == "" || m.BrokerClass == "" {
			log.Error().Str("plugin", d.Name()).Msg("Manifest missing name or broker_class, skipping")
			continue
		}

		driverMu.RLock()
		driver, ok := drivers[m.BrokerClass]
		driverMu.RUnlock()
		if !ok {
			log.Error().Str("plugin", m.Name).Str("class", m.BrokerClass).Msg("No driver for broker class, skipping")
			continue
		}

		b, err := driver(m)
		if err != nil {
			log.Error().Err(err).Str("plugin", m.Name).Msg("Driver rejected manifest, skipping")
			continue
		}

		loaded[m.Name] = entry{manifest: m, broker: b}
		log.Info().Str("broker", m.Name).Str("version", m.Version).Msg("🔌 Broker plugin loaded")
	}

	r.mu.Lock()
	r.entries = loaded
	r.mu.Unlock()
	return nil
}

// Reload rescans the plugins directory. Deployments should avoid reloading
// while runners are active; a crash-restart cycle across a reload can see a
// different broker build.
func (r *Registry) Reload() error {
	return r.Load()
}

// Get returns the broker registered under name.
func (r *Registry) Get(name string) (Broker, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if e, ok := r.entries[name]; ok {
		return e.broker, nil
	}
	if b, ok := r.builtin[name]; ok {
		return b, nil
	}
	return nil, fmt.Errorf("broker %q is not registered", name)
}

// Metadata returns the manifest for a plugin broker.
func (r *Registry) Metadata(name string) (Manifest, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if e, ok := r.entries[name]; ok {
		return e.manifest, nil
	}
	return Manifest{}, fmt.Errorf("broker %q has no manifest", name)
}

// List returns the names of every available broker, builtins included.
func (r *Registry) List() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.entries)+len(r.builtin))
	for name := range r.entries {
		names = append(names, name)
	}
	for name := range r.builtin {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
