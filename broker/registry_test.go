package broker

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// stubBroker satisfies Broker for registry tests; only Name is ever called.
type stubBroker struct {
	Broker
	name string
}

func (s *stubBroker) Name() string { return s.name }

func init() {
	RegisterDriver("test_class", func(m Manifest) (Broker, error) {
		return &stubBroker{name: m.Name}, nil
	})
	RegisterDriver("picky_class", func(Manifest) (Broker, error) {
		return nil, Errorf("bad_manifest", "refusing to build")
	})
}

func writeManifest(t *testing.T, dir, plugin, content string) {
	t.Helper()
	pluginDir := filepath.Join(dir, plugin)
	require.NoError(t, os.MkdirAll(pluginDir, 0755))
	require.NoError(t, os.WriteFile(filepath.Join(pluginDir, "plugin.json"), []byte(content), 0644))
}

func TestRegistry_LoadsManifestDrivenPlugins(t *testing.T) {
	dir := t.TempDir()
	writeManifest(t, dir, "acme", `{
		"name": "acme",
		"display_name": "Acme Broker",
		"version": "1.2.0",
		"broker_class": "test_class",
		"symbol_format": "{exchange}:{symbol}-EQ",
		"exchanges": ["NSE", "BSE"]
	}`)

	r := NewRegistry(dir)
	require.NoError(t, r.Load())

	b, err := r.Get("acme")
	require.NoError(t, err)
	assert.Equal(t, "acme", b.Name())

	m, err := r.Metadata("acme")
	require.NoError(t, err)
	assert.Equal(t, "1.2.0", m.Version)
	assert.Equal(t, "NSE:RELIANCE-EQ", m.FormatSymbol("NSE", "RELIANCE"))
}

func TestRegistry_SkipsBrokenPlugins(t *testing.T) {
	dir := t.TempDir()
	writeManifest(t, dir, "good", `{"name": "good", "broker_class": "test_class"}`)
	writeManifest(t, dir, "garbled", `{not json`)
	writeManifest(t, dir, "nameless", `{"broker_class": "test_class"}`)
	writeManifest(t, dir, "unknown", `{"name": "unknown", "broker_class": "no_such_driver"}`)
	writeManifest(t, dir, "rejected", `{"name": "rejected", "broker_class": "picky_class"}`)
	require.NoError(t, os.MkdirAll(filepath.Join(dir, "empty"), 0755)) // no manifest

	r := NewRegistry(dir)
	require.NoError(t, r.Load(), "bad plugins are skipped, never fatal")

	_, err := r.Get("good")
	assert.NoError(t, err)
	for _, name := range []string{"garbled", "nameless", "unknown", "rejected", "empty"} {
		_, err := r.Get(name)
		assert.Error(t, err, "plugin %s should not have loaded", name)
	}
}

func TestRegistry_MissingDirectoryIsEmptyNotFatal(t *testing.T) {
	r := NewRegistry(filepath.Join(t.TempDir(), "does-not-exist"))
	assert.NoError(t, r.Load())
	assert.Empty(t, r.List())
}

func TestRegistry_BuiltinsAlwaysAvailable(t *testing.T) {
	dir := t.TempDir()
	writeManifest(t, dir, "acme", `{"name": "acme", "broker_class": "test_class"}`)

	r := NewRegistry(dir)
	r.RegisterBuiltin(&stubBroker{name: "paper"})
	require.NoError(t, r.Load())

	assert.Equal(t, []string{"acme", "paper"}, r.List())

	b, err := r.Get("paper")
	require.NoError(t, err)
	assert.Equal(t, "paper", b.Name())

	_, err = r.Metadata("paper")
	assert.Error(t, err, "builtins carry no manifest")
}

func TestRegistry_UnknownBroker(t *testing.T) {
	r := NewRegistry(t.TempDir())
	require.NoError(t, r.Load())
	_, err := r.Get("ghost")
	assert.Error(t, err)
}

func TestManifest_FormatSymbolEmptyTemplate(t *testing.T) {
	var m Manifest
	assert.Equal(t, "RELIANCE", m.FormatSymbol("NSE", "RELIANCE"))
}
