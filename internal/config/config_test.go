package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func TestLoadAppliesDefaults(t *testing.T) {
	path := writeConfig(t, `
app:
  log_level: debug
cache:
  symbols:
    - ETHUSDT
`)
	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "debug", cfg.App.LogLevel)
	assert.Equal(t, []string{"ETHUSDT"}, cfg.Cache.Symbols)
	// Untouched sections keep their defaults.
	assert.Equal(t, ":8642", cfg.Server.Addr)
	assert.Equal(t, "https://api.binance.com", cfg.Binance.RESTBaseURL)
	assert.Equal(t, 2, cfg.Backfill.Concurrency)
}

func TestLoadRejectsUnknownGranularity(t *testing.T) {
	path := writeConfig(t, `
cache:
  symbols: [BTCUSDT]
  granularities: [1h, 7x]
`)
	_, err := Load(path)
	require.Error(t, err)
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	require.Error(t, err)
}

func TestWriteDefaultRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "sub", "config.yaml")
	require.NoError(t, WriteDefault(path))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, Default(), *cfg)
}

func TestGranularitiesResolved(t *testing.T) {
	cfg := Default()
	grans := cfg.Granularities()
	require.Len(t, grans, len(cfg.Cache.Granularities))
	for _, g := range grans {
		assert.True(t, g.IsValid())
	}
}
