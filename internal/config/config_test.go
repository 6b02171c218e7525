package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestDefaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)

	require.Equal(t, 8080, cfg.Server.Port)
	require.Equal(t, int64(1), cfg.Metering.FreeTierLimit)
	require.Equal(t, 30*24*time.Hour, cfg.Session.TTL)
	require.Equal(t, "0.0.0.0:8080", cfg.Server.Addr())
}

func TestLoadFromFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	data := []byte(`
server:
  port: 9090
metering:
  free_tier_limit: 3
  per_feature:
    premium_scan: 0
billing:
  credit_price_paise: 5000
`)
	require.NoError(t, os.WriteFile(path, data, 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)

	require.Equal(t, 9090, cfg.Server.Port)
	require.Equal(t, int64(3), cfg.Metering.FreeTierLimit)

	override, ok := cfg.Metering.PerFeature["premium_scan"]
	require.True(t, ok, "per-feature override missing")
	require.Equal(t, int64(0), override)
	require.Equal(t, int64(5000), cfg.Billing.CreditPricePaise)
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("DATABASE_URL", "postgres://env/db")
	t.Setenv("REDIS_URL", "redis://env:6379/0")
	t.Setenv("FREE_TIER_LIMIT", "5")
	t.Setenv("PORT", "7070")

	cfg, err := Load("")
	require.NoError(t, err)

	require.Equal(t, "postgres://env/db", cfg.Database.URL)
	require.Equal(t, "redis://env:6379/0", cfg.Cache.URL)
	require.Equal(t, cfg.Cache.URL, cfg.Session.RedisURL,
		"session redis should default to the cache redis")
	require.Equal(t, int64(5), cfg.Metering.FreeTierLimit)
	require.Equal(t, 7070, cfg.Server.Port)
}

func TestInvalidPortRejected(t *testing.T) {
	t.Setenv("PORT", "70000")
	_, err := Load("")
	require.Error(t, err)
}

func TestMissingFileIsAnError(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	require.Error(t, err)
}
