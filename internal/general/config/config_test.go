package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, yaml string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(yaml), 0o644))
	return path
}

func TestLoadFromFileAppliesDefaults(t *testing.T) {
	path := writeConfig(t, `
database:
  user: dispatch
  password: secret
  database: ride_dispatch
jwt:
  secret_key: dev-secret
`)

	cfg, err := LoadFromFile(path)
	require.NoError(t, err)

	assert.Equal(t, "localhost", cfg.Database.Host)
	assert.Equal(t, 5432, cfg.Database.Port)
	assert.Equal(t, "localhost", cfg.Redis.Host)
	assert.Equal(t, 6379, cfg.Redis.Port)
	assert.Equal(t, "guest", cfg.RabbitMQ.User)
	assert.Equal(t, 8080, cfg.HTTP.Port)
	assert.Equal(t, 2*time.Second, cfg.Pricing.Timeout)

	assert.Equal(t, 30*time.Second, cfg.Dispatch.OfferWindow)
	assert.Equal(t, 5.0, cfg.Dispatch.SearchRadiusKM)
	assert.Equal(t, 10, cfg.Dispatch.CandidateLimit)
	assert.Equal(t, 5, cfg.Dispatch.MaxOffersPerRide)
	assert.Equal(t, 90*time.Second, cfg.Dispatch.HeartbeatTTL)
}

func TestLoadFromFileExplicitValuesWin(t *testing.T) {
	path := writeConfig(t, `
database:
  host: db.internal
  port: 6432
  user: dispatch
  password: secret
  database: ride_dispatch
http:
  port: 9090
jwt:
  secret_key: dev-secret
dispatch:
  offer_window: 15s
  search_radius_km: 2.5
  max_offers_per_ride: 3
  heartbeat_ttl: 45s
`)

	cfg, err := LoadFromFile(path)
	require.NoError(t, err)

	assert.Equal(t, "db.internal", cfg.Database.Host)
	assert.Equal(t, 6432, cfg.Database.Port)
	assert.Equal(t, 9090, cfg.HTTP.Port)
	assert.Equal(t, 15*time.Second, cfg.Dispatch.OfferWindow)
	assert.Equal(t, 2.5, cfg.Dispatch.SearchRadiusKM)
	assert.Equal(t, 3, cfg.Dispatch.MaxOffersPerRide)
	assert.Equal(t, 45*time.Second, cfg.Dispatch.HeartbeatTTL)
}

func TestLoadFromFileValidation(t *testing.T) {
	path := writeConfig(t, `
database:
  user: dispatch
  database: ride_dispatch
`)
	_, err := LoadFromFile(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "jwt.secret_key is required")

	path = writeConfig(t, `
database:
  password: secret
jwt:
  secret_key: dev-secret
`)
	_, err = LoadFromFile(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "database.user is required")

	path = writeConfig(t, `
database:
  user: dispatch
  database: ride_dispatch
jwt:
  secret_key: dev-secret
dispatch:
  offer_window: 100ms
`)
	_, err = LoadFromFile(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "offer_window")
}

func TestLoadFromFileMissingOrBroken(t *testing.T) {
	_, err := LoadFromFile(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)

	path := writeConfig(t, "database: [not, a, map]")
	_, err = LoadFromFile(path)
	assert.Error(t, err)
}
