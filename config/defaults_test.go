package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultConfig_ContainsAllSubConfigs(t *testing.T) {
	cfg := DefaultConfig()
	require.NotNil(t, cfg)

	assert.NotEqual(t, StoreConfig{}, cfg.Store)
	assert.NotEqual(t, RedisConfig{}, cfg.Redis)
	assert.NotEqual(t, DatabaseConfig{}, cfg.Database)
	assert.NotEqual(t, RunnerConfig{}, cfg.Runner)
	assert.NotEqual(t, TransportConfig{}, cfg.Transport)
	assert.NotEqual(t, CatalogConfig{}, cfg.Catalog)
	assert.NotEqual(t, LogConfig{}, cfg.Log)
	assert.NotEqual(t, TelemetryConfig{}, cfg.Telemetry)
}

func TestDefaultServerConfig(t *testing.T) {
	cfg := DefaultServerConfig()
	assert.Equal(t, 8080, cfg.HTTPPort)
	assert.Equal(t, 9091, cfg.MetricsPort)
	assert.Equal(t, 30*time.Second, cfg.ReadTimeout)
	assert.Equal(t, 15*time.Second, cfg.ShutdownTimeout)
	assert.Equal(t, 100, cfg.RateLimitRPS)
	assert.Equal(t, 200, cfg.RateLimitBurst)
	assert.Empty(t, cfg.APIKeys)
	assert.False(t, cfg.JWT.Enabled())
}

func TestDefaultStoreConfig(t *testing.T) {
	cfg := DefaultStoreConfig()
	assert.Equal(t, "memory", cfg.Backend)
	assert.Equal(t, "workflows", cfg.MongoCollection)
	assert.False(t, cfg.Cache)
	assert.Equal(t, 5*time.Minute, cfg.CacheTTL)
}

func TestDefaultTransportConfig(t *testing.T) {
	cfg := DefaultTransportConfig()
	assert.Equal(t, "memory", cfg.EventLog)
	assert.Equal(t, 5, cfg.MaxReconnects)
	assert.Equal(t, time.Second, cfg.ReconnectInterval)
	assert.Equal(t, int64(1<<20), cfg.ReadLimit)
}

func TestDefaultDatabaseConfig(t *testing.T) {
	cfg := DefaultDatabaseConfig()
	assert.Equal(t, "postgres", cfg.Driver)
	assert.Equal(t, 5432, cfg.Port)
	assert.Equal(t, "flowcanvas", cfg.Name)
	assert.Equal(t, 25, cfg.MaxOpenConns)
}

func TestDefaultLogAndTelemetry(t *testing.T) {
	logCfg := DefaultLogConfig()
	assert.Equal(t, "info", logCfg.Level)
	assert.Equal(t, "json", logCfg.Format)
	assert.Equal(t, []string{"stdout"}, logCfg.OutputPaths)

	tel := DefaultTelemetryConfig()
	assert.False(t, tel.Enabled)
	assert.Equal(t, "flowcanvas", tel.ServiceName)
}
