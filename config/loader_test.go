// 配置加载器测试。
package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// --- Loader 测试 ---

func TestLoader_LoadDefaults(t *testing.T) {
	cfg, err := NewLoader().Load()
	require.NoError(t, err)
	require.NotNil(t, cfg)

	assert.Equal(t, 8080, cfg.Server.HTTPPort)
	assert.Equal(t, "memory", cfg.Store.Backend)
	assert.NoError(t, cfg.Validate())
}

func TestLoader_LoadFromYAML(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "config.yaml")

	yamlContent := `
server:
  http_port: 8888
  read_timeout: 60s
  api_keys: ["k1", "k2"]
  jwt:
    secret: "s3cret"
    issuer: "flowcanvas"

store:
  backend: redis
  cache: true
  cache_ttl: 1m

redis:
  addr: "redis.example.com:6379"
  password: "secret"
  db: 1
  tls:
    enabled: true
    server_name: redis.example.com

runner:
  endpoint: "https://runner.example.com/runs"
  timeout: 10s

transport:
  event_log: redis
  max_reconnects: 3

catalog:
  dir: /etc/flowcanvas
  strict: true

log:
  level: "debug"
  format: "console"
`
	require.NoError(t, os.WriteFile(configPath, []byte(yamlContent), 0644))

	cfg, err := NewLoader().WithConfigPath(configPath).Load()
	require.NoError(t, err)

	assert.Equal(t, 8888, cfg.Server.HTTPPort)
	assert.Equal(t, 60*time.Second, cfg.Server.ReadTimeout)
	assert.Equal(t, []string{"k1", "k2"}, cfg.Server.APIKeys)
	assert.True(t, cfg.Server.JWT.Enabled())
	assert.Equal(t, "flowcanvas", cfg.Server.JWT.Issuer)

	assert.Equal(t, "redis", cfg.Store.Backend)
	assert.True(t, cfg.Store.Cache)
	assert.Equal(t, time.Minute, cfg.Store.CacheTTL)
	assert.Equal(t, "flowcanvas:", cfg.Store.KeyPrefix, "unset keys keep defaults")

	assert.Equal(t, "redis.example.com:6379", cfg.Redis.Addr)
	assert.Equal(t, 1, cfg.Redis.DB)
	assert.True(t, cfg.Redis.TLS.Enabled)
	assert.Equal(t, "redis.example.com", cfg.Redis.TLS.ServerName)

	assert.Equal(t, "https://runner.example.com/runs", cfg.Runner.Endpoint)
	assert.Equal(t, 10*time.Second, cfg.Runner.Timeout)
	assert.Equal(t, "redis", cfg.Transport.EventLog)
	assert.Equal(t, 3, cfg.Transport.MaxReconnects)
	assert.Equal(t, "/etc/flowcanvas", cfg.Catalog.Dir)
	assert.True(t, cfg.Catalog.Strict)

	assert.Equal(t, "debug", cfg.Log.Level)
	assert.Equal(t, "console", cfg.Log.Format)
	assert.True(t, cfg.NeedsRedis())
	assert.NoError(t, cfg.Validate())
}

func TestLoader_LoadFromEnv(t *testing.T) {
	t.Setenv("FLOWCANVAS_SERVER_HTTP_PORT", "7777")
	t.Setenv("FLOWCANVAS_SERVER_CORS_ALLOWED_ORIGINS", "https://a.example, https://b.example,")
	t.Setenv("FLOWCANVAS_STORE_BACKEND", "file")
	t.Setenv("FLOWCANVAS_STORE_DIR", "/var/lib/flowcanvas")
	t.Setenv("FLOWCANVAS_REDIS_TLS_INSECURE_SKIP_VERIFY", "true")
	t.Setenv("FLOWCANVAS_TRANSPORT_RECONNECT_INTERVAL", "250ms")
	t.Setenv("FLOWCANVAS_TELEMETRY_SAMPLE_RATE", "0.5")

	cfg, err := NewLoader().Load()
	require.NoError(t, err)

	assert.Equal(t, 7777, cfg.Server.HTTPPort)
	assert.Equal(t, []string{"https://a.example", "https://b.example"}, cfg.Server.CORSAllowedOrigins)
	assert.Equal(t, "file", cfg.Store.Backend)
	assert.Equal(t, "/var/lib/flowcanvas", cfg.Store.Dir)
	assert.True(t, cfg.Redis.TLS.InsecureSkipVerify)
	assert.Equal(t, 250*time.Millisecond, cfg.Transport.ReconnectInterval)
	assert.InDelta(t, 0.5, cfg.Telemetry.SampleRate, 1e-9)
	assert.False(t, cfg.NeedsRedis())
}

func TestLoader_EnvOverridesYAML(t *testing.T) {
	configPath := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(configPath, []byte("server:\n  http_port: 8888\n"), 0644))

	t.Setenv("FLOWCANVAS_SERVER_HTTP_PORT", "9999")

	cfg, err := NewLoader().WithConfigPath(configPath).Load()
	require.NoError(t, err)
	assert.Equal(t, 9999, cfg.Server.HTTPPort)
}

func TestLoader_CustomEnvPrefix(t *testing.T) {
	t.Setenv("MYAPP_SERVER_HTTP_PORT", "6666")

	cfg, err := NewLoader().WithEnvPrefix("MYAPP").Load()
	require.NoError(t, err)
	assert.Equal(t, 6666, cfg.Server.HTTPPort)
}

func TestLoader_InvalidEnvValue(t *testing.T) {
	t.Setenv("FLOWCANVAS_SERVER_READ_TIMEOUT", "soon")

	_, err := NewLoader().Load()
	assert.Error(t, err)
}

func TestLoader_WithValidator(t *testing.T) {
	t.Setenv("FLOWCANVAS_STORE_BACKEND", "etcd")

	_, err := NewLoader().WithValidator((*Config).Validate).Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unsupported store backend")
}

func TestLoader_NonExistentFile(t *testing.T) {
	cfg, err := NewLoader().WithConfigPath("/nonexistent/config.yaml").Load()
	require.NoError(t, err)
	assert.Equal(t, 8080, cfg.Server.HTTPPort)
}

func TestLoader_InvalidYAML(t *testing.T) {
	configPath := filepath.Join(t.TempDir(), "invalid.yaml")
	require.NoError(t, os.WriteFile(configPath, []byte("server:\n  http_port: [oops\n"), 0644))

	_, err := NewLoader().WithConfigPath(configPath).Load()
	assert.Error(t, err)
}

// --- 验证测试 ---

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name    string
		modify  func(*Config)
		wantErr bool
	}{
		{name: "valid default config", modify: func(c *Config) {}},
		{name: "invalid HTTP port", modify: func(c *Config) { c.Server.HTTPPort = 70000 }, wantErr: true},
		{name: "negative rate limit", modify: func(c *Config) { c.Server.RateLimitRPS = -1 }, wantErr: true},
		{name: "cert without key", modify: func(c *Config) { c.Server.TLSCertFile = "cert.pem" }, wantErr: true},
		{name: "unknown backend", modify: func(c *Config) { c.Store.Backend = "etcd" }, wantErr: true},
		{name: "file backend without dir", modify: func(c *Config) {
			c.Store.Backend = "file"
			c.Store.Dir = ""
		}, wantErr: true},
		{name: "mongo backend without uri", modify: func(c *Config) { c.Store.Backend = "mongo" }, wantErr: true},
		{name: "sql backend with unknown driver", modify: func(c *Config) {
			c.Store.Backend = "sql"
			c.Database.Driver = "oracle"
		}, wantErr: true},
		{name: "sql backend on sqlite", modify: func(c *Config) {
			c.Store.Backend = "sql"
			c.Database.Driver = "sqlite"
		}},
		{name: "unknown event log", modify: func(c *Config) { c.Transport.EventLog = "kafka" }, wantErr: true},
		{name: "negative reconnects", modify: func(c *Config) { c.Transport.MaxReconnects = -1 }, wantErr: true},
		{name: "sample rate too high", modify: func(c *Config) { c.Telemetry.SampleRate = 2 }, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.modify(cfg)
			err := cfg.Validate()
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestDatabaseConfig_DSN(t *testing.T) {
	base := DatabaseConfig{
		Host: "localhost", Port: 5432, User: "user", Password: "pass", Name: "dbname", SSLMode: "disable",
	}
	tests := []struct {
		driver   string
		dsn      string
		override func(*DatabaseConfig)
	}{
		{
			driver:  "postgres",
			dsn:     "host=localhost port=5432 user=user password=pass dbname=dbname sslmode=disable",
		},
		{
			driver:   "mysql",
			dsn:      "user:pass@tcp(localhost:3306)/dbname?parseTime=true",
			override: func(d *DatabaseConfig) { d.Port = 3306 },
		},
		{
			driver:   "sqlite",
			dsn:      "/tmp/flowcanvas.db",
			override: func(d *DatabaseConfig) { d.Name = "/tmp/flowcanvas.db" },
		},
		{driver: "oracle"},
	}

	for _, tt := range tests {
		t.Run(tt.driver, func(t *testing.T) {
			cfg := base
			cfg.Driver = tt.driver
			if tt.override != nil {
				tt.override(&cfg)
			}
			assert.Equal(t, tt.dsn, cfg.DSN())
		})
	}
}

func TestMustLoad(t *testing.T) {
	configPath := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(configPath, []byte("server:\n  http_port: 8081\n"), 0644))

	cfg := MustLoad(configPath)
	assert.Equal(t, 8081, cfg.Server.HTTPPort)

	bad := filepath.Join(t.TempDir(), "bad.yaml")
	require.NoError(t, os.WriteFile(bad, []byte("store:\n  backend: etcd\n"), 0644))
	assert.Panics(t, func() { MustLoad(bad) })
}
