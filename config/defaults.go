// =============================================================================
// 📦 FlowCanvas 默认配置
// =============================================================================
// 提供所有配置项的合理默认值
// =============================================================================
package config

import "time"

// DefaultConfig 返回默认配置
func DefaultConfig() *Config {
	return &Config{
		Server:    DefaultServerConfig(),
		Store:     DefaultStoreConfig(),
		Redis:     DefaultRedisConfig(),
		Database:  DefaultDatabaseConfig(),
		Runner:    DefaultRunnerConfig(),
		Transport: DefaultTransportConfig(),
		Catalog:   DefaultCatalogConfig(),
		Log:       DefaultLogConfig(),
		Telemetry: DefaultTelemetryConfig(),
	}
}

// DefaultServerConfig 返回默认服务器配置
func DefaultServerConfig() ServerConfig {
	return ServerConfig{
		HTTPPort:           8080,
		MetricsPort:        9091,
		ReadTimeout:        30 * time.Second,
		WriteTimeout:       30 * time.Second,
		ShutdownTimeout:    15 * time.Second,
		RateLimitRPS:       100,
		RateLimitBurst:     200,
		CORSAllowedOrigins: []string{"*"},
	}
}

// DefaultStoreConfig 返回默认存储配置
func DefaultStoreConfig() StoreConfig {
	return StoreConfig{
		Backend:         "memory",
		Dir:             "./data/workflows",
		KeyPrefix:       "flowcanvas:",
		MongoDatabase:   "flowcanvas",
		MongoCollection: "workflows",
		CacheTTL:        5 * time.Minute,
	}
}

// DefaultRedisConfig 返回默认 Redis 配置
func DefaultRedisConfig() RedisConfig {
	return RedisConfig{
		Addr:         "localhost:6379",
		Password:     "",
		DB:           0,
		PoolSize:     10,
		MinIdleConns: 2,
	}
}

// DefaultDatabaseConfig 返回默认数据库配置
func DefaultDatabaseConfig() DatabaseConfig {
	return DatabaseConfig{
		Driver:          "postgres",
		Host:            "localhost",
		Port:            5432,
		User:            "flowcanvas",
		Password:        "",
		Name:            "flowcanvas",
		SSLMode:         "disable",
		MaxOpenConns:    25,
		MaxIdleConns:    5,
		ConnMaxLifetime: 5 * time.Minute,
		ConnMaxIdleTime: 10 * time.Minute,
	}
}

// DefaultRunnerConfig 返回默认执行端配置
func DefaultRunnerConfig() RunnerConfig {
	return RunnerConfig{
		Timeout: 30 * time.Second,
	}
}

// DefaultTransportConfig 返回默认事件传输配置
func DefaultTransportConfig() TransportConfig {
	return TransportConfig{
		EventLog:          "memory",
		BlockTimeout:      time.Second,
		MaxReconnects:     5,
		ReconnectInterval: time.Second,
		ReadLimit:         1 << 20,
	}
}

// DefaultCatalogConfig 返回默认目录配置
func DefaultCatalogConfig() CatalogConfig {
	return CatalogConfig{
		Dir:            "./config",
		ReloadInterval: 5 * time.Second,
	}
}

// DefaultLogConfig 返回默认日志配置
func DefaultLogConfig() LogConfig {
	return LogConfig{
		Level:            "info",
		Format:           "json",
		OutputPaths:      []string{"stdout"},
		EnableCaller:     true,
		EnableStacktrace: false,
	}
}

// DefaultTelemetryConfig 返回默认遥测配置
func DefaultTelemetryConfig() TelemetryConfig {
	return TelemetryConfig{
		Enabled:      false,
		OTLPEndpoint: "localhost:4317",
		ServiceName:  "flowcanvas",
		SampleRate:   0.1,
	}
}
