// =============================================================================
// 📦 FlowCanvas 配置加载器
// =============================================================================
// 统一配置加载，支持 YAML 文件 + 环境变量覆盖
//
// 使用方法:
//
//	cfg, err := config.NewLoader().
//	    WithConfigPath("config.yaml").
//	    WithEnvPrefix("FLOWCANVAS").
//	    Load()
//
// 配置优先级: 默认值 → YAML 文件 → 环境变量 → 验证器
// =============================================================================
package config

import (
	"fmt"
	"os"
	"reflect"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/BaSui01/flowcanvas/internal/tlsutil"
)

// =============================================================================
// 🎯 核心配置结构
// =============================================================================

// Config 是 FlowCanvas 的完整配置结构
type Config struct {
	// Server HTTP 服务配置
	Server ServerConfig `yaml:"server" env:"SERVER"`

	// Store 工作流存储配置
	Store StoreConfig `yaml:"store" env:"STORE"`

	// Redis 连接配置（Redis 存储、缓存、事件流共用）
	Redis RedisConfig `yaml:"redis" env:"REDIS"`

	// Database SQL 存储配置
	Database DatabaseConfig `yaml:"database" env:"DATABASE"`

	// Runner 外部执行端配置
	Runner RunnerConfig `yaml:"runner" env:"RUNNER"`

	// Transport 事件传输配置
	Transport TransportConfig `yaml:"transport" env:"TRANSPORT"`

	// Catalog agent/tool 目录配置
	Catalog CatalogConfig `yaml:"catalog" env:"CATALOG"`

	// Log 日志配置
	Log LogConfig `yaml:"log" env:"LOG"`

	// Telemetry 遥测配置
	Telemetry TelemetryConfig `yaml:"telemetry" env:"TELEMETRY"`
}

// ServerConfig 服务器配置
type ServerConfig struct {
	// HTTP 端口
	HTTPPort int `yaml:"http_port" env:"HTTP_PORT"`
	// Metrics 端口，0 表示不单独暴露
	MetricsPort int `yaml:"metrics_port" env:"METRICS_PORT"`
	// 对外地址，用于生成事件回传与流地址
	PublicURL string `yaml:"public_url" env:"PUBLIC_URL"`
	// 读取超时
	ReadTimeout time.Duration `yaml:"read_timeout" env:"READ_TIMEOUT"`
	// 写入超时
	WriteTimeout time.Duration `yaml:"write_timeout" env:"WRITE_TIMEOUT"`
	// 优雅关闭超时
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout" env:"SHUTDOWN_TIMEOUT"`
	// 每个客户端每秒请求数，0 表示不限流
	RateLimitRPS int `yaml:"rate_limit_rps" env:"RATE_LIMIT_RPS"`
	// 限流突发量
	RateLimitBurst int `yaml:"rate_limit_burst" env:"RATE_LIMIT_BURST"`
	// CORS 允许的来源
	CORSAllowedOrigins []string `yaml:"cors_allowed_origins" env:"CORS_ALLOWED_ORIGINS"`
	// API Key 列表，为空且未配置 JWT 时不做鉴权
	APIKeys []string `yaml:"api_keys" env:"API_KEYS"`
	// JWT 鉴权
	JWT JWTConfig `yaml:"jwt" env:"JWT"`
	// HTTPS 证书
	TLSCertFile string `yaml:"tls_cert_file" env:"TLS_CERT_FILE"`
	TLSKeyFile  string `yaml:"tls_key_file" env:"TLS_KEY_FILE"`
}

// JWTConfig JWT 鉴权配置（HS256）
type JWTConfig struct {
	Secret   string `yaml:"secret" env:"SECRET"`
	Issuer   string `yaml:"issuer" env:"ISSUER"`
	Audience string `yaml:"audience" env:"AUDIENCE"`
}

// Enabled 是否启用 JWT 鉴权
func (j JWTConfig) Enabled() bool { return j.Secret != "" }

// StoreConfig 工作流存储配置
type StoreConfig struct {
	// 后端: memory, file, redis, sql, mongo
	Backend string `yaml:"backend" env:"BACKEND"`
	// file 后端目录
	Dir string `yaml:"dir" env:"DIR"`
	// redis 后端键前缀
	KeyPrefix string `yaml:"key_prefix" env:"KEY_PREFIX"`
	// sql 后端启动时自动建表（生产环境建议使用 migrate 命令）
	AutoMigrate bool `yaml:"auto_migrate" env:"AUTO_MIGRATE"`
	// mongo 后端
	MongoURI        string `yaml:"mongo_uri" env:"MONGO_URI"`
	MongoDatabase   string `yaml:"mongo_database" env:"MONGO_DATABASE"`
	MongoCollection string `yaml:"mongo_collection" env:"MONGO_COLLECTION"`
	// 是否在存储前加 Redis 读缓存
	Cache bool `yaml:"cache" env:"CACHE"`
	// 缓存过期时间
	CacheTTL time.Duration `yaml:"cache_ttl" env:"CACHE_TTL"`
}

// RedisConfig Redis 配置
type RedisConfig struct {
	// 地址
	Addr string `yaml:"addr" env:"ADDR"`
	// 密码
	Password string `yaml:"password" env:"PASSWORD"`
	// 数据库编号
	DB int `yaml:"db" env:"DB"`
	// 连接池大小
	PoolSize int `yaml:"pool_size" env:"POOL_SIZE"`
	// 最小空闲连接
	MinIdleConns int `yaml:"min_idle_conns" env:"MIN_IDLE_CONNS"`
	// TLS
	TLS tlsutil.Options `yaml:"tls" env:"TLS"`
}

// DatabaseConfig 数据库配置
type DatabaseConfig struct {
	// 驱动类型: postgres, mysql, sqlite
	Driver string `yaml:"driver" env:"DRIVER"`
	// 主机
	Host string `yaml:"host" env:"HOST"`
	// 端口
	Port int `yaml:"port" env:"PORT"`
	// 用户名
	User string `yaml:"user" env:"USER"`
	// 密码
	Password string `yaml:"password" env:"PASSWORD"`
	// 数据库名，sqlite 时为文件路径
	Name string `yaml:"name" env:"NAME"`
	// SSL 模式
	SSLMode string `yaml:"ssl_mode" env:"SSL_MODE"`
	// 最大连接数
	MaxOpenConns int `yaml:"max_open_conns" env:"MAX_OPEN_CONNS"`
	// 最大空闲连接
	MaxIdleConns int `yaml:"max_idle_conns" env:"MAX_IDLE_CONNS"`
	// 连接最大生命周期
	ConnMaxLifetime time.Duration `yaml:"conn_max_lifetime" env:"CONN_MAX_LIFETIME"`
	// 连接最大空闲时间
	ConnMaxIdleTime time.Duration `yaml:"conn_max_idle_time" env:"CONN_MAX_IDLE_TIME"`
}

// RunnerConfig 外部执行端配置，Endpoint 为空时使用本地回环
type RunnerConfig struct {
	Endpoint string          `yaml:"endpoint" env:"ENDPOINT"`
	APIKey   string          `yaml:"api_key" env:"API_KEY"`
	Timeout  time.Duration   `yaml:"timeout" env:"TIMEOUT"`
	TLS      tlsutil.Options `yaml:"tls" env:"TLS"`
}

// TransportConfig 事件传输配置
type TransportConfig struct {
	// 事件日志: memory, redis
	EventLog string `yaml:"event_log" env:"EVENT_LOG"`
	// Redis Stream 阻塞读超时
	BlockTimeout time.Duration `yaml:"block_timeout" env:"BLOCK_TIMEOUT"`
	// 断线重连次数上限
	MaxReconnects int `yaml:"max_reconnects" env:"MAX_RECONNECTS"`
	// 重连间隔
	ReconnectInterval time.Duration `yaml:"reconnect_interval" env:"RECONNECT_INTERVAL"`
	// 单条 WebSocket 消息大小上限
	ReadLimit int64 `yaml:"read_limit" env:"READ_LIMIT"`
}

// CatalogConfig agent/tool 定义目录
type CatalogConfig struct {
	// 包含 agents/ 与 tools/ 子目录的根目录，为空则不加载
	Dir string `yaml:"dir" env:"DIR"`
	// 目录轮询间隔，0 表示不监听变更
	ReloadInterval time.Duration `yaml:"reload_interval" env:"RELOAD_INTERVAL"`
	// 编译时是否校验引用
	Strict bool `yaml:"strict" env:"STRICT"`
}

// LogConfig 日志配置
type LogConfig struct {
	// 日志级别: debug, info, warn, error
	Level string `yaml:"level" env:"LEVEL"`
	// 输出格式: json, console
	Format string `yaml:"format" env:"FORMAT"`
	// 输出路径
	OutputPaths []string `yaml:"output_paths" env:"OUTPUT_PATHS"`
	// 是否启用调用者信息
	EnableCaller bool `yaml:"enable_caller" env:"ENABLE_CALLER"`
	// 是否启用堆栈跟踪
	EnableStacktrace bool `yaml:"enable_stacktrace" env:"ENABLE_STACKTRACE"`
}

// TelemetryConfig 遥测配置
type TelemetryConfig struct {
	// 是否启用
	Enabled bool `yaml:"enabled" env:"ENABLED"`
	// OTLP 端点
	OTLPEndpoint string `yaml:"otlp_endpoint" env:"OTLP_ENDPOINT"`
	// 服务名称
	ServiceName string `yaml:"service_name" env:"SERVICE_NAME"`
	// 采样率
	SampleRate float64 `yaml:"sample_rate" env:"SAMPLE_RATE"`
}

// =============================================================================
// 🔧 配置加载器
// =============================================================================

// Loader 配置加载器（Builder 模式）
type Loader struct {
	configPath string
	envPrefix  string
	validators []func(*Config) error
}

// NewLoader 创建新的配置加载器
func NewLoader() *Loader {
	return &Loader{
		envPrefix:  "FLOWCANVAS",
		validators: make([]func(*Config) error, 0),
	}
}

// WithConfigPath 设置配置文件路径
func (l *Loader) WithConfigPath(path string) *Loader {
	l.configPath = path
	return l
}

// WithEnvPrefix 设置环境变量前缀
func (l *Loader) WithEnvPrefix(prefix string) *Loader {
	l.envPrefix = prefix
	return l
}

// WithValidator 添加配置验证器
func (l *Loader) WithValidator(v func(*Config) error) *Loader {
	l.validators = append(l.validators, v)
	return l
}

// Load 加载配置
// 优先级: 默认值 → YAML 文件 → 环境变量
func (l *Loader) Load() (*Config, error) {
	cfg := DefaultConfig()

	if l.configPath != "" {
		if err := l.loadFromFile(cfg); err != nil {
			return nil, fmt.Errorf("failed to load config from file: %w", err)
		}
	}

	if err := l.loadFromEnv(cfg); err != nil {
		return nil, fmt.Errorf("failed to load config from env: %w", err)
	}

	for _, v := range l.validators {
		if err := v(cfg); err != nil {
			return nil, fmt.Errorf("config validation failed: %w", err)
		}
	}

	return cfg, nil
}

// loadFromFile 从 YAML 文件加载配置
func (l *Loader) loadFromFile(cfg *Config) error {
	data, err := os.ReadFile(l.configPath)
	if err != nil {
		if os.IsNotExist(err) {
			// 文件不存在，使用默认值
			return nil
		}
		return fmt.Errorf("failed to read config file: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("failed to parse config file: %w", err)
	}

	return nil
}

// loadFromEnv 从环境变量加载配置
func (l *Loader) loadFromEnv(cfg *Config) error {
	return l.setFieldsFromEnv(reflect.ValueOf(cfg).Elem(), l.envPrefix)
}

// setFieldsFromEnv 递归设置结构体字段
func (l *Loader) setFieldsFromEnv(v reflect.Value, prefix string) error {
	t := v.Type()

	for i := 0; i < v.NumField(); i++ {
		field := v.Field(i)
		fieldType := t.Field(i)

		envTag := fieldType.Tag.Get("env")
		if envTag == "" || envTag == "-" {
			continue
		}

		envKey := prefix + "_" + envTag

		if field.Kind() == reflect.Struct {
			if err := l.setFieldsFromEnv(field, envKey); err != nil {
				return err
			}
			continue
		}

		envValue := os.Getenv(envKey)
		if envValue == "" {
			continue
		}

		if err := setFieldValue(field, envValue); err != nil {
			return fmt.Errorf("failed to set %s: %w", envKey, err)
		}
	}

	return nil
}

// setFieldValue 设置字段值
func setFieldValue(field reflect.Value, value string) error {
	if !field.CanSet() {
		return nil
	}

	switch field.Kind() {
	case reflect.String:
		field.SetString(value)

	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		// 特殊处理 time.Duration
		if field.Type() == reflect.TypeOf(time.Duration(0)) {
			d, err := time.ParseDuration(value)
			if err != nil {
				return err
			}
			field.SetInt(int64(d))
		} else {
			i, err := strconv.ParseInt(value, 10, 64)
			if err != nil {
				return err
			}
			field.SetInt(i)
		}

	case reflect.Float32, reflect.Float64:
		f, err := strconv.ParseFloat(value, 64)
		if err != nil {
			return err
		}
		field.SetFloat(f)

	case reflect.Bool:
		b, err := strconv.ParseBool(value)
		if err != nil {
			return err
		}
		field.SetBool(b)

	case reflect.Slice:
		// 支持逗号分隔的字符串切片
		if field.Type().Elem().Kind() == reflect.String {
			parts := strings.Split(value, ",")
			out := parts[:0]
			for _, p := range parts {
				if p = strings.TrimSpace(p); p != "" {
					out = append(out, p)
				}
			}
			field.Set(reflect.ValueOf(out))
		}
	}

	return nil
}

// =============================================================================
// 🔍 辅助函数
// =============================================================================

// MustLoad 加载配置，失败时 panic
func MustLoad(path string) *Config {
	cfg, err := NewLoader().WithConfigPath(path).WithValidator((*Config).Validate).Load()
	if err != nil {
		panic(fmt.Sprintf("failed to load config: %v", err))
	}
	return cfg
}

// LoadFromEnv 仅从环境变量加载配置
func LoadFromEnv() (*Config, error) {
	return NewLoader().Load()
}

var (
	storeBackends = []string{"memory", "file", "redis", "sql", "mongo"}
	eventLogs     = []string{"memory", "redis"}
	dbDrivers     = []string{"postgres", "mysql", "sqlite"}
)

func oneOf(v string, allowed []string) bool {
	for _, a := range allowed {
		if v == a {
			return true
		}
	}
	return false
}

// Validate 验证配置
func (c *Config) Validate() error {
	var errs []string

	if c.Server.HTTPPort <= 0 || c.Server.HTTPPort > 65535 {
		errs = append(errs, "invalid HTTP port")
	}
	if c.Server.MetricsPort < 0 || c.Server.MetricsPort > 65535 {
		errs = append(errs, "invalid metrics port")
	}
	if c.Server.RateLimitRPS < 0 {
		errs = append(errs, "rate_limit_rps must not be negative")
	}
	if (c.Server.TLSCertFile == "") != (c.Server.TLSKeyFile == "") {
		errs = append(errs, "tls_cert_file and tls_key_file must be set together")
	}

	if !oneOf(c.Store.Backend, storeBackends) {
		errs = append(errs, fmt.Sprintf("unsupported store backend %q", c.Store.Backend))
	}
	if c.Store.Backend == "file" && c.Store.Dir == "" {
		errs = append(errs, "store.dir is required for the file backend")
	}
	if c.Store.Backend == "mongo" && c.Store.MongoURI == "" {
		errs = append(errs, "store.mongo_uri is required for the mongo backend")
	}
	if c.Store.Backend == "sql" && !oneOf(c.Database.Driver, dbDrivers) {
		errs = append(errs, fmt.Sprintf("unsupported database driver %q", c.Database.Driver))
	}

	if !oneOf(c.Transport.EventLog, eventLogs) {
		errs = append(errs, fmt.Sprintf("unsupported event log %q", c.Transport.EventLog))
	}
	if c.Transport.MaxReconnects < 0 {
		errs = append(errs, "max_reconnects must not be negative")
	}

	if c.Telemetry.SampleRate < 0 || c.Telemetry.SampleRate > 1 {
		errs = append(errs, "sample_rate must be between 0 and 1")
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation errors: %s", strings.Join(errs, "; "))
	}

	return nil
}

// NeedsRedis 是否有组件依赖 Redis 连接
func (c *Config) NeedsRedis() bool {
	return c.Store.Backend == "redis" || c.Store.Cache || c.Transport.EventLog == "redis"
}

// DSN 返回数据库连接字符串
func (d *DatabaseConfig) DSN() string {
	switch d.Driver {
	case "postgres":
		return fmt.Sprintf(
			"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
			d.Host, d.Port, d.User, d.Password, d.Name, d.SSLMode,
		)
	case "mysql":
		return fmt.Sprintf(
			"%s:%s@tcp(%s:%d)/%s?parseTime=true",
			d.User, d.Password, d.Host, d.Port, d.Name,
		)
	case "sqlite":
		return d.Name
	default:
		return ""
	}
}
