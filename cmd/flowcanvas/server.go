package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/BaSui01/flowcanvas/api/handlers"
	"github.com/BaSui01/flowcanvas/config"
	"github.com/BaSui01/flowcanvas/internal/cache"
	"github.com/BaSui01/flowcanvas/internal/database"
	"github.com/BaSui01/flowcanvas/internal/metrics"
	"github.com/BaSui01/flowcanvas/internal/server"
	"github.com/BaSui01/flowcanvas/internal/telemetry"
	"github.com/BaSui01/flowcanvas/internal/tlsutil"
	"github.com/BaSui01/flowcanvas/workflow"
	"github.com/BaSui01/flowcanvas/workflow/catalog"
	"github.com/BaSui01/flowcanvas/workflow/execution"
	"github.com/BaSui01/flowcanvas/workflow/invoker"
	"github.com/BaSui01/flowcanvas/workflow/persistence"
	"github.com/BaSui01/flowcanvas/workflow/transport"
)

// skipAuthPaths 不需要鉴权的端点
var skipAuthPaths = []string{"/health", "/healthz", "/ready", "/readyz", "/version", "/metrics"}

// =============================================================================
// 🖥️ Server 结构
// =============================================================================

// Server 是 FlowCanvas 的主服务器，负责组装存储、事件日志、目录与 API
type Server struct {
	cfg    *config.Config
	logger *zap.Logger

	// 服务器管理器
	httpManager    *server.Manager
	metricsManager *server.Manager

	// 可观测性
	registry         *prometheus.Registry
	metricsCollector *metrics.Collector
	otelProviders    *telemetry.Providers

	// 连接（由 Server 持有并关闭）
	redis redis.UniversalClient
	db    *database.PoolManager
	mongo *mongo.Client
	cache *cache.Manager

	store    persistence.Store
	events   transport.EventLog
	catalog  *catalog.Registry
	watcher  *catalog.Watcher
	compiler *workflow.Compiler
	invoker  workflow.Invoker

	// Handlers
	healthHandler    *handlers.HealthHandler
	graphsHandler    *handlers.GraphsHandler
	workflowsHandler *handlers.WorkflowsHandler
	runsHandler      *handlers.RunsHandler
	catalogHandler   *handlers.CatalogHandler

	rateLimiterCancel context.CancelFunc
}

// NewServer 创建新的服务器实例
func NewServer(cfg *config.Config, logger *zap.Logger) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Server{
		cfg:    cfg,
		logger: logger,
	}
}

// =============================================================================
// 🚀 初始化流程
// =============================================================================

// Init 建立所有依赖。出错时已建立的连接由 Close 释放。
func (s *Server) Init(ctx context.Context) error {
	s.initMetrics()

	if err := s.initTelemetry(ctx); err != nil {
		return err
	}
	if s.cfg.NeedsRedis() {
		if err := s.initRedis(ctx); err != nil {
			return fmt.Errorf("failed to init redis: %w", err)
		}
	}
	if err := s.initStore(ctx); err != nil {
		return fmt.Errorf("failed to init store: %w", err)
	}
	if err := s.initCatalog(); err != nil {
		return fmt.Errorf("failed to init catalog: %w", err)
	}
	if err := s.initInvoker(); err != nil {
		return fmt.Errorf("failed to init invoker: %w", err)
	}
	s.initEventLog()
	s.initHandlers()

	s.logger.Info("Server initialized",
		zap.String("store", s.cfg.Store.Backend),
		zap.Bool("store_cache", s.cache != nil),
		zap.String("event_log", s.cfg.Transport.EventLog),
		zap.Int("catalog_refs", s.catalog.Len()),
		zap.Bool("remote_runner", s.cfg.Runner.Endpoint != ""),
	)
	return nil
}

// initMetrics 使用独立 Registry，避免多实例重复注册
func (s *Server) initMetrics() {
	s.registry = prometheus.NewRegistry()
	s.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	s.metricsCollector = metrics.NewCollectorWithRegistry("flowcanvas", s.registry, s.logger)
}

func (s *Server) initTelemetry(ctx context.Context) error {
	p, err := telemetry.Init(ctx, s.cfg.Telemetry, s.logger)
	if err != nil {
		// 遥测不可用不阻止启动
		s.logger.Warn("failed to initialize telemetry", zap.Error(err))
		p = &telemetry.Providers{}
	}
	s.otelProviders = p
	return nil
}

func (s *Server) initRedis(ctx context.Context) error {
	rc := s.cfg.Redis
	opts := &redis.Options{
		Addr:         rc.Addr,
		Password:     rc.Password,
		DB:           rc.DB,
		PoolSize:     rc.PoolSize,
		MinIdleConns: rc.MinIdleConns,
	}
	if rc.TLS.Enabled {
		tlsCfg, err := tlsutil.ClientConfig(rc.TLS)
		if err != nil {
			return err
		}
		opts.TLSConfig = tlsCfg
	}
	client := redis.NewClient(opts)

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return err
	}

	s.redis = client
	s.logger.Info("Redis connected", zap.String("addr", rc.Addr))
	return nil
}

func (s *Server) initStore(ctx context.Context) error {
	kind, err := persistence.ParseKind(s.cfg.Store.Backend)
	if err != nil {
		return err
	}

	collector := s.metricsCollector
	opts := persistence.Options{
		Kind:            kind,
		Dir:             s.cfg.Store.Dir,
		Redis:           s.redis,
		KeyPrefix:       s.cfg.Store.KeyPrefix,
		AutoMigrate:     s.cfg.Store.AutoMigrate,
		MongoCollection: s.cfg.Store.MongoCollection,
		Observer: func(backend persistence.Kind, op string, d time.Duration, err error) {
			collector.RecordStoreOp(string(backend), op, d, err)
		},
		Logger: s.logger,
	}

	switch kind {
	case persistence.KindSQL:
		if err := s.openDatabase(); err != nil {
			return err
		}
		opts.DB = s.db.DB()
		opts.Transactor = s.db.WithTransaction
	case persistence.KindMongo:
		client, err := persistence.ConnectMongo(ctx, s.cfg.Store.MongoURI)
		if err != nil {
			return err
		}
		s.mongo = client
		opts.Mongo = client.Database(s.cfg.Store.MongoDatabase)
	}

	if s.cfg.Store.Cache {
		cacheCfg := cache.DefaultConfig()
		cacheCfg.KeyPrefix = s.cfg.Store.KeyPrefix + "cache:"
		cacheCfg.DefaultTTL = s.cfg.Store.CacheTTL
		// Redis 健康由 /ready 检查负责
		cacheCfg.HealthCheckInterval = 0
		s.cache = cache.NewManagerWithClient(s.redis, cacheCfg, s.logger)
		opts.Cache = s.cache
		opts.CacheTTL = s.cfg.Store.CacheTTL
		opts.CacheObserver = func(hit bool) {
			if hit {
				collector.RecordCacheHit("workflow")
			} else {
				collector.RecordCacheMiss("workflow")
			}
		}
	}

	store, err := persistence.New(ctx, opts)
	if err != nil {
		return err
	}
	s.store = store
	return nil
}

// openDatabase 根据配置打开数据库连接
func (s *Server) openDatabase() error {
	dbCfg := s.cfg.Database
	pool := database.DefaultPoolConfig()
	if dbCfg.MaxOpenConns > 0 {
		pool.MaxOpenConns = dbCfg.MaxOpenConns
	}
	if dbCfg.MaxIdleConns > 0 {
		pool.MaxIdleConns = dbCfg.MaxIdleConns
	}
	if dbCfg.ConnMaxLifetime > 0 {
		pool.ConnMaxLifetime = dbCfg.ConnMaxLifetime
	}
	if dbCfg.ConnMaxIdleTime > 0 {
		pool.ConnMaxIdleTime = dbCfg.ConnMaxIdleTime
	}
	if pool.MaxIdleConns > pool.MaxOpenConns {
		pool.MaxIdleConns = pool.MaxOpenConns
	}

	pm, err := database.Open(database.Config{
		Driver: dbCfg.Driver,
		DSN:    dbCfg.DSN(),
		Pool:   pool,
	}, s.logger)
	if err != nil {
		return err
	}
	s.db = pm
	s.logger.Info("Database connected", zap.String("driver", dbCfg.Driver))
	return nil
}

func (s *Server) initCatalog() error {
	s.catalog = catalog.NewRegistry(s.logger)
	dir := s.cfg.Catalog.Dir
	if dir == "" {
		return nil
	}

	n, err := s.catalog.LoadDir(dir)
	if err != nil {
		return err
	}
	s.logger.Info("Catalog loaded", zap.String("dir", dir), zap.Int("files", n))

	if s.cfg.Catalog.ReloadInterval > 0 {
		w, err := catalog.NewWatcher(s.catalog, dir, s.cfg.Catalog.ReloadInterval, s.logger)
		if err != nil {
			return err
		}
		w.OnReload(func(files int, err error) {
			if err != nil {
				s.logger.Warn("catalog reload failed, keeping previous definitions", zap.Error(err))
			}
		})
		s.watcher = w
	}
	return nil
}

// publicURL 返回执行端回传事件使用的地址
func (s *Server) publicURL() string {
	if s.cfg.Server.PublicURL != "" {
		return s.cfg.Server.PublicURL
	}
	return fmt.Sprintf("http://localhost:%d", s.cfg.Server.HTTPPort)
}

func (s *Server) initInvoker() error {
	opts := []workflow.CompilerOption{
		workflow.WithLogger(s.logger),
		workflow.WithObserver(s.metricsCollector.RecordCompile),
		workflow.WithTracer(s.otelProviders.Tracer("flowcanvas/compiler")),
	}
	if s.cfg.Catalog.Strict {
		opts = append(opts, workflow.WithResolver(s.catalog))
	}
	s.compiler = workflow.NewCompiler(opts...)

	rc := s.cfg.Runner
	if rc.Endpoint == "" {
		s.invoker = invoker.NewLoopbackInvoker(s.publicURL(), s.logger)
		return nil
	}

	client, err := tlsutil.HTTPClient(rc.TLS, rc.Timeout)
	if err != nil {
		return err
	}
	s.invoker = invoker.NewHTTPInvoker(rc.Endpoint, rc.Timeout, s.logger,
		invoker.WithHTTPClient(client),
		invoker.WithAPIKey(rc.APIKey),
		invoker.WithPublicURL(s.publicURL()),
	)
	return nil
}

func (s *Server) initEventLog() {
	if s.cfg.Transport.EventLog == "redis" {
		s.events = transport.NewRedisStreamLog(s.redis, s.logger,
			transport.WithKeyPrefix(s.cfg.Store.KeyPrefix+"runs:"),
			transport.WithBlockTimeout(s.cfg.Transport.BlockTimeout),
		)
		return
	}
	s.events = transport.NewMemoryLog()
}

// =============================================================================
// 🔧 Handlers
// =============================================================================

func (s *Server) initHandlers() {
	collector := s.metricsCollector

	s.healthHandler = handlers.NewHealthHandler(Version, s.logger)
	s.healthHandler.RegisterCheck(handlers.NewPingCheck("store", s.store.Ping))
	if s.redis != nil {
		s.healthHandler.RegisterCheck(handlers.NewPingCheck("redis", func(ctx context.Context) error {
			return s.redis.Ping(ctx).Err()
		}))
	}
	if s.db != nil {
		driver := s.cfg.Database.Driver
		s.healthHandler.RegisterCheck(handlers.NewPingCheck("database", func(ctx context.Context) error {
			st := s.db.GetStats()
			collector.RecordDBConnections(driver, st.OpenConnections, st.Idle)
			return s.db.Ping(ctx)
		}).WithDetails(func() any { return s.db.GetStats() }))
	}

	index := handlers.NewRunIndex()
	labeler := s.catalog.Label

	s.graphsHandler = handlers.NewGraphsHandler(s.compiler, s.store, labeler, s.logger)

	s.workflowsHandler = handlers.NewWorkflowsHandler(s.store, s.invoker, index, s.logger)
	s.workflowsHandler.OnRunStart(collector.RecordRunStart)

	s.runsHandler = handlers.NewRunsHandler(s.events, s.store, index, labeler, s.logger)
	s.runsHandler.OnIngest(func(ev execution.Event) {
		collector.RecordIngest(string(ev.Type))
	})
	s.runsHandler.OnOutcome(func(ev execution.Event, out execution.Outcome) {
		collector.RecordEvent(string(ev.Type), string(out.Disposition), out.Reason)
	})
	s.runsHandler.OnSession(collector.SessionOpened, collector.SessionClosed)

	s.catalogHandler = handlers.NewCatalogHandler(s.catalog, s.logger)
}

// Handler 构建 API 路由与中间件链
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	// 健康检查端点
	mux.HandleFunc("GET /health", s.healthHandler.HandleHealth)
	mux.HandleFunc("GET /healthz", s.healthHandler.HandleHealth)
	mux.HandleFunc("GET /ready", s.healthHandler.HandleReady)
	mux.HandleFunc("GET /readyz", s.healthHandler.HandleReady)
	mux.HandleFunc("GET /version", s.healthHandler.HandleVersion(BuildTime, GitCommit))

	// API 路由
	s.graphsHandler.Register(mux)
	s.workflowsHandler.Register(mux)
	s.runsHandler.Register(mux)
	s.catalogHandler.Register(mux)

	// 未单独开放 metrics 端口时挂在 API 上
	if s.cfg.Server.MetricsPort == 0 {
		mux.Handle("GET /metrics", s.metricsHandler())
	}

	var auth Middleware
	switch {
	case s.cfg.Server.JWT.Enabled():
		auth = JWTAuth(s.cfg.Server.JWT, skipAuthPaths, s.logger)
	case len(s.cfg.Server.APIKeys) > 0:
		auth = APIKeyAuth(s.cfg.Server.APIKeys, skipAuthPaths, s.logger)
	default:
		s.logger.Warn("No API keys or JWT secret configured, API is unauthenticated")
	}

	var limiter Middleware
	if s.cfg.Server.RateLimitRPS > 0 {
		if s.rateLimiterCancel != nil {
			s.rateLimiterCancel()
		}
		ctx, cancel := context.WithCancel(context.Background())
		s.rateLimiterCancel = cancel
		limiter = RateLimiter(ctx, float64(s.cfg.Server.RateLimitRPS), s.cfg.Server.RateLimitBurst, s.logger)
	}

	return Chain(mux,
		Recovery(s.logger),
		RequestID(),
		SecurityHeaders(),
		OTelTracing(),
		MetricsMiddleware(s.metricsCollector),
		RequestLogger(s.logger),
		CORS(s.cfg.Server.CORSAllowedOrigins),
		auth,
		limiter,
	)
}

func (s *Server) metricsHandler() http.Handler {
	return promhttp.HandlerFor(s.registry, promhttp.HandlerOpts{Registry: s.registry})
}

// =============================================================================
// 🌐 运行
// =============================================================================

// Run 启动 API、Metrics 服务器与目录监听，阻塞到 ctx 结束或任一服务异常退出
func (s *Server) Run(ctx context.Context) error {
	sc := s.cfg.Server
	s.httpManager = server.NewManager("api", s.Handler(), server.Config{
		Addr:            fmt.Sprintf(":%d", sc.HTTPPort),
		ReadTimeout:     sc.ReadTimeout,
		WriteTimeout:    sc.WriteTimeout,
		IdleTimeout:     2 * sc.ReadTimeout,
		MaxHeaderBytes:  1 << 20, // 1 MB
		ShutdownTimeout: sc.ShutdownTimeout,
		TLSCertFile:     sc.TLSCertFile,
		TLSKeyFile:      sc.TLSKeyFile,
	}, s.logger)

	managers := []*server.Manager{s.httpManager}
	if sc.MetricsPort > 0 {
		mux := http.NewServeMux()
		mux.Handle("GET /metrics", s.metricsHandler())
		s.metricsManager = server.NewManager("metrics", mux, server.Config{
			Addr:            fmt.Sprintf(":%d", sc.MetricsPort),
			ReadTimeout:     sc.ReadTimeout,
			WriteTimeout:    sc.WriteTimeout,
			ShutdownTimeout: sc.ShutdownTimeout,
		}, s.logger)
		managers = append(managers, s.metricsManager)
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return server.RunAll(gctx, managers...) })
	if s.watcher != nil {
		g.Go(func() error { return s.watcher.Run(gctx) })
	}

	s.logger.Info("All servers started",
		zap.Int("http_port", sc.HTTPPort),
		zap.Int("metrics_port", sc.MetricsPort),
		zap.Bool("catalog_watch", s.watcher != nil),
	)
	return g.Wait()
}

// =============================================================================
// 🛑 关闭流程
// =============================================================================

// Close 释放所有连接
func (s *Server) Close() {
	s.logger.Info("Releasing server resources")

	if s.rateLimiterCancel != nil {
		s.rateLimiterCancel()
	}

	var errs []error
	if c, ok := s.events.(io.Closer); ok {
		errs = append(errs, c.Close())
	}
	if s.store != nil {
		errs = append(errs, s.store.Close())
	}
	if s.cache != nil {
		errs = append(errs, s.cache.Close())
	}
	if s.db != nil {
		errs = append(errs, s.db.Close())
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if s.mongo != nil {
		errs = append(errs, s.mongo.Disconnect(ctx))
	}
	if s.redis != nil {
		errs = append(errs, s.redis.Close())
	}
	if s.otelProviders != nil {
		errs = append(errs, s.otelProviders.Shutdown(ctx))
	}

	if err := errors.Join(errs...); err != nil {
		s.logger.Error("Shutdown completed with errors", zap.Error(err))
		return
	}
	s.logger.Info("Graceful shutdown completed")
}
