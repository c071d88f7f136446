// Package metrics provides internal metrics collection.
// This package is internal and should not be imported by external projects.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.uber.org/zap"
)

// =============================================================================
// 📊 指标收集器
// =============================================================================

// Collector 指标收集器
type Collector struct {
	// HTTP 指标
	httpRequestsTotal   *prometheus.CounterVec
	httpRequestDuration *prometheus.HistogramVec
	httpResponseSize    *prometheus.HistogramVec

	// 编译指标
	compileTotal    *prometheus.CounterVec
	compileDuration *prometheus.HistogramVec

	// 执行事件指标
	eventsTotal    *prometheus.CounterVec
	eventsIngested *prometheus.CounterVec
	activeSessions prometheus.Gauge
	runsStarted    *prometheus.CounterVec

	// 存储指标
	storeOpDuration *prometheus.HistogramVec
	storeOpErrors   *prometheus.CounterVec

	// 缓存指标
	cacheHits   *prometheus.CounterVec
	cacheMisses *prometheus.CounterVec

	// 数据库指标
	dbConnectionsOpen *prometheus.GaugeVec
	dbConnectionsIdle *prometheus.GaugeVec

	logger *zap.Logger
}

// NewCollector 创建指标收集器，注册到默认 Registry
func NewCollector(namespace string, logger *zap.Logger) *Collector {
	return NewCollectorWithRegistry(namespace, prometheus.DefaultRegisterer, logger)
}

// NewCollectorWithRegistry 创建指标收集器，注册到指定 Registerer
func NewCollectorWithRegistry(namespace string, reg prometheus.Registerer, logger *zap.Logger) *Collector {
	if logger == nil {
		logger = zap.NewNop()
	}
	factory := promauto.With(reg)
	c := &Collector{
		logger: logger.With(zap.String("component", "metrics")),
	}

	// HTTP 指标
	c.httpRequestsTotal = factory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "Total number of HTTP requests",
		},
		[]string{"method", "path", "status"},
	)

	c.httpRequestDuration = factory.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request duration in seconds",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"method", "path"},
	)

	c.httpResponseSize = factory.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_response_size_bytes",
			Help:      "HTTP response size in bytes",
			Buckets:   prometheus.ExponentialBuckets(100, 10, 8),
		},
		[]string{"method", "path"},
	)

	// 编译指标
	c.compileTotal = factory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "compile_total",
			Help:      "Total number of graph compilations by outcome",
		},
		[]string{"outcome"}, // outcome: ok 或 CompileErrorKind
	)

	c.compileDuration = factory.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "compile_duration_seconds",
			Help:      "Graph compilation duration in seconds",
			Buckets:   []float64{0.0001, 0.0005, 0.001, 0.005, 0.01, 0.05, 0.1},
		},
		[]string{"outcome"},
	)

	// 执行事件指标
	c.eventsTotal = factory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "execution_events_total",
			Help:      "Execution events seen by reducers, by type and disposition",
		},
		[]string{"type", "disposition", "reason"},
	)

	c.eventsIngested = factory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "execution_events_ingested_total",
			Help:      "Execution events appended to the run event log",
		},
		[]string{"type"},
	)

	c.activeSessions = factory.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "visualization_sessions_active",
			Help:      "Number of open visualization sessions",
		},
	)

	c.runsStarted = factory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "runs_started_total",
			Help:      "Total number of workflow runs started",
		},
		[]string{"status"},
	)

	// 存储指标
	c.storeOpDuration = factory.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "store_operation_duration_seconds",
			Help:      "Workflow store operation duration in seconds",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"backend", "operation"},
	)

	c.storeOpErrors = factory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "store_operation_errors_total",
			Help:      "Total number of failed workflow store operations",
		},
		[]string{"backend", "operation"},
	)

	// 缓存指标
	c.cacheHits = factory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cache_hits_total",
			Help:      "Total number of cache hits",
		},
		[]string{"cache_type"},
	)

	c.cacheMisses = factory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cache_misses_total",
			Help:      "Total number of cache misses",
		},
		[]string{"cache_type"},
	)

	// 数据库指标
	c.dbConnectionsOpen = factory.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "db_connections_open",
			Help:      "Number of open database connections",
		},
		[]string{"database"},
	)

	c.dbConnectionsIdle = factory.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "db_connections_idle",
			Help:      "Number of idle database connections",
		},
		[]string{"database"},
	)

	c.logger.Info("metrics collector initialized", zap.String("namespace", namespace))

	return c
}

// =============================================================================
// 🎯 HTTP 指标记录
// =============================================================================

// RecordHTTPRequest 记录 HTTP 请求
func (c *Collector) RecordHTTPRequest(method, path string, status int, duration time.Duration, responseSize int64) {
	c.httpRequestsTotal.WithLabelValues(method, path, statusCode(status)).Inc()
	c.httpRequestDuration.WithLabelValues(method, path).Observe(duration.Seconds())
	c.httpResponseSize.WithLabelValues(method, path).Observe(float64(responseSize))
}

// =============================================================================
// 🧩 编译与执行指标记录
// =============================================================================

// RecordCompile 记录一次编译，outcome 为 "ok" 或错误种类
func (c *Collector) RecordCompile(outcome string, duration time.Duration) {
	c.compileTotal.WithLabelValues(outcome).Inc()
	c.compileDuration.WithLabelValues(outcome).Observe(duration.Seconds())
}

// RecordEvent 记录 Reducer 对一个事件的处理结果
func (c *Collector) RecordEvent(eventType, disposition, reason string) {
	c.eventsTotal.WithLabelValues(eventType, disposition, reason).Inc()
}

// RecordIngest 记录写入事件日志的事件
func (c *Collector) RecordIngest(eventType string) {
	c.eventsIngested.WithLabelValues(eventType).Inc()
}

// RecordRunStart 记录运行启动结果
func (c *Collector) RecordRunStart(err error) {
	status := "success"
	if err != nil {
		status = "error"
	}
	c.runsStarted.WithLabelValues(status).Inc()
}

// SessionOpened 可视化会话数加一
func (c *Collector) SessionOpened() { c.activeSessions.Inc() }

// SessionClosed 可视化会话数减一
func (c *Collector) SessionClosed() { c.activeSessions.Dec() }

// =============================================================================
// 💾 存储与缓存指标记录
// =============================================================================

// RecordStoreOp 记录一次工作流存储操作
func (c *Collector) RecordStoreOp(backend, operation string, duration time.Duration, err error) {
	c.storeOpDuration.WithLabelValues(backend, operation).Observe(duration.Seconds())
	if err != nil {
		c.storeOpErrors.WithLabelValues(backend, operation).Inc()
	}
}

// RecordCacheHit 记录缓存命中
func (c *Collector) RecordCacheHit(cacheType string) {
	c.cacheHits.WithLabelValues(cacheType).Inc()
}

// RecordCacheMiss 记录缓存未命中
func (c *Collector) RecordCacheMiss(cacheType string) {
	c.cacheMisses.WithLabelValues(cacheType).Inc()
}

// =============================================================================
// 🗄️ 数据库指标记录
// =============================================================================

// RecordDBConnections 记录数据库连接数
func (c *Collector) RecordDBConnections(database string, open, idle int) {
	c.dbConnectionsOpen.WithLabelValues(database).Set(float64(open))
	c.dbConnectionsIdle.WithLabelValues(database).Set(float64(idle))
}

// =============================================================================
// 🔧 辅助函数
// =============================================================================

// statusCode 将 HTTP 状态码转换为字符串
func statusCode(code int) string {
	switch {
	case code >= 200 && code < 300:
		return "2xx"
	case code >= 300 && code < 400:
		return "3xx"
	case code >= 400 && code < 500:
		return "4xx"
	case code >= 500:
		return "5xx"
	default:
		return "unknown"
	}
}
