package handlers

import (
	"context"
	"net/http"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/BaSui01/flowcanvas/api"
)

// =============================================================================
// 🏥 健康检查 Handler
// =============================================================================

// HealthHandler 健康检查处理器
type HealthHandler struct {
	logger  *zap.Logger
	version string
	checks  []HealthCheck
	mu      sync.RWMutex
}

// HealthCheck 健康检查接口
type HealthCheck interface {
	Name() string
	Check(ctx context.Context) error
}

// NewHealthHandler 创建健康检查处理器
func NewHealthHandler(version string, logger *zap.Logger) *HealthHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &HealthHandler{
		logger:  logger.With(zap.String("component", "health")),
		version: version,
	}
}

// RegisterCheck 注册健康检查
func (h *HealthHandler) RegisterCheck(check HealthCheck) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.checks = append(h.checks, check)
}

// =============================================================================
// 🎯 HTTP 处理程序
// =============================================================================

// HandleHealth 处理 /health 与 /healthz 请求（活跃度探针）
// @Summary 健康检查
// @Tags 健康
// @Produce json
// @Success 200 {object} api.ServiceHealthResponse "服务正常"
// @Router /health [get]
func (h *HealthHandler) HandleHealth(w http.ResponseWriter, r *http.Request) {
	WriteJSON(w, http.StatusOK, api.ServiceHealthResponse{
		Status:    "healthy",
		Timestamp: time.Now(),
		Version:   h.version,
	})
}

// HandleReady 处理 /ready 请求，依次执行已注册的依赖检查
// @Summary 就绪检查
// @Tags 健康
// @Produce json
// @Success 200 {object} api.ServiceHealthResponse "服务已就绪"
// @Failure 503 {object} api.ServiceHealthResponse "依赖不可用"
// @Router /ready [get]
func (h *HealthHandler) HandleReady(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	h.mu.RLock()
	checks := make([]HealthCheck, len(h.checks))
	copy(checks, h.checks)
	h.mu.RUnlock()

	status := api.ServiceHealthResponse{
		Status:    "healthy",
		Timestamp: time.Now(),
		Version:   h.version,
		Checks:    make(map[string]api.CheckResult, len(checks)),
	}

	for _, check := range checks {
		start := time.Now()
		err := check.Check(ctx)
		latency := time.Since(start)

		result := api.CheckResult{Status: "pass", Latency: latency.String()}
		if err != nil {
			result.Status = "fail"
			result.Message = err.Error()
			status.Status = "unhealthy"

			h.logger.Warn("health check failed",
				zap.String("check", check.Name()),
				zap.Error(err),
				zap.Duration("latency", latency),
			)
		}
		if d, ok := check.(DetailedCheck); ok {
			result.Details = d.Details()
		}
		status.Checks[check.Name()] = result
	}

	if status.Status != "healthy" {
		WriteJSON(w, http.StatusServiceUnavailable, status)
		return
	}
	WriteJSON(w, http.StatusOK, status)
}

// HandleVersion 处理 /version 请求
// @Summary 版本信息
// @Tags 健康
// @Produce json
// @Success 200 {object} Response{data=map[string]string} "版本信息"
// @Router /version [get]
func (h *HealthHandler) HandleVersion(buildTime, gitCommit string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		WriteSuccess(w, map[string]string{
			"version":    h.version,
			"build_time": buildTime,
			"git_commit": gitCommit,
		})
	}
}

// =============================================================================
// 🔧 内置健康检查实现
// =============================================================================

// PingCheck 以 ping 函数实现的依赖检查（数据库、Redis、工作流存储）
type PingCheck struct {
	name    string
	ping    func(ctx context.Context) error
	details func() any
}

// DetailedCheck 是可附带统计信息的健康检查
type DetailedCheck interface {
	HealthCheck
	Details() any
}

// NewPingCheck 创建依赖检查
func NewPingCheck(name string, ping func(ctx context.Context) error) *PingCheck {
	return &PingCheck{name: name, ping: ping}
}

// Name implements HealthCheck.
func (c *PingCheck) Name() string { return c.name }

// Check implements HealthCheck.
func (c *PingCheck) Check(ctx context.Context) error { return c.ping(ctx) }

// WithDetails 为检查结果附加 fn 返回的统计信息
func (c *PingCheck) WithDetails(fn func() any) *PingCheck {
	c.details = fn
	return c
}

// Details implements DetailedCheck. It returns nil without a details func.
func (c *PingCheck) Details() any {
	if c.details == nil {
		return nil
	}
	return c.details()
}
