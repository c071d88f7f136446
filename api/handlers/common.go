package handlers

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/BaSui01/flowcanvas/types"
	"github.com/BaSui01/flowcanvas/workflow"
	"github.com/BaSui01/flowcanvas/workflow/execution"
	"github.com/BaSui01/flowcanvas/workflow/invoker"
	"github.com/BaSui01/flowcanvas/workflow/persistence"
)

// maxBodyBytes 请求体上限
const maxBodyBytes = 1 << 20

// RequestIDHeader 请求 ID 响应头，由中间件设置
const RequestIDHeader = "X-Request-ID"

// =============================================================================
// 📦 通用响应结构
// =============================================================================

// Response 统一 API 响应结构
type Response struct {
	Success   bool       `json:"success"`
	Data      any        `json:"data,omitempty"`
	Error     *ErrorInfo `json:"error,omitempty"`
	Timestamp time.Time  `json:"timestamp"`
	RequestID string     `json:"request_id,omitempty"`
}

// ErrorInfo 错误信息结构
type ErrorInfo struct {
	Code      string         `json:"code"`
	Message   string         `json:"message"`
	Retryable bool           `json:"retryable,omitempty"`
	Details   map[string]any `json:"details,omitempty"`
}

// =============================================================================
// 🎯 响应辅助函数
// =============================================================================

// WriteJSON 写入 JSON 响应
func WriteJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.Header().Set("X-Content-Type-Options", "nosniff")
	w.WriteHeader(status)

	// 响应头已发出，编码失败无法再通知客户端
	_ = json.NewEncoder(w).Encode(data)
}

// WriteSuccess 写入成功响应
func WriteSuccess(w http.ResponseWriter, data any) {
	WriteStatus(w, http.StatusOK, data)
}

// WriteStatus 以指定状态码写入成功响应
func WriteStatus(w http.ResponseWriter, status int, data any) {
	WriteJSON(w, status, Response{
		Success:   true,
		Data:      data,
		Timestamp: time.Now(),
		RequestID: w.Header().Get(RequestIDHeader),
	})
}

// WriteError 写入错误响应（从 types.Error）
func WriteError(w http.ResponseWriter, err *types.Error, logger *zap.Logger) {
	status := err.Status()

	if logger != nil {
		fields := []zap.Field{
			zap.String("code", string(err.Code)),
			zap.String("message", err.Message),
			zap.Int("status", status),
			zap.String("request_id", w.Header().Get(RequestIDHeader)),
		}
		if err.Cause != nil {
			fields = append(fields, zap.Error(err.Cause))
		}
		if status >= http.StatusInternalServerError {
			logger.Error("API error", fields...)
		} else {
			logger.Debug("API request rejected", fields...)
		}
	}

	WriteJSON(w, status, Response{
		Success: false,
		Error: &ErrorInfo{
			Code:      string(err.Code),
			Message:   err.Message,
			Retryable: err.Retryable,
			Details:   err.Details,
		},
		Timestamp: time.Now(),
		RequestID: w.Header().Get(RequestIDHeader),
	})
}

// WriteErrorMessage 写入简单错误消息
func WriteErrorMessage(w http.ResponseWriter, status int, code types.ErrorCode, message string, logger *zap.Logger) {
	WriteError(w, types.NewError(code, message).WithHTTPStatus(status), logger)
}

// WriteFailure 把领域错误映射为 types.Error 后写出，未识别的错误使用 fallback
func WriteFailure(w http.ResponseWriter, err error, fallback types.ErrorCode, logger *zap.Logger) {
	WriteError(w, ToAPIError(err, fallback), logger)
}

// =============================================================================
// 🔄 领域错误映射
// =============================================================================

// ToAPIError 把 workflow、persistence、invoker 与 execution 的错误映射为 API 错误
func ToAPIError(err error, fallback types.ErrorCode) *types.Error {
	if apiErr, ok := types.AsError(err); ok {
		return apiErr
	}

	var edgeErr *workflow.EdgeError
	if errors.As(err, &edgeErr) {
		e := types.NewError(types.ErrGraphInvalidEdge, edgeErr.Error()).
			WithCause(err).
			WithDetail("kind", string(edgeErr.Kind)).
			WithDetail("source", edgeErr.Source).
			WithDetail("target", edgeErr.Target)
		if edgeErr.Missing != "" {
			e.WithDetail("missing", edgeErr.Missing)
		}
		return e
	}

	var compileErr *workflow.CompileError
	if errors.As(err, &compileErr) {
		e := types.NewError(types.ErrCompileFailed, compileErr.Error()).
			WithCause(err).
			WithDetail("kind", string(compileErr.Kind))
		if compileErr.NodeID != "" {
			e.WithDetail("node_id", compileErr.NodeID)
		}
		if compileErr.EdgeID != "" {
			e.WithDetail("edge_id", compileErr.EdgeID)
		}
		if compileErr.Ref != "" {
			e.WithDetail("ref", compileErr.Ref)
		}
		if len(compileErr.Cycle) > 0 {
			e.WithDetail("cycle", compileErr.Cycle)
		}
		return e
	}

	switch {
	case errors.Is(err, workflow.ErrNodeNotFound),
		errors.Is(err, workflow.ErrEdgeNotFound),
		errors.Is(err, persistence.ErrNotFound):
		return types.NewError(types.ErrNotFound, err.Error()).WithCause(err)
	case errors.Is(err, workflow.ErrDuplicateNode):
		return types.NewError(types.ErrInvalidRequest, err.Error()).
			WithCause(err).
			WithHTTPStatus(http.StatusConflict)
	case errors.Is(err, persistence.ErrInvalidInput),
		errors.Is(err, execution.ErrInvalidEvent),
		errors.Is(err, execution.ErrUnknownEventType):
		return types.NewError(types.ErrInvalidRequest, err.Error()).WithCause(err)
	case errors.Is(err, persistence.ErrStoreClosed):
		return types.NewError(types.ErrServiceUnavailable, "workflow store is unavailable").
			WithCause(err).
			WithRetryable(true)
	case errors.Is(err, invoker.ErrRunnerRejected), errors.Is(err, invoker.ErrNoWorkflow):
		return types.NewError(types.ErrRunStartFailed, err.Error()).WithCause(err)
	case errors.Is(err, context.DeadlineExceeded):
		return types.NewError(types.ErrServiceUnavailable, "request timed out").
			WithCause(err).
			WithRetryable(true)
	}

	if fallback == "" {
		fallback = types.ErrInternalError
	}
	e := types.NewError(fallback, err.Error()).WithCause(err)
	switch fallback {
	case types.ErrStoreError, types.ErrRunStartFailed:
		e.WithRetryable(true)
	}
	return e
}

// =============================================================================
// 🛡️ 请求验证辅助函数
// =============================================================================

// DecodeJSONBody 解码 JSON 请求体（1 MB 上限，拒绝未知字段）。
// 空请求体在 allowEmpty 为 true 时保留 dst 零值。
func DecodeJSONBody(w http.ResponseWriter, r *http.Request, dst any, allowEmpty bool, logger *zap.Logger) error {
	if r.Body == nil || r.Body == http.NoBody {
		if allowEmpty {
			return nil
		}
		err := types.NewError(types.ErrInvalidRequest, "request body is empty")
		WriteError(w, err, logger)
		return err
	}

	decoder := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	decoder.DisallowUnknownFields()

	if err := decoder.Decode(dst); err != nil {
		if errors.Is(err, io.EOF) && allowEmpty {
			return nil
		}
		apiErr := types.NewError(types.ErrInvalidRequest, "invalid JSON body").WithCause(err)
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			apiErr = types.NewError(types.ErrInvalidRequest, "request body too large").
				WithCause(err).
				WithHTTPStatus(http.StatusRequestEntityTooLarge)
		}
		WriteError(w, apiErr, logger)
		return apiErr
	}

	return nil
}

// ReadBody 读取原始请求体（1 MB 上限）
func ReadBody(w http.ResponseWriter, r *http.Request, logger *zap.Logger) ([]byte, bool) {
	if r.Body == nil {
		WriteErrorMessage(w, http.StatusBadRequest, types.ErrInvalidRequest, "request body is empty", logger)
		return nil, false
	}
	data, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err != nil {
		status := http.StatusBadRequest
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			status = http.StatusRequestEntityTooLarge
		}
		WriteError(w, types.NewError(types.ErrInvalidRequest, "failed to read request body").
			WithCause(err).WithHTTPStatus(status), logger)
		return nil, false
	}
	return data, true
}

// =============================================================================
// 📊 响应包装器（用于捕获状态码）
// =============================================================================

// ResponseWriter 包装 http.ResponseWriter 以捕获状态码与响应大小
type ResponseWriter struct {
	http.ResponseWriter
	StatusCode int
	Written    bool
	Bytes      int64
}

// NewResponseWriter 创建新的 ResponseWriter
func NewResponseWriter(w http.ResponseWriter) *ResponseWriter {
	return &ResponseWriter{
		ResponseWriter: w,
		StatusCode:     http.StatusOK,
	}
}

// WriteHeader 重写 WriteHeader 以捕获状态码
func (rw *ResponseWriter) WriteHeader(code int) {
	if !rw.Written {
		rw.StatusCode = code
		rw.Written = true
		rw.ResponseWriter.WriteHeader(code)
	}
}

// Write 重写 Write 以标记已写入
func (rw *ResponseWriter) Write(b []byte) (int, error) {
	if !rw.Written {
		rw.WriteHeader(http.StatusOK)
	}
	n, err := rw.ResponseWriter.Write(b)
	rw.Bytes += int64(n)
	return n, err
}

// Unwrap 供 http.ResponseController 与 WebSocket 升级访问底层连接
func (rw *ResponseWriter) Unwrap() http.ResponseWriter {
	return rw.ResponseWriter
}

// Flush 透传 http.Flusher
func (rw *ResponseWriter) Flush() {
	_ = http.NewResponseController(rw.ResponseWriter).Flush()
}

// Hijack 透传 http.Hijacker，WebSocket 升级需要
func (rw *ResponseWriter) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	return http.NewResponseController(rw.ResponseWriter).Hijack()
}
