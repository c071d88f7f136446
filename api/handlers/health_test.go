package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/BaSui01/flowcanvas/api"
)

// =============================================================================
// 🧪 HealthHandler 测试
// =============================================================================

func TestHealthHandler_HandleHealth(t *testing.T) {
	handler := NewHealthHandler("1.2.3", zap.NewNop())

	for _, path := range []string{"/health", "/healthz"} {
		w := httptest.NewRecorder()
		handler.HandleHealth(w, httptest.NewRequest(http.MethodGet, path, nil))

		assert.Equal(t, http.StatusOK, w.Code)

		var status api.ServiceHealthResponse
		require.NoError(t, json.NewDecoder(w.Body).Decode(&status))
		assert.Equal(t, "healthy", status.Status)
		assert.Equal(t, "1.2.3", status.Version)
		assert.False(t, status.Timestamp.IsZero())
	}
}

func TestHealthHandler_HandleReady(t *testing.T) {
	tests := []struct {
		name           string
		checks         []HealthCheck
		expectedStatus int
		checkStatus    func(*testing.T, *api.ServiceHealthResponse)
	}{
		{
			name:           "no checks - ready",
			expectedStatus: http.StatusOK,
			checkStatus: func(t *testing.T, status *api.ServiceHealthResponse) {
				assert.Equal(t, "healthy", status.Status)
			},
		},
		{
			name: "all checks pass",
			checks: []HealthCheck{
				NewPingCheck("store", func(context.Context) error { return nil }),
				NewPingCheck("redis", func(context.Context) error { return nil }),
			},
			expectedStatus: http.StatusOK,
			checkStatus: func(t *testing.T, status *api.ServiceHealthResponse) {
				assert.Equal(t, "healthy", status.Status)
				assert.Len(t, status.Checks, 2)
				assert.Equal(t, "pass", status.Checks["store"].Status)
				assert.Equal(t, "pass", status.Checks["redis"].Status)
			},
		},
		{
			name: "one check fails",
			checks: []HealthCheck{
				NewPingCheck("store", func(context.Context) error { return nil }),
				NewPingCheck("redis", func(context.Context) error { return errors.New("connection refused") }),
			},
			expectedStatus: http.StatusServiceUnavailable,
			checkStatus: func(t *testing.T, status *api.ServiceHealthResponse) {
				assert.Equal(t, "unhealthy", status.Status)
				assert.Equal(t, "pass", status.Checks["store"].Status)
				assert.Equal(t, "fail", status.Checks["redis"].Status)
				assert.Equal(t, "connection refused", status.Checks["redis"].Message)
			},
		},
		{
			name: "check with details",
			checks: []HealthCheck{
				NewPingCheck("store", func(context.Context) error { return nil }),
				NewPingCheck("database", func(context.Context) error { return nil }).
					WithDetails(func() any { return map[string]int{"open_connections": 3} }),
			},
			expectedStatus: http.StatusOK,
			checkStatus: func(t *testing.T, status *api.ServiceHealthResponse) {
				assert.Nil(t, status.Checks["store"].Details)
				details, ok := status.Checks["database"].Details.(map[string]any)
				require.True(t, ok)
				assert.EqualValues(t, 3, details["open_connections"])
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := NewHealthHandler("dev", zap.NewNop())
			for _, c := range tt.checks {
				h.RegisterCheck(c)
			}

			w := httptest.NewRecorder()
			h.HandleReady(w, httptest.NewRequest(http.MethodGet, "/ready", nil))

			assert.Equal(t, tt.expectedStatus, w.Code)

			var status api.ServiceHealthResponse
			require.NoError(t, json.NewDecoder(w.Body).Decode(&status))
			tt.checkStatus(t, &status)
		})
	}
}

func TestHealthHandler_HandleVersion(t *testing.T) {
	handler := NewHealthHandler("1.0.0", zap.NewNop())

	w := httptest.NewRecorder()
	handler.HandleVersion("2026-01-01T00:00:00Z", "abc123")(w, httptest.NewRequest(http.MethodGet, "/version", nil))

	assert.Equal(t, http.StatusOK, w.Code)

	var resp Response
	require.NoError(t, json.NewDecoder(w.Body).Decode(&resp))
	assert.True(t, resp.Success)

	data, ok := resp.Data.(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "1.0.0", data["version"])
	assert.Equal(t, "2026-01-01T00:00:00Z", data["build_time"])
	assert.Equal(t, "abc123", data["git_commit"])
}

func TestHealthHandler_ConcurrentChecks(t *testing.T) {
	handler := NewHealthHandler("dev", zap.NewNop())
	for i := 0; i < 10; i++ {
		handler.RegisterCheck(NewPingCheck(string(rune('a'+i)), func(context.Context) error { return nil }))
	}

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			w := httptest.NewRecorder()
			handler.HandleReady(w, httptest.NewRequest(http.MethodGet, "/ready", nil))
			assert.Equal(t, http.StatusOK, w.Code)
		}()
	}
	wg.Wait()
}
