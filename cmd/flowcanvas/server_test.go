package main

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/BaSui01/flowcanvas/api"
	"github.com/BaSui01/flowcanvas/config"
	"github.com/BaSui01/flowcanvas/testutil/fixtures"
	"github.com/BaSui01/flowcanvas/workflow"
	"github.com/BaSui01/flowcanvas/workflow/execution"
	"github.com/BaSui01/flowcanvas/workflow/persistence"
)

// =============================================================================
// 🧪 测试辅助
// =============================================================================

func newTestConfig(t *testing.T) *config.Config {
	t.Helper()
	cfg := config.DefaultConfig()
	cfg.Server.MetricsPort = 0
	cfg.Server.RateLimitRPS = 0
	cfg.Catalog.Dir = fixtures.WriteCatalog(t)
	cfg.Catalog.ReloadInterval = 0
	return cfg
}

type testServer struct {
	*httptest.Server
	apiKey string
}

func startServer(t *testing.T, cfg *config.Config) *testServer {
	t.Helper()
	require.NoError(t, cfg.Validate())

	s := NewServer(cfg, zap.NewNop())
	require.NoError(t, s.Init(context.Background()))
	srv := httptest.NewServer(s.Handler())
	t.Cleanup(func() {
		srv.Close()
		s.Close()
	})
	ts := &testServer{Server: srv}
	if len(cfg.Server.APIKeys) > 0 {
		ts.apiKey = cfg.Server.APIKeys[0]
	}
	return ts
}

func (ts *testServer) do(t *testing.T, method, path string, body any) (int, []byte) {
	t.Helper()
	var buf bytes.Buffer
	switch b := body.(type) {
	case nil:
	case []byte:
		buf.Write(b)
	default:
		require.NoError(t, json.NewEncoder(&buf).Encode(b))
	}
	req, err := http.NewRequest(method, ts.URL+path, &buf)
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")
	if ts.apiKey != "" {
		req.Header.Set("X-API-Key", ts.apiKey)
	}
	resp, err := ts.Client().Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	data, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return resp.StatusCode, data
}

// expect 校验状态码并解出 data 字段
func (ts *testServer) expect(t *testing.T, status int, method, path string, body, dst any) {
	t.Helper()
	code, data := ts.do(t, method, path, body)
	require.Equal(t, status, code, string(data))
	if dst == nil {
		return
	}
	var env struct {
		Success bool            `json:"success"`
		Data    json.RawMessage `json:"data"`
	}
	require.NoError(t, json.Unmarshal(data, &env))
	require.True(t, env.Success, string(data))
	require.NoError(t, json.Unmarshal(env.Data, dst))
}

// runResearchFlow 从画布编辑到运行完成的完整流程
func runResearchFlow(t *testing.T, ts *testServer) {
	var view api.GraphView
	ts.expect(t, http.StatusCreated, http.MethodPost, "/api/v1/graphs", api.CreateGraphRequest{Name: "Research Flow"}, &view)

	ts.expect(t, http.StatusCreated, http.MethodPost, "/api/v1/graphs/"+view.ID+"/nodes",
		api.AddNodeRequest{ID: "research", AgentRef: "researcher", ToolRefs: []string{"web_search"}}, nil)
	ts.expect(t, http.StatusCreated, http.MethodPost, "/api/v1/graphs/"+view.ID+"/nodes",
		api.AddNodeRequest{ID: "write", AgentRef: "writer"}, nil)
	ts.expect(t, http.StatusCreated, http.MethodPost, "/api/v1/graphs/"+view.ID+"/edges",
		api.AddEdgeRequest{Source: "research", Target: "write"}, nil)

	var wf workflow.CompiledWorkflow
	ts.expect(t, http.StatusCreated, http.MethodPost, "/api/v1/graphs/"+view.ID+"/compile",
		api.CompileRequest{ID: "research_flow"}, &wf)
	assert.Equal(t, "research_flow", wf.ID)
	assert.Equal(t, workflow.WorkflowSequence, wf.Type)

	var list []persistence.Summary
	ts.expect(t, http.StatusOK, http.MethodGet, "/api/v1/workflows", nil, &list)
	require.Len(t, list, 1)
	assert.Equal(t, "research_flow", list[0].ID)

	var handle workflow.RunHandle
	ts.expect(t, http.StatusAccepted, http.MethodPost, "/api/v1/workflows/research_flow/runs",
		api.StartRunRequest{Query: "graph layout papers"}, &handle)
	require.NotEmpty(t, handle.RunID)

	events, err := json.Marshal(fixtures.ResearchEvents("research_flow"))
	require.NoError(t, err)

	var ingest api.IngestResponse
	ts.expect(t, http.StatusAccepted, http.MethodPost, "/api/v1/runs/"+handle.RunID+"/events", events, &ingest)
	assert.Equal(t, 7, ingest.Accepted)

	var state api.RunStateResponse
	ts.expect(t, http.StatusOK, http.MethodGet, "/api/v1/runs/"+handle.RunID+"/state", nil, &state)
	assert.Equal(t, "research_flow", state.WorkflowID)
	assert.Equal(t, execution.RunCompleted, state.State.Status)
	assert.Equal(t, 7, state.Events)

	research, ok := state.Frame.Node("research")
	require.True(t, ok)
	assert.Equal(t, "Research Agent", research.Label)
	assert.Equal(t, []string{"web_search"}, research.ToolsUsed)
	assert.InDelta(t, 1.0, state.Frame.Progress, 1e-9)
}

// =============================================================================
// 🧪 端到端
// =============================================================================

func TestServer_EndToEnd(t *testing.T) {
	t.Run("memory", func(t *testing.T) {
		runResearchFlow(t, startServer(t, newTestConfig(t)))
	})

	t.Run("sqlite", func(t *testing.T) {
		cfg := newTestConfig(t)
		cfg.Store.Backend = "sql"
		cfg.Store.AutoMigrate = true
		cfg.Database.Driver = "sqlite"
		cfg.Database.Name = filepath.Join(t.TempDir(), "flowcanvas.db")
		cfg.Database.MaxOpenConns = 1
		ts := startServer(t, cfg)
		runResearchFlow(t, ts)

		// /ready 附带连接池统计
		code, body := ts.do(t, http.MethodGet, "/ready", nil)
		assert.Equal(t, http.StatusOK, code, string(body))
		assert.Contains(t, string(body), `"max_open_connections":1`)
	})

	t.Run("file", func(t *testing.T) {
		cfg := newTestConfig(t)
		cfg.Store.Backend = "file"
		cfg.Store.Dir = t.TempDir()
		runResearchFlow(t, startServer(t, cfg))
	})

	t.Run("redis", func(t *testing.T) {
		mr := miniredis.RunT(t)
		cfg := newTestConfig(t)
		cfg.Redis.Addr = mr.Addr()
		cfg.Store.Backend = "redis"
		cfg.Store.Cache = true
		cfg.Transport.EventLog = "redis"
		runResearchFlow(t, startServer(t, cfg))

		assert.NotEmpty(t, mr.Keys())
	})
}

func TestServer_StrictCatalogRejectsUnknownAgent(t *testing.T) {
	cfg := newTestConfig(t)
	cfg.Catalog.Strict = true
	ts := startServer(t, cfg)

	var view api.GraphView
	ts.expect(t, http.StatusCreated, http.MethodPost, "/api/v1/graphs", api.CreateGraphRequest{Name: "Strict"}, &view)
	ts.expect(t, http.StatusCreated, http.MethodPost, "/api/v1/graphs/"+view.ID+"/nodes",
		api.AddNodeRequest{ID: "ghost", AgentRef: "phantom"}, nil)

	code, body := ts.do(t, http.MethodPost, "/api/v1/graphs/"+view.ID+"/compile", nil)
	assert.Equal(t, http.StatusUnprocessableEntity, code)
	assert.Contains(t, string(body), "COMPILE_FAILED")
	assert.Contains(t, string(body), "phantom")
}

func TestServer_CatalogEndpoints(t *testing.T) {
	ts := startServer(t, newTestConfig(t))

	var agents api.RefListResponse
	ts.expect(t, http.StatusOK, http.MethodGet, "/api/v1/agents", nil, &agents)
	require.Len(t, agents.Items, 2)
	assert.Equal(t, "researcher", agents.Items[0].ID)

	var tools api.RefListResponse
	ts.expect(t, http.StatusOK, http.MethodGet, "/api/v1/tools", nil, &tools)
	require.Len(t, tools.Items, 1)
	assert.Equal(t, "Web Search", tools.Items[0].Name)
}

func TestServer_APIKeyAuth(t *testing.T) {
	cfg := newTestConfig(t)
	cfg.Server.APIKeys = []string{"test-key-123"}
	ts := startServer(t, cfg)

	// 健康检查不需要鉴权
	resp, err := http.Get(ts.URL + "/health")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	resp, err = http.Get(ts.URL + "/api/v1/workflows")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	code, _ := ts.do(t, http.MethodGet, "/api/v1/workflows", nil)
	assert.Equal(t, http.StatusOK, code)
}

func TestServer_ReadyAndMetrics(t *testing.T) {
	ts := startServer(t, newTestConfig(t))

	code, body := ts.do(t, http.MethodGet, "/ready", nil)
	assert.Equal(t, http.StatusOK, code, string(body))

	// 先产生一次请求再抓取指标
	ts.do(t, http.MethodGet, "/api/v1/workflows", nil)
	code, body = ts.do(t, http.MethodGet, "/metrics", nil)
	require.Equal(t, http.StatusOK, code)
	assert.Contains(t, string(body), "flowcanvas_http_requests_total")
	assert.Contains(t, string(body), `path="/api/v1/workflows"`)
}

func TestServer_RejectsBadStoreBackend(t *testing.T) {
	cfg := newTestConfig(t)
	cfg.Store.Backend = "cassandra"
	assert.Error(t, cfg.Validate())

	s := NewServer(cfg, zap.NewNop())
	err := s.Init(context.Background())
	s.Close()
	assert.Error(t, err)
}
