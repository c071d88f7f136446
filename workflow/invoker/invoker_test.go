package invoker

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/BaSui01/flowcanvas/internal/ctxkeys"
	"github.com/BaSui01/flowcanvas/workflow"
)

func sampleWorkflow(t *testing.T) *workflow.CompiledWorkflow {
	t.Helper()
	g := workflow.NewGraph()
	_, err := g.AddNodeWithID("a", "researcher")
	require.NoError(t, err)
	_, err = g.AddNodeWithID("b", "writer")
	require.NoError(t, err)
	_, err = g.AddEdge("a", "b")
	require.NoError(t, err)
	wf, err := workflow.Compile(g, "Report", "")
	require.NoError(t, err)
	return wf
}

func TestHTTPInvoker_StartRun(t *testing.T) {
	var got StartRequest
	var headers http.Header
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		headers = r.Header.Clone()
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.WriteHeader(http.StatusAccepted)
	}))
	defer srv.Close()

	inv := NewHTTPInvoker(srv.URL, time.Second, nil,
		WithAPIKey("secret"),
		WithPublicURL("http://canvas.local/"),
		WithIDGenerator(func() string { return "run-1" }),
	)
	wf := sampleWorkflow(t)

	ctx := ctxkeys.WithRequestID(context.Background(), "req-9")
	h, err := inv.StartRun(ctx, wf, map[string]any{"query": "summarize Go 1.24"})
	require.NoError(t, err)

	assert.Equal(t, "run-1", h.RunID)
	assert.Equal(t, wf.ID, h.WorkflowID)
	assert.Equal(t, "http://canvas.local/api/v1/runs/run-1/stream", h.StreamURL)
	assert.False(t, h.StartedAt.IsZero())

	assert.Equal(t, "Bearer secret", headers.Get("Authorization"))
	assert.Equal(t, "req-9", headers.Get("X-Request-ID"))
	assert.Equal(t, "run-1", got.RunID)
	assert.Equal(t, "http://canvas.local/api/v1/runs/run-1/events", got.EventsURL)
	require.Len(t, got.Workflow.Nodes, 2)
	assert.Equal(t, "summarize Go 1.24", got.Workflow.Nodes[0].Task)
	assert.Empty(t, wf.Nodes[0].Task, "caller's workflow must not change")
}

func TestHTTPInvoker_RunnerOverridesIDs(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(StartResponse{RunID: "remote-7", StreamURL: "ws://runner/stream/remote-7"})
	}))
	defer srv.Close()

	inv := NewHTTPInvoker(srv.URL, time.Second, nil, WithHTTPClient(srv.Client()))
	h, err := inv.StartRun(context.Background(), sampleWorkflow(t), nil)
	require.NoError(t, err)
	assert.Equal(t, "remote-7", h.RunID)
	assert.Equal(t, "ws://runner/stream/remote-7", h.StreamURL)
}

func TestHTTPInvoker_Rejected(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "runner busy", http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	inv := NewHTTPInvoker(srv.URL, time.Second, nil)
	_, err := inv.StartRun(context.Background(), sampleWorkflow(t), nil)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrRunnerRejected))
	assert.Contains(t, err.Error(), "503")
	assert.Contains(t, err.Error(), "runner busy")
}

func TestHTTPInvoker_BadResponseBody(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("{not json"))
	}))
	defer srv.Close()

	inv := NewHTTPInvoker(srv.URL, time.Second, nil)
	_, err := inv.StartRun(context.Background(), sampleWorkflow(t), nil)
	assert.Error(t, err)
}

func TestHTTPInvoker_NilWorkflow(t *testing.T) {
	inv := NewHTTPInvoker("http://127.0.0.1:1", time.Second, nil)
	_, err := inv.StartRun(context.Background(), nil, nil)
	assert.ErrorIs(t, err, ErrNoWorkflow)
}

func TestHTTPInvoker_Unreachable(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	inv := NewHTTPInvoker(url, time.Second, nil)
	_, err := inv.StartRun(context.Background(), sampleWorkflow(t), nil)
	assert.Error(t, err)
}

func TestLoopbackInvoker(t *testing.T) {
	inv := NewLoopbackInvoker("", nil)
	wf := sampleWorkflow(t)

	a, err := inv.StartRun(context.Background(), wf, nil)
	require.NoError(t, err)
	b, err := inv.StartRun(context.Background(), wf, nil)
	require.NoError(t, err)

	assert.NotEqual(t, a.RunID, b.RunID)
	assert.Equal(t, StreamPath(a.RunID), a.StreamURL)
	assert.Equal(t, wf.ID, a.WorkflowID)

	_, err = inv.StartRun(context.Background(), nil, nil)
	assert.ErrorIs(t, err, ErrNoWorkflow)
}

func TestWithQuery(t *testing.T) {
	wf := sampleWorkflow(t)
	assert.Same(t, wf, WithQuery(wf, "  "))

	out := WithQuery(wf, "hello")
	assert.Equal(t, "hello", out.Nodes[0].Task)
	assert.Empty(t, wf.Nodes[0].Task)

	empty := &workflow.CompiledWorkflow{ID: "x"}
	assert.Same(t, empty, WithQuery(empty, "hello"))
}
