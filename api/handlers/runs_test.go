package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/coder/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/BaSui01/flowcanvas/api"
	"github.com/BaSui01/flowcanvas/testutil"
	"github.com/BaSui01/flowcanvas/workflow"
	"github.com/BaSui01/flowcanvas/workflow/execution"
	"github.com/BaSui01/flowcanvas/workflow/projection"
)

func encodeEvents(t *testing.T, events ...execution.Event) []byte {
	t.Helper()
	data, err := json.Marshal(events)
	require.NoError(t, err)
	return data
}

// startRun 保存工作流并通过 API 启动一次运行
func (a *testAPI) startRun(t *testing.T) (*workflow.CompiledWorkflow, string) {
	t.Helper()
	wf := a.saveChain(t)
	w := a.do(t, http.MethodPost, "/api/v1/workflows/"+wf.ID+"/runs", nil)
	require.Equal(t, http.StatusAccepted, w.Code, w.Body.String())
	var handle workflow.RunHandle
	decodeEnvelope(t, w, &handle)
	return wf, handle.RunID
}

func (a *testAPI) ingest(t *testing.T, runID string, events ...execution.Event) api.IngestResponse {
	t.Helper()
	w := a.do(t, http.MethodPost, "/api/v1/runs/"+runID+"/events", encodeEvents(t, events...))
	require.Equal(t, http.StatusAccepted, w.Code, w.Body.String())
	var resp api.IngestResponse
	decodeEnvelope(t, w, &resp)
	return resp
}

func wsURL(srv *httptest.Server, path string) string {
	return "ws" + srv.URL[len("http"):] + path
}

// =============================================================================
// 🧪 事件接入与状态
// =============================================================================

func TestRunsHandler_IngestAndState(t *testing.T) {
	a := newTestAPI(t)
	wf, runID := a.startRun(t)

	var ingested []execution.EventType
	a.runs.OnIngest(func(ev execution.Event) { ingested = append(ingested, ev.Type) })
	var outcomes []execution.Disposition
	a.runs.OnOutcome(func(_ execution.Event, out execution.Outcome) { outcomes = append(outcomes, out.Disposition) })

	resp := a.ingest(t, runID,
		execution.NewRunStarted(wf.ID, 2),
		execution.NewNodeStarted("research"),
		execution.NewNodeCompleted("research", "notes"),
	)
	assert.Equal(t, 3, resp.Accepted)
	assert.Equal(t, uint64(3), resp.LastOffset)

	// 单个事件与数组一样被接受
	w := a.do(t, http.MethodPost, "/api/v1/runs/"+runID+"/events", `{"type":"node_message","node_id":"write","tool":"docs","content":"drafting"}`)
	require.Equal(t, http.StatusAccepted, w.Code, w.Body.String())
	assert.Len(t, ingested, 4)

	w = a.do(t, http.MethodGet, "/api/v1/runs/"+runID+"/state", nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	var state api.RunStateResponse
	decodeEnvelope(t, w, &state)

	assert.Equal(t, wf.ID, state.WorkflowID)
	assert.Equal(t, 4, state.Events)
	assert.Equal(t, execution.RunRunning, state.State.Status)
	assert.Equal(t, execution.NodeCompleted, state.State.Nodes["research"].Status)
	assert.Equal(t, execution.NodeActive, state.State.Nodes["write"].Status)
	assert.Equal(t, 4, state.Stats.Applied)
	assert.Len(t, outcomes, 4)

	research, ok := state.Frame.Node("research")
	require.True(t, ok)
	assert.Equal(t, "Agent researcher", research.Label)
	write, _ := state.Frame.Node("write")
	assert.Equal(t, []string{"docs"}, write.ToolsUsed)
	assert.Equal(t, uint(1), write.MessageCount)
}

func TestRunsHandler_IngestRejections(t *testing.T) {
	a := newTestAPI(t)
	_, runID := a.startRun(t)

	tests := []struct {
		name   string
		runID  string
		body   string
		status int
	}{
		{"empty body", runID, ``, http.StatusBadRequest},
		{"invalid json", runID, `{"type":`, http.StatusBadRequest},
		{"unknown type", runID, `{"type":"teleported"}`, http.StatusBadRequest},
		{"missing node id", runID, `{"type":"node_started"}`, http.StatusBadRequest},
		{"unknown run", "ghost", `{"type":"node_started","node_id":"a"}`, http.StatusNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := a.do(t, http.MethodPost, "/api/v1/runs/"+tt.runID+"/events", tt.body)
			assert.Equal(t, tt.status, w.Code, w.Body.String())
		})
	}
	assert.Zero(t, a.log.Len(runID))
}

func TestRunsHandler_ExternalRunRegistersOnRunStarted(t *testing.T) {
	a := newTestAPI(t)
	wf := a.saveChain(t)

	resp := a.ingest(t, "external-1", execution.NewRunStarted(wf.ID, 2))
	assert.Equal(t, 1, resp.Accepted)

	rec, ok := a.index.Get("external-1")
	require.True(t, ok)
	assert.Equal(t, wf.ID, rec.WorkflowID)
}

func TestRunsHandler_ResolvesRunFromLog(t *testing.T) {
	a := newTestAPI(t)
	wf := a.saveChain(t)

	// 另一实例写入的日志，本实例索引中没有
	_, err := a.log.Append(context.Background(), "shared", execution.NewRunStarted(wf.ID, 2))
	require.NoError(t, err)

	w := a.do(t, http.MethodGet, "/api/v1/runs/shared/state", nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	_, ok := a.index.Get("shared")
	assert.True(t, ok)

	assert.Equal(t, http.StatusNotFound, a.do(t, http.MethodGet, "/api/v1/runs/nobody/state", nil).Code)
}

func TestRunsHandler_LegacyMessages(t *testing.T) {
	a := newTestAPI(t)
	wf, runID := a.startRun(t)

	body := `[
		{"type":"execution_started","solution_id":"` + wf.ID + `","total_workflows":2},
		{"type":"workflow_started","workflow_id":"research","position":1},
		{"type":"workflow_completed","workflow_id":"research","output":"ok"},
		{"type":"handoff_prepared","from_workflow":"research","to_workflow":"write"}
	]`
	w := a.do(t, http.MethodPost, "/api/v1/runs/"+runID+"/events", body)
	require.Equal(t, http.StatusAccepted, w.Code, w.Body.String())

	var state api.RunStateResponse
	decodeEnvelope(t, a.do(t, http.MethodGet, "/api/v1/runs/"+runID+"/state", nil), &state)
	assert.Equal(t, execution.NodeCompleted, state.State.Nodes["research"].Status)
	assert.Equal(t, uint(1), state.State.Nodes["research"].MessageCount)
}

// =============================================================================
// 🧪 WebSocket 推送
// =============================================================================

func readEvents(t *testing.T, ctx context.Context, conn *websocket.Conn) ([]execution.Event, error) {
	t.Helper()
	var out []execution.Event
	for {
		_, data, err := conn.Read(ctx)
		if err != nil {
			return out, err
		}
		evs, derr := execution.Decode(data)
		require.NoError(t, derr)
		out = append(out, evs...)
	}
}

func TestRunsHandler_StreamReplaysAndCloses(t *testing.T) {
	a := newTestAPI(t)
	wf, runID := a.startRun(t)
	a.ingest(t, runID,
		execution.NewRunStarted(wf.ID, 2),
		execution.NewNodeStarted("research"),
		execution.NewNodeCompleted("research", nil),
		execution.NewRunCompleted(nil),
	)

	srv := httptest.NewServer(a.mux)
	defer srv.Close()
	ctx := testutil.TestContextWithTimeout(t, 5*time.Second)

	conn, _, err := websocket.Dial(ctx, wsURL(srv, "/api/v1/runs/"+runID+"/stream"), nil)
	require.NoError(t, err)
	defer conn.CloseNow()

	events, err := readEvents(t, ctx, conn)
	assert.Equal(t, websocket.StatusNormalClosure, websocket.CloseStatus(err))
	require.Len(t, events, 4)
	assert.Equal(t, execution.EventRunStarted, events[0].Type)
	assert.Equal(t, execution.EventRunCompleted, events[3].Type)

	// from 跳过已收到的事件
	conn2, _, err := websocket.Dial(ctx, wsURL(srv, "/api/v1/runs/"+runID+"/stream?from=2"), nil)
	require.NoError(t, err)
	defer conn2.CloseNow()
	events, err = readEvents(t, ctx, conn2)
	assert.Equal(t, websocket.StatusNormalClosure, websocket.CloseStatus(err))
	require.Len(t, events, 2)
	assert.Equal(t, execution.EventNodeCompleted, events[0].Type)
}

func TestRunsHandler_StreamTailsLiveEvents(t *testing.T) {
	a := newTestAPI(t)
	wf, runID := a.startRun(t)
	a.ingest(t, runID, execution.NewRunStarted(wf.ID, 2))

	srv := httptest.NewServer(a.mux)
	defer srv.Close()
	ctx := testutil.TestContextWithTimeout(t, 5*time.Second)

	conn, _, err := websocket.Dial(ctx, wsURL(srv, "/api/v1/runs/"+runID+"/stream"), nil)
	require.NoError(t, err)
	defer conn.CloseNow()

	// 先收到回放的 run_started，再推送后续事件
	_, data, err := conn.Read(ctx)
	require.NoError(t, err)
	first, err := execution.Decode(data)
	require.NoError(t, err)
	assert.Equal(t, execution.EventRunStarted, first[0].Type)

	a.ingest(t, runID, execution.NewNodeStarted("research"), execution.NewRunFailed("runner crashed"))

	events, err := readEvents(t, ctx, conn)
	assert.Equal(t, websocket.StatusNormalClosure, websocket.CloseStatus(err))
	require.Len(t, events, 2)
	assert.Equal(t, "runner crashed", events[1].Error)
}

func TestRunsHandler_StreamErrors(t *testing.T) {
	a := newTestAPI(t)
	_, runID := a.startRun(t)

	assert.Equal(t, http.StatusNotFound, a.do(t, http.MethodGet, "/api/v1/runs/ghost/stream", nil).Code)
	assert.Equal(t, http.StatusBadRequest, a.do(t, http.MethodGet, "/api/v1/runs/"+runID+"/stream?from=-1", nil).Code)
}

func TestRunsHandler_FramesFollowRun(t *testing.T) {
	a := newTestAPI(t)
	wf, runID := a.startRun(t)

	var opened, closed atomic.Int32
	a.runs.OnSession(func() { opened.Add(1) }, func() { closed.Add(1) })

	srv := httptest.NewServer(a.mux)
	defer srv.Close()
	ctx := testutil.TestContextWithTimeout(t, 5*time.Second)

	conn, _, err := websocket.Dial(ctx, wsURL(srv, "/api/v1/runs/"+runID+"/frames"), nil)
	require.NoError(t, err)
	defer conn.CloseNow()

	// 初始画面：所有节点 pending
	_, data, err := conn.Read(ctx)
	require.NoError(t, err)
	var frame projection.DrawableGraph
	require.NoError(t, json.Unmarshal(data, &frame))
	assert.Equal(t, execution.RunIdle, frame.RunStatus)
	assert.Len(t, frame.Nodes, 2)

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		a.ingest(t, runID,
			execution.NewRunStarted(wf.ID, 2),
			execution.NewNodeStarted("research"),
			execution.NewNodeCompleted("research", nil),
			execution.NewNodeStarted("write"),
			execution.NewNodeCompleted("write", nil),
			execution.NewRunCompleted(nil),
		)
	}()

	var last projection.DrawableGraph
	for {
		_, data, err := conn.Read(ctx)
		if err != nil {
			assert.Equal(t, websocket.StatusNormalClosure, websocket.CloseStatus(err))
			break
		}
		require.NoError(t, json.Unmarshal(data, &last))
	}
	wg.Wait()

	assert.Equal(t, execution.RunCompleted, last.RunStatus)
	assert.Equal(t, 1.0, last.Progress)
	for _, n := range last.Nodes {
		assert.Equal(t, execution.NodeCompleted, n.Status)
	}
	assert.Equal(t, int32(1), opened.Load())
	assert.Eventually(t, func() bool { return closed.Load() == 1 }, time.Second, 10*time.Millisecond)
}
