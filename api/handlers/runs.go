package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/coder/websocket"
	"go.uber.org/zap"

	"github.com/BaSui01/flowcanvas/api"
	"github.com/BaSui01/flowcanvas/types"
	"github.com/BaSui01/flowcanvas/workflow"
	"github.com/BaSui01/flowcanvas/workflow/execution"
	"github.com/BaSui01/flowcanvas/workflow/projection"
	"github.com/BaSui01/flowcanvas/workflow/transport"
)

// =============================================================================
// 🗂️ 运行索引
// =============================================================================

// RunRecord 运行与工作流的绑定
type RunRecord struct {
	RunID      string    `json:"run_id"`
	WorkflowID string    `json:"workflow_id"`
	StartedAt  time.Time `json:"started_at"`
}

// RunIndex 记录本实例启动或观察到的运行
type RunIndex struct {
	mu   sync.RWMutex
	runs map[string]RunRecord
}

// NewRunIndex 创建空索引
func NewRunIndex() *RunIndex {
	return &RunIndex{runs: make(map[string]RunRecord)}
}

// Put 登记运行
func (x *RunIndex) Put(rec RunRecord) {
	x.mu.Lock()
	x.runs[rec.RunID] = rec
	x.mu.Unlock()
}

// Get 查找运行
func (x *RunIndex) Get(runID string) (RunRecord, bool) {
	x.mu.RLock()
	defer x.mu.RUnlock()
	rec, ok := x.runs[runID]
	return rec, ok
}

// Len 返回已登记运行数
func (x *RunIndex) Len() int {
	x.mu.RLock()
	defer x.mu.RUnlock()
	return len(x.runs)
}

// =============================================================================
// 📡 运行事件 Handler
// =============================================================================

// RunsHandler 接收运行事件、返回归约状态，并通过 WebSocket 推送事件与画面帧
type RunsHandler struct {
	log     transport.EventLog
	store   workflow.Store
	index   *RunIndex
	labeler func(agentRef string) string
	logger  *zap.Logger

	onIngest      func(ev execution.Event)
	onOutcome     execution.OutcomeObserver
	onSessionOpen func()
	onSessionEnd  func()
}

// NewRunsHandler 创建运行处理器。index 可与 WorkflowsHandler 共享。
func NewRunsHandler(log transport.EventLog, store workflow.Store, index *RunIndex, labeler func(string) string, logger *zap.Logger) *RunsHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	if index == nil {
		index = NewRunIndex()
	}
	return &RunsHandler{
		log:     log,
		store:   store,
		index:   index,
		labeler: labeler,
		logger:  logger.With(zap.String("component", "runs_handler")),
	}
}

// OnIngest 注册事件入库回调
func (h *RunsHandler) OnIngest(fn func(ev execution.Event)) { h.onIngest = fn }

// OnOutcome 注册归约结果回调（状态查询与画面帧推送都会触发）
func (h *RunsHandler) OnOutcome(fn execution.OutcomeObserver) { h.onOutcome = fn }

// OnSession 注册画面帧会话的打开与关闭回调
func (h *RunsHandler) OnSession(opened, closed func()) {
	h.onSessionOpen, h.onSessionEnd = opened, closed
}

// Register 注册路由
func (h *RunsHandler) Register(mux *http.ServeMux) {
	mux.HandleFunc("POST /api/v1/runs/{runID}/events", h.HandleIngest)
	mux.HandleFunc("GET /api/v1/runs/{runID}/state", h.HandleState)
	mux.HandleFunc("GET /api/v1/runs/{runID}/stream", h.HandleStream)
	mux.HandleFunc("GET /api/v1/runs/{runID}/frames", h.HandleFrames)
}

// resolve 查找运行绑定的工作流。索引未命中时从事件日志的 run_started 恢复，
// 以便多实例共享 Redis 日志时任一实例都能服务该运行。
func (h *RunsHandler) resolve(ctx context.Context, runID string) (RunRecord, bool, error) {
	if rec, ok := h.index.Get(runID); ok {
		return rec, true, nil
	}
	entries, err := h.log.Read(ctx, runID, 0)
	if err != nil {
		return RunRecord{}, false, err
	}
	for _, e := range entries {
		if e.Event.Type == execution.EventRunStarted && e.Event.WorkflowID != "" {
			rec := RunRecord{RunID: runID, WorkflowID: e.Event.WorkflowID, StartedAt: time.Now()}
			h.index.Put(rec)
			return rec, true, nil
		}
	}
	return RunRecord{}, false, nil
}

func (h *RunsHandler) lookup(w http.ResponseWriter, r *http.Request) (RunRecord, *workflow.CompiledWorkflow, bool) {
	runID := r.PathValue("runID")
	rec, ok, err := h.resolve(r.Context(), runID)
	if err != nil {
		WriteFailure(w, err, types.ErrInternalError, h.logger)
		return RunRecord{}, nil, false
	}
	if !ok {
		WriteErrorMessage(w, http.StatusNotFound, types.ErrNotFound, "run not found: "+runID, h.logger)
		return RunRecord{}, nil, false
	}
	wf, err := h.store.Load(r.Context(), rec.WorkflowID)
	if err != nil {
		WriteFailure(w, err, types.ErrStoreError, h.logger)
		return RunRecord{}, nil, false
	}
	return rec, wf, true
}

func (h *RunsHandler) projectionOptions() []projection.Option {
	if h.labeler == nil {
		return nil
	}
	return []projection.Option{projection.WithLabeler(h.labeler)}
}

func (h *RunsHandler) observerOptions() []execution.ReducerOption {
	if h.onOutcome == nil {
		return nil
	}
	return []execution.ReducerOption{execution.WithOutcomeObserver(h.onOutcome)}
}

// HandleIngest 接收生产者事件
// @Summary 上报运行事件
// @Description 请求体为单个事件或事件数组，兼容旧版 runner 消息
// @Tags runs
// @Accept json
// @Produce json
// @Param runID path string true "运行 ID"
// @Success 202 {object} Response{data=api.IngestResponse}
// @Failure 400 {object} Response
// @Failure 404 {object} Response
// @Router /api/v1/runs/{runID}/events [post]
func (h *RunsHandler) HandleIngest(w http.ResponseWriter, r *http.Request) {
	runID := r.PathValue("runID")
	data, ok := h.readBody(w, r)
	if !ok {
		return
	}
	events, err := execution.Decode(data)
	if err != nil {
		WriteFailure(w, err, types.ErrInvalidRequest, h.logger)
		return
	}

	_, known, err := h.resolve(r.Context(), runID)
	if err != nil {
		WriteFailure(w, err, types.ErrInternalError, h.logger)
		return
	}
	if !known {
		// 外部启动的运行以首个 run_started 登记
		for _, ev := range events {
			if ev.Type == execution.EventRunStarted && ev.WorkflowID != "" {
				h.index.Put(RunRecord{RunID: runID, WorkflowID: ev.WorkflowID, StartedAt: time.Now()})
				known = true
				break
			}
		}
	}
	if !known {
		WriteErrorMessage(w, http.StatusNotFound, types.ErrNotFound, "run not found: "+runID, h.logger)
		return
	}

	resp := api.IngestResponse{RunID: runID}
	for _, ev := range events {
		entry, err := h.log.Append(r.Context(), runID, ev)
		if err != nil {
			WriteFailure(w, err, types.ErrInternalError, h.logger)
			return
		}
		resp.Accepted++
		resp.LastOffset = entry.Offset
		if h.onIngest != nil {
			h.onIngest(ev)
		}
	}

	h.logger.Debug("events ingested",
		zap.String("run_id", runID),
		zap.Int("accepted", resp.Accepted),
		zap.Uint64("last_offset", resp.LastOffset),
	)
	WriteStatus(w, http.StatusAccepted, resp)
}

func (h *RunsHandler) readBody(w http.ResponseWriter, r *http.Request) ([]byte, bool) {
	if r.Body == nil || r.Body == http.NoBody {
		WriteErrorMessage(w, http.StatusBadRequest, types.ErrInvalidRequest, "request body is empty", h.logger)
		return nil, false
	}
	return ReadBody(w, r, h.logger)
}

// HandleState 返回运行的归约状态与当前画面
// @Summary 运行状态
// @Tags runs
// @Produce json
// @Param runID path string true "运行 ID"
// @Success 200 {object} Response{data=api.RunStateResponse}
// @Failure 404 {object} Response
// @Router /api/v1/runs/{runID}/state [get]
func (h *RunsHandler) HandleState(w http.ResponseWriter, r *http.Request) {
	rec, wf, ok := h.lookup(w, r)
	if !ok {
		return
	}
	entries, err := h.log.Read(r.Context(), rec.RunID, 0)
	if err != nil {
		WriteFailure(w, err, types.ErrInternalError, h.logger)
		return
	}

	opts := append([]execution.ReducerOption{execution.WithWorkflow(wf)}, h.observerOptions()...)
	reducer := execution.NewReducer(h.logger, opts...)
	for _, e := range entries {
		reducer.Apply(e.Event)
	}
	state := reducer.State()

	WriteSuccess(w, api.RunStateResponse{
		RunID:      rec.RunID,
		WorkflowID: wf.ID,
		State:      state,
		Frame:      projection.ProjectCompiled(wf, state, h.projectionOptions()...),
		Stats:      reducer.Stats(),
		Events:     len(entries),
	})
}

// HandleStream 以 WebSocket 推送原始事件：先回放 from 之后的历史再跟随新事件，
// 运行结束后以正常关闭码关闭连接
// @Summary 运行事件流
// @Tags runs
// @Param runID path string true "运行 ID"
// @Param from query int false "起始偏移（不含）"
// @Success 101
// @Failure 404 {object} Response
// @Router /api/v1/runs/{runID}/stream [get]
func (h *RunsHandler) HandleStream(w http.ResponseWriter, r *http.Request) {
	runID := r.PathValue("runID")
	from, err := parseOffsetParam(r.URL.Query().Get("from"))
	if err != nil {
		WriteErrorMessage(w, http.StatusBadRequest, types.ErrInvalidRequest, "from must be a non-negative integer", h.logger)
		return
	}
	if _, ok, err := h.resolve(r.Context(), runID); err != nil {
		WriteFailure(w, err, types.ErrInternalError, h.logger)
		return
	} else if !ok {
		WriteErrorMessage(w, http.StatusNotFound, types.ErrNotFound, "run not found: "+runID, h.logger)
		return
	}

	conn, err := h.accept(w, r)
	if err != nil {
		return
	}
	defer conn.CloseNow()
	ctx := conn.CloseRead(r.Context())

	var seen uint64
	src := &transport.LogSource{Log: h.log, RunID: runID}
	err = src.Stream(ctx, func(ev execution.Event) error {
		seen++
		if seen <= from {
			return nil
		}
		data, err := execution.EncodeEvent(ev)
		if err != nil {
			return err
		}
		return conn.Write(ctx, websocket.MessageText, data)
	})
	h.finish(conn, runID, err)
}

// HandleFrames 以 WebSocket 推送投影后的画面帧。慢客户端只会收到最新一帧。
// @Summary 运行画面帧流
// @Tags runs
// @Param runID path string true "运行 ID"
// @Success 101
// @Failure 404 {object} Response
// @Router /api/v1/runs/{runID}/frames [get]
func (h *RunsHandler) HandleFrames(w http.ResponseWriter, r *http.Request) {
	rec, wf, ok := h.lookup(w, r)
	if !ok {
		return
	}
	conn, err := h.accept(w, r)
	if err != nil {
		return
	}
	defer conn.CloseNow()
	ctx := conn.CloseRead(r.Context())

	if h.onSessionOpen != nil {
		h.onSessionOpen()
	}
	if h.onSessionEnd != nil {
		defer h.onSessionEnd()
	}

	session := transport.NewSession(wf,
		&transport.LogSource{Log: h.log, RunID: rec.RunID},
		h.logger,
		transport.WithMaxReconnects(0),
		transport.WithProjection(h.projectionOptions()...),
		transport.WithReducerOptions(h.observerOptions()...),
	)
	defer session.Close()

	// 容量为 1：只保留最新一帧
	frames := make(chan *projection.DrawableGraph, 1)
	session.OnUpdate(func(frame *projection.DrawableGraph, _ execution.Event) {
		select {
		case <-frames:
		default:
		}
		frames <- frame
	})

	if err := h.writeFrame(ctx, conn, session.Snapshot()); err != nil {
		h.finish(conn, rec.RunID, err)
		return
	}
	if err := session.Start(ctx); err != nil {
		h.finish(conn, rec.RunID, err)
		return
	}
	done := make(chan error, 1)
	go func() { done <- session.Wait() }()

	for {
		select {
		case frame := <-frames:
			if err := h.writeFrame(ctx, conn, frame); err != nil {
				h.finish(conn, rec.RunID, err)
				return
			}
		case err := <-done:
			// 会话结束前可能还留有一帧
			select {
			case frame := <-frames:
				if werr := h.writeFrame(ctx, conn, frame); werr != nil {
					err = werr
				}
			default:
			}
			h.finish(conn, rec.RunID, err)
			return
		}
	}
}

func (h *RunsHandler) writeFrame(ctx context.Context, conn *websocket.Conn, frame *projection.DrawableGraph) error {
	data, err := json.Marshal(frame)
	if err != nil {
		return err
	}
	return conn.Write(ctx, websocket.MessageText, data)
}

func (h *RunsHandler) accept(w http.ResponseWriter, r *http.Request) (*websocket.Conn, error) {
	// 服务器的 WriteTimeout 不适用于长连接
	_ = http.NewResponseController(w).SetWriteDeadline(time.Time{})
	conn, err := websocket.Accept(w, r, nil)
	if err != nil {
		h.logger.Warn("websocket upgrade failed", zap.Error(err))
		return nil, err
	}
	return conn, nil
}

func (h *RunsHandler) finish(conn *websocket.Conn, runID string, err error) {
	switch {
	case err == nil:
		conn.Close(websocket.StatusNormalClosure, "run finished")
	case errors.Is(err, context.Canceled), websocket.CloseStatus(err) != -1:
		h.logger.Debug("stream client went away", zap.String("run_id", runID))
	default:
		h.logger.Warn("stream aborted", zap.String("run_id", runID), zap.Error(err))
		conn.Close(websocket.StatusInternalError, "stream aborted")
	}
}

func parseOffsetParam(v string) (uint64, error) {
	if v == "" {
		return 0, nil
	}
	return strconv.ParseUint(v, 10, 64)
}
