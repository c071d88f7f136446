package handlers

import (
	"net/http"
	"strings"

	"go.uber.org/zap"

	"github.com/BaSui01/flowcanvas/api"
	"github.com/BaSui01/flowcanvas/types"
	"github.com/BaSui01/flowcanvas/workflow"
	"github.com/BaSui01/flowcanvas/workflow/invoker"
	"github.com/BaSui01/flowcanvas/workflow/persistence"
)

// =============================================================================
// 📚 已编译工作流 Handler
// =============================================================================

// WorkflowsHandler 浏览、删除已保存的工作流并启动运行
type WorkflowsHandler struct {
	store   workflow.Catalog
	invoker workflow.Invoker
	index   *RunIndex
	logger  *zap.Logger

	onRunStart func(err error)
}

// NewWorkflowsHandler 创建工作流处理器。invoker 为 nil 时不提供启动运行。
func NewWorkflowsHandler(store workflow.Catalog, inv workflow.Invoker, index *RunIndex, logger *zap.Logger) *WorkflowsHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	if index == nil {
		index = NewRunIndex()
	}
	return &WorkflowsHandler{
		store:   store,
		invoker: inv,
		index:   index,
		logger:  logger.With(zap.String("component", "workflows_handler")),
	}
}

// OnRunStart 注册启动运行结果回调
func (h *WorkflowsHandler) OnRunStart(fn func(err error)) { h.onRunStart = fn }

// Register 注册路由
func (h *WorkflowsHandler) Register(mux *http.ServeMux) {
	mux.HandleFunc("GET /api/v1/workflows", h.HandleList)
	mux.HandleFunc("GET /api/v1/workflows/{id}", h.HandleGet)
	mux.HandleFunc("DELETE /api/v1/workflows/{id}", h.HandleDelete)
	mux.HandleFunc("POST /api/v1/workflows/{id}/runs", h.HandleStartRun)
}

// HandleList 列出已保存的工作流摘要
// @Summary 列出工作流
// @Tags workflows
// @Produce json
// @Success 200 {object} Response{data=[]persistence.Summary}
// @Failure 500 {object} Response "STORE_ERROR"
// @Router /api/v1/workflows [get]
func (h *WorkflowsHandler) HandleList(w http.ResponseWriter, r *http.Request) {
	wfs, err := h.store.List(r.Context())
	if err != nil {
		WriteFailure(w, err, types.ErrStoreError, h.logger)
		return
	}
	out := make([]persistence.Summary, 0, len(wfs))
	for _, wf := range wfs {
		out = append(out, persistence.Summarize(wf))
	}
	WriteSuccess(w, out)
}

// HandleGet 获取工作流，format=yaml 时返回 YAML 文档
// @Summary 获取工作流
// @Tags workflows
// @Produce json
// @Produce application/yaml
// @Param id path string true "工作流 ID"
// @Param format query string false "json 或 yaml"
// @Success 200 {object} Response{data=workflow.CompiledWorkflow}
// @Failure 404 {object} Response
// @Router /api/v1/workflows/{id} [get]
func (h *WorkflowsHandler) HandleGet(w http.ResponseWriter, r *http.Request) {
	wf, err := h.store.Load(r.Context(), r.PathValue("id"))
	if err != nil {
		WriteFailure(w, err, types.ErrStoreError, h.logger)
		return
	}

	switch strings.ToLower(r.URL.Query().Get("format")) {
	case "", "json":
		WriteSuccess(w, wf)
	case "yaml", "yml":
		data, err := wf.ToYAML()
		if err != nil {
			WriteFailure(w, err, types.ErrInternalError, h.logger)
			return
		}
		w.Header().Set("Content-Type", "application/yaml; charset=utf-8")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write(data)
	default:
		WriteErrorMessage(w, http.StatusBadRequest, types.ErrInvalidRequest, "format must be json or yaml", h.logger)
	}
}

// HandleDelete 删除工作流
// @Summary 删除工作流
// @Tags workflows
// @Param id path string true "工作流 ID"
// @Success 200 {object} Response
// @Failure 404 {object} Response
// @Router /api/v1/workflows/{id} [delete]
func (h *WorkflowsHandler) HandleDelete(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if err := h.store.Delete(r.Context(), id); err != nil {
		WriteFailure(w, err, types.ErrStoreError, h.logger)
		return
	}
	h.logger.Info("workflow deleted", zap.String("workflow_id", id))
	WriteSuccess(w, map[string]string{"id": id})
}

// HandleStartRun 启动一次运行
// @Summary 启动运行
// @Description query 非空时替换首个节点的任务
// @Tags workflows
// @Accept json
// @Produce json
// @Param id path string true "工作流 ID"
// @Param request body api.StartRunRequest false "运行参数"
// @Success 202 {object} Response{data=workflow.RunHandle}
// @Failure 404 {object} Response
// @Failure 502 {object} Response "RUN_START_FAILED"
// @Router /api/v1/workflows/{id}/runs [post]
func (h *WorkflowsHandler) HandleStartRun(w http.ResponseWriter, r *http.Request) {
	if h.invoker == nil {
		WriteErrorMessage(w, http.StatusServiceUnavailable, types.ErrServiceUnavailable, "no runner configured", h.logger)
		return
	}
	var req api.StartRunRequest
	if err := DecodeJSONBody(w, r, &req, true, h.logger); err != nil {
		return
	}
	wf, err := h.store.Load(r.Context(), r.PathValue("id"))
	if err != nil {
		WriteFailure(w, err, types.ErrStoreError, h.logger)
		return
	}

	handle, err := h.invoker.StartRun(r.Context(), invoker.WithQuery(wf, req.Query), req.Input)
	if h.onRunStart != nil {
		h.onRunStart(err)
	}
	if err != nil {
		WriteFailure(w, err, types.ErrRunStartFailed, h.logger)
		return
	}

	h.index.Put(RunRecord{RunID: handle.RunID, WorkflowID: wf.ID, StartedAt: handle.StartedAt})
	h.logger.Info("run started",
		zap.String("workflow_id", wf.ID),
		zap.String("run_id", handle.RunID),
	)
	WriteStatus(w, http.StatusAccepted, handle)
}
