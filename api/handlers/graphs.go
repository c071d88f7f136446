package handlers

import (
	"net/http"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/BaSui01/flowcanvas/api"
	"github.com/BaSui01/flowcanvas/types"
	"github.com/BaSui01/flowcanvas/workflow"
	"github.com/BaSui01/flowcanvas/workflow/projection"
)

// =============================================================================
// ✏️ 编辑会话 Handler
// =============================================================================

// GraphsHandler 管理编辑器会话。每个会话持有一个可变 Graph，
// 逐条应用节点与边的编辑操作，编译后保存到工作流存储。
type GraphsHandler struct {
	compiler *workflow.Compiler
	store    workflow.Store
	labeler  func(agentRef string) string
	logger   *zap.Logger

	mu       sync.RWMutex
	sessions map[string]*editorSession
}

// editorSession 单个编辑会话，Graph 非并发安全，由 mu 串行化
type editorSession struct {
	mu          sync.Mutex
	id          string
	graph       *workflow.Graph
	name        string
	description string
	createdAt   time.Time
	updatedAt   time.Time
}

func (s *editorSession) view() api.GraphView {
	c := workflow.ExportCanvas(s.graph, s.id, s.name, s.description)
	c.UpdatedAt = s.updatedAt
	return api.GraphView{ID: s.id, Canvas: c, CreatedAt: s.createdAt}
}

func (s *editorSession) touch() { s.updatedAt = time.Now() }

// NewGraphsHandler 创建编辑会话处理器。labeler 可为 nil。
func NewGraphsHandler(compiler *workflow.Compiler, store workflow.Store, labeler func(string) string, logger *zap.Logger) *GraphsHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	if compiler == nil {
		compiler = workflow.NewCompiler()
	}
	return &GraphsHandler{
		compiler: compiler,
		store:    store,
		labeler:  labeler,
		logger:   logger.With(zap.String("component", "graphs_handler")),
		sessions: make(map[string]*editorSession),
	}
}

// Register 注册路由
func (h *GraphsHandler) Register(mux *http.ServeMux) {
	mux.HandleFunc("POST /api/v1/graphs", h.HandleCreate)
	mux.HandleFunc("GET /api/v1/graphs", h.HandleList)
	mux.HandleFunc("GET /api/v1/graphs/{id}", h.HandleGet)
	mux.HandleFunc("DELETE /api/v1/graphs/{id}", h.HandleDelete)
	mux.HandleFunc("POST /api/v1/graphs/{id}/nodes", h.HandleAddNode)
	mux.HandleFunc("PATCH /api/v1/graphs/{id}/nodes/{nodeID}", h.HandleUpdateNode)
	mux.HandleFunc("DELETE /api/v1/graphs/{id}/nodes/{nodeID}", h.HandleRemoveNode)
	mux.HandleFunc("POST /api/v1/graphs/{id}/nodes/{nodeID}/tools", h.HandleAssignTool)
	mux.HandleFunc("POST /api/v1/graphs/{id}/edges", h.HandleAddEdge)
	mux.HandleFunc("DELETE /api/v1/graphs/{id}/edges/{edgeID}", h.HandleRemoveEdge)
	mux.HandleFunc("POST /api/v1/graphs/{id}/compile", h.HandleCompile)
	mux.HandleFunc("GET /api/v1/graphs/{id}/layout", h.HandleLayout)
}

// Len 返回打开的会话数
func (h *GraphsHandler) Len() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.sessions)
}

func (h *GraphsHandler) session(w http.ResponseWriter, r *http.Request) (*editorSession, bool) {
	id := r.PathValue("id")
	h.mu.RLock()
	s, ok := h.sessions[id]
	h.mu.RUnlock()
	if !ok {
		WriteErrorMessage(w, http.StatusNotFound, types.ErrNotFound, "graph session not found: "+id, h.logger)
		return nil, false
	}
	return s, true
}

// =============================================================================
// 🎯 会话生命周期
// =============================================================================

// HandleCreate 创建编辑会话
// @Summary 创建编辑会话
// @Description 新建空图，或导入画布文档，或打开已保存的工作流
// @Tags graphs
// @Accept json
// @Produce json
// @Param request body api.CreateGraphRequest false "创建参数"
// @Success 201 {object} Response{data=api.GraphView}
// @Failure 400 {object} Response
// @Failure 404 {object} Response
// @Router /api/v1/graphs [post]
func (h *GraphsHandler) HandleCreate(w http.ResponseWriter, r *http.Request) {
	var req api.CreateGraphRequest
	if err := DecodeJSONBody(w, r, &req, true, h.logger); err != nil {
		return
	}
	if req.Canvas != nil && req.WorkflowID != "" {
		WriteErrorMessage(w, http.StatusBadRequest, types.ErrInvalidRequest,
			"canvas and workflow_id are mutually exclusive", h.logger)
		return
	}

	now := time.Now()
	s := &editorSession{
		id:          uuid.NewString(),
		graph:       workflow.NewGraph(),
		name:        strings.TrimSpace(req.Name),
		description: req.Description,
		createdAt:   now,
		updatedAt:   now,
	}

	switch {
	case req.Canvas != nil:
		g, err := workflow.LoadCanvas(req.Canvas)
		if err != nil {
			WriteFailure(w, err, types.ErrInvalidRequest, h.logger)
			return
		}
		s.graph = g
		if s.name == "" {
			s.name = req.Canvas.Name
		}
		if s.description == "" {
			s.description = req.Canvas.Description
		}
	case req.WorkflowID != "":
		if h.store == nil {
			WriteErrorMessage(w, http.StatusServiceUnavailable, types.ErrServiceUnavailable, "no workflow store configured", h.logger)
			return
		}
		wf, err := h.store.Load(r.Context(), req.WorkflowID)
		if err != nil {
			WriteFailure(w, err, types.ErrStoreError, h.logger)
			return
		}
		s.graph = workflow.GraphFromCompiled(wf)
		if s.name == "" {
			s.name = wf.Name
		}
		if s.description == "" {
			s.description = wf.Description
		}
	}

	h.mu.Lock()
	h.sessions[s.id] = s
	h.mu.Unlock()

	h.logger.Info("graph session opened",
		zap.String("graph_id", s.id),
		zap.String("workflow_id", req.WorkflowID),
		zap.Int("nodes", s.graph.Len()),
	)
	WriteStatus(w, http.StatusCreated, s.view())
}

// HandleList 列出编辑会话
// @Summary 列出编辑会话
// @Tags graphs
// @Produce json
// @Success 200 {object} Response{data=[]api.GraphSummary}
// @Router /api/v1/graphs [get]
func (h *GraphsHandler) HandleList(w http.ResponseWriter, r *http.Request) {
	h.mu.RLock()
	sessions := make([]*editorSession, 0, len(h.sessions))
	for _, s := range h.sessions {
		sessions = append(sessions, s)
	}
	h.mu.RUnlock()

	out := make([]api.GraphSummary, 0, len(sessions))
	for _, s := range sessions {
		s.mu.Lock()
		out = append(out, api.GraphSummary{
			ID:        s.id,
			Name:      s.name,
			NodeCount: s.graph.Len(),
			EdgeCount: len(s.graph.Edges()),
			UpdatedAt: s.updatedAt,
		})
		s.mu.Unlock()
	}
	slices.SortFunc(out, func(a, b api.GraphSummary) int {
		if c := b.UpdatedAt.Compare(a.UpdatedAt); c != 0 {
			return c
		}
		return strings.Compare(a.ID, b.ID)
	})
	WriteSuccess(w, out)
}

// HandleGet 获取会话快照
// @Summary 获取编辑会话
// @Tags graphs
// @Produce json
// @Param id path string true "会话 ID"
// @Success 200 {object} Response{data=api.GraphView}
// @Failure 404 {object} Response
// @Router /api/v1/graphs/{id} [get]
func (h *GraphsHandler) HandleGet(w http.ResponseWriter, r *http.Request) {
	s, ok := h.session(w, r)
	if !ok {
		return
	}
	s.mu.Lock()
	view := s.view()
	s.mu.Unlock()
	WriteSuccess(w, view)
}

// HandleDelete 关闭编辑会话，已保存的工作流不受影响
// @Summary 关闭编辑会话
// @Tags graphs
// @Param id path string true "会话 ID"
// @Success 200 {object} Response
// @Failure 404 {object} Response
// @Router /api/v1/graphs/{id} [delete]
func (h *GraphsHandler) HandleDelete(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	h.mu.Lock()
	_, ok := h.sessions[id]
	delete(h.sessions, id)
	h.mu.Unlock()
	if !ok {
		WriteErrorMessage(w, http.StatusNotFound, types.ErrNotFound, "graph session not found: "+id, h.logger)
		return
	}
	h.logger.Info("graph session closed", zap.String("graph_id", id))
	WriteSuccess(w, map[string]string{"id": id})
}

// =============================================================================
// 🧱 节点与边编辑
// =============================================================================

// HandleAddNode 添加节点
// @Summary 添加节点
// @Tags graphs
// @Accept json
// @Produce json
// @Param id path string true "会话 ID"
// @Param request body api.AddNodeRequest true "节点"
// @Success 201 {object} Response{data=workflow.Node}
// @Failure 400 {object} Response
// @Failure 409 {object} Response "节点 ID 重复"
// @Router /api/v1/graphs/{id}/nodes [post]
func (h *GraphsHandler) HandleAddNode(w http.ResponseWriter, r *http.Request) {
	s, ok := h.session(w, r)
	if !ok {
		return
	}
	var req api.AddNodeRequest
	if err := DecodeJSONBody(w, r, &req, false, h.logger); err != nil {
		return
	}
	req.ID = strings.TrimSpace(req.ID)
	if strings.TrimSpace(req.AgentRef) == "" {
		WriteErrorMessage(w, http.StatusBadRequest, types.ErrInvalidRequest, "agent_ref is required", h.logger)
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	var node workflow.Node
	if req.ID == "" {
		node = s.graph.AddNode(req.AgentRef)
	} else {
		n, err := s.graph.AddNodeWithID(req.ID, req.AgentRef)
		if err != nil {
			WriteFailure(w, err, types.ErrInvalidRequest, h.logger)
			return
		}
		node = n
	}

	patch := workflow.NodePatch{Position: req.Position}
	if req.Task != "" {
		patch.Task = &req.Task
	}
	if req.ToolRefs != nil {
		patch.ToolRefs = &req.ToolRefs
	}
	if req.Label != "" {
		patch.Label = &req.Label
	}
	if err := s.graph.UpdateNode(node.ID, patch); err != nil {
		WriteFailure(w, err, types.ErrInternalError, h.logger)
		return
	}
	s.touch()

	node, _ = s.graph.Node(node.ID)
	WriteStatus(w, http.StatusCreated, node)
}

// HandleUpdateNode 局部更新节点
// @Summary 更新节点
// @Tags graphs
// @Accept json
// @Produce json
// @Param id path string true "会话 ID"
// @Param nodeID path string true "节点 ID"
// @Param request body workflow.NodePatch true "变更字段"
// @Success 200 {object} Response{data=workflow.Node}
// @Failure 404 {object} Response
// @Router /api/v1/graphs/{id}/nodes/{nodeID} [patch]
func (h *GraphsHandler) HandleUpdateNode(w http.ResponseWriter, r *http.Request) {
	s, ok := h.session(w, r)
	if !ok {
		return
	}
	var patch workflow.NodePatch
	if err := DecodeJSONBody(w, r, &patch, false, h.logger); err != nil {
		return
	}
	if patch.AgentRef != nil && strings.TrimSpace(*patch.AgentRef) == "" {
		WriteErrorMessage(w, http.StatusBadRequest, types.ErrInvalidRequest, "agent_ref cannot be empty", h.logger)
		return
	}

	nodeID := r.PathValue("nodeID")
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.graph.UpdateNode(nodeID, patch); err != nil {
		WriteFailure(w, err, types.ErrInvalidRequest, h.logger)
		return
	}
	s.touch()
	node, _ := s.graph.Node(nodeID)
	WriteSuccess(w, node)
}

// HandleRemoveNode 删除节点及其关联边
// @Summary 删除节点
// @Tags graphs
// @Param id path string true "会话 ID"
// @Param nodeID path string true "节点 ID"
// @Success 200 {object} Response
// @Failure 404 {object} Response
// @Router /api/v1/graphs/{id}/nodes/{nodeID} [delete]
func (h *GraphsHandler) HandleRemoveNode(w http.ResponseWriter, r *http.Request) {
	s, ok := h.session(w, r)
	if !ok {
		return
	}
	nodeID := r.PathValue("nodeID")
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.graph.RemoveNode(nodeID); err != nil {
		WriteFailure(w, err, types.ErrInvalidRequest, h.logger)
		return
	}
	s.touch()
	WriteSuccess(w, map[string]string{"id": nodeID})
}

// HandleAssignTool 为节点分配工具，重复分配无副作用
// @Summary 分配工具
// @Tags graphs
// @Accept json
// @Produce json
// @Param id path string true "会话 ID"
// @Param nodeID path string true "节点 ID"
// @Param request body api.AssignToolRequest true "工具"
// @Success 200 {object} Response{data=workflow.Node}
// @Failure 404 {object} Response
// @Router /api/v1/graphs/{id}/nodes/{nodeID}/tools [post]
func (h *GraphsHandler) HandleAssignTool(w http.ResponseWriter, r *http.Request) {
	s, ok := h.session(w, r)
	if !ok {
		return
	}
	var req api.AssignToolRequest
	if err := DecodeJSONBody(w, r, &req, false, h.logger); err != nil {
		return
	}
	tool := strings.TrimSpace(req.Tool)
	if tool == "" {
		WriteErrorMessage(w, http.StatusBadRequest, types.ErrInvalidRequest, "tool is required", h.logger)
		return
	}

	nodeID := r.PathValue("nodeID")
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.graph.AssignTool(nodeID, tool); err != nil {
		WriteFailure(w, err, types.ErrInvalidRequest, h.logger)
		return
	}
	s.touch()
	node, _ := s.graph.Node(nodeID)
	WriteSuccess(w, node)
}

// HandleAddEdge 添加依赖边，拒绝自环、未知端点与成环
// @Summary 添加边
// @Tags graphs
// @Accept json
// @Produce json
// @Param id path string true "会话 ID"
// @Param request body api.AddEdgeRequest true "边"
// @Success 201 {object} Response{data=workflow.Edge}
// @Failure 422 {object} Response "GRAPH_INVALID_EDGE"
// @Router /api/v1/graphs/{id}/edges [post]
func (h *GraphsHandler) HandleAddEdge(w http.ResponseWriter, r *http.Request) {
	s, ok := h.session(w, r)
	if !ok {
		return
	}
	var req api.AddEdgeRequest
	if err := DecodeJSONBody(w, r, &req, false, h.logger); err != nil {
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	edge, err := s.graph.AddEdge(req.Source, req.Target)
	if err != nil {
		WriteFailure(w, err, types.ErrInvalidRequest, h.logger)
		return
	}
	s.touch()
	WriteStatus(w, http.StatusCreated, edge)
}

// HandleRemoveEdge 删除边
// @Summary 删除边
// @Tags graphs
// @Param id path string true "会话 ID"
// @Param edgeID path string true "边 ID"
// @Success 200 {object} Response
// @Failure 404 {object} Response
// @Router /api/v1/graphs/{id}/edges/{edgeID} [delete]
func (h *GraphsHandler) HandleRemoveEdge(w http.ResponseWriter, r *http.Request) {
	s, ok := h.session(w, r)
	if !ok {
		return
	}
	edgeID := r.PathValue("edgeID")
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.graph.RemoveEdge(edgeID); err != nil {
		WriteFailure(w, err, types.ErrInvalidRequest, h.logger)
		return
	}
	s.touch()
	WriteSuccess(w, map[string]string{"id": edgeID})
}

// =============================================================================
// 🛠️ 编译与布局
// =============================================================================

// HandleCompile 编译会话图并保存
// @Summary 编译工作流
// @Tags graphs
// @Accept json
// @Produce json
// @Param id path string true "会话 ID"
// @Param request body api.CompileRequest false "编译参数"
// @Success 201 {object} Response{data=workflow.CompiledWorkflow} "已保存"
// @Success 200 {object} Response{data=workflow.CompiledWorkflow} "dry_run"
// @Failure 422 {object} Response "COMPILE_FAILED"
// @Failure 500 {object} Response "STORE_ERROR"
// @Router /api/v1/graphs/{id}/compile [post]
func (h *GraphsHandler) HandleCompile(w http.ResponseWriter, r *http.Request) {
	s, ok := h.session(w, r)
	if !ok {
		return
	}
	var req api.CompileRequest
	if err := DecodeJSONBody(w, r, &req, true, h.logger); err != nil {
		return
	}

	s.mu.Lock()
	g := s.graph.Clone()
	name, description := s.name, s.description
	s.mu.Unlock()
	if req.Name != "" {
		name = req.Name
	}
	if req.Description != "" {
		description = req.Description
	}

	wf, err := h.compiler.CompileWithID(r.Context(), req.ID, g, name, description)
	if err != nil {
		WriteFailure(w, err, types.ErrCompileFailed, h.logger)
		return
	}

	if req.DryRun {
		WriteSuccess(w, wf)
		return
	}
	if h.store == nil {
		WriteErrorMessage(w, http.StatusServiceUnavailable, types.ErrServiceUnavailable, "no workflow store configured", h.logger)
		return
	}
	if err := h.store.Save(r.Context(), wf); err != nil {
		WriteFailure(w, err, types.ErrStoreError, h.logger)
		return
	}

	// 保存成功后会话才采用新的名称与描述
	s.mu.Lock()
	s.name, s.description = wf.Name, wf.Description
	s.touch()
	s.mu.Unlock()

	h.logger.Info("workflow saved",
		zap.String("graph_id", s.id),
		zap.String("workflow_id", wf.ID),
		zap.String("type", string(wf.Type)),
	)
	WriteStatus(w, http.StatusCreated, wf)
}

// HandleLayout 返回未绑定运行的布局（所有节点 pending）
// @Summary 图布局
// @Tags graphs
// @Produce json
// @Param id path string true "会话 ID"
// @Success 200 {object} Response{data=projection.DrawableGraph}
// @Router /api/v1/graphs/{id}/layout [get]
func (h *GraphsHandler) HandleLayout(w http.ResponseWriter, r *http.Request) {
	s, ok := h.session(w, r)
	if !ok {
		return
	}
	s.mu.Lock()
	g := s.graph.Clone()
	s.mu.Unlock()

	var opts []projection.Option
	if h.labeler != nil {
		opts = append(opts, projection.WithLabeler(h.labeler))
	}
	WriteSuccess(w, projection.Project(g, nil, opts...))
}
