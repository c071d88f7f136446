package handlers

import (
	"net/http"

	"go.uber.org/zap"

	"github.com/BaSui01/flowcanvas/api"
	"github.com/BaSui01/flowcanvas/types"
	"github.com/BaSui01/flowcanvas/workflow"
)

// RefLister 列出某类引用
type RefLister interface {
	List(kind workflow.RefKind) []workflow.ResolvedRef
}

// CatalogHandler 暴露编辑器可选的 Agent 与工具
type CatalogHandler struct {
	refs   RefLister
	logger *zap.Logger
}

// NewCatalogHandler 创建目录处理器
func NewCatalogHandler(refs RefLister, logger *zap.Logger) *CatalogHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &CatalogHandler{refs: refs, logger: logger.With(zap.String("component", "catalog_handler"))}
}

// Register 注册路由
func (h *CatalogHandler) Register(mux *http.ServeMux) {
	mux.HandleFunc("GET /api/v1/agents", h.HandleAgents)
	mux.HandleFunc("GET /api/v1/tools", h.HandleTools)
}

// HandleAgents 列出 Agent
// @Summary 列出 Agent
// @Tags catalog
// @Produce json
// @Success 200 {object} Response{data=api.RefListResponse}
// @Router /api/v1/agents [get]
func (h *CatalogHandler) HandleAgents(w http.ResponseWriter, r *http.Request) {
	h.list(w, workflow.RefAgent)
}

// HandleTools 列出工具
// @Summary 列出工具
// @Tags catalog
// @Produce json
// @Success 200 {object} Response{data=api.RefListResponse}
// @Router /api/v1/tools [get]
func (h *CatalogHandler) HandleTools(w http.ResponseWriter, r *http.Request) {
	h.list(w, workflow.RefTool)
}

func (h *CatalogHandler) list(w http.ResponseWriter, kind workflow.RefKind) {
	if h.refs == nil {
		WriteErrorMessage(w, http.StatusServiceUnavailable, types.ErrServiceUnavailable, "no catalog configured", h.logger)
		return
	}
	items := h.refs.List(kind)
	if items == nil {
		items = []workflow.ResolvedRef{}
	}
	WriteSuccess(w, api.RefListResponse{Items: items})
}
