package api

import (
	"encoding/json"
	"time"

	"github.com/BaSui01/flowcanvas/workflow"
	"github.com/BaSui01/flowcanvas/workflow/execution"
	"github.com/BaSui01/flowcanvas/workflow/projection"
)

// =============================================================================
// 编辑会话类型
// =============================================================================

// CreateGraphRequest 创建编辑会话。Canvas 与 WorkflowID 至多设置一个：
// Canvas 导入画布文档，WorkflowID 把已保存的工作流重新打开到编辑器。
// @Description 创建编辑会话请求
type CreateGraphRequest struct {
	// 工作流名称
	Name string `json:"name,omitempty" example:"Research Pipeline"`
	// 工作流描述
	Description string `json:"description,omitempty"`
	// 画布文档
	Canvas *workflow.Canvas `json:"canvas,omitempty"`
	// 已保存的工作流 ID
	WorkflowID string `json:"workflow_id,omitempty" example:"research_pipeline"`
}

// GraphView 编辑会话快照
// @Description 编辑会话快照
type GraphView struct {
	// 会话 ID
	ID string `json:"id"`
	// 画布文档（节点、边、位置）
	Canvas *workflow.Canvas `json:"canvas"`
	// 创建时间
	CreatedAt time.Time `json:"created_at"`
}

// GraphSummary 编辑会话列表项
// @Description 编辑会话列表项
type GraphSummary struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	NodeCount int       `json:"node_count"`
	EdgeCount int       `json:"edge_count"`
	UpdatedAt time.Time `json:"updated_at"`
}

// AddNodeRequest 添加节点，ID 为空时自动分配
// @Description 添加节点请求
type AddNodeRequest struct {
	ID       string             `json:"id,omitempty" example:"research"`
	AgentRef string             `json:"agent_ref" example:"researcher" binding:"required"`
	Task     string             `json:"task,omitempty"`
	ToolRefs []string           `json:"tools,omitempty"`
	Label    string             `json:"label,omitempty"`
	Position *workflow.Position `json:"position,omitempty"`
}

// AssignToolRequest 为节点分配工具
// @Description 分配工具请求
type AssignToolRequest struct {
	Tool string `json:"tool" example:"web_search" binding:"required"`
}

// AddEdgeRequest 添加依赖边，Target 在 Source 完成后执行
// @Description 添加边请求
type AddEdgeRequest struct {
	Source string `json:"source" example:"research" binding:"required"`
	Target string `json:"target" example:"summarize" binding:"required"`
}

// CompileRequest 编译当前图并保存。字段为空时使用会话的名称与描述，
// ID 为空时由名称派生。
// @Description 编译请求
type CompileRequest struct {
	ID          string `json:"id,omitempty"`
	Name        string `json:"name,omitempty"`
	Description string `json:"description,omitempty"`
	// 仅编译不保存
	DryRun bool `json:"dry_run,omitempty"`
}

// =============================================================================
// 运行类型
// =============================================================================

// StartRunRequest 启动运行
// @Description 启动运行请求
type StartRunRequest struct {
	// 写入首个节点任务的用户查询
	Query string `json:"query,omitempty" example:"Summarize recent LLM papers"`
	// 透传给运行器的输入
	Input map[string]any `json:"input,omitempty"`
}

// IngestResponse 事件写入结果
// @Description 事件写入结果
type IngestResponse struct {
	RunID string `json:"run_id"`
	// 写入的事件数
	Accepted int `json:"accepted"`
	// 最后一条事件的偏移
	LastOffset uint64 `json:"last_offset"`
}

// RunStateResponse 归约后的运行状态与可视化帧
// @Description 运行状态
type RunStateResponse struct {
	RunID      string                    `json:"run_id"`
	WorkflowID string                    `json:"workflow_id"`
	State      *execution.RunState       `json:"state"`
	Frame      *projection.DrawableGraph `json:"frame"`
	Stats      execution.Stats           `json:"stats"`
	Events     int                       `json:"events"`
}

// =============================================================================
// 目录与健康类型
// =============================================================================

// RefListResponse Agent 或工具列表
// @Description 引用列表
type RefListResponse struct {
	Items []workflow.ResolvedRef `json:"items"`
}

// ServiceHealthResponse 服务健康状态
// @Description 服务健康状态
type ServiceHealthResponse struct {
	// healthy / unhealthy
	Status    string                 `json:"status"`
	Timestamp time.Time              `json:"timestamp"`
	Version   string                 `json:"version,omitempty"`
	Checks    map[string]CheckResult `json:"checks,omitempty"`
}

// CheckResult 单个检查结果
// @Description 健康检查结果
type CheckResult struct {
	// pass / fail
	Status  string `json:"status"`
	Message string `json:"message,omitempty"`
	Latency string `json:"latency,omitempty"`
	// 依赖自身的统计信息，例如数据库连接池
	Details any `json:"details,omitempty"`
}

// =============================================================================
// 错误类型
// =============================================================================

// ErrorDetail 错误详细信息
// @Description 错误详细结构
type ErrorDetail struct {
	// 错误代码
	Code string `json:"code" example:"COMPILE_FAILED"`
	// 人类可读的错误消息
	Message string `json:"message" example:"workflow graph contains a cycle"`
	// 请求是否可以重试
	Retryable bool `json:"retryable,omitempty"`
	// 结构化细节，例如冲突的节点或环路
	Details map[string]any `json:"details,omitempty"`
}

// Envelope 统一响应信封
// @Description 统一响应信封
type Envelope struct {
	Success   bool            `json:"success"`
	Data      json.RawMessage `json:"data,omitempty"`
	Error     *ErrorDetail    `json:"error,omitempty"`
	Timestamp time.Time       `json:"timestamp"`
	RequestID string          `json:"request_id,omitempty"`
}
