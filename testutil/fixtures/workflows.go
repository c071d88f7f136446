// =============================================================================
// 📦 测试数据工厂 - 工作流与事件
// =============================================================================
// research -> write 两节点工作流贯穿所有测试：画布、编译产物、
// 事件序列与目录定义保持一致
// =============================================================================
package fixtures

import (
	"context"
	"testing"

	"github.com/BaSui01/flowcanvas/testutil"
	"github.com/BaSui01/flowcanvas/workflow"
	"github.com/BaSui01/flowcanvas/workflow/execution"
)

// ResearchWorkflowID 是 ResearchWorkflow 编译后的工作流 ID
const ResearchWorkflowID = "research_flow"

// =============================================================================
// 🎨 画布
// =============================================================================

// ResearchCanvas 返回 research -> write 画布文档
func ResearchCanvas() *workflow.Canvas {
	return &workflow.Canvas{
		Name:        "Research Flow",
		Description: "search then write",
		Nodes: []workflow.CanvasNode{
			{ID: "research", AgentRef: "researcher", ToolRefs: []string{"web_search"}, Position: workflow.Position{X: 0, Y: 0}},
			{ID: "write", AgentRef: "writer", Position: workflow.Position{X: 240, Y: 0}},
		},
		Edges: []workflow.Edge{
			{ID: workflow.EdgeID("research", "write"), Source: "research", Target: "write"},
		},
	}
}

// ResearchCanvasJSON 返回编码后的 ResearchCanvas
func ResearchCanvasJSON(t *testing.T) []byte {
	t.Helper()
	data, err := ResearchCanvas().JSON()
	if err != nil {
		t.Fatalf("failed to encode canvas: %v", err)
	}
	return data
}

// ResearchGraph 返回 ResearchCanvas 对应的可编辑图
func ResearchGraph(t *testing.T) *workflow.Graph {
	t.Helper()
	g, err := workflow.LoadCanvas(ResearchCanvas())
	if err != nil {
		t.Fatalf("failed to load canvas: %v", err)
	}
	return g
}

// ResearchWorkflow 返回编译后的 research_flow 工作流
func ResearchWorkflow(t *testing.T) *workflow.CompiledWorkflow {
	t.Helper()
	wf, err := workflow.NewCompiler().CompileWithID(context.Background(),
		ResearchWorkflowID, ResearchGraph(t), "Research Flow", "search then write")
	if err != nil {
		t.Fatalf("failed to compile research flow: %v", err)
	}
	return wf
}

// =============================================================================
// 📨 事件序列
// =============================================================================

// ResearchEvents 返回一次成功运行的完整事件序列
func ResearchEvents(workflowID string) []execution.Event {
	return []execution.Event{
		execution.NewRunStarted(workflowID, 2),
		execution.NewNodeStarted("research"),
		execution.NewNodeMessage("research", "web_search", "searching"),
		execution.NewNodeCompleted("research", "notes"),
		execution.NewNodeStarted("write"),
		execution.NewNodeCompleted("write", "report"),
		execution.NewRunCompleted("done"),
	}
}

// FailedResearchEvents 返回 write 节点失败的事件序列
func FailedResearchEvents(workflowID string) []execution.Event {
	return []execution.Event{
		execution.NewRunStarted(workflowID, 2),
		execution.NewNodeStarted("research"),
		execution.NewNodeMessage("research", "web_search", "searching"),
		execution.NewNodeCompleted("research", "notes"),
		execution.NewNodeStarted("write"),
		execution.NewNodeFailed("write", "model timeout"),
		execution.NewRunFailed("write failed"),
	}
}

// =============================================================================
// 📚 目录
// =============================================================================

// CatalogFiles 是 researcher、writer 与 web_search 的目录定义
var CatalogFiles = map[string]string{
	"agents/researcher.yaml": "id: researcher\nname: Research Agent\ntools: [web_search]\n",
	"agents/writer.yaml":     "id: writer\nname: Writer\n",
	"tools/web_search.yaml":  "id: web_search\nname: Web Search\ntype: api\n",
}

// WriteCatalog 在临时目录写入 CatalogFiles 并返回目录路径
func WriteCatalog(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	testutil.WriteFiles(t, dir, CatalogFiles)
	return dir
}
