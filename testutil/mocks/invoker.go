// MockInvoker 的工作流执行端测试模拟实现。
//
// 支持固定 run ID、错误注入与调用记录。
package mocks

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/BaSui01/flowcanvas/workflow"
)

// --- MockInvoker 结构 ---

// MockInvoker 是 workflow.Invoker 的模拟实现
type MockInvoker struct {
	mu sync.Mutex

	streamBase string
	err        error
	failAfter  int // 在第 N 次调用后失败，0 表示不启用
	calls      []MockInvokerCall
}

// MockInvokerCall 记录单次 StartRun 调用
type MockInvokerCall struct {
	WorkflowID string
	Input      map[string]any
	Handle     *workflow.RunHandle
	Error      error
}

var _ workflow.Invoker = (*MockInvoker)(nil)

// --- 构造函数和 Builder 方法 ---

// NewMockInvoker 创建新的 MockInvoker，run ID 依次为 run-1、run-2 ...
func NewMockInvoker() *MockInvoker {
	return &MockInvoker{}
}

// WithError 设置返回错误
func (m *MockInvoker) WithError(err error) *MockInvoker {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.err = err
	return m
}

// WithFailAfter 前 n 次调用成功，之后返回 err
func (m *MockInvoker) WithFailAfter(n int, err error) *MockInvoker {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failAfter = n
	m.err = err
	return m
}

// WithStreamBase 设置 RunHandle.StreamURL 前缀
func (m *MockInvoker) WithStreamBase(base string) *MockInvoker {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.streamBase = base
	return m
}

// --- 接口实现 ---

// StartRun implements workflow.Invoker.
func (m *MockInvoker) StartRun(ctx context.Context, w *workflow.CompiledWorkflow, input map[string]any) (*workflow.RunHandle, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	call := MockInvokerCall{WorkflowID: w.ID, Input: input}
	n := len(m.calls) + 1
	if m.err != nil && (m.failAfter == 0 || n > m.failAfter) {
		call.Error = m.err
		m.calls = append(m.calls, call)
		return nil, m.err
	}

	runID := fmt.Sprintf("run-%d", n)
	call.Handle = &workflow.RunHandle{
		RunID:      runID,
		WorkflowID: w.ID,
		StartedAt:  time.Now(),
	}
	if m.streamBase != "" {
		call.Handle.StreamURL = m.streamBase + "/api/v1/runs/" + runID + "/stream"
	}
	m.calls = append(m.calls, call)
	return call.Handle, nil
}

// --- 调用记录 ---

// Calls 返回所有调用记录的副本
func (m *MockInvoker) Calls() []MockInvokerCall {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]MockInvokerCall(nil), m.calls...)
}

// CallCount 返回调用次数
func (m *MockInvoker) CallCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.calls)
}
