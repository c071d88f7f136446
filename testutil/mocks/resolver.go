package mocks

import (
	"context"
	"sync"

	"github.com/BaSui01/flowcanvas/workflow"
)

// MockResolver 是 workflow.Resolver 的内存实现，记录每次查询
type MockResolver struct {
	mu      sync.Mutex
	refs    map[string]workflow.ResolvedRef
	lookups []string
}

var _ workflow.Resolver = (*MockResolver)(nil)

// NewMockResolver 创建空的 MockResolver
func NewMockResolver() *MockResolver {
	return &MockResolver{refs: make(map[string]workflow.ResolvedRef)}
}

// WithAgent 注册 agent 引用
func (m *MockResolver) WithAgent(id, name string) *MockResolver {
	return m.with(workflow.ResolvedRef{ID: id, Kind: workflow.RefAgent, Name: name})
}

// WithTool 注册 tool 引用
func (m *MockResolver) WithTool(id, name string) *MockResolver {
	return m.with(workflow.ResolvedRef{ID: id, Kind: workflow.RefTool, Name: name})
}

func (m *MockResolver) with(ref workflow.ResolvedRef) *MockResolver {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.refs[ref.ID] = ref
	return m
}

// Resolve implements workflow.Resolver.
func (m *MockResolver) Resolve(_ context.Context, id string) (*workflow.ResolvedRef, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.lookups = append(m.lookups, id)
	ref, ok := m.refs[id]
	if !ok {
		return nil, false
	}
	return &ref, true
}

// Label 返回引用名称，未知引用返回 id
func (m *MockResolver) Label(id string) string {
	m.mu.Lock()
	defer m.mu.Unlock()
	if ref, ok := m.refs[id]; ok && ref.Name != "" {
		return ref.Name
	}
	return id
}

// Lookups 返回按顺序记录的查询 ID
func (m *MockResolver) Lookups() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.lookups...)
}
