package workflow

import (
	"fmt"
	"slices"
)

// WorkflowType classifies the dependency shape of a compiled workflow.
type WorkflowType string

const (
	// WorkflowSequence is a single linear chain.
	WorkflowSequence WorkflowType = "sequence"
	// WorkflowDAG is any other acyclic shape.
	WorkflowDAG WorkflowType = "dag"
)

// FormatVersion is written into every compiled workflow.
const FormatVersion = "v1"

// CompiledNode is one step of a compiled workflow.
type CompiledNode struct {
	ID           string   `json:"id" yaml:"id"`
	AgentRef     string   `json:"agent_ref" yaml:"agent_ref"`
	Task         string   `json:"task" yaml:"task"`
	ToolRefs     []string `json:"tools" yaml:"tools"`
	Dependencies []string `json:"dependencies" yaml:"dependencies"`
}

// CompiledWorkflow is the read-only artifact produced by the compiler and
// exchanged with stores and runners. Nodes are in stable topological order.
type CompiledWorkflow struct {
	ID          string         `json:"id" yaml:"id"`
	Name        string         `json:"name" yaml:"name"`
	Description string         `json:"description" yaml:"description"`
	Type        WorkflowType   `json:"type" yaml:"type"`
	Nodes       []CompiledNode `json:"nodes" yaml:"nodes"`
	Version     string         `json:"version" yaml:"version"`
}

// Node returns the compiled node with the given id.
func (w *CompiledWorkflow) Node(id string) (CompiledNode, bool) {
	for _, n := range w.Nodes {
		if n.ID == id {
			return n, true
		}
	}
	return CompiledNode{}, false
}

// NodeIDs returns node ids in compiled order.
func (w *CompiledWorkflow) NodeIDs() []string {
	ids := make([]string, len(w.Nodes))
	for i, n := range w.Nodes {
		ids[i] = n.ID
	}
	return ids
}

// Clone returns a deep copy.
func (w *CompiledWorkflow) Clone() *CompiledWorkflow {
	c := *w
	c.Nodes = make([]CompiledNode, len(w.Nodes))
	for i, n := range w.Nodes {
		n.ToolRefs = slices.Clone(n.ToolRefs)
		n.Dependencies = slices.Clone(n.Dependencies)
		c.Nodes[i] = n
	}
	return &c
}

// classify returns sequence when the nodes form one linear chain: at most
// one dependency and at most one dependant per node, and exactly one root.
func classify(nodes []CompiledNode) WorkflowType {
	dependants := make(map[string]int, len(nodes))
	roots := 0
	for _, n := range nodes {
		if len(n.Dependencies) > 1 {
			return WorkflowDAG
		}
		if len(n.Dependencies) == 0 {
			roots++
		}
		for _, d := range n.Dependencies {
			dependants[d]++
			if dependants[d] > 1 {
				return WorkflowDAG
			}
		}
	}
	if roots != 1 {
		return WorkflowDAG
	}
	return WorkflowSequence
}

// ValidateCompiled checks a compiled workflow that did not come straight
// from the compiler, e.g. one read back from storage.
func ValidateCompiled(w *CompiledWorkflow) error {
	if w == nil {
		return fmt.Errorf("workflow is nil")
	}
	if w.ID == "" {
		return fmt.Errorf("workflow id is required")
	}
	if w.Name == "" {
		return ErrMissingName
	}
	if len(w.Nodes) == 0 {
		return ErrEmptyGraph
	}
	if w.Type != WorkflowSequence && w.Type != WorkflowDAG {
		return fmt.Errorf("invalid workflow type: %q", w.Type)
	}

	// Dependencies must precede their dependants; this also rules out cycles.
	seen := make(map[string]bool, len(w.Nodes))
	ids := make(map[string]bool, len(w.Nodes))
	for _, n := range w.Nodes {
		if n.ID == "" {
			return fmt.Errorf("node id is required")
		}
		if ids[n.ID] {
			return fmt.Errorf("%w: %s", ErrDuplicateNode, n.ID)
		}
		ids[n.ID] = true
	}
	for _, n := range w.Nodes {
		for _, dep := range n.Dependencies {
			if !ids[dep] {
				return fmt.Errorf("node %s: %w: %q", n.ID, ErrDanglingEdge, dep)
			}
			if !seen[dep] {
				return fmt.Errorf("node %s: dependency %s is not ordered before it: %w", n.ID, dep, ErrCyclicGraph)
			}
		}
		seen[n.ID] = true
	}
	return nil
}

// GraphFromCompiled rebuilds an editable graph from a compiled workflow.
// Edges are inserted without validation.
func GraphFromCompiled(w *CompiledWorkflow) *Graph {
	g := NewGraph()
	for _, n := range w.Nodes {
		_ = g.PutNode(Node{ID: n.ID, AgentRef: n.AgentRef, Task: n.Task, ToolRefs: n.ToolRefs})
	}
	for _, n := range w.Nodes {
		for _, dep := range n.Dependencies {
			g.PutEdge(Edge{ID: EdgeID(dep, n.ID), Source: dep, Target: n.ID})
		}
	}
	return g
}
