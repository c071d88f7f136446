// Package projection lays out a workflow graph and decorates it with the
// visual state of a run.
package projection

import (
	"github.com/BaSui01/flowcanvas/workflow"
	"github.com/BaSui01/flowcanvas/workflow/execution"
)

// Layout holds grid geometry.
type Layout struct {
	OriginX     float64 `json:"origin_x" yaml:"origin_x"`
	OriginY     float64 `json:"origin_y" yaml:"origin_y"`
	ColumnWidth float64 `json:"column_width" yaml:"column_width"`
	RowHeight   float64 `json:"row_height" yaml:"row_height"`
}

// DefaultLayout matches the spacing of the editor canvas.
func DefaultLayout() Layout {
	return Layout{OriginX: 150, OriginY: 100, ColumnWidth: 300, RowHeight: 250}
}

// Option configures Project.
type Option func(*options)

type options struct {
	layout  Layout
	labeler func(agentRef string) string
}

// WithLayout overrides the grid geometry.
func WithLayout(l Layout) Option {
	return func(o *options) { o.layout = l }
}

// WithLabeler supplies display names for agent refs, used when a node has
// no label of its own.
func WithLabeler(fn func(agentRef string) string) Option {
	return func(o *options) { o.labeler = fn }
}

// DrawableNode is a positioned node with its run status.
type DrawableNode struct {
	ID           string               `json:"id"`
	Label        string               `json:"label"`
	AgentRef     string               `json:"agent_ref"`
	Column       int                  `json:"column"`
	Row          int                  `json:"row"`
	Position     workflow.Position    `json:"position"`
	Status       execution.NodeStatus `json:"status"`
	MessageCount uint                 `json:"message_count"`
	ToolRefs     []string             `json:"tools"`
	ToolsUsed    []string             `json:"tools_used"`
	LastError    string               `json:"last_error,omitempty"`
}

// DrawableEdge is an edge with its derived style.
type DrawableEdge struct {
	ID     string               `json:"id"`
	Source string               `json:"source"`
	Target string               `json:"target"`
	Style  execution.EdgeStatus `json:"style"`
}

// DrawableGraph is everything a renderer needs for one frame.
type DrawableGraph struct {
	WorkflowID string              `json:"workflow_id,omitempty"`
	RunStatus  execution.RunStatus `json:"run_status"`
	Nodes      []DrawableNode      `json:"nodes"`
	Edges      []DrawableEdge      `json:"edges"`
	Columns    int                 `json:"columns"`
	Progress   float64             `json:"progress"`
}

// Summary counts nodes per status.
func (d *DrawableGraph) Summary() map[execution.NodeStatus]int {
	counts := make(map[execution.NodeStatus]int, len(execution.NodeStatuses))
	for _, s := range execution.NodeStatuses {
		counts[s] = 0
	}
	for _, n := range d.Nodes {
		counts[n.Status]++
	}
	return counts
}

// Node returns the drawable node with the given id.
func (d *DrawableGraph) Node(id string) (DrawableNode, bool) {
	for _, n := range d.Nodes {
		if n.ID == id {
			return n, true
		}
	}
	return DrawableNode{}, false
}

// Project lays out g and decorates it with state, which may be nil. Column
// is the topological depth of a node, row its index among nodes of equal
// depth in insertion order. Neither input is modified.
func Project(g *workflow.Graph, state *execution.RunState, opts ...Option) *DrawableGraph {
	o := options{layout: DefaultLayout()}
	for _, opt := range opts {
		opt(&o)
	}

	nodes := g.Nodes()
	edges := g.Edges()
	depth := depths(nodes, edges)

	out := &DrawableGraph{
		RunStatus: execution.RunIdle,
		Nodes:     make([]DrawableNode, 0, len(nodes)),
		Edges:     make([]DrawableEdge, 0, len(edges)),
	}
	if state != nil {
		out.WorkflowID = state.WorkflowID
		out.RunStatus = state.Status
		out.Progress = state.Progress()
	}

	rows := make(map[int]int)
	for _, n := range nodes {
		col := depth[n.ID]
		row := rows[col]
		rows[col]++
		if col+1 > out.Columns {
			out.Columns = col + 1
		}

		dn := DrawableNode{
			ID:        n.ID,
			Label:     n.Label,
			AgentRef:  n.AgentRef,
			Column:    col,
			Row:       row,
			Status:    execution.NodePending,
			ToolRefs:  n.ToolRefs,
			ToolsUsed: []string{},
			Position: workflow.Position{
				X: o.layout.OriginX + float64(col)*o.layout.ColumnWidth,
				Y: o.layout.OriginY + float64(row)*o.layout.RowHeight,
			},
		}
		if dn.Label == "" {
			dn.Label = n.AgentRef
			if o.labeler != nil {
				if name := o.labeler(n.AgentRef); name != "" {
					dn.Label = name
				}
			}
		}
		if ns := state.Node(n.ID); ns != nil {
			dn.Status = ns.Status
			dn.MessageCount = ns.MessageCount
			dn.ToolsUsed = append([]string{}, ns.ToolsUsed...)
			dn.LastError = ns.LastError
		}
		out.Nodes = append(out.Nodes, dn)
	}

	for _, e := range edges {
		out.Edges = append(out.Edges, DrawableEdge{
			ID:     e.ID,
			Source: e.Source,
			Target: e.Target,
			Style:  state.EdgeStatus(e.Source, e.Target),
		})
	}
	return out
}

// ProjectCompiled lays out a compiled workflow.
func ProjectCompiled(wf *workflow.CompiledWorkflow, state *execution.RunState, opts ...Option) *DrawableGraph {
	return Project(workflow.GraphFromCompiled(wf), state, opts...)
}

// depths computes the longest-path depth of every node. Nodes stuck on a
// cycle are placed one column past the deepest acyclic node.
func depths(nodes []workflow.Node, edges []workflow.Edge) map[string]int {
	known := make(map[string]bool, len(nodes))
	for _, n := range nodes {
		known[n.ID] = true
	}
	indegree := make(map[string]int, len(nodes))
	succ := make(map[string][]string, len(nodes))
	for _, e := range edges {
		if !known[e.Source] || !known[e.Target] {
			continue
		}
		succ[e.Source] = append(succ[e.Source], e.Target)
		indegree[e.Target]++
	}

	depth := make(map[string]int, len(nodes))
	var queue []string
	for _, n := range nodes {
		if indegree[n.ID] == 0 {
			queue = append(queue, n.ID)
		}
	}
	done := make(map[string]bool, len(nodes))
	maxDepth := -1
	for len(queue) > 0 {
		id := queue[0]
		queue = queue[1:]
		done[id] = true
		maxDepth = max(maxDepth, depth[id])
		for _, next := range succ[id] {
			depth[next] = max(depth[next], depth[id]+1)
			indegree[next]--
			if indegree[next] == 0 {
				queue = append(queue, next)
			}
		}
	}
	for _, n := range nodes {
		if !done[n.ID] {
			depth[n.ID] = maxDepth + 1
		}
	}
	return depth
}
