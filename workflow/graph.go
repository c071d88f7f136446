package workflow

import (
	"fmt"
	"slices"
)

// Position is a node's location on the editor canvas.
type Position struct {
	X float64 `json:"x" yaml:"x"`
	Y float64 `json:"y" yaml:"y"`
}

// Node is a unit of work bound to one agent and zero or more tools.
type Node struct {
	ID       string    `json:"id" yaml:"id"`
	AgentRef string    `json:"agent_ref" yaml:"agent_ref"`
	Task     string    `json:"task" yaml:"task"`
	ToolRefs []string  `json:"tools" yaml:"tools"`
	Label    string    `json:"label,omitempty" yaml:"label,omitempty"`
	Position *Position `json:"position,omitempty" yaml:"position,omitempty"`
}

func (n *Node) clone() Node {
	c := *n
	c.ToolRefs = slices.Clone(n.ToolRefs)
	if n.Position != nil {
		p := *n.Position
		c.Position = &p
	}
	return c
}

// HasTool reports whether the node references the given tool.
func (n Node) HasTool(ref string) bool {
	return slices.Contains(n.ToolRefs, ref)
}

// Edge is a directed depends-on relation: Target runs after Source completes.
type Edge struct {
	ID     string `json:"id" yaml:"id"`
	Source string `json:"source" yaml:"source"`
	Target string `json:"target" yaml:"target"`
}

// EdgeID returns the canonical edge id for a source/target pair.
func EdgeID(source, target string) string {
	return "e" + source + "-" + target
}

// NodePatch describes a partial node update. Nil fields are left untouched.
type NodePatch struct {
	AgentRef *string   `json:"agent_ref,omitempty"`
	Task     *string   `json:"task,omitempty"`
	ToolRefs *[]string `json:"tools,omitempty"`
	Label    *string   `json:"label,omitempty"`
	Position *Position `json:"position,omitempty"`
}

// Graph is the mutable editor-side model of a workflow.
// Nodes and edges keep their insertion order. A Graph is not safe for
// concurrent use.
type Graph struct {
	nodes     map[string]*Node
	nodeOrder []string
	edges     map[string]*Edge
	edgeOrder []string
	out       map[string][]string // node id -> outgoing edge ids
	in        map[string][]string // node id -> incoming edge ids
	seq       int
}

// NewGraph creates an empty graph.
func NewGraph() *Graph {
	return &Graph{
		nodes: make(map[string]*Node),
		edges: make(map[string]*Edge),
		out:   make(map[string][]string),
		in:    make(map[string][]string),
	}
}

// AddNode adds a node bound to agentRef and returns it. The id is generated.
func (g *Graph) AddNode(agentRef string) Node {
	var id string
	for {
		g.seq++
		id = fmt.Sprintf("node_%d", g.seq)
		if _, taken := g.nodes[id]; !taken {
			break
		}
	}
	n := &Node{ID: id, AgentRef: agentRef, ToolRefs: []string{}}
	g.insertNode(n)
	return n.clone()
}

// AddNodeWithID adds a node with a caller-chosen id.
func (g *Graph) AddNodeWithID(id, agentRef string) (Node, error) {
	if id == "" {
		return Node{}, fmt.Errorf("node id is required")
	}
	if _, exists := g.nodes[id]; exists {
		return Node{}, fmt.Errorf("%w: %s", ErrDuplicateNode, id)
	}
	n := &Node{ID: id, AgentRef: agentRef, ToolRefs: []string{}}
	g.insertNode(n)
	return n.clone(), nil
}

// PutNode inserts a fully populated node. Used when rebuilding a graph
// from a stored document.
func (g *Graph) PutNode(n Node) error {
	if n.ID == "" {
		return fmt.Errorf("node id is required")
	}
	if _, exists := g.nodes[n.ID]; exists {
		return fmt.Errorf("%w: %s", ErrDuplicateNode, n.ID)
	}
	c := n.clone()
	c.ToolRefs = normalizeRefs(c.ToolRefs)
	g.insertNode(&c)
	return nil
}

func (g *Graph) insertNode(n *Node) {
	g.nodes[n.ID] = n
	g.nodeOrder = append(g.nodeOrder, n.ID)
}

// RemoveNode deletes a node together with every incident edge.
func (g *Graph) RemoveNode(id string) error {
	if _, ok := g.nodes[id]; !ok {
		return fmt.Errorf("%w: %s", ErrNodeNotFound, id)
	}
	incident := append(slices.Clone(g.out[id]), g.in[id]...)
	for _, eid := range incident {
		g.deleteEdge(eid)
	}
	delete(g.nodes, id)
	delete(g.out, id)
	delete(g.in, id)
	g.nodeOrder = slices.DeleteFunc(g.nodeOrder, func(s string) bool { return s == id })
	return nil
}

// UpdateNode applies a patch to an existing node.
func (g *Graph) UpdateNode(id string, patch NodePatch) error {
	n, ok := g.nodes[id]
	if !ok {
		return fmt.Errorf("%w: %s", ErrNodeNotFound, id)
	}
	if patch.AgentRef != nil {
		n.AgentRef = *patch.AgentRef
	}
	if patch.Task != nil {
		n.Task = *patch.Task
	}
	if patch.ToolRefs != nil {
		n.ToolRefs = normalizeRefs(*patch.ToolRefs)
	}
	if patch.Label != nil {
		n.Label = *patch.Label
	}
	if patch.Position != nil {
		p := *patch.Position
		n.Position = &p
	}
	return nil
}

// AssignTool adds a tool reference to a node. Assigning a tool twice is a no-op.
func (g *Graph) AssignTool(id, toolRef string) error {
	n, ok := g.nodes[id]
	if !ok {
		return fmt.Errorf("%w: %s", ErrNodeNotFound, id)
	}
	if !slices.Contains(n.ToolRefs, toolRef) {
		n.ToolRefs = append(n.ToolRefs, toolRef)
	}
	return nil
}

// AddEdge connects source to target. It rejects self loops, unknown
// endpoints and any edge that would close a cycle. Connecting the same pair
// twice returns the existing edge.
func (g *Graph) AddEdge(sourceID, targetID string) (Edge, error) {
	if sourceID == targetID {
		return Edge{}, &EdgeError{Kind: EdgeSelfLoop, Source: sourceID, Target: targetID}
	}
	if _, ok := g.nodes[sourceID]; !ok {
		return Edge{}, &EdgeError{Kind: EdgeUnknownNode, Source: sourceID, Target: targetID, Missing: sourceID}
	}
	if _, ok := g.nodes[targetID]; !ok {
		return Edge{}, &EdgeError{Kind: EdgeUnknownNode, Source: sourceID, Target: targetID, Missing: targetID}
	}
	if e, ok := g.findEdge(sourceID, targetID); ok {
		return *e, nil
	}
	// source -> target closes a cycle iff target already reaches source.
	if g.Reaches(targetID, sourceID) {
		return Edge{}, &EdgeError{Kind: EdgeWouldCycle, Source: sourceID, Target: targetID}
	}
	e := &Edge{ID: g.uniqueEdgeID(sourceID, targetID), Source: sourceID, Target: targetID}
	g.insertEdge(e)
	return *e, nil
}

// PutEdge inserts an edge without any validation. Graphs rebuilt from storage
// use it; the compiler re-validates them.
func (g *Graph) PutEdge(e Edge) {
	if e.ID == "" || g.edges[e.ID] != nil {
		e.ID = g.uniqueEdgeID(e.Source, e.Target)
	}
	c := e
	g.insertEdge(&c)
}

func (g *Graph) insertEdge(e *Edge) {
	g.edges[e.ID] = e
	g.edgeOrder = append(g.edgeOrder, e.ID)
	g.out[e.Source] = append(g.out[e.Source], e.ID)
	g.in[e.Target] = append(g.in[e.Target], e.ID)
}

func (g *Graph) uniqueEdgeID(source, target string) string {
	id := EdgeID(source, target)
	if _, taken := g.edges[id]; !taken {
		return id
	}
	for i := 2; ; i++ {
		candidate := fmt.Sprintf("%s-%d", id, i)
		if _, taken := g.edges[candidate]; !taken {
			return candidate
		}
	}
}

func (g *Graph) findEdge(source, target string) (*Edge, bool) {
	for _, eid := range g.out[source] {
		if e := g.edges[eid]; e.Target == target {
			return e, true
		}
	}
	return nil, false
}

// RemoveEdge deletes an edge by id.
func (g *Graph) RemoveEdge(id string) error {
	if _, ok := g.edges[id]; !ok {
		return fmt.Errorf("%w: %s", ErrEdgeNotFound, id)
	}
	g.deleteEdge(id)
	return nil
}

func (g *Graph) deleteEdge(id string) {
	e, ok := g.edges[id]
	if !ok {
		return
	}
	match := func(s string) bool { return s == id }
	g.out[e.Source] = slices.DeleteFunc(g.out[e.Source], match)
	g.in[e.Target] = slices.DeleteFunc(g.in[e.Target], match)
	g.edgeOrder = slices.DeleteFunc(g.edgeOrder, match)
	delete(g.edges, id)
}

// Reaches reports whether a directed path leads from one node to another.
// A node reaches itself.
func (g *Graph) Reaches(from, to string) bool {
	if from == to {
		_, ok := g.nodes[from]
		return ok
	}
	visited := map[string]bool{from: true}
	stack := []string{from}
	for len(stack) > 0 {
		cur := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		for _, eid := range g.out[cur] {
			next := g.edges[eid].Target
			if next == to {
				return true
			}
			if !visited[next] {
				visited[next] = true
				stack = append(stack, next)
			}
		}
	}
	return false
}

// Node returns a copy of the node with the given id.
func (g *Graph) Node(id string) (Node, bool) {
	n, ok := g.nodes[id]
	if !ok {
		return Node{}, false
	}
	return n.clone(), true
}

// Edge returns a copy of the edge with the given id.
func (g *Graph) Edge(id string) (Edge, bool) {
	e, ok := g.edges[id]
	if !ok {
		return Edge{}, false
	}
	return *e, true
}

// Nodes returns copies of all nodes in insertion order.
func (g *Graph) Nodes() []Node {
	out := make([]Node, 0, len(g.nodeOrder))
	for _, id := range g.nodeOrder {
		out = append(out, g.nodes[id].clone())
	}
	return out
}

// Edges returns copies of all edges in insertion order.
func (g *Graph) Edges() []Edge {
	out := make([]Edge, 0, len(g.edgeOrder))
	for _, id := range g.edgeOrder {
		out = append(out, *g.edges[id])
	}
	return out
}

// Len returns the number of nodes.
func (g *Graph) Len() int { return len(g.nodeOrder) }

// HasNode reports whether id names a node of the graph.
func (g *Graph) HasNode(id string) bool {
	_, ok := g.nodes[id]
	return ok
}

// Clone returns a deep copy of the graph.
func (g *Graph) Clone() *Graph {
	c := NewGraph()
	c.seq = g.seq
	for _, id := range g.nodeOrder {
		n := g.nodes[id].clone()
		c.insertNode(&n)
	}
	for _, id := range g.edgeOrder {
		e := *g.edges[id]
		c.insertEdge(&e)
	}
	return c
}

// normalizeRefs drops empty and repeated refs, keeping first-seen order.
func normalizeRefs(refs []string) []string {
	out := make([]string, 0, len(refs))
	for _, r := range refs {
		if r == "" || slices.Contains(out, r) {
			continue
		}
		out = append(out, r)
	}
	return out
}
