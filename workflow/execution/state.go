package execution

import (
	"encoding/json"
	"maps"
	"slices"
)

// NodeStatus is the visual status of one node within a run.
type NodeStatus string

const (
	NodePending   NodeStatus = "pending"
	NodeActive    NodeStatus = "active"
	NodeCompleted NodeStatus = "completed"
	NodeFailed    NodeStatus = "failed"
)

// NodeStatuses lists every node status.
var NodeStatuses = []NodeStatus{NodePending, NodeActive, NodeCompleted, NodeFailed}

// Terminal reports whether no further status change is accepted.
func (s NodeStatus) Terminal() bool {
	return s == NodeCompleted || s == NodeFailed
}

// RunStatus is the run-level status.
type RunStatus string

const (
	RunIdle      RunStatus = "idle"
	RunRunning   RunStatus = "running"
	RunCompleted RunStatus = "completed"
	RunFailed    RunStatus = "failed"
)

// Terminal reports whether the run has ended.
func (s RunStatus) Terminal() bool {
	return s == RunCompleted || s == RunFailed
}

// EdgeStatus is the derived draw status of an edge.
type EdgeStatus string

const (
	EdgePending   EdgeStatus = "pending"
	EdgeActive    EdgeStatus = "active"
	EdgeCompleted EdgeStatus = "completed"
)

// EdgeStatusFor derives an edge status from its endpoints.
func EdgeStatusFor(source, target NodeStatus) EdgeStatus {
	switch {
	case source == NodeCompleted && target == NodeActive:
		return EdgeActive
	case source == NodeCompleted && target == NodeCompleted:
		return EdgeCompleted
	}
	return EdgePending
}

// NodeState is the visual state of one node.
type NodeState struct {
	Status       NodeStatus      `json:"status"`
	MessageCount uint            `json:"message_count"`
	ToolsUsed    []string        `json:"tools_used"`
	LastError    string          `json:"last_error,omitempty"`
	Result       json.RawMessage `json:"result,omitempty"`

	seen map[uint64]struct{} // sequence hints of counted messages
}

func newNodeState() *NodeState {
	return &NodeState{Status: NodePending, ToolsUsed: []string{}}
}

func (n *NodeState) clone() *NodeState {
	c := *n
	c.ToolsUsed = slices.Clone(n.ToolsUsed)
	c.Result = slices.Clone(n.Result)
	if n.seen != nil {
		c.seen = maps.Clone(n.seen)
	}
	return &c
}

// RunState is everything the reducer knows about the current run.
type RunState struct {
	WorkflowID   string                `json:"workflow_id"`
	Status       RunStatus             `json:"status"`
	TotalNodes   int                   `json:"total_nodes"`
	Nodes        map[string]*NodeState `json:"nodes"`
	Order        []string              `json:"order"`
	Metrics      json.RawMessage       `json:"metrics,omitempty"`
	Summary      json.RawMessage       `json:"summary,omitempty"`
	Error        string                `json:"error,omitempty"`
	LastSequence uint64                `json:"last_sequence"`
}

// NewRunState creates an idle state holding nodeIDs as pending nodes.
func NewRunState(workflowID string, nodeIDs []string) *RunState {
	s := &RunState{
		WorkflowID: workflowID,
		Status:     RunIdle,
		TotalNodes: len(nodeIDs),
		Nodes:      make(map[string]*NodeState, len(nodeIDs)),
		Order:      make([]string, 0, len(nodeIDs)),
	}
	for _, id := range nodeIDs {
		s.addNode(id)
	}
	return s
}

func (s *RunState) addNode(id string) *NodeState {
	if n, ok := s.Nodes[id]; ok {
		return n
	}
	n := newNodeState()
	s.Nodes[id] = n
	s.Order = append(s.Order, id)
	return n
}

// Clone returns a deep copy.
func (s *RunState) Clone() *RunState {
	if s == nil {
		return nil
	}
	c := *s
	c.Nodes = make(map[string]*NodeState, len(s.Nodes))
	for id, n := range s.Nodes {
		c.Nodes[id] = n.clone()
	}
	c.Order = slices.Clone(s.Order)
	c.Metrics = slices.Clone(s.Metrics)
	c.Summary = slices.Clone(s.Summary)
	return &c
}

// Node returns the state of a node, or nil.
func (s *RunState) Node(id string) *NodeState {
	if s == nil {
		return nil
	}
	return s.Nodes[id]
}

// NodeStatus returns a node's status; unknown nodes are pending.
func (s *RunState) NodeStatus(id string) NodeStatus {
	if n := s.Node(id); n != nil {
		return n.Status
	}
	return NodePending
}

// EdgeStatus derives the status of the edge source -> target.
func (s *RunState) EdgeStatus(source, target string) EdgeStatus {
	return EdgeStatusFor(s.NodeStatus(source), s.NodeStatus(target))
}

// Counts tallies nodes per status.
func (s *RunState) Counts() map[NodeStatus]int {
	counts := make(map[NodeStatus]int, len(NodeStatuses))
	for _, st := range NodeStatuses {
		counts[st] = 0
	}
	if s == nil {
		return counts
	}
	for _, n := range s.Nodes {
		counts[n.Status]++
	}
	return counts
}

// Progress is the fraction of nodes in a terminal status.
func (s *RunState) Progress() float64 {
	if s == nil {
		return 0
	}
	total := max(s.TotalNodes, len(s.Nodes))
	if total == 0 {
		return 0
	}
	c := s.Counts()
	return float64(c[NodeCompleted]+c[NodeFailed]) / float64(total)
}
