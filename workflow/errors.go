package workflow

import (
	"errors"
	"fmt"
)

// Graph lookup errors.
var (
	ErrNodeNotFound  = errors.New("node not found")
	ErrEdgeNotFound  = errors.New("edge not found")
	ErrDuplicateNode = errors.New("duplicate node id")
)

// EdgeErrorKind classifies a rejected AddEdge call.
type EdgeErrorKind string

const (
	EdgeSelfLoop    EdgeErrorKind = "self_loop"
	EdgeUnknownNode EdgeErrorKind = "unknown_node"
	EdgeWouldCycle  EdgeErrorKind = "would_cycle"
)

// Sentinels matched by errors.Is against an *EdgeError.
var (
	ErrSelfLoop    = errors.New("edge connects a node to itself")
	ErrUnknownNode = errors.New("edge references an unknown node")
	ErrWouldCycle  = errors.New("edge would create a cycle")
)

// EdgeError is returned by Graph.AddEdge.
type EdgeError struct {
	Kind    EdgeErrorKind
	Source  string
	Target  string
	Missing string // set for EdgeUnknownNode
}

func (e *EdgeError) Error() string {
	switch e.Kind {
	case EdgeUnknownNode:
		return fmt.Sprintf("edge %s -> %s: unknown node %q", e.Source, e.Target, e.Missing)
	default:
		return fmt.Sprintf("edge %s -> %s: %v", e.Source, e.Target, e.Unwrap())
	}
}

func (e *EdgeError) Unwrap() error {
	switch e.Kind {
	case EdgeSelfLoop:
		return ErrSelfLoop
	case EdgeUnknownNode:
		return ErrUnknownNode
	case EdgeWouldCycle:
		return ErrWouldCycle
	}
	return nil
}

// CompileErrorKind classifies a compile failure.
type CompileErrorKind string

const (
	CompileMissingName  CompileErrorKind = "missing_name"
	CompileEmptyGraph   CompileErrorKind = "empty_graph"
	CompileDanglingEdge CompileErrorKind = "dangling_edge"
	CompileCyclicGraph  CompileErrorKind = "cyclic_graph"
	CompileUnknownTool  CompileErrorKind = "unknown_tool"
	CompileUnknownAgent CompileErrorKind = "unknown_agent"
)

// Sentinels matched by errors.Is against a *CompileError.
var (
	ErrMissingName  = errors.New("workflow name is required")
	ErrEmptyGraph   = errors.New("workflow must have at least one node")
	ErrDanglingEdge = errors.New("edge references a missing node")
	ErrCyclicGraph  = errors.New("workflow graph contains a cycle")
	ErrUnknownTool  = errors.New("tool reference cannot be resolved")
	ErrUnknownAgent = errors.New("agent reference cannot be resolved")
)

var compileSentinels = map[CompileErrorKind]error{
	CompileMissingName:  ErrMissingName,
	CompileEmptyGraph:   ErrEmptyGraph,
	CompileDanglingEdge: ErrDanglingEdge,
	CompileCyclicGraph:  ErrCyclicGraph,
	CompileUnknownTool:  ErrUnknownTool,
	CompileUnknownAgent: ErrUnknownAgent,
}

// CompileError is the first validation failure found by the compiler.
type CompileError struct {
	Kind   CompileErrorKind
	NodeID string
	EdgeID string
	Ref    string
	Cycle  []string
}

func (e *CompileError) Error() string {
	base := compileSentinels[e.Kind]
	switch e.Kind {
	case CompileDanglingEdge:
		return fmt.Sprintf("%v: edge %s references %q", base, e.EdgeID, e.NodeID)
	case CompileCyclicGraph:
		return fmt.Sprintf("%v: %v", base, e.Cycle)
	case CompileUnknownTool, CompileUnknownAgent:
		return fmt.Sprintf("%v: node %s references %q", base, e.NodeID, e.Ref)
	}
	return base.Error()
}

func (e *CompileError) Unwrap() error { return compileSentinels[e.Kind] }
