package workflow

import (
	"context"
	"time"
)

// RefKind tells agents and tools apart in a Resolver answer.
type RefKind string

const (
	RefAgent RefKind = "agent"
	RefTool  RefKind = "tool"
)

// ResolvedRef describes an agent or tool known to the environment.
type ResolvedRef struct {
	ID           string   `json:"id" yaml:"id"`
	Kind         RefKind  `json:"kind" yaml:"kind"`
	Name         string   `json:"name" yaml:"name"`
	Capabilities []string `json:"capabilities,omitempty" yaml:"capabilities,omitempty"`
}

// Resolver looks up agent and tool references. It validates refs at compile
// time and labels nodes for display.
type Resolver interface {
	Resolve(ctx context.Context, id string) (*ResolvedRef, bool)
}

// Store persists compiled workflows.
type Store interface {
	Save(ctx context.Context, w *CompiledWorkflow) error
	Load(ctx context.Context, id string) (*CompiledWorkflow, error)
}

// Catalog is a Store that can also enumerate and delete workflows.
type Catalog interface {
	Store
	List(ctx context.Context) ([]*CompiledWorkflow, error)
	Delete(ctx context.Context, id string) error
}

// RunHandle identifies a run started by an Invoker.
type RunHandle struct {
	RunID      string    `json:"run_id"`
	WorkflowID string    `json:"workflow_id"`
	StartedAt  time.Time `json:"started_at"`
	StreamURL  string    `json:"stream_url,omitempty"`
}

// Invoker starts a run of a compiled workflow somewhere else.
type Invoker interface {
	StartRun(ctx context.Context, w *CompiledWorkflow, input map[string]any) (*RunHandle, error)
}
