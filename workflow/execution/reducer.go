package execution

import (
	"slices"
	"sync"

	"go.uber.org/zap"

	"github.com/BaSui01/flowcanvas/workflow"
)

// Disposition says what the reducer did with an event.
type Disposition string

const (
	// Applied events changed the state.
	Applied Disposition = "applied"
	// Duplicate events were already reflected in the state.
	Duplicate Disposition = "duplicate"
	// Ignored events were dropped; Outcome.Reason says why.
	Ignored Disposition = "ignored"
)

// Reasons attached to ignored events.
const (
	ReasonInvalid         = "invalid_event"
	ReasonNoRun           = "no_run"
	ReasonUnknownWorkflow = "unknown_workflow"
	ReasonUnknownNode     = "unknown_node"
	ReasonStale           = "stale_after_run_end"
	ReasonNodeTerminal    = "node_terminal"
)

// Outcome reports the effect of one event.
type Outcome struct {
	Disposition Disposition `json:"disposition"`
	Reason      string      `json:"reason,omitempty"`
}

func applied() Outcome              { return Outcome{Disposition: Applied} }
func duplicate() Outcome            { return Outcome{Disposition: Duplicate} }
func ignored(reason string) Outcome { return Outcome{Disposition: Ignored, Reason: reason} }

// Transition folds one event into state and returns the next state. state
// is never modified; a nil state is an idle run. wf binds the run to a
// compiled workflow and may be nil, in which case nodes are discovered from
// the events themselves.
//
// Transition is total: every event yields a next state and an Outcome.
func Transition(wf *workflow.CompiledWorkflow, state *RunState, ev Event) (*RunState, Outcome) {
	next := state.Clone()
	if next == nil {
		next = initialState(wf)
	}
	out := apply(wf, next, ev)
	if out.Disposition != Applied {
		return state.orInitial(wf), out
	}
	return next, out
}

func (s *RunState) orInitial(wf *workflow.CompiledWorkflow) *RunState {
	if s == nil {
		return initialState(wf)
	}
	return s
}

func initialState(wf *workflow.CompiledWorkflow) *RunState {
	if wf == nil {
		return NewRunState("", nil)
	}
	return NewRunState(wf.ID, wf.NodeIDs())
}

// apply mutates st in place.
func apply(wf *workflow.CompiledWorkflow, st *RunState, ev Event) Outcome {
	if err := ev.Validate(); err != nil {
		return ignored(ReasonInvalid)
	}

	if ev.Type == EventRunStarted {
		if wf != nil && ev.WorkflowID != wf.ID {
			return ignored(ReasonUnknownWorkflow)
		}
		fresh := initialState(wf)
		fresh.WorkflowID = ev.WorkflowID
		fresh.Status = RunRunning
		if wf == nil {
			fresh.TotalNodes = ev.TotalNodes
		}
		fresh.LastSequence = ev.SequenceHint
		if runStateEqual(st, fresh) {
			return duplicate()
		}
		*st = *fresh
		return applied()
	}

	switch {
	case st.Status == RunIdle:
		return ignored(ReasonNoRun)
	case ev.WorkflowID != "" && ev.WorkflowID != st.WorkflowID:
		return ignored(ReasonUnknownWorkflow)
	case st.Status.Terminal():
		return ignored(ReasonStale)
	}

	var out Outcome
	if ev.Type.IsNodeEvent() {
		out = applyNodeEvent(wf, st, ev)
	} else {
		out = applyRunEvent(st, ev)
	}
	if out.Disposition == Applied && ev.SequenceHint > st.LastSequence {
		st.LastSequence = ev.SequenceHint
	}
	return out
}

func applyRunEvent(st *RunState, ev Event) Outcome {
	switch ev.Type {
	case EventRunMetrics:
		if slices.Equal(st.Metrics, ev.Metrics) {
			return duplicate()
		}
		st.Metrics = slices.Clone(ev.Metrics)
	case EventRunCompleted:
		st.Status = RunCompleted
		st.Summary = slices.Clone(ev.Summary)
	case EventRunFailed:
		// Node statuses are kept as they are for postmortem inspection.
		st.Status = RunFailed
		st.Error = ev.Error
	}
	return applied()
}

func applyNodeEvent(wf *workflow.CompiledWorkflow, st *RunState, ev Event) Outcome {
	node := st.Nodes[ev.NodeID]
	if node == nil {
		if wf != nil {
			return ignored(ReasonUnknownNode)
		}
		node = st.addNode(ev.NodeID)
	}

	switch ev.Type {
	case EventNodeStarted:
		switch node.Status {
		case NodePending:
			node.Status = NodeActive
		case NodeActive:
			return duplicate()
		default:
			return ignored(ReasonNodeTerminal)
		}

	case EventNodeMessage:
		if ev.SequenceHint != 0 {
			if _, dup := node.seen[ev.SequenceHint]; dup {
				return duplicate()
			}
			if node.seen == nil {
				node.seen = make(map[uint64]struct{})
			}
			node.seen[ev.SequenceHint] = struct{}{}
		}
		node.MessageCount++
		if ev.Tool != "" && !slices.Contains(node.ToolsUsed, ev.Tool) {
			node.ToolsUsed = append(node.ToolsUsed, ev.Tool)
		}
		// A message implies the node is running.
		if node.Status == NodePending {
			node.Status = NodeActive
		}

	case EventNodeCompleted:
		switch node.Status {
		case NodeCompleted:
			return duplicate()
		case NodeFailed:
			return ignored(ReasonNodeTerminal)
		}
		// From pending this is an implicit start and completion.
		node.Status = NodeCompleted
		node.Result = slices.Clone(ev.Result)

	case EventNodeFailed:
		switch node.Status {
		case NodeFailed:
			return duplicate()
		case NodeCompleted:
			return ignored(ReasonNodeTerminal)
		}
		node.Status = NodeFailed
		node.LastError = ev.Error
	}
	return applied()
}

func runStateEqual(a, b *RunState) bool {
	if a.WorkflowID != b.WorkflowID || a.Status != b.Status || a.TotalNodes != b.TotalNodes ||
		a.Error != "" || len(a.Metrics) != 0 || len(a.Summary) != 0 || a.LastSequence != b.LastSequence ||
		!slices.Equal(a.Order, b.Order) {
		return false
	}
	for id, n := range a.Nodes {
		if n.Status != NodePending || n.MessageCount != 0 || len(n.ToolsUsed) != 0 || n.LastError != "" ||
			len(n.Result) != 0 || b.Nodes[id] == nil {
			return false
		}
	}
	return len(a.Nodes) == len(b.Nodes)
}

// Stats counts reducer dispositions since creation.
type Stats struct {
	Applied    int `json:"applied"`
	Duplicates int `json:"duplicates"`
	Ignored    int `json:"ignored"`
}

// OutcomeObserver is notified of every event applied by a Reducer.
type OutcomeObserver func(ev Event, out Outcome)

// Reducer owns the run state of one visualization instance. It is safe for
// concurrent use; Apply never blocks on I/O.
type Reducer struct {
	mu       sync.RWMutex
	workflow *workflow.CompiledWorkflow
	state    *RunState
	stats    Stats
	logger   *zap.Logger
	observer OutcomeObserver
}

// ReducerOption configures a Reducer.
type ReducerOption func(*Reducer)

// WithWorkflow binds the reducer to a compiled workflow.
func WithWorkflow(wf *workflow.CompiledWorkflow) ReducerOption {
	return func(r *Reducer) { r.workflow = wf }
}

// WithOutcomeObserver registers a callback run after every Apply.
func WithOutcomeObserver(o OutcomeObserver) ReducerOption {
	return func(r *Reducer) { r.observer = o }
}

// NewReducer creates a reducer in the idle state.
func NewReducer(logger *zap.Logger, opts ...ReducerOption) *Reducer {
	if logger == nil {
		logger = zap.NewNop()
	}
	r := &Reducer{logger: logger.With(zap.String("component", "reducer"))}
	for _, opt := range opts {
		opt(r)
	}
	r.state = initialState(r.workflow)
	return r
}

// Workflow returns the bound workflow, or nil.
func (r *Reducer) Workflow() *workflow.CompiledWorkflow {
	return r.workflow
}

// Apply folds one event into the run state.
func (r *Reducer) Apply(ev Event) Outcome {
	r.mu.Lock()
	out := apply(r.workflow, r.state, ev)
	switch out.Disposition {
	case Applied:
		r.stats.Applied++
	case Duplicate:
		r.stats.Duplicates++
	case Ignored:
		r.stats.Ignored++
	}
	workflowID := r.state.WorkflowID
	r.mu.Unlock()

	if out.Disposition == Ignored {
		fields := []zap.Field{
			zap.String("event", string(ev.Type)),
			zap.String("reason", out.Reason),
			zap.String("workflow_id", workflowID),
			zap.String("event_workflow_id", ev.WorkflowID),
			zap.String("node_id", ev.NodeID),
			zap.Uint64("sequence_hint", ev.SequenceHint),
		}
		switch out.Reason {
		case ReasonUnknownNode, ReasonUnknownWorkflow, ReasonInvalid:
			r.logger.Warn("execution event dropped", fields...)
		default:
			r.logger.Debug("execution event dropped", fields...)
		}
	}
	if r.observer != nil {
		r.observer(ev, out)
	}
	return out
}

// ApplyAll folds a batch of events in order.
func (r *Reducer) ApplyAll(events []Event) []Outcome {
	outs := make([]Outcome, len(events))
	for i, ev := range events {
		outs[i] = r.Apply(ev)
	}
	return outs
}

// State returns a copy of the current run state.
func (r *Reducer) State() *RunState {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.state.Clone()
}

// Stats returns the disposition counters.
func (r *Reducer) Stats() Stats {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.stats
}

// Reset discards the run state and returns to idle.
func (r *Reducer) Reset() {
	r.mu.Lock()
	r.state = initialState(r.workflow)
	r.mu.Unlock()
}
