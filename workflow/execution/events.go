package execution

import (
	"bufio"
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
)

// EventType is the wire discriminator of an execution event.
type EventType string

const (
	EventRunStarted    EventType = "run_started"
	EventNodeStarted   EventType = "node_started"
	EventNodeMessage   EventType = "node_message"
	EventNodeCompleted EventType = "node_completed"
	EventNodeFailed    EventType = "node_failed"
	EventRunMetrics    EventType = "run_metrics"
	EventRunCompleted  EventType = "run_completed"
	EventRunFailed     EventType = "run_failed"
)

// EventTypes lists every variant in protocol order.
var EventTypes = []EventType{
	EventRunStarted,
	EventNodeStarted,
	EventNodeMessage,
	EventNodeCompleted,
	EventNodeFailed,
	EventRunMetrics,
	EventRunCompleted,
	EventRunFailed,
}

// IsNodeEvent reports whether the variant targets a single node.
func (t EventType) IsNodeEvent() bool {
	switch t {
	case EventNodeStarted, EventNodeMessage, EventNodeCompleted, EventNodeFailed:
		return true
	}
	return false
}

func (t EventType) valid() bool {
	for _, v := range EventTypes {
		if v == t {
			return true
		}
	}
	return false
}

var (
	// ErrUnknownEventType is returned for a discriminator outside the protocol.
	ErrUnknownEventType = errors.New("unknown event type")
	// ErrInvalidEvent is returned when a variant misses a required field.
	ErrInvalidEvent = errors.New("invalid event")
)

// Event is one execution event. Only the fields of its variant are set.
//
// SequenceHint identifies a node_message for deduplication. A message with
// hint 0 carries no identity and is counted every time it is applied, so
// re-applying it is not idempotent. Event logs stamp their position into
// unhinted events (MemoryLog offsets, RedisStreamLog entries, FileSource
// line order); events built in process should set a hint when they may be
// delivered more than once.
type Event struct {
	Type         EventType `json:"type"`
	WorkflowID   string    `json:"workflow_id,omitempty"`
	NodeID       string    `json:"node_id,omitempty"`
	SequenceHint uint64    `json:"sequence_hint,omitempty"`

	TotalNodes int             `json:"total_nodes,omitempty"` // run_started
	Tool       string          `json:"tool,omitempty"`        // node_message
	Content    string          `json:"content,omitempty"`     // node_message
	Result     json.RawMessage `json:"result,omitempty"`      // node_completed
	Error      string          `json:"error,omitempty"`       // node_failed, run_failed
	Metrics    json.RawMessage `json:"metrics,omitempty"`     // run_metrics
	Summary    json.RawMessage `json:"summary,omitempty"`     // run_completed
}

// Validate checks the fields required by the event's variant.
func (e Event) Validate() error {
	if !e.Type.valid() {
		return fmt.Errorf("%w: %q", ErrUnknownEventType, e.Type)
	}
	if e.Type.IsNodeEvent() && e.NodeID == "" {
		return fmt.Errorf("%w: %s requires node_id", ErrInvalidEvent, e.Type)
	}
	if e.Type == EventRunStarted && e.WorkflowID == "" {
		return fmt.Errorf("%w: run_started requires workflow_id", ErrInvalidEvent)
	}
	if e.Type == EventRunMetrics && len(e.Metrics) > 0 && !json.Valid(e.Metrics) {
		return fmt.Errorf("%w: metrics must be valid JSON", ErrInvalidEvent)
	}
	return nil
}

// WithSequence returns a copy of e carrying the given sequence hint.
func (e Event) WithSequence(seq uint64) Event {
	e.SequenceHint = seq
	return e
}

// WithWorkflow returns a copy of e scoped to a workflow.
func (e Event) WithWorkflow(workflowID string) Event {
	e.WorkflowID = workflowID
	return e
}

// NewRunStarted begins a run of workflowID.
func NewRunStarted(workflowID string, totalNodes int) Event {
	return Event{Type: EventRunStarted, WorkflowID: workflowID, TotalNodes: totalNodes}
}

// NewNodeStarted marks a node as active.
func NewNodeStarted(nodeID string) Event {
	return Event{Type: EventNodeStarted, NodeID: nodeID}
}

// NewNodeMessage reports node output; tool may be empty.
func NewNodeMessage(nodeID, tool, content string) Event {
	return Event{Type: EventNodeMessage, NodeID: nodeID, Tool: tool, Content: content}
}

// NewNodeCompleted reports a node result. result is stored as JSON.
func NewNodeCompleted(nodeID string, result any) Event {
	return Event{Type: EventNodeCompleted, NodeID: nodeID, Result: rawJSON(result)}
}

// NewNodeFailed reports a node error.
func NewNodeFailed(nodeID, errMsg string) Event {
	return Event{Type: EventNodeFailed, NodeID: nodeID, Error: errMsg}
}

// NewRunMetrics attaches an opaque metrics record to the run.
func NewRunMetrics(metrics any) Event {
	return Event{Type: EventRunMetrics, Metrics: rawJSON(metrics)}
}

// NewRunCompleted ends the run successfully.
func NewRunCompleted(summary any) Event {
	return Event{Type: EventRunCompleted, Summary: rawJSON(summary)}
}

// NewRunFailed ends the run with an error.
func NewRunFailed(errMsg string) Event {
	return Event{Type: EventRunFailed, Error: errMsg}
}

func rawJSON(v any) json.RawMessage {
	switch x := v.(type) {
	case nil:
		return nil
	case json.RawMessage:
		return x
	}
	data, err := json.Marshal(v)
	if err != nil {
		data, _ = json.Marshal(fmt.Sprint(v))
	}
	return data
}

// EncodeEvent renders one event as compact JSON.
func EncodeEvent(e Event) ([]byte, error) {
	data, err := json.Marshal(e)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal event: %w", err)
	}
	return data, nil
}

// DecodeEvent decodes exactly one canonical event.
func DecodeEvent(data []byte) (Event, error) {
	var e Event
	if err := json.Unmarshal(data, &e); err != nil {
		return Event{}, fmt.Errorf("failed to unmarshal event: %w", err)
	}
	if err := e.Validate(); err != nil {
		return Event{}, err
	}
	return e, nil
}

// Decode accepts a single object or an array of objects, canonical or in the
// legacy solution-runner vocabulary, and returns the canonical events.
func Decode(data []byte) ([]Event, error) {
	data = bytes.TrimSpace(data)
	if len(data) == 0 {
		return nil, fmt.Errorf("%w: empty payload", ErrInvalidEvent)
	}
	if data[0] == '[' {
		var items []json.RawMessage
		if err := json.Unmarshal(data, &items); err != nil {
			return nil, fmt.Errorf("failed to unmarshal event batch: %w", err)
		}
		var out []Event
		for i, item := range items {
			evs, err := decodeOne(item)
			if err != nil {
				return nil, fmt.Errorf("event %d: %w", i, err)
			}
			out = append(out, evs...)
		}
		return out, nil
	}
	return decodeOne(data)
}

func decodeOne(data []byte) ([]Event, error) {
	var probe struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(data, &probe); err != nil {
		return nil, fmt.Errorf("failed to unmarshal event: %w", err)
	}
	if EventType(probe.Type).valid() {
		e, err := DecodeEvent(data)
		if err != nil {
			return nil, err
		}
		return []Event{e}, nil
	}
	return decodeLegacy(probe.Type, data)
}

// legacyMessage is the union of fields emitted by the solution runner.
type legacyMessage struct {
	SolutionID     string          `json:"solution_id"`
	TotalWorkflows int             `json:"total_workflows"`
	WorkflowID     string          `json:"workflow_id"`
	WorkflowName   string          `json:"workflow_name"`
	Position       uint64          `json:"position"`
	Total          int             `json:"total"`
	FromWorkflow   string          `json:"from_workflow"`
	ToWorkflow     string          `json:"to_workflow"`
	HandoffData    json.RawMessage `json:"handoff_data"`
	Output         json.RawMessage `json:"output"`
	Metrics        json.RawMessage `json:"metrics"`
	Summary        json.RawMessage `json:"summary"`
	OverallMetrics json.RawMessage `json:"overall_metrics"`
	Message        string          `json:"message"`
}

func decodeLegacy(kind string, data []byte) ([]Event, error) {
	var m legacyMessage
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("failed to unmarshal legacy event: %w", err)
	}

	var out []Event
	switch kind {
	case "execution_started":
		out = []Event{NewRunStarted(m.SolutionID, m.TotalWorkflows)}
	case "workflow_started":
		out = []Event{NewNodeStarted(m.WorkflowID).WithSequence(m.Position)}
	case "handoff_prepared":
		out = []Event{NewNodeMessage(m.FromWorkflow, "", handoffContent(m))}
	case "workflow_completed":
		out = []Event{{Type: EventNodeCompleted, NodeID: m.WorkflowID, Result: m.Output}}
		if len(m.Metrics) > 0 {
			out = append(out, Event{Type: EventRunMetrics, Metrics: m.Metrics})
		}
	case "execution_completed":
		if len(m.OverallMetrics) > 0 {
			out = append(out, Event{Type: EventRunMetrics, Metrics: m.OverallMetrics})
		}
		out = append(out, Event{Type: EventRunCompleted, Summary: m.Summary})
	case "error":
		out = []Event{NewRunFailed(m.Message)}
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownEventType, kind)
	}

	for _, e := range out {
		if err := e.Validate(); err != nil {
			return nil, err
		}
	}
	return out, nil
}

func handoffContent(m legacyMessage) string {
	if len(m.HandoffData) == 0 {
		return "handoff to " + m.ToWorkflow
	}
	var s string
	if err := json.Unmarshal(m.HandoffData, &s); err == nil {
		return s
	}
	return string(m.HandoffData)
}

// DecodeStream reads JSON-lines encoded events until EOF. Blank lines are
// skipped. fn is called for every decoded event; a non-nil return stops the
// read.
func DecodeStream(r io.Reader, fn func(Event) error) error {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	line := 0
	for scanner.Scan() {
		line++
		raw := bytes.TrimSpace(scanner.Bytes())
		if len(raw) == 0 {
			continue
		}
		events, err := Decode(raw)
		if err != nil {
			return fmt.Errorf("line %d: %w", line, err)
		}
		for _, e := range events {
			if err := fn(e); err != nil {
				return err
			}
		}
	}
	return scanner.Err()
}

// EncodeStream writes events as JSON lines.
func EncodeStream(w io.Writer, events []Event) error {
	enc := json.NewEncoder(w)
	for _, e := range events {
		if err := enc.Encode(e); err != nil {
			return fmt.Errorf("failed to encode event: %w", err)
		}
	}
	return nil
}
