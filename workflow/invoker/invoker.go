package invoker

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/BaSui01/flowcanvas/internal/ctxkeys"
	"github.com/BaSui01/flowcanvas/internal/tlsutil"
	"github.com/BaSui01/flowcanvas/workflow"
)

// Sentinel errors.
var (
	ErrNoWorkflow     = errors.New("invoker: workflow is required")
	ErrRunnerRejected = errors.New("runner rejected the run")
)

// maxErrorBody caps how much of a failed runner response ends up in errors.
const maxErrorBody = 4 << 10

// EventsPath returns the ingest path for runID relative to the API base.
func EventsPath(runID string) string { return "/api/v1/runs/" + runID + "/events" }

// StreamPath returns the WebSocket stream path for runID relative to the API base.
func StreamPath(runID string) string { return "/api/v1/runs/" + runID + "/stream" }

// WithQuery returns w with the first node's task replaced by query. A blank
// query or an empty workflow returns w unchanged.
func WithQuery(w *workflow.CompiledWorkflow, query string) *workflow.CompiledWorkflow {
	if strings.TrimSpace(query) == "" || len(w.Nodes) == 0 {
		return w
	}
	out := w.Clone()
	out.Nodes[0].Task = query
	return out
}

// =============================================================================
// 🌐 HTTPInvoker
// =============================================================================

// StartRequest is the body posted to the runner.
type StartRequest struct {
	RunID     string                     `json:"run_id"`
	Workflow  *workflow.CompiledWorkflow `json:"workflow"`
	Input     map[string]any             `json:"input,omitempty"`
	EventsURL string                     `json:"events_url,omitempty"`
}

// StartResponse is the optional body returned by the runner. Empty fields
// keep the values chosen by the invoker.
type StartResponse struct {
	RunID     string `json:"run_id,omitempty"`
	StreamURL string `json:"stream_url,omitempty"`
}

// HTTPInvoker starts runs on a remote runner over HTTP.
type HTTPInvoker struct {
	endpoint  string
	publicURL string
	apiKey    string
	client    *http.Client
	newID     func() string
	now       func() time.Time
	logger    *zap.Logger
}

// Option configures an HTTPInvoker.
type Option func(*HTTPInvoker)

// WithHTTPClient replaces the hardened default client.
func WithHTTPClient(c *http.Client) Option {
	return func(i *HTTPInvoker) {
		if c != nil {
			i.client = c
		}
	}
}

// WithAPIKey sends key as a bearer token.
func WithAPIKey(key string) Option {
	return func(i *HTTPInvoker) { i.apiKey = key }
}

// WithPublicURL sets the externally reachable base URL of this server. It is
// used to build the events callback and the default stream URL.
func WithPublicURL(u string) Option {
	return func(i *HTTPInvoker) { i.publicURL = strings.TrimRight(u, "/") }
}

// WithIDGenerator overrides run id allocation.
func WithIDGenerator(f func() string) Option {
	return func(i *HTTPInvoker) {
		if f != nil {
			i.newID = f
		}
	}
}

// NewHTTPInvoker posts run requests to endpoint.
func NewHTTPInvoker(endpoint string, timeout time.Duration, logger *zap.Logger, opts ...Option) *HTTPInvoker {
	if logger == nil {
		logger = zap.NewNop()
	}
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	i := &HTTPInvoker{
		endpoint: endpoint,
		client:   tlsutil.SecureHTTPClient(timeout),
		newID:    uuid.NewString,
		now:      time.Now,
		logger:   logger.With(zap.String("component", "http_invoker")),
	}
	for _, opt := range opts {
		opt(i)
	}
	return i
}

// StartRun implements workflow.Invoker. A string "query" input replaces the
// first node's task before the workflow is sent.
func (i *HTTPInvoker) StartRun(ctx context.Context, w *workflow.CompiledWorkflow, input map[string]any) (*workflow.RunHandle, error) {
	if w == nil {
		return nil, ErrNoWorkflow
	}
	runID := i.newID()
	if query, ok := input["query"].(string); ok {
		w = WithQuery(w, query)
	}

	req := StartRequest{RunID: runID, Workflow: w, Input: input}
	if i.publicURL != "" {
		req.EventsURL = i.publicURL + EventsPath(runID)
	}
	body, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("failed to encode run request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, i.endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to build run request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if i.apiKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+i.apiKey)
	}
	if reqID, ok := ctxkeys.RequestID(ctx); ok {
		httpReq.Header.Set("X-Request-ID", reqID)
	}

	start := i.now()
	resp, err := i.client.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("runner request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		i.logger.Warn("runner rejected run",
			zap.String("workflow_id", w.ID),
			zap.String("run_id", runID),
			zap.Int("status", resp.StatusCode),
		)
		return nil, fmt.Errorf("%w: status %d: %s", ErrRunnerRejected, resp.StatusCode, strings.TrimSpace(string(snippet)))
	}

	var out StartResponse
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read runner response: %w", err)
	}
	if len(bytes.TrimSpace(data)) > 0 {
		if err := json.Unmarshal(data, &out); err != nil {
			return nil, fmt.Errorf("failed to decode runner response: %w", err)
		}
	}
	if out.RunID != "" {
		runID = out.RunID
	}

	handle := &workflow.RunHandle{
		RunID:      runID,
		WorkflowID: w.ID,
		StartedAt:  start,
		StreamURL:  out.StreamURL,
	}
	if handle.StreamURL == "" && i.publicURL != "" {
		handle.StreamURL = i.publicURL + StreamPath(runID)
	}

	i.logger.Info("run started",
		zap.String("workflow_id", w.ID),
		zap.String("run_id", runID),
	)
	return handle, nil
}

// =============================================================================
// 🔁 LoopbackInvoker
// =============================================================================

// LoopbackInvoker allocates run ids without contacting a runner. Events for
// the run are expected to be posted to the ingest endpoint.
type LoopbackInvoker struct {
	publicURL string
	newID     func() string
	now       func() time.Time
	logger    *zap.Logger
}

// NewLoopbackInvoker creates a LoopbackInvoker. publicURL may be empty, in
// which case handles carry a relative stream path.
func NewLoopbackInvoker(publicURL string, logger *zap.Logger) *LoopbackInvoker {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &LoopbackInvoker{
		publicURL: strings.TrimRight(publicURL, "/"),
		newID:     uuid.NewString,
		now:       time.Now,
		logger:    logger.With(zap.String("component", "loopback_invoker")),
	}
}

// StartRun implements workflow.Invoker.
func (l *LoopbackInvoker) StartRun(_ context.Context, w *workflow.CompiledWorkflow, _ map[string]any) (*workflow.RunHandle, error) {
	if w == nil {
		return nil, ErrNoWorkflow
	}
	runID := l.newID()
	l.logger.Debug("run allocated", zap.String("workflow_id", w.ID), zap.String("run_id", runID))
	return &workflow.RunHandle{
		RunID:      runID,
		WorkflowID: w.ID,
		StartedAt:  l.now(),
		StreamURL:  l.publicURL + StreamPath(runID),
	}, nil
}
