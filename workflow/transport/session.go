package transport

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"github.com/BaSui01/flowcanvas/workflow"
	"github.com/BaSui01/flowcanvas/workflow/execution"
	"github.com/BaSui01/flowcanvas/workflow/projection"
)

// ErrSessionClosed is returned by Start after Close.
var ErrSessionClosed = errors.New("transport: session closed")

// ErrReconnectsExhausted wraps the last stream error once the reconnect
// budget is spent.
var ErrReconnectsExhausted = errors.New("transport: reconnect attempts exhausted")

const (
	defaultMaxReconnects     = 5
	defaultReconnectInterval = time.Second
)

// UpdateFunc receives a fresh frame after every applied event.
type UpdateFunc func(frame *projection.DrawableGraph, ev execution.Event)

// Session drives one visualization: it follows a Source, folds events into
// a Reducer and projects the result. Sessions never hold an editor Graph;
// closing one discards its run state only.
type Session struct {
	workflow *workflow.CompiledWorkflow
	source   Source
	reducer  *execution.Reducer
	logger   *zap.Logger

	maxReconnects int
	backoff       *rate.Limiter
	projection    []projection.Option
	reducerOpts   []execution.ReducerOption

	mu        sync.Mutex
	listeners []UpdateFunc
	cancel    context.CancelFunc
	group     *errgroup.Group
	closed    bool
}

// SessionOption configures a Session.
type SessionOption func(*Session)

// WithMaxReconnects bounds how many times a broken stream is reopened.
// Zero disables reconnecting.
func WithMaxReconnects(n int) SessionOption {
	return func(s *Session) { s.maxReconnects = n }
}

// WithReconnectInterval spaces consecutive reconnect attempts.
func WithReconnectInterval(d time.Duration) SessionOption {
	return func(s *Session) { s.backoff = rate.NewLimiter(rate.Every(d), 1) }
}

// WithProjection sets the layout options used for frames.
func WithProjection(opts ...projection.Option) SessionOption {
	return func(s *Session) { s.projection = opts }
}

// WithReducerOptions passes extra options to the session's reducer.
func WithReducerOptions(opts ...execution.ReducerOption) SessionOption {
	return func(s *Session) { s.reducerOpts = append(s.reducerOpts, opts...) }
}

// NewSession creates an idle session for wf fed by src.
func NewSession(wf *workflow.CompiledWorkflow, src Source, logger *zap.Logger, opts ...SessionOption) *Session {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Session{
		workflow:      wf,
		source:        src,
		logger:        logger.With(zap.String("component", "session"), zap.String("workflow_id", wf.ID)),
		maxReconnects: defaultMaxReconnects,
		backoff:       rate.NewLimiter(rate.Every(defaultReconnectInterval), 1),
	}
	for _, opt := range opts {
		opt(s)
	}
	ropts := append([]execution.ReducerOption{execution.WithWorkflow(wf)}, s.reducerOpts...)
	s.reducer = execution.NewReducer(logger, ropts...)
	return s
}

// OnUpdate registers a listener. Listeners run on the streaming goroutine
// and must not block.
func (s *Session) OnUpdate(fn UpdateFunc) {
	s.mu.Lock()
	s.listeners = append(s.listeners, fn)
	s.mu.Unlock()
}

// Run streams until the run ends, ctx is done or reconnects are exhausted.
// Every (re)connect replays from RunStarted, so state is reset first.
func (s *Session) Run(ctx context.Context) error {
	attempts := 0
	for {
		s.reducer.Reset()
		err := s.source.Stream(ctx, s.handle)
		if err == nil {
			s.logger.Debug("event stream ended", zap.String("run_status", string(s.reducer.State().Status)))
			return nil
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if attempts >= s.maxReconnects {
			return fmt.Errorf("%w: %w", ErrReconnectsExhausted, err)
		}
		attempts++
		s.logger.Warn("event stream broken, reconnecting",
			zap.Int("attempt", attempts),
			zap.Error(err),
		)
		if err := s.backoff.Wait(ctx); err != nil {
			return ctx.Err()
		}
	}
}

func (s *Session) handle(ev execution.Event) error {
	out := s.reducer.Apply(ev)
	if out.Disposition != execution.Applied {
		return nil
	}
	s.mu.Lock()
	listeners := append([]UpdateFunc(nil), s.listeners...)
	s.mu.Unlock()
	if len(listeners) == 0 {
		return nil
	}
	frame := s.Snapshot()
	for _, fn := range listeners {
		fn(frame, ev)
	}
	return nil
}

// Start runs the session in the background. Use Wait for its result.
func (s *Session) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrSessionClosed
	}
	if s.group != nil {
		return nil
	}
	ctx, cancel := context.WithCancel(ctx)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return s.Run(gctx) })
	s.cancel = cancel
	s.group = g
	return nil
}

// Wait blocks until a started session finishes.
func (s *Session) Wait() error {
	s.mu.Lock()
	g := s.group
	s.mu.Unlock()
	if g == nil {
		return nil
	}
	return g.Wait()
}

// Snapshot projects the current run state.
func (s *Session) Snapshot() *projection.DrawableGraph {
	return projection.ProjectCompiled(s.workflow, s.reducer.State(), s.projection...)
}

// State returns a copy of the current run state.
func (s *Session) State() *execution.RunState {
	return s.reducer.State()
}

// Stats returns the reducer counters.
func (s *Session) Stats() execution.Stats {
	return s.reducer.Stats()
}

// Workflow returns the visualized workflow.
func (s *Session) Workflow() *workflow.CompiledWorkflow {
	return s.workflow
}

// Close stops streaming and discards the run state.
func (s *Session) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	cancel, g := s.cancel, s.group
	s.listeners = nil
	s.mu.Unlock()

	if cancel != nil {
		cancel()
		if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
			s.logger.Debug("session stopped with error", zap.Error(err))
		}
	}
	s.reducer.Reset()
	return nil
}
