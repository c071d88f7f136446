package transport

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/BaSui01/flowcanvas/workflow/execution"
)

// ErrStopped may be returned by an emit callback to end a stream early
// without signalling a failure.
var ErrStopped = errors.New("transport: stream stopped")

// Source delivers the events of one run. Every call to Stream starts again
// from the beginning of the run's log, so a consumer that lost its
// connection can rebuild state by replaying from RunStarted.
//
// Stream blocks until the log ends (nil), ctx is done (ctx.Err()), emit
// returns an error (that error, except ErrStopped which yields nil) or the
// underlying connection breaks (a non-nil error the caller may retry).
type Source interface {
	Stream(ctx context.Context, emit func(execution.Event) error) error
}

// SourceFunc adapts a function to Source.
type SourceFunc func(ctx context.Context, emit func(execution.Event) error) error

// Stream implements Source.
func (f SourceFunc) Stream(ctx context.Context, emit func(execution.Event) error) error {
	return f(ctx, emit)
}

// SliceSource replays an in-memory event log.
type SliceSource struct {
	Events []execution.Event
}

// Stream implements Source.
func (s *SliceSource) Stream(ctx context.Context, emit func(execution.Event) error) error {
	for _, ev := range s.Events {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := emit(ev); err != nil {
			return stopErr(err)
		}
	}
	return nil
}

// ReaderSource replays a JSON-lines event log. Open is called once per
// Stream so the log is read from the start every time. Events without a
// sequence hint get their 1-based position in the log, so every replay
// stamps the same hints.
type ReaderSource struct {
	Open func() (io.ReadCloser, error)
}

// FileSource replays a JSON-lines log file.
func FileSource(path string) *ReaderSource {
	return &ReaderSource{Open: func() (io.ReadCloser, error) { return os.Open(path) }}
}

// Stream implements Source.
func (s *ReaderSource) Stream(ctx context.Context, emit func(execution.Event) error) error {
	rc, err := s.Open()
	if err != nil {
		return fmt.Errorf("open event log: %w", err)
	}
	defer rc.Close()

	var pos uint64
	err = execution.DecodeStream(rc, func(ev execution.Event) error {
		if err := ctx.Err(); err != nil {
			return err
		}
		pos++
		if ev.SequenceHint == 0 {
			ev.SequenceHint = pos
		}
		return emit(ev)
	})
	return stopErr(err)
}

func stopErr(err error) error {
	if errors.Is(err, ErrStopped) {
		return nil
	}
	return err
}

// isTerminal reports whether ev ends a run.
func isTerminal(ev execution.Event) bool {
	return ev.Type == execution.EventRunCompleted || ev.Type == execution.EventRunFailed
}
