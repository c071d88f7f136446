package transport

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/BaSui01/flowcanvas/workflow/execution"
	"github.com/BaSui01/flowcanvas/workflow/projection"
)

var errLinkDown = errors.New("link down")

// flakySource replays events, failing the first failures calls after cut
// events have been delivered.
func flakySource(events []execution.Event, failures, cut int) (Source, *int) {
	calls := 0
	return SourceFunc(func(ctx context.Context, emit func(execution.Event) error) error {
		calls++
		for i, ev := range events {
			if calls <= failures && i == cut {
				return errLinkDown
			}
			if err := emit(ev); err != nil {
				return stopErr(err)
			}
		}
		return nil
	}), &calls
}

func TestSession_ReconnectRebuildsState(t *testing.T) {
	wf := chain(t, "A", "B")
	events := []execution.Event{
		execution.NewRunStarted(wf.ID, 2),
		execution.NewNodeStarted("A"),
		execution.NewNodeMessage("A", "search", "first"),
		execution.NewNodeCompleted("A", nil),
		execution.NewNodeCompleted("B", nil),
		execution.NewRunCompleted(nil),
	}
	src, calls := flakySource(events, 1, 3)

	s := NewSession(wf, src, zaptest.NewLogger(t), WithReconnectInterval(time.Millisecond))
	require.NoError(t, s.Run(context.Background()))

	assert.Equal(t, 2, *calls)
	st := s.State()
	assert.Equal(t, execution.RunCompleted, st.Status)
	assert.Equal(t, uint(1), st.Node("A").MessageCount)
	assert.Equal(t, []string{"search"}, st.Node("A").ToolsUsed)

	frame := s.Snapshot()
	assert.Equal(t, 2, frame.Summary()[execution.NodeCompleted])
	assert.InDelta(t, 1.0, frame.Progress, 1e-9)
}

func TestSession_ReconnectsExhausted(t *testing.T) {
	wf := chain(t, "A")
	src, calls := flakySource([]execution.Event{execution.NewRunStarted(wf.ID, 1)}, 100, 0)

	s := NewSession(wf, src, nil, WithMaxReconnects(2), WithReconnectInterval(time.Millisecond))
	err := s.Run(context.Background())
	assert.ErrorIs(t, err, ErrReconnectsExhausted)
	assert.ErrorIs(t, err, errLinkDown)
	assert.Equal(t, 3, *calls)
}

func TestSession_UpdatesOnlyOnAppliedEvents(t *testing.T) {
	wf := chain(t, "A")
	src := &SliceSource{Events: []execution.Event{
		execution.NewNodeStarted("A"),
		execution.NewRunStarted(wf.ID, 1),
		execution.NewNodeStarted("A"),
		execution.NewNodeStarted("ghost"),
		execution.NewNodeCompleted("A", "ok"),
		execution.NewRunCompleted(nil),
	}}

	s := NewSession(wf, src, nil, WithProjection(projection.WithLayout(projection.Layout{ColumnWidth: 1, RowHeight: 1})))
	var mu sync.Mutex
	var frames []*projection.DrawableGraph
	s.OnUpdate(func(frame *projection.DrawableGraph, _ execution.Event) {
		mu.Lock()
		frames = append(frames, frame)
		mu.Unlock()
	})

	require.NoError(t, s.Run(context.Background()))
	require.Len(t, frames, 4)
	assert.Equal(t, execution.RunRunning, frames[0].RunStatus)
	assert.Equal(t, execution.RunCompleted, frames[3].RunStatus)

	stats := s.Stats()
	assert.Equal(t, 4, stats.Applied)
	assert.Equal(t, 0, stats.Duplicates)
	assert.Equal(t, 2, stats.Ignored)
}

func TestSession_StartWaitClose(t *testing.T) {
	wf := chain(t, "A")
	log := NewMemoryLog()
	ctx := context.Background()
	_, _ = log.Append(ctx, "run", execution.NewRunStarted(wf.ID, 1))
	_, _ = log.Append(ctx, "run", execution.NewNodeStarted("A"))

	s := NewSession(wf, &LogSource{Log: log, RunID: "run"}, nil)
	updated := make(chan struct{}, 16)
	s.OnUpdate(func(*projection.DrawableGraph, execution.Event) { updated <- struct{}{} })
	require.NoError(t, s.Start(ctx))

	for i := 0; i < 2; i++ {
		select {
		case <-updated:
		case <-time.After(5 * time.Second):
			t.Fatal("session did not apply history")
		}
	}
	assert.Equal(t, execution.NodeActive, s.State().NodeStatus("A"))

	require.NoError(t, s.Close())
	assert.Equal(t, execution.RunIdle, s.State().Status)
	assert.ErrorIs(t, s.Start(ctx), ErrSessionClosed)
	require.NoError(t, s.Close())
}
