package transport

import (
	"context"
	"errors"
	"sync"

	"github.com/BaSui01/flowcanvas/workflow/execution"
)

// ErrLogClosed is returned by a log after Close.
var ErrLogClosed = errors.New("transport: event log closed")

// Entry is an event stored at a 1-based offset of a run's log.
type Entry struct {
	Offset uint64          `json:"offset"`
	Event  execution.Event `json:"event"`
}

// EventLog keeps the full event history of every run so that late or
// reconnecting viewers can replay from the start.
type EventLog interface {
	// Append stores ev and returns its entry. An event without a sequence
	// hint is stamped with its offset.
	Append(ctx context.Context, runID string, ev execution.Event) (Entry, error)
	// Read returns the entries with Offset > after.
	Read(ctx context.Context, runID string, after uint64) ([]Entry, error)
	// Subscribe delivers entries appended after the call. The channel is
	// closed when ctx is done, the log closes or the subscriber falls too
	// far behind; consumers then replay with Read.
	Subscribe(ctx context.Context, runID string) (<-chan Entry, error)
}

// LogSource adapts an EventLog to a Source for one run. Each Stream replays
// the stored history and then follows new entries until the run ends.
type LogSource struct {
	Log   EventLog
	RunID string
}

// Stream implements Source.
func (s *LogSource) Stream(ctx context.Context, emit func(execution.Event) error) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	// Subscribe first so nothing appended during the replay is missed.
	live, err := s.Log.Subscribe(ctx, s.RunID)
	if err != nil {
		return err
	}
	history, err := s.Log.Read(ctx, s.RunID, 0)
	if err != nil {
		return err
	}

	var last uint64
	for _, e := range history {
		if err := emit(e.Event); err != nil {
			return stopErr(err)
		}
		last = e.Offset
		if isTerminal(e.Event) {
			return nil
		}
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case e, ok := <-live:
			if !ok {
				if ctx.Err() != nil {
					return ctx.Err()
				}
				return errSubscriptionLost
			}
			if e.Offset <= last {
				continue
			}
			last = e.Offset
			if err := emit(e.Event); err != nil {
				return stopErr(err)
			}
			if isTerminal(e.Event) {
				return nil
			}
		}
	}
}

var errSubscriptionLost = errors.New("transport: subscription lost")

const subscriberBuffer = 256

type memoryRun struct {
	entries []Entry
	subs    map[chan Entry]struct{}
}

// MemoryLog is an in-process EventLog.
type MemoryLog struct {
	mu     sync.Mutex
	runs   map[string]*memoryRun
	closed bool
}

// NewMemoryLog creates an empty log.
func NewMemoryLog() *MemoryLog {
	return &MemoryLog{runs: make(map[string]*memoryRun)}
}

func (l *MemoryLog) run(runID string) *memoryRun {
	r, ok := l.runs[runID]
	if !ok {
		r = &memoryRun{subs: make(map[chan Entry]struct{})}
		l.runs[runID] = r
	}
	return r
}

// Append implements EventLog.
func (l *MemoryLog) Append(_ context.Context, runID string, ev execution.Event) (Entry, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		return Entry{}, ErrLogClosed
	}

	r := l.run(runID)
	e := Entry{Offset: uint64(len(r.entries)) + 1, Event: ev}
	if e.Event.SequenceHint == 0 {
		e.Event.SequenceHint = e.Offset
	}
	r.entries = append(r.entries, e)

	for ch := range r.subs {
		select {
		case ch <- e:
		default:
			// Slow subscriber: cut it off, it will replay.
			delete(r.subs, ch)
			close(ch)
		}
	}
	return e, nil
}

// Read implements EventLog.
func (l *MemoryLog) Read(_ context.Context, runID string, after uint64) ([]Entry, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		return nil, ErrLogClosed
	}
	r, ok := l.runs[runID]
	if !ok || after >= uint64(len(r.entries)) {
		return nil, nil
	}
	return append([]Entry(nil), r.entries[after:]...), nil
}

// Subscribe implements EventLog.
func (l *MemoryLog) Subscribe(ctx context.Context, runID string) (<-chan Entry, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		return nil, ErrLogClosed
	}
	ch := make(chan Entry, subscriberBuffer)
	r := l.run(runID)
	r.subs[ch] = struct{}{}

	go func() {
		<-ctx.Done()
		l.mu.Lock()
		defer l.mu.Unlock()
		if _, ok := r.subs[ch]; ok {
			delete(r.subs, ch)
			close(ch)
		}
	}()
	return ch, nil
}

// Len returns the number of entries stored for a run.
func (l *MemoryLog) Len(runID string) int {
	l.mu.Lock()
	defer l.mu.Unlock()
	if r, ok := l.runs[runID]; ok {
		return len(r.entries)
	}
	return 0
}

// Drop forgets a run and disconnects its subscribers.
func (l *MemoryLog) Drop(runID string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	r, ok := l.runs[runID]
	if !ok {
		return
	}
	for ch := range r.subs {
		close(ch)
	}
	r.subs = nil
	delete(l.runs, runID)
}

// Close disconnects every subscriber and rejects further calls.
func (l *MemoryLog) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		return nil
	}
	l.closed = true
	for _, r := range l.runs {
		for ch := range r.subs {
			close(ch)
		}
		r.subs = nil
	}
	return nil
}
