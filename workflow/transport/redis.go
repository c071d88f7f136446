package transport

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/BaSui01/flowcanvas/workflow/execution"
)

const (
	defaultStreamPrefix = "flowcanvas:"
	streamField         = "event"
	defaultBlock        = time.Second
	readBatch           = 128
)

// appendScript allocates the next offset and stores the event under the
// stream id "<offset>-0" in one round trip.
var appendScript = redis.NewScript(`
	local n = redis.call('INCR', KEYS[2])
	redis.call('XADD', KEYS[1], n .. '-0', 'event', ARGV[1])
	return n
`)

// RedisStreamLog is an EventLog backed by one Redis stream per run, so
// runners and viewers in different processes share a single history.
type RedisStreamLog struct {
	client redis.UniversalClient
	prefix string
	block  time.Duration
	logger *zap.Logger
}

// RedisLogOption configures a RedisStreamLog.
type RedisLogOption func(*RedisStreamLog)

// WithKeyPrefix overrides the "flowcanvas:" key prefix.
func WithKeyPrefix(prefix string) RedisLogOption {
	return func(l *RedisStreamLog) { l.prefix = prefix }
}

// WithBlockTimeout bounds each blocking XREAD of a subscription.
func WithBlockTimeout(d time.Duration) RedisLogOption {
	return func(l *RedisStreamLog) { l.block = d }
}

// NewRedisStreamLog wraps an existing client. The caller owns the client.
func NewRedisStreamLog(client redis.UniversalClient, logger *zap.Logger, opts ...RedisLogOption) *RedisStreamLog {
	if logger == nil {
		logger = zap.NewNop()
	}
	l := &RedisStreamLog{
		client: client,
		prefix: defaultStreamPrefix,
		block:  defaultBlock,
		logger: logger.With(zap.String("component", "redis_event_log")),
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

func (l *RedisStreamLog) streamKey(runID string) string {
	return l.prefix + "run:" + runID + ":events"
}

func (l *RedisStreamLog) seqKey(runID string) string {
	return l.prefix + "run:" + runID + ":seq"
}

// Append implements EventLog.
func (l *RedisStreamLog) Append(ctx context.Context, runID string, ev execution.Event) (Entry, error) {
	data, err := execution.EncodeEvent(ev)
	if err != nil {
		return Entry{}, err
	}
	n, err := appendScript.Run(ctx, l.client, []string{l.streamKey(runID), l.seqKey(runID)}, data).Int64()
	if err != nil {
		return Entry{}, fmt.Errorf("append event to redis: %w", err)
	}
	e := Entry{Offset: uint64(n), Event: ev}
	if e.Event.SequenceHint == 0 {
		e.Event.SequenceHint = e.Offset
	}
	return e, nil
}

// Read implements EventLog.
func (l *RedisStreamLog) Read(ctx context.Context, runID string, after uint64) ([]Entry, error) {
	msgs, err := l.client.XRange(ctx, l.streamKey(runID), fmt.Sprintf("%d-0", after+1), "+").Result()
	if err != nil {
		return nil, fmt.Errorf("read redis stream: %w", err)
	}
	return l.decode(msgs)
}

// Subscribe implements EventLog.
func (l *RedisStreamLog) Subscribe(ctx context.Context, runID string) (<-chan Entry, error) {
	key := l.streamKey(runID)
	lastID := "0-0"
	tail, err := l.client.XRevRangeN(ctx, key, "+", "-", 1).Result()
	if err != nil {
		return nil, fmt.Errorf("read redis stream tail: %w", err)
	}
	if len(tail) > 0 {
		lastID = tail[0].ID
	}

	ch := make(chan Entry, subscriberBuffer)
	go func() {
		defer close(ch)
		for ctx.Err() == nil {
			streams, err := l.client.XRead(ctx, &redis.XReadArgs{
				Streams: []string{key, lastID},
				Count:   readBatch,
				Block:   l.block,
			}).Result()
			if errors.Is(err, redis.Nil) {
				continue
			}
			if err != nil {
				if ctx.Err() == nil {
					l.logger.Warn("redis stream subscription ended", zap.String("run_id", runID), zap.Error(err))
				}
				return
			}
			for _, s := range streams {
				entries, err := l.decode(s.Messages)
				if err != nil {
					l.logger.Warn("undecodable stream entry", zap.String("run_id", runID), zap.Error(err))
					return
				}
				for i, e := range entries {
					select {
					case ch <- e:
					case <-ctx.Done():
						return
					}
					lastID = s.Messages[i].ID
				}
			}
		}
	}()
	return ch, nil
}

// Delete removes a run's stream and offset counter.
func (l *RedisStreamLog) Delete(ctx context.Context, runID string) error {
	return l.client.Del(ctx, l.streamKey(runID), l.seqKey(runID)).Err()
}

func (l *RedisStreamLog) decode(msgs []redis.XMessage) ([]Entry, error) {
	out := make([]Entry, 0, len(msgs))
	for _, m := range msgs {
		offset, err := parseOffset(m.ID)
		if err != nil {
			return nil, err
		}
		raw, ok := m.Values[streamField].(string)
		if !ok {
			return nil, fmt.Errorf("stream entry %s: missing %q field", m.ID, streamField)
		}
		var ev execution.Event
		if err := json.Unmarshal([]byte(raw), &ev); err != nil {
			return nil, fmt.Errorf("stream entry %s: %w", m.ID, err)
		}
		if ev.SequenceHint == 0 {
			ev.SequenceHint = offset
		}
		out = append(out, Entry{Offset: offset, Event: ev})
	}
	return out, nil
}

func parseOffset(id string) (uint64, error) {
	ms, _, _ := strings.Cut(id, "-")
	n, err := strconv.ParseUint(ms, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("stream entry id %q: %w", id, err)
	}
	return n, nil
}

// RedisStreamSource streams one run straight from its Redis stream.
func RedisStreamSource(log *RedisStreamLog, runID string) Source {
	return &LogSource{Log: log, RunID: runID}
}
