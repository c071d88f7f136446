package persistence

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/BaSui01/flowcanvas/workflow"
)

const defaultKeyPrefix = "flowcanvas:"

// RedisStore keeps each workflow as a JSON string with a sorted-set index
// scored by save time.
type RedisStore struct {
	client    redis.UniversalClient
	keyPrefix string
	closed    atomic.Bool
}

// NewRedisStore wraps an existing client. The caller owns the client.
func NewRedisStore(client redis.UniversalClient, keyPrefix string) *RedisStore {
	if keyPrefix == "" {
		keyPrefix = defaultKeyPrefix
	}
	return &RedisStore{client: client, keyPrefix: keyPrefix + "workflow:"}
}

// dataKey returns the Redis key for a workflow
func (s *RedisStore) dataKey(id string) string {
	return s.keyPrefix + "data:" + id
}

// indexKey returns the Redis key of the id index
func (s *RedisStore) indexKey() string {
	return s.keyPrefix + "all"
}

// Save implements workflow.Store.
func (s *RedisStore) Save(ctx context.Context, w *workflow.CompiledWorkflow) error {
	if err := checkWorkflow(w); err != nil {
		return err
	}
	if s.closed.Load() {
		return ErrStoreClosed
	}
	data, err := w.ToJSON()
	if err != nil {
		return err
	}

	pipe := s.client.TxPipeline()
	pipe.Set(ctx, s.dataKey(w.ID), data, 0)
	pipe.ZAdd(ctx, s.indexKey(), redis.Z{Score: float64(time.Now().UnixNano()), Member: w.ID})
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to save workflow: %w", err)
	}
	return nil
}

// Load implements workflow.Store.
func (s *RedisStore) Load(ctx context.Context, id string) (*workflow.CompiledWorkflow, error) {
	if s.closed.Load() {
		return nil, ErrStoreClosed
	}
	data, err := s.client.Get(ctx, s.dataKey(id)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get workflow: %w", err)
	}
	return workflow.FromJSON(data)
}

// List implements workflow.Catalog.
func (s *RedisStore) List(ctx context.Context) ([]*workflow.CompiledWorkflow, error) {
	if s.closed.Load() {
		return nil, ErrStoreClosed
	}
	ids, err := s.client.ZRange(ctx, s.indexKey(), 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to list workflows: %w", err)
	}
	if len(ids) == 0 {
		return []*workflow.CompiledWorkflow{}, nil
	}

	keys := make([]string, len(ids))
	for i, id := range ids {
		keys[i] = s.dataKey(id)
	}
	values, err := s.client.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to list workflows: %w", err)
	}

	out := make([]*workflow.CompiledWorkflow, 0, len(values))
	for i, v := range values {
		raw, ok := v.(string)
		if !ok {
			// Index entry without data: removed concurrently.
			continue
		}
		w, err := workflow.FromJSON([]byte(raw))
		if err != nil {
			return nil, fmt.Errorf("workflow %s: %w", ids[i], err)
		}
		out = append(out, w)
	}
	sortByID(out)
	return out, nil
}

// Delete implements workflow.Catalog.
func (s *RedisStore) Delete(ctx context.Context, id string) error {
	if s.closed.Load() {
		return ErrStoreClosed
	}
	pipe := s.client.TxPipeline()
	del := pipe.Del(ctx, s.dataKey(id))
	pipe.ZRem(ctx, s.indexKey(), id)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to delete workflow: %w", err)
	}
	if del.Val() == 0 {
		return ErrNotFound
	}
	return nil
}

// Ping implements Store.
func (s *RedisStore) Ping(ctx context.Context) error {
	if s.closed.Load() {
		return ErrStoreClosed
	}
	return s.client.Ping(ctx).Err()
}

// Close marks the store closed; the client stays open for its owner.
func (s *RedisStore) Close() error {
	s.closed.Store(true)
	return nil
}
