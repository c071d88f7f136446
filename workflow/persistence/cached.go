package persistence

import (
	"context"
	"errors"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/BaSui01/flowcanvas/internal/cache"
	"github.com/BaSui01/flowcanvas/workflow"
)

// CachedStore fronts a Store with the Redis cache. Loads that miss the
// cache are collapsed per id; writes invalidate. Cache failures degrade to
// the backing store.
type CachedStore struct {
	Store
	cache  *cache.Manager
	ttl    time.Duration
	group  singleflight.Group
	logger *zap.Logger
	closed atomic.Bool
	lookup func(hit bool)
}

// NewCachedStore wraps backend. A zero ttl uses the cache default.
func NewCachedStore(backend Store, c *cache.Manager, ttl time.Duration, logger *zap.Logger) *CachedStore {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &CachedStore{
		Store:  backend,
		cache:  c,
		ttl:    ttl,
		logger: logger.With(zap.String("component", "workflow_cache")),
	}
}

// OnLookup registers fn to learn whether each Load was served from the cache.
// Call it before the store is shared.
func (s *CachedStore) OnLookup(fn func(hit bool)) {
	s.lookup = fn
}

func (s *CachedStore) observe(hit bool) {
	if s.lookup != nil {
		s.lookup(hit)
	}
}

func cacheKey(id string) string { return "workflow:" + id }

// Load implements workflow.Store.
func (s *CachedStore) Load(ctx context.Context, id string) (*workflow.CompiledWorkflow, error) {
	if s.closed.Load() {
		return nil, ErrStoreClosed
	}
	var cached workflow.CompiledWorkflow
	err := s.cache.GetJSON(ctx, cacheKey(id), &cached)
	if err == nil {
		s.observe(true)
		return &cached, nil
	}
	s.observe(false)
	if !cache.IsCacheMiss(err) {
		s.logger.Warn("workflow cache read failed", zap.String("workflow_id", id), zap.Error(err))
	}

	v, err, _ := s.group.Do(id, func() (any, error) {
		w, err := s.Store.Load(ctx, id)
		if err != nil {
			return nil, err
		}
		if err := s.cache.SetJSON(ctx, cacheKey(id), w, s.ttl); err != nil {
			s.logger.Warn("workflow cache fill failed", zap.String("workflow_id", id), zap.Error(err))
		}
		return w, nil
	})
	if err != nil {
		return nil, err
	}
	// Callers sharing a flight must not share the result.
	return v.(*workflow.CompiledWorkflow).Clone(), nil
}

// Save implements workflow.Store.
func (s *CachedStore) Save(ctx context.Context, w *workflow.CompiledWorkflow) error {
	if err := s.Store.Save(ctx, w); err != nil {
		return err
	}
	s.invalidate(ctx, w.ID)
	return nil
}

// Delete implements workflow.Catalog.
func (s *CachedStore) Delete(ctx context.Context, id string) error {
	err := s.Store.Delete(ctx, id)
	if err == nil || errors.Is(err, ErrNotFound) {
		s.invalidate(ctx, id)
	}
	return err
}

func (s *CachedStore) invalidate(ctx context.Context, id string) {
	if err := s.cache.Delete(ctx, cacheKey(id)); err != nil {
		s.logger.Warn("workflow cache invalidation failed", zap.String("workflow_id", id), zap.Error(err))
	}
}

// Close closes the backing store. The cache manager stays with its owner.
func (s *CachedStore) Close() error {
	s.closed.Store(true)
	return s.Store.Close()
}
