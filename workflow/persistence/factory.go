package persistence

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/BaSui01/flowcanvas/internal/cache"
)

// Options selects and wires a backend. Only the fields of the chosen Kind
// are read; connections stay owned by the caller.
type Options struct {
	Kind Kind

	// File
	Dir string

	// Redis
	Redis     redis.UniversalClient
	KeyPrefix string

	// SQL
	DB          *gorm.DB
	AutoMigrate bool
	Transactor  Transactor

	// Mongo
	Mongo           *mongo.Database
	MongoCollection string

	// Optional read cache in front of any backend
	Cache         *cache.Manager
	CacheTTL      time.Duration
	CacheObserver func(hit bool)

	// Optional per-operation observer, e.g. metrics
	Observer OpObserver

	Logger *zap.Logger
}

// New builds the store described by opts.
func New(ctx context.Context, opts Options) (Store, error) {
	if opts.Kind == "" {
		opts.Kind = KindMemory
	}
	var (
		s   Store
		err error
	)
	switch opts.Kind {
	case KindMemory:
		s = NewMemoryStore()
	case KindFile:
		if opts.Dir == "" {
			return nil, fmt.Errorf("%w: file store requires a directory", ErrInvalidInput)
		}
		s, err = NewFileStore(opts.Dir)
	case KindRedis:
		if opts.Redis == nil {
			return nil, fmt.Errorf("%w: redis store requires a client", ErrInvalidInput)
		}
		s = NewRedisStore(opts.Redis, opts.KeyPrefix)
	case KindSQL:
		if opts.DB == nil {
			return nil, fmt.Errorf("%w: sql store requires a database", ErrInvalidInput)
		}
		sqlStore := NewSQLStore(opts.DB, WithTransactor(opts.Transactor))
		if opts.AutoMigrate {
			if err := sqlStore.AutoMigrate(ctx); err != nil {
				return nil, fmt.Errorf("failed to migrate workflows table: %w", err)
			}
		}
		s = sqlStore
	case KindMongo:
		if opts.Mongo == nil {
			return nil, fmt.Errorf("%w: mongo store requires a database", ErrInvalidInput)
		}
		s = NewMongoStore(opts.Mongo, opts.MongoCollection)
	default:
		return nil, fmt.Errorf("unsupported store backend: %s", opts.Kind)
	}
	if err != nil {
		return nil, err
	}

	if opts.Cache != nil {
		cached := NewCachedStore(s, opts.Cache, opts.CacheTTL, opts.Logger)
		cached.OnLookup(opts.CacheObserver)
		s = cached
	}
	return Instrument(s, opts.Kind, opts.Observer), nil
}
