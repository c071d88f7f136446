package database

import (
	"fmt"

	"github.com/glebarez/sqlite"
	"go.uber.org/zap"
	"gorm.io/driver/mysql"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

// Config 描述一个 SQL 连接
type Config struct {
	// 驱动类型: postgres, mysql, sqlite
	Driver string
	// 驱动对应的连接串，sqlite 为文件路径或 ":memory:"
	DSN  string
	Pool PoolConfig
	// 跳过 gorm.Open 时的自动 Ping
	SkipPing bool
}

// Dialector 按驱动名返回 gorm 方言。sqlite 使用纯 Go 实现，无需 cgo。
func Dialector(driver, dsn string) (gorm.Dialector, error) {
	switch driver {
	case "postgres":
		return postgres.Open(dsn), nil
	case "mysql":
		return mysql.Open(dsn), nil
	case "sqlite":
		return sqlite.Open(dsn), nil
	default:
		return nil, fmt.Errorf("unsupported database driver: %q", driver)
	}
}

// Open 打开连接并套上连接池管理
func Open(cfg Config, logger *zap.Logger) (*PoolManager, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if err := cfg.Pool.Validate(); err != nil {
		return nil, fmt.Errorf("invalid pool config: %w", err)
	}

	dialector, err := Dialector(cfg.Driver, cfg.DSN)
	if err != nil {
		return nil, err
	}

	db, err := gorm.Open(dialector, &gorm.Config{
		Logger:               gormlogger.Discard,
		DisableAutomaticPing: cfg.SkipPing,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open %s database: %w", cfg.Driver, err)
	}

	pm, err := NewPoolManager(db, cfg.Pool, logger.With(zap.String("driver", cfg.Driver)))
	if err != nil {
		if sqlDB, dbErr := db.DB(); dbErr == nil {
			_ = sqlDB.Close()
		}
		return nil, err
	}
	return pm, nil
}
