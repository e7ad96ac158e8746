package db

import (
	"context"
	"fmt"
	"strings"

	"github.com/glebarez/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

func Open(ctx context.Context, cfg Config) (*gorm.DB, error) {
	if strings.TrimSpace(cfg.Driver) == "" {
		cfg.Driver = "sqlite"
	}
	switch strings.ToLower(strings.TrimSpace(cfg.Driver)) {
	case "sqlite":
		dsn, err := ResolveSQLiteDSN(cfg.DSN)
		if err != nil {
			return nil, err
		}
		gdb, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
			Logger: logger.Default.LogMode(logger.Silent),
		})
		if err != nil {
			return nil, err
		}
		sqlDB, err := gdb.DB()
		if err != nil {
			return nil, err
		}
		if err := applySQLitePragmas(ctx, gdb, cfg.SQLite); err != nil {
			_ = sqlDB.Close()
			return nil, err
		}
		if cfg.Pool.MaxOpenConns > 0 {
			sqlDB.SetMaxOpenConns(cfg.Pool.MaxOpenConns)
		}
		if cfg.Pool.MaxIdleConns > 0 {
			sqlDB.SetMaxIdleConns(cfg.Pool.MaxIdleConns)
		}
		if cfg.Pool.ConnMaxLifetime > 0 {
			sqlDB.SetConnMaxLifetime(cfg.Pool.ConnMaxLifetime)
		}
		if err := sqlDB.PingContext(ctx); err != nil {
			_ = sqlDB.Close()
			return nil, fmt.Errorf("ping sqlite: %w", err)
		}
		if cfg.AutoMigrate {
			if err := AutoMigrate(gdb.WithContext(ctx)); err != nil {
				_ = sqlDB.Close()
				return nil, fmt.Errorf("automigrate: %w", err)
			}
		}
		return gdb, nil
	default:
		return nil, fmt.Errorf("unsupported db.driver: %s (only sqlite is implemented)", cfg.Driver)
	}
}

func Close(gdb *gorm.DB) error {
	if gdb == nil {
		return nil
	}
	sqlDB, err := gdb.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
