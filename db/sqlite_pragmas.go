package db

import (
	"context"
	"fmt"

	"gorm.io/gorm"
)

// sqlitePragmas lists the statements applied to a fresh connection. WAL is
// paired with synchronous=NORMAL.
func sqlitePragmas(cfg SQLiteConfig) []string {
	var out []string
	if cfg.WAL {
		out = append(out, "PRAGMA journal_mode=WAL;", "PRAGMA synchronous=NORMAL;")
	}
	if cfg.BusyTimeoutMs > 0 {
		out = append(out, fmt.Sprintf("PRAGMA busy_timeout=%d;", cfg.BusyTimeoutMs))
	}
	if cfg.ForeignKeys {
		out = append(out, "PRAGMA foreign_keys=ON;")
	}
	return out
}

func applySQLitePragmas(ctx context.Context, gdb *gorm.DB, cfg SQLiteConfig) error {
	if gdb == nil {
		return fmt.Errorf("nil gorm db")
	}
	for _, stmt := range sqlitePragmas(cfg) {
		if err := gdb.WithContext(ctx).Exec(stmt).Error; err != nil {
			return fmt.Errorf("%s: %w", stmt, err)
		}
	}
	return nil
}
