package db

import (
	"fmt"
	"strings"
	"time"

	"github.com/quailyquaily/guildmind/internal/pathutil"
)

const defaultSQLitePath = "~/.guildmind/guildmind.db"

type Config struct {
	Driver      string
	DSN         string
	AutoMigrate bool

	Pool   PoolConfig
	SQLite SQLiteConfig
}

type PoolConfig struct {
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
}

type SQLiteConfig struct {
	BusyTimeoutMs int
	WAL           bool
	ForeignKeys   bool
}

func DefaultConfig() Config {
	return Config{
		Driver:      "sqlite",
		AutoMigrate: true,
		Pool: PoolConfig{
			MaxOpenConns: 1,
			MaxIdleConns: 1,
		},
		SQLite: SQLiteConfig{
			BusyTimeoutMs: 5000,
			WAL:           true,
		},
	}
}

// ResolveSQLiteDSN expands a configured sqlite DSN into something the driver
// can open. Plain paths get their parent directory created.
func ResolveSQLiteDSN(dsn string) (string, error) {
	dsn = strings.TrimSpace(dsn)
	if dsn == "" {
		dsn = defaultSQLitePath
	}
	if dsn == ":memory:" || strings.HasPrefix(dsn, "file:") {
		return dsn, nil
	}
	path := pathutil.ExpandHomePath(dsn)
	if path == "" {
		return "", fmt.Errorf("invalid sqlite dsn: %q", dsn)
	}
	if err := pathutil.EnsureParentDir(path, 0o700); err != nil {
		return "", fmt.Errorf("create sqlite dir: %w", err)
	}
	return path, nil
}
