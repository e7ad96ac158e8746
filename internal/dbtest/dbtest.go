// Package dbtest opens throwaway sqlite databases for tests.
package dbtest

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/quailyquaily/guildmind/db"
	"gorm.io/gorm"
)

// Open returns a migrated sqlite database under t.TempDir. It is closed when
// the test ends.
func Open(t testing.TB) *gorm.DB {
	t.Helper()
	cfg := db.DefaultConfig()
	cfg.DSN = filepath.Join(t.TempDir(), "test.db")
	gdb, err := db.Open(context.Background(), cfg)
	if err != nil {
		t.Fatalf("db.Open() error = %v", err)
	}
	t.Cleanup(func() { _ = db.Close(gdb) })
	return gdb
}
