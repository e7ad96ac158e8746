package db

import (
	"os"
	"path/filepath"
	"testing"
)

func TestResolveSQLiteDSN(t *testing.T) {
	root := t.TempDir()
	path := filepath.Join(root, "nested", "dir", "x.db")

	got, err := ResolveSQLiteDSN(path)
	if err != nil {
		t.Fatalf("ResolveSQLiteDSN() error = %v", err)
	}
	if got != path {
		t.Fatalf("ResolveSQLiteDSN() = %q, want %q", got, path)
	}
	if st, err := os.Stat(filepath.Dir(path)); err != nil || !st.IsDir() {
		t.Fatalf("parent dir not created: %v", err)
	}

	for _, dsn := range []string{":memory:", "file:x.db?mode=memory"} {
		got, err := ResolveSQLiteDSN(dsn)
		if err != nil {
			t.Fatalf("ResolveSQLiteDSN(%q) error = %v", dsn, err)
		}
		if got != dsn {
			t.Fatalf("ResolveSQLiteDSN(%q) = %q, want unchanged", dsn, got)
		}
	}
}

func TestResolveSQLiteDSNDefaultsUnderHome(t *testing.T) {
	home := t.TempDir()
	t.Setenv("HOME", home)

	got, err := ResolveSQLiteDSN("  ")
	if err != nil {
		t.Fatalf("ResolveSQLiteDSN() error = %v", err)
	}
	want := filepath.Join(home, ".guildmind", "guildmind.db")
	if got != want {
		t.Fatalf("ResolveSQLiteDSN() = %q, want %q", got, want)
	}
}
