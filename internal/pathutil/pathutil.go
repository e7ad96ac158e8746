package pathutil

import (
	"os"
	"path/filepath"
	"strings"
)

// ExpandHomePath expands a leading "~" and any $VAR references, then cleans
// the result. Blank input stays blank.
func ExpandHomePath(p string) string {
	p = strings.TrimSpace(os.ExpandEnv(strings.TrimSpace(p)))
	if p == "" {
		return ""
	}
	if p == "~" || strings.HasPrefix(p, "~/") {
		home, err := os.UserHomeDir()
		if err != nil || strings.TrimSpace(home) == "" {
			return filepath.Clean(p)
		}
		if p == "~" {
			return filepath.Clean(home)
		}
		return filepath.Clean(filepath.Join(home, strings.TrimPrefix(p, "~/")))
	}
	return filepath.Clean(p)
}

// EnsureParentDir creates the directory that will hold path.
func EnsureParentDir(path string, perm os.FileMode) error {
	dir := filepath.Dir(path)
	if dir == "" || dir == "." {
		return nil
	}
	return os.MkdirAll(dir, perm)
}
