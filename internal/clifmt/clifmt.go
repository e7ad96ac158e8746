package clifmt

import (
	"fmt"
	"os"
	"sync"

	"golang.org/x/term"
)

type style string

const (
	styleHeader  style = "1;36"
	styleSuccess style = "32"
	styleWarn    style = "33"
	styleDim     style = "2"
	styleKey     style = "1;33"
)

// colorEnabled is decided once per process from NO_COLOR, TERM and whether
// stdout is a terminal.
var colorEnabled = sync.OnceValue(func() bool {
	if os.Getenv("NO_COLOR") != "" || os.Getenv("TERM") == "dumb" {
		return false
	}
	return term.IsTerminal(int(os.Stdout.Fd()))
})

func paint(s style, text string) string {
	if !colorEnabled() {
		return text
	}
	return "\x1b[" + string(s) + "m" + text + "\x1b[0m"
}

func Headerf(format string, args ...any) string {
	return paint(styleHeader, fmt.Sprintf(format, args...))
}

func Success(text string) string { return paint(styleSuccess, text) }
func Warn(text string) string    { return paint(styleWarn, text) }
func Dim(text string) string     { return paint(styleDim, text) }
func Key(text string) string     { return paint(styleKey, text) }

// KV renders one "key: value" line with the key highlighted.
func KV(key string, value any) string {
	return fmt.Sprintf("%s: %v", Key(key), value)
}
