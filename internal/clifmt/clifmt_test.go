package clifmt

import "testing"

func TestPlainOutputWithoutColor(t *testing.T) {
	prev := colorEnabled
	colorEnabled = func() bool { return false }
	t.Cleanup(func() { colorEnabled = prev })

	if got := KV("seen", 3); got != "seen: 3" {
		t.Fatalf("KV() = %q", got)
	}
	if got := Headerf("User %s", "u1"); got != "User u1" {
		t.Fatalf("Headerf() = %q", got)
	}
	for _, fn := range []func(string) string{Success, Warn, Dim, Key} {
		if got := fn("x"); got != "x" {
			t.Fatalf("styled output = %q, want plain", got)
		}
	}
}

func TestColoredOutput(t *testing.T) {
	prev := colorEnabled
	colorEnabled = func() bool { return true }
	t.Cleanup(func() { colorEnabled = prev })

	if got := Success("ok"); got != "\x1b[32mok\x1b[0m" {
		t.Fatalf("Success() = %q", got)
	}
}
