package strutil

import "unicode/utf8"

// TruncateUTF8 returns the longest prefix of s that is at most maxBytes
// bytes and does not split a multi-byte UTF-8 character.
func TruncateUTF8(s string, maxBytes int) string {
	if maxBytes <= 0 {
		return ""
	}
	if len(s) <= maxBytes {
		return s
	}
	for maxBytes > 0 && !utf8.RuneStart(s[maxBytes]) {
		maxBytes--
	}
	return s[:maxBytes]
}

// RuneLen is the length of s in code points.
func RuneLen(s string) int {
	return utf8.RuneCountInString(s)
}

// Ellipsize shortens s to at most maxRunes code points, ending with "..."
// when something was cut.
func Ellipsize(s string, maxRunes int) string {
	if maxRunes <= 0 {
		return ""
	}
	if utf8.RuneCountInString(s) <= maxRunes {
		return s
	}
	if maxRunes <= 3 {
		return string([]rune(s)[:maxRunes])
	}
	return string([]rune(s)[:maxRunes-3]) + "..."
}
