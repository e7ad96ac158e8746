package memory

import (
	"sort"
	"strings"
)

// SortedFacts returns facts ordered by key, skipping blank keys.
func SortedFacts(facts map[string]string) []Fact {
	out := make([]Fact, 0, len(facts))
	for k, v := range facts {
		if strings.TrimSpace(k) == "" {
			continue
		}
		out = append(out, Fact{Key: k, Value: strings.TrimSpace(v)})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key < out[j].Key })
	return out
}

// FormatFacts renders facts as an indented "key = value" block under title.
// An empty map renders as "".
func FormatFacts(title string, facts map[string]string) string {
	sorted := SortedFacts(facts)
	if len(sorted) == 0 {
		return ""
	}
	var b strings.Builder
	if title = strings.TrimSpace(title); title != "" {
		b.WriteString(title)
		b.WriteString(":\n")
	}
	for _, f := range sorted {
		b.WriteString("  ")
		b.WriteString(f.Key)
		b.WriteString(" = ")
		b.WriteString(f.Value)
		b.WriteString("\n")
	}
	return strings.TrimRight(b.String(), "\n")
}

// FormatHistory renders interactions oldest first, one "role: content" line
// each.
func FormatHistory(history []Interaction) string {
	var b strings.Builder
	for _, h := range history {
		content := strings.TrimSpace(h.Content)
		if content == "" {
			continue
		}
		b.WriteString(h.Role)
		b.WriteString(": ")
		b.WriteString(content)
		b.WriteString("\n")
	}
	return strings.TrimRight(b.String(), "\n")
}
