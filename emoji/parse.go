package emoji

import (
	"regexp"
	"sort"
	"strings"
)

var referencePattern = regexp.MustCompile(`<a?:(\w+):\d+>|\{(\w+)\}|:(\w+):`)

var tagPattern = regexp.MustCompile(`\{(\w+)\}`)

// ParseReferences returns the emoji names referenced in text, in order of
// first appearance. It understands "{name}", "<:name:id>", "<a:name:id>" and
// ":name:".
func ParseReferences(text string) []string {
	var out []string
	seen := map[string]bool{}
	for _, m := range referencePattern.FindAllStringSubmatch(text, -1) {
		name := firstNonEmpty(m[1:]...)
		if name == "" || isDigits(name) || seen[name] {
			continue
		}
		seen[name] = true
		out = append(out, name)
	}
	return out
}

// ReplaceTags rewrites "{name}" tags into the platform form for emoji found
// in inventory. Unknown tags are left untouched.
func ReplaceTags(text string, inventory []Emoji) string {
	byName := make(map[string]Emoji, len(inventory))
	for _, e := range inventory {
		byName[e.Name] = e
	}
	return tagPattern.ReplaceAllStringFunc(text, func(tag string) string {
		name := tag[1 : len(tag)-1]
		e, ok := byName[name]
		if !ok || strings.TrimSpace(e.ID) == "" {
			return tag
		}
		return e.Tag()
	})
}

// Described pairs an emoji name with its description.
type Described struct {
	Name        string
	Description string
}

// FormatPromptLines renders one "- {name}: description" line per entry.
func FormatPromptLines(items []Described) string {
	var b strings.Builder
	for _, it := range items {
		if strings.TrimSpace(it.Name) == "" {
			continue
		}
		b.WriteString("- {")
		b.WriteString(it.Name)
		b.WriteString("}: ")
		b.WriteString(strings.TrimSpace(it.Description))
		b.WriteString("\n")
	}
	return strings.TrimRight(b.String(), "\n")
}

// SortByName orders an inventory by name, then guild.
func SortByName(inv []Emoji) {
	sort.SliceStable(inv, func(i, j int) bool {
		if inv[i].Name == inv[j].Name {
			return inv[i].GuildID < inv[j].GuildID
		}
		return inv[i].Name < inv[j].Name
	})
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v != "" {
			return v
		}
	}
	return ""
}

func isDigits(s string) bool {
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return s != ""
}
