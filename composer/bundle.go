package composer

import (
	"strings"

	"github.com/quailyquaily/guildmind/emoji"
	"github.com/quailyquaily/guildmind/internal/strutil"
	"github.com/quailyquaily/guildmind/memory"
)

type EmojiNote struct {
	Name        string
	Description string
	// Referenced is true when the incoming message mentioned the emoji.
	Referenced bool
}

// Dropped counts what was removed to fit the budget.
type Dropped struct {
	History     int
	Emoji       int
	ServerFacts int
	UserFacts   int
	// Truncated is set when the newest interaction had to be shortened.
	Truncated bool
}

// Bundle is the context handed to the completion call. The incoming message
// itself is not part of it; callers send that as the user turn.
type Bundle struct {
	ID              string
	PersonalityName string
	Personality     string
	ServerFacts     []memory.Fact
	UserFacts       []memory.Fact
	History         []memory.Interaction
	Emoji           []EmojiNote
	Dropped         Dropped
	Warnings        []string
}

const (
	serverFactsTitle = "Facts about this server"
	userFactsTitle   = "What you know about this user"
	historyTitle     = "Recent conversation:"
	emojiTitle       = "Custom emoji available in this server (write them as {name}):"
)

// Text renders the bundle in section order: personality, server facts, user
// facts, history, emoji. Empty sections are omitted.
func (b Bundle) Text() string {
	sections := make([]string, 0, 5)
	if p := strings.TrimSpace(b.Personality); p != "" {
		sections = append(sections, p)
	}
	if s := memory.FormatFacts(serverFactsTitle, factMap(b.ServerFacts)); s != "" {
		sections = append(sections, s)
	}
	if s := memory.FormatFacts(userFactsTitle, factMap(b.UserFacts)); s != "" {
		sections = append(sections, s)
	}
	if s := memory.FormatHistory(b.History); s != "" {
		sections = append(sections, historyTitle+"\n"+s)
	}
	if len(b.Emoji) > 0 {
		items := make([]emoji.Described, 0, len(b.Emoji))
		for _, n := range b.Emoji {
			items = append(items, emoji.Described{Name: n.Name, Description: n.Description})
		}
		if s := emoji.FormatPromptLines(items); s != "" {
			sections = append(sections, emojiTitle+"\n"+s)
		}
	}
	return strings.Join(sections, "\n\n")
}

// Len is the rendered size in code points.
func (b Bundle) Len() int { return strutil.RuneLen(b.Text()) }

func factMap(facts []memory.Fact) map[string]string {
	if len(facts) == 0 {
		return nil
	}
	out := make(map[string]string, len(facts))
	for _, f := range facts {
		out[f.Key] = f.Value
	}
	return out
}
