package emoji

import (
	"context"
	"strings"
	"time"

	"github.com/quailyquaily/guildmind/store"
)

// Emoji is one custom emoji from a guild's inventory.
type Emoji struct {
	GuildID  string `yaml:"guild_id" json:"guild_id"`
	ID       string `yaml:"id" json:"id"`
	Name     string `yaml:"name" json:"name"`
	URL      string `yaml:"url" json:"url"`
	Animated bool   `yaml:"animated" json:"animated"`
}

func (e Emoji) Key() string { return store.EmojiKey(e.GuildID, e.Name) }

// Tag renders the chat-platform form "<:name:id>" (or "<a:name:id>" when
// animated). Without an id it falls back to "{name}".
func (e Emoji) Tag() string {
	if strings.TrimSpace(e.ID) == "" {
		return "{" + e.Name + "}"
	}
	prefix := "<:"
	if e.Animated {
		prefix = "<a:"
	}
	return prefix + e.Name + ":" + e.ID + ">"
}

func (e Emoji) normalized() Emoji {
	e.GuildID = strings.TrimSpace(e.GuildID)
	e.Name = strings.TrimSpace(e.Name)
	e.ID = strings.TrimSpace(e.ID)
	e.URL = strings.TrimSpace(e.URL)
	return e
}

// Describer turns an emoji image into a short description.
type Describer interface {
	Describe(ctx context.Context, e Emoji) (string, error)
}

// InventorySource supplies the current emoji inventory of every guild.
type InventorySource interface {
	Inventory(ctx context.Context) ([]Emoji, error)
}

// FallbackDescription is stored when no vision description is available.
func FallbackDescription(name string) string {
	return "Custom server emoji: " + strings.TrimSpace(name)
}

type BreakerConfig struct {
	MaxRequests         uint32
	Interval            time.Duration
	Timeout             time.Duration
	ConsecutiveFailures uint32
}

type Config struct {
	AnalysisTimeout    time.Duration
	RefreshInterval    time.Duration
	RefreshConcurrency int
	UpgradeFallbacks   bool
	PruneRemoved       bool
	HotCacheMaxItems   int64
	Breaker            BreakerConfig
}

func DefaultConfig() Config {
	return Config{
		AnalysisTimeout:    30 * time.Second,
		RefreshInterval:    30 * time.Minute,
		RefreshConcurrency: 4,
		PruneRemoved:       true,
		HotCacheMaxItems:   10000,
		Breaker: BreakerConfig{
			MaxRequests:         1,
			Interval:            time.Minute,
			Timeout:             time.Minute,
			ConsecutiveFailures: 5,
		},
	}
}

// RefreshStats summarizes one RefreshAll pass.
type RefreshStats struct {
	Seen      int
	Cached    int
	Analyzed  int
	Fallbacks int
	Upgraded  int
	Pruned    int
	Failed    int
}
