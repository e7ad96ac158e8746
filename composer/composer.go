package composer

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/google/uuid"
	"github.com/quailyquaily/guildmind/emoji"
	"github.com/quailyquaily/guildmind/internal/metrics"
	"github.com/quailyquaily/guildmind/internal/strutil"
	"github.com/quailyquaily/guildmind/memory"
	"github.com/quailyquaily/guildmind/personality"
	"golang.org/x/sync/errgroup"
)

var defaultPersonality = sync.OnceValue(func() personality.Effective {
	return personality.NewResolver(nil, nil, nil).Default()
})

type MemoryReader interface {
	GetUserMemory(ctx context.Context, userID string) (memory.UserMemory, error)
	GetServerMemory(ctx context.Context, guildID string) (memory.ServerMemory, error)
}

type PersonalityResolver interface {
	Effective(ctx context.Context, guildID string) (personality.Effective, error)
}

type EmojiDescriber interface {
	GetOrAnalyze(ctx context.Context, e emoji.Emoji) (string, error)
}

type Config struct {
	// MaxChars bounds the rendered bundle, counted in code points.
	MaxChars int
	// MaxEmoji caps how many emoji descriptions are considered.
	MaxEmoji int
	// EmojiConcurrency bounds parallel emoji lookups.
	EmojiConcurrency int
}

func DefaultConfig() Config {
	return Config{MaxChars: 6000, MaxEmoji: 20, EmojiConcurrency: 8}
}

type Request struct {
	UserID    string
	GuildID   string
	Message   string
	Inventory []emoji.Emoji
}

// Composer assembles context bundles. It never fails because a collaborator
// failed; it degrades and records a warning instead.
type Composer struct {
	Memory      MemoryReader
	Personality PersonalityResolver
	Emoji       EmojiDescriber
	Config      Config
	Logger      *slog.Logger
	Metrics     *metrics.Collector
}

func New(mem MemoryReader, pers PersonalityResolver, em EmojiDescriber, cfg Config, logger *slog.Logger) *Composer {
	return &Composer{
		Memory:      mem,
		Personality: pers,
		Emoji:       em,
		Config:      cfg.withDefaults(),
		Logger:      logger,
	}
}

func (cfg Config) withDefaults() Config {
	def := DefaultConfig()
	if cfg.MaxChars <= 0 {
		cfg.MaxChars = def.MaxChars
	}
	if cfg.MaxEmoji <= 0 {
		cfg.MaxEmoji = def.MaxEmoji
	}
	if cfg.EmojiConcurrency <= 0 {
		cfg.EmojiConcurrency = def.EmojiConcurrency
	}
	return cfg
}

func (c *Composer) logger() *slog.Logger {
	if c.Logger != nil {
		return c.Logger
	}
	return slog.Default()
}

func (c *Composer) Compose(ctx context.Context, req Request) (Bundle, error) {
	req.UserID = strings.TrimSpace(req.UserID)
	req.GuildID = strings.TrimSpace(req.GuildID)
	if req.UserID == "" {
		return Bundle{}, fmt.Errorf("compose: %w", memory.ErrInvalidID)
	}
	if c.Personality == nil || c.Memory == nil {
		return Bundle{}, fmt.Errorf("compose: composer not configured")
	}

	b := Bundle{ID: uuid.NewString()}
	log := c.logger().With("bundle_id", b.ID, "user_id", req.UserID, "guild_id", req.GuildID)

	var (
		mu       sync.Mutex
		warnings []string
	)
	warn := func(event string, err error) {
		log.Warn(event, "error", err.Error())
		mu.Lock()
		warnings = append(warnings, event+": "+err.Error())
		mu.Unlock()
	}

	var g errgroup.Group
	g.Go(func() error {
		eff, err := c.Personality.Effective(ctx, req.GuildID)
		if err != nil {
			warn("compose_personality_degraded", err)
		}
		if strings.TrimSpace(eff.Prompt) == "" {
			eff = defaultPersonality()
		}
		b.PersonalityName = eff.Name
		b.Personality = eff.Prompt
		return nil
	})
	if req.GuildID != "" {
		g.Go(func() error {
			sm, err := c.Memory.GetServerMemory(ctx, req.GuildID)
			if err != nil {
				warn("compose_server_memory_degraded", err)
				return nil
			}
			b.ServerFacts = memory.SortedFacts(sm.KnownFacts)
			return nil
		})
	}
	g.Go(func() error {
		um, err := c.Memory.GetUserMemory(ctx, req.UserID)
		if err != nil {
			warn("compose_user_memory_degraded", err)
			return nil
		}
		b.UserFacts = memory.SortedFacts(um.KnownFacts)
		b.History = append([]memory.Interaction(nil), um.History...)
		return nil
	})
	g.Go(func() error {
		b.Emoji = c.describeEmoji(ctx, req, warn)
		return nil
	})
	_ = g.Wait()

	b.Warnings = warnings
	c.fit(&b, log)

	c.Metrics.Composed(b.Len(), map[string]int{
		"history":      b.Dropped.History,
		"emoji":        b.Dropped.Emoji,
		"server_facts": b.Dropped.ServerFacts,
		"user_facts":   b.Dropped.UserFacts,
	})
	log.Debug("context_composed",
		"personality", b.PersonalityName,
		"chars", b.Len(),
		"history", len(b.History),
		"emoji", len(b.Emoji),
		"dropped_history", b.Dropped.History,
		"dropped_emoji", b.Dropped.Emoji,
		"truncated", b.Dropped.Truncated,
	)
	return b, nil
}

// selectEmoji orders the guild's inventory: emoji referenced in the message
// first in order of appearance, then the rest by name, capped at MaxEmoji.
func (c *Composer) selectEmoji(req Request) []emoji.Emoji {
	var inGuild []emoji.Emoji
	for _, e := range req.Inventory {
		if strings.TrimSpace(e.Name) == "" {
			continue
		}
		if req.GuildID != "" && e.GuildID != req.GuildID {
			continue
		}
		inGuild = append(inGuild, e)
	}
	if len(inGuild) == 0 {
		return nil
	}
	byName := make(map[string]emoji.Emoji, len(inGuild))
	for _, e := range inGuild {
		byName[e.Name] = e
	}

	out := make([]emoji.Emoji, 0, len(inGuild))
	taken := map[string]bool{}
	for _, name := range emoji.ParseReferences(req.Message) {
		if e, ok := byName[name]; ok && !taken[name] {
			taken[name] = true
			out = append(out, e)
		}
	}
	rest := make([]emoji.Emoji, 0, len(inGuild))
	for _, e := range inGuild {
		if !taken[e.Name] {
			taken[e.Name] = true
			rest = append(rest, e)
		}
	}
	emoji.SortByName(rest)
	out = append(out, rest...)
	if limit := c.Config.withDefaults().MaxEmoji; len(out) > limit {
		out = out[:limit]
	}
	return out
}

func (c *Composer) describeEmoji(ctx context.Context, req Request, warn func(string, error)) []EmojiNote {
	selected := c.selectEmoji(req)
	if len(selected) == 0 || c.Emoji == nil {
		return nil
	}
	refs := map[string]bool{}
	for _, name := range emoji.ParseReferences(req.Message) {
		refs[name] = true
	}

	notes := make([]EmojiNote, len(selected))
	var g errgroup.Group
	g.SetLimit(c.Config.withDefaults().EmojiConcurrency)
	for i, e := range selected {
		i, e := i, e
		g.Go(func() error {
			desc, err := c.Emoji.GetOrAnalyze(ctx, e)
			if err != nil {
				warn("compose_emoji_degraded", fmt.Errorf("%s: %w", e.Name, err))
			}
			if strings.TrimSpace(desc) == "" {
				desc = emoji.FallbackDescription(e.Name)
			}
			notes[i] = EmojiNote{Name: e.Name, Description: desc, Referenced: refs[e.Name]}
			return nil
		})
	}
	_ = g.Wait()
	return notes
}

// fit drops content until the rendered bundle is within MaxChars. The order
// is oldest history (never the newest), last emoji, last server fact, last
// user fact; after that the newest interaction is shortened.
func (c *Composer) fit(b *Bundle, log *slog.Logger) {
	limit := c.Config.withDefaults().MaxChars
	for b.Len() > limit {
		switch {
		case len(b.History) > 1:
			b.History = b.History[1:]
			b.Dropped.History++
		case len(b.Emoji) > 0:
			b.Emoji = b.Emoji[:len(b.Emoji)-1]
			b.Dropped.Emoji++
		case len(b.ServerFacts) > 0:
			b.ServerFacts = b.ServerFacts[:len(b.ServerFacts)-1]
			b.Dropped.ServerFacts++
		case len(b.UserFacts) > 0:
			b.UserFacts = b.UserFacts[:len(b.UserFacts)-1]
			b.Dropped.UserFacts++
		case len(b.History) == 1 && !b.Dropped.Truncated:
			last := &b.History[0]
			content := strings.TrimSpace(last.Content)
			keep := strutil.RuneLen(content) - (b.Len() - limit)
			last.Content = strutil.Ellipsize(content, max(keep, 1))
			b.Dropped.Truncated = true
		default:
			log.Warn("compose_budget_exceeded", "chars", b.Len(), "max_chars", limit)
			b.Warnings = append(b.Warnings, fmt.Sprintf("compose_budget_exceeded: %d > %d", b.Len(), limit))
			return
		}
	}
}
