package composer

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"

	"github.com/quailyquaily/guildmind/emoji"
	"github.com/quailyquaily/guildmind/internal/dbtest"
	"github.com/quailyquaily/guildmind/internal/strutil"
	"github.com/quailyquaily/guildmind/memory"
	"github.com/quailyquaily/guildmind/personality"
	"github.com/quailyquaily/guildmind/store"
	"github.com/stretchr/testify/require"
)

type fixture struct {
	mem      *memory.Service
	resolver *personality.Resolver
	emoji    *emoji.Manager
}

func newFixture(t *testing.T) fixture {
	t.Helper()
	st := store.NewGormStore(dbtest.Open(t))
	mgr, err := emoji.NewManager(st, nil, emoji.DefaultConfig(), nil)
	require.NoError(t, err)
	t.Cleanup(mgr.Close)
	return fixture{
		mem:      memory.NewService(st, memory.DefaultConfig(), nil),
		resolver: personality.NewResolver(st, nil, nil),
		emoji:    mgr,
	}
}

func (f fixture) composer(cfg Config) *Composer {
	return New(f.mem, f.resolver, f.emoji, cfg, nil)
}

func TestComposeSectionOrder(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	require.NoError(t, f.resolver.SetServerPersonality(ctx, "g1", "tech_expert"))
	require.NoError(t, f.mem.UpdateServerFacts(ctx, "g1", map[string]string{"topic": "golang"}))
	require.NoError(t, f.mem.UpdateFacts(ctx, "u1", map[string]string{"name": "Ada"}))
	require.NoError(t, f.mem.RecordInteraction(ctx, "u1", "user", "first"))
	require.NoError(t, f.mem.RecordInteraction(ctx, "u1", "assistant", "second"))

	b, err := f.composer(DefaultConfig()).Compose(ctx, Request{
		UserID:  "u1",
		GuildID: "g1",
		Message: "what does {zebra} mean?",
		Inventory: []emoji.Emoji{
			{GuildID: "g1", ID: "1", Name: "apple"},
			{GuildID: "g1", ID: "2", Name: "zebra"},
			{GuildID: "g2", ID: "3", Name: "elsewhere"},
		},
	})
	require.NoError(t, err)
	require.Empty(t, b.Warnings)
	require.NotEmpty(t, b.ID)
	require.Equal(t, "tech_expert", b.PersonalityName)

	require.Len(t, b.Emoji, 2)
	require.Equal(t, "zebra", b.Emoji[0].Name)
	require.True(t, b.Emoji[0].Referenced)
	require.Equal(t, "apple", b.Emoji[1].Name)
	require.Equal(t, emoji.FallbackDescription("apple"), b.Emoji[1].Description)

	text := b.Text()
	idx := func(s string) int {
		i := strings.Index(text, s)
		require.GreaterOrEqual(t, i, 0, "missing %q in:\n%s", s, text)
		return i
	}
	order := []int{
		idx("You are Tech Expert"),
		idx("topic = golang"),
		idx("name = Ada"),
		idx("user: first"),
		idx("assistant: second"),
		idx("- {zebra}:"),
		idx("- {apple}:"),
	}
	for i := 1; i < len(order); i++ {
		require.Less(t, order[i-1], order[i], "section %d out of order:\n%s", i, text)
	}
	require.NotContains(t, text, "elsewhere")
	require.NotContains(t, text, "what does")
	require.Equal(t, strutil.RuneLen(text), b.Len())
}

func seedLongHistory(t *testing.T, f fixture, userID string, n, size int) {
	t.Helper()
	ctx := context.Background()
	for i := 1; i <= n; i++ {
		content := fmt.Sprintf("msg-%02d %s", i, strings.Repeat("x", size))
		require.NoError(t, f.mem.RecordInteraction(ctx, userID, "user", content))
	}
}

func TestComposeBudgetDropsOldestHistory(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	seedLongHistory(t, f, "u1", 20, 100)
	require.NoError(t, f.mem.UpdateFacts(ctx, "u1", map[string]string{"name": "Ada"}))

	prompt, _ := personality.Builtin().Prompt(personality.DefaultName)
	cfg := DefaultConfig()
	cfg.MaxChars = strutil.RuneLen(prompt) + 400
	c := f.composer(cfg)

	b, err := c.Compose(ctx, Request{UserID: "u1", GuildID: "g1", Message: "hi"})
	require.NoError(t, err)
	require.LessOrEqual(t, b.Len(), cfg.MaxChars)
	require.Contains(t, b.Text(), prompt)
	require.Contains(t, b.Text(), "msg-20 ")
	require.NotContains(t, b.Text(), "msg-01 ")
	require.Greater(t, b.Dropped.History, 0)
	require.False(t, b.Dropped.Truncated)
	require.Equal(t, "msg-20", strings.Fields(b.History[len(b.History)-1].Content)[0])

	again, err := c.Compose(ctx, Request{UserID: "u1", GuildID: "g1", Message: "hi"})
	require.NoError(t, err)
	require.Equal(t, b.Text(), again.Text())
	require.Equal(t, b.Dropped, again.Dropped)
}

func TestComposeBudgetDropOrder(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	seedLongHistory(t, f, "u1", 3, 20)
	require.NoError(t, f.mem.UpdateServerFacts(ctx, "g1", map[string]string{"a": "1", "b": "2"}))
	require.NoError(t, f.mem.UpdateFacts(ctx, "u1", map[string]string{"name": "Ada"}))

	prompt, _ := personality.Builtin().Prompt(personality.DefaultName)
	cfg := DefaultConfig()
	// Room for the personality, user facts and the newest turn only.
	cfg.MaxChars = strutil.RuneLen(prompt) + 120
	b, err := f.composer(cfg).Compose(ctx, Request{
		UserID:    "u1",
		GuildID:   "g1",
		Inventory: []emoji.Emoji{{GuildID: "g1", Name: "wave"}, {GuildID: "g1", Name: "party"}},
	})
	require.NoError(t, err)
	require.LessOrEqual(t, b.Len(), cfg.MaxChars)
	require.Equal(t, 2, b.Dropped.History)
	require.Equal(t, 2, b.Dropped.Emoji)
	require.Len(t, b.History, 1)
	require.Contains(t, b.Text(), "msg-03 ")
	require.Contains(t, b.Text(), prompt)
	require.Equal(t, 2, b.Dropped.ServerFacts)
	require.Equal(t, 0, b.Dropped.UserFacts)
	require.Contains(t, b.Text(), "name = Ada")
}

func TestComposeShortensNewestWhenNothingElseFits(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	seedLongHistory(t, f, "u1", 2, 500)

	prompt, _ := personality.Builtin().Prompt(personality.DefaultName)
	cfg := DefaultConfig()
	cfg.MaxChars = strutil.RuneLen(prompt) + 80
	b, err := f.composer(cfg).Compose(ctx, Request{UserID: "u1", GuildID: "g1"})
	require.NoError(t, err)
	require.LessOrEqual(t, b.Len(), cfg.MaxChars)
	require.True(t, b.Dropped.Truncated)
	require.Len(t, b.History, 1)
	require.True(t, strings.HasPrefix(b.History[0].Content, "msg-02 "))
	require.True(t, strings.HasSuffix(b.History[0].Content, "..."))
	require.Contains(t, b.Text(), prompt)
}

type failingMemory struct{}

func (failingMemory) GetUserMemory(context.Context, string) (memory.UserMemory, error) {
	return memory.UserMemory{}, store.ErrUnavailable
}

func (failingMemory) GetServerMemory(context.Context, string) (memory.ServerMemory, error) {
	return memory.ServerMemory{}, store.ErrUnavailable
}

type failingResolver struct{}

func (failingResolver) Effective(context.Context, string) (personality.Effective, error) {
	return personality.Effective{}, errors.New("resolver down")
}

func TestComposeDegradesOnCollaboratorFailure(t *testing.T) {
	c := New(failingMemory{}, failingResolver{}, nil, DefaultConfig(), nil)
	b, err := c.Compose(context.Background(), Request{
		UserID:    "u1",
		GuildID:   "g1",
		Inventory: []emoji.Emoji{{GuildID: "g1", Name: "wave"}},
	})
	require.NoError(t, err)
	require.Equal(t, personality.DefaultName, b.PersonalityName)
	require.Contains(t, b.Text(), "You are AI Adam")
	require.Len(t, b.Warnings, 3)
	require.Empty(t, b.History)
	require.Empty(t, b.Emoji)
}

func TestComposeRejectsBlankUser(t *testing.T) {
	f := newFixture(t)
	_, err := f.composer(DefaultConfig()).Compose(context.Background(), Request{UserID: " "})
	require.ErrorIs(t, err, memory.ErrInvalidID)
}
