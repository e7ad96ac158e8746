package personality

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/quailyquaily/guildmind/store"
)

// Effective is the personality a guild currently uses, with its prompt.
type Effective struct {
	Name       string
	Definition Definition
	Prompt     string
	// Configured is true when the guild has its own setting in force.
	Configured bool
}

type Resolver struct {
	Store    store.Store
	Registry *Registry
	Logger   *slog.Logger
}

func NewResolver(st store.Store, reg *Registry, logger *slog.Logger) *Resolver {
	if reg == nil {
		reg = Builtin()
	}
	return &Resolver{Store: st, Registry: reg, Logger: logger}
}

func (r *Resolver) logger() *slog.Logger {
	if r.Logger != nil {
		return r.Logger
	}
	return slog.Default()
}

// Default returns the default personality.
func (r *Resolver) Default() Effective {
	def, _ := r.Registry.Lookup(DefaultName)
	prompt, _ := r.Registry.Prompt(DefaultName)
	return Effective{Name: DefaultName, Definition: def, Prompt: prompt}
}

// Effective resolves the guild's personality. Without a setting, or when the
// stored name is no longer registered, the default applies. On a store error
// the default is returned together with the error.
func (r *Resolver) Effective(ctx context.Context, guildID string) (Effective, error) {
	guildID = strings.TrimSpace(guildID)
	if guildID == "" {
		return r.Default(), nil
	}
	setting, ok, err := r.Store.GetPersonality(ctx, guildID)
	if err != nil {
		return r.Default(), fmt.Errorf("get personality %s: %w", guildID, err)
	}
	if !ok {
		return r.Default(), nil
	}
	def, found := r.Registry.Lookup(setting.PersonalityName)
	if !found {
		r.logger().Warn("personality_not_registered",
			"guild_id", guildID,
			"personality", setting.PersonalityName,
		)
		return r.Default(), nil
	}
	prompt, _ := r.Registry.Prompt(def.Name)
	return Effective{Name: def.Name, Definition: def, Prompt: prompt, Configured: true}, nil
}

// SetServerPersonality stores name for the guild. Unregistered names fail
// with ErrUnknownPersonality and change nothing.
func (r *Resolver) SetServerPersonality(ctx context.Context, guildID, name string) error {
	guildID = strings.TrimSpace(guildID)
	name = strings.TrimSpace(name)
	if guildID == "" {
		return store.ErrInvalidKey
	}
	if _, ok := r.Registry.Lookup(name); !ok {
		return fmt.Errorf("%w: %q", ErrUnknownPersonality, name)
	}
	if _, err := r.Store.PutPersonality(ctx, guildID, name); err != nil {
		return fmt.Errorf("set personality %s: %w", guildID, err)
	}
	r.logger().Info("personality_set", "guild_id", guildID, "personality", name)
	return nil
}

// ResetServerPersonality removes the guild's setting so the default applies.
func (r *Resolver) ResetServerPersonality(ctx context.Context, guildID string) error {
	guildID = strings.TrimSpace(guildID)
	if guildID == "" {
		return store.ErrInvalidKey
	}
	if err := r.Store.DeletePersonality(ctx, guildID); err != nil {
		return fmt.Errorf("reset personality %s: %w", guildID, err)
	}
	r.logger().Info("personality_reset", "guild_id", guildID)
	return nil
}
