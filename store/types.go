package store

import (
	"context"
	"time"
)

// Interaction is one entry of a user's bounded history.
type Interaction struct {
	Role      string    `json:"role"`
	Content   string    `json:"content"`
	Timestamp time.Time `json:"timestamp"`
}

type UserMemory struct {
	UserID      string            `json:"user_id"`
	KnownFacts  map[string]string `json:"known_facts"`
	History     []Interaction     `json:"interaction_history"`
	LastUpdated time.Time         `json:"last_updated"`
}

type ServerMemory struct {
	GuildID     string            `json:"guild_id"`
	KnownFacts  map[string]string `json:"known_facts"`
	LastUpdated time.Time         `json:"last_updated"`
}

type PersonalitySetting struct {
	GuildID         string
	PersonalityName string
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

// DescriptionSource records where an emoji description came from. A vision
// description outranks a fallback one.
type DescriptionSource string

const (
	SourceVision   DescriptionSource = "vision"
	SourceFallback DescriptionSource = "fallback"
)

type EmojiDescription struct {
	GuildID     string
	EmojiName   string
	Description string
	Source      DescriptionSource
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

func (d EmojiDescription) Key() string { return EmojiKey(d.GuildID, d.EmojiName) }

// EmojiKey is the composite cache key "<guild_id>:<emoji_name>".
func EmojiKey(guildID, emojiName string) string {
	return guildID + ":" + emojiName
}

// Store is durable keyed storage for the four record kinds. It holds no
// business rules beyond the vision-over-fallback write guard on emoji rows.
type Store interface {
	GetUserMemory(ctx context.Context, userID string) (UserMemory, bool, error)
	// UpdateUserMemory runs fn on the current record (or a zero record with
	// UserID set) and writes the result in one transaction.
	UpdateUserMemory(ctx context.Context, userID string, fn func(*UserMemory) error) (UserMemory, error)
	DeleteUserMemory(ctx context.Context, userID string) error

	GetServerMemory(ctx context.Context, guildID string) (ServerMemory, bool, error)
	UpdateServerMemory(ctx context.Context, guildID string, fn func(*ServerMemory) error) (ServerMemory, error)
	DeleteServerMemory(ctx context.Context, guildID string) error

	GetPersonality(ctx context.Context, guildID string) (PersonalitySetting, bool, error)
	PutPersonality(ctx context.Context, guildID, name string) (PersonalitySetting, error)
	DeletePersonality(ctx context.Context, guildID string) error

	GetEmojiDescription(ctx context.Context, guildID, emojiName string) (EmojiDescription, bool, error)
	// PutEmojiDescription returns the row that is stored after the call, which
	// is the existing vision row when d is a fallback.
	PutEmojiDescription(ctx context.Context, d EmojiDescription) (EmojiDescription, error)
	DeleteEmojiDescription(ctx context.Context, guildID, emojiName string) error
	ListEmojiDescriptions(ctx context.Context, guildID string) ([]EmojiDescription, error)
}
