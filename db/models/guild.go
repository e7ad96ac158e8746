package models

type ServerPersonality struct {
	GuildID         string `gorm:"column:guild_id;type:text;primaryKey"`
	PersonalityName string `gorm:"column:personality_name;type:text;not null"`
	CreatedAt       int64  `gorm:"column:created_at;not null"`
	UpdatedAt       int64  `gorm:"column:updated_at;not null"`
}

func (ServerPersonality) TableName() string { return "server_personalities" }

// EmojiDescription is keyed by "<guild_id>:<emoji_name>". GuildID and EmojiName
// are kept alongside so a guild's entries can be listed without parsing keys.
type EmojiDescription struct {
	Key         string `gorm:"column:emoji_key;type:text;primaryKey"`
	GuildID     string `gorm:"column:guild_id;type:text;not null;index:idx_emoji_guild"`
	EmojiName   string `gorm:"column:emoji_name;type:text;not null"`
	Description string `gorm:"column:description;type:text;not null"`
	Source      string `gorm:"column:source;type:text;not null"`
	CreatedAt   int64  `gorm:"column:created_at;not null"`
	UpdatedAt   int64  `gorm:"column:updated_at;not null"`
}

func (EmojiDescription) TableName() string { return "emoji_descriptions" }
