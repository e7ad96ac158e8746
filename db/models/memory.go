package models

import "gorm.io/datatypes"

// Interaction is one history entry as persisted inside user_memories.interaction_history.
type Interaction struct {
	Role      string `json:"role"`
	Content   string `json:"content"`
	Timestamp int64  `json:"timestamp"` // unix millis
}

type UserMemory struct {
	UserID             string                                `gorm:"column:user_id;type:text;primaryKey"`
	KnownFacts         datatypes.JSONType[map[string]string] `gorm:"column:known_facts;not null"`
	InteractionHistory datatypes.JSONType[[]Interaction]     `gorm:"column:interaction_history;not null"`
	LastUpdated        int64                                 `gorm:"column:last_updated;not null"`
}

func (UserMemory) TableName() string { return "user_memories" }

type ServerMemory struct {
	GuildID     string                                `gorm:"column:guild_id;type:text;primaryKey"`
	KnownFacts  datatypes.JSONType[map[string]string] `gorm:"column:known_facts;not null"`
	LastUpdated int64                                 `gorm:"column:last_updated;not null"`
}

func (ServerMemory) TableName() string { return "server_memories" }
