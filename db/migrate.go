package db

import (
	"fmt"

	"github.com/quailyquaily/guildmind/db/models"
	"gorm.io/gorm"
)

func AutoMigrate(gdb *gorm.DB) error {
	if gdb == nil {
		return fmt.Errorf("nil gorm db")
	}
	return gdb.AutoMigrate(
		&models.UserMemory{},
		&models.ServerMemory{},
		&models.ServerPersonality{},
		&models.EmojiDescription{},
	)
}
