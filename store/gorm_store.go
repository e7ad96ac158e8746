package store

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/quailyquaily/guildmind/db/models"
	"gorm.io/datatypes"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type GormStore struct {
	DB *gorm.DB

	// now is swapped in tests.
	now func() time.Time
}

func NewGormStore(db *gorm.DB) *GormStore {
	return &GormStore{DB: db, now: time.Now}
}

func (s *GormStore) clock() time.Time {
	if s.now == nil {
		return time.Now().UTC()
	}
	return s.now().UTC()
}

func (s *GormStore) GetUserMemory(ctx context.Context, userID string) (UserMemory, bool, error) {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return UserMemory{}, false, ErrInvalidKey
	}
	var row models.UserMemory
	err := s.DB.WithContext(ctx).Where("user_id = ?", userID).Take(&row).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return UserMemory{}, false, nil
		}
		return UserMemory{}, false, unavailable("get user memory", err)
	}
	return userMemoryFromModel(row), true, nil
}

func (s *GormStore) UpdateUserMemory(ctx context.Context, userID string, fn func(*UserMemory) error) (UserMemory, error) {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return UserMemory{}, ErrInvalidKey
	}
	var (
		out   UserMemory
		fnErr error
	)
	err := s.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		cur := UserMemory{UserID: userID}
		var row models.UserMemory
		err := tx.Where("user_id = ?", userID).Take(&row).Error
		switch {
		case err == nil:
			cur = userMemoryFromModel(row)
		case errors.Is(err, gorm.ErrRecordNotFound):
		default:
			return err
		}
		if fnErr = fn(&cur); fnErr != nil {
			return fnErr
		}
		cur.UserID = userID
		cur.LastUpdated = s.clock()
		next := userMemoryToModel(cur)
		if err := tx.Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "user_id"}},
			UpdateAll: true,
		}).Create(&next).Error; err != nil {
			return err
		}
		out = cur
		return nil
	})
	if fnErr != nil {
		return UserMemory{}, fnErr
	}
	if err != nil {
		return UserMemory{}, unavailable("update user memory", err)
	}
	return out, nil
}

func (s *GormStore) DeleteUserMemory(ctx context.Context, userID string) error {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return ErrInvalidKey
	}
	err := s.DB.WithContext(ctx).
		Where("user_id = ?", userID).
		Delete(&models.UserMemory{}).Error
	return unavailable("delete user memory", err)
}

func (s *GormStore) GetServerMemory(ctx context.Context, guildID string) (ServerMemory, bool, error) {
	guildID = strings.TrimSpace(guildID)
	if guildID == "" {
		return ServerMemory{}, false, ErrInvalidKey
	}
	var row models.ServerMemory
	err := s.DB.WithContext(ctx).Where("guild_id = ?", guildID).Take(&row).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return ServerMemory{}, false, nil
		}
		return ServerMemory{}, false, unavailable("get server memory", err)
	}
	return serverMemoryFromModel(row), true, nil
}

func (s *GormStore) UpdateServerMemory(ctx context.Context, guildID string, fn func(*ServerMemory) error) (ServerMemory, error) {
	guildID = strings.TrimSpace(guildID)
	if guildID == "" {
		return ServerMemory{}, ErrInvalidKey
	}
	var (
		out   ServerMemory
		fnErr error
	)
	err := s.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		cur := ServerMemory{GuildID: guildID}
		var row models.ServerMemory
		err := tx.Where("guild_id = ?", guildID).Take(&row).Error
		switch {
		case err == nil:
			cur = serverMemoryFromModel(row)
		case errors.Is(err, gorm.ErrRecordNotFound):
		default:
			return err
		}
		if fnErr = fn(&cur); fnErr != nil {
			return fnErr
		}
		cur.GuildID = guildID
		cur.LastUpdated = s.clock()
		next := models.ServerMemory{
			GuildID:     guildID,
			KnownFacts:  datatypes.NewJSONType(nonNilFacts(cur.KnownFacts)),
			LastUpdated: cur.LastUpdated.UnixMilli(),
		}
		if err := tx.Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "guild_id"}},
			UpdateAll: true,
		}).Create(&next).Error; err != nil {
			return err
		}
		out = cur
		return nil
	})
	if fnErr != nil {
		return ServerMemory{}, fnErr
	}
	if err != nil {
		return ServerMemory{}, unavailable("update server memory", err)
	}
	return out, nil
}

func (s *GormStore) DeleteServerMemory(ctx context.Context, guildID string) error {
	guildID = strings.TrimSpace(guildID)
	if guildID == "" {
		return ErrInvalidKey
	}
	err := s.DB.WithContext(ctx).
		Where("guild_id = ?", guildID).
		Delete(&models.ServerMemory{}).Error
	return unavailable("delete server memory", err)
}

func (s *GormStore) GetPersonality(ctx context.Context, guildID string) (PersonalitySetting, bool, error) {
	guildID = strings.TrimSpace(guildID)
	if guildID == "" {
		return PersonalitySetting{}, false, ErrInvalidKey
	}
	var row models.ServerPersonality
	err := s.DB.WithContext(ctx).Where("guild_id = ?", guildID).Take(&row).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return PersonalitySetting{}, false, nil
		}
		return PersonalitySetting{}, false, unavailable("get personality", err)
	}
	return PersonalitySetting{
		GuildID:         row.GuildID,
		PersonalityName: row.PersonalityName,
		CreatedAt:       fromMillis(row.CreatedAt),
		UpdatedAt:       fromMillis(row.UpdatedAt),
	}, true, nil
}

func (s *GormStore) PutPersonality(ctx context.Context, guildID, name string) (PersonalitySetting, error) {
	guildID = strings.TrimSpace(guildID)
	name = strings.TrimSpace(name)
	if guildID == "" || name == "" {
		return PersonalitySetting{}, ErrInvalidKey
	}
	now := s.clock().UnixMilli()
	row := models.ServerPersonality{
		GuildID:         guildID,
		PersonalityName: name,
		CreatedAt:       now,
		UpdatedAt:       now,
	}
	err := s.DB.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns: []clause.Column{{Name: "guild_id"}},
			DoUpdates: clause.Assignments(map[string]any{
				"personality_name": name,
				"updated_at":       now,
			}),
		}).
		Create(&row).Error
	if err != nil {
		return PersonalitySetting{}, unavailable("put personality", err)
	}
	// Re-read so an update reports the original created_at.
	var stored models.ServerPersonality
	if err := s.DB.WithContext(ctx).Where("guild_id = ?", guildID).Take(&stored).Error; err != nil {
		return PersonalitySetting{}, unavailable("put personality", err)
	}
	return PersonalitySetting{
		GuildID:         stored.GuildID,
		PersonalityName: stored.PersonalityName,
		CreatedAt:       fromMillis(stored.CreatedAt),
		UpdatedAt:       fromMillis(stored.UpdatedAt),
	}, nil
}

func (s *GormStore) DeletePersonality(ctx context.Context, guildID string) error {
	guildID = strings.TrimSpace(guildID)
	if guildID == "" {
		return ErrInvalidKey
	}
	err := s.DB.WithContext(ctx).
		Where("guild_id = ?", guildID).
		Delete(&models.ServerPersonality{}).Error
	return unavailable("delete personality", err)
}

func (s *GormStore) GetEmojiDescription(ctx context.Context, guildID, emojiName string) (EmojiDescription, bool, error) {
	key, err := emojiKey(guildID, emojiName)
	if err != nil {
		return EmojiDescription{}, false, err
	}
	var row models.EmojiDescription
	err = s.DB.WithContext(ctx).Where("emoji_key = ?", key).Take(&row).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return EmojiDescription{}, false, nil
		}
		return EmojiDescription{}, false, unavailable("get emoji description", err)
	}
	return emojiFromModel(row), true, nil
}

func (s *GormStore) PutEmojiDescription(ctx context.Context, d EmojiDescription) (EmojiDescription, error) {
	key, err := emojiKey(d.GuildID, d.EmojiName)
	if err != nil {
		return EmojiDescription{}, err
	}
	if d.Source != SourceVision {
		d.Source = SourceFallback
	}
	now := s.clock().UnixMilli()

	var out EmojiDescription
	err = s.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var existing models.EmojiDescription
		err := tx.Where("emoji_key = ?", key).Take(&existing).Error
		switch {
		case err == nil:
			if existing.Source == string(SourceVision) && d.Source != SourceVision {
				out = emojiFromModel(existing)
				return nil
			}
			existing.Description = d.Description
			existing.Source = string(d.Source)
			existing.UpdatedAt = now
			if err := tx.Model(&models.EmojiDescription{}).
				Where("emoji_key = ?", key).
				Updates(map[string]any{
					"description": existing.Description,
					"source":      existing.Source,
					"updated_at":  now,
				}).Error; err != nil {
				return err
			}
			out = emojiFromModel(existing)
			return nil
		case errors.Is(err, gorm.ErrRecordNotFound):
			row := models.EmojiDescription{
				Key:         key,
				GuildID:     strings.TrimSpace(d.GuildID),
				EmojiName:   strings.TrimSpace(d.EmojiName),
				Description: d.Description,
				Source:      string(d.Source),
				CreatedAt:   now,
				UpdatedAt:   now,
			}
			if err := tx.Create(&row).Error; err != nil {
				return err
			}
			out = emojiFromModel(row)
			return nil
		default:
			return err
		}
	})
	if err != nil {
		return EmojiDescription{}, unavailable("put emoji description", err)
	}
	return out, nil
}

func (s *GormStore) DeleteEmojiDescription(ctx context.Context, guildID, emojiName string) error {
	key, err := emojiKey(guildID, emojiName)
	if err != nil {
		return err
	}
	err = s.DB.WithContext(ctx).
		Where("emoji_key = ?", key).
		Delete(&models.EmojiDescription{}).Error
	return unavailable("delete emoji description", err)
}

func (s *GormStore) ListEmojiDescriptions(ctx context.Context, guildID string) ([]EmojiDescription, error) {
	guildID = strings.TrimSpace(guildID)
	if guildID == "" {
		return nil, ErrInvalidKey
	}
	var rows []models.EmojiDescription
	if err := s.DB.WithContext(ctx).
		Where("guild_id = ?", guildID).
		Order("emoji_name ASC").
		Find(&rows).Error; err != nil {
		return nil, unavailable("list emoji descriptions", err)
	}
	out := make([]EmojiDescription, 0, len(rows))
	for _, r := range rows {
		out = append(out, emojiFromModel(r))
	}
	return out, nil
}

func emojiKey(guildID, emojiName string) (string, error) {
	guildID = strings.TrimSpace(guildID)
	emojiName = strings.TrimSpace(emojiName)
	if guildID == "" || emojiName == "" {
		return "", ErrInvalidKey
	}
	return EmojiKey(guildID, emojiName), nil
}

func userMemoryFromModel(m models.UserMemory) UserMemory {
	rows := m.InteractionHistory.Data()
	history := make([]Interaction, 0, len(rows))
	for _, r := range rows {
		history = append(history, Interaction{
			Role:      r.Role,
			Content:   r.Content,
			Timestamp: fromMillis(r.Timestamp),
		})
	}
	return UserMemory{
		UserID:      m.UserID,
		KnownFacts:  nonNilFacts(m.KnownFacts.Data()),
		History:     history,
		LastUpdated: fromMillis(m.LastUpdated),
	}
}

func userMemoryToModel(u UserMemory) models.UserMemory {
	rows := make([]models.Interaction, 0, len(u.History))
	for _, h := range u.History {
		rows = append(rows, models.Interaction{
			Role:      h.Role,
			Content:   h.Content,
			Timestamp: h.Timestamp.UnixMilli(),
		})
	}
	return models.UserMemory{
		UserID:             u.UserID,
		KnownFacts:         datatypes.NewJSONType(nonNilFacts(u.KnownFacts)),
		InteractionHistory: datatypes.NewJSONType(rows),
		LastUpdated:        u.LastUpdated.UnixMilli(),
	}
}

func serverMemoryFromModel(m models.ServerMemory) ServerMemory {
	return ServerMemory{
		GuildID:     m.GuildID,
		KnownFacts:  nonNilFacts(m.KnownFacts.Data()),
		LastUpdated: fromMillis(m.LastUpdated),
	}
}

func emojiFromModel(m models.EmojiDescription) EmojiDescription {
	return EmojiDescription{
		GuildID:     m.GuildID,
		EmojiName:   m.EmojiName,
		Description: m.Description,
		Source:      DescriptionSource(m.Source),
		CreatedAt:   fromMillis(m.CreatedAt),
		UpdatedAt:   fromMillis(m.UpdatedAt),
	}
}

func nonNilFacts(m map[string]string) map[string]string {
	if m == nil {
		return map[string]string{}
	}
	return m
}

func fromMillis(ms int64) time.Time {
	if ms == 0 {
		return time.Time{}
	}
	return time.UnixMilli(ms).UTC()
}
