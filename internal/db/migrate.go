package db

import (
	"fmt"

	"github.com/zulandar/poapbot/internal/config"
	"github.com/zulandar/poapbot/internal/models"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// AllModels returns every GORM model for migration.
func AllModels() []interface{} {
	return []interface{}{
		&models.Event{},
		&models.EventCode{},
		&models.MintChannel{},
		&models.CachedToken{},
		&models.CachedAccount{},
	}
}

// legacyPassIndex made a pass unusable forever once any event held it.
const legacyPassIndex = "idx_events_pass"

// AutoMigrate creates or updates all tables.
func AutoMigrate(db *gorm.DB) error {
	if err := db.AutoMigrate(AllModels()...); err != nil {
		return fmt.Errorf("db: auto-migrate: %w", err)
	}
	m := db.Migrator()
	if m.HasIndex(&models.Event{}, legacyPassIndex) {
		if err := m.DropIndex(&models.Event{}, legacyPassIndex); err != nil {
			return fmt.Errorf("db: drop %s: %w", legacyPassIndex, err)
		}
	}
	return nil
}

// SeedMintChannels upserts the mint subscriptions listed in config.
// Existing subscriptions are left untouched.
func SeedMintChannels(db *gorm.DB, mint config.MintConfig) error {
	var rows []models.MintChannel
	for _, ch := range mint.DiscordChannels {
		rows = append(rows, models.MintChannel{Platform: "discord", GuildID: ch.Guild, ChannelID: ch.Channel})
	}
	for _, ch := range mint.Slack.Channels {
		rows = append(rows, models.MintChannel{Platform: "slack", ChannelID: ch})
	}
	for _, row := range rows {
		result := db.Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "platform"}, {Name: "channel_id"}},
			DoNothing: true,
		}).Create(&row)
		if result.Error != nil {
			return fmt.Errorf("db: seed mint channel %s/%s: %w", row.Platform, row.ChannelID, result.Error)
		}
	}
	return nil
}
