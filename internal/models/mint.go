package models

import "time"

// MintChannel is a chat channel subscribed to minted-token notifications.
type MintChannel struct {
	ID        uint   `gorm:"primaryKey;autoIncrement"`
	Platform  string `gorm:"size:16;not null;uniqueIndex:idx_mint_channel"` // "discord" or "slack"
	GuildID   string `gorm:"size:32"`
	ChannelID string `gorm:"size:64;not null;uniqueIndex:idx_mint_channel"`
	CreatedAt time.Time
}

// CachedToken stores a POAP API token payload for the mint fan-out.
type CachedToken struct {
	TokenID   string    `gorm:"primaryKey;size:32"`
	Payload   string    `gorm:"type:text;not null"` // JSON
	FetchedAt time.Time `gorm:"index"`
}

// CachedAccount stores a resolved account (address to ENS name).
type CachedAccount struct {
	Address   string    `gorm:"primaryKey;size:64"`
	ENS       string    `gorm:"size:255"`
	FetchedAt time.Time `gorm:"index"`
}
