package models

import "time"

// Event is a scheduled POAP distribution configured through the setup
// conversation. Pass is the secret word users send the bot to claim a code.
type Event struct {
	ID              uint      `gorm:"primaryKey;autoIncrement"`
	GuildID         string    `gorm:"size:32;not null;index"`
	ChannelID       string    `gorm:"size:32;not null"`
	CreatedBy       string    `gorm:"size:32;not null"` // owner user ID
	CreatedByName   string    `gorm:"size:64"`
	StartDate       time.Time `gorm:"not null;index"`
	EndDate         time.Time `gorm:"not null;index;index:idx_events_pass_end,priority:2"`
	StartMessage    string    `gorm:"type:text"`
	EndMessage      string    `gorm:"type:text"`
	ResponseMessage string    `gorm:"type:text"`
	Reaction        string    `gorm:"size:64"`
	Pass            string    `gorm:"size:32;not null;index:idx_events_pass_end,priority:1"`
	CreatedAt       time.Time

	Codes []EventCode `gorm:"foreignKey:EventID"`
}

// EventCode is one redeemable POAP claim code. Codes are globally unique;
// a code already stored for any event is never stored twice.
type EventCode struct {
	Code      string `gorm:"primaryKey;size:64"`
	EventID   uint   `gorm:"not null;index"`
	ClaimedBy string `gorm:"size:32;index"` // user ID, empty while unclaimed
	ClaimedAt *time.Time
	CreatedAt time.Time
}
