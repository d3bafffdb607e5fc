// Package bot connects poapbot to chat platforms. It routes guild commands,
// setup side-channel messages and pass claims, and posts announcements.
package bot

import (
	"context"
	"time"

	"github.com/zulandar/poapbot/internal/setup"
)

// Adapter is the interface that platform-specific implementations must satisfy.
// Each adapter handles connection management and message sending/receiving
// for a single chat platform.
type Adapter interface {
	// Connect establishes a connection to the chat platform.
	Connect(ctx context.Context) error

	// Listen returns a channel of inbound messages from the platform.
	// The channel is closed when the adapter is closed. Listen must only be
	// called after Connect.
	Listen(ctx context.Context) (<-chan InboundMessage, error)

	// Send delivers an outbound message to the platform.
	Send(ctx context.Context, msg OutboundMessage) error

	// Close gracefully shuts down the adapter connection.
	Close() error
}

// InboundMessage represents a message received from the chat platform.
type InboundMessage struct {
	Platform    string // e.g. "discord"
	GuildID     string // empty for direct messages
	ChannelID   string
	MessageID   string
	UserID      string
	UserName    string
	Text        string
	Direct      bool // sent in a 1:1 channel with the bot
	Attachments []setup.Attachment
	Timestamp   time.Time
}

// OutboundMessage represents a message to be sent to the chat platform.
type OutboundMessage struct {
	ChannelID string
	Text      string // platform-native formatting
	Cards     []Card // rich attachments
}

// Card is a rich notification rendered as an embed or attachment.
type Card struct {
	Title    string
	URL      string
	Body     string
	ImageURL string
	Color    string // hex, e.g. "#0099ff"
	Fields   []Field
	Footer   string
	Time     time.Time
}

// Field is a key-value pair displayed in a card.
type Field struct {
	Name   string
	Value  string
	Inline bool
}

// TextChannel is a guild channel messages can be posted to.
type TextChannel struct {
	ID   string
	Name string
}

// BotUserIDer is an optional interface that adapters can implement to
// expose the bot's own user ID. This enables self-message filtering.
type BotUserIDer interface {
	BotUserID() string
}

// PrivateChanneler opens and closes 1:1 channels with users.
type PrivateChanneler interface {
	OpenDM(ctx context.Context, userID string) (string, error)
	CloseDM(ctx context.Context, channelID string) error
}

// GuildDirectory lists a guild's text channels and resolves its name.
type GuildDirectory interface {
	GuildTextChannels(ctx context.Context, guildID string) ([]TextChannel, error)
	GuildName(ctx context.Context, guildID string) (string, error)
}

// PermissionChecker reports whether a user may manage a guild.
type PermissionChecker interface {
	CanManageGuild(ctx context.Context, guildID, channelID, userID string) (bool, error)
}

// Reactor adds an emoji reaction to a message.
type Reactor interface {
	React(ctx context.Context, channelID, messageID, emoji string) error
}
