// Package setup runs the guided event configuration conversation.
//
// A guild manager starts a session with the setup command; the bot then
// asks one question at a time over a private side channel, validates each
// answer, and commits the finished event exactly once. Sessions are keyed
// by the owner's user ID, at most one per user, and are reclaimed when
// abandoned.
package setup

import (
	"context"
	"time"

	"github.com/zulandar/poapbot/internal/event"
)

// ChannelHandle identifies a chat channel.
type ChannelHandle struct {
	ID   string
	Name string
}

// Attachment is a file sent along with a side-channel message.
type Attachment struct {
	Filename string
	URL      string
	Size     int
}

// Message is one inbound side-channel message from a session owner.
type Message struct {
	Text        string
	Attachments []Attachment
}

// MessageHandler receives the messages of one side channel. The channel
// owner is bound when the handler is registered.
type MessageHandler func(ctx context.Context, msg Message)

// Directory resolves the public channels of a guild.
type Directory interface {
	// ResolveChannelByName finds a text channel by name or ID. The bool is
	// false when no channel matches.
	ResolveChannelByName(ctx context.Context, guildID, name string) (ChannelHandle, bool, error)
	// ListChannelNames returns the names of the guild's text channels.
	ListChannelNames(ctx context.Context, guildID string) ([]string, error)
}

// ChannelManager opens and closes the private side channel of a session.
// Implementations deliver only messages from ownerID to handler, in
// arrival order, until the channel is closed.
type ChannelManager interface {
	Directory
	CreatePrivateChannel(ctx context.Context, ownerID string, handler MessageHandler) (ChannelHandle, error)
	CloseChannel(ctx context.Context, ch ChannelHandle, reason string) error
}

// Messenger sends plain text to a channel.
type Messenger interface {
	Send(ctx context.Context, ch ChannelHandle, text string) error
}

// EventStore persists finished events and answers pass lookups.
type EventStore interface {
	SaveEvent(ctx context.Context, in event.Input, createdByName string) (event.Saved, error)
	PassAvailable(ctx context.Context, pass string, now time.Time) (bool, error)
}

// EventScheduler arranges for a stored event to be announced.
type EventScheduler interface {
	ScheduleEvent(ctx context.Context, saved event.Saved) error
}

// AttachmentFetcher downloads the text content of an attachment.
type AttachmentFetcher interface {
	FetchAttachment(ctx context.Context, a Attachment) (string, error)
}

// EndReason says why a session was torn down.
type EndReason int

const (
	ReasonCompleted EndReason = iota
	ReasonCancelled
	ReasonExpired
	ReasonShutdown
)

func (r EndReason) String() string {
	switch r {
	case ReasonCompleted:
		return "completed"
	case ReasonCancelled:
		return "cancelled"
	case ReasonExpired:
		return "expired"
	case ReasonShutdown:
		return "shutdown"
	default:
		return "unknown"
	}
}
