package bot

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// MockAdapter implements Adapter and every optional capability for testing.
// It records sent messages, reactions and DM lifecycle calls and allows
// simulating inbound messages via SimulateInbound.
type MockAdapter struct {
	mu        sync.Mutex
	connected bool
	closed    bool
	inbound   chan InboundMessage
	sent      []OutboundMessage
	botUserID string

	guildNames    map[string]string
	guildChannels map[string][]TextChannel
	managers      map[string]bool // key: "guildID:userID"
	reactions     []Reaction
	openedDMs     []string
	closedDMs     []string

	// SendErr, when set, is returned by Send for matching channels.
	SendErr func(channelID string) error
	// OpenDMErr, when set, is returned by OpenDM.
	OpenDMErr error
}

// Reaction is a recorded React call.
type Reaction struct {
	ChannelID string
	MessageID string
	Emoji     string
}

// NewMockAdapter creates a MockAdapter with a buffered inbound channel.
func NewMockAdapter() *MockAdapter {
	return &MockAdapter{
		inbound:       make(chan InboundMessage, 100),
		guildNames:    make(map[string]string),
		guildChannels: make(map[string][]TextChannel),
		managers:      make(map[string]bool),
	}
}

// BotUserID returns the configured bot user ID (implements BotUserIDer).
func (m *MockAdapter) BotUserID() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.botUserID
}

// SetBotUserID sets the bot user ID for testing.
func (m *MockAdapter) SetBotUserID(id string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.botUserID = id
}

// Connect marks the adapter as connected.
func (m *MockAdapter) Connect(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return fmt.Errorf("mock adapter: already closed")
	}
	m.connected = true
	return nil
}

// Listen returns the inbound message channel. Must be called after Connect.
func (m *MockAdapter) Listen(ctx context.Context) (<-chan InboundMessage, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.connected {
		return nil, fmt.Errorf("mock adapter: not connected")
	}
	return m.inbound, nil
}

// Send records the outbound message.
func (m *MockAdapter) Send(ctx context.Context, msg OutboundMessage) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.connected {
		return fmt.Errorf("mock adapter: not connected")
	}
	if m.SendErr != nil {
		if err := m.SendErr(msg.ChannelID); err != nil {
			return err
		}
	}
	m.sent = append(m.sent, msg)
	return nil
}

// Close shuts down the mock adapter and closes the inbound channel.
func (m *MockAdapter) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return nil
	}
	m.closed = true
	m.connected = false
	close(m.inbound)
	return nil
}

// OpenDM returns a deterministic DM channel ID for the user.
func (m *MockAdapter) OpenDM(ctx context.Context, userID string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.OpenDMErr != nil {
		return "", m.OpenDMErr
	}
	id := "dm-" + userID
	m.openedDMs = append(m.openedDMs, id)
	return id, nil
}

// CloseDM records the closed DM channel.
func (m *MockAdapter) CloseDM(ctx context.Context, channelID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closedDMs = append(m.closedDMs, channelID)
	return nil
}

// GuildTextChannels returns the channels configured with SetGuild.
func (m *MockAdapter) GuildTextChannels(ctx context.Context, guildID string) ([]TextChannel, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	chs, ok := m.guildChannels[guildID]
	if !ok {
		return nil, fmt.Errorf("mock adapter: unknown guild %s", guildID)
	}
	return append([]TextChannel(nil), chs...), nil
}

// GuildName returns the name configured with SetGuild.
func (m *MockAdapter) GuildName(ctx context.Context, guildID string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	name, ok := m.guildNames[guildID]
	if !ok {
		return "", fmt.Errorf("mock adapter: unknown guild %s", guildID)
	}
	return name, nil
}

// CanManageGuild reports the permission configured with SetManager.
func (m *MockAdapter) CanManageGuild(ctx context.Context, guildID, channelID, userID string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.managers[guildID+":"+userID], nil
}

// React records the reaction.
func (m *MockAdapter) React(ctx context.Context, channelID, messageID, emoji string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.reactions = append(m.reactions, Reaction{ChannelID: channelID, MessageID: messageID, Emoji: emoji})
	return nil
}

// --- Test helpers ---

// SetGuild configures a guild's name and text channels.
func (m *MockAdapter) SetGuild(guildID, name string, channels ...TextChannel) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.guildNames[guildID] = name
	m.guildChannels[guildID] = channels
}

// SetManager grants or revokes guild management for a user.
func (m *MockAdapter) SetManager(guildID, userID string, ok bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.managers[guildID+":"+userID] = ok
}

// SimulateInbound sends a message into the inbound channel as if it came
// from the chat platform. Safe to call from any goroutine.
func (m *MockAdapter) SimulateInbound(msg InboundMessage) {
	if msg.Timestamp.IsZero() {
		msg.Timestamp = time.Now()
	}
	m.inbound <- msg
}

// LastSent returns the most recently sent outbound message.
// Returns zero value and false if no messages have been sent.
func (m *MockAdapter) LastSent() (OutboundMessage, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.sent) == 0 {
		return OutboundMessage{}, false
	}
	return m.sent[len(m.sent)-1], true
}

// SentCount returns the number of outbound messages sent.
func (m *MockAdapter) SentCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.sent)
}

// AllSent returns a copy of all sent outbound messages.
func (m *MockAdapter) AllSent() []OutboundMessage {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]OutboundMessage, len(m.sent))
	copy(out, m.sent)
	return out
}

// SentTo returns the texts sent to a channel, in order.
func (m *MockAdapter) SentTo(channelID string) []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []string
	for _, msg := range m.sent {
		if msg.ChannelID == channelID {
			out = append(out, msg.Text)
		}
	}
	return out
}

// Reactions returns a copy of the recorded reactions.
func (m *MockAdapter) Reactions() []Reaction {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]Reaction(nil), m.reactions...)
}

// ClosedDMs returns the DM channels closed so far.
func (m *MockAdapter) ClosedDMs() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.closedDMs...)
}
