package bot

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/zulandar/poapbot/internal/setup"
)

// SideChannels opens the private setup channels over an Adapter and
// delivers each one's messages to the handler registered for it. Only the
// channel's owner reaches the handler.
type SideChannels struct {
	adapter Adapter
	dms     PrivateChanneler
	dir     GuildDirectory

	mu       sync.Mutex
	handlers map[string]sideChannel // key: channel ID
}

type sideChannel struct {
	ownerID string
	handler setup.MessageHandler
}

// NewSideChannels requires an adapter that can open DMs and list guild
// channels.
func NewSideChannels(adapter Adapter) (*SideChannels, error) {
	if adapter == nil {
		return nil, fmt.Errorf("bot: side channels: adapter is required")
	}
	dms, ok := adapter.(PrivateChanneler)
	if !ok {
		return nil, fmt.Errorf("bot: side channels: adapter cannot open private channels")
	}
	dir, ok := adapter.(GuildDirectory)
	if !ok {
		return nil, fmt.Errorf("bot: side channels: adapter cannot list guild channels")
	}
	return &SideChannels{
		adapter:  adapter,
		dms:      dms,
		dir:      dir,
		handlers: make(map[string]sideChannel),
	}, nil
}

// ResolveChannelByName matches a channel ID exactly or a name ignoring case.
func (sc *SideChannels) ResolveChannelByName(ctx context.Context, guildID, name string) (setup.ChannelHandle, bool, error) {
	chs, err := sc.dir.GuildTextChannels(ctx, guildID)
	if err != nil {
		return setup.ChannelHandle{}, false, fmt.Errorf("bot: list channels of %s: %w", guildID, err)
	}
	for _, ch := range chs {
		if ch.ID == name {
			return setup.ChannelHandle{ID: ch.ID, Name: ch.Name}, true, nil
		}
	}
	for _, ch := range chs {
		if strings.EqualFold(ch.Name, name) {
			return setup.ChannelHandle{ID: ch.ID, Name: ch.Name}, true, nil
		}
	}
	return setup.ChannelHandle{}, false, nil
}

// ListChannelNames returns the guild's text channel names.
func (sc *SideChannels) ListChannelNames(ctx context.Context, guildID string) ([]string, error) {
	chs, err := sc.dir.GuildTextChannels(ctx, guildID)
	if err != nil {
		return nil, fmt.Errorf("bot: list channels of %s: %w", guildID, err)
	}
	names := make([]string, 0, len(chs))
	for _, ch := range chs {
		names = append(names, ch.Name)
	}
	return names, nil
}

// CreatePrivateChannel opens a DM with the owner and registers handler for
// it. A DM channel that already has a handler is refused.
func (sc *SideChannels) CreatePrivateChannel(ctx context.Context, ownerID string, handler setup.MessageHandler) (setup.ChannelHandle, error) {
	id, err := sc.dms.OpenDM(ctx, ownerID)
	if err != nil {
		return setup.ChannelHandle{}, fmt.Errorf("bot: open dm with %s: %w", ownerID, err)
	}

	sc.mu.Lock()
	defer sc.mu.Unlock()
	if _, busy := sc.handlers[id]; busy {
		return setup.ChannelHandle{}, fmt.Errorf("bot: dm %s already has a handler", id)
	}
	sc.handlers[id] = sideChannel{ownerID: ownerID, handler: handler}
	return setup.ChannelHandle{ID: id, Name: "dm"}, nil
}

// CloseChannel unregisters the handler and closes the DM.
func (sc *SideChannels) CloseChannel(ctx context.Context, ch setup.ChannelHandle, reason string) error {
	sc.mu.Lock()
	delete(sc.handlers, ch.ID)
	sc.mu.Unlock()

	if err := sc.dms.CloseDM(ctx, ch.ID); err != nil {
		return fmt.Errorf("bot: close dm %s (%s): %w", ch.ID, reason, err)
	}
	return nil
}

// Send posts text to a channel.
func (sc *SideChannels) Send(ctx context.Context, ch setup.ChannelHandle, text string) error {
	return sc.adapter.Send(ctx, OutboundMessage{ChannelID: ch.ID, Text: text})
}

// Dispatch hands a direct message to its side channel's handler. It reports
// whether the message belonged to an open side channel.
func (sc *SideChannels) Dispatch(ctx context.Context, msg InboundMessage) bool {
	sc.mu.Lock()
	entry, ok := sc.handlers[msg.ChannelID]
	sc.mu.Unlock()
	if !ok || entry.ownerID != msg.UserID {
		return false
	}
	entry.handler(ctx, setup.Message{Text: msg.Text, Attachments: msg.Attachments})
	return true
}

// Open returns the number of registered side channels.
func (sc *SideChannels) Open() int {
	sc.mu.Lock()
	defer sc.mu.Unlock()
	return len(sc.handlers)
}
