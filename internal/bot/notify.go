package bot

import (
	"context"
	"fmt"
	"time"

	"github.com/zulandar/poapbot/internal/mint"
)

// Notifier posts mint notices and event announcements through an adapter.
// It implements mint.Sink and schedule.Announcer.
type Notifier struct {
	adapter Adapter
	now     func() time.Time
}

// NewNotifier creates a Notifier.
func NewNotifier(adapter Adapter) (*Notifier, error) {
	if adapter == nil {
		return nil, fmt.Errorf("bot: notifier: adapter is required")
	}
	return &Notifier{adapter: adapter, now: time.Now}, nil
}

// Notify sends a mint card to channelID.
func (n *Notifier) Notify(ctx context.Context, channelID string, notice mint.Notice) error {
	return n.adapter.Send(ctx, OutboundMessage{
		ChannelID: channelID,
		Cards:     []Card{MintCard(notice, n.now().UTC())},
	})
}

// Announce posts plain text to channelID.
func (n *Notifier) Announce(ctx context.Context, channelID, text string) error {
	return n.adapter.Send(ctx, OutboundMessage{ChannelID: channelID, Text: text})
}
