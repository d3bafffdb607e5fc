package bot

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"regexp"
	"strings"
	"time"

	"github.com/zulandar/poapbot/internal/event"
)

// Claimer redeems a pass for a user.
type Claimer interface {
	Claim(ctx context.Context, pass, userID string, now time.Time) (*event.Claim, error)
}

// Router classifies inbound chat messages and routes them to the
// appropriate handler: the setup side channel, the command handler, or the
// pass claim flow.
type Router struct {
	adapter  Adapter
	side     *SideChannels
	commands *CommandHandler
	claims   Claimer
	reactor  Reactor
	log      *slog.Logger
	now      func() time.Time
}

// RouterOpts holds parameters for creating a Router.
type RouterOpts struct {
	Adapter      Adapter
	SideChannels *SideChannels
	Commands     *CommandHandler
	Claims       Claimer
	Logger       *slog.Logger
	Now          func() time.Time
}

// NewRouter creates a Router.
func NewRouter(opts RouterOpts) (*Router, error) {
	if opts.Adapter == nil {
		return nil, fmt.Errorf("bot: router: adapter is required")
	}
	if opts.SideChannels == nil {
		return nil, fmt.Errorf("bot: router: side channels are required")
	}
	if opts.Commands == nil {
		return nil, fmt.Errorf("bot: router: command handler is required")
	}
	if opts.Claims == nil {
		return nil, fmt.Errorf("bot: router: claimer is required")
	}
	r := &Router{
		adapter:  opts.Adapter,
		side:     opts.SideChannels,
		commands: opts.Commands,
		claims:   opts.Claims,
		log:      opts.Logger,
		now:      opts.Now,
	}
	if rx, ok := opts.Adapter.(Reactor); ok {
		r.reactor = rx
	}
	if r.log == nil {
		r.log = slog.Default()
	}
	if r.now == nil {
		r.now = time.Now
	}
	return r, nil
}

// Handle classifies and routes a single inbound message. Routing paths:
//  1. Bot self-message → ignore
//  2. DM in an open setup side channel → setup session
//  3. Known command → command handler
//  4. Other DM that looks like a pass → claim
//  5. Everything else → ignore
func (r *Router) Handle(ctx context.Context, msg InboundMessage) {
	if r.isSelfMessage(msg) {
		return
	}
	text := strings.TrimSpace(msg.Text)
	r.log.Debug("bot: router: recv", "guild", msg.GuildID, "channel", msg.ChannelID, "user", msg.UserName, "direct", msg.Direct, "text", truncate(text, 80))

	if msg.Direct && r.side.Dispatch(ctx, msg) {
		return
	}

	if r.commands.IsCommand(text) {
		r.reply(ctx, msg.ChannelID, r.commands.Execute(ctx, msg))
		return
	}

	if msg.Direct && looksLikePass(text) {
		r.handleClaim(ctx, msg, text)
	}
}

var passRe = regexp.MustCompile(`^[A-Za-z0-9_-]{3,32}$`)

func looksLikePass(text string) bool {
	return passRe.MatchString(text)
}

func (r *Router) handleClaim(ctx context.Context, msg InboundMessage, pass string) {
	claim, err := r.claims.Claim(ctx, pass, msg.UserID, r.now())
	switch {
	case errors.Is(err, event.ErrNotFound):
		return
	case errors.Is(err, event.ErrNoCodesLeft):
		r.reply(ctx, msg.ChannelID, "Sorry, all the codes for this event have been claimed already. 😔")
		return
	case err != nil:
		r.log.Error("bot: claim", "user", msg.UserID, "error", err)
		r.reply(ctx, msg.ChannelID, "Sorry, something went wrong while getting your code. Please try again in a few minutes.")
		return
	}

	r.log.Info("bot: claimed", "event", claim.Event.ID, "user", msg.UserID, "again", claim.Already)
	r.reply(ctx, msg.ChannelID, claimReply(claim))
	if r.reactor != nil && msg.MessageID != "" && claim.Event.Reaction != "" {
		if err := r.reactor.React(ctx, msg.ChannelID, msg.MessageID, claim.Event.Reaction); err != nil {
			r.log.Warn("bot: react", "channel", msg.ChannelID, "error", err)
		}
	}
}

// claimReply is the event's response message followed by the claim link.
func claimReply(c *event.Claim) string {
	var b strings.Builder
	if c.Event.ResponseMessage != "" {
		b.WriteString(c.Event.ResponseMessage)
		b.WriteString("\n")
	}
	if c.Already {
		b.WriteString("You already claimed a code for this event, here it is again: ")
	}
	fmt.Fprintf(&b, "https://poap.xyz/claim/%s", c.Code)
	return b.String()
}

func (r *Router) reply(ctx context.Context, channelID, text string) {
	if text == "" {
		return
	}
	if err := r.adapter.Send(ctx, OutboundMessage{ChannelID: channelID, Text: text}); err != nil {
		r.log.Warn("bot: router: send reply", "channel", channelID, "error", err)
	}
}

// isSelfMessage returns true if the message is from the bot itself.
func (r *Router) isSelfMessage(msg InboundMessage) bool {
	ider, ok := r.adapter.(BotUserIDer)
	if !ok {
		return false
	}
	id := ider.BotUserID()
	return id != "" && msg.UserID == id
}
