package bot

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/zulandar/poapbot/internal/mint"
	"github.com/zulandar/poapbot/internal/models"
	"github.com/zulandar/poapbot/internal/setup"
)

// SessionStarter opens setup conversations.
type SessionStarter interface {
	StartSession(ctx context.Context, req setup.StartRequest) (*setup.Session, error)
}

// EventLister answers the status command.
type EventLister interface {
	ListGuild(ctx context.Context, guildID string) ([]models.Event, error)
	CodeStats(ctx context.Context, eventID uint) (total, claimed int, err error)
}

// MintToggler subscribes channels to mint notifications.
type MintToggler interface {
	Subscribe(ctx context.Context, platform, guildID, channelID string) (bool, error)
	Unsubscribe(ctx context.Context, platform, channelID string) (bool, error)
}

// CommandHandler processes prefixed guild commands. Every command except
// help requires the MANAGE_GUILD permission.
type CommandHandler struct {
	prefix   string
	platform string
	setup    SessionStarter
	events   EventLister
	mint     MintToggler
	perms    PermissionChecker
	dir      GuildDirectory
	layout   string
	now      func() time.Time
	log      *slog.Logger
}

// CommandHandlerOpts holds parameters for creating a CommandHandler.
type CommandHandlerOpts struct {
	Prefix      string // defaults to "!"
	Platform    string // mint subscription platform, defaults to discord
	Setup       SessionStarter
	Events      EventLister
	Mint        MintToggler // optional; mint commands are refused without it
	Permissions PermissionChecker
	Directory   GuildDirectory // optional; guild and channel names
	DateLayout  string
	Now         func() time.Time
	Logger      *slog.Logger
}

// NewCommandHandler creates a CommandHandler.
func NewCommandHandler(opts CommandHandlerOpts) (*CommandHandler, error) {
	if opts.Setup == nil {
		return nil, fmt.Errorf("bot: command handler: session starter is required")
	}
	if opts.Events == nil {
		return nil, fmt.Errorf("bot: command handler: event lister is required")
	}
	if opts.Permissions == nil {
		return nil, fmt.Errorf("bot: command handler: permission checker is required")
	}
	ch := &CommandHandler{
		prefix:   opts.Prefix,
		platform: opts.Platform,
		setup:    opts.Setup,
		events:   opts.Events,
		mint:     opts.Mint,
		perms:    opts.Permissions,
		dir:      opts.Directory,
		layout:   opts.DateLayout,
		now:      opts.Now,
		log:      opts.Logger,
	}
	if ch.prefix == "" {
		ch.prefix = "!"
	}
	if ch.platform == "" {
		ch.platform = mint.PlatformDiscord
	}
	if ch.layout == "" {
		ch.layout = "2006-01-02 15:04"
	}
	if ch.now == nil {
		ch.now = time.Now
	}
	if ch.log == nil {
		ch.log = slog.Default()
	}
	return ch, nil
}

// knownCommands is the set of commands the handler answers. Other prefixed
// text is left alone so the bot coexists with other prefix bots.
var knownCommands = map[string]bool{
	"setup":  true,
	"status": true,
	"mint":   true,
	"help":   true,
}

// IsCommand reports whether text invokes one of the handler's commands.
func (ch *CommandHandler) IsCommand(text string) bool {
	args := ch.parseCommand(text)
	return len(args) > 0 && knownCommands[args[0]]
}

// parseCommand strips the prefix and splits the remaining text.
func (ch *CommandHandler) parseCommand(text string) []string {
	text = strings.TrimSpace(text)
	if !strings.HasPrefix(text, ch.prefix) {
		return nil
	}
	fields := strings.Fields(strings.TrimPrefix(text, ch.prefix))
	if len(fields) > 0 {
		fields[0] = strings.ToLower(fields[0])
	}
	return fields
}

// Execute runs a command and returns the reply for the channel it came from.
func (ch *CommandHandler) Execute(ctx context.Context, msg InboundMessage) string {
	args := ch.parseCommand(msg.Text)
	if len(args) == 0 {
		return ch.helpText()
	}
	if args[0] == "help" {
		return ch.helpText()
	}
	if msg.Direct || msg.GuildID == "" {
		return "This command only works in a server channel."
	}

	ok, err := ch.perms.CanManageGuild(ctx, msg.GuildID, msg.ChannelID, msg.UserID)
	if err != nil {
		ch.log.Error("bot: permission check", "guild", msg.GuildID, "user", msg.UserID, "error", err)
		return "I couldn't check your permissions, please try again."
	}
	if !ok {
		return "You need the Manage Server permission to use this command."
	}

	switch args[0] {
	case "setup":
		return ch.cmdSetup(ctx, msg)
	case "status":
		return ch.cmdStatus(ctx, msg)
	case "mint":
		return ch.cmdMint(ctx, msg, args[1:])
	default:
		return fmt.Sprintf("Unknown command: `%s`\n\n%s", args[0], ch.helpText())
	}
}

func (ch *CommandHandler) cmdSetup(ctx context.Context, msg InboundMessage) string {
	req := setup.StartRequest{
		OwnerID:   msg.UserID,
		OwnerName: msg.UserName,
		GuildID:   msg.GuildID,
		GuildName: ch.guildName(ctx, msg.GuildID),
		Origin:    setup.ChannelHandle{ID: msg.ChannelID, Name: ch.channelName(ctx, msg.GuildID, msg.ChannelID)},
	}
	_, err := ch.setup.StartSession(ctx, req)
	switch {
	case err == nil:
		return fmt.Sprintf("<@%s> setup started, please continue the configuration in your DMs 📬", msg.UserID)
	case errors.Is(err, setup.ErrAlreadyActive):
		return fmt.Sprintf("<@%s> you already have another setup in progress. Finish or cancel it in your DMs first.", msg.UserID)
	case errors.Is(err, setup.ErrChannelCreation):
		ch.log.Warn("bot: setup dm", "guild", msg.GuildID, "user", msg.UserID, "error", err)
		return fmt.Sprintf("<@%s> I couldn't send you a direct message. Please allow DMs from server members and try again.", msg.UserID)
	case errors.Is(err, setup.ErrClosed):
		return "I'm restarting, please try again in a minute."
	default:
		ch.log.Error("bot: start setup", "guild", msg.GuildID, "user", msg.UserID, "error", err)
		return "Sorry, something went wrong on my side. Please try again later."
	}
}

func (ch *CommandHandler) cmdStatus(ctx context.Context, msg InboundMessage) string {
	evs, err := ch.events.ListGuild(ctx, msg.GuildID)
	if err != nil {
		ch.log.Error("bot: status", "guild", msg.GuildID, "error", err)
		return "I couldn't load the events right now, please try again later."
	}
	statuses := make([]EventStatus, 0, len(evs))
	for _, ev := range evs {
		total, claimed, err := ch.events.CodeStats(ctx, ev.ID)
		if err != nil {
			ch.log.Warn("bot: code stats", "event", ev.ID, "error", err)
		}
		statuses = append(statuses, EventStatus{Event: ev, Total: total, Claimed: claimed})
	}
	return formatStatus(ch.guildName(ctx, msg.GuildID), statuses, ch.now().UTC(), ch.layout)
}

func (ch *CommandHandler) cmdMint(ctx context.Context, msg InboundMessage, args []string) string {
	usage := fmt.Sprintf("Usage: `%smint on` or `%smint off`", ch.prefix, ch.prefix)
	if ch.mint == nil {
		return "Mint notifications are not enabled on this bot."
	}
	if len(args) != 1 {
		return usage
	}
	switch strings.ToLower(args[0]) {
	case "on":
		added, err := ch.mint.Subscribe(ctx, ch.platform, msg.GuildID, msg.ChannelID)
		if err != nil {
			ch.log.Error("bot: mint subscribe", "channel", msg.ChannelID, "error", err)
			return "I couldn't update the subscription, please try again later."
		}
		if !added {
			return "This channel already receives mint notifications."
		}
		return "This channel will now receive mint notifications."
	case "off":
		removed, err := ch.mint.Unsubscribe(ctx, ch.platform, msg.ChannelID)
		if err != nil {
			ch.log.Error("bot: mint unsubscribe", "channel", msg.ChannelID, "error", err)
			return "I couldn't update the subscription, please try again later."
		}
		if !removed {
			return "This channel was not receiving mint notifications."
		}
		return "Mint notifications stopped for this channel."
	default:
		return usage
	}
}

func (ch *CommandHandler) guildName(ctx context.Context, guildID string) string {
	if ch.dir == nil {
		return guildID
	}
	name, err := ch.dir.GuildName(ctx, guildID)
	if err != nil || name == "" {
		return guildID
	}
	return name
}

func (ch *CommandHandler) channelName(ctx context.Context, guildID, channelID string) string {
	if ch.dir == nil {
		return channelID
	}
	chs, err := ch.dir.GuildTextChannels(ctx, guildID)
	if err != nil {
		return channelID
	}
	for _, c := range chs {
		if c.ID == channelID {
			return c.Name
		}
	}
	return channelID
}

// helpText returns the list of available commands.
func (ch *CommandHandler) helpText() string {
	p := ch.prefix
	return strings.Join([]string{
		"**POAP Bot commands:**",
		fmt.Sprintf("`%ssetup` - configure a new event (I'll DM you the questions)", p),
		fmt.Sprintf("`%sstatus` - list this server's events and claimed codes", p),
		fmt.Sprintf("`%smint on|off` - post minted POAPs in this channel", p),
		fmt.Sprintf("`%shelp` - show this message", p),
		"To claim a code during an event, DM me its secret pass.",
	}, "\n")
}
