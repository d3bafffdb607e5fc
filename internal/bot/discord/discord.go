// Package discord implements the bot Adapter for Discord using the Gateway WebSocket.
package discord

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/bwmarrin/discordgo"
	"github.com/zulandar/poapbot/internal/bot"
	"github.com/zulandar/poapbot/internal/setup"
)

const (
	// maxRetries is the max number of retries for rate-limited API calls.
	maxRetries = 3
	// baseBackoff is the initial backoff duration for rate-limit retries.
	baseBackoff = 2 * time.Second
	// maxBackoff caps the exponential backoff.
	maxBackoff = 2 * time.Minute
	// maxContentLen is Discord's message content limit.
	maxContentLen = 2000
)

// session abstracts the discordgo.Session methods we use, enabling test mocks.
type session interface {
	Open() error
	Close() error
	AddHandler(handler interface{}) func()
	ChannelMessageSendComplex(channelID string, data *discordgo.MessageSend, options ...discordgo.RequestOption) (*discordgo.Message, error)
	UserChannelCreate(recipientID string, options ...discordgo.RequestOption) (*discordgo.Channel, error)
	ChannelDelete(channelID string, options ...discordgo.RequestOption) (*discordgo.Channel, error)
	GuildChannels(guildID string, options ...discordgo.RequestOption) ([]*discordgo.Channel, error)
	Guild(guildID string, options ...discordgo.RequestOption) (*discordgo.Guild, error)
	UserChannelPermissions(userID, channelID string, options ...discordgo.RequestOption) (int64, error)
	MessageReactionAdd(channelID, messageID, emojiID string, options ...discordgo.RequestOption) error
}

// realSession wraps *discordgo.Session to implement the session interface.
// Guild lookups are served from the gateway state cache when possible.
type realSession struct {
	s *discordgo.Session
}

func (r *realSession) Open() error  { return r.s.Open() }
func (r *realSession) Close() error { return r.s.Close() }
func (r *realSession) AddHandler(handler interface{}) func() {
	return r.s.AddHandler(handler)
}
func (r *realSession) ChannelMessageSendComplex(channelID string, data *discordgo.MessageSend, options ...discordgo.RequestOption) (*discordgo.Message, error) {
	return r.s.ChannelMessageSendComplex(channelID, data, options...)
}
func (r *realSession) UserChannelCreate(recipientID string, options ...discordgo.RequestOption) (*discordgo.Channel, error) {
	return r.s.UserChannelCreate(recipientID, options...)
}
func (r *realSession) ChannelDelete(channelID string, options ...discordgo.RequestOption) (*discordgo.Channel, error) {
	return r.s.ChannelDelete(channelID, options...)
}
func (r *realSession) GuildChannels(guildID string, options ...discordgo.RequestOption) ([]*discordgo.Channel, error) {
	if g, err := r.s.State.Guild(guildID); err == nil && len(g.Channels) > 0 {
		return g.Channels, nil
	}
	return r.s.GuildChannels(guildID, options...)
}
func (r *realSession) Guild(guildID string, options ...discordgo.RequestOption) (*discordgo.Guild, error) {
	if g, err := r.s.State.Guild(guildID); err == nil {
		return g, nil
	}
	return r.s.Guild(guildID, options...)
}
func (r *realSession) UserChannelPermissions(userID, channelID string, options ...discordgo.RequestOption) (int64, error) {
	return r.s.UserChannelPermissions(userID, channelID, options...)
}
func (r *realSession) MessageReactionAdd(channelID, messageID, emojiID string, options ...discordgo.RequestOption) error {
	return r.s.MessageReactionAdd(channelID, messageID, emojiID, options...)
}

// Adapter implements bot.Adapter for Discord via the Gateway WebSocket.
type Adapter struct {
	sess          session
	botToken      string
	botUserID     string
	log           *slog.Logger
	mu            sync.Mutex
	connected     bool
	closed        bool
	removeHandler func()
	baseBackoff   time.Duration
	maxBackoff    time.Duration

	// inbound is closed under sendMu once done is closed, so a gateway
	// callback never sends on a closed channel.
	inbound     chan bot.InboundMessage
	done        chan struct{}
	sendMu      sync.RWMutex
	inboundShut bool
	closeOnce   sync.Once
}

// AdapterOpts holds parameters for creating a Discord Adapter.
type AdapterOpts struct {
	BotToken string // Discord bot token
	Logger   *slog.Logger
	// For testing: inject a mock session instead of real Discord API.
	Session session
}

// New creates a Discord Adapter.
func New(opts AdapterOpts) (*Adapter, error) {
	if opts.Session == nil && opts.BotToken == "" {
		return nil, fmt.Errorf("discord: bot token is required")
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	a := &Adapter{
		botToken:    opts.BotToken,
		log:         logger.With("platform", "discord"),
		inbound:     make(chan bot.InboundMessage, 100),
		done:        make(chan struct{}),
		baseBackoff: baseBackoff,
		maxBackoff:  maxBackoff,
	}
	if opts.Session != nil {
		a.sess = opts.Session
	}
	return a, nil
}

// Connect establishes the Discord Gateway WebSocket connection.
func (a *Adapter) Connect(ctx context.Context) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.closed {
		return fmt.Errorf("discord: adapter already closed")
	}
	if a.connected {
		return nil
	}

	// Create real session if not injected (production path).
	if a.sess == nil {
		dg, err := newGatewaySession(a.botToken)
		if err != nil {
			return err
		}
		a.sess = &realSession{s: dg}
	}

	// Capture the bot user ID on connect and reconnect.
	a.sess.AddHandler(func(_ *discordgo.Session, r *discordgo.Ready) {
		a.mu.Lock()
		a.botUserID = r.User.ID
		a.mu.Unlock()
		a.log.Info("discord: connected", "user", r.User.Username, "id", r.User.ID, "guilds", len(r.Guilds))
	})
	// discordgo reconnects on its own.
	a.sess.AddHandler(func(_ *discordgo.Session, _ *discordgo.Disconnect) {
		a.log.Warn("discord: gateway disconnected, discordgo will auto-reconnect")
	})
	a.sess.AddHandler(func(_ *discordgo.Session, _ *discordgo.Resumed) {
		a.log.Info("discord: gateway session resumed")
	})

	if err := a.sess.Open(); err != nil {
		return fmt.Errorf("discord: open gateway: %w", err)
	}

	a.connected = true
	return nil
}

// newGatewaySession builds the discordgo session. Handlers run on the
// gateway read loop so messages from one channel are delivered in the order
// Discord sent them.
func newGatewaySession(token string) (*discordgo.Session, error) {
	dg, err := discordgo.New("Bot " + token)
	if err != nil {
		return nil, fmt.Errorf("discord: create session: %w", err)
	}
	dg.SyncEvents = true
	dg.Identify.Intents = discordgo.IntentsGuilds |
		discordgo.IntentsGuildMessages |
		discordgo.IntentsDirectMessages |
		discordgo.IntentsMessageContent
	return dg, nil
}

// Listen returns a channel of inbound messages from Discord. Registers a
// message handler on the Gateway session. Must be called after Connect.
func (a *Adapter) Listen(ctx context.Context) (<-chan bot.InboundMessage, error) {
	if err := a.ready(); err != nil {
		return nil, err
	}

	remove := a.sess.AddHandler(func(_ *discordgo.Session, m *discordgo.MessageCreate) {
		a.handleMessage(m)
	})
	a.mu.Lock()
	a.removeHandler = remove
	a.mu.Unlock()

	return a.inbound, nil
}

// Send delivers a message to Discord. Cards become embeds; text longer than
// the content limit is split across several messages.
func (a *Adapter) Send(ctx context.Context, msg bot.OutboundMessage) error {
	if err := a.ready(); err != nil {
		return err
	}
	if msg.ChannelID == "" {
		return fmt.Errorf("discord: no channel specified")
	}

	for _, data := range buildMessageSends(msg) {
		err := a.retryOnRateLimit(ctx, func() error {
			_, sendErr := a.sess.ChannelMessageSendComplex(msg.ChannelID, data)
			return sendErr
		})
		if err != nil {
			return fmt.Errorf("discord: send message: %w", err)
		}
	}
	return nil
}

// OpenDM opens (or reuses) the direct-message channel with userID.
func (a *Adapter) OpenDM(ctx context.Context, userID string) (string, error) {
	if err := a.ready(); err != nil {
		return "", err
	}
	var ch *discordgo.Channel
	err := a.retryOnRateLimit(ctx, func() error {
		var apiErr error
		ch, apiErr = a.sess.UserChannelCreate(userID)
		return apiErr
	})
	if err != nil {
		return "", fmt.Errorf("discord: open dm with %s: %w", userID, err)
	}
	return ch.ID, nil
}

// CloseDM closes a direct-message channel on the bot's side. A channel that
// no longer exists counts as closed.
func (a *Adapter) CloseDM(ctx context.Context, channelID string) error {
	if err := a.ready(); err != nil {
		return err
	}
	err := a.retryOnRateLimit(ctx, func() error {
		_, apiErr := a.sess.ChannelDelete(channelID)
		return apiErr
	})
	if err != nil && !isStatus(err, http.StatusNotFound) {
		return fmt.Errorf("discord: close dm %s: %w", channelID, err)
	}
	return nil
}

// GuildTextChannels lists the channels of a guild that messages can be
// posted to.
func (a *Adapter) GuildTextChannels(ctx context.Context, guildID string) ([]bot.TextChannel, error) {
	if err := a.ready(); err != nil {
		return nil, err
	}
	var chs []*discordgo.Channel
	err := a.retryOnRateLimit(ctx, func() error {
		var apiErr error
		chs, apiErr = a.sess.GuildChannels(guildID)
		return apiErr
	})
	if err != nil {
		return nil, fmt.Errorf("discord: guild channels %s: %w", guildID, err)
	}
	out := make([]bot.TextChannel, 0, len(chs))
	for _, ch := range chs {
		if ch.Type != discordgo.ChannelTypeGuildText && ch.Type != discordgo.ChannelTypeGuildNews {
			continue
		}
		out = append(out, bot.TextChannel{ID: ch.ID, Name: ch.Name})
	}
	return out, nil
}

// GuildName returns the display name of a guild.
func (a *Adapter) GuildName(ctx context.Context, guildID string) (string, error) {
	if err := a.ready(); err != nil {
		return "", err
	}
	var g *discordgo.Guild
	err := a.retryOnRateLimit(ctx, func() error {
		var apiErr error
		g, apiErr = a.sess.Guild(guildID)
		return apiErr
	})
	if err != nil {
		return "", fmt.Errorf("discord: guild %s: %w", guildID, err)
	}
	return g.Name, nil
}

// CanManageGuild reports whether userID holds MANAGE_GUILD (or
// administrator) in the given channel.
func (a *Adapter) CanManageGuild(ctx context.Context, guildID, channelID, userID string) (bool, error) {
	if err := a.ready(); err != nil {
		return false, err
	}
	var perms int64
	err := a.retryOnRateLimit(ctx, func() error {
		var apiErr error
		perms, apiErr = a.sess.UserChannelPermissions(userID, channelID)
		return apiErr
	})
	if err != nil {
		return false, fmt.Errorf("discord: permissions of %s in %s: %w", userID, guildID, err)
	}
	return perms&(discordgo.PermissionManageGuild|discordgo.PermissionAdministrator) != 0, nil
}

// React adds emoji to a message. Custom emoji may be given in message form
// (<:name:id>).
func (a *Adapter) React(ctx context.Context, channelID, messageID, emoji string) error {
	if err := a.ready(); err != nil {
		return err
	}
	emoji = normalizeEmoji(emoji)
	err := a.retryOnRateLimit(ctx, func() error {
		return a.sess.MessageReactionAdd(channelID, messageID, emoji)
	})
	if err != nil {
		return fmt.Errorf("discord: react %s: %w", emoji, err)
	}
	return nil
}

// Close gracefully shuts down the adapter connection.
func (a *Adapter) Close() error {
	a.mu.Lock()
	if a.closed {
		a.mu.Unlock()
		return nil
	}
	a.closed = true
	a.connected = false
	remove := a.removeHandler
	sess := a.sess
	a.mu.Unlock()

	if remove != nil {
		remove()
	}
	a.closeOnce.Do(func() {
		close(a.done)
		a.sendMu.Lock()
		a.inboundShut = true
		close(a.inbound)
		a.sendMu.Unlock()
	})
	if sess != nil {
		return sess.Close()
	}
	return nil
}

// BotUserID returns the bot's Discord user ID (available after Ready).
func (a *Adapter) BotUserID() string {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.botUserID
}

// SetBotUserID sets the bot user ID (used for self-message filtering).
func (a *Adapter) SetBotUserID(id string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.botUserID = id
}

func (a *Adapter) ready() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if !a.connected {
		return fmt.Errorf("discord: not connected")
	}
	return nil
}

// handleMessage converts a Discord message event to an InboundMessage.
func (a *Adapter) handleMessage(m *discordgo.MessageCreate) {
	if m.Message == nil || m.Author == nil {
		return
	}

	a.mu.Lock()
	botID := a.botUserID
	a.mu.Unlock()
	if m.Author.ID == botID || m.Author.Bot {
		return
	}

	ts := m.Timestamp
	if ts.IsZero() {
		ts, _ = discordgo.SnowflakeTimestamp(m.ID)
	}

	msg := bot.InboundMessage{
		Platform:  "discord",
		GuildID:   m.GuildID,
		ChannelID: m.ChannelID,
		MessageID: m.ID,
		UserID:    m.Author.ID,
		UserName:  m.Author.Username,
		Text:      m.Content,
		Direct:    m.GuildID == "",
		Timestamp: ts,
	}
	for _, att := range m.Attachments {
		if att == nil {
			continue
		}
		msg.Attachments = append(msg.Attachments, setup.Attachment{
			Filename: att.Filename,
			URL:      att.URL,
			Size:     att.Size,
		})
	}
	a.deliver(msg)
}

func (a *Adapter) deliver(msg bot.InboundMessage) {
	a.sendMu.RLock()
	defer a.sendMu.RUnlock()
	if a.inboundShut {
		return
	}
	select {
	case a.inbound <- msg:
	case <-a.done:
	}
}

// buildMessageSends translates an OutboundMessage into one or more Discord
// messages. Embeds ride on the last one.
func buildMessageSends(msg bot.OutboundMessage) []*discordgo.MessageSend {
	chunks := splitContent(msg.Text, maxContentLen)
	if len(chunks) == 0 {
		chunks = []string{""}
	}
	out := make([]*discordgo.MessageSend, len(chunks))
	for i, c := range chunks {
		out[i] = &discordgo.MessageSend{Content: c}
	}
	last := out[len(out)-1]
	for _, card := range msg.Cards {
		last.Embeds = append(last.Embeds, cardToEmbed(card))
	}
	return out
}

// splitContent breaks text into pieces of at most limit bytes, preferring
// line boundaries.
func splitContent(text string, limit int) []string {
	if text == "" {
		return nil
	}
	var out []string
	for len(text) > limit {
		cut := strings.LastIndex(text[:limit], "\n")
		if cut <= 0 {
			cut = limit
			// Do not split a multi-byte rune.
			for cut > 0 && !utf8RuneStart(text[cut]) {
				cut--
			}
		}
		out = append(out, text[:cut])
		text = strings.TrimPrefix(text[cut:], "\n")
	}
	if text != "" {
		out = append(out, text)
	}
	return out
}

func utf8RuneStart(b byte) bool { return b&0xC0 != 0x80 }

// cardToEmbed converts a Card to a Discord Embed.
func cardToEmbed(c bot.Card) *discordgo.MessageEmbed {
	embed := &discordgo.MessageEmbed{
		Title:       c.Title,
		URL:         c.URL,
		Description: c.Body,
	}
	if c.Color != "" {
		embed.Color = parseHexColor(c.Color)
	}
	if c.ImageURL != "" {
		embed.Thumbnail = &discordgo.MessageEmbedThumbnail{URL: c.ImageURL}
	}
	if c.Footer != "" {
		embed.Footer = &discordgo.MessageEmbedFooter{Text: c.Footer}
	}
	if !c.Time.IsZero() {
		embed.Timestamp = c.Time.UTC().Format(time.RFC3339)
	}
	for _, f := range c.Fields {
		embed.Fields = append(embed.Fields, &discordgo.MessageEmbedField{
			Name:   f.Name,
			Value:  f.Value,
			Inline: f.Inline,
		})
	}
	return embed
}

// parseHexColor converts a hex color string (e.g. "#0099ff") to an int.
func parseHexColor(hex string) int {
	hex = strings.TrimPrefix(hex, "#")
	var color int
	for _, c := range hex {
		color <<= 4
		switch {
		case c >= '0' && c <= '9':
			color |= int(c - '0')
		case c >= 'a' && c <= 'f':
			color |= int(c-'a') + 10
		case c >= 'A' && c <= 'F':
			color |= int(c-'A') + 10
		}
	}
	return color
}

// normalizeEmoji turns <:name:id> and <a:name:id> into the name:id form the
// reaction endpoint expects. Unicode emoji pass through.
func normalizeEmoji(e string) string {
	e = strings.TrimSpace(e)
	if strings.HasPrefix(e, "<") && strings.HasSuffix(e, ">") {
		e = strings.TrimSuffix(strings.TrimPrefix(e, "<"), ">")
		e = strings.TrimPrefix(e, "a")
		e = strings.TrimPrefix(e, ":")
	}
	return e
}

func isStatus(err error, code int) bool {
	var restErr *discordgo.RESTError
	return errors.As(err, &restErr) && restErr.Response != nil && restErr.Response.StatusCode == code
}

// retryOnRateLimit calls fn and retries with exponential backoff on Discord
// rate limit errors. It respects context cancellation.
func (a *Adapter) retryOnRateLimit(ctx context.Context, fn func() error) error {
	for attempt := 0; attempt <= maxRetries; attempt++ {
		err := fn()
		if err == nil {
			return nil
		}
		if !isStatus(err, http.StatusTooManyRequests) {
			return err
		}
		if attempt == maxRetries {
			return err
		}

		wait := time.Duration(math.Pow(2, float64(attempt))) * a.baseBackoff
		if wait > a.maxBackoff {
			wait = a.maxBackoff
		}
		a.log.Warn("discord: rate limited", "attempt", attempt+1, "max", maxRetries, "retry_in", wait)

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(wait):
		}
	}
	return nil // unreachable
}
