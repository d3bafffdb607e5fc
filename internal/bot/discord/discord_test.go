package discord

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/bwmarrin/discordgo"
	"github.com/zulandar/poapbot/internal/bot"
)

// --- Mock Discord session ---

type mockSession struct {
	mu           sync.Mutex
	opened       bool
	closeCalled  bool
	openErr      error
	sentMessages []sentMessage
	sendErr      error
	handlers     []interface{}
	removeCount  int

	dmSeq       int
	dmErr       error
	deleted     []string
	deleteErr   error
	channels    map[string][]*discordgo.Channel // by guild
	guilds      map[string]*discordgo.Guild
	perms       map[string]int64 // key: user:channel
	reactions   []string         // channel/message/emoji
	reactionErr error
}

type sentMessage struct {
	channelID string
	data      *discordgo.MessageSend
}

func newMockSession() *mockSession {
	return &mockSession{
		channels: make(map[string][]*discordgo.Channel),
		guilds:   make(map[string]*discordgo.Guild),
		perms:    make(map[string]int64),
	}
}

func (m *mockSession) Open() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.openErr != nil {
		return m.openErr
	}
	m.opened = true
	return nil
}

func (m *mockSession) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closeCalled = true
	return nil
}

func (m *mockSession) AddHandler(handler interface{}) func() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.handlers = append(m.handlers, handler)
	return func() {
		m.mu.Lock()
		defer m.mu.Unlock()
		m.removeCount++
	}
}

func (m *mockSession) ChannelMessageSendComplex(channelID string, data *discordgo.MessageSend, options ...discordgo.RequestOption) (*discordgo.Message, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.sendErr != nil {
		return nil, m.sendErr
	}
	m.sentMessages = append(m.sentMessages, sentMessage{channelID: channelID, data: data})
	return &discordgo.Message{ID: "msg-123"}, nil
}

func (m *mockSession) UserChannelCreate(recipientID string, options ...discordgo.RequestOption) (*discordgo.Channel, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.dmErr != nil {
		return nil, m.dmErr
	}
	m.dmSeq++
	return &discordgo.Channel{ID: fmt.Sprintf("DM-%s-%d", recipientID, m.dmSeq), Type: discordgo.ChannelTypeDM}, nil
}

func (m *mockSession) ChannelDelete(channelID string, options ...discordgo.RequestOption) (*discordgo.Channel, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.deleteErr != nil {
		return nil, m.deleteErr
	}
	m.deleted = append(m.deleted, channelID)
	return &discordgo.Channel{ID: channelID}, nil
}

func (m *mockSession) GuildChannels(guildID string, options ...discordgo.RequestOption) ([]*discordgo.Channel, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	chs, ok := m.channels[guildID]
	if !ok {
		return nil, restError(http.StatusNotFound)
	}
	return chs, nil
}

func (m *mockSession) Guild(guildID string, options ...discordgo.RequestOption) (*discordgo.Guild, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	g, ok := m.guilds[guildID]
	if !ok {
		return nil, restError(http.StatusNotFound)
	}
	return g, nil
}

func (m *mockSession) UserChannelPermissions(userID, channelID string, options ...discordgo.RequestOption) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.perms[userID+":"+channelID]
	if !ok {
		return 0, discordgo.ErrStateNotFound
	}
	return p, nil
}

func (m *mockSession) MessageReactionAdd(channelID, messageID, emojiID string, options ...discordgo.RequestOption) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.reactionErr != nil {
		return m.reactionErr
	}
	m.reactions = append(m.reactions, channelID+"/"+messageID+"/"+emojiID)
	return nil
}

func (m *mockSession) sentCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.sentMessages)
}

func (m *mockSession) lastSent() sentMessage {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.sentMessages[len(m.sentMessages)-1]
}

func restError(code int) error {
	return &discordgo.RESTError{Response: &http.Response{StatusCode: code}}
}

// --- Helper to create a connected adapter ---

func newTestAdapter(t *testing.T) (*Adapter, *mockSession) {
	t.Helper()
	sess := newMockSession()

	a, err := New(AdapterOpts{
		Session: sess,
		Logger:  slog.New(slog.NewTextHandler(io.Discard, nil)),
	})
	if err != nil {
		t.Fatalf("new adapter: %v", err)
	}
	a.baseBackoff = time.Millisecond
	a.maxBackoff = 10 * time.Millisecond

	if err := a.Connect(context.Background()); err != nil {
		t.Fatalf("connect: %v", err)
	}
	a.SetBotUserID("BOT_USER_ID")
	return a, sess
}

func receive(t *testing.T, ch <-chan bot.InboundMessage) bot.InboundMessage {
	t.Helper()
	select {
	case msg := <-ch:
		return msg
	case <-time.After(time.Second):
		t.Fatal("timeout waiting for inbound message")
	}
	return bot.InboundMessage{}
}

// --- New / Connect tests ---

func TestNew_RequiresBotToken(t *testing.T) {
	_, err := New(AdapterOpts{})
	if err == nil {
		t.Fatal("expected error for missing bot token")
	}
	if !strings.Contains(err.Error(), "bot token") {
		t.Errorf("error = %q, want to mention bot token", err.Error())
	}
}

func TestNew_WithBotToken(t *testing.T) {
	a, err := New(AdapterOpts{BotToken: "test-token"})
	if err != nil || a == nil {
		t.Fatalf("New = %v, %v", a, err)
	}
}

func TestConnect_Success(t *testing.T) {
	_, sess := newTestAdapter(t)
	if !sess.opened {
		t.Error("expected session to be opened")
	}
	if len(sess.handlers) != 3 {
		t.Errorf("handlers = %d, want ready/disconnect/resumed", len(sess.handlers))
	}
}

func TestConnect_OpenError(t *testing.T) {
	sess := newMockSession()
	sess.openErr = fmt.Errorf("gateway error")

	a, _ := New(AdapterOpts{Session: sess})
	err := a.Connect(context.Background())
	if err == nil || !strings.Contains(err.Error(), "open gateway") {
		t.Errorf("error = %v, want open gateway error", err)
	}
}

func TestConnect_AlreadyClosed(t *testing.T) {
	a, _ := newTestAdapter(t)
	a.Close()
	if err := a.Connect(context.Background()); err == nil {
		t.Fatal("expected error for closed adapter")
	}
}

func TestConnect_Idempotent(t *testing.T) {
	a, _ := newTestAdapter(t)
	if err := a.Connect(context.Background()); err != nil {
		t.Fatalf("second connect should not error: %v", err)
	}
}

func TestConnect_ReadyHandlerCapturesUserID(t *testing.T) {
	a, sess := newTestAdapter(t)
	ready, ok := sess.handlers[0].(func(*discordgo.Session, *discordgo.Ready))
	if !ok {
		t.Fatalf("first handler is %T", sess.handlers[0])
	}
	ready(nil, &discordgo.Ready{User: &discordgo.User{ID: "B2", Username: "poapbot"}})
	if got := a.BotUserID(); got != "B2" {
		t.Errorf("BotUserID = %q, want B2", got)
	}
}

// --- Listen tests ---

func TestNewGatewaySession_SyncEvents(t *testing.T) {
	dg, err := newGatewaySession("test-token")
	if err != nil {
		t.Fatalf("newGatewaySession: %v", err)
	}
	if !dg.SyncEvents {
		t.Error("handlers must run synchronously to keep message order")
	}
	if dg.Token != "Bot test-token" {
		t.Errorf("token = %q", dg.Token)
	}
	want := discordgo.IntentsDirectMessages | discordgo.IntentsMessageContent
	if dg.Identify.Intents&want != want {
		t.Errorf("intents = %b", dg.Identify.Intents)
	}
}

func TestListen_KeepsChannelOrder(t *testing.T) {
	a, _ := newTestAdapter(t)
	ch, _ := a.Listen(context.Background())

	answers := []string{"2030-05-01 14:00", "-", "welcome", "bye"}
	for i, text := range answers {
		a.handleMessage(&discordgo.MessageCreate{Message: &discordgo.Message{
			ID:        fmt.Sprintf("%d", 100+i),
			ChannelID: "DM-1",
			Content:   text,
			Author:    &discordgo.User{ID: "U1", Username: "alice"},
		}})
	}
	for _, want := range answers {
		if msg := receive(t, ch); msg.Text != want {
			t.Fatalf("got %q, want %q", msg.Text, want)
		}
	}
}

func TestListen_NotConnected(t *testing.T) {
	a, _ := New(AdapterOpts{Session: newMockSession()})
	if _, err := a.Listen(context.Background()); err == nil {
		t.Fatal("expected error for not connected")
	}
}

func TestListen_GuildMessage(t *testing.T) {
	a, _ := newTestAdapter(t)
	ch, err := a.Listen(context.Background())
	if err != nil {
		t.Fatalf("listen: %v", err)
	}

	a.handleMessage(&discordgo.MessageCreate{Message: &discordgo.Message{
		ID:        "123456789012345678",
		GuildID:   "G1",
		ChannelID: "C1",
		Content:   "!setup",
		Author:    &discordgo.User{ID: "U_ALICE", Username: "Alice"},
	}})

	msg := receive(t, ch)
	if msg.Platform != "discord" || msg.GuildID != "G1" || msg.ChannelID != "C1" {
		t.Errorf("msg = %+v", msg)
	}
	if msg.Direct {
		t.Error("guild message must not be direct")
	}
	if msg.MessageID != "123456789012345678" || msg.UserName != "Alice" || msg.Text != "!setup" {
		t.Errorf("msg = %+v", msg)
	}
	if msg.Timestamp.IsZero() {
		t.Error("timestamp should come from the snowflake")
	}
}

func TestListen_DirectMessageWithAttachment(t *testing.T) {
	a, _ := newTestAdapter(t)
	ch, _ := a.Listen(context.Background())

	a.handleMessage(&discordgo.MessageCreate{Message: &discordgo.Message{
		ID:        "1",
		ChannelID: "DM-1",
		Author:    &discordgo.User{ID: "U1", Username: "bob"},
		Attachments: []*discordgo.MessageAttachment{
			{Filename: "codes.txt", URL: "https://cdn/codes.txt", Size: 42},
			nil,
		},
		Timestamp: time.Date(2030, 1, 1, 0, 0, 0, 0, time.UTC),
	}})

	msg := receive(t, ch)
	if !msg.Direct {
		t.Error("message without guild should be direct")
	}
	if len(msg.Attachments) != 1 || msg.Attachments[0].Filename != "codes.txt" || msg.Attachments[0].Size != 42 {
		t.Errorf("attachments = %+v", msg.Attachments)
	}
}

func TestListen_Filters(t *testing.T) {
	a, _ := newTestAdapter(t)
	ch, _ := a.Listen(context.Background())

	for _, m := range []*discordgo.MessageCreate{
		{Message: &discordgo.Message{ID: "1", ChannelID: "C1", Author: &discordgo.User{ID: "BOT_USER_ID"}}},
		{Message: &discordgo.Message{ID: "2", ChannelID: "C1", Author: &discordgo.User{ID: "OTHER", Bot: true}}},
		{Message: &discordgo.Message{ID: "3", ChannelID: "C1"}},
		{},
	} {
		a.handleMessage(m)
	}

	select {
	case msg := <-ch:
		t.Errorf("unexpected message %+v", msg)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestHandleMessage_AfterCloseDoesNotPanic(t *testing.T) {
	a, _ := newTestAdapter(t)
	a.Listen(context.Background())
	a.Close()
	a.handleMessage(&discordgo.MessageCreate{Message: &discordgo.Message{
		ID: "1", ChannelID: "C1", Author: &discordgo.User{ID: "U1"},
	}})
}

// --- Send tests ---

func TestSend_SimpleText(t *testing.T) {
	a, sess := newTestAdapter(t)
	if err := a.Send(context.Background(), bot.OutboundMessage{ChannelID: "C1", Text: "hello"}); err != nil {
		t.Fatalf("send: %v", err)
	}
	sent := sess.lastSent()
	if sent.channelID != "C1" || sent.data.Content != "hello" {
		t.Errorf("sent = %+v", sent)
	}
}

func TestSend_Errors(t *testing.T) {
	a, sess := newTestAdapter(t)
	if err := a.Send(context.Background(), bot.OutboundMessage{Text: "x"}); err == nil {
		t.Error("expected error without channel")
	}
	sess.sendErr = fmt.Errorf("missing access")
	err := a.Send(context.Background(), bot.OutboundMessage{ChannelID: "C1", Text: "x"})
	if err == nil || !strings.Contains(err.Error(), "send message") {
		t.Errorf("err = %v", err)
	}

	b, _ := New(AdapterOpts{Session: newMockSession()})
	if err := b.Send(context.Background(), bot.OutboundMessage{ChannelID: "C1"}); err == nil {
		t.Error("expected not connected error")
	}
}

func TestSend_LongTextIsSplit(t *testing.T) {
	a, sess := newTestAdapter(t)
	line := strings.Repeat("x", 999) + "\n"
	text := strings.Repeat(line, 3) // 3000 bytes
	card := bot.Card{Title: "Minted"}
	if err := a.Send(context.Background(), bot.OutboundMessage{ChannelID: "C1", Text: text, Cards: []bot.Card{card}}); err != nil {
		t.Fatal(err)
	}
	if n := sess.sentCount(); n != 2 {
		t.Fatalf("sent %d messages, want 2", n)
	}
	for _, m := range sess.sentMessages {
		if len(m.data.Content) > maxContentLen {
			t.Errorf("chunk of %d bytes exceeds limit", len(m.data.Content))
		}
	}
	if len(sess.sentMessages[0].data.Embeds) != 0 || len(sess.lastSent().data.Embeds) != 1 {
		t.Error("embeds should ride on the last chunk only")
	}
}

func TestSplitContent(t *testing.T) {
	if got := splitContent("", 10); got != nil {
		t.Errorf("empty = %v", got)
	}
	if got := splitContent("short", 10); len(got) != 1 || got[0] != "short" {
		t.Errorf("short = %v", got)
	}
	got := splitContent("aaaaaaaaaaaaaaa", 10)
	if len(got) != 2 || got[0] != "aaaaaaaaaa" || got[1] != "aaaaa" {
		t.Errorf("no newline = %v", got)
	}
	got = splitContent("ééééééé", 5) // 2 bytes per rune
	for _, c := range got {
		if !strings.HasPrefix(c, "é") || len(c)%2 != 0 {
			t.Errorf("rune split: %q", got)
		}
	}
}

func TestCardToEmbed(t *testing.T) {
	ts := time.Date(2030, 5, 1, 12, 0, 0, 0, time.UTC)
	embed := cardToEmbed(bot.Card{
		Title:    "ETHDenver",
		URL:      "https://poap.gallery/event/1",
		Body:     "minted by alice.eth",
		ImageURL: "https://img/1.png",
		Color:    "#0099ff",
		Footer:   "POAP Bot",
		Time:     ts,
		Fields:   []bot.Field{{Name: "Supply", Value: "7", Inline: true}},
	})
	if embed.Color != 0x0099ff {
		t.Errorf("color = %x", embed.Color)
	}
	if embed.Thumbnail == nil || embed.Thumbnail.URL != "https://img/1.png" {
		t.Errorf("thumbnail = %+v", embed.Thumbnail)
	}
	if embed.Footer == nil || embed.Footer.Text != "POAP Bot" {
		t.Errorf("footer = %+v", embed.Footer)
	}
	if embed.Timestamp != "2030-05-01T12:00:00Z" {
		t.Errorf("timestamp = %q", embed.Timestamp)
	}
	if len(embed.Fields) != 1 || !embed.Fields[0].Inline {
		t.Errorf("fields = %+v", embed.Fields)
	}
}

func TestParseHexColor(t *testing.T) {
	tests := []struct {
		in   string
		want int
	}{
		{"#0099ff", 0x0099ff},
		{"36A64F", 0x36a64f},
		{"", 0},
	}
	for _, tt := range tests {
		if got := parseHexColor(tt.in); got != tt.want {
			t.Errorf("parseHexColor(%q) = %x, want %x", tt.in, got, tt.want)
		}
	}
}

// --- DM, guild and permission tests ---

func TestOpenAndCloseDM(t *testing.T) {
	a, sess := newTestAdapter(t)
	ctx := context.Background()

	id, err := a.OpenDM(ctx, "U1")
	if err != nil || id != "DM-U1-1" {
		t.Fatalf("OpenDM = %q, %v", id, err)
	}
	if err := a.CloseDM(ctx, id); err != nil {
		t.Fatalf("CloseDM: %v", err)
	}
	if len(sess.deleted) != 1 || sess.deleted[0] != id {
		t.Errorf("deleted = %v", sess.deleted)
	}

	sess.deleteErr = restError(http.StatusNotFound)
	if err := a.CloseDM(ctx, "gone"); err != nil {
		t.Errorf("CloseDM on missing channel = %v, want nil", err)
	}
	sess.deleteErr = restError(http.StatusForbidden)
	if err := a.CloseDM(ctx, "x"); err == nil {
		t.Error("CloseDM should surface other errors")
	}

	sess.dmErr = restError(http.StatusForbidden)
	if _, err := a.OpenDM(ctx, "U2"); err == nil || !strings.Contains(err.Error(), "open dm") {
		t.Errorf("OpenDM err = %v", err)
	}
}

func TestGuildTextChannels(t *testing.T) {
	a, sess := newTestAdapter(t)
	sess.channels["G1"] = []*discordgo.Channel{
		{ID: "C1", Name: "general", Type: discordgo.ChannelTypeGuildText},
		{ID: "C2", Name: "news", Type: discordgo.ChannelTypeGuildNews},
		{ID: "V1", Name: "voice", Type: discordgo.ChannelTypeGuildVoice},
		{ID: "K1", Name: "category", Type: discordgo.ChannelTypeGuildCategory},
	}

	chs, err := a.GuildTextChannels(context.Background(), "G1")
	if err != nil {
		t.Fatal(err)
	}
	if len(chs) != 2 || chs[0].Name != "general" || chs[1].ID != "C2" {
		t.Errorf("channels = %+v", chs)
	}
	if _, err := a.GuildTextChannels(context.Background(), "missing"); err == nil {
		t.Error("expected error for unknown guild")
	}
}

func TestGuildName(t *testing.T) {
	a, sess := newTestAdapter(t)
	sess.guilds["G1"] = &discordgo.Guild{ID: "G1", Name: "POAP Guild"}
	name, err := a.GuildName(context.Background(), "G1")
	if err != nil || name != "POAP Guild" {
		t.Errorf("GuildName = %q, %v", name, err)
	}
}

func TestCanManageGuild(t *testing.T) {
	a, sess := newTestAdapter(t)
	sess.perms["mgr:C1"] = discordgo.PermissionManageGuild | discordgo.PermissionSendMessages
	sess.perms["admin:C1"] = discordgo.PermissionAdministrator
	sess.perms["member:C1"] = discordgo.PermissionSendMessages

	tests := []struct {
		user string
		want bool
	}{
		{"mgr", true},
		{"admin", true},
		{"member", false},
	}
	for _, tt := range tests {
		got, err := a.CanManageGuild(context.Background(), "G1", "C1", tt.user)
		if err != nil || got != tt.want {
			t.Errorf("CanManageGuild(%s) = %v, %v; want %v", tt.user, got, err, tt.want)
		}
	}
	if _, err := a.CanManageGuild(context.Background(), "G1", "C1", "stranger"); err == nil {
		t.Error("lookup failure should surface")
	}
}

func TestReact(t *testing.T) {
	a, sess := newTestAdapter(t)
	ctx := context.Background()
	a.React(ctx, "DM-1", "M1", "🏅")
	a.React(ctx, "DM-1", "M2", "<:poap:123>")
	a.React(ctx, "DM-1", "M3", "<a:party:456>")

	want := []string{"DM-1/M1/🏅", "DM-1/M2/poap:123", "DM-1/M3/party:456"}
	if strings.Join(sess.reactions, ",") != strings.Join(want, ",") {
		t.Errorf("reactions = %v, want %v", sess.reactions, want)
	}
}

// --- Close / retry tests ---

func TestClose(t *testing.T) {
	a, sess := newTestAdapter(t)
	ch, _ := a.Listen(context.Background())
	if err := a.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	if !sess.closeCalled || sess.removeCount != 1 {
		t.Errorf("closeCalled=%v removeCount=%d", sess.closeCalled, sess.removeCount)
	}
	if _, ok := <-ch; ok {
		t.Error("inbound channel should be closed")
	}
	if err := a.Close(); err != nil {
		t.Errorf("second close = %v", err)
	}
}

func TestRetryOnRateLimit_RetriesAndSucceeds(t *testing.T) {
	a, _ := newTestAdapter(t)
	calls := 0
	err := a.retryOnRateLimit(context.Background(), func() error {
		calls++
		if calls < 3 {
			return restError(http.StatusTooManyRequests)
		}
		return nil
	})
	if err != nil || calls != 3 {
		t.Errorf("err = %v, calls = %d", err, calls)
	}
}

func TestRetryOnRateLimit_NonRateLimitError(t *testing.T) {
	a, _ := newTestAdapter(t)
	calls := 0
	err := a.retryOnRateLimit(context.Background(), func() error {
		calls++
		return restError(http.StatusForbidden)
	})
	if err == nil || calls != 1 {
		t.Errorf("err = %v, calls = %d", err, calls)
	}
}

func TestRetryOnRateLimit_ExhaustsRetries(t *testing.T) {
	a, _ := newTestAdapter(t)
	calls := 0
	err := a.retryOnRateLimit(context.Background(), func() error {
		calls++
		return restError(http.StatusTooManyRequests)
	})
	if err == nil || calls != maxRetries+1 {
		t.Errorf("err = %v, calls = %d", err, calls)
	}
}

func TestRetryOnRateLimit_RespectsContext(t *testing.T) {
	a, _ := newTestAdapter(t)
	a.baseBackoff = time.Second
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := a.retryOnRateLimit(ctx, func() error {
		return restError(http.StatusTooManyRequests)
	})
	if err != context.Canceled {
		t.Errorf("expected context.Canceled, got %v", err)
	}
}
