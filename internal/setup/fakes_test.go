package setup

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/zulandar/poapbot/internal/event"
	"github.com/zulandar/poapbot/internal/models"
)

var t0 = time.Date(2030, 5, 1, 12, 0, 0, 0, time.UTC)

var generalChannel = ChannelHandle{ID: "C-general", Name: "general"}

type fakeChannels struct {
	mu        sync.Mutex
	guilds    map[string][]ChannelHandle
	created   []ChannelHandle
	closed    []ChannelHandle
	handlers  map[string]MessageHandler
	createErr error
	closeErr  error
	listErr   error
	seq       int
}

func newFakeChannels() *fakeChannels {
	return &fakeChannels{
		guilds: map[string][]ChannelHandle{
			"G1": {generalChannel, {ID: "C-ann", Name: "announcements"}},
		},
		handlers: make(map[string]MessageHandler),
	}
}

func (f *fakeChannels) ResolveChannelByName(_ context.Context, guildID, name string) (ChannelHandle, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, ch := range f.guilds[guildID] {
		if ch.ID == name || strings.EqualFold(ch.Name, name) {
			return ch, true, nil
		}
	}
	return ChannelHandle{}, false, nil
}

func (f *fakeChannels) ListChannelNames(_ context.Context, guildID string) ([]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.listErr != nil {
		return nil, f.listErr
	}
	var names []string
	for _, ch := range f.guilds[guildID] {
		names = append(names, ch.Name)
	}
	return names, nil
}

func (f *fakeChannels) CreatePrivateChannel(_ context.Context, ownerID string, h MessageHandler) (ChannelHandle, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.createErr != nil {
		return ChannelHandle{}, f.createErr
	}
	f.seq++
	ch := ChannelHandle{ID: fmt.Sprintf("dm-%s-%d", ownerID, f.seq), Name: "dm"}
	f.created = append(f.created, ch)
	f.handlers[ch.ID] = h
	return ch, nil
}

func (f *fakeChannels) CloseChannel(_ context.Context, ch ChannelHandle, _ string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = append(f.closed, ch)
	delete(f.handlers, ch.ID)
	return f.closeErr
}

// deliver hands text to the handler registered for chID, as the transport
// would. It reports false when no handler is registered.
func (f *fakeChannels) deliver(ctx context.Context, chID string, msg Message) bool {
	f.mu.Lock()
	h := f.handlers[chID]
	f.mu.Unlock()
	if h == nil {
		return false
	}
	h(ctx, msg)
	return true
}

func (f *fakeChannels) createdCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.created)
}

func (f *fakeChannels) closedCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.closed)
}

type fakeMessenger struct {
	mu   sync.Mutex
	sent map[string][]string
	fail func(ch ChannelHandle, text string) error
}

func newFakeMessenger() *fakeMessenger {
	return &fakeMessenger{sent: make(map[string][]string)}
}

func (f *fakeMessenger) Send(_ context.Context, ch ChannelHandle, text string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.fail != nil {
		if err := f.fail(ch, text); err != nil {
			return err
		}
	}
	f.sent[ch.ID] = append(f.sent[ch.ID], text)
	return nil
}

func (f *fakeMessenger) messages(chID string) []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.sent[chID]...)
}

func (f *fakeMessenger) last(chID string) string {
	msgs := f.messages(chID)
	if len(msgs) == 0 {
		return ""
	}
	return msgs[len(msgs)-1]
}

type fakeEvents struct {
	mu       sync.Mutex
	taken    map[string]bool
	saved    []event.Input
	saveErr  error
	passErr  error
	dropped  int // codes to report as not stored
	creators []string

	passCheckedAt time.Time
}

func newFakeEvents() *fakeEvents {
	return &fakeEvents{taken: map[string]bool{"taken": true}}
}

func (f *fakeEvents) SaveEvent(_ context.Context, in event.Input, createdByName string) (event.Saved, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.saveErr != nil {
		return event.Saved{}, f.saveErr
	}
	f.saved = append(f.saved, in)
	f.creators = append(f.creators, createdByName)
	return event.Saved{
		Event: models.Event{
			ID:        uint(len(f.saved)),
			GuildID:   in.GuildID,
			ChannelID: in.ChannelID,
			StartDate: in.Start,
			EndDate:   in.End,
			Pass:      in.Pass,
		},
		CodesRequested: len(in.Codes),
		CodesStored:    len(in.Codes) - f.dropped,
	}, nil
}

func (f *fakeEvents) PassAvailable(_ context.Context, pass string, now time.Time) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.passCheckedAt = now
	if f.passErr != nil {
		return false, f.passErr
	}
	return !f.taken[pass], nil
}

func (f *fakeEvents) savedCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.saved)
}

type fakeScheduler struct {
	mu        sync.Mutex
	scheduled []event.Saved
	err       error
}

func (f *fakeScheduler) ScheduleEvent(_ context.Context, saved event.Saved) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.scheduled = append(f.scheduled, saved)
	return f.err
}

func (f *fakeScheduler) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.scheduled)
}

type fakeFetcher struct {
	content string
	err     error
}

func (f *fakeFetcher) FetchAttachment(context.Context, Attachment) (string, error) {
	return f.content, f.err
}

type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *fakeClock) now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(d)
}

// testDeps bundles the collaborators of a test Engine.
type testDeps struct {
	channels  *fakeChannels
	messenger *fakeMessenger
	events    *fakeEvents
	scheduler *fakeScheduler
	fetcher   *fakeFetcher
	clock     *fakeClock
}

type tHelper interface {
	Helper()
	Fatalf(format string, args ...any)
}

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestEngine(t tHelper, mods ...func(*EngineOpts)) (*Engine, *testDeps) {
	t.Helper()
	d := &testDeps{
		channels:  newFakeChannels(),
		messenger: newFakeMessenger(),
		events:    newFakeEvents(),
		scheduler: &fakeScheduler{},
		fetcher:   &fakeFetcher{},
		clock:     &fakeClock{t: t0},
	}
	opts := EngineOpts{
		Channels:  d.channels,
		Messenger: d.messenger,
		Events:    d.events,
		Scheduler: d.scheduler,
		Fetcher:   d.fetcher,
		Settings: Settings{
			SessionTTL: 30 * time.Minute,
			MinLead:    0,
		},
		Logger:  quietLogger(),
		Now:     d.clock.now,
		NewPass: func() string { return "summer-party" },
	}
	for _, m := range mods {
		m(&opts)
	}
	e, err := NewEngine(opts)
	if err != nil {
		t.Fatalf("NewEngine: %v", err)
	}
	return e, d
}

func startRequest(owner string) StartRequest {
	return StartRequest{
		OwnerID:   owner,
		OwnerName: "alice",
		GuildID:   "G1",
		GuildName: "POAP Guild",
		Origin:    generalChannel,
	}
}

func mustStart(t tHelper, e *Engine, owner string) *Session {
	t.Helper()
	s, err := e.StartSession(context.Background(), startRequest(owner))
	if err != nil {
		t.Fatalf("StartSession(%s): %v", owner, err)
	}
	return s
}

func say(d *testDeps, s *Session, text string) {
	d.channels.deliver(context.Background(), s.SideChannel.ID, Message{Text: text})
}

var errBoom = errors.New("boom")
