package setup

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/zulandar/poapbot/internal/config"
)

// Settings tunes the conversation.
type Settings struct {
	DefaultOption    string        // literal that accepts a step's suggested value
	CancelWord       string        // literal that abandons the session
	SessionTTL       time.Duration // idle time before a session is reclaimed
	SweepInterval    time.Duration
	DateLayout       string
	TextMin          int
	TextMax          int
	MinLead          time.Duration // start must be at least this far in the future
	DefaultStartLead time.Duration
	DefaultDuration  time.Duration
}

// SettingsFromConfig converts the setup section of the config file.
func SettingsFromConfig(c config.SetupConfig) Settings {
	return Settings{
		DefaultOption:    c.DefaultOption,
		CancelWord:       c.CancelWord,
		SessionTTL:       time.Duration(c.SessionTTLSec) * time.Second,
		SweepInterval:    time.Duration(c.SweepIntervalSec) * time.Second,
		DateLayout:       c.DateLayout,
		TextMin:          c.TextMin,
		TextMax:          c.TextMax,
		MinLead:          time.Duration(c.MinLeadMin) * time.Minute,
		DefaultStartLead: time.Duration(c.DefaultStartLeadMin) * time.Minute,
		DefaultDuration:  time.Duration(c.DefaultDurationMin) * time.Minute,
	}
}

func (s Settings) withDefaults() Settings {
	if s.DefaultOption == "" {
		s.DefaultOption = "-"
	}
	if s.CancelWord == "" {
		s.CancelWord = "!cancel"
	}
	if s.SessionTTL <= 0 {
		s.SessionTTL = 30 * time.Minute
	}
	if s.SweepInterval <= 0 {
		s.SweepInterval = time.Minute
	}
	if s.DateLayout == "" {
		s.DateLayout = "2006-01-02 15:04"
	}
	if s.TextMin <= 0 {
		s.TextMin = 1
	}
	if s.TextMax <= 0 {
		s.TextMax = 1000
	}
	if s.DefaultStartLead <= 0 {
		s.DefaultStartLead = 10 * time.Minute
	}
	if s.DefaultDuration <= 0 {
		s.DefaultDuration = time.Hour
	}
	return s
}

// EngineOpts holds parameters for creating an Engine.
type EngineOpts struct {
	Channels  ChannelManager
	Messenger Messenger
	Events    EventStore
	Scheduler EventScheduler
	Fetcher   AttachmentFetcher // optional; attachments are refused without it
	Settings  Settings
	Logger    *slog.Logger
	Now       func() time.Time // optional; defaults to time.Now
	NewPass   func() string    // optional; suggested pass generator
}

// Engine owns every setup session of the process.
type Engine struct {
	channels  ChannelManager
	messenger Messenger
	events    EventStore
	fetcher   AttachmentFetcher
	coord     *Coordinator
	settings  Settings
	log       *slog.Logger
	now       func() time.Time
	newPass   func() string
	store     *Store

	mu       sync.Mutex
	starting map[string]struct{} // owners whose StartSession is in flight
	closed   bool
}

// NewEngine creates an Engine with an empty session store.
func NewEngine(opts EngineOpts) (*Engine, error) {
	if opts.Channels == nil {
		return nil, fmt.Errorf("setup: channels is required")
	}
	if opts.Messenger == nil {
		return nil, fmt.Errorf("setup: messenger is required")
	}
	if opts.Events == nil {
		return nil, fmt.Errorf("setup: events is required")
	}
	if opts.Scheduler == nil {
		return nil, fmt.Errorf("setup: scheduler is required")
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	now := opts.Now
	if now == nil {
		now = time.Now
	}
	newPass := opts.NewPass
	if newPass == nil {
		newPass = randomPass
	}
	logger = logger.With("component", "setup")
	settings := opts.Settings.withDefaults()

	return &Engine{
		channels:  opts.Channels,
		messenger: opts.Messenger,
		events:    opts.Events,
		fetcher:   opts.Fetcher,
		coord: &Coordinator{
			events:    opts.Events,
			scheduler: opts.Scheduler,
			messenger: opts.Messenger,
			layout:    settings.DateLayout,
			log:       logger,
		},
		settings: settings,
		log:      logger,
		now:      now,
		newPass:  newPass,
		store:    NewStore(),
		starting: make(map[string]struct{}),
	}, nil
}

// Store exposes the session store for inspection.
func (e *Engine) Store() *Store { return e.store }

// Settings returns the effective settings.
func (e *Engine) Settings() Settings { return e.settings }

// HandleMessage processes one side-channel message from ownerID. Messages
// for owners without a session are dropped. Calls for the same owner are
// serialized.
func (e *Engine) HandleMessage(ctx context.Context, ownerID string, msg Message) {
	s := e.store.Get(ownerID)
	if s == nil {
		e.log.Debug("setup: message without session", "owner", ownerID)
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if e.store.Get(ownerID) != s {
		// Ended while this message waited for the lock.
		return
	}
	s.touch(e.now(), e.settings.SessionTTL)

	text := strings.TrimSpace(msg.Text)
	if strings.EqualFold(text, e.settings.CancelWord) {
		e.end(ctx, s, ReasonCancelled)
		return
	}

	kind := s.Step()
	if kind >= numSteps {
		return
	}
	st := steps[kind]

	if text == e.settings.DefaultOption {
		def, ok := st.suggest(e, s)
		if !ok {
			e.send(ctx, s, "There is no default for this one.\n"+st.prompt(e, s))
			return
		}
		text = def
	} else if len(msg.Attachments) > 0 && kind == StepCodes {
		content, err := e.readAttachments(ctx, msg.Attachments)
		if err != nil {
			var verr *ValidationError
			if errors.As(err, &verr) {
				e.send(ctx, s, verr.Reason+"\n"+st.prompt(e, s))
				return
			}
			e.log.Warn("setup: fetch attachment", "owner", s.OwnerID, "error", err)
			e.send(ctx, s, "I couldn't read the attached file, please try again or paste the codes.\n"+st.prompt(e, s))
			return
		}
		text = strings.TrimSpace(text + "\n" + content)
	}

	apply, err := st.validate(ctx, e, s, text)
	if err != nil {
		var verr *ValidationError
		if errors.As(err, &verr) {
			e.send(ctx, s, verr.Reason+"\n"+st.prompt(e, s))
			return
		}
		e.log.Error("setup: validate step", "owner", s.OwnerID, "guild", s.GuildID, "step", kind.String(), "error", err)
		e.send(ctx, s, "Sorry, something went wrong on my side. Please answer again.\n"+st.prompt(e, s))
		return
	}
	s.pending = apply(s.pending)

	if kind == lastStep {
		s.step.Store(int32(numSteps))
		e.coord.Commit(ctx, s)
		e.end(ctx, s, ReasonCompleted)
		return
	}
	s.step.Add(1)
	e.send(ctx, s, steps[kind+1].prompt(e, s))
}

func (e *Engine) readAttachments(ctx context.Context, atts []Attachment) (string, error) {
	if e.fetcher == nil {
		return "", invalid("codes", "I can't read attachments here, please paste the codes as text")
	}
	var b strings.Builder
	for _, a := range atts {
		content, err := e.fetcher.FetchAttachment(ctx, a)
		if err != nil {
			return "", err
		}
		b.WriteString(content)
		b.WriteString("\n")
	}
	return b.String(), nil
}

func (e *Engine) send(ctx context.Context, s *Session, text string) {
	if err := e.messenger.Send(ctx, s.SideChannel, text); err != nil {
		e.log.Warn("setup: send", "owner", s.OwnerID, "channel", s.SideChannel.ID, "error", err)
	}
}

// suggestStart is now plus the default lead, rounded up to the next minute.
func (e *Engine) suggestStart() (string, bool) {
	lead := max(e.settings.DefaultStartLead, e.settings.MinLead)
	t := e.now().UTC().Add(lead).Truncate(time.Minute).Add(time.Minute)
	return t.Format(e.settings.DateLayout), true
}

func (e *Engine) suggestEnd(s *Session) (string, bool) {
	start, ok := s.pending.Start()
	if !ok {
		return "", false
	}
	return start.Add(e.settings.DefaultDuration).Format(e.settings.DateLayout), true
}

// randomPass derives a short lower-case word from a random UUID.
func randomPass() string {
	id := uuid.New()
	return "poap-" + strings.ReplaceAll(id.String(), "-", "")[:8]
}
