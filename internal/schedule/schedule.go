// Package schedule posts the start and end announcements of stored events
// at their configured times.
package schedule

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/zulandar/poapbot/internal/event"
	"github.com/zulandar/poapbot/internal/models"
)

// Announcer posts text to a public channel.
type Announcer interface {
	Announce(ctx context.Context, channelID, text string) error
}

// PendingLister returns the events that have not ended yet.
type PendingLister interface {
	ListPending(ctx context.Context, now time.Time) ([]models.Event, error)
}

// Phase is the moment of an event being announced.
type Phase string

const (
	PhaseStart Phase = "start"
	PhaseEnd   Phase = "end"
)

// onceAt fires a single time at a fixed instant. cron never runs an entry
// whose next time is zero, so the entry goes dormant after firing.
type onceAt struct{ at time.Time }

func (o onceAt) Next(t time.Time) time.Time {
	if t.Before(o.at) {
		return o.at
	}
	return time.Time{}
}

type key struct {
	eventID uint
	phase   Phase
}

// Job is one pending announcement.
type Job struct {
	EventID   uint      `json:"event_id"`
	Phase     Phase     `json:"phase"`
	ChannelID string    `json:"channel_id"`
	At        time.Time `json:"at"`
}

// Scheduler implements the event scheduling used by the setup commit and
// restores pending announcements at boot.
type Scheduler struct {
	cron      *cron.Cron
	announcer Announcer
	events    PendingLister
	log       *slog.Logger
	now       func() time.Time

	mu      sync.Mutex
	ctx     context.Context
	entries map[key]cron.EntryID
	jobs    map[key]Job
}

// Opts holds parameters for creating a Scheduler.
type Opts struct {
	Announcer Announcer
	Events    PendingLister // optional; enables Restore
	Logger    *slog.Logger
	Now       func() time.Time
}

// New creates a Scheduler. It does nothing until Start is called.
func New(opts Opts) (*Scheduler, error) {
	if opts.Announcer == nil {
		return nil, fmt.Errorf("schedule: announcer is required")
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	now := opts.Now
	if now == nil {
		now = time.Now
	}
	return &Scheduler{
		cron:      cron.New(cron.WithLocation(time.UTC)),
		announcer: opts.Announcer,
		events:    opts.Events,
		log:       logger.With("component", "schedule"),
		now:       now,
		ctx:       context.Background(),
		entries:   make(map[key]cron.EntryID),
		jobs:      make(map[key]Job),
	}, nil
}

// Start runs the cron loop. Announcements use ctx.
func (s *Scheduler) Start(ctx context.Context) {
	s.mu.Lock()
	s.ctx = ctx
	s.mu.Unlock()
	s.cron.Start()
}

// Stop halts the cron loop and waits for running announcements, up to
// the deadline of ctx.
func (s *Scheduler) Stop(ctx context.Context) {
	done := s.cron.Stop()
	select {
	case <-done.Done():
	case <-ctx.Done():
	}
}

// Restore schedules every event that has not ended yet. It returns the
// number of announcements scheduled.
func (s *Scheduler) Restore(ctx context.Context) (int, error) {
	if s.events == nil {
		return 0, fmt.Errorf("schedule: restore: no event lister configured")
	}
	evs, err := s.events.ListPending(ctx, s.now())
	if err != nil {
		return 0, fmt.Errorf("schedule: restore: %w", err)
	}
	n := 0
	for _, ev := range evs {
		n += s.schedule(ev)
	}
	s.log.Info("schedule: restored", "events", len(evs), "jobs", n)
	return n, nil
}

// ScheduleEvent arranges the start and end announcements of a stored event.
// Phases already in the past are skipped. Scheduling the same event again
// replaces its pending announcements.
func (s *Scheduler) ScheduleEvent(_ context.Context, saved event.Saved) error {
	ev := saved.Event
	if ev.ID == 0 {
		return fmt.Errorf("schedule: event has no id")
	}
	if ev.ChannelID == "" {
		return fmt.Errorf("schedule: event %d has no channel", ev.ID)
	}
	s.schedule(ev)
	return nil
}

func (s *Scheduler) schedule(ev models.Event) int {
	now := s.now()
	n := 0
	for _, p := range []struct {
		phase Phase
		at    time.Time
		text  string
	}{
		{PhaseStart, ev.StartDate, ev.StartMessage},
		{PhaseEnd, ev.EndDate, ev.EndMessage},
	} {
		k := key{ev.ID, p.phase}
		s.unschedule(k)
		if !p.at.After(now) || p.text == "" {
			continue
		}
		s.add(k, Job{EventID: ev.ID, Phase: p.phase, ChannelID: ev.ChannelID, At: p.at.UTC()}, p.text)
		n++
	}
	return n
}

func (s *Scheduler) add(k key, job Job, text string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	id := s.cron.Schedule(onceAt{at: job.At}, cron.FuncJob(func() {
		s.fire(k, job, text)
	}))
	s.entries[k] = id
	s.jobs[k] = job
	s.log.Debug("schedule: added", "event", job.EventID, "phase", job.Phase, "at", job.At)
}

func (s *Scheduler) fire(k key, job Job, text string) {
	s.mu.Lock()
	ctx := s.ctx
	if id, ok := s.entries[k]; ok {
		s.cron.Remove(id)
		delete(s.entries, k)
		delete(s.jobs, k)
	}
	s.mu.Unlock()

	if err := s.announcer.Announce(ctx, job.ChannelID, text); err != nil {
		s.log.Error("schedule: announce", "event", job.EventID, "phase", job.Phase, "channel", job.ChannelID, "error", err)
		return
	}
	s.log.Info("schedule: announced", "event", job.EventID, "phase", job.Phase, "channel", job.ChannelID)
}

// Unschedule drops the pending announcements of an event.
func (s *Scheduler) Unschedule(eventID uint) {
	s.unschedule(key{eventID, PhaseStart})
	s.unschedule(key{eventID, PhaseEnd})
}

func (s *Scheduler) unschedule(k key) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if id, ok := s.entries[k]; ok {
		s.cron.Remove(id)
		delete(s.entries, k)
		delete(s.jobs, k)
	}
}

// Pending returns the scheduled announcements in firing order.
func (s *Scheduler) Pending() []Job {
	s.mu.Lock()
	out := make([]Job, 0, len(s.jobs))
	for _, j := range s.jobs {
		out = append(out, j)
	}
	s.mu.Unlock()
	sort.Slice(out, func(i, j int) bool {
		if !out[i].At.Equal(out[j].At) {
			return out[i].At.Before(out[j].At)
		}
		return out[i].EventID < out[j].EventID
	})
	return out
}
