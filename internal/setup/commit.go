package setup

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/zulandar/poapbot/internal/event"
)

// OutcomeKind classifies a commit.
type OutcomeKind int

const (
	OutcomeSuccess OutcomeKind = iota
	OutcomePartialSuccess
	OutcomeFailure
)

func (k OutcomeKind) String() string {
	switch k {
	case OutcomeSuccess:
		return "success"
	case OutcomePartialSuccess:
		return "partial_success"
	case OutcomeFailure:
		return "failure"
	default:
		return "unknown"
	}
}

// Outcome is the result of committing a finished session.
type Outcome struct {
	Kind      OutcomeKind
	Reason    string
	Requested int
	Stored    int
	EventID   uint
}

// Coordinator turns a finished session into a stored, scheduled event and
// tells the owner how it went.
type Coordinator struct {
	events    EventStore
	scheduler EventScheduler
	messenger Messenger
	layout    string
	log       *slog.Logger
}

// Commit builds, saves and schedules the session's event. Exactly one
// message describing the outcome is sent to the side channel. A scheduling
// failure is logged and does not change the outcome.
func (c *Coordinator) Commit(ctx context.Context, s *Session) Outcome {
	out := c.commit(ctx, s)
	if err := c.messenger.Send(ctx, s.SideChannel, out.message); err != nil {
		c.log.Warn("setup: send outcome", "owner", s.OwnerID, "outcome", out.Kind.String(), "error", err)
	}
	return out.Outcome
}

type outcomeMessage struct {
	Outcome
	message string
}

const internalApology = "Sorry, something went wrong on my side and the event was not saved. Please run the setup command again."

func (c *Coordinator) commit(ctx context.Context, s *Session) outcomeMessage {
	in, err := s.pending.Build()
	if err != nil {
		c.log.Error("setup: build event from completed session",
			"owner", s.OwnerID, "guild", s.GuildID, "step", s.Step().String(), "error", err)
		return outcomeMessage{
			Outcome: Outcome{Kind: OutcomeFailure, Reason: "internal"},
			message: internalApology,
		}
	}

	saved, err := c.events.SaveEvent(ctx, in, s.OwnerName)
	if err != nil {
		fail := Outcome{Kind: OutcomeFailure, Reason: "try again later", Requested: len(in.Codes)}
		if errors.Is(err, event.ErrPassTaken) {
			fail.Reason = "pass taken"
			return outcomeMessage{
				Outcome: fail,
				message: fmt.Sprintf("The pass `%s` was taken by another event while we were talking, so the event was not saved. Please run the setup command again and choose another pass.", in.Pass),
			}
		}
		c.log.Error("setup: save event", "owner", s.OwnerID, "guild", s.GuildID, "error", err)
		return outcomeMessage{
			Outcome: fail,
			message: "I couldn't save the event right now. Please try again later by running the setup command again.",
		}
	}

	if err := c.scheduler.ScheduleEvent(ctx, saved); err != nil {
		c.log.Error("setup: schedule event", "event", saved.Event.ID, "guild", s.GuildID, "error", err)
	}

	out := Outcome{
		Kind:      OutcomeSuccess,
		Requested: saved.CodesRequested,
		Stored:    saved.CodesStored,
		EventID:   saved.Event.ID,
	}
	ev := saved.Event
	summary := fmt.Sprintf("I'll announce it in <#%s> on %s UTC. Members can claim a code by sending me `%s` until %s UTC.",
		ev.ChannelID, ev.StartDate.UTC().Format(c.layout), ev.Pass, ev.EndDate.UTC().Format(c.layout))

	if out.Stored < out.Requested {
		out.Kind = OutcomePartialSuccess
		out.Reason = fmt.Sprintf("%d of %d codes stored", out.Stored, out.Requested)
		return outcomeMessage{
			Outcome: out,
			message: fmt.Sprintf("Your event is saved (#%d), but only %d of the %d codes were stored; the other %d were duplicates or already used by another event. %s",
				ev.ID, out.Stored, out.Requested, out.Requested-out.Stored, summary),
		}
	}
	return outcomeMessage{
		Outcome: out,
		message: fmt.Sprintf("All set! Your event is saved (#%d) with %d codes. %s", ev.ID, out.Stored, summary),
	}
}
