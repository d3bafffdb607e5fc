package setup

import (
	"slices"
	"strings"
	"time"

	"github.com/zulandar/poapbot/internal/event"
)

// InputBuilder accumulates event fields one step at a time. It is a value:
// every With method returns an updated copy and leaves the receiver as is.
type InputBuilder struct {
	createdBy       string
	guildID         string
	channelID       string
	start           time.Time
	end             time.Time
	startMessage    string
	endMessage      string
	responseMessage string
	reaction        string
	pass            string
	codes           []string
	createdAt       time.Time
}

func (b InputBuilder) WithCreatedBy(userID string) InputBuilder {
	b.createdBy = userID
	return b
}

func (b InputBuilder) WithGuild(guildID string) InputBuilder {
	b.guildID = guildID
	return b
}

func (b InputBuilder) WithChannel(channelID string) InputBuilder {
	b.channelID = channelID
	return b
}

func (b InputBuilder) WithStart(t time.Time) InputBuilder {
	b.start = t.UTC()
	return b
}

func (b InputBuilder) WithEnd(t time.Time) InputBuilder {
	b.end = t.UTC()
	return b
}

func (b InputBuilder) WithStartMessage(s string) InputBuilder {
	b.startMessage = s
	return b
}

func (b InputBuilder) WithEndMessage(s string) InputBuilder {
	b.endMessage = s
	return b
}

func (b InputBuilder) WithResponseMessage(s string) InputBuilder {
	b.responseMessage = s
	return b
}

func (b InputBuilder) WithReaction(s string) InputBuilder {
	b.reaction = s
	return b
}

func (b InputBuilder) WithPass(s string) InputBuilder {
	b.pass = s
	return b
}

func (b InputBuilder) WithCreatedAt(t time.Time) InputBuilder {
	b.createdAt = t.UTC()
	return b
}

// WithCodes appends codes without sharing the receiver's backing array.
func (b InputBuilder) WithCodes(codes []string) InputBuilder {
	b.codes = append(slices.Clone(b.codes), codes...)
	return b
}

// Start returns the start time and whether it has been set.
func (b InputBuilder) Start() (time.Time, bool) { return b.start, !b.start.IsZero() }

// Build returns the finished event. It fails with a *ValidationError naming
// every missing required field.
func (b InputBuilder) Build() (event.Input, error) {
	var missing []string
	if b.createdBy == "" {
		missing = append(missing, "creator")
	}
	if b.guildID == "" {
		missing = append(missing, "guild")
	}
	if b.channelID == "" {
		missing = append(missing, "channel")
	}
	if b.start.IsZero() {
		missing = append(missing, "start")
	}
	if b.end.IsZero() {
		missing = append(missing, "end")
	}
	if len(b.codes) == 0 {
		missing = append(missing, "codes")
	}
	if len(missing) > 0 {
		return event.Input{}, &ValidationError{Reason: "missing required fields: " + strings.Join(missing, ", ")}
	}
	if !b.end.After(b.start) {
		return event.Input{}, invalid("end", "end must be after start")
	}

	return event.Input{
		GuildID:         b.guildID,
		ChannelID:       b.channelID,
		CreatedBy:       b.createdBy,
		Start:           b.start,
		End:             b.end,
		StartMessage:    b.startMessage,
		EndMessage:      b.endMessage,
		ResponseMessage: b.responseMessage,
		Reaction:        b.reaction,
		Pass:            b.pass,
		Codes:           slices.Clone(b.codes),
		CreatedAt:       b.createdAt,
	}, nil
}
