package setup

import (
	"context"
	"fmt"
	"regexp"
	"strings"
	"time"
	"unicode"
	"unicode/utf8"
)

// StepKind identifies one question of the setup conversation. Steps run in
// declaration order; StepCodes is terminal.
type StepKind int

const (
	StepChannel StepKind = iota
	StepStart
	StepEnd
	StepStartMessage
	StepEndMessage
	StepResponseMessage
	StepReaction
	StepPass
	StepCodes

	numSteps
)

// lastStep is the terminal step; accepting it commits the session.
const lastStep = numSteps - 1

func (k StepKind) String() string {
	switch k {
	case StepChannel:
		return "channel"
	case StepStart:
		return "start"
	case StepEnd:
		return "end"
	case StepStartMessage:
		return "start_message"
	case StepEndMessage:
		return "end_message"
	case StepResponseMessage:
		return "response_message"
	case StepReaction:
		return "reaction"
	case StepPass:
		return "pass"
	case StepCodes:
		return "codes"
	case numSteps:
		return "done"
	default:
		return fmt.Sprintf("step(%d)", int(k))
	}
}

// applyFunc folds an accepted answer into the builder.
type applyFunc func(InputBuilder) InputBuilder

// step wires a prompt, an optional suggested value and a validator.
// suggest returns the literal that the default option stands for.
type step struct {
	prompt   func(e *Engine, s *Session) string
	suggest  func(e *Engine, s *Session) (string, bool)
	validate func(ctx context.Context, e *Engine, s *Session, text string) (applyFunc, error)
}

// steps maps every StepKind to its handling. TestStepsTotal fails if an
// entry is left out.
var steps = [numSteps]step{
	StepChannel: {
		prompt: func(e *Engine, s *Session) string {
			if s.defaultChannel.ID == "" {
				return "First: which channel should I speak in public? *Hint: only for start and end event*"
			}
			return fmt.Sprintf("First: which channel should I speak in public? (#%s) *Hint: only for start and end event*", s.defaultChannel.Name)
		},
		suggest: func(e *Engine, s *Session) (string, bool) { return s.defaultChannel.ID, s.defaultChannel.ID != "" },
		validate: func(ctx context.Context, e *Engine, s *Session, text string) (applyFunc, error) {
			ch, err := ValidateChannel(ctx, e.channels, s.GuildID, text)
			if err != nil {
				return nil, err
			}
			return func(b InputBuilder) InputBuilder { return b.WithChannel(ch.ID) }, nil
		},
	},
	StepStart: {
		prompt: func(e *Engine, s *Session) string {
			def, _ := e.suggestStart()
			return fmt.Sprintf("Date and time to START 🛫 ? (%s) *Hint: Time in UTC this format 👉 %s*", def, layoutHint(e.settings.DateLayout))
		},
		suggest: func(e *Engine, s *Session) (string, bool) { return e.suggestStart() },
		validate: func(ctx context.Context, e *Engine, s *Session, text string) (applyFunc, error) {
			t, err := ValidateStart(text, e.settings.DateLayout, e.now(), e.settings.MinLead)
			if err != nil {
				return nil, err
			}
			return func(b InputBuilder) InputBuilder { return b.WithStart(t) }, nil
		},
	},
	StepEnd: {
		prompt: func(e *Engine, s *Session) string {
			def, _ := e.suggestEnd(s)
			return fmt.Sprintf("Date and time to END 🛬 ? (%s) *Hint: Time in UTC this format 👉 %s*", def, layoutHint(e.settings.DateLayout))
		},
		suggest: func(e *Engine, s *Session) (string, bool) { return e.suggestEnd(s) },
		validate: func(ctx context.Context, e *Engine, s *Session, text string) (applyFunc, error) {
			start, _ := s.pending.Start()
			t, err := ValidateEnd(text, e.settings.DateLayout, start)
			if err != nil {
				return nil, err
			}
			return func(b InputBuilder) InputBuilder { return b.WithEnd(t) }, nil
		},
	},
	StepStartMessage: textStep("Message to publish at the START of the event? (%s)", defaultStartMessage,
		func(b InputBuilder, v string) InputBuilder { return b.WithStartMessage(v) }),
	StepEndMessage: textStep("Message to publish when the event ENDS? (%s)", defaultEndMessage,
		func(b InputBuilder, v string) InputBuilder { return b.WithEndMessage(v) }),
	StepResponseMessage: textStep("Response to send privately to members who claim a code? (%s)", defaultResponseMessage,
		func(b InputBuilder, v string) InputBuilder { return b.WithResponseMessage(v) }),
	StepReaction: {
		prompt: func(e *Engine, s *Session) string {
			return fmt.Sprintf("Reaction to add to the messages of members who claim a code? (%s)", defaultReaction)
		},
		suggest: func(e *Engine, s *Session) (string, bool) { return defaultReaction, true },
		validate: func(ctx context.Context, e *Engine, s *Session, text string) (applyFunc, error) {
			r, err := ValidateReaction(text)
			if err != nil {
				return nil, err
			}
			return func(b InputBuilder) InputBuilder { return b.WithReaction(r) }, nil
		},
	},
	StepPass: {
		prompt: func(e *Engine, s *Session) string {
			return fmt.Sprintf("Secret pass members will send me to claim their code? (%s)", s.suggestedPass)
		},
		suggest: func(e *Engine, s *Session) (string, bool) { return s.suggestedPass, s.suggestedPass != "" },
		validate: func(ctx context.Context, e *Engine, s *Session, text string) (applyFunc, error) {
			p, err := ValidatePass(ctx, e.events, text, e.now())
			if err != nil {
				return nil, err
			}
			return func(b InputBuilder) InputBuilder { return b.WithPass(p) }, nil
		},
	},
	StepCodes: {
		prompt: func(e *Engine, s *Session) string {
			return "Last one: send me the claim codes separated by spaces, commas or new lines, or attach a .txt/.csv file with the codes."
		},
		suggest: func(e *Engine, s *Session) (string, bool) { return "", false },
		validate: func(ctx context.Context, e *Engine, s *Session, text string) (applyFunc, error) {
			codes, err := ValidateCodes(text)
			if err != nil {
				return nil, err
			}
			return func(b InputBuilder) InputBuilder { return b.WithCodes(codes) }, nil
		},
	},
}

const (
	defaultStartMessage    = "The event has started! DM me the secret pass to get your POAP code."
	defaultEndMessage      = "The event is over, thank you all for joining!"
	defaultResponseMessage = "Thank you for joining! Here is your POAP code:"
	defaultReaction        = "🏅"
)

func textStep(promptFmt, def string, set func(InputBuilder, string) InputBuilder) step {
	return step{
		prompt:  func(e *Engine, s *Session) string { return fmt.Sprintf(promptFmt, def) },
		suggest: func(e *Engine, s *Session) (string, bool) { return def, true },
		validate: func(ctx context.Context, e *Engine, s *Session, text string) (applyFunc, error) {
			v, err := ValidateText(text, e.settings.TextMin, e.settings.TextMax)
			if err != nil {
				return nil, err
			}
			return func(b InputBuilder) InputBuilder { return set(b, v) }, nil
		},
	}
}

// channelMentionRe matches a Discord channel mention such as <#1234>.
var channelMentionRe = regexp.MustCompile(`^<#([^>]+)>$`)

// ValidateChannel resolves raw against the guild's text channels. Names
// match case-insensitively and exactly; a leading '#' and channel mentions
// are accepted. An unknown name is rejected with the list of valid names.
func ValidateChannel(ctx context.Context, dir Directory, guildID, raw string) (ChannelHandle, error) {
	name := strings.TrimSpace(raw)
	if m := channelMentionRe.FindStringSubmatch(name); m != nil {
		name = m[1]
	}
	name = strings.TrimPrefix(name, "#")
	if name == "" {
		return ChannelHandle{}, invalid("channel", "please tell me a channel name")
	}

	ch, ok, err := dir.ResolveChannelByName(ctx, guildID, name)
	if err != nil {
		return ChannelHandle{}, fmt.Errorf("setup: resolve channel %q: %w", name, err)
	}
	if ok {
		return ch, nil
	}

	names, err := dir.ListChannelNames(ctx, guildID)
	if err != nil {
		return ChannelHandle{}, fmt.Errorf("setup: list channels: %w", err)
	}
	return ChannelHandle{}, invalid("channel", "I can't find a channel named %s. Try again -> %s",
		raw, strings.Join(names, ", "))
}

// ValidateStart parses a UTC start time that must lie more than minLead
// after now.
func ValidateStart(raw, layout string, now time.Time, minLead time.Duration) (time.Time, error) {
	t, err := parseTime(raw, layout, "start")
	if err != nil {
		return time.Time{}, err
	}
	earliest := now.Add(minLead)
	if !t.After(earliest) {
		if minLead > 0 {
			return time.Time{}, invalid("start", "the start must be at least %d minutes from now (after %s UTC)",
				int(minLead.Minutes()), earliest.UTC().Format(layout))
		}
		return time.Time{}, invalid("start", "the start must be in the future (after %s UTC)", now.UTC().Format(layout))
	}
	return t, nil
}

// ValidateEnd parses a UTC end time strictly after start.
func ValidateEnd(raw, layout string, start time.Time) (time.Time, error) {
	t, err := parseTime(raw, layout, "end")
	if err != nil {
		return time.Time{}, err
	}
	if !start.IsZero() && !t.After(start) {
		return time.Time{}, invalid("end", "the end must be after the start (%s UTC)", start.UTC().Format(layout))
	}
	return t, nil
}

func parseTime(raw, layout, field string) (time.Time, error) {
	t, err := time.ParseInLocation(layout, strings.TrimSpace(raw), time.UTC)
	if err != nil {
		return time.Time{}, invalid(field, "I couldn't read %q as a date. Use UTC in this format 👉 %s", raw, layoutHint(layout))
	}
	return t, nil
}

// ValidateText accepts trimmed text whose length in runes is within
// [minLen, maxLen].
func ValidateText(raw string, minLen, maxLen int) (string, error) {
	v := strings.TrimSpace(raw)
	n := utf8.RuneCountInString(v)
	if v == "" || n < minLen {
		return "", invalid("text", "please write at least %d characters", max(minLen, 1))
	}
	if n > maxLen {
		return "", invalid("text", "that is %d characters long, the limit is %d", n, maxLen)
	}
	return v, nil
}

// ValidateReaction accepts a single emoji token: a unicode emoji or a
// custom emoji such as <:poap:123>.
func ValidateReaction(raw string) (string, error) {
	v := strings.TrimSpace(raw)
	if v == "" {
		return "", invalid("reaction", "please send a single emoji")
	}
	if strings.IndexFunc(v, unicode.IsSpace) >= 0 {
		return "", invalid("reaction", "please send a single emoji, without spaces")
	}
	if len(v) > 64 {
		return "", invalid("reaction", "that reaction is too long")
	}
	return v, nil
}

// passRe is the accepted shape of a pass after lower-casing.
var passRe = regexp.MustCompile(`^[a-z0-9_-]{3,32}$`)

// PassChecker reports whether a pass is free of live or upcoming events.
type PassChecker interface {
	PassAvailable(ctx context.Context, pass string, now time.Time) (bool, error)
}

// ValidatePass lower-cases raw and checks its shape and availability at now.
func ValidatePass(ctx context.Context, pc PassChecker, raw string, now time.Time) (string, error) {
	p := strings.ToLower(strings.TrimSpace(raw))
	if !passRe.MatchString(p) {
		return "", invalid("pass", "a pass is 3 to 32 letters, digits, '-' or '_' (no spaces)")
	}
	ok, err := pc.PassAvailable(ctx, p, now)
	if err != nil {
		return "", fmt.Errorf("setup: check pass: %w", err)
	}
	if !ok {
		return "", invalid("pass", "the pass %q is already used by another live or upcoming event, please choose another one", p)
	}
	return p, nil
}

// codeRe is the accepted shape of a single claim code.
var codeRe = regexp.MustCompile(`^[A-Za-z0-9_-]{1,64}$`)

// ValidateCodes splits raw on whitespace, commas and semicolons. Every
// token must look like a claim code. Repeated codes are kept: storage
// collapses them and the commit reports the difference.
func ValidateCodes(raw string) ([]string, error) {
	tokens := strings.FieldsFunc(raw, func(r rune) bool {
		return unicode.IsSpace(r) || r == ',' || r == ';'
	})
	if len(tokens) == 0 {
		return nil, invalid("codes", "I need at least one code")
	}
	for _, tok := range tokens {
		if !codeRe.MatchString(tok) {
			return nil, invalid("codes", "%q doesn't look like a claim code (letters, digits, '-' or '_')", truncate(tok, 40))
		}
	}
	return tokens, nil
}

// layoutHint renders a Go time layout the way users write dates.
func layoutHint(layout string) string {
	return strings.NewReplacer("2006", "yyyy", "01", "mm", "02", "dd", "15", "hh", "04", "mm").Replace(layout)
}

// truncate cuts s to n runes so echoed input stays valid UTF-8.
func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n]) + "..."
}
