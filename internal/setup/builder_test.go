package setup

import (
	"errors"
	"strings"
	"testing"
	"time"

	"pgregory.net/rapid"
)

func completeBuilder() InputBuilder {
	return InputBuilder{}.
		WithCreatedBy("U1").
		WithGuild("G1").
		WithChannel("C1").
		WithStart(t0).
		WithEnd(t0.Add(time.Hour)).
		WithStartMessage("start").
		WithEndMessage("end").
		WithResponseMessage("thanks").
		WithReaction("🏅").
		WithPass("summer").
		WithCodes([]string{"a", "b"})
}

func TestBuild_Complete(t *testing.T) {
	in, err := completeBuilder().Build()
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	if in.GuildID != "G1" || in.ChannelID != "C1" || in.CreatedBy != "U1" {
		t.Errorf("ids = %q/%q/%q", in.GuildID, in.ChannelID, in.CreatedBy)
	}
	if !in.Start.Equal(t0) || !in.End.Equal(t0.Add(time.Hour)) {
		t.Errorf("window = %v..%v", in.Start, in.End)
	}
	if strings.Join(in.Codes, ",") != "a,b" {
		t.Errorf("Codes = %v, want [a b]", in.Codes)
	}
}

func TestBuild_MissingFields(t *testing.T) {
	_, err := InputBuilder{}.WithGuild("G1").Build()
	var verr *ValidationError
	if !errors.As(err, &verr) {
		t.Fatalf("err = %v, want *ValidationError", err)
	}
	for _, f := range []string{"creator", "channel", "start", "end", "codes"} {
		if !strings.Contains(verr.Reason, f) {
			t.Errorf("Reason = %q, want to mention %q", verr.Reason, f)
		}
	}
	if strings.Contains(verr.Reason, "guild") {
		t.Errorf("Reason = %q, guild was set", verr.Reason)
	}
}

func TestBuild_EndNotAfterStart(t *testing.T) {
	_, err := completeBuilder().WithEnd(t0).Build()
	var verr *ValidationError
	if !errors.As(err, &verr) || verr.Field != "end" {
		t.Fatalf("err = %v, want end validation error", err)
	}
}

func TestBuilder_SettersLeaveReceiverUnchanged(t *testing.T) {
	base := InputBuilder{}.WithPass("one")
	changed := base.WithPass("two")
	if base.pass != "one" {
		t.Errorf("base.pass = %q, want one", base.pass)
	}
	if changed.pass != "two" {
		t.Errorf("changed.pass = %q, want two", changed.pass)
	}
}

func TestBuilder_WithCodesDoesNotAlias(t *testing.T) {
	base := InputBuilder{}.WithCodes([]string{"a"})
	left := base.WithCodes([]string{"b"})
	right := base.WithCodes([]string{"c"})
	if strings.Join(left.codes, ",") != "a,b" {
		t.Errorf("left = %v", left.codes)
	}
	if strings.Join(right.codes, ",") != "a,c" {
		t.Errorf("right = %v", right.codes)
	}
	if len(base.codes) != 1 {
		t.Errorf("base = %v", base.codes)
	}
}

func TestBuild_SnapshotIsIndependent(t *testing.T) {
	b := completeBuilder()
	in, err := b.Build()
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	in.Codes[0] = "mutated"
	again, _ := b.Build()
	if again.Codes[0] != "a" {
		t.Errorf("builder codes changed through snapshot: %v", again.Codes)
	}
}

func TestBuild_Property(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		b := InputBuilder{}
		set := map[string]bool{}
		for _, field := range []string{"creator", "guild", "channel", "start", "end", "codes"} {
			if !rapid.Bool().Draw(t, field) {
				continue
			}
			set[field] = true
			switch field {
			case "creator":
				b = b.WithCreatedBy("U1")
			case "guild":
				b = b.WithGuild("G1")
			case "channel":
				b = b.WithChannel("C1")
			case "start":
				b = b.WithStart(t0)
			case "end":
				b = b.WithEnd(t0.Add(time.Duration(rapid.IntRange(1, 1000).Draw(t, "minutes")) * time.Minute))
			case "codes":
				b = b.WithCodes(rapid.SliceOfN(rapid.StringMatching(`[a-z0-9]{1,8}`), 1, 10).Draw(t, "codes"))
			}
		}

		before := b
		in, err := b.Build()
		complete := len(set) == 6
		if complete && err != nil {
			t.Fatalf("complete builder failed: %v", err)
		}
		if !complete {
			var verr *ValidationError
			if !errors.As(err, &verr) {
				t.Fatalf("incomplete builder: err = %v, want *ValidationError", err)
			}
			return
		}
		if len(in.Codes) != len(before.codes) {
			t.Fatalf("codes = %d, want %d", len(in.Codes), len(before.codes))
		}
		if !in.End.After(in.Start) {
			t.Fatalf("end %v not after start %v", in.End, in.Start)
		}
	})
}
