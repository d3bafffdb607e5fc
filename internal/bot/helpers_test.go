package bot

import (
	"context"
	"io"
	"log/slog"
	"path/filepath"
	"testing"
	"time"

	"github.com/zulandar/poapbot/internal/db"
	"github.com/zulandar/poapbot/internal/event"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

var t0 = time.Date(2030, 5, 1, 12, 0, 0, 0, time.UTC)

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func openTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	gdb, err := gorm.Open(sqlite.Open(filepath.Join(t.TempDir(), "bot.db")), &gorm.Config{
		Logger:         logger.Default.LogMode(logger.Silent),
		TranslateError: true,
	})
	if err != nil {
		t.Fatalf("open test db: %v", err)
	}
	if err := db.AutoMigrate(gdb); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	return gdb
}

// newConnectedMock returns a MockAdapter with guild G1 ("POAP Guild") and
// alice as its manager.
func newConnectedMock(t *testing.T) *MockAdapter {
	t.Helper()
	m := NewMockAdapter()
	m.SetBotUserID("BOT")
	m.SetGuild("G1", "POAP Guild",
		TextChannel{ID: "C-general", Name: "general"},
		TextChannel{ID: "C-ann", Name: "announcements"},
	)
	m.SetManager("G1", "alice", true)
	if err := m.Connect(context.Background()); err != nil {
		t.Fatalf("connect: %v", err)
	}
	return m
}

// seedLiveEvent stores an event running at t0 with the given codes.
func seedLiveEvent(t *testing.T, svc *event.Service, pass string, codes ...string) event.Saved {
	t.Helper()
	saved, err := svc.SaveEvent(context.Background(), event.Input{
		GuildID:         "G1",
		ChannelID:       "C-ann",
		CreatedBy:       "alice",
		Start:           t0.Add(-time.Hour),
		End:             t0.Add(time.Hour),
		StartMessage:    "go",
		EndMessage:      "done",
		ResponseMessage: "Thanks for coming!",
		Reaction:        "🏅",
		Pass:            pass,
		Codes:           codes,
		CreatedAt:       t0.Add(-2 * time.Hour),
	}, "alice")
	if err != nil {
		t.Fatalf("SaveEvent: %v", err)
	}
	return saved
}

func eventually(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}
