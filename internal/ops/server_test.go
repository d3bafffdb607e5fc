package ops

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/zulandar/poapbot/internal/models"
	"github.com/zulandar/poapbot/internal/schedule"
	"github.com/zulandar/poapbot/internal/setup"
)

func init() {
	gin.SetMode(gin.TestMode)
}

var t0 = time.Date(2030, 5, 1, 12, 0, 0, 0, time.UTC)

type fakeSessions struct {
	mu   sync.Mutex
	list []setup.SessionInfo
}

func (f *fakeSessions) Sessions() []setup.SessionInfo {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]setup.SessionInfo(nil), f.list...)
}

func (f *fakeSessions) set(list ...setup.SessionInfo) {
	f.mu.Lock()
	f.list = list
	f.mu.Unlock()
}

type fakeEvents struct {
	evs      map[string][]models.Event
	stats    map[uint][2]int
	err      error
	statsErr error
}

func (f *fakeEvents) ListGuild(_ context.Context, guildID string) ([]models.Event, error) {
	return f.evs[guildID], f.err
}

func (f *fakeEvents) CodeStats(_ context.Context, id uint) (int, int, error) {
	s := f.stats[id]
	return s[0], s[1], f.statsErr
}

type fakeJobs []schedule.Job

func (f fakeJobs) Pending() []schedule.Job { return f }

func newTestRouter(t *testing.T, opts StartOpts) *gin.Engine {
	t.Helper()
	if opts.Sessions == nil {
		opts.Sessions = &fakeSessions{}
	}
	if opts.Events == nil {
		opts.Events = &fakeEvents{}
	}
	r, err := NewRouter(opts)
	if err != nil {
		t.Fatalf("NewRouter: %v", err)
	}
	return r
}

func get(t *testing.T, h http.Handler, path string) (*httptest.ResponseRecorder, map[string]any) {
	t.Helper()
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
	var body map[string]any
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("GET %s: decode %q: %v", path, rec.Body.String(), err)
	}
	return rec, body
}

func TestNewRouter_Required(t *testing.T) {
	if _, err := NewRouter(StartOpts{Events: &fakeEvents{}}); err == nil || !strings.Contains(err.Error(), "session lister is required") {
		t.Errorf("err = %v", err)
	}
	if _, err := NewRouter(StartOpts{Sessions: &fakeSessions{}}); err == nil || !strings.Contains(err.Error(), "event lister is required") {
		t.Errorf("err = %v", err)
	}
}

func TestStart_RequiresListers(t *testing.T) {
	if err := Start(context.Background(), StartOpts{}); err == nil {
		t.Fatal("expected error")
	}
}

func TestHealthz(t *testing.T) {
	rec, body := get(t, newTestRouter(t, StartOpts{}), "/healthz")
	if rec.Code != http.StatusOK || body["status"] != "ok" {
		t.Errorf("healthz = %d %v", rec.Code, body)
	}
}

func TestSessions(t *testing.T) {
	sessions := &fakeSessions{}
	sessions.set(setup.SessionInfo{OwnerID: "alice", GuildID: "G1", Step: "start", CreatedAt: t0})
	rec, body := get(t, newTestRouter(t, StartOpts{Sessions: sessions}), "/api/sessions")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	if body["count"] != float64(1) {
		t.Errorf("count = %v", body["count"])
	}
	list := body["sessions"].([]any)
	if s := list[0].(map[string]any); s["owner_id"] != "alice" || s["step"] != "start" {
		t.Errorf("session = %v", s)
	}
}

func TestGuildEvents(t *testing.T) {
	events := &fakeEvents{
		evs: map[string][]models.Event{
			"G1": {{ID: 7, ChannelID: "C-ann", CreatedBy: "alice", StartDate: t0, EndDate: t0.Add(time.Hour), Pass: "secret"}},
		},
		stats: map[uint][2]int{7: {10, 3}},
	}
	r := newTestRouter(t, StartOpts{Events: events})

	rec, body := get(t, r, "/api/guilds/G1/events")
	if rec.Code != http.StatusOK || body["guild"] != "G1" {
		t.Fatalf("response = %d %v", rec.Code, body)
	}
	if strings.Contains(rec.Body.String(), "secret") {
		t.Error("pass must not be exposed")
	}
	ev := body["events"].([]any)[0].(map[string]any)
	if ev["id"] != float64(7) || ev["codes"] != float64(10) || ev["claimed"] != float64(3) {
		t.Errorf("event = %v", ev)
	}

	_, body = get(t, r, "/api/guilds/G2/events")
	if evs := body["events"].([]any); len(evs) != 0 {
		t.Errorf("unknown guild events = %v", evs)
	}
}

func TestGuildEvents_Errors(t *testing.T) {
	rec, body := get(t, newTestRouter(t, StartOpts{Events: &fakeEvents{err: errors.New("db down")}}), "/api/guilds/G1/events")
	if rec.Code != http.StatusInternalServerError || body["error"] != "db down" {
		t.Errorf("list error = %d %v", rec.Code, body)
	}

	events := &fakeEvents{
		evs:      map[string][]models.Event{"G1": {{ID: 1}}},
		statsErr: errors.New("stats down"),
	}
	rec, _ = get(t, newTestRouter(t, StartOpts{Events: events}), "/api/guilds/G1/events")
	if rec.Code != http.StatusInternalServerError {
		t.Errorf("stats error status = %d", rec.Code)
	}
}

func TestSchedule(t *testing.T) {
	rec, _ := get(t, newTestRouter(t, StartOpts{}), "/api/schedule")
	if rec.Code != http.StatusNotFound {
		t.Errorf("without scheduler status = %d", rec.Code)
	}

	jobs := fakeJobs{{EventID: 3, Phase: schedule.PhaseStart, ChannelID: "C-ann", At: t0}}
	rec, body := get(t, newTestRouter(t, StartOpts{Jobs: jobs}), "/api/schedule")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	job := body["jobs"].([]any)[0].(map[string]any)
	if job["event_id"] != float64(3) || job["channel_id"] != "C-ann" {
		t.Errorf("job = %v", job)
	}
}

func TestSessionStream(t *testing.T) {
	sessions := &fakeSessions{}
	srv := httptest.NewServer(newTestRouter(t, StartOpts{Sessions: sessions, PollInterval: 10 * time.Millisecond}))
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	req, _ := http.NewRequestWithContext(ctx, http.MethodGet, srv.URL+"/api/sessions/stream", nil)
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("GET stream: %v", err)
	}
	defer resp.Body.Close()
	if ct := resp.Header.Get("Content-Type"); !strings.HasPrefix(ct, "text/event-stream") {
		t.Errorf("content type = %q", ct)
	}

	scanner := bufio.NewScanner(resp.Body)
	readData := func() string {
		for scanner.Scan() {
			if line := scanner.Text(); strings.HasPrefix(line, "data: ") {
				return strings.TrimPrefix(line, "data: ")
			}
		}
		t.Fatalf("stream ended: %v", scanner.Err())
		return ""
	}

	if got := readData(); got != `{"count":0}` {
		t.Errorf("initial = %s", got)
	}
	sessions.set(setup.SessionInfo{OwnerID: "alice"})
	if got := readData(); got != `{"count":1}` {
		t.Errorf("after change = %s", got)
	}
}
