package calendar

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/oauth2"
	gcal "google.golang.org/api/calendar/v3"
	"google.golang.org/api/option"

	"studyline/internal/config"
	"studyline/internal/planner"
)

var anchor = time.Date(2024, time.March, 30, 9, 15, 0, 0, time.UTC)

func TestSlot(t *testing.T) {
	start, end := Slot(anchor, DefaultStartHour, planner.ScheduleEvent{Day: 2, Hour: 6})
	assert.Equal(t, time.Date(2024, time.April, 2, 0, 0, 0, 0, time.UTC), start)
	assert.Equal(t, time.Hour, end.Sub(start))

	start, _ = Slot(anchor, 18, planner.ScheduleEvent{Day: 1, Hour: 0})
	assert.Equal(t, time.Date(2024, time.March, 31, 18, 0, 0, 0, time.UTC), start)
}

func TestICSWriterDocument(t *testing.T) {
	var buf bytes.Buffer
	w := NewICSWriter(&buf, ICSOptions{Anchor: anchor, StartHour: 18})
	w.Emit(planner.ScheduleEvent{TaskName: "Math Homework", Day: 1, Hour: 0})
	w.Emit(planner.ScheduleEvent{TaskName: "Essay, draft; v2", Day: 1, Hour: 1})
	require.NoError(t, w.Close())
	assert.Equal(t, 2, w.Events())

	expect := strings.Join([]string{
		"BEGIN:VCALENDAR",
		"VERSION:2.0",
		"PRODID:-//Planner App//EN",
		"BEGIN:VEVENT",
		"SUMMARY:Math Homework",
		"DTSTART:20240331T180000",
		"DTEND:20240331T190000",
		"DESCRIPTION:Scheduled Assignment",
		"STATUS:CONFIRMED",
		"END:VEVENT",
		"BEGIN:VEVENT",
		`SUMMARY:Essay\, draft\; v2`,
		"DTSTART:20240331T190000",
		"DTEND:20240331T200000",
		"DESCRIPTION:Scheduled Assignment",
		"STATUS:CONFIRMED",
		"END:VEVENT",
		"END:VCALENDAR",
		"",
	}, "\n")
	assert.Equal(t, expect, buf.String())
}

func TestICSWriterEmptyCalendar(t *testing.T) {
	path := filepath.Join(t.TempDir(), "Data", "alice_schedule.ics")
	w, err := CreateICS(path, ICSOptions{})
	require.NoError(t, err)
	require.NoError(t, w.Close())

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "BEGIN:VCALENDAR\nVERSION:2.0\nPRODID:-//Planner App//EN\nEND:VCALENDAR\n", string(data))
}

type failingWriter struct{ n int }

func (f *failingWriter) Write(p []byte) (int, error) {
	f.n++
	return 0, errors.New("disk full")
}

func TestICSWriterStickyError(t *testing.T) {
	fw := &failingWriter{}
	w := NewICSWriter(fw, ICSOptions{Anchor: anchor})
	for i := 0; i < 500; i++ {
		w.Emit(planner.ScheduleEvent{TaskName: strings.Repeat("x", 64), Day: 1, Hour: i})
	}
	err := w.Close()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "disk full")
	assert.Equal(t, 1, fw.n)
	assert.Less(t, w.Events(), 500)
}

func TestMultiAndRecorder(t *testing.T) {
	var a, b Recorder
	sink := Multi{&a, nil, &b}
	ev := planner.ScheduleEvent{TaskID: "t", TaskName: "n", Day: 3, Hour: 1}
	sink.Emit(ev)
	assert.Equal(t, []planner.ScheduleEvent{ev}, a.Events())
	assert.Equal(t, a.Events(), b.Events())
}

func newFakeGoogle(t *testing.T, failOn string) (*gcal.Service, *[]gcal.Event) {
	t.Helper()
	var mu sync.Mutex
	var inserted []gcal.Event
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch {
		case strings.HasSuffix(r.URL.Path, "/users/me/calendarList"):
			_ = json.NewEncoder(w).Encode(gcal.CalendarList{Items: []*gcal.CalendarListEntry{
				{Id: "primary", Summary: "Personal"},
				{Id: "cal-1", Summary: "Studyline"},
			}})
		case strings.HasSuffix(r.URL.Path, "/calendars/cal-1/events") && r.Method == http.MethodPost:
			var ev gcal.Event
			if err := json.NewDecoder(r.Body).Decode(&ev); err != nil {
				http.Error(w, err.Error(), http.StatusBadRequest)
				return
			}
			if ev.Summary == failOn {
				http.Error(w, `{"error":{"code":500,"message":"boom"}}`, http.StatusInternalServerError)
				return
			}
			mu.Lock()
			inserted = append(inserted, ev)
			mu.Unlock()
			ev.Id = "evt"
			_ = json.NewEncoder(w).Encode(ev)
		default:
			http.NotFound(w, r)
		}
	}))
	t.Cleanup(srv.Close)
	svc, err := gcal.NewService(context.Background(),
		option.WithEndpoint(srv.URL+"/"),
		option.WithHTTPClient(srv.Client()),
	)
	require.NoError(t, err)
	return svc, &inserted
}

func TestGoogleSink(t *testing.T) {
	ctx := context.Background()
	svc, inserted := newFakeGoogle(t, "Broken")

	id, err := FindCalendar(ctx, svc, "Studyline")
	require.NoError(t, err)
	assert.Equal(t, "cal-1", id)
	_, err = FindCalendar(ctx, svc, "Missing")
	require.Error(t, err)

	sink := NewGoogleSink(ctx, svc, id, ICSOptions{Anchor: anchor, StartHour: 18})
	sink.Emit(planner.ScheduleEvent{TaskID: "t1", TaskName: "Math Homework", Day: 1, Hour: 2})
	sink.Emit(planner.ScheduleEvent{TaskID: "t2", TaskName: "Broken", Day: 1, Hour: 3})

	assert.Equal(t, 1, sink.Inserted())
	err = sink.Flush()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "Broken")

	require.Len(t, *inserted, 1)
	got := (*inserted)[0]
	assert.Equal(t, "Math Homework", got.Summary)
	assert.Equal(t, "confirmed", got.Status)
	assert.Equal(t, "2024-03-31T20:00:00Z", got.Start.DateTime)
	assert.Equal(t, "2024-03-31T21:00:00Z", got.End.DateTime)
	assert.Equal(t, "t1", got.ExtendedProperties.Private["studyline_task"])
}

func TestTokenFiles(t *testing.T) {
	path := filepath.Join(t.TempDir(), "google", "token.json")
	_, err := LoadToken(path)
	require.ErrorIs(t, err, ErrNoToken)

	tok := &oauth2.Token{AccessToken: "a", RefreshToken: "r", TokenType: "Bearer"}
	require.NoError(t, SaveToken(path, tok))
	got, err := LoadToken(path)
	require.NoError(t, err)
	assert.Equal(t, "a", got.AccessToken)
	assert.Equal(t, "r", got.RefreshToken)

	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0o600), info.Mode().Perm())
}

func TestOptionsFor(t *testing.T) {
	cfg := config.Default("alice")
	cfg.Schedule.Timezone = "UTC"
	cfg.Schedule.StartHour = 20
	opts, err := OptionsFor(cfg, anchor)
	require.NoError(t, err)
	assert.Equal(t, 20, opts.StartHour)
	assert.Equal(t, "-//Planner App//EN", opts.ProdID)
	assert.Equal(t, time.UTC, opts.Anchor.Location())
}
