package calendar

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	gcal "google.golang.org/api/calendar/v3"

	"studyline/internal/planner"
)

// GoogleSink inserts one Google Calendar event per study hour. Insert errors
// are collected and reported by Flush so a failing API call does not stop
// the run.
type GoogleSink struct {
	ctx        context.Context
	srv        *gcal.Service
	calendarID string
	opts       ICSOptions
	inserted   int
	errs       []error
}

// NewGoogleSink writes into the calendar with the given ID.
func NewGoogleSink(ctx context.Context, srv *gcal.Service, calendarID string, opts ICSOptions) *GoogleSink {
	return &GoogleSink{ctx: ctx, srv: srv, calendarID: calendarID, opts: opts.withDefaults()}
}

// FindCalendar returns the ID of the calendar whose summary matches name.
func FindCalendar(ctx context.Context, srv *gcal.Service, name string) (string, error) {
	list, err := srv.CalendarList.List().Context(ctx).Do()
	if err != nil {
		return "", fmt.Errorf("unable to retrieve calendar list: %w", err)
	}
	for _, item := range list.Items {
		if item.Summary == name {
			return item.Id, nil
		}
	}
	return "", fmt.Errorf("calendar '%s' not found", name)
}

func (g *GoogleSink) Emit(ev planner.ScheduleEvent) {
	start, end := Slot(g.opts.Anchor, g.opts.StartHour, ev)
	item := &gcal.Event{
		Summary:     ev.TaskName,
		Description: g.opts.Description,
		Status:      strings.ToLower(g.opts.Status),
		Start:       &gcal.EventDateTime{DateTime: start.Format(time.RFC3339), TimeZone: zoneName(start)},
		End:         &gcal.EventDateTime{DateTime: end.Format(time.RFC3339), TimeZone: zoneName(end)},
		ExtendedProperties: &gcal.EventExtendedProperties{
			Private: map[string]string{"studyline_task": ev.TaskID},
		},
	}
	if _, err := g.srv.Events.Insert(g.calendarID, item).Context(g.ctx).Do(); err != nil {
		g.errs = append(g.errs, fmt.Errorf("insert %s day %d hour %d: %w", ev.TaskName, ev.Day, ev.Hour, err))
		return
	}
	g.inserted++
}

// Inserted is the number of events accepted by the API.
func (g *GoogleSink) Inserted() int { return g.inserted }

// Flush returns every insert error joined together.
func (g *GoogleSink) Flush() error {
	return errors.Join(g.errs...)
}

// zoneName is empty for the host zone; the offset in DateTime is enough there.
func zoneName(t time.Time) string {
	if t.Location() == time.Local {
		return ""
	}
	return t.Location().String()
}
