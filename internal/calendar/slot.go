// Package calendar turns schedule events into calendar entries: an iCalendar
// file, a Google Calendar, or an in-memory record.
package calendar

import (
	"time"

	"studyline/internal/planner"
)

// DefaultStartHour is the local hour at which the first study hour of a day begins.
const DefaultStartHour = 18

// Slot returns the start and end of an event. Day counts from anchor's date,
// so day 1 is the day after anchor; every event lasts one hour.
func Slot(anchor time.Time, startHour int, ev planner.ScheduleEvent) (time.Time, time.Time) {
	y, m, d := anchor.Date()
	start := time.Date(y, m, d+ev.Day, startHour+ev.Hour, 0, 0, 0, anchor.Location())
	return start, start.Add(time.Hour)
}
