package planner

import (
	"context"
	"errors"
	"fmt"
)

// DefaultMaxDays bounds a run when Options.MaxDays is zero.
const DefaultMaxDays = 3650

// ErrDayLimit is returned when tasks remain after the maximum number of days.
var ErrDayLimit = errors.New("schedule day limit reached")

// ConfigurationError reports an unusable hour budget or day cap.
type ConfigurationError struct {
	Field  string
	Reason string
}

func (e ConfigurationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

// State is the driver's lifecycle position.
type State int

const (
	Running State = iota
	Done
	Aborted
)

func (s State) String() string {
	switch s {
	case Running:
		return "running"
	case Done:
		return "done"
	case Aborted:
		return "aborted"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// Options configure a scheduling run.
type Options struct {
	WeekdayHours int
	WeekendHours int
	// MaxDays caps the number of simulated days; zero means DefaultMaxDays.
	MaxDays int
	// Sink receives every event as it is allocated. Optional.
	Sink Sink
}

func (o Options) validate() error {
	if o.WeekdayHours < 0 {
		return ConfigurationError{Field: "weekday hours", Reason: "must not be negative"}
	}
	if o.WeekendHours < 0 {
		return ConfigurationError{Field: "weekend hours", Reason: "must not be negative"}
	}
	if o.MaxDays < 0 {
		return ConfigurationError{Field: "max days", Reason: "must be positive"}
	}
	return nil
}

// IsWeekend applies the planner's weekend rule to a day counter. It is a
// fixed heuristic and does not follow real calendar weekdays.
func IsWeekend(day int) bool {
	return day%6 == 0 || day%7 == 0
}

// HoursFor returns the hour budget of a day.
func HoursFor(day, weekdayHours, weekendHours int) int {
	if IsWeekend(day) {
		return weekendHours
	}
	return weekdayHours
}

// DayReport describes one simulated day.
type DayReport struct {
	Day       int             `json:"day"`
	Hours     int             `json:"hours"`
	Events    []ScheduleEvent `json:"events"`
	Completed []Outcome       `json:"completed,omitempty"`
	Missed    []Outcome       `json:"missed,omitempty"`
}

// Result aggregates a run.
type Result struct {
	State     State           `json:"-"`
	Days      []DayReport     `json:"days"`
	Events    []ScheduleEvent `json:"events"`
	Completed []Outcome       `json:"completed"`
	Missed    []Outcome       `json:"missed"`
}

// DaysSimulated is the number of days the run went through.
func (r Result) DaysSimulated() int { return len(r.Days) }

// Driver runs the day loop over a private copy of the tasks.
type Driver struct {
	opts  Options
	tasks []*Task
	day   int
	state State
}

// NewDriver copies tasks into a working list owned by the driver. Callers keep
// their slice untouched whatever happens during the run.
func NewDriver(tasks []Task, opts Options) (*Driver, error) {
	if err := opts.validate(); err != nil {
		return nil, err
	}
	if opts.MaxDays == 0 {
		opts.MaxDays = DefaultMaxDays
	}
	working := make([]*Task, 0, len(tasks))
	for i := range tasks {
		t := tasks[i]
		working = append(working, &t)
	}
	d := &Driver{opts: opts, tasks: working, day: 1, state: Running}
	if len(working) == 0 {
		d.state = Done
	}
	return d, nil
}

// State reports where the driver is in its lifecycle.
func (d *Driver) State() State { return d.state }

// Day is the next day Step will simulate.
func (d *Driver) Day() int { return d.day }

// Pending returns a snapshot of the tasks still in the working list.
func (d *Driver) Pending() []Task {
	out := make([]Task, 0, len(d.tasks))
	for _, t := range d.tasks {
		out = append(out, *t)
	}
	return out
}

// Step simulates one day: allocation, then deadline aging. Calling Step on a
// finished driver returns an empty report.
func (d *Driver) Step() (DayReport, error) {
	if d.state != Running {
		return DayReport{}, nil
	}
	if d.day > d.opts.MaxDays {
		d.state = Aborted
		return DayReport{}, fmt.Errorf("%w after %d days with %d tasks pending", ErrDayLimit, d.opts.MaxDays, len(d.tasks))
	}
	day := d.day
	hours := HoursFor(day, d.opts.WeekdayHours, d.opts.WeekendHours)
	alloc := Allocate(d.tasks, day, hours, d.opts.Sink)
	remaining, missed := Age(alloc.Tasks, day)
	d.tasks = remaining
	d.day++
	if len(d.tasks) == 0 {
		d.state = Done
	}
	return DayReport{
		Day:       day,
		Hours:     hours,
		Events:    alloc.Events,
		Completed: alloc.Completed,
		Missed:    missed,
	}, nil
}

// Run steps until every task is completed or missed. Cancellation is checked
// between days; on cancellation or when the day cap is hit the partial result
// is returned together with the error.
func (d *Driver) Run(ctx context.Context) (Result, error) {
	res := Result{Days: []DayReport{}, Events: []ScheduleEvent{}, Completed: []Outcome{}, Missed: []Outcome{}}
	for d.state == Running {
		if err := ctx.Err(); err != nil {
			d.state = Aborted
			res.State = d.state
			return res, err
		}
		report, err := d.Step()
		if err != nil {
			res.State = d.state
			return res, err
		}
		res.Days = append(res.Days, report)
		res.Events = append(res.Events, report.Events...)
		res.Completed = append(res.Completed, report.Completed...)
		res.Missed = append(res.Missed, report.Missed...)
	}
	res.State = d.state
	return res, nil
}

// Run schedules tasks with a new Driver.
func Run(ctx context.Context, tasks []Task, opts Options) (Result, error) {
	d, err := NewDriver(tasks, opts)
	if err != nil {
		return Result{}, err
	}
	return d.Run(ctx)
}
