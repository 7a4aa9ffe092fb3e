package planner

// ScheduleEvent records one hour of study allocated to a task.
// Day is the simulated day counter (the first day is 1) and doubles as the
// offset from today when rendered on a calendar. Hour is 0-based within the day.
type ScheduleEvent struct {
	TaskID   string `json:"task_id"`
	TaskName string `json:"task_name"`
	Day      int    `json:"day"`
	Hour     int    `json:"hour"`
}

// Sink receives schedule events in allocation order, one per hour.
type Sink interface {
	Emit(ev ScheduleEvent)
}

// SinkFunc adapts a function to Sink.
type SinkFunc func(ScheduleEvent)

func (f SinkFunc) Emit(ev ScheduleEvent) { f(ev) }

// Outcome reports a task leaving the working list.
type Outcome struct {
	TaskID string `json:"task_id"`
	Name   string `json:"name"`
	Day    int    `json:"day"`
	// Remaining is the work still left when the task left the list; always 0
	// for completed tasks.
	Remaining int `json:"remaining"`
}

func outcomeOf(t *Task, day int) Outcome {
	remaining := t.RealDuration
	if remaining < 0 {
		remaining = 0
	}
	return Outcome{TaskID: t.ID, Name: t.Name, Day: day, Remaining: remaining}
}
