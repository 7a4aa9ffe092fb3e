package calendar

import (
	"sync"

	"studyline/internal/planner"
)

// Recorder keeps emitted events in memory.
type Recorder struct {
	mu     sync.Mutex
	events []planner.ScheduleEvent
}

func (r *Recorder) Emit(ev planner.ScheduleEvent) {
	r.mu.Lock()
	r.events = append(r.events, ev)
	r.mu.Unlock()
}

// Events returns a copy of everything recorded so far.
func (r *Recorder) Events() []planner.ScheduleEvent {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]planner.ScheduleEvent, len(r.events))
	copy(out, r.events)
	return out
}

// Multi fans every event out to each sink in order. Nil sinks are skipped.
type Multi []planner.Sink

func (m Multi) Emit(ev planner.ScheduleEvent) {
	for _, s := range m {
		if s != nil {
			s.Emit(ev)
		}
	}
}
