package planner

import "container/heap"

// taskQueue is a max-heap on Priority. Order among equal priorities is
// whatever container/heap leaves it in and is not part of the contract.
type taskQueue []*Task

func (q taskQueue) Len() int           { return len(q) }
func (q taskQueue) Less(i, j int) bool { return q[i].Priority > q[j].Priority }
func (q taskQueue) Swap(i, j int)      { q[i], q[j] = q[j], q[i] }

func (q *taskQueue) Push(x any) { *q = append(*q, x.(*Task)) }

func (q *taskQueue) Pop() any {
	old := *q
	n := len(old)
	t := old[n-1]
	old[n-1] = nil
	*q = old[:n-1]
	return t
}

// DayAllocation is the outcome of one day's allocation.
type DayAllocation struct {
	// Tasks holds the tasks still pending, in their original order.
	Tasks     []*Task
	Events    []ScheduleEvent
	Completed []Outcome
}

// Allocate spends up to dailyHours on tasks for the given day. Every hour the
// highest priority task receives one unit of work; it leaves the list once its
// remaining work reaches zero and is re-scored and queued again otherwise.
// Events are emitted to sink (which may be nil) as they are produced.
func Allocate(tasks []*Task, day, dailyHours int, sink Sink) DayAllocation {
	q := make(taskQueue, 0, len(tasks))
	for _, t := range tasks {
		t.Priority = Score(*t, dailyHours)
		q = append(q, t)
	}
	heap.Init(&q)

	var res DayAllocation
	finished := map[*Task]bool{}
	for hour := 0; hour < dailyHours; hour++ {
		if q.Len() == 0 {
			break
		}
		t := heap.Pop(&q).(*Task)
		ev := ScheduleEvent{TaskID: t.ID, TaskName: t.Name, Day: day, Hour: hour}
		res.Events = append(res.Events, ev)
		if sink != nil {
			sink.Emit(ev)
		}
		t.RealDuration--
		if t.done() {
			finished[t] = true
			res.Completed = append(res.Completed, outcomeOf(t, day))
			continue
		}
		t.Priority = Score(*t, dailyHours)
		heap.Push(&q, t)
	}

	res.Tasks = tasks
	if len(finished) > 0 {
		res.Tasks = make([]*Task, 0, len(tasks)-len(finished))
		for _, t := range tasks {
			if !finished[t] {
				res.Tasks = append(res.Tasks, t)
			}
		}
	}
	return res
}
