package planner

// Age counts every task's deadline down by one day and removes the tasks whose
// deadline reached zero. Missed tasks are reported in list order.
func Age(tasks []*Task, day int) (remaining []*Task, missed []Outcome) {
	remaining = make([]*Task, 0, len(tasks))
	for _, t := range tasks {
		t.Deadline--
		if t.Deadline <= 0 {
			missed = append(missed, outcomeOf(t, day))
			continue
		}
		remaining = append(remaining, t)
	}
	return remaining, missed
}
