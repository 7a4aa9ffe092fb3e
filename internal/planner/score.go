package planner

// MaxPriority is the highest score Score can return.
const MaxPriority = 39

// Score ranks a task for the day's queue. The result is the sum of four
// bands: deadline proximity, slack left at dailyHours per day, weight and size.
//
// Slack may be negative when the remaining work no longer fits before the
// deadline; such tasks land in the most urgent slack band.
func Score(t Task, dailyHours int) int {
	priority := 0

	switch {
	case t.Deadline < 2:
		priority += 10
	case t.Deadline < 4:
		priority += 8
	case t.Deadline < 6:
		priority += 6
	case t.Deadline < 8:
		priority += 4
	}

	slack := t.Deadline*dailyHours - t.RealDuration
	switch {
	case slack < 2:
		priority += 20
	case slack < 4:
		priority += 15
	case slack < 6:
		priority += 10
	}

	switch {
	case t.Weight > 20:
		priority += 6
	case t.Weight > 15:
		priority += 4
	case t.Weight > 10:
		priority += 2
	}

	switch t.Size {
	case 1:
		priority += 3
	case 2:
		priority += 2
	case 3:
		priority += 1
	}

	return priority
}
