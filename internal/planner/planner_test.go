package planner

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"studyline/internal/domain"
)

func TestScoreBands(t *testing.T) {
	testCases := []struct {
		description string
		task        Task
		hours       int
		expect      int
	}{
		{
			description: "deadline 2 with slack 2",
			task:        Task{Deadline: 2, RealDuration: 4, Weight: 20, Size: 1},
			hours:       3,
			expect:      8 + 15 + 4 + 3,
		},
		{
			description: "far deadline and plenty of slack",
			task:        Task{Deadline: 10, RealDuration: 2, Weight: 5, Size: 3},
			hours:       3,
			expect:      0 + 0 + 0 + 1,
		},
		{
			description: "negative slack lands in the top band",
			task:        Task{Deadline: 1, RealDuration: 9, Weight: 25, Size: 1},
			hours:       2,
			expect:      10 + 20 + 6 + 3,
		},
		{
			description: "middle bands",
			task:        Task{Deadline: 5, RealDuration: 11, Weight: 12, Size: 2},
			hours:       3,
			expect:      6 + 10 + 2 + 2,
		},
		{
			description: "deadline 7 slack 5",
			task:        Task{Deadline: 7, RealDuration: 9, Weight: 16, Size: 4},
			hours:       2,
			expect:      4 + 10 + 4 + 0,
		},
		{
			description: "boundary values are exclusive",
			task:        Task{Deadline: 8, RealDuration: 2, Weight: 10, Size: 0},
			hours:       1,
			expect:      0,
		},
	}

	for _, testCase := range testCases {
		assert.Equal(t, testCase.expect, Score(testCase.task, testCase.hours), testCase.description)
	}
}

func TestScoreRangeAndPurity(t *testing.T) {
	for deadline := -2; deadline <= 12; deadline++ {
		for remaining := -3; remaining <= 40; remaining += 3 {
			for _, weight := range []float64{0, 10, 10.5, 15.5, 20, 20.1, 100} {
				for size := 0; size <= 4; size++ {
					for _, hours := range []int{0, 1, 3, 8} {
						task := Task{Deadline: deadline, RealDuration: remaining, Weight: weight, Size: size}
						score := Score(task, hours)
						require.GreaterOrEqual(t, score, 0)
						require.LessOrEqual(t, score, MaxPriority)
						require.Equal(t, score, Score(task, hours))
					}
				}
			}
		}
	}
	assert.Equal(t, MaxPriority, Score(Task{Deadline: 1, RealDuration: 5, Weight: 30, Size: 1}, 1))
}

func TestFromDomainSplitsGroupWork(t *testing.T) {
	task := FromDomain(domain.Task{ID: "t1", Name: "Report", Deadline: 7, Duration: 5, GroupWork: true, GroupSize: 2})
	assert.Equal(t, 2, task.RealDuration)
	assert.Equal(t, 5, task.Duration)

	solo := FromDomain(domain.Task{ID: "t2", Name: "Essay", Deadline: 3, Duration: 4, GroupSize: 0})
	assert.Equal(t, 1, solo.GroupSize)
	assert.Equal(t, 4, solo.RealDuration)
}

func TestAllocatePicksUrgentTaskFirst(t *testing.T) {
	urgent := &Task{ID: "a", Name: "urgent", Deadline: 1, RealDuration: 2, Weight: 5, Size: 3}
	relaxed := &Task{ID: "b", Name: "relaxed", Deadline: 10, RealDuration: 2, Weight: 5, Size: 3}

	res := Allocate([]*Task{relaxed, urgent}, 1, 3, nil)

	require.Len(t, res.Events, 3)
	assert.Equal(t, "urgent", res.Events[0].TaskName)
	assert.Equal(t, "urgent", res.Events[1].TaskName)
	assert.Equal(t, "relaxed", res.Events[2].TaskName)
	for i, ev := range res.Events {
		assert.Equal(t, 1, ev.Day)
		assert.Equal(t, i, ev.Hour)
	}
	require.Len(t, res.Completed, 1)
	assert.Equal(t, "a", res.Completed[0].TaskID)
	require.Len(t, res.Tasks, 1)
	assert.Same(t, relaxed, res.Tasks[0])
	assert.Equal(t, 1, relaxed.RealDuration)
}

func TestAllocateBoundedByWorkAndBudget(t *testing.T) {
	small := &Task{ID: "a", Name: "a", Deadline: 5, RealDuration: 1, Size: 3}
	other := &Task{ID: "b", Name: "b", Deadline: 5, RealDuration: 1, Size: 3}

	res := Allocate([]*Task{small, other}, 2, 5, nil)
	assert.Len(t, res.Events, 2)
	assert.Empty(t, res.Tasks)
	// equal priorities: the order between a and b is not specified
	assert.ElementsMatch(t, []string{"a", "b"}, []string{res.Events[0].TaskID, res.Events[1].TaskID})

	big := &Task{ID: "c", Name: "c", Deadline: 5, RealDuration: 10, Size: 1}
	res = Allocate([]*Task{big}, 3, 4, nil)
	assert.Len(t, res.Events, 4)
	assert.Equal(t, 6, big.RealDuration)

	res = Allocate(nil, 1, 4, nil)
	assert.Empty(t, res.Events)
	assert.Empty(t, res.Tasks)

	zero := &Task{ID: "d", Name: "d", Deadline: 5, RealDuration: 3}
	res = Allocate([]*Task{zero}, 1, 0, nil)
	assert.Empty(t, res.Events)
	assert.Equal(t, 3, zero.RealDuration)
}

func TestAllocateEmitsToSinkInOrder(t *testing.T) {
	var seen []ScheduleEvent
	sink := SinkFunc(func(ev ScheduleEvent) { seen = append(seen, ev) })
	tasks := []*Task{
		{ID: "a", Name: "a", Deadline: 2, RealDuration: 3, Weight: 21, Size: 1},
		{ID: "b", Name: "b", Deadline: 9, RealDuration: 3, Size: 3},
	}
	res := Allocate(tasks, 4, 4, sink)
	assert.Equal(t, res.Events, seen)
}

func TestAgeRemovesExpiredTasks(t *testing.T) {
	a := &Task{ID: "a", Name: "a", Deadline: 1, RealDuration: 3}
	b := &Task{ID: "b", Name: "b", Deadline: 4, RealDuration: 3}
	c := &Task{ID: "c", Name: "c", Deadline: 0, RealDuration: 1}

	remaining, missed := Age([]*Task{a, b, c}, 3)

	require.Len(t, remaining, 1)
	assert.Same(t, b, remaining[0])
	assert.Equal(t, 3, b.Deadline)
	require.Len(t, missed, 2)
	assert.Equal(t, Outcome{TaskID: "a", Name: "a", Day: 3, Remaining: 3}, missed[0])
	assert.Equal(t, "c", missed[1].TaskID)
}

func TestWeekendRule(t *testing.T) {
	weekend := map[int]bool{6: true, 7: true, 12: true, 14: true, 18: true, 21: true, 24: true}
	for day := 1; day <= 24; day++ {
		assert.Equal(t, weekend[day], IsWeekend(day), "day %d", day)
	}
	assert.Equal(t, 5, HoursFor(6, 3, 5))
	assert.Equal(t, 3, HoursFor(8, 3, 5))
}

func TestDriverMissesTaskThatCannotFinish(t *testing.T) {
	d, err := NewDriver([]Task{{ID: "x", Name: "x", Deadline: 1, Duration: 5, GroupSize: 1, RealDuration: 5}}, Options{WeekdayHours: 3, WeekendHours: 5})
	require.NoError(t, err)

	report, err := d.Step()
	require.NoError(t, err)
	assert.Equal(t, 1, report.Day)
	assert.Equal(t, 3, report.Hours)
	assert.Len(t, report.Events, 3)
	require.Len(t, report.Missed, 1)
	assert.Equal(t, 2, report.Missed[0].Remaining)
	assert.Equal(t, Done, d.State())
	assert.Empty(t, d.Pending())
}

func TestDriverEmptyListIsDone(t *testing.T) {
	d, err := NewDriver(nil, Options{WeekdayHours: 3, WeekendHours: 5})
	require.NoError(t, err)
	assert.Equal(t, Done, d.State())

	res, err := d.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, Done, res.State)
	assert.Empty(t, res.Events)
	assert.Zero(t, res.DaysSimulated())
}

func TestDriverRunCompletesAndKeepsCallerTasks(t *testing.T) {
	tasks := []Task{
		FromDomain(domain.Task{ID: "math", Name: "Math Homework", Deadline: 2, Duration: 4, Weight: 20, Size: 1, GroupSize: 1}),
		FromDomain(domain.Task{ID: "sci", Name: "Science Project", Deadline: 3, Duration: 6, Weight: 25, Size: 2, GroupWork: true, GroupSize: 3}),
	}
	var sunk []ScheduleEvent
	res, err := Run(context.Background(), tasks, Options{WeekdayHours: 3, WeekendHours: 5, Sink: SinkFunc(func(ev ScheduleEvent) {
		sunk = append(sunk, ev)
	})})
	require.NoError(t, err)

	assert.Equal(t, Done, res.State)
	assert.Equal(t, res.Events, sunk)
	assert.Len(t, res.Events, 6)
	assert.Empty(t, res.Missed)
	assert.ElementsMatch(t, []string{"math", "sci"}, []string{res.Completed[0].TaskID, res.Completed[1].TaskID})
	assert.Equal(t, 2, res.DaysSimulated())

	assert.Equal(t, 4, tasks[0].RealDuration)
	assert.Equal(t, 2, tasks[0].Deadline)
}

func TestDriverStepInvariants(t *testing.T) {
	tasks := []Task{
		{ID: "a", Name: "a", Deadline: 4, RealDuration: 7, Weight: 12, Size: 2},
		{ID: "b", Name: "b", Deadline: 6, RealDuration: 5, Weight: 22, Size: 1},
		{ID: "c", Name: "c", Deadline: 3, RealDuration: 9, Weight: 3, Size: 3},
	}
	d, err := NewDriver(tasks, Options{WeekdayHours: 2, WeekendHours: 4})
	require.NoError(t, err)

	gone := map[string]bool{}
	prev := map[string]Task{}
	for _, task := range d.Pending() {
		prev[task.ID] = task
	}
	for d.State() == Running {
		before := d.Pending()
		budget := 0
		for _, task := range before {
			budget += task.RealDuration
		}
		report, err := d.Step()
		require.NoError(t, err)
		assert.LessOrEqual(t, len(report.Events), report.Hours)
		assert.LessOrEqual(t, len(report.Events), budget)
		for _, o := range append(report.Completed, report.Missed...) {
			assert.False(t, gone[o.TaskID], "%s left twice", o.TaskID)
			gone[o.TaskID] = true
		}
		for _, task := range d.Pending() {
			assert.False(t, gone[task.ID])
			assert.Equal(t, prev[task.ID].Deadline-1, task.Deadline)
			assert.LessOrEqual(t, task.RealDuration, prev[task.ID].RealDuration)
			prev[task.ID] = task
		}
	}
	assert.Len(t, gone, 3)
}

func TestDriverZeroHoursStillAgesDeadlines(t *testing.T) {
	res, err := Run(context.Background(), []Task{{ID: "a", Name: "a", Deadline: 3, RealDuration: 2}}, Options{})
	require.NoError(t, err)
	assert.Empty(t, res.Events)
	require.Len(t, res.Missed, 1)
	assert.Equal(t, 3, res.Missed[0].Day)
}

func TestDriverDayLimit(t *testing.T) {
	res, err := Run(context.Background(), []Task{{ID: "a", Name: "a", Deadline: 1000, RealDuration: 1000}}, Options{MaxDays: 5})
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrDayLimit))
	assert.Equal(t, Aborted, res.State)
	assert.Equal(t, 5, res.DaysSimulated())
}

func TestDriverCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	res, err := Run(ctx, []Task{{ID: "a", Name: "a", Deadline: 2, RealDuration: 2}}, Options{WeekdayHours: 1})
	require.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, Aborted, res.State)
	assert.Empty(t, res.Events)
}

func TestDriverRejectsNegativeBudgets(t *testing.T) {
	_, err := NewDriver(nil, Options{WeekdayHours: -1})
	var cfgErr ConfigurationError
	require.True(t, errors.As(err, &cfgErr))
	assert.Equal(t, "weekday hours", cfgErr.Field)

	_, err = NewDriver(nil, Options{WeekendHours: -2})
	require.Error(t, err)
	_, err = NewDriver(nil, Options{MaxDays: -1})
	require.Error(t, err)
}
