package engine

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/google/uuid"

	"studyline/internal/calendar"
	"studyline/internal/domain"
	"studyline/internal/events"
	"studyline/internal/planner"
	"studyline/internal/repo"
	"studyline/internal/tracing"
)

// RunOptions parameterise a schedule run. Nil hour budgets and a zero
// MaxDays take the profile config's values.
type RunOptions struct {
	ProfileID    string
	WeekdayHours *int
	WeekendHours *int
	MaxDays      int
	// Sinks receive every event as it is allocated, in order.
	Sinks   []planner.Sink
	ActorID string
}

// RunResult is a recorded run together with what the planner produced.
type RunResult struct {
	Run       domain.ScheduleRun      `json:"run"`
	Days      []planner.DayReport     `json:"days"`
	Events    []planner.ScheduleEvent `json:"events"`
	Completed []planner.Outcome       `json:"completed"`
	Missed    []planner.Outcome       `json:"missed"`
}

// RunSchedule plans a profile's stored tasks. The tasks themselves are left
// untouched; the run is recorded in schedule_runs with a
// schedule.run.completed event and one task.missed event per missed task.
// A run that hits the day cap is recorded as aborted and its partial result
// is returned with the error. A cancelled run is not recorded.
func (e Engine) RunSchedule(ctx context.Context, opts RunOptions) (RunResult, error) {
	started := time.Now()
	ctx, span := tracing.Start(ctx, "schedule.run")
	span.SetString("profile", opts.ProfileID)

	res, err := e.runSchedule(ctx, opts, span)
	tracing.End(span, err)
	if res.Run.ID != "" {
		e.Metrics.ObserveRun(res.Run.ProfileID, res.Run.State, len(res.Events), len(res.Completed), len(res.Missed), time.Since(started))
	}
	return res, err
}

func (e Engine) runSchedule(ctx context.Context, opts RunOptions, span *tracing.Span) (RunResult, error) {
	if opts.ProfileID == "" {
		return RunResult{}, invalid("profile", "is required")
	}
	cfg, err := e.profileConfig(ctx, opts.ProfileID)
	if err != nil {
		return RunResult{}, err
	}
	popts := planner.Options{
		WeekdayHours: cfg.Schedule.WeekdayHours,
		WeekendHours: cfg.Schedule.WeekendHours,
		MaxDays:      cfg.Schedule.MaxDays,
	}
	if opts.WeekdayHours != nil {
		popts.WeekdayHours = *opts.WeekdayHours
	}
	if opts.WeekendHours != nil {
		popts.WeekendHours = *opts.WeekendHours
	}
	if opts.MaxDays > 0 {
		popts.MaxDays = opts.MaxDays
	}
	if len(opts.Sinks) > 0 {
		popts.Sink = calendar.Multi(opts.Sinks)
	}

	stored, err := e.Repo.ListTasks(ctx, repo.TaskFilters{ProfileID: opts.ProfileID, Sort: repo.SortCreated})
	if err != nil {
		return RunResult{}, err
	}
	span.SetInt("tasks", len(stored))

	result, runErr := planner.Run(ctx, planner.FromDomainList(stored), popts)
	var cfgErr planner.ConfigurationError
	if errors.As(runErr, &cfgErr) {
		return RunResult{}, invalid(cfgErr.Field, cfgErr.Reason)
	}
	out := RunResult{
		Days:      result.Days,
		Events:    result.Events,
		Completed: result.Completed,
		Missed:    result.Missed,
	}
	span.SetInt("days", result.DaysSimulated()).SetInt("events", len(result.Events)).SetInt("missed", len(result.Missed))
	if runErr != nil && !errors.Is(runErr, planner.ErrDayLimit) {
		return out, runErr
	}

	out.Run = domain.ScheduleRun{
		ID:           uuid.NewString(),
		ProfileID:    opts.ProfileID,
		WeekdayHours: popts.WeekdayHours,
		WeekendHours: popts.WeekendHours,
		Tasks:        len(stored),
		Days:         result.DaysSimulated(),
		Events:       len(result.Events),
		Completed:    len(result.Completed),
		Missed:       len(result.Missed),
		State:        result.State.String(),
		CreatedAt:    e.timestamp(),
	}
	if err := e.recordRun(ctx, out, opts.ActorID); err != nil {
		return out, fmt.Errorf("record run: %w", err)
	}
	return out, runErr
}

func (e Engine) recordRun(ctx context.Context, res RunResult, actorID string) error {
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()
	run := res.Run
	if err := e.Repo.InsertScheduleRun(ctx, tx, run); err != nil {
		return err
	}
	for _, m := range res.Missed {
		if err := e.Events.Append(ctx, tx, events.TaskMissed, run.ProfileID, "task", m.TaskID, actorID, events.EventPayload{
			"run_id":    run.ID,
			"name":      m.Name,
			"day":       m.Day,
			"remaining": m.Remaining,
		}); err != nil {
			return err
		}
	}
	if err := e.Events.Append(ctx, tx, events.ScheduleRunCompleted, run.ProfileID, "schedule_run", run.ID, actorID, events.EventPayload{
		"state":     run.State,
		"days":      run.Days,
		"events":    run.Events,
		"completed": run.Completed,
		"missed":    run.Missed,
	}); err != nil {
		return err
	}
	return tx.Commit()
}

// ScheduleICS runs a schedule like RunSchedule and streams it to w as an
// iCalendar document anchored on the engine clock in the profile's timezone.
func (e Engine) ScheduleICS(ctx context.Context, opts RunOptions, w io.Writer) (RunResult, error) {
	cfg, err := e.profileConfig(ctx, opts.ProfileID)
	if err != nil {
		return RunResult{}, err
	}
	icsOpts, err := calendar.OptionsFor(cfg, e.now())
	if err != nil {
		return RunResult{}, invalid("timezone", err.Error())
	}
	ics := calendar.NewICSWriter(w, icsOpts)
	opts.Sinks = append(opts.Sinks, ics)
	res, runErr := e.RunSchedule(ctx, opts)
	if runErr != nil {
		return res, runErr
	}
	return res, ics.Close()
}

// ScheduleHistory lists a profile's recorded runs, newest first.
func (e Engine) ScheduleHistory(ctx context.Context, profileID string, limit int) ([]domain.ScheduleRun, error) {
	if _, err := e.Repo.GetProfile(ctx, profileID); err != nil {
		return nil, err
	}
	return e.Repo.ListScheduleRuns(ctx, profileID, limit)
}
