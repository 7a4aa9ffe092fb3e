package engine_test

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"studyline/internal/calendar"
	"studyline/internal/config"
	"studyline/internal/db"
	"studyline/internal/domain"
	"studyline/internal/engine"
	"studyline/internal/events"
	"studyline/internal/migrate"
	"studyline/internal/planner"
	"studyline/internal/repo"
)

type testEnv struct {
	Engine engine.Engine
	Ctx    context.Context
}

func newTestEnv(t *testing.T) testEnv {
	t.Helper()
	dir := t.TempDir()
	conn, err := db.Open(db.Config{Workspace: dir})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	if err := migrate.Migrate(conn); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	cfg := config.Default("alice")
	eng := engine.New(conn, cfg)
	eng.Now = func() time.Time { return time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC) }
	ctx := context.Background()
	if _, err := eng.CreateProfile(ctx, "alice", "Alice", "tester"); err != nil {
		t.Fatalf("create profile: %v", err)
	}
	return testEnv{Engine: eng, Ctx: ctx}
}

func (env testEnv) add(t *testing.T, opts engine.TaskCreateOptions) string {
	t.Helper()
	if opts.ProfileID == "" {
		opts.ProfileID = "alice"
	}
	if opts.Subject == "" {
		opts.Subject = "Math"
	}
	if opts.Size == 0 {
		opts.Size = 2
	}
	opts.ActorID = "tester"
	task, err := env.Engine.AddTask(env.Ctx, opts)
	if err != nil {
		t.Fatalf("add %s: %v", opts.Name, err)
	}
	return task.ID
}

func intPtr(v int) *int { return &v }

func toDomain(in []engine.TaskCreateOptions) []domain.Task {
	out := make([]domain.Task, 0, len(in))
	for _, o := range in {
		out = append(out, domain.Task{
			Subject: o.Subject, Name: o.Name, Deadline: o.Deadline, Duration: o.Duration,
			Weight: o.Weight, Size: o.Size, GroupWork: o.GroupWork, GroupSize: o.GroupSize,
		})
	}
	return out
}

func TestAddTaskValidation(t *testing.T) {
	env := newTestEnv(t)
	cases := []engine.TaskCreateOptions{
		{ProfileID: "alice", Subject: "", Name: "x", Deadline: 1, Duration: 1, Size: 1},
		{ProfileID: "alice", Subject: "Math", Name: " ", Deadline: 1, Duration: 1, Size: 1},
		{ProfileID: "alice", Subject: "Math", Name: "x", Deadline: 0, Duration: 1, Size: 1},
		{ProfileID: "alice", Subject: "Math", Name: "x", Deadline: 1, Duration: 0, Size: 1},
		{ProfileID: "alice", Subject: "Math", Name: "x", Deadline: 1, Duration: 1, Size: 4},
		{ProfileID: "alice", Subject: "Math", Name: "x", Deadline: 1, Duration: 1, Size: 1, Weight: -1},
		{ProfileID: "alice", Subject: "Math", Name: "x", Deadline: 1, Duration: 1, Size: 1, GroupWork: true, GroupSize: 0},
	}
	for i, opts := range cases {
		_, err := env.Engine.AddTask(env.Ctx, opts)
		var verr engine.ValidationError
		if !errors.As(err, &verr) {
			t.Fatalf("case %d: expected validation error, got %v", i, err)
		}
	}
	if _, err := env.Engine.AddTask(env.Ctx, engine.TaskCreateOptions{ProfileID: "nobody", Subject: "a", Name: "b", Deadline: 1, Duration: 1, Size: 1}); !errors.Is(err, repo.ErrNotFound) {
		t.Fatalf("expected unknown profile, got %v", err)
	}

	task, err := env.Engine.AddTask(env.Ctx, engine.TaskCreateOptions{
		ProfileID: "alice", Subject: "Art", Name: "Poster", Deadline: 3, Duration: 5, Size: 3, GroupSize: 4,
	})
	if err != nil {
		t.Fatalf("add: %v", err)
	}
	if task.GroupSize != 1 || task.RealDuration() != 5 {
		t.Fatalf("solo task should be a group of one, got %+v", task)
	}
}

func TestSameNameGetsDistinctIDs(t *testing.T) {
	env := newTestEnv(t)
	a := env.add(t, engine.TaskCreateOptions{Name: "Essay", Deadline: 2, Duration: 2})
	b := env.add(t, engine.TaskCreateOptions{Name: "Essay", Deadline: 2, Duration: 2})
	if a == b {
		t.Fatalf("expected distinct ids")
	}
}

func TestUpdateAndDeleteTask(t *testing.T) {
	env := newTestEnv(t)
	id := env.add(t, engine.TaskCreateOptions{Name: "Lab", Deadline: 4, Duration: 6, GroupWork: true, GroupSize: 2})

	updated, err := env.Engine.UpdateTask(env.Ctx, engine.TaskUpdateOptions{ID: id, Deadline: intPtr(9), GroupSize: intPtr(3), ActorID: "tester"})
	if err != nil {
		t.Fatalf("update: %v", err)
	}
	if updated.Deadline != 9 || updated.RealDuration() != 2 {
		t.Fatalf("unexpected update result %+v", updated)
	}
	if _, err := env.Engine.UpdateTask(env.Ctx, engine.TaskUpdateOptions{ID: id, Size: intPtr(0)}); err == nil {
		t.Fatalf("expected size validation error")
	}

	byName, err := env.Engine.ResolveTask(env.Ctx, "alice", "Lab")
	if err != nil || byName.ID != id {
		t.Fatalf("resolve by name: %+v %v", byName, err)
	}
	if _, err := env.Engine.DeleteTask(env.Ctx, id, "tester"); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if _, err := env.Engine.DeleteTask(env.Ctx, id, "tester"); !errors.Is(err, repo.ErrNotFound) {
		t.Fatalf("expected not found on second delete, got %v", err)
	}
	evts, err := env.Engine.Repo.LatestEvents(env.Ctx, repo.EventFilters{ProfileID: "alice", EntityID: id})
	if err != nil {
		t.Fatalf("events: %v", err)
	}
	if len(evts) != 3 || evts[0].Type != events.TaskDeleted || evts[2].Type != events.TaskCreated {
		t.Fatalf("unexpected events %+v", evts)
	}
}

func TestRunScheduleRecordsRunAndLeavesTasks(t *testing.T) {
	env := newTestEnv(t)
	math := env.add(t, engine.TaskCreateOptions{Name: "Math Homework", Deadline: 2, Duration: 3, Weight: 20, Size: 1})
	env.add(t, engine.TaskCreateOptions{Name: "Reading", Deadline: 10, Duration: 2, Size: 3})
	doomed := env.add(t, engine.TaskCreateOptions{Name: "Thesis", Deadline: 1, Duration: 40, Size: 1})

	var rec calendar.Recorder
	res, err := env.Engine.RunSchedule(env.Ctx, engine.RunOptions{ProfileID: "alice", Sinks: []planner.Sink{&rec}, ActorID: "tester"})
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if res.Run.State != "done" || res.Run.Tasks != 3 {
		t.Fatalf("unexpected run %+v", res.Run)
	}
	if len(rec.Events()) != len(res.Events) || res.Run.Events != len(res.Events) {
		t.Fatalf("sink saw %d events, run reported %d", len(rec.Events()), len(res.Events))
	}
	if len(res.Missed) != 1 || res.Missed[0].TaskID != doomed {
		t.Fatalf("expected thesis to be missed, got %+v", res.Missed)
	}
	if len(res.Completed) != 2 || len(res.Events) != 8 {
		t.Fatalf("expected two completed tasks over 8 hours, got %+v", res.Completed)
	}

	stored, err := env.Engine.Repo.GetTask(env.Ctx, math)
	if err != nil || stored.Deadline != 2 || stored.Duration != 3 {
		t.Fatalf("stored task changed: %+v %v", stored, err)
	}
	runs, err := env.Engine.ScheduleHistory(env.Ctx, "alice", 0)
	if err != nil || len(runs) != 1 || runs[0].ID != res.Run.ID {
		t.Fatalf("history: %+v %v", runs, err)
	}
	missed, err := env.Engine.Repo.LatestEvents(env.Ctx, repo.EventFilters{ProfileID: "alice", Type: events.TaskMissed})
	if err != nil || len(missed) != 1 || missed[0].EntityID != doomed {
		t.Fatalf("missed events: %+v %v", missed, err)
	}
}

func TestRunScheduleOverridesAndLimits(t *testing.T) {
	env := newTestEnv(t)
	env.add(t, engine.TaskCreateOptions{Name: "Long", Deadline: 365, Duration: 300})

	_, err := env.Engine.RunSchedule(env.Ctx, engine.RunOptions{ProfileID: "alice", WeekdayHours: intPtr(-1)})
	var verr engine.ValidationError
	if !errors.As(err, &verr) {
		t.Fatalf("expected validation error, got %v", err)
	}

	res, err := env.Engine.RunSchedule(env.Ctx, engine.RunOptions{ProfileID: "alice", MaxDays: 3})
	if !errors.Is(err, planner.ErrDayLimit) {
		t.Fatalf("expected day limit, got %v", err)
	}
	if res.Run.State != "aborted" || res.Run.Days != 3 {
		t.Fatalf("unexpected aborted run %+v", res.Run)
	}

	res, err = env.Engine.RunSchedule(env.Ctx, engine.RunOptions{ProfileID: "alice", WeekdayHours: intPtr(8), WeekendHours: intPtr(8)})
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	for _, day := range res.Days {
		if day.Hours != 8 {
			t.Fatalf("expected override of 8 hours, got %d", day.Hours)
		}
	}
	if res.Run.Days != 38 {
		t.Fatalf("expected 38 days for 300 hours at 8 per day, got %d", res.Run.Days)
	}
}

func TestImportExportTasks(t *testing.T) {
	env := newTestEnv(t)
	in := []engine.TaskCreateOptions{
		{Subject: "Math", Name: "A", Deadline: 2, Duration: 3, Size: 1},
		{Subject: "Bio", Name: "B", Deadline: 5, Duration: 6, Size: 2, GroupWork: true, GroupSize: 2},
	}
	tasks, err := env.Engine.ImportTasks(env.Ctx, "alice", toDomain(in), "tester")
	if err != nil || len(tasks) != 2 {
		t.Fatalf("import: %v", err)
	}
	out, err := env.Engine.ExportTasks(env.Ctx, "alice")
	if err != nil || len(out) != 2 || out[0].Name != "A" || out[1].RealDuration() != 3 {
		t.Fatalf("export: %+v %v", out, err)
	}

	bad := toDomain([]engine.TaskCreateOptions{{Subject: "X", Name: "ok", Deadline: 1, Duration: 1, Size: 1}, {Subject: "X", Name: "bad", Deadline: 0, Duration: 1, Size: 1}})
	if _, err := env.Engine.ImportTasks(env.Ctx, "alice", bad, "tester"); err == nil {
		t.Fatalf("expected import error")
	}
	out, _ = env.Engine.ExportTasks(env.Ctx, "alice")
	if len(out) != 2 {
		t.Fatalf("failed import must not store anything, have %d tasks", len(out))
	}
}

func TestProfilesAndConfig(t *testing.T) {
	env := newTestEnv(t)
	if _, err := env.Engine.CreateProfile(env.Ctx, "../evil", "", "tester"); err == nil {
		t.Fatalf("expected invalid id")
	}
	if _, err := env.Engine.CreateProfile(env.Ctx, "bob", "", "tester"); err != nil {
		t.Fatalf("create bob: %v", err)
	}
	cfg := config.Default("bob")
	cfg.Schedule.WeekdayHours = 1
	cfg.Schedule.WeekendHours = 1
	if err := env.Engine.ImportConfig(env.Ctx, "bob", cfg, "tester"); err != nil {
		t.Fatalf("import config: %v", err)
	}
	if _, err := env.Engine.AddTask(env.Ctx, engine.TaskCreateOptions{ProfileID: "bob", Subject: "S", Name: "N", Deadline: 5, Duration: 3, Size: 1}); err != nil {
		t.Fatalf("add: %v", err)
	}
	res, err := env.Engine.RunSchedule(env.Ctx, engine.RunOptions{ProfileID: "bob"})
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if res.Run.WeekdayHours != 1 || len(res.Events) != 3 {
		t.Fatalf("expected bob's config to apply, got %+v", res.Run)
	}
	if err := env.Engine.DeleteProfile(env.Ctx, "bob", "tester"); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if _, err := env.Engine.RunSchedule(env.Ctx, engine.RunOptions{ProfileID: "bob"}); !errors.Is(err, repo.ErrNotFound) {
		t.Fatalf("expected not found after delete, got %v", err)
	}
}

func TestCreateAPIKey(t *testing.T) {
	env := newTestEnv(t)
	key, plain, err := env.Engine.CreateAPIKey(env.Ctx, "ci-bot", "ci")
	if err != nil {
		t.Fatalf("create key: %v", err)
	}
	stored, err := env.Engine.Repo.LookupAPIKey(env.Ctx, plain)
	if err != nil || stored.ID != key.ID || stored.KeyHash != repo.HashAPIKey(plain) {
		t.Fatalf("lookup: %+v %v", stored, err)
	}
	if err := env.Engine.RevokeAPIKey(env.Ctx, key.ID, "ci-bot"); err != nil {
		t.Fatalf("revoke: %v", err)
	}
	if _, err := env.Engine.Repo.LookupAPIKey(env.Ctx, plain); !errors.Is(err, repo.ErrNotFound) {
		t.Fatalf("expected revoked key to be gone, got %v", err)
	}
	if err := env.Engine.RevokeAPIKey(env.Ctx, key.ID, "ci-bot"); !errors.Is(err, repo.ErrNotFound) {
		t.Fatalf("expected not found on second revoke, got %v", err)
	}
}

func TestScheduleICSUsesStoredConfigAndClock(t *testing.T) {
	env := newTestEnv(t)
	if _, err := env.Engine.CreateProfile(env.Ctx, "bob", "Bob", "tester"); err != nil {
		t.Fatalf("create profile: %v", err)
	}
	cfg := config.Default("bob")
	cfg.Schedule.Timezone = "UTC"
	cfg.Schedule.StartHour = 9
	if err := env.Engine.ImportConfig(env.Ctx, "bob", cfg, "tester"); err != nil {
		t.Fatalf("import config: %v", err)
	}
	env.add(t, engine.TaskCreateOptions{ProfileID: "bob", Name: "Essay", Deadline: 3, Duration: 1, Size: 1})

	var buf bytes.Buffer
	res, err := env.Engine.ScheduleICS(env.Ctx, engine.RunOptions{ProfileID: "bob", ActorID: "tester"}, &buf)
	if err != nil {
		t.Fatalf("ics: %v", err)
	}
	if len(res.Events) != 1 {
		t.Fatalf("expected one event, got %d", len(res.Events))
	}
	doc := buf.String()
	if !strings.HasPrefix(doc, "BEGIN:VCALENDAR") || !strings.Contains(doc, "END:VCALENDAR") {
		t.Fatalf("incomplete calendar:\n%s", doc)
	}
	if !strings.Contains(doc, "DTSTART:20240102T090000") {
		t.Fatalf("expected event anchored on the engine clock at 09:00:\n%s", doc)
	}

	if _, err := env.Engine.DB.ExecContext(env.Ctx, `DELETE FROM profile_configs WHERE profile_id = ?`, "bob"); err != nil {
		t.Fatalf("drop config: %v", err)
	}
	buf.Reset()
	if _, err := env.Engine.ScheduleICS(env.Ctx, engine.RunOptions{ProfileID: "bob", ActorID: "tester"}, &buf); err != nil {
		t.Fatalf("ics with default config: %v", err)
	}
	if !strings.Contains(buf.String(), "BEGIN:VEVENT") {
		t.Fatalf("expected events with default config:\n%s", buf.String())
	}
}
