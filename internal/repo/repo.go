package repo

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"studyline/internal/config"
	"studyline/internal/domain"
)

type Repo struct {
	DB *sql.DB
}

var ErrNotFound = errors.New("not found")

// exec runs a statement inside tx when one is given.
func (r Repo) exec(ctx context.Context, tx *sql.Tx, query string, args ...any) (sql.Result, error) {
	if tx != nil {
		return tx.ExecContext(ctx, query, args...)
	}
	return r.DB.ExecContext(ctx, query, args...)
}

func nullable(v string) any {
	if v == "" {
		return nil
	}
	return v
}

func now() string {
	return time.Now().UTC().Format(time.RFC3339)
}

func (r Repo) InsertProfile(ctx context.Context, tx *sql.Tx, p domain.Profile) error {
	if p.CreatedAt == "" {
		p.CreatedAt = now()
	}
	_, err := r.exec(ctx, tx, `INSERT INTO profiles(id,name,created_at) VALUES (?,?,?)`, p.ID, p.Name, p.CreatedAt)
	return err
}

func (r Repo) GetProfile(ctx context.Context, id string) (domain.Profile, error) {
	var p domain.Profile
	err := r.DB.QueryRowContext(ctx, `SELECT id,name,created_at FROM profiles WHERE id=?`, id).Scan(&p.ID, &p.Name, &p.CreatedAt)
	if err == sql.ErrNoRows {
		return p, ErrNotFound
	}
	return p, err
}

// SingleProfile returns the only profile in the workspace.
func (r Repo) SingleProfile(ctx context.Context) (domain.Profile, error) {
	profiles, err := r.ListProfiles(ctx)
	if err != nil {
		return domain.Profile{}, err
	}
	if len(profiles) == 0 {
		return domain.Profile{}, ErrNotFound
	}
	if len(profiles) > 1 {
		return domain.Profile{}, fmt.Errorf("multiple profiles exist; specify --profile")
	}
	return profiles[0], nil
}

func (r Repo) ListProfiles(ctx context.Context) ([]domain.Profile, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT id,name,created_at FROM profiles ORDER BY created_at, id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Profile
	for rows.Next() {
		var p domain.Profile
		if err := rows.Scan(&p.ID, &p.Name, &p.CreatedAt); err != nil {
			return nil, err
		}
		res = append(res, p)
	}
	return res, rows.Err()
}

// DeleteProfile removes a profile with its config, tasks and run history.
// Events are kept as an audit trail.
func (r Repo) DeleteProfile(ctx context.Context, tx *sql.Tx, id string) error {
	res, err := r.exec(ctx, tx, `DELETE FROM profiles WHERE id=?`, id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func (r Repo) UpsertProfileConfig(ctx context.Context, profileID string, cfg *config.Config) error {
	return r.UpsertProfileConfigTx(ctx, nil, profileID, cfg)
}

func (r Repo) UpsertProfileConfigTx(ctx context.Context, tx *sql.Tx, profileID string, cfg *config.Config) error {
	if cfg == nil {
		return fmt.Errorf("config nil")
	}
	cfg.Profile.ID = profileID
	if err := cfg.Validate(); err != nil {
		return err
	}
	payload, err := json.Marshal(cfg)
	if err != nil {
		return err
	}
	ts := now()
	_, err = r.exec(ctx, tx, `INSERT INTO profile_configs(profile_id,config_json,created_at,updated_at) VALUES (?,?,?,?)
ON CONFLICT(profile_id) DO UPDATE SET config_json=excluded.config_json, updated_at=excluded.updated_at`, profileID, string(payload), ts, ts)
	return err
}

func (r Repo) GetProfileConfig(ctx context.Context, profileID string) (*config.Config, error) {
	var payload string
	err := r.DB.QueryRowContext(ctx, `SELECT config_json FROM profile_configs WHERE profile_id=?`, profileID).Scan(&payload)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	var cfg config.Config
	if err := json.Unmarshal([]byte(payload), &cfg); err != nil {
		return nil, err
	}
	if cfg.Profile.ID == "" {
		cfg.Profile.ID = profileID
	}
	return &cfg, cfg.Validate()
}

const taskColumns = `seq,id,profile_id,subject,name,deadline,duration,weight,size,group_work,group_size,created_at,updated_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanTask(row rowScanner) (domain.Task, error) {
	var t domain.Task
	var groupWork int
	err := row.Scan(&t.Seq, &t.ID, &t.ProfileID, &t.Subject, &t.Name, &t.Deadline, &t.Duration, &t.Weight, &t.Size, &groupWork, &t.GroupSize, &t.CreatedAt, &t.UpdatedAt)
	if err == sql.ErrNoRows {
		return t, ErrNotFound
	}
	t.GroupWork = groupWork != 0
	return t, err
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func (r Repo) InsertTask(ctx context.Context, tx *sql.Tx, t domain.Task) error {
	_, err := r.exec(ctx, tx, `INSERT INTO tasks(id,profile_id,subject,name,deadline,duration,weight,size,group_work,group_size,created_at,updated_at) VALUES (?,?,?,?,?,?,?,?,?,?,?,?)`,
		t.ID, t.ProfileID, t.Subject, t.Name, t.Deadline, t.Duration, t.Weight, t.Size, boolInt(t.GroupWork), t.GroupSize, t.CreatedAt, t.UpdatedAt)
	return err
}

func (r Repo) UpdateTask(ctx context.Context, tx *sql.Tx, t domain.Task) error {
	res, err := r.exec(ctx, tx, `UPDATE tasks SET subject=?,name=?,deadline=?,duration=?,weight=?,size=?,group_work=?,group_size=?,updated_at=? WHERE id=?`,
		t.Subject, t.Name, t.Deadline, t.Duration, t.Weight, t.Size, boolInt(t.GroupWork), t.GroupSize, t.UpdatedAt, t.ID)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func (r Repo) DeleteTask(ctx context.Context, tx *sql.Tx, id string) error {
	res, err := r.exec(ctx, tx, `DELETE FROM tasks WHERE id=?`, id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func (r Repo) GetTask(ctx context.Context, id string) (domain.Task, error) {
	return scanTask(r.DB.QueryRowContext(ctx, `SELECT `+taskColumns+` FROM tasks WHERE id=?`, id))
}

func (r Repo) GetTaskTx(ctx context.Context, tx *sql.Tx, id string) (domain.Task, error) {
	return scanTask(tx.QueryRowContext(ctx, `SELECT `+taskColumns+` FROM tasks WHERE id=?`, id))
}

// FindTaskByName returns the first task of a profile with the given name.
func (r Repo) FindTaskByName(ctx context.Context, profileID, name string) (domain.Task, error) {
	return scanTask(r.DB.QueryRowContext(ctx, `SELECT `+taskColumns+` FROM tasks WHERE profile_id=? AND name=? ORDER BY seq LIMIT 1`, profileID, name))
}

const (
	SortCreated  = "created"
	SortDeadline = "deadline"
	SortDuration = "duration"
)

type TaskFilters struct {
	ProfileID string
	Subject   string
	// Sort is one of SortCreated (default), SortDeadline (soonest first) or
	// SortDuration (largest total duration first, ignoring group size).
	Sort  string
	Limit int
}

func (r Repo) ListTasks(ctx context.Context, f TaskFilters) ([]domain.Task, error) {
	var clauses []string
	var args []any
	if f.ProfileID != "" {
		clauses = append(clauses, "profile_id=?")
		args = append(args, f.ProfileID)
	}
	if f.Subject != "" {
		clauses = append(clauses, "subject=?")
		args = append(args, f.Subject)
	}
	where := ""
	if len(clauses) > 0 {
		where = "WHERE " + strings.Join(clauses, " AND ")
	}
	var order string
	switch f.Sort {
	case "", SortCreated:
		order = "seq ASC"
	case SortDeadline:
		order = "deadline ASC, seq ASC"
	case SortDuration:
		order = "duration DESC, seq ASC"
	default:
		return nil, fmt.Errorf("unknown sort %q", f.Sort)
	}
	query := `SELECT ` + taskColumns + ` FROM tasks ` + where + ` ORDER BY ` + order
	if f.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, f.Limit)
	}
	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Task
	for rows.Next() {
		t, err := scanTask(rows)
		if err != nil {
			return nil, err
		}
		res = append(res, t)
	}
	return res, rows.Err()
}

func (r Repo) InsertScheduleRun(ctx context.Context, tx *sql.Tx, run domain.ScheduleRun) error {
	_, err := r.exec(ctx, tx, `INSERT INTO schedule_runs(id,profile_id,weekday_hours,weekend_hours,tasks,days,events,completed,missed,state,created_at) VALUES (?,?,?,?,?,?,?,?,?,?,?)`,
		run.ID, run.ProfileID, run.WeekdayHours, run.WeekendHours, run.Tasks, run.Days, run.Events, run.Completed, run.Missed, run.State, run.CreatedAt)
	return err
}

// ListScheduleRuns returns a profile's runs, most recent first.
func (r Repo) ListScheduleRuns(ctx context.Context, profileID string, limit int) ([]domain.ScheduleRun, error) {
	query := `SELECT id,profile_id,weekday_hours,weekend_hours,tasks,days,events,completed,missed,state,created_at FROM schedule_runs WHERE profile_id=? ORDER BY created_at DESC, rowid DESC`
	args := []any{profileID}
	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
	}
	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.ScheduleRun
	for rows.Next() {
		var run domain.ScheduleRun
		if err := rows.Scan(&run.ID, &run.ProfileID, &run.WeekdayHours, &run.WeekendHours, &run.Tasks, &run.Days, &run.Events, &run.Completed, &run.Missed, &run.State, &run.CreatedAt); err != nil {
			return nil, err
		}
		res = append(res, run)
	}
	return res, rows.Err()
}

func scanEvents(rows *sql.Rows) ([]domain.Event, error) {
	defer rows.Close()
	var res []domain.Event
	for rows.Next() {
		var e domain.Event
		var profileID, entityID, payload sql.NullString
		if err := rows.Scan(&e.ID, &e.TS, &e.Type, &profileID, &e.EntityKind, &entityID, &e.ActorID, &payload); err != nil {
			return nil, err
		}
		e.ProfileID = profileID.String
		e.EntityID = entityID.String
		e.Payload = payload.String
		res = append(res, e)
	}
	return res, rows.Err()
}

type EventFilters struct {
	ProfileID  string
	Type       string
	EntityKind string
	EntityID   string
	// Before returns only events with a smaller id when set.
	Before int64
	Limit  int
}

// LatestEvents returns matching events, newest first.
func (r Repo) LatestEvents(ctx context.Context, f EventFilters) ([]domain.Event, error) {
	clauses := []string{"1=1"}
	var args []any
	if f.ProfileID != "" {
		clauses = append(clauses, "profile_id=?")
		args = append(args, f.ProfileID)
	}
	if f.Type != "" {
		clauses = append(clauses, "type=?")
		args = append(args, f.Type)
	}
	if f.EntityKind != "" {
		clauses = append(clauses, "entity_kind=?")
		args = append(args, f.EntityKind)
	}
	if f.EntityID != "" {
		clauses = append(clauses, "entity_id=?")
		args = append(args, f.EntityID)
	}
	if f.Before > 0 {
		clauses = append(clauses, "id<?")
		args = append(args, f.Before)
	}
	limit := f.Limit
	if limit <= 0 {
		limit = 50
	}
	query := fmt.Sprintf(`SELECT id,ts,type,profile_id,entity_kind,entity_id,actor_id,payload_json FROM events WHERE %s ORDER BY id DESC LIMIT ?`, strings.Join(clauses, " AND "))
	args = append(args, limit)
	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	return scanEvents(rows)
}

// EventsAfter returns events with IDs greater than the cursor in ascending order.
func (r Repo) EventsAfter(ctx context.Context, limit int, cursor int64, profileID string) ([]domain.Event, error) {
	if limit <= 0 {
		limit = 100
	}
	clauses := []string{"id>?"}
	args := []any{cursor}
	if profileID != "" {
		clauses = append(clauses, "profile_id=?")
		args = append(args, profileID)
	}
	query := fmt.Sprintf(`SELECT id,ts,type,profile_id,entity_kind,entity_id,actor_id,payload_json FROM events WHERE %s ORDER BY id ASC LIMIT ?`, strings.Join(clauses, " AND "))
	args = append(args, limit)
	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	return scanEvents(rows)
}

// LatestEventID returns the most recent event ID for a profile.
func (r Repo) LatestEventID(ctx context.Context, profileID string) (int64, error) {
	var id int64
	if err := r.DB.QueryRowContext(ctx, `SELECT COALESCE(MAX(id),0) FROM events WHERE profile_id=?`, profileID).Scan(&id); err != nil {
		return 0, err
	}
	return id, nil
}

// NextTaskSeq is the sequence number the next inserted task is expected to get.
func (r Repo) NextTaskSeq(ctx context.Context, tx *sql.Tx) (int64, error) {
	var seq int64
	if err := tx.QueryRowContext(ctx, `SELECT COALESCE(MAX(seq),0)+1 FROM tasks`).Scan(&seq); err != nil {
		return 0, err
	}
	return seq, nil
}
