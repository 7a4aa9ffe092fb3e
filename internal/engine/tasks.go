package engine

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"studyline/internal/domain"
	"studyline/internal/events"
	"studyline/internal/repo"
)

// TaskCreateOptions are parameters for adding a task.
type TaskCreateOptions struct {
	ID        string
	ProfileID string
	Subject   string
	Name      string
	Deadline  int
	Duration  int
	Weight    float64
	Size      int
	GroupWork bool
	GroupSize int
	ActorID   string
}

// normalizeTask trims names, forces solo work to a group of one and checks
// the stored-task rules.
func normalizeTask(t *domain.Task) error {
	t.Subject = strings.TrimSpace(t.Subject)
	t.Name = strings.TrimSpace(t.Name)
	if !t.GroupWork {
		t.GroupSize = 1
	}
	switch {
	case t.Subject == "":
		return invalid("subject", "is required")
	case t.Name == "":
		return invalid("name", "is required")
	case t.Deadline < 1:
		return invalid("deadline", "must be at least 1 day")
	case t.Duration < 1:
		return invalid("duration", "must be at least 1 hour")
	case t.Weight < 0:
		return invalid("weight", "must not be negative")
	case t.Size < 1 || t.Size > 3:
		return invalid("size", "must be 1 (big), 2 (medium) or 3 (small)")
	case t.GroupSize < 1:
		return invalid("group size", "must be at least 1")
	}
	return nil
}

func newTaskID(profileID, name, ts string, seq int64) string {
	return uuid.NewSHA1(uuid.NameSpaceOID, []byte(fmt.Sprintf("%s|%s|%s|%d", profileID, name, ts, seq))).String()
}

func (e Engine) AddTask(ctx context.Context, opts TaskCreateOptions) (domain.Task, error) {
	if opts.ProfileID == "" {
		return domain.Task{}, invalid("profile", "is required")
	}
	if _, err := e.Repo.GetProfile(ctx, opts.ProfileID); err != nil {
		return domain.Task{}, err
	}
	now := e.timestamp()
	t := domain.Task{
		ID:        opts.ID,
		ProfileID: opts.ProfileID,
		Subject:   opts.Subject,
		Name:      opts.Name,
		Deadline:  opts.Deadline,
		Duration:  opts.Duration,
		Weight:    opts.Weight,
		Size:      opts.Size,
		GroupWork: opts.GroupWork,
		GroupSize: opts.GroupSize,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := normalizeTask(&t); err != nil {
		return domain.Task{}, err
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Task{}, err
	}
	defer tx.Rollback()
	if t.ID == "" {
		seq, err := e.Repo.NextTaskSeq(ctx, tx)
		if err != nil {
			return domain.Task{}, err
		}
		t.ID = newTaskID(t.ProfileID, t.Name, now, seq)
	}
	if err := e.Repo.InsertTask(ctx, tx, t); err != nil {
		return domain.Task{}, fmt.Errorf("insert task: %w", err)
	}
	if err := e.Events.Append(ctx, tx, events.TaskCreated, t.ProfileID, "task", t.ID, opts.ActorID, events.EventPayload{
		"name":          t.Name,
		"deadline":      t.Deadline,
		"real_duration": t.RealDuration(),
	}); err != nil {
		return domain.Task{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.Task{}, err
	}
	return e.Repo.GetTask(ctx, t.ID)
}

// TaskUpdateOptions change the fields that are set.
type TaskUpdateOptions struct {
	ID        string
	Subject   *string
	Name      *string
	Deadline  *int
	Duration  *int
	Weight    *float64
	Size      *int
	GroupWork *bool
	GroupSize *int
	ActorID   string
}

func (e Engine) UpdateTask(ctx context.Context, opts TaskUpdateOptions) (domain.Task, error) {
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Task{}, err
	}
	defer tx.Rollback()
	t, err := e.Repo.GetTaskTx(ctx, tx, opts.ID)
	if err != nil {
		return t, err
	}
	changed := []string{}
	if opts.Subject != nil {
		t.Subject = *opts.Subject
		changed = append(changed, "subject")
	}
	if opts.Name != nil {
		t.Name = *opts.Name
		changed = append(changed, "name")
	}
	if opts.Deadline != nil {
		t.Deadline = *opts.Deadline
		changed = append(changed, "deadline")
	}
	if opts.Duration != nil {
		t.Duration = *opts.Duration
		changed = append(changed, "duration")
	}
	if opts.Weight != nil {
		t.Weight = *opts.Weight
		changed = append(changed, "weight")
	}
	if opts.Size != nil {
		t.Size = *opts.Size
		changed = append(changed, "size")
	}
	if opts.GroupWork != nil {
		t.GroupWork = *opts.GroupWork
		changed = append(changed, "group_work")
	}
	if opts.GroupSize != nil {
		t.GroupSize = *opts.GroupSize
		changed = append(changed, "group_size")
	}
	if err := normalizeTask(&t); err != nil {
		return t, err
	}
	t.UpdatedAt = e.timestamp()
	if err := e.Repo.UpdateTask(ctx, tx, t); err != nil {
		return t, err
	}
	if err := e.Events.Append(ctx, tx, events.TaskUpdated, t.ProfileID, "task", t.ID, opts.ActorID, events.EventPayload{
		"fields": changed,
	}); err != nil {
		return t, err
	}
	if err := tx.Commit(); err != nil {
		return t, err
	}
	return t, nil
}

// ResolveTask finds a profile's task by ID, falling back to its name.
func (e Engine) ResolveTask(ctx context.Context, profileID, ref string) (domain.Task, error) {
	t, err := e.Repo.GetTask(ctx, ref)
	if err == nil {
		if t.ProfileID != profileID {
			return domain.Task{}, repo.ErrNotFound
		}
		return t, nil
	}
	if !errors.Is(err, repo.ErrNotFound) {
		return domain.Task{}, err
	}
	return e.Repo.FindTaskByName(ctx, profileID, ref)
}

func (e Engine) DeleteTask(ctx context.Context, id, actorID string) (domain.Task, error) {
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Task{}, err
	}
	defer tx.Rollback()
	t, err := e.Repo.GetTaskTx(ctx, tx, id)
	if err != nil {
		return t, err
	}
	if err := e.Repo.DeleteTask(ctx, tx, id); err != nil {
		return t, err
	}
	if err := e.Events.Append(ctx, tx, events.TaskDeleted, t.ProfileID, "task", t.ID, actorID, events.EventPayload{"name": t.Name}); err != nil {
		return t, err
	}
	return t, tx.Commit()
}

// ImportTasks adds every task in one transaction; nothing is stored when any
// of them is invalid.
func (e Engine) ImportTasks(ctx context.Context, profileID string, items []domain.Task, actorID string) ([]domain.Task, error) {
	if _, err := e.Repo.GetProfile(ctx, profileID); err != nil {
		return nil, err
	}
	now := e.timestamp()
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()
	seq, err := e.Repo.NextTaskSeq(ctx, tx)
	if err != nil {
		return nil, err
	}
	out := make([]domain.Task, 0, len(items))
	for i, t := range items {
		t.ProfileID = profileID
		t.CreatedAt, t.UpdatedAt = now, now
		if err := normalizeTask(&t); err != nil {
			return nil, fmt.Errorf("task %d: %w", i, err)
		}
		t.ID = newTaskID(profileID, t.Name, now, seq+int64(i))
		if err := e.Repo.InsertTask(ctx, tx, t); err != nil {
			return nil, fmt.Errorf("insert task %d: %w", i, err)
		}
		out = append(out, t)
	}
	if err := e.Events.Append(ctx, tx, events.TasksImported, profileID, "profile", profileID, actorID, events.EventPayload{"count": len(out)}); err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, err
	}
	return out, nil
}

// ExportTasks returns a profile's tasks in insertion order.
func (e Engine) ExportTasks(ctx context.Context, profileID string) ([]domain.Task, error) {
	if _, err := e.Repo.GetProfile(ctx, profileID); err != nil {
		return nil, err
	}
	return e.Repo.ListTasks(ctx, repo.TaskFilters{ProfileID: profileID, Sort: repo.SortCreated})
}
