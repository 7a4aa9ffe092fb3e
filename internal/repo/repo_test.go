package repo_test

import (
	"context"
	"errors"
	"testing"

	"studyline/internal/config"
	"studyline/internal/db"
	"studyline/internal/domain"
	"studyline/internal/migrate"
	"studyline/internal/repo"
)

func newRepo(t *testing.T) repo.Repo {
	t.Helper()
	conn, err := db.Open(db.Config{Workspace: t.TempDir()})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	if err := migrate.Migrate(conn); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	return repo.Repo{DB: conn}
}

func seedProfile(t *testing.T, r repo.Repo, id string) {
	t.Helper()
	ctx := context.Background()
	if err := r.InsertProfile(ctx, nil, domain.Profile{ID: id, Name: id}); err != nil {
		t.Fatalf("insert profile: %v", err)
	}
	if err := r.UpsertProfileConfig(ctx, id, config.Default(id)); err != nil {
		t.Fatalf("insert config: %v", err)
	}
}

func task(profileID, id, name string, deadline, duration, groupSize int) domain.Task {
	return domain.Task{
		ID: id, ProfileID: profileID, Subject: "Math", Name: name,
		Deadline: deadline, Duration: duration, Size: 2, GroupSize: groupSize, GroupWork: groupSize > 1,
		CreatedAt: "2024-01-01T00:00:00Z", UpdatedAt: "2024-01-01T00:00:00Z",
	}
}

func TestTaskSortOrders(t *testing.T) {
	ctx := context.Background()
	r := newRepo(t)
	seedProfile(t, r, "alice")
	for _, tk := range []domain.Task{
		task("alice", "t1", "first", 5, 4, 1),
		task("alice", "t2", "second", 2, 9, 3),
		task("alice", "t3", "third", 7, 8, 1),
	} {
		if err := r.InsertTask(ctx, nil, tk); err != nil {
			t.Fatalf("insert %s: %v", tk.ID, err)
		}
	}

	expect := map[string][]string{
		repo.SortCreated:  {"t1", "t2", "t3"},
		repo.SortDeadline: {"t2", "t1", "t3"},
		repo.SortDuration: {"t2", "t3", "t1"},
	}
	for sort, ids := range expect {
		tasks, err := r.ListTasks(ctx, repo.TaskFilters{ProfileID: "alice", Sort: sort})
		if err != nil {
			t.Fatalf("list %s: %v", sort, err)
		}
		if len(tasks) != len(ids) {
			t.Fatalf("%s: expected %d tasks, got %d", sort, len(ids), len(tasks))
		}
		for i, id := range ids {
			if tasks[i].ID != id {
				t.Fatalf("%s: position %d expected %s got %s", sort, i, id, tasks[i].ID)
			}
		}
	}
	if _, err := r.ListTasks(ctx, repo.TaskFilters{Sort: "random"}); err == nil {
		t.Fatalf("expected unknown sort error")
	}
}

func TestDurationSortUsesTotalHours(t *testing.T) {
	ctx := context.Background()
	r := newRepo(t)
	seedProfile(t, r, "alice")
	for _, tk := range []domain.Task{
		task("alice", "solo", "Solo lab", 3, 5, 1),
		task("alice", "group", "Group report", 3, 10, 5),
	} {
		if err := r.InsertTask(ctx, nil, tk); err != nil {
			t.Fatalf("insert %s: %v", tk.ID, err)
		}
	}
	tasks, err := r.ListTasks(ctx, repo.TaskFilters{ProfileID: "alice", Sort: repo.SortDuration})
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(tasks) != 2 || tasks[0].ID != "group" || tasks[1].ID != "solo" {
		t.Fatalf("expected group (10h) before solo (5h), got %+v", tasks)
	}
}

func TestTaskRoundTripAndCascade(t *testing.T) {
	ctx := context.Background()
	r := newRepo(t)
	seedProfile(t, r, "bob")
	tk := task("bob", "t1", "Group report", 4, 6, 3)
	tk.Weight = 12.5
	if err := r.InsertTask(ctx, nil, tk); err != nil {
		t.Fatalf("insert: %v", err)
	}
	got, err := r.GetTask(ctx, "t1")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if !got.GroupWork || got.GroupSize != 3 || got.Weight != 12.5 || got.RealDuration() != 2 {
		t.Fatalf("unexpected task %+v", got)
	}

	got.Deadline = 9
	if err := r.UpdateTask(ctx, nil, got); err != nil {
		t.Fatalf("update: %v", err)
	}
	if byName, err := r.FindTaskByName(ctx, "bob", "Group report"); err != nil || byName.Deadline != 9 {
		t.Fatalf("find by name: %+v %v", byName, err)
	}

	if err := r.DeleteProfile(ctx, nil, "bob"); err != nil {
		t.Fatalf("delete profile: %v", err)
	}
	if _, err := r.GetTask(ctx, "t1"); !errors.Is(err, repo.ErrNotFound) {
		t.Fatalf("expected cascade delete, got %v", err)
	}
	if _, err := r.GetProfileConfig(ctx, "bob"); !errors.Is(err, repo.ErrNotFound) {
		t.Fatalf("expected config removed, got %v", err)
	}
}

func TestSingleProfile(t *testing.T) {
	ctx := context.Background()
	r := newRepo(t)
	if _, err := r.SingleProfile(ctx); !errors.Is(err, repo.ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
	seedProfile(t, r, "a")
	if p, err := r.SingleProfile(ctx); err != nil || p.ID != "a" {
		t.Fatalf("expected single profile a, got %+v %v", p, err)
	}
	seedProfile(t, r, "b")
	if _, err := r.SingleProfile(ctx); err == nil {
		t.Fatalf("expected ambiguity error")
	}
}

func TestAPIKeys(t *testing.T) {
	ctx := context.Background()
	r := newRepo(t)
	hash := repo.HashAPIKey(" secret ")
	if hash != repo.HashAPIKey("secret") {
		t.Fatalf("hash should ignore surrounding space")
	}
	if err := r.InsertAPIKey(ctx, nil, domain.APIKey{ID: "k1", ActorID: "ci", KeyHash: hash}); err != nil {
		t.Fatalf("insert key: %v", err)
	}
	key, err := r.LookupAPIKey(ctx, "secret")
	if err != nil || key.ActorID != "ci" || key.Name != "" {
		t.Fatalf("lookup: %+v %v", key, err)
	}
	if _, err := r.LookupAPIKey(ctx, "  "); !errors.Is(err, repo.ErrNotFound) {
		t.Fatalf("expected blank key to be rejected, got %v", err)
	}
	if err := r.InsertAPIKey(ctx, nil, domain.APIKey{ID: "k2", ActorID: "ops", Name: "deploy", KeyHash: repo.HashAPIKey("other")}); err != nil {
		t.Fatalf("insert second key: %v", err)
	}
	keys, err := r.ListAPIKeys(ctx, "ops")
	if err != nil || len(keys) != 1 || keys[0].Name != "deploy" {
		t.Fatalf("list for actor: %+v %v", keys, err)
	}
	if err := r.DeleteAPIKey(ctx, nil, "k1"); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if err := r.DeleteAPIKey(ctx, nil, "k1"); !errors.Is(err, repo.ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}
