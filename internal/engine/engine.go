package engine

import (
	"context"
	"crypto/rand"
	"database/sql"
	"encoding/hex"
	"errors"
	"fmt"
	"regexp"
	"time"

	"github.com/google/uuid"

	"studyline/internal/config"
	"studyline/internal/domain"
	"studyline/internal/events"
	"studyline/internal/metrics"
	"studyline/internal/repo"
)

type Engine struct {
	DB     *sql.DB
	Repo   repo.Repo
	Events events.Writer
	// Config is the active profile's config. Operations on another profile
	// load that profile's config from the database.
	Config  *config.Config
	Metrics *metrics.Metrics
	Now     func() time.Time
}

func New(db *sql.DB, cfg *config.Config) Engine {
	return Engine{
		DB:     db,
		Repo:   repo.Repo{DB: db},
		Events: events.Writer{DB: db},
		Config: cfg,
		Now:    time.Now,
	}
}

func (e Engine) now() time.Time {
	if e.Now != nil {
		return e.Now()
	}
	return time.Now()
}

func (e Engine) timestamp() string {
	return e.now().UTC().Format(time.RFC3339)
}

// ValidationError reports input the engine refuses to store.
type ValidationError struct {
	Field  string
	Reason string
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("%s %s", e.Field, e.Reason)
}

func invalid(field, reason string) error {
	return ValidationError{Field: field, Reason: reason}
}

var profileIDPattern = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9._-]{0,63}$`)

// CreateProfile stores a new profile with the default config.
func (e Engine) CreateProfile(ctx context.Context, id, name, actorID string) (domain.Profile, error) {
	if !profileIDPattern.MatchString(id) {
		return domain.Profile{}, invalid("profile id", "must be 1-64 letters, digits, '.', '_' or '-'")
	}
	if name == "" {
		name = id
	}
	p := domain.Profile{ID: id, Name: name, CreatedAt: e.timestamp()}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Profile{}, err
	}
	defer tx.Rollback()
	if err := e.Repo.InsertProfile(ctx, tx, p); err != nil {
		return domain.Profile{}, fmt.Errorf("insert profile: %w", err)
	}
	cfg := config.Default(id)
	cfg.Profile.Name = name
	if err := e.Repo.UpsertProfileConfigTx(ctx, tx, id, cfg); err != nil {
		return domain.Profile{}, fmt.Errorf("insert profile config: %w", err)
	}
	if err := e.Events.Append(ctx, tx, events.ProfileCreated, id, "profile", id, actorID, events.EventPayload{"name": name}); err != nil {
		return domain.Profile{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.Profile{}, err
	}
	return p, nil
}

// DeleteProfile drops a profile together with its tasks, config and runs.
func (e Engine) DeleteProfile(ctx context.Context, id, actorID string) error {
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()
	if err := e.Repo.DeleteProfile(ctx, tx, id); err != nil {
		return err
	}
	if err := e.Events.Append(ctx, tx, events.ProfileDeleted, id, "profile", id, actorID, nil); err != nil {
		return err
	}
	return tx.Commit()
}

// ImportConfig replaces a profile's stored config.
func (e Engine) ImportConfig(ctx context.Context, profileID string, cfg *config.Config, actorID string) error {
	if _, err := e.Repo.GetProfile(ctx, profileID); err != nil {
		return err
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()
	if err := e.Repo.UpsertProfileConfigTx(ctx, tx, profileID, cfg); err != nil {
		return err
	}
	if err := e.Events.Append(ctx, tx, events.ProfileConfigUpdated, profileID, "profile", profileID, actorID, events.EventPayload{
		"weekday_hours": cfg.Schedule.WeekdayHours,
		"weekend_hours": cfg.Schedule.WeekendHours,
	}); err != nil {
		return err
	}
	return tx.Commit()
}

// profileConfig returns the config for profileID, preferring the engine's
// own when it belongs to that profile.
func (e Engine) profileConfig(ctx context.Context, profileID string) (*config.Config, error) {
	if e.Config != nil && e.Config.Profile.ID == profileID {
		return e.Config, nil
	}
	cfg, err := e.Repo.GetProfileConfig(ctx, profileID)
	if errors.Is(err, repo.ErrNotFound) {
		if _, perr := e.Repo.GetProfile(ctx, profileID); perr != nil {
			return nil, perr
		}
		return config.Default(profileID), nil
	}
	return cfg, err
}

// CreateAPIKey issues a new key for actorID. The plaintext is returned once;
// only its hash is stored.
func (e Engine) CreateAPIKey(ctx context.Context, actorID, name string) (domain.APIKey, string, error) {
	if actorID == "" {
		return domain.APIKey{}, "", invalid("actor id", "is required")
	}
	raw := make([]byte, 24)
	if _, err := rand.Read(raw); err != nil {
		return domain.APIKey{}, "", err
	}
	plain := "sl_" + hex.EncodeToString(raw)
	key := domain.APIKey{
		ID:        uuid.NewString(),
		ActorID:   actorID,
		Name:      name,
		KeyHash:   repo.HashAPIKey(plain),
		CreatedAt: e.timestamp(),
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.APIKey{}, "", err
	}
	defer tx.Rollback()
	if err := e.Repo.InsertAPIKey(ctx, tx, key); err != nil {
		return domain.APIKey{}, "", err
	}
	if err := e.Events.Append(ctx, tx, events.APIKeyCreated, "", "api_key", key.ID, actorID, events.EventPayload{"name": name}); err != nil {
		return domain.APIKey{}, "", err
	}
	if err := tx.Commit(); err != nil {
		return domain.APIKey{}, "", err
	}
	return key, plain, nil
}

// RevokeAPIKey deletes a key so it no longer authenticates.
func (e Engine) RevokeAPIKey(ctx context.Context, id, actorID string) error {
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()
	if err := e.Repo.DeleteAPIKey(ctx, tx, id); err != nil {
		return err
	}
	if err := e.Events.Append(ctx, tx, events.APIKeyRevoked, "", "api_key", id, actorID, nil); err != nil {
		return err
	}
	return tx.Commit()
}
