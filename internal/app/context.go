package app

import (
	"context"
	"errors"
	"fmt"

	"studyline/internal/config"
	"studyline/internal/engine"
	"studyline/internal/repo"
)

// ResolveProfileAndConfig picks the active profile and makes sure it has a
// stored config. The override wins, then the only profile in the database.
// An overridden profile that does not exist yet is created with defaults.
func ResolveProfileAndConfig(ctx context.Context, profileOverride, actorID string, e engine.Engine) (string, *config.Config, error) {
	r := e.Repo
	profileID := profileOverride
	if profileID == "" {
		p, err := r.SingleProfile(ctx)
		if err != nil {
			if errors.Is(err, repo.ErrNotFound) {
				return "", nil, fmt.Errorf("no profile yet; create one with sl profile create <name> or pass --profile")
			}
			return "", nil, err
		}
		profileID = p.ID
	}

	if _, err := r.GetProfile(ctx, profileID); err != nil {
		if !errors.Is(err, repo.ErrNotFound) {
			return "", nil, err
		}
		if actorID == "" {
			actorID = "local-user"
		}
		if _, err := e.CreateProfile(ctx, profileID, profileID, actorID); err != nil {
			return "", nil, fmt.Errorf("create profile: %w", err)
		}
	}
	cfg, err := r.GetProfileConfig(ctx, profileID)
	if err != nil {
		if !errors.Is(err, repo.ErrNotFound) {
			return "", nil, err
		}
		cfg = config.Default(profileID)
		if err := r.UpsertProfileConfig(ctx, profileID, cfg); err != nil {
			return "", nil, fmt.Errorf("seed profile config: %w", err)
		}
	}
	cfg.Profile.ID = profileID
	return profileID, cfg, nil
}
