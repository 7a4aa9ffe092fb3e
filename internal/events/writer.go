package events

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"
)

// Event types appended by the engine.
const (
	ProfileCreated       = "profile.created"
	ProfileDeleted       = "profile.deleted"
	ProfileConfigUpdated = "profile.config.updated"
	TaskCreated          = "task.created"
	TaskUpdated          = "task.updated"
	TaskDeleted          = "task.deleted"
	TaskMissed           = "task.missed"
	TasksImported        = "tasks.imported"
	ScheduleRunCompleted = "schedule.run.completed"
	APIKeyCreated        = "apikey.created"
	APIKeyRevoked        = "apikey.revoked"
)

type Writer struct {
	DB  *sql.DB
	Now func() time.Time
}

type EventPayload map[string]any

// Append records an event inside tx so it commits together with the change
// it describes.
func (w Writer) Append(ctx context.Context, tx *sql.Tx, evtType, profileID, entityKind, entityID, actorID string, payload EventPayload) error {
	if w.Now == nil {
		w.Now = time.Now
	}
	if payload == nil {
		payload = EventPayload{}
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal event payload: %w", err)
	}
	_, err = tx.ExecContext(ctx, `INSERT INTO events(ts,type,profile_id,entity_kind,entity_id,actor_id,payload_json) VALUES (?,?,?,?,?,?,?)`,
		w.Now().UTC().Format(time.RFC3339), evtType, nullable(profileID), entityKind, nullable(entityID), actorID, string(data))
	if err != nil {
		return fmt.Errorf("append %s: %w", evtType, err)
	}
	return nil
}

func nullable(v string) any {
	if v == "" {
		return nil
	}
	return v
}
