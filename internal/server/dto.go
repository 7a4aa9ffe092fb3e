package server

import (
	"studyline/internal/config"
	"studyline/internal/domain"
	"studyline/internal/engine"
	"studyline/internal/planner"
)

// Request payloads

type CreateProfileRequest struct {
	ID   string `json:"id" example:"alice"`
	Name string `json:"name,omitempty"`
}

type CreateTaskRequest struct {
	ID        string  `json:"id,omitempty"`
	Subject   string  `json:"subject"`
	Name      string  `json:"name"`
	Deadline  int     `json:"deadline" minimum:"0" doc:"Days from today"`
	Duration  int     `json:"duration" minimum:"0" doc:"Total hours of work for the whole group"`
	Weight    float64 `json:"weight" minimum:"0"`
	Size      int     `json:"size" enum:"1,2,3"`
	GroupWork bool    `json:"group_work,omitempty"`
	GroupSize int     `json:"group_size,omitempty" minimum:"0"`
}

type UpdateTaskRequest struct {
	Subject   *string  `json:"subject,omitempty"`
	Name      *string  `json:"name,omitempty"`
	Deadline  *int     `json:"deadline,omitempty"`
	Duration  *int     `json:"duration,omitempty"`
	Weight    *float64 `json:"weight,omitempty"`
	Size      *int     `json:"size,omitempty" enum:"1,2,3"`
	GroupWork *bool    `json:"group_work,omitempty"`
	GroupSize *int     `json:"group_size,omitempty"`
}

// RunScheduleRequest overrides the profile's stored schedule settings for a
// single run. Omitted fields use the stored values.
type RunScheduleRequest struct {
	WeekdayHours *int `json:"weekday_hours,omitempty"`
	WeekendHours *int `json:"weekend_hours,omitempty"`
	MaxDays      int  `json:"max_days,omitempty" minimum:"0"`
}

type DevLoginRequest struct {
	ActorID string `json:"actor_id"`
}

// Response payloads

type TaskResponse struct {
	domain.Task
	RealDuration int `json:"real_duration"`
}

type ScheduleResponse struct {
	Run       domain.ScheduleRun      `json:"run"`
	Days      []planner.DayReport     `json:"days"`
	Events    []planner.ScheduleEvent `json:"events"`
	Completed []planner.Outcome       `json:"completed"`
	Missed    []planner.Outcome       `json:"missed"`
}

type ScheduleSettings struct {
	WeekdayHours int    `json:"weekday_hours"`
	WeekendHours int    `json:"weekend_hours"`
	StartHour    int    `json:"start_hour"`
	MaxDays      int    `json:"max_days"`
	Timezone     string `json:"timezone,omitempty"`
}

type CalendarSettings struct {
	ProdID      string `json:"prod_id,omitempty"`
	Description string `json:"description,omitempty"`
	Status      string `json:"status,omitempty"`
}

type WebhookSettings struct {
	URL string `json:"url"`
	// Secret is write-only; reads report SecretSet instead.
	Secret    string   `json:"secret,omitempty"`
	SecretSet bool     `json:"secret_set,omitempty" readOnly:"true"`
	Enabled   bool     `json:"enabled"`
	Events    []string `json:"events,omitempty"`
}

type ConfigResponse struct {
	Name     string            `json:"name,omitempty"`
	Schedule ScheduleSettings  `json:"schedule"`
	Calendar CalendarSettings  `json:"calendar"`
	Webhooks []WebhookSettings `json:"webhooks"`
}

type EventResponse struct {
	ID         int64  `json:"id"`
	TS         string `json:"ts" format:"date-time"`
	Type       string `json:"type"`
	EntityKind string `json:"entity_kind"`
	EntityID   string `json:"entity_id,omitempty"`
	ActorID    string `json:"actor_id"`
	Payload    string `json:"payload_json"`
}

type paginatedEvents struct {
	Items      []EventResponse `json:"items"`
	NextCursor string          `json:"next_cursor,omitempty"`
}

type WhoAmIResponse struct {
	ActorID string `json:"actor_id"`
	Source  string `json:"source"`
}

type DevLoginResponse struct {
	Token string `json:"token"`
}

// Mapping helpers

func taskResponse(t domain.Task) TaskResponse {
	return TaskResponse{Task: t, RealDuration: t.RealDuration()}
}

func mapTasks(items []domain.Task) []TaskResponse {
	out := make([]TaskResponse, 0, len(items))
	for _, t := range items {
		out = append(out, taskResponse(t))
	}
	return out
}

func scheduleResponse(res engine.RunResult) ScheduleResponse {
	return ScheduleResponse{
		Run:       res.Run,
		Days:      nonNilSlice(res.Days),
		Events:    nonNilSlice(res.Events),
		Completed: nonNilSlice(res.Completed),
		Missed:    nonNilSlice(res.Missed),
	}
}

func eventResponse(evt domain.Event) EventResponse {
	return EventResponse{
		ID:         evt.ID,
		TS:         evt.TS,
		Type:       evt.Type,
		EntityKind: evt.EntityKind,
		EntityID:   evt.EntityID,
		ActorID:    evt.ActorID,
		Payload:    evt.Payload,
	}
}

func configResponse(cfg *config.Config) ConfigResponse {
	out := ConfigResponse{
		Name: cfg.Profile.Name,
		Schedule: ScheduleSettings{
			WeekdayHours: cfg.Schedule.WeekdayHours,
			WeekendHours: cfg.Schedule.WeekendHours,
			StartHour:    cfg.Schedule.StartHour,
			MaxDays:      cfg.Schedule.MaxDays,
			Timezone:     cfg.Schedule.Timezone,
		},
		Calendar: CalendarSettings{
			ProdID:      cfg.Calendar.ProdID,
			Description: cfg.Calendar.Description,
			Status:      cfg.Calendar.Status,
		},
		Webhooks: []WebhookSettings{},
	}
	for _, h := range cfg.Webhooks {
		out.Webhooks = append(out.Webhooks, WebhookSettings{
			URL:       h.URL,
			SecretSet: h.Secret != "",
			Enabled:   h.Enabled,
			Events:    h.Events,
		})
	}
	return out
}

// applyConfig copies the API settings onto cfg. A webhook sent without a
// secret keeps the secret already stored for the same URL.
func applyConfig(cfg *config.Config, in ConfigResponse) {
	if in.Name != "" {
		cfg.Profile.Name = in.Name
	}
	cfg.Schedule.WeekdayHours = in.Schedule.WeekdayHours
	cfg.Schedule.WeekendHours = in.Schedule.WeekendHours
	cfg.Schedule.StartHour = in.Schedule.StartHour
	cfg.Schedule.MaxDays = in.Schedule.MaxDays
	cfg.Schedule.Timezone = in.Schedule.Timezone
	cfg.Calendar.ProdID = in.Calendar.ProdID
	cfg.Calendar.Description = in.Calendar.Description
	cfg.Calendar.Status = in.Calendar.Status

	secrets := make(map[string]string, len(cfg.Webhooks))
	for _, h := range cfg.Webhooks {
		secrets[h.URL] = h.Secret
	}
	hooks := make([]config.Webhook, 0, len(in.Webhooks))
	for _, h := range in.Webhooks {
		secret := h.Secret
		if secret == "" {
			secret = secrets[h.URL]
		}
		hooks = append(hooks, config.Webhook{URL: h.URL, Secret: secret, Enabled: h.Enabled, Events: h.Events})
	}
	cfg.Webhooks = hooks
}

func nonNilSlice[T any](in []T) []T {
	if in == nil {
		return []T{}
	}
	return in
}
