package domain

type Profile struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	CreatedAt string `json:"created_at" format:"date-time"`
}

// Task is a stored assignment. Deadline is in days from today and Duration is
// the total group effort in hours.
type Task struct {
	ID        string  `json:"id"`
	ProfileID string  `json:"profile_id"`
	Subject   string  `json:"subject"`
	Name      string  `json:"name"`
	Deadline  int     `json:"deadline"`
	Duration  int     `json:"duration"`
	Weight    float64 `json:"weight"`
	Size      int     `json:"size" enum:"1,2,3"`
	GroupWork bool    `json:"group_work"`
	GroupSize int     `json:"group_size"`
	Seq       int64   `json:"-"`
	CreatedAt string  `json:"created_at" format:"date-time"`
	UpdatedAt string  `json:"updated_at" format:"date-time"`
}

// RealDuration is the share of Duration the profile owner has to do.
func (t Task) RealDuration() int {
	if t.GroupSize < 1 {
		return t.Duration
	}
	return t.Duration / t.GroupSize
}

type ScheduleRun struct {
	ID           string `json:"id"`
	ProfileID    string `json:"profile_id"`
	WeekdayHours int    `json:"weekday_hours"`
	WeekendHours int    `json:"weekend_hours"`
	Tasks        int    `json:"tasks"`
	Days         int    `json:"days"`
	Events       int    `json:"events"`
	Completed    int    `json:"completed"`
	Missed       int    `json:"missed"`
	State        string `json:"state" enum:"done,aborted"`
	CreatedAt    string `json:"created_at" format:"date-time"`
}

type Event struct {
	ID         int64  `json:"id"`
	TS         string `json:"ts" format:"date-time"`
	Type       string `json:"type"`
	ProfileID  string `json:"profile_id,omitempty"`
	EntityKind string `json:"entity_kind"`
	EntityID   string `json:"entity_id,omitempty"`
	ActorID    string `json:"actor_id"`
	Payload    string `json:"payload_json"`
}

type APIKey struct {
	ID        string `json:"id"`
	ActorID   string `json:"actor_id"`
	Name      string `json:"name,omitempty"`
	KeyHash   string `json:"key_hash"`
	CreatedAt string `json:"created_at" format:"date-time"`
}
