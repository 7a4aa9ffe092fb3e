package studylinesdk

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// Client is a minimal Studyline HTTP API client.
type Client struct {
	BaseURL     string
	ProfileID   string
	APIKey      string
	BearerToken string
	HTTPClient  *http.Client
	Timeout     time.Duration
}

// New creates a client with sane defaults.
func New(baseURL, profileID string) *Client {
	return &Client{
		BaseURL:   baseURL,
		ProfileID: profileID,
		Timeout:   10 * time.Second,
	}
}

// Task represents the API task model.
type Task struct {
	ID           string  `json:"id,omitempty"`
	ProfileID    string  `json:"profile_id,omitempty"`
	Subject      string  `json:"subject"`
	Name         string  `json:"name"`
	Deadline     int     `json:"deadline"`
	Duration     int     `json:"duration"`
	Weight       float64 `json:"weight"`
	Size         int     `json:"size"`
	GroupWork    bool    `json:"group_work,omitempty"`
	GroupSize    int     `json:"group_size,omitempty"`
	RealDuration int     `json:"real_duration,omitempty"`
}

// ScheduleEvent is one planned study hour.
type ScheduleEvent struct {
	TaskID   string `json:"task_id"`
	TaskName string `json:"task_name"`
	Day      int    `json:"day"`
	Hour     int    `json:"hour"`
}

// Outcome reports a completed or missed task.
type Outcome struct {
	TaskID    string `json:"task_id"`
	Name      string `json:"name"`
	Day       int    `json:"day"`
	Remaining int    `json:"remaining"`
}

// Run summarizes a recorded schedule run.
type Run struct {
	ID           string `json:"id"`
	ProfileID    string `json:"profile_id"`
	WeekdayHours int    `json:"weekday_hours"`
	WeekendHours int    `json:"weekend_hours"`
	Days         int    `json:"days"`
	Events       int    `json:"events"`
	Completed    int    `json:"completed"`
	Missed       int    `json:"missed"`
	State        string `json:"state"`
	CreatedAt    string `json:"created_at"`
}

// Schedule is the result of RunSchedule.
type Schedule struct {
	Run       Run             `json:"run"`
	Events    []ScheduleEvent `json:"events"`
	Completed []Outcome       `json:"completed"`
	Missed    []Outcome       `json:"missed"`
}

// ScheduleOptions overrides the profile's stored settings for one run.
// Nil fields keep the stored values.
type ScheduleOptions struct {
	WeekdayHours *int `json:"weekday_hours,omitempty"`
	WeekendHours *int `json:"weekend_hours,omitempty"`
	MaxDays      int  `json:"max_days,omitempty"`
}

// APIError wraps non-2xx responses.
type APIError struct {
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("api error: status=%d body=%s", e.StatusCode, e.Body)
}

// ListTasks returns the profile's tasks. sort is one of created, deadline or
// duration; empty keeps insertion order.
func (c *Client) ListTasks(ctx context.Context, sort string) ([]Task, error) {
	endpoint := c.profilePath("tasks")
	if sort != "" {
		endpoint += "?sort=" + url.QueryEscape(sort)
	}
	var resp []Task
	err := c.do(ctx, http.MethodGet, endpoint, nil, &resp)
	return resp, err
}

// CreateTask adds a task and returns it with its assigned ID.
func (c *Client) CreateTask(ctx context.Context, t Task) (Task, error) {
	var resp Task
	err := c.do(ctx, http.MethodPost, c.profilePath("tasks"), t, &resp)
	return resp, err
}

// DeleteTask removes a task by ID or name.
func (c *Client) DeleteTask(ctx context.Context, ref string) error {
	return c.do(ctx, http.MethodDelete, c.profilePath("tasks/"+url.PathEscape(ref)), nil, nil)
}

// RunSchedule plans the profile's tasks.
func (c *Client) RunSchedule(ctx context.Context, opts ScheduleOptions) (Schedule, error) {
	var resp Schedule
	err := c.do(ctx, http.MethodPost, c.profilePath("schedule"), opts, &resp)
	return resp, err
}

// ScheduleICS plans the profile's tasks and returns the iCalendar document.
func (c *Client) ScheduleICS(ctx context.Context, opts ScheduleOptions) ([]byte, error) {
	var buf bytes.Buffer
	err := c.do(ctx, http.MethodPost, c.profilePath("schedule.ics"), opts, &buf)
	return buf.Bytes(), err
}

func (c *Client) do(ctx context.Context, method, endpoint string, body any, out any) error {
	if c.HTTPClient == nil {
		c.HTTPClient = &http.Client{Timeout: c.Timeout}
	}
	url := c.base() + "/" + strings.TrimLeft(endpoint, "/")
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			return err
		}
	}
	req, err := http.NewRequestWithContext(ctx, method, url, &buf)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	switch {
	case c.BearerToken != "":
		req.Header.Set("Authorization", "Bearer "+c.BearerToken)
	case c.APIKey != "":
		req.Header.Set("X-Api-Key", c.APIKey)
	}
	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		b, _ := io.ReadAll(resp.Body)
		return &APIError{StatusCode: resp.StatusCode, Body: string(b)}
	}
	switch dst := out.(type) {
	case nil:
		return nil
	case io.Writer:
		_, err := io.Copy(dst, resp.Body)
		return err
	default:
		return json.NewDecoder(resp.Body).Decode(out)
	}
}

func (c *Client) profilePath(p string) string {
	profile := url.PathEscape(c.ProfileID)
	return fmt.Sprintf("v0/profiles/%s/%s", profile, strings.TrimLeft(p, "/"))
}

func (c *Client) base() string {
	return strings.TrimRight(c.BaseURL, "/")
}
