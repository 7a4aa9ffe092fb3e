package config

import (
	"bytes"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config models studyline.yml.
type Config struct {
	Profile struct {
		ID   string `yaml:"id"`
		Name string `yaml:"name"`
	} `yaml:"profile"`
	Schedule Schedule  `yaml:"schedule"`
	Calendar Calendar  `yaml:"calendar"`
	Webhooks []Webhook `yaml:"webhooks"`
}

type Schedule struct {
	WeekdayHours int    `yaml:"weekday_hours"`
	WeekendHours int    `yaml:"weekend_hours"`
	StartHour    int    `yaml:"start_hour"`
	MaxDays      int    `yaml:"max_days"`
	Timezone     string `yaml:"timezone"`
}

type Calendar struct {
	ProdID      string `yaml:"prod_id"`
	Description string `yaml:"description"`
	Status      string `yaml:"status"`
	OutputDir   string `yaml:"output_dir"`
	Google      Google `yaml:"google"`
}

type Google struct {
	CalendarName    string `yaml:"calendar_name"`
	CredentialsFile string `yaml:"credentials_file"`
	TokenFile       string `yaml:"token_file"`
}

type Webhook struct {
	URL     string   `yaml:"url"`
	Secret  string   `yaml:"secret"`
	Enabled bool     `yaml:"enabled"`
	Events  []string `yaml:"events"`
}

// Load reads and validates config from workspace.
func Load(workspace string) (*Config, error) {
	path := Path(workspace)
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("config %s not found; import with sl profile config import --file <path>", path)
		}
		return nil, err
	}
	return FromYAML(data)
}

// Validate ensures the config meets required structure.
func (c *Config) Validate() error {
	if c.Profile.ID == "" {
		return fmt.Errorf("config.profile.id is required")
	}
	s := c.Schedule
	if s.WeekdayHours < 0 || s.WeekdayHours > 24 {
		return fmt.Errorf("config.schedule.weekday_hours must be between 0 and 24")
	}
	if s.WeekendHours < 0 || s.WeekendHours > 24 {
		return fmt.Errorf("config.schedule.weekend_hours must be between 0 and 24")
	}
	if s.WeekdayHours == 0 && s.WeekendHours == 0 {
		return fmt.Errorf("config.schedule needs study hours on weekdays or weekends")
	}
	if s.StartHour < 0 || s.StartHour > 23 {
		return fmt.Errorf("config.schedule.start_hour must be between 0 and 23")
	}
	if s.MaxDays < 1 {
		return fmt.Errorf("config.schedule.max_days must be positive")
	}
	if _, err := c.Location(); err != nil {
		return fmt.Errorf("config.schedule.timezone: %w", err)
	}
	switch c.Calendar.Status {
	case "CONFIRMED", "TENTATIVE", "CANCELLED":
	default:
		return fmt.Errorf("config.calendar.status must be CONFIRMED, TENTATIVE or CANCELLED")
	}
	if strings.TrimSpace(c.Calendar.ProdID) == "" {
		return fmt.Errorf("config.calendar.prod_id is required")
	}
	for i, hook := range c.Webhooks {
		if hook.URL == "" {
			return fmt.Errorf("webhook %d has empty url", i)
		}
		u, err := url.Parse(hook.URL)
		if err != nil || (u.Scheme != "http" && u.Scheme != "https") {
			return fmt.Errorf("webhook %d url must be http(s)", i)
		}
		for _, evt := range hook.Events {
			if evt == "" {
				return fmt.Errorf("webhook %d has empty event type", i)
			}
		}
	}
	return nil
}

// Location resolves the schedule timezone. An empty value or "Local" is the
// host's zone.
func (c *Config) Location() (*time.Location, error) {
	switch c.Schedule.Timezone {
	case "", "Local":
		return time.Local, nil
	default:
		return time.LoadLocation(c.Schedule.Timezone)
	}
}

// ICSPath is where a profile's schedule is written when no output file is given.
func (c *Config) ICSPath(workspace string) string {
	dir := c.Calendar.OutputDir
	if dir == "" {
		dir = "Data"
	}
	if !filepath.IsAbs(dir) {
		if workspace == "" {
			workspace = "."
		}
		dir = filepath.Join(workspace, dir)
	}
	return filepath.Join(dir, c.Profile.ID+"_schedule.ics")
}

// Path returns the config file path for a workspace.
func Path(workspace string) string {
	if workspace == "" {
		workspace = "."
	}
	return filepath.Join(workspace, "studyline.yml")
}

// GenerateDefault returns default config YAML.
func GenerateDefault(profileID string) string {
	return fmt.Sprintf(defaultTemplate, profileID, profileID)
}

// LoadOptional returns nil,nil if the config file does not exist.
func LoadOptional(workspace string) (*Config, error) {
	path := Path(workspace)
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	return FromYAML(data)
}

// Default returns the default Config struct for a profile.
func Default(profileID string) *Config {
	var cfg Config
	_ = yaml.NewDecoder(bytes.NewBufferString(GenerateDefault(profileID))).Decode(&cfg)
	cfg.Profile.ID = profileID
	return &cfg
}

// FromYAML parses and validates config from raw YAML bytes. Missing schedule
// and calendar fields fall back to the defaults.
func FromYAML(data []byte) (*Config, error) {
	cfg := Default("")
	cfg.Profile.Name = ""
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("invalid config yaml: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// FromFile reads YAML config from the given path.
func FromFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return FromYAML(data)
}

// YAML renders the config back to YAML.
func (c *Config) YAML() ([]byte, error) {
	return yaml.Marshal(c)
}

const defaultTemplate = `profile:
  id: %s
  name: %s

schedule:
  weekday_hours: 3
  weekend_hours: 5
  start_hour: 18
  max_days: 3650
  timezone: Local

calendar:
  prod_id: "-//Planner App//EN"
  description: Scheduled Assignment
  status: CONFIRMED
  output_dir: Data
  google:
    calendar_name: Studyline
    credentials_file: credentials.json
    token_file: token.json

webhooks: []
`
