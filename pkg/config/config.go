package config

import (
	"fmt"
	"os"
	"time"

	"muni2board/pkg/types"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"
)

const (
	// DefaultBaseURL is the 511.org StopMonitoring endpoint.
	DefaultBaseURL = "http://api.511.org/transit/StopMonitoring"
	// DefaultAgency is the primary feed agency code.
	DefaultAgency = "SF"

	defaultPollIntervalSeconds = 30
	defaultBoardPort           = 8080
)

// Config is the root application configuration, loaded from YAML and
// validated before anything starts.
type Config struct {
	Feed    FeedConfig         `yaml:"feed"`
	Stops   []types.StopConfig `yaml:"stops" validate:"required,min=1,dive"`
	Commute CommuteConfig      `yaml:"commute"`
	Board   BoardConfig        `yaml:"board"`
}

// FeedConfig configures the upstream StopMonitoring feed.
type FeedConfig struct {
	BaseURL string `yaml:"baseURL" validate:"omitempty,url"`
	// APIKey may be left empty in the file and supplied via the
	// TRANSIT_API_KEY environment variable instead.
	APIKey              string `yaml:"apiKey"`
	Agency              string `yaml:"agency"`
	PollIntervalSeconds int    `yaml:"pollIntervalSeconds" validate:"gte=0"`
}

// PollInterval returns the polling interval as a duration.
func (f FeedConfig) PollInterval() time.Duration {
	secs := f.PollIntervalSeconds
	if secs <= 0 {
		secs = defaultPollIntervalSeconds
	}
	return time.Duration(secs) * time.Second
}

// BoardConfig configures the HTTP API serving the board state.
type BoardConfig struct {
	Port int `yaml:"port" validate:"gte=0"`
}

// CommuteConfig is the static multi-leg travel-time model. The fixed
// offsets are empirically tuned for a specific commute; they are
// configuration, not derived values.
type CommuteConfig struct {
	Legs     []Leg          `yaml:"legs" validate:"dive"`
	Severity SeverityConfig `yaml:"severity"`
}

// Leg is one segment of the commute. A leg contributes either a fixed
// duration or, when Options is set, the minimum of next-arrival plus
// offset across the listed alternative stops.
type Leg struct {
	Name         string      `yaml:"name" validate:"required"`
	FixedMinutes int         `yaml:"fixedMinutes" validate:"gte=0"`
	Options      []LegOption `yaml:"options" validate:"dive"`
}

// LegOption is one alternative boarding stop for a leg.
type LegOption struct {
	Stop         string `yaml:"stop" validate:"required"`
	ExtraMinutes int    `yaml:"extraMinutes" validate:"gte=0"`
}

// SeverityConfig holds the clock-time boundaries used to categorize
// the estimated arrival time, in "HH:MM" local time.
type SeverityConfig struct {
	EarlyBefore string `yaml:"earlyBefore"`
	LateAfter   string `yaml:"lateAfter"`
}

// Load reads, defaults and validates the configuration at path.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	cfg.applyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) applyDefaults() {
	if c.Feed.BaseURL == "" {
		c.Feed.BaseURL = DefaultBaseURL
	}
	if c.Feed.Agency == "" {
		c.Feed.Agency = DefaultAgency
	}
	if c.Feed.APIKey == "" {
		c.Feed.APIKey = os.Getenv("TRANSIT_API_KEY")
	}
	if c.Board.Port == 0 {
		c.Board.Port = defaultBoardPort
	}
	for i := range c.Stops {
		if c.Stops[i].Agency == "" {
			c.Stops[i].Agency = c.Feed.Agency
		}
	}
}

// Validate checks struct tags plus the invariants the tags can't
// express: window ordering, leg shape, and leg stop references.
func (c *Config) Validate() error {
	v := validator.New()
	if err := v.Struct(c); err != nil {
		return fmt.Errorf("validate config: %w", err)
	}
	codes := map[string]bool{}
	for _, s := range c.Stops {
		if codes[s.Code] {
			return fmt.Errorf("stop %s: duplicate code", s.Code)
		}
		codes[s.Code] = true
		if s.MaxMinutes > 0 && s.MinMinutes > s.MaxMinutes {
			return fmt.Errorf("stop %s: minMinutes %d exceeds maxMinutes %d", s.Code, s.MinMinutes, s.MaxMinutes)
		}
	}
	for _, leg := range c.Commute.Legs {
		if leg.FixedMinutes > 0 && len(leg.Options) > 0 {
			return fmt.Errorf("leg %q: fixedMinutes and options are mutually exclusive", leg.Name)
		}
		if leg.FixedMinutes == 0 && len(leg.Options) == 0 {
			return fmt.Errorf("leg %q: needs fixedMinutes or options", leg.Name)
		}
		for _, opt := range leg.Options {
			if !codes[opt.Stop] {
				return fmt.Errorf("leg %q: unknown stop %s", leg.Name, opt.Stop)
			}
		}
	}
	if _, err := ParseClock(c.Commute.Severity.EarlyBefore); c.Commute.Severity.EarlyBefore != "" && err != nil {
		return fmt.Errorf("severity earlyBefore: %w", err)
	}
	if _, err := ParseClock(c.Commute.Severity.LateAfter); c.Commute.Severity.LateAfter != "" && err != nil {
		return fmt.Errorf("severity lateAfter: %w", err)
	}
	return nil
}

// Clock is a time of day with minute resolution.
type Clock struct {
	Hour   int
	Minute int
}

// ParseClock parses "HH:MM".
func ParseClock(s string) (Clock, error) {
	t, err := time.Parse("15:04", s)
	if err != nil {
		return Clock{}, fmt.Errorf("invalid clock time %q: %w", s, err)
	}
	return Clock{Hour: t.Hour(), Minute: t.Minute()}, nil
}

// MinuteOfDay returns the clock time as minutes since midnight.
func (c Clock) MinuteOfDay() int {
	return c.Hour*60 + c.Minute
}
