// ABOUTME: Configuration loading and parsing for dispatchd.
// ABOUTME: Supports YAML files with environment variable expansion and duration parsing.

package config

import (
	"fmt"
	"os"
	"regexp"
	"time"

	"gopkg.in/yaml.v3"
)

// Config represents the complete dispatchd configuration.
type Config struct {
	Store     StoreConfig     `yaml:"store"`
	Hours     HoursConfig     `yaml:"hours"`
	Agents    []AgentConfig   `yaml:"agents"`
	Dispatch  DispatchConfig  `yaml:"dispatch"`
	Server    ServerConfig    `yaml:"server"`
	Database  DatabaseConfig  `yaml:"database"`
	Logging   LoggingConfig   `yaml:"logging"`
	Metrics   MetricsConfig   `yaml:"metrics"`
	Transport TransportConfig `yaml:"transport"`
}

// StoreConfig describes the physical store the service fronts.
type StoreConfig struct {
	Name             string  `yaml:"name"`
	Address          string  `yaml:"address"`
	Latitude         float64 `yaml:"latitude"`
	Longitude        float64 `yaml:"longitude"`
	DeliveryRadiusKm float64 `yaml:"delivery_radius_km"`
	DeliveryFee      string  `yaml:"delivery_fee"`
}

// HoursConfig is the weekly opening table. Sunday is always closed.
type HoursConfig struct {
	WeekdayOpen   int `yaml:"weekday_open"`
	WeekdayClose  int `yaml:"weekday_close"`
	SaturdayOpen  int `yaml:"saturday_open"`
	SaturdayClose int `yaml:"saturday_close"`
}

// AgentConfig declares one agent in the roster.
type AgentConfig struct {
	ID       string `yaml:"id"`
	Name     string `yaml:"name"`
	Capacity int    `yaml:"capacity"`
}

// DispatchConfig holds scheduler timing configuration.
type DispatchConfig struct {
	IdleWarn       time.Duration `yaml:"-"`
	IdleClose      time.Duration `yaml:"-"`
	ChoiceDeadline time.Duration `yaml:"-"`
	QueueMaxAge    time.Duration `yaml:"-"`
	LookupTimeout  time.Duration `yaml:"-"`
	FallbackDelay  time.Duration `yaml:"-"`

	// Raw string values for YAML unmarshaling
	IdleWarnRaw       string `yaml:"idle_warn"`
	IdleCloseRaw      string `yaml:"idle_close"`
	ChoiceDeadlineRaw string `yaml:"choice_deadline"`
	QueueMaxAgeRaw    string `yaml:"queue_max_age"`
	LookupTimeoutRaw  string `yaml:"lookup_timeout"`
	FallbackDelayRaw  string `yaml:"fallback_delay"`
}

// ServerConfig holds listener address configuration.
type ServerConfig struct {
	HTTPAddr string `yaml:"http_addr"`
}

// DatabaseConfig holds database configuration.
type DatabaseConfig struct {
	Path string `yaml:"path"`
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// MetricsConfig holds metrics endpoint configuration.
type MetricsConfig struct {
	Enabled bool   `yaml:"enabled"`
	Path    string `yaml:"path"`
}

// TransportConfig points at the messaging bridge that carries customer texts.
// With no outbound URL, outbound messages are logged instead of delivered,
// which is how development deployments run.
type TransportConfig struct {
	OutboundURL string `yaml:"outbound_url"`
	Token       string `yaml:"token"`
}

// Load reads a configuration file from the given path and returns a parsed
// Config. Environment variables in the format ${VAR_NAME} are expanded and
// duration strings are parsed into time.Duration values.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	expandedData := expandEnvVars(string(data))

	cfg := Default()
	if err := yaml.Unmarshal([]byte(expandedData), cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	if err := parseDurations(cfg); err != nil {
		return nil, fmt.Errorf("parsing durations: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return cfg, nil
}

// Default returns a Config pre-filled with the deployment defaults: published
// store hours, the idle warn/close pair, menu deadline, and queue staleness.
func Default() *Config {
	return &Config{
		Hours: HoursConfig{
			WeekdayOpen:   7,
			WeekdayClose:  21,
			SaturdayOpen:  7,
			SaturdayClose: 20,
		},
		Dispatch: DispatchConfig{
			IdleWarn:       5 * time.Minute,
			IdleClose:      time.Minute,
			ChoiceDeadline: 30 * time.Second,
			QueueMaxAge:    24 * time.Hour,
			LookupTimeout:  10 * time.Second,
			FallbackDelay:  2 * time.Second,
		},
		Server:  ServerConfig{HTTPAddr: ":8080"},
		Logging: LoggingConfig{Level: "info", Format: "text"},
		Metrics: MetricsConfig{Enabled: true, Path: "/metrics"},
	}
}

// expandEnvVars replaces ${VAR_NAME} patterns with the corresponding
// environment variable values. Unset variables become empty strings.
func expandEnvVars(s string) string {
	re := regexp.MustCompile(`\$\{([^}]+)\}`)

	return re.ReplaceAllStringFunc(s, func(match string) string {
		varName := re.FindStringSubmatch(match)[1]
		return os.Getenv(varName)
	})
}

// Validate checks that all required configuration fields are present and valid.
// Returns an error describing the first validation failure encountered.
func (c *Config) Validate() error {
	if c.Database.Path == "" {
		return fmt.Errorf("database.path is required")
	}
	if len(c.Agents) == 0 {
		return fmt.Errorf("at least one agent is required")
	}

	seen := make(map[string]bool, len(c.Agents))
	for i, a := range c.Agents {
		if a.ID == "" {
			return fmt.Errorf("agents[%d].id is required", i)
		}
		if seen[a.ID] {
			return fmt.Errorf("duplicate agent id %q", a.ID)
		}
		seen[a.ID] = true
		if a.Capacity <= 0 {
			return fmt.Errorf("agents[%d].capacity must be positive", i)
		}
	}

	if !validHourRange(c.Hours.WeekdayOpen, c.Hours.WeekdayClose) {
		return fmt.Errorf("hours.weekday_open/weekday_close range is invalid")
	}
	if !validHourRange(c.Hours.SaturdayOpen, c.Hours.SaturdayClose) {
		return fmt.Errorf("hours.saturday_open/saturday_close range is invalid")
	}

	return nil
}

func validHourRange(open, close int) bool {
	return open >= 0 && close <= 23 && open < close
}

// parseDurations converts the raw duration strings into time.Duration values.
func parseDurations(cfg *Config) error {
	fields := []struct {
		raw  string
		name string
		dst  *time.Duration
	}{
		{cfg.Dispatch.IdleWarnRaw, "idle_warn", &cfg.Dispatch.IdleWarn},
		{cfg.Dispatch.IdleCloseRaw, "idle_close", &cfg.Dispatch.IdleClose},
		{cfg.Dispatch.ChoiceDeadlineRaw, "choice_deadline", &cfg.Dispatch.ChoiceDeadline},
		{cfg.Dispatch.QueueMaxAgeRaw, "queue_max_age", &cfg.Dispatch.QueueMaxAge},
		{cfg.Dispatch.LookupTimeoutRaw, "lookup_timeout", &cfg.Dispatch.LookupTimeout},
		{cfg.Dispatch.FallbackDelayRaw, "fallback_delay", &cfg.Dispatch.FallbackDelay},
	}

	for _, f := range fields {
		if f.raw == "" {
			continue
		}
		d, err := time.ParseDuration(f.raw)
		if err != nil {
			return fmt.Errorf("parsing %s %q: %w", f.name, f.raw, err)
		}
		*f.dst = d
	}

	return nil
}
