// Package config loads the smartsched runtime configuration from defaults,
// an optional YAML file and SMARTSCHED_* environment variables.
package config

import (
	"fmt"
	"strings"
	"time"

	"smartsched/internal/domain/scheduling"
	schederrors "smartsched/internal/errors"
	"smartsched/internal/observability"
)

const (
	SessionBackendMemory = "memory"
	SessionBackendFile   = "file"
	SessionBackendSQLite = "sqlite"

	CalendarBackendMemory = "memory"
	CalendarBackendSQLite = "sqlite"

	ExtractorRules = "rules"
	ExtractorLLM   = "llm"
)

// Config is the full runtime configuration.
type Config struct {
	Scheduling    scheduling.Config    `yaml:"scheduling" mapstructure:"scheduling"`
	Server        ServerConfig         `yaml:"server" mapstructure:"server"`
	Session       SessionConfig        `yaml:"session" mapstructure:"session"`
	Calendar      CalendarConfig       `yaml:"calendar" mapstructure:"calendar"`
	Extractor     ExtractorConfig      `yaml:"extractor" mapstructure:"extractor"`
	Observability observability.Config `yaml:"observability" mapstructure:"observability"`
}

// ServerConfig configures the HTTP delivery layer.
type ServerConfig struct {
	Addr            string        `yaml:"addr" mapstructure:"addr"`
	AllowedOrigins  []string      `yaml:"allowed_origins" mapstructure:"allowed_origins"`
	ReadTimeout     time.Duration `yaml:"read_timeout" mapstructure:"read_timeout"`
	WriteTimeout    time.Duration `yaml:"write_timeout" mapstructure:"write_timeout"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout" mapstructure:"shutdown_timeout"`
	TurnTimeout     time.Duration `yaml:"turn_timeout" mapstructure:"turn_timeout"`
}

// SessionConfig selects where conversation contexts live.
type SessionConfig struct {
	Backend     string        `yaml:"backend" mapstructure:"backend"`
	IdleTTL     time.Duration `yaml:"idle_ttl" mapstructure:"idle_ttl"`
	MaxSessions int           `yaml:"max_sessions" mapstructure:"max_sessions"`
	Dir         string        `yaml:"dir" mapstructure:"dir"`
	SQLitePath  string        `yaml:"sqlite_path" mapstructure:"sqlite_path"`
}

// CalendarConfig selects the calendar collaborator and its resilience policy.
type CalendarConfig struct {
	Backend     string                           `yaml:"backend" mapstructure:"backend"`
	SQLitePath  string                           `yaml:"sqlite_path" mapstructure:"sqlite_path"`
	CalendarIDs []string                         `yaml:"calendar_ids" mapstructure:"calendar_ids"`
	CacheTTL    time.Duration                    `yaml:"cache_ttl" mapstructure:"cache_ttl"`
	CacheSize   int                              `yaml:"cache_size" mapstructure:"cache_size"`
	Timeout     time.Duration                    `yaml:"timeout" mapstructure:"timeout"`
	Retry       schederrors.RetryConfig          `yaml:"retry" mapstructure:"retry"`
	Breaker     schederrors.CircuitBreakerConfig `yaml:"breaker" mapstructure:"breaker"`
}

// ExtractorConfig selects how utterances become constraint deltas.
type ExtractorConfig struct {
	Backend string                  `yaml:"backend" mapstructure:"backend"`
	BaseURL string                  `yaml:"base_url" mapstructure:"base_url"`
	Model   string                  `yaml:"model" mapstructure:"model"`
	APIKey  string                  `yaml:"api_key" mapstructure:"api_key"`
	Timeout time.Duration           `yaml:"timeout" mapstructure:"timeout"`
	Retry   schederrors.RetryConfig `yaml:"retry" mapstructure:"retry"`
}

// Default returns the configuration used when no file or env var is set.
func Default() Config {
	return Config{
		Scheduling: scheduling.DefaultConfig(),
		Server: ServerConfig{
			Addr:            ":8080",
			AllowedOrigins:  []string{"*"},
			ReadTimeout:     15 * time.Second,
			WriteTimeout:    30 * time.Second,
			ShutdownTimeout: 10 * time.Second,
			TurnTimeout:     20 * time.Second,
		},
		Session: SessionConfig{
			Backend:     SessionBackendMemory,
			IdleTTL:     2 * time.Hour,
			MaxSessions: 10000,
			Dir:         "~/.smartsched/sessions",
			SQLitePath:  "~/.smartsched/sessions.db",
		},
		Calendar: CalendarConfig{
			Backend:     CalendarBackendMemory,
			SQLitePath:  "~/.smartsched/calendar.db",
			CalendarIDs: []string{"primary"},
			CacheTTL:    30 * time.Second,
			CacheSize:   256,
			Timeout:     5 * time.Second,
			Retry:       schederrors.DefaultRetryConfig(),
			Breaker:     schederrors.DefaultCircuitBreakerConfig(),
		},
		Extractor: ExtractorConfig{
			Backend: ExtractorRules,
			BaseURL: "https://api.openai.com/v1",
			Model:   "gpt-4o-mini",
			Timeout: 10 * time.Second,
			Retry:   schederrors.DefaultRetryConfig(),
		},
		Observability: observability.DefaultConfig(),
	}
}

// Validate reports every problem across all sections.
func (c Config) Validate() error {
	var problems []string
	if err := c.Scheduling.Validate(); err != nil {
		problems = append(problems, err.Error())
	}
	if err := c.Observability.Validate(); err != nil {
		problems = append(problems, err.Error())
	}
	if strings.TrimSpace(c.Server.Addr) == "" {
		problems = append(problems, "server.addr must be set")
	}
	if c.Server.TurnTimeout < 0 {
		problems = append(problems, "server.turn_timeout must not be negative")
	}

	switch c.Session.Backend {
	case SessionBackendMemory:
		if c.Session.MaxSessions <= 0 {
			problems = append(problems, "session.max_sessions must be positive")
		}
	case SessionBackendFile:
		if strings.TrimSpace(c.Session.Dir) == "" {
			problems = append(problems, "session.dir is required for the file backend")
		}
	case SessionBackendSQLite:
		if strings.TrimSpace(c.Session.SQLitePath) == "" {
			problems = append(problems, "session.sqlite_path is required for the sqlite backend")
		}
	default:
		problems = append(problems, fmt.Sprintf("session.backend %q must be memory, file or sqlite", c.Session.Backend))
	}
	if c.Session.IdleTTL < 0 {
		problems = append(problems, "session.idle_ttl must not be negative")
	}

	switch c.Calendar.Backend {
	case CalendarBackendMemory:
	case CalendarBackendSQLite:
		if strings.TrimSpace(c.Calendar.SQLitePath) == "" {
			problems = append(problems, "calendar.sqlite_path is required for the sqlite backend")
		}
	default:
		problems = append(problems, fmt.Sprintf("calendar.backend %q must be memory or sqlite", c.Calendar.Backend))
	}
	if len(c.Calendar.CalendarIDs) == 0 {
		problems = append(problems, "calendar.calendar_ids must not be empty")
	}
	if c.Calendar.Retry.MaxAttempts < 0 {
		problems = append(problems, "calendar.retry.max_attempts must not be negative")
	}

	switch c.Extractor.Backend {
	case ExtractorRules:
	case ExtractorLLM:
		if strings.TrimSpace(c.Extractor.BaseURL) == "" || strings.TrimSpace(c.Extractor.Model) == "" {
			problems = append(problems, "extractor.base_url and extractor.model are required for the llm backend")
		}
	default:
		problems = append(problems, fmt.Sprintf("extractor.backend %q must be rules or llm", c.Extractor.Backend))
	}

	if len(problems) > 0 {
		return fmt.Errorf("invalid config: %s", strings.Join(problems, "; "))
	}
	return nil
}
