package observability

import (
	"fmt"
	"strings"
)

// Config represents the complete observability configuration
type Config struct {
	Logging LoggingConfig `yaml:"logging" mapstructure:"logging"`
	Metrics MetricsConfig `yaml:"metrics" mapstructure:"metrics"`
	Tracing TracingConfig `yaml:"tracing" mapstructure:"tracing"`
}

// LoggingConfig configures logging
type LoggingConfig struct {
	Level  string `yaml:"level" mapstructure:"level"`   // debug, info, warn, error
	Format string `yaml:"format" mapstructure:"format"` // json, text
}

// DefaultConfig returns the default observability configuration
func DefaultConfig() Config {
	return Config{
		Logging: LoggingConfig{
			Level:  "info",
			Format: "text",
		},
		Metrics: MetricsConfig{
			Enabled:        true,
			PrometheusPort: 0,
		},
		Tracing: TracingConfig{
			Enabled:        false,
			Exporter:       "otlp",
			OTLPEndpoint:   "localhost:4318",
			SampleRate:     1.0,
			ServiceName:    "smartsched",
			ServiceVersion: "dev",
		},
	}
}

// Validate reports every problem with the observability section.
func (c Config) Validate() error {
	var problems []string
	switch strings.ToLower(c.Logging.Format) {
	case "", "json", "text":
	default:
		problems = append(problems, fmt.Sprintf("logging.format %q must be json or text", c.Logging.Format))
	}
	switch strings.ToLower(c.Logging.Level) {
	case "", "debug", "info", "warn", "warning", "error":
	default:
		problems = append(problems, fmt.Sprintf("logging.level %q is unknown", c.Logging.Level))
	}
	if c.Metrics.PrometheusPort < 0 || c.Metrics.PrometheusPort > 65535 {
		problems = append(problems, "metrics.prometheus_port must be within 0-65535")
	}
	if c.Tracing.Enabled {
		switch c.Tracing.Exporter {
		case "otlp", "zipkin":
		default:
			problems = append(problems, fmt.Sprintf("tracing.exporter %q must be otlp or zipkin", c.Tracing.Exporter))
		}
	}
	if c.Tracing.SampleRate < 0 || c.Tracing.SampleRate > 1 {
		problems = append(problems, "tracing.sample_rate must be within 0-1")
	}
	if len(problems) > 0 {
		return fmt.Errorf("invalid observability config: %s", strings.Join(problems, "; "))
	}
	return nil
}
