package config

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"time"

	"github.com/go-viper/mapstructure/v2"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"
)

// EnvPrefix namespaces environment overrides, e.g. SMARTSCHED_SERVER_ADDR.
const EnvPrefix = "SMARTSCHED"

// DefaultFileName is looked up in the search paths when no file is given.
const DefaultFileName = "smartsched"

type loadOptions struct {
	configFile  string
	searchPaths []string
	homeDir     func() (string, error)
}

// Option customizes Load.
type Option func(*loadOptions)

// WithConfigFile loads exactly this file; a missing file is an error.
func WithConfigFile(path string) Option {
	return func(o *loadOptions) { o.configFile = path }
}

// WithSearchPaths replaces the directories searched for smartsched.yaml.
func WithSearchPaths(paths ...string) Option {
	return func(o *loadOptions) { o.searchPaths = paths }
}

// WithHomeDir overrides home directory resolution.
func WithHomeDir(fn func() (string, error)) Option {
	return func(o *loadOptions) { o.homeDir = fn }
}

// Metadata describes where the configuration came from.
type Metadata struct {
	File     string
	LoadedAt time.Time
}

// Load merges defaults, the config file (if any) and environment overrides,
// expands home-relative paths and validates the result.
func Load(opts ...Option) (Config, Metadata, error) {
	options := loadOptions{homeDir: os.UserHomeDir}
	for _, opt := range opts {
		opt(&options)
	}
	if options.searchPaths == nil {
		options.searchPaths = []string{"."}
		if home, err := options.homeDir(); err == nil {
			options.searchPaths = append(options.searchPaths, filepath.Join(home, ".smartsched"))
		}
	}

	v := viper.New()
	v.SetConfigType("yaml")

	defaults, err := yaml.Marshal(Default())
	if err != nil {
		return Config{}, Metadata{}, fmt.Errorf("encode defaults: %w", err)
	}
	if err := v.ReadConfig(bytes.NewReader(defaults)); err != nil {
		return Config{}, Metadata{}, fmt.Errorf("load defaults: %w", err)
	}

	meta := Metadata{LoadedAt: time.Now()}
	if options.configFile != "" {
		v.SetConfigFile(options.configFile)
		if err := v.MergeInConfig(); err != nil {
			return Config{}, Metadata{}, fmt.Errorf("read config file %s: %w", options.configFile, err)
		}
		meta.File = options.configFile
	} else {
		v.SetConfigName(DefaultFileName)
		for _, path := range options.searchPaths {
			v.AddConfigPath(path)
		}
		if err := v.MergeInConfig(); err != nil {
			var notFound viper.ConfigFileNotFoundError
			if !errors.As(err, &notFound) {
				return Config{}, Metadata{}, fmt.Errorf("read config file: %w", err)
			}
		} else {
			meta.File = v.ConfigFileUsed()
		}
	}

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	var cfg Config
	decodeHook := viper.DecodeHook(mapstructure.ComposeDecodeHookFunc(
		mapstructure.StringToTimeDurationHookFunc(),
		mapstructure.StringToSliceHookFunc(","),
		weekdayHook(),
	))
	if err := v.Unmarshal(&cfg, decodeHook); err != nil {
		return Config{}, Metadata{}, fmt.Errorf("decode config: %w", err)
	}

	cfg.Session.Dir = expandHome(cfg.Session.Dir, options.homeDir)
	cfg.Session.SQLitePath = expandHome(cfg.Session.SQLitePath, options.homeDir)
	cfg.Calendar.SQLitePath = expandHome(cfg.Calendar.SQLitePath, options.homeDir)

	if err := cfg.Validate(); err != nil {
		return Config{}, Metadata{}, err
	}
	return cfg, meta, nil
}

// WriteDefault writes the default configuration as YAML. An existing file is
// kept unless overwrite is set.
func WriteDefault(path string, overwrite bool) error {
	if !overwrite {
		if _, err := os.Stat(path); err == nil {
			return fmt.Errorf("config file %s already exists", path)
		} else if !errors.Is(err, os.ErrNotExist) {
			return fmt.Errorf("stat config file: %w", err)
		}
	}

	encoded, err := yaml.Marshal(Default())
	if err != nil {
		return fmt.Errorf("encode config: %w", err)
	}
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("ensure config directory: %w", err)
		}
	}
	if err := os.WriteFile(path, encoded, 0o600); err != nil {
		return fmt.Errorf("write config file: %w", err)
	}
	return nil
}

var weekdayNames = map[string]time.Weekday{
	"sunday": time.Sunday, "sun": time.Sunday,
	"monday": time.Monday, "mon": time.Monday,
	"tuesday": time.Tuesday, "tue": time.Tuesday,
	"wednesday": time.Wednesday, "wed": time.Wednesday,
	"thursday": time.Thursday, "thu": time.Thursday,
	"friday": time.Friday, "fri": time.Friday,
	"saturday": time.Saturday, "sat": time.Saturday,
}

// weekdayHook lets working_days be written as names ("mon", "Friday").
func weekdayHook() mapstructure.DecodeHookFuncType {
	weekdayType := reflect.TypeOf(time.Weekday(0))
	return func(from reflect.Type, to reflect.Type, data any) (any, error) {
		if to != weekdayType || from.Kind() != reflect.String {
			return data, nil
		}
		raw := strings.ToLower(strings.TrimSpace(data.(string)))
		if day, ok := weekdayNames[raw]; ok {
			return day, nil
		}
		var n int
		if _, err := fmt.Sscanf(raw, "%d", &n); err == nil && n >= 0 && n <= 6 {
			return time.Weekday(n), nil
		}
		return nil, fmt.Errorf("unknown weekday %q", data)
	}
}

func expandHome(path string, homeDir func() (string, error)) string {
	if path != "~" && !strings.HasPrefix(path, "~/") {
		return path
	}
	home, err := homeDir()
	if err != nil || home == "" {
		return path
	}
	return filepath.Join(home, strings.TrimPrefix(path, "~"))
}
