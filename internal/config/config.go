// Package config loads foreman's configuration from a YAML or JSON file.
//
// YAML is coerced to JSON bytes so both formats run through the same strict
// decoder (DisallowUnknownFields): a typoed key fails loudly at boot instead
// of silently using a default.
package config

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	yaml "go.yaml.in/yaml/v3"
)

type Config struct {
	Logging   LoggingConfig   `json:"logging"`
	Storage   StorageConfig   `json:"storage"`
	Scheduler SchedulerConfig `json:"scheduler"`
	Notifier  NotifierConfig  `json:"notifier"`
}

type LoggingConfig struct {
	Level   string        `json:"level,omitempty"`
	Console *bool         `json:"console,omitempty"` // pointer: omitted defaults to true
	File    FileLogConfig `json:"file,omitempty"`
}

type FileLogConfig struct {
	Enabled bool   `json:"enabled,omitempty"`
	Path    string `json:"path,omitempty"`
}

type StorageConfig struct {
	Driver string `json:"driver,omitempty"` // "sqlite" (default) or "postgres"
	Path   string `json:"path,omitempty"`   // sqlite file
	DSN    string `json:"dsn,omitempty"`    // postgres connection string

	// BusyTimeout is a Go duration string (e.g. "500ms"); sqlite only.
	BusyTimeout string `json:"busy_timeout,omitempty"`
}

// SchedulerConfig controls the materializer tick.
//
// All durations are Go duration strings (e.g. "30s", "1m").
type SchedulerConfig struct {
	// TickSpec is a cron spec or @-descriptor for robfig/cron
	// (e.g. "@hourly", "@every 15m", "0 * * * *").
	TickSpec string `json:"tick_spec,omitempty"`
	// Workers bounds concurrent schedule processing within one tick.
	Workers int `json:"workers,omitempty"`
	// PerScheduleTimeout isolates one hung schedule from the rest.
	PerScheduleTimeout string `json:"per_schedule_timeout,omitempty"`
	// FollowUpWindow is the complete-by horizon stamped on each occurrence.
	FollowUpWindow string `json:"follow_up_window,omitempty"`
}

type NotifierConfig struct {
	RatePerSec int `json:"rate_per_sec,omitempty"`
}

// DefaultTickSpec matches the intended hourly external cadence.
const DefaultTickSpec = "@hourly"

// Load reads and strictly decodes the config file at path.
func Load(path string) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("read config: %w", err)
	}

	jsonBytes, format, err := coerceToJSONBytes(path, data)
	if err != nil {
		return Config{}, err
	}

	var cfg Config
	dec := json.NewDecoder(bytes.NewReader(jsonBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&cfg); err != nil {
		return Config{}, fmt.Errorf("decode %s config: %w", format, err)
	}

	cfg.applyDefaults()
	return cfg, nil
}

func (c *Config) applyDefaults() {
	if strings.TrimSpace(c.Logging.Level) == "" {
		c.Logging.Level = "INFO"
	}
	if strings.TrimSpace(c.Storage.Driver) == "" {
		c.Storage.Driver = "sqlite"
	}
	if c.Storage.Driver == "sqlite" && strings.TrimSpace(c.Storage.Path) == "" {
		c.Storage.Path = "./foreman.db"
	}
	if strings.TrimSpace(c.Scheduler.TickSpec) == "" {
		c.Scheduler.TickSpec = DefaultTickSpec
	}
}

// ConsoleEnabled resolves the tri-state console flag (default true).
func (c LoggingConfig) ConsoleEnabled() bool {
	return c.Console == nil || *c.Console
}

// coerceToJSONBytes converts YAML config to JSON bytes so we can re-use the
// strict JSON decoder (DisallowUnknownFields) for both formats.
//
// Returns (jsonBytes, format, err) where format is "json" or "yaml".
func coerceToJSONBytes(path string, data []byte) ([]byte, string, error) {
	ext := strings.ToLower(filepath.Ext(path))
	if ext != ".yaml" && ext != ".yml" {
		return data, "json", nil
	}

	var v any
	if err := yaml.Unmarshal(data, &v); err != nil {
		return nil, "yaml", fmt.Errorf("yaml unmarshal: %w", err)
	}

	v = normalizeYAML(v)

	j, err := json.Marshal(v)
	if err != nil {
		return nil, "yaml", fmt.Errorf("yaml->json marshal: %w", err)
	}
	return j, "yaml", nil
}

// normalizeYAML ensures all map keys are strings so the result can be JSON-marshaled.
func normalizeYAML(in any) any {
	switch x := in.(type) {
	case map[any]any:
		m := make(map[string]any, len(x))
		for k, v := range x {
			m[fmt.Sprint(k)] = normalizeYAML(v)
		}
		return m
	case map[string]any:
		m := make(map[string]any, len(x))
		for k, v := range x {
			m[k] = normalizeYAML(v)
		}
		return m
	case []any:
		for i := range x {
			x[i] = normalizeYAML(x[i])
		}
		return x
	default:
		return in
	}
}
