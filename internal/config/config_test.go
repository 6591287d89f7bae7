package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write %s: %v", name, err)
	}
	return path
}

func TestLoadYAML(t *testing.T) {
	t.Parallel()
	path := writeFile(t, "foreman.yaml", `
logging:
  level: DEBUG
  console: false
storage:
  driver: postgres
  dsn: postgres://foreman@localhost/foreman?sslmode=disable
scheduler:
  tick_spec: "@every 15m"
  workers: 8
  per_schedule_timeout: 45s
notifier:
  rate_per_sec: 10
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load error: %v", err)
	}
	if cfg.Logging.Level != "DEBUG" {
		t.Fatalf("Level = %q", cfg.Logging.Level)
	}
	if cfg.Logging.ConsoleEnabled() {
		t.Fatal("console should be disabled")
	}
	if cfg.Storage.Driver != "postgres" || cfg.Storage.DSN == "" {
		t.Fatalf("storage = %+v", cfg.Storage)
	}
	if cfg.Scheduler.TickSpec != "@every 15m" || cfg.Scheduler.Workers != 8 {
		t.Fatalf("scheduler = %+v", cfg.Scheduler)
	}
	if cfg.Notifier.RatePerSec != 10 {
		t.Fatalf("notifier = %+v", cfg.Notifier)
	}

	d, err := ParseDurationField("scheduler.per_schedule_timeout", cfg.Scheduler.PerScheduleTimeout)
	if err != nil || d != 45*time.Second {
		t.Fatalf("timeout = %v, err = %v", d, err)
	}
}

func TestLoadJSONDefaults(t *testing.T) {
	t.Parallel()
	path := writeFile(t, "foreman.json", `{"storage": {}}`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load error: %v", err)
	}
	if cfg.Logging.Level != "INFO" {
		t.Fatalf("Level default = %q", cfg.Logging.Level)
	}
	if !cfg.Logging.ConsoleEnabled() {
		t.Fatal("console should default to true")
	}
	if cfg.Storage.Driver != "sqlite" || cfg.Storage.Path != "./foreman.db" {
		t.Fatalf("storage defaults = %+v", cfg.Storage)
	}
	if cfg.Scheduler.TickSpec != DefaultTickSpec {
		t.Fatalf("tick_spec default = %q", cfg.Scheduler.TickSpec)
	}
}

func TestLoadRejectsUnknownKeys(t *testing.T) {
	t.Parallel()
	path := writeFile(t, "foreman.yaml", "schedulr:\n  tick_spec: \"@hourly\"\n")
	if _, err := Load(path); err == nil {
		t.Fatal("expected error for unknown top-level key")
	}
}

func TestParseDurationField(t *testing.T) {
	t.Parallel()
	if _, err := ParseDurationField("x", "not-a-duration"); err == nil {
		t.Fatal("expected parse error")
	}
	if _, err := ParseDurationField("x", "-5s"); err == nil {
		t.Fatal("expected negative duration error")
	}
	d, err := ParseDurationOrDefault("x", "", 30*time.Second)
	if err != nil || d != 30*time.Second {
		t.Fatalf("default = %v, err = %v", d, err)
	}
}
