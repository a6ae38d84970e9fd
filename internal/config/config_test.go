package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("READINESS_ENGINE_CONFIG", "")

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("load defaults: %v", err)
	}
	if cfg.Storage.Driver != "sqlite" {
		t.Fatalf("expected sqlite default driver, got %q", cfg.Storage.Driver)
	}
	if cfg.Detection.DedupeWindow != time.Hour {
		t.Fatalf("unexpected dedupe window: %v", cfg.Detection.DedupeWindow)
	}
	if cfg.Readiness.TrailingDays != 30 {
		t.Fatalf("unexpected trailing window: %d", cfg.Readiness.TrailingDays)
	}
}

func TestLoadFileAndEnvOverrides(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	if err := os.WriteFile(path, []byte(`storage:
  driver: postgres
  postgresURL: postgres://localhost/readiness
scheduler:
  enabled: true
  interval: 5m
  organizations: ["org-a"]
patterns:
  maxEvidence: 3
`), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	t.Setenv("READINESS_SCHEDULER_ORGANIZATIONS", "org-b, org-c")
	t.Setenv("READINESS_LOG_FORMAT", "json")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Storage.Driver != "postgres" || cfg.Patterns.MaxEvidence != 3 {
		t.Fatalf("file values not applied: %+v", cfg)
	}
	if cfg.Scheduler.Interval != 5*time.Minute {
		t.Fatalf("unexpected interval %v", cfg.Scheduler.Interval)
	}
	if len(cfg.Scheduler.Organizations) != 2 || cfg.Scheduler.Organizations[1] != "org-c" {
		t.Fatalf("env override not applied: %v", cfg.Scheduler.Organizations)
	}
	if !cfg.Logging.JSON {
		t.Fatalf("expected json logging from env")
	}
	if cfg.Patterns.SignalWindow != 50 {
		t.Fatalf("defaults should survive partial files, got %d", cfg.Patterns.SignalWindow)
	}
}

func TestLoadRejectsUnknownDriver(t *testing.T) {
	t.Setenv("READINESS_STORAGE_DRIVER", "mongo")
	if _, err := Load(""); err == nil {
		t.Fatalf("expected validation error")
	}
}

func TestLoadMissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Fatalf("expected error for missing file")
	}
}
