package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoad_MissingFileUsesDefaults(t *testing.T) {
	dir := t.TempDir()
	t.Setenv("DETOXMINE_STORAGE_PATH", filepath.Join(dir, "data", "detoxmine.bolt"))

	cfg, err := Load(filepath.Join(dir, "missing.yaml"))
	if err != nil {
		t.Fatalf("Load failed for missing file: %v", err)
	}

	if cfg.Provider.Type != "redis" {
		t.Errorf("expected default provider type redis, got %s", cfg.Provider.Type)
	}
	if cfg.Usage.RecheckDelay != "1s" {
		t.Errorf("expected default recheck delay 1s, got %s", cfg.Usage.RecheckDelay)
	}
	if cfg.Storage.RetentionDays != 90 {
		t.Errorf("expected default retention 90, got %d", cfg.Storage.RetentionDays)
	}
	if _, err := os.Stat(filepath.Join(dir, "data")); err != nil {
		t.Errorf("expected storage directory to be created: %v", err)
	}
}

func TestLoad_FileOverrides(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	content := `
provider:
  type: file
  device_id: pixel-7
  file:
    path: ` + filepath.Join(dir, "usage.json") + `
usage:
  poll_interval: 1m
storage:
  path: ` + filepath.Join(dir, "detoxmine.bolt") + `
logging:
  level: debug
  format: text
`
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("write config: %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if cfg.Provider.Type != "file" {
		t.Errorf("expected provider type file, got %s", cfg.Provider.Type)
	}
	if cfg.Provider.DeviceID != "pixel-7" {
		t.Errorf("expected device id pixel-7, got %s", cfg.Provider.DeviceID)
	}
	if cfg.Usage.PollInterval != "1m" {
		t.Errorf("expected poll interval 1m, got %s", cfg.Usage.PollInterval)
	}
	if cfg.Logging.Level != "debug" || cfg.Logging.Format != "text" {
		t.Errorf("unexpected logging config: %+v", cfg.Logging)
	}
}

func TestLoad_Invalid(t *testing.T) {
	tests := []struct {
		name    string
		content string
	}{
		{"unknown provider", "provider:\n  type: bluetooth\n"},
		{"bad rollover time", "rollover:\n  time: midnight\n"},
		{"bad recheck delay", "usage:\n  recheck_delay: soon\n"},
		{"bad api port", "server:\n  api_port: 70000\n"},
		{"bad timezone", "usage:\n  timezone: Mars/Olympus_Mons\n"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			dir := t.TempDir()
			path := filepath.Join(dir, "config.yaml")
			content := tt.content + "storage:\n  path: " + filepath.Join(dir, "detoxmine.bolt") + "\n"
			if err := os.WriteFile(path, []byte(content), 0644); err != nil {
				t.Fatalf("write config: %v", err)
			}
			if _, err := Load(path); err == nil {
				t.Fatal("expected validation error, got nil")
			}
		})
	}
}

func TestUsageConfig_Location(t *testing.T) {
	loc, err := UsageConfig{}.Location()
	if err != nil || loc != time.Local {
		t.Errorf("expected local zone for empty timezone, got %v (err %v)", loc, err)
	}

	loc, err = UsageConfig{Timezone: "UTC"}.Location()
	if err != nil || loc.String() != "UTC" {
		t.Errorf("expected UTC, got %v (err %v)", loc, err)
	}
}

func TestDuration(t *testing.T) {
	if d := Duration(""); d != 0 {
		t.Errorf("expected zero for empty duration, got %v", d)
	}
	if d := Duration("1500ms"); d != 1500*time.Millisecond {
		t.Errorf("expected 1.5s, got %v", d)
	}
}
