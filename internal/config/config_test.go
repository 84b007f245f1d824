package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	p := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(p, []byte(content), 0o644); err != nil {
		t.Fatalf("write %s: %v", name, err)
	}
	return p
}

func TestLoadJSON(t *testing.T) {
	t.Parallel()
	p := writeFile(t, "config.json", `{
		"logging": {"level": "debug", "console": true, "file": {"enabled": false, "path": ""}},
		"scheduler": {"enabled": true, "timezone": "UTC", "overdue_at": "03:30", "digest_at": "07:45"},
		"notifier": {"enabled": true, "queue_size": 128, "rate_per_sec": 10},
		"storage": {"driver": "sqlite", "path": "./data.db", "busy_timeout": "2s"}
	}`)

	m := NewManager(p)
	cfg, err := m.Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Logging.Level != "debug" || !cfg.Scheduler.Enabled {
		t.Fatalf("cfg = %+v", cfg)
	}
	if cfg.Scheduler.OverdueAt != "03:30" || cfg.Scheduler.DigestAt != "07:45" {
		t.Fatalf("sweep times = %q / %q", cfg.Scheduler.OverdueAt, cfg.Scheduler.DigestAt)
	}
	if cfg.Notifier == nil || cfg.Notifier.QueueSize != 128 {
		t.Fatalf("notifier = %+v", cfg.Notifier)
	}
	if cfg.Storage == nil || cfg.Storage.Driver != "sqlite" {
		t.Fatalf("storage = %+v", cfg.Storage)
	}
	if got := m.Get(); got != cfg {
		t.Fatal("Get must return the committed config")
	}
}

func TestLoadYAML(t *testing.T) {
	t.Parallel()
	p := writeFile(t, "config.yaml", `
logging:
  level: info
  console: true
  file:
    enabled: true
    path: ./taskpulse.log
scheduler:
  enabled: true
  timezone: Asia/Jakarta
storage:
  driver: memory
  path: ""
`)

	cfg, err := NewManager(p).Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Logging.File.Path != "./taskpulse.log" {
		t.Fatalf("file path = %q", cfg.Logging.File.Path)
	}
	if cfg.Scheduler.Timezone != "Asia/Jakarta" {
		t.Fatalf("timezone = %q", cfg.Scheduler.Timezone)
	}
	if cfg.Storage == nil || cfg.Storage.Driver != "memory" {
		t.Fatalf("storage = %+v", cfg.Storage)
	}
}

func TestLoadRejectsUnknownFields(t *testing.T) {
	t.Parallel()
	p := writeFile(t, "config.json", `{"scheduler": {"enabled": true, "cron": "* * * * *"}}`)
	if _, err := NewManager(p).Load(); err == nil {
		t.Fatal("unknown field must be rejected")
	}
}

func TestLoadRejectsTrailingData(t *testing.T) {
	t.Parallel()
	p := writeFile(t, "config.json", `{"scheduler": {"enabled": true}}{"extra": 1}`)
	if _, err := NewManager(p).Load(); err == nil {
		t.Fatal("trailing data must be rejected")
	}
}

func TestParseDurationField(t *testing.T) {
	t.Parallel()
	cases := []struct {
		raw     string
		want    time.Duration
		wantErr bool
	}{
		{"", 0, false},
		{"  ", 0, false},
		{"1500ms", 1500 * time.Millisecond, false},
		{"2m", 2 * time.Minute, false},
		{"-1s", 0, true},
		{"soon", 0, true},
	}
	for _, tc := range cases {
		d, err := ParseDurationField("x", tc.raw)
		if tc.wantErr {
			if err == nil {
				t.Fatalf("%q: want error", tc.raw)
			}
			continue
		}
		if err != nil || d != tc.want {
			t.Fatalf("%q: got (%v, %v), want %v", tc.raw, d, err, tc.want)
		}
	}

	if d, err := ParseDurationOrDefault("x", "", 5*time.Second); err != nil || d != 5*time.Second {
		t.Fatalf("default: got (%v, %v)", d, err)
	}
}

func TestSummarizeChange(t *testing.T) {
	t.Parallel()
	oldCfg := &Config{
		Logging:   LoggingConfig{Level: "info", Console: true},
		Scheduler: SchedulerConfig{Enabled: true, OverdueAt: "03:00"},
	}
	newCfg := &Config{
		Logging:   LoggingConfig{Level: "debug", Console: true},
		Scheduler: SchedulerConfig{Enabled: true, OverdueAt: "04:00"},
	}

	sections, attrs := SummarizeChange(oldCfg, newCfg)
	if len(sections) != 2 || sections[0] != "logging" || sections[1] != "scheduler" {
		t.Fatalf("sections = %v", sections)
	}
	if len(attrs) == 0 {
		t.Fatal("want structured attrs for changed sections")
	}

	if sections, _ := SummarizeChange(newCfg, newCfg); len(sections) != 0 {
		t.Fatalf("identical configs reported changes: %v", sections)
	}
}
