package config

type Config struct {
	Logging LoggingConfig `json:"logging"`

	// Scheduler controls the reminder engine and the two daily sweeps.
	Scheduler SchedulerConfig `json:"scheduler"`

	// Notifier controls the async push pipeline. If the whole section is
	// omitted, the pipeline defaults to enabled.
	Notifier *NotifierConfig `json:"notifier,omitempty"`

	Storage *StorageConfig `json:"storage,omitempty"`
}

type LoggingConfig struct {
	Level   string      `json:"level"`
	Console bool        `json:"console"`
	File    LoggingFile `json:"file"`
}

type LoggingFile struct {
	Enabled bool   `json:"enabled"`
	Path    string `json:"path"`
}

// SchedulerConfig controls reminder timers and the daily sweeps.
//
// OverdueAt and DigestAt are local wall-clock times in "HH:MM" form,
// interpreted in Timezone (or the host's local zone when omitted).
//
// Defaults (when fields are omitted/zero):
//   - overdue_at: "03:00"
//   - digest_at: "08:00"
//   - overdue_preview: 5 task titles per aggregated alert
type SchedulerConfig struct {
	Enabled  bool   `json:"enabled"`
	Timezone string `json:"timezone,omitempty"`

	OverdueAt string `json:"overdue_at,omitempty"`
	DigestAt  string `json:"digest_at,omitempty"`

	OverduePreview int `json:"overdue_preview,omitempty"`
}

// NotifierConfig controls the async push pipeline behind the emitter.
// Persistence is always synchronous; these knobs shape only the
// best-effort push side.
type NotifierConfig struct {
	Enabled    bool `json:"enabled"`
	QueueSize  int  `json:"queue_size"`
	RatePerSec int  `json:"rate_per_sec"`
}

// StorageConfig controls the persistence layer.
//
// Example:
//
//	"storage": { "driver": "sqlite", "path": "./taskpulse.db" }
type StorageConfig struct {
	Driver      string `json:"driver"`
	Path        string `json:"path"`
	BusyTimeout string `json:"busy_timeout,omitempty"` // Go duration string (sqlite)
}
