package domain

import "time"

const (
	MinReminderLeadHours = 1
	MaxReminderLeadHours = 24
)

// NotificationSettings is the per-user notification policy.
// It is read as a snapshot at scheduling time; any change must be followed by
// a reconciliation pass over the user's tasks.
type NotificationSettings struct {
	Enabled           bool
	Priorities        []Priority // priorities that trigger reminders
	ReminderLeadHours int        // bounded [MinReminderLeadHours, MaxReminderLeadHours]
	OverdueAlerts     bool
	DailyDigest       bool
}

// PriorityEnabled reports whether tasks of priority p trigger reminders.
func (s NotificationSettings) PriorityEnabled(p Priority) bool {
	for _, q := range s.Priorities {
		if q == p {
			return true
		}
	}
	return false
}

// LeadTime returns the reminder lead as a duration, clamped to the
// allowed bounds so a bad stored value never produces a degenerate window.
func (s NotificationSettings) LeadTime() time.Duration {
	h := s.ReminderLeadHours
	if h < MinReminderLeadHours {
		h = MinReminderLeadHours
	}
	if h > MaxReminderLeadHours {
		h = MaxReminderLeadHours
	}
	return time.Duration(h) * time.Hour
}

type User struct {
	ID        string
	Name      string
	Settings  NotificationSettings
	CreatedAt time.Time
}

// DefaultSettings is the policy applied to new users: notifications on for
// medium and high priority tasks, 2h lead, both sweeps enabled.
func DefaultSettings() NotificationSettings {
	return NotificationSettings{
		Enabled:           true,
		Priorities:        []Priority{PriorityMedium, PriorityHigh},
		ReminderLeadHours: 2,
		OverdueAlerts:     true,
		DailyDigest:       true,
	}
}
