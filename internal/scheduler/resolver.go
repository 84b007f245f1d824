package scheduler

import (
	"time"

	"taskpulse/internal/domain"
)

// Resolve computes whether a reminder should be scheduled for the task under
// the owner's settings and, if so, its absolute fire time.
//
// It returns ok=false when:
//   - notifications are disabled for the owner
//   - the task's priority is not in the owner's enabled set
//   - the computed fire time is strictly in the past (the reminder window
//     has already elapsed; stale reminders are skipped, never fired late, so
//     a restart or a late edit cannot produce a burst of back-dated alerts)
//
// A fire time of exactly now is still a fire: the window opens at that
// instant.
//
// Pure and side-effect free.
func Resolve(t domain.Task, set domain.NotificationSettings, now time.Time) (time.Time, bool) {
	if !set.Enabled {
		return time.Time{}, false
	}
	if !set.PriorityEnabled(t.Priority) {
		return time.Time{}, false
	}
	fireAt := t.DueDate.Add(-set.LeadTime())
	if fireAt.Before(now) {
		return time.Time{}, false
	}
	return fireAt, true
}
