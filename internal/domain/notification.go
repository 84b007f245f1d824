package domain

import "time"

// NotificationKind classifies how a notification was produced.
type NotificationKind string

const (
	KindReminder    NotificationKind = "reminder"
	KindOverdue     NotificationKind = "overdue"
	KindDailyDigest NotificationKind = "daily_digest"
)

// Notification is the persisted record handed to the realtime channel.
// Records are immutable after creation except for the Read flag, which the
// consuming client sets.
type Notification struct {
	ID        string
	UserID    string
	TaskID    string // optional originating task; empty for sweeps-level records
	Kind      NotificationKind
	Message   string
	CreatedAt time.Time
	Sent      bool
	Read      bool
}
