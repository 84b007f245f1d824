package domain

import "time"

// Priority of a task. Determines whether a reminder is scheduled at all,
// depending on the owner's notification settings.
type Priority string

const (
	PriorityLow    Priority = "low"
	PriorityMedium Priority = "medium"
	PriorityHigh   Priority = "high"
)

func (p Priority) Valid() bool {
	switch p {
	case PriorityLow, PriorityMedium, PriorityHigh:
		return true
	}
	return false
}

// TaskStatus is the lifecycle state of a task.
//
// Transitions:
//   - pending -> completed: explicit user action (clears any pending reminder)
//   - pending -> overdue: overdue sweep only, at most once
type TaskStatus string

const (
	StatusPending   TaskStatus = "pending"
	StatusCompleted TaskStatus = "completed"
	StatusOverdue   TaskStatus = "overdue"
)

type Task struct {
	ID        string
	UserID    string
	Title     string
	DueDate   time.Time
	Priority  Priority
	Status    TaskStatus
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Outstanding reports whether the task still needs the user's attention
// (pending or overdue, not completed).
func (t Task) Outstanding() bool {
	return t.Status == StatusPending || t.Status == StatusOverdue
}
