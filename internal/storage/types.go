package storage

import (
	"errors"
	"time"

	"taskpulse/internal/domain"
)

var (
	ErrDisabled = errors.New("storage disabled")
	ErrNotFound = errors.New("not found")
	ErrExists   = errors.New("already exists")
)

// Config configures storage.
//
// Driver values:
//   - "sqlite": SQLite database file (default)
//   - "memory": in-process store, contents lost on exit
type Config struct {
	Driver      string
	Path        string
	BusyTimeout time.Duration // sqlite only; 0 means default
}

// TaskFilter narrows ListTasksByUser results.
// Zero value means "all tasks, storage order".
type TaskFilter struct {
	Statuses   []domain.TaskStatus
	DueBefore  time.Time // exclusive; zero disables the bound
	OrderByDue bool
}

func (f TaskFilter) matches(t domain.Task) bool {
	if len(f.Statuses) > 0 {
		ok := false
		for _, st := range f.Statuses {
			if t.Status == st {
				ok = true
				break
			}
		}
		if !ok {
			return false
		}
	}
	if !f.DueBefore.IsZero() && !t.DueDate.Before(f.DueBefore) {
		return false
	}
	return true
}
