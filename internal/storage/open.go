package storage

import (
	"context"
	"errors"
	"strings"

	"taskpulse/internal/domain"
	logx "taskpulse/pkg/logx"
)

// Store is the persistence API consumed by the engine and the emitter.
//
// Error contract: lookups for absent rows return ErrNotFound; callers in the
// engine treat that as "nothing to schedule", never as a failure.
type Store interface {
	CreateUser(ctx context.Context, u domain.User) error
	GetUser(ctx context.Context, id string) (domain.User, error)
	UpdateUserSettings(ctx context.Context, id string, s domain.NotificationSettings) error
	ListUsers(ctx context.Context) ([]domain.User, error)

	CreateTask(ctx context.Context, t domain.Task) error
	GetTask(ctx context.Context, id string) (domain.Task, error)
	UpdateTask(ctx context.Context, t domain.Task) error
	UpdateTaskStatus(ctx context.Context, id string, status domain.TaskStatus) error
	DeleteTask(ctx context.Context, id string) error
	ListTasksByUser(ctx context.Context, userID string, f TaskFilter) ([]domain.Task, error)

	// MarkTaskOverdue transitions pending -> overdue, conditionally: it
	// reports false when the task is missing or no longer pending, so the
	// sweep can never double-transition a task.
	MarkTaskOverdue(ctx context.Context, id string) (bool, error)

	CreateNotification(ctx context.Context, n domain.Notification) error
	ListNotifications(ctx context.Context, userID string, limit int) ([]domain.Notification, error)
	CountUnread(ctx context.Context, userID string) (int, error)
	MarkNotificationRead(ctx context.Context, id string) error

	Close() error
}

// Open initializes the configured store.
func Open(cfg Config, log logx.Logger) (Store, error) {
	if log.IsZero() {
		log = logx.Nop()
	}

	driver := strings.ToLower(strings.TrimSpace(cfg.Driver))
	switch driver {
	case "", "sqlite", "sqlite3":
		return openSQLite(cfg, log)
	case "memory", "mem":
		return NewMemory(), nil
	case "none":
		return nil, ErrDisabled
	default:
		return nil, errors.New("unknown storage driver: " + driver)
	}
}
