// Package tasks is the write path for tasks and notification settings. Every
// mutation goes through here so the reminder engine is reconciled in the same
// step that touches storage.
package tasks

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"taskpulse/internal/domain"
	"taskpulse/internal/storage"
	logx "taskpulse/pkg/logx"
)

// Scheduler is the engine surface the write path needs.
type Scheduler interface {
	Schedule(ctx context.Context, taskID string) error
	Cancel(taskID string)
	ReconcileUser(ctx context.Context, userID string) error
}

type Service struct {
	store storage.Store
	sched Scheduler
	log   logx.Logger
}

func New(store storage.Store, sched Scheduler, log logx.Logger) *Service {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Service{store: store, sched: sched, log: log}
}

// Create validates and stores a new pending task, then installs its reminder.
func (s *Service) Create(ctx context.Context, userID, title string, due time.Time, prio domain.Priority) (domain.Task, error) {
	userID = strings.TrimSpace(userID)
	title = strings.TrimSpace(title)
	if userID == "" {
		return domain.Task{}, errors.New("user id required")
	}
	if title == "" {
		return domain.Task{}, errors.New("title required")
	}
	if due.IsZero() {
		return domain.Task{}, errors.New("due date required")
	}
	if !prio.Valid() {
		return domain.Task{}, fmt.Errorf("invalid priority %q", prio)
	}
	if _, err := s.store.GetUser(ctx, userID); err != nil {
		return domain.Task{}, fmt.Errorf("load owner: %w", err)
	}

	now := time.Now()
	t := domain.Task{
		ID:        uuid.NewString(),
		UserID:    userID,
		Title:     title,
		DueDate:   due,
		Priority:  prio,
		Status:    domain.StatusPending,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := s.store.CreateTask(ctx, t); err != nil {
		return domain.Task{}, fmt.Errorf("create task: %w", err)
	}

	if err := s.sched.Schedule(ctx, t.ID); err != nil {
		// The task exists either way; the reminder catches up on the next
		// reconcile.
		s.log.Warn("schedule after create failed", logx.String("task", t.ID), logx.Err(err))
	}
	s.log.Info("task created", logx.String("task", t.ID), logx.String("user", userID))
	return t, nil
}

// Update edits title, due date, and priority of an existing task and
// reconciles the reminder. Status is not editable here; use Complete.
func (s *Service) Update(ctx context.Context, taskID, title string, due time.Time, prio domain.Priority) (domain.Task, error) {
	t, err := s.store.GetTask(ctx, taskID)
	if err != nil {
		return domain.Task{}, fmt.Errorf("load task: %w", err)
	}
	if title = strings.TrimSpace(title); title != "" {
		t.Title = title
	}
	if !due.IsZero() {
		t.DueDate = due
	}
	if prio != "" {
		if !prio.Valid() {
			return domain.Task{}, fmt.Errorf("invalid priority %q", prio)
		}
		t.Priority = prio
	}
	t.UpdatedAt = time.Now()

	if err := s.store.UpdateTask(ctx, t); err != nil {
		return domain.Task{}, fmt.Errorf("update task: %w", err)
	}
	if err := s.sched.Schedule(ctx, t.ID); err != nil {
		s.log.Warn("schedule after update failed", logx.String("task", t.ID), logx.Err(err))
	}
	return t, nil
}

// Complete marks the task completed and drops its reminder.
func (s *Service) Complete(ctx context.Context, taskID string) error {
	if err := s.store.UpdateTaskStatus(ctx, taskID, domain.StatusCompleted); err != nil {
		return fmt.Errorf("complete task: %w", err)
	}
	s.sched.Cancel(taskID)
	s.log.Info("task completed", logx.String("task", taskID))
	return nil
}

// Delete removes the task and drops its reminder.
func (s *Service) Delete(ctx context.Context, taskID string) error {
	// Cancel first: a reminder that fires between the row disappearing and the
	// cancel would have to hit storage to learn the task is gone. Cancel is
	// idempotent, so a failed delete leaves nothing worse than a lost timer
	// the next reconcile re-arms.
	s.sched.Cancel(taskID)
	if err := s.store.DeleteTask(ctx, taskID); err != nil {
		return fmt.Errorf("delete task: %w", err)
	}
	s.log.Info("task deleted", logx.String("task", taskID))
	return nil
}

func (s *Service) Get(ctx context.Context, taskID string) (domain.Task, error) {
	return s.store.GetTask(ctx, taskID)
}

func (s *Service) List(ctx context.Context, userID string, filter storage.TaskFilter) ([]domain.Task, error) {
	return s.store.ListTasksByUser(ctx, userID, filter)
}

// UpdateSettings stores new notification settings and re-derives every
// reminder the user owns, so lead-time and priority-filter changes take
// effect immediately.
func (s *Service) UpdateSettings(ctx context.Context, userID string, set domain.NotificationSettings) error {
	if set.ReminderLeadHours < domain.MinReminderLeadHours || set.ReminderLeadHours > domain.MaxReminderLeadHours {
		return fmt.Errorf("reminder lead hours must be within [%d, %d]",
			domain.MinReminderLeadHours, domain.MaxReminderLeadHours)
	}
	for _, p := range set.Priorities {
		if !p.Valid() {
			return fmt.Errorf("invalid priority %q", p)
		}
	}

	if err := s.store.UpdateUserSettings(ctx, userID, set); err != nil {
		return fmt.Errorf("update settings: %w", err)
	}
	if err := s.sched.ReconcileUser(ctx, userID); err != nil {
		s.log.Warn("reconcile after settings change failed", logx.String("user", userID), logx.Err(err))
	}
	s.log.Info("settings updated", logx.String("user", userID))
	return nil
}
