package scheduler

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"taskpulse/internal/domain"
	"taskpulse/internal/storage"
	logx "taskpulse/pkg/logx"
)

// Schedule loads the task and its owner's settings and reconciles the
// reminder job for taskID: it installs a fresh one-shot timer when the
// resolver yields a fire time, and cancels any existing job otherwise.
//
// Call it unconditionally after every task create or edit; replacing a job
// with an identical fire time is cheaper than proving the edit didn't matter.
//
// A missing task or owner is "nothing to schedule", not an error.
func (s *Service) Schedule(ctx context.Context, taskID string) error {
	taskID = strings.TrimSpace(taskID)
	if taskID == "" {
		return errors.New("task id required")
	}
	if !s.Enabled() {
		// Engine switched off: no timer may be armed, and one left over from
		// before the switch must not survive either.
		s.Cancel(taskID)
		return nil
	}

	task, err := s.store.GetTask(ctx, taskID)
	if errors.Is(err, storage.ErrNotFound) {
		s.Cancel(taskID)
		return nil
	}
	if err != nil {
		return fmt.Errorf("load task: %w", err)
	}
	if task.Status != domain.StatusPending {
		// Completed and overdue tasks never get reminders.
		s.Cancel(taskID)
		return nil
	}

	owner, err := s.store.GetUser(ctx, task.UserID)
	if errors.Is(err, storage.ErrNotFound) {
		s.Cancel(taskID)
		return nil
	}
	if err != nil {
		return fmt.Errorf("load owner: %w", err)
	}

	fireAt, ok := Resolve(task, owner.Settings, s.clock.Now())
	if !ok {
		if s.reg.cancel(taskID) {
			s.log.Debug("reminder cancelled, no longer resolvable", logx.String("task", taskID))
		}
		return nil
	}

	// Cancel-then-set and version fencing both live in the registry; from
	// here the replacement is one atomic step.
	ver := s.reg.set(taskID, fireAt)
	delay := fireAt.Sub(s.clock.Now())
	if delay < 0 {
		delay = 0
	}
	timer := s.clock.AfterFunc(delay, func() {
		s.fire(taskID, ver)
	})
	s.reg.arm(taskID, ver, timer)

	s.log.Debug("reminder scheduled",
		logx.String("task", taskID),
		logx.String("user", task.UserID),
		logx.Time("fire_at", fireAt))
	return nil
}

// Cancel removes and stops the reminder job for taskID, if any. Idempotent.
// Call it before deleting a task and when a task is completed.
func (s *Service) Cancel(taskID string) {
	if s.reg.cancel(taskID) {
		s.log.Debug("reminder cancelled", logx.String("task", taskID))
	}
}

// ReconcileUser re-derives the reminder jobs for every task the user owns.
// Call it after a notification-settings change. O(tasks-per-user), which is
// fine: settings changes are rare relative to task count.
//
// One task failing to schedule never aborts the rest.
func (s *Service) ReconcileUser(ctx context.Context, userID string) error {
	tasks, err := s.store.ListTasksByUser(ctx, userID, storage.TaskFilter{})
	if err != nil {
		return fmt.Errorf("list tasks for %s: %w", userID, err)
	}
	for _, t := range tasks {
		if err := s.Schedule(ctx, t.ID); err != nil {
			s.log.Warn("reconcile: schedule failed", logx.String("task", t.ID), logx.Err(err))
		}
	}
	s.log.Debug("user reconciled", logx.String("user", userID), logx.Int("tasks", len(tasks)))
	return nil
}

// fire is the one-shot timer callback for a task reminder.
//
// The claim() fence guarantees at most one execution per scheduled
// occurrence. The task re-fetch closes the fire-vs-cancel race: by the time
// the timer runs, the task may have been completed or deleted, and timer
// cancellation is only best-effort.
func (s *Service) fire(taskID string, ver uint64) {
	if !s.reg.claim(taskID, ver) {
		// Replaced or cancelled after this timer was armed.
		return
	}
	ctx := s.ctx()

	task, err := s.store.GetTask(ctx, taskID)
	if errors.Is(err, storage.ErrNotFound) {
		s.log.Debug("reminder fired for deleted task, skipping", logx.String("task", taskID))
		return
	}
	if err != nil {
		s.log.Warn("reminder fire: task load failed", logx.String("task", taskID), logx.Err(err))
		return
	}
	if task.Status == domain.StatusCompleted {
		s.log.Debug("reminder fired for completed task, skipping", logx.String("task", taskID))
		return
	}

	_, err = s.emitter.Deliver(ctx, domain.Notification{
		UserID:  task.UserID,
		TaskID:  task.ID,
		Kind:    domain.KindReminder,
		Message: reminderMessage(task, s.location()),
	})
	if err != nil {
		s.log.Warn("reminder delivery failed", logx.String("task", taskID), logx.Err(err))
		return
	}
	s.log.Info("reminder fired", logx.String("task", taskID), logx.String("user", task.UserID))
}

func (s *Service) location() *time.Location {
	s.mu.Lock()
	loc := s.loc
	s.mu.Unlock()
	if loc == nil {
		return time.Local
	}
	return loc
}

func reminderMessage(t domain.Task, loc *time.Location) string {
	return fmt.Sprintf("Reminder: %q is due at %s", t.Title, t.DueDate.In(loc).Format("2006-01-02 15:04"))
}
