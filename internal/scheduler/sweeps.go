package scheduler

import (
	"context"
	"fmt"
	"strings"
	"sync/atomic"
	"time"

	"taskpulse/internal/domain"
	"taskpulse/internal/storage"
	logx "taskpulse/pkg/logx"
)

// runSweep wraps a sweep body with the skip-if-running overlap guard.
// Overlapping invocations are skipped, never queued.
func (s *Service) runSweep(name string, running *atomic.Bool, body func(ctx context.Context) error) {
	if !running.CompareAndSwap(false, true) {
		s.log.Warn("sweep still running, skipping this cycle", logx.String("sweep", name))
		return
	}
	defer running.Store(false)

	start := time.Now()
	err := body(s.ctx())
	if err != nil {
		s.log.Error("sweep failed", logx.String("sweep", name), logx.Err(err))
		return
	}
	s.log.Info("sweep done", logx.String("sweep", name), logx.Duration("took", time.Since(start)))
}

// runOverdueSweep transitions pending tasks past their due date to overdue
// and emits one aggregated alert per user who has overdue alerts enabled.
//
// The query asks for pending tasks only, so a task already overdue is never
// re-notified by this path. A failure for one user is logged and the sweep
// moves on.
func (s *Service) runOverdueSweep(ctx context.Context) error {
	now := s.clock.Now()

	users, err := s.store.ListUsers(ctx)
	if err != nil {
		return fmt.Errorf("list users: %w", err)
	}

	for _, u := range users {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if !u.Settings.Enabled {
			continue
		}

		due, err := s.store.ListTasksByUser(ctx, u.ID, storage.TaskFilter{
			Statuses:   []domain.TaskStatus{domain.StatusPending},
			DueBefore:  now,
			OrderByDue: true,
		})
		if err != nil {
			s.log.Warn("overdue sweep: task query failed", logx.String("user", u.ID), logx.Err(err))
			continue
		}
		if len(due) == 0 {
			continue
		}

		var flipped []domain.Task
		for _, t := range due {
			ok, err := s.store.MarkTaskOverdue(ctx, t.ID)
			if err != nil {
				s.log.Warn("overdue sweep: transition failed", logx.String("task", t.ID), logx.Err(err))
				continue
			}
			if ok {
				flipped = append(flipped, t)
			}
		}
		if len(flipped) == 0 || !u.Settings.OverdueAlerts {
			continue
		}

		_, err = s.emitter.Deliver(ctx, domain.Notification{
			UserID:  u.ID,
			Kind:    domain.KindOverdue,
			Message: overdueMessage(flipped, s.overduePreview()),
		})
		if err != nil {
			s.log.Warn("overdue sweep: delivery failed", logx.String("user", u.ID), logx.Err(err))
			continue
		}
		s.log.Info("overdue alert emitted", logx.String("user", u.ID), logx.Int("tasks", len(flipped)))
	}
	return nil
}

// runDigestSweep emits one daily summary per user with outstanding tasks.
// Users with nothing outstanding get no notification; the sweep is not a
// broadcast.
func (s *Service) runDigestSweep(ctx context.Context) error {
	users, err := s.store.ListUsers(ctx)
	if err != nil {
		return fmt.Errorf("list users: %w", err)
	}

	for _, u := range users {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if !u.Settings.Enabled || !u.Settings.DailyDigest {
			continue
		}

		outstanding, err := s.store.ListTasksByUser(ctx, u.ID, storage.TaskFilter{
			Statuses:   []domain.TaskStatus{domain.StatusPending, domain.StatusOverdue},
			OrderByDue: true,
		})
		if err != nil {
			s.log.Warn("digest sweep: task query failed", logx.String("user", u.ID), logx.Err(err))
			continue
		}
		if len(outstanding) == 0 {
			continue
		}

		_, err = s.emitter.Deliver(ctx, domain.Notification{
			UserID:  u.ID,
			Kind:    domain.KindDailyDigest,
			Message: digestMessage(outstanding, s.location()),
		})
		if err != nil {
			s.log.Warn("digest sweep: delivery failed", logx.String("user", u.ID), logx.Err(err))
			continue
		}
		s.log.Info("digest emitted", logx.String("user", u.ID), logx.Int("tasks", len(outstanding)))
	}
	return nil
}

func (s *Service) overduePreview() int {
	s.mu.Lock()
	n := s.cfg.OverduePreview
	s.mu.Unlock()
	if n <= 0 {
		n = 5
	}
	return n
}

// overdueMessage aggregates newly overdue tasks into one bounded alert.
func overdueMessage(tasks []domain.Task, preview int) string {
	var b strings.Builder
	if len(tasks) == 1 {
		b.WriteString("1 task is now overdue: ")
	} else {
		fmt.Fprintf(&b, "%d tasks are now overdue: ", len(tasks))
	}
	n := len(tasks)
	if n > preview {
		n = preview
	}
	for i := 0; i < n; i++ {
		if i > 0 {
			b.WriteString(", ")
		}
		fmt.Fprintf(&b, "%q", tasks[i].Title)
	}
	if rest := len(tasks) - n; rest > 0 {
		fmt.Fprintf(&b, " and %d more", rest)
	}
	return b.String()
}

// digestMessage summarizes outstanding tasks: counts plus the nearest
// upcoming deadline. Tasks arrive ordered by due date.
func digestMessage(tasks []domain.Task, loc *time.Location) string {
	pending, overdue := 0, 0
	var nearest *domain.Task
	for i := range tasks {
		switch tasks[i].Status {
		case domain.StatusOverdue:
			overdue++
		default:
			pending++
			if nearest == nil {
				nearest = &tasks[i]
			}
		}
	}

	var b strings.Builder
	b.WriteString("Daily digest: ")
	fmt.Fprintf(&b, "%d pending", pending)
	if overdue > 0 {
		fmt.Fprintf(&b, ", %d overdue", overdue)
	}
	if nearest != nil {
		fmt.Fprintf(&b, ". Next up: %q due %s",
			nearest.Title, nearest.DueDate.In(loc).Format("2006-01-02 15:04"))
	}
	return b.String()
}
