package scheduler

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	"taskpulse/internal/domain"
	"taskpulse/internal/storage"
	logx "taskpulse/pkg/logx"
)

// flakyStore fails task listing for one user, to exercise per-user isolation.
type flakyStore struct {
	storage.Store
	failUser string
}

func (f *flakyStore) ListTasksByUser(ctx context.Context, userID string, filter storage.TaskFilter) ([]domain.Task, error) {
	if userID == f.failUser {
		return nil, errors.New("storage hiccup")
	}
	return f.Store.ListTasksByUser(ctx, userID, filter)
}

func TestOverdueSweepFlipsOnce(t *testing.T) {
	t.Parallel()
	now := time.Date(2026, 3, 10, 3, 0, 0, 0, time.UTC)
	clk := newFakeClock(now)
	s, st, em := newTestEngine(t, clk)
	ctx := context.Background()

	seedOwner(t, st, "u1", nil)
	seedTask(t, st, "late", "u1", now.Add(-2*time.Hour))
	seedTask(t, st, "future", "u1", now.Add(6*time.Hour))

	if err := s.runOverdueSweep(ctx); err != nil {
		t.Fatalf("first sweep: %v", err)
	}

	task, err := st.GetTask(ctx, "late")
	if err != nil {
		t.Fatalf("GetTask: %v", err)
	}
	if task.Status != domain.StatusOverdue {
		t.Fatalf("status = %s, want overdue", task.Status)
	}
	if task, _ := st.GetTask(ctx, "future"); task.Status != domain.StatusPending {
		t.Fatalf("future task flipped to %s", task.Status)
	}
	got := em.deliveries()
	if len(got) != 1 || got[0].Kind != domain.KindOverdue {
		t.Fatalf("deliveries = %+v, want one overdue alert", got)
	}

	// Running the sweep again must not re-notify the same tasks.
	if err := s.runOverdueSweep(ctx); err != nil {
		t.Fatalf("second sweep: %v", err)
	}
	if n := len(em.deliveries()); n != 1 {
		t.Fatalf("second sweep re-notified: %d deliveries", n)
	}
}

func TestOverdueSweepAlertsDisabledStillFlips(t *testing.T) {
	t.Parallel()
	now := time.Date(2026, 3, 10, 3, 0, 0, 0, time.UTC)
	clk := newFakeClock(now)
	s, st, em := newTestEngine(t, clk)
	ctx := context.Background()

	seedOwner(t, st, "u1", func(set *domain.NotificationSettings) {
		set.OverdueAlerts = false
	})
	seedTask(t, st, "late", "u1", now.Add(-time.Hour))

	if err := s.runOverdueSweep(ctx); err != nil {
		t.Fatalf("sweep: %v", err)
	}

	task, _ := st.GetTask(ctx, "late")
	if task.Status != domain.StatusOverdue {
		t.Fatalf("status = %s, want overdue (transition is independent of alerts)", task.Status)
	}
	if n := len(em.deliveries()); n != 0 {
		t.Fatalf("alert emitted despite OverdueAlerts=false: %d", n)
	}
}

func TestOverdueSweepSkipsDisabledUser(t *testing.T) {
	t.Parallel()
	now := time.Date(2026, 3, 10, 3, 0, 0, 0, time.UTC)
	clk := newFakeClock(now)
	s, st, em := newTestEngine(t, clk)
	ctx := context.Background()

	seedOwner(t, st, "u1", func(set *domain.NotificationSettings) {
		set.Enabled = false
	})
	seedTask(t, st, "late", "u1", now.Add(-time.Hour))

	if err := s.runOverdueSweep(ctx); err != nil {
		t.Fatalf("sweep: %v", err)
	}

	// Notifications disabled means the user's tasks are left alone entirely.
	task, _ := st.GetTask(ctx, "late")
	if task.Status != domain.StatusPending {
		t.Fatalf("status = %s, want pending", task.Status)
	}
	if n := len(em.deliveries()); n != 0 {
		t.Fatalf("deliveries = %d, want 0", n)
	}
}

func TestOverdueMessagePreviewCap(t *testing.T) {
	t.Parallel()
	now := time.Date(2026, 3, 10, 3, 0, 0, 0, time.UTC)
	clk := newFakeClock(now)
	s, st, em := newTestEngine(t, clk)
	ctx := context.Background()

	seedOwner(t, st, "u1", nil)
	for i := 0; i < 7; i++ {
		seedTask(t, st, fmt.Sprintf("t%d", i), "u1", now.Add(-time.Duration(7-i)*time.Hour))
	}

	if err := s.runOverdueSweep(ctx); err != nil {
		t.Fatalf("sweep: %v", err)
	}
	got := em.deliveries()
	if len(got) != 1 {
		t.Fatalf("deliveries = %d, want 1 aggregated alert", len(got))
	}
	msg := got[0].Message
	if !strings.HasPrefix(msg, "7 tasks are now overdue: ") {
		t.Fatalf("message = %q", msg)
	}
	if !strings.HasSuffix(msg, " and 2 more") {
		t.Fatalf("message = %q, want 5-title preview with remainder", msg)
	}
	if n := strings.Count(msg, `"task `); n != 5 {
		t.Fatalf("message previews %d titles, want 5: %q", n, msg)
	}
}

func TestDigestSweepSummarizesOutstanding(t *testing.T) {
	t.Parallel()
	now := time.Date(2026, 3, 10, 8, 0, 0, 0, time.UTC)
	clk := newFakeClock(now)
	s, st, em := newTestEngine(t, clk)
	ctx := context.Background()

	seedOwner(t, st, "u1", nil)
	seedTask(t, st, "p1", "u1", now.Add(4*time.Hour))
	seedTask(t, st, "p2", "u1", now.Add(30*time.Hour))
	seedTask(t, st, "o1", "u1", now.Add(-time.Hour))
	if _, err := st.MarkTaskOverdue(ctx, "o1"); err != nil {
		t.Fatalf("MarkTaskOverdue: %v", err)
	}

	if err := s.runDigestSweep(ctx); err != nil {
		t.Fatalf("sweep: %v", err)
	}
	got := em.deliveries()
	if len(got) != 1 || got[0].Kind != domain.KindDailyDigest {
		t.Fatalf("deliveries = %+v, want one digest", got)
	}
	msg := got[0].Message
	if !strings.Contains(msg, "2 pending") || !strings.Contains(msg, "1 overdue") {
		t.Fatalf("message = %q, want counts", msg)
	}
	if !strings.Contains(msg, `"task p1"`) {
		t.Fatalf("message = %q, want nearest pending deadline", msg)
	}
}

func TestDigestSweepSuppressesEmptyAndOptedOut(t *testing.T) {
	t.Parallel()
	now := time.Date(2026, 3, 10, 8, 0, 0, 0, time.UTC)
	clk := newFakeClock(now)
	s, st, em := newTestEngine(t, clk)
	ctx := context.Background()

	// Nothing outstanding: completed tasks only.
	seedOwner(t, st, "empty", nil)
	seedTask(t, st, "done", "empty", now.Add(time.Hour))
	if err := st.UpdateTaskStatus(ctx, "done", domain.StatusCompleted); err != nil {
		t.Fatalf("UpdateTaskStatus: %v", err)
	}

	// Outstanding work, but digest opted out.
	seedOwner(t, st, "optout", func(set *domain.NotificationSettings) {
		set.DailyDigest = false
	})
	seedTask(t, st, "work", "optout", now.Add(time.Hour))

	if err := s.runDigestSweep(ctx); err != nil {
		t.Fatalf("sweep: %v", err)
	}
	if got := em.deliveries(); len(got) != 0 {
		t.Fatalf("deliveries = %+v, want none", got)
	}
}

func TestSweepIsolatesPerUserFailures(t *testing.T) {
	t.Parallel()
	now := time.Date(2026, 3, 10, 3, 0, 0, 0, time.UTC)
	clk := newFakeClock(now)
	st := storage.NewMemory()
	em := &recEmitter{}
	s := New(Config{Enabled: true}, &flakyStore{Store: st, failUser: "bad"}, em, logx.Nop())
	s.clock = clk
	ctx := context.Background()

	seedOwner(t, st, "bad", nil)
	seedOwner(t, st, "good", nil)
	seedTask(t, st, "bad-task", "bad", now.Add(-time.Hour))
	seedTask(t, st, "good-task", "good", now.Add(-time.Hour))

	if err := s.runOverdueSweep(ctx); err != nil {
		t.Fatalf("sweep must not abort on one user: %v", err)
	}
	got := em.deliveries()
	if len(got) != 1 || got[0].UserID != "good" {
		t.Fatalf("deliveries = %+v, want one alert for the healthy user", got)
	}
	if task, _ := st.GetTask(ctx, "good-task"); task.Status != domain.StatusOverdue {
		t.Fatalf("healthy user's task not flipped: %s", task.Status)
	}
}

func TestSweepOverlapGuardSkips(t *testing.T) {
	t.Parallel()
	now := time.Date(2026, 3, 10, 3, 0, 0, 0, time.UTC)
	clk := newFakeClock(now)
	s, _, _ := newTestEngine(t, clk)

	entered := make(chan struct{})
	release := make(chan struct{})
	ran := make(chan bool, 2)

	body := func(context.Context) error {
		close(entered)
		<-release
		return nil
	}

	go func() {
		s.runSweep(SweepOverdue, &s.overdueRunning, body)
		ran <- true
	}()
	<-entered

	// Second invocation while the first is in flight is skipped outright.
	s.runSweep(SweepOverdue, &s.overdueRunning, func(context.Context) error {
		t.Error("overlapping sweep body executed")
		return nil
	})

	close(release)
	<-ran

	// Guard resets once the first run finishes.
	ok := false
	s.runSweep(SweepOverdue, &s.overdueRunning, func(context.Context) error {
		ok = true
		return nil
	})
	if !ok {
		t.Fatal("sweep did not run after guard reset")
	}
}
