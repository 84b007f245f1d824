package tasks

import (
	"context"
	"sync"
	"testing"
	"time"

	"taskpulse/internal/domain"
	"taskpulse/internal/storage"
	logx "taskpulse/pkg/logx"
)

// fakeSched records engine calls without timers.
type fakeSched struct {
	mu         sync.Mutex
	scheduled  []string
	cancelled  []string
	reconciled []string
}

func (f *fakeSched) Schedule(_ context.Context, taskID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.scheduled = append(f.scheduled, taskID)
	return nil
}

func (f *fakeSched) Cancel(taskID string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.cancelled = append(f.cancelled, taskID)
}

func (f *fakeSched) cancelCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.cancelled)
}

func (f *fakeSched) ReconcileUser(_ context.Context, userID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.reconciled = append(f.reconciled, userID)
	return nil
}

func newTestService(t *testing.T) (*Service, *storage.Memory, *fakeSched) {
	t.Helper()
	st := storage.NewMemory()
	sched := &fakeSched{}
	svc := New(st, sched, logx.Nop())
	if err := st.CreateUser(context.Background(), domain.User{ID: "u1", Settings: domain.DefaultSettings()}); err != nil {
		t.Fatalf("CreateUser: %v", err)
	}
	return svc, st, sched
}

func TestCreateSchedulesReminder(t *testing.T) {
	t.Parallel()
	svc, st, sched := newTestService(t)
	ctx := context.Background()

	due := time.Now().Add(24 * time.Hour)
	task, err := svc.Create(ctx, "u1", "write report", due, domain.PriorityHigh)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if task.ID == "" || task.Status != domain.StatusPending {
		t.Fatalf("task = %+v", task)
	}
	if got, err := st.GetTask(ctx, task.ID); err != nil || got.Title != "write report" {
		t.Fatalf("stored task = %+v, err %v", got, err)
	}
	if len(sched.scheduled) != 1 || sched.scheduled[0] != task.ID {
		t.Fatalf("scheduled = %v, want just %s", sched.scheduled, task.ID)
	}
}

func TestCreateRejectsBadInput(t *testing.T) {
	t.Parallel()
	svc, _, sched := newTestService(t)
	ctx := context.Background()
	due := time.Now().Add(time.Hour)

	cases := []struct {
		name  string
		user  string
		title string
		due   time.Time
		prio  domain.Priority
	}{
		{"missing user", "", "x", due, domain.PriorityLow},
		{"unknown user", "ghost", "x", due, domain.PriorityLow},
		{"empty title", "u1", "  ", due, domain.PriorityLow},
		{"zero due date", "u1", "x", time.Time{}, domain.PriorityLow},
		{"bad priority", "u1", "x", due, domain.Priority("urgent")},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := svc.Create(ctx, tc.user, tc.title, tc.due, tc.prio); err == nil {
				t.Fatal("want error")
			}
		})
	}
	if len(sched.scheduled) != 0 {
		t.Fatalf("rejected creates must not schedule: %v", sched.scheduled)
	}
}

func TestUpdateReschedules(t *testing.T) {
	t.Parallel()
	svc, st, sched := newTestService(t)
	ctx := context.Background()

	task, err := svc.Create(ctx, "u1", "old", time.Now().Add(2*time.Hour), domain.PriorityMedium)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}

	newDue := time.Now().Add(10 * time.Hour)
	got, err := svc.Update(ctx, task.ID, "new title", newDue, domain.PriorityHigh)
	if err != nil {
		t.Fatalf("Update: %v", err)
	}
	if got.Title != "new title" || got.Priority != domain.PriorityHigh || !got.DueDate.Equal(newDue) {
		t.Fatalf("updated task = %+v", got)
	}
	if stored, _ := st.GetTask(ctx, task.ID); stored.Title != "new title" {
		t.Fatalf("stored task = %+v", stored)
	}
	if len(sched.scheduled) != 2 {
		t.Fatalf("update must reconcile the reminder: scheduled %v", sched.scheduled)
	}

	// Empty fields leave the current values alone.
	got, err = svc.Update(ctx, task.ID, "", time.Time{}, "")
	if err != nil {
		t.Fatalf("partial update: %v", err)
	}
	if got.Title != "new title" || !got.DueDate.Equal(newDue) || got.Priority != domain.PriorityHigh {
		t.Fatalf("partial update changed fields: %+v", got)
	}
}

func TestCompleteCancelsReminder(t *testing.T) {
	t.Parallel()
	svc, st, sched := newTestService(t)
	ctx := context.Background()

	task, err := svc.Create(ctx, "u1", "x", time.Now().Add(time.Hour), domain.PriorityLow)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if err := svc.Complete(ctx, task.ID); err != nil {
		t.Fatalf("Complete: %v", err)
	}
	if got, _ := st.GetTask(ctx, task.ID); got.Status != domain.StatusCompleted {
		t.Fatalf("status = %s", got.Status)
	}
	if len(sched.cancelled) != 1 || sched.cancelled[0] != task.ID {
		t.Fatalf("cancelled = %v", sched.cancelled)
	}
}

func TestDeleteCancelsReminder(t *testing.T) {
	t.Parallel()
	svc, st, sched := newTestService(t)
	ctx := context.Background()

	task, err := svc.Create(ctx, "u1", "x", time.Now().Add(time.Hour), domain.PriorityLow)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if err := svc.Delete(ctx, task.ID); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if _, err := st.GetTask(ctx, task.ID); err == nil {
		t.Fatal("task still in store")
	}
	if len(sched.cancelled) != 1 {
		t.Fatalf("cancelled = %v", sched.cancelled)
	}

	if err := svc.Delete(ctx, task.ID); err == nil {
		t.Fatal("double delete must surface not-found")
	}
}

// orderStore fails the test if a row is deleted while its reminder is
// still armed.
type orderStore struct {
	storage.Store
	t     *testing.T
	sched *fakeSched
}

func (o *orderStore) DeleteTask(ctx context.Context, taskID string) error {
	if o.sched.cancelCount() == 0 {
		o.t.Error("row deleted before the reminder was cancelled")
	}
	return o.Store.DeleteTask(ctx, taskID)
}

func TestDeleteCancelsBeforeRemovingRow(t *testing.T) {
	t.Parallel()
	st := storage.NewMemory()
	sched := &fakeSched{}
	svc := New(&orderStore{Store: st, t: t, sched: sched}, sched, logx.Nop())
	ctx := context.Background()

	if err := st.CreateUser(ctx, domain.User{ID: "u1", Settings: domain.DefaultSettings()}); err != nil {
		t.Fatalf("CreateUser: %v", err)
	}
	task, err := svc.Create(ctx, "u1", "x", time.Now().Add(time.Hour), domain.PriorityLow)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if err := svc.Delete(ctx, task.ID); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if _, err := st.GetTask(ctx, task.ID); err == nil {
		t.Fatal("task still in store")
	}
}

func TestUpdateSettingsReconcilesUser(t *testing.T) {
	t.Parallel()
	svc, st, sched := newTestService(t)
	ctx := context.Background()

	set := domain.DefaultSettings()
	set.ReminderLeadHours = 6
	if err := svc.UpdateSettings(ctx, "u1", set); err != nil {
		t.Fatalf("UpdateSettings: %v", err)
	}
	u, err := st.GetUser(ctx, "u1")
	if err != nil {
		t.Fatalf("GetUser: %v", err)
	}
	if u.Settings.ReminderLeadHours != 6 {
		t.Fatalf("settings = %+v", u.Settings)
	}
	if len(sched.reconciled) != 1 || sched.reconciled[0] != "u1" {
		t.Fatalf("reconciled = %v", sched.reconciled)
	}

	set.ReminderLeadHours = 48
	if err := svc.UpdateSettings(ctx, "u1", set); err == nil {
		t.Fatal("out-of-range lead hours must be rejected")
	}
	set.ReminderLeadHours = 2
	set.Priorities = []domain.Priority{"critical"}
	if err := svc.UpdateSettings(ctx, "u1", set); err == nil {
		t.Fatal("invalid priority filter must be rejected")
	}
}
