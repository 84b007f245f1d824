package scheduler

import (
	"testing"
	"time"

	"taskpulse/internal/domain"
)

func TestResolve(t *testing.T) {
	t.Parallel()

	now := time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)
	settings := func(mut func(*domain.NotificationSettings)) domain.NotificationSettings {
		s := domain.DefaultSettings()
		if mut != nil {
			mut(&s)
		}
		return s
	}
	task := func(due time.Time, p domain.Priority) domain.Task {
		return domain.Task{ID: "t1", UserID: "u1", DueDate: due, Priority: p, Status: domain.StatusPending}
	}

	tests := []struct {
		name   string
		task   domain.Task
		set    domain.NotificationSettings
		wantOK bool
		wantAt time.Time
	}{
		{
			name:   "normal window",
			task:   task(now.Add(4*time.Hour), domain.PriorityHigh),
			set:    settings(nil), // lead 2h
			wantOK: true,
			wantAt: now.Add(2 * time.Hour),
		},
		{
			name: "notifications disabled",
			task: task(now.Add(4*time.Hour), domain.PriorityHigh),
			set:  settings(func(s *domain.NotificationSettings) { s.Enabled = false }),
		},
		{
			name: "priority not enabled",
			task: task(now.Add(4*time.Hour), domain.PriorityLow),
			set:  settings(nil),
		},
		{
			name: "window already elapsed",
			task: task(now.Add(time.Hour), domain.PriorityHigh), // fire would be now-1h
			set:  settings(nil),
		},
		{
			name: "due in the past",
			task: task(now.Add(-time.Hour), domain.PriorityHigh),
			set:  settings(nil),
		},
		{
			name:   "fire time exactly now still fires",
			task:   task(now.Add(2*time.Hour), domain.PriorityHigh),
			set:    settings(nil),
			wantOK: true,
			wantAt: now,
		},
		{
			name: "lead clamped to max",
			task: task(now.Add(30*time.Hour), domain.PriorityHigh),
			set: settings(func(s *domain.NotificationSettings) {
				s.ReminderLeadHours = 99 // clamps to 24
			}),
			wantOK: true,
			wantAt: now.Add(6 * time.Hour),
		},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			at, ok := Resolve(tt.task, tt.set, now)
			if ok != tt.wantOK {
				t.Fatalf("ok = %v, want %v", ok, tt.wantOK)
			}
			if ok && !at.Equal(tt.wantAt) {
				t.Fatalf("fireAt = %v, want %v", at, tt.wantAt)
			}
		})
	}
}

func TestResolveIsDeterministic(t *testing.T) {
	t.Parallel()
	now := time.Now()
	task := domain.Task{DueDate: now.Add(8 * time.Hour), Priority: domain.PriorityHigh}
	set := domain.DefaultSettings()

	a1, ok1 := Resolve(task, set, now)
	a2, ok2 := Resolve(task, set, now)
	if ok1 != ok2 || !a1.Equal(a2) {
		t.Fatalf("Resolve not deterministic: (%v,%v) vs (%v,%v)", a1, ok1, a2, ok2)
	}
}
