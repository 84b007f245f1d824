package storage

import (
	"context"
	"sort"
	"sync"
	"time"

	"taskpulse/internal/domain"
)

// Memory is a map-backed Store. It is safe for concurrent use and is the
// reference implementation the engine tests run against.
type Memory struct {
	mu            sync.RWMutex
	users         map[string]domain.User
	tasks         map[string]domain.Task
	notifications map[string]domain.Notification
	notifOrder    []string // insertion order of notification IDs
}

func NewMemory() *Memory {
	return &Memory{
		users:         map[string]domain.User{},
		tasks:         map[string]domain.Task{},
		notifications: map[string]domain.Notification{},
	}
}

func (m *Memory) Close() error { return nil }

// ---- users ----

func (m *Memory) CreateUser(_ context.Context, u domain.User) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.users[u.ID]; ok {
		return ErrExists
	}
	if u.CreatedAt.IsZero() {
		u.CreatedAt = time.Now()
	}
	m.users[u.ID] = u
	return nil
}

func (m *Memory) GetUser(_ context.Context, id string) (domain.User, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	u, ok := m.users[id]
	if !ok {
		return domain.User{}, ErrNotFound
	}
	return u, nil
}

func (m *Memory) UpdateUserSettings(_ context.Context, id string, s domain.NotificationSettings) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.users[id]
	if !ok {
		return ErrNotFound
	}
	u.Settings = s
	m.users[id] = u
	return nil
}

func (m *Memory) ListUsers(_ context.Context) ([]domain.User, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]domain.User, 0, len(m.users))
	for _, u := range m.users {
		out = append(out, u)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// ---- tasks ----

func (m *Memory) CreateTask(_ context.Context, t domain.Task) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.tasks[t.ID]; ok {
		return ErrExists
	}
	now := time.Now()
	if t.CreatedAt.IsZero() {
		t.CreatedAt = now
	}
	if t.UpdatedAt.IsZero() {
		t.UpdatedAt = now
	}
	if t.Status == "" {
		t.Status = domain.StatusPending
	}
	m.tasks[t.ID] = t
	return nil
}

func (m *Memory) GetTask(_ context.Context, id string) (domain.Task, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	t, ok := m.tasks[id]
	if !ok {
		return domain.Task{}, ErrNotFound
	}
	return t, nil
}

func (m *Memory) UpdateTask(_ context.Context, t domain.Task) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	old, ok := m.tasks[t.ID]
	if !ok {
		return ErrNotFound
	}
	t.CreatedAt = old.CreatedAt
	t.UpdatedAt = time.Now()
	m.tasks[t.ID] = t
	return nil
}

func (m *Memory) UpdateTaskStatus(_ context.Context, id string, status domain.TaskStatus) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.tasks[id]
	if !ok {
		return ErrNotFound
	}
	t.Status = status
	t.UpdatedAt = time.Now()
	m.tasks[id] = t
	return nil
}

func (m *Memory) DeleteTask(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.tasks[id]; !ok {
		return ErrNotFound
	}
	delete(m.tasks, id)
	return nil
}

func (m *Memory) ListTasksByUser(_ context.Context, userID string, f TaskFilter) ([]domain.Task, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []domain.Task
	for _, t := range m.tasks {
		if t.UserID != userID {
			continue
		}
		if !f.matches(t) {
			continue
		}
		out = append(out, t)
	}
	if f.OrderByDue {
		sort.Slice(out, func(i, j int) bool { return out[i].DueDate.Before(out[j].DueDate) })
	} else {
		sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	}
	return out, nil
}

func (m *Memory) MarkTaskOverdue(_ context.Context, id string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.tasks[id]
	if !ok || t.Status != domain.StatusPending {
		return false, nil
	}
	t.Status = domain.StatusOverdue
	t.UpdatedAt = time.Now()
	m.tasks[id] = t
	return true, nil
}

// ---- notifications ----

func (m *Memory) CreateNotification(_ context.Context, n domain.Notification) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.notifications[n.ID]; ok {
		return ErrExists
	}
	if n.CreatedAt.IsZero() {
		n.CreatedAt = time.Now()
	}
	m.notifications[n.ID] = n
	m.notifOrder = append(m.notifOrder, n.ID)
	return nil
}

func (m *Memory) ListNotifications(_ context.Context, userID string, limit int) ([]domain.Notification, error) {
	if limit <= 0 {
		limit = 50
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []domain.Notification
	// newest first
	for i := len(m.notifOrder) - 1; i >= 0 && len(out) < limit; i-- {
		n, ok := m.notifications[m.notifOrder[i]]
		if ok && n.UserID == userID {
			out = append(out, n)
		}
	}
	return out, nil
}

func (m *Memory) CountUnread(_ context.Context, userID string) (int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	n := 0
	for _, it := range m.notifications {
		if it.UserID == userID && !it.Read {
			n++
		}
	}
	return n, nil
}

func (m *Memory) MarkNotificationRead(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	n, ok := m.notifications[id]
	if !ok {
		return ErrNotFound
	}
	n.Read = true
	m.notifications[id] = n
	return nil
}
