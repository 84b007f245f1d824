package storage

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"taskpulse/internal/domain"
	logx "taskpulse/pkg/logx"
)

//go:embed migrations.sql
var migrationsFS embed.FS

type sqliteStore struct {
	db  *sql.DB
	log logx.Logger
}

func openSQLite(cfg Config, log logx.Logger) (Store, error) {
	if strings.TrimSpace(cfg.Path) == "" {
		return nil, errors.New("sqlite path is required")
	}
	path := cfg.Path
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	// SQLite prefers a small number of concurrent writers.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	st := &sqliteStore{db: db, log: log}

	// Basic pragmas.
	if cfg.BusyTimeout > 0 {
		ms := cfg.BusyTimeout.Milliseconds()
		_, _ = db.Exec(fmt.Sprintf("PRAGMA busy_timeout = %d", ms))
	}
	_, _ = db.Exec("PRAGMA journal_mode = WAL")
	_, _ = db.Exec("PRAGMA synchronous = NORMAL")

	if err := st.migrate(context.Background()); err != nil {
		_ = db.Close()
		return nil, err
	}
	return st, nil
}

func (s *sqliteStore) migrate(ctx context.Context) error {
	b, err := migrationsFS.ReadFile("migrations.sql")
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, string(b))
	return err
}

func (s *sqliteStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// ---- users ----

func (s *sqliteStore) CreateUser(ctx context.Context, u domain.User) error {
	if u.CreatedAt.IsZero() {
		u.CreatedAt = time.Now()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO users(id, name, notify_enabled, notify_priorities, reminder_lead_hours, overdue_alerts, daily_digest, created_at)
		 VALUES(?,?,?,?,?,?,?,?)`,
		u.ID, u.Name, boolInt(u.Settings.Enabled), joinPriorities(u.Settings.Priorities),
		u.Settings.ReminderLeadHours, boolInt(u.Settings.OverdueAlerts), boolInt(u.Settings.DailyDigest),
		u.CreatedAt.UnixMilli(),
	)
	if isUniqueErr(err) {
		return ErrExists
	}
	return err
}

func (s *sqliteStore) GetUser(ctx context.Context, id string) (domain.User, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, name, notify_enabled, notify_priorities, reminder_lead_hours, overdue_alerts, daily_digest, created_at
		 FROM users WHERE id = ?`, id)
	return scanUser(row)
}

func (s *sqliteStore) UpdateUserSettings(ctx context.Context, id string, set domain.NotificationSettings) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE users SET notify_enabled=?, notify_priorities=?, reminder_lead_hours=?, overdue_alerts=?, daily_digest=?
		 WHERE id = ?`,
		boolInt(set.Enabled), joinPriorities(set.Priorities), set.ReminderLeadHours,
		boolInt(set.OverdueAlerts), boolInt(set.DailyDigest), id,
	)
	if err != nil {
		return err
	}
	return mustAffect(res)
}

func (s *sqliteStore) ListUsers(ctx context.Context) ([]domain.User, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, name, notify_enabled, notify_priorities, reminder_lead_hours, overdue_alerts, daily_digest, created_at
		 FROM users ORDER BY id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []domain.User
	for rows.Next() {
		u, err := scanUser(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, u)
	}
	return out, rows.Err()
}

// ---- tasks ----

func (s *sqliteStore) CreateTask(ctx context.Context, t domain.Task) error {
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
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO tasks(id, user_id, title, due_at, priority, status, created_at, updated_at)
		 VALUES(?,?,?,?,?,?,?,?)`,
		t.ID, t.UserID, t.Title, t.DueDate.UnixMilli(), string(t.Priority), string(t.Status),
		t.CreatedAt.UnixMilli(), t.UpdatedAt.UnixMilli(),
	)
	if isUniqueErr(err) {
		return ErrExists
	}
	return err
}

func (s *sqliteStore) GetTask(ctx context.Context, id string) (domain.Task, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, user_id, title, due_at, priority, status, created_at, updated_at
		 FROM tasks WHERE id = ?`, id)
	return scanTask(row)
}

func (s *sqliteStore) UpdateTask(ctx context.Context, t domain.Task) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE tasks SET title=?, due_at=?, priority=?, status=?, updated_at=? WHERE id = ?`,
		t.Title, t.DueDate.UnixMilli(), string(t.Priority), string(t.Status),
		time.Now().UnixMilli(), t.ID,
	)
	if err != nil {
		return err
	}
	return mustAffect(res)
}

func (s *sqliteStore) UpdateTaskStatus(ctx context.Context, id string, status domain.TaskStatus) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE tasks SET status=?, updated_at=? WHERE id = ?`,
		string(status), time.Now().UnixMilli(), id,
	)
	if err != nil {
		return err
	}
	return mustAffect(res)
}

func (s *sqliteStore) DeleteTask(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM tasks WHERE id = ?`, id)
	if err != nil {
		return err
	}
	return mustAffect(res)
}

func (s *sqliteStore) ListTasksByUser(ctx context.Context, userID string, f TaskFilter) ([]domain.Task, error) {
	q := `SELECT id, user_id, title, due_at, priority, status, created_at, updated_at
	      FROM tasks WHERE user_id = ?`
	args := []any{userID}
	if len(f.Statuses) > 0 {
		q += ` AND status IN (?` + strings.Repeat(",?", len(f.Statuses)-1) + `)`
		for _, st := range f.Statuses {
			args = append(args, string(st))
		}
	}
	if !f.DueBefore.IsZero() {
		q += ` AND due_at < ?`
		args = append(args, f.DueBefore.UnixMilli())
	}
	if f.OrderByDue {
		q += ` ORDER BY due_at`
	} else {
		q += ` ORDER BY created_at`
	}

	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []domain.Task
	for rows.Next() {
		t, err := scanTask(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

func (s *sqliteStore) MarkTaskOverdue(ctx context.Context, id string) (bool, error) {
	// Conditional transition: only a pending task moves to overdue.
	res, err := s.db.ExecContext(ctx,
		`UPDATE tasks SET status=?, updated_at=? WHERE id = ? AND status = ?`,
		string(domain.StatusOverdue), time.Now().UnixMilli(), id, string(domain.StatusPending),
	)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

// ---- notifications ----

func (s *sqliteStore) CreateNotification(ctx context.Context, n domain.Notification) error {
	if n.CreatedAt.IsZero() {
		n.CreatedAt = time.Now()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO notifications(id, user_id, task_id, kind, message, created_at, is_sent, is_read)
		 VALUES(?,?,?,?,?,?,?,?)`,
		n.ID, n.UserID, n.TaskID, string(n.Kind), n.Message,
		n.CreatedAt.UnixMilli(), boolInt(n.Sent), boolInt(n.Read),
	)
	if isUniqueErr(err) {
		return ErrExists
	}
	return err
}

func (s *sqliteStore) ListNotifications(ctx context.Context, userID string, limit int) ([]domain.Notification, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, user_id, task_id, kind, message, created_at, is_sent, is_read
		 FROM notifications WHERE user_id = ? ORDER BY created_at DESC LIMIT ?`,
		userID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []domain.Notification
	for rows.Next() {
		var n domain.Notification
		var kind string
		var createdMS int64
		var sent, read int
		if err := rows.Scan(&n.ID, &n.UserID, &n.TaskID, &kind, &n.Message, &createdMS, &sent, &read); err != nil {
			return nil, err
		}
		n.Kind = domain.NotificationKind(kind)
		n.CreatedAt = time.UnixMilli(createdMS)
		n.Sent = sent != 0
		n.Read = read != 0
		out = append(out, n)
	}
	return out, rows.Err()
}

func (s *sqliteStore) CountUnread(ctx context.Context, userID string) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM notifications WHERE user_id = ? AND is_read = 0`, userID).Scan(&n)
	return n, err
}

func (s *sqliteStore) MarkNotificationRead(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE notifications SET is_read = 1 WHERE id = ?`, id)
	if err != nil {
		return err
	}
	return mustAffect(res)
}

// ---- scan helpers ----

type rowScanner interface {
	Scan(dest ...any) error
}

func scanUser(r rowScanner) (domain.User, error) {
	var u domain.User
	var enabled, overdue, digest int
	var priorities string
	var createdMS int64
	err := r.Scan(&u.ID, &u.Name, &enabled, &priorities, &u.Settings.ReminderLeadHours,
		&overdue, &digest, &createdMS)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.User{}, ErrNotFound
	}
	if err != nil {
		return domain.User{}, err
	}
	u.Settings.Enabled = enabled != 0
	u.Settings.OverdueAlerts = overdue != 0
	u.Settings.DailyDigest = digest != 0
	u.Settings.Priorities = splitPriorities(priorities)
	u.CreatedAt = time.UnixMilli(createdMS)
	return u, nil
}

func scanTask(r rowScanner) (domain.Task, error) {
	var t domain.Task
	var priority, status string
	var dueMS, createdMS, updatedMS int64
	err := r.Scan(&t.ID, &t.UserID, &t.Title, &dueMS, &priority, &status, &createdMS, &updatedMS)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.Task{}, ErrNotFound
	}
	if err != nil {
		return domain.Task{}, err
	}
	t.DueDate = time.UnixMilli(dueMS)
	t.Priority = domain.Priority(priority)
	t.Status = domain.TaskStatus(status)
	t.CreatedAt = time.UnixMilli(createdMS)
	t.UpdatedAt = time.UnixMilli(updatedMS)
	return t, nil
}

func mustAffect(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func isUniqueErr(err error) bool {
	return err != nil && strings.Contains(err.Error(), "UNIQUE constraint failed")
}

func joinPriorities(ps []domain.Priority) string {
	parts := make([]string, 0, len(ps))
	for _, p := range ps {
		parts = append(parts, string(p))
	}
	return strings.Join(parts, ",")
}

func splitPriorities(s string) []domain.Priority {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil
	}
	var out []domain.Priority
	for _, part := range strings.Split(s, ",") {
		p := domain.Priority(strings.TrimSpace(part))
		if p.Valid() {
			out = append(out, p)
		}
	}
	return out
}
