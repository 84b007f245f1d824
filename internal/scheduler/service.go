package scheduler

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/robfig/cron/v3"

	"taskpulse/internal/storage"
	logx "taskpulse/pkg/logx"
)

func New(cfg Config, store storage.Store, emitter Emitter, log logx.Logger) *Service {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Service{
		cfg:     cfg,
		log:     log,
		store:   store,
		emitter: emitter,
		clock:   systemClock{},
		parser:  cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor),
		reg:     newRegistry(),
	}
}

// Enabled reports the current config flag. (Thread-safe; Apply() may run concurrently.)
func (s *Service) Enabled() bool {
	s.mu.Lock()
	en := s.cfg.Enabled
	s.mu.Unlock()
	return en
}

func (s *Service) Apply(cfg Config) {
	s.mu.Lock()
	old := s.cfg
	s.cfg = cfg

	// Timezone or sweep-time changes need the cron entries rebuilt.
	var oldCron *cron.Cron
	if s.c != nil &&
		(strings.TrimSpace(old.Timezone) != strings.TrimSpace(cfg.Timezone) ||
			old.OverdueAt != cfg.OverdueAt || old.DigestAt != cfg.DigestAt) {
		oldCron = s.c
		s.c = nil
		s.overdueEntry = 0
		s.digestEntry = 0
	}
	s.mu.Unlock()

	if oldCron == nil {
		return
	}

	// Wait for in-flight sweeps without holding s.mu: a running sweep takes
	// the same mutex (run context, location, preview cap), so waiting under
	// the lock would deadlock the service.
	<-oldCron.Stop().Done()

	s.mu.Lock()
	if s.runCtx == nil {
		// Stopped while we were draining; nothing to rebuild.
		s.mu.Unlock()
		return
	}
	loc := s.loadLocationLocked()
	s.loc = loc
	s.c = cron.New(cron.WithParser(s.parser), cron.WithLocation(loc))
	if err := s.registerSweepsLocked(); err != nil {
		s.log.Error("sweep registration failed", logx.Err(err))
	}
	s.c.Start()
	s.mu.Unlock()

	s.log.Info("sweeps restarted", logx.String("tz", loc.String()))
}

// Start begins sweep triggering and re-derives all per-task reminder jobs
// from storage (the registry is memory-only, so a restart starts empty).
func (s *Service) Start(ctx context.Context) {
	s.mu.Lock()
	// runCtx stays non-nil while a sweep rebuild is draining the old cron,
	// so checking both fields keeps Start a no-op for a running engine.
	if s.c != nil || s.runCtx != nil {
		s.mu.Unlock()
		return
	}
	s.runCtx, s.runCancel = context.WithCancel(ctx)

	loc := s.loadLocationLocked()
	s.loc = loc
	s.c = cron.New(cron.WithParser(s.parser), cron.WithLocation(loc))

	if err := s.registerSweepsLocked(); err != nil {
		s.log.Error("sweep registration failed", logx.Err(err))
	}
	s.c.Start()
	runCtx := s.runCtx
	s.mu.Unlock()

	s.log.Info("scheduler started",
		logx.String("tz", loc.String()),
		logx.String("overdue_at", s.cfg.OverdueAt),
		logx.String("digest_at", s.cfg.DigestAt))

	// Startup reconciliation: rebuild one-shot jobs for every task. Runs in
	// the background so Start does not block on storage.
	go s.reconcileAll(runCtx)
}

// Stop stops sweep triggering and cancels all live reminder timers.
func (s *Service) Stop(ctx context.Context) {
	start := time.Now()

	s.mu.Lock()
	c := s.c
	s.c = nil
	cancel := s.runCancel
	s.runCancel = nil
	s.runCtx = nil
	s.overdueEntry = 0
	s.digestEntry = 0
	s.mu.Unlock()

	if c != nil {
		select {
		case <-c.Stop().Done():
		case <-ctx.Done():
			// best-effort
		}
	}

	s.reg.reset()
	if cancel != nil {
		cancel()
	}

	s.log.Info("scheduler stopped", logx.Duration("took", time.Since(start)))
}

// Snapshot returns a diagnostic view of live jobs and upcoming sweep runs.
func (s *Service) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()

	snap := Snapshot{
		Enabled:  s.cfg.Enabled,
		Timezone: s.cfg.Timezone,
		Jobs:     s.reg.snapshot(),
	}
	if s.c != nil {
		if s.overdueEntry != 0 {
			snap.NextOverdueSweep = s.c.Entry(s.overdueEntry).Next
		}
		if s.digestEntry != 0 {
			snap.NextDigestSweep = s.c.Entry(s.digestEntry).Next
		}
	}
	return snap
}

// registerSweepsLocked adds the two daily sweeps under their fixed names.
// Call with s.mu held and s.c non-nil.
func (s *Service) registerSweepsLocked() error {
	overdueSpec, err := dailySpec(s.cfg.OverdueAt, "03:00")
	if err != nil {
		return fmt.Errorf("overdue sweep time: %w", err)
	}
	digestSpec, err := dailySpec(s.cfg.DigestAt, "08:00")
	if err != nil {
		return fmt.Errorf("digest sweep time: %w", err)
	}

	eid, err := s.c.AddFunc(overdueSpec, func() {
		s.runSweep(SweepOverdue, &s.overdueRunning, s.runOverdueSweep)
	})
	if err != nil {
		return fmt.Errorf("register %s: %w", SweepOverdue, err)
	}
	s.overdueEntry = eid

	eid, err = s.c.AddFunc(digestSpec, func() {
		s.runSweep(SweepDigest, &s.digestRunning, s.runDigestSweep)
	})
	if err != nil {
		return fmt.Errorf("register %s: %w", SweepDigest, err)
	}
	s.digestEntry = eid
	return nil
}

func (s *Service) loadLocationLocked() *time.Location {
	tz := strings.TrimSpace(s.cfg.Timezone)
	if tz == "" {
		return time.Local
	}
	loc, err := time.LoadLocation(tz)
	if err != nil {
		s.log.Warn("invalid timezone; falling back to Local", logx.String("tz", tz), logx.Err(err))
		return time.Local
	}
	return loc
}

// reconcileAll walks every user and reschedules each of their tasks.
func (s *Service) reconcileAll(ctx context.Context) {
	if ctx == nil {
		ctx = context.Background()
	}
	users, err := s.store.ListUsers(ctx)
	if err != nil {
		s.log.Error("startup reconciliation aborted", logx.Err(err))
		return
	}
	rebuilt := 0
	for _, u := range users {
		if ctx.Err() != nil {
			return
		}
		if err := s.ReconcileUser(ctx, u.ID); err != nil {
			s.log.Warn("startup reconciliation failed for user", logx.String("user", u.ID), logx.Err(err))
			continue
		}
		rebuilt++
	}
	s.log.Info("startup reconciliation done",
		logx.Int("users", rebuilt),
		logx.Int("jobs", s.reg.len()))
}

// ValidateConfig rejects configs the engine could not apply: bad timezones
// and malformed sweep times. Used as a hot-reload gate.
func ValidateConfig(cfg Config) error {
	if tz := strings.TrimSpace(cfg.Timezone); tz != "" {
		if _, err := time.LoadLocation(tz); err != nil {
			return fmt.Errorf("scheduler.timezone: invalid %q: %w", tz, err)
		}
	}
	if _, err := dailySpec(cfg.OverdueAt, "03:00"); err != nil {
		return fmt.Errorf("scheduler.overdue_at: %w", err)
	}
	if _, err := dailySpec(cfg.DigestAt, "08:00"); err != nil {
		return fmt.Errorf("scheduler.digest_at: %w", err)
	}
	if cfg.OverduePreview < 0 {
		return fmt.Errorf("scheduler.overdue_preview must be >= 0")
	}
	return nil
}

// dailySpec converts "HH:MM" into a daily cron spec, falling back to def
// when raw is empty.
func dailySpec(raw, def string) (string, error) {
	if strings.TrimSpace(raw) == "" {
		raw = def
	}
	h, m, err := parseHHMM(raw)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("%d %d * * *", m, h), nil
}

func parseHHMM(s string) (hour int, minute int, err error) {
	s = strings.TrimSpace(s)
	parts := strings.Split(s, ":")
	if len(parts) != 2 {
		return 0, 0, fmt.Errorf("invalid time %q, expected HH:MM", s)
	}
	h, err := strconv.Atoi(parts[0])
	if err != nil || h < 0 || h > 23 {
		return 0, 0, fmt.Errorf("invalid hour in %q", s)
	}
	m, err := strconv.Atoi(parts[1])
	if err != nil || m < 0 || m > 59 {
		return 0, 0, fmt.Errorf("invalid minute in %q", s)
	}
	return h, m, nil
}

// ctx returns the running context, or Background before Start/after Stop
// (timer callbacks may straddle either edge).
func (s *Service) ctx() context.Context {
	s.mu.Lock()
	ctx := s.runCtx
	s.mu.Unlock()
	if ctx == nil {
		return context.Background()
	}
	return ctx
}
