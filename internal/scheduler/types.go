package scheduler

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/robfig/cron/v3"

	"taskpulse/internal/domain"
	"taskpulse/internal/storage"
	logx "taskpulse/pkg/logx"
)

// Fixed registry names for the two recurring sweeps.
const (
	SweepOverdue = "overdueCheck"
	SweepDigest  = "digest"
)

// Emitter persists a notification record and pushes it to the owner's
// realtime channel.
type Emitter interface {
	Deliver(ctx context.Context, n domain.Notification) (domain.Notification, error)
}

// Config controls the scheduling engine.
type Config struct {
	Enabled bool

	// Timezone is the IANA zone the daily sweep times are interpreted in,
	// e.g. "Europe/Berlin". Empty means the process-local zone.
	Timezone string

	// OverdueAt / DigestAt are daily "HH:MM" times for the two sweeps.
	// They should differ so the digest reflects the morning's overdue pass.
	OverdueAt string
	DigestAt  string

	// OverduePreview caps how many task titles an aggregated overdue alert
	// lists before collapsing the rest into a count.
	OverduePreview int
}

type Service struct {
	mu sync.Mutex

	log logx.Logger
	cfg Config
	loc *time.Location

	store   storage.Store
	emitter Emitter
	clock   Clock

	parser cron.Parser
	c      *cron.Cron

	reg *registry

	overdueEntry cron.EntryID
	digestEntry  cron.EntryID

	// Overlap guards: a sweep invocation is skipped, not queued, while the
	// previous one is still running.
	overdueRunning atomic.Bool
	digestRunning  atomic.Bool

	runCtx    context.Context
	runCancel context.CancelFunc
}

// JobInfo describes one live per-task job.
type JobInfo struct {
	Key    string
	FireAt time.Time
}

// Snapshot is a diagnostic view of the engine state.
type Snapshot struct {
	Enabled  bool
	Timezone string

	Jobs []JobInfo

	NextOverdueSweep time.Time
	NextDigestSweep  time.Time
}
