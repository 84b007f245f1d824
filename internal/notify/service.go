package notify

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/time/rate"

	"taskpulse/internal/domain"
	"taskpulse/internal/eventbus"
	"taskpulse/internal/storage"
	logx "taskpulse/pkg/logx"
)

var (
	ErrDisabled = errors.New("emitter disabled")
)

// EventNotification is the bus event type for pushed notifications.
const EventNotification = "notification"

type Config struct {
	Enabled    bool
	QueueSize  int
	RatePerSec int
}

// Service implements the emitter: synchronous persist, async best-effort push.
//
// It is safe for concurrent use.
type Service struct {
	mu sync.Mutex

	log   logx.Logger
	store storage.Store
	bus   eventbus.Bus

	cfg     Config
	limiter *rate.Limiter

	accepting bool
	queue     chan domain.Notification
	stopDone  chan struct{}

	runCtx    context.Context
	runCancel context.CancelFunc
	workerWG  sync.WaitGroup

	// sendWG counts in-flight enqueues. Stop waits on it before closing the
	// queue so a send can never race the close.
	sendWG sync.WaitGroup
}

func New(cfg Config, store storage.Store, bus eventbus.Bus, log logx.Logger) *Service {
	if log.IsZero() {
		log = logx.Nop()
	}
	s := &Service{store: store, bus: bus, log: log}
	s.applyLocked(cfg)
	return s
}

func (s *Service) Enabled() bool {
	s.mu.Lock()
	en := s.cfg.Enabled
	s.mu.Unlock()
	return en
}

func (s *Service) Apply(cfg Config) {
	s.mu.Lock()
	s.applyLocked(cfg)
	s.mu.Unlock()
}

func (s *Service) applyLocked(cfg Config) {
	// Defaults
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = 256
	}
	if cfg.RatePerSec <= 0 {
		cfg.RatePerSec = 20
	}

	s.cfg = cfg
	// Token bucket: burst = rate per sec, so sweep bursts don't block too hard.
	s.limiter = rate.NewLimiter(rate.Limit(cfg.RatePerSec), cfg.RatePerSec)
}

func (s *Service) Start(ctx context.Context) {
	s.mu.Lock()
	if s.queue != nil {
		// already running
		s.mu.Unlock()
		return
	}
	s.queue = make(chan domain.Notification, s.cfg.QueueSize)
	s.accepting = true
	s.stopDone = make(chan struct{})
	s.runCtx, s.runCancel = context.WithCancel(ctx)
	s.mu.Unlock()

	s.workerWG.Add(1)
	go func() {
		defer s.workerWG.Done()
		defer func() {
			if r := recover(); r != nil {
				s.log.Error("panic in push worker", logx.Any("panic", r), logx.String("stack", string(debug.Stack())))
			}
		}()
		s.pushLoop()
	}()
}

// Stop stops intake and drains queued pushes best-effort until ctx deadline.
func (s *Service) Stop(ctx context.Context) {
	s.mu.Lock()
	q := s.queue
	done := s.stopDone
	cancel := s.runCancel
	if q == nil {
		s.mu.Unlock()
		return
	}
	s.accepting = false
	s.mu.Unlock()

	// No new enqueues observe accepting=true from here on; wait out the ones
	// that already registered, then the close is safe.
	s.sendWG.Wait()
	func() {
		defer func() { _ = recover() }() // tolerate a second Stop racing this one
		close(q)
	}()

	go func() {
		s.workerWG.Wait()
		close(done)
	}()

	select {
	case <-ctx.Done():
	case <-done:
	}
	if cancel != nil {
		cancel()
	}

	s.mu.Lock()
	s.queue = nil
	s.stopDone = nil
	s.runCtx = nil
	s.runCancel = nil
	s.mu.Unlock()
}

// Deliver persists the notification record and schedules a realtime push.
// The returned record carries the assigned ID and timestamps.
//
// The record is authoritative the moment this returns nil; a dropped or
// failed push is logged and forgotten.
func (s *Service) Deliver(ctx context.Context, n domain.Notification) (domain.Notification, error) {
	if n.UserID == "" {
		return domain.Notification{}, errors.New("notification without user")
	}
	if n.ID == "" {
		n.ID = uuid.NewString()
	}
	if n.CreatedAt.IsZero() {
		n.CreatedAt = time.Now()
	}
	n.Sent = true

	if err := s.store.CreateNotification(ctx, n); err != nil {
		return domain.Notification{}, fmt.Errorf("persist notification: %w", err)
	}

	s.enqueuePush(n)
	return n, nil
}

func (s *Service) enqueuePush(n domain.Notification) {
	s.mu.Lock()
	q := s.queue
	accepting := s.accepting && s.cfg.Enabled
	if accepting && q != nil {
		// Register under the lock: Stop flips accepting before it waits, so
		// every registered send finishes before the queue closes.
		s.sendWG.Add(1)
		defer s.sendWG.Done()
	}
	s.mu.Unlock()

	if q == nil || !accepting {
		// Emitter not running (or push disabled): record stays persisted.
		s.log.Debug("push skipped, emitter not accepting", logx.String("user", n.UserID), logx.String("kind", string(n.Kind)))
		return
	}
	select {
	case q <- n:
	default:
		s.log.Warn("push queue full, dropping realtime push", logx.String("user", n.UserID), logx.String("id", n.ID))
	}
}

func (s *Service) pushLoop() {
	s.mu.Lock()
	q := s.queue
	ctx := s.runCtx
	s.mu.Unlock()
	if q == nil {
		return
	}

	for n := range q {
		s.mu.Lock()
		lim := s.limiter
		s.mu.Unlock()
		if ctx != nil {
			if err := lim.Wait(ctx); err != nil {
				return
			}
		}
		s.bus.Publish(eventbus.Event{
			Type:   EventNotification,
			UserID: n.UserID,
			Data:   n,
		})
		s.log.Debug("notification pushed",
			logx.String("user", n.UserID),
			logx.String("kind", string(n.Kind)),
			logx.String("id", n.ID))
	}
}
