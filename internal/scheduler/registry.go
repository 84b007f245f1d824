package scheduler

import (
	"sync"
	"time"
)

// jobEntry is one live one-shot timer and the fire time it was computed for.
type jobEntry struct {
	timer  Timer
	fireAt time.Time
	ver    uint64
}

// registry maps task IDs to their single live reminder job.
//
// Invariants:
//   - a key maps to at most one live handle; set() stops any previous timer
//     before installing the new one (cancel-then-set, never set-without-cancel)
//   - every set() bumps the key's version; a timer callback must claim() with
//     the version it was armed with, so callbacks from replaced or cancelled
//     timers fall through even if the underlying timer already fired
//   - versions are monotonic per key for the registry's lifetime; cancel()
//     and claim() remove the job but keep the counter, otherwise a
//     set-cancel-set sequence would reissue an old version and let a stale
//     callback claim the new generation
//
// Cancellation of the timer primitive is best-effort; the version fence is
// what closes the fire-vs-cancel and reschedule-vs-reschedule races.
type registry struct {
	mu   sync.Mutex
	jobs map[string]*jobEntry
	vers map[string]uint64
}

func newRegistry() *registry {
	return &registry{
		jobs: map[string]*jobEntry{},
		vers: map[string]uint64{},
	}
}

// set installs a job under key, replacing any previous one, and returns the
// version the caller must arm its timer callback with. The timer handle is
// attached afterwards via arm() because creating the timer needs the version.
func (r *registry) set(key string, fireAt time.Time) uint64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	if old, ok := r.jobs[key]; ok && old.timer != nil {
		_ = old.timer.Stop()
	}
	ver := r.vers[key] + 1
	r.vers[key] = ver
	r.jobs[key] = &jobEntry{fireAt: fireAt, ver: ver}
	return ver
}

// arm attaches the timer handle to the job installed by set(). A no-op if the
// job was replaced or cancelled in between (the handle is stopped instead).
func (r *registry) arm(key string, ver uint64, t Timer) {
	r.mu.Lock()
	defer r.mu.Unlock()
	j, ok := r.jobs[key]
	if !ok || j.ver != ver {
		if t != nil {
			_ = t.Stop()
		}
		return
	}
	j.timer = t
}

// claim removes the job if it is still the one armed with ver. It reports
// whether the caller owns this firing; false means the job was replaced or
// cancelled and the callback must be a no-op.
func (r *registry) claim(key string, ver uint64) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	j, ok := r.jobs[key]
	if !ok || j.ver != ver {
		return false
	}
	delete(r.jobs, key)
	return true
}

// cancel stops and removes the job for key. Idempotent: cancelling an absent
// key is a no-op, never an error.
func (r *registry) cancel(key string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	j, ok := r.jobs[key]
	if !ok {
		return false
	}
	if j.timer != nil {
		_ = j.timer.Stop()
	}
	delete(r.jobs, key)
	return true
}

// fireTime returns the scheduled fire time for key, if a job is live.
func (r *registry) fireTime(key string) (time.Time, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	j, ok := r.jobs[key]
	if !ok {
		return time.Time{}, false
	}
	return j.fireAt, true
}

func (r *registry) len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.jobs)
}

// reset stops every live timer and clears the jobs. Version counters stay:
// a timer that slipped past the best-effort Stop must not be able to claim a
// job created after a restart of the engine.
func (r *registry) reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, j := range r.jobs {
		if j.timer != nil {
			_ = j.timer.Stop()
		}
	}
	r.jobs = map[string]*jobEntry{}
}

// snapshot returns the live jobs, for diagnostics.
func (r *registry) snapshot() []JobInfo {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]JobInfo, 0, len(r.jobs))
	for k, j := range r.jobs {
		out = append(out, JobInfo{Key: k, FireAt: j.fireAt})
	}
	return out
}
