// Package fsmsync provides a binary signal a driver context can post without
// blocking, and an FSM thread waits on with a bounded timeout. The
// Advertiser FSM uses it for the reboot-button handoff; the Scanner FSM
// waits on its own event channel instead. Built on
// golang.org/x/sync/semaphore rather than a hand-rolled channel-plus-timer,
// since a timed Acquire is exactly a bounded wait.
package fsmsync

import (
	"context"
	"sync/atomic"
	"time"

	"golang.org/x/sync/semaphore"
)

// Signal is a binary semaphore: Post is idempotent between Waits (a second
// Post before the next Wait observes it is a no-op, matching "driver
// contexts never suspend; they post state then release a semaphore" —
// coalescing is intentional for events like successive sync-term
// notifications).
type Signal struct {
	sem   *semaphore.Weighted
	armed atomic.Bool
}

// New returns a Signal with no pending post.
func New() *Signal {
	s := &Signal{sem: semaphore.NewWeighted(1)}
	_ = s.sem.Acquire(context.Background(), 1) // drain the initial permit
	return s
}

// Post marks the signal pending, waking one blocked Wait.
func (s *Signal) Post() {
	if s.armed.CompareAndSwap(false, true) {
		s.sem.Release(1)
	}
}

// Wait blocks until Post is called or timeout elapses, reporting which.
// A timeout is not an error — callers log a liveness message and re-wait.
func (s *Signal) Wait(ctx context.Context, timeout time.Duration) (posted bool) {
	wctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	if err := s.sem.Acquire(wctx, 1); err != nil {
		return false
	}
	s.armed.Store(false)
	return true
}
