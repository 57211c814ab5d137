// Package eventloop provides the single cooperative scheduling loop every
// governance component runs on: per-frame callbacks at a nominal 60Hz plus
// coarse timers for debouncing, cooldowns and delayed retries.
//
// Callbacks scheduled on a loop never run concurrently with each other, so
// state touched only from loop callbacks needs no further coordination.
package eventloop

import (
	"context"
	"sync"
	"time"

	"k8s.io/utils/clock"
)

// DefaultFrameInterval is the nominal frame period (60Hz).
const DefaultFrameInterval = time.Second / 60

// FrameFunc receives the timestamp of the frame it runs in.
type FrameFunc func(ts time.Time)

// FrameID identifies a pending frame request.
type FrameID uint64

// Timer is a pending delayed callback.
type Timer interface {
	// Stop cancels the callback and reports whether it was still pending.
	Stop() bool
}

// Loop schedules work onto a single cooperative thread of execution.
type Loop interface {
	// Now returns the loop's current time.
	Now() time.Time

	// AfterFunc runs fn on the loop once d has elapsed.
	AfterFunc(d time.Duration, fn func()) Timer

	// RequestFrame runs fn on the next frame boundary.
	RequestFrame(fn FrameFunc) FrameID

	// CancelFrame cancels a pending frame request. Unknown ids are ignored.
	CancelFrame(id FrameID)

	// Post hands fn to the loop for execution as soon as possible.
	Post(fn func())
}

// Do posts fn to the loop and waits until it has run or ctx is done.
func Do(ctx context.Context, l Loop, fn func()) error {
	done := make(chan struct{})
	l.Post(func() {
		defer close(done)
		fn()
	})

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Manual is a deterministic loop driven by explicit calls to Advance. Time
// only moves when the owner advances it; posted functions run inline.
type Manual struct {
	mu  sync.Mutex
	now time.Time
	s   *scheduler
}

// NewManual creates a manual loop starting at start.
func NewManual(start time.Time, frameInterval time.Duration) *Manual {
	return &Manual{
		now: start,
		s:   newScheduler(start, frameInterval),
	}
}

func (m *Manual) Now() time.Time {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.now
}

func (m *Manual) AfterFunc(d time.Duration, fn func()) Timer {
	return &timer{s: m.s, e: m.s.after(m.Now(), d, fn)}
}

func (m *Manual) RequestFrame(fn FrameFunc) FrameID {
	return m.s.requestFrame(m.Now(), fn)
}

func (m *Manual) CancelFrame(id FrameID) {
	m.s.cancelFrame(id)
}

func (m *Manual) Post(fn func()) {
	fn()
}

// Advance moves time forward by d, running every callback that falls due
// in order of its due time.
func (m *Manual) Advance(d time.Duration) {
	m.mu.Lock()
	target := m.now.Add(d)
	m.mu.Unlock()

	for {
		e := m.s.popDue(target)
		if e == nil {
			break
		}
		m.mu.Lock()
		if e.at.After(m.now) {
			m.now = e.at
		}
		m.mu.Unlock()
		e.run()
	}

	m.mu.Lock()
	m.now = target
	m.mu.Unlock()
}

// AdvanceFrames advances time by n frame intervals.
func (m *Manual) AdvanceFrames(n int) {
	m.Advance(time.Duration(n) * m.s.interval)
}

// Pending returns the number of scheduled callbacks.
func (m *Manual) Pending() int {
	return m.s.pending()
}

// Real runs callbacks on the goroutine that calls Run, using wall-clock time.
type Real struct {
	clock clock.Clock
	s     *scheduler
	wake  chan struct{}
}

// NewReal creates a loop timed by c. A nil clock uses the system clock.
func NewReal(c clock.Clock, frameInterval time.Duration) *Real {
	if c == nil {
		c = clock.RealClock{}
	}
	return &Real{
		clock: c,
		s:     newScheduler(c.Now(), frameInterval),
		wake:  make(chan struct{}, 1),
	}
}

func (r *Real) Now() time.Time {
	return r.clock.Now()
}

func (r *Real) AfterFunc(d time.Duration, fn func()) Timer {
	t := &timer{s: r.s, e: r.s.after(r.clock.Now(), d, fn)}
	r.notify()
	return t
}

func (r *Real) RequestFrame(fn FrameFunc) FrameID {
	id := r.s.requestFrame(r.clock.Now(), fn)
	r.notify()
	return id
}

func (r *Real) CancelFrame(id FrameID) {
	r.s.cancelFrame(id)
}

func (r *Real) Post(fn func()) {
	r.s.after(r.clock.Now(), 0, fn)
	r.notify()
}

func (r *Real) notify() {
	select {
	case r.wake <- struct{}{}:
	default:
	}
}

// Run executes scheduled callbacks until ctx is cancelled.
func (r *Real) Run(ctx context.Context) error {
	for {
		for e := r.s.popDue(r.clock.Now()); e != nil; e = r.s.popDue(r.clock.Now()) {
			e.run()
		}

		wait := time.Minute
		if at, ok := r.s.next(); ok {
			wait = at.Sub(r.clock.Now())
			if wait < 0 {
				wait = 0
			}
		}

		t := r.clock.NewTimer(wait)
		select {
		case <-ctx.Done():
			t.Stop()
			return ctx.Err()
		case <-r.wake:
			t.Stop()
		case <-t.C():
		}
	}
}
