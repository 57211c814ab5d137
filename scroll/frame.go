package scroll

import (
	"time"

	"github.com/nino-chavez/perfgov/internal/eventloop"
)

// FrameRequest is a handle on work scheduled through
// RequestOptimizedAnimationFrame.
type FrameRequest struct {
	c        *Coordinator
	fn       eventloop.FrameFunc
	priority Priority

	// guarded by c.mu
	frameID   eventloop.FrameID
	framed    bool
	timer     eventloop.Timer
	deferrals int
	done      bool
}

// RequestOptimizedAnimationFrame runs fn on the next frame, or, while
// ShouldDeferAnimation holds, after a priority-scaled delay. Deferral is
// re-checked when the delay expires; after MaxDeferrals postponements fn
// runs regardless. Critical work is never deferred.
func (c *Coordinator) RequestOptimizedAnimationFrame(fn eventloop.FrameFunc, p Priority) *FrameRequest {
	req := &FrameRequest{c: c, fn: fn, priority: p}

	deferNow := p != CriticalPriority && c.ShouldDeferAnimation()

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		req.done = true
		return req
	}
	c.pending[req] = struct{}{}
	if deferNow {
		req.deferLocked()
	} else {
		req.frameLocked()
	}
	return req
}

func (r *FrameRequest) deferLocked() {
	r.deferrals++
	r.timer = r.c.loop.AfterFunc(r.c.cfg.delayFor(r.priority), r.recheck)
}

func (r *FrameRequest) frameLocked() {
	r.timer = nil
	r.framed = true
	r.frameID = r.c.loop.RequestFrame(r.run)
}

func (r *FrameRequest) recheck() {
	deferAgain := r.c.ShouldDeferAnimation()

	r.c.mu.Lock()
	defer r.c.mu.Unlock()
	if r.done {
		return
	}
	if deferAgain && r.deferrals < r.c.cfg.MaxDeferrals {
		r.deferLocked()
		return
	}
	if deferAgain {
		log.Debugf("%s priority frame ran after %d deferrals", r.priority, r.deferrals)
	}
	r.frameLocked()
}

func (r *FrameRequest) run(ts time.Time) {
	r.c.mu.Lock()
	if r.done {
		r.c.mu.Unlock()
		return
	}
	r.done = true
	delete(r.c.pending, r)
	r.c.mu.Unlock()

	r.fn(ts)
}

// Cancel prevents the work from running. It reports whether the request was
// still pending.
func (r *FrameRequest) Cancel() bool {
	r.c.mu.Lock()
	defer r.c.mu.Unlock()

	if r.done {
		return false
	}
	r.done = true
	delete(r.c.pending, r)
	if r.timer != nil {
		r.timer.Stop()
	}
	if r.framed {
		r.c.loop.CancelFrame(r.frameID)
	}
	return true
}

// Deferrals returns how many times the work has been postponed.
func (r *FrameRequest) Deferrals() int {
	r.c.mu.Lock()
	defer r.c.mu.Unlock()
	return r.deferrals
}

// Done reports whether the work has run or been cancelled.
func (r *FrameRequest) Done() bool {
	r.c.mu.Lock()
	defer r.c.mu.Unlock()
	return r.done
}
