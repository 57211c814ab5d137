package scroll

import (
	"math"
	"sync"
	"time"

	logging "github.com/ipfs/go-log/v2"

	"github.com/nino-chavez/perfgov/internal/eventloop"
	"github.com/nino-chavez/perfgov/internal/ringbuf"
	"github.com/nino-chavez/perfgov/monitoring"
)

var log = logging.Logger("perfgov/scroll")

// VisibilityFunc receives the elements whose visibility crossed a threshold
// in one evaluation.
type VisibilityFunc func([]Visibility)

// Coordinator owns the viewport cache, scroll physics and the shared
// visibility tracker. Scroll and resize events are expected on the event
// loop; queries may come from any goroutine.
type Coordinator struct {
	loop     eventloop.Loop
	cfg      Config
	viewport Viewport
	layout   Layout
	quality  QualitySource

	mu         sync.Mutex
	closed     bool
	cache      ViewportCache
	refresh    eventloop.Timer
	tracker    *visibilityTracker
	checkFrame eventloop.FrameID
	checking   bool
	listeners  map[int]VisibilityFunc
	nextListen int

	last       *scrollEvent
	velocities *ringbuf.Ring[float64]
	momentum   ScrollMomentum
	scrolling  bool
	debounce   eventloop.Timer

	pending map[*FrameRequest]struct{}
}

// NewCoordinator creates a coordinator. quality may be nil, in which case
// only momentum causes deferral.
func NewCoordinator(loop eventloop.Loop, cfg Config, viewport Viewport, layout Layout, quality QualitySource) (*Coordinator, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &Coordinator{
		loop:       loop,
		cfg:        cfg,
		viewport:   viewport,
		layout:     layout,
		quality:    quality,
		tracker:    newVisibilityTracker(cfg.Thresholds),
		listeners:  make(map[int]VisibilityFunc),
		velocities: ringbuf.New[float64](cfg.VelocityHistory),
		pending:    make(map[*FrameRequest]struct{}),
	}, nil
}

// RegisterElement starts tracking id. Registering twice is a no-op. The
// first snapshot is taken on the next frame.
func (c *Coordinator) RegisterElement(id string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return ErrCoordinatorClosed
	}
	c.tracker.observe(id)
	c.scheduleCheckLocked()
	return nil
}

// UnregisterElement stops tracking id without affecting other elements.
func (c *Coordinator) UnregisterElement(id string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.tracker.unobserve(id)
	if c.tracker.len() == 0 && c.checking {
		c.loop.CancelFrame(c.checkFrame)
		c.checking = false
	}
}

// IsElementVisible reports whether id currently intersects the viewport.
// Unregistered ids are never visible.
func (c *Coordinator) IsElementVisible(id string) bool {
	vis, ok := c.ElementVisibility(id)
	return ok && vis.IsIntersecting
}

// ElementVisibility returns the most recent snapshot for id; ok is false if
// id is not registered.
func (c *Coordinator) ElementVisibility(id string) (Visibility, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.tracker.get(id)
}

// OnVisibilityChange registers fn for threshold crossings. The returned
// function removes it.
func (c *Coordinator) OnVisibilityChange(fn VisibilityFunc) func() {
	c.mu.Lock()
	defer c.mu.Unlock()

	id := c.nextListen
	c.nextListen++
	c.listeners[id] = fn
	return func() {
		c.mu.Lock()
		defer c.mu.Unlock()
		delete(c.listeners, id)
	}
}

// ViewportInfo returns the cached viewport. The dimensions are re-read at
// most once per CacheTTL: an invalidation inside the interval serves the
// cached geometry and re-reads when the interval ends.
func (c *Coordinator) ViewportInfo() ViewportCache {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.viewportLocked()
}

func (c *Coordinator) viewportLocked() ViewportCache {
	if c.viewport == nil {
		return c.cache
	}
	now := c.loop.Now()
	if !c.cache.LastUpdate.IsZero() {
		if wait := c.cache.LastUpdate.Add(c.cfg.CacheTTL).Sub(now); wait > 0 {
			if !c.cache.IsValid && c.refresh == nil {
				c.refresh = c.loop.AfterFunc(wait, c.refreshViewport)
			}
			return c.cache
		}
	}

	size, err := c.viewport.Measure()
	if err != nil {
		log.Warnf("viewport measure failed, serving stale cache: %s", err)
		return c.cache
	}
	c.cache.Width = size.Width
	c.cache.Height = size.Height
	c.cache.LastUpdate = now
	c.cache.IsValid = true
	return c.cache
}

func (c *Coordinator) refreshViewport() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.refresh = nil
	if c.closed || c.cache.IsValid {
		return
	}
	c.viewportLocked()
	c.scheduleCheckLocked()
}

// HandleResize invalidates the viewport cache and re-checks visibility.
func (c *Coordinator) HandleResize() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.cache.IsValid = false
	c.scheduleCheckLocked()
}

// HandleScroll records a scroll event at the loop's current time and
// updates the momentum estimate. Scrolling ends once no event has arrived
// for DebounceDelay.
func (c *Coordinator) HandleScroll(top, left float64) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return
	}

	now := c.loop.Now()
	c.cache.ScrollTop = top
	c.cache.ScrollLeft = left
	c.scrolling = true

	if c.last != nil {
		if dt := now.Sub(c.last.at); dt > 0 {
			c.updateMomentumLocked((top-c.last.top)/durationMs(dt), dt)
		}
	}
	c.last = &scrollEvent{top: top, left: left, at: now}
	c.momentum.PredictedEndPosition = top + PredictDisplacement(
		perFrame(c.momentum.Velocity, c.cfg.FrameInterval), c.cfg.Deceleration, c.cfg.Epsilon)

	if c.debounce != nil {
		c.debounce.Stop()
	}
	c.debounce = c.loop.AfterFunc(c.cfg.DebounceDelay, c.endScroll)

	c.scheduleCheckLocked()
}

func (c *Coordinator) updateMomentumLocked(v float64, dt time.Duration) {
	prev := c.momentum.Velocity
	c.velocities.Push(v)

	c.momentum.Velocity = v
	c.momentum.Acceleration = (v - prev) / durationMs(dt)
	c.momentum.IsDecelerating = sameSign(v, prev) && math.Abs(v) < math.Abs(prev)
	c.momentum.IsMomentumScroll = c.isMomentumLocked()
}

// isMomentumLocked reports whether the newest three velocities decay
// monotonically in one direction at speed: the signature of inertial
// scrolling after the input has been released.
func (c *Coordinator) isMomentumLocked() bool {
	n := c.velocities.Len()
	if n < 3 {
		return false
	}
	v0, v1, v2 := c.velocities.At(n-3), c.velocities.At(n-2), c.velocities.At(n-1)
	if !sameSign(v0, v1) || !sameSign(v1, v2) {
		return false
	}
	if !(math.Abs(v2) < math.Abs(v1) && math.Abs(v1) < math.Abs(v0)) {
		return false
	}
	return math.Abs(v2) >= c.cfg.MomentumThreshold
}

func (c *Coordinator) endScroll() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.debounce = nil
	c.scrolling = false
	c.last = nil
	c.velocities.Reset()
	c.momentum = ScrollMomentum{PredictedEndPosition: c.cache.ScrollTop}
	c.scheduleCheckLocked()
}

// Momentum returns the current momentum estimate.
func (c *Coordinator) Momentum() ScrollMomentum {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.momentum
}

func (c *Coordinator) IsScrolling() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.scrolling
}

// PredictScrollEnd returns the resting scroll position if the current
// velocity decays by Deceleration every frame.
func (c *Coordinator) PredictScrollEnd() float64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.cache.ScrollTop + PredictDisplacement(
		perFrame(c.momentum.Velocity, c.cfg.FrameInterval), c.cfg.Deceleration, c.cfg.Epsilon)
}

// ShouldDeferAnimation reports whether non-critical visual work should be
// postponed: the quality level is at or below DeferQuality, or a momentum
// scroll is in progress.
func (c *Coordinator) ShouldDeferAnimation() bool {
	c.mu.Lock()
	momentum := c.momentum.IsMomentumScroll
	c.mu.Unlock()
	return momentum || c.qualityDegraded()
}

func (c *Coordinator) qualityDegraded() bool {
	if c.quality == nil {
		return false
	}
	return c.quality.QualityLevel() >= c.cfg.DeferQuality
}

func (c *Coordinator) scheduleCheckLocked() {
	if c.checking || c.closed || c.tracker.len() == 0 {
		return
	}
	c.checking = true
	c.checkFrame = c.loop.RequestFrame(c.checkVisibility)
}

func (c *Coordinator) checkVisibility(ts time.Time) {
	c.mu.Lock()
	c.checking = false
	if c.closed || c.layout == nil {
		c.mu.Unlock()
		return
	}
	vp := c.viewportLocked()
	changed := c.tracker.evaluate(vp.Rect(), c.layout, ts)
	listeners := make([]VisibilityFunc, 0, len(c.listeners))
	for i := 0; i < c.nextListen; i++ {
		if fn, ok := c.listeners[i]; ok {
			listeners = append(listeners, fn)
		}
	}
	c.mu.Unlock()

	if len(changed) == 0 {
		return
	}
	for _, fn := range listeners {
		callListener(fn, changed)
	}
}

func callListener(fn VisibilityFunc, changed []Visibility) {
	defer func() {
		if r := recover(); r != nil {
			log.Errorf("visibility listener panicked: %v", r)
		}
	}()
	fn(changed)
}

// Close cancels the debounce timer, the pending visibility check and every
// outstanding frame request.
func (c *Coordinator) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	if c.debounce != nil {
		c.debounce.Stop()
		c.debounce = nil
	}
	if c.refresh != nil {
		c.refresh.Stop()
		c.refresh = nil
	}
	if c.checking {
		c.loop.CancelFrame(c.checkFrame)
		c.checking = false
	}
	pending := make([]*FrameRequest, 0, len(c.pending))
	for req := range c.pending {
		pending = append(pending, req)
	}
	c.mu.Unlock()

	for _, req := range pending {
		req.Cancel()
	}
	return nil
}

var _ QualitySource = (*monitoring.Service)(nil)
