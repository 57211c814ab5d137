// Package content maps the canvas zoom and the reader's engagement to a
// discrete content-disclosure level, per section.
package content

import (
	"fmt"
	"math"
	"sync"
	"time"

	logging "github.com/ipfs/go-log/v2"

	"github.com/nino-chavez/perfgov/internal/eventloop"
	"github.com/nino-chavez/perfgov/internal/ringbuf"
	"github.com/nino-chavez/perfgov/monitoring"
)

var log = logging.Logger("perfgov/content")

// interactionHistory bounds how many interaction timestamps are retained.
const interactionHistory = 256

// Reasons attached to level changes.
const (
	ReasonThreshold       = "threshold"
	ReasonOverride        = "override"
	ReasonOverrideCleared = "override-cleared"
	ReasonQuality         = "quality"
	ReasonEngagement      = "engagement"
)

// CanvasPosition is the canvas viewport as reported by the presentation
// layer.
type CanvasPosition struct {
	X       float64 `json:"x"`
	Y       float64 `json:"y"`
	Scale   float64 `json:"scale"`
	Section string  `json:"section"`
}

// LevelChange describes one committed content-level transition.
type LevelChange struct {
	From      Level     `json:"from"`
	To        Level     `json:"to"`
	Section   string    `json:"section"`
	Scale     float64   `json:"scale"`
	Reason    string    `json:"reason"`
	Timestamp time.Time `json:"timestamp"`
}

// EngagementMode classifies recent interaction.
type EngagementMode string

const (
	EngagementNormal EngagementMode = "normal"
	EngagementBurst  EngagementMode = "burst"
	EngagementLow    EngagementMode = "low"
)

// Status is a point-in-time view of the manager.
type Status struct {
	Level              Level          `json:"level"`
	Previous           Level          `json:"previous"`
	Override           bool           `json:"override"`
	QualityCap         Level          `json:"quality_cap"`
	Position           CanvasPosition `json:"position"`
	Thresholds         ThresholdTable `json:"thresholds"`
	Engagement         EngagementMode `json:"engagement"`
	RecentInteractions int            `json:"recent_interactions"`
	Transitioning      bool           `json:"transitioning"`
	AverageTransition  time.Duration  `json:"average_transition"`
	IsOptimized        bool           `json:"is_optimized"`
}

// Manager tracks the content level. Position and interaction updates may
// come from any goroutine; level-change callbacks run on the caller's
// goroutine after the change is committed.
type Manager struct {
	loop eventloop.Loop
	cfg  Config

	mu        sync.Mutex
	closed    bool
	started   time.Time
	level     Level
	previous  Level
	natural   Level
	evaluated bool
	position  *CanvasPosition
	override  *Level
	quality   monitoring.QualityLevel

	interactions *ringbuf.Ring[time.Time]

	transitioning   bool
	direction       int
	stepReason      string
	transitionStart time.Time
	transitionTimer eventloop.Timer
	durations       *ringbuf.Ring[time.Duration]

	listeners map[int]func(LevelChange)
	nextID    int
}

// NewManager creates a manager at LevelPreview.
func NewManager(loop eventloop.Loop, cfg Config) (*Manager, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &Manager{
		loop:         loop,
		cfg:          cfg,
		started:      loop.Now(),
		level:        LevelPreview,
		previous:     LevelPreview,
		quality:      monitoring.QualityHighest,
		interactions: ringbuf.New[time.Time](interactionHistory),
		durations:    ringbuf.New[time.Duration](cfg.TransitionHistory),
		listeners:    make(map[int]func(LevelChange)),
	}, nil
}

// UpdateCanvasPosition re-evaluates the level for pos. The level moves one
// step toward the target; further steps follow as each transition completes.
// Repeating the same position never produces a second change.
func (m *Manager) UpdateCanvasPosition(pos CanvasPosition) error {
	if pos.Scale <= 0 || math.IsNaN(pos.Scale) || math.IsInf(pos.Scale, 0) {
		return fmt.Errorf("%w: scale %v", ErrInvalidPosition, pos.Scale)
	}
	if pos.Section == "" {
		pos.Section = DefaultSection
	}

	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return ErrManagerClosed
	}
	m.position = &pos
	change, ok := m.evaluateLocked(ReasonThreshold)
	m.mu.Unlock()

	if ok {
		m.notify(change)
	}
	return nil
}

// SetContentLevel pins the level, bypassing thresholds, engagement and the
// quality cap until ClearOverride.
func (m *Manager) SetContentLevel(level Level) error {
	if !level.Valid() {
		return fmt.Errorf("%w: %d", ErrInvalidLevel, int(level))
	}

	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return ErrManagerClosed
	}
	m.override = &level
	change, ok := m.evaluateLocked(ReasonOverride)
	m.mu.Unlock()

	if ok {
		m.notify(change)
	}
	return nil
}

// ClearOverride returns control to the threshold logic.
func (m *Manager) ClearOverride() {
	m.mu.Lock()
	if m.override == nil {
		m.mu.Unlock()
		return
	}
	m.override = nil
	change, ok := m.evaluateLocked(ReasonOverrideCleared)
	m.mu.Unlock()

	if ok {
		m.notify(change)
	}
}

// RecordInteraction notes one reader interaction and re-evaluates, since
// engagement shifts the thresholds.
func (m *Manager) RecordInteraction() {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return
	}
	m.interactions.Push(m.loop.Now())
	change, ok := m.evaluateLocked(ReasonEngagement)
	m.mu.Unlock()

	if ok {
		m.notify(change)
	}
}

// SetQualityLevel caps the level while rendering quality is reduced: low
// quality shows at most detailed content, minimal at most a summary.
func (m *Manager) SetQualityLevel(q monitoring.QualityLevel) {
	m.mu.Lock()
	if m.closed || q == m.quality {
		m.mu.Unlock()
		return
	}
	m.quality = q
	change, ok := m.evaluateLocked(ReasonQuality)
	m.mu.Unlock()

	if ok {
		m.notify(change)
	}
}

// HandleQualityChange adapts SetQualityLevel to the monitoring observer
// callback.
func (m *Manager) HandleQualityChange(c monitoring.QualityChange) {
	m.SetQualityLevel(c.To)
}

// CompleteTransition marks the running transition finished and starts the
// next step if the level has not reached its target yet. It reports whether
// a transition was in progress.
func (m *Manager) CompleteTransition() bool {
	m.mu.Lock()
	if !m.transitioning {
		m.mu.Unlock()
		return false
	}
	m.finishTransitionLocked(m.loop.Now())
	change, ok := m.evaluateLocked(m.stepReason)
	m.mu.Unlock()

	if ok {
		m.notify(change)
	}
	return true
}

// OnLevelChange registers fn and returns a function that removes it.
func (m *Manager) OnLevelChange(fn func(LevelChange)) func() {
	m.mu.Lock()
	defer m.mu.Unlock()

	id := m.nextID
	m.nextID++
	m.listeners[id] = fn
	return func() {
		m.mu.Lock()
		defer m.mu.Unlock()
		delete(m.listeners, id)
	}
}

func (m *Manager) Level() Level {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.level
}

func (m *Manager) Status() Status {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.loop.Now()
	st := Status{
		Level:         m.level,
		Previous:      m.previous,
		Override:      m.override != nil,
		QualityCap:    qualityCap(m.quality),
		Transitioning: m.transitioning,
	}
	section := DefaultSection
	if m.position != nil {
		st.Position = *m.position
		section = m.position.Section
	}
	st.Thresholds, st.Engagement = m.effectiveTableLocked(section, now)
	st.RecentInteractions = m.recentInteractionsLocked(now)
	st.AverageTransition = m.averageTransitionLocked()
	st.IsOptimized = st.AverageTransition <= m.cfg.TargetTransition
	return st
}

// Close stops the transition timer and rejects further updates.
func (m *Manager) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return nil
	}
	m.closed = true
	if m.transitionTimer != nil {
		m.transitionTimer.Stop()
		m.transitionTimer = nil
	}
	m.transitioning = false
	return nil
}

func (m *Manager) evaluateLocked(reason string) (LevelChange, bool) {
	now := m.loop.Now()

	var target Level
	var section string
	var scale float64
	if m.position != nil {
		section, scale = m.position.Section, m.position.Scale
		table, _ := m.effectiveTableLocked(section, now)
		m.natural = m.withHysteresis(table, scale)
		m.evaluated = true
	}

	switch {
	case m.override != nil:
		target = *m.override
	case m.position == nil:
		return LevelChange{}, false
	default:
		target = min(m.natural, qualityCap(m.quality))
	}

	if target == m.level {
		return LevelChange{}, false
	}

	// Levels move one step at a time; only an override jumps.
	dir := 1
	if target < m.level {
		dir = -1
	}
	if m.override == nil {
		if m.transitioning && dir == m.direction {
			return LevelChange{}, false
		}
		target = m.level + Level(dir)
	}

	change := LevelChange{
		From:      m.level,
		To:        target,
		Section:   section,
		Scale:     scale,
		Reason:    reason,
		Timestamp: now,
	}
	m.commitLocked(now, target, dir)
	m.stepReason = reason
	log.Debugf("content level %s -> %s (%s, section %s, scale %.2f)", change.From, change.To, reason, section, scale)
	return change, true
}

// withHysteresis moves the natural level only once scale clears the
// boundary by the hysteresis band.
func (m *Manager) withHysteresis(table ThresholdTable, scale float64) Level {
	raw := table.LevelFor(scale)
	if !m.evaluated {
		return raw
	}

	band := 1 + m.cfg.HysteresisBand
	current := m.natural
	switch {
	case raw > current:
		if up := table.LevelFor(scale / band); up > current {
			return up
		}
	case raw < current:
		if down := table.LevelFor(scale * band); down < current {
			return down
		}
	}
	return current
}

func (m *Manager) effectiveTableLocked(section string, now time.Time) (ThresholdTable, EngagementMode) {
	table := m.cfg.tableFor(section)
	recent := m.recentInteractionsLocked(now)

	if recent > m.cfg.BurstInteractions {
		factor := math.Pow(m.cfg.BurstFactor, float64(recent-m.cfg.BurstInteractions))
		return table.pullInward(factor), EngagementBurst
	}

	lastActivity := m.started
	if last, ok := m.interactions.Last(); ok && last.After(lastActivity) {
		lastActivity = last
	}
	if recent < m.cfg.LowInteractions && now.Sub(lastActivity) > m.cfg.IdleAfter {
		return table.extendSummary(m.cfg.LowEngagementFactor), EngagementLow
	}
	return table, EngagementNormal
}

func (m *Manager) recentInteractionsLocked(now time.Time) int {
	cutoff := now.Add(-m.cfg.BurstWindow)
	n := 0
	m.interactions.Newest(func(at time.Time) bool {
		if !at.After(cutoff) {
			return false
		}
		n++
		return true
	})
	return n
}

func (m *Manager) commitLocked(now time.Time, to Level, dir int) {
	if m.transitioning {
		m.finishTransitionLocked(now)
	}
	m.previous = m.level
	m.level = to
	m.direction = dir
	m.transitioning = true
	m.transitionStart = now
	m.transitionTimer = m.loop.AfterFunc(m.cfg.TransitionTimeout, func() {
		m.CompleteTransition()
	})
}

func (m *Manager) finishTransitionLocked(now time.Time) {
	if m.transitionTimer != nil {
		m.transitionTimer.Stop()
		m.transitionTimer = nil
	}
	m.transitioning = false
	m.durations.Push(now.Sub(m.transitionStart))
}

func (m *Manager) averageTransitionLocked() time.Duration {
	n := m.durations.Len()
	if n == 0 {
		return 0
	}
	var total time.Duration
	for i := 0; i < n; i++ {
		total += m.durations.At(i)
	}
	return total / time.Duration(n)
}

func (m *Manager) notify(change LevelChange) {
	m.mu.Lock()
	listeners := make([]func(LevelChange), 0, len(m.listeners))
	for i := 0; i < m.nextID; i++ {
		if fn, ok := m.listeners[i]; ok {
			listeners = append(listeners, fn)
		}
	}
	m.mu.Unlock()

	for _, fn := range listeners {
		callListener(fn, change)
	}
}

func callListener(fn func(LevelChange), change LevelChange) {
	defer func() {
		if r := recover(); r != nil {
			log.Errorf("level-change listener panicked on %s -> %s: %v", change.From, change.To, r)
		}
	}()
	fn(change)
}

// qualityCap is the richest level allowed at quality q.
func qualityCap(q monitoring.QualityLevel) Level {
	switch {
	case q >= monitoring.QualityMinimal:
		return LevelSummary
	case q >= monitoring.QualityLow:
		return LevelDetailed
	default:
		return LevelTechnical
	}
}
