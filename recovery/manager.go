// Package recovery classifies runtime errors into a fixed taxonomy and
// recovers from them by retrying, degrading the presentation, skipping the
// failed feature or, as a last resort, reloading.
//
// Degraded modes are applied through a DegradationSink so the manager never
// touches the presentation layer directly.
package recovery

import (
	"errors"
	"fmt"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	logging "github.com/ipfs/go-log/v2"

	"github.com/nino-chavez/perfgov/internal/eventloop"
	"github.com/nino-chavez/perfgov/internal/ringbuf"
	"github.com/nino-chavez/perfgov/monitoring"
)

var log = logging.Logger("perfgov/recovery")

// WatchObserverID is the observer id WatchAlerts subscribes under.
const WatchObserverID = "error-recovery"

// Report describes one runtime error handed to the manager.
type Report struct {
	// Optional bucket hint; restricts classification to that type
	Type ErrorType `json:"type,omitempty"`
	// Optional taxonomy code; skips message classification
	Code    ErrorCode `json:"code,omitempty"`
	Message string    `json:"message"`
	Section string    `json:"section,omitempty"`

	Err error `json:"-"`
	// Retry, when set, is run after the retry delay if retry is chosen
	Retry func() error `json:"-"`

	// set for reports raised from degradation alerts, which never reload
	fromAlert bool
}

// ErrorRecord is the immutable history entry for a handled error.
type ErrorRecord struct {
	ID          string              `json:"id"`
	Type        ErrorType           `json:"type"`
	Code        ErrorCode           `json:"code"`
	Message     string              `json:"message"`
	Section     string              `json:"section,omitempty"`
	Severity    monitoring.Severity `json:"severity"`
	Recoverable bool                `json:"recoverable"`
	Strategy    Strategy            `json:"strategy"`
	Attempt     int                 `json:"attempt"`
	Timestamp   time.Time           `json:"timestamp"`
}

// Status is a snapshot of the manager's degraded state.
type Status struct {
	ReducedMotion    bool             `json:"reduced_motion"`
	FallbackMode     bool             `json:"fallback_mode"`
	HighContrast     bool             `json:"high_contrast"`
	DegradedSections []string         `json:"degraded_sections,omitempty"`
	PendingReload    bool             `json:"pending_reload"`
	PendingRetries   int              `json:"pending_retries"`
	Keys             map[string]State `json:"keys,omitempty"`
	Handled          int              `json:"handled"`
}

// AlertSource is the subscription surface WatchAlerts needs from the
// monitoring service.
type AlertSource interface {
	Subscribe(o monitoring.Observer) string
	Unsubscribe(id string) bool
}

var _ AlertSource = (*monitoring.Service)(nil)

// Option configures a Manager.
type Option func(*Manager)

// WithSink sets the sink degraded modes are applied through.
func WithSink(sink DegradationSink) Option {
	return func(m *Manager) {
		m.sink = sink
	}
}

// WithReloader sets what performs a reload. Without one, a sink that also
// implements Reloader is used.
func WithReloader(r Reloader) Option {
	return func(m *Manager) {
		m.reloader = r
	}
}

// Manager turns reported errors into recovery actions.
type Manager struct {
	loop     eventloop.Loop
	cfg      Config
	sink     DegradationSink
	reloader Reloader

	mu            sync.Mutex
	closed        bool
	budgets       map[string]*budget
	history       *ringbuf.Ring[ErrorRecord]
	handled       int
	reducedMotion bool
	fallbackMode  bool
	highContrast  bool
	sections      map[string]struct{}
	retries       map[uint64]eventloop.Timer
	nextRetry     uint64
	reload        eventloop.Timer
	listeners     map[int]func(ErrorRecord)
	nextListener  int
}

// NewManager returns a Manager with nothing degraded. The sink defaults to
// a StateSink.
func NewManager(loop eventloop.Loop, cfg Config, opts ...Option) (*Manager, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	m := &Manager{
		loop:      loop,
		cfg:       cfg,
		budgets:   make(map[string]*budget),
		history:   ringbuf.New[ErrorRecord](cfg.HistorySize),
		sections:  make(map[string]struct{}),
		retries:   make(map[uint64]eventloop.Timer),
		listeners: make(map[int]func(ErrorRecord)),
	}
	for _, opt := range opts {
		opt(m)
	}
	if m.sink == nil {
		m.sink = NewStateSink()
	}
	if m.reloader == nil {
		if r, ok := m.sink.(Reloader); ok {
			m.reloader = r
		}
	}
	return m, nil
}

// Sink returns the sink degraded modes are applied through.
func (m *Manager) Sink() DegradationSink {
	return m.sink
}

func errorKey(code ErrorCode, section string) string {
	return string(code) + "|" + section
}

func classify(r Report) Classification {
	if r.Code != "" {
		if cls, ok := Lookup(r.Code); ok {
			return cls
		}
	}
	msg := r.Message
	if msg == "" && r.Err != nil {
		msg = r.Err.Error()
	}
	return Classify(msg, r.Type)
}

// HandleError classifies r, selects a strategy and carries it out. Retry
// counts are kept per code and section.
func (m *Manager) HandleError(r Report) (ErrorRecord, error) {
	cls := classify(r)
	if r.Message == "" && r.Err != nil {
		r.Message = r.Err.Error()
	}
	now := m.loop.Now()
	key := errorKey(cls.Code, r.Section)

	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return ErrorRecord{}, ErrManagerClosed
	}

	strategy := cls.Strategy
	attempt := 0
	switch {
	case cls.Code == CodeUnknown || strategy == StrategySkip:
		strategy = StrategySkip
	default:
		b, ok := m.budgets[key]
		if !ok {
			b = &budget{}
			m.budgets[key] = b
		}
		strategy = b.failure(now, cls, m.cfg, !r.fromAlert)
		attempt = int(b.counts.Retries)
	}

	rec := ErrorRecord{
		ID:          uuid.NewString(),
		Type:        cls.Type,
		Code:        cls.Code,
		Message:     r.Message,
		Section:     r.Section,
		Severity:    cls.Severity,
		Recoverable: cls.Recoverable,
		Strategy:    strategy,
		Attempt:     attempt,
		Timestamp:   now,
	}
	m.history.Push(rec)
	m.handled++

	var action func() error
	switch strategy {
	case StrategyRetry:
		r.Code = cls.Code
		m.scheduleRetryLocked(r, key)
	case StrategyFallback:
		action = m.fallbackLocked(r.Section)
	case StrategyReload:
		action = m.fallbackLocked(r.Section)
		m.scheduleReloadLocked()
	}
	listeners := m.listenersLocked()
	m.mu.Unlock()

	log.Debugf("%s %s (%s) in %q: %s", cls.Type, cls.Code, strategy, r.Section, r.Message)

	if action != nil {
		if err := runAction(action); err != nil {
			log.Warnf("%s recovery for %s failed, degrading globally: %s", strategy, cls.Code, err)
			m.degradeGlobally()
		}
	}
	for _, fn := range listeners {
		notify(fn, rec)
	}
	return rec, nil
}

func (m *Manager) scheduleRetryLocked(r Report, key string) {
	if r.Retry == nil {
		return
	}
	id := m.nextRetry
	m.nextRetry++
	m.retries[id] = m.loop.AfterFunc(m.cfg.RetryDelay, func() {
		m.mu.Lock()
		_, live := m.retries[id]
		delete(m.retries, id)
		m.mu.Unlock()
		if !live {
			return
		}

		if err := runAction(r.Retry); err != nil {
			r.Err = err
			if _, herr := m.HandleError(r); herr != nil {
				log.Debugf("retry of %s dropped: %s", key, herr)
			}
			return
		}
		m.resolve(key)
	})
}

// fallbackLocked marks the section, or the whole presentation, degraded and
// returns the sink calls to make outside the lock.
func (m *Manager) fallbackLocked(section string) func() error {
	m.reducedMotion = true
	ss, perSection := m.sink.(SectionSink)
	if section != "" && perSection {
		m.sections[section] = struct{}{}
		return func() error {
			return errors.Join(m.sink.ApplyReducedMotion(), ss.DegradeSection(section))
		}
	}
	m.fallbackMode = true
	return func() error {
		return errors.Join(m.sink.ApplyReducedMotion(), m.sink.ApplyFallbackMode())
	}
}

func (m *Manager) scheduleReloadLocked() {
	if m.reload != nil {
		return
	}
	log.Warnf("reloading in %s", m.cfg.ReloadGrace)
	m.reload = m.loop.AfterFunc(m.cfg.ReloadGrace, m.performReload)
}

func (m *Manager) performReload() {
	m.mu.Lock()
	if m.reload == nil || m.closed {
		m.mu.Unlock()
		return
	}
	m.reload = nil
	reloader := m.reloader
	m.mu.Unlock()

	if reloader == nil {
		log.Warn("reload chosen without a reloader, degrading globally")
		m.degradeGlobally()
		return
	}
	if err := runAction(reloader.Reload); err != nil {
		log.Warnf("reload failed, degrading globally: %s", err)
		m.degradeGlobally()
		return
	}

	// a reload starts from a clean slate
	m.mu.Lock()
	m.budgets = make(map[string]*budget)
	m.mu.Unlock()
}

// degradeGlobally applies every degraded mode. Sink failures here are
// logged and go no further.
func (m *Manager) degradeGlobally() {
	m.mu.Lock()
	m.reducedMotion = true
	m.fallbackMode = true
	m.highContrast = true
	m.mu.Unlock()

	for name, fn := range map[string]func() error{
		"reduced motion": m.sink.ApplyReducedMotion,
		"fallback mode":  m.sink.ApplyFallbackMode,
		"high contrast":  m.sink.ApplyHighContrast,
	} {
		if err := runAction(fn); err != nil {
			log.Errorf("applying %s: %s", name, err)
		}
	}
}

// resolve clears the retry budget of a key whose retry succeeded.
func (m *Manager) resolve(key string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if b, ok := m.budgets[key]; ok && b.success() {
		delete(m.budgets, key)
		log.Debugf("%s recovered by retry", key)
	}
}

// Resolved reports that the caller's own retry of code in section
// succeeded.
func (m *Manager) Resolved(code ErrorCode, section string) {
	m.resolve(errorKey(code, section))
}

// Guard runs fn and hands any error or panic it produces to HandleError,
// with fn as the retry. The error is returned to the caller.
func (m *Manager) Guard(section string, fn func() error) error {
	err := runAction(fn)
	if err == nil {
		return nil
	}
	if _, herr := m.HandleError(Report{Section: section, Err: err, Retry: fn}); herr != nil {
		log.Debugf("guarded error in %q not handled: %s", section, herr)
	}
	return err
}

// WatchAlerts subscribes to src and reports every critical degradation
// alert as a PERFORMANCE_ERROR. Alert reports degrade to fallback at most: a
// reload does not make a slow device faster. The returned function
// unsubscribes.
func (m *Manager) WatchAlerts(src AlertSource) func() {
	id := src.Subscribe(monitoring.Observer{
		ID: WatchObserverID,
		OnDegradationAlert: func(a monitoring.DegradationAlert) {
			if a.Severity != monitoring.SeverityCritical {
				return
			}
			_, _ = m.HandleError(Report{
				Type:      PerformanceError,
				Code:      codeForAlert(a.Type),
				Message:   a.Message,
				fromAlert: true,
			})
		},
	})
	return func() { src.Unsubscribe(id) }
}

func codeForAlert(t monitoring.AlertType) ErrorCode {
	switch t {
	case monitoring.AlertMemoryLeak:
		return CodeMemoryExceeded
	default:
		return CodeFrameRateDrop
	}
}

// Recover lifts the degradation of section and forgets its error keys.
// Reduced motion is removed once nothing else is degraded.
func (m *Manager) Recover(section string) error {
	m.mu.Lock()
	suffix := "|" + section
	for key := range m.budgets {
		if strings.HasSuffix(key, suffix) {
			delete(m.budgets, key)
		}
	}
	_, degraded := m.sections[section]
	delete(m.sections, section)
	liftMotion := m.reducedMotion && len(m.sections) == 0 && !m.fallbackMode && !m.highContrast
	if liftMotion {
		m.reducedMotion = false
	}
	m.mu.Unlock()

	var errs []error
	if ss, ok := m.sink.(SectionSink); ok && degraded {
		errs = append(errs, runAction(func() error { return ss.RestoreSection(section) }))
	}
	if liftMotion {
		errs = append(errs, runAction(m.sink.RemoveReducedMotion))
	}
	return errors.Join(errs...)
}

// RecoverAll lifts every degraded mode and cancels pending retries and
// reloads.
func (m *Manager) RecoverAll() error {
	m.mu.Lock()
	sections := make([]string, 0, len(m.sections))
	for s := range m.sections {
		sections = append(sections, s)
	}
	m.stopTimersLocked()
	m.budgets = make(map[string]*budget)
	m.sections = make(map[string]struct{})
	m.reducedMotion, m.fallbackMode, m.highContrast = false, false, false
	m.mu.Unlock()

	errs := []error{
		runAction(m.sink.RemoveHighContrast),
		runAction(m.sink.RemoveFallbackMode),
		runAction(m.sink.RemoveReducedMotion),
	}
	if ss, ok := m.sink.(SectionSink); ok {
		for _, s := range sections {
			errs = append(errs, runAction(func() error { return ss.RestoreSection(s) }))
		}
	}
	log.Info("all degraded modes lifted")
	return errors.Join(errs...)
}

func (m *Manager) stopTimersLocked() {
	for id, t := range m.retries {
		t.Stop()
		delete(m.retries, id)
	}
	if m.reload != nil {
		m.reload.Stop()
		m.reload = nil
	}
}

// OnRecovery registers fn for every handled error. The returned function
// unregisters it.
func (m *Manager) OnRecovery(fn func(ErrorRecord)) func() {
	m.mu.Lock()
	defer m.mu.Unlock()
	id := m.nextListener
	m.nextListener++
	m.listeners[id] = fn
	return func() {
		m.mu.Lock()
		defer m.mu.Unlock()
		delete(m.listeners, id)
	}
}

func (m *Manager) listenersLocked() []func(ErrorRecord) {
	ids := make([]int, 0, len(m.listeners))
	for id := range m.listeners {
		ids = append(ids, id)
	}
	slices.Sort(ids)
	fns := make([]func(ErrorRecord), 0, len(ids))
	for _, id := range ids {
		fns = append(fns, m.listeners[id])
	}
	return fns
}

// History returns the retained error records, oldest first.
func (m *Manager) History() []ErrorRecord {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.history.Snapshot()
}

// Status returns the current degraded state.
func (m *Manager) Status() Status {
	m.mu.Lock()
	defer m.mu.Unlock()

	st := Status{
		ReducedMotion:    m.reducedMotion,
		FallbackMode:     m.fallbackMode,
		HighContrast:     m.highContrast,
		DegradedSections: make([]string, 0, len(m.sections)),
		PendingReload:    m.reload != nil,
		PendingRetries:   len(m.retries),
		Keys:             make(map[string]State, len(m.budgets)),
		Handled:          m.handled,
	}
	for s := range m.sections {
		st.DegradedSections = append(st.DegradedSections, s)
	}
	slices.Sort(st.DegradedSections)
	for key, b := range m.budgets {
		st.Keys[key] = b.state
	}
	return st
}

// Close cancels pending retries and reloads. Degraded modes stay applied.
func (m *Manager) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return nil
	}
	m.closed = true
	m.stopTimersLocked()
	return nil
}

// runAction calls fn, turning a panic into an ErrPanic error.
func runAction(fn func() error) (err error) {
	defer func() {
		if p := recover(); p != nil {
			err = fmt.Errorf("%w: %v", ErrPanic, p)
		}
	}()
	return fn()
}

func notify(fn func(ErrorRecord), rec ErrorRecord) {
	defer func() {
		if p := recover(); p != nil {
			log.Errorf("recovery listener panicked: %v", p)
		}
	}()
	fn(rec)
}
