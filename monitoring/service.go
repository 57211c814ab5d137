package monitoring

import (
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/nino-chavez/perfgov/internal/eventloop"
	"github.com/nino-chavez/perfgov/internal/ringbuf"
)

// Capability names reported by ActiveCapabilities.
const (
	CapabilityFrameTiming = "frame-timing"
	CapabilityMemory      = "memory"
	CapabilityGPU         = "gpu"
)

// Status is a point-in-time view of the whole service.
type Status struct {
	Monitoring   bool               `json:"monitoring"`
	Metrics      UnifiedMetrics     `json:"metrics"`
	Quality      QualityStatus      `json:"quality"`
	Alerts       []DegradationAlert `json:"alerts"`
	Operations   []OperationStats   `json:"operations"`
	Capabilities []string           `json:"capabilities"`
	Observers    int                `json:"observers"`
}

// Service aggregates samples into rolling metrics, classifies degradation,
// drives the quality state machine and publishes everything to observers.
//
// Sampling runs on the supplied event loop. The exported methods may be
// called from any goroutine, but observers are only ever invoked from the
// goroutine that delivered the sample (the loop, for StartMonitoring).
type Service struct {
	loop     eventloop.Loop
	cfg      Config
	qcfg     QualityConfig
	logger   *slog.Logger
	sampler  *Sampler
	exporter *Exporter

	mu           sync.Mutex
	initialized  bool
	monitoring   bool
	closed       bool
	frameID      eventloop.FrameID
	startedAt    time.Time
	samples      *ringbuf.Ring[PerformanceSample]
	metrics      UnifiedMetrics
	classifier   *classifier
	quality      *QualityManager
	observers    *registry
	ops          *operationLog
	capabilities []string
}

// Option configures a Service.
type Option func(*Service)

// WithLogger sets the structured logger.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Service) {
		s.logger = logger
	}
}

// WithSampler replaces the default sampler.
func WithSampler(sampler *Sampler) Option {
	return func(s *Service) {
		s.sampler = sampler
	}
}

// WithQualityConfig sets the hysteresis windows.
func WithQualityConfig(cfg QualityConfig) Option {
	return func(s *Service) {
		s.qcfg = cfg
	}
}

// WithExporter mirrors the service into Prometheus collectors.
func WithExporter(e *Exporter) Option {
	return func(s *Service) {
		s.exporter = e
	}
}

// NewService creates a stopped service bound to loop.
func NewService(loop eventloop.Loop, cfg Config, opts ...Option) (*Service, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	s := &Service{
		loop:      loop,
		cfg:       cfg,
		qcfg:      DefaultQualityConfig(),
		observers: newRegistry(),
	}
	for _, opt := range opts {
		opt(s)
	}
	if err := s.qcfg.Validate(); err != nil {
		return nil, err
	}

	if s.logger == nil {
		s.logger = slog.Default()
	}
	s.logger = s.logger.With(slog.String("component", "monitoring"))
	if s.sampler == nil {
		s.sampler = NewSampler(cfg.FrameBudget, nil, nil, s.logger)
	}

	s.samples = ringbuf.New[PerformanceSample](cfg.RollingWindowSamples)
	s.classifier = newClassifier(cfg)
	s.quality = NewQualityManager(s.qcfg, cfg.QualityHistorySize)
	s.ops = newOperationLog(cfg.FrameBudget)
	s.metrics = DefaultMetrics(loop.Now())

	if s.exporter != nil {
		s.observers.add(s.exporter.Observer())
	}

	return s, nil
}

// Initialize probes the platform once. Missing capabilities are logged and
// the service carries on without them.
func (s *Service) Initialize() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return ErrServiceClosed
	}
	if s.initialized {
		return nil
	}
	s.initialize()
	return nil
}

func (s *Service) initialize() {
	s.initialized = true

	memory, gpu := s.sampler.capabilities()
	s.capabilities = []string{CapabilityFrameTiming}
	if memory {
		s.capabilities = append(s.capabilities, CapabilityMemory)
	} else {
		s.logger.Warn("memory introspection unavailable, memory metrics will read zero")
	}
	if gpu {
		s.capabilities = append(s.capabilities, CapabilityGPU)
	} else {
		s.logger.Warn("gpu probe unavailable, render load will read zero")
	}

	s.logger.Info("monitoring initialized",
		slog.Any("capabilities", s.capabilities),
		slog.Duration("frame_budget", s.cfg.FrameBudget),
	)
}

// StartMonitoring starts sampling on every frame. Calling it while already
// running is a no-op.
func (s *Service) StartMonitoring() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return ErrServiceClosed
	}
	if s.monitoring {
		return nil
	}
	if !s.initialized {
		s.initialize()
	}

	s.monitoring = true
	if s.startedAt.IsZero() {
		s.startedAt = s.loop.Now()
	}
	s.sampler.Reset()
	s.frameID = s.loop.RequestFrame(s.onFrame)

	s.logger.Debug("monitoring started")
	return nil
}

// StopMonitoring cancels the pending frame. Calling it while stopped is a
// no-op.
func (s *Service) StopMonitoring() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stopLocked()
}

func (s *Service) stopLocked() {
	if !s.monitoring {
		return
	}
	s.monitoring = false
	s.loop.CancelFrame(s.frameID)
	s.frameID = 0
	s.logger.Debug("monitoring stopped")
}

func (s *Service) IsMonitoring() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.monitoring
}

func (s *Service) onFrame(ts time.Time) {
	s.mu.Lock()
	if !s.monitoring {
		s.mu.Unlock()
		return
	}
	s.mu.Unlock()

	sample := s.sampler.Sample(ts)
	if err := s.Ingest(sample); err != nil {
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.monitoring {
		s.frameID = s.loop.RequestFrame(s.onFrame)
	}
}

// Ingest runs one tick for sample: aggregate, classify, update quality and
// notify observers. Observers for the tick have all returned when Ingest
// does.
func (s *Service) Ingest(sample PerformanceSample) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return ErrServiceClosed
	}
	if s.startedAt.IsZero() {
		s.startedAt = sample.Timestamp
	}

	s.samples.Push(sample)
	s.aggregate(sample)

	worst, alerts := s.classifier.evaluate(s.metrics)

	var ev tickEvents
	if change, ok := s.quality.Observe(sample.Timestamp, worst); ok {
		ev.change = &change
		ev.optimization = s.optimizationFor(change)
		s.logQualityChange(change)
	}
	s.metrics.QualityLevel = s.quality.Level()
	s.metrics.IsOptimized = s.metrics.QualityLevel.Degraded()

	metrics := s.metrics
	ev.metrics = &metrics
	ev.alerts = alerts
	observers := s.observers.snapshot()
	s.mu.Unlock()

	for _, a := range alerts {
		s.logger.Warn("degradation alert",
			slog.String("type", string(a.Type)),
			slog.String("severity", string(a.Severity)),
			slog.Float64("value", a.Value),
			slog.Float64("threshold", a.Threshold),
		)
	}
	if s.exporter != nil {
		s.exporter.observeDropped(sample.DroppedFrameCount)
	}

	dispatch(s.logger, observers, ev)
	return nil
}

// aggregate recomputes metrics from the samples inside the rolling window.
func (s *Service) aggregate(latest PerformanceSample) {
	cutoff := latest.Timestamp.Add(-s.cfg.RollingWindow)

	var fpsSum float64
	var n int
	s.samples.Newest(func(p PerformanceSample) bool {
		if !p.Timestamp.After(cutoff) && n > 0 {
			return false
		}
		fpsSum += p.FPS
		n++
		return true
	})

	m := &s.metrics
	m.CurrentFPS = latest.FPS
	m.AverageFPS = fpsSum / float64(n)
	m.FrameTime = latest.FrameTimeMs
	m.MemoryUsageMB = latest.MemoryMB
	m.MemoryPercent = latest.MemoryPercent
	m.GPUUtilizationPercent = latest.GPUUtilizationPercent
	m.DroppedFrames += latest.DroppedFrameCount
	m.Timestamp = latest.Timestamp
	m.SessionDuration = latest.Timestamp.Sub(s.startedAt)
	if fps, ok := s.ops.canvasFPS(); ok {
		m.CanvasRenderFPS = fps
	} else {
		m.CanvasRenderFPS = m.AverageFPS
	}
}

func (s *Service) optimizationFor(change QualityChange) *Optimization {
	profile := ProfileFor(change.To)
	return &Optimization{
		Level:     change.To,
		Profile:   profile,
		Actions:   profile.Actions(),
		Reason:    change.Reason,
		Timestamp: change.Timestamp,
	}
}

func (s *Service) logQualityChange(c QualityChange) {
	s.logger.Info("quality level changed",
		slog.String("from", c.From.String()),
		slog.String("to", c.To.String()),
		slog.String("reason", c.Reason),
		slog.Bool("manual", c.Manual),
	)
}

// Subscribe registers o and returns its id. An empty id is assigned a fresh
// one; an id already registered is replaced.
func (s *Service) Subscribe(o Observer) string {
	if o.ID == "" {
		o.ID = uuid.NewString()
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.observers.add(o)
	return o.ID
}

// Unsubscribe removes the observer with id, reporting whether it existed.
func (s *Service) Unsubscribe(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.observers.remove(id)
}

// TrackOperation records the cost of a named operation. It feeds the
// aggregates only and never changes the quality level.
func (s *Service) TrackOperation(name string, d time.Duration, metadata map[string]string) {
	s.mu.Lock()
	s.ops.record(s.loop.Now(), name, d, metadata)
	s.mu.Unlock()

	if s.exporter != nil {
		s.exporter.ObserveOperation(name, d)
	}
}

// SetQualityLevel overrides the quality level. The change is broadcast like
// any automatic transition.
func (s *Service) SetQualityLevel(level QualityLevel, reason string) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return ErrServiceClosed
	}
	change, ok, err := s.quality.Override(s.loop.Now(), level, reason)
	if err != nil || !ok {
		s.mu.Unlock()
		return err
	}
	s.metrics.QualityLevel = change.To
	s.metrics.IsOptimized = change.To.Degraded()
	s.logQualityChange(change)
	ev := tickEvents{change: &change, optimization: s.optimizationFor(change)}
	observers := s.observers.snapshot()
	s.mu.Unlock()

	dispatch(s.logger, observers, ev)
	return nil
}

// Reset stops monitoring, clears every history and restores the default
// metrics. Observers stay registered and hear about the return to
// QualityHighest if the level changes.
func (s *Service) Reset() {
	s.mu.Lock()
	s.stopLocked()

	now := s.loop.Now()
	s.samples.Reset()
	s.classifier.reset()
	s.ops.reset()
	s.sampler.Reset()
	s.startedAt = time.Time{}
	s.metrics = DefaultMetrics(now)

	var ev tickEvents
	if change, ok := s.quality.Reset(now); ok {
		ev.change = &change
		ev.optimization = s.optimizationFor(change)
	}
	observers := s.observers.snapshot()
	s.mu.Unlock()

	s.logger.Info("monitoring reset")
	if ev.change != nil {
		dispatch(s.logger, observers, ev)
	}
}

// Close stops monitoring and drops every observer. It is safe to call more
// than once.
func (s *Service) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil
	}
	s.stopLocked()
	s.observers.clear()
	s.closed = true
	return nil
}

// Metrics returns a copy of the current aggregate.
func (s *Service) Metrics() UnifiedMetrics {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.metrics
}

// Alerts returns the retained alert history, oldest first.
func (s *Service) Alerts() []DegradationAlert {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.classifier.alerts()
}

// QualityLevel returns the committed quality level.
func (s *Service) QualityLevel() QualityLevel {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.quality.Level()
}

// OperationStats returns per-operation aggregates sorted by name.
func (s *Service) OperationStats() []OperationStats {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.ops.snapshot()
}

// ActiveCapabilities lists the platform facilities found by Initialize.
func (s *Service) ActiveCapabilities() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.capabilities...)
}

func (s *Service) Status() Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	return Status{
		Monitoring:   s.monitoring,
		Metrics:      s.metrics,
		Quality:      s.quality.Status(),
		Alerts:       s.classifier.alerts(),
		Operations:   s.ops.snapshot(),
		Capabilities: append([]string(nil), s.capabilities...),
		Observers:    s.observers.len(),
	}
}

func (s *Service) String() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return fmt.Sprintf("monitoring.Service{monitoring=%t quality=%s observers=%d}",
		s.monitoring, s.quality.Level(), s.observers.len())
}
