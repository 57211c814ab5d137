package monitoring

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// ExporterObserverID is the registration id the exporter subscribes under.
const ExporterObserverID = "prometheus-exporter"

// Exporter mirrors the monitoring stream into Prometheus collectors.
type Exporter struct {
	registry *prometheus.Registry

	currentFPS      prometheus.Gauge
	averageFPS      prometheus.Gauge
	frameTime       prometheus.Histogram
	memoryUsage     prometheus.Gauge
	memoryPercent   prometheus.Gauge
	gpuUtilization  prometheus.Gauge
	canvasRenderFPS prometheus.Gauge
	droppedFrames   prometheus.Counter
	qualityLevel    prometheus.Gauge
	sessionSeconds  prometheus.Gauge

	alertsTotal         *prometheus.CounterVec
	qualityChangesTotal *prometheus.CounterVec
	optimizationsTotal  *prometheus.CounterVec
	operationDuration   *prometheus.HistogramVec
}

// NewExporter registers the governance collectors on registry. A nil
// registry gets a fresh one.
func NewExporter(registry *prometheus.Registry) *Exporter {
	if registry == nil {
		registry = prometheus.NewRegistry()
	}
	e := &Exporter{registry: registry}
	e.initPrometheusMetrics()
	return e
}

func (e *Exporter) initPrometheusMetrics() {
	factory := promauto.With(e.registry)

	e.currentFPS = factory.NewGauge(prometheus.GaugeOpts{
		Namespace: "perfgov",
		Subsystem: "frames",
		Name:      "current_fps",
		Help:      "Frame rate of the most recent frame",
	})

	e.averageFPS = factory.NewGauge(prometheus.GaugeOpts{
		Namespace: "perfgov",
		Subsystem: "frames",
		Name:      "average_fps",
		Help:      "Frame rate averaged over the rolling window",
	})

	e.frameTime = factory.NewHistogram(prometheus.HistogramOpts{
		Namespace: "perfgov",
		Subsystem: "frames",
		Name:      "frame_time_seconds",
		Help:      "Duration of rendered frames in seconds",
		Buckets:   []float64{0.008, 0.0167, 0.025, 0.0333, 0.05, 0.1, 0.25, 0.5, 1},
	})

	e.droppedFrames = factory.NewCounter(prometheus.CounterOpts{
		Namespace: "perfgov",
		Subsystem: "frames",
		Name:      "dropped_total",
		Help:      "Frames missed against the frame budget",
	})

	e.canvasRenderFPS = factory.NewGauge(prometheus.GaugeOpts{
		Namespace: "perfgov",
		Subsystem: "frames",
		Name:      "canvas_render_fps",
		Help:      "Frame rate sustainable by the tracked canvas-render cost",
	})

	e.memoryUsage = factory.NewGauge(prometheus.GaugeOpts{
		Namespace: "perfgov",
		Subsystem: "memory",
		Name:      "usage_megabytes",
		Help:      "Heap usage reported by the memory probe",
	})

	e.memoryPercent = factory.NewGauge(prometheus.GaugeOpts{
		Namespace: "perfgov",
		Subsystem: "memory",
		Name:      "usage_percent",
		Help:      "Heap usage as a percentage of the probe's limit",
	})

	e.gpuUtilization = factory.NewGauge(prometheus.GaugeOpts{
		Namespace: "perfgov",
		Subsystem: "gpu",
		Name:      "utilization_percent",
		Help:      "Render load reported by the GPU probe (estimate unless backed by hardware telemetry)",
	})

	e.qualityLevel = factory.NewGauge(prometheus.GaugeOpts{
		Namespace: "perfgov",
		Subsystem: "quality",
		Name:      "level",
		Help:      "Current quality level (0 = highest, 4 = minimal)",
	})

	e.sessionSeconds = factory.NewGauge(prometheus.GaugeOpts{
		Namespace: "perfgov",
		Subsystem: "session",
		Name:      "duration_seconds",
		Help:      "Time since monitoring started",
	})

	e.alertsTotal = factory.NewCounterVec(prometheus.CounterOpts{
		Namespace: "perfgov",
		Subsystem: "alerts",
		Name:      "raised_total",
		Help:      "Degradation alerts raised after deduplication",
	}, []string{"type", "severity"})

	e.qualityChangesTotal = factory.NewCounterVec(prometheus.CounterOpts{
		Namespace: "perfgov",
		Subsystem: "quality",
		Name:      "changes_total",
		Help:      "Committed quality transitions",
	}, []string{"direction", "manual"})

	e.optimizationsTotal = factory.NewCounterVec(prometheus.CounterOpts{
		Namespace: "perfgov",
		Subsystem: "quality",
		Name:      "optimizations_total",
		Help:      "Optimization profiles applied, by level",
	}, []string{"level"})

	e.operationDuration = factory.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "perfgov",
		Subsystem: "operations",
		Name:      "duration_seconds",
		Help:      "Duration of tracked operations in seconds",
		Buckets:   []float64{0.001, 0.005, 0.01, 0.0167, 0.025, 0.05, 0.1, 0.25, 0.5, 1},
	}, []string{"operation"})
}

// Registry returns the registry the collectors live on.
func (e *Exporter) Registry() *prometheus.Registry {
	return e.registry
}

// Observer returns the callbacks that feed the exporter.
func (e *Exporter) Observer() Observer {
	return Observer{
		ID:                    ExporterObserverID,
		OnMetricsUpdate:       e.observeMetrics,
		OnDegradationAlert:    e.observeAlert,
		OnQualityChange:       e.observeQualityChange,
		OnOptimizationApplied: e.observeOptimization,
	}
}

// ObserveOperation records one tracked operation.
func (e *Exporter) ObserveOperation(name string, d time.Duration) {
	e.operationDuration.WithLabelValues(name).Observe(d.Seconds())
}

func (e *Exporter) observeMetrics(m UnifiedMetrics) {
	e.currentFPS.Set(m.CurrentFPS)
	e.averageFPS.Set(m.AverageFPS)
	e.frameTime.Observe(m.FrameTime / 1000)
	e.memoryUsage.Set(m.MemoryUsageMB)
	e.memoryPercent.Set(m.MemoryPercent)
	e.gpuUtilization.Set(m.GPUUtilizationPercent)
	e.canvasRenderFPS.Set(m.CanvasRenderFPS)
	e.qualityLevel.Set(float64(m.QualityLevel))
	e.sessionSeconds.Set(m.SessionDuration.Seconds())
}

// observeDropped is called once per sample rather than per metrics update
// so that the counter only ever sees each frame's drops once.
func (e *Exporter) observeDropped(n int) {
	if n > 0 {
		e.droppedFrames.Add(float64(n))
	}
}

func (e *Exporter) observeAlert(a DegradationAlert) {
	e.alertsTotal.WithLabelValues(string(a.Type), string(a.Severity)).Inc()
}

func (e *Exporter) observeQualityChange(c QualityChange) {
	direction := "upgrade"
	if c.To > c.From {
		direction = "downgrade"
	}
	e.qualityChangesTotal.WithLabelValues(direction, strconv.FormatBool(c.Manual)).Inc()
}

func (e *Exporter) observeOptimization(o Optimization) {
	e.optimizationsTotal.WithLabelValues(o.Level.String()).Inc()
}
