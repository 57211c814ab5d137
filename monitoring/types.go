package monitoring

import (
	"fmt"
	"strings"
	"time"
)

// QualityLevel is the rendering-fidelity tier. Lower values are richer;
// QualityHighest is the initial level.
type QualityLevel int

const (
	QualityHighest QualityLevel = iota
	QualityHigh
	QualityMedium
	QualityLow
	QualityMinimal
)

var qualityNames = [...]string{"highest", "high", "medium", "low", "minimal"}

func (ql QualityLevel) String() string {
	if ql < QualityHighest || ql > QualityMinimal {
		return "unknown"
	}
	return qualityNames[ql]
}

// Valid reports whether ql is one of the five defined levels.
func (ql QualityLevel) Valid() bool {
	return ql >= QualityHighest && ql <= QualityMinimal
}

// Degraded reports whether ql is below QualityHighest.
func (ql QualityLevel) Degraded() bool {
	return ql > QualityHighest
}

// ParseQualityLevel parses the lower-case level name.
func ParseQualityLevel(s string) (QualityLevel, error) {
	for i, name := range qualityNames {
		if strings.EqualFold(strings.TrimSpace(s), name) {
			return QualityLevel(i), nil
		}
	}
	return 0, fmt.Errorf("%w: %q", ErrInvalidQualityLevel, s)
}

func (ql QualityLevel) MarshalText() ([]byte, error) {
	if !ql.Valid() {
		return nil, fmt.Errorf("%w: %d", ErrInvalidQualityLevel, int(ql))
	}
	return []byte(ql.String()), nil
}

func (ql *QualityLevel) UnmarshalText(text []byte) error {
	parsed, err := ParseQualityLevel(string(text))
	if err != nil {
		return err
	}
	*ql = parsed
	return nil
}

// Severity represents the severity level of a degradation alert
type Severity string

const (
	SeverityNone     Severity = ""
	SeverityLow      Severity = "low"
	SeverityMedium   Severity = "medium"
	SeverityHigh     Severity = "high"
	SeverityCritical Severity = "critical"
)

// Weight orders severities; SeverityNone weighs zero.
func (s Severity) Weight() int {
	switch s {
	case SeverityCritical:
		return 4
	case SeverityHigh:
		return 3
	case SeverityMedium:
		return 2
	case SeverityLow:
		return 1
	default:
		return 0
	}
}

// Worse returns the heavier of s and other.
func (s Severity) Worse(other Severity) Severity {
	if other.Weight() > s.Weight() {
		return other
	}
	return s
}

// AlertType names the metric family a degradation alert belongs to.
type AlertType string

const (
	AlertFPSDrop     AlertType = "fps-drop"
	AlertMemoryLeak  AlertType = "memory-leak"
	AlertGPUOverload AlertType = "gpu-overload"
)

// PerformanceSample is one per-frame measurement. Samples are values and are
// never modified after the sampler produces them.
type PerformanceSample struct {
	Timestamp             time.Time `json:"timestamp"`
	FPS                   float64   `json:"fps"`
	FrameTimeMs           float64   `json:"frame_time_ms"`
	MemoryMB              float64   `json:"memory_mb"`
	MemoryPercent         float64   `json:"memory_percent"`
	GPUUtilizationPercent float64   `json:"gpu_utilization_percent"`
	DroppedFrameCount     int       `json:"dropped_frame_count"`
}

// UnifiedMetrics is the rolling aggregate published to observers.
type UnifiedMetrics struct {
	CurrentFPS            float64       `json:"current_fps"`
	AverageFPS            float64       `json:"average_fps"`
	FrameTime             float64       `json:"frame_time_ms"`
	MemoryUsageMB         float64       `json:"memory_usage_mb"`
	MemoryPercent         float64       `json:"memory_percent"`
	GPUUtilizationPercent float64       `json:"gpu_utilization_percent"`
	CanvasRenderFPS       float64       `json:"canvas_render_fps"`
	DroppedFrames         int           `json:"dropped_frames"`
	QualityLevel          QualityLevel  `json:"quality_level"`
	IsOptimized           bool          `json:"is_optimized"`
	Timestamp             time.Time     `json:"timestamp"`
	SessionDuration       time.Duration `json:"session_duration"`
}

// DefaultMetrics returns the metrics reported before any sample arrives.
func DefaultMetrics(now time.Time) UnifiedMetrics {
	return UnifiedMetrics{
		CurrentFPS:      60,
		AverageFPS:      60,
		FrameTime:       1000.0 / 60,
		CanvasRenderFPS: 60,
		QualityLevel:    QualityHighest,
		Timestamp:       now,
	}
}

// DegradationAlert signals that a metric crossed a failure threshold.
type DegradationAlert struct {
	ID        string         `json:"id"`
	Type      AlertType      `json:"type"`
	Severity  Severity       `json:"severity"`
	Value     float64        `json:"value"`
	Threshold float64        `json:"threshold"`
	Message   string         `json:"message"`
	Timestamp time.Time      `json:"timestamp"`
	Metrics   UnifiedMetrics `json:"metrics"`
}

// QualityChange describes one committed quality transition.
type QualityChange struct {
	From      QualityLevel `json:"from"`
	To        QualityLevel `json:"to"`
	Reason    string       `json:"reason"`
	Manual    bool         `json:"manual"`
	Timestamp time.Time    `json:"timestamp"`
}

// Optimization is broadcast after a quality transition, listing what the
// presentation layer should switch on or off for the new level.
type Optimization struct {
	Level     QualityLevel   `json:"level"`
	Profile   QualityProfile `json:"profile"`
	Actions   []string       `json:"actions"`
	Reason    string         `json:"reason"`
	Timestamp time.Time      `json:"timestamp"`
}
