package monitoring

import (
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/nino-chavez/perfgov/internal/ringbuf"
)

type raisedAlert struct {
	at       time.Time
	severity Severity
}

// classifier compares aggregated metrics against the configured thresholds
// and deduplicates what it raises per alert type.
type classifier struct {
	cfg Config

	// start of the current run of frames below the critical floor
	lowFPSSince time.Time

	lastRaised map[AlertType]raisedAlert
	history    *ringbuf.Ring[DegradationAlert]
}

func newClassifier(cfg Config) *classifier {
	return &classifier{
		cfg:        cfg,
		lastRaised: make(map[AlertType]raisedAlert),
		history:    ringbuf.New[DegradationAlert](cfg.AlertHistorySize),
	}
}

// evaluate classifies m. It returns the worst severity breached this tick,
// deduplicated or not, and the alerts that survive the cooldown.
func (c *classifier) evaluate(m UnifiedMetrics) (Severity, []DegradationAlert) {
	now := m.Timestamp
	candidates := make([]DegradationAlert, 0, 3)

	if a, ok := c.classifyFPS(m); ok {
		candidates = append(candidates, a)
	}
	if a, ok := c.classifyMemory(m); ok {
		candidates = append(candidates, a)
	}
	if a, ok := c.classifyGPU(m); ok {
		candidates = append(candidates, a)
	}

	worst := SeverityNone
	var raised []DegradationAlert
	for _, a := range candidates {
		worst = worst.Worse(a.Severity)

		if prev, ok := c.lastRaised[a.Type]; ok {
			withinCooldown := now.Sub(prev.at) < c.cfg.AlertCooldown
			if withinCooldown && a.Severity.Weight() <= prev.severity.Weight() {
				continue
			}
		}

		a.ID = uuid.NewString()
		a.Timestamp = now
		a.Metrics = m
		c.lastRaised[a.Type] = raisedAlert{at: now, severity: a.Severity}
		c.history.Push(a)
		raised = append(raised, a)
	}

	return worst, raised
}

func (c *classifier) classifyFPS(m UnifiedMetrics) (DegradationAlert, bool) {
	avg := m.AverageFPS

	if avg < c.cfg.FPSCriticalThreshold {
		if c.lowFPSSince.IsZero() {
			c.lowFPSSince = m.Timestamp
		}
	} else {
		c.lowFPSSince = time.Time{}
	}

	var sev Severity
	var threshold float64
	switch {
	case !c.lowFPSSince.IsZero() && m.Timestamp.Sub(c.lowFPSSince) >= c.cfg.FPSCriticalSustain:
		sev, threshold = SeverityCritical, c.cfg.FPSCriticalThreshold
	case avg < c.cfg.FPSHighThreshold:
		sev, threshold = SeverityHigh, c.cfg.FPSHighThreshold
	case avg < c.cfg.FPSMediumThreshold:
		sev, threshold = SeverityMedium, c.cfg.FPSMediumThreshold
	default:
		return DegradationAlert{}, false
	}

	return DegradationAlert{
		Type:      AlertFPSDrop,
		Severity:  sev,
		Value:     avg,
		Threshold: threshold,
		Message:   fmt.Sprintf("average frame rate %.1f fps below %.0f fps", avg, threshold),
	}, true
}

func (c *classifier) classifyMemory(m UnifiedMetrics) (DegradationAlert, bool) {
	var sev Severity
	var threshold float64
	switch {
	case m.MemoryPercent >= c.cfg.MemoryCriticalPercent:
		sev, threshold = SeverityCritical, c.cfg.MemoryCriticalPercent
	case m.MemoryPercent > c.cfg.MemoryCeilingPercent:
		sev, threshold = SeverityHigh, c.cfg.MemoryCeilingPercent
	default:
		return DegradationAlert{}, false
	}

	return DegradationAlert{
		Type:      AlertMemoryLeak,
		Severity:  sev,
		Value:     m.MemoryPercent,
		Threshold: threshold,
		Message:   fmt.Sprintf("heap usage %.1f%% above %.0f%% (%.1f MB)", m.MemoryPercent, threshold, m.MemoryUsageMB),
	}, true
}

func (c *classifier) classifyGPU(m UnifiedMetrics) (DegradationAlert, bool) {
	var sev Severity
	var threshold float64
	switch {
	case m.GPUUtilizationPercent >= c.cfg.GPUHighPercent:
		sev, threshold = SeverityHigh, c.cfg.GPUHighPercent
	case m.GPUUtilizationPercent > c.cfg.GPUCeilingPercent:
		sev, threshold = SeverityMedium, c.cfg.GPUCeilingPercent
	default:
		return DegradationAlert{}, false
	}

	return DegradationAlert{
		Type:      AlertGPUOverload,
		Severity:  sev,
		Value:     m.GPUUtilizationPercent,
		Threshold: threshold,
		Message:   fmt.Sprintf("estimated render load %.1f%% above %.0f%%", m.GPUUtilizationPercent, threshold),
	}, true
}

func (c *classifier) alerts() []DegradationAlert {
	return c.history.Snapshot()
}

func (c *classifier) reset() {
	c.lowFPSSince = time.Time{}
	clear(c.lastRaised)
	c.history.Reset()
}
