package monitoring

import (
	"errors"
	"fmt"
	"time"
)

// Config holds the sampling windows, alert thresholds and history sizes of
// the monitoring service. The numeric thresholds are empirical tunables.
type Config struct {
	// Frame budget the sampler measures against (16.67ms at 60Hz)
	FrameBudget time.Duration `json:"frame_budget" yaml:"frame_budget"`

	// Rolling window: at most RollingWindowSamples samples no older than RollingWindow
	RollingWindowSamples int           `json:"rolling_window_samples" yaml:"rolling_window_samples"`
	RollingWindow        time.Duration `json:"rolling_window" yaml:"rolling_window"`

	// Frame-rate floors
	FPSMediumThreshold   float64       `json:"fps_medium_threshold" yaml:"fps_medium_threshold"`
	FPSHighThreshold     float64       `json:"fps_high_threshold" yaml:"fps_high_threshold"`
	FPSCriticalThreshold float64       `json:"fps_critical_threshold" yaml:"fps_critical_threshold"`
	FPSCriticalSustain   time.Duration `json:"fps_critical_sustain" yaml:"fps_critical_sustain"`

	// Memory ceilings, percent of the probe's limit
	MemoryCeilingPercent  float64 `json:"memory_ceiling_percent" yaml:"memory_ceiling_percent"`
	MemoryCriticalPercent float64 `json:"memory_critical_percent" yaml:"memory_critical_percent"`

	// GPU-proxy ceilings, percent
	GPUCeilingPercent float64 `json:"gpu_ceiling_percent" yaml:"gpu_ceiling_percent"`
	GPUHighPercent    float64 `json:"gpu_high_percent" yaml:"gpu_high_percent"`

	// Same alert type is not re-raised within the cooldown unless severity rises
	AlertCooldown time.Duration `json:"alert_cooldown" yaml:"alert_cooldown"`

	// History retention
	AlertHistorySize   int `json:"alert_history_size" yaml:"alert_history_size"`
	QualityHistorySize int `json:"quality_history_size" yaml:"quality_history_size"`
}

// QualityConfig controls the hysteresis of the quality state machine.
type QualityConfig struct {
	// Continuous alert time before a one-step downgrade commits
	DowngradeDwell time.Duration `json:"downgrade_dwell" yaml:"downgrade_dwell"`

	// Continuous clean time before a one-step upgrade commits
	UpgradeRecovery time.Duration `json:"upgrade_recovery" yaml:"upgrade_recovery"`

	// A critical alert drops straight to QualityMinimal
	CriticalCollapse bool `json:"critical_collapse" yaml:"critical_collapse"`
}

// ObserverOptions configures a UI binding attached through Attach.
type ObserverOptions struct {
	ObserverID                string `json:"observer_id" yaml:"observer_id"`
	AutoStart                 bool   `json:"auto_start" yaml:"auto_start"`
	EnableMetricsUpdates      bool   `json:"enable_metrics_updates" yaml:"enable_metrics_updates"`
	EnableAlerts              bool   `json:"enable_alerts" yaml:"enable_alerts"`
	EnableQualityUpdates      bool   `json:"enable_quality_updates" yaml:"enable_quality_updates"`
	EnableOptimizationUpdates bool   `json:"enable_optimization_updates" yaml:"enable_optimization_updates"`
}

// DefaultConfig returns the monitoring defaults.
func DefaultConfig() Config {
	return Config{
		FrameBudget:           time.Second / 60,
		RollingWindowSamples:  60,
		RollingWindow:         time.Second,
		FPSMediumThreshold:    45,
		FPSHighThreshold:      30,
		FPSCriticalThreshold:  20,
		FPSCriticalSustain:    3 * time.Second,
		MemoryCeilingPercent:  80,
		MemoryCriticalPercent: 95,
		GPUCeilingPercent:     85,
		GPUHighPercent:        95,
		AlertCooldown:         5 * time.Second,
		AlertHistorySize:      10,
		QualityHistorySize:    50,
	}
}

// DefaultQualityConfig returns the hysteresis defaults: 2s to degrade, 5s to recover.
func DefaultQualityConfig() QualityConfig {
	return QualityConfig{
		DowngradeDwell:   2 * time.Second,
		UpgradeRecovery:  5 * time.Second,
		CriticalCollapse: true,
	}
}

// DefaultObserverOptions enables every channel without auto-starting.
func DefaultObserverOptions() ObserverOptions {
	return ObserverOptions{
		EnableMetricsUpdates:      true,
		EnableAlerts:              true,
		EnableQualityUpdates:      true,
		EnableOptimizationUpdates: true,
	}
}

// Validate checks threshold ordering and window sizes.
func (c Config) Validate() error {
	var errs []error

	if c.FrameBudget <= 0 {
		errs = append(errs, errors.New("frame budget must be positive"))
	}
	if c.RollingWindowSamples < 1 {
		errs = append(errs, errors.New("rolling window must hold at least one sample"))
	}
	if c.RollingWindow <= 0 {
		errs = append(errs, errors.New("rolling window duration must be positive"))
	}
	if !(c.FPSMediumThreshold > c.FPSHighThreshold && c.FPSHighThreshold > c.FPSCriticalThreshold && c.FPSCriticalThreshold > 0) {
		errs = append(errs, errors.New("fps thresholds must satisfy medium > high > critical > 0"))
	}
	if c.FPSCriticalSustain < 0 {
		errs = append(errs, errors.New("critical fps sustain cannot be negative"))
	}
	if c.MemoryCeilingPercent <= 0 || c.MemoryCeilingPercent > 100 || c.MemoryCriticalPercent < c.MemoryCeilingPercent {
		errs = append(errs, errors.New("memory ceilings must satisfy 0 < ceiling <= critical"))
	}
	if c.GPUCeilingPercent <= 0 || c.GPUCeilingPercent > 100 || c.GPUHighPercent < c.GPUCeilingPercent {
		errs = append(errs, errors.New("gpu ceilings must satisfy 0 < ceiling <= high"))
	}
	if c.AlertCooldown < 0 {
		errs = append(errs, errors.New("alert cooldown cannot be negative"))
	}
	if c.AlertHistorySize < 1 || c.QualityHistorySize < 1 {
		errs = append(errs, errors.New("history sizes must be at least 1"))
	}

	if len(errs) > 0 {
		return fmt.Errorf("%w: %w", ErrInvalidConfiguration, errors.Join(errs...))
	}
	return nil
}

// Validate checks the hysteresis windows.
func (c QualityConfig) Validate() error {
	if c.DowngradeDwell < 0 || c.UpgradeRecovery < 0 {
		return fmt.Errorf("%w: quality windows cannot be negative", ErrInvalidConfiguration)
	}
	if c.UpgradeRecovery < c.DowngradeDwell {
		return fmt.Errorf("%w: upgrade recovery must not be shorter than downgrade dwell", ErrInvalidConfiguration)
	}
	return nil
}
