package scroll

import (
	"errors"
	"fmt"
	"slices"
	"time"

	"github.com/nino-chavez/perfgov/monitoring"
)

// Config holds the scroll coordinator tunables. The physics constants are
// empirical defaults, not derived values.
type Config struct {
	// Viewport dimensions are re-read at most once per CacheTTL unless invalidated
	CacheTTL time.Duration `json:"cache_ttl" yaml:"cache_ttl"`

	// Per-frame velocity multiplier used for end-position prediction
	Deceleration float64 `json:"deceleration" yaml:"deceleration"`

	// Prediction stops once per-frame velocity falls below Epsilon pixels
	Epsilon float64 `json:"epsilon" yaml:"epsilon"`

	// Frame period used to convert px/ms into px/frame
	FrameInterval time.Duration `json:"frame_interval" yaml:"frame_interval"`

	// Quiet time after the last scroll event before scrolling is considered ended
	DebounceDelay time.Duration `json:"debounce_delay" yaml:"debounce_delay"`

	// Number of instantaneous velocities retained
	VelocityHistory int `json:"velocity_history" yaml:"velocity_history"`

	// Minimum |velocity| in px/ms for a decelerating scroll to count as momentum
	MomentumThreshold float64 `json:"momentum_threshold" yaml:"momentum_threshold"`

	// Quality level at or below which animations are deferred
	DeferQuality monitoring.QualityLevel `json:"defer_quality" yaml:"defer_quality"`

	// Deferral delays by priority; critical work is never deferred
	LowDelay    time.Duration `json:"low_delay" yaml:"low_delay"`
	NormalDelay time.Duration `json:"normal_delay" yaml:"normal_delay"`
	HighDelay   time.Duration `json:"high_delay" yaml:"high_delay"`

	// Deferred work runs anyway after this many postponements
	MaxDeferrals int `json:"max_deferrals" yaml:"max_deferrals"`

	// Visibility ratios at which an element's visibility is re-reported
	Thresholds []float64 `json:"thresholds" yaml:"thresholds"`
}

// DefaultConfig returns the coordinator defaults.
func DefaultConfig() Config {
	return Config{
		CacheTTL:          100 * time.Millisecond,
		Deceleration:      0.95,
		Epsilon:           0.1,
		FrameInterval:     time.Second / 60,
		DebounceDelay:     150 * time.Millisecond,
		VelocityHistory:   10,
		MomentumThreshold: 0.1,
		DeferQuality:      monitoring.QualityHigh,
		LowDelay:          100 * time.Millisecond,
		NormalDelay:       50 * time.Millisecond,
		HighDelay:         25 * time.Millisecond,
		MaxDeferrals:      3,
		Thresholds:        []float64{0, 0.1, 0.5, 0.9, 1},
	}
}

// Validate checks ranges and threshold ordering.
func (c Config) Validate() error {
	var errs []error

	if c.CacheTTL < 0 {
		errs = append(errs, errors.New("cache ttl cannot be negative"))
	}
	if c.Deceleration <= 0 || c.Deceleration >= 1 {
		errs = append(errs, errors.New("deceleration must be in (0, 1)"))
	}
	if c.Epsilon <= 0 {
		errs = append(errs, errors.New("epsilon must be positive"))
	}
	if c.FrameInterval <= 0 {
		errs = append(errs, errors.New("frame interval must be positive"))
	}
	if c.DebounceDelay <= 0 {
		errs = append(errs, errors.New("debounce delay must be positive"))
	}
	if c.VelocityHistory < 2 {
		errs = append(errs, errors.New("velocity history must hold at least 2 samples"))
	}
	if !c.DeferQuality.Valid() {
		errs = append(errs, fmt.Errorf("defer quality: %w", monitoring.ErrInvalidQualityLevel))
	}
	if c.LowDelay < c.NormalDelay || c.NormalDelay < c.HighDelay || c.HighDelay < 0 {
		errs = append(errs, errors.New("deferral delays must satisfy low >= normal >= high >= 0"))
	}
	if c.MaxDeferrals < 1 {
		errs = append(errs, errors.New("max deferrals must be at least 1"))
	}
	if len(c.Thresholds) == 0 {
		errs = append(errs, errors.New("at least one visibility threshold is required"))
	}
	for _, th := range c.Thresholds {
		if th < 0 || th > 1 {
			errs = append(errs, fmt.Errorf("visibility threshold %v outside [0, 1]", th))
		}
	}
	if !slices.IsSorted(c.Thresholds) {
		errs = append(errs, errors.New("visibility thresholds must be ascending"))
	}

	if len(errs) > 0 {
		return fmt.Errorf("%w: %w", ErrInvalidConfiguration, errors.Join(errs...))
	}
	return nil
}

func (c Config) delayFor(p Priority) time.Duration {
	switch p {
	case HighPriority:
		return c.HighDelay
	case NormalPriority:
		return c.NormalDelay
	default:
		return c.LowDelay
	}
}
