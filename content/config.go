package content

import (
	"errors"
	"fmt"
	"math"
	"time"
)

// DefaultSection is the table used for sections without their own.
const DefaultSection = "default"

// ThresholdTable maps a zoom scale to a level for one section. Each *Min is
// the smallest scale at which that level is shown. The floors bound how far
// engagement may pull DetailedMin and TechnicalMin inward.
type ThresholdTable struct {
	SummaryMin     float64 `json:"summary_min" yaml:"summary_min"`
	DetailedMin    float64 `json:"detailed_min" yaml:"detailed_min"`
	TechnicalMin   float64 `json:"technical_min" yaml:"technical_min"`
	DetailedFloor  float64 `json:"detailed_floor" yaml:"detailed_floor"`
	TechnicalFloor float64 `json:"technical_floor" yaml:"technical_floor"`
}

// LevelFor returns the level scale falls into.
func (t ThresholdTable) LevelFor(scale float64) Level {
	switch {
	case scale >= t.TechnicalMin:
		return LevelTechnical
	case scale >= t.DetailedMin:
		return LevelDetailed
	case scale >= t.SummaryMin:
		return LevelSummary
	default:
		return LevelPreview
	}
}

func (t ThresholdTable) Validate() error {
	if !(t.SummaryMin > 0 && t.SummaryMin < t.DetailedMin && t.DetailedMin < t.TechnicalMin) {
		return errors.New("thresholds must satisfy 0 < summary < detailed < technical")
	}
	if t.DetailedFloor <= t.SummaryMin || t.DetailedFloor > t.DetailedMin {
		return errors.New("detailed floor must lie in (summary, detailed]")
	}
	if t.TechnicalFloor <= t.DetailedMin || t.TechnicalFloor > t.TechnicalMin {
		return errors.New("technical floor must lie in (detailed, technical]")
	}
	return nil
}

// pullInward scales the detailed and technical minimums by factor, never
// below their floors.
func (t ThresholdTable) pullInward(factor float64) ThresholdTable {
	t.DetailedMin = math.Max(t.DetailedMin*factor, t.DetailedFloor)
	t.TechnicalMin = math.Max(t.TechnicalMin*factor, t.TechnicalFloor)
	return t
}

// extendSummary pushes DetailedMin outward by factor, never past
// TechnicalMin.
func (t ThresholdTable) extendSummary(factor float64) ThresholdTable {
	t.DetailedMin = math.Min(t.DetailedMin*factor, t.TechnicalMin)
	return t
}

// Config holds the content manager tunables.
type Config struct {
	Sections map[string]ThresholdTable `json:"sections" yaml:"sections"`

	// More than BurstInteractions within BurstWindow pulls thresholds inward,
	// by BurstFactor per interaction beyond the burst threshold
	BurstInteractions int           `json:"burst_interactions" yaml:"burst_interactions"`
	BurstWindow       time.Duration `json:"burst_window" yaml:"burst_window"`
	BurstFactor       float64       `json:"burst_factor" yaml:"burst_factor"`

	// Fewer than LowInteractions recent interactions and none for IdleAfter
	// extends the summary range by LowEngagementFactor
	LowInteractions     int           `json:"low_interactions" yaml:"low_interactions"`
	IdleAfter           time.Duration `json:"idle_after" yaml:"idle_after"`
	LowEngagementFactor float64       `json:"low_engagement_factor" yaml:"low_engagement_factor"`

	// Relative band a scale must clear beyond a boundary to change level
	HysteresisBand float64 `json:"hysteresis_band" yaml:"hysteresis_band"`

	// A transition not completed by the presentation layer ends on its own
	// after TransitionTimeout
	TransitionTimeout time.Duration `json:"transition_timeout" yaml:"transition_timeout"`

	// Average transition duration at or under which the manager reports itself optimized
	TargetTransition time.Duration `json:"target_transition" yaml:"target_transition"`

	// Number of transition durations averaged
	TransitionHistory int `json:"transition_history" yaml:"transition_history"`
}

// DefaultConfig returns the content defaults.
func DefaultConfig() Config {
	return Config{
		Sections: map[string]ThresholdTable{
			DefaultSection: {SummaryMin: 0.5, DetailedMin: 1.0, TechnicalMin: 2.0, DetailedFloor: 0.7, TechnicalFloor: 1.5},
			"gallery":      {SummaryMin: 0.4, DetailedMin: 0.9, TechnicalMin: 1.8, DetailedFloor: 0.6, TechnicalFloor: 1.4},
			"projects":     {SummaryMin: 0.6, DetailedMin: 1.2, TechnicalMin: 2.4, DetailedFloor: 0.8, TechnicalFloor: 1.8},
		},
		BurstInteractions:   5,
		BurstWindow:         10 * time.Second,
		BurstFactor:         0.8,
		LowInteractions:     2,
		IdleAfter:           30 * time.Second,
		LowEngagementFactor: 1.25,
		HysteresisBand:      0.05,
		TransitionTimeout:   time.Second,
		TargetTransition:    300 * time.Millisecond,
		TransitionHistory:   20,
	}
}

// Validate checks every table and tunable.
func (c Config) Validate() error {
	var errs []error

	if _, ok := c.Sections[DefaultSection]; !ok {
		errs = append(errs, fmt.Errorf("missing %q section table", DefaultSection))
	}
	for name, table := range c.Sections {
		if err := table.Validate(); err != nil {
			errs = append(errs, fmt.Errorf("section %q: %w", name, err))
		}
	}
	if c.BurstInteractions < 1 || c.BurstWindow <= 0 {
		errs = append(errs, errors.New("burst threshold and window must be positive"))
	}
	if c.BurstFactor <= 0 || c.BurstFactor >= 1 {
		errs = append(errs, errors.New("burst factor must be in (0, 1)"))
	}
	if c.LowInteractions < 1 || c.IdleAfter <= 0 {
		errs = append(errs, errors.New("low-engagement threshold and idle time must be positive"))
	}
	if c.LowEngagementFactor < 1 {
		errs = append(errs, errors.New("low-engagement factor must be at least 1"))
	}
	if c.HysteresisBand < 0 || c.HysteresisBand >= 1 {
		errs = append(errs, errors.New("hysteresis band must be in [0, 1)"))
	}
	if c.TransitionTimeout <= 0 || c.TargetTransition <= 0 || c.TransitionHistory < 1 {
		errs = append(errs, errors.New("transition timing must be positive"))
	}

	if len(errs) > 0 {
		return fmt.Errorf("%w: %w", ErrInvalidConfiguration, errors.Join(errs...))
	}
	return nil
}

func (c Config) tableFor(section string) ThresholdTable {
	if t, ok := c.Sections[section]; ok {
		return t
	}
	return c.Sections[DefaultSection]
}
