package recovery

import (
	"slices"
	"sync"
)

// DegradationSink applies and removes the presentation-wide degraded modes.
// Implementations must tolerate repeated Apply and Remove calls.
type DegradationSink interface {
	ApplyReducedMotion() error
	RemoveReducedMotion() error
	ApplyFallbackMode() error
	RemoveFallbackMode() error
	ApplyHighContrast() error
	RemoveHighContrast() error
}

// SectionSink is implemented by sinks that can degrade a single section.
// Sinks without it fall back to global fallback mode for section errors.
type SectionSink interface {
	DegradeSection(section string) error
	RestoreSection(section string) error
}

// Reloader performs a full reload of the presentation.
type Reloader interface {
	Reload() error
}

// SinkState is a snapshot of the modes a StateSink holds.
type SinkState struct {
	ReducedMotion    bool     `json:"reduced_motion"`
	FallbackMode     bool     `json:"fallback_mode"`
	HighContrast     bool     `json:"high_contrast"`
	DegradedSections []string `json:"degraded_sections,omitempty"`
	Reloads          int      `json:"reloads"`
}

// StateSink keeps degraded modes in memory. It implements DegradationSink,
// SectionSink and Reloader and is the default when no sink is given.
type StateSink struct {
	mu       sync.RWMutex
	state    SinkState
	sections map[string]struct{}
}

var (
	_ DegradationSink = (*StateSink)(nil)
	_ SectionSink     = (*StateSink)(nil)
	_ Reloader        = (*StateSink)(nil)
)

func NewStateSink() *StateSink {
	return &StateSink{sections: make(map[string]struct{})}
}

func (s *StateSink) set(field *bool, v bool, name string) error {
	s.mu.Lock()
	changed := *field != v
	*field = v
	s.mu.Unlock()

	if changed {
		log.Debugf("%s set to %t", name, v)
	}
	return nil
}

func (s *StateSink) ApplyReducedMotion() error {
	return s.set(&s.state.ReducedMotion, true, "reduced motion")
}

func (s *StateSink) RemoveReducedMotion() error {
	return s.set(&s.state.ReducedMotion, false, "reduced motion")
}

func (s *StateSink) ApplyFallbackMode() error {
	return s.set(&s.state.FallbackMode, true, "fallback mode")
}

func (s *StateSink) RemoveFallbackMode() error {
	return s.set(&s.state.FallbackMode, false, "fallback mode")
}

func (s *StateSink) ApplyHighContrast() error {
	return s.set(&s.state.HighContrast, true, "high contrast")
}

func (s *StateSink) RemoveHighContrast() error {
	return s.set(&s.state.HighContrast, false, "high contrast")
}

func (s *StateSink) DegradeSection(section string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sections[section] = struct{}{}
	return nil
}

func (s *StateSink) RestoreSection(section string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.sections, section)
	return nil
}

func (s *StateSink) Reload() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state.Reloads++
	return nil
}

// State returns a copy of the current modes.
func (s *StateSink) State() SinkState {
	s.mu.RLock()
	defer s.mu.RUnlock()

	st := s.state
	st.DegradedSections = make([]string, 0, len(s.sections))
	for name := range s.sections {
		st.DegradedSections = append(st.DegradedSections, name)
	}
	slices.Sort(st.DegradedSections)
	return st
}
