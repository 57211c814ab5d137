package content

import (
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nino-chavez/perfgov/internal/eventloop"
	"github.com/nino-chavez/perfgov/monitoring"
)

var epoch = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func newTestManager(t *testing.T) (*Manager, *eventloop.Manual, *[]LevelChange) {
	t.Helper()
	loop := eventloop.NewManual(epoch, eventloop.DefaultFrameInterval)
	m, err := NewManager(loop, DefaultConfig())
	require.NoError(t, err)
	t.Cleanup(func() { m.Close() })

	changes := &[]LevelChange{}
	m.OnLevelChange(func(c LevelChange) { *changes = append(*changes, c) })
	return m, loop, changes
}

func at(scale float64) CanvasPosition {
	return CanvasPosition{Scale: scale, Section: DefaultSection}
}

// settle completes transitions until the level stops moving.
func settle(m *Manager) {
	for m.CompleteTransition() {
	}
}

func TestThresholdTableLevelFor(t *testing.T) {
	table := DefaultConfig().Sections[DefaultSection]
	tests := []struct {
		scale float64
		want  Level
	}{
		{0.2, LevelPreview},
		{0.5, LevelSummary},
		{0.99, LevelSummary},
		{1.0, LevelDetailed},
		{2.0, LevelTechnical},
		{8, LevelTechnical},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, table.LevelFor(tt.scale), "scale %v", tt.scale)
	}
}

func TestSectionTables(t *testing.T) {
	m, _, _ := newTestManager(t)

	require.NoError(t, m.UpdateCanvasPosition(CanvasPosition{Scale: 0.95, Section: "gallery"}))
	settle(m)
	assert.Equal(t, LevelDetailed, m.Level())

	m2, _, _ := newTestManager(t)
	require.NoError(t, m2.UpdateCanvasPosition(CanvasPosition{Scale: 0.95, Section: "projects"}))
	settle(m2)
	assert.Equal(t, LevelSummary, m2.Level())

	// unknown sections use the default table
	m3, _, _ := newTestManager(t)
	require.NoError(t, m3.UpdateCanvasPosition(CanvasPosition{Scale: 0.95, Section: "contact"}))
	settle(m3)
	assert.Equal(t, LevelSummary, m3.Level())
}

func TestUpdateCanvasPositionIsIdempotent(t *testing.T) {
	m, _, changes := newTestManager(t)

	require.NoError(t, m.UpdateCanvasPosition(at(1.2)))
	require.NoError(t, m.UpdateCanvasPosition(at(1.2)))

	require.Len(t, *changes, 1)
	assert.Equal(t, LevelPreview, (*changes)[0].From)
	assert.Equal(t, LevelSummary, (*changes)[0].To)
	assert.Equal(t, ReasonThreshold, (*changes)[0].Reason)

	settle(m)
	require.Len(t, *changes, 2)
	require.NoError(t, m.UpdateCanvasPosition(at(1.2)))
	assert.Len(t, *changes, 2)
	assert.Equal(t, LevelDetailed, m.Level())
}

func TestLevelStepsAreAdjacent(t *testing.T) {
	m, loop, changes := newTestManager(t)

	require.NoError(t, m.UpdateCanvasPosition(at(0.3)))
	require.NoError(t, m.UpdateCanvasPosition(at(3.0)))
	assert.Equal(t, LevelSummary, m.Level())

	// the transition timeout carries the level the rest of the way
	loop.Advance(2 * DefaultConfig().TransitionTimeout)
	assert.Equal(t, LevelTechnical, m.Level())

	require.Len(t, *changes, 3)
	for _, c := range *changes {
		assert.Equal(t, 1, int(c.To-c.From), "%s -> %s", c.From, c.To)
		assert.Equal(t, ReasonThreshold, c.Reason)
	}

	require.NoError(t, m.UpdateCanvasPosition(at(0.3)))
	settle(m)
	assert.Equal(t, LevelPreview, m.Level())
	require.Len(t, *changes, 6)
	for _, c := range (*changes)[3:] {
		assert.Equal(t, -1, int(c.To-c.From), "%s -> %s", c.From, c.To)
	}
}

func TestReversalStepsBackImmediately(t *testing.T) {
	m, _, changes := newTestManager(t)

	require.NoError(t, m.UpdateCanvasPosition(at(3.0)))
	require.Equal(t, LevelSummary, m.Level())

	require.NoError(t, m.UpdateCanvasPosition(at(0.3)))
	assert.Equal(t, LevelPreview, m.Level())
	require.Len(t, *changes, 2)
	assert.Equal(t, LevelSummary, (*changes)[1].From)
	assert.Equal(t, LevelPreview, (*changes)[1].To)

	settle(m)
	assert.Equal(t, LevelPreview, m.Level())
}

func TestOverrideJumps(t *testing.T) {
	m, _, changes := newTestManager(t)

	require.NoError(t, m.SetContentLevel(LevelTechnical))
	require.Len(t, *changes, 1)
	assert.Equal(t, LevelPreview, (*changes)[0].From)
	assert.Equal(t, LevelTechnical, (*changes)[0].To)
}

func TestPanickingListenerIsContained(t *testing.T) {
	m, _, changes := newTestManager(t)
	m.OnLevelChange(func(LevelChange) { panic("listener bug") })

	var after int
	m.OnLevelChange(func(LevelChange) { after++ })

	require.NotPanics(t, func() {
		require.NoError(t, m.UpdateCanvasPosition(at(0.6)))
	})
	assert.Len(t, *changes, 1)
	assert.Equal(t, 1, after)
}

func TestHysteresisBand(t *testing.T) {
	m, _, changes := newTestManager(t)

	require.NoError(t, m.UpdateCanvasPosition(at(1.2)))
	settle(m)

	// just under the detailed boundary, inside the band
	require.NoError(t, m.UpdateCanvasPosition(at(0.98)))
	assert.Equal(t, LevelDetailed, m.Level())

	require.NoError(t, m.UpdateCanvasPosition(at(0.9)))
	settle(m)
	assert.Equal(t, LevelSummary, m.Level())

	require.NoError(t, m.UpdateCanvasPosition(at(1.02)))
	assert.Equal(t, LevelSummary, m.Level())

	require.NoError(t, m.UpdateCanvasPosition(at(1.06)))
	settle(m)
	assert.Equal(t, LevelDetailed, m.Level())
	assert.Len(t, *changes, 4)
}

func TestBurstEngagementPullsThresholdsInward(t *testing.T) {
	m, _, changes := newTestManager(t)

	require.NoError(t, m.UpdateCanvasPosition(at(0.85)))
	settle(m)
	assert.Equal(t, LevelSummary, m.Level())

	for i := 0; i < 6; i++ {
		m.RecordInteraction()
	}

	assert.Equal(t, LevelDetailed, m.Level())
	last := (*changes)[len(*changes)-1]
	assert.Equal(t, ReasonEngagement, last.Reason)

	st := m.Status()
	assert.Equal(t, EngagementBurst, st.Engagement)
	assert.InDelta(t, 0.8, st.Thresholds.DetailedMin, 1e-9)
	assert.InDelta(t, 1.6, st.Thresholds.TechnicalMin, 1e-9)
}

func TestBurstExpiresWithWindow(t *testing.T) {
	m, loop, _ := newTestManager(t)

	for i := 0; i < 6; i++ {
		m.RecordInteraction()
	}
	assert.Equal(t, EngagementBurst, m.Status().Engagement)

	loop.Advance(10 * time.Second)
	assert.Equal(t, EngagementNormal, m.Status().Engagement)
}

func TestEngagementNeverPassesFloors(t *testing.T) {
	m, loop, _ := newTestManager(t)
	table := DefaultConfig().Sections[DefaultSection]

	for i := 0; i < 300; i++ {
		m.RecordInteraction()
		loop.Advance(time.Millisecond)

		st := m.Status()
		require.GreaterOrEqual(t, st.Thresholds.DetailedMin, table.DetailedFloor)
		require.GreaterOrEqual(t, st.Thresholds.TechnicalMin, table.TechnicalFloor)
	}

	st := m.Status()
	assert.Equal(t, table.DetailedFloor, st.Thresholds.DetailedMin)
	assert.Equal(t, table.TechnicalFloor, st.Thresholds.TechnicalMin)
}

func TestLowEngagementExtendsSummary(t *testing.T) {
	m, loop, _ := newTestManager(t)

	loop.Advance(31 * time.Second)
	require.NoError(t, m.UpdateCanvasPosition(at(1.1)))

	st := m.Status()
	assert.Equal(t, EngagementLow, st.Engagement)
	assert.InDelta(t, 1.25, st.Thresholds.DetailedMin, 1e-9)
	assert.Equal(t, LevelSummary, m.Level())

	active, _, _ := newTestManager(t)
	require.NoError(t, active.UpdateCanvasPosition(at(1.1)))
	settle(active)
	assert.Equal(t, LevelDetailed, active.Level())
}

func TestOverride(t *testing.T) {
	m, _, changes := newTestManager(t)

	require.NoError(t, m.UpdateCanvasPosition(at(0.3)))
	require.NoError(t, m.SetContentLevel(LevelTechnical))
	assert.Equal(t, LevelTechnical, m.Level())
	assert.True(t, m.Status().Override)

	require.NoError(t, m.UpdateCanvasPosition(at(0.6)))
	assert.Equal(t, LevelTechnical, m.Level())

	m.ClearOverride()
	assert.Equal(t, LevelDetailed, m.Level())
	settle(m)
	assert.Equal(t, LevelSummary, m.Level())
	last := (*changes)[len(*changes)-1]
	assert.Equal(t, ReasonOverrideCleared, last.Reason)

	assert.ErrorIs(t, m.SetContentLevel(Level(7)), ErrInvalidLevel)
}

func TestQualityCapsLevel(t *testing.T) {
	m, _, changes := newTestManager(t)

	require.NoError(t, m.UpdateCanvasPosition(at(3)))
	settle(m)
	assert.Equal(t, LevelTechnical, m.Level())

	m.HandleQualityChange(monitoring.QualityChange{From: monitoring.QualityHighest, To: monitoring.QualityLow})
	assert.Equal(t, LevelDetailed, m.Level())

	m.SetQualityLevel(monitoring.QualityMinimal)
	settle(m)
	assert.Equal(t, LevelSummary, m.Level())
	assert.Equal(t, LevelSummary, m.Status().QualityCap)

	m.SetQualityLevel(monitoring.QualityHighest)
	settle(m)
	assert.Equal(t, LevelTechnical, m.Level())

	reasons := make([]string, 0, len(*changes))
	for _, c := range *changes {
		reasons = append(reasons, c.Reason)
	}
	assert.Equal(t, []string{
		ReasonThreshold, ReasonThreshold, ReasonThreshold,
		ReasonQuality, ReasonQuality,
		ReasonQuality, ReasonQuality,
	}, reasons)
}

func TestTransitionBookkeeping(t *testing.T) {
	m, loop, _ := newTestManager(t)

	require.NoError(t, m.UpdateCanvasPosition(at(1.2)))
	assert.True(t, m.Status().Transitioning)

	// preview -> summary, then summary -> detailed
	loop.Advance(200 * time.Millisecond)
	assert.True(t, m.CompleteTransition())
	loop.Advance(200 * time.Millisecond)
	assert.True(t, m.CompleteTransition())
	assert.False(t, m.CompleteTransition())

	st := m.Status()
	assert.Equal(t, LevelDetailed, st.Level)
	assert.Equal(t, LevelSummary, st.Previous)
	assert.Equal(t, 200*time.Millisecond, st.AverageTransition)
	assert.True(t, st.IsOptimized)

	// left to the fallback timeout
	require.NoError(t, m.UpdateCanvasPosition(at(3)))
	loop.Advance(DefaultConfig().TransitionTimeout)

	st = m.Status()
	assert.Equal(t, LevelTechnical, st.Level)
	assert.False(t, st.Transitioning)
	assert.Equal(t, 1400*time.Millisecond/3, st.AverageTransition)
	assert.False(t, st.IsOptimized)
}

func TestUpdateCanvasPositionRejectsBadInput(t *testing.T) {
	m, _, _ := newTestManager(t)

	assert.ErrorIs(t, m.UpdateCanvasPosition(at(0)), ErrInvalidPosition)
	assert.ErrorIs(t, m.UpdateCanvasPosition(at(math.NaN())), ErrInvalidPosition)

	require.NoError(t, m.Close())
	assert.ErrorIs(t, m.UpdateCanvasPosition(at(1)), ErrManagerClosed)
}

func TestConfigValidate(t *testing.T) {
	require.NoError(t, DefaultConfig().Validate())

	cfg := DefaultConfig()
	delete(cfg.Sections, DefaultSection)
	assert.ErrorIs(t, cfg.Validate(), ErrInvalidConfiguration)

	cfg = DefaultConfig()
	cfg.Sections["broken"] = ThresholdTable{SummaryMin: 0.5, DetailedMin: 1, TechnicalMin: 2, DetailedFloor: 1.2, TechnicalFloor: 1.5}
	assert.ErrorIs(t, cfg.Validate(), ErrInvalidConfiguration)
}

func TestLevelText(t *testing.T) {
	var l Level
	require.NoError(t, l.UnmarshalText([]byte("technical")))
	assert.Equal(t, LevelTechnical, l)

	_, err := ParseLevel("everything")
	assert.ErrorIs(t, err, ErrInvalidLevel)
}
