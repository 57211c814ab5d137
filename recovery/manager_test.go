package recovery

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nino-chavez/perfgov/internal/eventloop"
	"github.com/nino-chavez/perfgov/monitoring"
)

var epoch = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func newTestManager(t *testing.T, opts ...Option) (*Manager, *eventloop.Manual, *StateSink) {
	t.Helper()
	loop := eventloop.NewManual(epoch, eventloop.DefaultFrameInterval)
	sink := NewStateSink()
	m, err := NewManager(loop, DefaultConfig(), append([]Option{WithSink(sink)}, opts...)...)
	require.NoError(t, err)
	t.Cleanup(func() { m.Close() })
	return m, loop, sink
}

func sectionLoad(section string) Report {
	return Report{Type: ContentError, Message: "Section load failed", Section: section}
}

func strategies(recs []ErrorRecord) []Strategy {
	out := make([]Strategy, 0, len(recs))
	for _, r := range recs {
		out = append(out, r.Strategy)
	}
	return out
}

func TestClassify(t *testing.T) {
	tests := []struct {
		msg  string
		hint ErrorType
		want ErrorCode
	}{
		{"Section load failed", "", CodeSectionLoad},
		{"failed to load section gallery", "", CodeSectionLoad},
		{"Unexpected token < in JSON at position 0", "", CodeParseFailure},
		{"image decode error", "", CodeImageLoad},
		{"fetch aborted: network error", "", CodeRequestFailure},
		{"JS heap out of memory", "", CodeMemoryExceeded},
		{"average frame rate 18.0 fps below 20 fps", "", CodeFrameRateDrop},
		{"LCP budget missed", "", CodeWebVitalsFailure},
		{"page load time exceeded", "", CodeLoadTimeExceeded},
		{"scroll handler threw", "", CodeScrollCoordination},
		{"transition never finished", "", CodeTransitionFailure},
		{"focus trap lost", "", CodeKeyboardNavigation},
		{"pinch gesture failed", "", CodeTouchGesture},
		{"something odd", "", CodeUnknown},
		// the hint keeps scroll from matching outside interactions
		{"scroll restore request failed", ContentError, CodeRequestFailure},
	}
	for _, tt := range tests {
		t.Run(tt.msg, func(t *testing.T) {
			assert.Equal(t, tt.want, Classify(tt.msg, tt.hint).Code)
		})
	}

	parse := Classify("JSON parse error", "")
	assert.False(t, parse.Recoverable)
	assert.Equal(t, ContentError, parse.Type)
	assert.Equal(t, monitoring.SeverityHigh, parse.Severity)

	unknown := Classify("something odd", InteractionError)
	assert.Equal(t, InteractionError, unknown.Type)
	assert.Equal(t, StrategySkip, unknown.Strategy)
}

func TestTaxonomyDeclarations(t *testing.T) {
	tests := []struct {
		code        ErrorCode
		recoverable bool
		strategy    Strategy
	}{
		{CodeFrameRateDrop, false, StrategyFallback},
		{CodeLoadTimeExceeded, true, StrategySkip},
		{CodeMemoryExceeded, false, StrategyFallback},
		{CodeWebVitalsFailure, true, StrategySkip},
		{CodeScrollCoordination, true, StrategyRetry},
		{CodeTransitionFailure, true, StrategyRetry},
		{CodeKeyboardNavigation, false, StrategyFallback},
		{CodeTouchGesture, true, StrategySkip},
		{CodeSectionLoad, true, StrategyRetry},
		{CodeImageLoad, true, StrategyRetry},
		{CodeRequestFailure, true, StrategyRetry},
		{CodeParseFailure, false, StrategyFallback},
	}
	require.Len(t, rules, len(tests))
	for _, tt := range tests {
		t.Run(string(tt.code), func(t *testing.T) {
			cls, ok := Lookup(tt.code)
			require.True(t, ok)
			assert.Equal(t, tt.recoverable, cls.Recoverable)
			assert.Equal(t, tt.strategy, cls.Strategy)
			// only non-recoverable codes go straight to fallback
			assert.Equal(t, !cls.Recoverable, cls.Strategy == StrategyFallback)
		})
	}
}

func TestFirstOccurrenceFollowsDeclaration(t *testing.T) {
	m, _, _ := newTestManager(t)
	retry := func() error { return nil }

	for _, tt := range []struct {
		msg  string
		want Strategy
	}{
		{"image failed to decode", StrategyRetry},
		{"scroll handler threw", StrategyRetry},
		{"memory exceeded", StrategyFallback},
		{"focus trap lost", StrategyFallback},
		{"pinch gesture failed", StrategySkip},
	} {
		rec, err := m.HandleError(Report{Message: tt.msg, Retry: retry})
		require.NoError(t, err)
		assert.Equal(t, tt.want, rec.Strategy, tt.msg)
		assert.Equal(t, tt.want != StrategyFallback, rec.Recoverable, tt.msg)
	}
}

func TestFourthSectionLoadFailureFallsBack(t *testing.T) {
	m, _, sink := newTestManager(t)

	for i := 0; i < 4; i++ {
		_, err := m.HandleError(sectionLoad("gallery"))
		require.NoError(t, err)
	}

	hist := m.History()
	assert.Equal(t, []Strategy{StrategyRetry, StrategyRetry, StrategyRetry, StrategyFallback}, strategies(hist))
	assert.Equal(t, 3, hist[3].Attempt)
	assert.Equal(t, CodeSectionLoad, hist[3].Code)
	assert.NotEmpty(t, hist[3].ID)

	st := sink.State()
	assert.True(t, st.ReducedMotion)
	assert.False(t, st.FallbackMode)
	assert.Equal(t, []string{"gallery"}, st.DegradedSections)

	status := m.Status()
	assert.Equal(t, StateFallback, status.Keys[errorKey(CodeSectionLoad, "gallery")])

	// another section has its own budget
	rec, err := m.HandleError(sectionLoad("about"))
	require.NoError(t, err)
	assert.Equal(t, StrategyRetry, rec.Strategy)
}

func TestRetryRunsAfterDelay(t *testing.T) {
	m, loop, _ := newTestManager(t)

	calls := 0
	r := sectionLoad("hero")
	r.Retry = func() error {
		calls++
		return errors.New("section load failed again")
	}
	_, err := m.HandleError(r)
	require.NoError(t, err)
	assert.Equal(t, 1, m.Status().PendingRetries)

	loop.Advance(999 * time.Millisecond)
	assert.Equal(t, 0, calls)

	loop.Advance(3 * time.Second)
	assert.Equal(t, 3, calls)
	assert.Equal(t, []Strategy{StrategyRetry, StrategyRetry, StrategyRetry, StrategyFallback}, strategies(m.History()))
	assert.Equal(t, 0, m.Status().PendingRetries)
}

func TestSuccessfulRetryResetsBudget(t *testing.T) {
	m, loop, _ := newTestManager(t)

	attempts := 0
	err := m.Guard("hero", func() error {
		attempts++
		if attempts < 3 {
			return errors.New("section load failed")
		}
		return nil
	})
	require.Error(t, err)

	loop.Advance(5 * time.Second)
	assert.Equal(t, 3, attempts)
	assert.Empty(t, m.Status().Keys)

	// the budget starts over
	rec, err := m.HandleError(sectionLoad("hero"))
	require.NoError(t, err)
	assert.Equal(t, 1, rec.Attempt)
}

func TestRetryWindowExpires(t *testing.T) {
	m, loop, _ := newTestManager(t)

	for i := 0; i < 3; i++ {
		_, err := m.HandleError(sectionLoad("gallery"))
		require.NoError(t, err)
	}
	loop.Advance(DefaultConfig().RetryWindow + time.Second)

	rec, err := m.HandleError(sectionLoad("gallery"))
	require.NoError(t, err)
	assert.Equal(t, StrategyRetry, rec.Strategy)
	assert.Equal(t, 1, rec.Attempt)
}

func TestNonRecoverableSkipsRetry(t *testing.T) {
	m, _, sink := newTestManager(t)

	rec, err := m.HandleError(Report{Message: "JSON parse error: unexpected end of input", Section: "projects"})
	require.NoError(t, err)
	assert.Equal(t, StrategyFallback, rec.Strategy)
	assert.False(t, rec.Recoverable)
	assert.Equal(t, []string{"projects"}, sink.State().DegradedSections)
}

func TestSkipLeavesStateAlone(t *testing.T) {
	m, _, sink := newTestManager(t)

	for _, msg := range []string{"swipe gesture failed", "no idea what happened"} {
		rec, err := m.HandleError(Report{Message: msg})
		require.NoError(t, err)
		assert.Equal(t, StrategySkip, rec.Strategy)
	}
	assert.Equal(t, SinkState{DegradedSections: []string{}}, sink.State())
	assert.Empty(t, m.Status().Keys)
}

func TestFallbackEscalatesToReload(t *testing.T) {
	m, loop, sink := newTestManager(t)

	for i := 0; i < 7; i++ {
		_, err := m.HandleError(sectionLoad("gallery"))
		require.NoError(t, err)
	}
	assert.Equal(t, []Strategy{
		StrategyRetry, StrategyRetry, StrategyRetry,
		StrategyFallback, StrategyFallback, StrategyFallback,
		StrategyReload,
	}, strategies(m.History()))

	assert.True(t, m.Status().PendingReload)
	loop.Advance(DefaultConfig().ReloadGrace - time.Millisecond)
	assert.Equal(t, 0, sink.State().Reloads)

	loop.Advance(time.Millisecond)
	assert.Equal(t, 1, sink.State().Reloads)
	assert.False(t, m.Status().PendingReload)
	assert.Empty(t, m.Status().Keys)
}

type brokenSink struct {
	*StateSink
}

func (brokenSink) DegradeSection(string) error {
	panic("section renderer gone")
}

func TestFailingActionDegradesGlobally(t *testing.T) {
	sink := brokenSink{NewStateSink()}
	loop := eventloop.NewManual(epoch, eventloop.DefaultFrameInterval)
	m, err := NewManager(loop, DefaultConfig(), WithSink(sink))
	require.NoError(t, err)

	rec, err := m.HandleError(Report{Message: "JSON parse error", Section: "about"})
	require.NoError(t, err)
	assert.Equal(t, StrategyFallback, rec.Strategy)

	st := sink.State()
	assert.True(t, st.ReducedMotion)
	assert.True(t, st.FallbackMode)
	assert.True(t, st.HighContrast)
	assert.True(t, m.Status().HighContrast)
}

type failingReloader struct{}

func (failingReloader) Reload() error { return errors.New("navigation blocked") }

func TestFailedReloadDegradesGlobally(t *testing.T) {
	m, loop, sink := newTestManager(t, WithReloader(failingReloader{}))

	for i := 0; i < 7; i++ {
		_, err := m.HandleError(sectionLoad("gallery"))
		require.NoError(t, err)
	}
	loop.Advance(DefaultConfig().ReloadGrace)

	st := sink.State()
	assert.Equal(t, 0, st.Reloads)
	assert.True(t, st.HighContrast)
	assert.True(t, st.FallbackMode)
}

func TestRecover(t *testing.T) {
	m, _, sink := newTestManager(t)

	for i := 0; i < 4; i++ {
		_, err := m.HandleError(sectionLoad("gallery"))
		require.NoError(t, err)
	}
	_, err := m.HandleError(Report{Message: "JSON parse error", Section: "about"})
	require.NoError(t, err)
	assert.Equal(t, []string{"about", "gallery"}, sink.State().DegradedSections)

	require.NoError(t, m.Recover("gallery"))
	assert.Equal(t, []string{"about"}, sink.State().DegradedSections)
	assert.True(t, sink.State().ReducedMotion)

	require.NoError(t, m.Recover("about"))
	assert.False(t, sink.State().ReducedMotion)
	assert.Empty(t, m.Status().Keys)

	// the retry budget starts over after recovery
	rec, err := m.HandleError(sectionLoad("gallery"))
	require.NoError(t, err)
	assert.Equal(t, StrategyRetry, rec.Strategy)
}

func TestRecoverAll(t *testing.T) {
	m, loop, sink := newTestManager(t)

	for i := 0; i < 7; i++ {
		_, err := m.HandleError(sectionLoad("gallery"))
		require.NoError(t, err)
	}
	_, err := m.HandleError(Report{Message: "heap limit reached"})
	require.NoError(t, err)
	require.True(t, sink.State().FallbackMode)

	require.NoError(t, m.RecoverAll())
	loop.Advance(time.Minute)

	assert.Equal(t, SinkState{DegradedSections: []string{}}, sink.State())
	st := m.Status()
	assert.False(t, st.PendingReload)
	assert.False(t, st.ReducedMotion)
	assert.Equal(t, 8, st.Handled)
}

func TestWatchAlerts(t *testing.T) {
	m, _, sink := newTestManager(t)
	loop := eventloop.NewManual(epoch, eventloop.DefaultFrameInterval)
	svc, err := monitoring.NewService(loop, monitoring.DefaultConfig())
	require.NoError(t, err)
	defer svc.Close()

	stop := m.WatchAlerts(svc)

	// high, not critical
	require.NoError(t, svc.Ingest(monitoring.PerformanceSample{Timestamp: epoch, FPS: 60, FrameTimeMs: 16.7, MemoryPercent: 90}))
	assert.Empty(t, m.History())

	require.NoError(t, svc.Ingest(monitoring.PerformanceSample{Timestamp: epoch.Add(time.Second), FPS: 60, FrameTimeMs: 16.7, MemoryPercent: 97}))
	hist := m.History()
	require.Len(t, hist, 1)
	assert.Equal(t, PerformanceError, hist[0].Type)
	assert.Equal(t, CodeMemoryExceeded, hist[0].Code)
	assert.Equal(t, StrategyFallback, hist[0].Strategy)
	assert.True(t, sink.State().FallbackMode)

	stop()
	assert.False(t, svc.Unsubscribe(WatchObserverID))
}

func TestSustainedLowFrameRateNeverReloads(t *testing.T) {
	m, loop, sink := newTestManager(t)
	svc, err := monitoring.NewService(loop, monitoring.DefaultConfig())
	require.NoError(t, err)
	defer svc.Close()
	defer m.WatchAlerts(svc)()

	for i := 0; i < 240; i++ {
		loop.Advance(250 * time.Millisecond)
		require.NoError(t, svc.Ingest(monitoring.PerformanceSample{
			Timestamp:   loop.Now(),
			FPS:         15,
			FrameTimeMs: 1000.0 / 15,
		}))
	}
	loop.Advance(DefaultConfig().ReloadGrace)

	hist := m.History()
	require.Greater(t, len(hist), DefaultConfig().ReloadAfterFallbackErrors+1)
	for _, rec := range hist {
		assert.Equal(t, CodeFrameRateDrop, rec.Code)
		assert.Equal(t, StrategyFallback, rec.Strategy)
	}
	assert.Equal(t, 0, sink.State().Reloads)
	assert.False(t, m.Status().PendingReload)
	assert.True(t, sink.State().FallbackMode)
}

func TestOnRecoveryListeners(t *testing.T) {
	m, _, _ := newTestManager(t)

	var got []ErrorCode
	m.OnRecovery(func(ErrorRecord) { panic("listener bug") })
	cancel := m.OnRecovery(func(r ErrorRecord) { got = append(got, r.Code) })

	_, err := m.HandleError(Report{Message: "image failed to decode"})
	require.NoError(t, err)
	cancel()
	_, err = m.HandleError(Report{Message: "image failed to decode"})
	require.NoError(t, err)

	assert.Equal(t, []ErrorCode{CodeImageLoad}, got)
}

func TestHistoryIsBounded(t *testing.T) {
	m, _, _ := newTestManager(t)

	for i := 0; i < 60; i++ {
		_, err := m.HandleError(Report{Message: "touch gesture failed"})
		require.NoError(t, err)
	}
	assert.Len(t, m.History(), DefaultConfig().HistorySize)
}

func TestGuardConvertsPanics(t *testing.T) {
	m, _, _ := newTestManager(t)

	err := m.Guard("contact", func() error { panic("scroll listener exploded") })
	require.ErrorIs(t, err, ErrPanic)

	hist := m.History()
	require.Len(t, hist, 1)
	assert.Equal(t, CodeScrollCoordination, hist[0].Code)
	assert.Equal(t, "contact", hist[0].Section)

	assert.NoError(t, m.Guard("contact", func() error { return nil }))
}

func TestClosedManager(t *testing.T) {
	m, _, _ := newTestManager(t)
	require.NoError(t, m.Close())

	_, err := m.HandleError(sectionLoad("gallery"))
	assert.ErrorIs(t, err, ErrManagerClosed)
}

func TestConfigValidate(t *testing.T) {
	require.NoError(t, DefaultConfig().Validate())

	cfg := DefaultConfig()
	cfg.HistorySize = 0
	cfg.RetryWindow = 0
	assert.ErrorIs(t, cfg.Validate(), ErrInvalidConfiguration)

	_, err := NewManager(eventloop.NewManual(epoch, 0), cfg)
	assert.ErrorIs(t, err, ErrInvalidConfiguration)
}
