package rodsink

import (
	"testing"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/launcher"
	"github.com/go-rod/rod/lib/proto"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nino-chavez/perfgov/monitoring"
)

const fixture = `<html><body>
<section data-section="hero">hero</section>
<section data-section="gallery">gallery</section>
</body></html>`

// newTestPage starts a headless browser, skipping when none is installed.
func newTestPage(t *testing.T) *rod.Page {
	t.Helper()
	if testing.Short() {
		t.Skip("browser tests skipped in short mode")
	}
	bin, ok := launcher.LookPath()
	if !ok {
		t.Skip("no local chrome")
	}

	l := launcher.New().Bin(bin).Headless(true)
	u, err := l.Launch()
	require.NoError(t, err)
	t.Cleanup(l.Cleanup)

	b := rod.New().ControlURL(u)
	require.NoError(t, b.Connect())
	t.Cleanup(func() { b.Close() })

	page, err := b.Page(proto.TargetCreateTarget{})
	require.NoError(t, err)
	require.NoError(t, page.SetDocumentContent(fixture))
	return page
}

func hasClass(t *testing.T, page *rod.Page, class string) bool {
	t.Helper()
	res, err := page.Eval(`c => document.documentElement.classList.contains(c)`, class)
	require.NoError(t, err)
	return res.Value.Bool()
}

func TestSinkTogglesModes(t *testing.T) {
	page := newTestPage(t)
	s := New(page, 0)

	require.NoError(t, s.ApplyReducedMotion())
	require.NoError(t, s.ApplyHighContrast())
	assert.True(t, hasClass(t, page, ClassReducedMotion))
	assert.True(t, hasClass(t, page, ClassHighContrast))
	assert.False(t, hasClass(t, page, ClassFallback))

	require.NoError(t, s.RemoveReducedMotion())
	require.NoError(t, s.RemoveReducedMotion())
	assert.False(t, hasClass(t, page, ClassReducedMotion))
}

func TestSinkMarksSections(t *testing.T) {
	page := newTestPage(t)
	s := New(page, 0)

	require.NoError(t, s.DegradeSection("gallery"))
	// unknown sections are logged, not failed
	require.NoError(t, s.DegradeSection("contact"))

	res, err := page.Eval(`() => document.querySelectorAll('[data-perfgov-degraded]').length`)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Value.Int())

	require.NoError(t, s.RestoreSection("gallery"))
	res, err = page.Eval(`() => document.querySelectorAll('[data-perfgov-degraded]').length`)
	require.NoError(t, err)
	assert.Equal(t, 0, res.Value.Int())
}

func TestSinkReadsHeap(t *testing.T) {
	page := newTestPage(t)
	s := New(page, 0)

	r, err := s.ReadMemory()
	if err != nil {
		assert.ErrorIs(t, err, monitoring.ErrProbeUnsupported)
		return
	}
	assert.Positive(t, r.UsedBytes)
	assert.GreaterOrEqual(t, r.LimitBytes, r.UsedBytes)
}
