// Package rodsink applies degraded modes to a live browser page driven
// through go-rod, and reads the page's JS heap for the memory sampler.
//
// Degraded modes are expressed as classes on the document element
// (perfgov-reduced-motion, perfgov-fallback, perfgov-high-contrast) and as a
// data-perfgov-degraded attribute on [data-section] elements; the page's
// stylesheet decides what they look like.
package rodsink

import (
	"context"
	"fmt"
	"time"

	"github.com/go-rod/rod"
	logging "github.com/ipfs/go-log/v2"

	"github.com/nino-chavez/perfgov/monitoring"
	"github.com/nino-chavez/perfgov/recovery"
)

var log = logging.Logger("perfgov/rodsink")

// DefaultTimeout bounds every evaluation against the page.
const DefaultTimeout = 5 * time.Second

const (
	ClassReducedMotion = "perfgov-reduced-motion"
	ClassFallback      = "perfgov-fallback"
	ClassHighContrast  = "perfgov-high-contrast"
)

const toggleClassJS = `(name, on) => {
	document.documentElement.classList.toggle(name, on);
	return document.documentElement.classList.contains(name);
}`

const markSectionJS = `(section, on) => {
	const els = document.querySelectorAll('[data-section="' + CSS.escape(section) + '"]');
	els.forEach(el => on ? el.setAttribute('data-perfgov-degraded', '') : el.removeAttribute('data-perfgov-degraded'));
	return els.length;
}`

const heapJS = `() => {
	const m = performance.memory;
	if (!m) {
		return { used: -1, limit: 0 };
	}
	return { used: m.usedJSHeapSize, limit: m.jsHeapSizeLimit };
}`

// Sink drives a rod page. It implements recovery.DegradationSink,
// recovery.SectionSink, recovery.Reloader and monitoring.MemoryProbe.
type Sink struct {
	page    *rod.Page
	timeout time.Duration
}

var (
	_ recovery.DegradationSink = (*Sink)(nil)
	_ recovery.SectionSink     = (*Sink)(nil)
	_ recovery.Reloader        = (*Sink)(nil)
	_ monitoring.MemoryProbe   = (*Sink)(nil)
)

// New wraps page. A non-positive timeout uses DefaultTimeout.
func New(page *rod.Page, timeout time.Duration) *Sink {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &Sink{page: page, timeout: timeout}
}

func (s *Sink) bounded() (*rod.Page, context.CancelFunc) {
	ctx, cancel := context.WithTimeout(context.Background(), s.timeout)
	return s.page.Context(ctx), cancel
}

func (s *Sink) toggle(class string, on bool) error {
	page, cancel := s.bounded()
	defer cancel()

	if _, err := page.Eval(toggleClassJS, class, on); err != nil {
		return fmt.Errorf("rodsink: toggle %s: %w", class, err)
	}
	log.Debugf("%s set to %t", class, on)
	return nil
}

func (s *Sink) ApplyReducedMotion() error {
	return s.toggle(ClassReducedMotion, true)
}

func (s *Sink) RemoveReducedMotion() error {
	return s.toggle(ClassReducedMotion, false)
}

func (s *Sink) ApplyFallbackMode() error {
	return s.toggle(ClassFallback, true)
}

func (s *Sink) RemoveFallbackMode() error {
	return s.toggle(ClassFallback, false)
}

func (s *Sink) ApplyHighContrast() error {
	return s.toggle(ClassHighContrast, true)
}

func (s *Sink) RemoveHighContrast() error {
	return s.toggle(ClassHighContrast, false)
}

func (s *Sink) markSection(section string, on bool) error {
	page, cancel := s.bounded()
	defer cancel()

	res, err := page.Eval(markSectionJS, section, on)
	if err != nil {
		return fmt.Errorf("rodsink: mark section %q: %w", section, err)
	}
	if res.Value.Int() == 0 {
		log.Warnf("no element for section %q", section)
	}
	return nil
}

func (s *Sink) DegradeSection(section string) error {
	return s.markSection(section, true)
}

func (s *Sink) RestoreSection(section string) error {
	return s.markSection(section, false)
}

// Reload reloads the page and waits for it to load.
func (s *Sink) Reload() error {
	ctx, cancel := context.WithTimeout(context.Background(), 6*s.timeout)
	defer cancel()

	page := s.page.Context(ctx)
	if err := page.Reload(); err != nil {
		return fmt.Errorf("rodsink: reload: %w", err)
	}
	if err := page.WaitLoad(); err != nil {
		log.Warnf("reload wait: %s", err)
	}
	return nil
}

// ReadMemory reports the page's JS heap. Browsers without
// performance.memory yield monitoring.ErrProbeUnsupported.
func (s *Sink) ReadMemory() (monitoring.MemoryReading, error) {
	page, cancel := s.bounded()
	defer cancel()

	res, err := page.Eval(heapJS)
	if err != nil {
		return monitoring.MemoryReading{}, fmt.Errorf("rodsink: read heap: %w", err)
	}
	used := res.Value.Get("used").Num()
	if used < 0 {
		return monitoring.MemoryReading{}, monitoring.ErrProbeUnsupported
	}
	return monitoring.MemoryReading{
		UsedBytes:  uint64(used),
		LimitBytes: uint64(res.Value.Get("limit").Num()),
	}, nil
}
