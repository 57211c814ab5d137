package main

import (
	"fmt"
	"math"
	"slices"
	"strings"
	"time"

	"github.com/nino-chavez/perfgov/scroll"
)

// liveProfile samples real frames from the loop instead of a synthetic curve.
const liveProfile = "live"

// profile gives the frame rate to report at a point in the run.
type profile func(elapsed time.Duration) float64

var profiles = map[string]profile{
	"steady": func(time.Duration) float64 { return 60 },

	// falls linearly to 18 fps over 20s, then holds
	"degrade": func(el time.Duration) float64 {
		f := math.Min(el.Seconds()/20, 1)
		return 60 - 42*f
	},

	// 3s drops to 25 fps every 10s
	"spike": func(el time.Duration) float64 {
		if math.Mod(el.Seconds(), 10) >= 7 {
			return 25
		}
		return 60
	},

	// starts starved, then recovers after 8s
	"recover": func(el time.Duration) float64 {
		if el < 8*time.Second {
			return 18
		}
		return 60
	},

	// hovers around the medium threshold
	"oscillate": func(el time.Duration) float64 {
		return 45 + 5*math.Sin(2*math.Pi*el.Seconds()/4)
	},
}

func profileNames() string {
	names := make([]string, 0, len(profiles)+1)
	for name := range profiles {
		names = append(names, name)
	}
	names = append(names, liveProfile)
	slices.Sort(names)
	return strings.Join(names, ", ")
}

func lookupProfile(name string) (profile, error) {
	if name == liveProfile {
		return nil, nil
	}
	p, ok := profiles[name]
	if !ok {
		return nil, fmt.Errorf("unknown profile %q (want one of %s)", name, profileNames())
	}
	return p, nil
}

// zoomAt sweeps the canvas scale between 0.4 and 2.2 every 12s.
func zoomAt(el time.Duration) float64 {
	return 1.3 - 0.9*math.Cos(2*math.Pi*el.Seconds()/12)
}

// sectionAt cycles through the demo sections every 15s.
func sectionAt(el time.Duration) string {
	sections := []string{"hero", "gallery", "projects"}
	return sections[int(el.Seconds()/15)%len(sections)]
}

// sectionLayout stacks the demo sections vertically, one viewport each.
type sectionLayout map[string]scroll.Rect

func newSectionLayout(width, height float64) sectionLayout {
	l := sectionLayout{}
	for i, id := range []string{"hero", "gallery", "projects", "contact"} {
		l[id] = scroll.Rect{Y: float64(i) * height, Width: width, Height: height}
	}
	return l
}

func (l sectionLayout) Bounds(id string) (scroll.Rect, bool) {
	r, ok := l[id]
	return r, ok
}

type fixedViewport scroll.ViewportSize

func (v fixedViewport) Measure() (scroll.ViewportSize, error) {
	return scroll.ViewportSize(v), nil
}

// flinger produces a decelerating scroll every period, the way a touch
// fling would.
type flinger struct {
	period   time.Duration
	velocity float64
	decay    float64
	top      float64
	max      float64
	current  float64
	lastKick time.Duration
	started  bool
}

// step advances the fling to el and returns the new scroll offset and
// whether it moved.
func (f *flinger) step(el time.Duration) (float64, bool) {
	if !f.started || el-f.lastKick >= f.period {
		f.started = true
		f.lastKick = el
		f.current = f.velocity
		if f.top >= f.max {
			f.current = -f.velocity
		}
	}
	if math.Abs(f.current) < 1 {
		return f.top, false
	}
	f.top = math.Min(math.Max(f.top+f.current, 0), f.max)
	f.current *= f.decay
	return f.top, true
}
