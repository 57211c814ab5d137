package scroll

import (
	"time"

	"github.com/nino-chavez/perfgov/monitoring"
)

// Rect is an axis-aligned box in document coordinates.
type Rect struct {
	X      float64 `json:"x"`
	Y      float64 `json:"y"`
	Width  float64 `json:"width"`
	Height float64 `json:"height"`
}

func (r Rect) Empty() bool {
	return r.Width <= 0 || r.Height <= 0
}

// Intersect returns the overlap of r and o and whether they touch at all.
// Edge-adjacent boxes touch with an empty overlap.
func (r Rect) Intersect(o Rect) (Rect, bool) {
	x0 := max(r.X, o.X)
	y0 := max(r.Y, o.Y)
	x1 := min(r.X+r.Width, o.X+o.Width)
	y1 := min(r.Y+r.Height, o.Y+o.Height)
	if x1 < x0 || y1 < y0 {
		return Rect{}, false
	}
	return Rect{X: x0, Y: y0, Width: x1 - x0, Height: y1 - y0}, true
}

// ViewportSize is what a layout read yields.
type ViewportSize struct {
	Width  float64 `json:"width"`
	Height float64 `json:"height"`
}

// Viewport performs the (expensive) layout read of the viewport dimensions.
type Viewport interface {
	Measure() (ViewportSize, error)
}

// Layout resolves an element's bounds in document coordinates.
type Layout interface {
	Bounds(id string) (Rect, bool)
}

// QualitySource reports the committed quality level. *monitoring.Service
// satisfies it.
type QualitySource interface {
	QualityLevel() monitoring.QualityLevel
}

// ViewportCache is the cached viewport geometry.
type ViewportCache struct {
	Width      float64   `json:"width"`
	Height     float64   `json:"height"`
	ScrollTop  float64   `json:"scroll_top"`
	ScrollLeft float64   `json:"scroll_left"`
	LastUpdate time.Time `json:"last_update"`
	IsValid    bool      `json:"is_valid"`
}

// Rect returns the visible region in document coordinates.
func (v ViewportCache) Rect() Rect {
	return Rect{X: v.ScrollLeft, Y: v.ScrollTop, Width: v.Width, Height: v.Height}
}

// ScrollMomentum is derived from the recent scroll events. Velocity is in
// px/ms, acceleration in px/ms².
type ScrollMomentum struct {
	Velocity             float64 `json:"velocity"`
	Acceleration         float64 `json:"acceleration"`
	IsDecelerating       bool    `json:"is_decelerating"`
	IsMomentumScroll     bool    `json:"is_momentum_scroll"`
	PredictedEndPosition float64 `json:"predicted_end_position"`
}

// Visibility is the most recent visibility snapshot of one element.
type Visibility struct {
	ID             string    `json:"id"`
	Ratio          float64   `json:"ratio"`
	IsIntersecting bool      `json:"is_intersecting"`
	Threshold      float64   `json:"threshold"`
	Bounds         Rect      `json:"bounds"`
	Timestamp      time.Time `json:"timestamp"`
}
