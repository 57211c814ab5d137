package scroll

import (
	"slices"
	"time"
)

type trackedElement struct {
	vis       Visibility
	bucket    int
	evaluated bool
}

// visibilityTracker is the single tracker shared by every registered
// element. An element is reported when it is first evaluated and afterwards
// only when its ratio crosses one of the thresholds.
type visibilityTracker struct {
	thresholds []float64
	elements   map[string]*trackedElement
}

func newVisibilityTracker(thresholds []float64) *visibilityTracker {
	return &visibilityTracker{
		thresholds: slices.Clone(thresholds),
		elements:   make(map[string]*trackedElement),
	}
}

func (t *visibilityTracker) observe(id string) {
	if _, ok := t.elements[id]; ok {
		return
	}
	t.elements[id] = &trackedElement{vis: Visibility{ID: id}}
}

func (t *visibilityTracker) unobserve(id string) bool {
	if _, ok := t.elements[id]; !ok {
		return false
	}
	delete(t.elements, id)
	return true
}

func (t *visibilityTracker) get(id string) (Visibility, bool) {
	el, ok := t.elements[id]
	if !ok {
		return Visibility{}, false
	}
	return el.vis, true
}

func (t *visibilityTracker) len() int {
	return len(t.elements)
}

// evaluate recomputes every element against viewport and returns the
// entries whose threshold bucket changed, in id order.
func (t *visibilityTracker) evaluate(viewport Rect, layout Layout, now time.Time) []Visibility {
	ids := make([]string, 0, len(t.elements))
	for id := range t.elements {
		ids = append(ids, id)
	}
	slices.Sort(ids)

	var changed []Visibility
	for _, id := range ids {
		el := t.elements[id]
		bounds, ok := layout.Bounds(id)
		if !ok {
			continue
		}

		ratio, intersecting := visibleRatio(bounds, viewport)
		bucket := t.bucket(ratio, intersecting)
		el.vis.Bounds = bounds

		if el.evaluated && bucket == el.bucket {
			continue
		}
		el.evaluated = true
		el.bucket = bucket
		el.vis.Ratio = ratio
		el.vis.IsIntersecting = intersecting
		el.vis.Threshold = t.crossed(bucket)
		el.vis.Timestamp = now
		changed = append(changed, el.vis)
	}
	return changed
}

// bucket counts the thresholds ratio has reached. Threshold 0 is reached by
// any intersection, including edge contact.
func (t *visibilityTracker) bucket(ratio float64, intersecting bool) int {
	n := 0
	for _, th := range t.thresholds {
		if th == 0 {
			if intersecting {
				n++
			}
			continue
		}
		if ratio >= th {
			n++
		}
	}
	return n
}

func (t *visibilityTracker) crossed(bucket int) float64 {
	if bucket == 0 {
		return 0
	}
	return t.thresholds[bucket-1]
}

func visibleRatio(el, viewport Rect) (float64, bool) {
	overlap, ok := el.Intersect(viewport)
	if !ok {
		return 0, false
	}
	if el.Empty() {
		return 1, true
	}
	return (overlap.Width * overlap.Height) / (el.Width * el.Height), true
}
