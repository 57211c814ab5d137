// Package scroll coordinates scroll-driven work on the event loop.
//
// A Coordinator keeps a cached viewport, derives velocity, acceleration and
// momentum from scroll events, predicts where an inertial scroll will come
// to rest, and tracks element visibility through one shared tracker that
// reports only when an element crosses one of its visibility thresholds.
//
// Work that is not time critical can be handed to
// RequestOptimizedAnimationFrame, which runs it on the next frame when the
// page is healthy and postpones it by a priority-scaled delay while the
// quality level is degraded or a momentum scroll is in flight:
//
//	req := coord.RequestOptimizedAnimationFrame(func(ts time.Time) {
//		// update parallax layers
//	}, scroll.NormalPriority)
//	defer req.Cancel()
package scroll
