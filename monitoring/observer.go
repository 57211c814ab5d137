package monitoring

import (
	"fmt"
	"log/slog"
)

// Observer is a bundle of optional callbacks. The service invokes them
// synchronously from its tick, in subscription order. Every value handed to
// a callback is a copy the service never touches again.
type Observer struct {
	ID                    string
	OnMetricsUpdate       func(UnifiedMetrics)
	OnDegradationAlert    func(DegradationAlert)
	OnQualityChange       func(QualityChange)
	OnOptimizationApplied func(Optimization)
}

// registry keeps observers keyed by id while preserving subscription order.
type registry struct {
	order []string
	byID  map[string]Observer
}

func newRegistry() *registry {
	return &registry{byID: make(map[string]Observer)}
}

// add registers o, replacing and moving to the back any previous
// registration with the same id.
func (r *registry) add(o Observer) {
	if _, ok := r.byID[o.ID]; ok {
		r.removeOrder(o.ID)
	}
	r.byID[o.ID] = o
	r.order = append(r.order, o.ID)
}

func (r *registry) remove(id string) bool {
	if _, ok := r.byID[id]; !ok {
		return false
	}
	delete(r.byID, id)
	r.removeOrder(id)
	return true
}

func (r *registry) removeOrder(id string) {
	for i, existing := range r.order {
		if existing == id {
			r.order = append(r.order[:i], r.order[i+1:]...)
			return
		}
	}
}

func (r *registry) snapshot() []Observer {
	out := make([]Observer, 0, len(r.order))
	for _, id := range r.order {
		out = append(out, r.byID[id])
	}
	return out
}

func (r *registry) len() int {
	return len(r.order)
}

func (r *registry) clear() {
	r.order = nil
	clear(r.byID)
}

// tickEvents is everything one tick publishes, in delivery order.
type tickEvents struct {
	metrics      *UnifiedMetrics
	alerts       []DegradationAlert
	change       *QualityChange
	optimization *Optimization
}

// dispatch delivers ev to each observer in turn. A panicking callback is
// logged and skipped; the remaining observers still run.
func dispatch(logger *slog.Logger, observers []Observer, ev tickEvents) {
	if ev.metrics != nil {
		for _, o := range observers {
			if o.OnMetricsUpdate != nil {
				m := *ev.metrics
				safeCall(logger, o.ID, "metrics", func() { o.OnMetricsUpdate(m) })
			}
		}
	}
	for _, a := range ev.alerts {
		for _, o := range observers {
			if o.OnDegradationAlert != nil {
				alert := a
				safeCall(logger, o.ID, "alert", func() { o.OnDegradationAlert(alert) })
			}
		}
	}
	if ev.change != nil {
		for _, o := range observers {
			if o.OnQualityChange != nil {
				c := *ev.change
				safeCall(logger, o.ID, "quality", func() { o.OnQualityChange(c) })
			}
		}
	}
	if ev.optimization != nil {
		for _, o := range observers {
			if o.OnOptimizationApplied != nil {
				opt := *ev.optimization
				opt.Actions = append([]string(nil), ev.optimization.Actions...)
				safeCall(logger, o.ID, "optimization", func() { o.OnOptimizationApplied(opt) })
			}
		}
	}
}

func safeCall(logger *slog.Logger, observerID, channel string, fn func()) {
	defer func() {
		if r := recover(); r != nil {
			logger.Error("observer callback panicked",
				slog.String("observer", observerID),
				slog.String("channel", channel),
				slog.String("panic", fmt.Sprint(r)),
			)
		}
	}()
	fn()
}
