package monitoring

import "sync"

// Binding is a UI-layer attachment to a Service: Attach on mount, Detach on
// teardown. Only the callback channels enabled in its options are wired.
type Binding struct {
	svc        *Service
	id         string
	detachOnce sync.Once
}

// Attach subscribes handlers to svc under opts. Channels disabled in opts
// are dropped from handlers before registration. With AutoStart the service
// is started if it is not running yet.
func Attach(svc *Service, opts ObserverOptions, handlers Observer) (*Binding, error) {
	o := Observer{ID: opts.ObserverID}
	if o.ID == "" {
		o.ID = handlers.ID
	}
	if opts.EnableMetricsUpdates {
		o.OnMetricsUpdate = handlers.OnMetricsUpdate
	}
	if opts.EnableAlerts {
		o.OnDegradationAlert = handlers.OnDegradationAlert
	}
	if opts.EnableQualityUpdates {
		o.OnQualityChange = handlers.OnQualityChange
	}
	if opts.EnableOptimizationUpdates {
		o.OnOptimizationApplied = handlers.OnOptimizationApplied
	}

	b := &Binding{svc: svc}
	b.id = svc.Subscribe(o)

	if opts.AutoStart {
		if err := svc.StartMonitoring(); err != nil {
			svc.Unsubscribe(b.id)
			return nil, err
		}
	}
	return b, nil
}

// ID returns the observer id the binding is registered under.
func (b *Binding) ID() string {
	return b.id
}

// Detach unsubscribes the binding. Monitoring keeps running for other
// subscribers. Safe to call more than once.
func (b *Binding) Detach() {
	b.detachOnce.Do(func() {
		b.svc.Unsubscribe(b.id)
	})
}
