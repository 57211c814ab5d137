package recovery

import "time"

// State is the recovery stage of one error key.
type State int

const (
	// StateRetrying - failures are retried while the budget lasts
	StateRetrying State = iota
	// StateFallback - retries are exhausted and the key is degraded until recovered
	StateFallback
	// StateReload - failures kept coming in fallback and a reload was chosen
	StateReload
)

func (s State) String() string {
	switch s {
	case StateRetrying:
		return "RETRYING"
	case StateFallback:
		return "FALLBACK"
	case StateReload:
		return "RELOAD"
	default:
		return "UNKNOWN"
	}
}

// Counts holds the failure tallies of one key.
type Counts struct {
	Failures         uint32 `json:"failures"`
	Retries          uint32 `json:"retries"`
	FallbackFailures uint32 `json:"fallback_failures"`
}

// budget tracks one error key. While retrying, counts are cleared once the
// window that began with the first failure has passed.
type budget struct {
	state  State
	counts Counts
	expiry time.Time
}

// failure records one failure and picks its strategy. Without escalate a
// key in fallback stays in fallback.
func (b *budget) failure(now time.Time, cls Classification, cfg Config, escalate bool) Strategy {
	if b.state == StateRetrying && !b.expiry.IsZero() && now.After(b.expiry) {
		b.counts = Counts{}
		b.expiry = time.Time{}
	}
	if b.expiry.IsZero() {
		b.expiry = now.Add(cfg.RetryWindow)
	}
	b.counts.Failures++

	switch b.state {
	case StateRetrying:
		if cls.Recoverable && cls.Strategy == StrategyRetry && int(b.counts.Retries) < cfg.MaxRetries {
			b.counts.Retries++
			return StrategyRetry
		}
		b.state = StateFallback
		return StrategyFallback
	case StateFallback:
		if !escalate {
			return StrategyFallback
		}
		b.counts.FallbackFailures++
		if cfg.ReloadAfterFallbackErrors > 0 && int(b.counts.FallbackFailures) >= cfg.ReloadAfterFallbackErrors {
			b.state = StateReload
			return StrategyReload
		}
		return StrategyFallback
	default:
		return StrategyReload
	}
}

// success clears a retrying key. Keys in fallback stay until recovered.
func (b *budget) success() bool {
	if b.state != StateRetrying {
		return false
	}
	b.counts = Counts{}
	b.expiry = time.Time{}
	return true
}
