package monitoring

import (
	"fmt"
	"time"

	"github.com/nino-chavez/perfgov/internal/ringbuf"
)

// QualityProfile lists the presentation features enabled at a quality level.
type QualityProfile struct {
	Animations               bool    `json:"animations"`
	ParticleScale            float64 `json:"particle_scale"`
	Shadows                  bool    `json:"shadows"`
	Blur                     bool    `json:"blur"`
	MaxConcurrentTransitions int     `json:"max_concurrent_transitions"`
	TargetFPS                int     `json:"target_fps"`
}

var qualityProfiles = [...]QualityProfile{
	QualityHighest: {Animations: true, ParticleScale: 1, Shadows: true, Blur: true, MaxConcurrentTransitions: 8, TargetFPS: 60},
	QualityHigh:    {Animations: true, ParticleScale: 0.75, Shadows: true, Blur: false, MaxConcurrentTransitions: 6, TargetFPS: 60},
	QualityMedium:  {Animations: true, ParticleScale: 0.5, Shadows: false, Blur: false, MaxConcurrentTransitions: 4, TargetFPS: 45},
	QualityLow:     {Animations: true, ParticleScale: 0.25, Shadows: false, Blur: false, MaxConcurrentTransitions: 2, TargetFPS: 30},
	QualityMinimal: {Animations: false, ParticleScale: 0, Shadows: false, Blur: false, MaxConcurrentTransitions: 1, TargetFPS: 30},
}

// ProfileFor returns the feature profile of level. Unknown levels get the
// minimal profile.
func ProfileFor(level QualityLevel) QualityProfile {
	if !level.Valid() {
		return qualityProfiles[QualityMinimal]
	}
	return qualityProfiles[level]
}

// Actions describes how p differs from the full-quality profile.
func (p QualityProfile) Actions() []string {
	full := qualityProfiles[QualityHighest]
	var actions []string
	if !p.Blur && full.Blur {
		actions = append(actions, "disable-blur")
	}
	if !p.Shadows && full.Shadows {
		actions = append(actions, "disable-shadows")
	}
	if p.ParticleScale < full.ParticleScale {
		actions = append(actions, fmt.Sprintf("scale-particles:%.2f", p.ParticleScale))
	}
	if p.MaxConcurrentTransitions < full.MaxConcurrentTransitions {
		actions = append(actions, fmt.Sprintf("limit-transitions:%d", p.MaxConcurrentTransitions))
	}
	if !p.Animations && full.Animations {
		actions = append(actions, "disable-animations")
	}
	if p.TargetFPS < full.TargetFPS {
		actions = append(actions, fmt.Sprintf("target-fps:%d", p.TargetFPS))
	}
	return actions
}

// QualityStatus is a point-in-time view of the quality state machine.
type QualityStatus struct {
	Level         QualityLevel    `json:"level"`
	Profile       QualityProfile  `json:"profile"`
	DegradedSince *time.Time      `json:"degraded_since,omitempty"`
	CleanSince    *time.Time      `json:"clean_since,omitempty"`
	LastChange    time.Time       `json:"last_change"`
	History       []QualityChange `json:"history"`
}

// QualityManager is the hysteretic quality state machine. A downgrade needs
// DowngradeDwell of continuous alerts, an upgrade the longer UpgradeRecovery
// of clean ticks, and at most one step is taken per window. Critical alerts
// collapse straight to QualityMinimal.
//
// QualityManager is not safe for concurrent use.
type QualityManager struct {
	cfg   QualityConfig
	level QualityLevel

	degradedSince time.Time
	cleanSince    time.Time
	lastChange    time.Time

	history *ringbuf.Ring[QualityChange]
}

// NewQualityManager creates a manager at QualityHighest.
func NewQualityManager(cfg QualityConfig, historySize int) *QualityManager {
	return &QualityManager{
		cfg:     cfg,
		level:   QualityHighest,
		history: ringbuf.New[QualityChange](historySize),
	}
}

func (q *QualityManager) Level() QualityLevel {
	return q.level
}

// Observe feeds the worst severity breached at now. It returns the committed
// transition, if any.
func (q *QualityManager) Observe(now time.Time, worst Severity) (QualityChange, bool) {
	if worst == SeverityNone {
		q.degradedSince = time.Time{}
		if q.cleanSince.IsZero() {
			q.cleanSince = now
		}
		if q.level == QualityHighest {
			return QualityChange{}, false
		}
		if now.Sub(q.cleanSince) < q.cfg.UpgradeRecovery || !q.elapsedSinceChange(now, q.cfg.UpgradeRecovery) {
			return QualityChange{}, false
		}
		q.cleanSince = now
		return q.commit(now, q.level-1, "metrics recovered", false), true
	}

	q.cleanSince = time.Time{}
	if q.degradedSince.IsZero() {
		q.degradedSince = now
	}

	// Critical collapse ignores the dwell spacing: a level committed a
	// moment ago still drops straight to minimal.
	if worst == SeverityCritical && q.cfg.CriticalCollapse {
		if q.level == QualityMinimal {
			return QualityChange{}, false
		}
		q.degradedSince = now
		return q.commit(now, QualityMinimal, "critical degradation", false), true
	}

	if q.level == QualityMinimal {
		return QualityChange{}, false
	}
	if now.Sub(q.degradedSince) < q.cfg.DowngradeDwell || !q.elapsedSinceChange(now, q.cfg.DowngradeDwell) {
		return QualityChange{}, false
	}
	q.degradedSince = now
	return q.commit(now, q.level+1, fmt.Sprintf("sustained %s degradation", worst), false), true
}

// Override sets level directly, bypassing hysteresis. Both windows restart.
func (q *QualityManager) Override(now time.Time, level QualityLevel, reason string) (QualityChange, bool, error) {
	if !level.Valid() {
		return QualityChange{}, false, fmt.Errorf("%w: %d", ErrInvalidQualityLevel, int(level))
	}
	q.degradedSince = time.Time{}
	q.cleanSince = time.Time{}
	if level == q.level {
		return QualityChange{}, false, nil
	}
	if reason == "" {
		reason = "manual override"
	}
	return q.commit(now, level, reason, true), true, nil
}

// Reset returns to QualityHighest and clears history. The transition, if
// there was one, is returned but not recorded.
func (q *QualityManager) Reset(now time.Time) (QualityChange, bool) {
	from := q.level
	q.level = QualityHighest
	q.degradedSince = time.Time{}
	q.cleanSince = time.Time{}
	q.lastChange = time.Time{}
	q.history.Reset()
	if from == QualityHighest {
		return QualityChange{}, false
	}
	return QualityChange{From: from, To: QualityHighest, Reason: "reset", Manual: true, Timestamp: now}, true
}

func (q *QualityManager) History() []QualityChange {
	return q.history.Snapshot()
}

func (q *QualityManager) Status() QualityStatus {
	st := QualityStatus{
		Level:      q.level,
		Profile:    ProfileFor(q.level),
		LastChange: q.lastChange,
		History:    q.History(),
	}
	if !q.degradedSince.IsZero() {
		t := q.degradedSince
		st.DegradedSince = &t
	}
	if !q.cleanSince.IsZero() {
		t := q.cleanSince
		st.CleanSince = &t
	}
	return st
}

func (q *QualityManager) elapsedSinceChange(now time.Time, d time.Duration) bool {
	return q.lastChange.IsZero() || now.Sub(q.lastChange) >= d
}

func (q *QualityManager) commit(now time.Time, to QualityLevel, reason string, manual bool) QualityChange {
	change := QualityChange{
		From:      q.level,
		To:        to,
		Reason:    reason,
		Manual:    manual,
		Timestamp: now,
	}
	q.level = to
	q.lastChange = now
	q.history.Push(change)
	return change
}
