package monitoring

import (
	"maps"
	"slices"
	"time"
)

// OperationCanvasRender is the operation name whose cost drives
// UnifiedMetrics.CanvasRenderFPS.
const OperationCanvasRender = "canvas-render"

// canvasSmoothing is the weight of the newest canvas-render duration in the
// moving average.
const canvasSmoothing = 0.2

// OperationStats aggregates the cost of one named operation.
type OperationStats struct {
	Name         string            `json:"name"`
	Count        int64             `json:"count"`
	Total        time.Duration     `json:"total"`
	Average      time.Duration     `json:"average"`
	Max          time.Duration     `json:"max"`
	Last         time.Duration     `json:"last"`
	LastSeen     time.Time         `json:"last_seen"`
	LastMetadata map[string]string `json:"last_metadata,omitempty"`
}

// operationLog records operation costs. It only feeds aggregates; quality
// decisions never read it.
type operationLog struct {
	budget time.Duration
	stats  map[string]*OperationStats

	canvasAvgMs float64
}

func newOperationLog(budget time.Duration) *operationLog {
	return &operationLog{
		budget: budget,
		stats:  make(map[string]*OperationStats),
	}
}

func (l *operationLog) record(now time.Time, name string, d time.Duration, metadata map[string]string) {
	if d < 0 {
		d = 0
	}
	st, ok := l.stats[name]
	if !ok {
		st = &OperationStats{Name: name}
		l.stats[name] = st
	}
	st.Count++
	st.Total += d
	st.Average = st.Total / time.Duration(st.Count)
	st.Last = d
	st.LastSeen = now
	if d > st.Max {
		st.Max = d
	}
	if metadata != nil {
		st.LastMetadata = maps.Clone(metadata)
	}

	if name == OperationCanvasRender {
		ms := float64(d) / float64(time.Millisecond)
		if l.canvasAvgMs == 0 {
			l.canvasAvgMs = ms
		} else {
			l.canvasAvgMs = canvasSmoothing*ms + (1-canvasSmoothing)*l.canvasAvgMs
		}
	}
}

// canvasFPS converts the smoothed canvas-render cost into a frame rate,
// capped at the frame budget's rate. ok is false until a render is tracked.
func (l *operationLog) canvasFPS() (float64, bool) {
	if l.canvasAvgMs == 0 {
		if st, ok := l.stats[OperationCanvasRender]; !ok || st.Count == 0 {
			return 0, false
		}
	}
	ceiling := float64(time.Second) / float64(l.budget)
	if l.canvasAvgMs <= 0 {
		return ceiling, true
	}
	fps := 1000 / l.canvasAvgMs
	if fps > ceiling {
		fps = ceiling
	}
	return fps, true
}

func (l *operationLog) snapshot() []OperationStats {
	names := make([]string, 0, len(l.stats))
	for name := range l.stats {
		names = append(names, name)
	}
	slices.Sort(names)
	out := make([]OperationStats, 0, len(names))
	for _, name := range names {
		st := *l.stats[name]
		st.LastMetadata = maps.Clone(st.LastMetadata)
		out = append(out, st)
	}
	return out
}

func (l *operationLog) reset() {
	clear(l.stats)
	l.canvasAvgMs = 0
}
