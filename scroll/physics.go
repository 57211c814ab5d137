package scroll

import (
	"math"
	"time"
)

// maxPredictionSteps bounds PredictDisplacement for pathological inputs.
const maxPredictionSteps = 100000

// PredictDisplacement sums v·d^n for n = 0, 1, ... while the per-frame
// velocity stays at or above eps in magnitude. For 0 < d < 1 this is the
// partial geometric series v·(1-d^N)/(1-d).
func PredictDisplacement(v, decel, eps float64) float64 {
	if decel <= 0 || decel >= 1 || eps <= 0 || math.IsNaN(v) || math.IsInf(v, 0) {
		return 0
	}

	var total float64
	for i := 0; i < maxPredictionSteps && math.Abs(v) >= eps; i++ {
		total += v
		v *= decel
	}
	return total
}

type scrollEvent struct {
	top, left float64
	at        time.Time
}

// perFrame converts a px/ms velocity into px per frame.
func perFrame(vms float64, frame time.Duration) float64 {
	return vms * float64(frame) / float64(time.Millisecond)
}

func durationMs(d time.Duration) float64 {
	return float64(d) / float64(time.Millisecond)
}

func sameSign(a, b float64) bool {
	return (a > 0 && b > 0) || (a < 0 && b < 0)
}
