package monitoring

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

type failingGPU struct{}

func (failingGPU) GPUUtilization(FrameTiming) (float64, error) {
	return 0, errors.New("driver gone")
}

func TestSamplerFrameTiming(t *testing.T) {
	budget := 20 * time.Millisecond
	s := NewSampler(budget, nil, nil, nil)

	first := s.Sample(epoch)
	assert.InDelta(t, 50.0, first.FPS, 1e-9)
	assert.InDelta(t, 20.0, first.FrameTimeMs, 1e-9)
	assert.Zero(t, first.DroppedFrameCount)

	slow := s.Sample(epoch.Add(70 * time.Millisecond))
	assert.InDelta(t, 1000.0/70, slow.FPS, 1e-9)
	assert.Equal(t, 2, slow.DroppedFrameCount)

	s.Reset()
	fresh := s.Sample(epoch.Add(10 * time.Second))
	assert.InDelta(t, 50.0, fresh.FPS, 1e-9)
}

func TestSamplerFallsBackToMonotonicClock(t *testing.T) {
	s := NewSampler(0, nil, nil, nil)
	sample := s.Sample(time.Time{})
	assert.False(t, sample.Timestamp.IsZero())
	assert.InDelta(t, 60.0, sample.FPS, 0.01)
}

func TestSamplerMemory(t *testing.T) {
	s := NewSampler(time.Second/60, fixedMemory{used: 200 << 20, limit: 250 << 20}, nil, nil)
	sample := s.Sample(epoch)
	assert.InDelta(t, 200.0, sample.MemoryMB, 1e-9)
	assert.InDelta(t, 80.0, sample.MemoryPercent, 1e-9)

	unsupported := NewSampler(time.Second/60, nil, nil, nil)
	sample = unsupported.Sample(epoch)
	assert.Zero(t, sample.MemoryMB)
	assert.Zero(t, sample.MemoryPercent)
}

func TestSamplerGPUFailureReadsZero(t *testing.T) {
	s := NewSampler(time.Second/60, nil, failingGPU{}, nil)
	assert.Zero(t, s.Sample(epoch).GPUUtilizationPercent)
}

// The heuristic GPU figure is an estimate derived from frame timing, not a
// hardware reading. These cases pin its shape, not any real GPU behaviour.
func TestHeuristicGPUIsAnEstimate(t *testing.T) {
	budget := time.Second / 60
	tests := []struct {
		name      string
		frameTime time.Duration
		want      float64
	}{
		{name: "idle", frameTime: 0, want: 0},
		{name: "on budget", frameTime: budget, want: 50},
		{name: "twice over", frameTime: 2 * budget, want: 200.0 / 3},
		{name: "six times over", frameTime: 6 * budget, want: 600.0 / 7},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := HeuristicGPU{}.GPUUtilization(FrameTiming{FrameTime: tt.frameTime, Budget: budget})
			assert.NoError(t, err)
			assert.InDelta(t, tt.want, got, 1e-9)
			assert.LessOrEqual(t, got, 100.0)
		})
	}
}
