package monitoring

import (
	"log/slog"
	"math"
	"time"
)

// MemoryReading is one heap measurement. LimitBytes is the ceiling the
// percentage is computed against; zero means unknown.
type MemoryReading struct {
	UsedBytes  uint64
	LimitBytes uint64
}

// MemoryProbe reads heap usage from the runtime.
type MemoryProbe interface {
	ReadMemory() (MemoryReading, error)
}

// FrameTiming is what a GPU probe gets to see about the frame just measured.
type FrameTiming struct {
	FrameTime time.Duration
	Budget    time.Duration
	Dropped   int
}

// GPUProbe reports render load as a percentage.
type GPUProbe interface {
	GPUUtilization(FrameTiming) (float64, error)
}

// HeuristicGPU estimates render load from frame timing alone. It is a proxy,
// not a hardware reading: a frame exactly on budget reports 50%, a frame twice
// over budget 66%, and the value approaches 100% as frames stretch out.
type HeuristicGPU struct{}

func (HeuristicGPU) GPUUtilization(ft FrameTiming) (float64, error) {
	if ft.Budget <= 0 {
		return 0, nil
	}
	load := float64(ft.FrameTime) / float64(ft.Budget)
	if load <= 0 {
		return 0, nil
	}
	return clampPercent(100 * load / (1 + load)), nil
}

type unsupportedMemory struct{}

func (unsupportedMemory) ReadMemory() (MemoryReading, error) {
	return MemoryReading{}, ErrProbeUnsupported
}

// Sampler turns frame timestamps into PerformanceSamples. It is driven from
// the event loop and is not safe for concurrent use.
type Sampler struct {
	budget time.Duration
	memory MemoryProbe
	gpu    GPUProbe
	logger *slog.Logger

	last         time.Time
	memoryWarned bool
	gpuWarned    bool
}

// NewSampler creates a sampler. Nil probes fall back to an unsupported memory
// probe and the frame-timing GPU heuristic.
func NewSampler(budget time.Duration, memory MemoryProbe, gpu GPUProbe, logger *slog.Logger) *Sampler {
	if budget <= 0 {
		budget = time.Second / 60
	}
	if memory == nil {
		memory = unsupportedMemory{}
	}
	if gpu == nil {
		gpu = HeuristicGPU{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Sampler{
		budget: budget,
		memory: memory,
		gpu:    gpu,
		logger: logger,
	}
}

// Sample produces exactly one sample for the frame stamped ts. A zero ts
// falls back to the process monotonic clock. The first frame after creation
// or Reset is assumed to have taken exactly one budget.
func (s *Sampler) Sample(ts time.Time) PerformanceSample {
	if ts.IsZero() {
		ts = time.Now()
	}

	frameTime := s.budget
	if !s.last.IsZero() {
		if d := ts.Sub(s.last); d > 0 {
			frameTime = d
		}
	}
	s.last = ts

	dropped := int(frameTime/s.budget) - 1
	if dropped < 0 {
		dropped = 0
	}

	frameMs := float64(frameTime) / float64(time.Millisecond)
	sample := PerformanceSample{
		Timestamp:         ts,
		FPS:               1000 / frameMs,
		FrameTimeMs:       frameMs,
		DroppedFrameCount: dropped,
	}

	if mem, err := s.memory.ReadMemory(); err == nil {
		sample.MemoryMB = float64(mem.UsedBytes) / (1024 * 1024)
		if mem.LimitBytes > 0 {
			sample.MemoryPercent = clampPercent(100 * float64(mem.UsedBytes) / float64(mem.LimitBytes))
		}
	} else if !s.memoryWarned {
		s.memoryWarned = true
		s.logger.Debug("memory probe unavailable, reporting zero", slog.String("error", err.Error()))
	}

	util, err := s.gpu.GPUUtilization(FrameTiming{FrameTime: frameTime, Budget: s.budget, Dropped: dropped})
	if err == nil {
		sample.GPUUtilizationPercent = util
	} else if !s.gpuWarned {
		s.gpuWarned = true
		s.logger.Debug("gpu probe failed, reporting zero", slog.String("error", err.Error()))
	}

	return sample
}

// Reset forgets the previous frame so the next sample starts fresh.
func (s *Sampler) Reset() {
	s.last = time.Time{}
}

// capabilities probes each source once and reports which are live.
func (s *Sampler) capabilities() (memory, gpu bool) {
	_, merr := s.memory.ReadMemory()
	_, gerr := s.gpu.GPUUtilization(FrameTiming{FrameTime: s.budget, Budget: s.budget})
	return merr == nil, gerr == nil
}

func clampPercent(v float64) float64 {
	if math.IsNaN(v) {
		return 0
	}
	return math.Max(0, math.Min(100, v))
}
