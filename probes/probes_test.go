package probes

import (
	"errors"
	"runtime"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nino-chavez/perfgov/monitoring"
)

type scriptedGPU struct {
	values []float64
	errs   []error
	calls  int
}

func (s *scriptedGPU) GPUUtilization(monitoring.FrameTiming) (float64, error) {
	i := s.calls
	s.calls++
	return s.values[i], s.errs[i]
}

func TestRuntimeMemoryReadsHeap(t *testing.T) {
	probe := NewRuntimeMemory(1 << 40)
	buf := make([]byte, 4<<20)
	reading, err := probe.ReadMemory()
	runtime.KeepAlive(buf)

	require.NoError(t, err)
	assert.NotZero(t, reading.UsedBytes)
	assert.Equal(t, uint64(1<<40), reading.LimitBytes)
}

func TestRuntimeMemoryDefaultLimit(t *testing.T) {
	probe := NewRuntimeMemory(0)
	total, err := SystemMemoryBytes()
	if err != nil {
		assert.ErrorIs(t, err, monitoring.ErrProbeUnsupported)
		assert.Zero(t, probe.Limit())
		return
	}
	assert.Equal(t, total, probe.Limit())
}

func TestFallbackGPUSwitchesAfterFailure(t *testing.T) {
	primary := &scriptedGPU{
		values: []float64{42, 0},
		errs:   []error{nil, errors.New("xid 79")},
	}
	f := &FallbackGPU{Primary: primary, Secondary: monitoring.HeuristicGPU{}}
	ft := monitoring.FrameTiming{FrameTime: time.Second / 60, Budget: time.Second / 60}

	util, err := f.GPUUtilization(ft)
	require.NoError(t, err)
	assert.Equal(t, 42.0, util)

	util, err = f.GPUUtilization(ft)
	require.NoError(t, err)
	assert.InDelta(t, 50.0, util, 1e-9)

	// primary is not consulted again
	_, err = f.GPUUtilization(ft)
	require.NoError(t, err)
	assert.Equal(t, 2, primary.calls)
}

func TestFallbackGPUWithoutSecondary(t *testing.T) {
	f := &FallbackGPU{}
	_, err := f.GPUUtilization(monitoring.FrameTiming{})
	assert.ErrorIs(t, err, monitoring.ErrProbeUnsupported)
}

func TestDefaultGPUAlwaysUsable(t *testing.T) {
	probe, closeFn := DefaultGPU(0)
	defer closeFn()

	require.NotNil(t, probe)
	_, err := probe.GPUUtilization(monitoring.FrameTiming{FrameTime: time.Second / 60, Budget: time.Second / 60})
	assert.NoError(t, err)
}
