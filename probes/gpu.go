package probes

import (
	"sync/atomic"

	"github.com/nino-chavez/perfgov/monitoring"
)

// FallbackGPU asks Primary first and switches to Secondary for good after
// Primary's first failure.
type FallbackGPU struct {
	Primary   monitoring.GPUProbe
	Secondary monitoring.GPUProbe

	failed atomic.Bool
}

func (f *FallbackGPU) GPUUtilization(ft monitoring.FrameTiming) (float64, error) {
	if f.Primary != nil && !f.failed.Load() {
		util, err := f.Primary.GPUUtilization(ft)
		if err == nil {
			return util, nil
		}
		f.failed.Store(true)
		log.Warnf("hardware gpu probe failed, falling back to estimate: %s", err)
	}
	if f.Secondary == nil {
		return 0, monitoring.ErrProbeUnsupported
	}
	return f.Secondary.GPUUtilization(ft)
}

// DefaultGPU returns the best GPU probe available: the NVML device at index
// when the driver is present, the frame-timing estimate otherwise. The returned close
// function releases NVML and is never nil.
func DefaultGPU(index int) (monitoring.GPUProbe, func() error) {
	hw, err := NewNVMLGPU(index)
	if err != nil {
		log.Debugf("no hardware gpu telemetry: %s", err)
		return monitoring.HeuristicGPU{}, func() error { return nil }
	}
	return &FallbackGPU{Primary: hw, Secondary: monitoring.HeuristicGPU{}}, hw.Close
}
