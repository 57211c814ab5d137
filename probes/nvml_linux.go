//go:build linux && cgo

package probes

import (
	"errors"
	"fmt"
	"sync"

	"github.com/NVIDIA/go-nvml/pkg/nvml"

	"github.com/nino-chavez/perfgov/monitoring"
)

// NVMLGPU reads GPU utilization of one device through NVML.
type NVMLGPU struct {
	mu     sync.Mutex
	device nvml.Device
	closed bool
}

// NewNVMLGPU initializes NVML and opens the device at index. It fails with
// monitoring.ErrProbeUnsupported when no driver is loaded.
func NewNVMLGPU(index int) (*NVMLGPU, error) {
	if ret := nvml.Init(); !errors.Is(ret, nvml.SUCCESS) {
		return nil, fmt.Errorf("%w: nvml init: %s", monitoring.ErrProbeUnsupported, nvml.ErrorString(ret))
	}
	device, ret := nvml.DeviceGetHandleByIndex(index)
	if !errors.Is(ret, nvml.SUCCESS) {
		nvml.Shutdown()
		return nil, fmt.Errorf("%w: device %d: %s", monitoring.ErrProbeUnsupported, index, nvml.ErrorString(ret))
	}
	if name, ret := device.GetName(); errors.Is(ret, nvml.SUCCESS) {
		log.Infof("using NVML device %d (%s) for gpu utilization", index, name)
	}
	return &NVMLGPU{device: device}, nil
}

// GPUUtilization ignores frame timing and reports the device's own figure.
func (g *NVMLGPU) GPUUtilization(monitoring.FrameTiming) (float64, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.closed {
		return 0, monitoring.ErrProbeUnsupported
	}
	util, ret := g.device.GetUtilizationRates()
	if !errors.Is(ret, nvml.SUCCESS) {
		return 0, fmt.Errorf("nvml utilization: %s", nvml.ErrorString(ret))
	}
	return float64(util.Gpu), nil
}

// Close shuts NVML down.
func (g *NVMLGPU) Close() error {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.closed {
		return nil
	}
	g.closed = true
	if ret := nvml.Shutdown(); !errors.Is(ret, nvml.SUCCESS) {
		return fmt.Errorf("nvml shutdown: %s", nvml.ErrorString(ret))
	}
	return nil
}
