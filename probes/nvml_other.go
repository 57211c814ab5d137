//go:build !(linux && cgo)

package probes

import "github.com/nino-chavez/perfgov/monitoring"

// NVMLGPU needs cgo on Linux; elsewhere it is never constructed.
type NVMLGPU struct{}

func NewNVMLGPU(int) (*NVMLGPU, error) {
	return nil, monitoring.ErrProbeUnsupported
}

func (*NVMLGPU) GPUUtilization(monitoring.FrameTiming) (float64, error) {
	return 0, monitoring.ErrProbeUnsupported
}

func (*NVMLGPU) Close() error { return nil }
