//go:build !linux

package probes

import "github.com/nino-chavez/perfgov/monitoring"

// SystemMemoryBytes is only implemented on Linux.
func SystemMemoryBytes() (uint64, error) {
	return 0, monitoring.ErrProbeUnsupported
}
