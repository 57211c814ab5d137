// Package probes backs the monitoring sampler with real platform readings:
// Go heap usage against a memory ceiling, and GPU utilization from NVML
// where the driver is present.
package probes

import (
	"runtime"

	logging "github.com/ipfs/go-log/v2"

	"github.com/nino-chavez/perfgov/monitoring"
)

var log = logging.Logger("perfgov/probes")

// RuntimeMemory reports the Go heap against a fixed ceiling.
type RuntimeMemory struct {
	limit uint64
}

// NewRuntimeMemory creates a heap probe. A zero limit uses the total system
// memory, if the platform can report it.
func NewRuntimeMemory(limitBytes uint64) *RuntimeMemory {
	if limitBytes == 0 {
		total, err := SystemMemoryBytes()
		if err != nil {
			log.Debugf("system memory unavailable, heap percentage disabled: %s", err)
		} else {
			limitBytes = total
		}
	}
	return &RuntimeMemory{limit: limitBytes}
}

func (r *RuntimeMemory) ReadMemory() (monitoring.MemoryReading, error) {
	var ms runtime.MemStats
	runtime.ReadMemStats(&ms)
	return monitoring.MemoryReading{
		UsedBytes:  ms.HeapAlloc,
		LimitBytes: r.limit,
	}, nil
}

// Limit returns the ceiling percentages are computed against.
func (r *RuntimeMemory) Limit() uint64 {
	return r.limit
}
