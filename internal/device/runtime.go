package device

import (
	"errors"
	"runtime"
	"runtime/debug"
	"sync"
)

// ErrUnsupported marks a runtime capability that the deployment device
// does not offer. Reclamation steps hitting it are skipped, not failed.
var ErrUnsupported = errors.New("operation not supported by device runtime")

// MemoryStats describes the memory occupancy of the inference runtime.
type MemoryStats struct {
	AllocatedMB float64 `json:"allocated_mb"`
	ReservedMB  float64 `json:"reserved_mb"`
	PeakMB      float64 `json:"peak_mb"`
	HeapObjects uint64  `json:"heap_objects"`
	NumGC       uint32  `json:"num_gc"`
}

// Runtime abstracts the device the models execute on. The host runtime
// is always available; an accelerator runtime implements the same
// surface with driver-level calls.
type Runtime interface {
	// Name reports the device label used in API responses.
	Name() string
	// Synchronize blocks until in-flight device work has drained.
	Synchronize() error
	// ReleaseCache returns cached allocations to the device or OS.
	ReleaseCache() error
	// CollectIPCHandles frees shared inter-process memory handles.
	// Returns ErrUnsupported where the runtime has no IPC allocator.
	CollectIPCHandles() error
	// ResetPeakStats restarts peak-usage tracking.
	ResetPeakStats() error
	// MemoryStats reports current occupancy.
	MemoryStats() (MemoryStats, error)
}

// HostRuntime is the process-local runtime used for CPU deployments and
// as the host-side view when inference runs through ONNX Runtime
// providers that expose no separate memory manager.
type HostRuntime struct {
	name string

	mu        sync.Mutex
	peakBytes uint64
}

// NewHostRuntime creates a host runtime labeled with the configured
// device name (cpu, cuda, coreml).
func NewHostRuntime(name string) *HostRuntime {
	if name == "" {
		name = "cpu"
	}
	return &HostRuntime{name: name}
}

func (r *HostRuntime) Name() string { return r.name }

// Synchronize is a no-op: ONNX Runtime session calls return only after
// device work completes.
func (r *HostRuntime) Synchronize() error { return nil }

// ReleaseCache forces a collection and returns freed pages to the OS.
func (r *HostRuntime) ReleaseCache() error {
	debug.FreeOSMemory()
	return nil
}

func (r *HostRuntime) CollectIPCHandles() error { return ErrUnsupported }

func (r *HostRuntime) ResetPeakStats() error {
	var stats runtime.MemStats
	runtime.ReadMemStats(&stats)

	r.mu.Lock()
	r.peakBytes = stats.HeapAlloc
	r.mu.Unlock()
	return nil
}

func (r *HostRuntime) MemoryStats() (MemoryStats, error) {
	var stats runtime.MemStats
	runtime.ReadMemStats(&stats)

	r.mu.Lock()
	if stats.HeapAlloc > r.peakBytes {
		r.peakBytes = stats.HeapAlloc
	}
	peak := r.peakBytes
	r.mu.Unlock()

	return MemoryStats{
		AllocatedMB: toMB(stats.HeapAlloc),
		ReservedMB:  toMB(stats.Sys),
		PeakMB:      toMB(peak),
		HeapObjects: stats.HeapObjects,
		NumGC:       stats.NumGC,
	}, nil
}

func toMB(bytes uint64) float64 {
	return float64(bytes) / (1024 * 1024)
}
