package device

import (
	"errors"
	"log/slog"
	"runtime"
	"sync"
	"time"

	"github.com/skypro1111/whisper-inference-service/internal/metrics"
)

// ReclaimStats counts reclamation passes for diagnostics.
type ReclaimStats struct {
	Passes    uint64 `json:"passes"`
	Partial   uint64 `json:"partial"`
	LastError string `json:"last_error,omitempty"`
}

// Reclaimer frees device memory between inference operations. A pass
// never fails the caller: step errors are logged and reported through
// the boolean result.
type Reclaimer struct {
	runtime Runtime
	logger  *slog.Logger
	metrics *metrics.Metrics

	mu    sync.Mutex
	stats ReclaimStats
}

// NewReclaimer creates a reclaimer over the given device runtime.
func NewReclaimer(rt Runtime, logger *slog.Logger, m *metrics.Metrics) *Reclaimer {
	return &Reclaimer{
		runtime: rt,
		logger:  logger,
		metrics: m,
	}
}

// Device returns the runtime's device label.
func (r *Reclaimer) Device() string {
	return r.runtime.Name()
}

// MemoryStats reports the runtime's current memory occupancy.
func (r *Reclaimer) MemoryStats() (MemoryStats, error) {
	return r.runtime.MemoryStats()
}

// Reclaim runs one reclamation pass: garbage collection, device stream
// synchronization, cache release, IPC handle cleanup, and peak counter
// reset, in that order. Every step runs even when an earlier one fails;
// the return value is false when any step failed. Safe to call with
// nothing allocated.
func (r *Reclaimer) Reclaim() bool {
	start := time.Now()
	ok := true
	var lastErr error

	runtime.GC()

	if err := r.runtime.Synchronize(); err != nil {
		r.logger.Warn("Device synchronization failed",
			slog.String("device", r.runtime.Name()),
			slog.String("error", err.Error()))
		ok = false
		lastErr = err
	}

	if err := r.runtime.ReleaseCache(); err != nil {
		r.logger.Warn("Device cache release failed",
			slog.String("device", r.runtime.Name()),
			slog.String("error", err.Error()))
		ok = false
		lastErr = err
	}

	if err := r.runtime.CollectIPCHandles(); err != nil {
		if errors.Is(err, ErrUnsupported) {
			r.logger.Debug("IPC handle cleanup unsupported, skipping",
				slog.String("device", r.runtime.Name()))
		} else {
			r.logger.Warn("IPC handle cleanup failed",
				slog.String("device", r.runtime.Name()),
				slog.String("error", err.Error()))
			ok = false
			lastErr = err
		}
	}

	if err := r.runtime.ResetPeakStats(); err != nil {
		r.logger.Warn("Peak stats reset failed",
			slog.String("device", r.runtime.Name()),
			slog.String("error", err.Error()))
		ok = false
		lastErr = err
	}

	elapsed := time.Since(start)

	r.mu.Lock()
	r.stats.Passes++
	if !ok {
		r.stats.Partial++
		if lastErr != nil {
			r.stats.LastError = lastErr.Error()
		}
	}
	r.mu.Unlock()

	if r.metrics != nil {
		r.metrics.RecordReclaim(elapsed.Seconds(), ok)
	}

	r.logger.Debug("Device memory reclaimed",
		slog.String("device", r.runtime.Name()),
		slog.Duration("elapsed", elapsed),
		slog.Bool("complete", ok))

	return ok
}

// Stats returns a snapshot of the reclamation counters.
func (r *Reclaimer) Stats() ReclaimStats {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.stats
}
