package model

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/skypro1111/whisper-inference-service/internal/device"
	"github.com/skypro1111/whisper-inference-service/internal/engine"
	"github.com/skypro1111/whisper-inference-service/internal/metrics"
)

// ErrNotLoaded is returned when a backend is requested while the
// manager holds no models.
var ErrNotLoaded = errors.New("models are not loaded")

// Status is a snapshot of the managed model stack.
type Status struct {
	Loaded   bool   `json:"loaded"`
	WarmedUp bool   `json:"warmed_up"`
	Aligned  bool   `json:"alignment_available"`
	Restarts uint64 `json:"restarts"`
}

// Manager owns the inference backends and swaps them as a unit. A
// restart tears the whole stack down, reclaims device memory and loads
// fresh instances, so a wedged runtime never survives into the next
// attempt.
type Manager struct {
	loader    engine.Loader
	reclaimer *device.Reclaimer
	logger    *slog.Logger
	metrics   *metrics.Metrics

	mu        sync.RWMutex
	fast      engine.FastBackend
	precision engine.PrecisionBackend
	aligner   engine.Aligner
	warmedUp  bool
	restarts  uint64
}

// NewManager wires a manager around a backend loader.
func NewManager(loader engine.Loader, reclaimer *device.Reclaimer, logger *slog.Logger, m *metrics.Metrics) *Manager {
	return &Manager{
		loader:    loader,
		reclaimer: reclaimer,
		logger:    logger,
		metrics:   m,
	}
}

// LoadAll loads the model stack. Calling it while models are loaded is
// a no-op; Restart is the reload path.
func (m *Manager) LoadAll() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.precision != nil {
		m.logger.Debug("models already loaded")
		return nil
	}

	return m.loadLocked()
}

// loadLocked loads the precision backend, derives the fast path from
// it and attaches the aligner. Caller holds the write lock.
func (m *Manager) loadLocked() error {
	start := time.Now()

	precision, err := m.loader.LoadPrecision()
	if err != nil {
		if m.metrics != nil {
			m.metrics.RecordModelLoad(time.Since(start).Seconds(), false)
		}
		return fmt.Errorf("failed to load model: %w", err)
	}
	m.precision = precision

	if provider, ok := precision.(engine.FastCoreProvider); ok {
		m.fast = provider.FastCore()
	} else {
		m.fast = engine.FallbackFast(precision)
	}

	aligner, err := m.loader.LoadAligner()
	switch {
	case err == nil:
		m.aligner = aligner
	case errors.Is(err, engine.ErrAlignerNotConfigured):
		m.logger.Info("word alignment disabled, no aligner model configured")
	default:
		// The service still transcribes without word timestamps.
		m.logger.Warn("word alignment unavailable",
			slog.String("error", err.Error()))
	}

	// Warmed up means every load attempt ran, aligner included, not
	// that a clip has gone through. The first request pays any lazy
	// initialization the runtimes still defer.
	m.warmedUp = true
	if m.metrics != nil {
		m.metrics.RecordModelLoad(time.Since(start).Seconds(), true)
		m.metrics.SetWarmedUp(true)
	}

	m.logger.Info("model stack loaded",
		slog.Duration("load_time", time.Since(start)),
		slog.Bool("alignment_available", m.aligner != nil))

	return nil
}

// closeLocked releases every backend. Caller holds the write lock.
func (m *Manager) closeLocked() {
	if m.aligner != nil {
		m.aligner.Close()
		m.aligner = nil
	}
	if m.precision != nil {
		m.precision.Close()
		m.precision = nil
	}
	m.fast = nil
	m.warmedUp = false
	if m.metrics != nil {
		m.metrics.SetWarmedUp(false)
	}
}

// Restart replaces the model stack: unload, reclaim device memory,
// load. On load failure the manager is left empty rather than holding
// the torn-down stack.
func (m *Manager) Restart() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.logger.Info("restarting model stack")

	m.closeLocked()
	m.reclaimer.Reclaim()

	if err := m.loadLocked(); err != nil {
		if m.metrics != nil {
			m.metrics.RecordRestart(false)
		}
		return fmt.Errorf("restart failed: %w", err)
	}

	m.restarts++
	if m.metrics != nil {
		m.metrics.RecordRestart(true)
	}

	m.logger.Info("model stack restarted", slog.Uint64("restarts", m.restarts))
	return nil
}

// Close releases the model stack for shutdown.
func (m *Manager) Close() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closeLocked()
}

// Fast returns the low-latency backend.
func (m *Manager) Fast() (engine.FastBackend, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.fast == nil {
		return nil, ErrNotLoaded
	}
	return m.fast, nil
}

// Precision returns the batched backend.
func (m *Manager) Precision() (engine.PrecisionBackend, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.precision == nil {
		return nil, ErrNotLoaded
	}
	return m.precision, nil
}

// Aligner returns the alignment backend, or nil when alignment is
// unavailable.
func (m *Manager) Aligner() engine.Aligner {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.aligner
}

// Loaded reports whether the model stack is available.
func (m *Manager) Loaded() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.precision != nil
}

// Status returns a snapshot for the health surface.
func (m *Manager) Status() Status {
	m.mu.RLock()
	defer m.mu.RUnlock()

	return Status{
		Loaded:   m.precision != nil,
		WarmedUp: m.warmedUp,
		Aligned:  m.aligner != nil,
		Restarts: m.restarts,
	}
}
