package retry

import (
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/skypro1111/whisper-inference-service/internal/metrics"
	"github.com/skypro1111/whisper-inference-service/internal/transcribe"
)

// Dispatcher is the slice of the transcription layer recovery drives.
type Dispatcher interface {
	Transcribe(req transcribe.Request, attempt int) (*transcribe.Result, error)
	ResolveMode(speedMode string) transcribe.Mode
}

// Restarter replaces the model stack between attempts.
type Restarter interface {
	Restart() error
}

// Reclaimer releases device memory between attempts.
type Reclaimer interface {
	Reclaim() bool
}

// ExhaustedError reports that every attempt failed.
type ExhaustedError struct {
	Attempts int
	LastErr  error
}

func (e *ExhaustedError) Error() string {
	return fmt.Sprintf("transcription failed after %d attempts: %v", e.Attempts, e.LastErr)
}

func (e *ExhaustedError) Unwrap() error { return e.LastErr }

// Config carries the recovery parameters.
type Config struct {
	MaxAttempts      int
	PreClearCooldown time.Duration
	Cooldown         time.Duration
}

// Orchestrator runs transcriptions with bounded retry. Between failed
// attempts it reclaims device memory, restarts the model stack and
// waits out a cooldown; after the final failure it gives up with an
// ExhaustedError. One transcription runs at a time.
type Orchestrator struct {
	config     Config
	dispatcher Dispatcher
	models     Restarter
	reclaimer  Reclaimer
	log        *Log
	logger     *slog.Logger
	metrics    *metrics.Metrics

	mu sync.Mutex
}

// NewOrchestrator wires the recovery loop.
func NewOrchestrator(config Config, dispatcher Dispatcher, models Restarter, reclaimer Reclaimer, log *Log, logger *slog.Logger, m *metrics.Metrics) *Orchestrator {
	if config.MaxAttempts <= 0 {
		config.MaxAttempts = 3
	}
	return &Orchestrator{
		config:     config,
		dispatcher: dispatcher,
		models:     models,
		reclaimer:  reclaimer,
		log:        log,
		logger:     logger,
		metrics:    m,
	}
}

// Log exposes the diagnostics log for the HTTP surface.
func (o *Orchestrator) Log() *Log {
	return o.log
}

// Run transcribes a staged clip, retrying with a full model restart
// after each failure until an attempt succeeds or the budget is spent.
// Validation failures return as-is without consuming the retry budget
// or touching the diagnostics log.
func (o *Orchestrator) Run(req transcribe.Request) (*transcribe.Result, error) {
	o.mu.Lock()
	defer o.mu.Unlock()

	start := time.Now()
	mode := o.dispatcher.ResolveMode(req.SpeedMode)
	if o.metrics != nil {
		o.metrics.RecordTranscriptionRequest(string(mode))
	}

	// Settle the device before the first attempt touches the model.
	o.reclaimer.Reclaim()
	if o.config.PreClearCooldown > 0 {
		o.logger.Info("waiting for device memory to settle",
			slog.Duration("cooldown", o.config.PreClearCooldown))
		time.Sleep(o.config.PreClearCooldown)
	}

	var lastErr error
	for attempt := 1; attempt <= o.config.MaxAttempts; attempt++ {
		result, err := o.dispatcher.Transcribe(req, attempt)
		if err == nil {
			result.Attempt = attempt
			if o.metrics != nil {
				o.metrics.RecordTranscriptionSuccess(time.Since(start).Seconds(), attempt)
			}
			if attempt > 1 {
				o.logger.Info("transcription recovered",
					slog.String("filename", req.Filename),
					slog.Int("attempt", attempt))
			}
			return result, nil
		}

		if transcribe.KindOf(err) == transcribe.KindValidation {
			o.logger.Warn("transcription rejected",
				slog.String("filename", req.Filename),
				slog.String("error", err.Error()))
			return nil, err
		}

		lastErr = err
		o.log.Append(attempt, err.Error(), ActionTranscriptionFailed)
		o.logger.Error("transcription attempt failed",
			slog.String("filename", req.Filename),
			slog.Int("attempt", attempt),
			slog.Int("max_attempts", o.config.MaxAttempts),
			slog.String("error", err.Error()))

		if attempt == o.config.MaxAttempts {
			o.log.Append(attempt, err.Error(), ActionExhausted)
			break
		}

		o.recover(attempt, err)
	}

	if o.metrics != nil {
		o.metrics.RecordTranscriptionFailure(time.Since(start).Seconds(), o.config.MaxAttempts)
	}
	return nil, &ExhaustedError{Attempts: o.config.MaxAttempts, LastErr: lastErr}
}

// recover runs the between-attempt sequence: reclaim, restart, wait.
// A failed restart is recorded but does not abort the loop; the next
// attempt restarts again through the lifecycle manager.
func (o *Orchestrator) recover(attempt int, cause error) {
	o.log.Append(attempt, cause.Error(), ActionClearingVRAM)
	o.reclaimer.Reclaim()

	o.log.Append(attempt, cause.Error(), ActionRestarting)
	if err := o.models.Restart(); err != nil {
		o.logger.Error("model restart failed during recovery",
			slog.Int("attempt", attempt),
			slog.String("kind", transcribe.KindRecovery.String()),
			slog.String("error", err.Error()))
	}

	o.log.Append(attempt, cause.Error(), waitAction(o.config.Cooldown))
	if o.config.Cooldown > 0 {
		time.Sleep(o.config.Cooldown)
	}
}

// waitAction names the cooldown pause with its length, e.g.
// "waiting_60s".
func waitAction(d time.Duration) string {
	return fmt.Sprintf("waiting_%gs", d.Seconds())
}
