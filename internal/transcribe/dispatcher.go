package transcribe

import (
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/skypro1111/whisper-inference-service/internal/audio"
	"github.com/skypro1111/whisper-inference-service/internal/device"
	"github.com/skypro1111/whisper-inference-service/internal/engine"
	"github.com/skypro1111/whisper-inference-service/internal/metrics"
	"github.com/skypro1111/whisper-inference-service/internal/model"
)

// FormatPrompt is prefixed to every decode prompt. It primes the model
// to keep punctuation and parentheses in the output.
const FormatPrompt = "Klammern (so wie diese) und Satzzeichen wie Punkt, Komma, Doppelpunkt und Semikolon sind wichtig."

// Mode selects the decode path.
type Mode string

const (
	ModeAuto      Mode = "auto"
	ModeTurbo     Mode = "turbo"
	ModePrecision Mode = "precision"
)

// ParseMode maps a request value onto a mode. An empty value means
// auto; anything unrecognized decodes in precision mode.
func ParseMode(value string) Mode {
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "", string(ModeAuto):
		return ModeAuto
	case string(ModeTurbo):
		return ModeTurbo
	default:
		return ModePrecision
	}
}

// Resolve pins auto mode against the deployed model: turbo variants
// take the low-latency path, everything else the batched one.
func (m Mode) Resolve(modelID string) Mode {
	if m == ModeTurbo {
		return ModeTurbo
	}
	if m == ModeAuto && strings.Contains(strings.ToLower(modelID), "turbo") {
		return ModeTurbo
	}
	return ModePrecision
}

// Request describes one transcription job. Path points at the staged
// upload; the caller owns the file and removes it when done.
type Request struct {
	Path      string
	Filename  string
	SpeedMode string
	Language  string
	Prompt    string
	// SkipAlign turns word-level alignment off for this request. The
	// zero value keeps alignment on.
	SkipAlign bool
}

// Result is a finished transcription. Duration is the processing time
// in seconds, not the clip length. Attempt is filled by the retry
// layer with the attempt number that produced it.
type Result struct {
	Text     string           `json:"text"`
	Segments []engine.Segment `json:"segments"`
	Language string           `json:"language"`
	Mode     Mode             `json:"mode"`
	Duration float64          `json:"duration"`
	Attempt  int              `json:"attempt"`
	Aligned  bool             `json:"aligned"`
}

// Config carries the dispatch parameters.
type Config struct {
	ModelID           string
	Language          string
	BatchSizeShort    int
	BatchSizeLong     int
	LongClipThreshold float64
}

// Dispatcher routes clips to the right decode path. It performs single
// attempts; retries and recovery live a layer above.
type Dispatcher struct {
	config    Config
	models    *model.Manager
	reclaimer *device.Reclaimer
	logger    *slog.Logger
	metrics   *metrics.Metrics
}

// NewDispatcher wires a dispatcher to the model manager.
func NewDispatcher(config Config, models *model.Manager, reclaimer *device.Reclaimer, logger *slog.Logger, m *metrics.Metrics) *Dispatcher {
	if config.BatchSizeShort <= 0 {
		config.BatchSizeShort = 8
	}
	if config.BatchSizeLong <= 0 {
		config.BatchSizeLong = 16
	}
	if config.LongClipThreshold <= 0 {
		config.LongClipThreshold = 60
	}
	return &Dispatcher{
		config:    config,
		models:    models,
		reclaimer: reclaimer,
		logger:    logger,
		metrics:   m,
	}
}

// ResolveMode reports which decode path a request value takes against
// the deployed model.
func (d *Dispatcher) ResolveMode(speedMode string) Mode {
	return ParseMode(speedMode).Resolve(d.config.ModelID)
}

// Transcribe runs a single decode attempt. The staged upload is read
// and decoded fresh on every attempt so a restarted model never sees
// state from the failed one. Device memory is reclaimed on every exit,
// failed attempts included.
func (d *Dispatcher) Transcribe(req Request, attempt int) (*Result, error) {
	start := time.Now()
	mode := d.ResolveMode(req.SpeedMode)
	defer d.reclaimer.Reclaim()

	data, err := os.ReadFile(req.Path)
	if err != nil {
		return nil, fmt.Errorf("failed to read staged upload: %w", err)
	}

	samples, duration, err := audio.DecodeToModelRate(data)
	if err != nil {
		return nil, err
	}
	if d.metrics != nil {
		d.metrics.RecordAudioDuration(duration)
	}

	language := req.Language
	if language == "" {
		language = d.config.Language
	}

	prompt := FormatPrompt
	if req.Prompt != "" {
		prompt = FormatPrompt + " " + strings.TrimSpace(req.Prompt)
	}

	d.logger.Info("transcription attempt started",
		slog.String("filename", req.Filename),
		slog.String("mode", string(mode)),
		slog.Float64("audio_duration", duration),
		slog.Int("attempt", attempt))

	var result *Result
	switch mode {
	case ModeTurbo:
		result, err = d.transcribeFast(samples, language, prompt)
	default:
		result, err = d.transcribePrecision(samples, duration, language, prompt, !req.SkipAlign)
	}
	if err != nil {
		return nil, err
	}

	result.Mode = mode
	result.Duration = time.Since(start).Seconds()

	d.logger.Info("transcription attempt finished",
		slog.String("mode", string(mode)),
		slog.Int("segments", len(result.Segments)),
		slog.Bool("aligned", result.Aligned),
		slog.Duration("elapsed", time.Since(start)))

	return result, nil
}

// transcribeFast decodes through the low-latency path with greedy
// settings and voice-gated input.
func (d *Dispatcher) transcribeFast(samples []float32, language, prompt string) (*Result, error) {
	fast, err := d.models.Fast()
	if err != nil {
		return nil, err
	}

	stream, info, err := fast.Transcribe(samples, engine.FastOptions{
		Language:       language,
		InitialPrompt:  prompt,
		BeamSize:       1,
		BestOf:         1,
		VADFilter:      true,
		WordTimestamps: false,
	})
	if err != nil {
		return nil, err
	}

	segments, err := engine.Collect(stream)
	if err != nil {
		return nil, err
	}

	return &Result{
		Text:     joinSegments(segments),
		Segments: segments,
		Language: pickLanguage(info.Language, language),
	}, nil
}

// transcribePrecision decodes through the batched path and attaches
// word timestamps when an aligner is available. Alignment failure
// degrades to unaligned segments instead of failing the clip.
func (d *Dispatcher) transcribePrecision(samples []float32, duration float64, language, prompt string, align bool) (*Result, error) {
	precision, err := d.models.Precision()
	if err != nil {
		return nil, err
	}

	batchSize := d.config.BatchSizeShort
	if duration >= d.config.LongClipThreshold {
		batchSize = d.config.BatchSizeLong
	}

	segments, info, err := precision.TranscribeBatch(samples, engine.BatchOptions{
		Language:      language,
		InitialPrompt: prompt,
		BatchSize:     batchSize,
	})
	if err != nil {
		return nil, err
	}

	aligned := false
	if aligner := d.models.Aligner(); align && aligner != nil && len(segments) > 0 {
		alignedSegments, alignErr := aligner.Align(samples, segments, pickLanguage(info.Language, language))
		if alignErr != nil {
			d.logger.Warn("alignment failed, returning unaligned segments",
				slog.String("error", alignErr.Error()))
		} else {
			segments = alignedSegments
			aligned = true
		}
	}

	return &Result{
		Text:     joinSegments(segments),
		Segments: segments,
		Language: pickLanguage(info.Language, language),
		Aligned:  aligned,
	}, nil
}

// Warmup pushes a second of silence through the low-latency path so
// the runtime allocates its buffers before real traffic arrives. Voice
// gating is off, silence would otherwise never reach the model.
func (d *Dispatcher) Warmup() (time.Duration, error) {
	start := time.Now()

	fast, err := d.models.Fast()
	if err != nil {
		return 0, err
	}

	samples := audio.Silence(1.0, audio.ModelSampleRate)
	stream, _, err := fast.Transcribe(samples, engine.FastOptions{
		Language:       d.config.Language,
		InitialPrompt:  FormatPrompt,
		BeamSize:       1,
		BestOf:         1,
		VADFilter:      false,
		WordTimestamps: false,
	})
	if err != nil {
		return 0, fmt.Errorf("warmup failed: %w", err)
	}

	if _, err := engine.Collect(stream); err != nil {
		return 0, fmt.Errorf("warmup failed: %w", err)
	}

	d.reclaimer.Reclaim()

	elapsed := time.Since(start)
	if d.metrics != nil {
		d.metrics.RecordWarmup(elapsed.Seconds())
	}

	d.logger.Info("model warmed up", slog.Duration("warmup_time", elapsed))
	return elapsed, nil
}

// joinSegments flattens segment texts into the full transcript.
func joinSegments(segments []engine.Segment) string {
	parts := make([]string, 0, len(segments))
	for _, seg := range segments {
		text := strings.TrimSpace(seg.Text)
		if text != "" {
			parts = append(parts, text)
		}
	}
	return strings.Join(parts, " ")
}

func pickLanguage(detected, requested string) string {
	if detected != "" {
		return detected
	}
	return requested
}
