package vad

import (
	"fmt"
	"log/slog"
	"os"
	"sync"
	"time"

	sherpa "github.com/k2-fsa/sherpa-onnx-go/sherpa_onnx"

	"github.com/skypro1111/whisper-inference-service/internal/metrics"
)

// Config holds Silero VAD parameters.
type Config struct {
	ModelPath          string
	Threshold          float32
	WindowSize         int // samples per detection window
	MinSpeechDuration  float64
	MinSilenceDuration float64
	MaxSpeechDuration  float64
	BufferSeconds      float64
	SampleRate         int
	NumThreads         int
	Provider           string
	Debug              bool
}

// Segment is a detected stretch of speech with its offset, in seconds,
// within the processed clip.
type Segment struct {
	Start   float64
	Samples []float32
}

// Stats reports segmenter activity for diagnostics.
type Stats struct {
	ClipsProcessed uint64    `json:"clips_processed"`
	SpeechSegments uint64    `json:"speech_segments"`
	LastProcessed  time.Time `json:"last_processed"`
}

// Segmenter splits audio into speech segments using the Silero VAD
// model. The detector is stateful, so all access is serialized; the
// service dispatches one transcription at a time anyway.
type Segmenter struct {
	config  Config
	logger  *slog.Logger
	metrics *metrics.Metrics

	mu       sync.Mutex
	detector *sherpa.VoiceActivityDetector
	consumed int // samples fed across the detector's lifetime
	stats    Stats
}

// NewSegmenter loads the VAD model and prepares a reusable detector.
func NewSegmenter(config Config, logger *slog.Logger, m *metrics.Metrics) (*Segmenter, error) {
	if config.ModelPath == "" {
		return nil, fmt.Errorf("vad model path is empty")
	}

	if _, err := os.Stat(config.ModelPath); err != nil {
		return nil, fmt.Errorf("vad model not found at %s: %w", config.ModelPath, err)
	}

	if config.SampleRate <= 0 {
		config.SampleRate = 16000
	}
	if config.WindowSize <= 0 {
		config.WindowSize = 512
	}
	if config.NumThreads <= 0 {
		config.NumThreads = 1
	}
	if config.Provider == "" {
		config.Provider = "cpu"
	}
	if config.BufferSeconds <= 0 {
		config.BufferSeconds = 60
	}

	vadConfig := sherpa.VadModelConfig{}
	vadConfig.SileroVad.Model = config.ModelPath
	vadConfig.SileroVad.Threshold = config.Threshold
	vadConfig.SileroVad.MinSilenceDuration = float32(config.MinSilenceDuration)
	vadConfig.SileroVad.MinSpeechDuration = float32(config.MinSpeechDuration)
	vadConfig.SileroVad.MaxSpeechDuration = float32(config.MaxSpeechDuration)
	vadConfig.SileroVad.WindowSize = config.WindowSize
	vadConfig.SampleRate = config.SampleRate
	vadConfig.NumThreads = config.NumThreads
	vadConfig.Provider = config.Provider
	if config.Debug {
		vadConfig.Debug = 1
	}

	detector := sherpa.NewVoiceActivityDetector(&vadConfig, float32(config.BufferSeconds))
	if detector == nil {
		return nil, fmt.Errorf("failed to initialize vad detector from %s", config.ModelPath)
	}

	logger.Info("VAD segmenter initialized",
		slog.String("model_path", config.ModelPath),
		slog.Float64("threshold", float64(config.Threshold)),
		slog.Int("window_size", config.WindowSize))

	return &Segmenter{
		config:   config,
		logger:   logger,
		metrics:  m,
		detector: detector,
	}, nil
}

// SpeechSegments feeds a whole clip through the detector and returns
// the detected speech segments in order. Silence yields no segments.
func (s *Segmenter) SpeechSegments(samples []float32) []Segment {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.detector == nil {
		return nil
	}

	start := time.Now()
	base := s.consumed
	var segments []Segment

	collect := func() {
		for !s.detector.IsEmpty() {
			front := s.detector.Front()
			s.detector.Pop()
			if front == nil || len(front.Samples) == 0 {
				continue
			}
			// Segment starts are global sample indices across the
			// detector's lifetime; rebase them onto this clip.
			offset := float64(front.Start-base) / float64(s.config.SampleRate)
			if offset < 0 {
				offset = 0
			}
			segments = append(segments, Segment{
				Start:   offset,
				Samples: front.Samples,
			})
		}
	}

	window := s.config.WindowSize
	for i := 0; i < len(samples); i += window {
		end := i + window
		if end > len(samples) {
			// Zero-pad the tail so the final partial window is scored.
			padded := make([]float32, window)
			copy(padded, samples[i:])
			s.detector.AcceptWaveform(padded)
			s.consumed += window
			collect()
			break
		}
		s.detector.AcceptWaveform(samples[i:end])
		s.consumed += window
		collect()
	}

	s.detector.Flush()
	collect()

	elapsed := time.Since(start)

	s.stats.ClipsProcessed++
	s.stats.SpeechSegments += uint64(len(segments))
	s.stats.LastProcessed = time.Now()

	if s.metrics != nil {
		s.metrics.RecordVADSegments(len(segments), elapsed.Seconds())
	}

	s.logger.Debug("VAD segmentation finished",
		slog.Int("input_samples", len(samples)),
		slog.Int("segments", len(segments)),
		slog.Duration("elapsed", elapsed))

	return segments
}

// GetStats returns a snapshot of segmenter activity.
func (s *Segmenter) GetStats() Stats {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stats
}

// Close releases the detector. The segmenter returns no segments after
// closing.
func (s *Segmenter) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.detector != nil {
		sherpa.DeleteVoiceActivityDetector(s.detector)
		s.detector = nil
	}
}
