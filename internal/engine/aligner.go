package engine

import (
	"fmt"
	"log/slog"
	"os"
	"strings"
	"sync"

	sherpa "github.com/k2-fsa/sherpa-onnx-go/sherpa_onnx"

	"github.com/skypro1111/whisper-inference-service/internal/audio"
)

// LoadAligner opens the CTC alignment model. Returns
// ErrAlignerNotConfigured when no aligner model path was set.
func (l *SherpaLoader) LoadAligner() (Aligner, error) {
	if l.config.AlignerModel == "" {
		return nil, ErrAlignerNotConfigured
	}

	tokens := l.config.AlignerTokens
	if tokens == "" {
		return nil, fmt.Errorf("aligner tokens path is empty")
	}

	for _, path := range []string{l.config.AlignerModel, tokens} {
		if _, err := os.Stat(path); err != nil {
			return nil, fmt.Errorf("aligner model file not found at %s: %w", path, err)
		}
	}

	cfg := sherpa.OfflineRecognizerConfig{}
	cfg.FeatConfig.SampleRate = audio.ModelSampleRate
	cfg.FeatConfig.FeatureDim = 80
	cfg.ModelConfig.NemoCTC.Model = l.config.AlignerModel
	cfg.ModelConfig.Tokens = tokens
	cfg.ModelConfig.ModelType = "nemo_ctc"
	cfg.ModelConfig.NumThreads = l.config.NumThreads
	cfg.ModelConfig.Provider = l.config.Provider
	if l.config.Debug {
		cfg.ModelConfig.Debug = 1
	}
	cfg.DecodingMethod = "greedy_search"

	recognizer, err := newRecognizer(&cfg, l.logger, "aligner")
	if err != nil {
		return nil, err
	}

	l.logger.Info("alignment model loaded",
		slog.String("model", l.config.AlignerModel),
		slog.String("provider", cfg.ModelConfig.Provider))

	return &sherpaAligner{
		recognizer: recognizer,
		logger:     l.logger,
	}, nil
}

// sherpaAligner re-decodes each segment through a CTC model whose
// frame-level token timestamps yield word boundaries.
type sherpaAligner struct {
	recognizer *sherpa.OfflineRecognizer
	logger     *slog.Logger

	mu     sync.Mutex
	closed bool
}

// Align attaches word timestamps to segments. Segment text is left as
// decoded; a segment the CTC model yields no tokens for stays without
// words rather than failing the clip.
func (a *sherpaAligner) Align(samples []float32, segments []Segment, language string) ([]Segment, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.closed {
		return nil, fmt.Errorf("aligner is closed")
	}

	aligned := make([]Segment, len(segments))
	for i, seg := range segments {
		aligned[i] = seg

		lo := int(seg.Start * audio.ModelSampleRate)
		hi := int(seg.End * audio.ModelSampleRate)
		if lo < 0 {
			lo = 0
		}
		if hi > len(samples) {
			hi = len(samples)
		}
		if hi <= lo {
			continue
		}

		stream := sherpa.NewOfflineStream(a.recognizer)
		stream.AcceptWaveform(audio.ModelSampleRate, samples[lo:hi])
		a.recognizer.Decode(stream)
		result := stream.GetResult()
		sherpa.DeleteOfflineStream(stream)

		words := groupWords(result.Tokens, result.Timestamps, seg.Start, seg.End)
		if len(words) == 0 {
			a.logger.Debug("segment yielded no alignment tokens",
				slog.Int("segment_id", seg.ID),
				slog.Float64("start", seg.Start))
			continue
		}
		aligned[i].Words = words
	}

	return aligned, nil
}

// Close releases the CTC recognizer.
func (a *sherpaAligner) Close() {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.closed {
		return
	}
	a.closed = true
	sherpa.DeleteOfflineRecognizer(a.recognizer)
	a.recognizer = nil
}

// groupWords merges BPE tokens into words using the sentencepiece
// convention that a leading "▁" starts a new word. Timestamps are
// seconds within the segment; base rebases them onto the clip.
func groupWords(tokens []string, timestamps []float32, base, end float64) []Word {
	var words []Word
	for i, token := range tokens {
		start := base
		if i < len(timestamps) {
			start = base + float64(timestamps[i])
		}

		startsWord := strings.HasPrefix(token, "▁")
		text := strings.TrimPrefix(token, "▁")
		if text == "" {
			continue
		}

		if startsWord || len(words) == 0 {
			words = append(words, Word{Word: text, Start: start})
		} else {
			words[len(words)-1].Word += text
		}
	}

	for i := range words {
		if i+1 < len(words) {
			words[i].End = words[i+1].Start
		} else {
			words[i].End = end
		}
	}
	return words
}
