package engine

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"

	sherpa "github.com/k2-fsa/sherpa-onnx-go/sherpa_onnx"

	"github.com/skypro1111/whisper-inference-service/internal/audio"
	"github.com/skypro1111/whisper-inference-service/internal/vad"
)

// SherpaConfig locates the ONNX models and tunes the ONNX Runtime
// session. Explicit Encoder/Decoder/Tokens paths override the ones
// derived from Dir, Identifier and ComputeType.
type SherpaConfig struct {
	Identifier    string
	Dir           string
	Encoder       string
	Decoder       string
	Tokens        string
	AlignerModel  string
	AlignerTokens string
	Language      string
	ComputeType   string
	Provider      string
	NumThreads    int
	WindowSeconds float64
	Debug         bool
}

// modelPaths resolves the whisper encoder, decoder and token table,
// deriving them from Dir and Identifier unless set explicitly. The
// compute type selects the quantized export variant.
func (c SherpaConfig) modelPaths() (encoder, decoder, tokens string) {
	suffix := ""
	switch c.ComputeType {
	case "int8":
		suffix = ".int8"
	case "float16":
		suffix = ".fp16"
	}

	encoder = c.Encoder
	if encoder == "" {
		encoder = filepath.Join(c.Dir, fmt.Sprintf("%s-encoder%s.onnx", c.Identifier, suffix))
	}
	decoder = c.Decoder
	if decoder == "" {
		decoder = filepath.Join(c.Dir, fmt.Sprintf("%s-decoder%s.onnx", c.Identifier, suffix))
	}
	tokens = c.Tokens
	if tokens == "" {
		tokens = filepath.Join(c.Dir, fmt.Sprintf("%s-tokens.txt", c.Identifier))
	}
	return encoder, decoder, tokens
}

// SherpaLoader builds local inference backends on sherpa-onnx. The
// optional segmenter gates decoding to detected speech.
type SherpaLoader struct {
	config    SherpaConfig
	segmenter *vad.Segmenter
	logger    *slog.Logger
}

// NewSherpaLoader prepares a loader. Models are opened lazily by the
// Load methods so a restart reloads them from disk.
func NewSherpaLoader(config SherpaConfig, segmenter *vad.Segmenter, logger *slog.Logger) *SherpaLoader {
	if config.NumThreads <= 0 {
		config.NumThreads = 4
	}
	if config.Provider == "" {
		config.Provider = "cpu"
	}
	if config.WindowSeconds <= 0 {
		config.WindowSeconds = 30
	}
	return &SherpaLoader{
		config:    config,
		segmenter: segmenter,
		logger:    logger,
	}
}

// LoadPrecision opens the whisper model and returns the batched
// backend. The returned backend also provides the low-latency core.
func (l *SherpaLoader) LoadPrecision() (PrecisionBackend, error) {
	encoder, decoder, tokens := l.config.modelPaths()

	for _, path := range []string{encoder, decoder, tokens} {
		if _, err := os.Stat(path); err != nil {
			return nil, fmt.Errorf("whisper model file not found at %s: %w", path, err)
		}
	}

	cfg := sherpa.OfflineRecognizerConfig{}
	cfg.FeatConfig.SampleRate = audio.ModelSampleRate
	cfg.FeatConfig.FeatureDim = 80
	cfg.ModelConfig.Whisper.Encoder = encoder
	cfg.ModelConfig.Whisper.Decoder = decoder
	cfg.ModelConfig.Whisper.Language = l.config.Language
	cfg.ModelConfig.Whisper.Task = "transcribe"
	cfg.ModelConfig.Tokens = tokens
	cfg.ModelConfig.ModelType = "whisper"
	cfg.ModelConfig.NumThreads = l.config.NumThreads
	cfg.ModelConfig.Provider = l.config.Provider
	if l.config.Debug {
		cfg.ModelConfig.Debug = 1
	}
	cfg.DecodingMethod = "greedy_search"

	recognizer, err := newRecognizer(&cfg, l.logger, "whisper")
	if err != nil {
		return nil, err
	}

	l.logger.Info("whisper model loaded",
		slog.String("identifier", l.config.Identifier),
		slog.String("encoder", encoder),
		slog.String("compute_type", l.config.ComputeType),
		slog.String("provider", cfg.ModelConfig.Provider))

	return &sherpaBackend{
		config:     l.config,
		recognizer: recognizer,
		segmenter:  l.segmenter,
		logger:     l.logger,
	}, nil
}

// newRecognizer initializes a recognizer, falling back to the cpu
// provider when the configured one cannot start.
func newRecognizer(cfg *sherpa.OfflineRecognizerConfig, logger *slog.Logger, kind string) (*sherpa.OfflineRecognizer, error) {
	recognizer := sherpa.NewOfflineRecognizer(cfg)
	if recognizer == nil && cfg.ModelConfig.Provider != "cpu" {
		logger.Warn("recognizer init failed, retrying on cpu",
			slog.String("kind", kind),
			slog.String("provider", cfg.ModelConfig.Provider))
		cfg.ModelConfig.Provider = "cpu"
		recognizer = sherpa.NewOfflineRecognizer(cfg)
	}
	if recognizer == nil {
		return nil, fmt.Errorf("failed to initialize %s recognizer", kind)
	}
	return recognizer, nil
}

// span is a stretch of samples scheduled for decoding, with its offset
// in seconds from the start of the clip.
type span struct {
	offset  float64
	samples []float32
}

// sherpaBackend decodes locally through a shared whisper recognizer.
// The recognizer is not safe for concurrent decodes, so every decode
// holds mu.
type sherpaBackend struct {
	config     SherpaConfig
	recognizer *sherpa.OfflineRecognizer
	segmenter  *vad.Segmenter
	logger     *slog.Logger

	mu     sync.Mutex
	closed bool
}

// spans schedules a clip for decoding. With a segmenter and useVAD the
// detected speech regions are decoded; otherwise fixed windows are.
func (b *sherpaBackend) spans(samples []float32, useVAD bool) []span {
	if useVAD && b.segmenter != nil {
		segments := b.segmenter.SpeechSegments(samples)
		spans := make([]span, 0, len(segments))
		for _, seg := range segments {
			spans = append(spans, span{offset: seg.Start, samples: seg.Samples})
		}
		return spans
	}

	windows := audio.SplitWindows(samples, audio.ModelSampleRate, b.config.WindowSeconds)
	spans := make([]span, 0, len(windows))
	for _, w := range windows {
		spans = append(spans, span{offset: w.Offset, samples: w.Samples})
	}
	return spans
}

// TranscribeBatch decodes the clip in batches of spans. Spans in one
// batch share a DecodeStreams call so the runtime can parallelize.
func (b *sherpaBackend) TranscribeBatch(samples []float32, opts BatchOptions) ([]Segment, Info, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return nil, Info{}, fmt.Errorf("whisper backend is closed")
	}

	batchSize := opts.BatchSize
	if batchSize <= 0 {
		batchSize = 8
	}

	info := Info{
		Language: b.language(opts.Language),
		Duration: audio.Duration(len(samples), audio.ModelSampleRate),
	}

	spans := b.spans(samples, true)
	if len(spans) == 0 {
		return nil, info, nil
	}

	var segments []Segment
	for start := 0; start < len(spans); start += batchSize {
		end := start + batchSize
		if end > len(spans) {
			end = len(spans)
		}
		batch := spans[start:end]

		streams := make([]*sherpa.OfflineStream, len(batch))
		for i, sp := range batch {
			streams[i] = sherpa.NewOfflineStream(b.recognizer)
			streams[i].AcceptWaveform(audio.ModelSampleRate, sp.samples)
		}

		b.recognizer.DecodeStreams(streams)

		for i, sp := range batch {
			result := streams[i].GetResult()
			sherpa.DeleteOfflineStream(streams[i])

			text := strings.TrimSpace(result.Text)
			if text == "" {
				continue
			}
			if lang := parseLang(result.Lang); lang != "" {
				info.Language = lang
			}
			segments = append(segments, Segment{
				ID:    len(segments),
				Start: sp.offset,
				End:   sp.offset + audio.Duration(len(sp.samples), audio.ModelSampleRate),
				Text:  text,
			})
		}
	}

	return segments, info, nil
}

// FastCore exposes the low-latency path on the already loaded model.
func (b *sherpaBackend) FastCore() FastBackend {
	return &sherpaFastCore{backend: b}
}

// Close releases the recognizer. In-flight decodes finish first
// because Close takes the same lock.
func (b *sherpaBackend) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return
	}
	b.closed = true
	sherpa.DeleteOfflineRecognizer(b.recognizer)
	b.recognizer = nil
}

// decodeSpan runs a single span through the recognizer.
func (b *sherpaBackend) decodeSpan(samples []float32) (string, string, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return "", "", fmt.Errorf("whisper backend is closed")
	}

	stream := sherpa.NewOfflineStream(b.recognizer)
	defer sherpa.DeleteOfflineStream(stream)

	stream.AcceptWaveform(audio.ModelSampleRate, samples)
	b.recognizer.Decode(stream)

	result := stream.GetResult()
	return strings.TrimSpace(result.Text), parseLang(result.Lang), nil
}

func (b *sherpaBackend) language(requested string) string {
	if requested != "" {
		return requested
	}
	return b.config.Language
}

// sherpaFastCore decodes span by span as the stream is drained, so the
// first segment is available before the rest of the clip is decoded.
type sherpaFastCore struct {
	backend *sherpaBackend
}

func (f *sherpaFastCore) Transcribe(samples []float32, opts FastOptions) (SegmentStream, Info, error) {
	if f.backend == nil {
		return nil, Info{}, fmt.Errorf("whisper backend is closed")
	}

	info := Info{
		Language: f.backend.language(opts.Language),
		Duration: audio.Duration(len(samples), audio.ModelSampleRate),
	}

	f.backend.mu.Lock()
	closed := f.backend.closed
	f.backend.mu.Unlock()
	if closed {
		return nil, Info{}, fmt.Errorf("whisper backend is closed")
	}

	return &sherpaStream{
		backend: f.backend,
		spans:   f.backend.spans(samples, opts.VADFilter),
	}, info, nil
}

type sherpaStream struct {
	backend *sherpaBackend
	spans   []span
	next    int
	id      int
}

func (s *sherpaStream) Next() (Segment, error) {
	for s.next < len(s.spans) {
		sp := s.spans[s.next]
		s.next++

		text, _, err := s.backend.decodeSpan(sp.samples)
		if err != nil {
			return Segment{}, err
		}
		if text == "" {
			continue
		}

		seg := Segment{
			ID:    s.id,
			Start: sp.offset,
			End:   sp.offset + audio.Duration(len(sp.samples), audio.ModelSampleRate),
			Text:  text,
		}
		s.id++
		return seg, nil
	}
	return Segment{}, io.EOF
}

// parseLang strips the whisper token wrapper from a detected language,
// turning "<|de|>" into "de".
func parseLang(lang string) string {
	lang = strings.TrimPrefix(lang, "<|")
	lang = strings.TrimSuffix(lang, "|>")
	return lang
}
