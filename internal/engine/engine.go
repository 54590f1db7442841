package engine

import (
	"errors"
	"io"
)

// ErrAlignerNotConfigured is returned by loaders when no alignment
// model was configured. Callers treat it as a soft condition and run
// without word timestamps.
var ErrAlignerNotConfigured = errors.New("aligner model not configured")

// Word is a word-level timestamp produced by alignment.
type Word struct {
	Word  string  `json:"word"`
	Start float64 `json:"start"`
	End   float64 `json:"end"`
}

// Segment is one recognized stretch of speech within a clip. Times are
// seconds from the start of the clip.
type Segment struct {
	ID    int     `json:"id"`
	Start float64 `json:"start"`
	End   float64 `json:"end"`
	Text  string  `json:"text"`
	Words []Word  `json:"words,omitempty"`
}

// Info describes the decoded clip as a whole.
type Info struct {
	Language string
	Duration float64
}

// FastOptions tunes the low-latency decoding path.
type FastOptions struct {
	Language       string
	InitialPrompt  string
	BeamSize       int
	BestOf         int
	VADFilter      bool
	WordTimestamps bool
}

// BatchOptions tunes the batched decoding path. A zero BatchSize lets
// the backend pick its default.
type BatchOptions struct {
	Language      string
	InitialPrompt string
	BatchSize     int
}

// SegmentStream yields segments as decoding progresses. Next returns
// io.EOF after the final segment.
type SegmentStream interface {
	Next() (Segment, error)
}

// FastBackend is the low-latency decoding path. Segments become
// available one at a time as the stream is drained.
type FastBackend interface {
	Transcribe(samples []float32, opts FastOptions) (SegmentStream, Info, error)
}

// PrecisionBackend is the batched decoding path. Close releases the
// model so its memory can be reclaimed.
type PrecisionBackend interface {
	TranscribeBatch(samples []float32, opts BatchOptions) ([]Segment, Info, error)
	Close()
}

// FastCoreProvider is implemented by precision backends that expose a
// dedicated low-latency path sharing the loaded model.
type FastCoreProvider interface {
	FastCore() FastBackend
}

// Aligner refines segment boundaries to word level.
type Aligner interface {
	Align(samples []float32, segments []Segment, language string) ([]Segment, error)
	Close()
}

// Loader constructs inference backends. The lifecycle manager owns the
// returned backends and replaces them as a unit on restart.
type Loader interface {
	LoadPrecision() (PrecisionBackend, error)
	LoadAligner() (Aligner, error)
}

// Collect drains a stream into a slice. On error the segments decoded
// so far are returned alongside it.
func Collect(stream SegmentStream) ([]Segment, error) {
	var segments []Segment
	for {
		seg, err := stream.Next()
		if err == io.EOF {
			return segments, nil
		}
		if err != nil {
			return segments, err
		}
		segments = append(segments, seg)
	}
}

type sliceStream struct {
	segments []Segment
	next     int
}

// NewSliceStream wraps already-decoded segments in the stream
// interface.
func NewSliceStream(segments []Segment) SegmentStream {
	return &sliceStream{segments: segments}
}

func (s *sliceStream) Next() (Segment, error) {
	if s.next >= len(s.segments) {
		return Segment{}, io.EOF
	}
	seg := s.segments[s.next]
	s.next++
	return seg, nil
}

type fallbackFast struct {
	backend PrecisionBackend
}

// FallbackFast adapts a precision backend into the fast path for
// backends without a dedicated low-latency core. Decoding happens
// up front; the stream replays the finished segments.
func FallbackFast(backend PrecisionBackend) FastBackend {
	return &fallbackFast{backend: backend}
}

func (f *fallbackFast) Transcribe(samples []float32, opts FastOptions) (SegmentStream, Info, error) {
	segments, info, err := f.backend.TranscribeBatch(samples, BatchOptions{
		Language:      opts.Language,
		InitialPrompt: opts.InitialPrompt,
	})
	if err != nil {
		return nil, Info{}, err
	}
	return NewSliceStream(segments), info, nil
}
