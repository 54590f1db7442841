package engine

import (
	"fmt"
	"io"
	"testing"
)

func TestSliceStream(t *testing.T) {
	segments := []Segment{
		{ID: 0, Start: 0, End: 1.5, Text: "hallo"},
		{ID: 1, Start: 1.5, End: 3, Text: "welt"},
	}

	stream := NewSliceStream(segments)

	for i, want := range segments {
		seg, err := stream.Next()
		if err != nil {
			t.Fatalf("Segment %d: unexpected error: %v", i, err)
		}
		if seg.Text != want.Text || seg.ID != want.ID {
			t.Errorf("Segment %d: expected %+v, got %+v", i, want, seg)
		}
	}

	if _, err := stream.Next(); err != io.EOF {
		t.Errorf("Expected io.EOF after last segment, got %v", err)
	}

	if _, err := stream.Next(); err != io.EOF {
		t.Errorf("Expected io.EOF to persist, got %v", err)
	}
}

func TestSliceStreamEmpty(t *testing.T) {
	stream := NewSliceStream(nil)
	if _, err := stream.Next(); err != io.EOF {
		t.Errorf("Expected io.EOF for empty stream, got %v", err)
	}
}

func TestCollect(t *testing.T) {
	segments := []Segment{
		{ID: 0, Text: "eins"},
		{ID: 1, Text: "zwei"},
		{ID: 2, Text: "drei"},
	}

	collected, err := Collect(NewSliceStream(segments))
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}

	if len(collected) != len(segments) {
		t.Fatalf("Expected %d segments, got %d", len(segments), len(collected))
	}

	for i, seg := range collected {
		if seg.Text != segments[i].Text {
			t.Errorf("Segment %d: expected %q, got %q", i, segments[i].Text, seg.Text)
		}
	}
}

// failingStream yields a fixed number of segments and then fails.
type failingStream struct {
	remaining int
	err       error
}

func (s *failingStream) Next() (Segment, error) {
	if s.remaining > 0 {
		s.remaining--
		return Segment{Text: "ok"}, nil
	}
	return Segment{}, s.err
}

func TestCollectPropagatesError(t *testing.T) {
	wantErr := fmt.Errorf("decode blew up")
	stream := &failingStream{remaining: 2, err: wantErr}

	collected, err := Collect(stream)
	if err != wantErr {
		t.Fatalf("Expected decode error, got %v", err)
	}

	if len(collected) != 2 {
		t.Errorf("Expected 2 segments decoded before failure, got %d", len(collected))
	}
}

// stubPrecision records the options it was called with.
type stubPrecision struct {
	segments []Segment
	info     Info
	err      error
	lastOpts BatchOptions
	closed   bool
}

func (s *stubPrecision) TranscribeBatch(samples []float32, opts BatchOptions) ([]Segment, Info, error) {
	s.lastOpts = opts
	return s.segments, s.info, s.err
}

func (s *stubPrecision) Close() { s.closed = true }

func TestFallbackFast(t *testing.T) {
	backend := &stubPrecision{
		segments: []Segment{{ID: 0, Text: "hallo welt"}},
		info:     Info{Language: "de", Duration: 2.5},
	}

	fast := FallbackFast(backend)

	stream, info, err := fast.Transcribe(make([]float32, 16000), FastOptions{
		Language:      "de",
		InitialPrompt: "Satzzeichen sind wichtig.",
		BeamSize:      1,
		BestOf:        1,
	})
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}

	if info.Language != "de" {
		t.Errorf("Expected language de, got %q", info.Language)
	}

	if backend.lastOpts.Language != "de" {
		t.Errorf("Expected language forwarded, got %q", backend.lastOpts.Language)
	}
	if backend.lastOpts.InitialPrompt != "Satzzeichen sind wichtig." {
		t.Errorf("Expected prompt forwarded, got %q", backend.lastOpts.InitialPrompt)
	}

	segments, err := Collect(stream)
	if err != nil {
		t.Fatalf("Unexpected error draining stream: %v", err)
	}
	if len(segments) != 1 || segments[0].Text != "hallo welt" {
		t.Errorf("Expected backend segments replayed, got %+v", segments)
	}
}

func TestFallbackFastError(t *testing.T) {
	backend := &stubPrecision{err: fmt.Errorf("model gone")}

	fast := FallbackFast(backend)
	if _, _, err := fast.Transcribe(nil, FastOptions{}); err == nil {
		t.Fatal("Expected error from failing backend")
	}
}
