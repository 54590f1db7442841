package model

import (
	"fmt"
	"log/slog"
	"os"
	"testing"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/skypro1111/whisper-inference-service/internal/device"
	"github.com/skypro1111/whisper-inference-service/internal/engine"
	"github.com/skypro1111/whisper-inference-service/internal/metrics"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelError,
	}))
}

func testReclaimer() *device.Reclaimer {
	return device.NewReclaimer(device.NewHostRuntime("cpu"), testLogger(), nil)
}

func testMetrics() *metrics.Metrics {
	return metrics.NewMetricsWith(prometheus.NewRegistry())
}

// stubBackend implements engine.PrecisionBackend.
type stubBackend struct {
	id     int
	closed bool
}

func (s *stubBackend) TranscribeBatch(samples []float32, opts engine.BatchOptions) ([]engine.Segment, engine.Info, error) {
	return []engine.Segment{{Text: fmt.Sprintf("backend-%d", s.id)}}, engine.Info{Language: "de"}, nil
}

func (s *stubBackend) Close() { s.closed = true }

// coreBackend additionally provides a dedicated fast core.
type coreBackend struct {
	stubBackend
	core engine.FastBackend
}

func (c *coreBackend) FastCore() engine.FastBackend { return c.core }

type markerFast struct{}

func (markerFast) Transcribe(samples []float32, opts engine.FastOptions) (engine.SegmentStream, engine.Info, error) {
	return engine.NewSliceStream(nil), engine.Info{Language: "marker"}, nil
}

// stubAligner implements engine.Aligner.
type stubAligner struct {
	closed bool
}

func (s *stubAligner) Align(samples []float32, segments []engine.Segment, language string) ([]engine.Segment, error) {
	return segments, nil
}

func (s *stubAligner) Close() { s.closed = true }

// stubLoader hands out fresh stub backends and counts loads.
type stubLoader struct {
	loads        int
	alignerLoads int
	precisionErr error
	failOnLoad   int // fail when loads reaches this value, 0 disables
	alignerErr   error
	withCore     bool

	lastBackend *stubBackend
	lastAligner *stubAligner
}

func (l *stubLoader) LoadPrecision() (engine.PrecisionBackend, error) {
	l.loads++
	if l.precisionErr != nil {
		return nil, l.precisionErr
	}
	if l.failOnLoad > 0 && l.loads == l.failOnLoad {
		return nil, fmt.Errorf("load %d failed", l.loads)
	}

	backend := &stubBackend{id: l.loads}
	l.lastBackend = backend
	if l.withCore {
		return &coreBackend{stubBackend: *backend, core: markerFast{}}, nil
	}
	return backend, nil
}

func (l *stubLoader) LoadAligner() (engine.Aligner, error) {
	l.alignerLoads++
	if l.alignerErr != nil {
		return nil, l.alignerErr
	}
	l.lastAligner = &stubAligner{}
	return l.lastAligner, nil
}

func TestLoadAll(t *testing.T) {
	loader := &stubLoader{}
	manager := NewManager(loader, testReclaimer(), testLogger(), testMetrics())

	if manager.Loaded() {
		t.Fatal("Expected manager to start unloaded")
	}

	if err := manager.LoadAll(); err != nil {
		t.Fatalf("LoadAll failed: %v", err)
	}

	if !manager.Loaded() {
		t.Error("Expected manager to be loaded")
	}

	if _, err := manager.Fast(); err != nil {
		t.Errorf("Fast failed: %v", err)
	}

	if _, err := manager.Precision(); err != nil {
		t.Errorf("Precision failed: %v", err)
	}

	if manager.Aligner() == nil {
		t.Error("Expected aligner to be loaded")
	}

	status := manager.Status()
	if !status.Loaded || !status.WarmedUp || !status.Aligned || status.Restarts != 0 {
		t.Errorf("Unexpected status: %+v", status)
	}
}

func TestLoadAllTwiceIsNoop(t *testing.T) {
	loader := &stubLoader{}
	manager := NewManager(loader, testReclaimer(), testLogger(), testMetrics())

	if err := manager.LoadAll(); err != nil {
		t.Fatalf("LoadAll failed: %v", err)
	}
	if err := manager.LoadAll(); err != nil {
		t.Fatalf("Second LoadAll failed: %v", err)
	}

	if loader.loads != 1 {
		t.Errorf("Expected 1 load, got %d", loader.loads)
	}
}

func TestLoadAllPrecisionError(t *testing.T) {
	loader := &stubLoader{precisionErr: fmt.Errorf("no model files")}
	manager := NewManager(loader, testReclaimer(), testLogger(), testMetrics())

	if err := manager.LoadAll(); err == nil {
		t.Fatal("Expected load error")
	}

	if manager.Loaded() {
		t.Error("Expected manager to stay unloaded after failure")
	}

	if _, err := manager.Fast(); err != ErrNotLoaded {
		t.Errorf("Expected ErrNotLoaded, got %v", err)
	}
}

func TestLoadAllUsesFastCore(t *testing.T) {
	loader := &stubLoader{withCore: true}
	manager := NewManager(loader, testReclaimer(), testLogger(), testMetrics())

	if err := manager.LoadAll(); err != nil {
		t.Fatalf("LoadAll failed: %v", err)
	}

	fast, err := manager.Fast()
	if err != nil {
		t.Fatalf("Fast failed: %v", err)
	}

	_, info, err := fast.Transcribe(nil, engine.FastOptions{})
	if err != nil {
		t.Fatalf("Transcribe failed: %v", err)
	}
	if info.Language != "marker" {
		t.Errorf("Expected the dedicated fast core, got language %q", info.Language)
	}
}

func TestLoadAllFallbackFast(t *testing.T) {
	loader := &stubLoader{}
	manager := NewManager(loader, testReclaimer(), testLogger(), testMetrics())

	if err := manager.LoadAll(); err != nil {
		t.Fatalf("LoadAll failed: %v", err)
	}

	fast, err := manager.Fast()
	if err != nil {
		t.Fatalf("Fast failed: %v", err)
	}

	stream, info, err := fast.Transcribe(nil, engine.FastOptions{})
	if err != nil {
		t.Fatalf("Transcribe failed: %v", err)
	}
	if info.Language != "de" {
		t.Errorf("Expected fallback through the precision backend, got %q", info.Language)
	}

	segments, err := engine.Collect(stream)
	if err != nil {
		t.Fatalf("Collect failed: %v", err)
	}
	if len(segments) != 1 || segments[0].Text != "backend-1" {
		t.Errorf("Unexpected segments: %+v", segments)
	}
}

func TestLoadAllAlignerNotConfigured(t *testing.T) {
	loader := &stubLoader{alignerErr: engine.ErrAlignerNotConfigured}
	manager := NewManager(loader, testReclaimer(), testLogger(), testMetrics())

	if err := manager.LoadAll(); err != nil {
		t.Fatalf("LoadAll must tolerate a missing aligner: %v", err)
	}

	if manager.Aligner() != nil {
		t.Error("Expected nil aligner")
	}

	if manager.Status().Aligned {
		t.Error("Expected alignment to be reported unavailable")
	}
}

func TestLoadAllAlignerFailure(t *testing.T) {
	loader := &stubLoader{alignerErr: fmt.Errorf("corrupt aligner model")}
	manager := NewManager(loader, testReclaimer(), testLogger(), testMetrics())

	if err := manager.LoadAll(); err != nil {
		t.Fatalf("LoadAll must tolerate aligner failure: %v", err)
	}

	if !manager.Loaded() {
		t.Error("Expected precision model to be loaded despite aligner failure")
	}
}

func TestRestart(t *testing.T) {
	loader := &stubLoader{}
	manager := NewManager(loader, testReclaimer(), testLogger(), testMetrics())

	if err := manager.LoadAll(); err != nil {
		t.Fatalf("LoadAll failed: %v", err)
	}

	first := loader.lastBackend
	firstAligner := loader.lastAligner

	if err := manager.Restart(); err != nil {
		t.Fatalf("Restart failed: %v", err)
	}

	if !first.closed {
		t.Error("Expected the old backend to be closed")
	}
	if !firstAligner.closed {
		t.Error("Expected the old aligner to be closed")
	}

	if loader.loads != 2 {
		t.Errorf("Expected 2 loads, got %d", loader.loads)
	}

	status := manager.Status()
	if !status.Loaded {
		t.Error("Expected manager loaded after restart")
	}
	if !status.WarmedUp {
		t.Error("Expected warmup flag set again by the reload")
	}
	if status.Restarts != 1 {
		t.Errorf("Expected 1 restart, got %d", status.Restarts)
	}
}

func TestRestartLoadFailure(t *testing.T) {
	loader := &stubLoader{failOnLoad: 2}
	manager := NewManager(loader, testReclaimer(), testLogger(), testMetrics())

	if err := manager.LoadAll(); err != nil {
		t.Fatalf("LoadAll failed: %v", err)
	}

	if err := manager.Restart(); err == nil {
		t.Fatal("Expected restart to fail")
	}

	if manager.Loaded() {
		t.Error("Expected manager empty after failed restart")
	}
	if manager.Status().WarmedUp {
		t.Error("Flags must not claim warmed up while the stack is empty")
	}

	if _, err := manager.Precision(); err != ErrNotLoaded {
		t.Errorf("Expected ErrNotLoaded, got %v", err)
	}

	// The next restart loads fresh models again.
	if err := manager.Restart(); err != nil {
		t.Fatalf("Recovery restart failed: %v", err)
	}
	if !manager.Loaded() {
		t.Error("Expected manager loaded after recovery restart")
	}
}

func TestClose(t *testing.T) {
	loader := &stubLoader{}
	manager := NewManager(loader, testReclaimer(), testLogger(), testMetrics())

	if err := manager.LoadAll(); err != nil {
		t.Fatalf("LoadAll failed: %v", err)
	}

	backend := loader.lastBackend
	manager.Close()

	if !backend.closed {
		t.Error("Expected backend closed")
	}
	if manager.Loaded() {
		t.Error("Expected manager unloaded after Close")
	}

	// Closing again is harmless.
	manager.Close()
}
