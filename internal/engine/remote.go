package engine

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"sync"
	"time"

	"github.com/skypro1111/whisper-inference-service/internal/audio"
)

// RemoteConfig points at an HTTP transcription service that accepts
// multipart audio uploads and answers with JSON.
type RemoteConfig struct {
	Endpoint string
	APIKey   string
	Timeout  time.Duration
	Language string
}

// RemoteLoader builds backends that delegate decoding to a remote
// service. Alignment stays with the remote side, so no local aligner
// is provided.
type RemoteLoader struct {
	config RemoteConfig
	logger *slog.Logger
}

// NewRemoteLoader prepares a loader for the remote backend.
func NewRemoteLoader(config RemoteConfig, logger *slog.Logger) *RemoteLoader {
	return &RemoteLoader{config: config, logger: logger}
}

// LoadPrecision returns a backend bound to the remote endpoint.
func (l *RemoteLoader) LoadPrecision() (PrecisionBackend, error) {
	return NewRemoteBackend(l.config, l.logger)
}

// LoadAligner reports that alignment is not available locally.
func (l *RemoteLoader) LoadAligner() (Aligner, error) {
	return nil, ErrAlignerNotConfigured
}

// RemoteStats tracks request outcomes for diagnostics.
type RemoteStats struct {
	TotalRequests   uint64  `json:"total_requests"`
	SuccessRequests uint64  `json:"success_requests"`
	FailedRequests  uint64  `json:"failed_requests"`
	SuccessRate     float64 `json:"success_rate"`
}

// RemoteBackend sends clips to an HTTP transcription service. A failed
// request is reported as-is; retries are the recovery layer's job, and
// hiding attempts here would skew its accounting.
type RemoteBackend struct {
	config     RemoteConfig
	httpClient *http.Client
	logger     *slog.Logger

	mu              sync.RWMutex
	totalRequests   uint64
	successRequests uint64
	failedRequests  uint64
}

// remoteResponse is the JSON shape the remote service answers with.
type remoteResponse struct {
	Text     string    `json:"text"`
	Segments []Segment `json:"segments"`
	Language string    `json:"language"`
	Duration float64   `json:"duration"`
}

// NewRemoteBackend validates the endpoint and prepares the HTTP
// client.
func NewRemoteBackend(config RemoteConfig, logger *slog.Logger) (*RemoteBackend, error) {
	if config.Endpoint == "" {
		return nil, fmt.Errorf("remote endpoint cannot be empty")
	}

	if config.Timeout <= 0 {
		config.Timeout = 30 * time.Second
	}

	httpClient := &http.Client{
		Timeout: config.Timeout,
		Transport: &http.Transport{
			MaxIdleConns:        100,
			MaxIdleConnsPerHost: 10,
			IdleConnTimeout:     90 * time.Second,
		},
	}

	return &RemoteBackend{
		config:     config,
		httpClient: httpClient,
		logger:     logger,
	}, nil
}

// TranscribeBatch uploads the clip as WAV and maps the response onto
// segments. A response carrying only text becomes a single segment
// covering the clip.
func (b *RemoteBackend) TranscribeBatch(samples []float32, opts BatchOptions) ([]Segment, Info, error) {
	b.incrementTotal()

	duration := audio.Duration(len(samples), audio.ModelSampleRate)

	body, contentType, err := b.createMultipartRequest(samples, opts)
	if err != nil {
		b.incrementFailed()
		return nil, Info{}, fmt.Errorf("failed to create multipart request: %w", err)
	}

	httpReq, err := http.NewRequest(http.MethodPost, b.config.Endpoint, body)
	if err != nil {
		b.incrementFailed()
		return nil, Info{}, fmt.Errorf("failed to create HTTP request: %w", err)
	}

	httpReq.Header.Set("Content-Type", contentType)
	httpReq.Header.Set("Accept", "application/json")
	httpReq.Header.Set("User-Agent", "whisper-inference-service/1.0")
	if b.config.APIKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+b.config.APIKey)
	}

	resp, err := b.httpClient.Do(httpReq)
	if err != nil {
		b.incrementFailed()
		return nil, Info{}, fmt.Errorf("HTTP request failed: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		b.incrementFailed()
		return nil, Info{}, fmt.Errorf("failed to read response body: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		b.incrementFailed()
		return nil, Info{}, fmt.Errorf("HTTP error %d: %s", resp.StatusCode, string(respBody))
	}

	var remote remoteResponse
	if err := json.Unmarshal(respBody, &remote); err != nil {
		b.incrementFailed()
		return nil, Info{}, fmt.Errorf("failed to parse response JSON: %w", err)
	}

	segments := remote.Segments
	if len(segments) == 0 && remote.Text != "" {
		segments = []Segment{{ID: 0, Start: 0, End: duration, Text: remote.Text}}
	}

	info := Info{Language: remote.Language, Duration: remote.Duration}
	if info.Language == "" {
		info.Language = opts.Language
	}
	if info.Language == "" {
		info.Language = b.config.Language
	}
	if info.Duration == 0 {
		info.Duration = duration
	}

	b.incrementSuccess()
	return segments, info, nil
}

// createMultipartRequest builds the multipart/form-data upload for a
// clip.
func (b *RemoteBackend) createMultipartRequest(samples []float32, opts BatchOptions) (io.Reader, string, error) {
	wav, err := audio.EncodeWAV(audio.ToInt16(samples), audio.ModelSampleRate)
	if err != nil {
		return nil, "", fmt.Errorf("failed to encode audio: %w", err)
	}

	var buf bytes.Buffer
	writer := multipart.NewWriter(&buf)

	fileWriter, err := writer.CreateFormFile("file", "clip.wav")
	if err != nil {
		return nil, "", fmt.Errorf("failed to create form file: %w", err)
	}
	if _, err := fileWriter.Write(wav); err != nil {
		return nil, "", fmt.Errorf("failed to write audio data: %w", err)
	}

	fields := map[string]string{
		"response_format": "json",
	}
	if opts.Language != "" {
		fields["language"] = opts.Language
	} else if b.config.Language != "" {
		fields["language"] = b.config.Language
	}
	if opts.InitialPrompt != "" {
		fields["initial_prompt"] = opts.InitialPrompt
	}
	if opts.BatchSize > 0 {
		fields["batch_size"] = fmt.Sprintf("%d", opts.BatchSize)
	}

	for key, value := range fields {
		if err := writer.WriteField(key, value); err != nil {
			return nil, "", fmt.Errorf("failed to write field %s: %w", key, err)
		}
	}

	if err := writer.Close(); err != nil {
		return nil, "", fmt.Errorf("failed to close multipart writer: %w", err)
	}

	return &buf, writer.FormDataContentType(), nil
}

// Close drops pooled connections. The remote service owns the model,
// so there is nothing else to release.
func (b *RemoteBackend) Close() {
	b.httpClient.CloseIdleConnections()
}

func (b *RemoteBackend) incrementTotal() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.totalRequests++
}

func (b *RemoteBackend) incrementSuccess() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.successRequests++
}

func (b *RemoteBackend) incrementFailed() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.failedRequests++
}

// GetStats returns current request statistics.
func (b *RemoteBackend) GetStats() RemoteStats {
	b.mu.RLock()
	defer b.mu.RUnlock()

	successRate := float64(0)
	if b.totalRequests > 0 {
		successRate = float64(b.successRequests) / float64(b.totalRequests) * 100
	}

	return RemoteStats{
		TotalRequests:   b.totalRequests,
		SuccessRequests: b.successRequests,
		FailedRequests:  b.failedRequests,
		SuccessRate:     successRate,
	}
}
