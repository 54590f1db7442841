package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/skypro1111/whisper-inference-service/internal/config"
	"github.com/skypro1111/whisper-inference-service/internal/device"
	"github.com/skypro1111/whisper-inference-service/internal/metrics"
	"github.com/skypro1111/whisper-inference-service/internal/model"
	"github.com/skypro1111/whisper-inference-service/internal/retry"
	"github.com/skypro1111/whisper-inference-service/internal/transcribe"
)

// HTTPServer provides the HTTP API for transcription and model management
type HTTPServer struct {
	server       *http.Server
	logger       *slog.Logger
	config       *config.Config
	models       *model.Manager
	dispatcher   *transcribe.Dispatcher
	orchestrator *retry.Orchestrator
	reclaimer    *device.Reclaimer
	metrics      *metrics.Metrics

	spoolDir  string
	startTime time.Time
}

// NewHTTPServer creates a new HTTP API server
func NewHTTPServer(cfg *config.Config, models *model.Manager, dispatcher *transcribe.Dispatcher,
	orchestrator *retry.Orchestrator, reclaimer *device.Reclaimer, logger *slog.Logger, m *metrics.Metrics) *HTTPServer {

	spoolDir := cfg.Transcribe.TempDir
	if spoolDir == "" {
		spoolDir = os.TempDir()
	}

	h := &HTTPServer{
		logger:       logger,
		config:       cfg,
		models:       models,
		dispatcher:   dispatcher,
		orchestrator: orchestrator,
		reclaimer:    reclaimer,
		metrics:      m,
		spoolDir:     spoolDir,
		startTime:    time.Now(),
	}

	// Create HTTP server with routes
	mux := http.NewServeMux()
	h.setupRoutes(mux)

	// No read/write deadlines: uploads can be large and a transcription
	// with recovery pauses between attempts can run for minutes.
	h.server = &http.Server{
		Addr:              fmt.Sprintf("%s:%d", cfg.Server.Address, cfg.Server.Port),
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	return h
}

// setupRoutes configures HTTP API routes
func (h *HTTPServer) setupRoutes(mux *http.ServeMux) {
	// Health check endpoint
	mux.HandleFunc("/health", h.withMetrics("/health", h.handleHealth))

	// Transcription endpoint
	mux.HandleFunc("/transcribe", h.withMetrics("/transcribe", h.handleTranscribe))

	// Model management endpoints
	mux.HandleFunc("/warmup", h.withMetrics("/warmup", h.handleWarmup))
	mux.HandleFunc("/clear-vram", h.withMetrics("/clear-vram", h.handleClearVRAM))
	mux.HandleFunc("/restart", h.withMetrics("/restart", h.handleRestart))

	// Recovery diagnostics endpoint
	mux.HandleFunc("/retry-logs", h.withMetrics("/retry-logs", h.handleRetryLogs))

	// Prometheus metrics endpoint (no metrics needed for metrics endpoint)
	mux.Handle("/metrics", promhttp.Handler())

	// Root endpoint with API documentation
	mux.HandleFunc("/", h.withMetrics("/", h.handleRoot))
}

// withMetrics wraps an HTTP handler with metrics collection
func (h *HTTPServer) withMetrics(endpoint string, handler http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		startTime := time.Now()

		// Create a response writer wrapper to capture status code
		ww := &responseWriter{ResponseWriter: w, statusCode: 200}

		// Call the original handler
		handler(ww, r)

		// Record metrics
		duration := time.Since(startTime).Seconds()
		statusCode := fmt.Sprintf("%d", ww.statusCode)

		h.metrics.RecordHTTPRequest(r.Method, endpoint, statusCode, duration)

		// Record error if status code indicates an error
		if ww.statusCode >= 400 {
			errorType := "client_error"
			if ww.statusCode >= 500 {
				errorType = "server_error"
			}
			h.metrics.RecordHTTPError(r.Method, endpoint, errorType)
		}
	}
}

// responseWriter wraps http.ResponseWriter to capture status code
type responseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}

// Start starts the HTTP server
func (h *HTTPServer) Start() error {
	h.logger.Info("Starting HTTP API server",
		slog.String("address", h.server.Addr),
	)

	go func() {
		if err := h.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			h.logger.Error("HTTP server error", slog.String("error", err.Error()))
		}
	}()

	return nil
}

// Stop gracefully stops the HTTP server
func (h *HTTPServer) Stop(ctx context.Context) error {
	h.logger.Info("Stopping HTTP API server...")

	return h.server.Shutdown(ctx)
}

// writeJSON writes a JSON response with the given status code
func (h *HTTPServer) writeJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		h.logger.Error("Failed to encode response", slog.String("error", err.Error()))
	}
}

// handleHealth implements the /health endpoint
func (h *HTTPServer) handleHealth(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	status := h.models.Status()
	memory, err := h.reclaimer.MemoryStats()
	if err != nil {
		h.logger.Warn("Failed to read memory stats", slog.String("error", err.Error()))
	}

	health := map[string]interface{}{
		"status":          "healthy",
		"timestamp":       time.Now().UTC(),
		"uptime":          time.Since(h.startTime).String(),
		"device":          h.reclaimer.Device(),
		"model":           h.config.Model.Identifier,
		"language":        h.config.Model.Language,
		"model_loaded":    status.Loaded,
		"warmed_up":       status.WarmedUp,
		"turbo_available": status.Loaded,
		"align_available": status.Aligned,
		"restarts":        status.Restarts,
		"retry_count":     h.orchestrator.Log().Len(),
		"memory":          memory,
	}

	h.writeJSON(w, http.StatusOK, health)
}

// handleTranscribe implements the /transcribe endpoint. The upload is
// staged to the spool directory for the duration of the request; the
// handler removes it and reclaims device memory on every exit path.
func (h *HTTPServer) handleTranscribe(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	requestID := uuid.New().String()
	start := time.Now()

	maxBytes := int64(h.config.Server.MaxUploadMB) << 20
	r.Body = http.MaxBytesReader(w, r.Body, maxBytes)
	if err := r.ParseMultipartForm(32 << 20); err != nil {
		var tooBig *http.MaxBytesError
		if errors.As(err, &tooBig) {
			h.writeJSON(w, http.StatusRequestEntityTooLarge, map[string]interface{}{
				"error": fmt.Sprintf("Upload exceeds %d MB limit", h.config.Server.MaxUploadMB),
			})
			return
		}
		h.writeJSON(w, http.StatusBadRequest, map[string]interface{}{
			"error": "No file provided",
		})
		return
	}

	path, filename, err := h.stageUpload(r)
	if err != nil {
		status := http.StatusInternalServerError
		if transcribe.KindOf(err) == transcribe.KindValidation {
			status = http.StatusBadRequest
		}
		h.logger.Warn("Transcription request rejected",
			slog.String("request_id", requestID),
			slog.String("error", err.Error()))
		h.writeJSON(w, status, map[string]interface{}{"error": err.Error()})
		return
	}

	defer func() {
		if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
			h.logger.Warn("Failed to remove staged upload",
				slog.String("path", path),
				slog.String("error", err.Error()))
		}
		h.reclaimer.Reclaim()
	}()

	req := transcribe.Request{
		Path:      path,
		Filename:  filename,
		SpeedMode: r.FormValue("speed_mode"),
		Language:  r.FormValue("language"),
		Prompt:    r.FormValue("initial_prompt"),
		SkipAlign: !parseBoolField(r.FormValue("align"), true),
	}

	h.logger.Info("Transcription request received",
		slog.String("request_id", requestID),
		slog.String("filename", filename),
		slog.String("speed_mode", req.SpeedMode),
		slog.Bool("align", !req.SkipAlign))

	result, err := h.orchestrator.Run(req)
	if err != nil {
		var exhausted *retry.ExhaustedError
		if errors.As(err, &exhausted) {
			h.logger.Error("Transcription failed after all retries",
				slog.String("request_id", requestID),
				slog.Int("attempts", exhausted.Attempts),
				slog.String("error", exhausted.LastErr.Error()))
			h.writeJSON(w, http.StatusInternalServerError, map[string]interface{}{
				"error":    "Transcription failed after all retries",
				"message":  exhausted.LastErr.Error(),
				"attempts": exhausted.Attempts,
			})
			return
		}

		status := http.StatusInternalServerError
		if transcribe.KindOf(err) == transcribe.KindValidation {
			status = http.StatusBadRequest
		}
		h.writeJSON(w, status, map[string]interface{}{"error": err.Error()})
		return
	}

	h.logger.Info("Transcription request finished",
		slog.String("request_id", requestID),
		slog.String("mode", string(result.Mode)),
		slog.Int("attempt", result.Attempt),
		slog.Int("segments", len(result.Segments)),
		slog.Duration("elapsed", time.Since(start)))

	h.writeJSON(w, http.StatusOK, result)
}

// stageUpload validates the multipart upload and spools it to disk
// under a fresh name. Validation failures come back tagged so the
// handler maps them onto 400 without touching the retry pipeline.
func (h *HTTPServer) stageUpload(r *http.Request) (string, string, error) {
	files := r.MultipartForm.File["file"]
	if len(files) == 0 {
		// A file part with an empty filename parses as a plain value.
		if _, ok := r.MultipartForm.Value["file"]; ok {
			return "", "", transcribe.NewValidationError("Empty filename")
		}
		return "", "", transcribe.NewValidationError("No file provided")
	}
	header := files[0]

	file, err := header.Open()
	if err != nil {
		return "", "", fmt.Errorf("failed to open upload: %w", err)
	}
	defer file.Close()

	path := filepath.Join(h.spoolDir, uuid.New().String()+filepath.Ext(header.Filename))
	out, err := os.Create(path)
	if err != nil {
		return "", "", fmt.Errorf("failed to stage upload: %w", err)
	}
	defer out.Close()

	if _, err := io.Copy(out, file); err != nil {
		os.Remove(path)
		return "", "", fmt.Errorf("failed to stage upload: %w", err)
	}

	return path, header.Filename, nil
}

// handleWarmup implements the /warmup endpoint
func (h *HTTPServer) handleWarmup(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	if !h.models.Loaded() {
		if err := h.models.LoadAll(); err != nil {
			h.writeJSON(w, http.StatusInternalServerError, map[string]interface{}{
				"status":  "error",
				"message": err.Error(),
			})
			return
		}
	}

	elapsed, err := h.dispatcher.Warmup()
	if err != nil {
		h.writeJSON(w, http.StatusInternalServerError, map[string]interface{}{
			"status":  "error",
			"message": err.Error(),
		})
		return
	}

	h.writeJSON(w, http.StatusOK, map[string]interface{}{
		"status":      "warmed_up",
		"warmup_time": elapsed.Seconds(),
		"device":      h.reclaimer.Device(),
		"model":       h.config.Model.Identifier,
	})
}

// handleClearVRAM implements the /clear-vram endpoint. A pass that hit
// step errors still answers 200; the body carries the partial status.
func (h *HTTPServer) handleClearVRAM(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	response := map[string]interface{}{
		"status":  "success",
		"message": "VRAM cache cleared",
		"device":  h.reclaimer.Device(),
	}

	if !h.reclaimer.Reclaim() {
		response["status"] = "partial"
		response["message"] = "Memory reclaim finished with errors"
		if stats := h.reclaimer.Stats(); stats.LastError != "" {
			response["message"] = stats.LastError
		}
	}

	h.writeJSON(w, http.StatusOK, response)
}

// handleRestart implements the /restart endpoint
func (h *HTTPServer) handleRestart(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	h.logger.Info("Manual model restart requested")

	response := map[string]interface{}{
		"device": h.reclaimer.Device(),
		"model":  h.config.Model.Identifier,
	}

	if err := h.models.Restart(); err != nil {
		response["status"] = "error"
		response["message"] = err.Error()
		h.writeJSON(w, http.StatusInternalServerError, response)
		return
	}

	response["status"] = "success"
	response["message"] = "Model restarted"
	h.writeJSON(w, http.StatusOK, response)
}

// handleRetryLogs implements the /retry-logs endpoint
func (h *HTTPServer) handleRetryLogs(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	log := h.orchestrator.Log()

	h.writeJSON(w, http.StatusOK, map[string]interface{}{
		"logs":  log.Entries(),
		"count": log.Len(),
	})
}

// handleRoot implements the / endpoint with API documentation
func (h *HTTPServer) handleRoot(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	if r.URL.Path != "/" {
		http.NotFound(w, r)
		return
	}

	apiDoc := map[string]interface{}{
		"service": "Whisper Inference Service",
		"version": "1.0.0",
		"endpoints": map[string]interface{}{
			"GET /":            "API documentation",
			"GET /health":      "Service health and memory state",
			"POST /transcribe": "Transcribe an uploaded audio file",
			"POST /warmup":     "Push a silent clip through the model",
			"POST /clear-vram": "Release cached device memory",
			"POST /restart":    "Reload the model stack",
			"GET /retry-logs":  "Recent recovery diagnostics",
			"GET /metrics":     "Prometheus metrics",
		},
		"timestamp": time.Now().UTC(),
	}

	h.writeJSON(w, http.StatusOK, apiDoc)
}

// parseBoolField reads a form bool, keeping the default when the field
// is absent or unparseable.
func parseBoolField(value string, def bool) bool {
	value = strings.TrimSpace(value)
	if value == "" {
		return def
	}
	parsed, err := strconv.ParseBool(strings.ToLower(value))
	if err != nil {
		return def
	}
	return parsed
}
