package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"

	"github.com/skypro1111/whisper-inference-service/internal/config"
	"github.com/skypro1111/whisper-inference-service/internal/device"
	"github.com/skypro1111/whisper-inference-service/internal/engine"
	"github.com/skypro1111/whisper-inference-service/internal/metrics"
	"github.com/skypro1111/whisper-inference-service/internal/model"
	"github.com/skypro1111/whisper-inference-service/internal/retry"
	"github.com/skypro1111/whisper-inference-service/internal/server"
	"github.com/skypro1111/whisper-inference-service/internal/transcribe"
	"github.com/skypro1111/whisper-inference-service/internal/vad"
)

const (
	serviceName    = "whisper-inference-service"
	serviceVersion = "1.0.0"
)

func main() {
	// Parse command line flags
	configPath := flag.String("config", "", "Path to configuration file (defaults to $WHISPER_CONFIG)")
	flag.Parse()

	// Pull in a local .env when present; deployments set real env vars
	_ = godotenv.Load()

	if *configPath == "" {
		*configPath = os.Getenv("WHISPER_CONFIG")
	}

	// Load configuration
	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	// Initialize logger based on configuration
	logger := initLogger(cfg.Logging)

	// Log service startup
	logger.Info("Service starting",
		slog.String("service", serviceName),
		slog.String("version", serviceVersion),
		slog.String("config_path", *configPath),
	)

	// Log configuration summary (without sensitive data)
	logger.Info("Configuration loaded",
		slog.Int("port", cfg.Server.Port),
		slog.String("address", cfg.Server.Address),
		slog.String("model", cfg.Model.Identifier),
		slog.String("backend", cfg.Model.Backend),
		slog.String("device", cfg.Model.Device),
		slog.String("compute_type", cfg.Model.ComputeType),
		slog.String("language", cfg.Model.Language),
		slog.Int("max_attempts", cfg.Retry.MaxAttempts),
		slog.String("vad_model_path", cfg.VAD.ModelPath),
		slog.String("log_level", cfg.Logging.Level),
	)

	// Create cancellable context for graceful shutdown
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Initialize Prometheus metrics
	appMetrics := metrics.NewMetrics()
	logger.Info("Prometheus metrics initialized")

	// Spool directory for uploads in flight
	if cfg.Transcribe.TempDir != "" {
		if err := os.MkdirAll(cfg.Transcribe.TempDir, 0o755); err != nil {
			logger.Error("Failed to create spool directory",
				slog.String("dir", cfg.Transcribe.TempDir),
				slog.String("error", err.Error()))
			os.Exit(1)
		}
	}

	// Device runtime and memory reclaimer
	reclaimer := device.NewReclaimer(device.NewHostRuntime(cfg.Model.Device), logger, appMetrics)

	// Voice activity detection; without a model the backends decode
	// whole clips instead of speech spans
	var segmenter *vad.Segmenter
	if cfg.VAD.ModelPath != "" {
		segmenter, err = vad.NewSegmenter(vad.Config{
			ModelPath:          cfg.VAD.ModelPath,
			Threshold:          cfg.VAD.Threshold,
			WindowSize:         cfg.VAD.WindowSize,
			MinSpeechDuration:  cfg.VAD.MinSpeechDuration,
			MinSilenceDuration: cfg.VAD.MinSilenceDuration,
			MaxSpeechDuration:  cfg.VAD.MaxSpeechDuration,
			BufferSeconds:      cfg.VAD.BufferSeconds,
			NumThreads:         cfg.Model.NumThreads,
			Provider:           cfg.Model.Device,
		}, logger, appMetrics)
		if err != nil {
			logger.Warn("Voice activity detection disabled",
				slog.String("model_path", cfg.VAD.ModelPath),
				slog.String("error", err.Error()))
			segmenter = nil
		} else {
			logger.Info("Voice activity detection initialized",
				slog.String("model_path", cfg.VAD.ModelPath))
		}
	}

	// Model loader for the configured backend
	var loader engine.Loader
	switch cfg.Model.Backend {
	case "remote":
		loader = engine.NewRemoteLoader(engine.RemoteConfig{
			Endpoint: cfg.Model.RemoteEndpoint,
			APIKey:   cfg.Model.RemoteAPIKey,
			Timeout:  cfg.Model.GetRemoteTimeout(),
			Language: cfg.Model.Language,
		}, logger)
	default:
		loader = engine.NewSherpaLoader(engine.SherpaConfig{
			Identifier:    cfg.Model.Identifier,
			Dir:           cfg.Model.Dir,
			Encoder:       cfg.Model.Encoder,
			Decoder:       cfg.Model.Decoder,
			Tokens:        cfg.Model.Tokens,
			AlignerModel:  cfg.Model.AlignerModel,
			AlignerTokens: cfg.Model.AlignerTokens,
			Language:      cfg.Model.Language,
			ComputeType:   cfg.Model.ComputeType,
			Provider:      cfg.Model.Device,
			NumThreads:    cfg.Model.NumThreads,
			WindowSeconds: cfg.Transcribe.WindowSeconds,
		}, segmenter, logger)
	}

	// Model lifecycle manager with the initial load. A failed load is
	// not fatal: the service comes up and /restart or /warmup retries.
	models := model.NewManager(loader, reclaimer, logger, appMetrics)
	if !cfg.Model.SkipInitialLoad {
		if err := models.LoadAll(); err != nil {
			logger.Warn("Initial model load failed",
				slog.String("error", err.Error()))
		}
	}

	// Transcription dispatcher
	dispatcher := transcribe.NewDispatcher(transcribe.Config{
		ModelID:           cfg.Model.Identifier,
		Language:          cfg.Model.Language,
		BatchSizeShort:    cfg.Transcribe.BatchSizeShort,
		BatchSizeLong:     cfg.Transcribe.BatchSizeLong,
		LongClipThreshold: cfg.Transcribe.LongClipThreshold,
	}, models, reclaimer, logger, appMetrics)

	// Retry orchestrator with the bounded diagnostics log
	retryLog := retry.NewLog(cfg.Retry.LogCapacity, appMetrics)
	orchestrator := retry.NewOrchestrator(retry.Config{
		MaxAttempts:      cfg.Retry.MaxAttempts,
		PreClearCooldown: cfg.Retry.GetPreClearCooldown(),
		Cooldown:         cfg.Retry.GetCooldown(),
	}, dispatcher, models, reclaimer, retryLog, logger, appMetrics)

	// Initialize and start the HTTP API server
	httpServer := server.NewHTTPServer(cfg, models, dispatcher, orchestrator, reclaimer, logger, appMetrics)
	if err := httpServer.Start(); err != nil {
		logger.Error("Failed to start HTTP server", slog.String("error", err.Error()))
		os.Exit(1)
	}

	// Setup signal handling for graceful shutdown
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	logger.Info("Service started successfully, waiting for signals...",
		slog.String("http_address", fmt.Sprintf("%s:%d", cfg.Server.Address, cfg.Server.Port)),
	)

	// Wait for shutdown signal
	select {
	case sig := <-sigChan:
		logger.Info("Received shutdown signal", slog.String("signal", sig.String()))
	case <-ctx.Done():
		logger.Info("Context cancelled, shutting down")
	}

	logger.Info("Starting graceful shutdown...")

	// Stop HTTP server first (stop accepting new requests)
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.Server.GetShutdownTimeout())
	defer shutdownCancel()

	if err := httpServer.Stop(shutdownCtx); err != nil {
		logger.Error("Error stopping HTTP server", slog.String("error", err.Error()))
	}

	// Release the model stack and the VAD detector
	models.Close()
	if segmenter != nil {
		segmenter.Close()
	}

	// Get final statistics
	status := models.Status()
	reclaims := reclaimer.Stats()
	logger.Info("Final service statistics",
		slog.Uint64("model_restarts", status.Restarts),
		slog.Uint64("reclaim_passes", reclaims.Passes),
		slog.Uint64("partial_reclaims", reclaims.Partial),
		slog.Int("retry_log_entries", retryLog.Len()),
	)

	logger.Info("Service stopped")
}

// initLogger creates and configures the structured logger based on configuration
func initLogger(cfg config.LoggingConfig) *slog.Logger {
	// Parse log level
	var level slog.Level
	switch cfg.Level {
	case "debug":
		level = slog.LevelDebug
	case "info":
		level = slog.LevelInfo
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo // default fallback
	}

	// Configure handler options
	opts := &slog.HandlerOptions{
		Level:     level,
		AddSource: level == slog.LevelDebug, // Add source info for debug level
	}

	// Determine output destination
	var output *os.File
	switch cfg.Output {
	case "stderr":
		output = os.Stderr
	case "stdout", "":
		output = os.Stdout
	default:
		// Assume it's a file path
		file, err := os.OpenFile(cfg.Output, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Failed to open log file %s: %v, falling back to stdout\n", cfg.Output, err)
			output = os.Stdout
		} else {
			output = file
		}
	}

	// Create handler based on format
	var handler slog.Handler
	switch cfg.Format {
	case "json":
		handler = slog.NewJSONHandler(output, opts)
	case "text", "":
		handler = slog.NewTextHandler(output, opts)
	default:
		// Default to text format
		handler = slog.NewTextHandler(output, opts)
	}

	return slog.New(handler)
}
