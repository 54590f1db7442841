package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// Config represents the complete service configuration
type Config struct {
	Server     ServerConfig     `yaml:"server"`
	Model      ModelConfig      `yaml:"model"`
	Transcribe TranscribeConfig `yaml:"transcribe"`
	Retry      RetryConfig      `yaml:"retry"`
	VAD        VADConfig        `yaml:"vad"`
	Logging    LoggingConfig    `yaml:"logging"`
}

// ServerConfig contains HTTP server configuration
type ServerConfig struct {
	Port            int    `yaml:"port"`
	Address         string `yaml:"address"`
	MaxUploadMB     int    `yaml:"max_upload_mb"`
	ShutdownTimeout int    `yaml:"shutdown_timeout"` // seconds
}

// ModelConfig describes the deployed whisper model stack
type ModelConfig struct {
	Identifier  string `yaml:"identifier"`   // e.g. "large-v2", "large-v3-turbo"
	Backend     string `yaml:"backend"`      // sherpa (local ONNX) or remote (HTTP service)
	Dir         string `yaml:"dir"`          // directory holding the ONNX files
	Language    string `yaml:"language"`     // fixed decode language, also the request default
	ComputeType string `yaml:"compute_type"` // int8, float16, float32
	Device      string `yaml:"device"`       // cpu, cuda, coreml
	NumThreads  int    `yaml:"num_threads"`

	// Explicit file overrides. When empty the paths are derived from
	// Dir and Identifier.
	Encoder string `yaml:"encoder"`
	Decoder string `yaml:"decoder"`
	Tokens  string `yaml:"tokens"`

	// Optional CTC model used for the word-alignment pass. Empty means
	// alignment stays unavailable for the session.
	AlignerModel  string `yaml:"aligner_model"`
	AlignerTokens string `yaml:"aligner_tokens"`

	// Remote backend settings, used when Backend is "remote".
	RemoteEndpoint       string  `yaml:"remote_endpoint"`
	RemoteAPIKey         string  `yaml:"remote_api_key"`
	RemoteTimeoutSeconds float64 `yaml:"remote_timeout_seconds"`

	// SkipInitialLoad starts the HTTP surface without loading models,
	// for environments where the model files are absent.
	SkipInitialLoad bool `yaml:"skip_initial_load"`
}

// TranscribeConfig contains dispatch parameters
type TranscribeConfig struct {
	BatchSizeShort    int     `yaml:"batch_size_short"`
	BatchSizeLong     int     `yaml:"batch_size_long"`
	LongClipThreshold float64 `yaml:"long_clip_threshold"` // seconds
	WindowSeconds     float64 `yaml:"window_seconds"`      // max decode window length
	TempDir           string  `yaml:"temp_dir"`            // empty means the OS default
}

// RetryConfig contains retry and recovery parameters
type RetryConfig struct {
	MaxAttempts      int     `yaml:"max_attempts"`
	PreClearCooldown float64 `yaml:"pre_clear_cooldown_seconds"`
	Cooldown         float64 `yaml:"cooldown_seconds"`
	LogCapacity      int     `yaml:"log_capacity"`
}

// VADConfig contains Voice Activity Detection configuration.
// An empty model_path disables VAD and the backends decode whole clips.
type VADConfig struct {
	ModelPath          string  `yaml:"model_path"`
	Threshold          float32 `yaml:"threshold"`
	WindowSize         int     `yaml:"window_size"` // samples
	MinSpeechDuration  float64 `yaml:"min_speech_duration"`  // seconds
	MinSilenceDuration float64 `yaml:"min_silence_duration"` // seconds
	MaxSpeechDuration  float64 `yaml:"max_speech_duration"`  // seconds per segment
	BufferSeconds      float64 `yaml:"buffer_seconds"`
}

// LoggingConfig contains logging configuration
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
	Output string `yaml:"output"`
}

// Default returns the configuration the service runs with when no file
// is supplied. Environment overrides still apply on top.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Port:            5000,
			Address:         "0.0.0.0",
			MaxUploadMB:     100,
			ShutdownTimeout: 10,
		},
		Model: ModelConfig{
			Identifier:           "large-v2",
			Backend:              "sherpa",
			Dir:                  "./models",
			Language:             "de",
			ComputeType:          "int8",
			Device:               "cpu",
			NumThreads:           4,
			RemoteTimeoutSeconds: 30.0,
		},
		Transcribe: TranscribeConfig{
			BatchSizeShort:    8,
			BatchSizeLong:     16,
			LongClipThreshold: 60.0,
			WindowSeconds:     30.0,
		},
		Retry: RetryConfig{
			MaxAttempts:      3,
			PreClearCooldown: 30.0,
			Cooldown:         60.0,
			LogCapacity:      100,
		},
		VAD: VADConfig{
			Threshold:          0.5,
			WindowSize:         512,
			MinSpeechDuration:  0.25,
			MinSilenceDuration: 0.5,
			MaxSpeechDuration:  28.0,
			BufferSeconds:      60.0,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
			Output: "stdout",
		},
	}
}

// Load builds the configuration: defaults, then the optional YAML file,
// then environment overrides, then validation. An empty path skips the
// file layer entirely (the service is fully runnable from environment
// variables alone).
func Load(path string) (*Config, error) {
	config := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
		}

		if err := yaml.Unmarshal(data, config); err != nil {
			return nil, fmt.Errorf("failed to parse config file %s: %w", path, err)
		}
	}

	if err := config.applyEnv(); err != nil {
		return nil, fmt.Errorf("failed to apply environment overrides: %w", err)
	}

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return config, nil
}

// applyEnv overlays the environment variables the deployment contract
// promises onto the configuration.
func (c *Config) applyEnv() error {
	if v := os.Getenv("WHISPER_MODEL"); v != "" {
		c.Model.Identifier = v
	}

	if v := os.Getenv("PORT"); v != "" {
		port, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("PORT must be an integer, got %q", v)
		}
		c.Server.Port = port
	}

	if v := os.Getenv("WHISPER_LANGUAGE"); v != "" {
		c.Model.Language = v
	}

	if v := os.Getenv("WHISPER_COMPUTE_TYPE"); v != "" {
		c.Model.ComputeType = v
	}

	if v := os.Getenv("WHISPER_MODEL_DIR"); v != "" {
		c.Model.Dir = v
	}

	if v := os.Getenv("WHISPER_DEVICE"); v != "" {
		c.Model.Device = v
	}

	if v := os.Getenv("WHISPER_VAD_MODEL"); v != "" {
		c.VAD.ModelPath = v
	}

	return nil
}

// Validate performs comprehensive validation of the configuration
func (c *Config) Validate() error {
	if err := c.Server.Validate(); err != nil {
		return fmt.Errorf("server config: %w", err)
	}

	if err := c.Model.Validate(); err != nil {
		return fmt.Errorf("model config: %w", err)
	}

	if err := c.Transcribe.Validate(); err != nil {
		return fmt.Errorf("transcribe config: %w", err)
	}

	if err := c.Retry.Validate(); err != nil {
		return fmt.Errorf("retry config: %w", err)
	}

	if err := c.VAD.Validate(); err != nil {
		return fmt.Errorf("vad config: %w", err)
	}

	if err := c.Logging.Validate(); err != nil {
		return fmt.Errorf("logging config: %w", err)
	}

	return nil
}

// Validate validates server configuration
func (s *ServerConfig) Validate() error {
	if s.Port < 1 || s.Port > 65535 {
		return fmt.Errorf("port must be between 1 and 65535, got %d", s.Port)
	}

	if s.Address == "" {
		return fmt.Errorf("address cannot be empty")
	}

	if s.MaxUploadMB < 1 {
		return fmt.Errorf("max_upload_mb must be at least 1, got %d", s.MaxUploadMB)
	}

	if s.ShutdownTimeout < 1 {
		return fmt.Errorf("shutdown_timeout must be at least 1 second, got %d", s.ShutdownTimeout)
	}

	return nil
}

// Validate validates model configuration
func (m *ModelConfig) Validate() error {
	if m.Identifier == "" {
		return fmt.Errorf("identifier cannot be empty")
	}

	if m.Language == "" {
		return fmt.Errorf("language cannot be empty")
	}

	switch m.Backend {
	case "sherpa":
		validComputeTypes := map[string]bool{"int8": true, "float16": true, "float32": true}
		if !validComputeTypes[m.ComputeType] {
			return fmt.Errorf("compute_type must be one of [int8, float16, float32], got '%s'", m.ComputeType)
		}

		validDevices := map[string]bool{"cpu": true, "cuda": true, "coreml": true}
		if !validDevices[m.Device] {
			return fmt.Errorf("device must be one of [cpu, cuda, coreml], got '%s'", m.Device)
		}

		if m.NumThreads < 1 || m.NumThreads > 64 {
			return fmt.Errorf("num_threads must be between 1 and 64, got %d", m.NumThreads)
		}

		if m.Dir == "" && (m.Encoder == "" || m.Decoder == "" || m.Tokens == "") {
			return fmt.Errorf("dir cannot be empty unless encoder, decoder and tokens are all set")
		}
	case "remote":
		if m.RemoteEndpoint == "" {
			return fmt.Errorf("remote_endpoint cannot be empty for the remote backend")
		}

		if m.RemoteTimeoutSeconds <= 0 {
			return fmt.Errorf("remote_timeout_seconds must be positive, got %f", m.RemoteTimeoutSeconds)
		}
	default:
		return fmt.Errorf("backend must be 'sherpa' or 'remote', got '%s'", m.Backend)
	}

	return nil
}

// Validate validates transcription dispatch configuration
func (t *TranscribeConfig) Validate() error {
	if t.BatchSizeShort < 1 {
		return fmt.Errorf("batch_size_short must be at least 1, got %d", t.BatchSizeShort)
	}

	if t.BatchSizeLong < 1 {
		return fmt.Errorf("batch_size_long must be at least 1, got %d", t.BatchSizeLong)
	}

	if t.LongClipThreshold <= 0 {
		return fmt.Errorf("long_clip_threshold must be positive, got %f", t.LongClipThreshold)
	}

	if t.WindowSeconds <= 0 || t.WindowSeconds > 30 {
		return fmt.Errorf("window_seconds must be between 0 and 30, got %f", t.WindowSeconds)
	}

	return nil
}

// Validate validates retry configuration
func (r *RetryConfig) Validate() error {
	if r.MaxAttempts < 1 {
		return fmt.Errorf("max_attempts must be at least 1, got %d", r.MaxAttempts)
	}

	if r.PreClearCooldown < 0 {
		return fmt.Errorf("pre_clear_cooldown_seconds cannot be negative, got %f", r.PreClearCooldown)
	}

	if r.Cooldown < 0 {
		return fmt.Errorf("cooldown_seconds cannot be negative, got %f", r.Cooldown)
	}

	if r.LogCapacity < 1 {
		return fmt.Errorf("log_capacity must be at least 1, got %d", r.LogCapacity)
	}

	return nil
}

// Validate validates VAD configuration
func (v *VADConfig) Validate() error {
	if v.ModelPath == "" {
		// VAD disabled; remaining fields are unused.
		return nil
	}

	if v.Threshold < 0 || v.Threshold > 1 {
		return fmt.Errorf("threshold must be between 0 and 1, got %f", v.Threshold)
	}

	if v.WindowSize < 256 || v.WindowSize > 2048 {
		return fmt.Errorf("window_size must be between 256 and 2048 samples, got %d", v.WindowSize)
	}

	if v.MinSpeechDuration <= 0 {
		return fmt.Errorf("min_speech_duration must be positive, got %f", v.MinSpeechDuration)
	}

	if v.MinSilenceDuration <= 0 {
		return fmt.Errorf("min_silence_duration must be positive, got %f", v.MinSilenceDuration)
	}

	if v.MaxSpeechDuration <= 0 {
		return fmt.Errorf("max_speech_duration must be positive, got %f", v.MaxSpeechDuration)
	}

	if v.BufferSeconds <= 0 {
		return fmt.Errorf("buffer_seconds must be positive, got %f", v.BufferSeconds)
	}

	return nil
}

// Validate validates logging configuration
func (l *LoggingConfig) Validate() error {
	validLevels := map[string]bool{
		"debug": true, "info": true, "warn": true, "error": true,
	}
	if !validLevels[l.Level] {
		return fmt.Errorf("level must be one of [debug, info, warn, error], got '%s'", l.Level)
	}

	validFormats := map[string]bool{"json": true, "text": true}
	if !validFormats[l.Format] {
		return fmt.Errorf("format must be 'json' or 'text', got '%s'", l.Format)
	}

	return nil
}

// GetShutdownTimeout returns the shutdown grace period as a time.Duration
func (s *ServerConfig) GetShutdownTimeout() time.Duration {
	return time.Duration(s.ShutdownTimeout) * time.Second
}

// GetRemoteTimeout returns the remote backend request timeout as a time.Duration
func (m *ModelConfig) GetRemoteTimeout() time.Duration {
	return time.Duration(m.RemoteTimeoutSeconds * float64(time.Second))
}

// GetPreClearCooldown returns the pre-transcription cooldown as a time.Duration
func (r *RetryConfig) GetPreClearCooldown() time.Duration {
	return time.Duration(r.PreClearCooldown * float64(time.Second))
}

// GetCooldown returns the between-attempt cooldown as a time.Duration
func (r *RetryConfig) GetCooldown() time.Duration {
	return time.Duration(r.Cooldown * float64(time.Second))
}

// GetMinSpeechDuration returns the minimum speech duration as a time.Duration
func (v *VADConfig) GetMinSpeechDuration() time.Duration {
	return time.Duration(v.MinSpeechDuration * float64(time.Second))
}

// GetMinSilenceDuration returns the minimum silence duration as a time.Duration
func (v *VADConfig) GetMinSilenceDuration() time.Duration {
	return time.Duration(v.MinSilenceDuration * float64(time.Second))
}
