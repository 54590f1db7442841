// Package config provides configuration loading and validation for the
// whisper inference service. Defaults are overlaid by an optional YAML
// file and then by environment variables (WHISPER_MODEL, PORT and the
// WHISPER_* family), so the service runs without any config file.
package config
