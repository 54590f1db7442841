// Package server exposes the HTTP API: transcription uploads, health
// and memory reporting, warmup, manual VRAM release and model restart,
// and the recovery diagnostics log.
package server
