// Package retry wraps transcription in a bounded recovery loop. Each
// failed attempt triggers a device memory reclaim, a full model
// restart and a cooldown before the next try; every step lands in a
// bounded diagnostics log served over HTTP.
package retry
