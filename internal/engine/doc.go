// Package engine defines the inference backend contracts and their
// implementations. The sherpa-onnx backend decodes locally through
// whisper ONNX exports with an optional CTC aligner; the remote
// backend delegates to an HTTP transcription service. Both expose a
// batched precision path, and backends that can afford it also expose
// a streaming low-latency path over the same loaded model.
package engine
