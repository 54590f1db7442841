// Package vad segments audio into speech regions using the Silero VAD
// ONNX model. Recognition backends feed only the detected segments to
// the model, which keeps batches small and timestamps anchored to real
// speech.
package vad
