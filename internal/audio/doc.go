// Package audio handles WAV and MP3 decoding and PCM sample preparation
// for the inference backends. It converts uploaded clips to mono float32 at the
// model sample rate, generates synthetic silence for warmup, and splits
// long clips into bounded decode windows.
package audio
