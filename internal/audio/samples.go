package audio

import "fmt"

// ToFloat32 converts PCM-16 samples to normalized float32 in [-1, 1).
func ToFloat32(samples []int16) []float32 {
	out := make([]float32, len(samples))
	for i, s := range samples {
		out[i] = float32(s) / 32768.0
	}
	return out
}

// ToInt16 converts normalized float32 samples back to PCM-16, clamping
// anything outside [-1, 1).
func ToInt16(samples []float32) []int16 {
	out := make([]int16, len(samples))
	for i, s := range samples {
		v := s * 32768.0
		if v > 32767 {
			v = 32767
		} else if v < -32768 {
			v = -32768
		}
		out[i] = int16(v)
	}
	return out
}

// Resample converts samples from one rate to another using linear
// interpolation. Adequate for speech fed to a recognizer; not meant
// for playback quality.
func Resample(samples []float32, fromRate, toRate int) []float32 {
	if fromRate == toRate || len(samples) == 0 {
		return samples
	}

	ratio := float64(fromRate) / float64(toRate)
	outLen := int(float64(len(samples)) / ratio)
	if outLen == 0 {
		outLen = 1
	}

	out := make([]float32, outLen)
	for i := range out {
		pos := float64(i) * ratio
		idx := int(pos)
		if idx >= len(samples)-1 {
			out[i] = samples[len(samples)-1]
			continue
		}
		frac := float32(pos - float64(idx))
		out[i] = samples[idx]*(1-frac) + samples[idx+1]*frac
	}
	return out
}

// Silence generates the given duration of silent samples at the given
// sample rate. Used to produce the synthetic warmup clip.
func Silence(seconds float64, sampleRate int) []float32 {
	n := int(seconds * float64(sampleRate))
	if n < 0 {
		n = 0
	}
	return make([]float32, n)
}

// Duration returns the playback length in seconds of a sample buffer.
func Duration(numSamples, sampleRate int) float64 {
	if sampleRate <= 0 {
		return 0
	}
	return float64(numSamples) / float64(sampleRate)
}

// DecodeToModelRate decodes an uploaded clip into mono float32 samples
// at the model sample rate, returning the samples and the clip duration
// in seconds. WAV and MP3 containers are recognized. Stereo input is
// downmixed and off-rate input is resampled.
func DecodeToModelRate(data []byte) ([]float32, float64, error) {
	var (
		raw      []int16
		rate     int
		channels int
		err      error
	)
	if IsMP3(data) {
		raw, rate, channels, err = DecodeMP3(data)
	} else {
		raw, rate, channels, err = DecodeWAV(data)
	}
	if err != nil {
		return nil, 0, fmt.Errorf("failed to decode audio: %w", err)
	}

	mono := Downmix(raw, channels)
	samples := Resample(ToFloat32(mono), rate, ModelSampleRate)
	return samples, Duration(len(samples), ModelSampleRate), nil
}
