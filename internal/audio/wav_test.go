package audio

import (
	"encoding/binary"
	"math"
	"testing"
)

// sineWave generates a test tone as PCM-16 samples.
func sineWave(frequency float64, seconds float64, sampleRate int) []int16 {
	numSamples := int(float64(sampleRate) * seconds)
	samples := make([]int16, numSamples)

	for i := 0; i < numSamples; i++ {
		t := float64(i) / float64(sampleRate)
		amplitude := 16383.0 // Half of max int16 to avoid clipping
		samples[i] = int16(amplitude * math.Sin(2*math.Pi*frequency*t))
	}
	return samples
}

func TestEncodeWAV(t *testing.T) {
	sampleRate := 16000
	samples := sineWave(440.0, 0.1, sampleRate)

	wavData, err := EncodeWAV(samples, sampleRate)
	if err != nil {
		t.Fatalf("EncodeWAV failed: %v", err)
	}

	expectedSize := 44 + len(samples)*2
	if len(wavData) != expectedSize {
		t.Errorf("Expected WAV size %d, got %d", expectedSize, len(wavData))
	}

	decoded, rate, channels, err := DecodeWAV(wavData)
	if err != nil {
		t.Fatalf("DecodeWAV of encoded data failed: %v", err)
	}

	if rate != sampleRate {
		t.Errorf("Expected sample rate %d, got %d", sampleRate, rate)
	}

	if channels != 1 {
		t.Errorf("Expected 1 channel, got %d", channels)
	}

	if len(decoded) != len(samples) {
		t.Errorf("Expected %d samples, got %d", len(samples), len(decoded))
	}
}

func TestEncodeWAVEmpty(t *testing.T) {
	_, err := EncodeWAV([]int16{}, 16000)
	if err == nil {
		t.Error("Expected error for empty samples")
	}
}

func TestEncodeWAVInvalidSampleRate(t *testing.T) {
	samples := []int16{100, 200, 300}
	_, err := EncodeWAV(samples, 0)
	if err == nil {
		t.Error("Expected error for zero sample rate")
	}

	_, err = EncodeWAV(samples, -1000)
	if err == nil {
		t.Error("Expected error for negative sample rate")
	}
}

func TestDecodeWAVRoundtrip(t *testing.T) {
	originalSamples := []int16{100, -200, 300, -400, 500}
	sampleRate := 16000

	wavData, err := EncodeWAV(originalSamples, sampleRate)
	if err != nil {
		t.Fatalf("EncodeWAV failed: %v", err)
	}

	decoded, rate, channels, err := DecodeWAV(wavData)
	if err != nil {
		t.Fatalf("DecodeWAV failed: %v", err)
	}

	if rate != sampleRate {
		t.Errorf("Expected sample rate %d, got %d", sampleRate, rate)
	}

	if channels != 1 {
		t.Errorf("Expected 1 channel, got %d", channels)
	}

	if len(decoded) != len(originalSamples) {
		t.Fatalf("Expected %d samples, got %d", len(originalSamples), len(decoded))
	}

	for i, original := range originalSamples {
		if decoded[i] != original {
			t.Errorf("Sample %d: expected %d, got %d", i, original, decoded[i])
		}
	}
}

func TestDecodeWAVExtraChunks(t *testing.T) {
	samples := []int16{10, 20, 30, 40}
	wavData, err := EncodeWAV(samples, 16000)
	if err != nil {
		t.Fatalf("EncodeWAV failed: %v", err)
	}

	// Splice a LIST metadata chunk between fmt and data, the way
	// editors and ffmpeg often write files.
	list := make([]byte, 8+6)
	copy(list[0:4], "LIST")
	binary.LittleEndian.PutUint32(list[4:8], 6)
	copy(list[8:], "INFOab")

	spliced := make([]byte, 0, len(wavData)+len(list))
	spliced = append(spliced, wavData[:36]...) // RIFF header + fmt chunk
	spliced = append(spliced, list...)
	spliced = append(spliced, wavData[36:]...) // data chunk

	decoded, rate, _, err := DecodeWAV(spliced)
	if err != nil {
		t.Fatalf("DecodeWAV with LIST chunk failed: %v", err)
	}

	if rate != 16000 {
		t.Errorf("Expected sample rate 16000, got %d", rate)
	}

	if len(decoded) != len(samples) {
		t.Errorf("Expected %d samples, got %d", len(samples), len(decoded))
	}
}

func TestDecodeWAVErrors(t *testing.T) {
	tests := []struct {
		name string
		data []byte
	}{
		{"empty data", nil},
		{"too short", []byte("RIFF")},
		{"missing RIFF", append([]byte("XXXX1234WAVE"), make([]byte, 40)...)},
		{"missing WAVE", append([]byte("RIFF1234XXXX"), make([]byte, 40)...)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, _, _, err := DecodeWAV(tt.data); err == nil {
				t.Error("Expected decode error, got nil")
			}
		})
	}
}

func TestDownmixStereo(t *testing.T) {
	stereo := []int16{100, 200, -100, -200, 0, 50}

	mono := Downmix(stereo, 2)
	if len(mono) != 3 {
		t.Fatalf("Expected 3 mono samples, got %d", len(mono))
	}

	expected := []int16{150, -150, 25}
	for i, want := range expected {
		if mono[i] != want {
			t.Errorf("Sample %d: expected %d, got %d", i, want, mono[i])
		}
	}
}

func TestToFloat32(t *testing.T) {
	samples := []int16{0, 16384, -16384, 32767, -32768}

	floats := ToFloat32(samples)
	if len(floats) != len(samples) {
		t.Fatalf("Expected %d samples, got %d", len(samples), len(floats))
	}

	if floats[0] != 0 {
		t.Errorf("Expected 0, got %f", floats[0])
	}

	if math.Abs(float64(floats[1])-0.5) > 0.001 {
		t.Errorf("Expected 0.5, got %f", floats[1])
	}

	if floats[4] != -1.0 {
		t.Errorf("Expected -1.0, got %f", floats[4])
	}
}

func TestToInt16(t *testing.T) {
	samples := []float32{0, 0.5, -0.5, 1.5, -1.5}

	pcm := ToInt16(samples)
	if len(pcm) != len(samples) {
		t.Fatalf("Expected %d samples, got %d", len(samples), len(pcm))
	}

	if pcm[0] != 0 {
		t.Errorf("Expected 0, got %d", pcm[0])
	}

	if pcm[1] != 16384 {
		t.Errorf("Expected 16384, got %d", pcm[1])
	}

	if pcm[3] != 32767 {
		t.Errorf("Expected clamp to 32767, got %d", pcm[3])
	}

	if pcm[4] != -32768 {
		t.Errorf("Expected clamp to -32768, got %d", pcm[4])
	}
}

func TestResample(t *testing.T) {
	samples := make([]float32, 8000)
	for i := range samples {
		samples[i] = float32(math.Sin(2 * math.Pi * 440 * float64(i) / 8000))
	}

	upsampled := Resample(samples, 8000, 16000)
	if len(upsampled) != 16000 {
		t.Errorf("Expected 16000 samples after upsampling, got %d", len(upsampled))
	}

	downsampled := Resample(upsampled, 16000, 8000)
	if len(downsampled) != 8000 {
		t.Errorf("Expected 8000 samples after downsampling, got %d", len(downsampled))
	}

	same := Resample(samples, 8000, 8000)
	if len(same) != len(samples) {
		t.Errorf("Expected passthrough at equal rates, got %d samples", len(same))
	}
}

func TestSilence(t *testing.T) {
	samples := Silence(1.0, ModelSampleRate)
	if len(samples) != ModelSampleRate {
		t.Fatalf("Expected %d samples for 1s of silence, got %d", ModelSampleRate, len(samples))
	}

	for i, s := range samples {
		if s != 0 {
			t.Fatalf("Sample %d is %f, expected silence", i, s)
		}
	}
}

func TestDuration(t *testing.T) {
	if d := Duration(16000, 16000); d != 1.0 {
		t.Errorf("Expected 1.0s, got %f", d)
	}

	if d := Duration(8000, 16000); d != 0.5 {
		t.Errorf("Expected 0.5s, got %f", d)
	}

	if d := Duration(100, 0); d != 0 {
		t.Errorf("Expected 0 for invalid rate, got %f", d)
	}
}

func TestSplitWindows(t *testing.T) {
	short := make([]float32, 16000) // 1 second
	windows := SplitWindows(short, 16000, 30.0)
	if len(windows) != 1 {
		t.Fatalf("Expected 1 window for a short clip, got %d", len(windows))
	}
	if windows[0].Offset != 0 {
		t.Errorf("Expected offset 0, got %f", windows[0].Offset)
	}

	long := make([]float32, 16000*70) // 70 seconds
	windows = SplitWindows(long, 16000, 30.0)
	if len(windows) != 3 {
		t.Fatalf("Expected 3 windows for a 70s clip, got %d", len(windows))
	}

	if windows[1].Offset != 30.0 {
		t.Errorf("Expected second window at 30s, got %f", windows[1].Offset)
	}

	if windows[2].Offset != 60.0 {
		t.Errorf("Expected third window at 60s, got %f", windows[2].Offset)
	}

	if len(windows[2].Samples) != 16000*10 {
		t.Errorf("Expected final window of 10s, got %d samples", len(windows[2].Samples))
	}

	var total int
	for _, w := range windows {
		total += len(w.Samples)
	}
	if total != len(long) {
		t.Errorf("Windows lost samples: expected %d total, got %d", len(long), total)
	}
}

func TestDecodeToModelRate(t *testing.T) {
	// A 0.5s tone at 8kHz should come back as 0.5s at the model rate.
	samples := sineWave(440.0, 0.5, 8000)
	wavData, err := EncodeWAV(samples, 8000)
	if err != nil {
		t.Fatalf("EncodeWAV failed: %v", err)
	}

	floats, duration, err := DecodeToModelRate(wavData)
	if err != nil {
		t.Fatalf("DecodeToModelRate failed: %v", err)
	}

	if math.Abs(duration-0.5) > 0.01 {
		t.Errorf("Expected ~0.5s duration, got %f", duration)
	}

	expected := ModelSampleRate / 2
	if math.Abs(float64(len(floats)-expected)) > 2 {
		t.Errorf("Expected ~%d samples, got %d", expected, len(floats))
	}
}
