package audio

import (
	"bytes"
	"encoding/binary"
	"fmt"
)

// ModelSampleRate is the sample rate the inference backends expect.
const ModelSampleRate = 16000

// WAVHeader represents the canonical 44-byte header of a PCM WAV file
type WAVHeader struct {
	ChunkID       [4]byte // "RIFF"
	ChunkSize     uint32  // File size - 8 bytes
	Format        [4]byte // "WAVE"
	Subchunk1ID   [4]byte // "fmt "
	Subchunk1Size uint32  // 16 for PCM
	AudioFormat   uint16  // 1 for PCM
	NumChannels   uint16  // Number of channels
	SampleRate    uint32  // Sample rate
	ByteRate      uint32  // SampleRate * NumChannels * BitsPerSample / 8
	BlockAlign    uint16  // NumChannels * BitsPerSample / 8
	BitsPerSample uint16  // Bits per sample
	Subchunk2ID   [4]byte // "data"
	Subchunk2Size uint32  // Number of bytes in the data
}

// EncodeWAV encodes mono PCM-16 samples into WAV format
func EncodeWAV(samples []int16, sampleRate int) ([]byte, error) {
	if len(samples) == 0 {
		return nil, fmt.Errorf("cannot encode empty audio samples")
	}

	if sampleRate <= 0 {
		return nil, fmt.Errorf("sample rate must be positive, got %d", sampleRate)
	}

	numChannels := uint16(1)
	bitsPerSample := uint16(16)
	dataSize := uint32(len(samples) * 2)
	fileSize := 36 + dataSize

	header := WAVHeader{
		ChunkID:       [4]byte{'R', 'I', 'F', 'F'},
		ChunkSize:     fileSize,
		Format:        [4]byte{'W', 'A', 'V', 'E'},
		Subchunk1ID:   [4]byte{'f', 'm', 't', ' '},
		Subchunk1Size: 16,
		AudioFormat:   1, // PCM
		NumChannels:   numChannels,
		SampleRate:    uint32(sampleRate),
		ByteRate:      uint32(sampleRate) * uint32(numChannels) * uint32(bitsPerSample) / 8,
		BlockAlign:    numChannels * bitsPerSample / 8,
		BitsPerSample: bitsPerSample,
		Subchunk2ID:   [4]byte{'d', 'a', 't', 'a'},
		Subchunk2Size: dataSize,
	}

	buf := bytes.NewBuffer(make([]byte, 0, 44+len(samples)*2))

	if err := binary.Write(buf, binary.LittleEndian, header); err != nil {
		return nil, fmt.Errorf("failed to write WAV header: %w", err)
	}

	if err := binary.Write(buf, binary.LittleEndian, samples); err != nil {
		return nil, fmt.Errorf("failed to write audio data: %w", err)
	}

	return buf.Bytes(), nil
}

// wavFormat holds the fields of the fmt chunk needed for decoding.
type wavFormat struct {
	audioFormat   uint16
	numChannels   uint16
	sampleRate    uint32
	bitsPerSample uint16
}

// DecodeWAV decodes PCM WAV data into interleaved 16-bit samples.
// It walks the RIFF chunk list so files with extra metadata chunks
// (LIST, fact, cue) decode the same as canonical 44-byte-header files.
// Returns samples, sample rate, and channel count.
func DecodeWAV(data []byte) ([]int16, int, int, error) {
	if len(data) < 12 {
		return nil, 0, 0, fmt.Errorf("WAV data too short: need at least 12 bytes, got %d", len(data))
	}

	if string(data[0:4]) != "RIFF" {
		return nil, 0, 0, fmt.Errorf("invalid WAV file: missing RIFF header")
	}
	if string(data[8:12]) != "WAVE" {
		return nil, 0, 0, fmt.Errorf("invalid WAV file: missing WAVE format")
	}

	var format *wavFormat
	var pcm []byte

	// Walk chunks after the 12-byte RIFF header.
	offset := 12
	for offset+8 <= len(data) {
		chunkID := string(data[offset : offset+4])
		chunkSize := int(binary.LittleEndian.Uint32(data[offset+4 : offset+8]))
		body := offset + 8

		if chunkSize < 0 || body+chunkSize > len(data) {
			// Tolerate a truncated final chunk by clamping to what is present.
			chunkSize = len(data) - body
		}

		switch chunkID {
		case "fmt ":
			if chunkSize < 16 {
				return nil, 0, 0, fmt.Errorf("invalid WAV file: fmt chunk too short (%d bytes)", chunkSize)
			}
			format = &wavFormat{
				audioFormat:   binary.LittleEndian.Uint16(data[body : body+2]),
				numChannels:   binary.LittleEndian.Uint16(data[body+2 : body+4]),
				sampleRate:    binary.LittleEndian.Uint32(data[body+4 : body+8]),
				bitsPerSample: binary.LittleEndian.Uint16(data[body+14 : body+16]),
			}
		case "data":
			pcm = data[body : body+chunkSize]
		}

		// Chunks are word aligned.
		offset = body + chunkSize
		if chunkSize%2 == 1 {
			offset++
		}
	}

	if format == nil {
		return nil, 0, 0, fmt.Errorf("invalid WAV file: missing fmt chunk")
	}
	if pcm == nil {
		return nil, 0, 0, fmt.Errorf("invalid WAV file: missing data chunk")
	}

	if format.audioFormat != 1 {
		return nil, 0, 0, fmt.Errorf("unsupported audio format: %d (only PCM is supported)", format.audioFormat)
	}
	if format.bitsPerSample != 16 {
		return nil, 0, 0, fmt.Errorf("unsupported bit depth: %d (only 16-bit is supported)", format.bitsPerSample)
	}
	if format.numChannels < 1 || format.numChannels > 2 {
		return nil, 0, 0, fmt.Errorf("unsupported channel count: %d (only mono and stereo are supported)", format.numChannels)
	}
	if format.sampleRate == 0 {
		return nil, 0, 0, fmt.Errorf("invalid sample rate: 0")
	}

	numSamples := len(pcm) / 2
	if numSamples == 0 {
		return nil, 0, 0, fmt.Errorf("no audio data found")
	}

	samples := make([]int16, numSamples)
	if err := binary.Read(bytes.NewReader(pcm[:numSamples*2]), binary.LittleEndian, samples); err != nil {
		return nil, 0, 0, fmt.Errorf("failed to read audio samples: %w", err)
	}

	return samples, int(format.sampleRate), int(format.numChannels), nil
}

// Downmix collapses interleaved stereo samples to mono by averaging
// channel pairs. Mono input is returned unchanged.
func Downmix(samples []int16, channels int) []int16 {
	if channels <= 1 {
		return samples
	}

	mono := make([]int16, len(samples)/channels)
	for i := range mono {
		var sum int32
		for c := 0; c < channels; c++ {
			sum += int32(samples[i*channels+c])
		}
		mono[i] = int16(sum / int32(channels))
	}
	return mono
}
