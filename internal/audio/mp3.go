package audio

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"

	mp3 "github.com/hajimehoshi/go-mp3"
)

// mp3Channels is fixed by the decoder: go-mp3 always emits interleaved
// 16-bit stereo regardless of the source channel layout.
const mp3Channels = 2

// IsMP3 reports whether data starts like an MPEG audio stream, either
// with an ID3v2 tag or directly with a frame sync word.
func IsMP3(data []byte) bool {
	if len(data) >= 3 && string(data[0:3]) == "ID3" {
		return true
	}
	return len(data) >= 2 && data[0] == 0xFF && data[1]&0xE0 == 0xE0
}

// DecodeMP3 decodes an MPEG audio stream into interleaved 16-bit
// samples. Returns samples, sample rate, and channel count.
func DecodeMP3(data []byte) ([]int16, int, int, error) {
	decoder, err := mp3.NewDecoder(bytes.NewReader(data))
	if err != nil {
		return nil, 0, 0, fmt.Errorf("invalid MP3 file: %w", err)
	}

	pcm, err := io.ReadAll(decoder)
	if err != nil {
		return nil, 0, 0, fmt.Errorf("failed to decode MP3 frames: %w", err)
	}

	numSamples := len(pcm) / 2
	if numSamples == 0 {
		return nil, 0, 0, fmt.Errorf("no audio data found")
	}

	samples := make([]int16, numSamples)
	if err := binary.Read(bytes.NewReader(pcm[:numSamples*2]), binary.LittleEndian, samples); err != nil {
		return nil, 0, 0, fmt.Errorf("failed to read audio samples: %w", err)
	}

	return samples, decoder.SampleRate(), mp3Channels, nil
}
