package audio

// Window is a slice of a longer clip together with its start offset,
// in seconds, within that clip.
type Window struct {
	Offset  float64
	Samples []float32
}

// SplitWindows cuts samples into consecutive windows no longer than
// maxSeconds each. Whisper-family models accept bounded input, so long
// clips are decoded window by window and the results stitched back
// together using each window's offset. A clip shorter than maxSeconds
// yields a single window at offset zero.
func SplitWindows(samples []float32, sampleRate int, maxSeconds float64) []Window {
	if len(samples) == 0 {
		return nil
	}

	maxSamples := int(maxSeconds * float64(sampleRate))
	if maxSamples <= 0 || len(samples) <= maxSamples {
		return []Window{{Offset: 0, Samples: samples}}
	}

	windows := make([]Window, 0, len(samples)/maxSamples+1)
	for start := 0; start < len(samples); start += maxSamples {
		end := start + maxSamples
		if end > len(samples) {
			end = len(samples)
		}
		windows = append(windows, Window{
			Offset:  Duration(start, sampleRate),
			Samples: samples[start:end],
		})
	}
	return windows
}
