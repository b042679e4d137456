package audio

import "time"

// Buffer is a block of decoded mono audio ready for playback or analysis.
// Samples are normalised to [-1, 1].
type Buffer struct {
	// Samples holds one float32 per sample frame.
	Samples []float32

	// SampleRate in Hz (e.g., 16000 for capture, 24000 for model output).
	SampleRate int
}

// Duration returns the playback length of the buffer. A buffer with a
// non-positive sample rate has zero duration.
func (b Buffer) Duration() time.Duration {
	if b.SampleRate <= 0 {
		return 0
	}
	return time.Duration(int64(len(b.Samples)) * int64(time.Second) / int64(b.SampleRate))
}
