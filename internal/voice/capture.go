package voice

import "github.com/auradesk/aura/pkg/audio"

const (
	// DefaultCaptureSampleRate is the microphone rate expected by the remote
	// model, in Hz.
	DefaultCaptureSampleRate = 16000

	// DefaultBlockSize is the number of samples per captured block.
	DefaultBlockSize = 4096

	// DefaultActivityThreshold is the mean absolute amplitude above which a
	// block counts as speech.
	DefaultActivityThreshold = 0.01
)

// Frame is one captured block ready for the wire.
type Frame struct {
	// PCM is little-endian signed 16-bit mono audio.
	PCM []byte

	// Active reports whether the block's mean absolute amplitude exceeded the
	// activity threshold.
	Active bool
}

// NewFrame converts a block of float samples into a [Frame]. It is a coarse
// volume gate, not voice activity detection.
func NewFrame(block []float32, threshold float64) Frame {
	return Frame{
		PCM:    audio.Float32ToPCM16(block),
		Active: audio.MeanAbs(block) > threshold,
	}
}
