// Package audio defines the host audio device abstractions and PCM helpers
// used by Aura voice sessions.
//
// The two device abstractions are:
//
//   - [InputDevice]: opens a capture [InputStream] that delivers fixed-size
//     blocks of mono float samples (the microphone).
//   - [OutputDevice]: opens a playback [OutputStream] with its own clock on
//     which decoded [Buffer] values are scheduled (the speaker).
//
// Implementations live in adapter packages (the browser gateway, the test
// mocks). The interfaces are intentionally narrow so that the voice session
// never depends on where the audio physically comes from.
package audio

import (
	"context"
	"errors"
	"time"
)

// ErrPermissionDenied is returned by [InputDevice.Open] (or reported through
// [InputStream.Err]) when the host refuses or revokes microphone access.
var ErrPermissionDenied = errors.New("audio: microphone permission denied")

// ErrStreamClosed is returned by stream methods called after Close.
var ErrStreamClosed = errors.New("audio: stream closed")

// InputStream is an open capture stream.
//
// Blocks are delivered in capture order on the channel returned by Blocks.
// The channel is closed when the stream ends; call Err afterwards to learn
// whether it ended because of a failure (e.g., permission revoked).
type InputStream interface {
	// Blocks returns the channel of captured sample blocks. Every block holds
	// exactly the block size requested at Open, except possibly the last.
	Blocks() <-chan []float32

	// Err returns the error that ended the stream, or nil.
	Err() error

	// Close releases the capture device. Calling Close more than once is safe
	// and returns nil.
	Close() error
}

// InputDevice is the entry point for microphone capture.
type InputDevice interface {
	// Open requests microphone access and starts capture at sampleRate,
	// delivering blocks of blockSize samples. It blocks until access is
	// granted or refused; refusal returns an error wrapping
	// [ErrPermissionDenied].
	Open(ctx context.Context, sampleRate, blockSize int) (InputStream, error)
}

// Playback is a handle to one buffer scheduled on an [OutputStream].
type Playback interface {
	// Done is closed when the buffer has finished playing (or the stream was
	// closed before it could).
	Done() <-chan struct{}
}

// OutputStream is an open playback stream with a monotonic clock.
type OutputStream interface {
	// Now returns the current position of the output clock, measured from the
	// moment the stream was opened.
	Now() time.Duration

	// Schedule queues buf to start playing at the given output clock time.
	// Times in the past start immediately. Already scheduled buffers are never
	// cancelled by later calls.
	Schedule(buf Buffer, at time.Duration) (Playback, error)

	// Close stops playback and releases the device. Calling Close more than
	// once is safe and returns nil.
	Close() error
}

// OutputDevice is the entry point for speaker playback.
type OutputDevice interface {
	// Open creates a playback stream rendering at sampleRate.
	Open(ctx context.Context, sampleRate int) (OutputStream, error)
}
