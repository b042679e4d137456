// Package s2s defines the Provider interface for speech-to-speech backends.
//
// An S2S provider wraps a real-time voice AI service that accepts raw audio
// input and returns synthesised audio output in a single, stateful session.
// Examples include Gemini Live and the OpenAI Realtime API.
//
// The central abstraction is SessionHandle: a duplex stream that accepts
// microphone PCM and delivers decoded server [Event] values in receipt order.
// Wire messages are decoded exactly once, at the transport boundary, so
// consumers only ever see the tagged [Event] variant.
//
// All implementations must be safe for concurrent use.
package s2s

import "context"

// Voice describes one prebuilt voice offered by a provider.
type Voice struct {
	// ID is the provider-specific voice identifier sent during setup
	// (e.g., "Kore", "alloy").
	ID string

	// Name is a human-readable label.
	Name string

	// Provider names the backend that owns the voice.
	Provider string
}

// SessionConfig is the initial configuration for a new S2S session.
type SessionConfig struct {
	// Voice is the prebuilt voice identifier used for synthesised speech.
	// Empty selects the provider default.
	Voice string

	// Instructions is the natural-language system instruction that defines the
	// assistant's persona and task.
	Instructions string

	// InputTranscription requests transcripts of the user's speech.
	InputTranscription bool

	// OutputTranscription requests transcripts of the model's speech.
	OutputTranscription bool

	// InputSampleRate is the rate of the PCM passed to SendAudio, in Hz. Zero
	// means [Capabilities.InputSampleRate]. Providers label or resample the
	// audio accordingly.
	InputSampleRate int
}

// Capabilities describes static properties of the S2S provider.
// The values are assumed constant for the lifetime of the Provider instance.
type Capabilities struct {
	// InputSampleRate is the PCM rate that SendAudio expects, in Hz.
	InputSampleRate int

	// OutputSampleRate is the PCM rate of [AudioChunk] payloads, in Hz.
	OutputSampleRate int

	// ContextWindow is the maximum token count (or provider-equivalent unit) the
	// model can maintain across the session.
	ContextWindow int

	// MaxSessionDurationMs is the hard upper bound on session lifetime in
	// milliseconds, as imposed by the provider. Zero means no documented limit.
	MaxSessionDurationMs int

	// Voices lists the voices available for this provider.
	Voices []Voice
}

// SessionHandle represents an active, live S2S session.
//
// Callers must call Close when the session is no longer needed. Failing to do
// so leaks the underlying network connection and goroutines.
type SessionHandle interface {
	// SendAudio streams one frame of little-endian signed 16-bit mono PCM at
	// [SessionConfig.InputSampleRate] to the model. Frames are delivered in call
	// order. Returns an error if the session has been closed.
	SendAudio(pcm []byte) error

	// Events returns the read-only channel of decoded server events. The channel
	// is closed when the session ends, either through Close or because the
	// remote closed the stream. After it is closed, call Err to learn why.
	Events() <-chan Event

	// Err returns the error that terminated the session, or nil if it ended
	// through Close or a normal remote close.
	Err() error

	// Close terminates the session and releases all associated resources.
	// Safe to call multiple times; subsequent calls return nil.
	Close() error
}

// Provider is the abstraction over any speech-to-speech backend.
//
// Implementations must be safe for concurrent use.
type Provider interface {
	// Connect opens a new session with the given configuration. It returns only
	// once the remote side has acknowledged the setup, or with an error if the
	// dial, the setup or ctx fails. Cancelling ctx after Connect returns has no
	// effect on the session; use [SessionHandle.Close].
	Connect(ctx context.Context, cfg SessionConfig) (SessionHandle, error)

	// Capabilities returns static metadata about this provider.
	Capabilities() Capabilities
}
