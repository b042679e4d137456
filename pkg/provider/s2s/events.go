package s2s

import (
	"encoding/json"
	"fmt"
)

// Event is one decoded inbound server event. The concrete type is one of
// [AudioChunk], [Interrupted], [InputTranscript], [OutputTranscript],
// [RemoteError] or [Unknown]; consumers switch on it exhaustively.
//
// A single wire message may decode into several events. Providers emit them
// in the order audio, interruption, input transcript, output transcript.
type Event interface {
	isEvent()
}

// AudioChunk carries model speech as little-endian signed 16-bit mono PCM
// at the provider's [Capabilities.OutputSampleRate].
type AudioChunk struct {
	Data []byte

	// Err is set when the payload could not be decoded from its wire
	// encoding. Data is nil in that case.
	Err error
}

// Interrupted signals that the model detected the user talking over it. Audio
// that was generated before the signal is stale.
type Interrupted struct{}

// InputTranscript is a finalized fragment of the user's recognised speech.
type InputTranscript struct {
	Text string
}

// OutputTranscript is a finalized fragment of the model's spoken output.
type OutputTranscript struct {
	Text string
}

// RemoteError is an error event signalled by the server. It implements error.
type RemoteError struct {
	Code    string
	Message string
}

// Error implements error.
func (e *RemoteError) Error() string {
	if e.Code == "" {
		return "remote error: " + e.Message
	}
	return fmt.Sprintf("remote error %s: %s", e.Code, e.Message)
}

// Unknown wraps a server message that carried nothing the session acts on
// (turn boundaries, usage metadata, tool calls, …).
type Unknown struct {
	Raw json.RawMessage
}

func (AudioChunk) isEvent()       {}
func (Interrupted) isEvent()      {}
func (InputTranscript) isEvent()  {}
func (OutputTranscript) isEvent() {}
func (*RemoteError) isEvent()     {}
func (Unknown) isEvent()          {}
