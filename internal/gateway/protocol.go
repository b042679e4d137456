package gateway

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/auradesk/aura/internal/voice"
)

// Message types exchanged on the /v1/voice websocket. Control messages are
// JSON text frames with a "type" field. Microphone audio travels in binary
// frames of little-endian float32 mono samples at the announced capture rate.
const (
	// browser → server
	typeHello      = "hello"
	typeMicrophone = "microphone"
	typeStop       = "stop"

	// server → browser
	typeReady        = "ready"
	typeOpenMic      = "open_microphone"
	typeCloseMic     = "close_microphone"
	typeOpenSpeaker  = "open_speaker"
	typeCloseSpeaker = "close_speaker"
	typeAudio        = "audio"
	typeStatus       = "status"
	typeActivity     = "activity"
	typeTranscript   = "transcript"
	typeError        = "error"
)

// Language is the caller's preferred conversation language.
type Language string

const (
	LanguageEnglish Language = "EN"
	LanguageHindi   Language = "HI"
)

// instructionLine returns the system instruction suffix for l.
func (l Language) instructionLine() string {
	switch l {
	case LanguageHindi:
		return "The caller prefers Hindi. Reply in Hindi or Hinglish unless asked otherwise."
	default:
		return "The caller prefers English."
	}
}

// envelope is used to peek at the type of an inbound control message.
type envelope struct {
	Type string `json:"type"`
}

// helloMessage must be the first message of every voice connection.
type helloMessage struct {
	Type     string   `json:"type"`
	Consent  bool     `json:"consent"`
	Language Language `json:"language"`
}

// microphoneMessage answers an open_microphone request, or reports that
// access was revoked mid-call.
type microphoneMessage struct {
	Type    string `json:"type"`
	Granted bool   `json:"granted"`
}

type readyMessage struct {
	Type      string   `json:"type"`
	SessionID string   `json:"session_id"`
	Language  Language `json:"language"`
}

type openMicMessage struct {
	Type       string `json:"type"`
	SampleRate int    `json:"sample_rate"`
	BlockSize  int    `json:"block_size"`
}

type openSpeakerMessage struct {
	Type       string `json:"type"`
	SampleRate int    `json:"sample_rate"`
}

type simpleMessage struct {
	Type string `json:"type"`
}

// audioMessage carries one scheduled buffer. At and Duration are seconds on
// the speaker clock, whose origin is the open_speaker message. PCM is
// base64 little-endian int16 mono at SampleRate, which may differ from the
// speaker's rate.
type audioMessage struct {
	Type       string  `json:"type"`
	At         float64 `json:"at"`
	Duration   float64 `json:"duration"`
	SampleRate int     `json:"sample_rate"`
	PCM        []byte  `json:"pcm"`
}

type statusMessage struct {
	Type   string       `json:"type"`
	Status voice.Status `json:"status"`
}

type activityMessage struct {
	Type   string       `json:"type"`
	Source voice.Source `json:"source"`
	Active bool         `json:"active"`
}

type transcriptMessage struct {
	Type string               `json:"type"`
	Item voice.TranscriptItem `json:"item"`
}

type errorMessage struct {
	Type    string `json:"type"`
	Kind    string `json:"kind"`
	Message string `json:"message"`
}

// parseHello decodes and validates the opening message.
func parseHello(data []byte) (helloMessage, error) {
	var h helloMessage
	if err := json.Unmarshal(data, &h); err != nil {
		return h, fmt.Errorf("decode hello: %w", err)
	}
	if h.Type != typeHello {
		return h, fmt.Errorf("expected %q message, got %q", typeHello, h.Type)
	}
	h.Language = Language(strings.ToUpper(string(h.Language)))
	switch h.Language {
	case "":
		h.Language = LanguageEnglish
	case LanguageEnglish, LanguageHindi:
	default:
		return h, fmt.Errorf("unsupported language %q", h.Language)
	}
	return h, nil
}

// eventMessage converts a session event into its wire form.
func eventMessage(ev voice.Event) any {
	switch e := ev.(type) {
	case voice.StatusEvent:
		return statusMessage{Type: typeStatus, Status: e.Status}
	case voice.ActivityEvent:
		return activityMessage{Type: typeActivity, Source: e.Source, Active: e.Active}
	case voice.TranscriptEvent:
		return transcriptMessage{Type: typeTranscript, Item: e.Item}
	case voice.ErrorEvent:
		kind := "unknown"
		var verr *voice.Error
		if errors.As(e.Err, &verr) {
			kind = verr.Kind.String()
		}
		return errorMessage{Type: typeError, Kind: kind, Message: e.Err.Error()}
	default:
		return nil
	}
}
