package voice

import (
	"errors"
	"fmt"
)

// Sentinel errors, one per [Kind]. An *[Error] matches its kind's sentinel
// under errors.Is.
var (
	// ErrPermissionDenied: microphone access was refused or revoked, or the
	// capture stream ended unexpectedly.
	ErrPermissionDenied = errors.New("voice: microphone permission denied")

	// ErrConnectionFailed: the remote stream could not be opened, or it
	// dropped with a transport error.
	ErrConnectionFailed = errors.New("voice: connection failed")

	// ErrRemote: the remote service signalled an error.
	ErrRemote = errors.New("voice: remote error")

	// ErrDecode: an inbound audio chunk could not be decoded. Non-fatal.
	ErrDecode = errors.New("voice: audio decode failed")
)

// ErrAlreadyActive is returned by [Session.Connect] while an attempt is
// already connecting or connected.
var ErrAlreadyActive = errors.New("voice: session already active")

// ErrClosed is returned by [Session.Connect] after [Session.Close].
var ErrClosed = errors.New("voice: session closed")

// Kind classifies an [Error].
type Kind int

const (
	KindPermissionDenied Kind = iota + 1
	KindConnectionFailed
	KindRemote
	KindDecode
)

// String returns a short snake_case label, used in logs and metrics.
func (k Kind) String() string {
	switch k {
	case KindPermissionDenied:
		return "permission_denied"
	case KindConnectionFailed:
		return "connection_failed"
	case KindRemote:
		return "remote"
	case KindDecode:
		return "decode"
	default:
		return "unknown"
	}
}

func (k Kind) sentinel() error {
	switch k {
	case KindPermissionDenied:
		return ErrPermissionDenied
	case KindConnectionFailed:
		return ErrConnectionFailed
	case KindRemote:
		return ErrRemote
	case KindDecode:
		return ErrDecode
	default:
		return nil
	}
}

// Error is a classified session error.
type Error struct {
	Kind Kind
	Op   string
	Err  error
}

func newError(kind Kind, op string, err error) *Error {
	return &Error{Kind: kind, Op: op, Err: err}
}

// Error implements error.
func (e *Error) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("voice: %s: %s", e.Op, e.Kind)
	}
	return fmt.Sprintf("voice: %s: %s: %v", e.Op, e.Kind, e.Err)
}

// Unwrap returns the kind's sentinel and the underlying cause, so errors.Is
// matches both.
func (e *Error) Unwrap() []error {
	errs := make([]error, 0, 2)
	if s := e.Kind.sentinel(); s != nil {
		errs = append(errs, s)
	}
	if e.Err != nil {
		errs = append(errs, e.Err)
	}
	return errs
}
