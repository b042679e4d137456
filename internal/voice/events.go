package voice

// Event is one observable side effect of a [Session]. The concrete type is one
// of [StatusEvent], [ActivityEvent], [TranscriptEvent] or [ErrorEvent].
// Events are delivered on [Session.Events] in a single total order.
type Event interface {
	isEvent()
}

// Source identifies who an [ActivityEvent] refers to.
type Source string

const (
	// SourceUser marks microphone activity.
	SourceUser Source = "user"

	// SourceModel marks assistant playback activity.
	SourceModel Source = "model"
)

// StatusEvent reports a status transition.
type StatusEvent struct {
	Status Status
}

// ActivityEvent reports whether the user is audibly speaking (one per
// captured block) or whether assistant audio is playing (on edges only).
type ActivityEvent struct {
	Active bool
	Source Source
}

// TranscriptEvent reports one item appended to the session transcript.
type TranscriptEvent struct {
	Item TranscriptItem
}

// ErrorEvent reports an error. Err is always a *[Error]; match it with
// errors.Is against the sentinel kinds.
type ErrorEvent struct {
	Err error
}

func (StatusEvent) isEvent()     {}
func (ActivityEvent) isEvent()   {}
func (TranscriptEvent) isEvent() {}
func (ErrorEvent) isEvent()      {}
