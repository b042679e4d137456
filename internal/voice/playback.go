package voice

import (
	"fmt"
	"time"

	"github.com/auradesk/aura/pkg/audio"
)

// DefaultPlaybackSampleRate is the rate of inbound model audio, in Hz.
const DefaultPlaybackSampleRate = 24000

// Scheduler places decoded chunks back to back on an output stream's clock.
//
// The cursor is the time at which the next chunk starts. It only moves
// forward, except on [Scheduler.Interrupt] which pulls it back to the current
// clock time. Scheduler is not safe for concurrent use; a [Session] drives it
// from its loop goroutine.
type Scheduler struct {
	out      audio.OutputStream
	rate     int
	cursor   time.Duration
	inFlight int
}

// NewScheduler returns a Scheduler for out, decoding chunks at rate Hz. The
// cursor starts at the stream's current time.
func NewScheduler(out audio.OutputStream, rate int) *Scheduler {
	return &Scheduler{out: out, rate: rate, cursor: out.Now()}
}

// Scheduled describes one chunk placed on the timeline.
type Scheduled struct {
	Playback audio.Playback
	Start    time.Duration
	Duration time.Duration

	// Started is true when the chunk is the first in flight, i.e. model
	// playback went from idle to active.
	Started bool
}

// Enqueue decodes pcm and schedules it at max(cursor, now). Decode failures
// wrap [ErrDecode] and leave the timeline untouched.
func (s *Scheduler) Enqueue(pcm []byte) (Scheduled, error) {
	buf, err := audio.DecodePCM16(pcm, s.rate)
	if err != nil {
		return Scheduled{}, newError(KindDecode, "decode chunk", err)
	}

	start := max(s.cursor, s.out.Now())
	pb, err := s.out.Schedule(buf, start)
	if err != nil {
		return Scheduled{}, fmt.Errorf("voice: schedule chunk: %w", err)
	}

	dur := buf.Duration()
	s.cursor = start + dur
	s.inFlight++
	return Scheduled{
		Playback: pb,
		Start:    start,
		Duration: dur,
		Started:  s.inFlight == 1,
	}, nil
}

// Interrupt resets the cursor to the stream's current time so the next chunk
// does not queue behind stale audio. Chunks already scheduled keep playing.
func (s *Scheduler) Interrupt() {
	s.cursor = s.out.Now()
}

// Finished records that one scheduled chunk completed. It reports true when
// nothing remains in flight.
func (s *Scheduler) Finished() bool {
	if s.inFlight > 0 {
		s.inFlight--
	}
	return s.inFlight == 0
}

// Cursor returns the start time the next chunk would get if the clock stood
// still.
func (s *Scheduler) Cursor() time.Duration {
	return s.cursor
}

// InFlight returns the number of scheduled chunks that have not finished.
func (s *Scheduler) InFlight() int {
	return s.inFlight
}
