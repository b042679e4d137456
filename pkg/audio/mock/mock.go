// Package mock provides in-memory mock implementations of the [audio.InputDevice],
// [audio.InputStream], [audio.OutputDevice] and [audio.OutputStream]
// interfaces for use in unit tests.
//
// All mocks are safe for concurrent use unless stated otherwise. They record
// every method call so that tests can assert on call counts and arguments,
// and they expose exported fields that the test can set to control return
// values. The [OutputStream] clock only moves when the test calls
// [OutputStream.Advance] or [OutputStream.SetNow].
//
// Typical usage:
//
//	mic := &mock.Microphone{}
//	spk := &mock.Speaker{}
//	in, _ := mic.Open(ctx, 16000, 4096)
//	mic.Last().Push(make([]float32, 4096))
//	spk.Last().Advance(time.Second)
package mock

import (
	"context"
	"sync"
	"time"

	"github.com/auradesk/aura/pkg/audio"
)

// ─── Microphone ───────────────────────────────────────────────────────────────

// OpenCall records the arguments of a single [Microphone.Open] invocation.
type OpenCall struct {
	SampleRate int
	BlockSize  int
}

// Microphone is a mock implementation of [audio.InputDevice].
type Microphone struct {
	mu sync.Mutex

	// OpenErr, if non-nil, is returned by Open (e.g. audio.ErrPermissionDenied).
	OpenErr error

	// BlockBuffer is the capacity of the Blocks channel of opened streams.
	// Defaults to 16.
	BlockBuffer int

	// OpenCalls records every call to Open in order.
	OpenCalls []OpenCall

	// Streams holds every stream opened successfully, in order.
	Streams []*InputStream
}

// Open implements [audio.InputDevice].
func (m *Microphone) Open(_ context.Context, sampleRate, blockSize int) (audio.InputStream, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.OpenCalls = append(m.OpenCalls, OpenCall{SampleRate: sampleRate, BlockSize: blockSize})
	if m.OpenErr != nil {
		return nil, m.OpenErr
	}
	n := m.BlockBuffer
	if n <= 0 {
		n = 16
	}
	s := &InputStream{
		blocks: make(chan []float32, n),
		done:   make(chan struct{}),
	}
	m.Streams = append(m.Streams, s)
	return s, nil
}

// Last returns the most recently opened stream, or nil.
func (m *Microphone) Last() *InputStream {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.Streams) == 0 {
		return nil
	}
	return m.Streams[len(m.Streams)-1]
}

// InputStream is a mock implementation of [audio.InputStream]. Tests feed it
// with [InputStream.Push] and end it with [InputStream.Fail].
type InputStream struct {
	blocks chan []float32
	done   chan struct{}

	mu        sync.Mutex
	err       error
	closed    bool
	ended     bool
	closeOnce sync.Once

	// CallCountClose records how many times Close was called.
	CallCountClose int
}

// Blocks implements [audio.InputStream].
func (s *InputStream) Blocks() <-chan []float32 { return s.blocks }

// Err implements [audio.InputStream].
func (s *InputStream) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

// Close implements [audio.InputStream].
func (s *InputStream) Close() error {
	s.mu.Lock()
	s.CallCountClose++
	s.closed = true
	s.mu.Unlock()
	s.closeOnce.Do(func() { close(s.done) })
	return nil
}

// Closed reports whether Close has been called.
func (s *InputStream) Closed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

// Push delivers one captured block. It blocks until the consumer takes the
// block or the stream is closed, and reports whether the block was delivered.
func (s *InputStream) Push(block []float32) bool {
	s.mu.Lock()
	ended := s.ended
	s.mu.Unlock()
	if ended {
		return false
	}
	select {
	case s.blocks <- block:
		return true
	case <-s.done:
		return false
	}
}

// Fail ends the stream with err (nil simulates a clean end of capture).
// Fail must not be called concurrently with Push.
func (s *InputStream) Fail(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ended {
		return
	}
	s.ended = true
	s.err = err
	close(s.blocks)
}

// ─── Speaker ──────────────────────────────────────────────────────────────────

// Speaker is a mock implementation of [audio.OutputDevice].
type Speaker struct {
	mu sync.Mutex

	// OpenErr, if non-nil, is returned by Open.
	OpenErr error

	// Start is the initial clock value of opened streams.
	Start time.Duration

	// OpenRates records the sampleRate argument of every Open call.
	OpenRates []int

	// Streams holds every stream opened successfully, in order.
	Streams []*OutputStream
}

// Open implements [audio.OutputDevice].
func (sp *Speaker) Open(_ context.Context, sampleRate int) (audio.OutputStream, error) {
	sp.mu.Lock()
	defer sp.mu.Unlock()
	sp.OpenRates = append(sp.OpenRates, sampleRate)
	if sp.OpenErr != nil {
		return nil, sp.OpenErr
	}
	s := &OutputStream{now: sp.Start}
	sp.Streams = append(sp.Streams, s)
	return s, nil
}

// Last returns the most recently opened stream, or nil.
func (sp *Speaker) Last() *OutputStream {
	sp.mu.Lock()
	defer sp.mu.Unlock()
	if len(sp.Streams) == 0 {
		return nil
	}
	return sp.Streams[len(sp.Streams)-1]
}

// Scheduled records one [OutputStream.Schedule] call.
type Scheduled struct {
	// At is the start time requested by the caller.
	At time.Duration

	// Duration is the buffer's playback length.
	Duration time.Duration

	// Buffer is the scheduled audio.
	Buffer audio.Buffer

	done     chan struct{}
	finished bool
}

// Done implements [audio.Playback].
func (s *Scheduled) Done() <-chan struct{} { return s.done }

// OutputStream is a mock implementation of [audio.OutputStream] with a
// manually driven clock. A scheduled buffer finishes once the clock reaches
// max(At, clock at schedule time) + Duration.
type OutputStream struct {
	mu        sync.Mutex
	now       time.Duration
	scheduled []*Scheduled
	ends      []time.Duration
	closed    bool

	// ScheduleErr, if non-nil, is returned by Schedule.
	ScheduleErr error

	// CallCountClose records how many times Close was called.
	CallCountClose int
}

// Now implements [audio.OutputStream].
func (s *OutputStream) Now() time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.now
}

// Schedule implements [audio.OutputStream].
func (s *OutputStream) Schedule(buf audio.Buffer, at time.Duration) (audio.Playback, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, audio.ErrStreamClosed
	}
	if s.ScheduleErr != nil {
		return nil, s.ScheduleErr
	}
	sc := &Scheduled{
		At:       at,
		Duration: buf.Duration(),
		Buffer:   buf,
		done:     make(chan struct{}),
	}
	s.scheduled = append(s.scheduled, sc)
	s.ends = append(s.ends, max(at, s.now)+sc.Duration)
	s.finishLocked()
	return sc, nil
}

// Advance moves the clock forward by d and completes every buffer whose end
// time has been reached.
func (s *OutputStream) Advance(d time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.now += d
	s.finishLocked()
}

// SetNow sets the clock to t. Moving the clock backwards is allowed but does
// not un-finish completed buffers.
func (s *OutputStream) SetNow(t time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.now = t
	s.finishLocked()
}

// Scheduled returns a snapshot of every Schedule call, in order.
func (s *OutputStream) Scheduled() []Scheduled {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Scheduled, len(s.scheduled))
	for i, sc := range s.scheduled {
		out[i] = Scheduled{At: sc.At, Duration: sc.Duration, Buffer: sc.Buffer}
	}
	return out
}

// Close implements [audio.OutputStream]. Pending buffers are completed.
func (s *OutputStream) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.CallCountClose++
	if s.closed {
		return nil
	}
	s.closed = true
	for _, sc := range s.scheduled {
		if !sc.finished {
			sc.finished = true
			close(sc.done)
		}
	}
	return nil
}

// Closed reports whether Close has been called.
func (s *OutputStream) Closed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

// finishLocked completes buffers whose end time is <= now. Must be called
// with s.mu held.
func (s *OutputStream) finishLocked() {
	for i, sc := range s.scheduled {
		if !sc.finished && s.ends[i] <= s.now {
			sc.finished = true
			close(sc.done)
		}
	}
}
