package gateway

import (
	"context"
	"encoding/binary"
	"fmt"
	"log/slog"
	"math"
	"sync"
	"time"

	"github.com/auradesk/aura/pkg/audio"
)

// sender delivers one control message to the browser.
type sender interface {
	send(ctx context.Context, msg any) error
}

// closeTimeout bounds best-effort close notifications sent from Close methods,
// which have no context of their own.
const closeTimeout = 2 * time.Second

// ── microphone ─────────────────────────────────────────────────────────────────

// Compile-time interface assertions.
var (
	_ audio.InputDevice  = (*browserMic)(nil)
	_ audio.InputStream  = (*micStream)(nil)
	_ audio.OutputDevice = (*browserSpeaker)(nil)
	_ audio.OutputStream = (*speakerStream)(nil)
	_ audio.Playback     = (*playback)(nil)
)

// browserMic captures audio from the browser on the other end of a voice
// call. Open asks the page for microphone access and waits for its answer.
// Samples and answers are fed in by the call's read loop.
type browserMic struct {
	out    sender
	grants chan bool
	log    *slog.Logger

	mu     sync.Mutex
	stream *micStream
}

func newBrowserMic(out sender, log *slog.Logger) *browserMic {
	return &browserMic{out: out, grants: make(chan bool, 1), log: log}
}

// Open implements [audio.InputDevice].
func (m *browserMic) Open(ctx context.Context, sampleRate, blockSize int) (audio.InputStream, error) {
	if blockSize <= 0 {
		return nil, fmt.Errorf("gateway: block size %d must be positive", blockSize)
	}
	// Drop an answer that arrived while nobody was asking.
	select {
	case <-m.grants:
	default:
	}

	msg := openMicMessage{Type: typeOpenMic, SampleRate: sampleRate, BlockSize: blockSize}
	if err := m.out.send(ctx, msg); err != nil {
		return nil, fmt.Errorf("gateway: request microphone: %w", err)
	}

	select {
	case granted := <-m.grants:
		if !granted {
			return nil, fmt.Errorf("gateway: browser refused microphone: %w", audio.ErrPermissionDenied)
		}
	case <-ctx.Done():
		return nil, fmt.Errorf("gateway: wait for microphone: %w", ctx.Err())
	}

	s := &micStream{
		out:       m.out,
		blockSize: blockSize,
		blocks:    make(chan []float32, 8),
		done:      make(chan struct{}),
	}
	m.mu.Lock()
	m.stream = s
	m.mu.Unlock()
	return s, nil
}

// handleMicrophone processes a microphone answer from the browser. While a
// stream is open, a refusal revokes it; otherwise the answer completes a
// pending Open.
func (m *browserMic) handleMicrophone(granted bool) {
	m.mu.Lock()
	s := m.stream
	m.mu.Unlock()

	if s != nil && !s.isClosed() {
		if !granted {
			s.end(audio.ErrPermissionDenied)
		}
		return
	}
	select {
	case m.grants <- granted:
	default:
		m.log.Debug("gateway: unsolicited microphone answer dropped", "granted", granted)
	}
}

// handleSamples decodes one binary frame of little-endian float32 samples and
// feeds it to the open stream. Frames arriving without an open stream are
// dropped.
func (m *browserMic) handleSamples(ctx context.Context, data []byte) error {
	if len(data)%4 != 0 {
		return fmt.Errorf("gateway: audio frame of %d bytes is not a whole number of float32 samples", len(data))
	}
	m.mu.Lock()
	s := m.stream
	m.mu.Unlock()
	if s == nil {
		return nil
	}

	samples := make([]float32, len(data)/4)
	for i := range samples {
		samples[i] = math.Float32frombits(binary.LittleEndian.Uint32(data[i*4:]))
	}
	return s.write(ctx, samples)
}

// micStream re-blocks browser frames into fixed-size blocks.
// write and end are only called from the call's read loop, so the blocks
// channel has a single sender.
type micStream struct {
	out       sender
	blockSize int
	blocks    chan []float32
	pending   []float32

	done      chan struct{}
	closeOnce sync.Once

	mu     sync.Mutex
	ended  bool
	err    error
	closed bool
}

func (s *micStream) Blocks() <-chan []float32 { return s.blocks }

func (s *micStream) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

// Close stops capture and asks the browser to release the microphone.
func (s *micStream) Close() error {
	s.closeOnce.Do(func() {
		s.mu.Lock()
		s.closed = true
		s.mu.Unlock()
		close(s.done)

		ctx, cancel := context.WithTimeout(context.Background(), closeTimeout)
		defer cancel()
		_ = s.out.send(ctx, simpleMessage{Type: typeCloseMic})
	})
	return nil
}

func (s *micStream) isClosed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed || s.ended
}

func (s *micStream) write(ctx context.Context, samples []float32) error {
	s.mu.Lock()
	ended := s.ended
	s.mu.Unlock()
	if ended {
		return nil
	}

	s.pending = append(s.pending, samples...)
	for len(s.pending) >= s.blockSize {
		block := make([]float32, s.blockSize)
		copy(block, s.pending)
		s.pending = s.pending[s.blockSize:]
		select {
		case s.blocks <- block:
		case <-s.done:
			return nil
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	// Reclaim the backing array once it is drained.
	if len(s.pending) == 0 {
		s.pending = s.pending[:0:0]
	}
	return nil
}

// end finishes the stream with err. Samples still buffered below a full
// block are discarded.
func (s *micStream) end(err error) {
	s.mu.Lock()
	if s.ended {
		s.mu.Unlock()
		return
	}
	s.ended = true
	s.err = err
	s.mu.Unlock()
	close(s.blocks)
}

// ── speaker ────────────────────────────────────────────────────────────────────

// browserSpeaker plays model audio in the browser. The speaker clock starts
// when the open_speaker message is sent; audio messages carry start times on
// that clock and the page is expected to schedule them accordingly.
type browserSpeaker struct {
	out sender
	now func() time.Time
}

func newBrowserSpeaker(out sender) *browserSpeaker {
	return &browserSpeaker{out: out, now: time.Now}
}

// Open implements [audio.OutputDevice].
func (sp *browserSpeaker) Open(ctx context.Context, sampleRate int) (audio.OutputStream, error) {
	if sampleRate <= 0 {
		return nil, fmt.Errorf("gateway: sample rate %d must be positive", sampleRate)
	}
	s := &speakerStream{
		out:     sp.out,
		now:     sp.now,
		origin:  sp.now(),
		pending: make(map[*playback]struct{}),
	}
	if err := sp.out.send(ctx, openSpeakerMessage{Type: typeOpenSpeaker, SampleRate: sampleRate}); err != nil {
		return nil, fmt.Errorf("gateway: open speaker: %w", err)
	}
	return s, nil
}

// speakerStream mirrors the browser's playback timeline so that the session
// can tell when scheduled audio has finished.
type speakerStream struct {
	out    sender
	now    func() time.Time
	origin time.Time

	mu      sync.Mutex
	closed  bool
	pending map[*playback]struct{}
}

// Now implements [audio.OutputStream].
func (s *speakerStream) Now() time.Duration {
	return s.now().Sub(s.origin)
}

// Schedule sends buf to the browser at exactly at and arms a timer that marks
// the playback done once the buffer's end time on the speaker clock has
// passed. A start already in the past plays as soon as the browser gets it.
func (s *speakerStream) Schedule(buf audio.Buffer, at time.Duration) (audio.Playback, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, audio.ErrStreamClosed
	}

	length := buf.Duration()

	ctx, cancel := context.WithTimeout(context.Background(), defaultWriteTimeout)
	defer cancel()
	msg := audioMessage{
		Type:       typeAudio,
		At:         at.Seconds(),
		Duration:   length.Seconds(),
		SampleRate: buf.SampleRate,
		PCM:        audio.Float32ToPCM16(buf.Samples),
	}
	if err := s.out.send(ctx, msg); err != nil {
		return nil, fmt.Errorf("gateway: send audio: %w", err)
	}

	p := &playback{done: make(chan struct{})}
	s.pending[p] = struct{}{}
	p.timer = time.AfterFunc(max(at+length-s.Now(), 0), func() { s.finish(p) })
	return p, nil
}

func (s *speakerStream) finish(p *playback) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.pending[p]; !ok {
		return
	}
	delete(s.pending, p)
	close(p.done)
}

// Close marks every pending playback done and tells the browser to stop.
func (s *speakerStream) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	for p := range s.pending {
		p.timer.Stop()
		close(p.done)
	}
	clear(s.pending)
	s.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), closeTimeout)
	defer cancel()
	_ = s.out.send(ctx, simpleMessage{Type: typeCloseSpeaker})
	return nil
}

// playback is one buffer on the speaker timeline.
type playback struct {
	done  chan struct{}
	timer *time.Timer
}

func (p *playback) Done() <-chan struct{} { return p.done }
