// Package mock provides test doubles for the s2s package interfaces.
//
// Use Provider to verify Connect calls and hand out controlled sessions.
// Use Session to inject server events and inspect the audio frames the
// session under test sent.
//
// Example:
//
//	p := &mock.Provider{}
//	handle, _ := p.Connect(ctx, cfg)
//	p.Last().Emit(s2s.AudioChunk{Data: pcm})
//	p.Last().End(nil) // remote closed normally
package mock

import (
	"context"
	"errors"
	"sync"

	"github.com/auradesk/aura/pkg/provider/s2s"
)

// ErrClosed is returned by Session.SendAudio after Close.
var ErrClosed = errors.New("mock: session closed")

// ConnectCall records a single invocation of Provider.Connect.
type ConnectCall struct {
	// Ctx is the context passed to Connect.
	Ctx context.Context
	// Cfg is the SessionConfig passed to Connect.
	Cfg s2s.SessionConfig
}

// Provider is a mock implementation of s2s.Provider.
type Provider struct {
	mu sync.Mutex

	// Session is the SessionHandle returned by Connect. If nil, every Connect
	// returns a fresh *Session, recorded in Sessions.
	Session s2s.SessionHandle

	// ConnectErr, if non-nil, is returned as the error from Connect.
	ConnectErr error

	// Block, if non-nil, makes Connect wait until the channel is closed or the
	// context is done, simulating a slow handshake.
	Block chan struct{}

	// ProviderCapabilities is returned by Capabilities.
	ProviderCapabilities s2s.Capabilities

	// ConnectCalls records every call to Connect in order.
	ConnectCalls []ConnectCall

	// Sessions holds every Session created by Connect, in order.
	Sessions []*Session

	// CapabilitiesCallCount is the number of times Capabilities was called.
	CapabilitiesCallCount int
}

// Ensure Provider implements s2s.Provider at compile time.
var _ s2s.Provider = (*Provider)(nil)

// Connect records the call and returns Session, ConnectErr.
func (p *Provider) Connect(ctx context.Context, cfg s2s.SessionConfig) (s2s.SessionHandle, error) {
	p.mu.Lock()
	p.ConnectCalls = append(p.ConnectCalls, ConnectCall{Ctx: ctx, Cfg: cfg})
	block := p.Block
	p.mu.Unlock()

	if block != nil {
		select {
		case <-block:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if p.ConnectErr != nil {
		return nil, p.ConnectErr
	}
	if p.Session != nil {
		return p.Session, nil
	}
	s := NewSession()
	p.Sessions = append(p.Sessions, s)
	return s, nil
}

// Capabilities records the call and returns ProviderCapabilities.
func (p *Provider) Capabilities() s2s.Capabilities {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.CapabilitiesCallCount++
	return p.ProviderCapabilities
}

// Last returns the most recently created Session, or nil.
func (p *Provider) Last() *Session {
	p.mu.Lock()
	defer p.mu.Unlock()
	if len(p.Sessions) == 0 {
		return nil
	}
	return p.Sessions[len(p.Sessions)-1]
}

// ConnectCount returns the number of Connect calls so far.
func (p *Provider) ConnectCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.ConnectCalls)
}

// Reset clears all recorded calls. Thread-safe.
func (p *Provider) Reset() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.ConnectCalls = nil
	p.Sessions = nil
	p.CapabilitiesCallCount = 0
}

// Session is a mock implementation of s2s.SessionHandle. Create it with
// [NewSession]. Tests push server events with Emit and end the stream with End.
type Session struct {
	events    chan s2s.Event
	done      chan struct{}
	closeOnce sync.Once

	// emitMu serialises channel sends against closing the channel.
	emitMu sync.Mutex
	ended  bool

	mu     sync.Mutex
	err    error
	closed bool
	frames [][]byte

	// SendAudioErr, if non-nil, is returned by every SendAudio call.
	SendAudioErr error

	// CloseErr, if non-nil, is returned by Close.
	CloseErr error

	// CallCountClose is the number of times Close was called.
	CallCountClose int
}

// Ensure Session implements s2s.SessionHandle at compile time.
var _ s2s.SessionHandle = (*Session)(nil)

// NewSession returns a Session with a buffered event channel.
func NewSession() *Session {
	return &Session{
		events: make(chan s2s.Event, 64),
		done:   make(chan struct{}),
	}
}

// Emit delivers ev on the Events channel. It reports false if the session has
// already ended or was closed.
func (s *Session) Emit(ev s2s.Event) bool {
	s.emitMu.Lock()
	defer s.emitMu.Unlock()
	if s.ended {
		return false
	}
	select {
	case s.events <- ev:
		return true
	case <-s.done:
		return false
	}
}

// End simulates the remote side closing the stream. err becomes the value
// returned by Err; nil means a normal closure.
func (s *Session) End(err error) {
	s.mu.Lock()
	if s.err == nil {
		s.err = err
	}
	s.mu.Unlock()
	s.finish()
}

func (s *Session) finish() {
	s.emitMu.Lock()
	defer s.emitMu.Unlock()
	if !s.ended {
		s.ended = true
		close(s.events)
	}
}

// SendAudio records a copy of pcm.
func (s *Session) SendAudio(pcm []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}
	if s.SendAudioErr != nil {
		return s.SendAudioErr
	}
	s.frames = append(s.frames, append([]byte(nil), pcm...))
	return nil
}

// Frames returns a copy of every frame passed to SendAudio, in order.
func (s *Session) Frames() [][]byte {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([][]byte, len(s.frames))
	copy(out, s.frames)
	return out
}

// Events implements s2s.SessionHandle.
func (s *Session) Events() <-chan s2s.Event { return s.events }

// Err implements s2s.SessionHandle.
func (s *Session) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

// Close records the call, closes the Events channel and returns CloseErr.
func (s *Session) Close() error {
	s.mu.Lock()
	s.CallCountClose++
	s.closed = true
	closeErr := s.CloseErr
	s.mu.Unlock()

	s.closeOnce.Do(func() { close(s.done) })
	s.finish()
	return closeErr
}

// Closed reports whether Close has been called.
func (s *Session) Closed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}
