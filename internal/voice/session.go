// Package voice implements the real-time voice session: the connection
// status machine, the microphone capture pipeline and the gapless playback
// scheduler, wired to a speech-to-speech provider.
//
// A [Session] owns one provider handle, one capture stream and one playback
// stream per connection attempt. After the remote side accepts, a single loop
// goroutine selects over captured blocks, inbound provider events and
// playback completions, so session state is only ever mutated from one place.
// Observable side effects are delivered on [Session.Events].
package voice

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/auradesk/aura/internal/observe"
	"github.com/auradesk/aura/pkg/audio"
	"github.com/auradesk/aura/pkg/provider/s2s"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const defaultEventBuffer = 256

// errRemoteClosed ends the loop when the provider closes the stream cleanly.
var errRemoteClosed = errors.New("voice: remote closed the stream")

// errCaptureEnded is the cause reported when the capture stream ends without
// an error of its own.
var errCaptureEnded = errors.New("capture stream ended")

// ── Options ────────────────────────────────────────────────────────────────────

// Option is a functional option for configuring a [Session].
type Option func(*Session)

// WithCaptureRate sets the microphone sample rate in Hz. The provider is told
// the rate so it can label or resample the frames.
func WithCaptureRate(hz int) Option {
	return func(s *Session) { s.captureRate = hz }
}

// WithPlaybackRate sets the rate the output device is opened at, in Hz.
// Inbound chunks are always decoded at the provider's output rate; the device
// converts between the two.
func WithPlaybackRate(hz int) Option {
	return func(s *Session) { s.playbackRate = hz }
}

// WithBlockSize sets the number of samples per captured block.
func WithBlockSize(n int) Option {
	return func(s *Session) { s.blockSize = n }
}

// WithActivityThreshold sets the mean absolute amplitude above which a block
// counts as user activity.
func WithActivityThreshold(t float64) Option {
	return func(s *Session) { s.threshold = t }
}

// WithConnectTimeout bounds the whole Connect handshake. Zero (the default)
// means no timeout beyond the caller's context.
func WithConnectTimeout(d time.Duration) Option {
	return func(s *Session) { s.connectTimeout = d }
}

// WithEventBuffer sets the capacity of the Events channel.
func WithEventBuffer(n int) Option {
	return func(s *Session) { s.eventBuffer = n }
}

// WithMetrics overrides the metrics sink. Defaults to [observe.DefaultMetrics].
func WithMetrics(m *observe.Metrics) Option {
	return func(s *Session) { s.metrics = m }
}

// WithLogger overrides the logger. Defaults to [slog.Default].
func WithLogger(l *slog.Logger) Option {
	return func(s *Session) { s.log = l }
}

// WithProviderName labels logs and metrics with the provider's config name.
func WithProviderName(name string) Option {
	return func(s *Session) { s.providerName = name }
}

// ── Session ────────────────────────────────────────────────────────────────────

// Session is one voice call. It is safe for concurrent use.
//
// The Events channel must be drained by the caller: emission blocks when its
// buffer is full.
type Session struct {
	provider s2s.Provider
	input    audio.InputDevice
	output   audio.OutputDevice
	cfg      s2s.SessionConfig

	captureRate    int
	playbackRate   int
	chunkRate      int
	blockSize      int
	threshold      float64
	connectTimeout time.Duration
	eventBuffer    int
	providerName   string
	metrics        *observe.Metrics
	log            *slog.Logger

	transcript TranscriptLog

	events       chan Event
	emitMu       sync.Mutex
	eventsClosed bool

	mu     sync.Mutex
	status Status
	att    *attempt
	closed bool
}

// attempt is one Connect call and, if it succeeds, the loop that follows.
// done is closed once every resource of the attempt has been released.
type attempt struct {
	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}
}

// resources are the handles acquired by one attempt, in acquisition order.
type resources struct {
	out    audio.OutputStream
	mic    audio.InputStream
	handle s2s.SessionHandle
}

// release closes everything that was acquired, in reverse order.
func (r *resources) release() error {
	var errs []error
	if r.handle != nil {
		errs = append(errs, r.handle.Close())
	}
	if r.mic != nil {
		errs = append(errs, r.mic.Close())
	}
	if r.out != nil {
		errs = append(errs, r.out.Close())
	}
	return errors.Join(errs...)
}

// New creates a disconnected Session. Device sample rates default to the
// provider's capabilities, falling back to 16 kHz capture and 24 kHz playback.
func New(provider s2s.Provider, input audio.InputDevice, output audio.OutputDevice, cfg s2s.SessionConfig, opts ...Option) *Session {
	s := &Session{
		provider:    provider,
		input:       input,
		output:      output,
		cfg:         cfg,
		blockSize:   DefaultBlockSize,
		threshold:   DefaultActivityThreshold,
		eventBuffer: defaultEventBuffer,
	}
	for _, o := range opts {
		o(s)
	}

	caps := provider.Capabilities()
	s.chunkRate = cmpOr(caps.OutputSampleRate, DefaultPlaybackSampleRate)
	if s.captureRate <= 0 {
		s.captureRate = cmpOr(caps.InputSampleRate, DefaultCaptureSampleRate)
	}
	if s.playbackRate <= 0 {
		s.playbackRate = s.chunkRate
	}
	s.cfg.InputSampleRate = s.captureRate
	if s.metrics == nil {
		s.metrics = observe.DefaultMetrics()
	}
	if s.log == nil {
		s.log = slog.Default()
	}
	if s.providerName != "" {
		s.log = s.log.With("provider", s.providerName)
	}
	s.events = make(chan Event, s.eventBuffer)
	return s
}

func cmpOr(v, fallback int) int {
	if v > 0 {
		return v
	}
	return fallback
}

// Events returns the channel of session events. It is closed by Close.
func (s *Session) Events() <-chan Event { return s.events }

// Status returns the current connection status.
func (s *Session) Status() Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.status
}

// Transcript returns a copy of every transcript item so far. Items survive
// reconnects of the same Session.
func (s *Session) Transcript() []TranscriptItem {
	return s.transcript.Items()
}

// Connect opens the playback stream, the capture stream and the provider
// session, in that order, and starts the session loop. It blocks until the
// remote side accepts or the attempt fails. On failure every acquired
// resource is released, ERROR is reported and the classified *[Error] is
// returned. A Disconnect during the handshake aborts it without ERROR.
func (s *Session) Connect(ctx context.Context) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return ErrClosed
	}
	if s.att != nil {
		s.mu.Unlock()
		return ErrAlreadyActive
	}
	attCtx, attCancel := context.WithCancel(context.Background())
	att := &attempt{ctx: attCtx, cancel: attCancel, done: make(chan struct{})}
	s.att = att
	s.setStatusLocked(StatusConnecting)
	s.mu.Unlock()

	start := time.Now()
	ctx, span := observe.StartSpan(ctx, "voice.Session.Connect",
		trace.WithAttributes(attribute.String("provider", s.providerName)),
	)
	defer span.End()

	res, err := s.handshake(ctx, att)
	if err != nil {
		outcome := s.abort(att, err)
		s.metrics.RecordSessionConnect(ctx, time.Since(start).Seconds(), outcome)
		span.RecordError(err)
		span.SetStatus(codes.Error, outcome)
		return err
	}

	s.mu.Lock()
	if att.ctx.Err() != nil {
		// Disconnect won the race against the handshake.
		s.mu.Unlock()
		_ = res.release()
		close(att.done)
		s.metrics.RecordSessionConnect(ctx, time.Since(start).Seconds(), "cancelled")
		return fmt.Errorf("voice: connect: %w", context.Canceled)
	}
	s.metrics.ActiveSessions.Add(ctx, 1)
	s.setStatusLocked(StatusConnected)
	go s.run(att, res)
	s.mu.Unlock()

	s.metrics.RecordSessionConnect(ctx, time.Since(start).Seconds(), "connected")
	s.log.Info("voice session connected", "latency", time.Since(start))
	return nil
}

// handshake acquires the attempt's resources. It is aborted by the caller's
// context, the connect timeout, or a Disconnect.
func (s *Session) handshake(ctx context.Context, att *attempt) (*resources, error) {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	stop := context.AfterFunc(att.ctx, cancel)
	defer stop()
	if s.connectTimeout > 0 {
		var cancelTimeout context.CancelFunc
		ctx, cancelTimeout = context.WithTimeout(ctx, s.connectTimeout)
		defer cancelTimeout()
	}

	res := &resources{}

	out, err := s.output.Open(ctx, s.playbackRate)
	if err != nil {
		return nil, newError(KindConnectionFailed, "open playback", err)
	}
	res.out = out

	mic, err := s.input.Open(ctx, s.captureRate, s.blockSize)
	if err != nil {
		_ = res.release()
		return nil, newError(KindPermissionDenied, "open microphone", err)
	}
	res.mic = mic

	handle, err := s.provider.Connect(ctx, s.cfg)
	if err != nil {
		_ = res.release()
		kind := KindConnectionFailed
		var remote *s2s.RemoteError
		if errors.As(err, &remote) {
			kind = KindRemote
		}
		return nil, newError(kind, "connect", err)
	}
	res.handle = handle
	return res, nil
}

// abort finishes a failed handshake and reports the metric outcome.
func (s *Session) abort(att *attempt, err error) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	defer close(att.done)

	if s.att != att {
		// Disconnect took over; it sets the final status once done closes.
		return "cancelled"
	}
	s.att = nil
	s.failLocked(err)
	return "error"
}

// Disconnect cancels a pending handshake or stops the running session,
// releases the transport and both audio streams, and sets DISCONNECTED. It is
// safe to call at any time, any number of times.
func (s *Session) Disconnect() {
	s.mu.Lock()
	att := s.att
	s.att = nil
	s.mu.Unlock()

	if att != nil {
		att.cancel()
		<-att.done
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.att != nil {
		// A new Connect started while we were waiting; it owns the status now.
		return
	}
	s.setStatusLocked(StatusDisconnected)
}

// Close disconnects and closes the Events channel. The Session cannot be
// reconnected afterwards. Close always returns nil.
func (s *Session) Close() error {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()

	s.Disconnect()

	s.emitMu.Lock()
	defer s.emitMu.Unlock()
	if !s.eventsClosed {
		s.eventsClosed = true
		close(s.events)
	}
	return nil
}

// ── loop ───────────────────────────────────────────────────────────────────────

// run drives a connected attempt until it is cancelled or fails, then
// releases its resources and settles the final status.
func (s *Session) run(att *attempt, res *resources) {
	defer close(att.done)

	sched := NewScheduler(res.out, s.chunkRate)
	finished := make(chan struct{})
	var watchers sync.WaitGroup

	err := s.loop(att, res, sched, finished, &watchers)

	att.cancel()
	if rerr := res.release(); rerr != nil {
		s.log.Debug("voice: release resources", "err", rerr)
	}
	watchers.Wait()
	s.metrics.ActiveSessions.Add(context.Background(), -1)

	if err == nil {
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.att != att {
		return
	}
	s.att = nil
	if errors.Is(err, errRemoteClosed) {
		s.log.Info("voice session closed by remote")
		s.setStatusLocked(StatusDisconnected)
		return
	}
	s.failLocked(err)
}

// loop is the single consumer of capture blocks, provider events and
// playback completions. It returns nil when the attempt is cancelled.
func (s *Session) loop(att *attempt, res *resources, sched *Scheduler, finished chan struct{}, watchers *sync.WaitGroup) error {
	blocks := res.mic.Blocks()
	events := res.handle.Events()

	for {
		select {
		case <-att.ctx.Done():
			return nil

		case block, ok := <-blocks:
			if !ok {
				cause := res.mic.Err()
				if cause == nil {
					cause = errCaptureEnded
				}
				return newError(KindPermissionDenied, "capture", cause)
			}
			if err := s.capture(att.ctx, res.handle, block); err != nil {
				return err
			}

		case ev, ok := <-events:
			if !ok {
				if err := res.handle.Err(); err != nil {
					return newError(KindConnectionFailed, "receive", err)
				}
				return errRemoteClosed
			}
			if err := s.dispatch(att.ctx, sched, ev, finished, watchers); err != nil {
				return err
			}

		case <-finished:
			if sched.Finished() {
				s.emit(att.ctx, ActivityEvent{Active: false, Source: SourceModel})
			}
		}
	}
}

// capture handles one microphone block: activity first, then the frame.
func (s *Session) capture(ctx context.Context, handle s2s.SessionHandle, block []float32) error {
	frame := NewFrame(block, s.threshold)
	s.emit(ctx, ActivityEvent{Active: frame.Active, Source: SourceUser})
	if err := handle.SendAudio(frame.PCM); err != nil {
		return newError(KindConnectionFailed, "send audio", err)
	}
	s.metrics.FramesSent.Add(ctx, 1)
	return nil
}

// dispatch applies one inbound provider event.
func (s *Session) dispatch(ctx context.Context, sched *Scheduler, ev s2s.Event, finished chan<- struct{}, watchers *sync.WaitGroup) error {
	switch ev := ev.(type) {
	case s2s.AudioChunk:
		if ev.Err != nil {
			s.decodeFailed(ctx, newError(KindDecode, "decode chunk", ev.Err))
			return nil
		}
		sc, err := sched.Enqueue(ev.Data)
		if err != nil {
			if errors.Is(err, ErrDecode) {
				s.decodeFailed(ctx, err)
				return nil
			}
			return newError(KindConnectionFailed, "playback", err)
		}
		s.metrics.ChunksScheduled.Add(ctx, 1)
		if sc.Started {
			s.emit(ctx, ActivityEvent{Active: true, Source: SourceModel})
		}
		watchers.Go(func() {
			select {
			case <-sc.Playback.Done():
			case <-ctx.Done():
				return
			}
			select {
			case finished <- struct{}{}:
			case <-ctx.Done():
			}
		})

	case s2s.Interrupted:
		sched.Interrupt()
		s.metrics.Interruptions.Add(ctx, 1)
		s.log.Debug("voice: playback interrupted", "cursor", sched.Cursor())

	case s2s.InputTranscript:
		s.appendTranscript(ctx, RoleUser, ev.Text)

	case s2s.OutputTranscript:
		s.appendTranscript(ctx, RoleModel, ev.Text)

	case *s2s.RemoteError:
		return newError(KindRemote, "remote", ev)

	case s2s.Unknown:
		// Turn boundaries, usage metadata and the like carry nothing to act on.
	}
	return nil
}

func (s *Session) appendTranscript(ctx context.Context, role Role, text string) {
	item := s.transcript.Append(role, text)
	s.metrics.RecordTranscriptItem(ctx, string(role))
	s.emit(ctx, TranscriptEvent{Item: item})
}

func (s *Session) decodeFailed(ctx context.Context, err error) {
	s.log.Warn("voice: dropping undecodable audio chunk", "err", err)
	s.metrics.DecodeErrors.Add(ctx, 1)
	s.emit(ctx, ErrorEvent{Err: err})
}

// ── events ─────────────────────────────────────────────────────────────────────

// failLocked reports a fatal error: ErrorEvent, then StatusEvent{ERROR}.
// Must be called with s.mu held.
func (s *Session) failLocked(err error) {
	kind := "unknown"
	var verr *Error
	if errors.As(err, &verr) {
		kind = verr.Kind.String()
	}
	s.log.Error("voice session failed", "kind", kind, "err", err)
	s.metrics.RecordProviderError(context.Background(), s.providerName, kind)
	s.emit(context.Background(), ErrorEvent{Err: err})
	s.setStatusLocked(StatusError)
}

// setStatusLocked records and emits a status change. Repeating the current
// status is a no-op. Must be called with s.mu held.
func (s *Session) setStatusLocked(st Status) {
	if s.status == st {
		return
	}
	s.status = st
	s.emit(context.Background(), StatusEvent{Status: st})
}

// emit delivers ev unless ctx is done first or the channel has been closed.
func (s *Session) emit(ctx context.Context, ev Event) {
	s.emitMu.Lock()
	defer s.emitMu.Unlock()
	if s.eventsClosed {
		return
	}
	select {
	case s.events <- ev:
	case <-ctx.Done():
	}
}
