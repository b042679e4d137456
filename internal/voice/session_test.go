package voice_test

import (
	"bytes"
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/auradesk/aura/internal/observe"
	"github.com/auradesk/aura/internal/voice"
	"github.com/auradesk/aura/pkg/audio"
	audiomock "github.com/auradesk/aura/pkg/audio/mock"
	"github.com/auradesk/aura/pkg/provider/s2s"
	s2smock "github.com/auradesk/aura/pkg/provider/s2s/mock"
	"go.opentelemetry.io/otel/metric/noop"
)

const waitTimeout = 2 * time.Second

type harness struct {
	provider *s2smock.Provider
	mic      *audiomock.Microphone
	spk      *audiomock.Speaker
	sess     *voice.Session
}

func newHarness(t *testing.T, opts ...voice.Option) *harness {
	t.Helper()

	metrics, err := observe.NewMetrics(noop.NewMeterProvider())
	if err != nil {
		t.Fatalf("NewMetrics: %v", err)
	}
	h := &harness{
		provider: &s2smock.Provider{
			ProviderCapabilities: s2s.Capabilities{InputSampleRate: 16000, OutputSampleRate: 24000},
		},
		mic: &audiomock.Microphone{},
		spk: &audiomock.Speaker{},
	}
	cfg := s2s.SessionConfig{Voice: "Puck", Instructions: "You are Aura.", InputTranscription: true, OutputTranscription: true}
	opts = append([]voice.Option{voice.WithMetrics(metrics)}, opts...)
	h.sess = voice.New(h.provider, h.mic, h.spk, cfg, opts...)
	t.Cleanup(func() { _ = h.sess.Close() })
	return h
}

// connect runs Connect and consumes CONNECTING and CONNECTED.
func (h *harness) connect(t *testing.T) *s2smock.Session {
	t.Helper()
	if err := h.sess.Connect(context.Background()); err != nil {
		t.Fatalf("Connect: %v", err)
	}
	expectStatus(t, next(t, h.sess), voice.StatusConnecting)
	expectStatus(t, next(t, h.sess), voice.StatusConnected)
	return h.provider.Last()
}

func next(t *testing.T, s *voice.Session) voice.Event {
	t.Helper()
	select {
	case ev, ok := <-s.Events():
		if !ok {
			t.Fatal("events channel closed")
		}
		return ev
	case <-time.After(waitTimeout):
		t.Fatal("timed out waiting for event")
		return nil
	}
}

// waitFor skips events until one of type E satisfies match (nil matches any).
func waitFor[E voice.Event](t *testing.T, s *voice.Session, match func(E) bool) E {
	t.Helper()
	deadline := time.After(waitTimeout)
	for {
		select {
		case ev, ok := <-s.Events():
			if !ok {
				t.Fatalf("events channel closed while waiting for %T", *new(E))
			}
			if e, ok := ev.(E); ok && (match == nil || match(e)) {
				return e
			}
		case <-deadline:
			t.Fatalf("timed out waiting for %T", *new(E))
		}
	}
}

func waitStatus(t *testing.T, s *voice.Session, want voice.Status) {
	t.Helper()
	waitFor(t, s, func(e voice.StatusEvent) bool { return e.Status == want })
}

func expectStatus(t *testing.T, ev voice.Event, want voice.Status) {
	t.Helper()
	st, ok := ev.(voice.StatusEvent)
	if !ok || st.Status != want {
		t.Fatalf("event = %#v, want StatusEvent{%s}", ev, want)
	}
}

func expectError(t *testing.T, ev voice.Event, target error) {
	t.Helper()
	ee, ok := ev.(voice.ErrorEvent)
	if !ok {
		t.Fatalf("event = %#v, want ErrorEvent", ev)
	}
	if !errors.Is(ee.Err, target) {
		t.Fatalf("ErrorEvent.Err = %v, want %v", ee.Err, target)
	}
}

func expectNoEvent(t *testing.T, s *voice.Session) {
	t.Helper()
	select {
	case ev := <-s.Events():
		t.Fatalf("unexpected event %#v", ev)
	case <-time.After(50 * time.Millisecond):
	}
}

func eventually(t *testing.T, cond func() bool, msg string) {
	t.Helper()
	deadline := time.Now().Add(waitTimeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatalf("condition not met: %s", msg)
}

// chunk returns silent PCM16 lasting d at 24 kHz.
func chunk(d time.Duration) []byte {
	return make([]byte, int(d*24000/time.Second)*2)
}

// ── connect ───────────────────────────────────────────────────────────────────

func TestSession_ConnectReportsConnectingThenConnected(t *testing.T) {
	t.Parallel()
	h := newHarness(t)

	if got := h.sess.Status(); got != voice.StatusDisconnected {
		t.Fatalf("initial Status() = %s", got)
	}
	h.connect(t)

	if got := h.sess.Status(); got != voice.StatusConnected {
		t.Errorf("Status() = %s, want CONNECTED", got)
	}
	expectNoEvent(t, h.sess)
}

func TestSession_ConnectPassesConfiguration(t *testing.T) {
	t.Parallel()
	h := newHarness(t)
	h.connect(t)

	if len(h.mic.OpenCalls) != 1 || h.mic.OpenCalls[0] != (audiomock.OpenCall{SampleRate: 16000, BlockSize: 4096}) {
		t.Errorf("mic OpenCalls = %+v", h.mic.OpenCalls)
	}
	if len(h.spk.OpenRates) != 1 || h.spk.OpenRates[0] != 24000 {
		t.Errorf("speaker OpenRates = %v", h.spk.OpenRates)
	}
	calls := h.provider.ConnectCalls
	if len(calls) != 1 {
		t.Fatalf("ConnectCalls = %d, want 1", len(calls))
	}
	if calls[0].Cfg.Voice != "Puck" || calls[0].Cfg.Instructions != "You are Aura." || !calls[0].Cfg.InputTranscription {
		t.Errorf("Cfg = %+v", calls[0].Cfg)
	}
	if calls[0].Cfg.InputSampleRate != 16000 {
		t.Errorf("Cfg.InputSampleRate = %d, want the capture rate 16000", calls[0].Cfg.InputSampleRate)
	}
}

func TestSession_RateOptionsOverrideCapabilities(t *testing.T) {
	t.Parallel()
	h := newHarness(t, voice.WithCaptureRate(8000), voice.WithPlaybackRate(22050), voice.WithBlockSize(1024))
	h.connect(t)

	if got := h.mic.OpenCalls[0]; got.SampleRate != 8000 || got.BlockSize != 1024 {
		t.Errorf("mic OpenCalls[0] = %+v", got)
	}
	if got := h.spk.OpenRates[0]; got != 22050 {
		t.Errorf("speaker rate = %d", got)
	}
	if got := h.provider.ConnectCalls[0].Cfg.InputSampleRate; got != 8000 {
		t.Errorf("provider told capture rate %d, want 8000", got)
	}
}

func TestSession_PlaybackRateOverrideKeepsChunkTiming(t *testing.T) {
	t.Parallel()
	h := newHarness(t, voice.WithPlaybackRate(48000))
	remote := h.connect(t)

	// The provider emits at its own 24 kHz whatever the speaker runs at.
	remote.Emit(s2s.AudioChunk{Data: chunk(time.Second)})
	remote.Emit(s2s.AudioChunk{Data: chunk(time.Second)})

	out := h.spk.Last()
	eventually(t, func() bool { return len(out.Scheduled()) == 2 }, "two chunks scheduled")
	sched := out.Scheduled()
	if sched[0].At != 0 || sched[1].At != time.Second {
		t.Errorf("starts = %v, %v; want 0s, 1s", sched[0].At, sched[1].At)
	}
	for i, s := range sched {
		if s.Duration != time.Second || s.Buffer.SampleRate != 24000 {
			t.Errorf("chunk %d: duration %v at %d Hz, want 1s at 24000 Hz", i, s.Duration, s.Buffer.SampleRate)
		}
	}
	if got := h.spk.OpenRates[0]; got != 48000 {
		t.Errorf("speaker rate = %d, want 48000", got)
	}
}

func TestSession_ConnectTwiceIsRejected(t *testing.T) {
	t.Parallel()
	h := newHarness(t)
	h.connect(t)

	if err := h.sess.Connect(context.Background()); !errors.Is(err, voice.ErrAlreadyActive) {
		t.Errorf("second Connect err = %v, want ErrAlreadyActive", err)
	}
	if got := h.provider.ConnectCount(); got != 1 {
		t.Errorf("provider Connect calls = %d, want 1", got)
	}
}

func TestSession_MicrophoneDenied(t *testing.T) {
	t.Parallel()
	h := newHarness(t)
	h.mic.OpenErr = audio.ErrPermissionDenied

	err := h.sess.Connect(context.Background())
	if !errors.Is(err, voice.ErrPermissionDenied) || !errors.Is(err, audio.ErrPermissionDenied) {
		t.Fatalf("Connect err = %v, want ErrPermissionDenied", err)
	}

	expectStatus(t, next(t, h.sess), voice.StatusConnecting)
	expectError(t, next(t, h.sess), voice.ErrPermissionDenied)
	expectStatus(t, next(t, h.sess), voice.StatusError)

	if h.provider.ConnectCount() != 0 {
		t.Error("provider must not be contacted without a microphone")
	}
	if out := h.spk.Last(); out == nil || !out.Closed() {
		t.Error("playback stream not released")
	}
	if got := h.sess.Status(); got != voice.StatusError {
		t.Errorf("Status() = %s, want ERROR", got)
	}
}

func TestSession_PlaybackOpenFailure(t *testing.T) {
	t.Parallel()
	h := newHarness(t)
	h.spk.OpenErr = errors.New("no output device")

	err := h.sess.Connect(context.Background())
	if !errors.Is(err, voice.ErrConnectionFailed) {
		t.Fatalf("Connect err = %v, want ErrConnectionFailed", err)
	}
	if len(h.mic.OpenCalls) != 0 {
		t.Error("microphone opened after playback failed")
	}
}

func TestSession_ProviderConnectFailure(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name   string
		err    error
		target error
	}{
		{name: "transport", err: errors.New("dial tcp: connection refused"), target: voice.ErrConnectionFailed},
		{name: "remote rejection", err: &s2s.RemoteError{Code: "401", Message: "API key not valid"}, target: voice.ErrRemote},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			h := newHarness(t)
			h.provider.ConnectErr = tt.err

			err := h.sess.Connect(context.Background())
			if !errors.Is(err, tt.target) {
				t.Fatalf("Connect err = %v, want %v", err, tt.target)
			}
			expectStatus(t, next(t, h.sess), voice.StatusConnecting)
			expectError(t, next(t, h.sess), tt.target)
			expectStatus(t, next(t, h.sess), voice.StatusError)

			if !h.mic.Last().Closed() || !h.spk.Last().Closed() {
				t.Error("audio streams not released")
			}
		})
	}
}

func TestSession_ReconnectAfterError(t *testing.T) {
	t.Parallel()
	h := newHarness(t)
	h.provider.ConnectErr = errors.New("unreachable")

	if err := h.sess.Connect(context.Background()); err == nil {
		t.Fatal("expected error")
	}
	waitStatus(t, h.sess, voice.StatusError)

	h.provider.ConnectErr = nil
	h.connect(t)
}

func TestSession_ConnectTimeout(t *testing.T) {
	t.Parallel()
	h := newHarness(t, voice.WithConnectTimeout(30*time.Millisecond))
	h.provider.Block = make(chan struct{})

	err := h.sess.Connect(context.Background())
	if !errors.Is(err, voice.ErrConnectionFailed) || !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("Connect err = %v, want ErrConnectionFailed wrapping DeadlineExceeded", err)
	}
	if got := h.sess.Status(); got != voice.StatusError {
		t.Errorf("Status() = %s, want ERROR", got)
	}
}

func TestSession_DisconnectDuringHandshake(t *testing.T) {
	t.Parallel()
	h := newHarness(t)
	h.provider.Block = make(chan struct{})

	errc := make(chan error, 1)
	go func() { errc <- h.sess.Connect(context.Background()) }()

	eventually(t, func() bool { return h.provider.ConnectCount() == 1 }, "provider Connect reached")
	h.sess.Disconnect()

	select {
	case err := <-errc:
		if !errors.Is(err, context.Canceled) {
			t.Errorf("Connect err = %v, want context.Canceled", err)
		}
	case <-time.After(waitTimeout):
		t.Fatal("Connect did not return")
	}

	expectStatus(t, next(t, h.sess), voice.StatusConnecting)
	expectStatus(t, next(t, h.sess), voice.StatusDisconnected)
	expectNoEvent(t, h.sess)

	if !h.mic.Last().Closed() || !h.spk.Last().Closed() {
		t.Error("audio streams not released")
	}
}

// ── disconnect and close ──────────────────────────────────────────────────────

func TestSession_DisconnectReleasesEverything(t *testing.T) {
	t.Parallel()
	h := newHarness(t)
	remote := h.connect(t)

	h.sess.Disconnect()
	expectStatus(t, next(t, h.sess), voice.StatusDisconnected)

	if !remote.Closed() || !h.mic.Last().Closed() || !h.spk.Last().Closed() {
		t.Error("resources not released")
	}

	h.sess.Disconnect()
	expectNoEvent(t, h.sess)
	if got := h.sess.Status(); got != voice.StatusDisconnected {
		t.Errorf("Status() = %s", got)
	}
}

func TestSession_DisconnectWhenIdle(t *testing.T) {
	t.Parallel()
	h := newHarness(t)

	h.sess.Disconnect()
	h.sess.Disconnect()

	expectNoEvent(t, h.sess)
	if got := h.sess.Status(); got != voice.StatusDisconnected {
		t.Errorf("Status() = %s", got)
	}
}

func TestSession_Close(t *testing.T) {
	t.Parallel()
	h := newHarness(t)
	h.connect(t)

	if err := h.sess.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if err := h.sess.Close(); err != nil {
		t.Fatalf("second Close: %v", err)
	}

	var sawDisconnected bool
	for ev := range h.sess.Events() {
		if st, ok := ev.(voice.StatusEvent); ok && st.Status == voice.StatusDisconnected {
			sawDisconnected = true
		}
	}
	if !sawDisconnected {
		t.Error("no DISCONNECTED before the channel closed")
	}
	if err := h.sess.Connect(context.Background()); !errors.Is(err, voice.ErrClosed) {
		t.Errorf("Connect after Close err = %v, want ErrClosed", err)
	}
}

// ── capture ───────────────────────────────────────────────────────────────────

func TestSession_CaptureSendsFramesInOrder(t *testing.T) {
	t.Parallel()
	h := newHarness(t)
	remote := h.connect(t)
	mic := h.mic.Last()

	var blocks [][]float32
	for i := range 5 {
		b := constantBlock(4096, float32(i+1)/10)
		blocks = append(blocks, b)
		mic.Push(b)
	}

	eventually(t, func() bool { return len(remote.Frames()) == 5 }, "5 frames sent")
	for i, f := range remote.Frames() {
		if !bytes.Equal(f, audio.Float32ToPCM16(blocks[i])) {
			t.Errorf("frame %d does not match block %d", i, i)
		}
	}
}

func TestSession_CaptureReportsUserActivity(t *testing.T) {
	t.Parallel()
	h := newHarness(t)
	remote := h.connect(t)

	h.mic.Last().Push(constantBlock(4096, 0.002))
	ev := waitFor[voice.ActivityEvent](t, h.sess, nil)
	if ev.Active || ev.Source != voice.SourceUser {
		t.Errorf("activity = %+v, want inactive user", ev)
	}

	h.mic.Last().Push(constantBlock(4096, 0.3))
	ev = waitFor[voice.ActivityEvent](t, h.sess, nil)
	if !ev.Active || ev.Source != voice.SourceUser {
		t.Errorf("activity = %+v, want active user", ev)
	}

	eventually(t, func() bool { return len(remote.Frames()) == 2 }, "quiet block still sent")
}

func TestSession_MicrophoneRevoked(t *testing.T) {
	t.Parallel()
	h := newHarness(t)
	remote := h.connect(t)

	h.mic.Last().Fail(audio.ErrPermissionDenied)

	ee := waitFor[voice.ErrorEvent](t, h.sess, nil)
	if !errors.Is(ee.Err, voice.ErrPermissionDenied) {
		t.Errorf("err = %v, want ErrPermissionDenied", ee.Err)
	}
	expectStatus(t, next(t, h.sess), voice.StatusError)
	if !remote.Closed() || !h.spk.Last().Closed() {
		t.Error("resources not released")
	}
}

func TestSession_SendFailure(t *testing.T) {
	t.Parallel()
	h := newHarness(t)
	remote := h.connect(t)
	remote.SendAudioErr = errors.New("broken pipe")

	h.mic.Last().Push(constantBlock(4096, 0.1))

	ee := waitFor[voice.ErrorEvent](t, h.sess, nil)
	if !errors.Is(ee.Err, voice.ErrConnectionFailed) {
		t.Errorf("err = %v, want ErrConnectionFailed", ee.Err)
	}
	waitStatus(t, h.sess, voice.StatusError)
}

// ── playback ──────────────────────────────────────────────────────────────────

func TestSession_ChunksPlayBackToBack(t *testing.T) {
	t.Parallel()
	h := newHarness(t)
	remote := h.connect(t)

	remote.Emit(s2s.AudioChunk{Data: chunk(time.Second)})
	remote.Emit(s2s.AudioChunk{Data: chunk(500 * time.Millisecond)})

	act := waitFor[voice.ActivityEvent](t, h.sess, nil)
	if !act.Active || act.Source != voice.SourceModel {
		t.Errorf("activity = %+v, want model active", act)
	}

	out := h.spk.Last()
	eventually(t, func() bool { return len(out.Scheduled()) == 2 }, "two chunks scheduled")
	sched := out.Scheduled()
	if sched[0].At != 0 || sched[1].At != time.Second {
		t.Errorf("starts = %v, %v; want 0s, 1s", sched[0].At, sched[1].At)
	}

	out.Advance(time.Second)
	expectNoEvent(t, h.sess)

	out.Advance(500 * time.Millisecond)
	act = waitFor[voice.ActivityEvent](t, h.sess, nil)
	if act.Active || act.Source != voice.SourceModel {
		t.Errorf("activity = %+v, want model idle", act)
	}
}

func TestSession_InterruptionRestartsAtClock(t *testing.T) {
	t.Parallel()
	h := newHarness(t)
	remote := h.connect(t)
	out := h.spk.Last()

	remote.Emit(s2s.AudioChunk{Data: chunk(time.Second)})
	eventually(t, func() bool { return len(out.Scheduled()) == 1 }, "first chunk scheduled")

	out.Advance(200 * time.Millisecond)
	remote.Emit(s2s.Interrupted{})
	remote.Emit(s2s.AudioChunk{Data: chunk(500 * time.Millisecond)})

	eventually(t, func() bool { return len(out.Scheduled()) == 2 }, "second chunk scheduled")
	if got := out.Scheduled()[1].At; got != 200*time.Millisecond {
		t.Errorf("second start = %v, want 200ms", got)
	}
	if got := h.sess.Status(); got != voice.StatusConnected {
		t.Errorf("Status() = %s, want CONNECTED", got)
	}
}

func TestSession_UndecodableChunkIsNotFatal(t *testing.T) {
	t.Parallel()
	h := newHarness(t)
	remote := h.connect(t)

	remote.Emit(s2s.AudioChunk{Data: []byte{1, 2, 3}})
	expectError(t, next(t, h.sess), voice.ErrDecode)

	remote.Emit(s2s.AudioChunk{Err: errors.New("illegal base64 data at input byte 4")})
	expectError(t, next(t, h.sess), voice.ErrDecode)

	remote.Emit(s2s.AudioChunk{Data: chunk(100 * time.Millisecond)})
	eventually(t, func() bool { return len(h.spk.Last().Scheduled()) == 1 }, "good chunk scheduled")

	if got := h.sess.Status(); got != voice.StatusConnected {
		t.Errorf("Status() = %s, want CONNECTED", got)
	}
}

// ── transcript ────────────────────────────────────────────────────────────────

func TestSession_TranscriptEvents(t *testing.T) {
	t.Parallel()
	h := newHarness(t)
	remote := h.connect(t)

	remote.Emit(s2s.InputTranscript{Text: "Is the conference room free?"})
	remote.Emit(s2s.Unknown{Raw: []byte(`{"serverContent":{"turnComplete":true}}`)})
	remote.Emit(s2s.OutputTranscript{Text: "Yes, from two o'clock."})

	first := waitFor[voice.TranscriptEvent](t, h.sess, nil)
	second := waitFor[voice.TranscriptEvent](t, h.sess, nil)

	if first.Item.Role != voice.RoleUser || first.Item.Text != "Is the conference room free?" {
		t.Errorf("first = %+v", first.Item)
	}
	if second.Item.Role != voice.RoleModel || !second.Item.Final {
		t.Errorf("second = %+v", second.Item)
	}
	if got := h.sess.Transcript(); len(got) != 2 || got[0].ID != first.Item.ID {
		t.Errorf("Transcript() = %+v", got)
	}
}

func TestSession_TranscriptSurvivesReconnect(t *testing.T) {
	t.Parallel()
	h := newHarness(t)

	remote := h.connect(t)
	remote.Emit(s2s.InputTranscript{Text: "hello"})
	waitFor[voice.TranscriptEvent](t, h.sess, nil)

	h.sess.Disconnect()
	waitStatus(t, h.sess, voice.StatusDisconnected)

	remote = h.connect(t)
	remote.Emit(s2s.OutputTranscript{Text: "welcome back"})
	waitFor[voice.TranscriptEvent](t, h.sess, nil)

	got := h.sess.Transcript()
	if len(got) != 2 || got[0].Text != "hello" || got[1].Text != "welcome back" {
		t.Errorf("Transcript() = %+v", got)
	}
}

// ── remote termination ────────────────────────────────────────────────────────

func TestSession_RemoteNormalClose(t *testing.T) {
	t.Parallel()
	h := newHarness(t)
	remote := h.connect(t)

	remote.End(nil)

	expectStatus(t, next(t, h.sess), voice.StatusDisconnected)
	if !h.mic.Last().Closed() || !h.spk.Last().Closed() {
		t.Error("audio streams not released")
	}
}

func TestSession_RemoteFailures(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name   string
		act    func(*s2smock.Session)
		target error
	}{
		{
			name:   "remote error event",
			act:    func(s *s2smock.Session) { s.Emit(&s2s.RemoteError{Code: "503", Message: "model overloaded"}) },
			target: voice.ErrRemote,
		},
		{
			name:   "transport drop",
			act:    func(s *s2smock.Session) { s.End(errors.New("connection reset by peer")) },
			target: voice.ErrConnectionFailed,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			h := newHarness(t)
			remote := h.connect(t)

			tt.act(remote)

			expectError(t, next(t, h.sess), tt.target)
			expectStatus(t, next(t, h.sess), voice.StatusError)
			if !remote.Closed() || !h.mic.Last().Closed() || !h.spk.Last().Closed() {
				t.Error("resources not released")
			}
		})
	}
}

func TestSession_ConcurrentDisconnect(t *testing.T) {
	t.Parallel()
	h := newHarness(t)
	h.connect(t)

	var wg sync.WaitGroup
	for range 4 {
		wg.Go(h.sess.Disconnect)
	}
	wg.Wait()

	expectStatus(t, next(t, h.sess), voice.StatusDisconnected)
	expectNoEvent(t, h.sess)
}
