package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/coder/websocket"

	"github.com/auradesk/aura/internal/observe"
	"github.com/auradesk/aura/internal/voice"
	"github.com/auradesk/aura/pkg/memory"
)

const (
	defaultWriteTimeout = 5 * time.Second
	defaultHelloTimeout = 10 * time.Second
	persistTimeout      = 5 * time.Second

	// maxFrameBytes bounds inbound websocket messages. One second of 48 kHz
	// float32 audio is 192 KiB.
	maxFrameBytes = 1 << 20
)

// ── peer ───────────────────────────────────────────────────────────────────────

// peer serialises writes to the browser websocket. Reads happen only in the
// call's read loop.
type peer struct {
	conn         *websocket.Conn
	writeTimeout time.Duration

	mu sync.Mutex
}

var _ sender = (*peer)(nil)

func (p *peer) send(ctx context.Context, msg any) error {
	data, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("gateway: marshal %T: %w", msg, err)
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	ctx, cancel := context.WithTimeout(ctx, p.writeTimeout)
	defer cancel()
	return p.conn.Write(ctx, websocket.MessageText, data)
}

// ── call ───────────────────────────────────────────────────────────────────────

// endReason records why a call finished.
type endReason int

const (
	endStopped  endReason = iota // browser sent stop or went away
	endRemote                    // the model side closed normally
	endFailed                    // the session reported ERROR
	endShutdown                  // the server is shutting down
)

func (r endReason) outcome() string {
	switch r {
	case endFailed:
		return "failed"
	case endShutdown:
		return "shutdown"
	default:
		return "completed"
	}
}

func (r endReason) closeStatus() (websocket.StatusCode, string) {
	switch r {
	case endFailed:
		return websocket.StatusInternalError, "voice session failed"
	case endShutdown:
		return websocket.StatusGoingAway, "server shutting down"
	default:
		return websocket.StatusNormalClosure, "call ended"
	}
}

// CallInfo describes an active voice call.
type CallInfo struct {
	ID        string       `json:"id"`
	Language  Language     `json:"language"`
	Status    voice.Status `json:"status"`
	StartedAt time.Time    `json:"started_at"`
}

// call is one browser voice call: a websocket, the browser-backed devices
// and the voice session running over them.
type call struct {
	id       string
	language Language
	started  time.Time

	peer    *peer
	mic     *browserMic
	session *voice.Session
	store   memory.TranscriptStore
	metrics *observe.Metrics
	log     *slog.Logger

	// ended is closed once when the call should finish; reason holds why.
	ended    chan struct{}
	endOnce  sync.Once
	reasonMu sync.Mutex
	reason   endReason
}

func (c *call) info() CallInfo {
	return CallInfo{
		ID:        c.id,
		Language:  c.language,
		Status:    c.session.Status(),
		StartedAt: c.started,
	}
}

// end requests the call to finish. The first reason wins.
func (c *call) end(r endReason) {
	c.endOnce.Do(func() {
		c.reasonMu.Lock()
		c.reason = r
		c.reasonMu.Unlock()
		close(c.ended)
	})
}

func (c *call) endReason() endReason {
	c.reasonMu.Lock()
	defer c.reasonMu.Unlock()
	return c.reason
}

// run drives the call until the browser stops, the session ends, or the
// server shuts down. It returns after the session has been closed and every
// event forwarded.
func (c *call) run(ctx context.Context) {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	if err := c.peer.send(ctx, readyMessage{Type: typeReady, SessionID: c.id, Language: c.language}); err != nil {
		c.log.Warn("gateway: send ready", "err", err)
		c.peer.conn.CloseNow()
		return
	}

	forwarded := make(chan struct{})
	go func() {
		defer close(forwarded)
		c.forward(ctx)
	}()

	go func() {
		err := c.read(ctx)
		if err != nil && ctx.Err() == nil {
			c.log.Debug("gateway: browser read ended", "err", err)
		}
		c.end(endStopped)
	}()

	go func() {
		if err := c.session.Connect(ctx); err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, voice.ErrClosed) {
				return
			}
			c.end(endFailed)
		}
	}()

	select {
	case <-c.ended:
	case <-ctx.Done():
		c.end(endStopped)
	}

	_ = c.session.Close()
	<-forwarded

	reason := c.endReason()
	code, text := reason.closeStatus()
	if err := c.peer.conn.Close(code, text); err != nil {
		c.log.Debug("gateway: close websocket", "err", err)
	}
	c.metrics.RecordGatewayCall(context.Background(), reason.outcome())
	c.log.Info("gateway: call ended", "outcome", reason.outcome(), "duration", time.Since(c.started))
}

// read consumes browser messages until the connection fails or the browser
// sends stop.
func (c *call) read(ctx context.Context) error {
	for {
		typ, data, err := c.peer.conn.Read(ctx)
		if err != nil {
			return err
		}
		switch typ {
		case websocket.MessageBinary:
			if err := c.mic.handleSamples(ctx, data); err != nil {
				c.log.Warn("gateway: dropped audio frame", "err", err)
			}
		case websocket.MessageText:
			var env envelope
			if err := json.Unmarshal(data, &env); err != nil {
				c.log.Warn("gateway: malformed control message", "err", err)
				continue
			}
			switch env.Type {
			case typeMicrophone:
				var m microphoneMessage
				if err := json.Unmarshal(data, &m); err != nil {
					c.log.Warn("gateway: malformed microphone message", "err", err)
					continue
				}
				c.mic.handleMicrophone(m.Granted)
			case typeStop:
				return nil
			default:
				c.log.Debug("gateway: ignoring control message", "type", env.Type)
			}
		}
	}
}

// forward relays session events to the browser and persists transcript
// items. It returns when the session's event channel is closed.
func (c *call) forward(ctx context.Context) {
	connected := false
	sendFailed := false
	for ev := range c.session.Events() {
		switch e := ev.(type) {
		case voice.StatusEvent:
			switch e.Status {
			case voice.StatusConnected:
				connected = true
			case voice.StatusError:
				c.end(endFailed)
			case voice.StatusDisconnected:
				if connected {
					c.end(endRemote)
				}
			}
		case voice.TranscriptEvent:
			c.persist(ctx, e.Item)
		}

		if sendFailed {
			continue
		}
		msg := eventMessage(ev)
		if msg == nil {
			continue
		}
		if err := c.peer.send(ctx, msg); err != nil {
			// Keep draining so the session never blocks on emission.
			sendFailed = true
			c.log.Debug("gateway: browser unreachable, dropping events", "err", err)
			c.end(endStopped)
		}
	}
}

func (c *call) persist(ctx context.Context, item voice.TranscriptItem) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), persistTimeout)
	defer cancel()
	entry := memory.Entry{
		ID:        item.ID,
		Role:      string(item.Role),
		Text:      item.Text,
		Timestamp: item.Timestamp,
	}
	if err := c.store.Append(ctx, c.id, entry); err != nil {
		c.log.Error("gateway: persist transcript item", "item", item.ID, "err", err)
	}
}
