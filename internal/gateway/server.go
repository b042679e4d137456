// Package gateway serves the browser-facing surface of Aura: the /v1/voice
// websocket that runs a [voice.Session] against the caller's microphone and
// speaker, the /v1/chat text endpoint, and read access to persisted
// transcripts.
//
// A voice call starts with a hello message carrying the caller's recording
// consent and preferred language. Without consent the socket is closed with
// status 1008 (policy violation) before any audio is requested.
package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"slices"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/coder/websocket"
	"github.com/google/uuid"

	"github.com/auradesk/aura/internal/chat"
	"github.com/auradesk/aura/internal/observe"
	"github.com/auradesk/aura/internal/voice"
	"github.com/auradesk/aura/pkg/memory"
	"github.com/auradesk/aura/pkg/provider/s2s"
)

// maxChatBody bounds POST /v1/chat request bodies.
const maxChatBody = 64 << 10

// ChatSender produces a text reply for a conversation. *chat.Service
// implements it.
type ChatSender interface {
	Send(ctx context.Context, history []chat.Turn, message string) (string, error)
}

var _ ChatSender = (*chat.Service)(nil)

// Option configures a [Server].
type Option func(*Server)

// WithVoice enables the /v1/voice endpoint. sessionConfig is consulted for
// every new call, so configuration reloads apply to the next call. opts are
// passed to every [voice.New].
func WithVoice(provider s2s.Provider, sessionConfig func() s2s.SessionConfig, opts ...voice.Option) Option {
	return func(s *Server) {
		s.provider = provider
		s.sessionConfig = sessionConfig
		s.voiceOpts = opts
	}
}

// WithChat enables the /v1/chat endpoint.
func WithChat(c ChatSender) Option {
	return func(s *Server) { s.chat = c }
}

// WithStore sets the transcript store. Defaults to an in-memory store.
func WithStore(store memory.TranscriptStore) Option {
	return func(s *Server) { s.store = store }
}

// WithAllowedOrigins sets the host patterns accepted for cross-origin voice
// websockets, e.g. "app.example.com" or "*.example.com".
func WithAllowedOrigins(patterns []string) Option {
	return func(s *Server) { s.origins = slices.Clone(patterns) }
}

// WithHelloTimeout bounds the wait for the opening hello message.
func WithHelloTimeout(d time.Duration) Option {
	return func(s *Server) { s.helloTimeout = d }
}

// WithWriteTimeout bounds each websocket write.
func WithWriteTimeout(d time.Duration) Option {
	return func(s *Server) { s.writeTimeout = d }
}

// WithMetrics sets the metrics sink. Defaults to [observe.DefaultMetrics].
func WithMetrics(m *observe.Metrics) Option {
	return func(s *Server) { s.metrics = m }
}

// WithLogger sets the logger. Defaults to [slog.Default].
func WithLogger(l *slog.Logger) Option {
	return func(s *Server) { s.log = l }
}

// Server handles the gateway routes. It is safe for concurrent use.
type Server struct {
	provider      s2s.Provider
	sessionConfig func() s2s.SessionConfig
	voiceOpts     []voice.Option
	chat          ChatSender
	store         memory.TranscriptStore
	origins       []string
	helloTimeout  time.Duration
	writeTimeout  time.Duration
	metrics       *observe.Metrics
	log           *slog.Logger

	mu           sync.Mutex
	calls        map[string]*call
	shuttingDown bool
	wg           sync.WaitGroup
}

// New creates a Server.
func New(opts ...Option) *Server {
	s := &Server{
		helloTimeout: defaultHelloTimeout,
		writeTimeout: defaultWriteTimeout,
		calls:        make(map[string]*call),
	}
	for _, o := range opts {
		o(s)
	}
	if s.store == nil {
		s.store = memory.NewInMemory()
	}
	if s.metrics == nil {
		s.metrics = observe.DefaultMetrics()
	}
	if s.log == nil {
		s.log = slog.Default()
	}
	return s
}

// Register adds the gateway routes to mux.
func (s *Server) Register(mux *http.ServeMux) {
	mux.HandleFunc("GET /v1/voice", s.handleVoice)
	mux.HandleFunc("POST /v1/chat", s.handleChat)
	mux.HandleFunc("GET /v1/sessions", s.handleListCalls)
	mux.HandleFunc("GET /v1/sessions/{id}/transcript", s.handleTranscript)
	mux.HandleFunc("GET /v1/transcripts/search", s.handleSearch)
}

// ActiveCalls returns a snapshot of the calls in progress, oldest first.
func (s *Server) ActiveCalls() []CallInfo {
	s.mu.Lock()
	calls := make([]*call, 0, len(s.calls))
	for _, c := range s.calls {
		calls = append(calls, c)
	}
	s.mu.Unlock()

	infos := make([]CallInfo, 0, len(calls))
	for _, c := range calls {
		infos = append(infos, c.info())
	}
	slices.SortFunc(infos, func(a, b CallInfo) int { return a.StartedAt.Compare(b.StartedAt) })
	return infos
}

// Shutdown ends every active call with status 1001 (going away) and waits
// for them to finish, or for ctx to expire. New calls are refused afterwards.
func (s *Server) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	s.shuttingDown = true
	for _, c := range s.calls {
		c.end(endShutdown)
	}
	s.mu.Unlock()

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// track registers c unless the server is shutting down.
func (s *Server) track(c *call) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.shuttingDown {
		return false
	}
	s.calls[c.id] = c
	s.wg.Add(1)
	return true
}

func (s *Server) untrack(c *call) {
	s.mu.Lock()
	delete(s.calls, c.id)
	s.mu.Unlock()
	s.wg.Done()
}

// ── voice ──────────────────────────────────────────────────────────────────────

func (s *Server) handleVoice(w http.ResponseWriter, r *http.Request) {
	if s.provider == nil {
		writeError(w, http.StatusServiceUnavailable, "voice is not configured")
		return
	}

	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{OriginPatterns: s.origins})
	if err != nil {
		// Accept has already written the HTTP error response.
		s.log.Warn("gateway: websocket upgrade failed", "remote", r.RemoteAddr, "err", err)
		return
	}
	conn.SetReadLimit(maxFrameBytes)
	p := &peer{conn: conn, writeTimeout: s.writeTimeout}

	hello, ok := s.readHello(r.Context(), p)
	if !ok {
		s.metrics.RecordGatewayCall(r.Context(), "rejected")
		return
	}

	id := uuid.NewString()
	log := s.log.With("call", id, "language", string(hello.Language))
	mic := newBrowserMic(p, log)
	spk := newBrowserSpeaker(p)

	cfg := s2s.SessionConfig{}
	if s.sessionConfig != nil {
		cfg = s.sessionConfig()
	}
	cfg.Instructions = strings.TrimSpace(cfg.Instructions + "\n\n" + hello.Language.instructionLine())

	opts := append(slices.Clone(s.voiceOpts), voice.WithLogger(log), voice.WithMetrics(s.metrics))
	c := &call{
		id:       id,
		language: hello.Language,
		started:  time.Now().UTC(),
		peer:     p,
		mic:      mic,
		session:  voice.New(s.provider, mic, spk, cfg, opts...),
		store:    s.store,
		metrics:  s.metrics,
		log:      log,
		ended:    make(chan struct{}),
	}
	if !s.track(c) {
		_ = c.session.Close()
		_ = conn.Close(websocket.StatusGoingAway, "server shutting down")
		s.metrics.RecordGatewayCall(r.Context(), "rejected")
		return
	}
	defer s.untrack(c)

	log.Info("gateway: call started", "remote", r.RemoteAddr)
	c.run(observe.WithCall(r.Context(), id))
}

// readHello waits for the opening message and enforces consent. On failure
// the connection has been closed and ok is false.
func (s *Server) readHello(ctx context.Context, p *peer) (hello helloMessage, ok bool) {
	ctx, cancel := context.WithTimeout(ctx, s.helloTimeout)
	defer cancel()

	typ, data, err := p.conn.Read(ctx)
	if err != nil {
		s.log.Debug("gateway: no hello received", "err", err)
		_ = p.conn.Close(websocket.StatusPolicyViolation, "hello required")
		return hello, false
	}
	if typ != websocket.MessageText {
		_ = p.conn.Close(websocket.StatusPolicyViolation, "first message must be hello")
		return hello, false
	}
	hello, err = parseHello(data)
	if err != nil {
		_ = p.send(ctx, errorMessage{Type: typeError, Kind: "bad_request", Message: err.Error()})
		_ = p.conn.Close(websocket.StatusPolicyViolation, "invalid hello")
		return hello, false
	}
	if !hello.Consent {
		_ = p.conn.Close(websocket.StatusPolicyViolation, "recording consent required")
		return hello, false
	}
	return hello, true
}

// ── chat ───────────────────────────────────────────────────────────────────────

type chatRequest struct {
	History []chat.Turn `json:"history"`
	Message string      `json:"message"`
}

type chatResponse struct {
	Reply string `json:"reply"`
}

func (s *Server) handleChat(w http.ResponseWriter, r *http.Request) {
	if s.chat == nil {
		writeError(w, http.StatusServiceUnavailable, "chat is not configured")
		return
	}

	var req chatRequest
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxChatBody))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}

	reply, err := s.chat.Send(r.Context(), req.History, req.Message)
	switch {
	case err == nil:
		writeJSON(w, http.StatusOK, chatResponse{Reply: reply})
	case errors.Is(err, chat.ErrEmptyMessage), errors.Is(err, chat.ErrUnknownRole):
		writeError(w, http.StatusBadRequest, err.Error())
	default:
		observe.Logger(r.Context()).Error("gateway: chat failed", "err", err)
		writeError(w, http.StatusBadGateway, "the assistant is unavailable")
	}
}

// ── sessions and transcripts ───────────────────────────────────────────────────

type transcriptResponse struct {
	SessionID string         `json:"session_id"`
	Entries   []memory.Entry `json:"entries"`
}

func (s *Server) handleListCalls(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"sessions": s.ActiveCalls()})
}

func (s *Server) handleTranscript(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	entries, err := s.store.List(r.Context(), id)
	if err != nil {
		observe.Logger(r.Context()).Error("gateway: list transcript", "session", id, "err", err)
		writeError(w, http.StatusInternalServerError, "transcript unavailable")
		return
	}
	writeJSON(w, http.StatusOK, transcriptResponse{SessionID: id, Entries: entries})
}

func (s *Server) handleSearch(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	opts := memory.SearchOpts{
		SessionID: q.Get("session"),
		Role:      q.Get("role"),
	}
	if v := q.Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			writeError(w, http.StatusBadRequest, "limit must be a non-negative integer")
			return
		}
		opts.Limit = n
	}
	for _, tf := range []struct {
		name string
		dst  *time.Time
	}{{"after", &opts.After}, {"before", &opts.Before}} {
		v := q.Get(tf.name)
		if v == "" {
			continue
		}
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			writeError(w, http.StatusBadRequest, tf.name+" must be an RFC 3339 timestamp")
			return
		}
		*tf.dst = t
	}

	entries, err := s.store.Search(r.Context(), q.Get("q"), opts)
	if err != nil {
		observe.Logger(r.Context()).Error("gateway: search transcripts", "err", err)
		writeError(w, http.StatusInternalServerError, "search failed")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"entries": entries})
}

// ── helpers ────────────────────────────────────────────────────────────────────

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
