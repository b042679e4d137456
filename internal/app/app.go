// Package app wires all Aura subsystems into a running server.
//
// The App struct owns the full lifecycle: New creates and connects all
// subsystems, Run serves HTTP until the context is cancelled, and Shutdown
// tears everything down in order.
//
// For testing, inject doubles via functional options (WithStore,
// WithMetrics). When an option is not provided, New creates real
// implementations from the config.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"

	"github.com/auradesk/aura/internal/chat"
	"github.com/auradesk/aura/internal/config"
	"github.com/auradesk/aura/internal/gateway"
	"github.com/auradesk/aura/internal/health"
	"github.com/auradesk/aura/internal/observe"
	"github.com/auradesk/aura/internal/voice"
	"github.com/auradesk/aura/pkg/memory"
	"github.com/auradesk/aura/pkg/memory/postgres"
	"github.com/auradesk/aura/pkg/provider/llm"
	"github.com/auradesk/aura/pkg/provider/s2s"
)

// drainTimeout bounds the graceful stop performed by Serve.
const drainTimeout = 10 * time.Second

// Providers holds one interface value per provider slot. Nil means the
// provider is not configured. Populated by main.go via the config registry.
type Providers struct {
	S2S     s2s.Provider
	S2SName string
	LLM     llm.Provider
	LLMName string
}

// healthReporter is implemented by providers that track backend health, such
// as the resilience fallback groups.
type healthReporter interface {
	Healthy() bool
}

// pinger is implemented by stores backed by a remote database.
type pinger interface {
	Ping(ctx context.Context) error
}

// App owns all subsystem lifetimes.
type App struct {
	providers *Providers
	metrics   *observe.Metrics

	// mu guards cfg and chat, which are swapped on config reload.
	mu   sync.RWMutex
	cfg  *config.Config
	chat *chat.Service

	store   memory.TranscriptStore
	gateway *gateway.Server
	health  *health.Handler
	handler http.Handler

	server *http.Server

	// closers are called in order during Shutdown.
	closers []func() error

	// stopOnce guards the Shutdown path.
	stopOnce sync.Once
}

// Option is a functional option for New. Use these to inject test doubles.
type Option func(*App)

// WithStore injects a transcript store instead of creating one from config.
func WithStore(s memory.TranscriptStore) Option {
	return func(a *App) { a.store = s }
}

// WithMetrics sets the metrics sink. Defaults to [observe.DefaultMetrics].
func WithMetrics(m *observe.Metrics) Option {
	return func(a *App) { a.metrics = m }
}

// ─── New ─────────────────────────────────────────────────────────────────────

// New creates an App by wiring all subsystems together. The providers struct
// comes from main.go (populated via the config registry).
func New(ctx context.Context, cfg *config.Config, providers *Providers, opts ...Option) (*App, error) {
	a := &App{
		cfg:       cfg,
		providers: providers,
	}
	for _, o := range opts {
		o(a)
	}
	if a.metrics == nil {
		a.metrics = observe.DefaultMetrics()
	}

	// ── 1. Transcript store ──────────────────────────────────────────────
	if err := a.initStore(ctx); err != nil {
		return nil, fmt.Errorf("app: init store: %w", err)
	}

	// ── 2. Chat ──────────────────────────────────────────────────────────
	if providers.LLM != nil {
		a.chat = a.newChat(cfg)
	}

	// ── 3. Gateway ───────────────────────────────────────────────────────
	gwOpts := []gateway.Option{
		gateway.WithStore(a.store),
		gateway.WithAllowedOrigins(cfg.Server.AllowedOrigins),
		gateway.WithMetrics(a.metrics),
	}
	if providers.S2S != nil {
		gwOpts = append(gwOpts, gateway.WithVoice(providers.S2S, a.voiceSessionConfig, voiceOptions(cfg, providers.S2SName)...))
	}
	if providers.LLM != nil {
		gwOpts = append(gwOpts, gateway.WithChat(a))
	}
	a.gateway = gateway.New(gwOpts...)

	// ── 4. Health ────────────────────────────────────────────────────────
	a.health = health.New(a.checkers()...)

	// ── 5. Routes ────────────────────────────────────────────────────────
	mux := http.NewServeMux()
	a.health.Register(mux)
	a.gateway.Register(mux)
	mux.Handle("GET /metrics", promhttp.Handler())
	a.handler = observe.Middleware(a.metrics)(mux)

	return a, nil
}

// ─── Init helpers ────────────────────────────────────────────────────────────

// initStore sets up the PostgreSQL transcript store, or an in-memory store
// when no DSN is configured.
func (a *App) initStore(ctx context.Context) error {
	if a.store != nil {
		return nil
	}

	dsn := a.cfg.Memory.PostgresDSN
	if dsn == "" {
		a.store = memory.NewInMemory()
		return nil
	}

	store, err := postgres.NewStore(ctx, dsn)
	if err != nil {
		return err
	}
	a.store = store
	a.closers = append(a.closers, func() error {
		store.Close()
		return nil
	})
	return nil
}

func (a *App) newChat(cfg *config.Config) *chat.Service {
	opts := []chat.Option{
		chat.WithMaxTokens(cfg.Chat.MaxTokens),
		chat.WithMetrics(a.metrics),
		chat.WithProviderName(a.providers.LLMName),
	}
	if cfg.Chat.SystemPrompt != "" {
		opts = append(opts, chat.WithSystemPrompt(cfg.Chat.SystemPrompt))
	}
	return chat.New(a.providers.LLM, opts...)
}

// voiceOptions converts the audio settings of the voice section into session
// options. Zero values keep the session defaults.
func voiceOptions(cfg *config.Config, providerName string) []voice.Option {
	v := cfg.Voice
	opts := []voice.Option{voice.WithProviderName(providerName)}
	if v.CaptureSampleRate > 0 {
		opts = append(opts, voice.WithCaptureRate(v.CaptureSampleRate))
	}
	if v.PlaybackSampleRate > 0 {
		opts = append(opts, voice.WithPlaybackRate(v.PlaybackSampleRate))
	}
	if v.BlockSize > 0 {
		opts = append(opts, voice.WithBlockSize(v.BlockSize))
	}
	if v.ActivityThreshold > 0 {
		opts = append(opts, voice.WithActivityThreshold(v.ActivityThreshold))
	}
	if v.ConnectTimeout > 0 {
		opts = append(opts, voice.WithConnectTimeout(v.ConnectTimeout))
	}
	return opts
}

func (a *App) checkers() []health.Checker {
	var checks []health.Checker
	if p, ok := a.store.(pinger); ok {
		checks = append(checks, health.Checker{Name: "transcripts", Check: p.Ping})
	}
	add := func(name string, provider any) {
		hr, ok := provider.(healthReporter)
		if !ok {
			return
		}
		checks = append(checks, health.Checker{Name: name, Check: func(context.Context) error {
			if !hr.Healthy() {
				return errors.New("every provider circuit is open")
			}
			return nil
		}})
	}
	if a.providers.S2S != nil {
		add("s2s", a.providers.S2S)
	}
	if a.providers.LLM != nil {
		add("llm", a.providers.LLM)
	}
	return checks
}

// ─── Accessors ───────────────────────────────────────────────────────────────

// Handler returns the root HTTP handler with all routes and middleware.
func (a *App) Handler() http.Handler { return a.handler }

// Gateway returns the browser gateway.
func (a *App) Gateway() *gateway.Server { return a.gateway }

// voiceSessionConfig returns the session configuration for the next call.
func (a *App) voiceSessionConfig() s2s.SessionConfig {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.cfg.VoiceSessionConfig()
}

// Send implements [gateway.ChatSender] using the current chat service.
func (a *App) Send(ctx context.Context, history []chat.Turn, message string) (string, error) {
	a.mu.RLock()
	svc := a.chat
	a.mu.RUnlock()
	if svc == nil {
		return "", errors.New("app: chat is not configured")
	}
	return svc.Send(ctx, history, message)
}

// ApplyConfig adopts the hot-reloadable parts of a new configuration: the
// voice persona for new calls and the chat prompt. It is meant to be called
// from a [config.Watcher] callback.
func (a *App) ApplyConfig(cfg *config.Config, diff config.ConfigDiff) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.cfg = cfg
	if diff.VoiceChanged {
		slog.Info("voice persona updated; applies to new calls", "voice", cfg.Voice.Voice)
	}
	if diff.ChatChanged && a.providers.LLM != nil {
		a.chat = a.newChat(cfg)
		slog.Info("chat settings updated")
	}
}

// ─── Run ─────────────────────────────────────────────────────────────────────

// Run serves HTTP on the configured listen address and blocks until ctx is
// cancelled or the server fails. When ctx is done, Run returns
// context.Canceled (or the underlying cause).
func (a *App) Run(ctx context.Context) error {
	a.mu.RLock()
	srvCfg := a.cfg.Server
	a.mu.RUnlock()

	ln, err := net.Listen("tcp", srvCfg.ListenAddr)
	if err != nil {
		return fmt.Errorf("app: listen on %q: %w", srvCfg.ListenAddr, err)
	}
	return a.Serve(ctx, ln)
}

// Serve is like Run but accepts connections on ln. When ctx is done, active
// calls are ended and the server drains within [drainTimeout].
func (a *App) Serve(ctx context.Context, ln net.Listener) error {
	srv := &http.Server{
		Handler:           a.handler,
		ReadHeaderTimeout: 10 * time.Second,
	}
	a.mu.Lock()
	tls := a.cfg.Server.TLS
	a.server = srv
	a.mu.Unlock()

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		slog.Info("http server listening", "addr", ln.Addr().String(), "tls", tls != nil)
		var err error
		if tls != nil {
			err = srv.ServeTLS(ln, tls.CertFile, tls.KeyFile)
		} else {
			err = srv.Serve(ln)
		}
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("app: serve: %w", err)
	})
	g.Go(func() error {
		<-gctx.Done()
		a.health.Drain()
		drainCtx, cancel := context.WithTimeout(context.WithoutCancel(gctx), drainTimeout)
		defer cancel()
		if err := a.gateway.Shutdown(drainCtx); err != nil {
			slog.Warn("gateway shutdown incomplete", "err", err)
		}
		return srv.Shutdown(drainCtx)
	})

	err := g.Wait()
	if ctx.Err() != nil {
		return ctx.Err()
	}
	return err
}

// ─── Shutdown ────────────────────────────────────────────────────────────────

// Shutdown ends active calls, stops the HTTP server and runs the closers. It
// respects the context deadline: if ctx expires before all closers finish,
// remaining closers are skipped and the context error is returned.
func (a *App) Shutdown(ctx context.Context) error {
	var shutdownErr error
	a.stopOnce.Do(func() {
		slog.Info("shutting down", "closers", len(a.closers))

		// Calls end before the listener closes.
		a.health.Drain()
		if err := a.gateway.Shutdown(ctx); err != nil {
			slog.Warn("gateway shutdown incomplete", "err", err)
		}
		a.mu.RLock()
		srv := a.server
		a.mu.RUnlock()
		if srv != nil {
			if err := srv.Shutdown(ctx); err != nil {
				slog.Warn("http server shutdown error", "err", err)
			}
		}

		for i, closer := range a.closers {
			select {
			case <-ctx.Done():
				slog.Warn("shutdown deadline exceeded", "remaining", len(a.closers)-i)
				shutdownErr = ctx.Err()
				return
			default:
			}
			if err := closer(); err != nil {
				slog.Warn("closer error", "index", i, "err", err)
			}
		}

		slog.Info("shutdown complete")
	})
	return shutdownErr
}
