// Package chat implements the text-chat collaborator: one stateless
// request/response exchange with a chat model, primed with the receptionist
// persona.
package chat

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/auradesk/aura/internal/observe"
	"github.com/auradesk/aura/pkg/provider/llm"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// DefaultSystemPrompt is the receptionist persona used when none is configured.
const DefaultSystemPrompt = "You are Aura, an AI receptionist for 'TechSpace India'. " +
	"You help book appointments, answer queries in English and Hinglish. " +
	"Be professional, warm, and concise. Format times clearly."

// ErrEmptyMessage is returned by [Service.Send] for a blank message.
var ErrEmptyMessage = errors.New("chat: message must not be empty")

// ErrUnknownRole is returned by [Service.Send] for a history turn whose role
// is neither user nor model.
var ErrUnknownRole = errors.New("chat: unknown role")

// Turn roles as sent by clients.
const (
	RoleUser  = "user"
	RoleModel = "model"
)

// Turn is one earlier exchange of the conversation.
type Turn struct {
	Role string `json:"role"`
	Text string `json:"text"`
}

// Option configures a [Service].
type Option func(*Service)

// WithSystemPrompt overrides [DefaultSystemPrompt].
func WithSystemPrompt(prompt string) Option {
	return func(s *Service) { s.systemPrompt = prompt }
}

// WithMaxTokens caps the reply length. Zero leaves the provider default.
func WithMaxTokens(n int) Option {
	return func(s *Service) { s.maxTokens = n }
}

// WithMetrics overrides the metrics sink. Defaults to [observe.DefaultMetrics].
func WithMetrics(m *observe.Metrics) Option {
	return func(s *Service) { s.metrics = m }
}

// WithProviderName labels metrics with the provider's config name.
func WithProviderName(name string) Option {
	return func(s *Service) { s.providerName = name }
}

// Service sends chat messages to an [llm.Provider]. It holds no conversation
// state; callers pass the history on every call. Safe for concurrent use.
type Service struct {
	provider     llm.Provider
	systemPrompt string
	maxTokens    int
	providerName string
	metrics      *observe.Metrics
}

// New returns a Service backed by provider.
func New(provider llm.Provider, opts ...Option) *Service {
	s := &Service{
		provider:     provider,
		systemPrompt: DefaultSystemPrompt,
		providerName: "llm",
	}
	for _, o := range opts {
		o(s)
	}
	if s.metrics == nil {
		s.metrics = observe.DefaultMetrics()
	}
	return s
}

// Send asks the model to answer message in the context of history and
// returns the reply text. Turns with an unknown role are rejected; empty
// turns are skipped.
func (s *Service) Send(ctx context.Context, history []Turn, message string) (string, error) {
	if strings.TrimSpace(message) == "" {
		return "", ErrEmptyMessage
	}

	msgs := make([]llm.Message, 0, len(history)+1)
	for i, t := range history {
		if t.Text == "" {
			continue
		}
		role, err := mapRole(t.Role)
		if err != nil {
			return "", fmt.Errorf("history[%d]: %w", i, err)
		}
		msgs = append(msgs, llm.Message{Role: role, Content: t.Text})
	}
	msgs = append(msgs, llm.Message{Role: llm.RoleUser, Content: message})

	ctx, span := observe.StartSpan(ctx, "chat.Service.Send",
		trace.WithAttributes(
			attribute.String("provider", s.providerName),
			attribute.Int("history.length", len(history)),
		),
	)
	defer span.End()

	start := time.Now()
	resp, err := s.provider.Complete(ctx, llm.CompletionRequest{
		SystemPrompt: s.systemPrompt,
		Messages:     msgs,
		MaxTokens:    s.maxTokens,
	})
	s.metrics.ChatDuration.Record(ctx, time.Since(start).Seconds())
	if err != nil {
		s.metrics.RecordProviderRequest(ctx, s.providerName, "chat", "error")
		span.RecordError(err)
		span.SetStatus(codes.Error, "completion failed")
		observe.Logger(ctx).Error("chat completion failed", "provider", s.providerName, "err", err)
		return "", fmt.Errorf("chat: send: %w", err)
	}
	if resp == nil {
		s.metrics.RecordProviderRequest(ctx, s.providerName, "chat", "error")
		return "", errors.New("chat: send: provider returned no response")
	}

	s.metrics.RecordProviderRequest(ctx, s.providerName, "chat", "ok")
	span.SetAttributes(attribute.Int("usage.total_tokens", resp.Usage.TotalTokens))
	observe.Logger(ctx).Debug("chat completion", slog.Int("tokens", resp.Usage.TotalTokens), slog.Duration("latency", time.Since(start)))
	return resp.Content, nil
}

func mapRole(role string) (string, error) {
	switch strings.ToLower(role) {
	case RoleUser:
		return llm.RoleUser, nil
	case RoleModel, llm.RoleAssistant:
		return llm.RoleAssistant, nil
	default:
		return "", fmt.Errorf("%w %q", ErrUnknownRole, role)
	}
}
