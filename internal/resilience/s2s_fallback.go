package resilience

import (
	"context"

	"github.com/auradesk/aura/pkg/provider/s2s"
)

// S2SFallback implements [s2s.Provider] with failover across several
// speech-to-speech backends. Only Connect fails over; once a stream is open
// its failures belong to the voice session.
type S2SFallback struct {
	group *FallbackGroup[s2s.Provider]
}

var _ s2s.Provider = (*S2SFallback)(nil)

// NewS2SFallback creates an [S2SFallback] with primary as the preferred backend.
func NewS2SFallback(primary s2s.Provider, primaryName string, cfg FallbackConfig) *S2SFallback {
	return &S2SFallback{group: NewFallbackGroup(primary, primaryName, cfg)}
}

// AddFallback registers another speech-to-speech backend. Its audio rates
// should match the primary's, since sessions size their streams from
// [S2SFallback.Capabilities].
func (f *S2SFallback) AddFallback(name string, provider s2s.Provider) {
	f.group.AddFallback(name, provider)
}

// Connect opens a stream on the first healthy backend.
func (f *S2SFallback) Connect(ctx context.Context, cfg s2s.SessionConfig) (s2s.SessionHandle, error) {
	return ExecuteWithResult(f.group, func(p s2s.Provider) (s2s.SessionHandle, error) {
		return p.Connect(ctx, cfg)
	})
}

// Capabilities returns the primary's capabilities.
func (f *S2SFallback) Capabilities() s2s.Capabilities {
	return f.group.Primary().Capabilities()
}

// Status reports each backend's breaker state.
func (f *S2SFallback) Status() []EntryStatus { return f.group.Status() }

// Healthy reports whether any backend would accept a call.
func (f *S2SFallback) Healthy() bool { return f.group.Healthy() }
