package config

import (
	"errors"
	"fmt"
	"maps"
	"slices"
	"sync"

	"github.com/auradesk/aura/pkg/provider/llm"
	"github.com/auradesk/aura/pkg/provider/s2s"
)

// ErrProviderNotRegistered is returned by Create* methods when no factory has
// been registered under the requested provider name.
var ErrProviderNotRegistered = errors.New("config: provider not registered")

// Factory builds a provider from its config entry.
type Factory[P any] func(ProviderEntry) (P, error)

// factories is the name-to-constructor table of one provider kind.
type factories[P any] struct {
	kind string
	m    map[string]Factory[P]
}

func newFactories[P any](kind string) factories[P] {
	return factories[P]{kind: kind, m: make(map[string]Factory[P])}
}

func (f factories[P]) create(entry ProviderEntry) (P, error) {
	factory, ok := f.m[entry.Name]
	if !ok {
		var zero P
		return zero, fmt.Errorf("%w: %s/%q", ErrProviderNotRegistered, f.kind, entry.Name)
	}
	p, err := factory(entry)
	if err != nil {
		var zero P
		return zero, fmt.Errorf("config: build %s provider %q: %w", f.kind, entry.Name, err)
	}
	return p, nil
}

// Registry maps the provider names used in [ProvidersConfig] to their
// constructors. main registers the built-in backends; tests register mocks.
// It is safe for concurrent use.
type Registry struct {
	mu  sync.RWMutex
	llm factories[llm.Provider]
	s2s factories[s2s.Provider]
}

// NewRegistry returns an empty, ready-to-use [Registry].
func NewRegistry() *Registry {
	return &Registry{
		llm: newFactories[llm.Provider]("llm"),
		s2s: newFactories[s2s.Provider]("s2s"),
	}
}

// RegisterLLM registers a chat model factory under name, replacing any
// previous one.
func (r *Registry) RegisterLLM(name string, factory Factory[llm.Provider]) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.llm.m[name] = factory
}

// RegisterS2S registers a realtime voice factory under name, replacing any
// previous one.
func (r *Registry) RegisterS2S(name string, factory Factory[s2s.Provider]) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.s2s.m[name] = factory
}

// CreateLLM builds the chat model selected by entry.Name.
func (r *Registry) CreateLLM(entry ProviderEntry) (llm.Provider, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.llm.create(entry)
}

// CreateS2S builds the realtime voice provider selected by entry.Name.
func (r *Registry) CreateS2S(entry ProviderEntry) (s2s.Provider, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.s2s.create(entry)
}

// Names returns the sorted provider names registered for kind ("llm" or
// "s2s"). Unknown kinds yield nil.
func (r *Registry) Names(kind string) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	switch kind {
	case r.llm.kind:
		return slices.Sorted(maps.Keys(r.llm.m))
	case r.s2s.kind:
		return slices.Sorted(maps.Keys(r.s2s.m))
	}
	return nil
}
