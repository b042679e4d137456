package memory

import (
	"context"
	"slices"
	"strings"
	"sync"
)

var _ TranscriptStore = (*InMemory)(nil)

// InMemory is a process-local [TranscriptStore]. Search matches entries that
// contain every whitespace-separated query term, case-insensitively.
// The zero value is ready to use.
type InMemory struct {
	mu       sync.RWMutex
	sessions map[string][]Entry
	order    []string
}

// NewInMemory returns an empty in-memory store.
func NewInMemory() *InMemory {
	return &InMemory{}
}

// Append implements [TranscriptStore].
func (m *InMemory) Append(_ context.Context, sessionID string, entry Entry) error {
	if sessionID == "" {
		return ErrEmptySessionID
	}
	entry.SessionID = sessionID

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.sessions == nil {
		m.sessions = make(map[string][]Entry)
	}
	if _, ok := m.sessions[sessionID]; !ok {
		m.order = append(m.order, sessionID)
	}
	m.sessions[sessionID] = append(m.sessions[sessionID], entry)
	return nil
}

// List implements [TranscriptStore].
func (m *InMemory) List(_ context.Context, sessionID string) ([]Entry, error) {
	if sessionID == "" {
		return nil, ErrEmptySessionID
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := slices.Clone(m.sessions[sessionID])
	if out == nil {
		out = []Entry{}
	}
	return out, nil
}

// Search implements [TranscriptStore].
func (m *InMemory) Search(_ context.Context, query string, opts SearchOpts) ([]Entry, error) {
	terms := strings.Fields(strings.ToLower(query))

	m.mu.RLock()
	var candidates []Entry
	if opts.SessionID != "" {
		candidates = slices.Clone(m.sessions[opts.SessionID])
	} else {
		for _, id := range m.order {
			candidates = append(candidates, m.sessions[id]...)
		}
	}
	m.mu.RUnlock()

	out := []Entry{}
	for _, e := range candidates {
		if !matches(e, terms, opts) {
			continue
		}
		out = append(out, e)
	}
	slices.SortStableFunc(out, func(a, b Entry) int { return a.Timestamp.Compare(b.Timestamp) })
	if opts.Limit > 0 && len(out) > opts.Limit {
		out = out[:opts.Limit]
	}
	return out, nil
}

func matches(e Entry, terms []string, opts SearchOpts) bool {
	if opts.Role != "" && e.Role != opts.Role {
		return false
	}
	if !opts.After.IsZero() && !e.Timestamp.After(opts.After) {
		return false
	}
	if !opts.Before.IsZero() && !e.Timestamp.Before(opts.Before) {
		return false
	}
	text := strings.ToLower(e.Text)
	for _, t := range terms {
		if !strings.Contains(text, t) {
			return false
		}
	}
	return true
}
