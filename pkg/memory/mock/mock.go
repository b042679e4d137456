// Package mock provides an in-memory test double for [memory.TranscriptStore].
//
// The mock records every method call for assertion in tests and exposes
// exported fields that control what it returns. It is safe for concurrent use.
//
// Typical usage:
//
//	store := &mock.TranscriptStore{}
//	store.AppendErr = errors.New("disk full")
//
//	// inject store into the system under test …
//
//	if got := store.CallCount("Append"); got != 1 {
//	    t.Errorf("expected 1 Append call, got %d", got)
//	}
package mock

import (
	"context"
	"slices"
	"sync"

	"github.com/auradesk/aura/pkg/memory"
)

// Call records the name and arguments of a single method invocation.
type Call struct {
	// Method is the name of the interface method that was called.
	Method string

	// Args holds the non-context arguments passed to the method, in order.
	Args []any
}

// TranscriptStore is a configurable test double for [memory.TranscriptStore].
// Appended entries are kept so that List returns them unless ListResult is set.
type TranscriptStore struct {
	mu sync.Mutex

	calls   []Call
	entries map[string][]memory.Entry

	// AppendErr is returned by [TranscriptStore.Append] when non-nil. Failed
	// appends are not kept.
	AppendErr error

	// ListResult, when non-nil, is returned by [TranscriptStore.List] instead
	// of the appended entries.
	ListResult []memory.Entry

	// ListErr is returned by [TranscriptStore.List] when non-nil.
	ListErr error

	// SearchResult is returned by [TranscriptStore.Search].
	// When nil, Search returns an empty non-nil slice.
	SearchResult []memory.Entry

	// SearchErr is returned by [TranscriptStore.Search] when non-nil.
	SearchErr error
}

var _ memory.TranscriptStore = (*TranscriptStore)(nil)

// Append implements [memory.TranscriptStore].
func (m *TranscriptStore) Append(_ context.Context, sessionID string, entry memory.Entry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = append(m.calls, Call{Method: "Append", Args: []any{sessionID, entry}})
	if m.AppendErr != nil {
		return m.AppendErr
	}
	if m.entries == nil {
		m.entries = make(map[string][]memory.Entry)
	}
	entry.SessionID = sessionID
	m.entries[sessionID] = append(m.entries[sessionID], entry)
	return nil
}

// List implements [memory.TranscriptStore].
func (m *TranscriptStore) List(_ context.Context, sessionID string) ([]memory.Entry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = append(m.calls, Call{Method: "List", Args: []any{sessionID}})
	if m.ListErr != nil {
		return nil, m.ListErr
	}
	if m.ListResult != nil {
		return slices.Clone(m.ListResult), nil
	}
	out := slices.Clone(m.entries[sessionID])
	if out == nil {
		out = []memory.Entry{}
	}
	return out, nil
}

// Search implements [memory.TranscriptStore].
func (m *TranscriptStore) Search(_ context.Context, query string, opts memory.SearchOpts) ([]memory.Entry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = append(m.calls, Call{Method: "Search", Args: []any{query, opts}})
	if m.SearchResult == nil {
		return []memory.Entry{}, m.SearchErr
	}
	return slices.Clone(m.SearchResult), m.SearchErr
}

// Entries returns a copy of the entries appended for sessionID.
func (m *TranscriptStore) Entries(sessionID string) []memory.Entry {
	m.mu.Lock()
	defer m.mu.Unlock()
	return slices.Clone(m.entries[sessionID])
}

// Calls returns a copy of all recorded method invocations.
func (m *TranscriptStore) Calls() []Call {
	m.mu.Lock()
	defer m.mu.Unlock()
	return slices.Clone(m.calls)
}

// CallCount returns how many times the named method was invoked.
func (m *TranscriptStore) CallCount(method string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, c := range m.calls {
		if c.Method == method {
			n++
		}
	}
	return n
}

// Reset clears all recorded calls and appended entries without altering
// response configuration.
func (m *TranscriptStore) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = nil
	m.entries = nil
}
