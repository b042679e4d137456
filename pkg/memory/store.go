// Package memory defines the persistence layer for call transcripts.
//
// A [TranscriptStore] is a time-ordered, append-only log of [Entry] records
// grouped by gateway session ID. The voice gateway appends every finalized
// transcript item as it arrives; the HTTP API reads them back.
//
// Implementations:
//   - [InMemory]: process-local store used when no database is configured
//     and in tests.
//   - postgres.Store: PostgreSQL via pgx with a GIN full-text index.
//
// Every implementation must be safe for concurrent use.
package memory

import (
	"context"
	"errors"
	"time"
)

// ErrEmptySessionID is returned when an operation is called without a
// session ID.
var ErrEmptySessionID = errors.New("memory: empty session id")

// Entry is one persisted transcript fragment.
type Entry struct {
	// ID is the transcript item ID assigned by the voice session.
	ID string `json:"id"`

	// SessionID is the gateway session the entry belongs to.
	SessionID string `json:"session_id"`

	// Role is "user" or "model".
	Role string `json:"role"`

	// Text is the transcribed text.
	Text string `json:"text"`

	// Timestamp is when the item was finalized.
	Timestamp time.Time `json:"timestamp"`
}

// SearchOpts configures a keyword search over stored entries.
// All non-zero fields are applied as AND conditions.
type SearchOpts struct {
	// SessionID restricts the search to a single session.
	// An empty string searches across all sessions.
	SessionID string

	// Role restricts results to one speaker role.
	Role string

	// After excludes entries at or before this time.
	After time.Time

	// Before excludes entries at or after this time.
	Before time.Time

	// Limit caps the number of results. Zero means no limit.
	Limit int
}

// TranscriptStore is a time-ordered, append-only log of transcript entries
// keyed by session.
type TranscriptStore interface {
	// Append stores entry under sessionID. The entry's SessionID field is
	// overwritten with sessionID. Returns [ErrEmptySessionID] when sessionID
	// is empty.
	Append(ctx context.Context, sessionID string, entry Entry) error

	// List returns every entry of sessionID in chronological order.
	// Returns an empty (non-nil) slice for unknown sessions.
	List(ctx context.Context, sessionID string) ([]Entry, error)

	// Search returns entries whose text matches query, oldest first.
	// Returns an empty (non-nil) slice when nothing matches.
	Search(ctx context.Context, query string, opts SearchOpts) ([]Entry, error)
}
