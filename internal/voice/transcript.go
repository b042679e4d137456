package voice

import (
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Role is the speaker of a [TranscriptItem].
type Role string

const (
	RoleUser  Role = "user"
	RoleModel Role = "model"
)

// TranscriptItem is one finalized transcript fragment. Items are immutable
// once appended.
type TranscriptItem struct {
	ID        string    `json:"id"`
	Role      Role      `json:"role"`
	Text      string    `json:"text"`
	Final     bool      `json:"final"`
	Timestamp time.Time `json:"timestamp"`
}

// TranscriptLog is an append-only, concurrency-safe list of transcript items.
// The zero value is ready to use.
type TranscriptLog struct {
	mu    sync.RWMutex
	items []TranscriptItem
}

// Append creates a finalized item for role and text, stores it and returns it.
func (l *TranscriptLog) Append(role Role, text string) TranscriptItem {
	l.mu.Lock()
	defer l.mu.Unlock()
	item := TranscriptItem{
		ID:        uuid.NewString(),
		Role:      role,
		Text:      text,
		Final:     true,
		Timestamp: time.Now().UTC(),
	}
	l.items = append(l.items, item)
	return item
}

// Items returns a copy of every item in append order.
func (l *TranscriptLog) Items() []TranscriptItem {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return slices.Clone(l.items)
}

// Len returns the number of items.
func (l *TranscriptLog) Len() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.items)
}
