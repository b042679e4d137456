package postgres

import (
	"context"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/auradesk/aura/pkg/memory"
)

var _ memory.TranscriptStore = (*Store)(nil)

// Store is a [memory.TranscriptStore] backed by the transcript_entries table.
// All operations are safe for concurrent use.
type Store struct {
	pool *pgxpool.Pool
}

// NewStore connects to the PostgreSQL database at dsn, verifies the
// connection and runs [Migrate].
func NewStore(ctx context.Context, dsn string) (*Store, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("postgres store: parse dsn: %w", err)
	}

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("postgres store: create pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("postgres store: ping: %w", err)
	}

	if err := Migrate(ctx, pool); err != nil {
		pool.Close()
		return nil, fmt.Errorf("postgres store: migrate: %w", err)
	}

	return &Store{pool: pool}, nil
}

// Ping checks that the database is reachable.
func (s *Store) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

// Close releases all connections held by the underlying connection pool.
func (s *Store) Close() {
	s.pool.Close()
}

// Append implements [memory.TranscriptStore].
func (s *Store) Append(ctx context.Context, sessionID string, entry memory.Entry) error {
	if sessionID == "" {
		return memory.ErrEmptySessionID
	}
	const q = `
		INSERT INTO transcript_entries (id, session_id, role, text, timestamp)
		VALUES ($1, $2, $3, $4, $5)`

	_, err := s.pool.Exec(ctx, q, entry.ID, sessionID, entry.Role, entry.Text, entry.Timestamp)
	if err != nil {
		return fmt.Errorf("transcript store: append: %w", err)
	}
	return nil
}

// List implements [memory.TranscriptStore]. Entries come back in insertion
// order, which is the order the session finalized them.
func (s *Store) List(ctx context.Context, sessionID string) ([]memory.Entry, error) {
	if sessionID == "" {
		return nil, memory.ErrEmptySessionID
	}
	const q = `
		SELECT id, session_id, role, text, timestamp
		FROM   transcript_entries
		WHERE  session_id = $1
		ORDER  BY seq`

	rows, err := s.pool.Query(ctx, q, sessionID)
	if err != nil {
		return nil, fmt.Errorf("transcript store: list: %w", err)
	}
	return collectEntries(rows)
}

// Search implements [memory.TranscriptStore] with PostgreSQL full-text search.
// The query goes through plainto_tsquery so no operator syntax is required.
// An empty query matches every entry.
func (s *Store) Search(ctx context.Context, query string, opts memory.SearchOpts) ([]memory.Entry, error) {
	q, args := buildSearch(query, opts)
	rows, err := s.pool.Query(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("transcript store: search: %w", err)
	}
	return collectEntries(rows)
}

// buildSearch renders the search statement and its positional arguments.
func buildSearch(query string, opts memory.SearchOpts) (string, []any) {
	var (
		args       []any
		conditions []string
	)
	next := func(v any) string {
		args = append(args, v)
		return fmt.Sprintf("$%d", len(args))
	}

	if strings.TrimSpace(query) != "" {
		conditions = append(conditions,
			"to_tsvector('simple', text) @@ plainto_tsquery('simple', "+next(query)+")")
	}
	if opts.SessionID != "" {
		conditions = append(conditions, "session_id = "+next(opts.SessionID))
	}
	if opts.Role != "" {
		conditions = append(conditions, "role = "+next(opts.Role))
	}
	if !opts.After.IsZero() {
		conditions = append(conditions, "timestamp > "+next(opts.After))
	}
	if !opts.Before.IsZero() {
		conditions = append(conditions, "timestamp < "+next(opts.Before))
	}

	q := "SELECT id, session_id, role, text, timestamp\n" +
		"FROM   transcript_entries"
	if len(conditions) > 0 {
		q += "\nWHERE  " + strings.Join(conditions, "\n  AND  ")
	}
	q += "\nORDER  BY timestamp, seq"
	if opts.Limit > 0 {
		q += "\nLIMIT " + next(opts.Limit)
	}
	return q, args
}

// collectEntries scans pgx rows into a non-nil slice of entries.
func collectEntries(rows pgx.Rows) ([]memory.Entry, error) {
	entries, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (memory.Entry, error) {
		var e memory.Entry
		if err := row.Scan(&e.ID, &e.SessionID, &e.Role, &e.Text, &e.Timestamp); err != nil {
			return memory.Entry{}, err
		}
		return e, nil
	})
	if err != nil {
		return nil, fmt.Errorf("transcript store: scan rows: %w", err)
	}
	if entries == nil {
		entries = []memory.Entry{}
	}
	return entries, nil
}
