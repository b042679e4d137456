package postgres

import (
	"strings"
	"testing"
	"time"

	"github.com/auradesk/aura/pkg/memory"
)

func TestBuildSearch(t *testing.T) {
	t.Parallel()
	after := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)

	tests := []struct {
		name      string
		query     string
		opts      memory.SearchOpts
		wantParts []string
		wantArgs  int
	}{
		{
			name:      "no filters",
			wantParts: []string{"FROM   transcript_entries\nORDER  BY timestamp, seq"},
			wantArgs:  0,
		},
		{
			name:      "query only",
			query:     "room",
			wantParts: []string{"plainto_tsquery('simple', $1)"},
			wantArgs:  1,
		},
		{
			name:  "all filters",
			query: "room",
			opts:  memory.SearchOpts{SessionID: "s", Role: "user", After: after, Before: after.Add(time.Hour), Limit: 5},
			wantParts: []string{
				"plainto_tsquery('simple', $1)",
				"session_id = $2",
				"role = $3",
				"timestamp > $4",
				"timestamp < $5",
				"LIMIT $6",
			},
			wantArgs: 6,
		},
		{
			name:      "blank query is ignored",
			query:     "   ",
			opts:      memory.SearchOpts{SessionID: "s"},
			wantParts: []string{"WHERE  session_id = $1"},
			wantArgs:  1,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			q, args := buildSearch(tt.query, tt.opts)
			for _, p := range tt.wantParts {
				if !strings.Contains(q, p) {
					t.Errorf("query missing %q:\n%s", p, q)
				}
			}
			if len(args) != tt.wantArgs {
				t.Errorf("args: got %d, want %d", len(args), tt.wantArgs)
			}
		})
	}
}
