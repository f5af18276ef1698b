package filter

import (
	"testing"
	"time"

	apperrors "github.com/louisbranch/retroboard/internal/platform/errors"
	"github.com/louisbranch/retroboard/internal/services/retro/domain"
)

var summaries = []domain.Summary{
	{ID: "r1", Name: "Sprint 1", CreatorID: "alice", Phase: domain.PhaseWriting, ParticipantCount: 1, CreatedAt: time.Date(2026, 1, 5, 0, 0, 0, 0, time.UTC)},
	{ID: "r2", Name: "Sprint 2", CreatorID: "bob", Phase: domain.PhaseVoting, ParticipantCount: 4, CreatedAt: time.Date(2026, 2, 5, 0, 0, 0, 0, time.UTC)},
	{ID: "r3", Name: "Quarterly", CreatorID: "alice", Phase: domain.PhaseReviewing, ParticipantCount: 9, CreatedAt: time.Date(2026, 3, 5, 0, 0, 0, 0, time.UTC)},
}

func matching(t *testing.T, filterStr string) []string {
	t.Helper()
	predicate, err := Parse(filterStr)
	if err != nil {
		t.Fatalf("Parse(%q): %v", filterStr, err)
	}
	var ids []string
	for _, summary := range summaries {
		if predicate(summary) {
			ids = append(ids, summary.ID)
		}
	}
	return ids
}

func TestParseMatches(t *testing.T) {
	tests := []struct {
		filter string
		want   []string
	}{
		{filter: "", want: []string{"r1", "r2", "r3"}},
		{filter: `creator_id = "alice"`, want: []string{"r1", "r3"}},
		{filter: `phase = "voting"`, want: []string{"r2"}},
		{filter: `creator_id = "alice" AND phase = "reviewing"`, want: []string{"r3"}},
		{filter: `creator_id = "bob" OR name = "Quarterly"`, want: []string{"r2", "r3"}},
		{filter: `participant_count > 3`, want: []string{"r2", "r3"}},
		{filter: `participant_count <= 4`, want: []string{"r1", "r2"}},
		{filter: `created_at >= timestamp("2026-02-01T00:00:00Z")`, want: []string{"r2", "r3"}},
		{filter: `created_at < timestamp("2026-02-01T00:00:00Z") AND creator_id = "alice"`, want: []string{"r1"}},
	}
	for _, tt := range tests {
		t.Run(tt.filter, func(t *testing.T) {
			got := matching(t, tt.filter)
			if len(got) != len(tt.want) {
				t.Fatalf("matches = %v, want %v", got, tt.want)
			}
			for i := range got {
				if got[i] != tt.want[i] {
					t.Fatalf("matches = %v, want %v", got, tt.want)
				}
			}
		})
	}
}

func TestParseRejectsInvalidFilters(t *testing.T) {
	for _, filterStr := range []string{
		`owner = "alice"`,
		`creator_id = `,
		`participant_count = "many"`,
	} {
		_, err := Parse(filterStr)
		if err == nil {
			t.Fatalf("Parse(%q): expected error", filterStr)
		}
		if apperrors.CodeOf(err) != apperrors.CodeInvalidArgument {
			t.Fatalf("Parse(%q) code = %s, want INVALID_ARGUMENT", filterStr, apperrors.CodeOf(err))
		}
	}
}
