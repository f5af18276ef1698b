package domain

import (
	"slices"
	"testing"

	apperrors "github.com/louisbranch/retroboard/internal/platform/errors"
)

func TestSprintOneScenario(t *testing.T) {
	f := newFixture(t, DefaultPolicy())
	if f.state.Phase != PhaseWriting {
		t.Fatalf("phase = %s, want writing", f.state.Phase)
	}
	if got := rosterIDs(f.state.View("alice").Participants); !slices.Equal(got, []string{"alice"}) {
		t.Fatalf("roster = %v, want [alice]", got)
	}

	f.exec(t, Join{UserID: "bob", Username: "Bob"})
	if got := rosterIDs(f.state.View("alice").Participants); !slices.Equal(got, []string{"alice", "bob"}) {
		t.Fatalf("roster = %v, want [alice bob]", got)
	}

	c1 := f.addCard(t, "Good", "alice", "shipped X")
	if c1.VoterCount() != 0 {
		t.Fatalf("votes = %v, want empty", c1.Votes)
	}
	if view := cardIn(t, f.state.View("bob"), c1.ID); !view.Redacted {
		t.Fatalf("bob sees %+v while writing, want redacted", view)
	}

	f.exec(t, ChangePhase{UserID: "alice", Direction: 1})
	if f.state.Phase != PhaseGrouping {
		t.Fatalf("phase = %s, want grouping", f.state.Phase)
	}
	if view := cardIn(t, f.state.View("bob"), c1.ID); view.Text != "shipped X" {
		t.Fatalf("bob sees %q after grouping, want shipped X", view.Text)
	}

	f.reject(t, Vote{CardID: c1.ID, UserID: "bob", Add: true}, apperrors.CodeVotingClosed)
	f.exec(t, ChangePhase{UserID: "alice", Direction: 1})
	if f.state.Phase != PhaseVoting {
		t.Fatalf("phase = %s, want voting", f.state.Phase)
	}

	voterCount := func() int {
		return cardIn(t, f.state.View("bob"), c1.ID).VoterCount
	}
	f.exec(t, Vote{CardID: c1.ID, UserID: "bob", Add: true})
	if voterCount() != 1 {
		t.Fatalf("voter count = %d, want 1", voterCount())
	}
	f.exec(t, Vote{CardID: c1.ID, UserID: "bob", Add: true})
	if voterCount() != 1 {
		t.Fatalf("voter count after repeat = %d, want 1", voterCount())
	}
	f.exec(t, Vote{CardID: c1.ID, UserID: "bob", Add: false})
	if voterCount() != 0 {
		t.Fatalf("voter count after removal = %d, want 0", voterCount())
	}
}
