package domain

import (
	"testing"
	"time"

	apperrors "github.com/louisbranch/retroboard/internal/platform/errors"
	"github.com/louisbranch/retroboard/internal/platform/id"
)

var fixedNow = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

type fixture struct {
	state *State
	env   Env
}

func newFixture(t *testing.T, policy Policy) *fixture {
	t.Helper()
	ids := id.Sequence("id")
	state, err := NewState(CreateRetro{Name: "Sprint 1", CreatorID: "alice", CreatorName: "Alice"}, ids, fixedNow)
	if err != nil {
		t.Fatalf("new state: %v", err)
	}
	return &fixture{
		state: state,
		env: Env{
			Policy: policy,
			NewID:  ids,
			Now:    func() time.Time { return fixedNow },
		},
	}
}

func (f *fixture) exec(t *testing.T, cmd Command) []Event {
	t.Helper()
	decision, err := Decide(f.state, cmd, f.env)
	if err != nil {
		t.Fatalf("decide %s: %v", cmd.Name(), err)
	}
	return f.state.Apply(decision)
}

func (f *fixture) reject(t *testing.T, cmd Command, code apperrors.Code) {
	t.Helper()
	before := f.state.Clone()
	decision, err := Decide(f.state, cmd, f.env)
	if err == nil {
		t.Fatalf("decide %s: expected %s, got success", cmd.Name(), code)
	}
	if got := apperrors.CodeOf(err); got != code {
		t.Fatalf("decide %s: code = %s, want %s (%v)", cmd.Name(), got, code, err)
	}
	if len(decision.emits) != 0 {
		t.Fatalf("rejected decision carries %d events", len(decision.emits))
	}
	if f.state.Version != before.Version || f.state.Phase != before.Phase || len(f.state.cards) != len(before.cards) {
		t.Fatal("rejected command changed state")
	}
}

func (f *fixture) laneID(t *testing.T, title string) string {
	t.Helper()
	for _, lane := range f.state.Lanes() {
		if lane.Title == title {
			return lane.ID
		}
	}
	t.Fatalf("lane %q not found", title)
	return ""
}

func (f *fixture) addCard(t *testing.T, lane, creator, text string) Card {
	t.Helper()
	events := f.exec(t, AddCard{LaneID: f.laneID(t, lane), CreatorID: creator, Text: text})
	if len(events) != 1 {
		t.Fatalf("add card events = %d, want 1", len(events))
	}
	added, ok := events[0].Payload.(CardAdded)
	if !ok {
		t.Fatalf("payload = %T, want CardAdded", events[0].Payload)
	}
	return added.Card
}

func cardIn(t *testing.T, view RetroView, cardID string) CardView {
	t.Helper()
	for _, lane := range view.Lanes {
		for _, card := range lane.Cards {
			if card.ID == cardID {
				return card
			}
		}
	}
	t.Fatalf("card %s not in view", cardID)
	return CardView{}
}

func rosterIDs(participants []ParticipantView) []string {
	ids := make([]string, 0, len(participants))
	for _, participant := range participants {
		ids = append(ids, participant.UserID)
	}
	return ids
}
