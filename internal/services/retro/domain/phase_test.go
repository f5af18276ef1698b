package domain

import (
	"testing"

	apperrors "github.com/louisbranch/retroboard/internal/platform/errors"
)

func TestPhaseStep(t *testing.T) {
	tests := []struct {
		from      Phase
		direction int
		want      Phase
		code      apperrors.Code
	}{
		{from: PhaseWriting, direction: 1, want: PhaseGrouping},
		{from: PhaseGrouping, direction: 1, want: PhaseVoting},
		{from: PhaseVoting, direction: 1, want: PhaseReviewing},
		{from: PhaseReviewing, direction: -1, want: PhaseVoting},
		{from: PhaseWriting, direction: -1, code: apperrors.CodePhaseTransitionInvalid},
		{from: PhaseReviewing, direction: 1, code: apperrors.CodePhaseTransitionInvalid},
		{from: PhaseWriting, direction: 2, code: apperrors.CodePhaseTransitionInvalid},
		{from: PhaseWriting, direction: 0, code: apperrors.CodePhaseTransitionInvalid},
	}
	for _, tt := range tests {
		got, err := tt.from.Step(tt.direction)
		if tt.code != "" {
			if apperrors.CodeOf(err) != tt.code {
				t.Fatalf("%s.Step(%d) err = %v, want %s", tt.from, tt.direction, err, tt.code)
			}
			continue
		}
		if err != nil {
			t.Fatalf("%s.Step(%d): %v", tt.from, tt.direction, err)
		}
		if got != tt.want {
			t.Fatalf("%s.Step(%d) = %s, want %s", tt.from, tt.direction, got, tt.want)
		}
	}
}

func TestPhaseTransitionToRequiresAdjacency(t *testing.T) {
	if _, err := PhaseWriting.TransitionTo(PhaseVoting); !apperrors.IsKind(err, apperrors.KindInvalidTransition) {
		t.Fatalf("writing -> voting err = %v, want invalid transition", err)
	}
	if _, err := PhaseWriting.TransitionTo(PhaseWriting); !apperrors.IsKind(err, apperrors.KindInvalidTransition) {
		t.Fatalf("writing -> writing err = %v, want invalid transition", err)
	}
	if got, err := PhaseVoting.TransitionTo(PhaseGrouping); err != nil || got != PhaseGrouping {
		t.Fatalf("voting -> grouping = %s, %v", got, err)
	}
	if _, err := PhaseVoting.TransitionTo("done"); apperrors.CodeOf(err) != apperrors.CodePhaseInvalid {
		t.Fatalf("unknown target err = %v, want PHASE_INVALID", err)
	}
}

func TestParsePhase(t *testing.T) {
	got, err := ParsePhase(" Voting ")
	if err != nil || got != PhaseVoting {
		t.Fatalf("ParsePhase = %s, %v", got, err)
	}
	if _, err := ParsePhase("closed"); !apperrors.IsKind(err, apperrors.KindValidation) {
		t.Fatalf("ParsePhase(closed) err = %v, want validation", err)
	}
}

func TestPhasesOrder(t *testing.T) {
	phases := Phases()
	for i, phase := range phases {
		if phase.Index() != i {
			t.Fatalf("phase %s index = %d, want %d", phase, phase.Index(), i)
		}
	}
	phases[0] = "mutated"
	if Phases()[0] != PhaseWriting {
		t.Fatal("Phases must return a copy")
	}
}

func TestParsePolicyValues(t *testing.T) {
	if got, err := ParsePhaseControl(""); err != nil || got != PhaseControlAny {
		t.Fatalf("ParsePhaseControl(\"\") = %s, %v", got, err)
	}
	if got, err := ParsePhaseControl("CREATOR"); err != nil || got != PhaseControlCreator {
		t.Fatalf("ParsePhaseControl(CREATOR) = %s, %v", got, err)
	}
	if _, err := ParsePhaseControl("admins"); err == nil {
		t.Fatal("expected error for unknown phase control")
	}
	if got, err := ParseVoteWindow("allow"); err != nil || got != VoteOutsideVotingAllow {
		t.Fatalf("ParseVoteWindow(allow) = %s, %v", got, err)
	}
	if _, err := ParseVoteWindow("sometimes"); err == nil {
		t.Fatal("expected error for unknown vote window")
	}
}
