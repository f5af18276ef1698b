package domain

import (
	"fmt"
	"strings"

	apperrors "github.com/louisbranch/retroboard/internal/platform/errors"
)

// Phase is the stage of the retro workflow.
type Phase string

const (
	PhaseWriting   Phase = "writing"
	PhaseGrouping  Phase = "grouping"
	PhaseVoting    Phase = "voting"
	PhaseReviewing Phase = "reviewing"
)

var phaseOrder = []Phase{PhaseWriting, PhaseGrouping, PhaseVoting, PhaseReviewing}

// Phases returns every phase in workflow order.
func Phases() []Phase {
	return append([]Phase(nil), phaseOrder...)
}

// Index returns the position of p in the workflow, or -1 for unknown values.
func (p Phase) Index() int {
	for i, candidate := range phaseOrder {
		if candidate == p {
			return i
		}
	}
	return -1
}

// Valid reports whether p is one of the four workflow phases.
func (p Phase) Valid() bool {
	return p.Index() >= 0
}

// ParsePhase accepts a phase name in any case.
func ParsePhase(value string) (Phase, error) {
	phase := Phase(strings.ToLower(strings.TrimSpace(value)))
	if !phase.Valid() {
		return "", apperrors.WithMetadata(
			apperrors.CodePhaseInvalid,
			fmt.Sprintf("unknown phase %q", value),
			map[string]string{"Phase": value},
		)
	}
	return phase, nil
}

// Step returns the phase one step away from p. Direction must be +1 or -1 and
// the result must stay inside the workflow; there is no wraparound.
func (p Phase) Step(direction int) (Phase, error) {
	if direction != 1 && direction != -1 {
		return "", apperrors.New(apperrors.CodePhaseTransitionInvalid, fmt.Sprintf("phase direction must be +1 or -1, got %d", direction))
	}
	next := p.Index() + direction
	if p.Index() < 0 || next < 0 || next >= len(phaseOrder) {
		return "", apperrors.New(apperrors.CodePhaseTransitionInvalid, fmt.Sprintf("cannot move %+d from phase %s", direction, p))
	}
	return phaseOrder[next], nil
}

// TransitionTo validates a move from p directly to target. Only adjacent
// phases are reachable.
func (p Phase) TransitionTo(target Phase) (Phase, error) {
	if !target.Valid() {
		return "", apperrors.New(apperrors.CodePhaseInvalid, fmt.Sprintf("unknown phase %q", target))
	}
	delta := target.Index() - p.Index()
	if delta != 1 && delta != -1 {
		return "", apperrors.New(apperrors.CodePhaseTransitionInvalid, fmt.Sprintf("cannot move from phase %s to %s", p, target))
	}
	return target, nil
}
