package domain

import (
	"fmt"
	"strings"
)

// PhaseControl decides who may change the phase.
type PhaseControl string

const (
	// PhaseControlAny lets any participant change the phase.
	PhaseControlAny PhaseControl = "any"
	// PhaseControlCreator restricts phase changes to the retro creator.
	PhaseControlCreator PhaseControl = "creator"
)

// VoteWindow decides whether votes are accepted outside the Voting phase.
type VoteWindow string

const (
	VoteOutsideVotingReject VoteWindow = "reject"
	VoteOutsideVotingAllow  VoteWindow = "allow"
)

// Policy holds the configurable permission rules of a retro.
type Policy struct {
	PhaseControl      PhaseControl
	VoteOutsideVoting VoteWindow
}

// DefaultPolicy lets anyone change phase and only accepts votes while voting.
func DefaultPolicy() Policy {
	return Policy{
		PhaseControl:      PhaseControlAny,
		VoteOutsideVoting: VoteOutsideVotingReject,
	}
}

// ParsePhaseControl parses a PhaseControl; empty means PhaseControlAny.
func ParsePhaseControl(value string) (PhaseControl, error) {
	switch PhaseControl(strings.ToLower(strings.TrimSpace(value))) {
	case "", PhaseControlAny:
		return PhaseControlAny, nil
	case PhaseControlCreator:
		return PhaseControlCreator, nil
	default:
		return "", fmt.Errorf("phase control must be %q or %q, got %q", PhaseControlAny, PhaseControlCreator, value)
	}
}

// ParseVoteWindow parses a VoteWindow; empty means VoteOutsideVotingReject.
func ParseVoteWindow(value string) (VoteWindow, error) {
	switch VoteWindow(strings.ToLower(strings.TrimSpace(value))) {
	case "", VoteOutsideVotingReject:
		return VoteOutsideVotingReject, nil
	case VoteOutsideVotingAllow:
		return VoteOutsideVotingAllow, nil
	default:
		return "", fmt.Errorf("vote window must be %q or %q, got %q", VoteOutsideVotingReject, VoteOutsideVotingAllow, value)
	}
}

func (p Policy) canChangePhase(userID, creatorID string) bool {
	if p.PhaseControl == PhaseControlCreator {
		return userID == creatorID
	}
	return true
}

func (p Policy) acceptsVote(phase Phase) bool {
	return phase == PhaseVoting || p.VoteOutsideVoting == VoteOutsideVotingAllow
}
