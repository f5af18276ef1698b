package domain

import "time"

// EventKind names an event on the bus and on the wire.
type EventKind string

const (
	EventCardAdded       EventKind = "card_added"
	EventCardEdited      EventKind = "card_edited"
	EventVoteChanged     EventKind = "vote_changed"
	EventStepUpdated     EventKind = "step_updated"
	EventUserListUpdated EventKind = "user_list_updated"
)

// Payload is the kind-specific body of an event. The set of implementations
// is closed.
type Payload interface {
	Kind() EventKind
	isPayload()
}

// Event is one published state change. Seq is assigned per retro, starting at
// 1 and increasing by one for every event.
type Event struct {
	Seq        uint64
	RetroID    string
	OccurredAt time.Time
	ActorID    string
	Payload    Payload
}

// Kind returns the payload kind.
func (e Event) Kind() EventKind {
	if e.Payload == nil {
		return ""
	}
	return e.Payload.Kind()
}

// CardAdded carries a newly appended card.
type CardAdded struct {
	LaneID string
	Card   Card
}

// CardEdited carries a card after its text changed.
type CardEdited struct {
	LaneID string
	Card   Card
}

// VoteChanged carries the new vote count. Voter identities stay private.
type VoteChanged struct {
	CardID     string
	LaneID     string
	VoterCount int
}

// StepUpdated carries the new phase and the cards the move revealed.
type StepUpdated struct {
	Phase    Phase
	Previous Phase
	Revealed []Card
}

// UserListUpdated carries the full active roster.
type UserListUpdated struct {
	Participants []Participant
}

func (CardAdded) Kind() EventKind       { return EventCardAdded }
func (CardEdited) Kind() EventKind      { return EventCardEdited }
func (VoteChanged) Kind() EventKind     { return EventVoteChanged }
func (StepUpdated) Kind() EventKind     { return EventStepUpdated }
func (UserListUpdated) Kind() EventKind { return EventUserListUpdated }

func (CardAdded) isPayload()       {}
func (CardEdited) isPayload()      {}
func (VoteChanged) isPayload()     {}
func (StepUpdated) isPayload()     {}
func (UserListUpdated) isPayload() {}
