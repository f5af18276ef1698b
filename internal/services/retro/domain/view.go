package domain

import "time"

// RedactedText replaces card text a viewer may not see yet.
const RedactedText = ""

// CardView is a card as seen by one viewer.
type CardView struct {
	ID            string    `json:"id"`
	LaneID        string    `json:"lane_id"`
	CreatorID     string    `json:"creator_id"`
	Text          string    `json:"text"`
	Redacted      bool      `json:"redacted"`
	VoterCount    int       `json:"voter_count"`
	VotedByViewer bool      `json:"voted_by_viewer"`
	CreatedAt     time.Time `json:"created_at"`
	UpdatedAt     time.Time `json:"updated_at"`
}

// LaneView is a lane with its cards in insertion order.
type LaneView struct {
	ID       string     `json:"id"`
	Title    string     `json:"title"`
	Priority int        `json:"priority"`
	Cards    []CardView `json:"cards"`
}

// ParticipantView is a roster entry.
type ParticipantView struct {
	UserID   string    `json:"user_id"`
	Username string    `json:"username"`
	JoinedAt time.Time `json:"joined_at"`
	Active   bool      `json:"active"`
}

// RetroView is the full retro as seen by one viewer.
type RetroView struct {
	ID           string            `json:"id"`
	Name         string            `json:"name"`
	CreatorID    string            `json:"creator_id"`
	CreatedAt    time.Time         `json:"created_at"`
	UpdatedAt    time.Time         `json:"updated_at"`
	Phase        Phase             `json:"phase"`
	Version      uint64            `json:"version"`
	Lanes        []LaneView        `json:"lanes"`
	Participants []ParticipantView `json:"participants"`
}

// Summary is the list entry for a retro.
type Summary struct {
	ID               string    `json:"id"`
	Name             string    `json:"name"`
	CreatorID        string    `json:"creator_id"`
	CreatedAt        time.Time `json:"created_at"`
	UpdatedAt        time.Time `json:"updated_at"`
	Phase            Phase     `json:"phase"`
	Version          uint64    `json:"version"`
	ParticipantCount int       `json:"participant_count"`
}

// CanSee reports whether viewerID may read the card text.
func CanSee(card Card, viewerID string) bool {
	return card.Revealed || (viewerID != "" && card.CreatorID == viewerID)
}

// ViewCard projects a card for viewerID.
func ViewCard(card Card, viewerID string) CardView {
	view := CardView{
		ID:            card.ID,
		LaneID:        card.LaneID,
		CreatorID:     card.CreatorID,
		Text:          card.Text,
		VoterCount:    card.VoterCount(),
		VotedByViewer: viewerID != "" && card.HasVote(viewerID),
		CreatedAt:     card.CreatedAt,
		UpdatedAt:     card.UpdatedAt,
	}
	if !CanSee(card, viewerID) {
		view.Text = RedactedText
		view.Redacted = true
	}
	return view
}

func viewCards(cards []Card, viewerID string) []CardView {
	views := make([]CardView, 0, len(cards))
	for _, card := range cards {
		views = append(views, ViewCard(card, viewerID))
	}
	return views
}

// ViewParticipants converts roster entries to their public form.
func ViewParticipants(participants []Participant) []ParticipantView {
	views := make([]ParticipantView, 0, len(participants))
	for _, participant := range participants {
		views = append(views, ParticipantView{
			UserID:   participant.UserID,
			Username: participant.Username,
			JoinedAt: participant.JoinedAt,
			Active:   participant.Active,
		})
	}
	return views
}

// View projects the whole retro for viewerID.
func (s *State) View(viewerID string) RetroView {
	view := RetroView{
		ID:           s.ID,
		Name:         s.Name,
		CreatorID:    s.CreatorID,
		CreatedAt:    s.CreatedAt,
		UpdatedAt:    s.UpdatedAt,
		Phase:        s.Phase,
		Version:      s.Version,
		Lanes:        make([]LaneView, 0, len(s.laneOrder)),
		Participants: ViewParticipants(s.ActiveParticipants()),
	}
	for _, laneID := range s.laneOrder {
		lane := s.lanes[laneID]
		laneView := LaneView{
			ID:       lane.ID,
			Title:    lane.Title,
			Priority: lane.Priority,
			Cards:    make([]CardView, 0, len(lane.CardIDs)),
		}
		for _, cardID := range lane.CardIDs {
			laneView.Cards = append(laneView.Cards, ViewCard(*s.cards[cardID], viewerID))
		}
		view.Lanes = append(view.Lanes, laneView)
	}
	return view
}

// Summary returns the list entry for the retro.
func (s *State) Summary() Summary {
	active := 0
	for _, participant := range s.participants {
		if participant.Active {
			active++
		}
	}
	return Summary{
		ID:               s.ID,
		Name:             s.Name,
		CreatorID:        s.CreatorID,
		CreatedAt:        s.CreatedAt,
		UpdatedAt:        s.UpdatedAt,
		Phase:            s.Phase,
		Version:          s.Version,
		ParticipantCount: active,
	}
}

// EventView is an event as delivered to one viewer.
type EventView struct {
	Kind       EventKind `json:"kind"`
	Seq        uint64    `json:"seq"`
	RetroID    string    `json:"retro_id"`
	OccurredAt time.Time `json:"occurred_at"`
	ActorID    string    `json:"actor_id"`
	Payload    any       `json:"payload"`
}

// CardEventView is the payload of card_added and card_edited.
type CardEventView struct {
	LaneID string   `json:"lane_id"`
	Card   CardView `json:"card"`
}

// VoteEventView is the payload of vote_changed.
type VoteEventView struct {
	CardID     string `json:"card_id"`
	LaneID     string `json:"lane_id"`
	VoterCount int    `json:"voter_count"`
}

// StepEventView is the payload of step_updated.
type StepEventView struct {
	Phase    Phase      `json:"phase"`
	Previous Phase      `json:"previous"`
	Revealed []CardView `json:"revealed"`
}

// RosterEventView is the payload of user_list_updated.
type RosterEventView struct {
	Participants []ParticipantView `json:"participants"`
}

// ViewEvent projects evt for viewerID using the same visibility rule as View.
func ViewEvent(evt Event, viewerID string) EventView {
	view := EventView{
		Kind:       evt.Kind(),
		Seq:        evt.Seq,
		RetroID:    evt.RetroID,
		OccurredAt: evt.OccurredAt,
		ActorID:    evt.ActorID,
	}
	switch p := evt.Payload.(type) {
	case CardAdded:
		view.Payload = CardEventView{LaneID: p.LaneID, Card: ViewCard(p.Card, viewerID)}
	case CardEdited:
		view.Payload = CardEventView{LaneID: p.LaneID, Card: ViewCard(p.Card, viewerID)}
	case VoteChanged:
		view.Payload = VoteEventView(p)
	case StepUpdated:
		view.Payload = StepEventView{Phase: p.Phase, Previous: p.Previous, Revealed: viewCards(p.Revealed, viewerID)}
	case UserListUpdated:
		view.Payload = RosterEventView{Participants: ViewParticipants(p.Participants)}
	}
	return view
}
