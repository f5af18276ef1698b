package domain

import (
	"fmt"
	"slices"
	"strings"
	"time"
)

// SnapshotSchemaVersion identifies the Snapshot JSON layout.
const SnapshotSchemaVersion = 1

// Snapshot is the serializable form of a State used for restart recovery.
// Connection counts are not part of it: every participant restores inactive.
type Snapshot struct {
	SchemaVersion int           `json:"schema_version"`
	ID            string        `json:"id"`
	Name          string        `json:"name"`
	CreatorID     string        `json:"creator_id"`
	CreatedAt     time.Time     `json:"created_at"`
	UpdatedAt     time.Time     `json:"updated_at"`
	Phase         Phase         `json:"phase"`
	Version       uint64        `json:"version"`
	Lanes         []Lane        `json:"lanes"`
	Cards         []Card        `json:"cards"`
	Participants  []Participant `json:"participants"`
}

// Snapshot captures the state. Cards are listed lane by lane in insertion
// order and participants in first-join order.
func (s *State) Snapshot() Snapshot {
	snapshot := Snapshot{
		SchemaVersion: SnapshotSchemaVersion,
		ID:            s.ID,
		Name:          s.Name,
		CreatorID:     s.CreatorID,
		CreatedAt:     s.CreatedAt,
		UpdatedAt:     s.UpdatedAt,
		Phase:         s.Phase,
		Version:       s.Version,
		Lanes:         s.Lanes(),
		Cards:         make([]Card, 0, len(s.cards)),
		Participants:  make([]Participant, 0, len(s.participants)),
	}
	for _, lane := range snapshot.Lanes {
		for _, cardID := range lane.CardIDs {
			snapshot.Cards = append(snapshot.Cards, s.cards[cardID].clone())
		}
	}
	for _, userID := range s.joinOrder {
		participant := *s.participants[userID]
		participant.Connections = 0
		snapshot.Participants = append(snapshot.Participants, participant)
	}
	return snapshot
}

// Restore rebuilds a State from a snapshot after checking its references.
func Restore(snapshot Snapshot) (*State, error) {
	if snapshot.SchemaVersion != SnapshotSchemaVersion {
		return nil, fmt.Errorf("unsupported snapshot schema version %d", snapshot.SchemaVersion)
	}
	if strings.TrimSpace(snapshot.ID) == "" {
		return nil, fmt.Errorf("snapshot id is required")
	}
	if strings.TrimSpace(snapshot.Name) == "" || strings.TrimSpace(snapshot.CreatorID) == "" {
		return nil, fmt.Errorf("snapshot %s: name and creator are required", snapshot.ID)
	}
	if !snapshot.Phase.Valid() {
		return nil, fmt.Errorf("snapshot %s: invalid phase %q", snapshot.ID, snapshot.Phase)
	}
	if len(snapshot.Lanes) == 0 {
		return nil, fmt.Errorf("snapshot %s: at least one lane is required", snapshot.ID)
	}

	state := &State{
		ID:           snapshot.ID,
		Name:         snapshot.Name,
		CreatorID:    snapshot.CreatorID,
		CreatedAt:    snapshot.CreatedAt.UTC(),
		UpdatedAt:    snapshot.UpdatedAt.UTC(),
		Phase:        snapshot.Phase,
		Version:      snapshot.Version,
		lanes:        make(map[string]*Lane, len(snapshot.Lanes)),
		cards:        make(map[string]*Card, len(snapshot.Cards)),
		participants: make(map[string]*Participant, len(snapshot.Participants)),
	}

	lanes := slices.Clone(snapshot.Lanes)
	slices.SortStableFunc(lanes, func(a, b Lane) int { return a.Priority - b.Priority })
	for priority, lane := range lanes {
		if lane.ID == "" {
			return nil, fmt.Errorf("snapshot %s: lane id is required", snapshot.ID)
		}
		if _, dup := state.lanes[lane.ID]; dup {
			return nil, fmt.Errorf("snapshot %s: duplicate lane %s", snapshot.ID, lane.ID)
		}
		state.laneOrder = append(state.laneOrder, lane.ID)
		state.lanes[lane.ID] = &Lane{ID: lane.ID, Title: lane.Title, Priority: priority}
	}

	byID := make(map[string]Card, len(snapshot.Cards))
	for _, card := range snapshot.Cards {
		if card.ID == "" {
			return nil, fmt.Errorf("snapshot %s: card id is required", snapshot.ID)
		}
		if _, dup := byID[card.ID]; dup {
			return nil, fmt.Errorf("snapshot %s: duplicate card %s", snapshot.ID, card.ID)
		}
		if _, ok := state.lanes[card.LaneID]; !ok {
			return nil, fmt.Errorf("snapshot %s: card %s references unknown lane %s", snapshot.ID, card.ID, card.LaneID)
		}
		byID[card.ID] = card
	}
	for _, lane := range lanes {
		for _, cardID := range lane.CardIDs {
			card, ok := byID[cardID]
			if !ok || card.LaneID != lane.ID {
				return nil, fmt.Errorf("snapshot %s: lane %s lists unknown card %s", snapshot.ID, lane.ID, cardID)
			}
			if _, placed := state.cards[cardID]; placed {
				return nil, fmt.Errorf("snapshot %s: card %s listed twice", snapshot.ID, cardID)
			}
			restored := card.clone()
			slices.Sort(restored.Votes)
			restored.Votes = slices.Compact(restored.Votes)
			state.cards[cardID] = &restored
			state.lanes[lane.ID].CardIDs = append(state.lanes[lane.ID].CardIDs, cardID)
		}
	}
	if len(state.cards) != len(byID) {
		return nil, fmt.Errorf("snapshot %s: %d cards are not listed by any lane", snapshot.ID, len(byID)-len(state.cards))
	}

	for _, participant := range snapshot.Participants {
		if participant.UserID == "" {
			return nil, fmt.Errorf("snapshot %s: participant user id is required", snapshot.ID)
		}
		if _, dup := state.participants[participant.UserID]; dup {
			continue
		}
		participant.Active = false
		participant.Connections = 0
		state.joinOrder = append(state.joinOrder, participant.UserID)
		state.participants[participant.UserID] = &participant
	}
	return state, nil
}
