package domain

import (
	"fmt"
	"slices"
	"strings"
	"time"

	apperrors "github.com/louisbranch/retroboard/internal/platform/errors"
	"github.com/louisbranch/retroboard/internal/platform/id"
)

// MaxCardRunes bounds the length of card text.
const MaxCardRunes = 2000

// DefaultLaneTitles are used when a retro is created without lanes.
var DefaultLaneTitles = []string{"Good", "Bad", "Needs Improvement"}

// Lane is a column of cards. Priority is the 0-based display position.
type Lane struct {
	ID       string   `json:"id"`
	Title    string   `json:"title"`
	Priority int      `json:"priority"`
	CardIDs  []string `json:"card_ids"`
}

// Card is a feedback item. Votes is a sorted set of user ids.
type Card struct {
	ID        string    `json:"id"`
	LaneID    string    `json:"lane_id"`
	CreatorID string    `json:"creator_id"`
	Text      string    `json:"text"`
	Votes     []string  `json:"votes"`
	Revealed  bool      `json:"revealed"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// VoterCount returns the number of distinct voters.
func (c Card) VoterCount() int {
	return len(c.Votes)
}

// HasVote reports whether userID voted for the card.
func (c Card) HasVote(userID string) bool {
	_, found := slices.BinarySearch(c.Votes, userID)
	return found
}

func (c Card) clone() Card {
	c.Votes = slices.Clone(c.Votes)
	return c
}

// Participant is a user's membership record in one retro. Connections counts the user's open event
// streams. Active is set by every join and cleared by an explicit leave or
// when the last stream closes, so a user joined without a stream, such as the
// creator of a new retro, stays active with zero connections until then.
type Participant struct {
	UserID      string    `json:"user_id"`
	Username    string    `json:"username"`
	JoinedAt    time.Time `json:"joined_at"`
	Active      bool      `json:"active"`
	Connections int       `json:"-"`
}

// CreateRetro is the input for a new retro.
type CreateRetro struct {
	Name        string
	CreatorID   string
	CreatorName string
	Lanes       []string
}

// State is the full mutable state of one retro. It is not safe for concurrent
// use; the owning session serializes access.
type State struct {
	ID        string
	Name      string
	CreatorID string
	CreatedAt time.Time
	UpdatedAt time.Time
	Phase     Phase
	// Version is the sequence number of the last event applied.
	Version uint64

	laneOrder    []string
	lanes        map[string]*Lane
	cards        map[string]*Card
	joinOrder    []string
	participants map[string]*Participant
}

// NewState validates input and builds a retro in the Writing phase with the
// creator already joined.
func NewState(input CreateRetro, newID id.Generator, now time.Time) (*State, error) {
	if newID == nil {
		newID = id.NewID
	}
	name := strings.TrimSpace(input.Name)
	if name == "" {
		return nil, apperrors.New(apperrors.CodeRetroNameEmpty, "retro name is required")
	}
	creatorID := strings.TrimSpace(input.CreatorID)
	if creatorID == "" {
		return nil, apperrors.New(apperrors.CodeRetroCreatorEmpty, "retro creator is required")
	}
	titles, err := normalizeLaneTitles(input.Lanes)
	if err != nil {
		return nil, err
	}

	retroID, err := newID()
	if err != nil {
		return nil, fmt.Errorf("generate retro id: %w", err)
	}
	now = now.UTC()
	state := &State{
		ID:           retroID,
		Name:         name,
		CreatorID:    creatorID,
		CreatedAt:    now,
		UpdatedAt:    now,
		Phase:        PhaseWriting,
		lanes:        make(map[string]*Lane, len(titles)),
		cards:        map[string]*Card{},
		participants: map[string]*Participant{},
	}
	for priority, title := range titles {
		laneID, err := newID()
		if err != nil {
			return nil, fmt.Errorf("generate lane id: %w", err)
		}
		state.laneOrder = append(state.laneOrder, laneID)
		state.lanes[laneID] = &Lane{ID: laneID, Title: title, Priority: priority}
	}

	creatorName := strings.TrimSpace(input.CreatorName)
	if creatorName == "" {
		creatorName = creatorID
	}
	state.joinOrder = []string{creatorID}
	state.participants[creatorID] = &Participant{
		UserID:   creatorID,
		Username: creatorName,
		JoinedAt: now,
		Active:   true,
	}
	return state, nil
}

func normalizeLaneTitles(titles []string) ([]string, error) {
	if len(titles) == 0 {
		return slices.Clone(DefaultLaneTitles), nil
	}
	seen := make(map[string]struct{}, len(titles))
	normalized := make([]string, 0, len(titles))
	for _, title := range titles {
		title = strings.TrimSpace(title)
		key := strings.ToLower(title)
		if title == "" {
			return nil, apperrors.New(apperrors.CodeRetroLaneTitleInvalid, "lane title is required")
		}
		if _, dup := seen[key]; dup {
			return nil, apperrors.WithMetadata(
				apperrors.CodeRetroLaneTitleInvalid,
				fmt.Sprintf("duplicate lane title %q", title),
				map[string]string{"Title": title},
			)
		}
		seen[key] = struct{}{}
		normalized = append(normalized, title)
	}
	return normalized, nil
}

// Lanes returns the lanes in display order.
func (s *State) Lanes() []Lane {
	lanes := make([]Lane, 0, len(s.laneOrder))
	for _, laneID := range s.laneOrder {
		lane := *s.lanes[laneID]
		lane.CardIDs = slices.Clone(lane.CardIDs)
		lanes = append(lanes, lane)
	}
	return lanes
}

// Card returns a copy of the card with the given id.
func (s *State) Card(cardID string) (Card, bool) {
	card, ok := s.cards[cardID]
	if !ok {
		return Card{}, false
	}
	return card.clone(), true
}

// Participant returns a copy of the participant record for userID.
func (s *State) Participant(userID string) (Participant, bool) {
	participant, ok := s.participants[userID]
	if !ok {
		return Participant{}, false
	}
	return *participant, true
}

// ActiveParticipants returns the active roster in first-join order.
func (s *State) ActiveParticipants() []Participant {
	roster := make([]Participant, 0, len(s.joinOrder))
	for _, userID := range s.joinOrder {
		if participant := s.participants[userID]; participant.Active {
			roster = append(roster, *participant)
		}
	}
	return roster
}

// Clone returns a deep copy that shares nothing with s.
func (s *State) Clone() *State {
	clone := *s
	clone.laneOrder = slices.Clone(s.laneOrder)
	clone.joinOrder = slices.Clone(s.joinOrder)
	clone.lanes = make(map[string]*Lane, len(s.lanes))
	for key, lane := range s.lanes {
		copied := *lane
		copied.CardIDs = slices.Clone(lane.CardIDs)
		clone.lanes[key] = &copied
	}
	clone.cards = make(map[string]*Card, len(s.cards))
	for key, card := range s.cards {
		copied := card.clone()
		clone.cards[key] = &copied
	}
	clone.participants = make(map[string]*Participant, len(s.participants))
	for key, participant := range s.participants {
		copied := *participant
		clone.participants[key] = &copied
	}
	return &clone
}
