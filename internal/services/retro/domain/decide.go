package domain

import (
	"fmt"
	"slices"
	"strconv"
	"strings"
	"time"
	"unicode/utf8"

	apperrors "github.com/louisbranch/retroboard/internal/platform/errors"
	"github.com/louisbranch/retroboard/internal/platform/id"
)

// Env supplies the rules and sources a decision depends on.
type Env struct {
	Policy Policy
	NewID  id.Generator
	Now    func() time.Time
}

// Decision is an accepted command waiting to be applied. A zero Decision is a
// no-op.
type Decision struct {
	actor     string
	at        time.Time
	mutations []func(*State)
	emits     []func(*State) Payload
}

// Empty reports whether applying d changes nothing.
func (d Decision) Empty() bool {
	return len(d.mutations) == 0 && len(d.emits) == 0
}

func (d *Decision) mutate(fn func(*State)) {
	d.mutations = append(d.mutations, fn)
}

func (d *Decision) emit(fn func(*State) Payload) {
	d.emits = append(d.emits, fn)
}

// Decide validates cmd against state. It never modifies state; on error the
// returned Decision is empty.
func Decide(state *State, cmd Command, env Env) (Decision, error) {
	if state == nil {
		return Decision{}, fmt.Errorf("retro state is required")
	}
	if env.Now == nil {
		env.Now = time.Now
	}
	if env.NewID == nil {
		env.NewID = id.NewID
	}
	if cmd == nil {
		return Decision{}, apperrors.New(apperrors.CodeInvalidArgument, "command is required")
	}
	actor := strings.TrimSpace(cmd.Actor())
	if actor == "" {
		return Decision{}, apperrors.New(apperrors.CodeUserIDEmpty, "user id is required")
	}
	d := Decision{actor: actor, at: env.Now().UTC()}

	var err error
	switch c := cmd.(type) {
	case Join:
		err = decideJoin(state, actor, c, &d)
	case Leave:
		decideLeave(state, actor, c, &d)
	case AddCard:
		err = decideAddCard(state, actor, c, env, &d)
	case EditCard:
		err = decideEditCard(state, actor, c, &d)
	case Vote:
		err = decideVote(state, actor, c, env.Policy, &d)
	case ChangePhase:
		err = decidePhase(state, actor, c, env.Policy, &d)
	default:
		err = apperrors.New(apperrors.CodeInvalidArgument, fmt.Sprintf("unsupported command %T", cmd))
	}
	if err != nil {
		return Decision{}, err
	}
	return d, nil
}

// Apply folds an accepted decision into s and returns the published events
// with their sequence numbers.
func (s *State) Apply(d Decision) []Event {
	for _, mutate := range d.mutations {
		mutate(s)
	}
	if len(d.emits) == 0 {
		return nil
	}
	events := make([]Event, 0, len(d.emits))
	for _, build := range d.emits {
		s.Version++
		events = append(events, Event{
			Seq:        s.Version,
			RetroID:    s.ID,
			OccurredAt: d.at,
			ActorID:    d.actor,
			Payload:    build(s),
		})
	}
	s.UpdatedAt = d.at
	return events
}

func rosterPayload(s *State) Payload {
	return UserListUpdated{Participants: s.ActiveParticipants()}
}

func decideJoin(state *State, userID string, cmd Join, d *Decision) error {
	username := strings.TrimSpace(cmd.Username)
	existing, known := state.participants[userID]
	if username == "" {
		if known {
			username = existing.Username
		} else {
			username = userID
		}
	}
	at, stream := d.at, cmd.Stream

	d.mutate(func(s *State) {
		participant, ok := s.participants[userID]
		if !ok {
			participant = &Participant{UserID: userID, JoinedAt: at}
			s.participants[userID] = participant
			s.joinOrder = append(s.joinOrder, userID)
		}
		participant.Username = username
		participant.Active = true
		if stream {
			participant.Connections++
		}
	})
	if !known || !existing.Active || existing.Username != username {
		d.emit(rosterPayload)
	}
	return nil
}

func decideLeave(state *State, userID string, cmd Leave, d *Decision) {
	existing, known := state.participants[userID]
	if !known || !existing.Active {
		return
	}
	stream := cmd.Stream
	d.mutate(func(s *State) {
		participant := s.participants[userID]
		if stream && participant.Connections > 1 {
			participant.Connections--
			return
		}
		participant.Connections = 0
		participant.Active = false
	})
	if !stream || existing.Connections <= 1 {
		d.emit(rosterPayload)
	}
}

func normalizeCardText(text string) (string, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return "", apperrors.New(apperrors.CodeCardTextEmpty, "card text is required")
	}
	if utf8.RuneCountInString(text) > MaxCardRunes {
		return "", apperrors.WithMetadata(
			apperrors.CodeCardTextTooLong,
			fmt.Sprintf("card text exceeds %d characters", MaxCardRunes),
			map[string]string{"MaxRunes": strconv.Itoa(MaxCardRunes)},
		)
	}
	return text, nil
}

func decideAddCard(state *State, creatorID string, cmd AddCard, env Env, d *Decision) error {
	laneID := strings.TrimSpace(cmd.LaneID)
	if _, ok := state.lanes[laneID]; !ok {
		return apperrors.WithMetadata(apperrors.CodeLaneNotFound, fmt.Sprintf("lane %q not found", laneID), map[string]string{"LaneID": laneID})
	}
	text, err := normalizeCardText(cmd.Text)
	if err != nil {
		return err
	}
	cardID, err := env.NewID()
	if err != nil {
		return fmt.Errorf("generate card id: %w", err)
	}
	if _, dup := state.cards[cardID]; dup {
		return fmt.Errorf("generated card id %s already exists", cardID)
	}

	card := Card{
		ID:        cardID,
		LaneID:    laneID,
		CreatorID: creatorID,
		Text:      text,
		Revealed:  state.Phase != PhaseWriting,
		CreatedAt: d.at,
		UpdatedAt: d.at,
	}
	d.mutate(func(s *State) {
		stored := card.clone()
		s.cards[cardID] = &stored
		lane := s.lanes[laneID]
		lane.CardIDs = append(lane.CardIDs, cardID)
	})
	d.emit(func(*State) Payload {
		return CardAdded{LaneID: laneID, Card: card.clone()}
	})
	return nil
}

func lookupCard(state *State, cardID string) (*Card, error) {
	cardID = strings.TrimSpace(cardID)
	card, ok := state.cards[cardID]
	if !ok {
		return nil, apperrors.WithMetadata(apperrors.CodeCardNotFound, fmt.Sprintf("card %q not found", cardID), map[string]string{"CardID": cardID})
	}
	return card, nil
}

func decideEditCard(state *State, editorID string, cmd EditCard, d *Decision) error {
	card, err := lookupCard(state, cmd.CardID)
	if err != nil {
		return err
	}
	if card.CreatorID != editorID {
		return apperrors.New(apperrors.CodeCardNotOwned, fmt.Sprintf("user %s does not own card %s", editorID, card.ID))
	}
	text, err := normalizeCardText(cmd.Text)
	if err != nil {
		return err
	}
	cardID, at := card.ID, d.at
	d.mutate(func(s *State) {
		stored := s.cards[cardID]
		stored.Text = text
		stored.UpdatedAt = at
	})
	d.emit(func(s *State) Payload {
		stored := s.cards[cardID]
		return CardEdited{LaneID: stored.LaneID, Card: stored.clone()}
	})
	return nil
}

func decideVote(state *State, userID string, cmd Vote, policy Policy, d *Decision) error {
	card, err := lookupCard(state, cmd.CardID)
	if err != nil {
		return err
	}
	if !policy.acceptsVote(state.Phase) {
		return apperrors.New(apperrors.CodeVotingClosed, fmt.Sprintf("votes are not accepted in phase %s", state.Phase))
	}
	if card.HasVote(userID) == cmd.Add {
		return nil
	}
	cardID, add := card.ID, cmd.Add
	d.mutate(func(s *State) {
		stored := s.cards[cardID]
		index, found := slices.BinarySearch(stored.Votes, userID)
		switch {
		case add && !found:
			stored.Votes = slices.Insert(stored.Votes, index, userID)
		case !add && found:
			stored.Votes = slices.Delete(stored.Votes, index, index+1)
		}
	})
	d.emit(func(s *State) Payload {
		stored := s.cards[cardID]
		return VoteChanged{CardID: cardID, LaneID: stored.LaneID, VoterCount: stored.VoterCount()}
	})
	return nil
}

func decidePhase(state *State, userID string, cmd ChangePhase, policy Policy, d *Decision) error {
	if !policy.canChangePhase(userID, state.CreatorID) {
		return apperrors.New(apperrors.CodePhaseChangeForbidden, fmt.Sprintf("user %s may not change the phase", userID))
	}
	var (
		next Phase
		err  error
	)
	if cmd.Target != "" {
		target, parseErr := ParsePhase(string(cmd.Target))
		if parseErr != nil {
			return parseErr
		}
		next, err = state.Phase.TransitionTo(target)
	} else {
		next, err = state.Phase.Step(cmd.Direction)
	}
	if err != nil {
		return err
	}

	previous := state.Phase
	var revealed []string
	if previous == PhaseWriting {
		for _, laneID := range state.laneOrder {
			for _, cardID := range state.lanes[laneID].CardIDs {
				if !state.cards[cardID].Revealed {
					revealed = append(revealed, cardID)
				}
			}
		}
	}
	d.mutate(func(s *State) {
		s.Phase = next
		for _, cardID := range revealed {
			s.cards[cardID].Revealed = true
		}
	})
	d.emit(func(s *State) Payload {
		cards := make([]Card, 0, len(revealed))
		for _, cardID := range revealed {
			cards = append(cards, s.cards[cardID].clone())
		}
		return StepUpdated{Phase: next, Previous: previous, Revealed: cards}
	})
	return nil
}
