package domain

// Command is a mutating request against one retro. The set of implementations
// is closed; Decide switches over all of them.
type Command interface {
	// Name is the stable command name used in logs and spans.
	Name() string
	// Actor is the user issuing the command.
	Actor() string
	isCommand()
}

// Join marks a user active, creating the participant on first join. Stream
// joins also count one open event stream.
type Join struct {
	UserID   string
	Username string
	Stream   bool
}

// Leave ends a user's presence. A stream leave closes one event stream and
// only marks the user inactive when it was the last one; any other leave
// marks the user inactive at once.
type Leave struct {
	UserID string
	Stream bool
}

// AddCard appends a card to a lane.
type AddCard struct {
	LaneID    string
	CreatorID string
	Text      string
}

// EditCard replaces the text of a card in place.
type EditCard struct {
	CardID   string
	EditorID string
	Text     string
}

// Vote adds or removes the user's vote on a card.
type Vote struct {
	CardID string
	UserID string
	Add    bool
}

// ChangePhase moves the retro one step. When Target is set it wins over
// Direction.
type ChangePhase struct {
	UserID    string
	Direction int
	Target    Phase
}

func (Join) Name() string        { return "join" }
func (Leave) Name() string       { return "leave" }
func (AddCard) Name() string     { return "add_card" }
func (EditCard) Name() string    { return "edit_card" }
func (Vote) Name() string        { return "vote" }
func (ChangePhase) Name() string { return "change_phase" }

func (c Join) Actor() string        { return c.UserID }
func (c Leave) Actor() string       { return c.UserID }
func (c AddCard) Actor() string     { return c.CreatorID }
func (c EditCard) Actor() string    { return c.EditorID }
func (c Vote) Actor() string        { return c.UserID }
func (c ChangePhase) Actor() string { return c.UserID }

func (Join) isCommand()        {}
func (Leave) isCommand()       {}
func (AddCard) isCommand()     {}
func (EditCard) isCommand()    {}
func (Vote) isCommand()        {}
func (ChangePhase) isCommand() {}
