package i18n

var enUSMessages = map[Code]string{
	"UNKNOWN":                  "Something went wrong.",
	"INVALID_ARGUMENT":         "The request is invalid.",
	"RETRO_NAME_EMPTY":         "Retro name is required.",
	"RETRO_CREATOR_EMPTY":      "Retro creator is required.",
	"RETRO_LANE_TITLE_INVALID": "Lane titles must be non-empty and unique.",
	"USER_ID_EMPTY":            "User id is required.",
	"CARD_TEXT_EMPTY":          "Card text is required.",
	"CARD_TEXT_TOO_LONG":       "Card text must be at most {{.MaxRunes}} characters.",
	"PHASE_INVALID":            "Unknown retro step.",
	"RETRO_NOT_FOUND":          "Retro not found.",
	"LANE_NOT_FOUND":           "Lane not found.",
	"CARD_NOT_FOUND":           "Card not found.",
	"UNAUTHENTICATED":          "Authentication required.",
	"CARD_NOT_OWNED":           "Only the card author can edit this card.",
	"PHASE_CHANGE_FORBIDDEN":   "Only the retro creator can change the step.",
	"PHASE_TRANSITION_INVALID": "The retro can only move one step at a time.",
	"VOTING_CLOSED":            "Votes can only be cast during the Voting step.",
	"SESSION_CLOSED":           "This retro is no longer available.",
	"COMMAND_TIMEOUT":          "The retro is busy. Reload it and try again.",
}
