// Package errors provides the structured error taxonomy shared by the retro
// core and its transports.
package errors

import (
	"net/http"

	"google.golang.org/grpc/codes"
)

// Code is a machine-readable error code.
type Code string

// Kind groups codes into the failure classes callers branch on.
type Kind string

const (
	// KindUnknown is any failure outside the taxonomy.
	KindUnknown Kind = "UNKNOWN"
	// KindValidation is empty or malformed input.
	KindValidation Kind = "VALIDATION"
	// KindNotFound is a missing retro, lane or card.
	KindNotFound Kind = "NOT_FOUND"
	// KindUnauthorized is an action the caller may not perform.
	KindUnauthorized Kind = "UNAUTHORIZED"
	// KindInvalidTransition is an action the current phase does not allow.
	KindInvalidTransition Kind = "INVALID_TRANSITION"
	// KindUnavailable is a session that can no longer accept commands.
	KindUnavailable Kind = "UNAVAILABLE"
	// KindTimeout is a command whose caller stopped waiting before it ran.
	KindTimeout Kind = "TIMEOUT"
)

const (
	// CodeUnknown represents an unknown error.
	CodeUnknown Code = "UNKNOWN"

	// Input validation
	CodeInvalidArgument       Code = "INVALID_ARGUMENT"
	CodeRetroNameEmpty        Code = "RETRO_NAME_EMPTY"
	CodeRetroCreatorEmpty     Code = "RETRO_CREATOR_EMPTY"
	CodeRetroLaneTitleInvalid Code = "RETRO_LANE_TITLE_INVALID"
	CodeUserIDEmpty           Code = "USER_ID_EMPTY"
	CodeCardTextEmpty         Code = "CARD_TEXT_EMPTY"
	CodeCardTextTooLong       Code = "CARD_TEXT_TOO_LONG"
	CodePhaseInvalid          Code = "PHASE_INVALID"

	// Lookups
	CodeRetroNotFound Code = "RETRO_NOT_FOUND"
	CodeLaneNotFound  Code = "LANE_NOT_FOUND"
	CodeCardNotFound  Code = "CARD_NOT_FOUND"

	// Permissions
	CodeUnauthenticated      Code = "UNAUTHENTICATED"
	CodeCardNotOwned         Code = "CARD_NOT_OWNED"
	CodePhaseChangeForbidden Code = "PHASE_CHANGE_FORBIDDEN"

	// Phase rules
	CodePhaseTransitionInvalid Code = "PHASE_TRANSITION_INVALID"
	CodeVotingClosed           Code = "VOTING_CLOSED"

	// Lifecycle
	CodeSessionClosed  Code = "SESSION_CLOSED"
	CodeCommandTimeout Code = "COMMAND_TIMEOUT"
)

// Kind returns the failure class for the code.
func (c Code) Kind() Kind {
	switch c {
	case CodeInvalidArgument,
		CodeRetroNameEmpty,
		CodeRetroCreatorEmpty,
		CodeRetroLaneTitleInvalid,
		CodeUserIDEmpty,
		CodeCardTextEmpty,
		CodeCardTextTooLong,
		CodePhaseInvalid:
		return KindValidation
	case CodeRetroNotFound,
		CodeLaneNotFound,
		CodeCardNotFound:
		return KindNotFound
	case CodeUnauthenticated,
		CodeCardNotOwned,
		CodePhaseChangeForbidden:
		return KindUnauthorized
	case CodePhaseTransitionInvalid,
		CodeVotingClosed:
		return KindInvalidTransition
	case CodeSessionClosed:
		return KindUnavailable
	case CodeCommandTimeout:
		return KindTimeout
	default:
		return KindUnknown
	}
}

// GRPCCode maps domain codes to gRPC status codes.
func (c Code) GRPCCode() codes.Code {
	if c == CodeUnauthenticated {
		return codes.Unauthenticated
	}
	switch c.Kind() {
	case KindValidation:
		return codes.InvalidArgument
	case KindNotFound:
		return codes.NotFound
	case KindUnauthorized:
		return codes.PermissionDenied
	case KindInvalidTransition:
		return codes.FailedPrecondition
	case KindUnavailable:
		return codes.Unavailable
	case KindTimeout:
		return codes.DeadlineExceeded
	default:
		return codes.Internal
	}
}

// HTTPStatus maps domain codes to HTTP status codes.
func (c Code) HTTPStatus() int {
	if c == CodeUnauthenticated {
		return http.StatusUnauthorized
	}
	switch c.Kind() {
	case KindValidation:
		return http.StatusBadRequest
	case KindNotFound:
		return http.StatusNotFound
	case KindUnauthorized:
		return http.StatusForbidden
	case KindInvalidTransition:
		return http.StatusConflict
	case KindUnavailable:
		return http.StatusServiceUnavailable
	case KindTimeout:
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}

// Retryable reports whether a caller may retry the same request unchanged.
// Timeouts are not retryable: the caller should reload state first.
func (c Code) Retryable() bool {
	return c.Kind() == KindUnavailable
}
