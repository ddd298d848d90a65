package protocol

import (
	"errors"

	"github.com/dkeye/Meet/internal/domain"
)

// Error codes carried by the error message.
const (
	CodeBadRequest         = "BAD_REQUEST"
	CodeSessionUnavailable = "SESSION_UNAVAILABLE"
	CodeDuplicateHost      = "DUPLICATE_HOST"
	CodeNotAParticipant    = "NOT_A_PARTICIPANT"
	CodeRateLimited        = "RATE_LIMITED"
	CodeForbidden          = "FORBIDDEN"
	CodeInternalError      = "INTERNAL_ERROR"
)

func NewErrorMessage(code, message string) *ErrorMessage {
	return &ErrorMessage{Type: MsgTypeError, Code: code, Message: message}
}

// ErrorFor maps a domain error onto the message surfaced to the client.
func ErrorFor(err error) *ErrorMessage {
	switch {
	case errors.Is(err, domain.ErrSessionUnavailable):
		return NewErrorMessage(CodeSessionUnavailable, "Meeting not found or inactive")
	case errors.Is(err, domain.ErrDuplicateHost):
		return NewErrorMessage(CodeDuplicateHost, "Meeting already has a host")
	case errors.Is(err, domain.ErrNotAParticipant):
		return NewErrorMessage(CodeNotAParticipant, "You are not in this meeting")
	case errors.Is(err, domain.ErrNotHost):
		return NewErrorMessage(CodeForbidden, "Only the host can end the meeting")
	case errors.Is(err, domain.ErrNameEmpty),
		errors.Is(err, domain.ErrNameTooLong),
		errors.Is(err, domain.ErrEmailTooLong),
		errors.Is(err, domain.ErrTextEmpty),
		errors.Is(err, domain.ErrTextTooLong),
		errors.Is(err, ErrInvalidMessage):
		return NewErrorMessage(CodeBadRequest, err.Error())
	default:
		return NewErrorMessage(CodeInternalError, "Internal error")
	}
}
