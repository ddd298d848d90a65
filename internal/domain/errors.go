package domain

import "errors"

var (
	ErrSessionUnavailable  = errors.New("session unavailable")
	ErrDuplicateHost       = errors.New("session already has a host")
	ErrUnknownTarget       = errors.New("unknown target")
	ErrNotAParticipant     = errors.New("not a participant")
	ErrChannelBackpressure = errors.New("channel backpressure")
	ErrConnectionClosed    = errors.New("connection closed")
	ErrNotHost             = errors.New("only the host may do that")

	ErrNameEmpty    = errors.New("name empty")
	ErrNameTooLong  = errors.New("name too long")
	ErrEmailTooLong = errors.New("email too long")
	ErrTextEmpty    = errors.New("text empty")
	ErrTextTooLong  = errors.New("text too long")
)
