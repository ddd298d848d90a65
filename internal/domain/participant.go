package domain

import (
	"strings"
	"time"
)

const (
	MaxNameLen  = 64
	MaxEmailLen = 254
)

// Participant is one attached connection's view in a session roster.
type Participant struct {
	ConnectionID ConnectionID `json:"connectionId"`
	Name         string       `json:"name"`
	Email        string       `json:"email,omitempty"`
	IsHost       bool         `json:"isHost"`
	JoinedAt     time.Time    `json:"joinedAt"`
	LeftAt       *time.Time   `json:"leftAt,omitempty"`
}

// Identity is the claim handed in by the auth layer on join. It is trusted as is,
// except for the host flag which the meeting directory confirms.
type Identity struct {
	Name   string `json:"name"`
	Email  string `json:"email"`
	IsHost bool   `json:"isHost"`
}

// Normalize trims the claim and checks its limits.
func (i Identity) Normalize() (Identity, error) {
	i.Name = strings.TrimSpace(i.Name)
	i.Email = strings.TrimSpace(i.Email)
	if i.Name == "" {
		return i, ErrNameEmpty
	}
	if len(i.Name) > MaxNameLen {
		return i, ErrNameTooLong
	}
	if len(i.Email) > MaxEmailLen {
		return i, ErrEmailTooLong
	}
	return i, nil
}

type PresenceEvent string

const (
	PresenceJoined PresenceEvent = "joined"
	PresenceLeft   PresenceEvent = "left"
)

// PresenceLogEntry is immutable once appended.
type PresenceLogEntry struct {
	ConnectionID ConnectionID  `json:"connectionId"`
	Name         string        `json:"name"`
	Event        PresenceEvent `json:"event"`
	Timestamp    time.Time     `json:"timestamp"`
}
