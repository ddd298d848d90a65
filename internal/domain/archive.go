package domain

import "time"

// Archive is the final record of a torn down session, handed to the
// meeting metadata layer for durable storage.
type Archive struct {
	SessionID SessionID          `json:"sessionId"`
	Reason    string             `json:"reason"`
	EndedAt   time.Time          `json:"endedAt"`
	Presence  []PresenceLogEntry `json:"presence"`
	Chat      []ChatMessage      `json:"chat"`

	// Interrupted marks sessions cut short by a server shutdown rather than
	// ended by their host. The meeting itself stays joinable.
	Interrupted bool `json:"interrupted,omitempty"`
}
