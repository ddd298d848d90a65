// Package domain contains entities without logic, just meta-data
package domain

import "github.com/google/uuid"

type (
	SessionID    string
	ConnectionID string
)

// NewConnectionID returns a fresh identifier. Identifiers are never reused.
func NewConnectionID() ConnectionID {
	return ConnectionID(uuid.NewString())
}
