package core

import (
	"time"

	"github.com/dkeye/Meet/internal/domain"
)

// Frame is one encoded outbound message.
type Frame []byte

// SignalConnection abstracts a participant's messaging transport.
// Owned by the adapter; the adapter must Close() it.
// TrySend never blocks: it returns domain.ErrChannelBackpressure when the
// outbound queue is full and domain.ErrConnectionClosed after Close.
type SignalConnection interface {
	TrySend(Frame) error
	Close()
}

// Dropped names a connection whose queue overflowed during an operation.
type Dropped struct {
	ID   domain.ConnectionID
	Conn SignalConnection
}

// PublishResult reports delivery stats and lifecycle changes to the coordinator.
type PublishResult struct {
	SendTo  int
	Dropped []Dropped
	// Archive is set when the operation tore the session down.
	Archive *domain.Archive
}

// SessionInfo is a read-only snapshot for APIs.
type SessionInfo struct {
	ID           domain.SessionID          `json:"sessionId"`
	Active       bool                      `json:"active"`
	Host         domain.ConnectionID       `json:"hostConnectionId,omitempty"`
	Participants []domain.Participant      `json:"participants"`
	Presence     []domain.PresenceLogEntry `json:"presence"`
	Chat         []domain.ChatMessage      `json:"chat"`
}

// Clock returns the current time. Swappable in tests.
type Clock func() time.Time
