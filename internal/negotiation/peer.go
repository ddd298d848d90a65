// Package negotiation drives the per-pair offer/answer/candidate exchange on
// the participant side. Media itself never passes through the server.
package negotiation

import (
	"encoding/json"

	"github.com/dkeye/Meet/internal/domain"
)

type TransportState int

const (
	TransportConnected TransportState = iota
	TransportFailed
	TransportClosed
)

func (s TransportState) String() string {
	switch s {
	case TransportConnected:
		return "connected"
	case TransportFailed:
		return "failed"
	default:
		return "closed"
	}
}

// PeerConnection is the media stack of one pair. Descriptions and candidates
// are opaque JSON handed to and from the signaling channel.
// Callbacks must not be invoked synchronously from inside the methods.
type PeerConnection interface {
	CreateOffer() (json.RawMessage, error)
	AcceptOffer(offer json.RawMessage) (json.RawMessage, error)
	AcceptAnswer(answer json.RawMessage) error
	AddCandidate(candidate json.RawMessage) error
	OnCandidate(func(json.RawMessage))
	OnTransportState(func(TransportState))
	Close() error
}

// PeerFactory opens a fresh PeerConnection toward remote.
type PeerFactory func(remote domain.ConnectionID) (PeerConnection, error)

// Signaler carries envelopes to the server.
type Signaler interface {
	SendSignal(env domain.Envelope) error
}

// ShouldInitiate reports whether the local side sends the offer for a pair.
// When exactly one side is host the other side initiates; otherwise the
// lexicographically smaller connection id does.
func ShouldInitiate(local domain.ConnectionID, localHost bool, remote domain.ConnectionID, remoteHost bool) bool {
	if localHost != remoteHost {
		return !localHost
	}
	return local < remote
}
