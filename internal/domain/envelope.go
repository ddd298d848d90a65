package domain

import "encoding/json"

type EnvelopeType string

const (
	EnvelopeOffer     EnvelopeType = "offer"
	EnvelopeAnswer    EnvelopeType = "answer"
	EnvelopeCandidate EnvelopeType = "candidate"
)

// Envelope carries one negotiation message between two participants.
// An empty Target announces the sender to every other participant.
// Payload is opaque and forwarded untouched. Attempt numbers the offer an
// answer or candidate belongs to; the answerer echoes it back.
type Envelope struct {
	Type      EnvelopeType
	SessionID SessionID
	Sender    ConnectionID
	Target    ConnectionID
	Attempt   uint32
	Payload   json.RawMessage
}

func (e Envelope) IsAnnounce() bool { return e.Target == "" }
