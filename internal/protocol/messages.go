// Package protocol defines the JSON messages exchanged over a participant's
// duplex channel. Every frame carries a "type" discriminator.
package protocol

import (
	"encoding/json"
	"time"

	"github.com/dkeye/Meet/internal/domain"
)

// MaxFrameSize bounds any frame the server writes. Clients set their read
// limit to it; the join transcript budget is validated against it.
const MaxFrameSize = 1 << 20

// Client -> server message types.
const (
	MsgTypeJoinMeeting  = "join-meeting"
	MsgTypeLeaveMeeting = "leave-meeting"
	MsgTypeEndMeeting   = "end-meeting"
	MsgTypePing         = "ping"
)

// Server -> client message types.
const (
	MsgTypeMeetingJoined      = "meeting-joined"
	MsgTypeUserJoined         = "user-joined"
	MsgTypeParticipantsUpdate = "participants-update"
	MsgTypeJoinedNotification = "user-joined-notification"
	MsgTypeLeftNotification   = "user-left-notification"
	MsgTypeMeetingEnded       = "meeting-ended"
	MsgTypeError              = "error"
	MsgTypePong               = "pong"
)

// Bidirectional message types.
const (
	MsgTypeOffer        = "offer"
	MsgTypeAnswer       = "answer"
	MsgTypeICECandidate = "ice-candidate"
	MsgTypeChatMessage  = "chat-message"
)

// BaseMessage is the part of every frame read before the variant is known.
type BaseMessage struct {
	Type string `json:"type"`
}

// Client -> server

type JoinMeetingMessage struct {
	Type      string           `json:"type"`
	SessionID domain.SessionID `json:"sessionId"`
	Name      string           `json:"name"`
	Email     string           `json:"email"`
	IsHost    bool             `json:"isHost"`
}

func (m JoinMeetingMessage) Identity() domain.Identity {
	return domain.Identity{Name: m.Name, Email: m.Email, IsHost: m.IsHost}
}

// SessionMessage covers leave-meeting and end-meeting.
type SessionMessage struct {
	Type      string           `json:"type"`
	SessionID domain.SessionID `json:"sessionId"`
}

type PingMessage struct {
	Type string `json:"type"`
}

// SignalMessage is an offer, answer or ice-candidate. Exactly one of the payload
// fields is set, matching Type.
type SignalMessage struct {
	Type               string              `json:"type"`
	SessionID          domain.SessionID    `json:"sessionId"`
	SenderConnectionID domain.ConnectionID `json:"senderConnectionId,omitempty"`
	TargetConnectionID domain.ConnectionID `json:"targetConnectionId,omitempty"`
	Attempt            uint32              `json:"attempt,omitempty"`
	Offer              json.RawMessage     `json:"offer,omitempty"`
	Answer             json.RawMessage     `json:"answer,omitempty"`
	Candidate          json.RawMessage     `json:"candidate,omitempty"`
}

// ChatMessage is sent by clients with their own timestamp and rebroadcast by
// the server with the authoritative one.
type ChatMessage struct {
	Type               string              `json:"type"`
	SessionID          domain.SessionID    `json:"sessionId"`
	Sender             string              `json:"sender,omitempty"`
	SenderConnectionID domain.ConnectionID `json:"senderConnectionId,omitempty"`
	Message            string              `json:"message"`
	Timestamp          *time.Time          `json:"timestamp,omitempty"`
}

// Server -> client

type MeetingJoinedMessage struct {
	Type          string               `json:"type"`
	SessionID     domain.SessionID     `json:"sessionId"`
	ConnectionID  domain.ConnectionID  `json:"connectionId"`
	IsHost        bool                 `json:"isHost"`
	Participants  []domain.Participant `json:"participants"`
	Chat          []ChatMessage        `json:"chat"`
	// ChatTruncated is set when older messages were left out; the full
	// transcript is served by GET /api/sessions/:id/history.
	ChatTruncated bool                 `json:"chatTruncated,omitempty"`
}

type UserJoinedMessage struct {
	Type         string              `json:"type"`
	ConnectionID domain.ConnectionID `json:"connectionId"`
}

type ParticipantsUpdateMessage struct {
	Type         string               `json:"type"`
	Participants []domain.Participant `json:"participants"`
}

// NotificationMessage is the human readable presence feed entry.
type NotificationMessage struct {
	Type         string              `json:"type"`
	ConnectionID domain.ConnectionID `json:"connectionId"`
	Message      string              `json:"message"`
	Timestamp    time.Time           `json:"timestamp"`
}

type MeetingEndedMessage struct {
	Type    string `json:"type"`
	Message string `json:"message"`
	Reason  string `json:"reason"`
}

type ErrorMessage struct {
	Type    string `json:"type"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

type PongMessage struct {
	Type string `json:"type"`
}

// Teardown reasons carried by meeting-ended.
const (
	ReasonHostLeft    = "host-left"
	ReasonEndedByHost = "ended-by-host"
	ReasonShutdown    = "server-shutdown"
)

// NewMeetingJoined renders the joiner's welcome. chat is the tail of the
// transcript the caller chose to include.
func NewMeetingJoined(sid domain.SessionID, self domain.ConnectionID, isHost bool, roster []domain.Participant, chat []domain.ChatMessage, truncated bool) *MeetingJoinedMessage {
	out := make([]ChatMessage, 0, len(chat))
	for _, m := range chat {
		out = append(out, *NewChatBroadcast(m))
	}
	return &MeetingJoinedMessage{
		Type:          MsgTypeMeetingJoined,
		SessionID:     sid,
		ConnectionID:  self,
		IsHost:        isHost,
		Participants:  roster,
		Chat:          out,
		ChatTruncated: truncated,
	}
}

func NewUserJoined(id domain.ConnectionID) *UserJoinedMessage {
	return &UserJoinedMessage{Type: MsgTypeUserJoined, ConnectionID: id}
}

func NewParticipantsUpdate(roster []domain.Participant) *ParticipantsUpdateMessage {
	return &ParticipantsUpdateMessage{Type: MsgTypeParticipantsUpdate, Participants: roster}
}

func NewJoinedNotification(p domain.Participant, at time.Time) *NotificationMessage {
	return &NotificationMessage{
		Type:         MsgTypeJoinedNotification,
		ConnectionID: p.ConnectionID,
		Message:      p.Name + " joined the meeting",
		Timestamp:    at,
	}
}

func NewLeftNotification(p domain.Participant, at time.Time) *NotificationMessage {
	return &NotificationMessage{
		Type:         MsgTypeLeftNotification,
		ConnectionID: p.ConnectionID,
		Message:      p.Name + " left the meeting",
		Timestamp:    at,
	}
}

func NewMeetingEnded(reason string) *MeetingEndedMessage {
	msg := "The meeting has ended"
	switch reason {
	case ReasonHostLeft:
		msg = "The host left, the meeting has ended"
	case ReasonEndedByHost:
		msg = "The host ended the meeting"
	case ReasonShutdown:
		msg = "The server is shutting down"
	}
	return &MeetingEndedMessage{Type: MsgTypeMeetingEnded, Message: msg, Reason: reason}
}

func NewChatBroadcast(m domain.ChatMessage) *ChatMessage {
	ts := m.Timestamp
	return &ChatMessage{
		Type:               MsgTypeChatMessage,
		SessionID:          m.SessionID,
		Sender:             m.SenderName,
		SenderConnectionID: m.SenderConnectionID,
		Message:            m.Text,
		Timestamp:          &ts,
	}
}

// NewSignal renders a relayed envelope. The payload lands in the field named
// after the envelope type.
func NewSignal(env domain.Envelope) *SignalMessage {
	msg := &SignalMessage{
		SessionID:          env.SessionID,
		SenderConnectionID: env.Sender,
		TargetConnectionID: env.Target,
		Attempt:            env.Attempt,
	}
	switch env.Type {
	case domain.EnvelopeOffer:
		msg.Type = MsgTypeOffer
		msg.Offer = env.Payload
	case domain.EnvelopeAnswer:
		msg.Type = MsgTypeAnswer
		msg.Answer = env.Payload
	case domain.EnvelopeCandidate:
		msg.Type = MsgTypeICECandidate
		msg.Candidate = env.Payload
	}
	return msg
}

// Envelope converts an inbound signal into a domain envelope. The sender is
// filled in by the caller from the gateway-assigned connection id.
func (m *SignalMessage) Envelope(sender domain.ConnectionID) domain.Envelope {
	env := domain.Envelope{
		SessionID: m.SessionID,
		Sender:    sender,
		Target:    m.TargetConnectionID,
		Attempt:   m.Attempt,
	}
	switch m.Type {
	case MsgTypeOffer:
		env.Type, env.Payload = domain.EnvelopeOffer, m.Offer
	case MsgTypeAnswer:
		env.Type, env.Payload = domain.EnvelopeAnswer, m.Answer
	case MsgTypeICECandidate:
		env.Type, env.Payload = domain.EnvelopeCandidate, m.Candidate
	}
	return env
}

func NewPong() *PongMessage { return &PongMessage{Type: MsgTypePong} }
