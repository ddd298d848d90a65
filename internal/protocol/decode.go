package protocol

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
)

var ErrInvalidMessage = errors.New("invalid message")

// Decode validates a client frame and returns its concrete variant:
// *JoinMeetingMessage, *SessionMessage, *PingMessage, *SignalMessage or *ChatMessage.
// Frames with unknown types, unknown fields or missing required fields are rejected.
func Decode(data []byte) (any, error) {
	var base BaseMessage
	if err := json.Unmarshal(data, &base); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidMessage, err)
	}

	switch base.Type {
	case MsgTypeJoinMeeting:
		var m JoinMeetingMessage
		if err := strict(data, &m); err != nil {
			return nil, err
		}
		if m.SessionID == "" {
			return nil, fmt.Errorf("%w: sessionId required", ErrInvalidMessage)
		}
		return &m, nil

	case MsgTypeLeaveMeeting, MsgTypeEndMeeting:
		var m SessionMessage
		if err := strict(data, &m); err != nil {
			return nil, err
		}
		return &m, nil

	case MsgTypePing:
		var m PingMessage
		if err := strict(data, &m); err != nil {
			return nil, err
		}
		return &m, nil

	case MsgTypeOffer, MsgTypeAnswer, MsgTypeICECandidate:
		var m SignalMessage
		if err := strict(data, &m); err != nil {
			return nil, err
		}
		if len(m.Envelope("").Payload) == 0 {
			return nil, fmt.Errorf("%w: %s payload required", ErrInvalidMessage, m.Type)
		}
		return &m, nil

	case MsgTypeChatMessage:
		var m ChatMessage
		if err := strict(data, &m); err != nil {
			return nil, err
		}
		return &m, nil

	case "":
		return nil, fmt.Errorf("%w: type required", ErrInvalidMessage)
	default:
		return nil, fmt.Errorf("%w: unknown type %q", ErrInvalidMessage, base.Type)
	}
}

func strict(data []byte, v any) error {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidMessage, err)
	}
	return nil
}

// DecodeEvent parses a server frame on the client side. Unknown types are
// returned as *BaseMessage so callers can skip them.
func DecodeEvent(data []byte) (any, error) {
	var base BaseMessage
	if err := json.Unmarshal(data, &base); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidMessage, err)
	}

	var v any
	switch base.Type {
	case MsgTypeMeetingJoined:
		v = &MeetingJoinedMessage{}
	case MsgTypeUserJoined:
		v = &UserJoinedMessage{}
	case MsgTypeParticipantsUpdate:
		v = &ParticipantsUpdateMessage{}
	case MsgTypeJoinedNotification, MsgTypeLeftNotification:
		v = &NotificationMessage{}
	case MsgTypeMeetingEnded:
		v = &MeetingEndedMessage{}
	case MsgTypeError:
		v = &ErrorMessage{}
	case MsgTypePong:
		v = &PongMessage{}
	case MsgTypeOffer, MsgTypeAnswer, MsgTypeICECandidate:
		v = &SignalMessage{}
	case MsgTypeChatMessage:
		v = &ChatMessage{}
	default:
		return &base, nil
	}
	if err := json.Unmarshal(data, v); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidMessage, err)
	}
	return v, nil
}
