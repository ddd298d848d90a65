package protocol

import (
	"encoding/json"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/dkeye/Meet/internal/domain"
)

func TestDecode_Variants(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{"join", `{"type":"join-meeting","sessionId":"m1","name":"Ada","email":"a@x.io","isHost":true}`, "*protocol.JoinMeetingMessage"},
		{"leave", `{"type":"leave-meeting","sessionId":"m1"}`, "*protocol.SessionMessage"},
		{"end", `{"type":"end-meeting","sessionId":"m1"}`, "*protocol.SessionMessage"},
		{"ping", `{"type":"ping"}`, "*protocol.PingMessage"},
		{"offer", `{"type":"offer","sessionId":"m1","targetConnectionId":"c2","offer":{"sdp":"v=0"}}`, "*protocol.SignalMessage"},
		{"candidate", `{"type":"ice-candidate","sessionId":"m1","candidate":{"candidate":"x"}}`, "*protocol.SignalMessage"},
		{"chat", `{"type":"chat-message","sessionId":"m1","message":"hi","timestamp":"2024-01-01T00:00:00Z"}`, "*protocol.ChatMessage"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			v, err := Decode([]byte(tt.in))
			if err != nil {
				t.Fatalf("Decode: %v", err)
			}
			if got := fmt.Sprintf("%T", v); got != tt.want {
				t.Fatalf("got %s want %s", got, tt.want)
			}
		})
	}
}

func TestDecode_Rejects(t *testing.T) {
	tests := []struct {
		name string
		in   string
	}{
		{"not json", `hello`},
		{"no type", `{"sessionId":"m1"}`},
		{"unknown type", `{"type":"dance"}`},
		{"unknown field", `{"type":"ping","extra":1}`},
		{"join without session", `{"type":"join-meeting","name":"Ada"}`},
		{"offer without payload", `{"type":"offer","sessionId":"m1"}`},
		{"answer with offer field", `{"type":"answer","sessionId":"m1","offer":{"sdp":"v=0"}}`},
		{"wrong field type", `{"type":"join-meeting","sessionId":"m1","isHost":"yes"}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Decode([]byte(tt.in))
			if !errors.Is(err, ErrInvalidMessage) {
				t.Fatalf("err=%v, want ErrInvalidMessage", err)
			}
			if ErrorFor(err).Code != CodeBadRequest {
				t.Fatalf("code=%s", ErrorFor(err).Code)
			}
		})
	}
}

func TestDecodeEvent_UnknownTypeIsSkippable(t *testing.T) {
	v, err := DecodeEvent([]byte(`{"type":"server-news","x":1}`))
	if err != nil {
		t.Fatalf("DecodeEvent: %v", err)
	}
	base, ok := v.(*BaseMessage)
	if !ok || base.Type != "server-news" {
		t.Fatalf("got %#v", v)
	}
}

func TestSignal_PayloadFollowsType(t *testing.T) {
	env := domain.Envelope{
		SessionID: "m1",
		Type:      domain.EnvelopeAnswer,
		Sender:    "c1",
		Target:    "c2",
		Attempt:   3,
		Payload:   json.RawMessage(`{"sdp":"v=0"}`),
	}
	msg := NewSignal(env)
	if msg.Type != MsgTypeAnswer || msg.Offer != nil || string(msg.Answer) != `{"sdp":"v=0"}` {
		t.Fatalf("msg=%+v", msg)
	}

	data, err := json.Marshal(msg)
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}
	v, err := DecodeEvent(data)
	if err != nil {
		t.Fatalf("DecodeEvent: %v", err)
	}
	// The receiving side trusts the relayed sender, not whoever it claims to be.
	got := v.(*SignalMessage).Envelope("c9")
	if got.Sender != "c9" || got.Target != "c2" || got.Type != domain.EnvelopeAnswer || got.Attempt != 3 || string(got.Payload) != `{"sdp":"v=0"}` {
		t.Fatalf("envelope=%+v", got)
	}
}

func TestErrorFor(t *testing.T) {
	tests := []struct {
		err  error
		code string
	}{
		{domain.ErrSessionUnavailable, CodeSessionUnavailable},
		{fmt.Errorf("join: %w", domain.ErrDuplicateHost), CodeDuplicateHost},
		{domain.ErrNotAParticipant, CodeNotAParticipant},
		{domain.ErrNotHost, CodeForbidden},
		{domain.ErrNameEmpty, CodeBadRequest},
		{domain.ErrTextTooLong, CodeBadRequest},
		{errors.New("boom"), CodeInternalError},
	}
	for _, tt := range tests {
		if got := ErrorFor(tt.err); got.Code != tt.code || got.Type != MsgTypeError {
			t.Fatalf("ErrorFor(%v)=%+v, want %s", tt.err, got, tt.code)
		}
	}
}

func TestNewMeetingJoined_CarriesChatHistory(t *testing.T) {
	at := time.Date(2024, 1, 1, 9, 0, 0, 0, time.UTC)
	msg := NewMeetingJoined("m1", "c2", false,
		[]domain.Participant{{ConnectionID: "c1", Name: "Ada", IsHost: true}},
		[]domain.ChatMessage{{SessionID: "m1", SenderConnectionID: "c1", SenderName: "Ada", Text: "hi", Timestamp: at}},
		false,
	)
	if len(msg.Chat) != 1 || msg.Chat[0].Sender != "Ada" || !msg.Chat[0].Timestamp.Equal(at) {
		t.Fatalf("chat=%+v", msg.Chat)
	}
	if msg.Chat[0].Type != MsgTypeChatMessage {
		t.Fatalf("chat entry type=%q", msg.Chat[0].Type)
	}
}
