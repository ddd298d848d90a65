package signal

import (
	"context"
	"encoding/json"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/dkeye/Meet/internal/app"
	"github.com/dkeye/Meet/internal/meeting"
	"github.com/dkeye/Meet/internal/protocol"
	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
)

func testOptions() Options {
	return Options{
		ReadLimit:    32768,
		PingPeriod:   time.Second,
		PongWait:     2 * time.Second,
		WriteWait:    time.Second,
		SendQueue:    64,
		ChatLimit:    3,
		ChatInterval: time.Minute,
	}
}

func newTestServer(t *testing.T) (*httptest.Server, *app.Coordinator) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	store := meeting.NewMemoryStore(false)
	coord := &app.Coordinator{
		Sessions:  app.NewSessionRegistry(ctx, store),
		Conns:     app.NewConnRegistry(),
		Directory: store,
		Policy:    app.SimplePolicy{},
	}
	ctl := NewSignalWSController(coord, testOptions())

	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.GET("/ws", func(c *gin.Context) { ctl.HandleSignal(ctx, c) })
	srv := httptest.NewServer(r)
	t.Cleanup(func() {
		srv.Close()
		cancel()
	})
	return srv, coord
}

func dial(t *testing.T, srv *httptest.Server) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws"
	ws, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { _ = ws.Close() })
	return ws
}

func send(t *testing.T, ws *websocket.Conn, v any) {
	t.Helper()
	if err := ws.WriteJSON(v); err != nil {
		t.Fatalf("write: %v", err)
	}
}

// expect reads frames until one of type typ arrives.
func expect(t *testing.T, ws *websocket.Conn, typ string) any {
	t.Helper()
	_ = ws.SetReadDeadline(time.Now().Add(3 * time.Second))
	for {
		_, data, err := ws.ReadMessage()
		if err != nil {
			t.Fatalf("waiting for %s: %v", typ, err)
		}
		var base protocol.BaseMessage
		if err := json.Unmarshal(data, &base); err != nil {
			t.Fatalf("unmarshal: %v", err)
		}
		if base.Type != typ {
			continue
		}
		ev, err := protocol.DecodeEvent(data)
		if err != nil {
			t.Fatalf("DecodeEvent: %v", err)
		}
		return ev
	}
}

func join(t *testing.T, ws *websocket.Conn, sid, name string, host bool) *protocol.MeetingJoinedMessage {
	t.Helper()
	send(t, ws, map[string]any{"type": protocol.MsgTypeJoinMeeting, "sessionId": sid, "name": name, "isHost": host})
	return expect(t, ws, protocol.MsgTypeMeetingJoined).(*protocol.MeetingJoinedMessage)
}

func TestGateway_JoinChatAndHostLeave(t *testing.T) {
	srv, _ := newTestServer(t)
	a := dial(t, srv)
	b := dial(t, srv)

	ja := join(t, a, "m1", "Ann", true)
	if !ja.IsHost || len(ja.Participants) != 1 {
		t.Fatalf("host joined=%+v", ja)
	}
	jb := join(t, b, "m1", "Bob", false)
	if len(jb.Participants) != 2 || jb.Participants[0].ConnectionID != ja.ConnectionID {
		t.Fatalf("roster=%+v", jb.Participants)
	}
	if uj := expect(t, a, protocol.MsgTypeUserJoined).(*protocol.UserJoinedMessage); uj.ConnectionID != jb.ConnectionID {
		t.Fatalf("user-joined=%+v", uj)
	}

	send(t, b, map[string]any{"type": protocol.MsgTypeChatMessage, "sessionId": "m1", "message": "hi"})
	for _, ws := range []*websocket.Conn{a, b} {
		msg := expect(t, ws, protocol.MsgTypeChatMessage).(*protocol.ChatMessage)
		if msg.Message != "hi" || msg.Sender != "Bob" || msg.SenderConnectionID != jb.ConnectionID || msg.Timestamp == nil {
			t.Fatalf("chat=%+v", msg)
		}
	}

	send(t, a, map[string]any{"type": protocol.MsgTypeLeaveMeeting, "sessionId": "m1"})
	ended := expect(t, b, protocol.MsgTypeMeetingEnded).(*protocol.MeetingEndedMessage)
	if ended.Reason != protocol.ReasonHostLeft {
		t.Fatalf("reason=%q", ended.Reason)
	}
	_ = b.SetReadDeadline(time.Now().Add(3 * time.Second))
	for {
		if _, _, err := b.ReadMessage(); err != nil {
			break
		}
	}

	c := dial(t, srv)
	send(t, c, map[string]any{"type": protocol.MsgTypeJoinMeeting, "sessionId": "m1", "name": "Cat"})
	e := expect(t, c, protocol.MsgTypeError).(*protocol.ErrorMessage)
	if e.Code != protocol.CodeSessionUnavailable {
		t.Fatalf("code=%q, want %q", e.Code, protocol.CodeSessionUnavailable)
	}
}

func TestGateway_AbruptDisconnect(t *testing.T) {
	srv, coord := newTestServer(t)
	a := dial(t, srv)
	b := dial(t, srv)

	ja := join(t, a, "m1", "Ann", false)
	join(t, b, "m1", "Bob", false)
	// b's own roster update and joined notification follow meeting-joined.
	expect(t, b, protocol.MsgTypeJoinedNotification)

	_ = a.UnderlyingConn().Close()

	roster := expect(t, b, protocol.MsgTypeParticipantsUpdate).(*protocol.ParticipantsUpdateMessage)
	if len(roster.Participants) != 1 || roster.Participants[0].ConnectionID == ja.ConnectionID {
		t.Fatalf("roster=%+v", roster.Participants)
	}
	note := expect(t, b, protocol.MsgTypeLeftNotification).(*protocol.NotificationMessage)
	if note.ConnectionID != ja.ConnectionID {
		t.Fatalf("left=%+v", note)
	}

	deadline := time.Now().Add(2 * time.Second)
	for coord.Conns.Len() != 1 {
		if time.Now().After(deadline) {
			t.Fatalf("conns=%d, want 1", coord.Conns.Len())
		}
		time.Sleep(10 * time.Millisecond)
	}
}

func TestGateway_RelayTargetedOffer(t *testing.T) {
	srv, _ := newTestServer(t)
	a := dial(t, srv)
	b := dial(t, srv)
	ja := join(t, a, "m1", "Ann", true)
	jb := join(t, b, "m1", "Bob", false)

	send(t, b, map[string]any{
		"type":               protocol.MsgTypeOffer,
		"sessionId":          "m1",
		"senderConnectionId": "forged",
		"targetConnectionId": ja.ConnectionID,
		"offer":              map[string]string{"type": "offer", "sdp": "v=0"},
	})
	sig := expect(t, a, protocol.MsgTypeOffer).(*protocol.SignalMessage)
	if sig.SenderConnectionID != jb.ConnectionID {
		t.Fatalf("sender=%q, want %q", sig.SenderConnectionID, jb.ConnectionID)
	}
	if !strings.Contains(string(sig.Offer), "v=0") {
		t.Fatalf("payload altered: %s", sig.Offer)
	}
}

func TestGateway_BadFrames(t *testing.T) {
	srv, _ := newTestServer(t)
	a := dial(t, srv)

	frames := []string{
		`not json`,
		`{"type":"dance"}`,
		`{"type":"join-meeting","name":"Ann"}`,
		`{"type":"join-meeting","sessionId":"m1","name":"Ann","extra":1}`,
	}
	for _, f := range frames {
		if err := a.WriteMessage(websocket.TextMessage, []byte(f)); err != nil {
			t.Fatalf("write: %v", err)
		}
		e := expect(t, a, protocol.MsgTypeError).(*protocol.ErrorMessage)
		if e.Code != protocol.CodeBadRequest {
			t.Fatalf("frame %s: code=%q, want %q", f, e.Code, protocol.CodeBadRequest)
		}
	}

	send(t, a, map[string]any{"type": protocol.MsgTypePing})
	expect(t, a, protocol.MsgTypePong)

	send(t, a, map[string]any{"type": protocol.MsgTypeChatMessage, "sessionId": "m1", "message": "hi"})
	e := expect(t, a, protocol.MsgTypeError).(*protocol.ErrorMessage)
	if e.Code != protocol.CodeNotAParticipant {
		t.Fatalf("code=%q, want %q", e.Code, protocol.CodeNotAParticipant)
	}
}

func TestGateway_ChatRateLimited(t *testing.T) {
	srv, _ := newTestServer(t)
	a := dial(t, srv)
	join(t, a, "m1", "Ann", false)

	for i := 0; i < 3; i++ {
		send(t, a, map[string]any{"type": protocol.MsgTypeChatMessage, "sessionId": "m1", "message": "x"})
		expect(t, a, protocol.MsgTypeChatMessage)
	}
	send(t, a, map[string]any{"type": protocol.MsgTypeChatMessage, "sessionId": "m1", "message": "x"})
	e := expect(t, a, protocol.MsgTypeError).(*protocol.ErrorMessage)
	if e.Code != protocol.CodeRateLimited {
		t.Fatalf("code=%q, want %q", e.Code, protocol.CodeRateLimited)
	}
}
