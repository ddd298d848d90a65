package core

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/dkeye/Meet/internal/domain"
	"github.com/dkeye/Meet/internal/protocol"
)

type fakeConn struct {
	mu     sync.Mutex
	frames [][]byte
	closed bool
	full   bool
}

func (c *fakeConn) TrySend(f Frame) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return domain.ErrConnectionClosed
	}
	if c.full {
		return domain.ErrChannelBackpressure
	}
	c.frames = append(c.frames, append([]byte(nil), f...))
	return nil
}

func (c *fakeConn) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
}

func (c *fakeConn) isClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

func (c *fakeConn) events(t *testing.T) []any {
	t.Helper()
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]any, 0, len(c.frames))
	for _, f := range c.frames {
		ev, err := protocol.DecodeEvent(f)
		if err != nil {
			t.Fatalf("DecodeEvent(%s): %v", f, err)
		}
		out = append(out, ev)
	}
	return out
}

func (c *fakeConn) count(t *testing.T, typ string) int {
	t.Helper()
	c.mu.Lock()
	defer c.mu.Unlock()
	n := 0
	for _, f := range c.frames {
		var base protocol.BaseMessage
		if err := json.Unmarshal(f, &base); err != nil {
			t.Fatalf("unmarshal: %v", err)
		}
		if base.Type == typ {
			n++
		}
	}
	return n
}

func (c *fakeConn) reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.frames = nil
}

func lastRoster(t *testing.T, c *fakeConn) []domain.ConnectionID {
	t.Helper()
	var roster []domain.ConnectionID
	found := false
	for _, ev := range c.events(t) {
		if up, ok := ev.(*protocol.ParticipantsUpdateMessage); ok {
			found = true
			roster = roster[:0]
			for _, p := range up.Participants {
				roster = append(roster, p.ConnectionID)
			}
		}
	}
	if !found {
		t.Fatalf("no participants-update received")
	}
	return roster
}

// stepClock advances by one millisecond on every call unless set explicitly.
type stepClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *stepClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(time.Millisecond)
	return c.now
}

func (c *stepClock) Set(t time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = t
}

func newTestSession(t *testing.T) (*Session, *stepClock) {
	t.Helper()
	clock := &stepClock{now: time.Date(2026, 1, 1, 9, 0, 0, 0, time.UTC)}
	s := NewSession(context.Background(), "s1", WithClock(clock.Now))
	t.Cleanup(s.Stop)
	return s, clock
}

func mustJoin(t *testing.T, s *Session, id string, host bool) *fakeConn {
	t.Helper()
	c := &fakeConn{}
	_, _, err := s.Join(context.Background(), domain.ConnectionID(id), c, domain.Identity{Name: "user-" + id, IsHost: host})
	if err != nil {
		t.Fatalf("Join(%s): %v", id, err)
	}
	return c
}

func equalIDs(a, b []domain.ConnectionID) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

func TestSession_RosterMatchesJoinedNotLeftInJoinOrder(t *testing.T) {
	s, _ := newTestSession(t)
	ctx := context.Background()

	// observer never leaves, so it sees every roster broadcast
	observer := mustJoin(t, s, "obs", true)
	expected := []domain.ConnectionID{"obs"}

	steps := []struct {
		join bool
		id   string
	}{
		{true, "a"}, {true, "b"}, {true, "c"}, {false, "b"}, {true, "d"},
		{false, "a"}, {false, "zz"}, {true, "e"}, {false, "d"}, {false, "c"},
	}
	for i, step := range steps {
		id := domain.ConnectionID(step.id)
		if step.join {
			mustJoin(t, s, step.id, false)
			expected = append(expected, id)
		} else {
			if _, err := s.Leave(ctx, id); err != nil {
				t.Fatalf("step %d Leave(%s): %v", i, id, err)
			}
			for j, cur := range expected {
				if cur == id {
					expected = append(expected[:j], expected[j+1:]...)
					break
				}
			}
		}
		if got := lastRoster(t, observer); !equalIDs(got, expected) {
			t.Fatalf("step %d roster=%v, want %v", i, got, expected)
		}
		info, err := s.Info(ctx)
		if err != nil {
			t.Fatalf("Info: %v", err)
		}
		got := make([]domain.ConnectionID, 0, len(info.Participants))
		for _, p := range info.Participants {
			got = append(got, p.ConnectionID)
		}
		if !equalIDs(got, expected) {
			t.Fatalf("step %d info roster=%v, want %v", i, got, expected)
		}
	}
}

func TestSession_LeaveIsIdempotent(t *testing.T) {
	s, _ := newTestSession(t)
	ctx := context.Background()

	mustJoin(t, s, "host", true)
	mustJoin(t, s, "b", false)
	c := mustJoin(t, s, "c", false)
	c.reset()

	for i := 0; i < 2; i++ {
		if _, err := s.Leave(ctx, "b"); err != nil {
			t.Fatalf("Leave #%d: %v", i+1, err)
		}
	}

	if got := c.count(t, protocol.MsgTypeParticipantsUpdate); got != 1 {
		t.Fatalf("participants-update count=%d, want 1", got)
	}
	if got := c.count(t, protocol.MsgTypeLeftNotification); got != 1 {
		t.Fatalf("user-left-notification count=%d, want 1", got)
	}

	info, err := s.Info(ctx)
	if err != nil {
		t.Fatalf("Info: %v", err)
	}
	left := 0
	for _, e := range info.Presence {
		if e.ConnectionID == "b" && e.Event == domain.PresenceLeft {
			left++
		}
	}
	if left != 1 {
		t.Fatalf("left entries=%d, want 1", left)
	}
}

func TestSession_SecondHostRejected(t *testing.T) {
	s, _ := newTestSession(t)
	ctx := context.Background()

	a := mustJoin(t, s, "a", true)
	mustJoin(t, s, "b", false)
	a.reset()

	_, _, err := s.Join(ctx, "x", &fakeConn{}, domain.Identity{Name: "mallory", IsHost: true})
	if !errors.Is(err, domain.ErrDuplicateHost) {
		t.Fatalf("Join err=%v, want %v", err, domain.ErrDuplicateHost)
	}
	if n := len(a.events(t)); n != 0 {
		t.Fatalf("host received %d frames after rejected join, want 0", n)
	}

	info, err := s.Info(ctx)
	if err != nil {
		t.Fatalf("Info: %v", err)
	}
	hosts := 0
	for _, p := range info.Participants {
		if p.IsHost {
			hosts++
		}
	}
	if len(info.Participants) != 2 || hosts != 1 {
		t.Fatalf("roster=%+v, want 2 participants with 1 host", info.Participants)
	}
}

func TestSession_ChatOrderAndMonotonicTimestamps(t *testing.T) {
	s, clock := newTestSession(t)
	ctx := context.Background()

	a := mustJoin(t, s, "a", true)
	b := mustJoin(t, s, "b", false)

	texts := []string{"one", "two", "three", "four"}
	for i, text := range texts {
		if i == 2 {
			// wall clock jumps backwards
			clock.Set(time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC))
		}
		sender := domain.ConnectionID("a")
		if i%2 == 1 {
			sender = "b"
		}
		if _, _, err := s.Post(ctx, sender, text); err != nil {
			t.Fatalf("Post(%q): %v", text, err)
		}
	}

	for _, conn := range []*fakeConn{a, b} {
		var got []string
		var prev time.Time
		for _, ev := range conn.events(t) {
			m, ok := ev.(*protocol.ChatMessage)
			if !ok {
				continue
			}
			got = append(got, m.Message)
			if m.Timestamp == nil {
				t.Fatalf("chat %q without timestamp", m.Message)
			}
			if m.Timestamp.Before(prev) {
				t.Fatalf("timestamp %v before previous %v", m.Timestamp, prev)
			}
			prev = *m.Timestamp
		}
		if fmt.Sprint(got) != fmt.Sprint(texts) {
			t.Fatalf("chat order=%v, want %v", got, texts)
		}
	}
}

func TestSession_PostRejectsNonParticipant(t *testing.T) {
	s, _ := newTestSession(t)
	ctx := context.Background()

	mustJoin(t, s, "a", true)
	mustJoin(t, s, "b", false)
	if _, err := s.Leave(ctx, "b"); err != nil {
		t.Fatalf("Leave: %v", err)
	}

	_, _, err := s.Post(ctx, "b", "late")
	if !errors.Is(err, domain.ErrNotAParticipant) {
		t.Fatalf("Post err=%v, want %v", err, domain.ErrNotAParticipant)
	}
	_, _, err = s.Post(ctx, "a", "   ")
	if !errors.Is(err, domain.ErrTextEmpty) {
		t.Fatalf("Post blank err=%v, want %v", err, domain.ErrTextEmpty)
	}
}

func TestSession_RelayToUnknownTargetDeliversNothing(t *testing.T) {
	s, _ := newTestSession(t)
	ctx := context.Background()

	a := mustJoin(t, s, "a", true)
	b := mustJoin(t, s, "b", false)
	if _, err := s.Leave(ctx, "b"); err != nil {
		t.Fatalf("Leave: %v", err)
	}
	a.reset()
	b.reset()

	for _, typ := range []domain.EnvelopeType{domain.EnvelopeOffer, domain.EnvelopeAnswer, domain.EnvelopeCandidate} {
		res, err := s.Relay(ctx, domain.Envelope{
			Type:    typ,
			Sender:  "a",
			Target:  "b",
			Payload: json.RawMessage(`{"sdp":"x"}`),
		})
		if !errors.Is(err, domain.ErrUnknownTarget) {
			t.Fatalf("Relay %s err=%v, want %v", typ, err, domain.ErrUnknownTarget)
		}
		if res.SendTo != 0 {
			t.Fatalf("Relay %s SendTo=%d, want 0", typ, res.SendTo)
		}
	}
	if n := len(a.events(t)) + len(b.events(t)); n != 0 {
		t.Fatalf("delivered %d frames, want 0", n)
	}
}

func TestSession_RelayTargetedAndAnnounce(t *testing.T) {
	s, _ := newTestSession(t)
	ctx := context.Background()

	a := mustJoin(t, s, "a", true)
	b := mustJoin(t, s, "b", false)
	c := mustJoin(t, s, "c", false)
	a.reset()
	b.reset()
	c.reset()

	payload := json.RawMessage(`{"type":"offer","sdp":"v=0 opaque"}`)
	if _, err := s.Relay(ctx, domain.Envelope{Type: domain.EnvelopeOffer, Sender: "b", Target: "a", Payload: payload}); err != nil {
		t.Fatalf("Relay targeted: %v", err)
	}
	evs := a.events(t)
	if len(evs) != 1 {
		t.Fatalf("target got %d frames, want 1", len(evs))
	}
	sig, ok := evs[0].(*protocol.SignalMessage)
	if !ok || sig.Type != protocol.MsgTypeOffer {
		t.Fatalf("target got %#v, want offer", evs[0])
	}
	if string(sig.Offer) != string(payload) || sig.SenderConnectionID != "b" || sig.SessionID != "s1" {
		t.Fatalf("relayed offer=%+v", sig)
	}
	if len(c.events(t)) != 0 || len(b.events(t)) != 0 {
		t.Fatalf("targeted relay leaked to other participants")
	}

	if _, err := s.Relay(ctx, domain.Envelope{Type: domain.EnvelopeCandidate, Sender: "c", Payload: json.RawMessage(`"cand"`)}); err != nil {
		t.Fatalf("Relay announce: %v", err)
	}
	if a.count(t, protocol.MsgTypeICECandidate) != 1 || b.count(t, protocol.MsgTypeICECandidate) != 1 {
		t.Fatalf("announce not delivered to every other participant")
	}
	if c.count(t, protocol.MsgTypeICECandidate) != 0 {
		t.Fatalf("announce echoed to sender")
	}
}

func TestSession_HostLeaveTearsDown(t *testing.T) {
	s, _ := newTestSession(t)
	ctx := context.Background()

	mustJoin(t, s, "host", true)
	a := mustJoin(t, s, "a", false)
	b := mustJoin(t, s, "b", false)

	res, err := s.Leave(ctx, "host")
	if err != nil {
		t.Fatalf("Leave host: %v", err)
	}
	if res.Archive == nil || res.Archive.Reason != protocol.ReasonHostLeft {
		t.Fatalf("archive=%+v, want reason %q", res.Archive, protocol.ReasonHostLeft)
	}
	for name, c := range map[string]*fakeConn{"a": a, "b": b} {
		if c.count(t, protocol.MsgTypeMeetingEnded) != 1 {
			t.Fatalf("%s did not receive meeting-ended", name)
		}
		if !c.isClosed() {
			t.Fatalf("%s channel still open", name)
		}
	}

	info, err := s.Info(ctx)
	if err != nil {
		t.Fatalf("Info: %v", err)
	}
	if info.Active || len(info.Participants) != 0 {
		t.Fatalf("info=%+v, want inactive and empty", info)
	}
	if got := len(res.Archive.Presence); got != 6 {
		t.Fatalf("archive presence entries=%d, want 6", got)
	}

	_, _, err = s.Join(ctx, "late", &fakeConn{}, domain.Identity{Name: "late"})
	if !errors.Is(err, domain.ErrSessionUnavailable) {
		t.Fatalf("Join after teardown err=%v, want %v", err, domain.ErrSessionUnavailable)
	}
}

func TestSession_HostJoinsThenChatScenario(t *testing.T) {
	s, _ := newTestSession(t)
	ctx := context.Background()

	a := mustJoin(t, s, "A", true)
	b := mustJoin(t, s, "B", false)

	want := []domain.ConnectionID{"A", "B"}
	for name, c := range map[string]*fakeConn{"A": a, "B": b} {
		if got := lastRoster(t, c); !equalIDs(got, want) {
			t.Fatalf("%s roster=%v, want %v", name, got, want)
		}
	}

	if _, _, err := s.Post(ctx, "B", "hi"); err != nil {
		t.Fatalf("Post: %v", err)
	}
	for name, c := range map[string]*fakeConn{"A": a, "B": b} {
		var chats []*protocol.ChatMessage
		for _, ev := range c.events(t) {
			if m, ok := ev.(*protocol.ChatMessage); ok {
				chats = append(chats, m)
			}
		}
		if len(chats) != 1 {
			t.Fatalf("%s got %d chat messages, want 1", name, len(chats))
		}
		if chats[0].SenderConnectionID != "B" || chats[0].Sender != "user-B" || chats[0].Message != "hi" {
			t.Fatalf("%s chat=%+v", name, chats[0])
		}
	}
}

func TestSession_JoinerReceivesWelcomeWithTranscript(t *testing.T) {
	s, _ := newTestSession(t)
	ctx := context.Background()

	mustJoin(t, s, "a", true)
	if _, _, err := s.Post(ctx, "a", "earlier"); err != nil {
		t.Fatalf("Post: %v", err)
	}
	b := mustJoin(t, s, "b", false)

	evs := b.events(t)
	welcome, ok := evs[0].(*protocol.MeetingJoinedMessage)
	if !ok {
		t.Fatalf("first frame=%#v, want meeting-joined", evs[0])
	}
	if welcome.ConnectionID != "b" || welcome.IsHost || len(welcome.Participants) != 2 {
		t.Fatalf("welcome=%+v", welcome)
	}
	if len(welcome.Chat) != 1 || welcome.Chat[0].Message != "earlier" {
		t.Fatalf("welcome chat=%+v", welcome.Chat)
	}
	if b.count(t, protocol.MsgTypeUserJoined) != 0 {
		t.Fatalf("joiner received its own user-joined")
	}
}

func TestSession_JoinTranscriptIsBounded(t *testing.T) {
	ctx := context.Background()
	s := NewSession(ctx, "s1", WithJoinTranscript(3, 1<<20))
	t.Cleanup(s.Stop)

	mustJoin(t, s, "a", true)
	for i := 0; i < 5; i++ {
		if _, _, err := s.Post(ctx, "a", fmt.Sprintf("m%d", i)); err != nil {
			t.Fatalf("Post: %v", err)
		}
	}
	b := mustJoin(t, s, "b", false)
	welcome := b.events(t)[0].(*protocol.MeetingJoinedMessage)
	if !welcome.ChatTruncated || len(welcome.Chat) != 3 || welcome.Chat[0].Message != "m2" || welcome.Chat[2].Message != "m4" {
		t.Fatalf("welcome truncated=%v chat=%+v", welcome.ChatTruncated, welcome.Chat)
	}

	info, err := s.Info(ctx)
	if err != nil {
		t.Fatalf("Info: %v", err)
	}
	if len(info.Chat) != 5 {
		t.Fatalf("transcript=%d, want 5", len(info.Chat))
	}
}

func TestSession_JoinTranscriptFitsByteBudget(t *testing.T) {
	s, _ := newTestSession(t)
	ctx := context.Background()

	mustJoin(t, s, "a", true)
	line := strings.Repeat("<", domain.MaxChatTextLen)
	for i := 0; i < 40; i++ {
		if _, _, err := s.Post(ctx, "a", line); err != nil {
			t.Fatalf("Post: %v", err)
		}
	}
	b := mustJoin(t, s, "b", false)

	b.mu.Lock()
	size := len(b.frames[0])
	b.mu.Unlock()
	if size > DefaultJoinChatBytes+4096 {
		t.Fatalf("meeting-joined frame=%d bytes, budget %d", size, DefaultJoinChatBytes)
	}
	welcome := b.events(t)[0].(*protocol.MeetingJoinedMessage)
	if !welcome.ChatTruncated || len(welcome.Chat) == 0 {
		t.Fatalf("truncated=%v chat=%d", welcome.ChatTruncated, len(welcome.Chat))
	}
}

func TestSession_BackpressureReportsDropped(t *testing.T) {
	s, _ := newTestSession(t)
	ctx := context.Background()

	mustJoin(t, s, "a", true)
	slow := mustJoin(t, s, "slow", false)
	slow.mu.Lock()
	slow.full = true
	slow.mu.Unlock()

	_, res, err := s.Post(ctx, "a", "ping")
	if err != nil {
		t.Fatalf("Post: %v", err)
	}
	if len(res.Dropped) != 1 || res.Dropped[0].ID != "slow" {
		t.Fatalf("dropped=%+v, want [slow]", res.Dropped)
	}
	if res.SendTo != 1 {
		t.Fatalf("SendTo=%d, want 1", res.SendTo)
	}
}

func TestSession_EndByHost(t *testing.T) {
	s, _ := newTestSession(t)
	ctx := context.Background()

	host := mustJoin(t, s, "h", true)
	a := mustJoin(t, s, "a", false)

	if _, err := s.EndByHost(ctx, "a"); !errors.Is(err, domain.ErrNotHost) {
		t.Fatalf("EndByHost(non-host) err=%v, want %v", err, domain.ErrNotHost)
	}
	res, err := s.EndByHost(ctx, "h")
	if err != nil {
		t.Fatalf("EndByHost: %v", err)
	}
	if res.Archive == nil || res.Archive.Reason != protocol.ReasonEndedByHost {
		t.Fatalf("archive=%+v", res.Archive)
	}
	if !host.isClosed() || !a.isClosed() {
		t.Fatalf("channels not closed after end")
	}
}

func TestSession_RetireIfEmpty(t *testing.T) {
	s, _ := newTestSession(t)
	ctx := context.Background()

	mustJoin(t, s, "a", false)
	if ok, err := s.RetireIfEmpty(ctx); err != nil || ok {
		t.Fatalf("RetireIfEmpty with members=%v,%v, want false,nil", ok, err)
	}
	if _, err := s.Leave(ctx, "a"); err != nil {
		t.Fatalf("Leave: %v", err)
	}
	if ok, err := s.RetireIfEmpty(ctx); err != nil || !ok {
		t.Fatalf("RetireIfEmpty=%v,%v, want true,nil", ok, err)
	}
	_, _, err := s.Join(ctx, "b", &fakeConn{}, domain.Identity{Name: "b"})
	if !errors.Is(err, ErrSessionClosed) {
		t.Fatalf("Join on retired session err=%v, want %v", err, ErrSessionClosed)
	}
}

func TestSession_StoppedRejectsCommands(t *testing.T) {
	s := NewSession(context.Background(), "s2")
	s.Stop()
	if _, err := s.Info(context.Background()); !errors.Is(err, ErrSessionClosed) {
		t.Fatalf("Info after Stop err=%v, want %v", err, ErrSessionClosed)
	}
}
