package core

import (
	"encoding/json"
	"errors"
	"time"

	"github.com/dkeye/Meet/internal/domain"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// Join transcript defaults, used unless WithJoinTranscript overrides them.
const (
	DefaultJoinChatLimit = 50
	DefaultJoinChatBytes = 64 << 10
)

// ErrSessionClosed is returned by a session that was retired because its
// roster emptied. The caller should look the session id up again.
var ErrSessionClosed = errors.New("session closed")

type member struct {
	meta domain.Participant
	conn SignalConnection
}

// sessionState is owned by the actor goroutine. Nothing outside run() touches it.
type sessionState struct {
	id     domain.SessionID
	clock  Clock
	logger zerolog.Logger

	active bool
	closed bool
	hostID domain.ConnectionID

	order   []domain.ConnectionID
	members map[domain.ConnectionID]*member

	presence   []domain.PresenceLogEntry
	chat       []domain.ChatMessage
	lastChatAt time.Time

	joinChatLimit int
	joinChatBytes int

	res *PublishResult
}

func newSessionState(id domain.SessionID, clock Clock) *sessionState {
	return &sessionState{
		id:      id,
		clock:   clock,
		logger:  log.With().Str("module", "core.session").Str("sid", string(id)).Logger(),
		active:  true,
		members: make(map[domain.ConnectionID]*member),

		joinChatLimit: DefaultJoinChatLimit,
		joinChatBytes: DefaultJoinChatBytes,
	}
}

func (st *sessionState) roster() []domain.Participant {
	out := make([]domain.Participant, 0, len(st.order))
	for _, id := range st.order {
		if m, ok := st.members[id]; ok {
			out = append(out, m.meta)
		}
	}
	return out
}

func (st *sessionState) remove(id domain.ConnectionID) {
	delete(st.members, id)
	for i, cur := range st.order {
		if cur == id {
			st.order = append(st.order[:i], st.order[i+1:]...)
			return
		}
	}
}

func (st *sessionState) encode(v any) (Frame, bool) {
	b, err := json.Marshal(v)
	if err != nil {
		st.logger.Error().Err(err).Msg("encode outbound message")
		return nil, false
	}
	return b, true
}

func (st *sessionState) deliver(id domain.ConnectionID, m *member, f Frame) {
	err := m.conn.TrySend(f)
	switch {
	case err == nil:
		st.res.SendTo++
	case errors.Is(err, domain.ErrChannelBackpressure):
		for _, d := range st.res.Dropped {
			if d.ID == id {
				return
			}
		}
		st.res.Dropped = append(st.res.Dropped, Dropped{ID: id, Conn: m.conn})
	default:
		// Remote side went away concurrently; its disconnect runs leave.
		st.logger.Debug().Err(err).Str("conn", string(id)).Msg("send to closed channel")
	}
}

func (st *sessionState) send(id domain.ConnectionID, v any) {
	m, ok := st.members[id]
	if !ok {
		return
	}
	if f, ok := st.encode(v); ok {
		st.deliver(id, m, f)
	}
}

// broadcast fans v out in join order, skipping exclude.
func (st *sessionState) broadcast(v any, exclude domain.ConnectionID) {
	f, ok := st.encode(v)
	if !ok {
		return
	}
	for _, id := range st.order {
		if id == exclude {
			continue
		}
		if m, ok := st.members[id]; ok {
			st.deliver(id, m, f)
		}
	}
}

func (st *sessionState) info() SessionInfo {
	return SessionInfo{
		ID:           st.id,
		Active:       st.active,
		Host:         st.hostID,
		Participants: st.roster(),
		Presence:     append([]domain.PresenceLogEntry(nil), st.presence...),
		Chat:         append([]domain.ChatMessage(nil), st.chat...),
	}
}
