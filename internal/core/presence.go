package core

import (
	"context"
	"fmt"

	"github.com/dkeye/Meet/internal/domain"
	"github.com/dkeye/Meet/internal/protocol"
)

// Join attaches conn under id. The joiner receives meeting-joined; existing
// participants receive user-joined; everyone receives the new roster and a
// joined notification.
func (s *Session) Join(ctx context.Context, id domain.ConnectionID, conn SignalConnection, who domain.Identity) (domain.Participant, PublishResult, error) {
	var (
		p       domain.Participant
		joinErr error
	)
	res, err := s.do(ctx, func(st *sessionState) {
		p, joinErr = st.join(id, conn, who)
	})
	if err != nil {
		return p, res, err
	}
	return p, res, joinErr
}

func (st *sessionState) join(id domain.ConnectionID, conn SignalConnection, who domain.Identity) (domain.Participant, error) {
	if !st.active {
		return domain.Participant{}, domain.ErrSessionUnavailable
	}
	if st.closed {
		return domain.Participant{}, ErrSessionClosed
	}
	if m, ok := st.members[id]; ok {
		return m.meta, nil
	}
	if who.IsHost && st.hostID != "" {
		st.logger.Warn().Str("conn", string(id)).Str("host", string(st.hostID)).Msg("duplicate host rejected")
		return domain.Participant{}, fmt.Errorf("join %s: %w", st.id, domain.ErrDuplicateHost)
	}

	now := st.clock()
	p := domain.Participant{
		ConnectionID: id,
		Name:         who.Name,
		Email:        who.Email,
		IsHost:       who.IsHost,
		JoinedAt:     now,
	}
	st.members[id] = &member{meta: p, conn: conn}
	st.order = append(st.order, id)
	if p.IsHost {
		st.hostID = id
	}
	st.presence = append(st.presence, domain.PresenceLogEntry{
		ConnectionID: id,
		Name:         p.Name,
		Event:        domain.PresenceJoined,
		Timestamp:    now,
	})

	roster := st.roster()
	tail, truncated := st.joinTranscript()
	st.send(id, protocol.NewMeetingJoined(st.id, id, p.IsHost, roster, tail, truncated))
	st.broadcast(protocol.NewUserJoined(id), id)
	st.broadcast(protocol.NewParticipantsUpdate(roster), "")
	st.broadcast(protocol.NewJoinedNotification(p, now), "")

	st.logger.Info().Str("conn", string(id)).Str("name", p.Name).Bool("host", p.IsHost).Int("roster", len(roster)).Msg("participant joined")
	return p, nil
}

// Leave detaches id. Leaving twice is a no-op. When the host leaves the
// session is torn down and the result carries its archive.
func (s *Session) Leave(ctx context.Context, id domain.ConnectionID) (PublishResult, error) {
	return s.do(ctx, func(st *sessionState) { st.leave(id) })
}

func (st *sessionState) leave(id domain.ConnectionID) {
	m, ok := st.members[id]
	if !ok {
		return
	}
	now := st.clock()
	m.meta.LeftAt = &now
	st.remove(id)
	st.presence = append(st.presence, domain.PresenceLogEntry{
		ConnectionID: id,
		Name:         m.meta.Name,
		Event:        domain.PresenceLeft,
		Timestamp:    now,
	})

	st.broadcast(protocol.NewParticipantsUpdate(st.roster()), "")
	st.broadcast(protocol.NewLeftNotification(m.meta, now), "")
	st.logger.Info().Str("conn", string(id)).Str("name", m.meta.Name).Int("roster", len(st.members)).Msg("participant left")

	if id == st.hostID {
		st.hostID = ""
		st.teardown(protocol.ReasonHostLeft)
	}
}

// Teardown ends the session: meeting-ended goes to every participant and
// their channels are closed. Calling it on an ended session is a no-op.
func (s *Session) Teardown(ctx context.Context, reason string) (PublishResult, error) {
	return s.do(ctx, func(st *sessionState) { st.teardown(reason) })
}

// EndByHost tears the session down on behalf of its host.
func (s *Session) EndByHost(ctx context.Context, id domain.ConnectionID) (PublishResult, error) {
	var endErr error
	res, err := s.do(ctx, func(st *sessionState) {
		if _, ok := st.members[id]; !ok {
			endErr = domain.ErrNotAParticipant
			return
		}
		if id != st.hostID {
			endErr = domain.ErrNotHost
			return
		}
		st.teardown(protocol.ReasonEndedByHost)
	})
	if err != nil {
		return res, err
	}
	return res, endErr
}

func (st *sessionState) teardown(reason string) {
	if !st.active {
		return
	}
	st.active = false
	st.closed = true

	st.broadcast(protocol.NewMeetingEnded(reason), "")

	now := st.clock()
	for _, id := range st.order {
		m, ok := st.members[id]
		if !ok {
			continue
		}
		m.meta.LeftAt = &now
		st.presence = append(st.presence, domain.PresenceLogEntry{
			ConnectionID: id,
			Name:         m.meta.Name,
			Event:        domain.PresenceLeft,
			Timestamp:    now,
		})
		m.conn.Close()
	}
	st.members = make(map[domain.ConnectionID]*member)
	st.order = nil
	st.hostID = ""

	st.res.Archive = &domain.Archive{
		SessionID: st.id,
		Reason:    reason,
		EndedAt:   now,
		Presence:  append([]domain.PresenceLogEntry(nil), st.presence...),
		Chat:      append([]domain.ChatMessage(nil), st.chat...),
	}
	st.logger.Info().Str("reason", reason).Int("presence", len(st.presence)).Int("chat", len(st.chat)).Msg("session torn down")
}
