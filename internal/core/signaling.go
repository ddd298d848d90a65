package core

import (
	"context"
	"fmt"

	"github.com/dkeye/Meet/internal/domain"
	"github.com/dkeye/Meet/internal/protocol"
)

// Relay forwards a negotiation envelope. Announcements (no target) go to every
// other participant; targeted envelopes go only to the target, or fail with
// domain.ErrUnknownTarget. Payloads pass through untouched.
func (s *Session) Relay(ctx context.Context, env domain.Envelope) (PublishResult, error) {
	var relayErr error
	res, err := s.do(ctx, func(st *sessionState) { relayErr = st.relay(env) })
	if err != nil {
		return res, err
	}
	return res, relayErr
}

func (st *sessionState) relay(env domain.Envelope) error {
	if _, ok := st.members[env.Sender]; !ok {
		return fmt.Errorf("relay %s from %s: %w", env.Type, env.Sender, domain.ErrNotAParticipant)
	}
	env.SessionID = st.id
	msg := protocol.NewSignal(env)

	if env.IsAnnounce() {
		st.broadcast(msg, env.Sender)
		return nil
	}
	if _, ok := st.members[env.Target]; !ok {
		return fmt.Errorf("relay %s to %s: %w", env.Type, env.Target, domain.ErrUnknownTarget)
	}
	st.send(env.Target, msg)
	return nil
}
