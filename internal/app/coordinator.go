package app

import (
	"context"
	"errors"
	"fmt"

	"github.com/dkeye/Meet/internal/core"
	"github.com/dkeye/Meet/internal/domain"
	"github.com/dkeye/Meet/internal/meeting"
	"github.com/rs/zerolog/log"
)

// joinAttempts bounds retries against sessions retired mid-join.
const joinAttempts = 3

// Coordinator routes gateway calls to session actors and acts on what they
// report back: overflowing queues, teardowns and empty rosters.
type Coordinator struct {
	Sessions  *SessionRegistry
	Conns     *ConnRegistry
	Directory meeting.Directory
	Policy    Policy
}

// Connect registers a freshly opened channel.
func (c *Coordinator) Connect(id domain.ConnectionID, conn core.SignalConnection, cancel context.CancelFunc) {
	c.Conns.Register(id, conn, cancel)
}

// Join validates the claim against the meeting directory and attaches the
// connection to the session. A connection already in another session leaves
// it first.
func (c *Coordinator) Join(ctx context.Context, id domain.ConnectionID, sid domain.SessionID, who domain.Identity) (domain.Participant, error) {
	conn, ok := c.Conns.Conn(id)
	if !ok {
		return domain.Participant{}, domain.ErrConnectionClosed
	}
	if cur, ok := c.Conns.SessionOf(id); ok && cur != sid {
		if err := c.Leave(ctx, id); err != nil {
			return domain.Participant{}, err
		}
	}

	who, err := who.Normalize()
	if err != nil {
		return domain.Participant{}, err
	}
	if err := c.admit(ctx, sid, &who); err != nil {
		return domain.Participant{}, err
	}

	for attempt := 0; attempt < joinAttempts; attempt++ {
		sess, err := c.Sessions.GetOrCreate(sid)
		if err != nil {
			return domain.Participant{}, err
		}
		p, res, err := sess.Join(ctx, id, conn, who)
		if errors.Is(err, core.ErrSessionClosed) {
			continue
		}
		if err == nil {
			c.Conns.Attach(id, sid)
		}
		c.apply(ctx, sess, res)
		if err != nil {
			return domain.Participant{}, err
		}
		return p, nil
	}
	return domain.Participant{}, fmt.Errorf("join %s: %w", sid, domain.ErrSessionUnavailable)
}

// admit consults the directory. A host claim the directory does not confirm
// is downgraded to a regular participant.
func (c *Coordinator) admit(ctx context.Context, sid domain.SessionID, who *domain.Identity) error {
	if c.Sessions.Ended(sid) {
		return domain.ErrSessionUnavailable
	}
	if c.Directory == nil {
		return nil
	}
	m, err := c.Directory.Lookup(ctx, sid)
	if err != nil {
		return fmt.Errorf("lookup %s: %w", sid, err)
	}
	if !m.Exists || !m.Active {
		return domain.ErrSessionUnavailable
	}
	if !who.IsHost {
		return nil
	}
	ok, err := c.Directory.IsHostIdentity(ctx, sid, *who)
	if err != nil {
		return fmt.Errorf("host check %s: %w", sid, err)
	}
	if !ok {
		log.Warn().Str("module", "app.coordinator").Str("sid", string(sid)).Str("email", who.Email).Msg("host claim not confirmed, joining as participant")
		who.IsHost = false
	}
	return nil
}

// Leave detaches the connection from its session. It is a no-op when the
// connection is not in one.
func (c *Coordinator) Leave(ctx context.Context, id domain.ConnectionID) error {
	sid, ok := c.Conns.Detach(id)
	if !ok {
		return nil
	}
	sess, ok := c.Sessions.Get(sid)
	if !ok {
		return nil
	}
	res, err := sess.Leave(ctx, id)
	if errors.Is(err, core.ErrSessionClosed) {
		return nil
	}
	if err != nil {
		return err
	}
	c.apply(ctx, sess, res)
	if res.Archive == nil {
		c.Sessions.RemoveIfEmpty(ctx, sess)
	}
	return nil
}

// Disconnect is the cleanup path for a closed channel.
func (c *Coordinator) Disconnect(ctx context.Context, id domain.ConnectionID) {
	if err := c.Leave(ctx, id); err != nil {
		log.Warn().Err(err).Str("module", "app.coordinator").Str("conn", string(id)).Msg("leave on disconnect failed")
	}
	c.Conns.Unregister(id)
}

// Relay forwards a negotiation envelope from id. Undeliverable envelopes are
// logged and dropped without telling the sender.
func (c *Coordinator) Relay(ctx context.Context, id domain.ConnectionID, env domain.Envelope) error {
	sid, ok := c.Conns.SessionOf(id)
	if !ok {
		log.Warn().Str("module", "app.coordinator").Str("conn", string(id)).Str("type", string(env.Type)).Msg("relay from detached connection dropped")
		return nil
	}
	sess, ok := c.Sessions.Get(sid)
	if !ok {
		return nil
	}
	env.Sender = id
	env.SessionID = sid

	res, err := sess.Relay(ctx, env)
	c.apply(ctx, sess, res)
	switch {
	case err == nil, errors.Is(err, core.ErrSessionClosed):
		return nil
	case errors.Is(err, domain.ErrUnknownTarget), errors.Is(err, domain.ErrNotAParticipant):
		log.Warn().Err(err).Str("module", "app.coordinator").Str("sid", string(sid)).Msg("envelope dropped")
		return nil
	default:
		return err
	}
}

// Chat posts text on behalf of id.
func (c *Coordinator) Chat(ctx context.Context, id domain.ConnectionID, text string) error {
	sid, ok := c.Conns.SessionOf(id)
	if !ok {
		return domain.ErrNotAParticipant
	}
	sess, ok := c.Sessions.Get(sid)
	if !ok {
		return domain.ErrNotAParticipant
	}
	_, res, err := sess.Post(ctx, id, text)
	c.apply(ctx, sess, res)
	if errors.Is(err, core.ErrSessionClosed) {
		return domain.ErrNotAParticipant
	}
	return err
}

// End tears the session down on the host's request.
func (c *Coordinator) End(ctx context.Context, id domain.ConnectionID) error {
	sid, ok := c.Conns.SessionOf(id)
	if !ok {
		return domain.ErrNotAParticipant
	}
	sess, ok := c.Sessions.Get(sid)
	if !ok {
		return domain.ErrNotAParticipant
	}
	res, err := sess.EndByHost(ctx, id)
	if errors.Is(err, core.ErrSessionClosed) {
		return domain.ErrNotAParticipant
	}
	if err != nil {
		return err
	}
	c.apply(ctx, sess, res)
	return nil
}

// Shutdown ends every live session.
func (c *Coordinator) Shutdown(ctx context.Context) {
	ended := c.Sessions.Shutdown(ctx)
	for _, sid := range ended {
		c.Conns.DetachSession(sid)
	}
	log.Info().Str("module", "app.coordinator").Int("sessions", len(ended)).Int("conns", c.Conns.Len()).Msg("sessions shut down")
}

func (c *Coordinator) apply(ctx context.Context, sess *core.Session, res core.PublishResult) {
	if c.Policy != nil {
		for _, slow := range res.Dropped {
			switch c.Policy.OnBackPressure(sess.ID(), slow) {
			case KickMember:
				log.Warn().Str("module", "app.coordinator").Str("sid", string(sess.ID())).Str("conn", string(slow.ID)).Msg("kicking slow participant")
				c.kick(ctx, sess, slow, res.Archive != nil)
			case MarkSlow, DropFrame, NoAction:
			}
		}
	}
	if res.Archive != nil {
		c.Conns.DetachSession(sess.ID())
		c.Sessions.Finish(ctx, sess, *res.Archive)
	}
}

// kick closes a slow connection and removes it from the roster right away,
// so relays and chat stop treating it as present before its pumps exit.
func (c *Coordinator) kick(ctx context.Context, sess *core.Session, slow core.Dropped, ended bool) {
	slow.Conn.Close()
	c.Conns.Cancel(slow.ID)
	if ended {
		return
	}
	c.Conns.DetachFrom(slow.ID, sess.ID())
	res, err := sess.Leave(ctx, slow.ID)
	if err != nil {
		if !errors.Is(err, core.ErrSessionClosed) {
			log.Warn().Err(err).Str("module", "app.coordinator").Str("conn", string(slow.ID)).Msg("leave after kick failed")
		}
		return
	}
	c.apply(ctx, sess, res)
	if res.Archive == nil {
		c.Sessions.RemoveIfEmpty(ctx, sess)
	}
}
