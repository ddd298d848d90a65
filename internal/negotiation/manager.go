package negotiation

import (
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/dkeye/Meet/internal/domain"
	"github.com/dkeye/Meet/internal/protocol"
	"github.com/rs/zerolog/log"
)

type ManagerConfig struct {
	NewPeer      PeerFactory
	Signaler     Signaler
	OfferTimeout time.Duration
	// OnEnded runs when the server ends the meeting.
	OnEnded func(reason string)
}

type peerEntry struct {
	ctrl    *Controller
	isHost  bool
	retried bool
}

// Manager keeps one Controller per remote participant of the local
// participant's session and feeds them server events.
type Manager struct {
	cfg ManagerConfig

	mu       sync.Mutex
	sid      domain.SessionID
	self     domain.ConnectionID
	selfHost bool
	joined   bool
	ended    bool
	attempts uint32
	peers    map[domain.ConnectionID]*peerEntry
}

func NewManager(cfg ManagerConfig) *Manager {
	return &Manager{cfg: cfg, peers: make(map[domain.ConnectionID]*peerEntry)}
}

// Self returns the local connection id once joined.
func (m *Manager) Self() domain.ConnectionID {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.self
}

// Peers snapshots the state of every pair.
func (m *Manager) Peers() map[domain.ConnectionID]State {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make(map[domain.ConnectionID]State, len(m.peers))
	for id, e := range m.peers {
		if e.ctrl == nil {
			out[id] = Idle
			continue
		}
		out[id] = e.ctrl.State()
	}
	return out
}

// HandleEvent consumes one decoded server event. Unrelated events are ignored.
func (m *Manager) HandleEvent(ev any) {
	switch e := ev.(type) {
	case *protocol.MeetingJoinedMessage:
		m.mu.Lock()
		m.sid, m.self, m.selfHost, m.joined = e.SessionID, e.ConnectionID, e.IsHost, true
		m.mu.Unlock()
		m.reconcile(e.Participants)
	case *protocol.ParticipantsUpdateMessage:
		m.reconcile(e.Participants)
	case *protocol.NotificationMessage:
		if e.Type == protocol.MsgTypeLeftNotification {
			m.drop(e.ConnectionID, ReasonRemoteLeft)
		}
	case *protocol.SignalMessage:
		m.handleSignal(e)
	case *protocol.MeetingEndedMessage:
		m.mu.Lock()
		m.ended = true
		m.mu.Unlock()
		m.closeAll(ReasonRemoteLeft)
		if m.cfg.OnEnded != nil {
			m.cfg.OnEnded(e.Reason)
		}
	}
}

// Close tears every pair down on local leave.
func (m *Manager) Close() {
	m.mu.Lock()
	m.ended = true
	m.mu.Unlock()
	m.closeAll(ReasonLocalLeave)
}

// reconcile opens pairs toward new participants and closes pairs toward
// participants no longer on the roster.
func (m *Manager) reconcile(roster []domain.Participant) {
	m.mu.Lock()
	if !m.joined || m.ended {
		m.mu.Unlock()
		return
	}
	present := make(map[domain.ConnectionID]bool, len(roster))
	var start []*Controller
	for _, p := range roster {
		if p.ConnectionID == m.self {
			continue
		}
		present[p.ConnectionID] = true
		if e, ok := m.peers[p.ConnectionID]; ok {
			e.isHost = p.IsHost
			continue
		}
		e := &peerEntry{isHost: p.IsHost}
		m.peers[p.ConnectionID] = e
		if ShouldInitiate(m.self, m.selfHost, p.ConnectionID, p.IsHost) {
			if ctrl := m.newControllerLocked(p.ConnectionID, m.nextAttemptLocked()); ctrl != nil {
				e.ctrl = ctrl
				start = append(start, ctrl)
			}
		}
	}
	var gone []*Controller
	for id, e := range m.peers {
		if !present[id] {
			delete(m.peers, id)
			if e.ctrl != nil {
				gone = append(gone, e.ctrl)
			}
		}
	}
	m.mu.Unlock()

	for _, ctrl := range gone {
		ctrl.Close(ReasonRemoteLeft)
	}
	for _, ctrl := range start {
		if err := ctrl.Start(); err != nil {
			log.Warn().Err(err).Str("module", "negotiation").Str("remote", string(ctrl.Remote())).Msg("start pair")
		}
	}
}

func (m *Manager) handleSignal(s *protocol.SignalMessage) {
	remote := s.SenderConnectionID
	env := s.Envelope(remote)

	m.mu.Lock()
	if m.ended || !m.joined || remote == m.self || (env.Target != "" && env.Target != m.self) {
		m.mu.Unlock()
		return
	}
	e, ok := m.peers[remote]
	if !ok {
		e = &peerEntry{}
		m.peers[remote] = e
	}

	var (
		ctrl     *Controller
		replaced *Controller
	)
	if env.Type == domain.EnvelopeOffer {
		// A fresh offer restarts the pair, e.g. after the remote's timeout retry.
		if e.ctrl != nil && e.ctrl.State() != Idle {
			replaced = e.ctrl
			e.ctrl = nil
		}
		if e.ctrl == nil {
			e.ctrl = m.newControllerLocked(remote, 0)
		}
	}
	ctrl = e.ctrl
	m.mu.Unlock()

	if replaced != nil {
		replaced.Close(ReasonReplaced)
	}
	if ctrl == nil {
		log.Debug().Str("module", "negotiation").Str("remote", string(remote)).Str("type", string(env.Type)).Msg("signal for unknown pair dropped")
		return
	}

	var err error
	switch env.Type {
	case domain.EnvelopeOffer:
		err = ctrl.HandleOffer(env.Attempt, env.Payload)
	case domain.EnvelopeAnswer:
		err = ctrl.HandleAnswer(env.Attempt, env.Payload)
	case domain.EnvelopeCandidate:
		err = ctrl.HandleCandidate(env.Attempt, env.Payload)
	}
	switch {
	case errors.Is(err, ErrStaleAttempt):
		log.Debug().Err(err).Str("module", "negotiation").Str("remote", string(remote)).Str("type", string(env.Type)).Msg("stale signal dropped")
	case err != nil:
		log.Warn().Err(err).Str("module", "negotiation").Str("remote", string(remote)).Str("type", string(env.Type)).Msg("signal")
	}
}

// nextAttemptLocked numbers offers across every pair so a retry never reuses
// the number of the offer it replaces.
func (m *Manager) nextAttemptLocked() uint32 {
	m.attempts++
	return m.attempts
}

func (m *Manager) newControllerLocked(remote domain.ConnectionID, attempt uint32) *Controller {
	pc, err := m.cfg.NewPeer(remote)
	if err != nil {
		log.Error().Err(err).Str("module", "negotiation").Str("remote", string(remote)).Msg("open peer connection")
		return nil
	}
	return NewController(ControllerConfig{
		SessionID:    m.sid,
		Local:        m.self,
		Remote:       remote,
		Attempt:      attempt,
		Peer:         pc,
		Signaler:     m.cfg.Signaler,
		OfferTimeout: m.cfg.OfferTimeout,
		OnClosed:     m.onClosed,
	})
}

// onClosed retries a timed out offer once with a fresh controller.
func (m *Manager) onClosed(ctrl *Controller, reason CloseReason) {
	if reason != ReasonTimeout {
		return
	}
	m.mu.Lock()
	e, ok := m.peers[ctrl.Remote()]
	if !ok || e.ctrl != ctrl || e.retried || m.ended {
		m.mu.Unlock()
		return
	}
	e.retried = true
	next := m.newControllerLocked(ctrl.Remote(), m.nextAttemptLocked())
	e.ctrl = next
	m.mu.Unlock()

	if next == nil {
		return
	}
	log.Info().Str("module", "negotiation").Str("remote", string(ctrl.Remote())).Msg("retrying offer")
	if err := next.Start(); err != nil {
		log.Warn().Err(err).Str("module", "negotiation").Str("remote", string(ctrl.Remote())).Msg("retry offer")
	}
}

func (m *Manager) drop(remote domain.ConnectionID, reason CloseReason) {
	m.mu.Lock()
	e, ok := m.peers[remote]
	delete(m.peers, remote)
	m.mu.Unlock()
	if ok && e.ctrl != nil {
		e.ctrl.Close(reason)
	}
}

func (m *Manager) closeAll(reason CloseReason) {
	m.mu.Lock()
	ids := make([]domain.ConnectionID, 0, len(m.peers))
	for id := range m.peers {
		ids = append(ids, id)
	}
	m.mu.Unlock()
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	for _, id := range ids {
		m.drop(id, reason)
	}
}
