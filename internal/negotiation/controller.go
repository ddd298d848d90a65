package negotiation

import (
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/dkeye/Meet/internal/domain"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

type State int

const (
	Idle State = iota
	Offering
	Answering
	Connected
	Closed
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Offering:
		return "offering"
	case Answering:
		return "answering"
	case Connected:
		return "connected"
	default:
		return "closed"
	}
}

type CloseReason string

const (
	ReasonTimeout    CloseReason = "offer-timeout"
	ReasonFailed     CloseReason = "transport-failed"
	ReasonRemoteLeft CloseReason = "remote-left"
	ReasonLocalLeave CloseReason = "local-leave"
	ReasonReplaced   CloseReason = "replaced"
	ReasonError      CloseReason = "error"
)

var (
	ErrInvalidTransition = errors.New("invalid negotiation transition")
	// ErrStaleAttempt marks an answer or candidate for an offer that was
	// since replaced, e.g. by a timeout retry.
	ErrStaleAttempt = errors.New("signal for a superseded offer")
)

type ControllerConfig struct {
	SessionID    domain.SessionID
	Local        domain.ConnectionID
	Remote       domain.ConnectionID
	// Attempt stamps the offer this side sends. An answering controller takes
	// it from the remote offer instead.
	Attempt      uint32
	Peer         PeerConnection
	Signaler     Signaler
	OfferTimeout time.Duration
	// OnClosed runs once, outside the controller lock.
	OnClosed func(*Controller, CloseReason)
}

// Controller is the state machine of one (local, remote) pair.
type Controller struct {
	cfg    ControllerConfig
	logger zerolog.Logger

	mu          sync.Mutex
	state       State
	attempt     uint32
	transport   TransportState
	localCands  []json.RawMessage
	remoteCands []json.RawMessage
	timer       *time.Timer
}

func NewController(cfg ControllerConfig) *Controller {
	c := &Controller{
		cfg:       cfg,
		attempt:   cfg.Attempt,
		transport: TransportClosed,
		logger: log.With().
			Str("module", "negotiation").
			Str("sid", string(cfg.SessionID)).
			Str("remote", string(cfg.Remote)).
			Logger(),
	}
	cfg.Peer.OnCandidate(c.onLocalCandidate)
	cfg.Peer.OnTransportState(c.onTransportState)
	return c
}

func (c *Controller) Remote() domain.ConnectionID { return c.cfg.Remote }

func (c *Controller) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Attempt returns the offer number this pair negotiates under.
func (c *Controller) Attempt() uint32 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.attempt
}

func (c *Controller) envelope(t domain.EnvelopeType, payload json.RawMessage) domain.Envelope {
	c.mu.Lock()
	attempt := c.attempt
	c.mu.Unlock()
	return domain.Envelope{
		Type:      t,
		SessionID: c.cfg.SessionID,
		Sender:    c.cfg.Local,
		Target:    c.cfg.Remote,
		Attempt:   attempt,
		Payload:   payload,
	}
}

// Start sends a targeted offer and arms the offer timeout.
func (c *Controller) Start() error {
	c.mu.Lock()
	if c.state != Idle {
		st := c.state
		c.mu.Unlock()
		return fmt.Errorf("start in %s: %w", st, ErrInvalidTransition)
	}
	offer, err := c.cfg.Peer.CreateOffer()
	if err != nil {
		c.mu.Unlock()
		c.Close(ReasonError)
		return fmt.Errorf("create offer: %w", err)
	}
	c.state = Offering
	if c.cfg.OfferTimeout > 0 {
		c.timer = time.AfterFunc(c.cfg.OfferTimeout, c.expire)
	}
	c.mu.Unlock()

	c.logger.Debug().Msg("offer sent")
	return c.cfg.Signaler.SendSignal(c.envelope(domain.EnvelopeOffer, offer))
}

// HandleOffer answers a remote offer, adopting its attempt number.
func (c *Controller) HandleOffer(attempt uint32, offer json.RawMessage) error {
	c.mu.Lock()
	if c.state != Idle {
		st := c.state
		c.mu.Unlock()
		return fmt.Errorf("offer in %s: %w", st, ErrInvalidTransition)
	}
	c.state = Answering
	c.attempt = attempt
	answer, err := c.cfg.Peer.AcceptOffer(offer)
	if err != nil {
		c.mu.Unlock()
		c.Close(ReasonError)
		return fmt.Errorf("accept offer: %w", err)
	}
	c.mu.Unlock()

	if err := c.cfg.Signaler.SendSignal(c.envelope(domain.EnvelopeAnswer, answer)); err != nil {
		return err
	}
	c.logger.Debug().Msg("answer sent")
	return c.connect()
}

// HandleAnswer completes an exchange this side started. Answers to any other
// attempt are rejected with ErrStaleAttempt and leave the pair untouched.
func (c *Controller) HandleAnswer(attempt uint32, answer json.RawMessage) error {
	c.mu.Lock()
	if attempt != c.attempt {
		cur := c.attempt
		c.mu.Unlock()
		return fmt.Errorf("answer for attempt %d, current %d: %w", attempt, cur, ErrStaleAttempt)
	}
	if c.state != Offering {
		st := c.state
		c.mu.Unlock()
		return fmt.Errorf("answer in %s: %w", st, ErrInvalidTransition)
	}
	if err := c.cfg.Peer.AcceptAnswer(answer); err != nil {
		c.mu.Unlock()
		c.Close(ReasonError)
		return fmt.Errorf("accept answer: %w", err)
	}
	c.mu.Unlock()
	return c.connect()
}

// HandleCandidate applies a remote candidate, buffering it until Connected.
func (c *Controller) HandleCandidate(attempt uint32, candidate json.RawMessage) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if attempt != c.attempt && c.state != Closed {
		return fmt.Errorf("candidate for attempt %d, current %d: %w", attempt, c.attempt, ErrStaleAttempt)
	}
	switch c.state {
	case Closed:
		return nil
	case Connected:
		return c.cfg.Peer.AddCandidate(candidate)
	default:
		c.remoteCands = append(c.remoteCands, candidate)
		return nil
	}
}

// connect enters Connected and flushes both candidate buffers.
func (c *Controller) connect() error {
	c.mu.Lock()
	if c.state == Closed {
		c.mu.Unlock()
		return nil
	}
	c.state = Connected
	if c.timer != nil {
		c.timer.Stop()
		c.timer = nil
	}
	local, remote := c.localCands, c.remoteCands
	c.localCands, c.remoteCands = nil, nil
	var firstErr error
	for _, cand := range remote {
		if err := c.cfg.Peer.AddCandidate(cand); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	c.mu.Unlock()

	for _, cand := range local {
		if err := c.cfg.Signaler.SendSignal(c.envelope(domain.EnvelopeCandidate, cand)); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	c.logger.Info().Int("local_candidates", len(local)).Int("remote_candidates", len(remote)).Msg("pair connected")
	return firstErr
}

func (c *Controller) onLocalCandidate(cand json.RawMessage) {
	c.mu.Lock()
	switch c.state {
	case Closed:
		c.mu.Unlock()
		return
	case Connected:
		c.mu.Unlock()
		if err := c.cfg.Signaler.SendSignal(c.envelope(domain.EnvelopeCandidate, cand)); err != nil {
			c.logger.Warn().Err(err).Msg("send candidate")
		}
	default:
		c.localCands = append(c.localCands, cand)
		c.mu.Unlock()
	}
}

func (c *Controller) onTransportState(s TransportState) {
	c.mu.Lock()
	c.transport = s
	c.mu.Unlock()
	c.logger.Info().Str("transport", s.String()).Msg("transport state")
	if s == TransportFailed {
		c.Close(ReasonFailed)
	}
}

// Transport returns the last state reported by the media stack.
func (c *Controller) Transport() TransportState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.transport
}

func (c *Controller) expire() {
	c.mu.Lock()
	offering := c.state == Offering
	c.mu.Unlock()
	if offering {
		c.logger.Warn().Dur("timeout", c.cfg.OfferTimeout).Msg("offer timed out")
		c.Close(ReasonTimeout)
	}
}

// Close moves to Closed from any state and releases the peer connection.
// Only the first call has an effect.
func (c *Controller) Close(reason CloseReason) {
	c.mu.Lock()
	if c.state == Closed {
		c.mu.Unlock()
		return
	}
	c.state = Closed
	if c.timer != nil {
		c.timer.Stop()
		c.timer = nil
	}
	c.localCands, c.remoteCands = nil, nil
	c.mu.Unlock()

	if err := c.cfg.Peer.Close(); err != nil {
		c.logger.Warn().Err(err).Msg("close peer")
	}
	c.logger.Info().Str("reason", string(reason)).Msg("pair closed")
	if c.cfg.OnClosed != nil {
		c.cfg.OnClosed(c, reason)
	}
}
