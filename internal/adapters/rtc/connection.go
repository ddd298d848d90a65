package rtc

import (
	"encoding/json"
	"fmt"
	"sync"

	"github.com/dkeye/Meet/internal/domain"
	"github.com/dkeye/Meet/internal/negotiation"
	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

const dataChannelLabel = "meet"

func DefaultWebRTCConfig() webrtc.Configuration {
	return WebRTCConfig([]string{"stun:stun.l.google.com:19302"})
}

// WebRTCConfig builds a configuration from STUN urls. No urls means host
// candidates only.
func WebRTCConfig(stunURLs []string) webrtc.Configuration {
	var cfg webrtc.Configuration
	if len(stunURLs) > 0 {
		cfg.ICEServers = []webrtc.ICEServer{{URLs: stunURLs}}
	}
	return cfg
}

// WebRTCConnection is a pion PeerConnection toward one remote participant.
// It carries a data channel; remote media tracks are reported through OnTrack.
type WebRTCConnection struct {
	pc     *webrtc.PeerConnection
	remote domain.ConnectionID
	logger zerolog.Logger

	mu        sync.Mutex
	dc        *webrtc.DataChannel
	onMessage func(domain.ConnectionID, string)
	onOpen    func(domain.ConnectionID)
	onTrack   func(domain.ConnectionID, *webrtc.TrackRemote)
	onClose   func(*WebRTCConnection)
}

var _ negotiation.PeerConnection = (*WebRTCConnection)(nil)

func NewWebRTCConnection(cfg webrtc.Configuration, remote domain.ConnectionID) (*WebRTCConnection, error) {
	pc, err := webrtc.NewPeerConnection(cfg)
	if err != nil {
		return nil, err
	}
	c := &WebRTCConnection{
		pc:     pc,
		remote: remote,
		logger: log.With().Str("module", "webrtc").Str("remote", string(remote)).Logger(),
	}

	pc.OnDataChannel(func(dc *webrtc.DataChannel) {
		c.logger.Debug().Str("label", dc.Label()).Msg("remote data channel")
		c.bindDataChannel(dc)
	})
	pc.OnTrack(func(track *webrtc.TrackRemote, _ *webrtc.RTPReceiver) {
		c.logger.Info().
			Str("kind", track.Kind().String()).
			Str("track_id", track.ID()).
			Str("stream_id", track.StreamID()).
			Msg("OnTrack received")
		c.mu.Lock()
		fn := c.onTrack
		c.mu.Unlock()
		if fn != nil {
			fn(c.remote, track)
		}
	})
	return c, nil
}

// Factory returns a negotiation.PeerFactory opening connections with cfg.
// configure runs on every new connection before it is handed out.
func Factory(cfg webrtc.Configuration, configure func(*WebRTCConnection)) negotiation.PeerFactory {
	return func(remote domain.ConnectionID) (negotiation.PeerConnection, error) {
		c, err := NewWebRTCConnection(cfg, remote)
		if err != nil {
			return nil, err
		}
		if configure != nil {
			configure(c)
		}
		return c, nil
	}
}

func (c *WebRTCConnection) bindDataChannel(dc *webrtc.DataChannel) {
	c.mu.Lock()
	c.dc = dc
	c.mu.Unlock()

	dc.OnOpen(func() {
		c.logger.Info().Msg("data channel open")
		c.mu.Lock()
		fn := c.onOpen
		c.mu.Unlock()
		if fn != nil {
			fn(c.remote)
		}
	})
	dc.OnMessage(func(msg webrtc.DataChannelMessage) {
		c.mu.Lock()
		fn := c.onMessage
		c.mu.Unlock()
		if fn != nil && msg.IsString {
			fn(c.remote, string(msg.Data))
		}
	})
}

func (c *WebRTCConnection) CreateOffer() (json.RawMessage, error) {
	dc, err := c.pc.CreateDataChannel(dataChannelLabel, nil)
	if err != nil {
		return nil, fmt.Errorf("create data channel: %w", err)
	}
	c.bindDataChannel(dc)

	offer, err := c.pc.CreateOffer(nil)
	if err != nil {
		return nil, err
	}
	if err := c.pc.SetLocalDescription(offer); err != nil {
		return nil, err
	}
	return json.Marshal(offer)
}

func (c *WebRTCConnection) AcceptOffer(raw json.RawMessage) (json.RawMessage, error) {
	var offer webrtc.SessionDescription
	if err := json.Unmarshal(raw, &offer); err != nil {
		return nil, fmt.Errorf("decode offer: %w", err)
	}
	if err := c.pc.SetRemoteDescription(offer); err != nil {
		return nil, err
	}
	answer, err := c.pc.CreateAnswer(nil)
	if err != nil {
		return nil, err
	}
	if err := c.pc.SetLocalDescription(answer); err != nil {
		return nil, err
	}
	return json.Marshal(answer)
}

func (c *WebRTCConnection) AcceptAnswer(raw json.RawMessage) error {
	var answer webrtc.SessionDescription
	if err := json.Unmarshal(raw, &answer); err != nil {
		return fmt.Errorf("decode answer: %w", err)
	}
	return c.pc.SetRemoteDescription(answer)
}

func (c *WebRTCConnection) AddCandidate(raw json.RawMessage) error {
	var ci webrtc.ICECandidateInit
	if err := json.Unmarshal(raw, &ci); err != nil {
		return fmt.Errorf("decode candidate: %w", err)
	}
	return c.pc.AddICECandidate(ci)
}

func (c *WebRTCConnection) OnCandidate(fn func(json.RawMessage)) {
	c.pc.OnICECandidate(func(cand *webrtc.ICECandidate) {
		if cand == nil {
			return
		}
		b, err := json.Marshal(cand.ToJSON())
		if err != nil {
			c.logger.Error().Err(err).Msg("encode candidate")
			return
		}
		fn(b)
	})
}

func (c *WebRTCConnection) OnTransportState(fn func(negotiation.TransportState)) {
	c.pc.OnConnectionStateChange(func(s webrtc.PeerConnectionState) {
		c.logger.Info().Str("peer_connection_state", s.String()).Msg("Peer state")
		switch s {
		case webrtc.PeerConnectionStateConnected:
			fn(negotiation.TransportConnected)
		case webrtc.PeerConnectionStateFailed:
			fn(negotiation.TransportFailed)
		case webrtc.PeerConnectionStateClosed:
			fn(negotiation.TransportClosed)
		}
	})
}

func (c *WebRTCConnection) Remote() domain.ConnectionID { return c.remote }

// OnMessage receives text from the remote's data channel.
func (c *WebRTCConnection) OnMessage(fn func(domain.ConnectionID, string)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onMessage = fn
}

// OnOpen fires once the data channel can carry messages.
func (c *WebRTCConnection) OnOpen(fn func(domain.ConnectionID)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onOpen = fn
}

// OnTrack sets application-level callback for remote tracks.
func (c *WebRTCConnection) OnTrack(fn func(domain.ConnectionID, *webrtc.TrackRemote)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onTrack = fn
}

// OnClose runs after Close releases the peer connection.
func (c *WebRTCConnection) OnClose(fn func(*WebRTCConnection)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onClose = fn
}

// SendText writes to the data channel once it is open.
func (c *WebRTCConnection) SendText(text string) error {
	c.mu.Lock()
	dc := c.dc
	c.mu.Unlock()
	if dc == nil || dc.ReadyState() != webrtc.DataChannelStateOpen {
		return fmt.Errorf("data channel to %s not open", c.remote)
	}
	return dc.SendText(text)
}

func (c *WebRTCConnection) Close() error {
	err := c.pc.Close()
	c.mu.Lock()
	fn := c.onClose
	c.onClose = nil
	c.mu.Unlock()
	if fn != nil {
		fn(c)
	}
	if err != nil {
		return err
	}
	c.logger.Info().Msg("closed")
	return nil
}
