package negotiation

import (
	"encoding/json"
	"fmt"
	"sync"

	"github.com/dkeye/Meet/internal/domain"
)

type fakePeer struct {
	remote domain.ConnectionID

	mu         sync.Mutex
	answers    []string
	candidates []string
	closed     int
	onCand     func(json.RawMessage)
	onState    func(TransportState)
}

func (p *fakePeer) CreateOffer() (json.RawMessage, error) {
	return json.RawMessage(fmt.Sprintf(`{"type":"offer","sdp":"to-%s"}`, p.remote)), nil
}

func (p *fakePeer) AcceptOffer(offer json.RawMessage) (json.RawMessage, error) {
	return json.RawMessage(fmt.Sprintf(`{"type":"answer","sdp":"to-%s"}`, p.remote)), nil
}

func (p *fakePeer) AcceptAnswer(answer json.RawMessage) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.answers = append(p.answers, string(answer))
	return nil
}

func (p *fakePeer) AddCandidate(c json.RawMessage) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.candidates = append(p.candidates, string(c))
	return nil
}

func (p *fakePeer) OnCandidate(fn func(json.RawMessage)) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.onCand = fn
}

func (p *fakePeer) OnTransportState(fn func(TransportState)) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.onState = fn
}

func (p *fakePeer) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.closed++
	return nil
}

func (p *fakePeer) emitCandidate(c string) {
	p.mu.Lock()
	fn := p.onCand
	p.mu.Unlock()
	fn(json.RawMessage(c))
}

func (p *fakePeer) emitState(s TransportState) {
	p.mu.Lock()
	fn := p.onState
	p.mu.Unlock()
	fn(s)
}

func (p *fakePeer) accepted() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]string(nil), p.answers...)
}

func (p *fakePeer) added() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]string(nil), p.candidates...)
}

func (p *fakePeer) closeCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.closed
}

// peerSet hands out fakePeers and remembers them per remote.
type peerSet struct {
	mu    sync.Mutex
	peers map[domain.ConnectionID][]*fakePeer
}

func newPeerSet() *peerSet {
	return &peerSet{peers: make(map[domain.ConnectionID][]*fakePeer)}
}

func (s *peerSet) factory(remote domain.ConnectionID) (PeerConnection, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p := &fakePeer{remote: remote}
	s.peers[remote] = append(s.peers[remote], p)
	return p, nil
}

func (s *peerSet) opened(remote domain.ConnectionID) []*fakePeer {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]*fakePeer(nil), s.peers[remote]...)
}

type recordingSignaler struct {
	mu   sync.Mutex
	sent []domain.Envelope
	// forward, when set, receives every envelope after it is recorded.
	forward func(domain.Envelope)
}

func (s *recordingSignaler) SendSignal(env domain.Envelope) error {
	s.mu.Lock()
	s.sent = append(s.sent, env)
	fwd := s.forward
	s.mu.Unlock()
	if fwd != nil {
		fwd(env)
	}
	return nil
}

func (s *recordingSignaler) ofType(t domain.EnvelopeType) []domain.Envelope {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []domain.Envelope
	for _, env := range s.sent {
		if env.Type == t {
			out = append(out, env)
		}
	}
	return out
}
