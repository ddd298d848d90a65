package core

import (
	"context"
	"time"

	"github.com/dkeye/Meet/internal/domain"
	"github.com/rs/zerolog/log"
)

// Session is one meeting instance. All of its state lives on a single actor
// goroutine; the exported methods submit commands to it and wait.
type Session struct {
	id    domain.SessionID
	cmds  chan func(*sessionState)
	ctx   context.Context
	stop  context.CancelFunc
	done  chan struct{}
	state *sessionState
}

type SessionOption func(*Session)

// WithClock overrides the time source used for joins, leaves and chat.
func WithClock(c Clock) SessionOption {
	return func(s *Session) { s.state.clock = c }
}

// WithJoinTranscript bounds the chat tail sent in meeting-joined, by message
// count and by encoded size. Non-positive values keep the defaults.
func WithJoinTranscript(messages, bytes int) SessionOption {
	return func(s *Session) {
		if messages > 0 {
			s.state.joinChatLimit = messages
		}
		if bytes > 0 {
			s.state.joinChatBytes = bytes
		}
	}
}

// NewSession starts the session actor. It runs until Stop or parent cancellation.
func NewSession(parent context.Context, id domain.SessionID, opts ...SessionOption) *Session {
	ctx, cancel := context.WithCancel(parent)
	s := &Session{
		id:    id,
		cmds:  make(chan func(*sessionState)),
		ctx:   ctx,
		stop:  cancel,
		done:  make(chan struct{}),
		state: newSessionState(id, time.Now),
	}
	for _, opt := range opts {
		opt(s)
	}
	go s.run()
	return s
}

func (s *Session) ID() domain.SessionID { return s.id }

func (s *Session) run() {
	defer close(s.done)
	for {
		select {
		case <-s.ctx.Done():
			log.Debug().Str("module", "core.session").Str("sid", string(s.id)).Msg("actor stopped")
			return
		case fn := <-s.cmds:
			fn(s.state)
		}
	}
}

// Stop terminates the actor. Pending and later calls fail with ErrSessionClosed.
func (s *Session) Stop() {
	s.stop()
	<-s.done
}

// do runs fn on the actor and waits for it. fn gets a fresh PublishResult.
func (s *Session) do(ctx context.Context, fn func(*sessionState)) (PublishResult, error) {
	var res PublishResult
	finished := make(chan struct{})
	cmd := func(st *sessionState) {
		st.res = &res
		fn(st)
		st.res = nil
		close(finished)
	}

	select {
	case s.cmds <- cmd:
	case <-s.done:
		return res, ErrSessionClosed
	case <-ctx.Done():
		return res, ctx.Err()
	}

	select {
	case <-finished:
		return res, nil
	case <-ctx.Done():
		return PublishResult{}, ctx.Err()
	}
}

// Info returns a snapshot of roster, presence log and transcript.
func (s *Session) Info(ctx context.Context) (SessionInfo, error) {
	var info SessionInfo
	_, err := s.do(ctx, func(st *sessionState) { info = st.info() })
	return info, err
}

// RetireIfEmpty closes an active session whose roster is empty and reports
// whether it did. A retired session rejects further commands with ErrSessionClosed.
func (s *Session) RetireIfEmpty(ctx context.Context) (bool, error) {
	var retired bool
	_, err := s.do(ctx, func(st *sessionState) {
		if st.closed || len(st.members) > 0 {
			return
		}
		st.closed = true
		retired = true
	})
	return retired, err
}
