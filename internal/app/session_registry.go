package app

import (
	"context"
	"errors"
	"sort"
	"sync"

	"github.com/dkeye/Meet/internal/core"
	"github.com/dkeye/Meet/internal/domain"
	"github.com/dkeye/Meet/internal/meeting"
	"github.com/dkeye/Meet/internal/protocol"
	"github.com/rs/zerolog/log"
)

// SessionSummary is one row of List.
type SessionSummary struct {
	ID               domain.SessionID `json:"sessionId"`
	ParticipantCount int              `json:"participantCount"`
	Active           bool             `json:"active"`
}

// SessionRegistry owns every live Session and the tombstones of ended ones.
type SessionRegistry struct {
	ctx  context.Context
	hook meeting.TeardownHook
	opts []core.SessionOption

	mu       sync.RWMutex
	sessions map[domain.SessionID]*core.Session
	ended    map[domain.SessionID]struct{}
}

// NewSessionRegistry returns a registry whose session actors live until ctx is
// canceled. hook may be nil.
func NewSessionRegistry(ctx context.Context, hook meeting.TeardownHook, opts ...core.SessionOption) *SessionRegistry {
	return &SessionRegistry{
		ctx:      ctx,
		hook:     hook,
		opts:     opts,
		sessions: make(map[domain.SessionID]*core.Session),
		ended:    make(map[domain.SessionID]struct{}),
	}
}

// GetOrCreate returns the live session for id, starting one if needed.
// Ended ids fail with domain.ErrSessionUnavailable.
func (r *SessionRegistry) GetOrCreate(id domain.SessionID) (*core.Session, error) {
	r.mu.RLock()
	s, ok := r.sessions[id]
	_, dead := r.ended[id]
	r.mu.RUnlock()
	if dead {
		return nil, domain.ErrSessionUnavailable
	}
	if ok {
		return s, nil
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, dead = r.ended[id]; dead {
		return nil, domain.ErrSessionUnavailable
	}
	if s, ok = r.sessions[id]; ok {
		return s, nil
	}
	s = core.NewSession(r.ctx, id, r.opts...)
	r.sessions[id] = s
	log.Info().Str("module", "app.sessions").Str("sid", string(id)).Msg("session created")
	return s, nil
}

func (r *SessionRegistry) Get(id domain.SessionID) (*core.Session, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.sessions[id]
	return s, ok
}

// Ended reports whether id has a tombstone.
func (r *SessionRegistry) Ended(id domain.SessionID) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.ended[id]
	return ok
}

// Teardown ends a live session with reason and finishes it.
func (r *SessionRegistry) Teardown(ctx context.Context, id domain.SessionID, reason string) (core.PublishResult, error) {
	s, ok := r.Get(id)
	if !ok {
		return core.PublishResult{}, domain.ErrSessionUnavailable
	}
	res, err := s.Teardown(ctx, reason)
	if err != nil {
		if errors.Is(err, core.ErrSessionClosed) {
			return res, domain.ErrSessionUnavailable
		}
		return res, err
	}
	if res.Archive != nil {
		if reason == protocol.ReasonShutdown {
			res.Archive.Interrupted = true
		}
		r.Finish(ctx, s, *res.Archive)
	}
	return res, nil
}

// Finish records the tombstone of a torn down session, stops its actor and
// hands the archive to the teardown hook.
func (r *SessionRegistry) Finish(ctx context.Context, s *core.Session, archive domain.Archive) {
	id := s.ID()
	r.mu.Lock()
	if cur, ok := r.sessions[id]; ok && cur == s {
		delete(r.sessions, id)
	}
	if !archive.Interrupted {
		r.ended[id] = struct{}{}
	}
	r.mu.Unlock()
	s.Stop()

	log.Info().Str("module", "app.sessions").Str("sid", string(id)).Str("reason", archive.Reason).Msg("session ended")
	if r.hook == nil {
		return
	}
	if err := r.hook.SessionEnded(ctx, archive); err != nil {
		log.Error().Err(err).Str("module", "app.sessions").Str("sid", string(id)).Msg("teardown hook failed")
	}
}

// RemoveIfEmpty retires s once its roster is empty and drops it from the
// registry. The id stays joinable; the next join starts a fresh session.
func (r *SessionRegistry) RemoveIfEmpty(ctx context.Context, s *core.Session) bool {
	retired, err := s.RetireIfEmpty(ctx)
	if err != nil || !retired {
		return false
	}
	r.mu.Lock()
	if cur, ok := r.sessions[s.ID()]; ok && cur == s {
		delete(r.sessions, s.ID())
	}
	r.mu.Unlock()
	s.Stop()
	log.Info().Str("module", "app.sessions").Str("sid", string(s.ID())).Msg("empty session removed")
	return true
}

func (r *SessionRegistry) snapshot() []*core.Session {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*core.Session, 0, len(r.sessions))
	for _, s := range r.sessions {
		out = append(out, s)
	}
	return out
}

// List summarizes live sessions ordered by id.
func (r *SessionRegistry) List(ctx context.Context) []SessionSummary {
	out := make([]SessionSummary, 0)
	for _, s := range r.snapshot() {
		info, err := s.Info(ctx)
		if err != nil {
			continue
		}
		out = append(out, SessionSummary{
			ID:               info.ID,
			ParticipantCount: len(info.Participants),
			Active:           info.Active,
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// History returns the presence log and transcript of a live session.
func (r *SessionRegistry) History(ctx context.Context, id domain.SessionID) (core.SessionInfo, error) {
	s, ok := r.Get(id)
	if !ok {
		return core.SessionInfo{}, domain.ErrSessionUnavailable
	}
	info, err := s.Info(ctx)
	if errors.Is(err, core.ErrSessionClosed) {
		return core.SessionInfo{}, domain.ErrSessionUnavailable
	}
	return info, err
}

// Shutdown tears down every live session with reason server-shutdown and
// returns the ids it ended.
func (r *SessionRegistry) Shutdown(ctx context.Context) []domain.SessionID {
	var ended []domain.SessionID
	for _, s := range r.snapshot() {
		_, err := r.Teardown(ctx, s.ID(), protocol.ReasonShutdown)
		switch {
		case err == nil:
			ended = append(ended, s.ID())
		case !errors.Is(err, domain.ErrSessionUnavailable):
			log.Warn().Err(err).Str("module", "app.sessions").Str("sid", string(s.ID())).Msg("shutdown teardown failed")
		}
	}
	return ended
}
