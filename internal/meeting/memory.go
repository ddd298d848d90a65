package meeting

import (
	"context"
	"sync"

	"github.com/dkeye/Meet/internal/domain"
	"github.com/rs/zerolog/log"
)

type MemoryStore struct {
	mu       sync.RWMutex
	strict   bool
	meetings map[domain.SessionID]*Meeting
	archives map[domain.SessionID]domain.Archive
}

// NewMemoryStore returns an in-process directory. Archives are kept in memory
// and readable through Archive.
func NewMemoryStore(strict bool) *MemoryStore {
	return &MemoryStore{
		strict:   strict,
		meetings: make(map[domain.SessionID]*Meeting),
		archives: make(map[domain.SessionID]domain.Archive),
	}
}

func (s *MemoryStore) Register(ctx context.Context, id domain.SessionID, hostEmail string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.meetings[id] = &Meeting{ID: id, Exists: true, Active: true, HostEmail: hostEmail}
	return nil
}

func (s *MemoryStore) Lookup(ctx context.Context, id domain.SessionID) (Meeting, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if m, ok := s.meetings[id]; ok {
		return *m, nil
	}
	if s.strict {
		return Meeting{ID: id}, nil
	}
	return Meeting{ID: id, Exists: true, Active: true}, nil
}

func (s *MemoryStore) IsHostIdentity(ctx context.Context, id domain.SessionID, who domain.Identity) (bool, error) {
	m, err := s.Lookup(ctx, id)
	if err != nil {
		return false, err
	}
	return hostMatches(m.HostEmail, who), nil
}

func (s *MemoryStore) SessionEnded(ctx context.Context, archive domain.Archive) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.meetings[archive.SessionID]
	if !ok {
		m = &Meeting{ID: archive.SessionID, Exists: true}
		s.meetings[archive.SessionID] = m
	}
	if !archive.Interrupted {
		m.Active = false
	}
	s.archives[archive.SessionID] = archive
	log.Info().Str("module", "meeting.memory").Str("sid", string(archive.SessionID)).Str("reason", archive.Reason).Bool("interrupted", archive.Interrupted).Msg("meeting archived")
	return nil
}

// Archive returns the stored archive of an ended meeting.
func (s *MemoryStore) Archive(ctx context.Context, id domain.SessionID) (domain.Archive, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	a, ok := s.archives[id]
	return a, ok, nil
}

func (s *MemoryStore) Close() error { return nil }
