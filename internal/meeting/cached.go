package meeting

import (
	"context"
	"sync"
	"time"

	"github.com/dkeye/Meet/internal/domain"
	"golang.org/x/sync/singleflight"
)

const lookupTimeout = 5 * time.Second

// CachedStore fronts a Store with a short-lived lookup cache. Concurrent
// lookups of the same id share one backend call. Teardowns invalidate.
type CachedStore struct {
	Store
	ttl time.Duration
	now func() time.Time
	sf  singleflight.Group

	mu    sync.RWMutex
	cache map[domain.SessionID]cachedMeeting
}

type cachedMeeting struct {
	meeting   Meeting
	expiresAt time.Time
}

func NewCachedStore(inner Store, ttl time.Duration) *CachedStore {
	return &CachedStore{
		Store: inner,
		ttl:   ttl,
		now:   time.Now,
		cache: make(map[domain.SessionID]cachedMeeting),
	}
}

func (s *CachedStore) Lookup(ctx context.Context, id domain.SessionID) (Meeting, error) {
	if m, ok := s.fromCache(id); ok {
		return m, nil
	}
	ch := s.sf.DoChan(string(id), func() (any, error) {
		// Shared by every waiter, so one caller giving up must not fail the rest.
		lctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), lookupTimeout)
		defer cancel()
		m, err := s.Store.Lookup(lctx, id)
		if err != nil {
			return Meeting{}, err
		}
		s.mu.Lock()
		s.cache[id] = cachedMeeting{meeting: m, expiresAt: s.now().Add(s.ttl)}
		s.mu.Unlock()
		return m, nil
	})
	select {
	case r := <-ch:
		if r.Err != nil {
			return Meeting{}, r.Err
		}
		return r.Val.(Meeting), nil
	case <-ctx.Done():
		return Meeting{}, ctx.Err()
	}
}

func (s *CachedStore) IsHostIdentity(ctx context.Context, id domain.SessionID, who domain.Identity) (bool, error) {
	m, err := s.Lookup(ctx, id)
	if err != nil {
		return false, err
	}
	return hostMatches(m.HostEmail, who), nil
}

func (s *CachedStore) Register(ctx context.Context, id domain.SessionID, hostEmail string) error {
	s.Invalidate(id)
	return s.Store.Register(ctx, id, hostEmail)
}

func (s *CachedStore) SessionEnded(ctx context.Context, archive domain.Archive) error {
	s.Invalidate(archive.SessionID)
	return s.Store.SessionEnded(ctx, archive)
}

// Invalidate drops id from the cache.
func (s *CachedStore) Invalidate(id domain.SessionID) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.cache, id)
}

func (s *CachedStore) fromCache(id domain.SessionID) (Meeting, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	c, ok := s.cache[id]
	if !ok || !s.now().Before(c.expiresAt) {
		return Meeting{}, false
	}
	return c.meeting, true
}
