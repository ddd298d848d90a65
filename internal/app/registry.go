package app

import (
	"context"
	"sync"

	"github.com/dkeye/Meet/internal/core"
	"github.com/dkeye/Meet/internal/domain"
	"github.com/rs/zerolog/log"
)

type connEntry struct {
	SessionID domain.SessionID
	Conn      core.SignalConnection
	Cancel    context.CancelFunc
}

// ConnRegistry maps open connections to the session they joined, if any.
type ConnRegistry struct {
	mu    sync.RWMutex
	conns map[domain.ConnectionID]*connEntry
}

func NewConnRegistry() *ConnRegistry {
	return &ConnRegistry{conns: make(map[domain.ConnectionID]*connEntry)}
}

// Register records an open connection. cancel stops its pumps and may be nil.
func (r *ConnRegistry) Register(id domain.ConnectionID, conn core.SignalConnection, cancel context.CancelFunc) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.conns[id] = &connEntry{Conn: conn, Cancel: cancel}
	log.Debug().Str("module", "app.conns").Str("conn", string(id)).Msg("registered connection")
}

func (r *ConnRegistry) Unregister(id domain.ConnectionID) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.conns, id)
	log.Debug().Str("module", "app.conns").Str("conn", string(id)).Msg("unregistered connection")
}

func (r *ConnRegistry) Conn(id domain.ConnectionID) (core.SignalConnection, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if e, ok := r.conns[id]; ok {
		return e.Conn, true
	}
	return nil, false
}

// Attach binds a registered connection to sid.
func (r *ConnRegistry) Attach(id domain.ConnectionID, sid domain.SessionID) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.conns[id]
	if !ok {
		return false
	}
	e.SessionID = sid
	log.Info().Str("module", "app.conns").Str("conn", string(id)).Str("sid", string(sid)).Msg("attached to session")
	return true
}

// Detach clears the session binding and returns the session it had.
func (r *ConnRegistry) Detach(id domain.ConnectionID) (domain.SessionID, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.conns[id]
	if !ok || e.SessionID == "" {
		return "", false
	}
	sid := e.SessionID
	e.SessionID = ""
	return sid, true
}

// DetachFrom clears the binding of id only while it still points at sid.
func (r *ConnRegistry) DetachFrom(id domain.ConnectionID, sid domain.SessionID) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.conns[id]
	if !ok || e.SessionID != sid {
		return false
	}
	e.SessionID = ""
	return true
}

func (r *ConnRegistry) SessionOf(id domain.ConnectionID) (domain.SessionID, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.conns[id]
	if !ok || e.SessionID == "" {
		return "", false
	}
	return e.SessionID, true
}

// DetachSession clears every binding to sid and returns the affected ids.
func (r *ConnRegistry) DetachSession(sid domain.SessionID) []domain.ConnectionID {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []domain.ConnectionID
	for id, e := range r.conns {
		if e.SessionID == sid {
			e.SessionID = ""
			out = append(out, id)
		}
	}
	return out
}

func (r *ConnRegistry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.conns)
}

// Cancel stops the pumps of id.
func (r *ConnRegistry) Cancel(id domain.ConnectionID) bool {
	r.mu.RLock()
	e, ok := r.conns[id]
	r.mu.RUnlock()
	if !ok {
		return false
	}
	if e.Cancel != nil {
		e.Cancel()
	}
	log.Info().Str("module", "app.conns").Str("conn", string(id)).Msg("canceled connection")
	return true
}
