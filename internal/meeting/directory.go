// Package meeting is the boundary to the meeting metadata layer: it answers
// whether a meeting may be joined and who may host it, and receives the final
// archive of every torn down session.
package meeting

import (
	"context"
	"errors"
	"strings"

	"github.com/dkeye/Meet/internal/domain"
	"github.com/redis/go-redis/v9"
)

// Meeting is what the directory knows about a session id.
type Meeting struct {
	ID        domain.SessionID `json:"id"`
	Exists    bool             `json:"exists"`
	Active    bool             `json:"active"`
	HostEmail string           `json:"hostEmail,omitempty"`
}

// Directory is consumed by the coordinator before a join is accepted.
type Directory interface {
	Lookup(ctx context.Context, id domain.SessionID) (Meeting, error)
	IsHostIdentity(ctx context.Context, id domain.SessionID, who domain.Identity) (bool, error)
}

// TeardownHook is invoked once per ended session.
type TeardownHook interface {
	SessionEnded(ctx context.Context, archive domain.Archive) error
}

// ArchiveReader serves the archives written through TeardownHook.
type ArchiveReader interface {
	Archive(ctx context.Context, id domain.SessionID) (domain.Archive, bool, error)
}

// Store is a directory that also records teardowns.
type Store interface {
	Directory
	TeardownHook
	ArchiveReader
	// Register makes id joinable. An empty hostEmail accepts any host claim.
	Register(ctx context.Context, id domain.SessionID, hostEmail string) error
	Close() error
}

type StoreType string

const (
	StoreTypeMemory StoreType = "memory"
	StoreTypeRedis  StoreType = "redis"
)

var (
	ErrInvalidStoreType = errors.New("invalid directory driver")
	ErrInvalidConfig    = errors.New("invalid directory config")
)

// StoreOption configures NewStore.
type StoreOption func(*storeConfig)

type storeConfig struct {
	strict      bool
	redisClient *redis.Client
}

// WithStrict rejects session ids that were never registered.
// Without it any unknown id is treated as an active meeting.
func WithStrict(strict bool) StoreOption {
	return func(c *storeConfig) { c.strict = strict }
}

// WithRedisClient sets the client for the redis driver.
func WithRedisClient(client *redis.Client) StoreOption {
	return func(c *storeConfig) { c.redisClient = client }
}

// NewStore builds a directory for the given driver.
func NewStore(t StoreType, opts ...StoreOption) (Store, error) {
	cfg := &storeConfig{}
	for _, opt := range opts {
		opt(cfg)
	}

	switch t {
	case StoreTypeMemory, "":
		return NewMemoryStore(cfg.strict), nil
	case StoreTypeRedis:
		if cfg.redisClient == nil {
			return nil, ErrInvalidConfig
		}
		return NewRedisStore(cfg.redisClient, cfg.strict), nil
	default:
		return nil, ErrInvalidStoreType
	}
}

func hostMatches(hostEmail string, who domain.Identity) bool {
	if !who.IsHost {
		return false
	}
	if hostEmail == "" {
		return true
	}
	return strings.EqualFold(strings.TrimSpace(hostEmail), strings.TrimSpace(who.Email))
}
