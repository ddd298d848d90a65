package meeting

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/dkeye/Meet/internal/domain"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"
)

// Redis key patterns:
// meeting:{id}          HASH    active ("1"|"0"), host_email, ended_at, end_reason
// meeting:{id}:archive  STRING  JSON domain.Archive written on teardown

func meetingKey(id domain.SessionID) string {
	return fmt.Sprintf("meeting:%s", id)
}

func archiveKey(id domain.SessionID) string {
	return fmt.Sprintf("meeting:%s:archive", id)
}

type RedisStore struct {
	client *redis.Client
	strict bool
}

// NewRedisStore returns a directory backed by the meeting metadata hashes the
// rest of the platform writes.
func NewRedisStore(client *redis.Client, strict bool) *RedisStore {
	return &RedisStore{client: client, strict: strict}
}

func (s *RedisStore) Register(ctx context.Context, id domain.SessionID, hostEmail string) error {
	return s.client.HSet(ctx, meetingKey(id), "active", "1", "host_email", hostEmail).Err()
}

func (s *RedisStore) Lookup(ctx context.Context, id domain.SessionID) (Meeting, error) {
	fields, err := s.client.HGetAll(ctx, meetingKey(id)).Result()
	if err != nil {
		return Meeting{}, fmt.Errorf("lookup meeting %s: %w", id, err)
	}
	if len(fields) == 0 {
		if s.strict {
			return Meeting{ID: id}, nil
		}
		return Meeting{ID: id, Exists: true, Active: true}, nil
	}
	return Meeting{
		ID:        id,
		Exists:    true,
		Active:    fields["active"] == "1",
		HostEmail: fields["host_email"],
	}, nil
}

func (s *RedisStore) IsHostIdentity(ctx context.Context, id domain.SessionID, who domain.Identity) (bool, error) {
	m, err := s.Lookup(ctx, id)
	if err != nil {
		return false, err
	}
	return hostMatches(m.HostEmail, who), nil
}

func (s *RedisStore) SessionEnded(ctx context.Context, archive domain.Archive) error {
	data, err := json.Marshal(archive)
	if err != nil {
		return fmt.Errorf("marshal archive: %w", err)
	}
	_, err = s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		fields := []any{
			"ended_at", archive.EndedAt.UTC().Format(time.RFC3339Nano),
			"end_reason", archive.Reason,
		}
		key := meetingKey(archive.SessionID)
		if archive.Interrupted {
			// Open meetings have no hash yet; keep them joinable.
			pipe.HSetNX(ctx, key, "active", "1")
		} else {
			fields = append(fields, "active", "0")
		}
		pipe.HSet(ctx, key, fields...)
		pipe.Set(ctx, archiveKey(archive.SessionID), data, 0)
		return nil
	})
	if err != nil {
		return fmt.Errorf("store archive %s: %w", archive.SessionID, err)
	}
	log.Info().Str("module", "meeting.redis").Str("sid", string(archive.SessionID)).Str("reason", archive.Reason).Bool("interrupted", archive.Interrupted).Msg("meeting archived")
	return nil
}

// Archive reads back a stored archive. ok is false when none exists.
func (s *RedisStore) Archive(ctx context.Context, id domain.SessionID) (domain.Archive, bool, error) {
	val, err := s.client.Get(ctx, archiveKey(id)).Result()
	if errors.Is(err, redis.Nil) {
		return domain.Archive{}, false, nil
	}
	if err != nil {
		return domain.Archive{}, false, err
	}
	var a domain.Archive
	if err := json.Unmarshal([]byte(val), &a); err != nil {
		return domain.Archive{}, false, err
	}
	return a, true, nil
}

func (s *RedisStore) Close() error {
	return s.client.Close()
}
