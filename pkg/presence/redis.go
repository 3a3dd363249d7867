package presence

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/redis/go-redis/v9"
)

// OnlineUsersKey is the Redis set mirroring the registry.
const OnlineUsersKey = "online_users"

type setStore interface {
	SAdd(ctx context.Context, key string, members ...interface{}) *redis.IntCmd
	SRem(ctx context.Context, key string, members ...interface{}) *redis.IntCmd
	SMembers(ctx context.Context, key string) *redis.StringSliceCmd
	Del(ctx context.Context, keys ...string) *redis.IntCmd
}

// RedisMirror copies registry transitions into a Redis set so other
// processes can answer presence queries. It is best effort: failures are
// logged and the in-memory registry stays authoritative.
type RedisMirror struct {
	rdb     setStore
	key     string
	timeout time.Duration
	logger  *slog.Logger
}

func NewRedisMirror(rdb setStore, logger *slog.Logger) *RedisMirror {
	return &RedisMirror{
		rdb:     rdb,
		key:     OnlineUsersKey,
		timeout: 2 * time.Second,
		logger:  logger.With("component", "presence-mirror"),
	}
}

// Reset drops the mirrored set. The gateway calls it on start since a
// restarted registry is empty.
func (m *RedisMirror) Reset(ctx context.Context) error {
	if err := m.rdb.Del(ctx, m.key).Err(); err != nil {
		return fmt.Errorf("presence: reset %s: %w", m.key, err)
	}
	return nil
}

func (m *RedisMirror) Online(userID string) {
	ctx, cancel := context.WithTimeout(context.Background(), m.timeout)
	defer cancel()
	if err := m.rdb.SAdd(ctx, m.key, userID).Err(); err != nil {
		m.logger.Warn("failed to mirror online user", "user_id", userID, "error", err)
	}
}

func (m *RedisMirror) Offline(userID string) {
	ctx, cancel := context.WithTimeout(context.Background(), m.timeout)
	defer cancel()
	if err := m.rdb.SRem(ctx, m.key, userID).Err(); err != nil {
		m.logger.Warn("failed to mirror offline user", "user_id", userID, "error", err)
	}
}

// Members reads the mirrored set, sorted.
func (m *RedisMirror) Members(ctx context.Context) ([]string, error) {
	users, err := m.rdb.SMembers(ctx, m.key).Result()
	if err != nil {
		return nil, fmt.Errorf("presence: read %s: %w", m.key, err)
	}
	sort.Strings(users)
	return users, nil
}
