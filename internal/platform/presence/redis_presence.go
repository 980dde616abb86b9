// Package presence implements the connection presence cache on Redis.
package presence

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/ruchik19/GuardianGrid/pkg/emergency"
)

// presenceTTL guards against entries leaking if a server instance dies
// without unregistering its connections.
const presenceTTL = 24 * time.Hour

// ErrNotPresent is returned by Fetch when no presence entry exists.
var ErrNotPresent = errors.New("connection not present")

// redisClient defines the interface we need from go-redis.
type redisClient interface {
	Set(ctx context.Context, key string, value interface{}, expiration time.Duration) *redis.StatusCmd
	Get(ctx context.Context, key string) *redis.StringCmd
	Del(ctx context.Context, keys ...string) *redis.IntCmd
	Close() error
}

// RedisPresenceCache implements emergency.PresenceCache using Redis. One key
// per live connection, carrying the owning server instance so a future
// cross-instance backplane could route deliveries.
type RedisPresenceCache struct {
	client redisClient
	logger zerolog.Logger
}

// NewRedisPresenceCache is the constructor for the RedisPresenceCache.
func NewRedisPresenceCache(client redisClient, logger zerolog.Logger) (*RedisPresenceCache, error) {
	if client == nil {
		return nil, fmt.Errorf("redis client cannot be nil")
	}
	return &RedisPresenceCache{
		client: client,
		logger: logger.With().Str("component", "RedisPresenceCache").Logger(),
	}, nil
}

// Set records a live connection.
func (c *RedisPresenceCache) Set(ctx context.Context, connectionID string, info emergency.ConnectionInfo) error {
	payload, err := json.Marshal(info)
	if err != nil {
		return fmt.Errorf("failed to marshal presence info: %w", err)
	}
	if err := c.client.Set(ctx, presenceKey(connectionID), payload, presenceTTL).Err(); err != nil {
		return fmt.Errorf("failed to set presence for %s: %w", connectionID, err)
	}
	return nil
}

// Delete removes a connection's presence entry.
func (c *RedisPresenceCache) Delete(ctx context.Context, connectionID string) error {
	if err := c.client.Del(ctx, presenceKey(connectionID)).Err(); err != nil {
		return fmt.Errorf("failed to delete presence for %s: %w", connectionID, err)
	}
	return nil
}

// Fetch returns the presence entry for a connection, or ErrNotPresent.
func (c *RedisPresenceCache) Fetch(ctx context.Context, connectionID string) (emergency.ConnectionInfo, error) {
	payload, err := c.client.Get(ctx, presenceKey(connectionID)).Result()
	if errors.Is(err, redis.Nil) {
		return emergency.ConnectionInfo{}, ErrNotPresent
	}
	if err != nil {
		return emergency.ConnectionInfo{}, fmt.Errorf("failed to fetch presence for %s: %w", connectionID, err)
	}

	var info emergency.ConnectionInfo
	if err := json.Unmarshal([]byte(payload), &info); err != nil {
		return emergency.ConnectionInfo{}, fmt.Errorf("failed to unmarshal presence for %s: %w", connectionID, err)
	}
	return info, nil
}

// Close releases the underlying client.
func (c *RedisPresenceCache) Close() error {
	return c.client.Close()
}

func presenceKey(connectionID string) string {
	return "presence:" + connectionID
}
