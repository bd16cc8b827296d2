// Package contextcache keeps a bounded window of recent conversation turns
// per (user, room) in Redis.
//
// The cache is best-effort. Every operation logs and swallows storage errors
// so the chat path keeps working with an empty context when Redis is down.
package contextcache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/capitalize-ai/botchat/internal/model"
	"github.com/capitalize-ai/botchat/pkg/logger"
	"github.com/capitalize-ai/botchat/pkg/metrics"
)

const keyPrefix = "context:"

// Cache is a Redis-backed context window store.
type Cache struct {
	client     redis.UniversalClient
	maxTurns   int
	defaultTTL time.Duration
	log        *logger.Logger
}

// New creates a cache that keeps at most maxTurns turns per key and expires
// fresh keys after defaultTTL.
func New(client redis.UniversalClient, maxTurns int, defaultTTL time.Duration, log *logger.Logger) *Cache {
	return &Cache{
		client:     client,
		maxTurns:   maxTurns,
		defaultTTL: defaultTTL,
		log:        log,
	}
}

// Append adds turn to the (userID, room) window, truncating to the newest
// maxTurns entries. An existing key keeps its remaining TTL; a new or
// non-expiring key gets the default TTL.
func (c *Cache) Append(ctx context.Context, userID, room string, turn model.Turn) {
	if err := c.append(ctx, userID, room, turn); err != nil {
		c.fail("append", userID, room, err)
	}
}

func (c *Cache) append(ctx context.Context, userID, room string, turn model.Turn) error {
	key := Key(userID, room)

	var getCmd *redis.StringCmd
	var ttlCmd *redis.DurationCmd
	_, err := c.client.Pipelined(ctx, func(pipe redis.Pipeliner) error {
		getCmd = pipe.Get(ctx, key)
		ttlCmd = pipe.TTL(ctx, key)
		return nil
	})
	if err != nil && !errors.Is(err, redis.Nil) {
		return fmt.Errorf("read context: %w", err)
	}

	var cached model.Context
	raw, err := getCmd.Bytes()
	switch {
	case errors.Is(err, redis.Nil):
	case err != nil:
		return fmt.Errorf("read context: %w", err)
	default:
		if err := json.Unmarshal(raw, &cached); err != nil {
			return fmt.Errorf("decode context: %w", err)
		}
	}

	cached.Messages = append(cached.Messages, turn)
	if over := len(cached.Messages) - c.maxTurns; over > 0 {
		cached.Messages = cached.Messages[over:]
	}

	ttl := c.defaultTTL
	if remaining := ttlCmd.Val(); ttlCmd.Err() == nil && remaining > 0 {
		ttl = remaining
	}

	val, err := json.Marshal(cached)
	if err != nil {
		return fmt.Errorf("encode context: %w", err)
	}
	if err := c.client.Set(ctx, key, val, ttl).Err(); err != nil {
		return fmt.Errorf("write context: %w", err)
	}
	return nil
}

// Get returns the cached turns for (userID, room), oldest first. It returns
// an empty slice when the key is absent or the store fails.
func (c *Cache) Get(ctx context.Context, userID, room string) []model.Turn {
	raw, err := c.client.Get(ctx, Key(userID, room)).Bytes()
	if errors.Is(err, redis.Nil) {
		return []model.Turn{}
	}
	if err != nil {
		c.fail("get", userID, room, err)
		return []model.Turn{}
	}

	var cached model.Context
	if err := json.Unmarshal(raw, &cached); err != nil {
		c.fail("get", userID, room, fmt.Errorf("decode context: %w", err))
		return []model.Turn{}
	}
	if cached.Messages == nil {
		return []model.Turn{}
	}
	return cached.Messages
}

// Clear deletes the (userID, room) window. Clearing a missing key is a no-op.
func (c *Cache) Clear(ctx context.Context, userID, room string) {
	if err := c.client.Del(ctx, Key(userID, room)).Err(); err != nil {
		c.fail("clear", userID, room, err)
		return
	}
	c.log.Debug("context cache cleared", zap.String("user_id", userID), zap.String("room", room))
}

func (c *Cache) fail(op, userID, room string, err error) {
	metrics.CacheErrorsTotal.WithLabelValues(op).Inc()
	c.log.Error("context cache "+op+" failed",
		zap.String("user_id", userID),
		zap.String("room", room),
		zap.Error(err),
	)
}

// Key returns the Redis key for a (user, room) window.
func Key(userID, room string) string {
	return keyPrefix + userID + ":" + room
}
