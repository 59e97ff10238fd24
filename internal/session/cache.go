package session

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"

	"github.com/agentic-nwb/orchestrator/internal/apierrors"
	"github.com/agentic-nwb/orchestrator/internal/logging"
)

// Cache is the fast tier of the dual-tier store (§4.1). It is
// deliberately narrow: Get/Set/Delete keyed by session_id, with TTL
// enforced at the Set boundary, mirroring core.RedisClient's
// namespaced Get/Set/Expire trio.
type Cache interface {
	Get(ctx context.Context, id string) (*Context, bool, error)
	Set(ctx context.Context, ctxVal *Context, ttl time.Duration) error
	Delete(ctx context.Context, id string) error
}

const cacheKeyPrefix = "session:"

// RedisCache is the production cache tier, backed by go-redis. The
// key layout (`session:{id}`) and per-entry TTL match §6.4's
// persisted-layout contract.
type RedisCache struct {
	client *redis.Client
	logger logging.Logger
}

// NewRedisCache dials redisURL (a redis:// URL, as accepted by
// redis.ParseURL) and wraps it for session storage.
func NewRedisCache(redisURL string, logger logging.Logger) (*RedisCache, error) {
	if logger == nil {
		logger = logging.NoOp{}
	}
	opt, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, apierrors.New("session.NewRedisCache", "config", err)
	}
	client := redis.NewClient(opt)
	return &RedisCache{client: client, logger: logger.WithComponent("session/cache")}, nil
}

// NewRedisCacheFromClient wraps an already-constructed client -
// used by tests against miniredis.
func NewRedisCacheFromClient(client *redis.Client, logger logging.Logger) *RedisCache {
	if logger == nil {
		logger = logging.NoOp{}
	}
	return &RedisCache{client: client, logger: logger.WithComponent("session/cache")}
}

func (c *RedisCache) key(id string) string { return cacheKeyPrefix + id }

func (c *RedisCache) Get(ctx context.Context, id string) (*Context, bool, error) {
	raw, err := c.client.Get(ctx, c.key(id)).Result()
	if err == redis.Nil {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, apierrors.New("session.Cache.Get", "backend", err).WithID(id)
	}
	var out Context
	if err := json.Unmarshal([]byte(raw), &out); err != nil {
		return nil, false, apierrors.New("session.Cache.Get", "corrupt", fmt.Errorf("%w: %v", apierrors.ErrCorruptRecord, err)).WithID(id)
	}
	return &out, true, nil
}

func (c *RedisCache) Set(ctx context.Context, ctxVal *Context, ttl time.Duration) error {
	data, err := json.Marshal(ctxVal)
	if err != nil {
		return apierrors.New("session.Cache.Set", "encode", err).WithID(ctxVal.SessionID)
	}
	if err := c.client.Set(ctx, c.key(ctxVal.SessionID), data, ttl).Err(); err != nil {
		return apierrors.New("session.Cache.Set", "backend", err).WithID(ctxVal.SessionID)
	}
	return nil
}

func (c *RedisCache) Delete(ctx context.Context, id string) error {
	if err := c.client.Del(ctx, c.key(id)).Err(); err != nil {
		return apierrors.New("session.Cache.Delete", "backend", err).WithID(id)
	}
	return nil
}

// Ping reports whether the cache tier is reachable, used by the
// orchestrator's /health handler (§6.1's redis_connected field).
func (c *RedisCache) Ping(ctx context.Context) bool {
	return c.client.Ping(ctx).Err() == nil
}
