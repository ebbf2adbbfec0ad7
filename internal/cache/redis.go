// Package cache keeps resolved workflow views in Redis so dashboards and
// agents do not re-run the override merge on every read.
package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"vizdots/api/internal/workflow"
)

const (
	keyPrefix  = "effwf:"
	defaultTTL = 10 * time.Minute
)

// RedisCache implements workflow.Cache.
type RedisCache struct {
	client *redis.Client
	prefix string
	ttl    time.Duration
}

// NewRedisCache connects to redisURL and verifies the connection.
func NewRedisCache(redisURL string, ttl time.Duration) (*RedisCache, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}

	client := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("connect to redis: %w", err)
	}

	return NewRedisCacheWithClient(client, ttl), nil
}

// NewRedisCacheWithClient wraps an existing client. A non-positive ttl uses
// the default.
func NewRedisCacheWithClient(client *redis.Client, ttl time.Duration) *RedisCache {
	if ttl <= 0 {
		ttl = defaultTTL
	}
	return &RedisCache{client: client, prefix: keyPrefix, ttl: ttl}
}

func (c *RedisCache) key(workflowID string) string {
	return c.prefix + workflowID
}

// entry is the stored value: the view plus the revision it was resolved at.
type entry struct {
	Revision string                     `json:"revision"`
	View     workflow.EffectiveWorkflow `json:"view"`
}

// Get returns nil, nil on a miss or when the entry was stored under a
// different revision.
func (c *RedisCache) Get(ctx context.Context, workflowID, revision string) (*workflow.EffectiveWorkflow, error) {
	raw, err := c.client.Get(ctx, c.key(workflowID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get cached workflow: %w", err)
	}

	var e entry
	if err := json.Unmarshal(raw, &e); err != nil {
		return nil, fmt.Errorf("unmarshal cached workflow: %w", err)
	}
	if e.Revision != revision {
		return nil, nil
	}
	return &e.View, nil
}

func (c *RedisCache) Set(ctx context.Context, revision string, view workflow.EffectiveWorkflow) error {
	raw, err := json.Marshal(entry{Revision: revision, View: view})
	if err != nil {
		return fmt.Errorf("marshal workflow: %w", err)
	}
	if err := c.client.Set(ctx, c.key(view.ID), raw, c.ttl).Err(); err != nil {
		return fmt.Errorf("cache workflow: %w", err)
	}
	return nil
}

// Invalidate drops the cached view. Missing keys are not an error.
func (c *RedisCache) Invalidate(ctx context.Context, workflowID string) error {
	if err := c.client.Del(ctx, c.key(workflowID)).Err(); err != nil {
		return fmt.Errorf("invalidate workflow: %w", err)
	}
	return nil
}

func (c *RedisCache) Ping(ctx context.Context) error {
	return c.client.Ping(ctx).Err()
}

func (c *RedisCache) Close() error {
	return c.client.Close()
}
