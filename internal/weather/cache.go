// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Quill Contributors

package weather

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/samber/oops"
)

// Cache stores reports by key.
type Cache interface {
	// Get returns the cached report and whether one was found.
	Get(ctx context.Context, key string) (*Report, bool, error)
	Set(ctx context.Context, key string, report *Report, ttl time.Duration) error
}

// RedisCache implements Cache on Redis, storing reports as JSON.
type RedisCache struct {
	client redis.UniversalClient
}

var _ Cache = (*RedisCache)(nil)

// NewRedisCache creates a RedisCache on an existing client.
func NewRedisCache(client redis.UniversalClient) *RedisCache {
	return &RedisCache{client: client}
}

// DialRedis connects to addr and verifies the connection.
func DialRedis(ctx context.Context, addr, password string) (*redis.Client, error) {
	client := redis.NewClient(&redis.Options{
		Addr:         addr,
		Password:     password,
		MaxRetries:   3,
		DialTimeout:  5 * time.Second,
		ReadTimeout:  3 * time.Second,
		WriteTimeout: 3 * time.Second,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, oops.Code("REDIS_CONNECT_FAILED").With("addr", addr).Wrap(err)
	}
	return client, nil
}

// Get implements Cache.
func (c *RedisCache) Get(ctx context.Context, key string) (*Report, bool, error) {
	raw, err := c.client.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, oops.Code("WEATHER_CACHE_READ_FAILED").With("key", key).Wrap(err)
	}

	var report Report
	if err := json.Unmarshal(raw, &report); err != nil {
		return nil, false, oops.Code("WEATHER_CACHE_CORRUPT").With("key", key).Wrap(err)
	}
	return &report, true, nil
}

// Set implements Cache.
func (c *RedisCache) Set(ctx context.Context, key string, report *Report, ttl time.Duration) error {
	raw, err := json.Marshal(report)
	if err != nil {
		return oops.Code("WEATHER_CACHE_WRITE_FAILED").With("key", key).Wrap(err)
	}
	if err := c.client.Set(ctx, key, raw, ttl).Err(); err != nil {
		return oops.Code("WEATHER_CACHE_WRITE_FAILED").With("key", key).Wrap(err)
	}
	return nil
}
