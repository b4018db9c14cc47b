// Copyright 2026 © The SINP Authors
// SPDX-License-Identifier: Apache-2.0

package security

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// DefaultRedisPrefix namespaces nonce keys.
const DefaultRedisPrefix = "sinp:nonce:"

// RedisReplayStore shares the nonce set between server instances using
// SET NX with an expiry.
type RedisReplayStore struct {
	client redis.UniversalClient
	prefix string
}

// NewRedisReplayStore wraps an existing client.
func NewRedisReplayStore(client redis.UniversalClient, prefix string) *RedisReplayStore {
	if prefix == "" {
		prefix = DefaultRedisPrefix
	}
	return &RedisReplayStore{client: client, prefix: prefix}
}

// DialRedisReplayStore connects to addr and verifies the connection.
func DialRedisReplayStore(ctx context.Context, addr, password string, db int, prefix string) (*RedisReplayStore, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("redis ping %s: %w", addr, err)
	}
	return NewRedisReplayStore(client, prefix), nil
}

// Remember implements ReplayStore.
func (s *RedisReplayStore) Remember(ctx context.Context, nonce string, ttl time.Duration) (bool, error) {
	ok, err := s.client.SetNX(ctx, s.prefix+nonce, 1, ttl).Result()
	if err != nil {
		return false, fmt.Errorf("redis setnx: %w", err)
	}
	return ok, nil
}

// Ping checks connectivity for health reporting.
func (s *RedisReplayStore) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

// Close releases the client.
func (s *RedisReplayStore) Close() error {
	return s.client.Close()
}
