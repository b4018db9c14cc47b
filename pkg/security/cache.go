// Copyright 2026 © The SINP Authors
// SPDX-License-Identifier: Apache-2.0

package security

import (
	"strings"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
)

const (
	DefaultCacheSize = 1024
	DefaultCacheTTL  = 10 * time.Minute
)

// SemanticCache memoizes values by semantic key with LRU and TTL eviction.
// It is safe for concurrent use.
type SemanticCache[V any] struct {
	lru *expirable.LRU[string, V]
}

// NewSemanticCache creates a cache of at most size entries living ttl each.
func NewSemanticCache[V any](size int, ttl time.Duration) *SemanticCache[V] {
	if size <= 0 {
		size = DefaultCacheSize
	}
	if ttl <= 0 {
		ttl = DefaultCacheTTL
	}
	return &SemanticCache[V]{lru: expirable.NewLRU[string, V](size, nil, ttl)}
}

// Get returns the cached value for key.
func (c *SemanticCache[V]) Get(key string) (V, bool) {
	return c.lru.Get(key)
}

// Add stores value under key.
func (c *SemanticCache[V]) Add(key string, value V) {
	c.lru.Add(key, value)
}

// Remove drops key and reports whether it was present.
func (c *SemanticCache[V]) Remove(key string) bool {
	return c.lru.Remove(key)
}

// Len returns the number of live entries.
func (c *SemanticCache[V]) Len() int {
	return c.lru.Len()
}

// Purge empties the cache.
func (c *SemanticCache[V]) Purge() {
	c.lru.Purge()
}

// CacheKey joins the semantic hash of text with scoping parts, such as a
// registry version, so entries die with the data they were computed from.
func CacheKey(text string, scope ...string) string {
	if len(scope) == 0 {
		return SemanticHash(text)
	}
	return SemanticHash(text) + ":" + strings.Join(scope, ":")
}
