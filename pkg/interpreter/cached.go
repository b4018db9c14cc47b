// Copyright 2026 © The SINP Authors
// SPDX-License-Identifier: Apache-2.0

package interpreter

import (
	"context"
	"strconv"

	"github.com/jllopis/sinp/pkg/capability"
	"github.com/jllopis/sinp/pkg/security"
)

// Cached memoizes another interpreter by the semantic hash of the intent
// and the registry version, so equivalent phrasings of an intent against
// the same registry are interpreted once.
type Cached struct {
	inner Interpreter
	cache *security.SemanticCache[[]Match]
}

// NewCached wraps inner with cache.
func NewCached(inner Interpreter, cache *security.SemanticCache[[]Match]) *Cached {
	return &Cached{inner: inner, cache: cache}
}

// Interpret implements Interpreter. Errors are not cached.
func (c *Cached) Interpret(ctx context.Context, text string, snap *capability.Snapshot) ([]Match, error) {
	key := security.CacheKey(text, strconv.FormatUint(snap.CatalogVersion(), 10))
	if hit, ok := c.cache.Get(key); ok {
		return append([]Match(nil), hit...), nil
	}
	matches, err := c.inner.Interpret(ctx, text, snap)
	if err != nil {
		return nil, err
	}
	c.cache.Add(key, append([]Match(nil), matches...))
	return matches, nil
}
