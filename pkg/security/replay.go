// Copyright 2026 © The SINP Authors
// SPDX-License-Identifier: Apache-2.0

package security

import (
	"context"
	"time"

	"github.com/jllopis/sinp/pkg/errors"
)

const (
	// DefaultReplayWindow is how old a request timestamp may be.
	DefaultReplayWindow = 5 * time.Second
	// DefaultClockSkew is how far in the future a timestamp may be.
	DefaultClockSkew = 2 * time.Second
)

// ReplayStore remembers nonces for a bounded time.
type ReplayStore interface {
	// Remember records nonce for ttl. It returns false when the nonce is
	// already present.
	Remember(ctx context.Context, nonce string, ttl time.Duration) (bool, error)
}

// ReplayGuard rejects stale, future-dated and repeated requests. One guard
// is shared by every session of a server instance.
type ReplayGuard struct {
	store  ReplayStore
	window time.Duration
	skew   time.Duration
	now    func() time.Time
}

// ReplayOption configures a ReplayGuard.
type ReplayOption func(*ReplayGuard)

// WithWindow sets the accepted age W of a request timestamp.
func WithWindow(d time.Duration) ReplayOption {
	return func(g *ReplayGuard) {
		if d > 0 {
			g.window = d
		}
	}
}

// WithClockSkew sets the accepted future drift of a request timestamp.
func WithClockSkew(d time.Duration) ReplayOption {
	return func(g *ReplayGuard) {
		if d >= 0 {
			g.skew = d
		}
	}
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) ReplayOption {
	return func(g *ReplayGuard) {
		if now != nil {
			g.now = now
		}
	}
}

// NewReplayGuard creates a guard over store.
func NewReplayGuard(store ReplayStore, opts ...ReplayOption) *ReplayGuard {
	g := &ReplayGuard{
		store:  store,
		window: DefaultReplayWindow,
		skew:   DefaultClockSkew,
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// Window returns the configured replay window.
func (g *ReplayGuard) Window() time.Duration {
	return g.window
}

// TTL is how long a nonce must be retained: a timestamp accepted at the
// future edge stays acceptable for skew+window, plus one second of epoch
// truncation.
func (g *ReplayGuard) TTL() time.Duration {
	return g.window + g.skew + time.Second
}

// Check accepts a request timestamp (epoch seconds) and nonce exactly once
// within the window.
func (g *ReplayGuard) Check(ctx context.Context, nonce string, timestamp int64) error {
	now := g.now()
	sent := time.Unix(timestamp, 0)
	if sent.Before(now.Add(-g.window)) {
		return errors.New(errors.CodeReplayDetected, "stale timestamp", nil).
			WithContext("age", now.Sub(sent).String()).
			WithContext("window", g.window.String())
	}
	if sent.After(now.Add(g.skew)) {
		return errors.New(errors.CodeReplayDetected, "timestamp in the future", nil).
			WithContext("drift", sent.Sub(now).String())
	}
	fresh, err := g.store.Remember(ctx, nonce, g.TTL())
	if err != nil {
		if se := errors.AsSinpError(err); se.Code != errors.CodeInternal {
			return se
		}
		return errors.New(errors.CodeInternal, "replay store unavailable", err).WithRecoverable(true)
	}
	if !fresh {
		return errors.New(errors.CodeReplayDetected, "nonce already seen", nil).
			WithContext("nonce", nonce)
	}
	return nil
}
