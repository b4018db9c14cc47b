// Copyright 2026 © The SINP Authors
// SPDX-License-Identifier: Apache-2.0

package server

import (
	"net"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// defaultLimiterIdle is how long a peer limiter survives without traffic.
const defaultLimiterIdle = 5 * time.Minute

// RateLimiter applies a token bucket per peer IP.
type RateLimiter struct {
	limit rate.Limit
	burst int
	idle  time.Duration
	now   func() time.Time

	mu          sync.Mutex
	peers       map[string]*peerLimiter
	lastCleanup time.Time
}

type peerLimiter struct {
	limiter *rate.Limiter
	seen    time.Time
}

// NewRateLimiter allows rps messages per second per peer with the given
// burst. It returns nil when rps is zero, and a nil limiter allows
// everything.
func NewRateLimiter(rps float64, burst int) *RateLimiter {
	if rps <= 0 {
		return nil
	}
	if burst < 1 {
		burst = 1
	}
	return &RateLimiter{
		limit: rate.Limit(rps),
		burst: burst,
		idle:  defaultLimiterIdle,
		now:   time.Now,
		peers: make(map[string]*peerLimiter),
	}
}

// Allow reports whether a message from addr may proceed.
func (l *RateLimiter) Allow(addr net.Addr) bool {
	if l == nil {
		return true
	}
	key := peerKey(addr)
	now := l.now()

	l.mu.Lock()
	defer l.mu.Unlock()
	if now.Sub(l.lastCleanup) > l.idle {
		l.cleanupLocked(now)
	}
	p, ok := l.peers[key]
	if !ok {
		p = &peerLimiter{limiter: rate.NewLimiter(l.limit, l.burst)}
		l.peers[key] = p
	}
	p.seen = now
	return p.limiter.AllowN(now, 1)
}

// Len returns the number of tracked peers.
func (l *RateLimiter) Len() int {
	if l == nil {
		return 0
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.peers)
}

func (l *RateLimiter) cleanupLocked(now time.Time) {
	for key, p := range l.peers {
		if now.Sub(p.seen) > l.idle {
			delete(l.peers, key)
		}
	}
	l.lastCleanup = now
}

func peerKey(addr net.Addr) string {
	if addr == nil {
		return ""
	}
	host, _, err := net.SplitHostPort(addr.String())
	if err != nil {
		return addr.String()
	}
	return host
}
