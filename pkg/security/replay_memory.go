// Copyright 2026 © The SINP Authors
// SPDX-License-Identifier: Apache-2.0

package security

import (
	"context"
	"sync"
	"time"

	"github.com/jllopis/sinp/pkg/errors"
)

// DefaultReplayCapacity bounds the in-memory nonce set.
const DefaultReplayCapacity = 100_000

// MemoryReplayStore is a bounded, time-evicted nonce set for a single
// server instance. Nonces are queued in insertion order; with the constant
// TTL a guard uses, that is expiry order, so expired entries are dropped
// from the front of the queue on every insert.
type MemoryReplayStore struct {
	mu       sync.Mutex
	entries  map[string]time.Time
	queue    []queuedNonce
	head     int
	capacity int
	now      func() time.Time
}

type queuedNonce struct {
	nonce   string
	expires time.Time
}

// NewMemoryReplayStore creates a store holding at most capacity nonces.
func NewMemoryReplayStore(capacity int) *MemoryReplayStore {
	if capacity <= 0 {
		capacity = DefaultReplayCapacity
	}
	return &MemoryReplayStore{
		entries:  make(map[string]time.Time),
		capacity: capacity,
		now:      time.Now,
	}
}

// Remember implements ReplayStore.
func (s *MemoryReplayStore) Remember(_ context.Context, nonce string, ttl time.Duration) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	s.evictLocked(now)
	if exp, ok := s.entries[nonce]; ok && now.Before(exp) {
		return false, nil
	}
	if len(s.entries) >= s.capacity {
		return false, errors.New(errors.CodeRateLimit, "replay cache full", nil).
			WithContext("capacity", s.capacity).
			WithRecoverable(true)
	}
	exp := now.Add(ttl)
	s.entries[nonce] = exp
	s.queue = append(s.queue, queuedNonce{nonce: nonce, expires: exp})
	return true, nil
}

// Len returns the number of retained nonces.
func (s *MemoryReplayStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.entries)
}

// Sweep drops expired nonces and returns how many were removed.
func (s *MemoryReplayStore) Sweep() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.evictLocked(s.now())
}

// evictLocked pops expired entries off the front of the queue. A queued
// entry whose nonce was re-remembered later only releases the queue slot.
func (s *MemoryReplayStore) evictLocked(now time.Time) int {
	removed := 0
	for s.head < len(s.queue) && !now.Before(s.queue[s.head].expires) {
		q := s.queue[s.head]
		s.queue[s.head] = queuedNonce{}
		s.head++
		if exp, ok := s.entries[q.nonce]; ok && exp.Equal(q.expires) {
			delete(s.entries, q.nonce)
			removed++
		}
	}
	if s.head > 0 && s.head*2 >= len(s.queue) {
		s.queue = append(s.queue[:0], s.queue[s.head:]...)
		s.head = 0
	}
	return removed
}
