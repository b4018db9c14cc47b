// Copyright 2026 © The SINP Authors
// SPDX-License-Identifier: Apache-2.0

// Package audit keeps a per-round trail of negotiation decisions. The
// intent text is never stored, only its semantic hash.
package audit

import (
	"context"
	"sync"
	"time"
)

// Record describes one negotiation round or one rejected request.
type Record struct {
	SessionID    string
	Round        int
	Nonce        string
	KeyID        string
	IntentHash   string
	PhiC         float64
	PhiS         float64
	Rho          float64
	Reliability  float64
	Availability float64
	Action       string
	Reason       string
	CapabilityID string
	Alternatives []string
	ClientState  string
	Time         time.Time
}

// Store persists audit records.
type Store interface {
	Record(ctx context.Context, rec Record) error
	List(ctx context.Context, filter Filter) ([]Record, error)
}

// Filter limits audit queries. Zero fields match everything.
type Filter struct {
	SessionID string
	Action    string
	Reason    string
	Since     time.Time
	Limit     int
}

func (f Filter) match(rec Record) bool {
	if f.SessionID != "" && rec.SessionID != f.SessionID {
		return false
	}
	if f.Action != "" && rec.Action != f.Action {
		return false
	}
	if f.Reason != "" && rec.Reason != f.Reason {
		return false
	}
	if !f.Since.IsZero() && rec.Time.Before(f.Since) {
		return false
	}
	return true
}

// Nop discards every record.
type Nop struct{}

func (Nop) Record(context.Context, Record) error          { return nil }
func (Nop) List(context.Context, Filter) ([]Record, error) { return nil, nil }

// MemoryStore keeps records in memory, dropping the oldest past capacity.
type MemoryStore struct {
	mu       sync.Mutex
	records  []Record
	capacity int
}

// NewMemoryStore returns an in-memory store. capacity <= 0 means unbounded.
func NewMemoryStore(capacity int) *MemoryStore {
	return &MemoryStore{capacity: capacity}
}

// Record appends rec.
func (s *MemoryStore) Record(_ context.Context, rec Record) error {
	rec.Time = normalizeTime(rec.Time)
	rec.Alternatives = append([]string(nil), rec.Alternatives...)
	s.mu.Lock()
	defer s.mu.Unlock()
	s.records = append(s.records, rec)
	if s.capacity > 0 && len(s.records) > s.capacity {
		s.records = s.records[len(s.records)-s.capacity:]
	}
	return nil
}

// List returns matching records in insertion order.
func (s *MemoryStore) List(_ context.Context, filter Filter) ([]Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Record, 0, len(s.records))
	for _, rec := range s.records {
		if !filter.match(rec) {
			continue
		}
		rec.Alternatives = append([]string(nil), rec.Alternatives...)
		out = append(out, rec)
		if filter.Limit > 0 && len(out) >= filter.Limit {
			break
		}
	}
	return out, nil
}

// Len returns the number of records held.
func (s *MemoryStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.records)
}

func normalizeTime(t time.Time) time.Time {
	if t.IsZero() {
		return time.Now().UTC()
	}
	return t.UTC()
}
