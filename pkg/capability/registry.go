// Copyright 2026 © The SINP Authors
// SPDX-License-Identifier: Apache-2.0

package capability

import (
	"log/slog"
	"math"
	"sort"
	"sync"
	"sync/atomic"

	"github.com/jllopis/sinp/pkg/errors"
)

// DefaultLearningRate weights each observed outcome in the reliability
// moving average.
const DefaultLearningRate = 0.05

// Snapshot is an immutable view of the registry. Lookups against one
// snapshot are consistent for the whole round.
type Snapshot struct {
	version uint64
	catalog uint64
	entries map[string]Entry
	ids     []string
}

// Version increases on every registry mutation.
func (s *Snapshot) Version() uint64 { return s.version }

// CatalogVersion increases only when capabilities are added, replaced or
// removed. Reliability updates leave it unchanged, so indexes and caches
// derived from descriptions survive them.
func (s *Snapshot) CatalogVersion() uint64 { return s.catalog }

// Len returns the number of capabilities.
func (s *Snapshot) Len() int { return len(s.ids) }

// Lookup returns the entry registered under id.
func (s *Snapshot) Lookup(id string) (Entry, bool) {
	e, ok := s.entries[id]
	return e, ok
}

// IDs returns capability ids in lexicographic order.
func (s *Snapshot) IDs() []string {
	return append([]string(nil), s.ids...)
}

// Capabilities returns descriptors ordered by id.
func (s *Snapshot) Capabilities() []Capability {
	out := make([]Capability, 0, len(s.ids))
	for _, id := range s.ids {
		out = append(out, s.entries[id].Capability)
	}
	return out
}

// Option configures a Registry.
type Option func(*Registry)

// WithLearningRate sets the weight of each outcome in learned reliability.
// Zero disables learning.
func WithLearningRate(rate float64) Option {
	return func(r *Registry) {
		r.learningRate = rate
	}
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(r *Registry) {
		if logger != nil {
			r.logger = logger
		}
	}
}

// Registry owns capabilities. Writers copy the current snapshot, modify the
// copy and publish it atomically; readers never block.
type Registry struct {
	mu           sync.Mutex
	current      atomic.Pointer[Snapshot]
	learningRate float64
	logger       *slog.Logger
}

// NewRegistry returns an empty registry.
func NewRegistry(opts ...Option) *Registry {
	r := &Registry{learningRate: DefaultLearningRate, logger: slog.Default()}
	for _, opt := range opts {
		opt(r)
	}
	r.current.Store(&Snapshot{entries: map[string]Entry{}})
	return r
}

// Snapshot returns the current immutable view.
func (r *Registry) Snapshot() *Snapshot {
	return r.current.Load()
}

// Lookup resolves id against the current snapshot.
func (r *Registry) Lookup(id string) (Entry, bool) {
	return r.Snapshot().Lookup(id)
}

// Register adds or replaces one capability.
func (r *Registry) Register(c Capability, h Handler) error {
	return r.RegisterAll(Entry{Capability: c, Handler: h})
}

// RegisterAll adds or replaces several capabilities in one snapshot. Either
// all entries are published or none.
func (r *Registry) RegisterAll(entries ...Entry) error {
	for _, e := range entries {
		if err := e.Capability.Validate(); err != nil {
			return err
		}
		if e.Handler == nil {
			return errors.Newf(errors.CodeInvalidConfig, "capability %s: handler is required", e.Capability.ID)
		}
	}
	r.mutate(true, func(m map[string]Entry) bool {
		for _, e := range entries {
			m[e.Capability.ID] = e
		}
		return len(entries) > 0
	})
	for _, e := range entries {
		r.logger.Debug("capability registered", slog.String("capability", e.Capability.ID))
	}
	return nil
}

// Unregister removes id and reports whether it was present.
func (r *Registry) Unregister(id string) bool {
	var removed bool
	r.mutate(true, func(m map[string]Entry) bool {
		if _, ok := m[id]; ok {
			delete(m, id)
			removed = true
		}
		return removed
	})
	return removed
}

// SetReliability overrides R(c) for id.
func (r *Registry) SetReliability(id string, reliability float64) error {
	if math.IsNaN(reliability) || reliability < 0 || reliability > 1 {
		return errors.Newf(errors.CodeInvalidConfidence, "reliability must be in [0,1], got %v", reliability)
	}
	var found bool
	r.mutate(false, func(m map[string]Entry) bool {
		e, ok := m[id]
		if !ok {
			return false
		}
		found = true
		e.Capability.Reliability = reliability
		m[id] = e
		return true
	})
	if !found {
		return errors.Newf(errors.CodeNoCapabilityMatch, "capability %s is not registered", id)
	}
	return nil
}

// ObserveOutcome folds a handler outcome into the learned reliability of
// id with an exponential moving average. Unknown ids are ignored.
func (r *Registry) ObserveOutcome(id string, success bool) {
	if r.learningRate <= 0 {
		return
	}
	target := 0.0
	if success {
		target = 1
	}
	r.mutate(false, func(m map[string]Entry) bool {
		e, ok := m[id]
		if !ok {
			return false
		}
		next := e.Capability.Reliability + r.learningRate*(target-e.Capability.Reliability)
		e.Capability.Reliability = math.Min(1, math.Max(0, next))
		m[id] = e
		return true
	})
}

// mutate copies the current entries, applies fn and publishes a new
// snapshot when fn reports a change. catalog marks changes to the set of
// capabilities rather than to their learned values.
func (r *Registry) mutate(catalog bool, fn func(map[string]Entry) bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	prev := r.current.Load()
	next := make(map[string]Entry, len(prev.entries)+1)
	for id, e := range prev.entries {
		next[id] = e
	}
	if !fn(next) {
		return
	}
	ids := make([]string, 0, len(next))
	for id := range next {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	snap := &Snapshot{version: prev.version + 1, catalog: prev.catalog, entries: next, ids: ids}
	if catalog {
		snap.catalog++
	}
	r.current.Store(snap)
}
