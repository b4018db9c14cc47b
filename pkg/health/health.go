// SPDX-License-Identifier: Apache-2.0

// Package health aggregates component health checks. The server publishes
// the overall status through the gRPC health service.
package health

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"
)

// Status represents the health state of a component.
type Status string

const (
	// Healthy indicates the component is fully operational.
	Healthy Status = "HEALTHY"

	// Degraded indicates the component works with reduced capacity.
	Degraded Status = "DEGRADED"

	// Unhealthy indicates the component is not operational.
	Unhealthy Status = "UNHEALTHY"
)

// DefaultCacheTTL is how long a check result is reused.
const DefaultCacheTTL = 10 * time.Second

// Result is the outcome of a health check.
type Result struct {
	Status    Status
	Component string
	Message   string
	LastCheck time.Time
	Error     error
}

// Checker checks the health of a component.
type Checker interface {
	// Check returns the current status. The context bounds the check.
	Check(ctx context.Context) Result
}

// CheckerFunc adapts a function to Checker.
type CheckerFunc func(ctx context.Context) Result

// Check implements Checker.
func (f CheckerFunc) Check(ctx context.Context) Result {
	return f(ctx)
}

// Provider runs registered checkers and caches their results.
type Provider struct {
	mu       sync.RWMutex
	checkers map[string]Checker
	cache    map[string]Result
	cacheTTL time.Duration
	now      func() time.Time
}

// NewProvider creates a provider. A zero ttl selects DefaultCacheTTL and a
// negative one disables caching.
func NewProvider(cacheTTL time.Duration) *Provider {
	if cacheTTL == 0 {
		cacheTTL = DefaultCacheTTL
	}
	return &Provider{
		checkers: make(map[string]Checker),
		cache:    make(map[string]Result),
		cacheTTL: cacheTTL,
		now:      time.Now,
	}
}

// Register adds or replaces the checker of a component.
func (p *Provider) Register(name string, checker Checker) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.checkers[name] = checker
	delete(p.cache, name)
}

// Check runs the checker of one component.
func (p *Provider) Check(ctx context.Context, name string) (Result, error) {
	p.mu.RLock()
	checker, ok := p.checkers[name]
	p.mu.RUnlock()
	if !ok {
		return Result{}, fmt.Errorf("checker not registered: %s", name)
	}
	return p.run(ctx, name, checker), nil
}

// CheckAll runs every checker. Results are ordered by component name and
// the overall status is the worst one seen.
func (p *Provider) CheckAll(ctx context.Context) ([]Result, Status) {
	p.mu.RLock()
	names := make([]string, 0, len(p.checkers))
	checkers := make(map[string]Checker, len(p.checkers))
	for name, c := range p.checkers {
		names = append(names, name)
		checkers[name] = c
	}
	p.mu.RUnlock()
	sort.Strings(names)

	results := make([]Result, 0, len(names))
	overall := Healthy
	for _, name := range names {
		r := p.run(ctx, name, checkers[name])
		results = append(results, r)
		overall = Worst(overall, r.Status)
	}
	return results, overall
}

func (p *Provider) run(ctx context.Context, name string, checker Checker) Result {
	now := p.now()
	if p.cacheTTL > 0 {
		p.mu.RLock()
		cached, ok := p.cache[name]
		p.mu.RUnlock()
		if ok && now.Sub(cached.LastCheck) < p.cacheTTL {
			return cached
		}
	}
	r := checker.Check(ctx)
	r.Component = name
	if r.Status == "" {
		r.Status = Unhealthy
	}
	if r.LastCheck.IsZero() {
		r.LastCheck = now
	}
	if p.cacheTTL > 0 {
		p.mu.Lock()
		p.cache[name] = r
		p.mu.Unlock()
	}
	return r
}

// Worst returns the more severe of a and b.
func Worst(a, b Status) Status {
	if rank(b) > rank(a) {
		return b
	}
	return a
}

func rank(s Status) int {
	switch s {
	case Healthy:
		return 0
	case Degraded:
		return 1
	default:
		return 2
	}
}
