// Copyright 2026 © The SINP Authors
// SPDX-License-Identifier: Apache-2.0

package capability

import (
	"context"
	"math"
	"sync"
	"time"

	"github.com/jllopis/sinp/pkg/resilience"
)

// Probe reports the availability in [0,1] of a resource a capability
// depends on, for example a remote MCP server.
type Probe func(ctx context.Context) float64

// Availability tracks A(res) per capability. Each capability gets its own
// circuit breaker; an optional probe further caps the value.
type Availability struct {
	mu       sync.Mutex
	config   resilience.CircuitBreakerConfig
	breakers map[string]*resilience.CircuitBreaker
	probes   map[string]Probe
}

// NewAvailability uses config as the template for every breaker.
func NewAvailability(config resilience.CircuitBreakerConfig) *Availability {
	return &Availability{
		config:   config,
		breakers: make(map[string]*resilience.CircuitBreaker),
		probes:   make(map[string]Probe),
	}
}

// Breaker returns the breaker of id, creating it on first use.
func (a *Availability) Breaker(id string) *resilience.CircuitBreaker {
	a.mu.Lock()
	defer a.mu.Unlock()
	cb, ok := a.breakers[id]
	if !ok {
		cfg := a.config
		cfg.Name = id
		cb = resilience.NewCircuitBreaker(cfg)
		a.breakers[id] = cb
	}
	return cb
}

// SetProbe installs a probe for id. A nil probe removes it.
func (a *Availability) SetProbe(id string, p Probe) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if p == nil {
		delete(a.probes, id)
		return
	}
	a.probes[id] = p
}

// Of returns A(res) for id: the breaker value, lowered by the probe when
// one is installed. The result is not clamped; callers validate it.
func (a *Availability) Of(ctx context.Context, id string) float64 {
	v := a.Breaker(id).Availability()
	a.mu.Lock()
	probe := a.probes[id]
	a.mu.Unlock()
	if probe != nil {
		v = math.Min(v, probe(ctx))
	}
	return v
}

// Execute runs the handler of e through its breaker under timeout.
func (a *Availability) Execute(ctx context.Context, e Entry, inv Invocation, timeout time.Duration) (any, error) {
	var out any
	err := a.Breaker(e.Capability.ID).Call(ctx, func() error {
		v, err := resilience.WithTimeout(ctx, timeout, func(ctx context.Context) (any, error) {
			return e.Handler.Execute(ctx, inv)
		})
		if err != nil {
			return err
		}
		out = v
		return nil
	})
	return out, err
}
