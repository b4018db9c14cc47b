// Copyright 2026 © The SINP Authors
// SPDX-License-Identifier: Apache-2.0

package health

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/jllopis/sinp/pkg/capability"
	"github.com/jllopis/sinp/pkg/resilience"
)

// Static always reports status.
func Static(status Status, message string) Checker {
	return CheckerFunc(func(context.Context) Result {
		return Result{Status: status, Message: message}
	})
}

// Ping reports Unhealthy when ping fails within timeout. It suits stores
// exposing a Ping method, such as the Redis replay store or SQLite audit.
func Ping(timeout time.Duration, ping func(ctx context.Context) error) Checker {
	return CheckerFunc(func(ctx context.Context) Result {
		if timeout > 0 {
			var cancel context.CancelFunc
			ctx, cancel = context.WithTimeout(ctx, timeout)
			defer cancel()
		}
		if err := ping(ctx); err != nil {
			return Result{Status: Unhealthy, Message: "ping failed", Error: err}
		}
		return Result{Status: Healthy, Message: "reachable"}
	})
}

// Registry reports Unhealthy when no capability is registered.
func Registry(r *capability.Registry) Checker {
	return CheckerFunc(func(context.Context) Result {
		n := r.Snapshot().Len()
		if n == 0 {
			return Result{Status: Unhealthy, Message: "no capabilities registered"}
		}
		return Result{Status: Healthy, Message: fmt.Sprintf("%d capabilities", n)}
	})
}

// Breakers reports Degraded while any registered capability has an open or
// half-open breaker, and Unhealthy when every one is open.
func Breakers(r *capability.Registry, a *capability.Availability) Checker {
	return CheckerFunc(func(context.Context) Result {
		ids := r.Snapshot().IDs()
		var open, probing []string
		for _, id := range ids {
			switch a.Breaker(id).State() {
			case resilience.StateOpen:
				open = append(open, id)
			case resilience.StateHalfOpen:
				probing = append(probing, id)
			}
		}
		switch {
		case len(ids) > 0 && len(open) == len(ids):
			return Result{Status: Unhealthy, Message: "all capability breakers open"}
		case len(open) > 0 || len(probing) > 0:
			return Result{Status: Degraded, Message: "breakers not closed: " + strings.Join(append(open, probing...), ", ")}
		default:
			return Result{Status: Healthy, Message: "all breakers closed"}
		}
	})
}
