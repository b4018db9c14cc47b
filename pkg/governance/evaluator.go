// Copyright 2026 © The SINP Authors
// SPDX-License-Identifier: Apache-2.0

package governance

import (
	"context"
	"log/slog"
	"sync/atomic"

	"github.com/jllopis/sinp/pkg/config"
)

// Evaluator combines the intent guard with the capability rule set. Rules
// can be swapped at runtime.
type Evaluator struct {
	engine atomic.Pointer[engineBox]
	guard  *IntentGuard
	logger *slog.Logger
}

type engineBox struct {
	PolicyEngine
}

// NewEvaluator builds an evaluator. A nil engine allows everything and a
// nil guard skips intent screening.
func NewEvaluator(engine PolicyEngine, guard *IntentGuard, logger *slog.Logger) *Evaluator {
	if logger == nil {
		logger = slog.Default()
	}
	e := &Evaluator{guard: guard, logger: logger}
	e.SetEngine(engine)
	return e
}

// NewEvaluatorFromConfig builds rules and guard from configuration.
func NewEvaluatorFromConfig(cfg config.GovernanceConfig, logger *slog.Logger) *Evaluator {
	var guard *IntentGuard
	if cfg.Guard.Enabled {
		guard = NewIntentGuard(
			WithPatterns(cfg.Guard.Patterns...),
			WithMaxIntentLength(cfg.Guard.MaxIntentLength),
		)
	}
	return NewEvaluator(RuleSetFromConfig(cfg), guard, logger)
}

// SetEngine replaces the policy engine.
func (e *Evaluator) SetEngine(engine PolicyEngine) {
	if engine == nil {
		engine = NewRuleSet(nil)
	}
	e.engine.Store(&engineBox{engine})
}

// CheckIntent screens the intent text once per request.
func (e *Evaluator) CheckIntent(ctx context.Context, text string) CheckResult {
	if e.guard == nil {
		return CheckResult{}
	}
	res := e.guard.Check(ctx, text)
	if res.Blocked {
		e.logger.Warn("intent blocked by guard", slog.String("reason", res.Reason))
	}
	return res
}

// Allow evaluates the rules for target.
func (e *Evaluator) Allow(ctx context.Context, target Target) Decision {
	d := e.engine.Load().Evaluate(ctx, target)
	if !d.Allowed {
		e.logger.Debug("capability denied by policy",
			slog.String("capability", target.Capability.ID),
			slog.String("rule", d.RuleID),
			slog.String("reason", d.Reason),
		)
	}
	return d
}
