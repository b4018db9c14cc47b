// Copyright 2026 © The SINP Authors
// SPDX-License-Identifier: Apache-2.0

package negotiation

import (
	"context"
	"log/slog"
	"time"

	"github.com/jllopis/sinp/pkg/capability"
	"github.com/jllopis/sinp/pkg/confidence"
	"github.com/jllopis/sinp/pkg/governance"
	"github.com/jllopis/sinp/pkg/interpreter"
	"github.com/jllopis/sinp/pkg/message"
)

// roundInfo carries the inputs of a decision for auditing and tracing.
type roundInfo struct {
	capabilityID string
	rho          float64
	reliability  float64
	availability float64
	alternatives []string
}

// decide runs interpretation, confidence and policy for one admitted
// request and builds the response. The returned error is internal; every
// decision-time insufficiency is a REFUSE.
func (e *Engine) decide(ctx context.Context, s *Session, req *message.Request) (*message.Response, roundInfo, error) {
	var info roundInfo
	policy := e.Policy()

	if res := e.governance.CheckIntent(ctx, req.Intent); res.Blocked {
		return message.Refuse(0, message.ReasonPolicyDenied), info, nil
	}

	snap := e.registry.Snapshot()
	matches, err := e.matches(ctx, req, snap)
	if err != nil {
		e.logger.WarnContext(ctx, "interpretation failed",
			slog.String("session_id", s.ID),
			slog.String("error", err.Error()),
		)
		e.metrics.RecordError(ctx, err, "interpreter")
		return message.Refuse(0, message.ReasonResourceUnavailable), info, nil
	}
	if len(matches) == 0 {
		d := policy.Decide(confidence.DecisionInput{PhiC: req.PhiC})
		return message.Refuse(0, d.Reason), info, nil
	}

	sel := matches[0]
	entry, _ := snap.Lookup(sel.CapabilityID)
	c := entry.Capability
	allowed := e.governance.Allow(ctx, governance.Target{Capability: c, SessionID: s.ID, KeyID: req.KeyID})
	avail := e.availability.Of(ctx, c.ID)

	info = roundInfo{capabilityID: c.ID, rho: sel.Rho, reliability: c.Reliability, availability: avail}
	phiS, err := confidence.ComputeServerConfidence(sel.Rho, c.Reliability, avail, allowed.Allowed)
	if err != nil {
		return nil, info, err
	}

	d := policy.Decide(confidence.DecisionInput{
		Matched:      true,
		PhiS:         phiS,
		PhiC:         req.PhiC,
		Rho:          sel.Rho,
		Reliability:  c.Reliability,
		Availability: avail,
		PolicyOK:     allowed.Allowed,
		Alternatives: e.alternatives(ctx, snap, matches[1:], s, req),
	})

	var resp *message.Response
	switch d.Action {
	case message.ActionExecute:
		if missing := c.MissingInputs(req.Context); len(missing) > 0 {
			resp = message.Clarify(phiS, inputQuestions(missing))
			break
		}
		resp = e.execute(ctx, s, req, entry, phiS)
	case message.ActionClarify:
		resp = message.Clarify(phiS, clarifyingQuestions(c, matches, snap, req.Context))
	case message.ActionPropose:
		info.alternatives = d.Alternatives
		resp = message.Propose(phiS, d.Alternatives)
	default:
		resp = message.Refuse(phiS, d.Reason)
	}
	resp.CapabilityID = c.ID
	return resp, info, nil
}

// matches returns the ranked matches that exist in snap. A request that
// accepts a proposal selects that capability with ρ = 1.
func (e *Engine) matches(ctx context.Context, req *message.Request, snap *capability.Snapshot) ([]interpreter.Match, error) {
	if req.Accept != "" {
		if _, ok := snap.Lookup(req.Accept); !ok {
			return nil, nil
		}
		return []interpreter.Match{{CapabilityID: req.Accept, Rho: 1}}, nil
	}
	raw, err := e.interp.Interpret(ctx, req.Intent, snap)
	if err != nil {
		return nil, err
	}
	out := raw[:0:0]
	for _, m := range raw {
		if _, ok := snap.Lookup(m.CapabilityID); ok {
			out = append(out, m)
		}
	}
	interpreter.Rank(out)
	return out, nil
}

// alternatives keeps the runners-up that policy permits for this caller.
func (e *Engine) alternatives(ctx context.Context, snap *capability.Snapshot, rest []interpreter.Match, s *Session, req *message.Request) []confidence.Candidate {
	out := make([]confidence.Candidate, 0, len(rest))
	for _, m := range rest {
		entry, _ := snap.Lookup(m.CapabilityID)
		if !e.governance.Allow(ctx, governance.Target{Capability: entry.Capability, SessionID: s.ID, KeyID: req.KeyID}).Allowed {
			continue
		}
		out = append(out, confidence.Candidate{CapabilityID: m.CapabilityID, Rho: m.Rho})
	}
	return out
}

// execute invokes the handler under the capability breaker and folds the
// outcome into the learned reliability.
func (e *Engine) execute(ctx context.Context, s *Session, req *message.Request, entry capability.Entry, phiS float64) *message.Response {
	id := entry.Capability.ID
	inv := capability.Invocation{
		CapabilityID: id,
		Intent:       req.Intent,
		SessionID:    s.ID,
		Round:        s.Client.Rounds(),
		Inputs:       req.Context,
	}
	start := time.Now()
	result, err := e.availability.Execute(ctx, entry, inv, e.handlerTimeout)
	e.registry.ObserveOutcome(id, err == nil)
	e.metrics.RecordBreakerState(ctx, id, int64(e.availability.Breaker(id).Availability()*2))

	if err != nil {
		e.logger.WarnContext(ctx, "capability execution failed",
			slog.String("session_id", s.ID),
			slog.String("capability", id),
			slog.Duration("elapsed", time.Since(start)),
			slog.String("error", err.Error()),
		)
		e.metrics.RecordError(ctx, err, "handler")
		return message.Refuse(phiS, message.ReasonResourceUnavailable)
	}
	if result == nil {
		result = map[string]any{}
	}
	return message.Execute(phiS, result)
}
