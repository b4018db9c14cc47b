// Copyright 2026 © The SINP Authors
// SPDX-License-Identifier: Apache-2.0

package confidence

import (
	"math"

	"github.com/jllopis/sinp/pkg/errors"
	"github.com/jllopis/sinp/pkg/message"
)

const (
	// DefaultProposeFloor is the minimum ρ for a capability to be proposed.
	DefaultProposeFloor = 0.20
	// DefaultProposeTopN caps the number of proposed alternatives.
	DefaultProposeTopN = 3
)

// Candidate is a ranked capability match.
type Candidate struct {
	CapabilityID string
	Rho          float64
}

// DecisionInput gathers everything the policy looks at for one round.
type DecisionInput struct {
	// Matched is false when the interpreter returned no usable capability.
	Matched      bool
	PhiS         float64
	PhiC         float64
	Rho          float64
	Reliability  float64
	Availability float64
	PolicyOK     bool
	// Alternatives are the remaining ranked matches, best first, already
	// filtered to capabilities the policy permits.
	Alternatives []Candidate
}

// Decision is the policy outcome. Reason is set for REFUSE and Alternatives
// for PROPOSE.
type Decision struct {
	Action       message.Action
	Reason       string
	Alternatives []string
}

// Policy is the threshold-driven decision procedure.
type Policy struct {
	Thresholds   Thresholds
	ProposeFloor float64
	ProposeTopN  int
}

// DefaultPolicy returns the default thresholds with a 0.20 propose floor
// and at most three alternatives.
func DefaultPolicy() Policy {
	return Policy{
		Thresholds:   DefaultThresholds(),
		ProposeFloor: DefaultProposeFloor,
		ProposeTopN:  DefaultProposeTopN,
	}
}

// Validate checks thresholds and proposal settings.
func (p Policy) Validate() error {
	if err := p.Thresholds.Validate(); err != nil {
		return err
	}
	if err := ValidateUnit("propose_floor", p.ProposeFloor); err != nil {
		return errors.New(errors.CodeInvalidConfig, "invalid propose floor", err)
	}
	if p.ProposeTopN < 1 {
		return errors.Newf(errors.CodeInvalidConfig, "propose_top_n must be >= 1, got %d", p.ProposeTopN)
	}
	return nil
}

// Decide applies EXECUTE, CLARIFY, PROPOSE, REFUSE in that order. All
// comparisons are inclusive.
func (p Policy) Decide(in DecisionInput) Decision {
	t := p.Thresholds
	if in.Matched && in.PhiS >= t.Exec && in.PhiC >= t.Accept {
		return Decision{Action: message.ActionExecute}
	}
	if in.Matched && in.PhiS >= t.Clarify {
		return Decision{Action: message.ActionClarify}
	}
	if alts := p.proposals(in.Alternatives); len(alts) > 0 {
		return Decision{Action: message.ActionPropose, Alternatives: alts}
	}
	return Decision{Action: message.ActionRefuse, Reason: p.refusalReason(in)}
}

func (p Policy) proposals(candidates []Candidate) []string {
	topN := p.ProposeTopN
	if topN < 1 {
		topN = DefaultProposeTopN
	}
	var out []string
	for _, c := range candidates {
		if c.Rho < p.ProposeFloor {
			continue
		}
		out = append(out, c.CapabilityID)
		if len(out) == topN {
			break
		}
	}
	return out
}

// refusalReason names the input that made Φs insufficient.
func (p Policy) refusalReason(in DecisionInput) string {
	switch {
	case !in.Matched:
		return message.ReasonNoCapabilityMatch
	case !in.PolicyOK:
		return message.ReasonPolicyDenied
	case in.Availability < 1 && math.Min(1, in.Rho*in.Reliability) >= p.Thresholds.Clarify:
		return message.ReasonResourceUnavailable
	default:
		return message.ReasonLowConfidence
	}
}
