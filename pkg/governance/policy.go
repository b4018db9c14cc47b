// Copyright 2026 © The SINP Authors
// SPDX-License-Identifier: Apache-2.0

// Package governance decides whether a capability may be used for a request.
// Its outcome is the policy_ok factor of the server confidence.
package governance

import (
	"context"
	"path"
	"strconv"
	"strings"

	"github.com/jllopis/sinp/pkg/capability"
	"github.com/jllopis/sinp/pkg/config"
)

// Target is what a rule is evaluated against.
type Target struct {
	Capability capability.Capability
	SessionID  string
	KeyID      string
}

// Decision captures the outcome of a policy evaluation.
type Decision struct {
	Allowed bool
	Reason  string
	RuleID  string
}

// PolicyEngine evaluates targets.
type PolicyEngine interface {
	Evaluate(ctx context.Context, target Target) Decision
}

// Rule matches targets by capability id glob, privacy level, tag and key id.
// Empty matchers match everything. Effect is "allow" or "deny".
type Rule struct {
	ID         string
	Effect     string
	Capability string
	Privacy    capability.PrivacyLevel
	Tag        string
	KeyID      string
	Reason     string
}

func (r Rule) matches(t Target) bool {
	if !matchPattern(r.Capability, t.Capability.ID) {
		return false
	}
	if r.Privacy != "" && r.Privacy != privacyOf(t.Capability) {
		return false
	}
	if r.Tag != "" && !hasTag(t.Capability.Tags, r.Tag) {
		return false
	}
	if r.KeyID != "" && !matchPattern(r.KeyID, t.KeyID) {
		return false
	}
	return true
}

// RuleSet evaluates rules in order; the first match wins.
type RuleSet struct {
	Rules           []Rule
	DefaultDecision Decision
}

// NewRuleSet creates a rule set with a default allow decision.
func NewRuleSet(rules []Rule) *RuleSet {
	return &RuleSet{
		Rules:           append([]Rule(nil), rules...),
		DefaultDecision: Decision{Allowed: true},
	}
}

// Evaluate implements PolicyEngine.
func (r *RuleSet) Evaluate(_ context.Context, t Target) Decision {
	for _, rule := range r.Rules {
		if !rule.matches(t) {
			continue
		}
		return Decision{
			Allowed: !strings.EqualFold(rule.Effect, "deny"),
			Reason:  rule.Reason,
			RuleID:  rule.ID,
		}
	}
	return r.DefaultDecision
}

// RuleSetFromConfig builds a rule set from config rules.
func RuleSetFromConfig(cfg config.GovernanceConfig) *RuleSet {
	rules := make([]Rule, 0, len(cfg.Policies))
	for i, p := range cfg.Policies {
		id := strings.TrimSpace(p.ID)
		if id == "" {
			id = "rule-" + strconv.Itoa(i+1)
		}
		rules = append(rules, Rule{
			ID:         id,
			Effect:     strings.ToLower(p.Effect),
			Capability: p.Capability,
			Privacy:    capability.PrivacyLevel(strings.ToLower(p.Privacy)),
			Tag:        p.Tag,
			KeyID:      p.KeyID,
			Reason:     p.Reason,
		})
	}
	rs := NewRuleSet(rules)
	if strings.EqualFold(cfg.DefaultEffect, "deny") {
		rs.DefaultDecision = Decision{Allowed: false, Reason: "denied by default", RuleID: "default"}
	}
	return rs
}

func privacyOf(c capability.Capability) capability.PrivacyLevel {
	if c.PrivacyLevel == "" {
		return capability.PrivacyPublic
	}
	return c.PrivacyLevel
}

func hasTag(tags []string, tag string) bool {
	for _, t := range tags {
		if t == tag {
			return true
		}
	}
	return false
}

func matchPattern(pattern, value string) bool {
	if pattern == "" {
		return true
	}
	ok, err := path.Match(pattern, value)
	if err == nil && ok {
		return true
	}
	return pattern == value
}
