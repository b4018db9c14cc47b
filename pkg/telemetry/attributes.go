// Copyright 2026 © The SINP Authors
// SPDX-License-Identifier: Apache-2.0

package telemetry

import (
	"go.opentelemetry.io/otel/attribute"
)

// Attribute keys for negotiation spans, metrics and logs.
const (
	// Session attributes
	AttrSessionID = "sinp.session.id"
	AttrMessageID = "sinp.message.id"
	AttrKeyID     = "sinp.key.id"
	AttrRound     = "sinp.round"
	AttrState     = "sinp.state"

	// Confidence attributes
	AttrPhiC         = "sinp.phi_c"
	AttrPhiS         = "sinp.phi_s"
	AttrRho          = "sinp.rho"
	AttrReliability  = "sinp.reliability"
	AttrAvailability = "sinp.availability"

	// Decision attributes
	AttrAction       = "sinp.action"
	AttrReason       = "sinp.reason"
	AttrCapabilityID = "sinp.capability.id"
	AttrAlternatives = "sinp.alternatives"
	AttrIntentHash   = "sinp.intent.hash"

	// Execution attributes
	AttrExecDurationMs = "sinp.exec.duration_ms"
	AttrExecSuccess    = "sinp.exec.success"
	AttrExecResult     = "sinp.exec.result"

	// Governance attributes
	AttrPolicyAllowed = "sinp.policy.allowed"
	AttrPolicyRule    = "sinp.policy.rule"
	AttrPolicyReason  = "sinp.policy.reason"

	// Error attributes
	AttrErrorCode   = "error.code"
	AttrComponent   = "component"
	AttrRecoverable = "recoverable"
)

// RequestAttributes describes an incoming request. The intent itself is
// never recorded; pass its semantic hash instead.
func RequestAttributes(sessionID, messageID, keyID, intentHash string, round int, phiC float64) []attribute.KeyValue {
	attrs := []attribute.KeyValue{
		attribute.String(AttrSessionID, sessionID),
		attribute.String(AttrMessageID, messageID),
		attribute.Int(AttrRound, round),
		attribute.Float64(AttrPhiC, phiC),
	}
	if keyID != "" {
		attrs = append(attrs, attribute.String(AttrKeyID, keyID))
	}
	if intentHash != "" {
		attrs = append(attrs, attribute.String(AttrIntentHash, intentHash))
	}
	return attrs
}

// DecisionAttributes describes a policy decision.
func DecisionAttributes(action, reason, capabilityID string, phiS, rho, reliability, availability float64, alternatives []string) []attribute.KeyValue {
	attrs := []attribute.KeyValue{
		attribute.String(AttrAction, action),
		attribute.Float64(AttrPhiS, phiS),
		attribute.Float64(AttrRho, rho),
		attribute.Float64(AttrReliability, reliability),
		attribute.Float64(AttrAvailability, availability),
	}
	if capabilityID != "" {
		attrs = append(attrs, attribute.String(AttrCapabilityID, capabilityID))
	}
	if reason != "" {
		attrs = append(attrs, attribute.String(AttrReason, reason))
	}
	if len(alternatives) > 0 {
		attrs = append(attrs, attribute.StringSlice(AttrAlternatives, alternatives))
	}
	return attrs
}

// ExecAttributes describes a capability execution. result is truncated to
// maxLen bytes, 500 when maxLen is not positive.
func ExecAttributes(capabilityID string, durationMs float64, success bool, result string, maxLen int) []attribute.KeyValue {
	attrs := []attribute.KeyValue{
		attribute.String(AttrCapabilityID, capabilityID),
		attribute.Float64(AttrExecDurationMs, durationMs),
		attribute.Bool(AttrExecSuccess, success),
	}
	if result != "" {
		attrs = append(attrs, attribute.String(AttrExecResult, Truncate(result, maxLen)))
	}
	return attrs
}

// PolicyAttributes describes a governance evaluation.
func PolicyAttributes(allowed bool, ruleID, reason string) []attribute.KeyValue {
	attrs := []attribute.KeyValue{
		attribute.Bool(AttrPolicyAllowed, allowed),
	}
	if ruleID != "" {
		attrs = append(attrs, attribute.String(AttrPolicyRule, ruleID))
	}
	if !allowed && reason != "" {
		attrs = append(attrs, attribute.String(AttrPolicyReason, reason))
	}
	return attrs
}

// Truncate cuts s to maxLen bytes and appends "..." when it was longer.
func Truncate(s string, maxLen int) string {
	if maxLen <= 0 {
		maxLen = 500
	}
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen] + "..."
}
