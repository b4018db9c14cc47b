// Copyright 2026 © The SINP Authors
// SPDX-License-Identifier: Apache-2.0

// Package message defines the request and response envelopes exchanged in a
// negotiation round, together with their validation rules and JSON codec.
package message

import (
	"strings"
)

// ProtocolVersion is the version stamped on outgoing requests.
const ProtocolVersion = "0.1"

// Action is the server's answer to an intent.
type Action string

const (
	ActionExecute Action = "EXECUTE"
	ActionClarify Action = "CLARIFY"
	ActionPropose Action = "PROPOSE"
	ActionRefuse  Action = "REFUSE"
)

// Valid reports whether a is one of the four protocol actions.
func (a Action) Valid() bool {
	switch a {
	case ActionExecute, ActionClarify, ActionPropose, ActionRefuse:
		return true
	default:
		return false
	}
}

// ParseAction parses an action tag case-insensitively.
func ParseAction(s string) (Action, bool) {
	a := Action(strings.ToUpper(strings.TrimSpace(s)))
	return a, a.Valid()
}

// Refusal reason codes carried in REFUSE metadata.
const (
	ReasonLowConfidence       = "low_confidence"
	ReasonNoCapabilityMatch   = "no_capability_match"
	ReasonPolicyDenied        = "policy_denied"
	ReasonResourceUnavailable = "resource_unavailable"
	ReasonExhausted           = "exhausted"
	ReasonMalformedMessage    = "malformed_message"
	ReasonInvalidSignature    = "invalid_signature"
	ReasonReplayDetected      = "replay_detected"
	ReasonInvalidConfidence   = "invalid_confidence_value"
	ReasonSessionExpired      = "session_expired"
	ReasonRateLimited         = "rate_limited"
	ReasonInternal            = "internal_error"
)

// Request carries one intent from client to server.
type Request struct {
	ProtocolVersion string            `json:"protocol_version,omitempty"`
	SessionID       string            `json:"session_id,omitempty"`
	KeyID           string            `json:"key_id,omitempty"`
	Intent          string            `json:"intent"`
	PhiC            float64           `json:"phi_c"`
	Timestamp       int64             `json:"timestamp"`
	Nonce           string            `json:"nonce"`
	Context         map[string]string `json:"context,omitempty"`
	Accept          string            `json:"accept,omitempty"`
	Signature       string            `json:"signature,omitempty"`
}

// Metadata is the action-specific payload of a response. Exactly one field
// is populated, selected by the response action.
type Metadata struct {
	Result       any      `json:"result,omitempty"`
	Questions    []string `json:"questions,omitempty"`
	Alternatives []string `json:"alternatives,omitempty"`
	Reason       string   `json:"reason,omitempty"`
}

// Response carries the server's decision for one round.
type Response struct {
	Action       Action   `json:"action"`
	PhiS         float64  `json:"phi_s"`
	Metadata     Metadata `json:"metadata"`
	SessionID    string   `json:"session_id,omitempty"`
	Round        int      `json:"round,omitempty"`
	CapabilityID string   `json:"capability_id,omitempty"`
	Nonce        string   `json:"nonce,omitempty"`
}

// Execute builds an EXECUTE response embedding the handler result.
func Execute(phiS float64, result any) *Response {
	return &Response{Action: ActionExecute, PhiS: phiS, Metadata: Metadata{Result: result}}
}

// Clarify builds a CLARIFY response with ordered questions.
func Clarify(phiS float64, questions []string) *Response {
	return &Response{Action: ActionClarify, PhiS: phiS, Metadata: Metadata{Questions: questions}}
}

// Propose builds a PROPOSE response with ordered alternative capability ids.
func Propose(phiS float64, alternatives []string) *Response {
	return &Response{Action: ActionPropose, PhiS: phiS, Metadata: Metadata{Alternatives: alternatives}}
}

// Refuse builds a REFUSE response with a reason code.
func Refuse(phiS float64, reason string) *Response {
	return &Response{Action: ActionRefuse, PhiS: phiS, Metadata: Metadata{Reason: reason}}
}

// Terminal reports whether the response ends the negotiation.
func (r *Response) Terminal() bool {
	return r.Action == ActionExecute || r.Action == ActionRefuse
}
