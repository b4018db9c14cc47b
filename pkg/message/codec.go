// Copyright 2026 © The SINP Authors
// SPDX-License-Identifier: Apache-2.0

package message

import (
	"bytes"
	"encoding/json"
	"math"
	"strings"
	"unicode/utf8"

	"github.com/jllopis/sinp/pkg/errors"
)

const maxNonceLen = 128

// wireRequest mirrors Request with pointers so absent required fields can be
// told apart from zero values.
type wireRequest struct {
	ProtocolVersion string            `json:"protocol_version"`
	SessionID       string            `json:"session_id"`
	KeyID           string            `json:"key_id"`
	Intent          *string           `json:"intent"`
	PhiC            *float64          `json:"phi_c"`
	Timestamp       *int64            `json:"timestamp"`
	Nonce           *string           `json:"nonce"`
	Context         map[string]string `json:"context"`
	Accept          string            `json:"accept"`
	Signature       string            `json:"signature"`
}

type wireResponse struct {
	Action       *Action   `json:"action"`
	PhiS         *float64  `json:"phi_s"`
	Metadata     *Metadata `json:"metadata"`
	SessionID    string    `json:"session_id"`
	Round        int       `json:"round"`
	CapabilityID string    `json:"capability_id"`
	Nonce        string    `json:"nonce"`
}

// DecodeRequest parses and validates a request body.
func DecodeRequest(raw []byte) (*Request, error) {
	if !utf8.Valid(raw) {
		return nil, errors.New(errors.CodeMalformedMessage, "request body is not valid UTF-8", nil)
	}
	var w wireRequest
	if err := decodeStrict(raw, &w); err != nil {
		return nil, errors.New(errors.CodeMalformedMessage, "request body is not valid JSON", err)
	}
	switch {
	case w.Intent == nil:
		return nil, missingField("intent")
	case w.PhiC == nil:
		return nil, missingField("phi_c")
	case w.Timestamp == nil:
		return nil, missingField("timestamp")
	case w.Nonce == nil:
		return nil, missingField("nonce")
	}
	req := &Request{
		ProtocolVersion: w.ProtocolVersion,
		SessionID:       w.SessionID,
		KeyID:           w.KeyID,
		Intent:          *w.Intent,
		PhiC:            *w.PhiC,
		Timestamp:       *w.Timestamp,
		Nonce:           *w.Nonce,
		Context:         w.Context,
		Accept:          w.Accept,
		Signature:       w.Signature,
	}
	if err := req.Validate(); err != nil {
		return nil, err
	}
	return req, nil
}

// DecodeResponse parses and validates a response body.
func DecodeResponse(raw []byte) (*Response, error) {
	var w wireResponse
	if err := decodeStrict(raw, &w); err != nil {
		return nil, errors.New(errors.CodeMalformedMessage, "response body is not valid JSON", err)
	}
	switch {
	case w.Action == nil:
		return nil, missingField("action")
	case w.PhiS == nil:
		return nil, missingField("phi_s")
	case w.Metadata == nil:
		return nil, missingField("metadata")
	}
	resp := &Response{
		Action:       *w.Action,
		PhiS:         *w.PhiS,
		Metadata:     *w.Metadata,
		SessionID:    w.SessionID,
		Round:        w.Round,
		CapabilityID: w.CapabilityID,
		Nonce:        w.Nonce,
	}
	if err := resp.Validate(); err != nil {
		return nil, err
	}
	return resp, nil
}

// Encode marshals a request or response body.
func Encode(v any) ([]byte, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, errors.New(errors.CodeMalformedMessage, "encode message", err)
	}
	return data, nil
}

// Validate checks structural and range rules of a request.
func (r *Request) Validate() error {
	if r.ProtocolVersion != "" && r.ProtocolVersion != ProtocolVersion {
		return errors.Newf(errors.CodeMalformedMessage, "unsupported protocol version %q", r.ProtocolVersion)
	}
	if strings.TrimSpace(r.Intent) == "" {
		return errors.New(errors.CodeMalformedMessage, "intent is empty", nil)
	}
	if err := ValidateUnit("phi_c", r.PhiC); err != nil {
		return err
	}
	if r.Timestamp <= 0 {
		return errors.New(errors.CodeMalformedMessage, "timestamp must be positive epoch seconds", nil)
	}
	if r.Nonce == "" || len(r.Nonce) > maxNonceLen {
		return errors.Newf(errors.CodeMalformedMessage, "nonce must be 1..%d bytes", maxNonceLen)
	}
	for key := range r.Context {
		if strings.TrimSpace(key) == "" {
			return errors.New(errors.CodeMalformedMessage, "context keys must be non-empty", nil)
		}
	}
	return nil
}

// Validate checks the action tag, Φs range, and metadata shape of a response.
func (r *Response) Validate() error {
	if !r.Action.Valid() {
		return errors.Newf(errors.CodeMalformedMessage, "unknown action %q", r.Action)
	}
	if err := ValidateUnit("phi_s", r.PhiS); err != nil {
		return err
	}
	switch r.Action {
	case ActionClarify:
		if len(r.Metadata.Questions) == 0 {
			return errors.New(errors.CodeMalformedMessage, "CLARIFY requires questions", nil)
		}
	case ActionPropose:
		if len(r.Metadata.Alternatives) == 0 {
			return errors.New(errors.CodeMalformedMessage, "PROPOSE requires alternatives", nil)
		}
	case ActionRefuse:
		if r.Metadata.Reason == "" {
			return errors.New(errors.CodeMalformedMessage, "REFUSE requires a reason", nil)
		}
	}
	return nil
}

// ValidateUnit returns InvalidConfidenceValue when v is outside [0,1] or NaN.
func ValidateUnit(name string, v float64) error {
	if math.IsNaN(v) || v < 0 || v > 1 {
		return errors.Newf(errors.CodeInvalidConfidence, "%s=%v outside [0,1]", name, v).
			WithContext("field", name)
	}
	return nil
}

func missingField(name string) error {
	return errors.Newf(errors.CodeMalformedMessage, "missing required field %q", name).
		WithContext("field", name)
}

// decodeStrict rejects trailing data after the JSON value.
func decodeStrict(raw []byte, v any) error {
	dec := json.NewDecoder(bytes.NewReader(raw))
	if err := dec.Decode(v); err != nil {
		return err
	}
	if dec.More() {
		return errors.New(errors.CodeMalformedMessage, "trailing data after message", nil)
	}
	return nil
}
