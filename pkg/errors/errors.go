// SPDX-License-Identifier: Apache-2.0
// Package errors provides the typed error taxonomy of the negotiation protocol.
// Every rejection and refusal maps to one ErrorCode, and every code maps to a
// wire reason string carried by REFUSE responses.
package errors

import (
	"encoding/json"
	stderrors "errors"
	"fmt"
	"strings"
)

// ErrorCode classifies SINP errors for monitoring, refusal reasons and recovery.
type ErrorCode string

const (
	// CodeMalformedMessage indicates a framing or parse failure.
	CodeMalformedMessage ErrorCode = "MALFORMED_MESSAGE"

	// CodeInvalidSignature indicates the request signature did not verify.
	CodeInvalidSignature ErrorCode = "INVALID_SIGNATURE"

	// CodeReplayDetected indicates a stale timestamp or a reused nonce.
	CodeReplayDetected ErrorCode = "REPLAY_DETECTED"

	// CodeInvalidConfidence indicates Φc, ρ, R or A fell outside [0,1].
	CodeInvalidConfidence ErrorCode = "INVALID_CONFIDENCE_VALUE"

	// CodeNoCapabilityMatch indicates the interpreter found nothing.
	CodeNoCapabilityMatch ErrorCode = "NO_CAPABILITY_MATCH"

	// CodePolicyDenied indicates governance rejected the capability.
	CodePolicyDenied ErrorCode = "POLICY_DENIED"

	// CodeResourceUnavailable indicates the capability cannot currently run.
	CodeResourceUnavailable ErrorCode = "RESOURCE_UNAVAILABLE"

	// CodeSessionExpired indicates the negotiation context was torn down.
	CodeSessionExpired ErrorCode = "SESSION_EXPIRED"

	// CodeStateTransition indicates an illegal state machine transition.
	CodeStateTransition ErrorCode = "STATE_TRANSITION"

	// CodeInternal indicates an internal system error.
	CodeInternal ErrorCode = "INTERNAL_ERROR"

	// CodeTimeout indicates an operation exceeded its time limit.
	CodeTimeout ErrorCode = "TIMEOUT"

	// CodeRateLimit indicates rate limiting was triggered.
	CodeRateLimit ErrorCode = "RATE_LIMITED"

	// CodeInvalidConfig indicates configuration values are inconsistent.
	CodeInvalidConfig ErrorCode = "INVALID_CONFIG"
)

// SinpError is a typed error with context for observability.
// It implements the error interface and can be unwrapped with errors.As().
type SinpError struct {
	Code        ErrorCode
	Message     string
	Err         error
	Context     map[string]interface{}
	Attributes  map[string]string
	Recoverable bool
	StatusCode  int
}

// Error implements the error interface.
func (e *SinpError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// Unwrap implements errors.Unwrap for error chain traversal.
func (e *SinpError) Unwrap() error {
	return e.Err
}

// MarshalJSON implements json.Marshaler for structured logging.
func (e *SinpError) MarshalJSON() ([]byte, error) {
	out := struct {
		Message     string                 `json:"message"`
		Code        string                 `json:"code"`
		Reason      string                 `json:"reason"`
		Err         string                 `json:"error,omitempty"`
		Recoverable bool                   `json:"recoverable"`
		Context     map[string]interface{} `json:"context,omitempty"`
		Attributes  map[string]string      `json:"attributes,omitempty"`
	}{
		Message:     e.Message,
		Code:        string(e.Code),
		Reason:      e.Code.Reason(),
		Recoverable: e.Recoverable,
		Context:     e.Context,
		Attributes:  e.Attributes,
	}
	if e.Err != nil {
		out.Err = e.Err.Error()
	}
	return json.Marshal(out)
}

// New creates a new SinpError with the given code, message, and cause.
func New(code ErrorCode, msg string, cause error) *SinpError {
	return &SinpError{
		Code:       code,
		Message:    msg,
		Err:        cause,
		Context:    make(map[string]interface{}),
		Attributes: make(map[string]string),
		StatusCode: codeToStatusCode(code),
	}
}

// Newf is New with a formatted message and no cause.
func Newf(code ErrorCode, format string, args ...any) *SinpError {
	return New(code, fmt.Sprintf(format, args...), nil)
}

// WithContext adds a key-value pair to the error context.
func (e *SinpError) WithContext(key string, value interface{}) *SinpError {
	if e.Context == nil {
		e.Context = make(map[string]interface{})
	}
	e.Context[key] = value
	return e
}

// WithAttribute adds a string attribute for OTEL traces.
func (e *SinpError) WithAttribute(key, value string) *SinpError {
	if e.Attributes == nil {
		e.Attributes = make(map[string]string)
	}
	e.Attributes[key] = value
	return e
}

// WithRecoverable sets whether the error can be recovered from.
func (e *SinpError) WithRecoverable(recoverable bool) *SinpError {
	e.Recoverable = recoverable
	return e
}

// RecoverableString returns "true" or "false" as a string for observability.
func (e *SinpError) RecoverableString() string {
	if e.Recoverable {
		return "true"
	}
	return "false"
}

// Reason returns the wire refusal reason for the error's code.
func (e *SinpError) Reason() string {
	return e.Code.Reason()
}

// AsSinpError finds a SinpError in err's chain, or wraps err as internal.
func AsSinpError(err error) *SinpError {
	if err == nil {
		return nil
	}
	var se *SinpError
	if stderrors.As(err, &se) {
		return se
	}
	return New(CodeInternal, "wrapped error", err)
}

// Find returns the first SinpError in err's chain without wrapping.
func Find(err error) (*SinpError, bool) {
	var se *SinpError
	if stderrors.As(err, &se) {
		return se, true
	}
	return nil, false
}

// IsCode reports whether err's chain contains a SinpError with the given code.
func IsCode(err error, code ErrorCode) bool {
	var se *SinpError
	if !stderrors.As(err, &se) {
		return false
	}
	return se.Code == code
}

// CodeOf returns the code of the first SinpError in err's chain.
// Errors outside the taxonomy report CodeInternal.
func CodeOf(err error) ErrorCode {
	var se *SinpError
	if stderrors.As(err, &se) {
		return se.Code
	}
	return CodeInternal
}

// Reason maps the code to its snake_case wire form, e.g. "replay_detected".
func (c ErrorCode) Reason() string {
	switch c {
	case CodeStateTransition, CodeInternal:
		return "internal_error"
	case CodeTimeout:
		return "resource_unavailable"
	case "":
		return ""
	default:
		return strings.ToLower(string(c))
	}
}

// IsRejection reports whether the code rejects a request before interpretation.
func (c ErrorCode) IsRejection() bool {
	switch c {
	case CodeMalformedMessage, CodeInvalidSignature, CodeReplayDetected, CodeInvalidConfidence, CodeRateLimit:
		return true
	default:
		return false
	}
}

// codeToStatusCode maps error codes to HTTP-like status codes for operators.
func codeToStatusCode(code ErrorCode) int {
	switch code {
	case CodeMalformedMessage, CodeInvalidConfidence, CodeInvalidConfig:
		return 400
	case CodeInvalidSignature:
		return 401
	case CodePolicyDenied:
		return 403
	case CodeNoCapabilityMatch:
		return 404
	case CodeTimeout:
		return 408
	case CodeReplayDetected:
		return 409
	case CodeSessionExpired:
		return 410
	case CodeRateLimit:
		return 429
	case CodeResourceUnavailable:
		return 503
	default:
		return 500
	}
}
