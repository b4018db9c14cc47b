// Copyright 2026 © The SINP Authors
// SPDX-License-Identifier: Apache-2.0

// Package negotiation drives negotiation rounds: it admits requests through
// the security checks, interprets intents, decides with the confidence
// policy and advances the client and server state machines of a session.
package negotiation

import (
	"context"
	"log/slog"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"

	"github.com/jllopis/sinp/pkg/audit"
	"github.com/jllopis/sinp/pkg/capability"
	"github.com/jllopis/sinp/pkg/confidence"
	"github.com/jllopis/sinp/pkg/errors"
	"github.com/jllopis/sinp/pkg/governance"
	"github.com/jllopis/sinp/pkg/interpreter"
	"github.com/jllopis/sinp/pkg/message"
	"github.com/jllopis/sinp/pkg/resilience"
	"github.com/jllopis/sinp/pkg/security"
	"github.com/jllopis/sinp/pkg/state"
	"github.com/jllopis/sinp/pkg/telemetry"
)

// DefaultHandlerTimeout bounds a capability handler call.
const DefaultHandlerTimeout = 10 * time.Second

// Engine holds the collaborators shared by every session of a server.
type Engine struct {
	registry     *capability.Registry
	interp       interpreter.Interpreter
	policy       atomic.Pointer[confidence.Policy]
	replay       *security.ReplayGuard
	verifier     *security.Verifier
	governance   *governance.Evaluator
	availability *capability.Availability
	audit        audit.Store
	metrics      *telemetry.Metrics
	tracer       trace.Tracer
	logger       *slog.Logger

	handlerTimeout time.Duration
	maxRounds      int
}

// Option configures an Engine.
type Option func(*Engine)

// WithInterpreter sets the intent interpreter. The default is the keyword
// interpreter.
func WithInterpreter(i interpreter.Interpreter) Option {
	return func(e *Engine) {
		if i != nil {
			e.interp = i
		}
	}
}

// WithPolicy sets the initial decision policy.
func WithPolicy(p confidence.Policy) Option {
	return func(e *Engine) {
		e.policy.Store(&p)
	}
}

// WithReplayGuard sets the replay guard. The default keeps nonces in memory.
func WithReplayGuard(g *security.ReplayGuard) Option {
	return func(e *Engine) {
		if g != nil {
			e.replay = g
		}
	}
}

// WithVerifier sets the signature verifier. The default accepts unsigned
// requests and rejects every signed one, since its keyring is empty.
func WithVerifier(v *security.Verifier) Option {
	return func(e *Engine) {
		if v != nil {
			e.verifier = v
		}
	}
}

// WithGovernance sets the policy evaluator producing policy_ok.
func WithGovernance(g *governance.Evaluator) Option {
	return func(e *Engine) {
		if g != nil {
			e.governance = g
		}
	}
}

// WithAvailability sets the availability tracker shared with health checks.
func WithAvailability(a *capability.Availability) Option {
	return func(e *Engine) {
		if a != nil {
			e.availability = a
		}
	}
}

// WithAudit records every round and rejection in store.
func WithAudit(store audit.Store) Option {
	return func(e *Engine) {
		if store != nil {
			e.audit = store
		}
	}
}

func WithMetrics(m *telemetry.Metrics) Option {
	return func(e *Engine) {
		e.metrics = m
	}
}

func WithLogger(logger *slog.Logger) Option {
	return func(e *Engine) {
		if logger != nil {
			e.logger = logger
		}
	}
}

// WithHandlerTimeout bounds handler execution. Zero or negative disables it.
func WithHandlerTimeout(d time.Duration) Option {
	return func(e *Engine) {
		e.handlerTimeout = d
	}
}

// WithMaxRounds sets the per-session round cap.
func WithMaxRounds(n int) Option {
	return func(e *Engine) {
		if n > 0 {
			e.maxRounds = n
		}
	}
}

// NewEngine builds an engine over registry.
func NewEngine(registry *capability.Registry, opts ...Option) (*Engine, error) {
	if registry == nil {
		return nil, errors.New(errors.CodeInvalidConfig, "engine requires a capability registry", nil)
	}
	e := &Engine{
		registry:       registry,
		interp:         interpreter.NewKeywordInterpreter(),
		verifier:       security.NewVerifier(nil, false),
		governance:     governance.NewEvaluator(nil, nil, nil),
		availability:   capability.NewAvailability(resilience.CircuitBreakerConfig{}),
		audit:          audit.Nop{},
		tracer:         otel.Tracer(telemetry.InstrumentationName),
		logger:         slog.Default(),
		handlerTimeout: DefaultHandlerTimeout,
		maxRounds:      state.DefaultMaxRounds,
	}
	for _, opt := range opts {
		opt(e)
	}
	if e.policy.Load() == nil {
		p := confidence.DefaultPolicy()
		e.policy.Store(&p)
	}
	if err := e.policy.Load().Validate(); err != nil {
		return nil, err
	}
	if e.replay == nil {
		e.replay = security.NewReplayGuard(security.NewMemoryReplayStore(0))
	}
	return e, nil
}

// Policy returns the decision policy in force.
func (e *Engine) Policy() confidence.Policy {
	return *e.policy.Load()
}

// SetPolicy swaps the decision policy. Rounds already deciding keep the
// policy they started with.
func (e *Engine) SetPolicy(p confidence.Policy) error {
	if err := p.Validate(); err != nil {
		return err
	}
	e.policy.Store(&p)
	e.logger.Info("decision policy updated",
		slog.Float64("tau_exec", p.Thresholds.Exec),
		slog.Float64("tau_clarify", p.Thresholds.Clarify),
		slog.Float64("tau_accept", p.Thresholds.Accept),
	)
	return nil
}

// Registry returns the capability registry.
func (e *Engine) Registry() *capability.Registry { return e.registry }

// Governance returns the policy evaluator.
func (e *Engine) Governance() *governance.Evaluator { return e.governance }

// Availability returns the availability tracker.
func (e *Engine) Availability() *capability.Availability { return e.availability }

// MaxRounds returns the per-session round cap.
func (e *Engine) MaxRounds() int { return e.maxRounds }

// Admit decodes raw, verifies its signature and checks replay, in that
// order. Nothing is mutated on failure except that a fresh nonce that
// passed the signature check stays remembered.
func (e *Engine) Admit(ctx context.Context, raw []byte) (*message.Request, error) {
	req, err := message.DecodeRequest(raw)
	if err != nil {
		return nil, err
	}
	if err := e.verifier.Verify(raw, req); err != nil {
		return req, err
	}
	if err := e.replay.Check(ctx, req.Nonce, req.Timestamp); err != nil {
		return req, err
	}
	return req, nil
}

// Reject records a request refused before interpretation and builds the
// minimal REFUSE answering it. req may be nil when decoding failed.
func (e *Engine) Reject(ctx context.Context, req *message.Request, err error) *message.Response {
	code := errors.CodeOf(err)
	e.metrics.RecordRejection(ctx, code)
	resp := RejectResponse(req, err)

	attrs := []any{slog.String("reason", resp.Metadata.Reason), slog.String("error", err.Error())}
	if req != nil {
		attrs = append(attrs, slog.String("session_id", req.SessionID))
		rec := audit.Record{
			SessionID: req.SessionID,
			Nonce:     req.Nonce,
			KeyID:     req.KeyID,
			PhiC:      req.PhiC,
			Action:    string(message.ActionRefuse),
			Reason:    resp.Metadata.Reason,
		}
		if aerr := e.audit.Record(ctx, rec); aerr != nil {
			e.logger.Warn("audit record failed", slog.String("error", aerr.Error()))
		}
	}
	e.logger.InfoContext(ctx, "request rejected", attrs...)
	return resp
}

// RejectResponse is the minimal REFUSE for a request that failed
// admission or whose session is gone.
func RejectResponse(req *message.Request, err error) *message.Response {
	resp := message.Refuse(0, errors.CodeOf(err).Reason())
	if req != nil {
		resp.SessionID = req.SessionID
		resp.Nonce = req.Nonce
	}
	return resp
}
