// Copyright 2026 © The SINP Authors
// SPDX-License-Identifier: Apache-2.0

package negotiation

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/jllopis/sinp/pkg/audit"
	"github.com/jllopis/sinp/pkg/errors"
	"github.com/jllopis/sinp/pkg/message"
	"github.com/jllopis/sinp/pkg/security"
	"github.com/jllopis/sinp/pkg/state"
	"github.com/jllopis/sinp/pkg/telemetry"
)

// Session is the negotiation context of one conversation.
type Session struct {
	ID     string
	Client *state.ClientMachine
	// LastCapability is the capability matched in the latest round.
	LastCapability string
	// LastAlternatives are the ids offered by the latest PROPOSE.
	LastAlternatives []string
	Created          time.Time
	LastActivity     time.Time
}

// SessionInfo is a read-only view of a session.
type SessionInfo struct {
	ID             string
	ClientState    state.ClientState
	Rounds         int
	LastCapability string
	Created        time.Time
	LastActivity   time.Time
}

// Coordinator runs the rounds of one session strictly one at a time.
type Coordinator struct {
	mu      sync.Mutex
	engine  *Engine
	session *Session
	closed  bool
	now     func() time.Time
}

// NewCoordinator opens a session with the engine's round cap.
func NewCoordinator(engine *Engine, sessionID string) *Coordinator {
	return newCoordinator(engine, sessionID, time.Now)
}

func newCoordinator(engine *Engine, sessionID string, now func() time.Time) *Coordinator {
	t := now()
	return &Coordinator{
		engine: engine,
		now:    now,
		session: &Session{
			ID:           sessionID,
			Client:       state.NewClientMachine(engine.maxRounds),
			Created:      t,
			LastActivity: t,
		},
	}
}

// Info returns a snapshot of the session.
func (c *Coordinator) Info() SessionInfo {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.infoLocked()
}

func (c *Coordinator) infoLocked() SessionInfo {
	s := c.session
	return SessionInfo{
		ID:             s.ID,
		ClientState:    s.Client.State(),
		Rounds:         s.Client.Rounds(),
		LastCapability: s.LastCapability,
		Created:        s.Created,
		LastActivity:   s.LastActivity,
	}
}

// Closed reports whether the session reached a terminal state or was torn
// down.
func (c *Coordinator) Closed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

// Handle runs one round for an admitted request. The response is never
// nil. A non-nil error is a state machine fault: the session is closed and
// the response is REFUSE internal_error.
func (c *Coordinator) Handle(ctx context.Context, req *message.Request) (*message.Response, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	e := c.engine
	s := c.session
	if c.closed {
		err := errors.Newf(errors.CodeSessionExpired, "session %s is closed", s.ID)
		return RejectResponse(req, err), nil
	}

	start := c.now()
	s.LastActivity = start
	intentHash := security.SemanticHash(req.Intent)
	ctx = telemetry.WithSession(ctx, s.ID)
	ctx, span := e.tracer.Start(ctx, "sinp.round",
		trace.WithAttributes(telemetry.RequestAttributes(s.ID, req.Nonce, req.KeyID, intentHash, s.Client.Rounds()+1, req.PhiC)...))
	defer span.End()

	if err := s.Client.Send(); err != nil {
		return c.fail(ctx, span, req, err)
	}
	server := state.NewServerMachine()
	if err := server.Decide(); err != nil {
		return c.fail(ctx, span, req, err)
	}

	resp, info, err := e.decide(ctx, s, req)
	if err != nil {
		e.logger.ErrorContext(ctx, "decision failed",
			slog.String("session_id", s.ID),
			slog.String("error", err.Error()),
		)
		e.metrics.RecordError(ctx, err, "engine")
		resp = message.Refuse(0, message.ReasonInternal)
		resp.CapabilityID = info.capabilityID
	}
	if !resp.Terminal() && s.Client.Exhausted() {
		capID := resp.CapabilityID
		resp = message.Refuse(resp.PhiS, message.ReasonExhausted)
		resp.CapabilityID = capID
	}

	if err := server.Complete(); err != nil {
		return c.fail(ctx, span, req, err)
	}
	if err := s.Client.Receive(resp); err != nil {
		return c.fail(ctx, span, req, err)
	}

	resp.SessionID = s.ID
	resp.Round = s.Client.Rounds()
	resp.Nonce = req.Nonce
	if resp.CapabilityID != "" {
		s.LastCapability = resp.CapabilityID
	}
	s.LastAlternatives = resp.Metadata.Alternatives
	if s.Client.Terminal() {
		c.closed = true
	}

	span.SetAttributes(telemetry.DecisionAttributes(string(resp.Action), resp.Metadata.Reason, resp.CapabilityID,
		resp.PhiS, info.rho, info.reliability, info.availability, resp.Metadata.Alternatives)...)
	elapsed := c.now().Sub(start)
	e.metrics.RecordDecision(ctx, string(resp.Action), resp.Metadata.Reason, resp.PhiS, float64(elapsed.Microseconds())/1000)
	c.record(ctx, req, resp, info, intentHash)

	e.logger.InfoContext(ctx, "round decided",
		slog.String("session_id", s.ID),
		slog.Int("round", resp.Round),
		slog.String("action", string(resp.Action)),
		slog.String("reason", resp.Metadata.Reason),
		slog.String("capability", resp.CapabilityID),
		slog.Float64("phi_s", resp.PhiS),
		slog.String("client_state", string(s.Client.State())),
	)
	return resp, nil
}

// fail closes the session after a state machine fault.
func (c *Coordinator) fail(ctx context.Context, span trace.Span, req *message.Request, err error) (*message.Response, error) {
	c.closed = true
	span.RecordError(err)
	span.SetStatus(codes.Error, "state transition")
	c.engine.logger.ErrorContext(ctx, "session aborted",
		slog.String("session_id", c.session.ID),
		slog.String("client_state", string(c.session.Client.State())),
		slog.String("error", err.Error()),
	)
	c.engine.metrics.RecordError(ctx, err, "state")
	resp := message.Refuse(0, message.ReasonInternal)
	resp.SessionID = c.session.ID
	resp.Round = c.session.Client.Rounds()
	resp.Nonce = req.Nonce
	return resp, err
}

// expire closes an idle session. It reports false when a round is in
// flight or the session was active within idle.
func (c *Coordinator) expire(now time.Time, idle time.Duration) bool {
	if !c.mu.TryLock() {
		return false
	}
	defer c.mu.Unlock()
	if c.closed {
		return true
	}
	if now.Sub(c.session.LastActivity) < idle {
		return false
	}
	c.closed = true
	return true
}

func (c *Coordinator) record(ctx context.Context, req *message.Request, resp *message.Response, info roundInfo, intentHash string) {
	rec := audit.Record{
		SessionID:    c.session.ID,
		Round:        resp.Round,
		Nonce:        req.Nonce,
		KeyID:        req.KeyID,
		IntentHash:   intentHash,
		PhiC:         req.PhiC,
		PhiS:         resp.PhiS,
		Rho:          info.rho,
		Reliability:  info.reliability,
		Availability: info.availability,
		Action:       string(resp.Action),
		Reason:       resp.Metadata.Reason,
		CapabilityID: resp.CapabilityID,
		Alternatives: resp.Metadata.Alternatives,
		ClientState:  string(c.session.Client.State()),
		Time:         c.now(),
	}
	if err := c.engine.audit.Record(ctx, rec); err != nil {
		c.engine.logger.WarnContext(ctx, "audit record failed",
			slog.String("session_id", c.session.ID),
			slog.String("error", err.Error()),
		)
	}
}
