// SPDX-License-Identifier: Apache-2.0

package telemetry

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/jllopis/sinp/pkg/errors"
)

// Metrics records negotiation outcomes. A nil *Metrics is valid and
// records nothing.
type Metrics struct {
	decisions    metric.Int64Counter
	rejections   metric.Int64Counter
	errors       metric.Int64Counter
	phiS         metric.Float64Histogram
	rounds       metric.Int64Histogram
	latency      metric.Float64Histogram
	sessions     metric.Int64UpDownCounter
	breakerState metric.Int64Gauge
}

// NewMetrics creates instruments on provider, or on the global meter
// provider when provider is nil.
func NewMetrics(provider metric.MeterProvider) (*Metrics, error) {
	if provider == nil {
		provider = otel.GetMeterProvider()
	}
	meter := provider.Meter(InstrumentationName)
	m := &Metrics{}
	var err error

	if m.decisions, err = meter.Int64Counter("sinp.negotiation.rounds",
		metric.WithDescription("Decisions by action and refusal reason")); err != nil {
		return nil, err
	}
	if m.rejections, err = meter.Int64Counter("sinp.negotiation.rejections",
		metric.WithDescription("Requests rejected before interpretation, by error code")); err != nil {
		return nil, err
	}
	if m.errors, err = meter.Int64Counter("sinp.errors.total",
		metric.WithDescription("Errors by code and component")); err != nil {
		return nil, err
	}
	if m.phiS, err = meter.Float64Histogram("sinp.phi_s",
		metric.WithDescription("Server confidence per decision"),
		metric.WithExplicitBucketBoundaries(0.1, 0.2, 0.3, 0.4, 0.5, 0.6, 0.7, 0.8, 0.85, 0.9, 1)); err != nil {
		return nil, err
	}
	if m.rounds, err = meter.Int64Histogram("sinp.session.rounds",
		metric.WithDescription("Rounds used by finished sessions"),
		metric.WithExplicitBucketBoundaries(1, 2, 3, 4, 5, 8)); err != nil {
		return nil, err
	}
	if m.latency, err = meter.Float64Histogram("sinp.negotiation.decision.duration",
		metric.WithDescription("Time from request receipt to response"),
		metric.WithUnit("ms")); err != nil {
		return nil, err
	}
	if m.sessions, err = meter.Int64UpDownCounter("sinp.sessions.active",
		metric.WithDescription("Open negotiation sessions")); err != nil {
		return nil, err
	}
	if m.breakerState, err = meter.Int64Gauge("sinp.circuitbreaker.state",
		metric.WithDescription("Circuit breaker state per capability (0=open, 1=half-open, 2=closed)")); err != nil {
		return nil, err
	}
	return m, nil
}

// RecordDecision counts one decision and its Φs.
func (m *Metrics) RecordDecision(ctx context.Context, action, reason string, phiS, durationMs float64) {
	if m == nil {
		return
	}
	attrs := metric.WithAttributes(
		attribute.String(AttrAction, action),
		attribute.String(AttrReason, reason),
	)
	m.decisions.Add(ctx, 1, attrs)
	m.phiS.Record(ctx, phiS, metric.WithAttributes(attribute.String(AttrAction, action)))
	m.latency.Record(ctx, durationMs, metric.WithAttributes(attribute.String(AttrAction, action)))
}

// RecordRejection counts a request rejected before it reached the engine.
func (m *Metrics) RecordRejection(ctx context.Context, code errors.ErrorCode) {
	if m == nil {
		return
	}
	m.rejections.Add(ctx, 1, metric.WithAttributes(attribute.String(AttrErrorCode, string(code))))
}

// RecordError counts err under its taxonomy code. Errors outside the
// taxonomy count as INTERNAL_ERROR.
func (m *Metrics) RecordError(ctx context.Context, err error, component string) {
	if m == nil || err == nil {
		return
	}
	recoverable := "unknown"
	if se, ok := errors.Find(err); ok {
		recoverable = se.RecoverableString()
	}
	m.errors.Add(ctx, 1, metric.WithAttributes(
		attribute.String(AttrErrorCode, string(errors.CodeOf(err))),
		attribute.String(AttrComponent, component),
		attribute.String(AttrRecoverable, recoverable),
	))
}

// SessionOpened and SessionClosed track the active session count.
func (m *Metrics) SessionOpened(ctx context.Context) {
	if m == nil {
		return
	}
	m.sessions.Add(ctx, 1)
}

// SessionClosed records the final state and rounds of a session.
func (m *Metrics) SessionClosed(ctx context.Context, final string, rounds int) {
	if m == nil {
		return
	}
	m.sessions.Add(ctx, -1)
	m.rounds.Record(ctx, int64(rounds), metric.WithAttributes(attribute.String(AttrState, final)))
}

// RecordBreakerState records a capability breaker state.
func (m *Metrics) RecordBreakerState(ctx context.Context, capabilityID string, state int64) {
	if m == nil {
		return
	}
	m.breakerState.Record(ctx, state, metric.WithAttributes(attribute.String(AttrCapabilityID, capabilityID)))
}
