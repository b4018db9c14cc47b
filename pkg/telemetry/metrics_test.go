// SPDX-License-Identifier: Apache-2.0

package telemetry

import (
	"context"
	"testing"

	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"

	"github.com/jllopis/sinp/pkg/errors"
)

func newTestMetrics(t *testing.T) (*Metrics, *sdkmetric.ManualReader) {
	t.Helper()
	reader := sdkmetric.NewManualReader()
	provider := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	t.Cleanup(func() { _ = provider.Shutdown(context.Background()) })
	m, err := NewMetrics(provider)
	if err != nil {
		t.Fatalf("failed to create metrics: %v", err)
	}
	return m, reader
}

func collect(t *testing.T, reader *sdkmetric.ManualReader) map[string]metricdata.Aggregation {
	t.Helper()
	var rm metricdata.ResourceMetrics
	if err := reader.Collect(context.Background(), &rm); err != nil {
		t.Fatalf("collect: %v", err)
	}
	out := map[string]metricdata.Aggregation{}
	for _, sm := range rm.ScopeMetrics {
		for _, m := range sm.Metrics {
			out[m.Name] = m.Data
		}
	}
	return out
}

func sumInt(t *testing.T, data metricdata.Aggregation) int64 {
	t.Helper()
	sum, ok := data.(metricdata.Sum[int64])
	if !ok {
		t.Fatalf("expected int64 sum, got %T", data)
	}
	var total int64
	for _, dp := range sum.DataPoints {
		total += dp.Value
	}
	return total
}

func TestRecordDecision(t *testing.T) {
	m, reader := newTestMetrics(t)
	ctx := context.Background()

	m.RecordDecision(ctx, "EXECUTE", "", 0.874, 1.5)
	m.RecordDecision(ctx, "REFUSE", "no_capability_match", 0, 0.5)
	m.RecordDecision(ctx, "EXECUTE", "", 0.9, 2)

	data := collect(t, reader)
	if got := sumInt(t, data["sinp.negotiation.rounds"]); got != 3 {
		t.Fatalf("expected 3 decisions, got %d", got)
	}
	hist, ok := data["sinp.phi_s"].(metricdata.Histogram[float64])
	if !ok {
		t.Fatalf("expected float histogram for phi_s, got %T", data["sinp.phi_s"])
	}
	var count uint64
	for _, dp := range hist.DataPoints {
		count += dp.Count
	}
	if count != 3 {
		t.Fatalf("expected 3 phi_s observations, got %d", count)
	}
}

func TestRecordRejectionAndErrors(t *testing.T) {
	m, reader := newTestMetrics(t)
	ctx := context.Background()

	m.RecordRejection(ctx, errors.CodeReplayDetected)
	m.RecordError(ctx, errors.New(errors.CodeTimeout, "slow", nil).WithRecoverable(true), "engine")
	m.RecordError(ctx, context.Canceled, "server")
	m.RecordError(ctx, nil, "server")

	data := collect(t, reader)
	if got := sumInt(t, data["sinp.negotiation.rejections"]); got != 1 {
		t.Fatalf("expected 1 rejection, got %d", got)
	}
	if got := sumInt(t, data["sinp.errors.total"]); got != 2 {
		t.Fatalf("expected 2 errors, got %d", got)
	}
}

func TestSessionGauge(t *testing.T) {
	m, reader := newTestMetrics(t)
	ctx := context.Background()

	m.SessionOpened(ctx)
	m.SessionOpened(ctx)
	m.SessionClosed(ctx, "SATISFIED", 2)
	m.RecordBreakerState(ctx, "echo:v1", 2)

	data := collect(t, reader)
	if got := sumInt(t, data["sinp.sessions.active"]); got != 1 {
		t.Fatalf("expected 1 active session, got %d", got)
	}
	if _, ok := data["sinp.session.rounds"]; !ok {
		t.Fatalf("rounds histogram not recorded")
	}
	if _, ok := data["sinp.circuitbreaker.state"]; !ok {
		t.Fatalf("breaker gauge not recorded")
	}
}

func TestNilMetricsIsNoop(t *testing.T) {
	var m *Metrics
	ctx := context.Background()
	m.RecordDecision(ctx, "EXECUTE", "", 1, 1)
	m.RecordRejection(ctx, errors.CodeMalformedMessage)
	m.RecordError(ctx, errors.New(errors.CodeInternal, "x", nil), "c")
	m.SessionOpened(ctx)
	m.SessionClosed(ctx, "REFUSED", 1)
	m.RecordBreakerState(ctx, "x", 0)
}

func TestNewMetricsGlobalProvider(t *testing.T) {
	if _, err := NewMetrics(nil); err != nil {
		t.Fatalf("global provider: %v", err)
	}
}
