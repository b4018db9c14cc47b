// Copyright 2026 © The SINP Authors
// SPDX-License-Identifier: Apache-2.0

package capability

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	serrors "github.com/jllopis/sinp/pkg/errors"
	"github.com/jllopis/sinp/pkg/resilience"
)

func nopHandler() Handler {
	return HandlerFunc(func(context.Context, Invocation) (any, error) { return "ok", nil })
}

func TestCapabilityValidate(t *testing.T) {
	tests := []struct {
		name string
		cap  Capability
		ok   bool
	}{
		{"valid", Capability{ID: "a:v1", Reliability: 0.5}, true},
		{"missing id", Capability{Reliability: 0.5}, false},
		{"reliability above one", Capability{ID: "a", Reliability: 1.5}, false},
		{"negative cost", Capability{ID: "a", Cost: -1}, false},
		{"unknown privacy", Capability{ID: "a", PrivacyLevel: "secret"}, false},
		{"duplicate input", Capability{ID: "a", Inputs: []Input{{Name: "x"}, {Name: "x"}}}, false},
		{"blank input", Capability{ID: "a", Inputs: []Input{{Name: " "}}}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.cap.Validate()
			if tt.ok && err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if !tt.ok && !serrors.IsCode(err, serrors.CodeInvalidConfig) {
				t.Fatalf("expected invalid config, got %v", err)
			}
		})
	}
}

func TestMissingInputs(t *testing.T) {
	c := Capability{ID: "translate:v1", Inputs: []Input{
		{Name: "text", Required: true},
		{Name: "tone"},
		{Name: "target_language", Required: true},
	}}
	got := c.MissingInputs(map[string]string{"text": "hola", "target_language": "  "})
	if diff := cmp.Diff([]Input{{Name: "target_language", Required: true}}, got); diff != "" {
		t.Fatalf("missing inputs mismatch (-want +got):\n%s", diff)
	}
	if c.Name() != "translate" {
		t.Fatalf("unexpected name %q", c.Name())
	}
}

func TestRegistrySnapshotIsolation(t *testing.T) {
	r := NewRegistry()
	if err := r.Register(Capability{ID: "b:v1", Reliability: 0.9}, nopHandler()); err != nil {
		t.Fatal(err)
	}
	before := r.Snapshot()

	if err := r.Register(Capability{ID: "a:v1", Reliability: 0.8}, nopHandler()); err != nil {
		t.Fatal(err)
	}
	after := r.Snapshot()

	if before.Len() != 1 || after.Len() != 2 {
		t.Fatalf("snapshot sizes: before %d after %d", before.Len(), after.Len())
	}
	if _, ok := before.Lookup("a:v1"); ok {
		t.Fatalf("old snapshot must not see later registrations")
	}
	if after.Version() <= before.Version() {
		t.Fatalf("version must grow: %d -> %d", before.Version(), after.Version())
	}
	if diff := cmp.Diff([]string{"a:v1", "b:v1"}, after.IDs()); diff != "" {
		t.Fatalf("ids not sorted (-want +got):\n%s", diff)
	}

	if !r.Unregister("b:v1") || r.Unregister("b:v1") {
		t.Fatalf("unregister should report presence exactly once")
	}
	if _, ok := after.Lookup("b:v1"); !ok {
		t.Fatalf("published snapshot must be immutable")
	}
}

func TestRegisterAllIsAtomic(t *testing.T) {
	r := NewRegistry()
	err := r.RegisterAll(
		Entry{Capability: Capability{ID: "good:v1", Reliability: 1}, Handler: nopHandler()},
		Entry{Capability: Capability{ID: "bad:v1", Reliability: 2}, Handler: nopHandler()},
	)
	if err == nil {
		t.Fatalf("expected validation error")
	}
	if r.Snapshot().Len() != 0 {
		t.Fatalf("partial registration was published")
	}
	if err := r.Register(Capability{ID: "x"}, nil); !serrors.IsCode(err, serrors.CodeInvalidConfig) {
		t.Fatalf("nil handler must be rejected, got %v", err)
	}
}

func TestRegistryConcurrentReaders(t *testing.T) {
	r := NewRegistry()
	var wg sync.WaitGroup
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 200; j++ {
				s := r.Snapshot()
				if len(s.IDs()) != s.Len() {
					t.Errorf("inconsistent snapshot")
					return
				}
			}
		}()
	}
	for j := 0; j < 50; j++ {
		_ = r.Register(Capability{ID: string(rune('a'+j%26)) + ":v1", Reliability: 1}, nopHandler())
	}
	wg.Wait()
}

func TestReliabilityLearning(t *testing.T) {
	r := NewRegistry(WithLearningRate(0.5))
	_ = r.Register(Capability{ID: "flaky:v1", Reliability: 1}, nopHandler())

	r.ObserveOutcome("flaky:v1", false)
	e, _ := r.Lookup("flaky:v1")
	if e.Capability.Reliability != 0.5 {
		t.Fatalf("expected 0.5 after one failure, got %v", e.Capability.Reliability)
	}
	r.ObserveOutcome("flaky:v1", true)
	e, _ = r.Lookup("flaky:v1")
	if e.Capability.Reliability != 0.75 {
		t.Fatalf("expected 0.75 after a success, got %v", e.Capability.Reliability)
	}
	r.ObserveOutcome("unknown", true)

	if err := r.SetReliability("flaky:v1", 1.2); !serrors.IsCode(err, serrors.CodeInvalidConfidence) {
		t.Fatalf("expected invalid confidence, got %v", err)
	}
	if err := r.SetReliability("nope", 0.2); !serrors.IsCode(err, serrors.CodeNoCapabilityMatch) {
		t.Fatalf("expected no match, got %v", err)
	}
	if err := r.SetReliability("flaky:v1", 0.3); err != nil {
		t.Fatal(err)
	}
	e, _ = r.Lookup("flaky:v1")
	if e.Capability.Reliability != 0.3 {
		t.Fatalf("expected 0.3, got %v", e.Capability.Reliability)
	}
}

func TestAvailability(t *testing.T) {
	av := NewAvailability(resilience.CircuitBreakerConfig{FailureThreshold: 1, Timeout: time.Hour})
	ctx := context.Background()

	if got := av.Of(ctx, "echo:v1"); got != 1 {
		t.Fatalf("fresh capability should be fully available, got %v", got)
	}
	av.SetProbe("echo:v1", func(context.Context) float64 { return 0.4 })
	if got := av.Of(ctx, "echo:v1"); got != 0.4 {
		t.Fatalf("probe should lower availability, got %v", got)
	}
	av.SetProbe("echo:v1", nil)

	failing := Entry{
		Capability: Capability{ID: "echo:v1"},
		Handler: HandlerFunc(func(context.Context, Invocation) (any, error) {
			return nil, errors.New("backend down")
		}),
	}
	if _, err := av.Execute(ctx, failing, Invocation{}, time.Second); err == nil {
		t.Fatalf("expected handler error")
	}
	if got := av.Of(ctx, "echo:v1"); got != 0 {
		t.Fatalf("open breaker should report 0, got %v", got)
	}
	if _, err := av.Execute(ctx, failing, Invocation{}, time.Second); !serrors.IsCode(err, serrors.CodeResourceUnavailable) {
		t.Fatalf("expected resource unavailable from open breaker, got %v", err)
	}
}

func TestAvailabilityExecuteTimeout(t *testing.T) {
	av := NewAvailability(resilience.CircuitBreakerConfig{})
	slow := Entry{
		Capability: Capability{ID: "slow:v1"},
		Handler: HandlerFunc(func(ctx context.Context, _ Invocation) (any, error) {
			<-ctx.Done()
			return nil, ctx.Err()
		}),
	}
	_, err := av.Execute(context.Background(), slow, Invocation{}, 10*time.Millisecond)
	if !serrors.IsCode(err, serrors.CodeTimeout) {
		t.Fatalf("expected timeout, got %v", err)
	}
}

func TestManifest(t *testing.T) {
	data := []byte(`
capabilities:
  - id: shout:v1
    description: Shout the text back in capitals
    keywords: ["shout|yell"]
    inputs:
      - name: text
        required: true
    privacy_level: internal
    reliability: 0.9
    handler: uppercase
`)
	m, err := ParseManifest(data)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	r := NewRegistry()
	if err := m.Register(r, BuiltinHandlers(r)); err != nil {
		t.Fatalf("register: %v", err)
	}
	e, ok := r.Lookup("shout:v1")
	if !ok {
		t.Fatalf("shout:v1 not registered")
	}
	if e.Capability.PrivacyLevel != PrivacyInternal || e.Capability.Reliability != 0.9 || !e.Capability.Inputs[0].Required {
		t.Fatalf("unexpected descriptor %+v", e.Capability)
	}
	out, err := e.Handler.Execute(context.Background(), Invocation{Inputs: map[string]string{"text": "hey"}})
	if err != nil {
		t.Fatal(err)
	}
	if diff := cmp.Diff(map[string]any{"uppercase": "HEY"}, out); diff != "" {
		t.Fatalf("handler output (-want +got):\n%s", diff)
	}

	if err := m.Register(r, map[string]Handler{}); !serrors.IsCode(err, serrors.CodeInvalidConfig) {
		t.Fatalf("unknown handler must fail, got %v", err)
	}
}

func TestManifestRejectsInvalid(t *testing.T) {
	bad := []string{
		"capabilities: [{id: a, handler: echo, reliability: 3}]",
		"capabilities: [{id: a, reliability: 1}]",
		"capabilities: [{id: a, handler: echo}, {id: a, handler: echo}]",
		"capabilities: {",
	}
	for _, doc := range bad {
		if _, err := ParseManifest([]byte(doc)); !serrors.IsCode(err, serrors.CodeInvalidConfig) {
			t.Errorf("%q: expected invalid config, got %v", doc, err)
		}
	}
}

func TestBuiltins(t *testing.T) {
	r := NewRegistry()
	if err := RegisterBuiltins(r); err != nil {
		t.Fatal(err)
	}
	if diff := cmp.Diff([]string{"echo:v1", "help:v1", "reverse:v1", "uppercase:v1"}, r.Snapshot().IDs()); diff != "" {
		t.Fatalf("builtin ids (-want +got):\n%s", diff)
	}
	ctx := context.Background()
	tests := []struct {
		id   string
		inv  Invocation
		want any
	}{
		{"echo:v1", Invocation{Intent: "echo hello"}, map[string]any{"echo": "echo hello"}},
		{"echo:v1", Invocation{Intent: "echo", Inputs: map[string]string{"text": "hi"}}, map[string]any{"echo": "hi"}},
		{"reverse:v1", Invocation{Inputs: map[string]string{"text": "añb"}}, map[string]any{"reversed": "bña"}},
		{"uppercase:v1", Invocation{Inputs: map[string]string{"text": "Hello"}}, map[string]any{"uppercase": "HELLO"}},
	}
	for _, tt := range tests {
		e, _ := r.Lookup(tt.id)
		got, err := e.Handler.Execute(ctx, tt.inv)
		if err != nil {
			t.Fatalf("%s: %v", tt.id, err)
		}
		if diff := cmp.Diff(tt.want, got); diff != "" {
			t.Errorf("%s (-want +got):\n%s", tt.id, diff)
		}
	}

	help, _ := r.Lookup("help:v1")
	out, _ := help.Handler.Execute(ctx, Invocation{})
	msg := out.(map[string]any)["message"]
	if msg != "Available capabilities: echo, help, reverse, uppercase" {
		t.Fatalf("unexpected help message %v", msg)
	}

	if err := RegisterBuiltins(NewRegistry(), "nope"); err == nil {
		t.Fatalf("unknown builtin must fail")
	}
}

func TestCatalogVersionIgnoresReliability(t *testing.T) {
	r := NewRegistry()
	if err := RegisterBuiltins(r, BuiltinEcho); err != nil {
		t.Fatalf("register: %v", err)
	}
	before := r.Snapshot()
	r.ObserveOutcome("echo:v1", false)
	if err := r.SetReliability("echo:v1", 0.5); err != nil {
		t.Fatalf("set reliability: %v", err)
	}
	after := r.Snapshot()
	if after.Version() == before.Version() {
		t.Fatalf("reliability changes must publish a new snapshot")
	}
	if after.CatalogVersion() != before.CatalogVersion() {
		t.Fatalf("catalog version moved on a reliability change: %d -> %d", before.CatalogVersion(), after.CatalogVersion())
	}
	r.Unregister("echo:v1")
	if r.Snapshot().CatalogVersion() == after.CatalogVersion() {
		t.Fatalf("catalog version must move when a capability is removed")
	}
}
