// Copyright 2026 © The SINP Authors
// SPDX-License-Identifier: Apache-2.0

package state

import (
	"testing"

	"github.com/jllopis/sinp/pkg/message"
)

var (
	allClientStates = []ClientState{ClientInit, ClientPending, ClientRefining, ClientSatisfied, ClientRefused}
	allClientEvents = []ClientEvent{EventSend, EventExecute, EventClarify, EventPropose, EventRefuse}
)

func TestClientTransitionTable(t *testing.T) {
	tests := []struct {
		from  ClientState
		event ClientEvent
		want  ClientState
	}{
		{ClientInit, EventSend, ClientPending},
		{ClientRefining, EventSend, ClientPending},
		{ClientPending, EventExecute, ClientSatisfied},
		{ClientPending, EventClarify, ClientRefining},
		{ClientPending, EventPropose, ClientRefining},
		{ClientPending, EventRefuse, ClientRefused},
	}
	for _, tt := range tests {
		got, err := NextClientState(tt.from, tt.event)
		if err != nil {
			t.Fatalf("%s on %s: unexpected error %v", tt.from, tt.event, err)
		}
		if got != tt.want {
			t.Errorf("%s on %s = %s, want %s", tt.from, tt.event, got, tt.want)
		}
	}
}

func TestClientTransitionsAreTotal(t *testing.T) {
	for _, s := range allClientStates {
		for _, e := range allClientEvents {
			to, err := NextClientState(s, e)
			if err != nil {
				if !IsTransitionError(err) {
					t.Fatalf("%s on %s: wrong error type %v", s, e, err)
				}
				if to != s {
					t.Fatalf("%s on %s: failed transition must keep state", s, e)
				}
				continue
			}
			if s.Terminal() {
				t.Fatalf("terminal state %s accepted %s", s, e)
			}
			again, _ := NextClientState(s, e)
			if again != to {
				t.Fatalf("transition %s on %s is not deterministic", s, e)
			}
		}
	}
}

func TestClientMachineNegotiation(t *testing.T) {
	m := NewClientMachine(0)
	if m.MaxRounds() != DefaultMaxRounds {
		t.Fatalf("expected default max rounds, got %d", m.MaxRounds())
	}
	if err := m.Send(); err != nil {
		t.Fatal(err)
	}
	if err := m.Receive(message.Clarify(0.6, []string{"which file?"})); err != nil {
		t.Fatal(err)
	}
	if m.State() != ClientRefining {
		t.Fatalf("expected REFINING, got %s", m.State())
	}
	if err := m.Send(); err != nil {
		t.Fatal(err)
	}
	if err := m.Receive(message.Execute(0.9, map[string]string{"ok": "yes"})); err != nil {
		t.Fatal(err)
	}
	if m.State() != ClientSatisfied || !m.Terminal() || m.Rounds() != 2 {
		t.Fatalf("unexpected final machine %+v", m)
	}
	if err := m.Send(); !IsTransitionError(err) {
		t.Fatalf("sending from SATISFIED must fail, got %v", err)
	}
}

func TestClientMachineRefuseKeepsReason(t *testing.T) {
	m := NewClientMachine(3)
	_ = m.Send()
	if err := m.Receive(message.Refuse(0, message.ReasonNoCapabilityMatch)); err != nil {
		t.Fatal(err)
	}
	if m.State() != ClientRefused || m.Reason() != message.ReasonNoCapabilityMatch {
		t.Fatalf("unexpected state %s reason %q", m.State(), m.Reason())
	}
}

func TestClientMachineRoundCap(t *testing.T) {
	m := NewClientMachine(2)
	for i := 0; i < 2; i++ {
		if err := m.Send(); err != nil {
			t.Fatalf("send %d: %v", i, err)
		}
		if err := m.Receive(message.Propose(0.3, []string{"reverse:v1"})); err != nil {
			t.Fatalf("receive %d: %v", i, err)
		}
	}
	if m.State() != ClientRefused || m.Reason() != message.ReasonExhausted {
		t.Fatalf("expected exhausted refusal, got %s %q", m.State(), m.Reason())
	}
}

func TestClientMachineReceiveWithoutSend(t *testing.T) {
	m := NewClientMachine(5)
	if err := m.Receive(message.Execute(1, nil)); !IsTransitionError(err) {
		t.Fatalf("expected transition error, got %v", err)
	}
	if err := m.Receive(&message.Response{Action: "MAYBE"}); !IsTransitionError(err) {
		t.Fatalf("expected transition error for unknown action, got %v", err)
	}
}

func TestServerMachine(t *testing.T) {
	m := NewServerMachine()
	if err := m.Complete(); !IsTransitionError(err) {
		t.Fatalf("complete before decide must fail, got %v", err)
	}
	if err := m.Decide(); err != nil {
		t.Fatal(err)
	}
	if err := m.Decide(); !IsTransitionError(err) {
		t.Fatalf("double decide must fail, got %v", err)
	}
	if err := m.Complete(); err != nil {
		t.Fatal(err)
	}
	if m.State() != ServerDone {
		t.Fatalf("expected DONE, got %s", m.State())
	}
	if err := m.Decide(); !IsTransitionError(err) {
		t.Fatalf("no transition out of DONE, got %v", err)
	}
}
