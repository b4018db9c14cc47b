// Copyright 2026 © The SINP Authors
// SPDX-License-Identifier: Apache-2.0

// Package state holds the client and server negotiation state machines.
// Transitions are table driven, total over (state, event), and fail with a
// STATE_TRANSITION error when the table has no entry.
package state

import (
	"fmt"

	"github.com/jllopis/sinp/pkg/errors"
	"github.com/jllopis/sinp/pkg/message"
)

// DefaultMaxRounds bounds the refine loop of a session.
const DefaultMaxRounds = 5

func transitionError(machine, from, event string) error {
	return errors.New(errors.CodeStateTransition,
		fmt.Sprintf("%s: no transition from %s on %s", machine, from, event), nil).
		WithContext("machine", machine).
		WithContext("from", from).
		WithContext("event", event)
}

// IsTransitionError reports whether err came from an illegal transition.
func IsTransitionError(err error) bool {
	return errors.IsCode(err, errors.CodeStateTransition)
}

// ClientState is the client's view of a negotiation.
type ClientState string

const (
	ClientInit      ClientState = "INIT"
	ClientPending   ClientState = "PENDING"
	ClientRefining  ClientState = "REFINING"
	ClientSatisfied ClientState = "SATISFIED"
	ClientRefused   ClientState = "REFUSED"
)

// Terminal reports whether no transition leaves s.
func (s ClientState) Terminal() bool {
	return s == ClientSatisfied || s == ClientRefused
}

// ClientEvent drives the client machine.
type ClientEvent string

const (
	EventSend    ClientEvent = "SEND"
	EventExecute ClientEvent = "EXECUTE"
	EventClarify ClientEvent = "CLARIFY"
	EventPropose ClientEvent = "PROPOSE"
	EventRefuse  ClientEvent = "REFUSE"
)

// EventForAction maps a response action to the client event it triggers.
func EventForAction(a message.Action) (ClientEvent, bool) {
	switch a {
	case message.ActionExecute:
		return EventExecute, true
	case message.ActionClarify:
		return EventClarify, true
	case message.ActionPropose:
		return EventPropose, true
	case message.ActionRefuse:
		return EventRefuse, true
	default:
		return "", false
	}
}

type clientKey struct {
	from  ClientState
	event ClientEvent
}

var clientTable = map[clientKey]ClientState{
	{ClientInit, EventSend}:       ClientPending,
	{ClientRefining, EventSend}:   ClientPending,
	{ClientPending, EventExecute}: ClientSatisfied,
	{ClientPending, EventClarify}: ClientRefining,
	{ClientPending, EventPropose}: ClientRefining,
	{ClientPending, EventRefuse}:  ClientRefused,
}

// NextClientState is the pure transition function of the client machine.
func NextClientState(from ClientState, event ClientEvent) (ClientState, error) {
	to, ok := clientTable[clientKey{from, event}]
	if !ok {
		return from, transitionError("client", string(from), string(event))
	}
	return to, nil
}

// ClientMachine tracks one negotiation from the client side, including the
// round counter used to enforce the round cap. It is not safe for concurrent
// use; a session serializes its rounds.
type ClientMachine struct {
	state     ClientState
	rounds    int
	maxRounds int
	reason    string
}

// NewClientMachine starts in INIT. maxRounds < 1 selects DefaultMaxRounds.
func NewClientMachine(maxRounds int) *ClientMachine {
	if maxRounds < 1 {
		maxRounds = DefaultMaxRounds
	}
	return &ClientMachine{state: ClientInit, maxRounds: maxRounds}
}

// State returns the current state.
func (m *ClientMachine) State() ClientState { return m.state }

// Rounds returns how many intents have been sent.
func (m *ClientMachine) Rounds() int { return m.rounds }

// MaxRounds returns the round cap.
func (m *ClientMachine) MaxRounds() int { return m.maxRounds }

// Reason returns the refusal reason once REFUSED.
func (m *ClientMachine) Reason() string { return m.reason }

// Terminal reports whether the negotiation is over.
func (m *ClientMachine) Terminal() bool { return m.state.Terminal() }

// Send records an outgoing intent.
func (m *ClientMachine) Send() error {
	to, err := NextClientState(m.state, EventSend)
	if err != nil {
		return err
	}
	m.state = to
	m.rounds++
	return nil
}

// Exhausted reports whether a non-terminal answer at the current round
// would exceed the cap.
func (m *ClientMachine) Exhausted() bool {
	return m.rounds >= m.maxRounds
}

// Receive applies a server response. CLARIFY or PROPOSE at the round cap
// forces REFUSED with reason exhausted.
func (m *ClientMachine) Receive(resp *message.Response) error {
	event, ok := EventForAction(resp.Action)
	if !ok {
		return transitionError("client", string(m.state), string(resp.Action))
	}
	to, err := NextClientState(m.state, event)
	if err != nil {
		return err
	}
	switch {
	case to == ClientRefining && m.Exhausted():
		m.state = ClientRefused
		m.reason = message.ReasonExhausted
	case to == ClientRefused:
		m.state = to
		m.reason = resp.Metadata.Reason
	default:
		m.state = to
	}
	return nil
}

// ServerState is the per-request server state.
type ServerState string

const (
	ServerReceived ServerState = "RECEIVED"
	ServerDeciding ServerState = "DECIDING"
	ServerDone     ServerState = "DONE"
)

// ServerMachine covers one request: validated, deciding, answered.
type ServerMachine struct {
	state ServerState
}

// NewServerMachine returns a machine for a request that passed validation.
func NewServerMachine() *ServerMachine {
	return &ServerMachine{state: ServerReceived}
}

// State returns the current state.
func (m *ServerMachine) State() ServerState { return m.state }

// Decide moves RECEIVED to DECIDING.
func (m *ServerMachine) Decide() error {
	if m.state != ServerReceived {
		return transitionError("server", string(m.state), "DECIDE")
	}
	m.state = ServerDeciding
	return nil
}

// Complete moves DECIDING to DONE.
func (m *ServerMachine) Complete() error {
	if m.state != ServerDeciding {
		return transitionError("server", string(m.state), "COMPLETE")
	}
	m.state = ServerDone
	return nil
}
