// Copyright 2026 © The SINP Authors
// SPDX-License-Identifier: Apache-2.0

package client

import (
	"context"
	"maps"
	"slices"

	"github.com/jllopis/sinp/pkg/errors"
	"github.com/jllopis/sinp/pkg/message"
	"github.com/jllopis/sinp/pkg/state"
)

// Session drives one negotiation. Answers given across rounds accumulate
// in the request context. It is not safe for concurrent use.
type Session struct {
	client  *Client
	id      string
	machine *state.ClientMachine
	context map[string]string
	last    *message.Response
}

// ID returns the session id.
func (s *Session) ID() string { return s.id }

// State returns the client state.
func (s *Session) State() state.ClientState { return s.machine.State() }

// Rounds returns how many intents were sent.
func (s *Session) Rounds() int { return s.machine.Rounds() }

// Reason returns the refusal reason once REFUSED.
func (s *Session) Reason() string { return s.machine.Reason() }

// Last returns the latest response, or nil before the first round.
func (s *Session) Last() *message.Response { return s.last }

// Set records an input answer sent with the next intent.
func (s *Session) Set(name, value string) {
	s.context[name] = value
}

// Send asserts intent with confidence phiC.
func (s *Session) Send(ctx context.Context, intent string, phiC float64) (*message.Response, error) {
	return s.round(ctx, &message.Request{Intent: intent, PhiC: phiC})
}

// Accept selects one of the alternatives of the last PROPOSE.
func (s *Session) Accept(ctx context.Context, capabilityID string, intent string, phiC float64) (*message.Response, error) {
	if s.last == nil || s.last.Action != message.ActionPropose {
		return nil, errors.New(errors.CodeStateTransition, "nothing to accept", nil).
			WithContext("session_id", s.id)
	}
	if !slices.Contains(s.last.Metadata.Alternatives, capabilityID) {
		return nil, errors.Newf(errors.CodeStateTransition, "%s was not proposed", capabilityID).
			WithContext("session_id", s.id)
	}
	return s.round(ctx, &message.Request{Intent: intent, PhiC: phiC, Accept: capabilityID})
}

func (s *Session) round(ctx context.Context, req *message.Request) (*message.Response, error) {
	if err := s.machine.Send(); err != nil {
		return nil, err
	}
	req.SessionID = s.id
	if len(s.context) > 0 {
		req.Context = maps.Clone(s.context)
	}
	resp, err := s.client.Exchange(ctx, req)
	if err != nil {
		return nil, err
	}
	if err := s.machine.Receive(resp); err != nil {
		return nil, err
	}
	s.last = resp
	return resp, nil
}

// Resolver answers the server's follow-ups during Negotiate.
type Resolver interface {
	// Clarify answers questions. The returned values are merged into the
	// session context; the returned intent replaces the current one when
	// not empty.
	Clarify(ctx context.Context, questions []string) (answers map[string]string, intent string, err error)
	// Choose picks one alternative, or "" to give up.
	Choose(ctx context.Context, alternatives []string) (string, error)
}

// Negotiate runs rounds until EXECUTE or REFUSE. Giving up on a PROPOSE
// returns the PROPOSE response with the session left in REFINING.
func (s *Session) Negotiate(ctx context.Context, intent string, phiC float64, r Resolver) (*message.Response, error) {
	resp, err := s.Send(ctx, intent, phiC)
	for err == nil && !resp.Terminal() {
		switch resp.Action {
		case message.ActionClarify:
			answers, refined, cerr := r.Clarify(ctx, resp.Metadata.Questions)
			if cerr != nil {
				return resp, cerr
			}
			for k, v := range answers {
				s.Set(k, v)
			}
			if refined != "" {
				intent = refined
			}
			resp, err = s.Send(ctx, intent, phiC)
		case message.ActionPropose:
			choice, cerr := r.Choose(ctx, resp.Metadata.Alternatives)
			if cerr != nil || choice == "" {
				return resp, cerr
			}
			resp, err = s.Accept(ctx, choice, intent, phiC)
		}
	}
	return resp, err
}
