// Copyright 2026 © The SINP Authors
// SPDX-License-Identifier: Apache-2.0

package client

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"github.com/jllopis/sinp/pkg/errors"
	"github.com/jllopis/sinp/pkg/message"
	"github.com/jllopis/sinp/pkg/security"
	"github.com/jllopis/sinp/pkg/state"
	"github.com/jllopis/sinp/pkg/wire"
)

// fakeServer answers each request with the next scripted response, copying
// the request nonce unless the script sets one.
type fakeServer struct {
	t         *testing.T
	requests  chan *message.Request
	raw       chan []byte
	responses []*message.Response
}

func pipe(t *testing.T, responses ...*message.Response) (*Client, *fakeServer) {
	t.Helper()
	cc, sc := net.Pipe()
	f := &fakeServer{
		t:         t,
		requests:  make(chan *message.Request, len(responses)+1),
		raw:       make(chan []byte, len(responses)+1),
		responses: responses,
	}
	go f.serve(wire.NewConn(sc, wire.Limits{}))
	c := New(cc, WithTimeout(time.Second))
	t.Cleanup(func() { _ = c.Close() })
	return c, f
}

func (f *fakeServer) serve(conn *wire.Conn) {
	defer conn.Close()
	for _, resp := range f.responses {
		raw, err := conn.Read()
		if err != nil {
			return
		}
		req, err := message.DecodeRequest(raw)
		if err != nil {
			f.t.Errorf("server decode: %v", err)
			return
		}
		f.raw <- raw
		f.requests <- req
		if resp == nil {
			// Stay silent until the client gives up.
			_, _ = conn.Read()
			return
		}
		out := *resp
		if out.Nonce == "" {
			out.Nonce = req.Nonce
		}
		body, _ := message.Encode(&out)
		if err := conn.Write(body); err != nil {
			return
		}
	}
}

func TestExchangeFillsRequest(t *testing.T) {
	c, f := pipe(t, message.Execute(0.9, map[string]any{"echo": "hi"}))
	now := time.Unix(1_700_000_000, 0)
	c.now = func() time.Time { return now }

	resp, err := c.Exchange(context.Background(), &message.Request{Intent: "echo hi", PhiC: 0.9})
	if err != nil {
		t.Fatalf("Exchange: %v", err)
	}
	req := <-f.requests
	if req.Nonce == "" || req.Timestamp != now.Unix() || req.ProtocolVersion != message.ProtocolVersion {
		t.Fatalf("request not filled: %+v", req)
	}
	if resp.Action != message.ActionExecute || resp.Nonce != req.Nonce {
		t.Fatalf("resp = %+v", resp)
	}
}

func TestExchangeSigns(t *testing.T) {
	pub, priv, err := security.GenerateKey()
	if err != nil {
		t.Fatalf("GenerateKey: %v", err)
	}
	c, f := pipe(t, message.Refuse(0, message.ReasonNoCapabilityMatch))
	c.signer = security.NewSigner("alice", priv)

	if _, err := c.Exchange(context.Background(), &message.Request{Intent: "anything", PhiC: 0.5}); err != nil {
		t.Fatalf("Exchange: %v", err)
	}
	raw, req := <-f.raw, <-f.requests
	v := security.NewVerifier(security.StaticKeyring{"alice": pub}, true)
	if err := v.Verify(raw, req); err != nil {
		t.Fatalf("server could not verify signed request: %v", err)
	}
}

func TestExchangeRejectsForeignNonce(t *testing.T) {
	resp := message.Execute(1, nil)
	resp.Nonce = "someone-else"
	c, _ := pipe(t, resp)
	_, err := c.Exchange(context.Background(), &message.Request{Intent: "x", PhiC: 1})
	if !errors.IsCode(err, errors.CodeMalformedMessage) {
		t.Fatalf("err = %v, want MALFORMED_MESSAGE", err)
	}
}

func TestExchangeTimeout(t *testing.T) {
	c, _ := pipe(t, nil)
	c.timeout = 50 * time.Millisecond
	_, err := c.Exchange(context.Background(), &message.Request{Intent: "x", PhiC: 1})
	if !errors.IsCode(err, errors.CodeTimeout) {
		t.Fatalf("err = %v, want TIMEOUT", err)
	}
}

func TestExchangePeerClosed(t *testing.T) {
	cc, sc := net.Pipe()
	go func() {
		conn := wire.NewConn(sc, wire.Limits{})
		_, _ = conn.Read()
		_ = conn.Close()
	}()
	c := New(cc, WithTimeout(time.Second))
	t.Cleanup(func() { _ = c.Close() })

	_, err := c.Exchange(context.Background(), &message.Request{Intent: "echo hi", PhiC: 0.9})
	if !errors.IsCode(err, errors.CodeResourceUnavailable) {
		t.Fatalf("expected RESOURCE_UNAVAILABLE, got %v (code %s)", err, errors.CodeOf(err))
	}
}

func TestExchangeValidates(t *testing.T) {
	c, _ := pipe(t)
	_, err := c.Exchange(context.Background(), &message.Request{Intent: "x", PhiC: 1.5})
	if !errors.IsCode(err, errors.CodeInvalidConfidence) {
		t.Fatalf("err = %v, want INVALID_CONFIDENCE_VALUE", err)
	}
}

type scriptedResolver struct {
	answers map[string]string
	intent  string
	choice  string
	asked   [][]string
	offered [][]string
}

func (r *scriptedResolver) Clarify(_ context.Context, questions []string) (map[string]string, string, error) {
	r.asked = append(r.asked, questions)
	return r.answers, r.intent, nil
}

func (r *scriptedResolver) Choose(_ context.Context, alternatives []string) (string, error) {
	r.offered = append(r.offered, alternatives)
	return r.choice, nil
}

func TestNegotiateClarifyThenExecute(t *testing.T) {
	c, f := pipe(t,
		message.Clarify(0.6, []string{"Please provide city (city name)."}),
		message.Execute(0.9, map[string]any{"temp": 21}),
	)
	s := c.ResumeSession("s-1")
	r := &scriptedResolver{answers: map[string]string{"city": "Barcelona"}, intent: "weather in Barcelona"}

	resp, err := s.Negotiate(context.Background(), "weather", 0.8, r)
	if err != nil {
		t.Fatalf("Negotiate: %v", err)
	}
	if resp.Action != message.ActionExecute || s.State() != state.ClientSatisfied || s.Rounds() != 2 {
		t.Fatalf("resp = %+v, state = %s, rounds = %d", resp, s.State(), s.Rounds())
	}
	first, second := <-f.requests, <-f.requests
	if first.SessionID != "s-1" || second.SessionID != "s-1" {
		t.Fatalf("session ids = %q, %q", first.SessionID, second.SessionID)
	}
	if second.Intent != "weather in Barcelona" {
		t.Fatalf("refined intent = %q", second.Intent)
	}
	if diff := cmp.Diff(map[string]string{"city": "Barcelona"}, second.Context); diff != "" {
		t.Fatalf("context mismatch (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff([][]string{{"Please provide city (city name)."}}, r.asked); diff != "" {
		t.Fatalf("questions mismatch (-want +got):\n%s", diff)
	}
}

func TestNegotiateProposeThenAccept(t *testing.T) {
	c, f := pipe(t,
		message.Propose(0.3, []string{"reverse:v1", "uppercase:v1"}),
		message.Execute(0.95, map[string]any{"reversed": "cba"}),
	)
	s := c.NewSession()
	r := &scriptedResolver{choice: "reverse:v1"}

	resp, err := s.Negotiate(context.Background(), "flip abc", 0.7, r)
	if err != nil {
		t.Fatalf("Negotiate: %v", err)
	}
	if resp.Action != message.ActionExecute {
		t.Fatalf("resp = %+v", resp)
	}
	<-f.requests
	if accept := <-f.requests; accept.Accept != "reverse:v1" {
		t.Fatalf("accept = %q", accept.Accept)
	}
}

func TestNegotiateGiveUpOnPropose(t *testing.T) {
	c, _ := pipe(t, message.Propose(0.3, []string{"reverse:v1"}))
	s := c.NewSession()
	resp, err := s.Negotiate(context.Background(), "flip", 0.7, &scriptedResolver{})
	if err != nil {
		t.Fatalf("Negotiate: %v", err)
	}
	if resp.Action != message.ActionPropose || s.State() != state.ClientRefining {
		t.Fatalf("resp = %+v, state = %s", resp, s.State())
	}
}

func TestAcceptRequiresProposal(t *testing.T) {
	c, _ := pipe(t, message.Propose(0.3, []string{"reverse:v1"}))
	s := c.NewSession()
	if _, err := s.Accept(context.Background(), "reverse:v1", "flip", 1); !errors.IsCode(err, errors.CodeStateTransition) {
		t.Fatalf("accept before propose: %v", err)
	}
	if _, err := s.Send(context.Background(), "flip", 0.7); err != nil {
		t.Fatalf("Send: %v", err)
	}
	if _, err := s.Accept(context.Background(), "echo:v1", "flip", 1); !errors.IsCode(err, errors.CodeStateTransition) {
		t.Fatalf("accept of unproposed id: %v", err)
	}
}

func TestRoundCap(t *testing.T) {
	c, _ := pipe(t, message.Clarify(0.6, []string{"Did you mean echo?"}))
	c.maxRounds = 1
	s := c.NewSession()
	if _, err := s.Send(context.Background(), "maybe echo", 0.9); err != nil {
		t.Fatalf("Send: %v", err)
	}
	if s.State() != state.ClientRefused || s.Reason() != message.ReasonExhausted {
		t.Fatalf("state = %s reason = %q, want REFUSED exhausted", s.State(), s.Reason())
	}
	if _, err := s.Send(context.Background(), "echo", 0.9); !state.IsTransitionError(err) {
		t.Fatalf("send after terminal: %v", err)
	}
}
