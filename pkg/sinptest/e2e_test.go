// Copyright 2026 © The SINP Authors
// SPDX-License-Identifier: Apache-2.0

package sinptest_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/jllopis/sinp/pkg/audit"
	"github.com/jllopis/sinp/pkg/capability"
	"github.com/jllopis/sinp/pkg/client"
	"github.com/jllopis/sinp/pkg/message"
	"github.com/jllopis/sinp/pkg/negotiation"
	"github.com/jllopis/sinp/pkg/security"
	"github.com/jllopis/sinp/pkg/sinptest"
	"github.com/jllopis/sinp/pkg/state"
)

func weather() (capability.Capability, capability.Handler) {
	desc := capability.Capability{
		ID:          "weather:v1",
		Description: "Current weather for a city",
		Inputs:      []capability.Input{{Name: "city", Description: "city name", Required: true}},
		Reliability: 1,
	}
	h := capability.HandlerFunc(func(_ context.Context, inv capability.Invocation) (any, error) {
		return map[string]any{"forecast": "sunny in " + inv.Input("city")}, nil
	})
	return desc, h
}

func TestEndToEndExecute(t *testing.T) {
	interp := sinptest.NewScriptedInterpreter().On("echo hello", sinptest.M("echo:v1", 1))
	h := sinptest.Start(t, sinptest.WithInterpreter(interp))
	sess := h.Session(t)

	sinptest.NewScenario("execute").
		Send("echo hello", 0.9).
		Expect(
			sinptest.ActionIs(message.ActionExecute),
			sinptest.CapabilityIs("echo:v1"),
			sinptest.PhiSBetween(0.94, 0.96),
			sinptest.ResultField("echo", "echo hello"),
			sinptest.StateIs(sess, state.ClientSatisfied),
		).
		Run(t, sess)

	require.Equal(t, []string{"echo hello"}, interp.Calls())
	require.Equal(t, 0, h.Manager.Len(), "terminal sessions are released")
}

func TestEndToEndClarifyRefineExecute(t *testing.T) {
	interp := sinptest.NewScriptedInterpreter().
		On("weather", sinptest.M("weather:v1", 0.7)).
		On("weather in Paris", sinptest.M("weather:v1", 0.95))
	h := sinptest.Start(t, sinptest.WithInterpreter(interp), sinptest.WithCapability(weather()))
	sess := h.Session(t)

	responses := sinptest.NewScenario("clarify then refine").
		Send("weather", 0.8).
		Expect(
			sinptest.ActionIs(message.ActionClarify),
			sinptest.QuestionContains("What is the city (city name)?"),
			sinptest.StateIs(sess, state.ClientRefining),
		).
		Send("weather in Paris", 0.9).With("city", "Paris").
		Expect(
			sinptest.ActionIs(message.ActionExecute),
			sinptest.ResultField("forecast", "sunny in Paris"),
		).
		Run(t, sess)

	require.Len(t, responses, 2)
	require.Equal(t, 1, responses[0].Round)
	require.Equal(t, 2, responses[1].Round)
	require.Equal(t, sess.ID(), responses[1].SessionID)

	records, err := h.Audit.List(context.Background(), audit.Filter{SessionID: sess.ID()})
	require.NoError(t, err)
	require.Len(t, records, 2)
	require.Equal(t, string(message.ActionClarify), records[0].Action)
	require.Equal(t, string(message.ActionExecute), records[1].Action)
}

func TestEndToEndProposeAccept(t *testing.T) {
	interp := sinptest.NewScriptedInterpreter().On("flip abc",
		sinptest.M("echo:v1", 0.4),
		sinptest.M("reverse:v1", 0.35),
		sinptest.M("uppercase:v1", 0.3),
	)
	h := sinptest.Start(t, sinptest.WithInterpreter(interp))
	sess := h.Session(t)

	sinptest.NewScenario("propose then accept").
		Send("flip abc", 0.7).
		Expect(
			sinptest.ActionIs(message.ActionPropose),
			sinptest.AlternativesAre("reverse:v1", "uppercase:v1"),
		).
		Accept("reverse:v1", "abc", 0.9).
		Expect(
			sinptest.ActionIs(message.ActionExecute),
			sinptest.CapabilityIs("reverse:v1"),
			sinptest.ResultField("reversed", "cba"),
		).
		Run(t, sess)

	require.Equal(t, 1, interp.CallCount(), "accepting skips interpretation")
}

func TestEndToEndExhaustion(t *testing.T) {
	interp := sinptest.NewScriptedInterpreter().WithDefault(sinptest.M("echo:v1", 0.6))
	h := sinptest.Start(t,
		sinptest.WithInterpreter(interp),
		sinptest.WithEngineOptions(negotiation.WithMaxRounds(2)),
	)
	c := h.Dial(t, client.WithMaxRounds(2))
	sess := c.NewSession()

	sinptest.NewScenario("round cap").
		Send("maybe echo", 0.9).
		Expect(sinptest.ActionIs(message.ActionClarify)).
		Send("perhaps echo", 0.9).
		Expect(
			sinptest.Refused(message.ReasonExhausted),
			sinptest.StateIs(sess, state.ClientRefused),
		).
		Run(t, sess)

	_, err := sess.Send(context.Background(), "echo", 0.9)
	require.True(t, state.IsTransitionError(err), "send after REFUSED: %v", err)

	// The server forgot the session; a stale continuation is told so.
	late := c.ResumeSession(sess.ID())
	resp, err := late.Send(context.Background(), "echo", 0.9)
	require.NoError(t, err)
	require.Equal(t, message.ActionRefuse, resp.Action)
	require.Equal(t, message.ReasonSessionExpired, resp.Metadata.Reason)
}

func TestEndToEndNoMatch(t *testing.T) {
	h := sinptest.Start(t, sinptest.WithInterpreter(sinptest.NewScriptedInterpreter()))
	sinptest.NewScenario("no match").
		Send("book a flight to Mars", 0.9).
		Expect(sinptest.Refused(message.ReasonNoCapabilityMatch), sinptest.PhiSBetween(0, 0)).
		Run(t, h.Session(t))
}

func TestEndToEndKeywordInterpreter(t *testing.T) {
	h := sinptest.Start(t)
	sess := h.Session(t)
	sess.Set("text", "hello")

	sinptest.NewScenario("keywords").
		Send("please reverse this", 0.9).
		Expect(
			sinptest.ActionIs(message.ActionExecute),
			sinptest.CapabilityIs("reverse:v1"),
			sinptest.ResultField("reversed", "olleh"),
		).
		Run(t, sess)
}

type answers struct{ city string }

func (a answers) Clarify(context.Context, []string) (map[string]string, string, error) {
	return map[string]string{"city": a.city}, "", nil
}

func (a answers) Choose(_ context.Context, alts []string) (string, error) {
	return alts[0], nil
}

func TestEndToEndNegotiate(t *testing.T) {
	interp := sinptest.NewScriptedInterpreter().WithDefault(sinptest.M("weather:v1", 0.9))
	h := sinptest.Start(t, sinptest.WithInterpreter(interp), sinptest.WithCapability(weather()))
	sess := h.Session(t)

	resp, err := sess.Negotiate(context.Background(), "weather please", 0.9, answers{city: "Oslo"})
	require.NoError(t, err)
	require.Equal(t, message.ActionExecute, resp.Action)
	require.Equal(t, map[string]any{"forecast": "sunny in Oslo"}, resp.Metadata.Result)
	require.Equal(t, 2, sess.Rounds())
}

func TestEndToEndSignatures(t *testing.T) {
	pub, priv, err := security.GenerateKey()
	require.NoError(t, err)
	keys := security.StaticKeyring{"alice": pub}

	interp := sinptest.NewScriptedInterpreter().WithDefault(sinptest.M("echo:v1", 1))
	h := sinptest.Start(t,
		sinptest.WithInterpreter(interp),
		sinptest.WithEngineOptions(negotiation.WithVerifier(security.NewVerifier(keys, true))),
	)

	unsigned := h.Session(t)
	sinptest.NewScenario("unsigned").
		Send("echo", 0.9).
		Expect(sinptest.Refused(message.ReasonInvalidSignature)).
		Run(t, unsigned)
	require.Zero(t, interp.CallCount(), "rejected requests are never interpreted")

	signed := h.Session(t, client.WithSigner(security.NewSigner("alice", priv)))
	sinptest.NewScenario("signed").
		Send("echo", 0.9).
		Expect(sinptest.ActionIs(message.ActionExecute)).
		Run(t, signed)

	_, stranger, err := security.GenerateKey()
	require.NoError(t, err)
	forged := h.Session(t, client.WithSigner(security.NewSigner("alice", stranger)))
	sinptest.NewScenario("forged").
		Send("echo", 0.9).
		Expect(sinptest.Refused(message.ReasonInvalidSignature)).
		Run(t, forged)
}
