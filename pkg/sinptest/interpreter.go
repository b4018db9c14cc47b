// Copyright 2026 © The SINP Authors
// SPDX-License-Identifier: Apache-2.0

// Package sinptest provides utilities for testing SINP servers and clients.
//
// This package includes:
//   - An in-process server harness listening on loopback
//   - A scripted interpreter returning fixed matches per intent
//   - Declarative multi-round scenarios with response expectations
//
// Example usage:
//
//	h := sinptest.Start(t)
//	sinptest.NewScenario("echo").
//	    Send("echo hello", 0.9).
//	    Expect(sinptest.ActionIs(message.ActionExecute)).
//	    Run(t, h.Session(t))
package sinptest

import (
	"context"
	"strings"
	"sync"

	"github.com/jllopis/sinp/pkg/capability"
	"github.com/jllopis/sinp/pkg/interpreter"
)

// ScriptedInterpreter returns fixed matches keyed by intent. Lookups are
// case-insensitive and ignore surrounding space.
type ScriptedInterpreter struct {
	mu       sync.Mutex
	scripts  map[string][]interpreter.Match
	fallback []interpreter.Match
	err      error
	calls    []string
}

// NewScriptedInterpreter creates an interpreter with no scripts. Unknown
// intents yield no matches.
func NewScriptedInterpreter() *ScriptedInterpreter {
	return &ScriptedInterpreter{scripts: make(map[string][]interpreter.Match)}
}

// On scripts the matches for intent.
func (s *ScriptedInterpreter) On(intent string, matches ...interpreter.Match) *ScriptedInterpreter {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.scripts[key(intent)] = matches
	return s
}

// WithDefault sets the matches for unscripted intents.
func (s *ScriptedInterpreter) WithDefault(matches ...interpreter.Match) *ScriptedInterpreter {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.fallback = matches
	return s
}

// WithError makes every call fail with err.
func (s *ScriptedInterpreter) WithError(err error) *ScriptedInterpreter {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.err = err
	return s
}

// Interpret implements interpreter.Interpreter.
func (s *ScriptedInterpreter) Interpret(_ context.Context, text string, _ *capability.Snapshot) ([]interpreter.Match, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls = append(s.calls, text)
	if s.err != nil {
		return nil, s.err
	}
	matches, ok := s.scripts[key(text)]
	if !ok {
		matches = s.fallback
	}
	out := append([]interpreter.Match(nil), matches...)
	interpreter.Rank(out)
	return out, nil
}

// Calls returns the intents interpreted so far.
func (s *ScriptedInterpreter) Calls() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.calls...)
}

// CallCount returns how many intents were interpreted.
func (s *ScriptedInterpreter) CallCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.calls)
}

// Reset clears the recorded calls.
func (s *ScriptedInterpreter) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls = nil
}

// M builds a match.
func M(capabilityID string, rho float64) interpreter.Match {
	return interpreter.Match{CapabilityID: capabilityID, Rho: rho}
}

func key(intent string) string {
	return strings.ToLower(strings.TrimSpace(intent))
}

var _ interpreter.Interpreter = (*ScriptedInterpreter)(nil)
