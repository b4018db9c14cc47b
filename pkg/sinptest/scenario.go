// Copyright 2026 © The SINP Authors
// SPDX-License-Identifier: Apache-2.0

package sinptest

import (
	"context"
	"fmt"
	"reflect"
	"slices"
	"strings"
	"testing"
	"time"

	"github.com/jllopis/sinp/pkg/client"
	"github.com/jllopis/sinp/pkg/message"
	"github.com/jllopis/sinp/pkg/state"
)

// Scenario is a scripted multi-round negotiation within one session.
type Scenario struct {
	name    string
	timeout time.Duration
	steps   []*step
}

type step struct {
	intent  string
	phiC    float64
	accept  string
	inputs  map[string]string
	expects []Expectation
}

// Expectation checks one response.
type Expectation interface {
	Check(resp *message.Response) error
	Description() string
}

// NewScenario creates a scenario with the given name.
func NewScenario(name string) *Scenario {
	return &Scenario{name: name, timeout: 10 * time.Second}
}

// WithTimeout bounds the whole scenario.
func (s *Scenario) WithTimeout(d time.Duration) *Scenario {
	s.timeout = d
	return s
}

// Send adds a round asserting intent with confidence phiC.
func (s *Scenario) Send(intent string, phiC float64) *Scenario {
	s.steps = append(s.steps, &step{intent: intent, phiC: phiC})
	return s
}

// Accept adds a round accepting a proposed capability.
func (s *Scenario) Accept(capabilityID, intent string, phiC float64) *Scenario {
	s.steps = append(s.steps, &step{intent: intent, phiC: phiC, accept: capabilityID})
	return s
}

// With attaches an input answer to the last round.
func (s *Scenario) With(name, value string) *Scenario {
	last := s.last()
	if last.inputs == nil {
		last.inputs = make(map[string]string)
	}
	last.inputs[name] = value
	return s
}

// Expect adds expectations on the response to the last round.
func (s *Scenario) Expect(exps ...Expectation) *Scenario {
	last := s.last()
	last.expects = append(last.expects, exps...)
	return s
}

func (s *Scenario) last() *step {
	if len(s.steps) == 0 {
		panic("sinptest: scenario has no rounds")
	}
	return s.steps[len(s.steps)-1]
}

// Run plays the rounds on sess and fails t on the first unmet expectation.
// It returns the responses received.
func (s *Scenario) Run(t testing.TB, sess *client.Session) []*message.Response {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), s.timeout)
	defer cancel()

	responses := make([]*message.Response, 0, len(s.steps))
	for i, st := range s.steps {
		for k, v := range st.inputs {
			sess.Set(k, v)
		}
		var (
			resp *message.Response
			err  error
		)
		if st.accept != "" {
			resp, err = sess.Accept(ctx, st.accept, st.intent, st.phiC)
		} else {
			resp, err = sess.Send(ctx, st.intent, st.phiC)
		}
		if err != nil {
			t.Fatalf("scenario %q round %d: %v", s.name, i+1, err)
		}
		responses = append(responses, resp)
		for _, exp := range st.expects {
			if err := exp.Check(resp); err != nil {
				t.Fatalf("scenario %q round %d: expected %s: %v", s.name, i+1, exp.Description(), err)
			}
		}
	}
	return responses
}

type expectation struct {
	desc  string
	check func(*message.Response) error
}

func (e expectation) Check(resp *message.Response) error { return e.check(resp) }
func (e expectation) Description() string              { return e.desc }

// ActionIs expects the response action.
func ActionIs(a message.Action) Expectation {
	return expectation{
		desc: "action " + string(a),
		check: func(r *message.Response) error {
			if r.Action != a {
				return fmt.Errorf("got %s (%+v)", r.Action, r.Metadata)
			}
			return nil
		},
	}
}

// Refused expects REFUSE with reason.
func Refused(reason string) Expectation {
	return expectation{
		desc: "REFUSE " + reason,
		check: func(r *message.Response) error {
			if r.Action != message.ActionRefuse || r.Metadata.Reason != reason {
				return fmt.Errorf("got %s reason %q", r.Action, r.Metadata.Reason)
			}
			return nil
		},
	}
}

// CapabilityIs expects the selected capability.
func CapabilityIs(id string) Expectation {
	return expectation{
		desc: "capability " + id,
		check: func(r *message.Response) error {
			if r.CapabilityID != id {
				return fmt.Errorf("got %q", r.CapabilityID)
			}
			return nil
		},
	}
}

// PhiSBetween expects lo <= Φs <= hi.
func PhiSBetween(lo, hi float64) Expectation {
	return expectation{
		desc: fmt.Sprintf("phi_s in [%v,%v]", lo, hi),
		check: func(r *message.Response) error {
			if r.PhiS < lo || r.PhiS > hi {
				return fmt.Errorf("got %v", r.PhiS)
			}
			return nil
		},
	}
}

// AlternativesAre expects the PROPOSE alternatives in order.
func AlternativesAre(ids ...string) Expectation {
	return expectation{
		desc: "alternatives " + strings.Join(ids, ","),
		check: func(r *message.Response) error {
			if !slices.Equal(r.Metadata.Alternatives, ids) {
				return fmt.Errorf("got %v", r.Metadata.Alternatives)
			}
			return nil
		},
	}
}

// QuestionContains expects some CLARIFY question to contain substr.
func QuestionContains(substr string) Expectation {
	return expectation{
		desc: fmt.Sprintf("question containing %q", substr),
		check: func(r *message.Response) error {
			for _, q := range r.Metadata.Questions {
				if strings.Contains(q, substr) {
					return nil
				}
			}
			return fmt.Errorf("got %q", r.Metadata.Questions)
		},
	}
}

// ResultField expects the EXECUTE result to be an object with key set to
// value.
func ResultField(key string, value any) Expectation {
	return expectation{
		desc: fmt.Sprintf("result %s=%v", key, value),
		check: func(r *message.Response) error {
			m, ok := r.Metadata.Result.(map[string]any)
			if !ok {
				return fmt.Errorf("result is %T", r.Metadata.Result)
			}
			if got := m[key]; !reflect.DeepEqual(got, value) {
				return fmt.Errorf("got %v", got)
			}
			return nil
		},
	}
}

// StateIs checks the client state of sess after the round.
func StateIs(sess *client.Session, want state.ClientState) Expectation {
	return expectation{
		desc: "client state " + string(want),
		check: func(*message.Response) error {
			if got := sess.State(); got != want {
				return fmt.Errorf("got %s", got)
			}
			return nil
		},
	}
}
