// Copyright 2026 © The SINP Authors
// SPDX-License-Identifier: Apache-2.0

package negotiation

import (
	"fmt"

	"github.com/jllopis/sinp/pkg/capability"
	"github.com/jllopis/sinp/pkg/interpreter"
)

// disambiguationMargin is how close the runner-up ρ must be for the
// server to ask which of the two was meant.
const disambiguationMargin = 0.10

// clarifyingQuestions asks for missing required inputs first, then to pick
// between two close matches, and otherwise to confirm the selection.
func clarifyingQuestions(c capability.Capability, matches []interpreter.Match, snap *capability.Snapshot, provided map[string]string) []string {
	if missing := c.MissingInputs(provided); len(missing) > 0 {
		return inputQuestions(missing)
	}
	if len(matches) > 1 && matches[0].Rho-matches[1].Rho <= disambiguationMargin {
		other, ok := snap.Lookup(matches[1].CapabilityID)
		if ok {
			return []string{fmt.Sprintf("Did you mean %s (%s) or %s (%s)?",
				c.ID, c.Description, other.Capability.ID, other.Capability.Description)}
		}
	}
	what := lowerFirst(c.Description)
	if what == "" {
		what = "run " + c.ID
	}
	return []string{fmt.Sprintf("Do you want to %s? Please confirm or rephrase your intent.", what)}
}

// inputQuestions asks one question per input, in declaration order.
func inputQuestions(inputs []capability.Input) []string {
	out := make([]string, 0, len(inputs))
	for _, in := range inputs {
		if in.Description != "" {
			out = append(out, fmt.Sprintf("What is the %s (%s)?", in.Name, in.Description))
			continue
		}
		out = append(out, fmt.Sprintf("What is the %s?", in.Name))
	}
	return out
}

func lowerFirst(s string) string {
	if s == "" {
		return s
	}
	r := []rune(s)
	if r[0] >= 'A' && r[0] <= 'Z' {
		r[0] += 'a' - 'A'
	}
	return string(r)
}
