// Copyright 2026 © The SINP Authors
// SPDX-License-Identifier: Apache-2.0

package interpreter

import (
	"context"
	"strings"

	"github.com/jllopis/sinp/pkg/capability"
	"github.com/jllopis/sinp/pkg/confidence"
	"github.com/jllopis/sinp/pkg/errors"
	"github.com/jllopis/sinp/pkg/security"
)

// DefaultMinScore drops keyword matches below this ρ.
const DefaultMinScore = 0.20

// stopwords are ignored when keywords are derived from descriptions.
var stopwords = map[string]struct{}{
	"a": {}, "an": {}, "and": {}, "the": {}, "of": {}, "to": {}, "in": {},
	"on": {}, "for": {}, "with": {}, "by": {}, "or": {}, "is": {}, "it": {},
	"get": {}, "v1": {}, "v2": {},
}

// Platt holds logistic calibration parameters for raw scores.
type Platt struct {
	A float64
	B float64
}

// KeywordInterpreter scores each capability by the share of its keyword
// groups present in the intent. Declared keywords are used when present;
// otherwise every id and description token is its own group.
type KeywordInterpreter struct {
	// MinScore is the lowest ρ kept in the result.
	MinScore float64
	// Weight scales the raw share before calibration. It must lie in
	// (0,1]; zero means 1.
	Weight float64
	// Calibration, when set, maps the raw score through PlattScale.
	Calibration *Platt
}

// NewKeywordInterpreter returns an interpreter with DefaultMinScore.
func NewKeywordInterpreter() *KeywordInterpreter {
	return &KeywordInterpreter{MinScore: DefaultMinScore, Weight: 1}
}

// Validate rejects a weight or minimum score outside [0,1]. A weight above
// one would push ρ past 1.
func (k *KeywordInterpreter) Validate() error {
	if !(k.Weight >= 0 && k.Weight <= 1) {
		return errors.Newf(errors.CodeInvalidConfig, "keyword interpreter: weight %v outside (0,1]", k.Weight)
	}
	if err := confidence.ValidateUnit("min_score", k.MinScore); err != nil {
		return errors.New(errors.CodeInvalidConfig, "keyword interpreter: invalid min_score", err)
	}
	return nil
}

// Interpret implements Interpreter.
func (k *KeywordInterpreter) Interpret(ctx context.Context, text string, snap *capability.Snapshot) ([]Match, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if err := k.Validate(); err != nil {
		return nil, err
	}
	tokens := make(map[string]struct{})
	for _, tok := range security.Tokens(text) {
		tokens[tok] = struct{}{}
	}
	if len(tokens) == 0 {
		return []Match{}, nil
	}

	matches := make([]Match, 0, snap.Len())
	for _, c := range snap.Capabilities() {
		rho := k.score(tokens, c)
		if rho <= 0 || rho < k.MinScore {
			continue
		}
		matches = append(matches, Match{CapabilityID: c.ID, Rho: rho})
	}
	Rank(matches)
	return matches, nil
}

func (k *KeywordInterpreter) score(tokens map[string]struct{}, c capability.Capability) float64 {
	groups := KeywordGroups(c)
	if len(groups) == 0 {
		return 0
	}
	hits := 0
	for _, group := range groups {
		for _, kw := range group {
			if _, ok := tokens[kw]; ok {
				hits++
				break
			}
		}
	}
	if hits == 0 {
		return 0
	}
	weight := k.Weight
	if weight == 0 {
		weight = 1
	}
	raw := float64(hits) / float64(len(groups)) * weight
	if k.Calibration != nil {
		raw = confidence.PlattScale(raw, k.Calibration.A, k.Calibration.B)
	}
	return clampUnit(raw)
}

// KeywordGroups returns the synonym groups the keyword interpreter matches
// for c, normalized the same way intents are.
func KeywordGroups(c capability.Capability) [][]string {
	var groups [][]string
	if len(c.Keywords) > 0 {
		for _, entry := range c.Keywords {
			var group []string
			for _, alt := range strings.Split(entry, "|") {
				group = append(group, security.Tokens(alt)...)
			}
			if len(group) > 0 {
				groups = append(groups, group)
			}
		}
		return groups
	}

	seen := make(map[string]struct{})
	add := func(text string) {
		for _, tok := range security.Tokens(text) {
			if _, stop := stopwords[tok]; stop {
				continue
			}
			if _, dup := seen[tok]; dup {
				continue
			}
			seen[tok] = struct{}{}
			groups = append(groups, []string{tok})
		}
	}
	add(c.Name())
	add(c.Description)
	return groups
}
