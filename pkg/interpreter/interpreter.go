// Copyright 2026 © The SINP Authors
// SPDX-License-Identifier: Apache-2.0

// Package interpreter maps an intent to ranked capability matches. Every
// implementation returns matches sorted by descending ρ with ties ordered by
// capability id, and an empty slice when nothing matches.
package interpreter

import (
	"context"
	"sort"

	"github.com/jllopis/sinp/pkg/capability"
)

// Match is one candidate capability with its raw match probability ρ.
type Match struct {
	CapabilityID string  `json:"capability_id"`
	Rho          float64 `json:"rho"`
}

// Interpreter ranks the capabilities of snap against text.
type Interpreter interface {
	Interpret(ctx context.Context, text string, snap *capability.Snapshot) ([]Match, error)
}

// Func adapts a function to Interpreter.
type Func func(ctx context.Context, text string, snap *capability.Snapshot) ([]Match, error)

// Interpret implements Interpreter.
func (f Func) Interpret(ctx context.Context, text string, snap *capability.Snapshot) ([]Match, error) {
	return f(ctx, text, snap)
}

// Rank sorts matches by descending ρ, breaking ties by capability id.
func Rank(matches []Match) {
	sort.SliceStable(matches, func(i, j int) bool {
		if matches[i].Rho != matches[j].Rho {
			return matches[i].Rho > matches[j].Rho
		}
		return matches[i].CapabilityID < matches[j].CapabilityID
	})
}

func clampUnit(v float64) float64 {
	switch {
	case v != v, v < 0:
		return 0
	case v > 1:
		return 1
	default:
		return v
	}
}
