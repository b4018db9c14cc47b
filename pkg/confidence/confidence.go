// Copyright 2026 © The SINP Authors
// SPDX-License-Identifier: Apache-2.0

// Package confidence computes the server confidence Φs and applies the
// threshold-driven decision policy. Everything here is pure and synchronous.
package confidence

import (
	"math"

	"github.com/jllopis/sinp/pkg/message"
)

// ComputeServerConfidence returns Φs = min(1, ρ·R·A) when policyOK, else 0.
// Inputs outside [0,1] are rejected, never clamped.
func ComputeServerConfidence(rho, reliability, availability float64, policyOK bool) (float64, error) {
	if err := ValidateUnit("rho", rho); err != nil {
		return 0, err
	}
	if err := ValidateUnit("reliability", reliability); err != nil {
		return 0, err
	}
	if err := ValidateUnit("availability", availability); err != nil {
		return 0, err
	}
	if !policyOK {
		return 0, nil
	}
	return math.Min(1, rho*reliability*availability), nil
}

// ValidateUnit returns InvalidConfidenceValue when v is outside [0,1] or NaN.
func ValidateUnit(name string, v float64) error {
	return message.ValidateUnit(name, v)
}
