// Copyright 2026 © The SINP Authors
// SPDX-License-Identifier: Apache-2.0

package confidence

import (
	"github.com/jllopis/sinp/pkg/errors"
)

// Default decision thresholds.
const (
	DefaultExec    = 0.85
	DefaultClarify = 0.50
	DefaultAccept  = 0.50
)

// Thresholds gate the decision policy branches.
type Thresholds struct {
	// Exec is τ_exec, the Φs needed to execute.
	Exec float64
	// Clarify is τ_clarify, the Φs needed to ask questions instead of refusing.
	Clarify float64
	// Accept is τ_accept, the minimum Φc for execution.
	Accept float64
}

// DefaultThresholds returns τ_exec 0.85, τ_clarify 0.50, τ_accept 0.50.
func DefaultThresholds() Thresholds {
	return Thresholds{Exec: DefaultExec, Clarify: DefaultClarify, Accept: DefaultAccept}
}

// Validate checks ranges and ordering.
func (t Thresholds) Validate() error {
	for _, f := range []struct {
		name string
		v    float64
	}{{"tau_exec", t.Exec}, {"tau_clarify", t.Clarify}, {"tau_accept", t.Accept}} {
		if err := ValidateUnit(f.name, f.v); err != nil {
			return errors.New(errors.CodeInvalidConfig, "invalid threshold", err)
		}
	}
	if t.Clarify > t.Exec {
		return errors.Newf(errors.CodeInvalidConfig, "tau_clarify (%v) must not exceed tau_exec (%v)", t.Clarify, t.Exec)
	}
	return nil
}
