// Copyright 2026 © The SINP Authors
// SPDX-License-Identifier: Apache-2.0

package confidence

import "math"

// PlattScale maps a raw score to a calibrated probability with the logistic
// 1 / (1 + exp(-a·score - b)). With a > 0 the mapping is monotonic.
func PlattScale(score, a, b float64) float64 {
	return 1 / (1 + math.Exp(-a*score-b))
}

// Outcome pairs a forecast probability with what actually happened.
type Outcome struct {
	Forecast float64
	Success  bool
}

// BrierScore is the mean squared error of forecasts against outcomes:
// 0 is perfect, 1 is always wrong. An empty set scores 0.
func BrierScore(outcomes []Outcome) float64 {
	if len(outcomes) == 0 {
		return 0
	}
	var sum float64
	for _, o := range outcomes {
		target := 0.0
		if o.Success {
			target = 1
		}
		d := o.Forecast - target
		sum += d * d
	}
	return sum / float64(len(outcomes))
}
