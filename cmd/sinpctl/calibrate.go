// Copyright 2026 © The SINP Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/jllopis/sinp/pkg/confidence"
)

var (
	plattA float64
	plattB float64
)

// calibrateCmd scores interpreter confidence against observed outcomes
var calibrateCmd = &cobra.Command{
	Use:   "calibrate <file.csv>",
	Short: "Compute the Brier score of scored outcomes",
	Long: `Compute the Brier score of a CSV of score,outcome rows.

score is the interpreter confidence in [0,1] and outcome is 1/0 or
true/false. A header row is skipped. With --a and --b the scores are
also passed through Platt scaling and the calibrated score is reported.
Use "-" to read stdin.`,
	Args: cobra.ExactArgs(1),
	RunE: runCalibrate,
}

func init() {
	calibrateCmd.Flags().Float64Var(&plattA, "a", 0, "Platt slope")
	calibrateCmd.Flags().Float64Var(&plattB, "b", 0, "Platt intercept")
}

type calibrationReport struct {
	Samples         int      `json:"samples"`
	SuccessRate     float64  `json:"success_rate"`
	Brier           float64  `json:"brier"`
	CalibratedBrier *float64 `json:"calibrated_brier,omitempty"`
}

func runCalibrate(cmd *cobra.Command, args []string) error {
	var r io.Reader = cmd.InOrStdin()
	if args[0] != "-" {
		f, err := os.Open(args[0])
		if err != nil {
			return err
		}
		defer f.Close()
		r = f
	}
	outcomes, err := readOutcomes(r)
	if err != nil {
		return err
	}
	if len(outcomes) == 0 {
		return fmt.Errorf("no samples in %s", args[0])
	}

	report := calibrationReport{Samples: len(outcomes), Brier: confidence.BrierScore(outcomes)}
	for _, o := range outcomes {
		if o.Success {
			report.SuccessRate++
		}
	}
	report.SuccessRate /= float64(len(outcomes))
	if cmd.Flags().Changed("a") || cmd.Flags().Changed("b") {
		scaled := make([]confidence.Outcome, len(outcomes))
		for i, o := range outcomes {
			scaled[i] = confidence.Outcome{Forecast: confidence.PlattScale(o.Forecast, plattA, plattB), Success: o.Success}
		}
		b := confidence.BrierScore(scaled)
		report.CalibratedBrier = &b
	}

	out := cmd.OutOrStdout()
	if jsonOutput {
		return printJSON(out, report)
	}
	fmt.Fprintf(out, "samples:      %d\nsuccess rate: %.4f\nbrier:        %.4f\n", report.Samples, report.SuccessRate, report.Brier)
	if report.CalibratedBrier != nil {
		fmt.Fprintf(out, "calibrated:   %.4f (a=%g, b=%g)\n", *report.CalibratedBrier, plattA, plattB)
	}
	return nil
}

// readOutcomes parses score,outcome rows. A first row whose score is not a
// number is taken as a header.
func readOutcomes(r io.Reader) ([]confidence.Outcome, error) {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = 2
	cr.TrimLeadingSpace = true
	rows, err := cr.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("read csv: %w", err)
	}
	out := make([]confidence.Outcome, 0, len(rows))
	for i, row := range rows {
		score, err := strconv.ParseFloat(strings.TrimSpace(row[0]), 64)
		if err != nil {
			if i == 0 {
				continue
			}
			return nil, fmt.Errorf("row %d: invalid score %q", i+1, row[0])
		}
		if score < 0 || score > 1 {
			return nil, fmt.Errorf("row %d: score %v outside [0,1]", i+1, score)
		}
		success, err := strconv.ParseBool(strings.TrimSpace(row[1]))
		if err != nil {
			return nil, fmt.Errorf("row %d: invalid outcome %q", i+1, row[1])
		}
		out = append(out, confidence.Outcome{Forecast: score, Success: success})
	}
	return out, nil
}
