// Copyright 2026 © The SINP Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/jllopis/sinp/pkg/security"
)

// hashCmd prints the normalized form and semantic hash of an intent
var hashCmd = &cobra.Command{
	Use:   "hash <intent>...",
	Short: "Print the normalized intent and its semantic hash",
	Long: `Print the normalized form of an intent and its semantic hash.

Two intents with the same hash are treated as the same request by the
interpretation cache and appear under the same hash in audit records.`,
	Args: cobra.MinimumNArgs(1),
	RunE: runHash,
}

func runHash(cmd *cobra.Command, args []string) error {
	text := strings.Join(args, " ")
	normalized := security.Normalize(text)
	sum := security.SemanticHash(text)
	if jsonOutput {
		return printJSON(cmd.OutOrStdout(), map[string]string{"normalized": normalized, "hash": sum})
	}
	fmt.Fprintf(cmd.OutOrStdout(), "normalized: %s\nhash:       %s\n", normalized, sum)
	return nil
}
