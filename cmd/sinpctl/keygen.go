// Copyright 2026 © The SINP Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/jllopis/sinp/pkg/security"
)

var keygenOutDir string

// keygenCmd writes a new Ed25519 key pair
var keygenCmd = &cobra.Command{
	Use:   "keygen <key-id>",
	Short: "Generate an Ed25519 signing key pair",
	Long: `Generate an Ed25519 key pair for signing requests.

The private key is written to <key-id>.key and the public key to
<key-id>.pub, both base64 encoded. The keyring entry to add to the
server is printed on stdout.`,
	Args: cobra.ExactArgs(1),
	RunE: runKeygen,
}

func init() {
	keygenCmd.Flags().StringVarP(&keygenOutDir, "out", "o", ".", "Directory for the key files")
}

func runKeygen(cmd *cobra.Command, args []string) error {
	id := args[0]
	pub, priv, err := security.GenerateKey()
	if err != nil {
		return err
	}
	privPath := filepath.Join(keygenOutDir, id+".key")
	pubPath := filepath.Join(keygenOutDir, id+".pub")
	if _, err := os.Stat(privPath); err == nil {
		return fmt.Errorf("%s already exists", privPath)
	}
	if err := os.WriteFile(privPath, []byte(security.EncodeKey(priv)+"\n"), 0o600); err != nil {
		return err
	}
	if err := os.WriteFile(pubPath, []byte(security.EncodeKey(pub)+"\n"), 0o644); err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	if jsonOutput {
		return printJSON(out, map[string]string{
			"id":          id,
			"private_key": privPath,
			"public_key":  security.EncodeKey(pub),
		})
	}
	fmt.Fprintf(out, "wrote %s and %s\n\nkeyring entry:\n  - id: %s\n    public_key: %s\n",
		privPath, pubPath, id, security.EncodeKey(pub))
	return nil
}
