// Copyright 2026 © The SINP Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"bufio"
	"context"
	"crypto/tls"
	"crypto/x509"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/jllopis/sinp/pkg/client"
	"github.com/jllopis/sinp/pkg/message"
	"github.com/jllopis/sinp/pkg/security"
)

type sendOptions struct {
	addr        string
	phi         float64
	sets        []string
	accept      string
	session     string
	keyFile     string
	keyID       string
	useTLS      bool
	caFile      string
	insecure    bool
	interactive bool
	maxRounds   int
}

var sendOpts sendOptions

// sendCmd negotiates one intent
var sendCmd = &cobra.Command{
	Use:   "send <intent>...",
	Short: "Negotiate an intent with a SINP server",
	Long: `Send an intent and print the server's answer.

With --interactive, CLARIFY questions are answered on stdin (key=value
to provide an input, any other text to rephrase the intent) and PROPOSE
alternatives are chosen by number, until the server executes or refuses.

Examples:
  sinpctl send --phi 0.9 reverse hello
  sinpctl send --set city=Paris weather today
  sinpctl send --session s-1 --accept reverse:v1 reverse it
  sinpctl send -i --key alice.key --key-id alice what can you do`,
	Args: cobra.MinimumNArgs(1),
	RunE: runSend,
}

func init() {
	f := sendCmd.Flags()
	f.StringVar(&sendOpts.addr, "addr", "localhost:7450", "Server address")
	f.Float64Var(&sendOpts.phi, "phi", 0.9, "Client confidence in [0,1]")
	f.StringArrayVar(&sendOpts.sets, "set", nil, "Input answer key=value (repeatable)")
	f.StringVar(&sendOpts.accept, "accept", "", "Accept a proposed capability id")
	f.StringVar(&sendOpts.session, "session", "", "Session id (default: new)")
	f.StringVar(&sendOpts.keyFile, "key", "", "Private key file for signing")
	f.StringVar(&sendOpts.keyID, "key-id", "", "Key id announced with signed requests (default: key file name)")
	f.BoolVar(&sendOpts.useTLS, "tls", false, "Connect with TLS")
	f.StringVar(&sendOpts.caFile, "ca", "", "CA bundle for verifying the server")
	f.BoolVar(&sendOpts.insecure, "insecure", false, "Skip server certificate verification")
	f.BoolVarP(&sendOpts.interactive, "interactive", "i", false, "Answer CLARIFY and PROPOSE on stdin")
	f.IntVar(&sendOpts.maxRounds, "max-rounds", 0, "Round cap (default: protocol default)")
}

func runSend(cmd *cobra.Command, args []string) error {
	intent := strings.Join(args, " ")
	inputs, err := parseSets(sendOpts.sets)
	if err != nil {
		return err
	}
	opts, err := clientOptions()
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(cmd.Context(), timeout)
	defer cancel()
	c, err := client.Dial(ctx, sendOpts.addr, opts...)
	if err != nil {
		return err
	}
	defer c.Close()

	out := cmd.OutOrStdout()
	if sendOpts.accept != "" {
		// A one-shot accept continues a session negotiated by an earlier
		// invocation, so the local session has no PROPOSE to check against.
		resp, err := c.Exchange(ctx, &message.Request{
			SessionID: sendOpts.session,
			Intent:    intent,
			PhiC:      sendOpts.phi,
			Accept:    sendOpts.accept,
			Context:   inputs,
		})
		if err != nil {
			return err
		}
		return printResponse(out, resp)
	}

	sess := c.NewSession()
	if sendOpts.session != "" {
		sess = c.ResumeSession(sendOpts.session)
	}
	for k, v := range inputs {
		sess.Set(k, v)
	}

	if !sendOpts.interactive {
		resp, err := sess.Send(ctx, intent, sendOpts.phi)
		if err != nil {
			return err
		}
		return printResponse(out, resp)
	}

	// Interactive rounds wait on a person, so only the dial is bounded.
	r := newPromptResolver(cmd.InOrStdin(), cmd.ErrOrStderr())
	resp, err := sess.Negotiate(cmd.Context(), intent, sendOpts.phi, r)
	if err != nil {
		return err
	}
	return printResponse(out, resp)
}

func clientOptions() ([]client.Option, error) {
	opts := []client.Option{client.WithTimeout(timeout)}
	if sendOpts.maxRounds > 0 {
		opts = append(opts, client.WithMaxRounds(sendOpts.maxRounds))
	}
	if sendOpts.keyFile != "" {
		data, err := os.ReadFile(sendOpts.keyFile)
		if err != nil {
			return nil, err
		}
		key, err := security.DecodePrivateKey(strings.TrimSpace(string(data)))
		if err != nil {
			return nil, fmt.Errorf("%s: %w", sendOpts.keyFile, err)
		}
		id := sendOpts.keyID
		if id == "" {
			id = strings.TrimSuffix(baseName(sendOpts.keyFile), ".key")
		}
		opts = append(opts, client.WithSigner(security.NewSigner(id, key)))
	}
	if sendOpts.useTLS || sendOpts.caFile != "" {
		cfg := &tls.Config{MinVersion: tls.VersionTLS12, InsecureSkipVerify: sendOpts.insecure}
		if sendOpts.caFile != "" {
			pem, err := os.ReadFile(sendOpts.caFile)
			if err != nil {
				return nil, err
			}
			pool := x509.NewCertPool()
			if !pool.AppendCertsFromPEM(pem) {
				return nil, fmt.Errorf("%s: no certificates found", sendOpts.caFile)
			}
			cfg.RootCAs = pool
		}
		if host, _, ok := strings.Cut(sendOpts.addr, ":"); ok && host != "" {
			cfg.ServerName = host
		}
		opts = append(opts, client.WithTLS(cfg))
	}
	return opts, nil
}

func parseSets(sets []string) (map[string]string, error) {
	if len(sets) == 0 {
		return nil, nil
	}
	out := make(map[string]string, len(sets))
	for _, s := range sets {
		k, v, ok := strings.Cut(s, "=")
		k = strings.TrimSpace(k)
		if !ok || k == "" {
			return nil, fmt.Errorf("--set %q must be key=value", s)
		}
		out[k] = strings.TrimSpace(v)
	}
	return out, nil
}

func baseName(path string) string {
	if i := strings.LastIndexAny(path, `/\`); i >= 0 {
		return path[i+1:]
	}
	return path
}

func printResponse(w io.Writer, resp *message.Response) error {
	if jsonOutput {
		return printJSON(w, resp)
	}
	fmt.Fprintf(w, "%s (phi_s=%.3f", resp.Action, resp.PhiS)
	if resp.CapabilityID != "" {
		fmt.Fprintf(w, ", capability=%s", resp.CapabilityID)
	}
	fmt.Fprintf(w, ", session=%s, round=%d)\n", resp.SessionID, resp.Round)
	switch resp.Action {
	case message.ActionExecute:
		return printJSON(w, resp.Metadata.Result)
	case message.ActionClarify:
		for _, q := range resp.Metadata.Questions {
			fmt.Fprintf(w, "  ? %s\n", q)
		}
	case message.ActionPropose:
		for i, alt := range resp.Metadata.Alternatives {
			fmt.Fprintf(w, "  %d) %s\n", i+1, alt)
		}
	case message.ActionRefuse:
		fmt.Fprintf(w, "  reason: %s\n", resp.Metadata.Reason)
	}
	return nil
}

// promptResolver answers follow-ups from a line-oriented reader.
type promptResolver struct {
	in  *bufio.Scanner
	out io.Writer
}

func newPromptResolver(in io.Reader, out io.Writer) *promptResolver {
	return &promptResolver{in: bufio.NewScanner(in), out: out}
}

func (p *promptResolver) Clarify(_ context.Context, questions []string) (map[string]string, string, error) {
	answers := make(map[string]string)
	var intent string
	for _, q := range questions {
		fmt.Fprintf(p.out, "? %s\n> ", q)
		line, err := p.readLine()
		if err != nil {
			return nil, "", err
		}
		if k, v, ok := strings.Cut(line, "="); ok && strings.TrimSpace(k) != "" && !strings.ContainsAny(strings.TrimSpace(k), " \t") {
			answers[strings.TrimSpace(k)] = strings.TrimSpace(v)
			continue
		}
		if line != "" {
			intent = line
		}
	}
	return answers, intent, nil
}

func (p *promptResolver) Choose(_ context.Context, alternatives []string) (string, error) {
	fmt.Fprintln(p.out, "The server proposes:")
	for i, alt := range alternatives {
		fmt.Fprintf(p.out, "  %d) %s\n", i+1, alt)
	}
	fmt.Fprint(p.out, "choose a number or id (empty to stop)> ")
	line, err := p.readLine()
	if err != nil || line == "" {
		return "", err
	}
	if n, err := strconv.Atoi(line); err == nil {
		if n < 1 || n > len(alternatives) {
			return "", fmt.Errorf("choice %d out of range", n)
		}
		return alternatives[n-1], nil
	}
	for _, alt := range alternatives {
		if alt == line {
			return alt, nil
		}
	}
	return "", fmt.Errorf("%q was not proposed", line)
}

func (p *promptResolver) readLine() (string, error) {
	if !p.in.Scan() {
		if err := p.in.Err(); err != nil {
			return "", err
		}
		return "", io.EOF
	}
	return strings.TrimSpace(p.in.Text()), nil
}

var _ client.Resolver = (*promptResolver)(nil)
