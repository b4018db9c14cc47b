// Copyright 2026 © The SINP Authors
// SPDX-License-Identifier: Apache-2.0

package capability

import (
	"context"
	"fmt"
	"strings"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"
)

// Builtin handler names, also usable from manifests.
const (
	BuiltinEcho      = "echo"
	BuiltinReverse   = "reverse"
	BuiltinUppercase = "uppercase"
	BuiltinHelp      = "help"
)

// textInput is the optional input every text builtin reads. When absent the
// whole intent is used.
var textInput = Input{Name: "text", Description: "text to transform"}

func text(inv Invocation) string {
	if v := strings.TrimSpace(inv.Input("text")); v != "" {
		return v
	}
	return inv.Intent
}

// EchoHandler returns the text unchanged.
func EchoHandler() Handler {
	return HandlerFunc(func(_ context.Context, inv Invocation) (any, error) {
		return map[string]any{"echo": text(inv)}, nil
	})
}

// ReverseHandler returns the text with its runes reversed.
func ReverseHandler() Handler {
	return HandlerFunc(func(_ context.Context, inv Invocation) (any, error) {
		runes := []rune(text(inv))
		for i, j := 0, len(runes)-1; i < j; i, j = i+1, j-1 {
			runes[i], runes[j] = runes[j], runes[i]
		}
		return map[string]any{"reversed": string(runes)}, nil
	})
}

// UppercaseHandler returns the text in upper case.
func UppercaseHandler() Handler {
	return HandlerFunc(func(_ context.Context, inv Invocation) (any, error) {
		return map[string]any{"uppercase": cases.Upper(language.Und).String(text(inv))}, nil
	})
}

// HelpHandler lists the capabilities registered in r at call time.
func HelpHandler(r *Registry) Handler {
	return HandlerFunc(func(_ context.Context, _ Invocation) (any, error) {
		caps := r.Snapshot().Capabilities()
		list := make([]map[string]string, 0, len(caps))
		names := make([]string, 0, len(caps))
		for _, c := range caps {
			list = append(list, map[string]string{"id": c.ID, "description": c.Description})
			names = append(names, c.Name())
		}
		return map[string]any{
			"message":      fmt.Sprintf("Available capabilities: %s", strings.Join(names, ", ")),
			"capabilities": list,
		}, nil
	})
}

// Builtins returns the builtin entries bound to r.
func Builtins(r *Registry) map[string]Entry {
	return map[string]Entry{
		BuiltinEcho: {
			Capability: Capability{
				ID:           "echo:v1",
				Description:  "Echo back the input message",
				Inputs:       []Input{textInput},
				Keywords:     []string{"echo|repeat|say"},
				Tags:         []string{"builtin", "text"},
				PrivacyLevel: PrivacyPublic,
				Cost:         1,
				Reliability:  0.95,
			},
			Handler: EchoHandler(),
		},
		BuiltinReverse: {
			Capability: Capability{
				ID:           "reverse:v1",
				Description:  "Reverse the characters of a text",
				Inputs:       []Input{textInput},
				Keywords:     []string{"reverse|backwards|mirror"},
				Tags:         []string{"builtin", "text"},
				PrivacyLevel: PrivacyPublic,
				Cost:         1,
				Reliability:  0.95,
			},
			Handler: ReverseHandler(),
		},
		BuiltinUppercase: {
			Capability: Capability{
				ID:           "uppercase:v1",
				Description:  "Convert a text to upper case",
				Inputs:       []Input{textInput},
				Keywords:     []string{"uppercase|upper|capitalize|capitals"},
				Tags:         []string{"builtin", "text"},
				PrivacyLevel: PrivacyPublic,
				Cost:         1,
				Reliability:  0.95,
			},
			Handler: UppercaseHandler(),
		},
		BuiltinHelp: {
			Capability: Capability{
				ID:           "help:v1",
				Description:  "Get help and list available capabilities",
				Keywords:     []string{"help|capabilities|commands"},
				Tags:         []string{"builtin"},
				PrivacyLevel: PrivacyPublic,
				Reliability:  1,
			},
			Handler: HelpHandler(r),
		},
	}
}

// BuiltinHandlers returns builtin handlers by name, for manifest binding.
func BuiltinHandlers(r *Registry) map[string]Handler {
	out := make(map[string]Handler)
	for name, e := range Builtins(r) {
		out[name] = e.Handler
	}
	return out
}

// RegisterBuiltins registers the named builtins, or all of them when names
// is empty.
func RegisterBuiltins(r *Registry, names ...string) error {
	all := Builtins(r)
	if len(names) == 0 {
		names = []string{BuiltinEcho, BuiltinReverse, BuiltinUppercase, BuiltinHelp}
	}
	entries := make([]Entry, 0, len(names))
	for _, name := range names {
		e, ok := all[name]
		if !ok {
			return fmt.Errorf("unknown builtin capability %q", name)
		}
		entries = append(entries, e)
	}
	return r.RegisterAll(entries...)
}
