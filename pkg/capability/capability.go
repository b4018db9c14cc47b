// Copyright 2026 © The SINP Authors
// SPDX-License-Identifier: Apache-2.0

// Package capability holds the server's capability registry: descriptors,
// handlers, reliability and availability. The registry publishes immutable
// snapshots so a negotiation round always sees one consistent view.
package capability

import (
	"context"
	"strings"

	"github.com/jllopis/sinp/pkg/errors"
	"github.com/jllopis/sinp/pkg/message"
)

// PrivacyLevel classifies the data a capability touches.
type PrivacyLevel string

const (
	PrivacyPublic     PrivacyLevel = "public"
	PrivacyInternal   PrivacyLevel = "internal"
	PrivacySensitive  PrivacyLevel = "sensitive"
	PrivacyRestricted PrivacyLevel = "restricted"
)

// Valid reports whether p is a known level. The empty level means public.
func (p PrivacyLevel) Valid() bool {
	switch p {
	case "", PrivacyPublic, PrivacyInternal, PrivacySensitive, PrivacyRestricted:
		return true
	default:
		return false
	}
}

// Input is a named argument a capability may need before it can run.
type Input struct {
	Name        string `json:"name" yaml:"name"`
	Description string `json:"description,omitempty" yaml:"description,omitempty"`
	Required    bool   `json:"required,omitempty" yaml:"required,omitempty"`
}

// Capability describes something the server can do.
type Capability struct {
	ID          string  `json:"id" yaml:"id"`
	Description string  `json:"description" yaml:"description"`
	Inputs      []Input `json:"inputs,omitempty" yaml:"inputs,omitempty"`
	// Keywords are interpreter hints. An entry may list synonyms separated
	// by "|"; any of them satisfies the entry.
	Keywords     []string     `json:"keywords,omitempty" yaml:"keywords,omitempty"`
	Tags         []string     `json:"tags,omitempty" yaml:"tags,omitempty"`
	PrivacyLevel PrivacyLevel `json:"privacy_level,omitempty" yaml:"privacy_level,omitempty"`
	Cost         float64      `json:"cost,omitempty" yaml:"cost,omitempty"`
	// Reliability is R(c), configured or learned from outcomes.
	Reliability float64 `json:"reliability" yaml:"reliability"`
}

// Name returns the id without its version suffix ("echo:v1" -> "echo").
func (c Capability) Name() string {
	name, _, _ := strings.Cut(c.ID, ":")
	return name
}

// Validate checks id, reliability, cost, privacy level and input names.
func (c Capability) Validate() error {
	if strings.TrimSpace(c.ID) == "" {
		return errors.New(errors.CodeInvalidConfig, "capability id is required", nil)
	}
	if err := message.ValidateUnit("reliability", c.Reliability); err != nil {
		return errors.New(errors.CodeInvalidConfig, "invalid capability reliability", err).
			WithContext("capability", c.ID)
	}
	if c.Cost < 0 {
		return errors.Newf(errors.CodeInvalidConfig, "capability %s: cost must be >= 0", c.ID)
	}
	if !c.PrivacyLevel.Valid() {
		return errors.Newf(errors.CodeInvalidConfig, "capability %s: unknown privacy level %q", c.ID, c.PrivacyLevel)
	}
	seen := make(map[string]struct{}, len(c.Inputs))
	for _, in := range c.Inputs {
		if strings.TrimSpace(in.Name) == "" {
			return errors.Newf(errors.CodeInvalidConfig, "capability %s: input name is required", c.ID)
		}
		if _, dup := seen[in.Name]; dup {
			return errors.Newf(errors.CodeInvalidConfig, "capability %s: duplicate input %q", c.ID, in.Name)
		}
		seen[in.Name] = struct{}{}
	}
	return nil
}

// MissingInputs returns the required inputs absent or blank in provided,
// in declaration order.
func (c Capability) MissingInputs(provided map[string]string) []Input {
	var missing []Input
	for _, in := range c.Inputs {
		if !in.Required {
			continue
		}
		if strings.TrimSpace(provided[in.Name]) == "" {
			missing = append(missing, in)
		}
	}
	return missing
}

// Invocation is what a handler receives on EXECUTE.
type Invocation struct {
	CapabilityID string
	Intent       string
	SessionID    string
	Round        int
	Inputs       map[string]string
}

// Input returns the named input, or "" when absent.
func (i Invocation) Input(name string) string {
	return i.Inputs[name]
}

// Handler runs a capability. It is only invoked for EXECUTE decisions.
type Handler interface {
	Execute(ctx context.Context, inv Invocation) (any, error)
}

// HandlerFunc adapts a function to Handler.
type HandlerFunc func(ctx context.Context, inv Invocation) (any, error)

// Execute implements Handler.
func (f HandlerFunc) Execute(ctx context.Context, inv Invocation) (any, error) {
	return f(ctx, inv)
}

// Entry binds a descriptor to its handler.
type Entry struct {
	Capability Capability
	Handler    Handler
}
