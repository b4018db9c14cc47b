// Copyright 2026 © The SINP Authors
// SPDX-License-Identifier: Apache-2.0

package governance

import (
	"context"
	"regexp"
	"unicode/utf8"

	"github.com/jllopis/sinp/pkg/errors"
)

// DefaultMaxIntentLength is the longest intent, in runes, the guard accepts.
const DefaultMaxIntentLength = 4096

// CheckResult is the outcome of an intent check.
type CheckResult struct {
	// Blocked indicates the intent must not be acted on.
	Blocked bool
	// Reason explains the block.
	Reason string
	// Pattern is the expression that matched, if any.
	Pattern string
}

// Intent patterns that try to steer the server instead of stating a goal.
var defaultIntentPatterns = []string{
	`(?i)ignore\s+(all\s+)?(previous|prior|above)\s+(instructions?|prompts?|rules?|polic(y|ies))`,
	`(?i)disregard\s+(all\s+)?(previous|prior|above)\s+(instructions?|prompts?|rules?|polic(y|ies))`,
	`(?i)bypass\s+(the\s+)?(safety|policy|polic(y|ies)|filters?|governance)`,
	`(?i)(developer|debug|sudo|admin)\s+mode`,
	`(?i)reveal\s+your\s+(system\s+)?(prompt|instructions?|keys?)`,
	`(?i)jailbreak`,
	`(?i)<\|.*\|>`,
	`(?i)\[/?INST\]`,
}

// IntentGuard screens intent text before interpretation.
type IntentGuard struct {
	patterns  []*regexp.Regexp
	maxLength int
}

// GuardOption configures an IntentGuard.
type GuardOption func(*IntentGuard)

// WithPatterns adds expressions that block an intent on match.
func WithPatterns(patterns ...string) GuardOption {
	return func(g *IntentGuard) {
		for _, p := range patterns {
			if re, err := regexp.Compile(p); err == nil {
				g.patterns = append(g.patterns, re)
			}
		}
	}
}

// WithMaxIntentLength caps intent length in runes. Zero disables the cap.
func WithMaxIntentLength(n int) GuardOption {
	return func(g *IntentGuard) {
		g.maxLength = n
	}
}

// NewIntentGuard compiles the default patterns plus any options.
func NewIntentGuard(opts ...GuardOption) *IntentGuard {
	g := &IntentGuard{maxLength: DefaultMaxIntentLength}
	for _, p := range defaultIntentPatterns {
		g.patterns = append(g.patterns, regexp.MustCompile(p))
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// CompilePatterns validates expressions for configuration checks.
func CompilePatterns(patterns []string) error {
	for _, p := range patterns {
		if _, err := regexp.Compile(p); err != nil {
			return errors.New(errors.CodeInvalidConfig, "invalid guard pattern", err).WithContext("pattern", p)
		}
	}
	return nil
}

// Check screens text.
func (g *IntentGuard) Check(_ context.Context, text string) CheckResult {
	if g.maxLength > 0 && utf8.RuneCountInString(text) > g.maxLength {
		return CheckResult{Blocked: true, Reason: "intent too long"}
	}
	for _, re := range g.patterns {
		if re.MatchString(text) {
			return CheckResult{Blocked: true, Reason: "intent attempts to override server policy", Pattern: re.String()}
		}
	}
	return CheckResult{}
}
