// Copyright 2026 © The SINP Authors
// SPDX-License-Identifier: Apache-2.0

package governance

import (
	"path"
	"strings"
)

// ToolFilter decides which remote tools may be exposed as capabilities.
// Denylist entries win over allowlist entries; an empty allowlist allows
// everything not denied. Entries are path.Match globs.
type ToolFilter struct {
	allowlist []string
	denylist  []string
}

// ToolFilterOption configures a ToolFilter.
type ToolFilterOption func(*ToolFilter)

// NewToolFilter creates a ToolFilter.
func NewToolFilter(opts ...ToolFilterOption) *ToolFilter {
	tf := &ToolFilter{}
	for _, opt := range opts {
		opt(tf)
	}
	return tf
}

// WithAllowlist sets the permitted tool names or patterns.
func WithAllowlist(tools []string) ToolFilterOption {
	return func(tf *ToolFilter) {
		tf.allowlist = appendTrimmed(tf.allowlist, tools)
	}
}

// WithDenylist sets the forbidden tool names or patterns.
func WithDenylist(tools []string) ToolFilterOption {
	return func(tf *ToolFilter) {
		tf.denylist = appendTrimmed(tf.denylist, tools)
	}
}

// IsAllowed checks one tool name.
func (tf *ToolFilter) IsAllowed(name string) bool {
	if tf == nil {
		return true
	}
	if matchesAny(name, tf.denylist) {
		return false
	}
	return len(tf.allowlist) == 0 || matchesAny(name, tf.allowlist)
}

// Filter returns the names that pass, in order.
func (tf *ToolFilter) Filter(names []string) []string {
	out := make([]string, 0, len(names))
	for _, n := range names {
		if tf.IsAllowed(n) {
			out = append(out, n)
		}
	}
	return out
}

func appendTrimmed(dst, src []string) []string {
	for _, s := range src {
		if s = strings.TrimSpace(s); s != "" {
			dst = append(dst, s)
		}
	}
	return dst
}

func matchesAny(name string, patterns []string) bool {
	for _, p := range patterns {
		if ok, err := path.Match(p, name); (err == nil && ok) || p == name {
			return true
		}
	}
	return false
}
