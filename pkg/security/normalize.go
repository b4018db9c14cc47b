// Copyright 2026 © The SINP Authors
// SPDX-License-Identifier: Apache-2.0

// Package security guards every negotiation round: semantic hashing of intent
// text, JSON canonicalization with Ed25519 signatures, and replay protection.
package security

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"
	"unicode"

	"golang.org/x/text/cases"
	"golang.org/x/text/unicode/norm"
)

// Normalize produces the canonical form of intent text: NFKC, case folded,
// trimmed, with inner whitespace runs collapsed to one space.
func Normalize(text string) string {
	folded := cases.Fold().String(norm.NFKC.String(text))
	return strings.Join(strings.Fields(folded), " ")
}

// SemanticHash returns the hex SHA-256 of the normalized text. Texts that
// differ only in case, width or spacing share a hash.
func SemanticHash(text string) string {
	sum := sha256.Sum256([]byte(Normalize(text)))
	return hex.EncodeToString(sum[:])
}

// Tokens splits normalized text into letter and digit runs.
func Tokens(text string) []string {
	return strings.FieldsFunc(Normalize(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
}
