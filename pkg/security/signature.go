// Copyright 2026 © The SINP Authors
// SPDX-License-Identifier: Apache-2.0

package security

import (
	"crypto/ed25519"
	"crypto/rand"
	"encoding/base64"
	"fmt"

	"github.com/jllopis/sinp/pkg/errors"
	"github.com/jllopis/sinp/pkg/message"
)

// GenerateKey creates a new Ed25519 key pair.
func GenerateKey() (ed25519.PublicKey, ed25519.PrivateKey, error) {
	return ed25519.GenerateKey(rand.Reader)
}

// EncodeKey returns the standard base64 form of a key.
func EncodeKey(key []byte) string {
	return base64.StdEncoding.EncodeToString(key)
}

// DecodePublicKey parses a base64 Ed25519 public key.
func DecodePublicKey(s string) (ed25519.PublicKey, error) {
	raw, err := base64.StdEncoding.DecodeString(s)
	if err != nil {
		return nil, fmt.Errorf("decode public key: %w", err)
	}
	if len(raw) != ed25519.PublicKeySize {
		return nil, fmt.Errorf("public key must be %d bytes, got %d", ed25519.PublicKeySize, len(raw))
	}
	return ed25519.PublicKey(raw), nil
}

// DecodePrivateKey parses a base64 Ed25519 private key or 32-byte seed.
func DecodePrivateKey(s string) (ed25519.PrivateKey, error) {
	raw, err := base64.StdEncoding.DecodeString(s)
	if err != nil {
		return nil, fmt.Errorf("decode private key: %w", err)
	}
	switch len(raw) {
	case ed25519.PrivateKeySize:
		return ed25519.PrivateKey(raw), nil
	case ed25519.SeedSize:
		return ed25519.NewKeyFromSeed(raw), nil
	default:
		return nil, fmt.Errorf("private key must be %d or %d bytes, got %d", ed25519.SeedSize, ed25519.PrivateKeySize, len(raw))
	}
}

// Signer signs outgoing requests with one identity.
type Signer struct {
	keyID string
	key   ed25519.PrivateKey
}

// NewSigner returns a signer that stamps keyID on every request.
func NewSigner(keyID string, key ed25519.PrivateKey) *Signer {
	return &Signer{keyID: keyID, key: key}
}

// KeyID returns the identity announced in signed requests.
func (s *Signer) KeyID() string {
	return s.keyID
}

// Sign sets req.KeyID and req.Signature over the canonical request bytes.
func (s *Signer) Sign(req *message.Request) error {
	req.KeyID = s.keyID
	canonical, err := CanonicalRequest(req)
	if err != nil {
		return err
	}
	req.Signature = base64.StdEncoding.EncodeToString(ed25519.Sign(s.key, canonical))
	return nil
}

// Verifier checks request signatures against a keyring.
type Verifier struct {
	keys     Keyring
	required bool
}

// NewVerifier builds a verifier. When required is false, requests without a
// signature pass; a present signature is always checked.
func NewVerifier(keys Keyring, required bool) *Verifier {
	if keys == nil {
		keys = StaticKeyring{}
	}
	return &Verifier{keys: keys, required: required}
}

// Verify checks req's signature over the canonical form of raw, the exact
// body received on the wire.
func (v *Verifier) Verify(raw []byte, req *message.Request) error {
	if req.Signature == "" {
		if v.required {
			return errors.New(errors.CodeInvalidSignature, "request is not signed", nil)
		}
		return nil
	}
	pub, ok := v.keys.PublicKey(req.KeyID)
	if !ok {
		return errors.Newf(errors.CodeInvalidSignature, "unknown key id %q", req.KeyID).
			WithContext("key_id", req.KeyID)
	}
	sig, err := base64.StdEncoding.DecodeString(req.Signature)
	if err != nil || len(sig) != ed25519.SignatureSize {
		return errors.New(errors.CodeInvalidSignature, "signature is not base64 Ed25519", err)
	}
	canonical, err := Canonicalize(raw)
	if err != nil {
		return err
	}
	if !ed25519.Verify(pub, canonical, sig) {
		return errors.New(errors.CodeInvalidSignature, "signature does not match body", nil).
			WithContext("key_id", req.KeyID)
	}
	return nil
}
