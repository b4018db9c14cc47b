// Copyright 2026 © The SINP Authors
// SPDX-License-Identifier: Apache-2.0

package security

import (
	"crypto/ed25519"
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// Keyring resolves trusted public keys by key id.
type Keyring interface {
	PublicKey(keyID string) (ed25519.PublicKey, bool)
}

// StaticKeyring is an immutable in-memory keyring.
type StaticKeyring map[string]ed25519.PublicKey

// PublicKey implements Keyring.
func (k StaticKeyring) PublicKey(keyID string) (ed25519.PublicKey, bool) {
	pub, ok := k[keyID]
	return pub, ok
}

type keyringFile struct {
	Keys []struct {
		ID        string `yaml:"id"`
		PublicKey string `yaml:"public_key"`
	} `yaml:"keys"`
}

// LoadKeyring reads a YAML file of the form:
//
//	keys:
//	  - id: client-a
//	    public_key: <base64>
func LoadKeyring(path string) (StaticKeyring, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read keyring: %w", err)
	}
	return ParseKeyring(data)
}

// ParseKeyring parses keyring YAML.
func ParseKeyring(data []byte) (StaticKeyring, error) {
	var file keyringFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("parse keyring: %w", err)
	}
	ring := make(StaticKeyring, len(file.Keys))
	for i, entry := range file.Keys {
		id := strings.TrimSpace(entry.ID)
		if id == "" {
			return nil, fmt.Errorf("keyring entry %d: id is required", i)
		}
		if _, dup := ring[id]; dup {
			return nil, fmt.Errorf("keyring entry %d: duplicate id %q", i, id)
		}
		pub, err := DecodePublicKey(strings.TrimSpace(entry.PublicKey))
		if err != nil {
			return nil, fmt.Errorf("keyring entry %q: %w", id, err)
		}
		ring[id] = pub
	}
	return ring, nil
}
