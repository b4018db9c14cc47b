// Copyright 2026 © The SINP Authors
// SPDX-License-Identifier: Apache-2.0

package capability

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/jllopis/sinp/pkg/errors"
)

// Manifest declares capabilities in YAML and binds each one to a named
// handler:
//
//	capabilities:
//	  - id: shout:v1
//	    description: Shout the text back in capitals
//	    keywords: ["shout|yell"]
//	    reliability: 0.9
//	    handler: uppercase
type Manifest struct {
	Capabilities []ManifestEntry `yaml:"capabilities"`
}

// ManifestEntry is one capability plus the handler name it binds to.
type ManifestEntry struct {
	Capability `yaml:",inline"`
	Handler    string `yaml:"handler"`
}

// LoadManifest reads a manifest file.
func LoadManifest(path string) (*Manifest, error) {
	if strings.TrimSpace(path) == "" {
		return nil, errors.New(errors.CodeInvalidConfig, "manifest path is required", nil)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.New(errors.CodeInvalidConfig, "read manifest", err).WithContext("path", path)
	}
	return ParseManifest(data)
}

// ParseManifest decodes and validates a manifest.
func ParseManifest(data []byte) (*Manifest, error) {
	var m Manifest
	if err := yaml.Unmarshal(data, &m); err != nil {
		return nil, errors.New(errors.CodeInvalidConfig, "parse manifest", err)
	}
	seen := make(map[string]struct{}, len(m.Capabilities))
	for _, e := range m.Capabilities {
		if err := e.Capability.Validate(); err != nil {
			return nil, err
		}
		if strings.TrimSpace(e.Handler) == "" {
			return nil, errors.Newf(errors.CodeInvalidConfig, "capability %s: handler is required", e.ID)
		}
		if _, dup := seen[e.ID]; dup {
			return nil, errors.Newf(errors.CodeInvalidConfig, "duplicate capability %s in manifest", e.ID)
		}
		seen[e.ID] = struct{}{}
	}
	return &m, nil
}

// Register resolves handler names against handlers and registers every
// capability in one snapshot.
func (m *Manifest) Register(r *Registry, handlers map[string]Handler) error {
	entries := make([]Entry, 0, len(m.Capabilities))
	for _, e := range m.Capabilities {
		h, ok := handlers[e.Handler]
		if !ok {
			return errors.New(errors.CodeInvalidConfig, fmt.Sprintf("capability %s: unknown handler %q", e.ID, e.Handler), nil)
		}
		entries = append(entries, Entry{Capability: e.Capability, Handler: h})
	}
	return r.RegisterAll(entries...)
}
