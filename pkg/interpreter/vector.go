// Copyright 2026 © The SINP Authors
// SPDX-License-Identifier: Apache-2.0

package interpreter

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/google/uuid"

	"github.com/jllopis/sinp/pkg/capability"
	"github.com/jllopis/sinp/pkg/errors"
)

// PayloadCapabilityID is the payload key holding the capability id of an
// indexed point.
const PayloadCapabilityID = "capability_id"

// DefaultCollection is the vector collection capabilities are indexed in.
const DefaultCollection = "sinp_capabilities"

// capabilityNamespace derives stable point ids from capability ids.
var capabilityNamespace = uuid.MustParse("8a1d3c3e-5f0b-4c59-9a57-0d8e7c0a2b11")

// Embedder converts text to a vector.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

// VectorStore is the vector database the interpreter indexes capabilities in.
type VectorStore interface {
	// CreateCollection creates the collection when it does not exist.
	CreateCollection(ctx context.Context, name string, vectorSize uint64) error
	// Upsert adds or replaces points.
	Upsert(ctx context.Context, collection string, points []Point) error
	// Search returns the nearest points to vector, best first.
	Search(ctx context.Context, collection string, vector []float32, limit int, scoreThreshold float32) ([]SearchResult, error)
}

// Point is an indexed vector with its payload.
type Point struct {
	ID      string         `json:"id"`
	Vector  []float32      `json:"vector"`
	Payload map[string]any `json:"payload"`
}

// SearchResult is one search hit.
type SearchResult struct {
	ID      string         `json:"id"`
	Score   float32        `json:"score"`
	Payload map[string]any `json:"payload"`
}

// PointID returns the stable point id used for a capability.
func PointID(capabilityID string) string {
	return uuid.NewSHA1(capabilityNamespace, []byte(capabilityID)).String()
}

// VectorOption configures a VectorInterpreter.
type VectorOption func(*VectorInterpreter)

// WithCollection sets the collection name.
func WithCollection(name string) VectorOption {
	return func(v *VectorInterpreter) {
		if name != "" {
			v.collection = name
		}
	}
}

// WithSearchLimit caps the number of matches returned.
func WithSearchLimit(n int) VectorOption {
	return func(v *VectorInterpreter) {
		if n > 0 {
			v.limit = n
		}
	}
}

// WithMinScore drops hits below score.
func WithMinScore(score float64) VectorOption {
	return func(v *VectorInterpreter) {
		v.minScore = score
	}
}

// WithVectorLogger sets the logger.
func WithVectorLogger(logger *slog.Logger) VectorOption {
	return func(v *VectorInterpreter) {
		if logger != nil {
			v.logger = logger
		}
	}
}

// VectorInterpreter embeds intents and searches an index of capability
// descriptions. The cosine score of a hit, clamped to [0,1], is its ρ. The
// index is rebuilt when the registry snapshot version changes.
type VectorInterpreter struct {
	embedder   Embedder
	store      VectorStore
	collection string
	limit      int
	minScore   float64
	logger     *slog.Logger

	mu      sync.Mutex
	indexed uint64
	ready   bool
}

// NewVectorInterpreter wires an embedder to a store.
func NewVectorInterpreter(embedder Embedder, store VectorStore, opts ...VectorOption) *VectorInterpreter {
	v := &VectorInterpreter{
		embedder:   embedder,
		store:      store,
		collection: DefaultCollection,
		limit:      10,
		minScore:   DefaultMinScore,
		logger:     slog.Default(),
	}
	for _, opt := range opts {
		opt(v)
	}
	return v
}

// Interpret implements Interpreter.
func (v *VectorInterpreter) Interpret(ctx context.Context, text string, snap *capability.Snapshot) ([]Match, error) {
	if strings.TrimSpace(text) == "" || snap.Len() == 0 {
		return []Match{}, nil
	}
	if err := v.ensureIndex(ctx, snap); err != nil {
		return nil, err
	}
	vec, err := v.embedder.Embed(ctx, text)
	if err != nil {
		return nil, errors.New(errors.CodeInternal, "embed intent", err)
	}
	hits, err := v.store.Search(ctx, v.collection, vec, v.limit, float32(v.minScore))
	if err != nil {
		return nil, errors.New(errors.CodeInternal, "search capability index", err)
	}

	matches := make([]Match, 0, len(hits))
	seen := make(map[string]struct{}, len(hits))
	for _, h := range hits {
		id, _ := h.Payload[PayloadCapabilityID].(string)
		if id == "" {
			continue
		}
		// The index may still hold capabilities removed since it was built.
		if _, ok := snap.Lookup(id); !ok {
			continue
		}
		if _, dup := seen[id]; dup {
			continue
		}
		seen[id] = struct{}{}
		rho := clampUnit(float64(h.Score))
		if rho < v.minScore {
			continue
		}
		matches = append(matches, Match{CapabilityID: id, Rho: rho})
	}
	Rank(matches)
	return matches, nil
}

func (v *VectorInterpreter) ensureIndex(ctx context.Context, snap *capability.Snapshot) error {
	v.mu.Lock()
	defer v.mu.Unlock()
	if v.ready && v.indexed == snap.CatalogVersion() {
		return nil
	}

	caps := snap.Capabilities()
	points := make([]Point, 0, len(caps))
	for _, c := range caps {
		vec, err := v.embedder.Embed(ctx, IndexText(c))
		if err != nil {
			return errors.New(errors.CodeInternal, fmt.Sprintf("embed capability %s", c.ID), err)
		}
		points = append(points, Point{
			ID:      PointID(c.ID),
			Vector:  vec,
			Payload: map[string]any{PayloadCapabilityID: c.ID},
		})
	}
	if len(points) > 0 {
		if err := v.store.CreateCollection(ctx, v.collection, uint64(len(points[0].Vector))); err != nil {
			return errors.New(errors.CodeInternal, "create capability collection", err)
		}
		if err := v.store.Upsert(ctx, v.collection, points); err != nil {
			return errors.New(errors.CodeInternal, "index capabilities", err)
		}
	}
	v.indexed = snap.CatalogVersion()
	v.ready = true
	v.logger.Info("capability index rebuilt",
		slog.Int("capabilities", len(points)),
		slog.Uint64("version", snap.CatalogVersion()),
		slog.String("collection", v.collection),
	)
	return nil
}

// IndexText is the text embedded for a capability.
func IndexText(c capability.Capability) string {
	parts := []string{c.Name(), c.Description}
	for _, kw := range c.Keywords {
		parts = append(parts, strings.ReplaceAll(kw, "|", " "))
	}
	return strings.Join(parts, ". ")
}
