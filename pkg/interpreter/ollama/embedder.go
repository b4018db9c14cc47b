// Copyright 2026 © The SINP Authors
// SPDX-License-Identifier: Apache-2.0

// Package ollama embeds intents and capability descriptions with a local
// Ollama server.
package ollama

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/jllopis/sinp/pkg/errors"
	"github.com/jllopis/sinp/pkg/resilience"
)

// DefaultBaseURL is the local Ollama endpoint.
const DefaultBaseURL = "http://localhost:11434"

// Embedder implements interpreter.Embedder with the Ollama embeddings API.
type Embedder struct {
	baseURL string
	model   string
	client  *http.Client
	retry   resilience.RetryConfig
}

// Option configures an Embedder.
type Option func(*Embedder)

// WithHTTPClient replaces the HTTP client.
func WithHTTPClient(c *http.Client) Option {
	return func(e *Embedder) {
		if c != nil {
			e.client = c
		}
	}
}

// WithRetry sets the retry policy for transient failures.
func WithRetry(rc resilience.RetryConfig) Option {
	return func(e *Embedder) {
		e.retry = rc
	}
}

// NewEmbedder returns an embedder for model at baseURL.
func NewEmbedder(baseURL, model string, opts ...Option) *Embedder {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	e := &Embedder{
		baseURL: baseURL,
		model:   model,
		client:  &http.Client{Timeout: 30 * time.Second},
		retry:   resilience.DefaultRetryConfig(),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

type embeddingRequest struct {
	Model  string `json:"model"`
	Prompt string `json:"prompt"`
}

type embeddingResponse struct {
	Embedding []float64 `json:"embedding"`
}

// Embed converts text into a vector. Server errors (5xx) and transport
// failures are retried; client errors are not.
func (e *Embedder) Embed(ctx context.Context, text string) ([]float32, error) {
	body, err := json.Marshal(embeddingRequest{Model: e.model, Prompt: text})
	if err != nil {
		return nil, fmt.Errorf("marshal embedding request: %w", err)
	}
	return resilience.DoValue(ctx, e.retry, func() ([]float32, error) {
		return e.embedOnce(ctx, body)
	})
}

func (e *Embedder) embedOnce(ctx context.Context, body []byte) ([]float32, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, e.baseURL+"/api/embeddings", bytes.NewReader(body))
	if err != nil {
		return nil, errors.New(errors.CodeInvalidConfig, "build embedding request", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := e.client.Do(req)
	if err != nil {
		return nil, errors.New(errors.CodeResourceUnavailable, "ollama embedding call failed", err).WithRecoverable(true)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, errors.Newf(errors.CodeResourceUnavailable, "ollama returned status %d", resp.StatusCode).
			WithContext("model", e.model).
			WithRecoverable(resp.StatusCode >= 500)
	}

	var out embeddingResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, errors.New(errors.CodeMalformedMessage, "decode embedding response", err)
	}
	if len(out.Embedding) == 0 {
		return nil, errors.New(errors.CodeMalformedMessage, "empty embedding", nil).WithContext("model", e.model)
	}
	vec := make([]float32, len(out.Embedding))
	for i, v := range out.Embedding {
		vec[i] = float32(v)
	}
	return vec, nil
}
