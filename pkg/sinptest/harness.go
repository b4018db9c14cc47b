// Copyright 2026 © The SINP Authors
// SPDX-License-Identifier: Apache-2.0

package sinptest

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/jllopis/sinp/pkg/audit"
	"github.com/jllopis/sinp/pkg/capability"
	"github.com/jllopis/sinp/pkg/client"
	"github.com/jllopis/sinp/pkg/interpreter"
	"github.com/jllopis/sinp/pkg/negotiation"
	"github.com/jllopis/sinp/pkg/server"
	"github.com/jllopis/sinp/pkg/telemetry"
)

// Harness is an in-process SINP server on a loopback port.
type Harness struct {
	Registry *capability.Registry
	Engine   *negotiation.Engine
	Manager  *negotiation.Manager
	Server   *server.Server
	Audit    *audit.MemoryStore
	Addr     string
}

type harnessConfig struct {
	interp      interpreter.Interpreter
	entries     []capability.Entry
	noBuiltins  bool
	engineOpts  []negotiation.Option
	managerOpts []negotiation.ManagerOption
	serverOpts  server.Options
}

// Option configures a Harness.
type Option func(*harnessConfig)

// WithInterpreter replaces the keyword interpreter.
func WithInterpreter(i interpreter.Interpreter) Option {
	return func(c *harnessConfig) { c.interp = i }
}

// WithCapability registers an extra capability.
func WithCapability(desc capability.Capability, h capability.Handler) Option {
	return func(c *harnessConfig) {
		c.entries = append(c.entries, capability.Entry{Capability: desc, Handler: h})
	}
}

// WithoutBuiltins starts with an empty registry.
func WithoutBuiltins() Option {
	return func(c *harnessConfig) { c.noBuiltins = true }
}

// WithEngineOptions passes options to the engine.
func WithEngineOptions(opts ...negotiation.Option) Option {
	return func(c *harnessConfig) { c.engineOpts = append(c.engineOpts, opts...) }
}

// WithManagerOptions passes options to the session manager.
func WithManagerOptions(opts ...negotiation.ManagerOption) Option {
	return func(c *harnessConfig) { c.managerOpts = append(c.managerOpts, opts...) }
}

// WithServerOptions sets the listener options. Addr is ignored.
func WithServerOptions(opts server.Options) Option {
	return func(c *harnessConfig) { c.serverOpts = opts }
}

// Start builds a registry, engine and server and serves until the test
// ends.
func Start(t testing.TB, opts ...Option) *Harness {
	t.Helper()
	cfg := harnessConfig{}
	for _, opt := range opts {
		opt(&cfg)
	}

	logger := telemetry.Discard()
	h := &Harness{
		Registry: capability.NewRegistry(capability.WithLogger(logger)),
		Audit:    audit.NewMemoryStore(0),
	}
	if !cfg.noBuiltins {
		if err := capability.RegisterBuiltins(h.Registry); err != nil {
			t.Fatalf("register builtins: %v", err)
		}
	}
	if len(cfg.entries) > 0 {
		if err := h.Registry.RegisterAll(cfg.entries...); err != nil {
			t.Fatalf("register capabilities: %v", err)
		}
	}

	engineOpts := []negotiation.Option{
		negotiation.WithLogger(logger),
		negotiation.WithAudit(h.Audit),
	}
	if cfg.interp != nil {
		engineOpts = append(engineOpts, negotiation.WithInterpreter(cfg.interp))
	}
	engine, err := negotiation.NewEngine(h.Registry, append(engineOpts, cfg.engineOpts...)...)
	if err != nil {
		t.Fatalf("new engine: %v", err)
	}
	h.Engine = engine
	h.Manager = negotiation.NewManager(engine, append([]negotiation.ManagerOption{negotiation.WithManagerLogger(logger)}, cfg.managerOpts...)...)
	h.Server = server.New(h.Manager, cfg.serverOpts, server.WithLogger(logger))

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	h.Addr = ln.Addr().String()

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- h.Server.Serve(ctx, ln, nil) }()
	t.Cleanup(func() {
		cancel()
		select {
		case err := <-done:
			if err != nil {
				t.Errorf("serve: %v", err)
			}
		case <-time.After(5 * time.Second):
			t.Errorf("server did not stop")
		}
	})
	return h
}

// Dial connects a client that is closed when the test ends.
func (h *Harness) Dial(t testing.TB, opts ...client.Option) *client.Client {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	c, err := client.Dial(ctx, h.Addr, append([]client.Option{client.WithLogger(telemetry.Discard())}, opts...)...)
	if err != nil {
		t.Fatalf("dial %s: %v", h.Addr, err)
	}
	t.Cleanup(func() { _ = c.Close() })
	return c
}

// Session dials and opens a fresh session.
func (h *Harness) Session(t testing.TB, opts ...client.Option) *client.Session {
	t.Helper()
	return h.Dial(t, opts...).NewSession()
}
