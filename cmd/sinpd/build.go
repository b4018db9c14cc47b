// Copyright 2026 © The SINP Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"

	"github.com/jllopis/sinp/pkg/audit"
	"github.com/jllopis/sinp/pkg/capability"
	"github.com/jllopis/sinp/pkg/confidence"
	"github.com/jllopis/sinp/pkg/config"
	"github.com/jllopis/sinp/pkg/errors"
	"github.com/jllopis/sinp/pkg/governance"
	"github.com/jllopis/sinp/pkg/health"
	"github.com/jllopis/sinp/pkg/interpreter"
	"github.com/jllopis/sinp/pkg/interpreter/ollama"
	"github.com/jllopis/sinp/pkg/interpreter/qdrant"
	"github.com/jllopis/sinp/pkg/mcp"
	"github.com/jllopis/sinp/pkg/negotiation"
	"github.com/jllopis/sinp/pkg/resilience"
	"github.com/jllopis/sinp/pkg/security"
	"github.com/jllopis/sinp/pkg/server"
	"github.com/jllopis/sinp/pkg/telemetry"
)

// pingTimeout bounds each dependency health probe.
const pingTimeout = 2 * time.Second

// daemon holds the wired components of one sinpd process.
type daemon struct {
	registry     *capability.Registry
	availability *capability.Availability
	governance   *governance.Evaluator
	engine       *negotiation.Engine
	manager      *negotiation.Manager
	server       *server.Server
	bridges      *mcp.Bridges
	health       *health.Provider
	logger       *slog.Logger
	closers      []func() error
}

func build(ctx context.Context, cfg *config.Config, logger *slog.Logger) (_ *daemon, err error) {
	d := &daemon{logger: logger, health: health.NewProvider(0)}
	defer func() {
		if err != nil {
			d.Close()
		}
	}()

	metrics, err := telemetry.NewMetrics(otel.GetMeterProvider())
	if err != nil {
		return nil, err
	}

	d.registry, d.availability, err = buildRegistry(cfg.Capabilities, logger)
	if err != nil {
		return nil, err
	}
	d.health.Register("registry", health.Registry(d.registry))
	d.health.Register("breakers", health.Breakers(d.registry, d.availability))

	if len(cfg.MCP.Servers) > 0 {
		d.bridges = mcp.LoadBridges(ctx, cfg.MCP, d.registry, d.availability, logger, nil)
		d.closers = append(d.closers, d.bridges.Close)
		logger.Info("mcp servers connected",
			slog.Int("connected", d.bridges.Len()),
			slog.Int("configured", len(cfg.MCP.Servers)),
		)
	}

	verifier, err := buildVerifier(cfg.Security)
	if err != nil {
		return nil, err
	}
	replay, err := d.buildReplay(ctx, cfg.Security)
	if err != nil {
		return nil, err
	}
	store, err := d.buildAudit(cfg.Audit)
	if err != nil {
		return nil, err
	}
	interp, err := d.buildInterpreter(cfg.Interpreter, cfg.Security.Cache)
	if err != nil {
		return nil, err
	}
	d.governance = governance.NewEvaluatorFromConfig(cfg.Governance, logger)

	d.engine, err = negotiation.NewEngine(d.registry,
		negotiation.WithInterpreter(interp),
		negotiation.WithPolicy(policyFromConfig(cfg.Negotiation)),
		negotiation.WithReplayGuard(replay),
		negotiation.WithVerifier(verifier),
		negotiation.WithGovernance(d.governance),
		negotiation.WithAvailability(d.availability),
		negotiation.WithAudit(store),
		negotiation.WithMetrics(metrics),
		negotiation.WithLogger(logger),
		negotiation.WithHandlerTimeout(cfg.Negotiation.HandlerTimeout),
		negotiation.WithMaxRounds(cfg.Negotiation.MaxRounds),
	)
	if err != nil {
		return nil, err
	}
	d.manager = negotiation.NewManager(d.engine,
		negotiation.WithIdleTimeout(cfg.Negotiation.IdleTimeout),
		negotiation.WithExpiredSessions(cfg.Negotiation.ExpiredSessions, 2*cfg.Negotiation.IdleTimeout),
		negotiation.WithManagerLogger(logger),
	)

	opts, err := server.OptionsFromConfig(cfg.Server)
	if err != nil {
		return nil, err
	}
	d.server = server.New(d.manager, opts, server.WithLogger(logger), server.WithHealth(d.health))
	return d, nil
}

// Reload applies the settings that can change without a restart: decision
// thresholds and governance rules.
func (d *daemon) Reload(cfg *config.Config) {
	if err := d.engine.SetPolicy(policyFromConfig(cfg.Negotiation)); err != nil {
		d.logger.Error("decision policy rejected, keeping previous", slog.String("error", err.Error()))
	}
	d.governance.SetEngine(governance.RuleSetFromConfig(cfg.Governance))
	d.logger.Info("governance rules updated", slog.Int("rules", len(cfg.Governance.Policies)))
}

// Close releases every dependency in reverse order of acquisition.
func (d *daemon) Close() {
	for i := len(d.closers) - 1; i >= 0; i-- {
		if err := d.closers[i](); err != nil {
			d.logger.Warn("close failed", slog.String("error", err.Error()))
		}
	}
	d.closers = nil
}

func policyFromConfig(cfg config.NegotiationConfig) confidence.Policy {
	return confidence.Policy{
		Thresholds: confidence.Thresholds{
			Exec:    cfg.TauExec,
			Clarify: cfg.TauClarify,
			Accept:  cfg.TauAccept,
		},
		ProposeFloor: cfg.ProposeFloor,
		ProposeTopN:  cfg.ProposeTopN,
	}
}

func buildRegistry(cfg config.CapabilitiesConfig, logger *slog.Logger) (*capability.Registry, *capability.Availability, error) {
	r := capability.NewRegistry(
		capability.WithLearningRate(cfg.LearningRate),
		capability.WithLogger(logger),
	)
	if len(cfg.Builtins) > 0 {
		if err := capability.RegisterBuiltins(r, cfg.Builtins...); err != nil {
			return nil, nil, errors.New(errors.CodeInvalidConfig, "register builtins", err)
		}
	}
	if cfg.Manifest != "" {
		m, err := capability.LoadManifest(cfg.Manifest)
		if err != nil {
			return nil, nil, err
		}
		if err := m.Register(r, capability.BuiltinHandlers(r)); err != nil {
			return nil, nil, err
		}
	}
	a := capability.NewAvailability(resilience.CircuitBreakerConfig{
		FailureThreshold: cfg.Breaker.FailureThreshold,
		SuccessThreshold: cfg.Breaker.SuccessThreshold,
		Timeout:          cfg.Breaker.OpenTimeout,
	})
	return r, a, nil
}

func buildVerifier(cfg config.SecurityConfig) (*security.Verifier, error) {
	if cfg.Keyring == "" {
		if cfg.RequireSignature {
			return nil, errors.New(errors.CodeInvalidConfig, "security.require_signature needs security.keyring", nil)
		}
		return security.NewVerifier(nil, false), nil
	}
	keys, err := security.LoadKeyring(cfg.Keyring)
	if err != nil {
		return nil, err
	}
	return security.NewVerifier(keys, cfg.RequireSignature), nil
}

func (d *daemon) buildReplay(ctx context.Context, cfg config.SecurityConfig) (*security.ReplayGuard, error) {
	opts := []security.ReplayOption{
		security.WithWindow(cfg.ReplayWindow),
		security.WithClockSkew(cfg.ClockSkew),
	}
	switch strings.ToLower(cfg.ReplayBackend) {
	case "redis":
		store, err := security.DialRedisReplayStore(ctx, cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB, cfg.Redis.Prefix)
		if err != nil {
			return nil, err
		}
		d.closers = append(d.closers, store.Close)
		d.health.Register("replay", health.Ping(pingTimeout, store.Ping))
		return security.NewReplayGuard(store, opts...), nil
	default:
		return security.NewReplayGuard(security.NewMemoryReplayStore(cfg.ReplayCapacity), opts...), nil
	}
}

func (d *daemon) buildAudit(cfg config.AuditConfig) (audit.Store, error) {
	switch strings.ToLower(cfg.Driver) {
	case "sqlite":
		store, err := audit.OpenSQLite(cfg.DSN)
		if err != nil {
			return nil, err
		}
		d.closers = append(d.closers, store.Close)
		d.health.Register("audit", health.Ping(pingTimeout, store.Ping))
		return store, nil
	case "memory":
		return audit.NewMemoryStore(10_000), nil
	default:
		return audit.Nop{}, nil
	}
}

func (d *daemon) buildInterpreter(cfg config.InterpreterConfig, cache config.CacheConfig) (interpreter.Interpreter, error) {
	keyword := interpreter.NewKeywordInterpreter()
	keyword.MinScore = cfg.MinScore
	if cfg.Weight > 0 {
		keyword.Weight = cfg.Weight
	}
	if err := keyword.Validate(); err != nil {
		return nil, err
	}

	var interp interpreter.Interpreter = keyword
	if strings.ToLower(cfg.Kind) == "vector" {
		var store interpreter.VectorStore
		if cfg.Qdrant.Addr != "" {
			qs, err := qdrant.New(cfg.Qdrant.Addr, grpc.WithTransportCredentials(insecure.NewCredentials()))
			if err != nil {
				return nil, err
			}
			d.closers = append(d.closers, qs.Close)
			store = qs
		} else {
			store = interpreter.NewMemoryStore()
		}
		embedder := ollama.NewEmbedder(cfg.Ollama.BaseURL, cfg.Ollama.Model)
		vector := interpreter.NewVectorInterpreter(embedder, store,
			interpreter.WithCollection(cfg.Qdrant.Collection),
			interpreter.WithMinScore(cfg.MinScore),
			interpreter.WithVectorLogger(d.logger),
		)
		interp = vector
		if cfg.Fallback {
			interp = &interpreter.Fallback{Primary: vector, Secondary: keyword, Logger: d.logger}
		}
	}

	if cache.Enabled {
		interp = interpreter.NewCached(interp, security.NewSemanticCache[[]interpreter.Match](cache.Size, cache.TTL))
	}
	return interp, nil
}
