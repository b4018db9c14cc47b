// Copyright 2026 © The SINP Authors
// SPDX-License-Identifier: Apache-2.0

package server

import (
	"context"
	"log/slog"
	"net"
	"time"

	"google.golang.org/grpc"
	grpchealth "google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	"github.com/jllopis/sinp/pkg/health"
)

// DefaultHealthInterval is how often component checks are refreshed.
const DefaultHealthInterval = 10 * time.Second

// ServiceName is the gRPC health service name of the negotiation server.
const ServiceName = "sinp.Negotiation"

// Admin serves the gRPC health protocol. The overall status is published
// under "" and ServiceName, and each component under "sinp.<component>".
type Admin struct {
	grpc     *grpc.Server
	health   *grpchealth.Server
	provider *health.Provider
	interval time.Duration
	logger   *slog.Logger
}

// NewAdmin builds an admin server over provider.
func NewAdmin(provider *health.Provider, interval time.Duration, logger *slog.Logger) *Admin {
	if interval <= 0 {
		interval = DefaultHealthInterval
	}
	if logger == nil {
		logger = slog.Default()
	}
	hs := grpchealth.NewServer()
	gs := grpc.NewServer()
	healthpb.RegisterHealthServer(gs, hs)
	a := &Admin{grpc: gs, health: hs, provider: provider, interval: interval, logger: logger}
	a.set("", healthpb.HealthCheckResponse_NOT_SERVING)
	a.set(ServiceName, healthpb.HealthCheckResponse_NOT_SERVING)
	return a
}

// Refresh runs the component checks and publishes their status.
func (a *Admin) Refresh(ctx context.Context) health.Status {
	results, overall := a.provider.CheckAll(ctx)
	for _, r := range results {
		a.set("sinp."+r.Component, servingStatus(r.Status))
		if r.Status != health.Healthy {
			attrs := []any{slog.String("component", r.Component), slog.String("status", string(r.Status)), slog.String("message", r.Message)}
			if r.Error != nil {
				attrs = append(attrs, slog.String("error", r.Error.Error()))
			}
			a.logger.WarnContext(ctx, "component not healthy", attrs...)
		}
	}
	a.set("", servingStatus(overall))
	a.set(ServiceName, servingStatus(overall))
	return overall
}

// Serve refreshes health periodically and serves gRPC on ln until ctx is
// done.
func (a *Admin) Serve(ctx context.Context, ln net.Listener) error {
	a.Refresh(ctx)
	errCh := make(chan error, 1)
	go func() { errCh <- a.grpc.Serve(ln) }()

	ticker := time.NewTicker(a.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			a.health.Shutdown()
			a.grpc.Stop()
			<-errCh
			return nil
		case err := <-errCh:
			return err
		case <-ticker.C:
			a.Refresh(ctx)
		}
	}
}

func (a *Admin) set(service string, status healthpb.HealthCheckResponse_ServingStatus) {
	a.health.SetServingStatus(service, status)
}

// servingStatus maps a component status onto the gRPC health protocol.
// Degraded still serves.
func servingStatus(s health.Status) healthpb.HealthCheckResponse_ServingStatus {
	switch s {
	case health.Healthy, health.Degraded:
		return healthpb.HealthCheckResponse_SERVING
	default:
		return healthpb.HealthCheckResponse_NOT_SERVING
	}
}
