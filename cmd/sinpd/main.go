// Copyright 2026 © The SINP Authors
// SPDX-License-Identifier: Apache-2.0

// Command sinpd runs a SINP negotiation server.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/jllopis/sinp/pkg/config"
	"github.com/jllopis/sinp/pkg/telemetry"
)

var version = "dev"

type overrideFlags []string

func (o *overrideFlags) String() string     { return strings.Join(*o, ",") }
func (o *overrideFlags) Set(v string) error { *o = append(*o, v); return nil }

func main() {
	var (
		configPath string
		profile    string
		addr       string
		logLevel   string
		sets       overrideFlags
		showVer    bool
	)
	flag.StringVar(&configPath, "config", "", "path to the YAML configuration file")
	flag.StringVar(&profile, "profile", "", "configuration profile overlay (config.<profile>.yaml)")
	flag.StringVar(&addr, "addr", "", "listen address, overrides server.addr")
	flag.StringVar(&logLevel, "log-level", "", "log level (debug, info, warn, error), overrides log.level")
	flag.Var(&sets, "set", "configuration override key=value (repeatable)")
	flag.BoolVar(&showVer, "version", false, "print version and exit")
	flag.Parse()

	if showVer {
		fmt.Println("sinpd", version)
		return
	}

	overrides := append([]string(nil), sets...)
	if addr != "" {
		overrides = append(overrides, "server.addr="+addr)
	}
	if logLevel != "" {
		overrides = append(overrides, "log.level="+logLevel)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, configPath, profile, overrides); err != nil {
		fmt.Fprintf(os.Stderr, "sinpd: %v\n", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, configPath, profile string, overrides []string) error {
	cfg, err := config.LoadWithOverrides(configPath, profile, overrides)
	if err != nil {
		return err
	}
	logger := telemetry.ConfigureSlog(os.Stderr, cfg.Log.Level, cfg.Log.Format)

	var watcher *config.Watcher
	if configPath != "" {
		watcher, err = config.NewWatcher(configPath, profile,
			config.WithWatchOverrides(overrides),
			config.WithWatchLogger(logger),
		)
		if err != nil {
			return err
		}
	}

	shutdown, err := telemetry.InitWithConfig(telemetry.Config{
		Exporter:       cfg.Telemetry.Exporter,
		OTLPEndpoint:   cfg.Telemetry.OTLPEndpoint,
		OTLPInsecure:   cfg.Telemetry.OTLPInsecure,
		ServiceName:    cfg.Telemetry.ServiceName,
		ServiceVersion: serviceVersion(cfg),
	})
	if err != nil {
		return err
	}
	defer func() {
		sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdown(sctx); err != nil {
			logger.Warn("telemetry shutdown failed", slog.String("error", err.Error()))
		}
	}()

	d, err := build(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer d.Close()

	if watcher != nil {
		watcher.OnChange(func(next *config.Config) {
			d.Reload(next)
		})
		if err := watcher.Start(ctx); err != nil {
			return err
		}
		defer watcher.Stop()
	}

	logger.Info("sinpd starting",
		slog.String("version", version),
		slog.String("addr", cfg.Server.Addr),
		slog.Int("capabilities", d.registry.Snapshot().Len()),
	)
	return d.server.Run(ctx)
}

func serviceVersion(cfg *config.Config) string {
	if cfg.Telemetry.ServiceVersion != "" {
		return cfg.Telemetry.ServiceVersion
	}
	return version
}
