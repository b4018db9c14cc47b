// Copyright 2026 © The SINP Authors
// SPDX-License-Identifier: Apache-2.0

// Package server accepts SINP connections: one goroutine per connection
// reading length-prefixed frames and answering each through the session
// manager.
package server

import (
	"context"
	"crypto/tls"
	stderrors "errors"
	"io"
	"log/slog"
	"net"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/jllopis/sinp/pkg/config"
	"github.com/jllopis/sinp/pkg/errors"
	"github.com/jllopis/sinp/pkg/health"
	"github.com/jllopis/sinp/pkg/message"
	"github.com/jllopis/sinp/pkg/negotiation"
	"github.com/jllopis/sinp/pkg/wire"
)

// Reject modes for requests refused before interpretation.
const (
	RejectRespond = "respond"
	RejectDrop    = "drop"
)

// Options configures a Server.
type Options struct {
	// Addr is the negotiation listen address.
	Addr string
	// AdminAddr serves gRPC health when set.
	AdminAddr string
	// TLS enables TLS on the negotiation listener.
	TLS *tls.Config
	// Limits bound frame size and per-frame deadlines.
	Limits wire.Limits
	// MaxConnections caps concurrent connections. Zero is unlimited.
	MaxConnections int
	// RejectMode is RejectRespond or RejectDrop.
	RejectMode string
	// RateLimit is messages per second per peer IP, zero disables it.
	RateLimit float64
	Burst     int
	// SweepInterval is how often idle sessions are collected.
	SweepInterval time.Duration
	// HealthInterval is how often admin health is refreshed.
	HealthInterval time.Duration
}

// OptionsFromConfig maps the server section of the configuration.
func OptionsFromConfig(cfg config.ServerConfig) (Options, error) {
	opts := Options{
		Addr:      cfg.Addr,
		AdminAddr: cfg.AdminAddr,
		Limits: wire.Limits{
			MaxMessageBytes: cfg.MaxMessageBytes,
			ReadTimeout:     cfg.ReadTimeout,
			WriteTimeout:    cfg.WriteTimeout,
		},
		MaxConnections: cfg.MaxConnections,
		RejectMode:     cfg.RejectMode,
		RateLimit:      cfg.RateLimit.RequestsPerSecond,
		Burst:          cfg.RateLimit.Burst,
	}
	if cfg.TLS.Enabled {
		cert, err := tls.LoadX509KeyPair(cfg.TLS.CertFile, cfg.TLS.KeyFile)
		if err != nil {
			return Options{}, errors.New(errors.CodeInvalidConfig, "load TLS key pair", err)
		}
		opts.TLS = &tls.Config{Certificates: []tls.Certificate{cert}, MinVersion: tls.VersionTLS12}
	}
	return opts, nil
}

// Server is the SINP listener.
type Server struct {
	opts    Options
	manager *negotiation.Manager
	limiter *RateLimiter
	health  *health.Provider
	logger  *slog.Logger

	sem chan struct{}

	mu    sync.Mutex
	conns map[net.Conn]struct{}
	wg    sync.WaitGroup
}

// Option configures a Server.
type Option func(*Server)

func WithLogger(logger *slog.Logger) Option {
	return func(s *Server) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// WithHealth sets the provider backing the admin health service.
func WithHealth(p *health.Provider) Option {
	return func(s *Server) {
		if p != nil {
			s.health = p
		}
	}
}

// New creates a server answering through manager.
func New(manager *negotiation.Manager, opts Options, options ...Option) *Server {
	if opts.RejectMode == "" {
		opts.RejectMode = RejectRespond
	}
	s := &Server{
		opts:    opts,
		manager: manager,
		limiter: NewRateLimiter(opts.RateLimit, opts.Burst),
		logger:  slog.Default(),
		conns:   make(map[net.Conn]struct{}),
	}
	for _, o := range options {
		o(s)
	}
	if s.health == nil {
		s.health = health.NewProvider(0)
		s.health.Register("registry", health.Registry(manager.Engine().Registry()))
	}
	if opts.MaxConnections > 0 {
		s.sem = make(chan struct{}, opts.MaxConnections)
	}
	return s
}

// Health returns the health provider.
func (s *Server) Health() *health.Provider { return s.health }

// Run listens on the configured addresses and serves until ctx is done.
func (s *Server) Run(ctx context.Context) error {
	var lc net.ListenConfig
	ln, err := lc.Listen(ctx, "tcp", s.opts.Addr)
	if err != nil {
		return err
	}
	var admin net.Listener
	if s.opts.AdminAddr != "" {
		admin, err = lc.Listen(ctx, "tcp", s.opts.AdminAddr)
		if err != nil {
			_ = ln.Close()
			return err
		}
	}
	return s.Serve(ctx, ln, admin)
}

// Serve accepts connections on ln, and serves admin health on adminLn when
// it is not nil, until ctx is done. Open connections are closed on return.
func (s *Server) Serve(ctx context.Context, ln, adminLn net.Listener) error {
	if s.opts.TLS != nil {
		ln = tls.NewListener(ln, s.opts.TLS)
	}
	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		<-ctx.Done()
		_ = ln.Close()
		s.closeConns()
		return nil
	})
	g.Go(func() error {
		return s.acceptLoop(ctx, ln)
	})
	g.Go(func() error {
		s.manager.Run(ctx, s.opts.SweepInterval)
		return nil
	})
	if adminLn != nil {
		admin := NewAdmin(s.health, s.opts.HealthInterval, s.logger)
		g.Go(func() error {
			return admin.Serve(ctx, adminLn)
		})
		s.logger.Info("admin health listening", slog.String("addr", adminLn.Addr().String()))
	}
	s.logger.Info("sinp server listening", slog.String("addr", ln.Addr().String()), slog.Bool("tls", s.opts.TLS != nil))

	err := g.Wait()
	s.wg.Wait()
	s.logger.Info("sinp server stopped")
	return err
}

func (s *Server) acceptLoop(ctx context.Context, ln net.Listener) error {
	for {
		conn, err := ln.Accept()
		if err != nil {
			if ctx.Err() != nil || stderrors.Is(err, net.ErrClosed) {
				return nil
			}
			return err
		}
		if s.sem != nil {
			select {
			case s.sem <- struct{}{}:
			default:
				s.logger.Warn("connection limit reached", slog.String("remote", conn.RemoteAddr().String()))
				_ = conn.Close()
				continue
			}
		}
		if !s.track(conn) {
			_ = conn.Close()
			s.release()
			continue
		}
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			defer s.release()
			defer s.untrack(conn)
			s.serveConn(ctx, conn)
		}()
	}
}

// serveConn answers frames in order until the peer leaves, a framing
// error occurs or the server stops.
func (s *Server) serveConn(ctx context.Context, nc net.Conn) {
	conn := wire.NewConn(nc, s.opts.Limits)
	defer conn.Close()
	remote := nc.RemoteAddr().String()
	logger := s.logger.With(slog.String("remote", remote))
	logger.Debug("connection opened")
	engine := s.manager.Engine()

	for {
		raw, err := conn.Read()
		if err != nil {
			switch {
			case stderrors.Is(err, io.EOF), stderrors.Is(err, net.ErrClosed), ctx.Err() != nil:
				logger.Debug("connection closed")
			default:
				logger.Warn("connection dropped", slog.String("error", err.Error()))
			}
			return
		}

		var resp *message.Response
		if !s.limiter.Allow(nc.RemoteAddr()) {
			resp = s.reject(ctx, logger, nil, errors.New(errors.CodeRateLimit, "rate limit exceeded", nil))
		} else if req, aerr := engine.Admit(ctx, raw); aerr != nil {
			resp = s.reject(ctx, logger, req, aerr)
		} else {
			var herr error
			resp, herr = s.manager.Handle(ctx, req)
			if herr != nil {
				logger.Error("session aborted", slog.String("session_id", req.SessionID), slog.String("error", herr.Error()))
			}
		}
		if resp == nil {
			continue
		}

		body, err := message.Encode(resp)
		if err != nil {
			logger.Error("encode response", slog.String("error", err.Error()))
			return
		}
		if err := conn.Write(body); err != nil {
			logger.Warn("write response", slog.String("error", err.Error()))
			return
		}
	}
}

// reject answers or drops a request refused before interpretation.
func (s *Server) reject(ctx context.Context, logger *slog.Logger, req *message.Request, err error) *message.Response {
	resp := s.manager.Engine().Reject(ctx, req, err)
	if s.opts.RejectMode == RejectDrop {
		logger.Debug("rejected frame dropped", slog.String("reason", resp.Metadata.Reason))
		return nil
	}
	return resp
}

func (s *Server) track(c net.Conn) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.conns == nil {
		return false
	}
	s.conns[c] = struct{}{}
	return true
}

func (s *Server) untrack(c net.Conn) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.conns, c)
}

func (s *Server) closeConns() {
	s.mu.Lock()
	conns := s.conns
	s.conns = nil
	s.mu.Unlock()
	for c := range conns {
		_ = c.Close()
	}
}

func (s *Server) release() {
	if s.sem != nil {
		<-s.sem
	}
}

// Connections returns the number of open connections.
func (s *Server) Connections() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.conns)
}
