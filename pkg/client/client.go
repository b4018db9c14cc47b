// Copyright 2026 © The SINP Authors
// SPDX-License-Identifier: Apache-2.0

// Package client is the SINP client SDK. A Client owns one connection and
// exchanges framed requests with a server; a Session drives one negotiation
// through the client state machine.
package client

import (
	"context"
	"crypto/tls"
	stderrors "errors"
	"log/slog"
	"net"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/jllopis/sinp/pkg/errors"
	"github.com/jllopis/sinp/pkg/message"
	"github.com/jllopis/sinp/pkg/resilience"
	"github.com/jllopis/sinp/pkg/security"
	"github.com/jllopis/sinp/pkg/state"
	"github.com/jllopis/sinp/pkg/wire"
)

// DefaultTimeout bounds one request/response exchange.
const DefaultTimeout = 10 * time.Second

// Option configures a Client.
type Option func(*Client)

// WithTimeout sets the per-exchange timeout.
func WithTimeout(timeout time.Duration) Option {
	return func(c *Client) {
		if timeout > 0 {
			c.timeout = timeout
		}
	}
}

// WithSigner signs every outgoing request.
func WithSigner(s *security.Signer) Option {
	return func(c *Client) {
		c.signer = s
	}
}

// WithTLS dials with TLS using cfg.
func WithTLS(cfg *tls.Config) Option {
	return func(c *Client) {
		c.tls = cfg
	}
}

// WithMaxRounds sets the round cap of new sessions.
func WithMaxRounds(n int) Option {
	return func(c *Client) {
		if n > 0 {
			c.maxRounds = n
		}
	}
}

// WithMaxMessageBytes caps frame bodies in both directions.
func WithMaxMessageBytes(n int) Option {
	return func(c *Client) {
		if n > 0 {
			c.maxBytes = n
		}
	}
}

// WithDialRetry retries failed dials with rc.
func WithDialRetry(rc resilience.RetryConfig) Option {
	return func(c *Client) {
		c.retry = &rc
	}
}

// WithLogger sets the client logger.
func WithLogger(logger *slog.Logger) Option {
	return func(c *Client) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// Client exchanges requests over one connection. Exchanges are serialized.
type Client struct {
	mu   sync.Mutex
	nc   net.Conn
	conn *wire.Conn

	signer    *security.Signer
	tls       *tls.Config
	timeout   time.Duration
	maxRounds int
	maxBytes  int
	retry     *resilience.RetryConfig
	now       func() time.Time
	logger    *slog.Logger
}

func newClient(opts []Option) *Client {
	c := &Client{
		timeout:   DefaultTimeout,
		maxRounds: state.DefaultMaxRounds,
		maxBytes:  wire.DefaultMaxMessageBytes,
		now:       time.Now,
		logger:    slog.Default(),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(c)
		}
	}
	return c
}

// Dial connects to a server at addr.
func Dial(ctx context.Context, addr string, opts ...Option) (*Client, error) {
	c := newClient(opts)
	dial := func() (net.Conn, error) {
		var d net.Dialer
		nc, err := d.DialContext(ctx, "tcp", addr)
		if err != nil {
			return nil, errors.New(errors.CodeResourceUnavailable, "dial failed", err).
				WithContext("addr", addr).
				WithRecoverable(true)
		}
		if c.tls == nil {
			return nc, nil
		}
		tc := tls.Client(nc, c.tls)
		if err := tc.HandshakeContext(ctx); err != nil {
			_ = nc.Close()
			return nil, errors.New(errors.CodeResourceUnavailable, "tls handshake failed", err).
				WithContext("addr", addr)
		}
		return tc, nil
	}

	var (
		nc  net.Conn
		err error
	)
	if c.retry != nil {
		nc, err = resilience.DoValue(ctx, *c.retry, dial)
	} else {
		nc, err = dial()
	}
	if err != nil {
		return nil, err
	}
	c.attach(nc)
	c.logger.Debug("connected", slog.String("addr", addr))
	return c, nil
}

// New wraps an established connection.
func New(nc net.Conn, opts ...Option) *Client {
	c := newClient(opts)
	c.attach(nc)
	return c
}

func (c *Client) attach(nc net.Conn) {
	c.nc = nc
	// Deadlines are driven by the exchange context.
	c.conn = wire.NewConn(nc, wire.Limits{MaxMessageBytes: c.maxBytes})
}

// Close closes the connection.
func (c *Client) Close() error {
	return c.conn.Close()
}

// Exchange sends req and waits for its response. Missing protocol version,
// timestamp and nonce are filled in, and req is signed when a signer is
// configured.
func (c *Client) Exchange(ctx context.Context, req *message.Request) (*message.Response, error) {
	if req.ProtocolVersion == "" {
		req.ProtocolVersion = message.ProtocolVersion
	}
	if req.Timestamp == 0 {
		req.Timestamp = c.now().Unix()
	}
	if req.Nonce == "" {
		req.Nonce = uuid.NewString()
	}
	if err := req.Validate(); err != nil {
		return nil, err
	}
	if c.signer != nil {
		if err := c.signer.Sign(req); err != nil {
			return nil, errors.New(errors.CodeInvalidSignature, "sign request", err)
		}
	}
	body, err := message.Encode(req)
	if err != nil {
		return nil, err
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()
	deadline, _ := ctx.Deadline()
	if err := c.nc.SetDeadline(deadline); err != nil {
		return nil, err
	}
	stop := context.AfterFunc(ctx, func() {
		_ = c.nc.SetDeadline(time.Unix(1, 0))
	})
	defer stop()

	if err := c.conn.Write(body); err != nil {
		return nil, c.ioError(ctx, "write request", err)
	}
	raw, err := c.conn.Read()
	if err != nil {
		return nil, c.ioError(ctx, "read response", err)
	}
	resp, err := message.DecodeResponse(raw)
	if err != nil {
		return nil, err
	}
	if resp.Nonce != "" && resp.Nonce != req.Nonce {
		return nil, errors.New(errors.CodeMalformedMessage, "response answers another request", nil).
			WithContext("nonce", resp.Nonce).
			WithContext("expected", req.Nonce)
	}
	return resp, nil
}

func (c *Client) ioError(ctx context.Context, op string, err error) error {
	if ctx.Err() != nil {
		return errors.New(errors.CodeTimeout, op, ctx.Err())
	}
	var ne net.Error
	if stderrors.As(err, &ne) && ne.Timeout() {
		return errors.New(errors.CodeTimeout, op, err)
	}
	if _, ok := errors.Find(err); ok {
		return err
	}
	return errors.New(errors.CodeResourceUnavailable, op, err)
}

// NewSession starts a negotiation with a fresh session id.
func (c *Client) NewSession() *Session {
	return c.ResumeSession(uuid.NewString())
}

// ResumeSession starts a negotiation under id.
func (c *Client) ResumeSession(id string) *Session {
	return &Session{
		client:  c,
		id:      id,
		machine: state.NewClientMachine(c.maxRounds),
		context: make(map[string]string),
	}
}
