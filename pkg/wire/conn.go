// Copyright 2026 © The SINP Authors
// SPDX-License-Identifier: Apache-2.0

package wire

import (
	"net"
	"sync"
	"time"
)

// Limits constrains frame size and per-frame I/O deadlines.
type Limits struct {
	MaxMessageBytes int
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
}

// DefaultLimits returns the protocol defaults: 1 MiB bodies, 30s deadlines.
func DefaultLimits() Limits {
	return Limits{
		MaxMessageBytes: DefaultMaxMessageBytes,
		ReadTimeout:     30 * time.Second,
		WriteTimeout:    30 * time.Second,
	}
}

// Conn frames messages over a net.Conn, applying deadlines to every frame.
// Reads and writes may run from different goroutines.
type Conn struct {
	conn   net.Conn
	limits Limits
	wmu    sync.Mutex
}

// NewConn wraps c with the given limits.
func NewConn(c net.Conn, limits Limits) *Conn {
	if limits.MaxMessageBytes <= 0 {
		limits.MaxMessageBytes = DefaultMaxMessageBytes
	}
	return &Conn{conn: c, limits: limits}
}

// Read returns the next message body.
func (c *Conn) Read() ([]byte, error) {
	if c.limits.ReadTimeout > 0 {
		if err := c.conn.SetReadDeadline(time.Now().Add(c.limits.ReadTimeout)); err != nil {
			return nil, err
		}
	}
	return ReadFrame(c.conn, c.limits.MaxMessageBytes)
}

// Write sends one message body.
func (c *Conn) Write(body []byte) error {
	c.wmu.Lock()
	defer c.wmu.Unlock()
	if c.limits.WriteTimeout > 0 {
		if err := c.conn.SetWriteDeadline(time.Now().Add(c.limits.WriteTimeout)); err != nil {
			return err
		}
	}
	return WriteFrame(c.conn, body, c.limits.MaxMessageBytes)
}

// RemoteAddr returns the peer address.
func (c *Conn) RemoteAddr() net.Addr {
	return c.conn.RemoteAddr()
}

// Close closes the underlying connection.
func (c *Conn) Close() error {
	return c.conn.Close()
}
