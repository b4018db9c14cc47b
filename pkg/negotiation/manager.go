// Copyright 2026 © The SINP Authors
// SPDX-License-Identifier: Apache-2.0

package negotiation

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/hashicorp/golang-lru/v2/expirable"

	"github.com/jllopis/sinp/pkg/errors"
	"github.com/jllopis/sinp/pkg/message"
)

const (
	// DefaultIdleTimeout closes sessions without traffic.
	DefaultIdleTimeout = 5 * time.Minute
	// DefaultExpiredSessions bounds how many closed session ids are
	// remembered.
	DefaultExpiredSessions = 4096
)

// Manager owns the live sessions of a server. Rounds of one session run
// one at a time; different sessions run in parallel.
type Manager struct {
	engine *Engine

	mu       sync.Mutex
	sessions map[string]*Coordinator
	expired  *expirable.LRU[string, struct{}]

	idle   time.Duration
	now    func() time.Time
	logger *slog.Logger
}

// ManagerOption configures a Manager.
type ManagerOption func(*managerOptions)

type managerOptions struct {
	idle        time.Duration
	expiredSize int
	expiredTTL  time.Duration
	now         func() time.Time
	logger      *slog.Logger
}

// WithIdleTimeout closes sessions idle longer than d. Zero keeps them until
// they reach a terminal state.
func WithIdleTimeout(d time.Duration) ManagerOption {
	return func(o *managerOptions) {
		o.idle = d
	}
}

// WithExpiredSessions sizes the memory of closed session ids. Continuing
// one of them is refused with session_expired.
func WithExpiredSessions(size int, ttl time.Duration) ManagerOption {
	return func(o *managerOptions) {
		if size > 0 {
			o.expiredSize = size
		}
		o.expiredTTL = ttl
	}
}

// WithClock overrides the clock used for idle accounting.
func WithClock(now func() time.Time) ManagerOption {
	return func(o *managerOptions) {
		if now != nil {
			o.now = now
		}
	}
}

func WithManagerLogger(logger *slog.Logger) ManagerOption {
	return func(o *managerOptions) {
		if logger != nil {
			o.logger = logger
		}
	}
}

// NewManager creates a session manager over engine.
func NewManager(engine *Engine, opts ...ManagerOption) *Manager {
	o := managerOptions{
		idle:        DefaultIdleTimeout,
		expiredSize: DefaultExpiredSessions,
		now:         time.Now,
		logger:      engine.logger,
	}
	for _, opt := range opts {
		opt(&o)
	}
	ttl := o.expiredTTL
	if ttl <= 0 {
		ttl = 2 * o.idle
	}
	return &Manager{
		engine:   engine,
		sessions: make(map[string]*Coordinator),
		expired:  expirable.NewLRU[string, struct{}](o.expiredSize, nil, ttl),
		idle:     o.idle,
		now:      o.now,
		logger:   o.logger,
	}
}

// Engine returns the shared engine.
func (m *Manager) Engine() *Engine { return m.engine }

// HandleFrame admits a raw message body and runs its round. The response
// is never nil. A non-nil error means the session was aborted.
func (m *Manager) HandleFrame(ctx context.Context, raw []byte) (*message.Response, error) {
	req, err := m.engine.Admit(ctx, raw)
	if err != nil {
		return m.engine.Reject(ctx, req, err), nil
	}
	return m.Handle(ctx, req)
}

// Handle runs one round for an admitted request. An empty session id opens
// a new session with a generated id.
func (m *Manager) Handle(ctx context.Context, req *message.Request) (*message.Response, error) {
	if req.SessionID == "" {
		req.SessionID = uuid.NewString()
	}
	c, err := m.acquire(ctx, req.SessionID)
	if err != nil {
		return m.engine.Reject(ctx, req, err), nil
	}

	resp, err := c.Handle(ctx, req)
	if c.Closed() {
		m.release(ctx, req.SessionID, c)
	}
	return resp, err
}

// acquire returns the coordinator of id, opening it when unknown.
func (m *Manager) acquire(ctx context.Context, id string) (*Coordinator, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if c, ok := m.sessions[id]; ok {
		return c, nil
	}
	if _, gone := m.expired.Get(id); gone {
		return nil, errors.Newf(errors.CodeSessionExpired, "session %s has ended", id)
	}
	c := newCoordinator(m.engine, id, m.now)
	m.sessions[id] = c
	m.engine.metrics.SessionOpened(ctx)
	m.logger.DebugContext(ctx, "session opened", slog.String("session_id", id))
	return c, nil
}

// release drops a closed session and remembers its id.
func (m *Manager) release(ctx context.Context, id string, c *Coordinator) {
	m.mu.Lock()
	cur, ok := m.sessions[id]
	if ok && cur == c {
		delete(m.sessions, id)
		m.expired.Add(id, struct{}{})
	}
	m.mu.Unlock()
	if !ok || cur != c {
		return
	}
	info := c.Info()
	m.engine.metrics.SessionClosed(ctx, string(info.ClientState), info.Rounds)
	m.logger.DebugContext(ctx, "session closed",
		slog.String("session_id", id),
		slog.String("client_state", string(info.ClientState)),
		slog.Int("rounds", info.Rounds),
	)
}

// Sweep closes sessions idle longer than the idle timeout and returns how
// many were closed. Sessions with a round in flight are skipped.
func (m *Manager) Sweep(ctx context.Context) int {
	if m.idle <= 0 {
		return 0
	}
	now := m.now()
	m.mu.Lock()
	var stale []string
	for id, c := range m.sessions {
		if c.expire(now, m.idle) {
			stale = append(stale, id)
		}
	}
	closed := make([]*Coordinator, 0, len(stale))
	for _, id := range stale {
		closed = append(closed, m.sessions[id])
		delete(m.sessions, id)
		m.expired.Add(id, struct{}{})
	}
	m.mu.Unlock()

	for i, c := range closed {
		info := c.Info()
		m.engine.metrics.SessionClosed(ctx, string(info.ClientState), info.Rounds)
		m.logger.InfoContext(ctx, "session expired",
			slog.String("session_id", stale[i]),
			slog.Int("rounds", info.Rounds),
		)
	}
	return len(closed)
}

// Run sweeps idle sessions every interval until ctx is done.
func (m *Manager) Run(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = m.idle / 2
	}
	if interval <= 0 {
		<-ctx.Done()
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.Sweep(ctx)
		}
	}
}

// Len returns the number of live sessions.
func (m *Manager) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.sessions)
}

// Session returns a snapshot of a live session.
func (m *Manager) Session(id string) (SessionInfo, bool) {
	m.mu.Lock()
	c, ok := m.sessions[id]
	m.mu.Unlock()
	if !ok {
		return SessionInfo{}, false
	}
	return c.Info(), true
}

// Sessions returns snapshots of every live session.
func (m *Manager) Sessions() []SessionInfo {
	m.mu.Lock()
	cs := make([]*Coordinator, 0, len(m.sessions))
	for _, c := range m.sessions {
		cs = append(cs, c)
	}
	m.mu.Unlock()
	out := make([]SessionInfo, 0, len(cs))
	for _, c := range cs {
		out = append(out, c.Info())
	}
	return out
}
