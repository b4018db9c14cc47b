package mcp

import (
	"context"
	"errors"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/jllopis/sinp/pkg/capability"
	"github.com/jllopis/sinp/pkg/config"
	"github.com/jllopis/sinp/pkg/governance"
)

const (
	// DefaultReliability is R(c) for remote tools without a configured value.
	DefaultReliability = 0.9
	// DefaultProbeTTL is how long a ping result is reused for availability.
	DefaultProbeTTL = 5 * time.Second
)

// Remote is the part of a client the bridge needs.
type Remote interface {
	ToolCaller
	ListTools(ctx context.Context) ([]mcp.Tool, error)
	Ping(ctx context.Context) error
}

// Bridge registers the tools of one MCP server as capabilities named
// "<server>.<tool>" and keeps their availability tied to the server.
type Bridge struct {
	server       string
	remote       Remote
	registry     *capability.Registry
	availability *capability.Availability
	filter       *governance.ToolFilter
	reliability  float64
	privacy      capability.PrivacyLevel
	probeTTL     time.Duration
	logger       *slog.Logger

	mu         sync.Mutex
	registered map[string]struct{}
	lastPing   time.Time
	lastUp     bool
}

// BridgeOption configures a Bridge.
type BridgeOption func(*Bridge)

// WithToolFilter restricts which tools are exposed.
func WithToolFilter(f *governance.ToolFilter) BridgeOption {
	return func(b *Bridge) {
		b.filter = f
	}
}

// WithReliability sets R(c) for every tool of the server.
func WithReliability(r float64) BridgeOption {
	return func(b *Bridge) {
		if r > 0 && r <= 1 {
			b.reliability = r
		}
	}
}

// WithPrivacyLevel sets the privacy level of every tool of the server.
func WithPrivacyLevel(p capability.PrivacyLevel) BridgeOption {
	return func(b *Bridge) {
		b.privacy = p
	}
}

// WithAvailability installs a ping probe per tool in a.
func WithAvailability(a *capability.Availability) BridgeOption {
	return func(b *Bridge) {
		b.availability = a
	}
}

// WithProbeTTL sets how long a ping result is reused.
func WithProbeTTL(d time.Duration) BridgeOption {
	return func(b *Bridge) {
		b.probeTTL = d
	}
}

func WithBridgeLogger(logger *slog.Logger) BridgeOption {
	return func(b *Bridge) {
		if logger != nil {
			b.logger = logger
		}
	}
}

// NewBridge creates a bridge for the server named server.
func NewBridge(server string, remote Remote, registry *capability.Registry, opts ...BridgeOption) (*Bridge, error) {
	if strings.TrimSpace(server) == "" {
		return nil, errors.New("mcp bridge: server name is required")
	}
	if remote == nil || registry == nil {
		return nil, errors.New("mcp bridge: remote and registry are required")
	}
	b := &Bridge{
		server:      server,
		remote:      remote,
		registry:    registry,
		reliability: DefaultReliability,
		probeTTL:    DefaultProbeTTL,
		logger:      slog.Default(),
		registered:  make(map[string]struct{}),
	}
	for _, opt := range opts {
		opt(b)
	}
	return b, nil
}

// CapabilityID returns the capability id of a tool of this server.
func (b *Bridge) CapabilityID(tool string) string {
	return b.server + "." + tool
}

// Sync lists the server tools and publishes the permitted ones in a single
// registry update. Tools that disappeared are unregistered. It returns the
// ids now registered, sorted.
func (b *Bridge) Sync(ctx context.Context) ([]string, error) {
	tools, err := b.remote.ListTools(ctx)
	if err != nil {
		return nil, err
	}

	entries := make([]capability.Entry, 0, len(tools))
	current := make(map[string]struct{}, len(tools))
	for _, tool := range tools {
		if !b.filter.IsAllowed(tool.Name) {
			b.logger.Debug("mcp tool filtered", slog.String("server", b.server), slog.String("tool", tool.Name))
			continue
		}
		handler, err := NewToolAdapter(tool, b.remote)
		if err != nil {
			return nil, err
		}
		id := b.CapabilityID(tool.Name)
		c := Descriptor(id, tool)
		c.Reliability = b.reliability
		c.PrivacyLevel = b.privacy
		c.Tags = append(c.Tags, "mcp:"+b.server)
		entries = append(entries, capability.Entry{Capability: c, Handler: handler})
		current[id] = struct{}{}
	}
	if err := b.registry.RegisterAll(entries...); err != nil {
		return nil, err
	}

	b.mu.Lock()
	previous := b.registered
	b.registered = current
	b.mu.Unlock()
	for id := range previous {
		if _, ok := current[id]; !ok {
			b.registry.Unregister(id)
			if b.availability != nil {
				b.availability.SetProbe(id, nil)
			}
		}
	}
	if b.availability != nil {
		for id := range current {
			b.availability.SetProbe(id, b.Probe)
		}
	}

	ids := make([]string, 0, len(current))
	for id := range current {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	b.logger.Info("mcp tools registered", slog.String("server", b.server), slog.Int("tools", len(ids)))
	return ids, nil
}

// Probe reports 1 while the server answers pings and 0 otherwise. Results
// are reused for the probe TTL.
func (b *Bridge) Probe(ctx context.Context) float64 {
	b.mu.Lock()
	if !b.lastPing.IsZero() && time.Since(b.lastPing) < b.probeTTL {
		up := b.lastUp
		b.mu.Unlock()
		return availabilityOf(up)
	}
	b.mu.Unlock()

	err := b.remote.Ping(ctx)
	up := err == nil
	if err != nil {
		b.logger.Warn("mcp server unreachable", slog.String("server", b.server), slog.String("error", err.Error()))
	}

	b.mu.Lock()
	b.lastPing = time.Now()
	b.lastUp = up
	b.mu.Unlock()
	return availabilityOf(up)
}

func availabilityOf(up bool) float64 {
	if up {
		return 1
	}
	return 0
}

// Close unregisters every tool of the server.
func (b *Bridge) Close() {
	b.mu.Lock()
	ids := b.registered
	b.registered = make(map[string]struct{})
	b.mu.Unlock()
	for id := range ids {
		b.registry.Unregister(id)
		if b.availability != nil {
			b.availability.SetProbe(id, nil)
		}
	}
}

// Connector opens a client for one configured server.
type Connector func(ctx context.Context, cfg config.MCPServerConfig) (*Client, error)

// Bridges owns the clients and bridges built from configuration.
type Bridges struct {
	clients []*Client
	bridges []*Bridge
}

// LoadBridges connects every configured server, in name order, and syncs
// its tools into registry. Servers that fail to connect are logged and
// skipped.
func LoadBridges(ctx context.Context, cfg config.MCPConfig, registry *capability.Registry, availability *capability.Availability, logger *slog.Logger, connect Connector) *Bridges {
	if logger == nil {
		logger = slog.Default()
	}
	if connect == nil {
		connect = func(ctx context.Context, cfg config.MCPServerConfig) (*Client, error) {
			return Connect(ctx, cfg)
		}
	}
	names := make([]string, 0, len(cfg.Servers))
	for name := range cfg.Servers {
		names = append(names, name)
	}
	sort.Strings(names)

	out := &Bridges{}
	for _, name := range names {
		sc := cfg.Servers[name]
		client, err := connect(ctx, sc)
		if err != nil {
			logger.Warn("mcp server connect failed", slog.String("server", name), slog.String("error", err.Error()))
			continue
		}
		b, err := NewBridge(name, client, registry,
			WithToolFilter(governance.NewToolFilter(governance.WithAllowlist(sc.Allow), governance.WithDenylist(sc.Deny))),
			WithReliability(sc.Reliability),
			WithPrivacyLevel(capability.PrivacyLevel(strings.ToLower(sc.PrivacyLevel))),
			WithAvailability(availability),
			WithBridgeLogger(logger),
		)
		if err == nil {
			_, err = b.Sync(ctx)
		}
		if err != nil {
			logger.Warn("mcp tool sync failed", slog.String("server", name), slog.String("error", err.Error()))
			_ = client.Close()
			continue
		}
		out.clients = append(out.clients, client)
		out.bridges = append(out.bridges, b)
	}
	return out
}

// Len returns the number of connected servers.
func (bs *Bridges) Len() int { return len(bs.bridges) }

// Sync refreshes the tools of every server.
func (bs *Bridges) Sync(ctx context.Context) error {
	var errs []error
	for i, b := range bs.bridges {
		bs.clients[i].InvalidateTools()
		if _, err := b.Sync(ctx); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Close unregisters all tools and closes the clients.
func (bs *Bridges) Close() error {
	var errs []error
	for i, b := range bs.bridges {
		b.Close()
		if err := bs.clients[i].Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
