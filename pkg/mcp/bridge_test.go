package mcp

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	mcpgo "github.com/mark3labs/mcp-go/mcp"
	mcpserver "github.com/mark3labs/mcp-go/server"

	"github.com/jllopis/sinp/pkg/capability"
	"github.com/jllopis/sinp/pkg/config"
	"github.com/jllopis/sinp/pkg/governance"
	"github.com/jllopis/sinp/pkg/resilience"
	"github.com/jllopis/sinp/pkg/telemetry"
)

type fakeRemote struct {
	mu      sync.Mutex
	tools   []mcpgo.Tool
	pingErr error
	pings   int
}

func (f *fakeRemote) ListTools(context.Context) ([]mcpgo.Tool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]mcpgo.Tool(nil), f.tools...), nil
}

func (f *fakeRemote) CallTool(_ context.Context, name string, _ map[string]interface{}) (*mcpgo.CallToolResult, error) {
	return textResult("called " + name), nil
}

func (f *fakeRemote) Ping(context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.pings++
	return f.pingErr
}

func TestBridgeSync(t *testing.T) {
	remote := &fakeRemote{tools: []mcpgo.Tool{
		mcpgo.NewTool("search", mcpgo.WithDescription("Search documents")),
		mcpgo.NewTool("delete_all", mcpgo.WithDescription("Delete everything")),
		mcpgo.NewTool("fetch", mcpgo.WithDescription("Fetch a URL")),
	}}
	r := capability.NewRegistry(capability.WithLogger(telemetry.Discard()))
	avail := capability.NewAvailability(resilience.CircuitBreakerConfig{})
	b, err := NewBridge("docs", remote, r,
		WithToolFilter(governance.NewToolFilter(governance.WithDenylist([]string{"delete_*"}))),
		WithReliability(0.8),
		WithPrivacyLevel(capability.PrivacyInternal),
		WithAvailability(avail),
		WithBridgeLogger(telemetry.Discard()),
	)
	if err != nil {
		t.Fatalf("NewBridge: %v", err)
	}

	ids, err := b.Sync(context.Background())
	if err != nil {
		t.Fatalf("Sync: %v", err)
	}
	if diff := cmp.Diff([]string{"docs.fetch", "docs.search"}, ids); diff != "" {
		t.Fatalf("ids mismatch (-want +got):\n%s", diff)
	}
	entry, ok := r.Lookup("docs.search")
	if !ok {
		t.Fatalf("docs.search not registered")
	}
	if entry.Capability.Reliability != 0.8 || entry.Capability.PrivacyLevel != capability.PrivacyInternal {
		t.Fatalf("capability = %+v", entry.Capability)
	}
	out, err := entry.Handler.Execute(context.Background(), capability.Invocation{})
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if diff := cmp.Diff(map[string]any{"text": "called search"}, out); diff != "" {
		t.Fatalf("output mismatch (-want +got):\n%s", diff)
	}

	remote.mu.Lock()
	remote.tools = remote.tools[:1]
	remote.mu.Unlock()
	if _, err := b.Sync(context.Background()); err != nil {
		t.Fatalf("resync: %v", err)
	}
	if _, ok := r.Lookup("docs.fetch"); ok {
		t.Fatalf("removed tool still registered")
	}

	b.Close()
	if r.Snapshot().Len() != 0 {
		t.Fatalf("Close left %d capabilities", r.Snapshot().Len())
	}
}

func TestBridgeProbe(t *testing.T) {
	remote := &fakeRemote{tools: []mcpgo.Tool{mcpgo.NewTool("search")}}
	r := capability.NewRegistry(capability.WithLogger(telemetry.Discard()))
	avail := capability.NewAvailability(resilience.CircuitBreakerConfig{})
	b, _ := NewBridge("docs", remote, r, WithAvailability(avail), WithProbeTTL(time.Hour), WithBridgeLogger(telemetry.Discard()))
	if _, err := b.Sync(context.Background()); err != nil {
		t.Fatalf("Sync: %v", err)
	}

	if got := avail.Of(context.Background(), "docs.search"); got != 1 {
		t.Fatalf("availability = %v, want 1", got)
	}
	remote.mu.Lock()
	remote.pingErr = errors.New("down")
	remote.mu.Unlock()
	if got := avail.Of(context.Background(), "docs.search"); got != 1 {
		t.Fatalf("cached availability = %v, want 1", got)
	}
	if remote.pings != 1 {
		t.Fatalf("pings = %d, want 1", remote.pings)
	}

	down, _ := NewBridge("docs", remote, r, WithProbeTTL(0), WithBridgeLogger(telemetry.Discard()))
	if got := down.Probe(context.Background()); got != 0 {
		t.Fatalf("probe = %v, want 0", got)
	}
}

func TestNewBridgeValidation(t *testing.T) {
	r := capability.NewRegistry()
	if _, err := NewBridge("", &fakeRemote{}, r); err == nil {
		t.Fatalf("expected error for empty server name")
	}
	if _, err := NewBridge("x", nil, r); err == nil {
		t.Fatalf("expected error for nil remote")
	}
}

func TestLoadBridgesOverHTTP(t *testing.T) {
	httpServer := mcpserver.NewTestStreamableHTTPServer(pingServer().MCPServer())
	defer httpServer.Close()

	cfg := config.MCPConfig{Servers: map[string]config.MCPServerConfig{
		"local":  {Transport: "http", URL: httpServer.URL, Reliability: 0.7},
		"broken": {Transport: "stdio", Command: "/nonexistent/sinp-mcp-server"},
	}}
	r := capability.NewRegistry(capability.WithLogger(telemetry.Discard()))
	bs := LoadBridges(context.Background(), cfg, r, nil, telemetry.Discard(), nil)
	defer bs.Close()

	if bs.Len() != 1 {
		t.Fatalf("connected servers = %d, want 1", bs.Len())
	}
	entry, ok := r.Lookup("local.ping")
	if !ok {
		t.Fatalf("local.ping not registered")
	}
	if entry.Capability.Reliability != 0.7 {
		t.Fatalf("reliability = %v", entry.Capability.Reliability)
	}
	out, err := entry.Handler.Execute(context.Background(), capability.Invocation{Intent: "ping"})
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if diff := cmp.Diff(map[string]any{"text": "pong"}, out); diff != "" {
		t.Fatalf("output mismatch (-want +got):\n%s", diff)
	}
	if err := bs.Sync(context.Background()); err != nil {
		t.Fatalf("Sync: %v", err)
	}
}
