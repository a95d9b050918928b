package worker

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/plainlicense/herokit/herostate"
)

var testMCPImpl = &mcp.Implementation{Name: "heroworker-test", Version: "0.1.0"}

func mcpSession(t *testing.T, m *Manager, hero *herostate.Store) *mcp.ClientSession {
	t.Helper()
	srv := mcp.NewServer(testMCPImpl, nil)
	m.RegisterMCP(srv, hero)

	serverT, clientT := mcp.NewInMemoryTransports()
	ctx := context.Background()
	go func() { _ = srv.Run(ctx, serverT) }()

	client := mcp.NewClient(testMCPImpl, nil)
	session, err := client.Connect(ctx, clientT, nil)
	if err != nil {
		t.Fatalf("client connect: %v", err)
	}
	t.Cleanup(func() { session.Close() })
	return session
}

func mcpCallTool(t *testing.T, session *mcp.ClientSession, name string, args any) string {
	t.Helper()
	result, err := session.CallTool(context.Background(), &mcp.CallToolParams{
		Name:      name,
		Arguments: args,
	})
	if err != nil {
		t.Fatalf("CallTool(%s): %v", name, err)
	}
	if err := result.GetError(); err != nil {
		t.Fatalf("CallTool(%s) tool error: %v", name, err)
	}
	tc, ok := result.Content[0].(*mcp.TextContent)
	if !ok {
		t.Fatalf("CallTool(%s): expected TextContent", name)
	}
	return tc.Text
}

func TestMCP_WorkerStatus(t *testing.T) {
	o := newOrigin(t)
	o.set("/", "text/html", "ok")
	rig := newTestRig(t, testManifest("/"), o, false)
	if err := rig.mgr.Install(context.Background()); err != nil {
		t.Fatal(err)
	}
	session := mcpSession(t, rig.mgr, nil)

	text := mcpCallTool(t, session, "worker_status", map[string]any{})
	var s Stats
	if err := json.Unmarshal([]byte(text), &s); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if s.Phase != "waiting" || s.CacheName != "test-v1" || s.Entries != 1 {
		t.Errorf("stats = %+v", s)
	}
}

func TestMCP_CacheKeys(t *testing.T) {
	o := newOrigin(t)
	o.set("/", "text/html", "ok")
	o.set("/a.12345678.css", "text/css", "a{}")
	rig := newTestRig(t, testManifest("/", "/a.12345678.css"), o, false)
	if err := rig.mgr.Precache(context.Background()); err != nil {
		t.Fatal(err)
	}
	session := mcpSession(t, rig.mgr, nil)

	text := mcpCallTool(t, session, "worker_cache_keys", map[string]any{})
	var resp struct {
		Cache string   `json:"cache"`
		Keys  []string `json:"keys"`
	}
	if err := json.Unmarshal([]byte(text), &resp); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if resp.Cache != "test-v1" || len(resp.Keys) != 2 {
		t.Errorf("response = %+v", resp)
	}
}

func TestMCP_CacheURLs(t *testing.T) {
	o := newOrigin(t)
	o.set("/late.12345678.css", "text/css", "late{}")
	rig := newTestRig(t, testManifest("/"), o, false)
	session := mcpSession(t, rig.mgr, nil)

	text := mcpCallTool(t, session, "worker_cache_urls", map[string]any{
		"urls": []string{"/late.12345678.css"},
	})
	var resp struct {
		OK     bool `json:"ok"`
		Cached int  `json:"cached"`
	}
	if err := json.Unmarshal([]byte(text), &resp); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if !resp.OK || resp.Cached != 1 {
		t.Errorf("response = %+v", resp)
	}

	got, _ := rig.store.Match(context.Background(), "test-v1", "/late.12345678.css")
	if got == nil {
		t.Error("URL not cached")
	}
}

func TestMCP_HeroState(t *testing.T) {
	o := newOrigin(t)
	rig := newTestRig(t, testManifest("/"), o, false)
	hero := newHeroStore(t)
	_ = hero.Update(herostate.Patch{
		LandingVisible: herostate.Bool(true),
		PageVisible:    herostate.Bool(true),
	})
	session := mcpSession(t, rig.mgr, hero)

	text := mcpCallTool(t, session, "hero_state", map[string]any{})
	var resp struct {
		Gates map[string]bool `json:"gates"`
	}
	if err := json.Unmarshal([]byte(text), &resp); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if !resp.Gates["carousel"] || resp.Gates["impact"] {
		t.Errorf("gates = %+v", resp.Gates)
	}
}
