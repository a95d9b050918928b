package worker

import (
	"context"
	"encoding/json"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/plainlicense/herokit/herostate"
	"github.com/plainlicense/herokit/kit"
)

// RegisterMCP registers the worker admin tools on an MCP server. hero may be
// nil when the coordinator is not running.
func (m *Manager) RegisterMCP(srv *mcp.Server, hero *herostate.Store) {
	m.registerStatusTool(srv)
	m.registerKeysTool(srv)
	m.registerCacheURLsTool(srv)
	if hero != nil {
		registerHeroStateTool(srv, hero)
	}
}

func inputSchema(properties map[string]any, required []string) map[string]any {
	s := map[string]any{
		"type":       "object",
		"properties": properties,
	}
	if len(required) > 0 {
		s["required"] = required
	}
	return s
}

// --- status ---

func (m *Manager) registerStatusTool(srv *mcp.Server) {
	tool := &mcp.Tool{
		Name:        "worker_status",
		Description: "Report the cache worker lifecycle phase and cache counters.",
		InputSchema: inputSchema(map[string]any{}, nil),
	}

	endpoint := func(ctx context.Context, _ any) (any, error) {
		return m.Stats(ctx)
	}

	decode := func(_ *mcp.CallToolRequest) (*kit.MCPDecodeResult, error) {
		return &kit.MCPDecodeResult{Request: nil}, nil
	}

	kit.RegisterMCPTool(srv, tool, endpoint, decode)
}

// --- cache keys ---

func (m *Manager) registerKeysTool(srv *mcp.Server) {
	tool := &mcp.Tool{
		Name:        "worker_cache_keys",
		Description: "List every URL cached in the current cache generation.",
		InputSchema: inputSchema(map[string]any{}, nil),
	}

	endpoint := func(ctx context.Context, _ any) (any, error) {
		keys, err := m.store.Keys(ctx, m.CacheName())
		if err != nil {
			return nil, err
		}
		return map[string]any{"cache": m.CacheName(), "keys": keys}, nil
	}

	decode := func(_ *mcp.CallToolRequest) (*kit.MCPDecodeResult, error) {
		return &kit.MCPDecodeResult{Request: nil}, nil
	}

	kit.RegisterMCPTool(srv, tool, endpoint, decode)
}

// --- cache urls ---

type cacheURLsReq struct {
	URLs []string `json:"urls"`
}

func (m *Manager) registerCacheURLsTool(srv *mcp.Server) {
	tool := &mcp.Tool{
		Name:        "worker_cache_urls",
		Description: "Add URLs to the live precache list and cache each one.",
		InputSchema: inputSchema(map[string]any{
			"urls": map[string]any{
				"type":        "array",
				"items":       map[string]any{"type": "string"},
				"description": "Root-relative asset URLs to cache",
			},
		}, []string{"urls"}),
	}

	endpoint := func(ctx context.Context, req any) (any, error) {
		r := req.(*cacheURLsReq)
		if err := m.AddURLs(ctx, r.URLs); err != nil {
			return nil, err
		}
		return map[string]any{"ok": true, "cached": len(r.URLs)}, nil
	}

	decode := func(req *mcp.CallToolRequest) (*kit.MCPDecodeResult, error) {
		var r cacheURLsReq
		if err := json.Unmarshal(req.Params.Arguments, &r); err != nil {
			return nil, err
		}
		return &kit.MCPDecodeResult{Request: &r}, nil
	}

	kit.RegisterMCPTool(srv, tool, endpoint, decode)
}

// --- hero state ---

func registerHeroStateTool(srv *mcp.Server, hero *herostate.Store) {
	tool := &mcp.Tool{
		Name:        "hero_state",
		Description: "Report the hero coordinator's current state snapshot and gate values.",
		InputSchema: inputSchema(map[string]any{}, nil),
	}

	endpoint := func(_ context.Context, _ any) (any, error) {
		s := hero.State()
		return map[string]any{
			"state": s,
			"gates": map[string]bool{
				"carousel": herostate.CarouselCanPlay(s),
				"impact":   herostate.ImpactCanPlay(s),
				"panning":  herostate.PanningCanPan(s),
				"scroll":   herostate.ScrollCanTrigger(s),
			},
		}, nil
	}

	decode := func(_ *mcp.CallToolRequest) (*kit.MCPDecodeResult, error) {
		return &kit.MCPDecodeResult{Request: nil}, nil
	}

	kit.RegisterMCPTool(srv, tool, endpoint, decode)
}
