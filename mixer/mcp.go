package mixer

import (
	"context"
	"errors"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/hazyhaar/emojimix/kit"
)

// RegisterMCP registers the emojimix tools on an MCP server.
func (svc *Service) RegisterMCP(srv *mcp.Server) {
	svc.registerResolve(srv)
	svc.registerRefresh(srv)
	svc.registerStatus(srv)
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

func (svc *Service) registerResolve(srv *mcp.Server) {
	type req struct {
		Left  string `json:"left"`
		Right string `json:"right"`
		Pair  string `json:"pair"`
	}
	type resp struct {
		Left  string `json:"left"`
		Right string `json:"right"`
		URL   string `json:"url,omitempty"`
		Found bool   `json:"found"`
	}

	tool := &mcp.Tool{
		Name:        "emojimix_resolve",
		Description: "Return the emoji kitchen mash-up image URL for two emoji. Pass left and right, or pair as \"A_B\". Order does not matter.",
		InputSchema: inputSchema(map[string]any{
			"left":  map[string]any{"type": "string", "description": "First emoji"},
			"right": map[string]any{"type": "string", "description": "Second emoji"},
			"pair":  map[string]any{"type": "string", "description": "Both emoji joined by '_' (alternative to left/right)"},
		}, nil),
	}

	endpoint := func(ctx context.Context, r any) (any, error) {
		p := r.(*req)
		var (
			url string
			err error
		)
		if p.Pair != "" {
			url, err = svc.ResolvePair(ctx, p.Pair)
		} else {
			url, err = svc.Resolve(ctx, p.Left, p.Right)
		}
		out := resp{Left: p.Left, Right: p.Right, URL: url, Found: err == nil}
		if errors.Is(err, ErrNotFound) {
			return out, nil
		}
		if err != nil {
			return nil, err
		}
		return out, nil
	}

	kit.RegisterMCPTool(srv, tool, endpoint, kit.DecodeArgs[req])
}

func (svc *Service) registerRefresh(srv *mcp.Server) {
	type req struct{}

	tool := &mcp.Tool{
		Name:        "emojimix_refresh",
		Description: "Download the emoji kitchen metadata and replace the mapping. Returns already_in_progress if a refresh is running.",
		InputSchema: inputSchema(map[string]any{}, nil),
	}

	endpoint := func(ctx context.Context, _ any) (any, error) {
		return svc.Refresh(ctx)
	}

	kit.RegisterMCPTool(srv, tool, endpoint, kit.DecodeArgs[req])
}

func (svc *Service) registerStatus(srv *mcp.Server) {
	type req struct {
		Limit int `json:"limit"`
	}

	tool := &mcp.Tool{
		Name:        "emojimix_status",
		Description: "Report the installed mapping snapshot and recent refresh attempts",
		InputSchema: inputSchema(map[string]any{
			"limit": map[string]any{"type": "integer", "description": "Refresh attempts to return (default 10)"},
		}, nil),
	}

	endpoint := func(ctx context.Context, r any) (any, error) {
		p := r.(*req)
		limit := p.Limit
		if limit <= 0 {
			limit = 10
		}
		return svc.Status(ctx, limit)
	}

	kit.RegisterMCPTool(srv, tool, endpoint, kit.DecodeArgs[req])
}
