package harvest

import (
	"context"
	"fmt"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/hazyhaar/mcpharvest/kit"
)

// RegisterMCP registers the catalog and trigger tools on an MCP server.
func (svc *Service) RegisterMCP(srv *mcp.Server) {
	svc.registerListServers(srv)
	svc.registerGetServer(srv)
	svc.registerListTags(srv)
	svc.registerStats(srv)
	svc.registerDiscover(srv)
	svc.registerRun(srv)
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

// --- Catalog ---

func (svc *Service) registerListServers(srv *mcp.Server) {
	type req struct {
		MinStars int64  `json:"min_stars"`
		Tag      string `json:"tag"`
		Query    string `json:"query"`
		Limit    int    `json:"limit"`
		Offset   int    `json:"offset"`
	}

	tool := &mcp.Tool{
		Name:        "harvest_list_servers",
		Description: "List catalogued MCP servers, most starred first",
		InputSchema: inputSchema(map[string]any{
			"min_stars": map[string]any{"type": "integer", "description": "Minimum star count"},
			"tag":       map[string]any{"type": "string", "description": "Only servers carrying this tag"},
			"query":     map[string]any{"type": "string", "description": "Substring of name or description"},
			"limit":     map[string]any{"type": "integer", "description": "Max results (default 50)"},
			"offset":    map[string]any{"type": "integer", "description": "Results to skip"},
		}, nil),
	}

	endpoint := func(ctx context.Context, r any) (any, error) {
		p := r.(*req)
		servers, err := svc.ListServers(ctx, ListFilter{
			MinStars: p.MinStars,
			Tag:      p.Tag,
			Query:    p.Query,
			Limit:    p.Limit,
			Offset:   p.Offset,
		})
		if err != nil {
			return nil, err
		}
		return map[string]any{"servers": servers, "count": len(servers)}, nil
	}

	kit.RegisterMCPTool(srv, tool, endpoint, kit.DecodeArgs[req]())
}

func (svc *Service) registerGetServer(srv *mcp.Server) {
	type req struct {
		Seq int64  `json:"seq"`
		URL string `json:"url"`
	}

	tool := &mcp.Tool{
		Name:        "harvest_get_server",
		Description: "Get one catalogued MCP server by sequence number or repository URL",
		InputSchema: inputSchema(map[string]any{
			"seq": map[string]any{"type": "integer", "description": "Catalog sequence number"},
			"url": map[string]any{"type": "string", "description": "Repository URL"},
		}, nil),
	}

	endpoint := func(ctx context.Context, r any) (any, error) {
		p := r.(*req)
		switch {
		case p.Seq > 0:
			return svc.GetServerBySeq(ctx, p.Seq)
		case p.URL != "":
			return svc.GetServerByURL(ctx, p.URL)
		}
		return nil, fmt.Errorf("%w: seq or url is required", ErrInvalidInput)
	}

	kit.RegisterMCPTool(srv, tool, endpoint, kit.DecodeArgs[req]())
}

func (svc *Service) registerListTags(srv *mcp.Server) {
	type req struct{}

	tool := &mcp.Tool{
		Name:        "harvest_list_tags",
		Description: "List every tag seen on catalogued servers",
		InputSchema: inputSchema(map[string]any{}, nil),
	}

	endpoint := func(ctx context.Context, _ any) (any, error) {
		tags, err := svc.ListTags(ctx)
		if err != nil {
			return nil, err
		}
		names := make([]string, len(tags))
		for i, t := range tags {
			names[i] = t.Tag
		}
		return map[string]any{"tags": names}, nil
	}

	kit.RegisterMCPTool(srv, tool, endpoint, kit.DecodeArgs[req]())
}

func (svc *Service) registerStats(srv *mcp.Server) {
	type req struct{}

	tool := &mcp.Tool{
		Name:        "harvest_stats",
		Description: "Counts of pending work, catalogued servers and tags",
		InputSchema: inputSchema(map[string]any{}, nil),
	}

	endpoint := func(ctx context.Context, _ any) (any, error) {
		return svc.Stats(ctx)
	}

	kit.RegisterMCPTool(srv, tool, endpoint, kit.DecodeArgs[req]())
}

// --- Triggers ---

func (svc *Service) registerDiscover(srv *mcp.Server) {
	type req struct {
		Facet int `json:"facet"`
	}

	tool := &mcp.Tool{
		Name:        "harvest_discover",
		Description: "Search the forge for one language/license facet and queue new repositories",
		InputSchema: inputSchema(map[string]any{
			"facet": map[string]any{"type": "integer", "description": "Facet index (see harvest facets)"},
		}, []string{"facet"}),
	}

	endpoint := func(ctx context.Context, r any) (any, error) {
		p := r.(*req)
		return svc.Discover(ctx, p.Facet)
	}

	kit.RegisterMCPTool(srv, tool, endpoint, kit.DecodeTrigger[req]("mcp"))
}

func (svc *Service) registerRun(srv *mcp.Server) {
	type req struct {
		Facet *int `json:"facet"`
	}

	tool := &mcp.Tool{
		Name:        "harvest_run",
		Description: "Start a full pipeline run (discovery, intake, enrichment) in the background",
		InputSchema: inputSchema(map[string]any{
			"facet": map[string]any{"type": "integer", "description": "Facet index; omit to rotate"},
		}, nil),
	}

	endpoint := func(ctx context.Context, r any) (any, error) {
		p := r.(*req)
		facet := -1
		if p.Facet != nil {
			facet = *p.Facet
		}
		if err := svc.StartRun(ctx, facet); err != nil {
			return nil, err
		}
		return map[string]string{"status": "accepted"}, nil
	}

	kit.RegisterMCPTool(srv, tool, endpoint, kit.DecodeTrigger[req]("mcp"))
}
