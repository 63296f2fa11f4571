package nav

import (
	"context"
	"encoding/json"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/hazyhaar/dompatch/kit"
)

// Status is a point-in-time snapshot of the controller.
type Status struct {
	State        string `json:"state"`
	URL          string `json:"url,omitempty"`
	HistoryLen   int    `json:"history_len"`
	HistoryIndex int    `json:"history_index"`
	LiveIslands  int    `json:"live_islands"`
}

// Status reports the controller's current phase, position, and island
// population.
func (c *Controller) Status() Status {
	s := Status{
		State:        c.State().String(),
		HistoryLen:   c.hist.Len(),
		HistoryIndex: c.hist.Index(),
	}
	if cur, ok := c.hist.Current(); ok {
		s.URL = cur.URL
	}
	if c.islands != nil {
		s.LiveIslands = c.islands.Len()
	}
	return s
}

// RegisterMCP registers navigation tools on an MCP server, exposing the
// engine to agent-driven hosts.
func (c *Controller) RegisterMCP(srv *mcp.Server) {
	c.registerNavigateTool(srv)
	c.registerTraverseTool(srv)
	c.registerStatusTool(srv)
}

// inputSchema builds a JSON Schema object with type "object".
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

type navigateRequest struct {
	URL     string `json:"url"`
	Replace bool   `json:"replace,omitempty"`
}

func (c *Controller) registerNavigateTool(srv *mcp.Server) {
	tool := &mcp.Tool{
		Name:        "dompatch_navigate",
		Description: "Perform a partial navigation to a same-origin URL. Fetches the partial response and reconciles it into the live document.",
		InputSchema: inputSchema(map[string]any{
			"url":     map[string]any{"type": "string", "description": "Destination URL (same origin)"},
			"replace": map[string]any{"type": "boolean", "description": "Replace the current history entry instead of pushing"},
		}, []string{"url"}),
	}

	endpoint := func(ctx context.Context, req any) (any, error) {
		r := req.(*navigateRequest)
		err := c.Navigate(ctx, Activation{
			Kind:    "programmatic",
			URL:     r.URL,
			Replace: r.Replace,
		})
		if err != nil {
			return nil, err
		}
		return c.Status(), nil
	}

	decode := func(req *mcp.CallToolRequest) (*kit.MCPDecodeResult, error) {
		var r navigateRequest
		if err := json.Unmarshal(req.Params.Arguments, &r); err != nil {
			return nil, err
		}
		return &kit.MCPDecodeResult{Request: &r}, nil
	}

	kit.RegisterMCPTool(srv, tool, endpoint, decode)
}

type traverseRequest struct {
	Delta int `json:"delta"`
}

func (c *Controller) registerTraverseTool(srv *mcp.Server) {
	tool := &mcp.Tool{
		Name:        "dompatch_traverse",
		Description: "Move through navigation history: delta -1 is back, +1 is forward. Replays the partial navigation and restores scroll.",
		InputSchema: inputSchema(map[string]any{
			"delta": map[string]any{"type": "integer", "description": "-1 for back, 1 for forward"},
		}, []string{"delta"}),
	}

	endpoint := func(ctx context.Context, req any) (any, error) {
		r := req.(*traverseRequest)
		if err := c.Traverse(ctx, r.Delta); err != nil {
			return nil, err
		}
		return c.Status(), nil
	}

	decode := func(req *mcp.CallToolRequest) (*kit.MCPDecodeResult, error) {
		var r traverseRequest
		if err := json.Unmarshal(req.Params.Arguments, &r); err != nil {
			return nil, err
		}
		return &kit.MCPDecodeResult{Request: &r}, nil
	}

	kit.RegisterMCPTool(srv, tool, endpoint, decode)
}

type statusRequest struct{}

func (c *Controller) registerStatusTool(srv *mcp.Server) {
	tool := &mcp.Tool{
		Name:        "dompatch_status",
		Description: "Report the navigation controller's state, current URL, history position, and live island count.",
		InputSchema: inputSchema(map[string]any{}, nil),
	}

	endpoint := func(ctx context.Context, req any) (any, error) {
		return c.Status(), nil
	}

	decode := func(req *mcp.CallToolRequest) (*kit.MCPDecodeResult, error) {
		return &kit.MCPDecodeResult{Request: &statusRequest{}}, nil
	}

	kit.RegisterMCPTool(srv, tool, endpoint, decode)
}
