package toolgateway

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/mark3labs/mcp-go/client"
	"github.com/mark3labs/mcp-go/client/transport"
	"github.com/mark3labs/mcp-go/mcp"
)

const (
	clientName    = "jami-assistant"
	clientVersion = "1.0.0"
)

// mcpConn adapts an MCP streamable-HTTP client to Conn.
type mcpConn struct {
	c *client.Client
}

// DialMCP opens an MCP streamable-HTTP session and performs the initialize
// handshake.
func DialMCP(ctx context.Context, endpoint, bearerToken string) (Conn, error) {
	c, err := client.NewStreamableHttpClient(endpoint,
		transport.WithHTTPHeaders(map[string]string{
			"Authorization": "Bearer " + bearerToken,
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("create mcp client: %w", err)
	}

	if err := c.Start(ctx); err != nil {
		_ = c.Close()
		return nil, fmt.Errorf("start mcp transport: %w", err)
	}

	initReq := mcp.InitializeRequest{}
	initReq.Params.ProtocolVersion = mcp.LATEST_PROTOCOL_VERSION
	initReq.Params.ClientInfo = mcp.Implementation{Name: clientName, Version: clientVersion}
	if _, err := c.Initialize(ctx, initReq); err != nil {
		_ = c.Close()
		return nil, fmt.Errorf("initialize mcp session: %w", err)
	}

	return &mcpConn{c: c}, nil
}

func (m *mcpConn) ListTools(ctx context.Context, cursor string) ([]Tool, string, error) {
	req := mcp.ListToolsRequest{}
	req.Params.Cursor = mcp.Cursor(cursor)

	res, err := m.c.ListTools(ctx, req)
	if err != nil {
		return nil, "", err
	}

	tools := make([]Tool, 0, len(res.Tools))
	for _, t := range res.Tools {
		schema, err := toolSchema(t)
		if err != nil {
			return nil, "", fmt.Errorf("tool %s: %w", t.Name, err)
		}
		tools = append(tools, Tool{Name: t.Name, Description: t.Description, InputSchema: schema})
	}
	return tools, string(res.NextCursor), nil
}

func (m *mcpConn) CallTool(ctx context.Context, name string, args map[string]any) (ToolOutput, error) {
	req := mcp.CallToolRequest{}
	req.Params.Name = name
	req.Params.Arguments = args

	res, err := m.c.CallTool(ctx, req)
	if err != nil {
		return ToolOutput{}, err
	}
	return ToolOutput{Text: contentText(res.Content), IsError: res.IsError}, nil
}

func (m *mcpConn) Close() error {
	return m.c.Close()
}

func toolSchema(t mcp.Tool) (map[string]any, error) {
	raw := t.RawInputSchema
	if len(raw) == 0 {
		b, err := json.Marshal(t.InputSchema)
		if err != nil {
			return nil, fmt.Errorf("marshal input schema: %w", err)
		}
		raw = b
	}

	var schema map[string]any
	if err := json.Unmarshal(raw, &schema); err != nil {
		return nil, fmt.Errorf("decode input schema: %w", err)
	}
	if schema == nil {
		schema = map[string]any{"type": "object"}
	}
	if _, ok := schema["type"]; !ok {
		schema["type"] = "object"
	}
	return schema, nil
}

// contentText joins the text blocks of a tool result. Non-text blocks
// are skipped.
func contentText(content []mcp.Content) string {
	parts := make([]string, 0, len(content))
	for _, c := range content {
		switch tc := c.(type) {
		case mcp.TextContent:
			parts = append(parts, tc.Text)
		case *mcp.TextContent:
			parts = append(parts, tc.Text)
		}
	}
	return strings.Join(parts, "\n")
}
