package tool

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	mcpclient "github.com/mark3labs/mcp-go/client"
	"github.com/mark3labs/mcp-go/client/transport"
	"github.com/mark3labs/mcp-go/mcp"

	"steelwool/internal/domain"
	"steelwool/internal/infra/config"
)

// mcpCallTimeout is the per-call timeout for MCP tool execution.
const mcpCallTimeout = 30 * time.Second

// MCPBridge manages connections to MCP servers and exposes their tools.
type MCPBridge struct {
	servers []mcpServerConn
	tools   []Tool
	logger  *slog.Logger
}

type mcpServerConn struct {
	name   string
	client mcpClient
}

// mcpClient abstracts the MCP client interface for testability.
type mcpClient interface {
	ListTools(ctx context.Context, request mcp.ListToolsRequest) (*mcp.ListToolsResult, error)
	CallTool(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error)
	Close() error
}

// NewMCPBridge connects to all configured MCP servers and discovers their tools.
func NewMCPBridge(ctx context.Context, servers []config.MCPServer, logger *slog.Logger) (*MCPBridge, error) {
	b := &MCPBridge{logger: logger}

	for _, srv := range servers {
		conn, err := b.connectServer(ctx, srv)
		if err != nil {
			b.Close()
			return nil, fmt.Errorf("mcp server %q: %w", srv.Name, err)
		}
		b.servers = append(b.servers, *conn)
	}

	if err := b.discoverTools(ctx); err != nil {
		b.Close()
		return nil, fmt.Errorf("discover tools: %w", err)
	}
	return b, nil
}

func newMCPBridgeWithClients(ctx context.Context, servers []mcpServerConn, logger *slog.Logger) (*MCPBridge, error) {
	b := &MCPBridge{servers: servers, logger: logger}
	if err := b.discoverTools(ctx); err != nil {
		return nil, err
	}
	return b, nil
}

func (b *MCPBridge) connectServer(ctx context.Context, srv config.MCPServer) (*mcpServerConn, error) {
	var (
		c   mcpClient
		err error
	)

	switch srv.Transport {
	case "stdio":
		c, err = mcpclient.NewStdioMCPClient(srv.Command, envSlice(srv.Env), srv.Args...)
		if err != nil {
			return nil, fmt.Errorf("create stdio client: %w", err)
		}
	case "http":
		t, tErr := transport.NewStreamableHTTP(srv.URL)
		if tErr != nil {
			return nil, fmt.Errorf("create http transport: %w", tErr)
		}
		httpClient := mcpclient.NewClient(t)
		if err = httpClient.Start(ctx); err != nil {
			return nil, fmt.Errorf("start http client: %w", err)
		}
		c = httpClient
	default:
		return nil, fmt.Errorf("%w: unsupported transport %q", domain.ErrInvalidInput, srv.Transport)
	}

	initReq := mcp.InitializeRequest{}
	initReq.Params.ProtocolVersion = mcp.LATEST_PROTOCOL_VERSION
	initReq.Params.ClientInfo = mcp.Implementation{
		Name:    "steelwool",
		Version: "0.1.0",
	}

	if ic, ok := c.(interface {
		Initialize(ctx context.Context, request mcp.InitializeRequest) (*mcp.InitializeResult, error)
	}); ok {
		if _, err = ic.Initialize(ctx, initReq); err != nil {
			c.Close()
			return nil, domain.WrapOp("initialize", err)
		}
	}

	b.logger.Info("mcp server connected", "name", srv.Name, "transport", srv.Transport)
	return &mcpServerConn{name: srv.Name, client: c}, nil
}

func (b *MCPBridge) discoverTools(ctx context.Context) error {
	var errs []string
	succeeded := 0

	for _, srv := range b.servers {
		result, err := srv.client.ListTools(ctx, mcp.ListToolsRequest{})
		if err != nil {
			b.logger.Warn("mcp server discovery failed, skipping", "server", srv.name, "error", err)
			errs = append(errs, fmt.Sprintf("%s: %v", srv.name, err))
			continue
		}
		for _, t := range result.Tools {
			adapter := newMCPTool(srv.name, srv.client, t, b.logger)
			b.tools = append(b.tools, adapter)
			b.logger.Debug("mcp tool discovered", "server", srv.name, "tool", t.Name, "full_name", adapter.fullName)
		}
		b.logger.Info("mcp tools discovered", "server", srv.name, "count", len(result.Tools))
		succeeded++
	}

	// Only fail if every server failed.
	if succeeded == 0 && len(errs) > 0 {
		return fmt.Errorf("all mcp servers failed discovery: %s", strings.Join(errs, "; "))
	}
	return nil
}

// Tools returns the discovered MCP tools.
func (b *MCPBridge) Tools() []Tool { return b.tools }

// RegisterAll adds every discovered tool to reg.
func (b *MCPBridge) RegisterAll(reg *Registry) error {
	for _, t := range b.tools {
		if err := reg.Register(t); err != nil {
			return err
		}
	}
	return nil
}

// Close shuts down all MCP server connections.
func (b *MCPBridge) Close() {
	for _, srv := range b.servers {
		if err := srv.client.Close(); err != nil {
			b.logger.Warn("mcp server close error", "server", srv.name, "error", err)
		}
	}
}

// mcpTool exposes a single MCP server tool as a Tool.
type mcpTool struct {
	serverName string
	client     mcpClient
	remote     mcp.Tool
	fullName   string
	logger     *slog.Logger
}

func newMCPTool(serverName string, client mcpClient, t mcp.Tool, logger *slog.Logger) *mcpTool {
	return &mcpTool{
		serverName: serverName,
		client:     client,
		remote:     t,
		fullName:   fmt.Sprintf("mcp_%s_%s", sanitizeName(serverName), sanitizeName(t.Name)),
		logger:     logger,
	}
}

func (a *mcpTool) Definition() domain.Tool {
	desc := a.remote.Description
	if desc == "" {
		desc = fmt.Sprintf("MCP tool %q from server %q", a.remote.Name, a.serverName)
	}

	var schema json.RawMessage
	if a.remote.InputSchema.Properties != nil || a.remote.InputSchema.Required != nil {
		if data, err := json.Marshal(a.remote.InputSchema); err == nil {
			schema = data
		}
	}

	return domain.Tool{
		Name:        a.fullName,
		Description: desc,
		Schema:      schema,
	}
}

func (a *mcpTool) Execute(ctx context.Context, args map[string]any) (string, error) {
	callReq := mcp.CallToolRequest{}
	callReq.Params.Name = a.remote.Name
	callReq.Params.Arguments = args

	a.logger.Debug("mcp tool call", "server", a.serverName, "tool", a.remote.Name)

	callCtx, cancel := context.WithTimeout(ctx, mcpCallTimeout)
	defer cancel()

	result, err := a.client.CallTool(callCtx, callReq)
	if err != nil {
		if ctx.Err() != nil {
			return "", ctx.Err()
		}
		return "", fmt.Errorf("mcp %s/%s: %w", a.serverName, a.remote.Name, err)
	}

	content := extractMCPContent(result)
	if result.IsError {
		return "", fmt.Errorf("mcp %s/%s reported an error: %s", a.serverName, a.remote.Name, content)
	}
	return content, nil
}

// extractMCPContent converts MCP CallToolResult content to a string.
func extractMCPContent(result *mcp.CallToolResult) string {
	var parts []string
	for _, c := range result.Content {
		switch v := c.(type) {
		case mcp.TextContent:
			parts = append(parts, v.Text)
		case *mcp.TextContent:
			parts = append(parts, v.Text)
		default:
			if data, err := json.Marshal(v); err == nil {
				parts = append(parts, string(data))
			}
		}
	}
	return strings.Join(parts, "\n")
}

// sanitizeName replaces characters that aren't valid in tool names.
func sanitizeName(s string) string {
	var b strings.Builder
	for _, r := range s {
		if (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9') || r == '_' {
			b.WriteRune(r)
		} else {
			b.WriteByte('_')
		}
	}
	return b.String()
}

// envSlice converts a map of env vars to KEY=VALUE pairs.
func envSlice(env map[string]string) []string {
	if len(env) == 0 {
		return nil
	}
	result := make([]string, 0, len(env))
	for k, v := range env {
		result = append(result, k+"="+v)
	}
	return result
}
