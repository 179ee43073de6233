package main

import (
	"context"
	"fmt"
	"log/slog"

	"steelwool/internal/adapter/tool"
	"steelwool/internal/infra/config"
)

// initTools builds the tool registry from the builtin tool list and the
// configured MCP servers. The returned cleanup closes MCP connections.
func initTools(ctx context.Context, cfg config.ToolsConfig, log *slog.Logger) (*tool.Registry, func(), error) {
	reg := tool.NewRegistry(log, tool.WithReportErrors(cfg.ReportErrors))
	cleanup := func() {}

	for _, name := range cfg.Builtin {
		t, err := tool.Builtin(name)
		if err != nil {
			return nil, cleanup, err
		}
		if err := reg.Register(t); err != nil {
			return nil, cleanup, fmt.Errorf("register %s: %w", name, err)
		}
	}

	if len(cfg.MCPServers) > 0 {
		bridge, err := tool.NewMCPBridge(ctx, cfg.MCPServers, log)
		if err != nil {
			return nil, cleanup, fmt.Errorf("mcp: %w", err)
		}
		cleanup = bridge.Close
		if err := bridge.RegisterAll(reg); err != nil {
			bridge.Close()
			return nil, func() {}, fmt.Errorf("mcp: %w", err)
		}
		log.Info("mcp tools registered", "servers", len(cfg.MCPServers), "tools", len(bridge.Tools()))
	}

	return reg, cleanup, nil
}
