package main

import (
	"fmt"

	"openwork/internal/mcpserver"
)

// =============================================================================
// MCP TOOL SERVER METHODS (Bound to frontend)
// =============================================================================

// MCPStatus describes the workspace tool server.
type MCPStatus struct {
	Running bool   `json:"running"`
	URL     string `json:"url"`
}

// GetMCPStatus reports whether the tool server is running and where.
func (a *App) GetMCPStatus() MCPStatus {
	if a.mcpServer == nil {
		return MCPStatus{}
	}
	return MCPStatus{Running: a.mcpServer.IsRunning(), URL: a.mcpServer.URL()}
}

// GetMCPToolAvailability returns which workspace tools the agent may call.
func (a *App) GetMCPToolAvailability() mcpserver.ToolAvailability {
	if a.mcpServer == nil {
		return mcpserver.DefaultToolAvailability()
	}
	return a.mcpServer.Availability().GetAvailability()
}

// SetMCPToolEnabled enables or disables one workspace tool.
func (a *App) SetMCPToolEnabled(tool string, enabled bool) error {
	if a.mcpServer == nil {
		return fmt.Errorf("MCP server not initialized")
	}
	return a.mcpServer.Availability().SetEnabled(tool, enabled)
}

// ResetMCPToolAvailability enables every workspace tool.
func (a *App) ResetMCPToolAvailability() error {
	if a.mcpServer == nil {
		return fmt.Errorf("MCP server not initialized")
	}
	return a.mcpServer.Availability().ResetToDefaults()
}
