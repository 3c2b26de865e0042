package core

import (
	"time"

	"github.com/modelcontextprotocol/go-sdk/mcp"
)

const (
	toolsSet    = "core"
	toolsSetAnn = "toolset"
)

// Tools contains the core tools for the MCP server.
type Tools struct {
	now func() time.Time
}

// NewTools creates and returns a new Tools instance.
func NewTools() *Tools {
	return &Tools{now: time.Now}
}

// AddTools registers the core tools with the provided MCP server.
// Each tool is configured with metadata identifying it as part of the core toolset.
func (t *Tools) AddTools(mcpServer *mcp.Server) {
	mcp.AddTool(mcpServer, &mcp.Tool{
		Name: "get_current_time",
		Meta: map[string]any{
			toolsSetAnn: toolsSet,
		},
		Description: `Get the current server time.
		This tool is protected by Okta OAuth authentication.

		Returns:
		The current time in ISO 8601 and human readable form, and the Unix timestamp.`},
		t.getCurrentTime,
	)

	mcp.AddTool(mcpServer, &mcp.Tool{
		Name: "calculate_square",
		Meta: map[string]any{
			toolsSetAnn: toolsSet,
		},
		Description: `Calculate the square of a number.
		Parameters:
		number (number, required): The number to square.

		Returns:
		The original number and its square.`},
		t.calculateSquare,
	)
}
