package toolsets

import (
	"github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/oktamcp/mcp-okta/pkg/toolsets/core"
	"github.com/oktamcp/mcp-okta/pkg/toolsets/thirdparty"
)

// toolsAdder is an interface for types that can add tools to an MCP server.
type toolsAdder interface {
	AddTools(mcpServer *mcp.Server)
}

// Dependencies are the collaborators the toolsets call into.
type Dependencies struct {
	// Exchanger performs token exchange for delegated calls.
	Exchanger thirdparty.TokenExchanger
	// Caller calls the third-party API.
	Caller thirdparty.APICaller
	// ThirdPartyScope and ThirdPartyAudience are requested on every exchange.
	ThirdPartyScope    string
	ThirdPartyAudience string
}

// ToolSets groups the toolsets registered on a server.
type ToolSets struct {
	toolsAdders []toolsAdder
}

// NewToolSetsWithAllTools returns every available toolset.
func NewToolSetsWithAllTools(deps Dependencies) *ToolSets {
	return &ToolSets{
		toolsAdders: []toolsAdder{
			core.NewTools(),
			thirdparty.NewTools(deps.Exchanger, deps.Caller, deps.ThirdPartyScope, deps.ThirdPartyAudience),
		},
	}
}

// AddTools adds the tools of every toolset to the MCP server.
func (t *ToolSets) AddTools(mcpServer *mcp.Server) {
	for _, ta := range t.toolsAdders {
		ta.AddTools(mcpServer)
	}
}

// AddAllTools adds all available tools to the MCP server.
func AddAllTools(deps Dependencies, mcpServer *mcp.Server) {
	NewToolSetsWithAllTools(deps).AddTools(mcpServer)
}
