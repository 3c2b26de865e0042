package thirdparty

import (
	"context"

	"github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/oktamcp/mcp-okta/internal/delegate"
	"github.com/oktamcp/mcp-okta/internal/exchange"
)

//go:generate go tool -modfile ../../../gotools/mockgen/go.mod mockgen -destination=mocks/tools_mock.go -package=mocks -source=tools.go TokenExchanger,APICaller

const (
	toolsSet    = "thirdparty"
	toolsSetAnn = "toolset"
)

// TokenExchanger trades the caller's token for a delegated one.
type TokenExchanger interface {
	Exchange(ctx context.Context, req exchange.Request) (*exchange.Result, error)
}

// APICaller calls the third-party API with a delegated token.
type APICaller interface {
	Get(ctx context.Context, accessToken string) (*delegate.Response, error)
}

// Tools contains the delegation tools for the MCP server.
type Tools struct {
	exchanger TokenExchanger
	caller    APICaller
	scope     string
	audience  string
}

// NewTools creates and returns a new Tools instance. scope and audience are
// requested on every exchange.
func NewTools(exchanger TokenExchanger, caller APICaller, scope, audience string) *Tools {
	return &Tools{
		exchanger: exchanger,
		caller:    caller,
		scope:     scope,
		audience:  audience,
	}
}

// AddTools registers the delegation tools with the provided MCP server.
func (t *Tools) AddTools(mcpServer *mcp.Server) {
	mcp.AddTool(mcpServer, &mcp.Tool{
		Name: "call_third_party_api",
		Meta: map[string]any{
			toolsSetAnn: toolsSet,
		},
		Description: `Call the third-party API on behalf of the authenticated user.
		The caller's token is exchanged for a DPoP-bound token restricted to the third-party
		scope and audience, which is then presented to the API.

		Returns:
		The HTTP status and JSON body returned by the third-party API.`},
		t.callThirdPartyAPI,
	)
}
