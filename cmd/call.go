package cmd

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/MakeNowJust/heredoc/v2"
	"github.com/allisson/go-env"
	"github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/oktamcp/mcp-okta/internal/config"
	"github.com/oktamcp/mcp-okta/pkg/version"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/oauth2"
)

const clientTimeout = 30 * time.Second

var (
	accessToken string
	serverURL   string
)

var callCmd = &cobra.Command{
	Use:   "call",
	Short: "Call the MCP server tools with an access token",
	Long: heredoc.Doc(`
		Connect to the MCP server with an Okta access token, list its tools and call
		get_current_time, calculate_square and call_third_party_api.

		The token is taken from --token or MCP_ACCESS_TOKEN. TLS verification follows
		VERIFY_SSL and CA_BUNDLE_PATH.
	`),
	RunE: runCall,
}

func init() {
	rootCmd.AddCommand(callCmd)

	callCmd.Flags().StringVar(&accessToken, "token", "", "Access token; defaults to MCP_ACCESS_TOKEN")
	callCmd.Flags().StringVar(&serverURL, "server-url", "", "MCP endpoint; defaults to MCP_SERVER_URL/mcp")
}

func runCall(cmd *cobra.Command, args []string) error {
	cfg := config.Load()

	token := accessToken
	if token == "" {
		token = env.GetString("MCP_ACCESS_TOKEN", "")
	}
	if token == "" {
		return errors.New("an access token is required, set --token or MCP_ACCESS_TOKEN")
	}

	endpoint := serverURL
	if endpoint == "" {
		endpoint = strings.TrimSuffix(cfg.ServerURL, "/") + "/mcp"
	}

	httpClient, err := newClientHTTPClient(cfg.VerifySSL, cfg.CABundlePath)
	if err != nil {
		return err
	}
	httpClient.Transport = &oauth2.Transport{
		Source: oauth2.StaticTokenSource(&oauth2.Token{AccessToken: token, TokenType: "Bearer"}),
		Base:   httpClient.Transport,
	}

	return runClient(cmd.Context(), cmd.OutOrStdout(), endpoint, httpClient)
}

// newClientHTTPClient returns a client trusting caBundlePath when set, and
// skipping TLS verification when verifySSL is false and no bundle is given.
func newClientHTTPClient(verifySSL bool, caBundlePath string) (*http.Client, error) {
	transport := http.DefaultTransport.(*http.Transport).Clone()

	switch {
	case caBundlePath != "":
		pem, err := os.ReadFile(caBundlePath)
		if err != nil {
			return nil, fmt.Errorf("failed to read CA bundle: %w", err)
		}
		pool := x509.NewCertPool()
		if !pool.AppendCertsFromPEM(pem) {
			return nil, fmt.Errorf("no certificates found in CA bundle %s", caBundlePath)
		}
		transport.TLSClientConfig = &tls.Config{RootCAs: pool}
		zap.L().Info("Using custom CA bundle", zap.String("path", caBundlePath))
	case !verifySSL:
		transport.TLSClientConfig = &tls.Config{InsecureSkipVerify: true}
		zap.L().Warn("SSL verification is disabled; use only in test environments")
	}

	return &http.Client{Transport: transport, Timeout: clientTimeout}, nil
}

// runClient connects to endpoint, lists the tools and calls each demo tool,
// writing the results to out.
func runClient(ctx context.Context, out io.Writer, endpoint string, httpClient *http.Client) error {
	transport := &mcp.StreamableClientTransport{
		Endpoint:   endpoint,
		HTTPClient: httpClient,
	}
	client := mcp.NewClient(&mcp.Implementation{Name: "mcp-okta-client", Version: version.Version}, nil)

	cs, err := client.Connect(ctx, transport, nil)
	if err != nil {
		return fmt.Errorf("failed to connect to %s: %w", endpoint, err)
	}
	defer cs.Close()

	tools, err := cs.ListTools(ctx, &mcp.ListToolsParams{})
	if err != nil {
		return fmt.Errorf("failed to list tools: %w", err)
	}
	fmt.Fprintf(out, "Available tools (%d):\n", len(tools.Tools))
	for _, tool := range tools.Tools {
		fmt.Fprintf(out, "  - %s: %s\n", tool.Name, tool.Description)
	}

	calls := []struct {
		name      string
		arguments map[string]any
	}{
		{name: "get_current_time", arguments: map[string]any{}},
		{name: "calculate_square", arguments: map[string]any{"number": 7}},
		{name: "call_third_party_api", arguments: map[string]any{}},
	}
	for _, call := range calls {
		result, err := cs.CallTool(ctx, &mcp.CallToolParams{Name: call.name, Arguments: call.arguments})
		if err != nil {
			return fmt.Errorf("failed to call %s: %w", call.name, err)
		}
		fmt.Fprintf(out, "\n%s:\n%s\n", call.name, formatResult(result))
	}

	return nil
}

func formatResult(result *mcp.CallToolResult) string {
	var b strings.Builder
	if result.IsError {
		b.WriteString("error: ")
	}
	for _, content := range result.Content {
		if text, ok := content.(*mcp.TextContent); ok {
			b.WriteString(text.Text)
			continue
		}
		raw, _ := json.Marshal(content)
		b.Write(raw)
	}
	return b.String()
}
