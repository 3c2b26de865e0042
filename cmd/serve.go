package cmd

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"

	"github.com/MakeNowJust/heredoc/v2"
	"github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/oktamcp/mcp-okta/internal/config"
	"github.com/oktamcp/mcp-okta/internal/delegate"
	"github.com/oktamcp/mcp-okta/internal/exchange"
	"github.com/oktamcp/mcp-okta/internal/introspect"
	"github.com/oktamcp/mcp-okta/internal/metrics"
	"github.com/oktamcp/mcp-okta/internal/middleware"
	"github.com/oktamcp/mcp-okta/pkg/toolsets"
	"github.com/oktamcp/mcp-okta/pkg/version"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

const serverName = "mcp-okta"

var (
	host string
	port int
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the MCP server",
	Long: heredoc.Doc(`
		Start the MCP server. Every request to the MCP endpoint must carry an Okta
		bearer token holding MCP_REQUIRED_SCOPES. The protected resource metadata is
		served at /.well-known/oauth-protected-resource.

		Configuration is read from the environment and the nearest .env file.
	`),
	RunE: runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)

	serveCmd.Flags().StringVar(&host, "host", "", "Host to listen on; defaults to MCP_SERVER_HOST")
	serveCmd.Flags().IntVar(&port, "port", 0, "Port to listen on; defaults to MCP_SERVER_PORT")
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg := config.Load()
	if host != "" {
		cfg.ServerHost = host
	}
	if port != 0 {
		cfg.ServerPort = port
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	ctx, cancel := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	authMetrics := metrics.AuthMetrics(metrics.NoOp{})
	var metricsProvider *metrics.Provider
	if cfg.MetricsEnabled {
		var err error
		metricsProvider, err = metrics.NewProvider()
		if err != nil {
			return err
		}
		defer func() { _ = metricsProvider.Shutdown(context.Background()) }()

		authMetrics, err = metrics.NewAuthMetrics(metricsProvider.MeterProvider(), cfg.MetricsNamespace)
		if err != nil {
			return err
		}
	}

	handler, err := newServeHandler(cfg, authMetrics, http.DefaultClient)
	if err != nil {
		return err
	}

	zap.L().Info("Starting MCP server",
		zap.String("version", version.GetVersion()),
		zap.String("issuer", cfg.OktaIssuer),
		zap.Strings("requiredScopes", cfg.RequiredScopes),
		zap.Bool("delegation", cfg.DelegationConfigured()))

	apiServer, err := newNamedServer("mcp", net.JoinHostPort(cfg.ServerHost, strconv.Itoa(cfg.ServerPort)), handler)
	if err != nil {
		return err
	}
	servers := []*namedServer{apiServer}

	if metricsProvider != nil {
		metricsMux := http.NewServeMux()
		metricsMux.Handle("/metrics", metricsProvider.Handler())
		metricsServer, err := newNamedServer("metrics", net.JoinHostPort(cfg.ServerHost, strconv.Itoa(cfg.MetricsPort)), metricsMux)
		if err != nil {
			_ = apiServer.listener.Close()
			return err
		}
		servers = append(servers, metricsServer)
	}

	return runServers(ctx, servers...)
}

// newServeHandler wires the verifier, the exchange engine and the delegated
// caller into the MCP server and returns its HTTP handler. httpClient is used
// for every outbound call.
func newServeHandler(cfg *config.Config, authMetrics metrics.AuthMetrics, httpClient *http.Client) (http.Handler, error) {
	verifier, err := introspect.NewVerifier(introspect.Options{
		IntrospectionURL: introspect.IntrospectionURL(cfg.OktaIssuer),
		ClientID:         cfg.ClientID,
		ClientSecret:     cfg.ClientSecret,
		Timeout:          cfg.IntrospectionTimeout,
		HTTPClient:       httpClient,
		Metrics:          authMetrics,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create token verifier: %w", err)
	}

	engine := exchange.NewEngine(exchange.Options{
		TokenURL:     exchange.TokenURL(cfg.OktaIssuer),
		ClientID:     cfg.ClientID,
		ClientSecret: cfg.ClientSecret,
		Timeout:      cfg.TokenExchangeTimeout,
		HTTPClient:   httpClient,
		Metrics:      authMetrics,
	})

	caller := delegate.NewCaller(delegate.Options{
		URL:        cfg.ThirdPartyAPIURL,
		Timeout:    cfg.ThirdPartyTimeout,
		HTTPClient: httpClient,
		Metrics:    authMetrics,
	})

	if !cfg.DelegationConfigured() {
		zap.L().Warn("Third-party delegation is not fully configured; call_third_party_api will fail")
	}

	mcpServer := mcp.NewServer(&mcp.Implementation{Name: serverName, Version: version.Version}, nil)
	toolsets.AddAllTools(toolsets.Dependencies{
		Exchanger:          engine,
		Caller:             caller,
		ThirdPartyScope:    cfg.ThirdPartyScope,
		ThirdPartyAudience: cfg.ThirdPartyAudience,
	}, mcpServer)

	mcpHandler := mcp.NewStreamableHTTPHandler(func(request *http.Request) *mcp.Server {
		return mcpServer
	}, &mcp.StreamableHTTPOptions{})

	oauthConfig := middleware.NewOAuthConfig(cfg.OktaIssuer, cfg.ServerURL, cfg.RequiredScopes, verifier)

	mux := http.NewServeMux()
	mux.HandleFunc(middleware.MetadataPath, oauthConfig.HandleProtectedResourceMetadata)
	mux.Handle("/mcp", oauthConfig.OAuthMiddleware(mcpHandler))
	mux.Handle("/", oauthConfig.OAuthMiddleware(mcpHandler))

	return mux, nil
}
