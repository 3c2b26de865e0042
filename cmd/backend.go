package cmd

import (
	"fmt"
	"net"
	"os"
	"os/signal"
	"strconv"
	"syscall"

	"github.com/MakeNowJust/heredoc/v2"
	"github.com/oktamcp/mcp-okta/internal/backend"
	"github.com/oktamcp/mcp-okta/internal/config"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var (
	backendHost string
	backendPort int
)

var backendCmd = &cobra.Command{
	Use:   "backend",
	Short: "Start the JWT-protected backend API",
	Long: heredoc.Doc(`
		Start the downstream API reached by call_third_party_api. GET / validates the
		bearer JWT against the Okta JWKS (RS256, issuer and OKTA_AUDIENCE) and
		returns its claims.
	`),
	RunE: runBackend,
}

func init() {
	rootCmd.AddCommand(backendCmd)

	backendCmd.Flags().StringVar(&backendHost, "host", "localhost", "Host to listen on")
	backendCmd.Flags().IntVar(&backendPort, "port", 0, "Port to listen on; defaults to BACKEND_PORT")
}

func runBackend(cmd *cobra.Command, args []string) error {
	cfg := config.Load()
	if backendPort != 0 {
		cfg.BackendPort = backendPort
	}
	if err := cfg.ValidateBackend(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	ctx, cancel := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	validator, err := backend.NewValidator(ctx, backend.Options{
		JWKSURL:     backend.JWKSURL(cfg.OktaDomain),
		Issuer:      backend.Issuer(cfg.OktaDomain),
		Audience:    cfg.OktaAudience,
		InsecureTLS: !cfg.VerifySSL,
	})
	if err != nil {
		return fmt.Errorf("failed to create JWT validator: %w", err)
	}

	zap.L().Info("Starting backend API",
		zap.String("issuer", backend.Issuer(cfg.OktaDomain)),
		zap.String("audience", cfg.OktaAudience))

	server, err := newNamedServer("backend", net.JoinHostPort(backendHost, strconv.Itoa(cfg.BackendPort)), backend.NewHandler(validator))
	if err != nil {
		return err
	}

	return runServers(ctx, server)
}
