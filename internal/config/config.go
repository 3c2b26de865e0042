// Package config provides the application configuration, read once at process start
// from environment variables and an optional .env file.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/allisson/go-env"
	validation "github.com/jellydator/validation"
	"github.com/jellydator/validation/is"
	"github.com/joho/godotenv"
)

// Config holds all application configuration. It is built by Load and must not be
// mutated afterwards; components receive it (or the values they need) by injection.
type Config struct {
	// ServerHost is the host address the MCP server binds to.
	ServerHost string
	// ServerPort is the port the MCP server listens on.
	ServerPort int
	// ServerURL is the public URL of this resource server, advertised as "resource"
	// in the protected resource metadata.
	ServerURL string

	// OktaDomain is the authorization server domain, e.g. "dev-123.okta.com".
	OktaDomain string
	// OktaIssuer is the authorization server issuer URL, e.g. "https://dev-123.okta.com/oauth2/default".
	OktaIssuer string
	// ClientID is the client used for introspection and token exchange.
	ClientID string
	// ClientSecret is the secret of ClientID.
	ClientSecret string
	// OktaAudience is the audience the backend expects in delegated JWTs.
	OktaAudience string

	// RequiredScopes must all be present on a caller's token.
	RequiredScopes []string

	// ThirdPartyScope is the scope requested when exchanging tokens for the third-party API.
	ThirdPartyScope string
	// ThirdPartyAudience is the audience requested when exchanging tokens for the third-party API.
	ThirdPartyAudience string
	// ThirdPartyAPIURL is the downstream API called with the exchanged token.
	ThirdPartyAPIURL string

	// IntrospectionTimeout caps a single introspection call.
	IntrospectionTimeout time.Duration
	// TokenExchangeTimeout caps a single token endpoint call.
	TokenExchangeTimeout time.Duration
	// ThirdPartyTimeout caps a single call to the third-party API.
	ThirdPartyTimeout time.Duration

	// MetricsEnabled turns on the Prometheus endpoint.
	MetricsEnabled bool
	// MetricsPort is the port the metrics server listens on.
	MetricsPort int
	// MetricsNamespace prefixes every metric name.
	MetricsNamespace string

	// BackendPort is the port the backend JWT validator listens on.
	BackendPort int

	// VerifySSL controls TLS verification for the MCP client.
	VerifySSL bool
	// CABundlePath is an optional PEM bundle trusted by the MCP client.
	CABundlePath string

	// LogLevel is the logging level (debug, info, warn, error).
	LogLevel string
}

// Load loads configuration from environment variables and the nearest .env file.
func Load() *Config {
	loadDotEnv()

	host := env.GetString("MCP_SERVER_HOST", "localhost")
	port := env.GetInt("MCP_SERVER_PORT", 8001)

	return &Config{
		ServerHost: host,
		ServerPort: port,
		ServerURL:  env.GetString("MCP_SERVER_URL", fmt.Sprintf("http://%s:%d", host, port)),

		// Authorization server
		OktaDomain:   env.GetString("OKTA_DOMAIN", ""),
		OktaIssuer:   strings.TrimSuffix(env.GetString("OKTA_ISSUER", ""), "/"),
		ClientID:     env.GetString("OKTA_CLIENT_ID", ""),
		ClientSecret: env.GetString("OKTA_CLIENT_SECRET", ""),
		OktaAudience: env.GetString("OKTA_AUDIENCE", "api://default"),

		RequiredScopes: strings.Fields(env.GetString("MCP_REQUIRED_SCOPES", "mcp:access")),

		// Delegation
		ThirdPartyScope:    env.GetString("THIRD_PARTY_SCOPE", ""),
		ThirdPartyAudience: env.GetString("THIRD_PARTY_AUDIENCE", ""),
		ThirdPartyAPIURL:   env.GetString("THIRD_PARTY_API_URL", ""),

		// Timeouts
		IntrospectionTimeout: env.GetDuration("INTROSPECTION_TIMEOUT_SECONDS", 10, time.Second),
		TokenExchangeTimeout: env.GetDuration("TOKEN_EXCHANGE_TIMEOUT_SECONDS", 10, time.Second),
		ThirdPartyTimeout:    env.GetDuration("THIRD_PARTY_TIMEOUT_SECONDS", 10, time.Second),

		// Metrics
		MetricsEnabled:   env.GetBool("METRICS_ENABLED", false),
		MetricsPort:      env.GetInt("METRICS_PORT", 9090),
		MetricsNamespace: env.GetString("METRICS_NAMESPACE", "mcp_okta"),

		BackendPort: env.GetInt("BACKEND_PORT", 8000),

		// MCP client
		VerifySSL:    strings.ToLower(env.GetString("VERIFY_SSL", "true")) != "false",
		CABundlePath: env.GetString("CA_BUNDLE_PATH", ""),

		LogLevel: env.GetString("LOG_LEVEL", "info"),
	}
}

// Validate checks the settings the resource server cannot start without.
func (c *Config) Validate() error {
	return validation.ValidateStruct(c,
		validation.Field(&c.ServerURL, validation.Required, is.URL),
		validation.Field(&c.OktaDomain, validation.Required.Error("OKTA_DOMAIN is required")),
		validation.Field(&c.OktaIssuer, validation.Required.Error("OKTA_ISSUER is required"), is.URL),
		validation.Field(&c.ClientID, validation.Required.Error("OKTA_CLIENT_ID is required")),
		validation.Field(&c.ClientSecret, validation.Required.Error("OKTA_CLIENT_SECRET is required")),
		validation.Field(&c.RequiredScopes, validation.Required.Error("MCP_REQUIRED_SCOPES must name at least one scope")),
		validation.Field(&c.IntrospectionTimeout, validation.Min(time.Millisecond)),
		validation.Field(&c.TokenExchangeTimeout, validation.Min(time.Millisecond)),
		validation.Field(&c.ThirdPartyTimeout, validation.Min(time.Millisecond)),
	)
}

// ValidateBackend checks the settings the backend JWT validator needs.
func (c *Config) ValidateBackend() error {
	return validation.ValidateStruct(c,
		validation.Field(&c.OktaDomain, validation.Required.Error("OKTA_DOMAIN is required")),
		validation.Field(&c.OktaAudience, validation.Required),
	)
}

// DelegationConfigured reports whether every setting needed by the third-party
// delegation flow is present.
func (c *Config) DelegationConfigured() bool {
	return c.OktaIssuer != "" && c.ThirdPartyScope != "" && c.ThirdPartyAudience != "" && c.ThirdPartyAPIURL != ""
}

// loadDotEnv searches for a .env file from the current directory up to the root
// and loads the first one found. Variables already set in the environment win.
func loadDotEnv() {
	cwd, err := os.Getwd()
	if err != nil {
		return
	}

	dir := cwd
	for {
		envPath := filepath.Join(dir, ".env")
		if _, err := os.Stat(envPath); err == nil {
			_ = godotenv.Load(envPath)
			return
		}

		parent := filepath.Dir(dir)
		if parent == dir {
			return
		}
		dir = parent
	}
}
