package cmd

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/oktamcp/mcp-okta/internal/config"
	"github.com/oktamcp/mcp-okta/internal/metrics"
	"github.com/oktamcp/mcp-okta/pkg/dpop"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/oauth2"
)

const (
	testClientID     = "test-client"
	testClientSecret = "test-secret"
	goodToken        = "good-token"
	noScopeToken     = "no-scope-token"
	exchangedToken   = "exchanged-token"
	serverNonce      = "server-nonce"
)

func TestServeCmd(t *testing.T) {
	assert.NotNil(t, serveCmd)
	assert.Equal(t, "serve", serveCmd.Use)
	assert.Equal(t, "Start the MCP server", serveCmd.Short)
	assert.NotNil(t, serveCmd.RunE)

	hostFlag := serveCmd.Flags().Lookup("host")
	require.NotNil(t, hostFlag)
	assert.Equal(t, "", hostFlag.DefValue)

	portFlag := serveCmd.Flags().Lookup("port")
	require.NotNil(t, portFlag)
	assert.Equal(t, "0", portFlag.DefValue)
}

// fakeOkta serves introspection and token exchange for a fixed set of tokens.
type fakeOkta struct {
	mu             sync.Mutex
	tokenCalls     int
	proofNonces    []string
	subjectTokens  []string
	introspections int
}

func (f *fakeOkta) handler(t *testing.T) http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("POST /oauth2/default/v1/introspect", func(w http.ResponseWriter, r *http.Request) {
		user, pass, ok := r.BasicAuth()
		if !ok || user != testClientID || pass != testClientSecret {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		assert.NoError(t, r.ParseForm())

		f.mu.Lock()
		f.introspections++
		f.mu.Unlock()

		exp := time.Now().Add(time.Hour).Unix()
		w.Header().Set("Content-Type", "application/json")
		switch r.PostForm.Get("token") {
		case goodToken:
			_ = json.NewEncoder(w).Encode(map[string]any{
				"active": true, "scope": "openid mcp:access", "client_id": "mcp-client",
				"username": "alice@example.com", "exp": exp,
			})
		case noScopeToken:
			_ = json.NewEncoder(w).Encode(map[string]any{
				"active": true, "scope": "openid", "client_id": "mcp-client", "exp": exp,
			})
		default:
			_ = json.NewEncoder(w).Encode(map[string]any{"active": false})
		}
	})

	mux.HandleFunc("POST /oauth2/default/v1/token", func(w http.ResponseWriter, r *http.Request) {
		assert.NoError(t, r.ParseForm())
		claims, _, err := dpop.ParseProof(r.Header.Get(dpop.HeaderName))
		if !assert.NoError(t, err) {
			w.WriteHeader(http.StatusBadRequest)
			return
		}

		f.mu.Lock()
		f.tokenCalls++
		f.proofNonces = append(f.proofNonces, claims.Nonce)
		f.subjectTokens = append(f.subjectTokens, r.PostForm.Get("subject_token"))
		f.mu.Unlock()

		w.Header().Set("Content-Type", "application/json")
		if claims.Nonce != serverNonce {
			w.Header().Set(dpop.NonceHeaderName, serverNonce)
			w.WriteHeader(http.StatusBadRequest)
			_, _ = w.Write([]byte(`{"error":"use_dpop_nonce","error_description":"Authorization server requires nonce in DPoP proof."}`))
			return
		}
		_, _ = w.Write([]byte(`{"access_token":"` + exchangedToken + `","token_type":"DPoP","issued_token_type":"urn:ietf:params:oauth:token-type:access_token","expires_in":3600,"scope":"api:read"}`))
	})

	return mux
}

type testEnvironment struct {
	okta      *fakeOkta
	mcpServer *httptest.Server
	cfg       *config.Config
}

func setupTestEnvironment(t *testing.T) *testEnvironment {
	t.Helper()

	okta := &fakeOkta{}
	oktaServer := httptest.NewServer(okta.handler(t))
	t.Cleanup(oktaServer.Close)

	backendServer := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer "+exchangedToken {
			w.WriteHeader(http.StatusUnauthorized)
			_, _ = w.Write([]byte(`{"detail":"Not authenticated"}`))
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"sub":"alice@example.com","aud":"api://third-party"}`))
	}))
	t.Cleanup(backendServer.Close)

	cfg := &config.Config{
		ServerURL:            "http://mcp.example.com",
		OktaIssuer:           oktaServer.URL + "/oauth2/default",
		ClientID:             testClientID,
		ClientSecret:         testClientSecret,
		RequiredScopes:       []string{"mcp:access"},
		ThirdPartyScope:      "api:read",
		ThirdPartyAudience:   "api://third-party",
		ThirdPartyAPIURL:     backendServer.URL,
		IntrospectionTimeout: 5 * time.Second,
		TokenExchangeTimeout: 5 * time.Second,
		ThirdPartyTimeout:    5 * time.Second,
	}

	handler, err := newServeHandler(cfg, metrics.NoOp{}, http.DefaultClient)
	require.NoError(t, err)

	mcpServer := httptest.NewServer(handler)
	t.Cleanup(mcpServer.Close)

	return &testEnvironment{okta: okta, mcpServer: mcpServer, cfg: cfg}
}

func bearerClient(token string) *http.Client {
	return &http.Client{
		Transport: &oauth2.Transport{
			Source: oauth2.StaticTokenSource(&oauth2.Token{AccessToken: token, TokenType: "Bearer"}),
		},
		Timeout: 10 * time.Second,
	}
}

func TestNewServeHandlerMissingCredentials(t *testing.T) {
	_, err := newServeHandler(&config.Config{OktaIssuer: "https://example.okta.com/oauth2/default"}, metrics.NoOp{}, nil)

	assert.ErrorContains(t, err, "failed to create token verifier")
}

func TestServeHandlerRejectsUnauthenticatedRequests(t *testing.T) {
	env := setupTestEnvironment(t)

	tests := []struct {
		name           string
		token          string
		expectedStatus int
		expectedHeader string
	}{
		{
			name:           "missing token",
			expectedStatus: http.StatusUnauthorized,
			expectedHeader: `Bearer resource_metadata="http://mcp.example.com/.well-known/oauth-protected-resource"`,
		},
		{
			name:           "inactive token",
			token:          "revoked-token",
			expectedStatus: http.StatusUnauthorized,
			expectedHeader: `Bearer resource_metadata="http://mcp.example.com/.well-known/oauth-protected-resource"`,
		},
		{
			name:           "insufficient scope",
			token:          noScopeToken,
			expectedStatus: http.StatusForbidden,
			expectedHeader: `Bearer error="insufficient_scope", scope="mcp:access", resource_metadata="http://mcp.example.com/.well-known/oauth-protected-resource"`,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req, err := http.NewRequest(http.MethodPost, env.mcpServer.URL+"/mcp", strings.NewReader(`{}`))
			require.NoError(t, err)
			if tt.token != "" {
				req.Header.Set("Authorization", "Bearer "+tt.token)
			}

			resp, err := http.DefaultClient.Do(req)
			require.NoError(t, err)
			defer resp.Body.Close()

			assert.Equal(t, tt.expectedStatus, resp.StatusCode)
			assert.Equal(t, tt.expectedHeader, resp.Header.Get("WWW-Authenticate"))
		})
	}
}

func TestServeHandlerProtectedResourceMetadata(t *testing.T) {
	env := setupTestEnvironment(t)

	resp, err := http.Get(env.mcpServer.URL + "/.well-known/oauth-protected-resource")
	require.NoError(t, err)
	defer resp.Body.Close()

	require.Equal(t, http.StatusOK, resp.StatusCode)
	var metadata map[string]any
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&metadata))

	assert.Equal(t, "http://mcp.example.com", metadata["resource"])
	assert.Equal(t, []any{env.cfg.OktaIssuer}, metadata["authorization_servers"])
	assert.Equal(t, []any{"mcp:access"}, metadata["scopes_supported"])
	assert.Equal(t, []any{"header"}, metadata["bearer_methods_supported"])

	env.okta.mu.Lock()
	defer env.okta.mu.Unlock()
	assert.Zero(t, env.okta.introspections, "metadata must not require a token")
}

func TestServeHandlerEndToEnd(t *testing.T) {
	env := setupTestEnvironment(t)

	var out bytes.Buffer
	err := runClient(t.Context(), &out, env.mcpServer.URL+"/mcp", bearerClient(goodToken))
	require.NoError(t, err)

	output := out.String()
	assert.Contains(t, output, "Available tools (3):")
	assert.Contains(t, output, "get_current_time")
	assert.Contains(t, output, `"timezone":"UTC"`)
	assert.Contains(t, output, `"square":49`)
	assert.Contains(t, output, `"calculation":"7² = 49"`)
	assert.Contains(t, output, `{"status_code":200,"response":{"sub":"alice@example.com","aud":"api://third-party"}}`)
	assert.NotContains(t, output, exchangedToken)

	env.okta.mu.Lock()
	defer env.okta.mu.Unlock()
	assert.Equal(t, 2, env.okta.tokenCalls, "the exchange retries once with the server nonce")
	assert.Equal(t, []string{"", serverNonce}, env.okta.proofNonces)
	assert.Equal(t, []string{goodToken, goodToken}, env.okta.subjectTokens)
}

func TestServeHandlerWithoutDelegation(t *testing.T) {
	env := setupTestEnvironment(t)
	env.cfg.ThirdPartyAPIURL = ""
	env.cfg.ThirdPartyAudience = ""

	handler, err := newServeHandler(env.cfg, metrics.NoOp{}, http.DefaultClient)
	require.NoError(t, err)
	server := httptest.NewServer(handler)
	defer server.Close()

	var out bytes.Buffer
	require.NoError(t, runClient(t.Context(), &out, server.URL+"/mcp", bearerClient(goodToken)))

	assert.Contains(t, out.String(), `"square":49`)
	assert.Contains(t, out.String(), "error: Third-party delegation is not configured")

	env.okta.mu.Lock()
	defer env.okta.mu.Unlock()
	assert.Zero(t, env.okta.tokenCalls)
}
