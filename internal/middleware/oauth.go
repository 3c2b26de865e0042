package middleware

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"github.com/google/uuid"
	"github.com/modelcontextprotocol/go-sdk/oauthex"
	"github.com/oktamcp/mcp-okta/internal/introspect"
	"go.uber.org/zap"
)

//go:generate go tool -modfile ../../gotools/mockgen/go.mod mockgen -destination=mocks/verifier_mock.go -package=mocks -source=oauth.go TokenVerifier

// MetadataPath is where the protected resource metadata is served.
const MetadataPath = "/.well-known/oauth-protected-resource"

// CORS constants for the protected resource metadata endpoint.
const (
	corsAllowOrigin  = "*"
	corsAllowMethods = "GET, OPTIONS"
	corsAllowHeaders = "Content-Type"
)

var (
	errInvalidToken = errors.New("invalid Bearer token")
	errMissingToken = errors.New("missing authorization header")

	// ErrInsufficientScope is reported when an active token lacks a required scope.
	ErrInsufficientScope = errors.New("insufficient scope")
)

// TokenVerifier checks a raw bearer token with the authorization server.
type TokenVerifier interface {
	Verify(ctx context.Context, token string) (*introspect.AccessToken, error)
}

// NewOAuthConfig creates and returns a new OAuthConfig value.
func NewOAuthConfig(authorizationServerURL, resourceURL string, requiredScopes []string, verifier TokenVerifier) *OAuthConfig {
	return &OAuthConfig{
		AuthorizationServerURL: authorizationServerURL,
		ResourceURL:            resourceURL,
		RequiredScopes:         requiredScopes,
		Verifier:               verifier,
	}
}

// OAuthConfig holds OAuth configuration.
type OAuthConfig struct {
	// AuthorizationServerURL is the issuer of the tokens this server accepts.
	// https://modelcontextprotocol.io/specification/draft/basic/authorization#authorization-server-location
	AuthorizationServerURL string

	// ResourceURL is the user-facing URL for this resource server.
	ResourceURL string

	// RequiredScopes must all be carried by a caller's token. They are also
	// advertised as scopes_supported.
	RequiredScopes []string

	// Verifier introspects bearer tokens.
	Verifier TokenVerifier
}

// OAuthMiddleware is a middleware that authenticates the bearer token and
// enforces RequiredScopes before calling next.
func (c *OAuthConfig) OAuthMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		logger := zap.L().With(zap.String("request_id", uuid.NewString()))

		if c.Verifier == nil {
			logger.Error("Token verifier not configured")
			http.Error(w, "Internal Server Error", http.StatusInternalServerError)
			return
		}

		token, err := extractToken(r)
		if err != nil {
			logger.Debug("Rejecting request", zap.Error(err))
			c.sendUnauthorized(w)
			return
		}

		accessToken, err := c.Verifier.Verify(r.Context(), token)
		if err != nil {
			logger.Info("Rejecting unauthenticated request", zap.Error(err))
			c.sendUnauthorized(w)
			return
		}

		if missing := accessToken.MissingScopes(c.RequiredScopes...); len(missing) > 0 {
			logger.Info("Rejecting request",
				zap.Error(ErrInsufficientScope),
				zap.String("subject", accessToken.Subject),
				zap.Strings("missing_scopes", missing))
			c.sendForbidden(w)
			return
		}

		logger.Debug("Request authorized",
			zap.String("subject", accessToken.Subject),
			zap.String("client_id", accessToken.ClientID))

		next.ServeHTTP(w, r.Clone(WithAccessToken(r.Context(), accessToken)))
	})
}

// extractToken extracts the Bearer token from the Authorization header.
func extractToken(r *http.Request) (string, error) {
	authHeader := r.Header.Get("Authorization")
	if authHeader == "" {
		return "", errMissingToken
	}

	scheme, tokenString, ok := strings.Cut(authHeader, " ")
	if !ok || !strings.EqualFold(scheme, "Bearer") {
		return "", errInvalidToken
	}

	tokenString = strings.TrimSpace(tokenString)
	if tokenString == "" {
		return "", errInvalidToken
	}

	return tokenString, nil
}

func (c *OAuthConfig) metadataURL() (string, error) {
	return url.JoinPath(c.ResourceURL, MetadataPath)
}

// sendUnauthorized sends a 401 response with WWW-Authenticate header.
func (c *OAuthConfig) sendUnauthorized(w http.ResponseWriter) {
	metadataURL, err := c.metadataURL()
	if err != nil {
		zap.L().Error("Failed to construct metadata URL", zap.Error(err))
		http.Error(w, "Failed to construct metadata URL", http.StatusInternalServerError)
		return
	}

	w.Header().Set("WWW-Authenticate",
		fmt.Sprintf("Bearer resource_metadata=%q", metadataURL))
	http.Error(w, "Unauthorized", http.StatusUnauthorized)
}

// sendForbidden sends a 403 response naming the scopes the caller must obtain.
func (c *OAuthConfig) sendForbidden(w http.ResponseWriter) {
	metadataURL, err := c.metadataURL()
	if err != nil {
		zap.L().Error("Failed to construct metadata URL", zap.Error(err))
		http.Error(w, "Failed to construct metadata URL", http.StatusInternalServerError)
		return
	}

	w.Header().Set("WWW-Authenticate",
		fmt.Sprintf("Bearer error=%q, scope=%q, resource_metadata=%q",
			"insufficient_scope", strings.Join(c.RequiredScopes, " "), metadataURL))
	http.Error(w, "Forbidden", http.StatusForbidden)
}

// HandleProtectedResourceMetadata handles the protected resource metadata endpoint
//
// https://modelcontextprotocol.io/specification/draft/basic/authorization#protected-resource-metadata-discovery-requirements
func (c *OAuthConfig) HandleProtectedResourceMetadata(w http.ResponseWriter, r *http.Request) {
	// Set CORS headers
	w.Header().Set("Access-Control-Allow-Origin", corsAllowOrigin)
	w.Header().Set("Access-Control-Allow-Methods", corsAllowMethods)
	w.Header().Set("Access-Control-Allow-Headers", corsAllowHeaders)

	switch r.Method {
	case http.MethodOptions:
		w.WriteHeader(http.StatusOK)
		return
	case http.MethodGet, http.MethodHead:
	default:
		w.Header().Set("Allow", corsAllowMethods)
		http.Error(w, "Method Not Allowed", http.StatusMethodNotAllowed)
		return
	}

	scopes := c.RequiredScopes
	if scopes == nil {
		scopes = []string{}
	}

	metadata := oauthex.ProtectedResourceMetadata{
		Resource:               c.ResourceURL,
		AuthorizationServers:   []string{c.AuthorizationServerURL},
		ScopesSupported:        scopes,
		BearerMethodsSupported: []string{"header"},
	}

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(metadata); err != nil {
		zap.L().Error("Failed to marshal protected resource metadata", zap.Error(err))
	}
}
