// Package middleware provides HTTP middleware components for the MCP server.
//
// # OAuth 2.0 Authorization
//
// The primary component is a middleware that authenticates bearer tokens through
// a TokenVerifier, normally an RFC 7662 introspection client, and authorizes the
// request against the configured scopes:
// https://modelcontextprotocol.io/specification/draft/basic/authorization
//
//   - A missing, malformed, inactive or unverifiable token is answered with
//     401 Unauthorized and a WWW-Authenticate header pointing at the protected
//     resource metadata.
//   - An active token that lacks one of RequiredScopes is answered with
//     403 Forbidden and error="insufficient_scope".
//
// # Usage
//
//	config := middleware.NewOAuthConfig(
//	    "https://dev-123.okta.com/oauth2/default", // Authorization server
//	    "https://resource.example.com",            // This resource server's URL
//	    []string{"mcp:access"},                    // Required scopes
//	    verifier,
//	)
//
//	http.Handle("/mcp", config.OAuthMiddleware(yourHandler))
//
// # Token Context
//
// After successful authorization the verified token is stored in the request
// context. Downstream handlers read it with AccessTokenFrom, or read the raw
// bearer value with Token:
//
//	func handler(w http.ResponseWriter, r *http.Request) {
//	    token := middleware.Token(r.Context())
//	}
//
// # Protected Resource Metadata
//
// HandleProtectedResourceMetadata serves the RFC 9728 document:
//
//	http.HandleFunc(middleware.MetadataPath, config.HandleProtectedResourceMetadata)
package middleware
