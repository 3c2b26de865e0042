// Package backend implements the downstream API reached through delegation: it
// validates Okta-issued JWTs against the authorization server's JWKS and echoes
// their claims.
package backend

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/MicahParks/keyfunc/v3"
	"github.com/golang-jwt/jwt/v5"
	"go.uber.org/zap"
)

// expirationLeeway defines the allowed clock skew when validating token expiration.
const expirationLeeway = 10 * time.Second

// signingMethod defines the JWT signing algorithm accepted by the backend.
const signingMethod = "RS256"

// ErrTokenExpired is returned for a correctly signed token past its expiry.
var ErrTokenExpired = errors.New("token has expired")

// Issuer returns the default authorization server issuer of an Okta domain.
func Issuer(domain string) string {
	return fmt.Sprintf("https://%s/oauth2/default", domain)
}

// JWKSURL returns the key set URL of the default authorization server of an Okta domain.
func JWKSURL(domain string) string {
	return Issuer(domain) + "/v1/keys"
}

// Options configures a Validator.
type Options struct {
	// JWKSURL is the URL to fetch the JSON Web Key Set (JWKS) from.
	JWKSURL string
	// Issuer must match the iss claim.
	Issuer string
	// Audience must be one of the aud claim values.
	Audience string
	// InsecureTLS disables TLS verification of the JWKS endpoint.
	// This should ONLY be used for testing purposes.
	InsecureTLS bool
	// HTTPClient fetches the JWKS; takes precedence over InsecureTLS.
	HTTPClient *http.Client
}

// Validator verifies JWT access tokens. It is safe for concurrent use.
type Validator struct {
	issuer   string
	audience string
	jwks     keyfunc.Keyfunc
}

// NewValidator loads the JWKS and returns a Validator. The key set is refreshed
// in the background until ctx is done.
func NewValidator(ctx context.Context, opts Options) (*Validator, error) {
	if opts.JWKSURL == "" {
		return nil, fmt.Errorf("JWKS URL cannot be empty")
	}
	if opts.Issuer == "" || opts.Audience == "" {
		return nil, fmt.Errorf("issuer and audience are required")
	}

	var override keyfunc.Override
	switch {
	case opts.HTTPClient != nil:
		override.Client = opts.HTTPClient
	case opts.InsecureTLS:
		tr := &http.Transport{
			TLSClientConfig: &tls.Config{InsecureSkipVerify: true},
		}
		override.Client = &http.Client{Transport: tr}
	}
	jwks, err := keyfunc.NewDefaultOverrideCtx(ctx, []string{opts.JWKSURL}, override)
	if err != nil {
		return nil, fmt.Errorf("failed to create JWKS client: %w", err)
	}
	zap.L().Info("Initialized JWKS", zap.String("jwksURL", opts.JWKSURL))

	return &Validator{
		issuer:   opts.Issuer,
		audience: opts.Audience,
		jwks:     jwks,
	}, nil
}

// Validate verifies the token signature, algorithm, issuer, audience and expiry
// and returns its claims.
func (v *Validator) Validate(tokenString string) (jwt.MapClaims, error) {
	token, err := jwt.Parse(tokenString, v.jwks.Keyfunc,
		jwt.WithValidMethods([]string{signingMethod}),
		jwt.WithLeeway(expirationLeeway),
		jwt.WithIssuer(v.issuer),
		jwt.WithAudience(v.audience),
		jwt.WithExpirationRequired(),
	)
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, ErrTokenExpired
		}
		return nil, fmt.Errorf("invalid token: %w", err)
	}

	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok || !token.Valid {
		return nil, errors.New("invalid token: unexpected claims")
	}

	return claims, nil
}
