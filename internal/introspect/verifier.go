// Package introspect verifies bearer tokens against an RFC 7662 token
// introspection endpoint.
package introspect

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"slices"
	"strings"
	"time"

	"github.com/oktamcp/mcp-okta/internal/metrics"
	"go.uber.org/zap"
)

const (
	// DefaultTimeout caps a single introspection call.
	DefaultTimeout = 10 * time.Second

	// expirationLeeway is the allowed clock skew when checking exp.
	expirationLeeway = 10 * time.Second

	// maxResponseBytes bounds how much of an introspection response is read.
	maxResponseBytes = 1 << 20
)

// ErrUnauthenticated is wrapped by every verification failure. Callers should
// treat any error from Verify as "unauthenticated" and not leak its detail.
var ErrUnauthenticated = errors.New("unauthenticated")

// AccessToken is the verified view of an active bearer token. It only exists for
// tokens the authorization server reported as active.
type AccessToken struct {
	// Token is the raw bearer value.
	Token string
	// ClientID identifies the OAuth client the token was issued to.
	ClientID string
	// Scopes holds the token's scopes without duplicates. Order carries no meaning.
	Scopes []string
	// ExpiresAt is the token expiry; zero when the server did not report exp.
	ExpiresAt time.Time
	// Subject is the username, or the sub claim when no username was reported.
	Subject string
}

// HasScopes reports whether the token carries every one of required.
func (t *AccessToken) HasScopes(required ...string) bool {
	for _, scope := range required {
		if !slices.Contains(t.Scopes, scope) {
			return false
		}
	}
	return true
}

// MissingScopes returns the entries of required the token does not carry.
func (t *AccessToken) MissingScopes(required ...string) []string {
	var missing []string
	for _, scope := range required {
		if !slices.Contains(t.Scopes, scope) {
			missing = append(missing, scope)
		}
	}
	return missing
}

// introspectionResponse is the subset of RFC 7662 fields this verifier reads.
// Unknown fields are ignored.
type introspectionResponse struct {
	Active   bool   `json:"active"`
	Scope    string `json:"scope"`
	ClientID string `json:"client_id"`
	Exp      *int64 `json:"exp"`
	Username string `json:"username"`
	Sub      string `json:"sub"`
}

// Options configures a Verifier.
type Options struct {
	// IntrospectionURL is the introspection endpoint, see IntrospectionURL.
	IntrospectionURL string
	// ClientID and ClientSecret authenticate the verifier with HTTP Basic.
	ClientID     string
	ClientSecret string
	// Timeout caps each call; DefaultTimeout when zero.
	Timeout time.Duration
	// HTTPClient is used for the calls; http.DefaultClient when nil.
	HTTPClient *http.Client
	// Metrics records verification outcomes; nothing is recorded when nil.
	Metrics metrics.AuthMetrics
}

// Verifier validates bearer tokens with the authorization server. It holds no
// mutable state and is safe for concurrent use.
type Verifier struct {
	introspectionURL string
	clientID         string
	clientSecret     string
	timeout          time.Duration
	httpClient       *http.Client
	metrics          metrics.AuthMetrics
	now              func() time.Time
}

// IntrospectionURL returns the introspection endpoint of an Okta issuer.
func IntrospectionURL(issuer string) string {
	return strings.TrimSuffix(issuer, "/") + "/v1/introspect"
}

// NewVerifier creates a Verifier.
func NewVerifier(opts Options) (*Verifier, error) {
	if opts.IntrospectionURL == "" {
		return nil, errors.New("introspection URL cannot be empty")
	}
	if opts.ClientID == "" || opts.ClientSecret == "" {
		return nil, errors.New("introspection client credentials are required")
	}

	v := &Verifier{
		introspectionURL: opts.IntrospectionURL,
		clientID:         opts.ClientID,
		clientSecret:     opts.ClientSecret,
		timeout:          opts.Timeout,
		httpClient:       opts.HTTPClient,
		metrics:          opts.Metrics,
		now:              time.Now,
	}
	if v.timeout <= 0 {
		v.timeout = DefaultTimeout
	}
	if v.httpClient == nil {
		v.httpClient = http.DefaultClient
	}
	if v.metrics == nil {
		v.metrics = metrics.NoOp{}
	}

	return v, nil
}

// Verify introspects token and returns its verified view. Every failure, including
// network errors and timeouts, is returned as an error wrapping ErrUnauthenticated.
func (v *Verifier) Verify(ctx context.Context, token string) (*AccessToken, error) {
	start := time.Now()

	accessToken, outcome, err := v.verify(ctx, token)
	v.metrics.RecordOutcome(ctx, metrics.OperationVerify, outcome)
	v.metrics.RecordDuration(ctx, metrics.OperationVerify, time.Since(start), outcome)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrUnauthenticated, err)
	}

	zap.L().Info("Token verified",
		zap.String("subject", accessToken.Subject),
		zap.String("client_id", accessToken.ClientID),
		zap.Strings("scopes", accessToken.Scopes))

	return accessToken, nil
}

func (v *Verifier) verify(ctx context.Context, token string) (*AccessToken, string, error) {
	if strings.TrimSpace(token) == "" {
		return nil, "rejected", errors.New("empty token")
	}

	ctx, cancel := context.WithTimeout(ctx, v.timeout)
	defer cancel()

	body := url.Values{
		"token":           []string{token},
		"token_type_hint": []string{"access_token"},
	}.Encode()
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, v.introspectionURL, strings.NewReader(body))
	if err != nil {
		return nil, "error", fmt.Errorf("could not build introspection request: %w", err)
	}
	req.SetBasicAuth(v.clientID, v.clientSecret)
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("Accept", "application/json")

	resp, err := v.httpClient.Do(req)
	if err != nil {
		zap.L().Error("Token introspection request failed", zap.Error(err))
		return nil, "error", fmt.Errorf("introspection request failed: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		zap.L().Warn("Token introspection failed", zap.Int("status", resp.StatusCode))
		return nil, "error", fmt.Errorf("introspection returned status %d", resp.StatusCode)
	}

	var data introspectionResponse
	if err := json.NewDecoder(io.LimitReader(resp.Body, maxResponseBytes)).Decode(&data); err != nil {
		zap.L().Warn("Token introspection returned an unparsable body", zap.Error(err))
		return nil, "error", fmt.Errorf("could not decode introspection response: %w", err)
	}

	if !data.Active {
		zap.L().Debug("Token is not active")
		return nil, "inactive", errors.New("token is not active")
	}

	accessToken := &AccessToken{
		Token:    token,
		ClientID: data.ClientID,
		Scopes:   parseScopes(data.Scope),
		Subject:  data.Username,
	}
	if accessToken.Subject == "" {
		accessToken.Subject = data.Sub
	}
	if data.Exp != nil {
		accessToken.ExpiresAt = time.Unix(*data.Exp, 0)
		if v.now().After(accessToken.ExpiresAt.Add(expirationLeeway)) {
			zap.L().Debug("Active token reported an expiry in the past", zap.Time("exp", accessToken.ExpiresAt))
			return nil, "inactive", errors.New("token is expired")
		}
	}

	return accessToken, "success", nil
}

// parseScopes splits a space-delimited scope string into a de-duplicated,
// never-nil slice.
func parseScopes(scope string) []string {
	scopes := []string{}
	for _, s := range strings.Fields(scope) {
		if !slices.Contains(scopes, s) {
			scopes = append(scopes, s)
		}
	}
	return scopes
}
