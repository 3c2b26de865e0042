// Package exchange performs RFC 8693 token exchange against an authorization
// server's token endpoint, proving possession of an ephemeral key with RFC 9449
// DPoP proofs and answering at most one nonce challenge.
package exchange

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/oktamcp/mcp-okta/internal/metrics"
	"github.com/oktamcp/mcp-okta/pkg/dpop"
	"go.uber.org/zap"
)

// RFC 8693 parameter values.
const (
	GrantTypeTokenExchange = "urn:ietf:params:oauth:grant-type:token-exchange"
	TokenTypeAccessToken   = "urn:ietf:params:oauth:token-type:access_token"
)

const (
	// DefaultTimeout caps a single token endpoint call.
	DefaultTimeout = 10 * time.Second

	maxResponseBytes = 1 << 20
	maxErrorBodyLog  = 512
)

var (
	// ErrMisconfigured is returned before any network call when the endpoint,
	// scope, audience or subject token is missing.
	ErrMisconfigured = errors.New("token exchange is not configured")

	// ErrProtocolViolation is returned when the server breaks the exchange
	// protocol: a nonce challenge without a DPoP-Nonce header, a second nonce
	// challenge, or an unusable success response.
	ErrProtocolViolation = errors.New("token exchange protocol violation")

	// ErrTransient is returned when the token endpoint could not be reached.
	ErrTransient = errors.New("token exchange request failed")
)

// RejectedError is returned when the authorization server declines the exchange.
type RejectedError struct {
	// StatusCode is the HTTP status of the response.
	StatusCode int
	// Code is the OAuth "error" value, if the body carried one.
	Code string
	// Description is the OAuth "error_description" value, if any.
	Description string
	// Body is the raw response body, kept for operator diagnostics.
	Body string
}

func (e *RejectedError) Error() string {
	if e.Code != "" {
		if e.Description != "" {
			return fmt.Sprintf("token exchange rejected with status %d: %s: %s", e.StatusCode, e.Code, e.Description)
		}
		return fmt.Sprintf("token exchange rejected with status %d: %s", e.StatusCode, e.Code)
	}
	return fmt.Sprintf("token exchange rejected with status %d", e.StatusCode)
}

// Request is one exchange of a subject token for a narrower delegated token.
type Request struct {
	// SubjectToken is the caller's access token.
	SubjectToken string
	// Scope is the space-delimited scope requested for the new token.
	Scope string
	// Audience is the audience requested for the new token.
	Audience string
}

// Result is the token issued by a successful exchange.
type Result struct {
	AccessToken     string
	TokenType       string
	IssuedTokenType string
	Scope           string
	// ExpiresAt is zero when the server did not return expires_in.
	ExpiresAt time.Time
}

// KeyGenerator produces a fresh key pair for each exchange.
type KeyGenerator func() (*dpop.KeyPair, error)

// Options configures an Engine.
type Options struct {
	// TokenURL is the token endpoint, see TokenURL.
	TokenURL string
	// ClientID and ClientSecret authenticate the engine with HTTP Basic.
	ClientID     string
	ClientSecret string
	// Timeout caps each call; DefaultTimeout when zero.
	Timeout time.Duration
	// HTTPClient is used for the calls; http.DefaultClient when nil.
	HTTPClient *http.Client
	// KeyGenerator defaults to dpop.GenerateKeyPair.
	KeyGenerator KeyGenerator
	// ProofBuilder signs DPoP proofs; the zero value is ready to use.
	ProofBuilder dpop.Builder
	// Metrics records exchange outcomes; nothing is recorded when nil.
	Metrics metrics.AuthMetrics
}

// Engine exchanges tokens. It holds no mutable state and is safe for concurrent
// use; every Exchange call owns its own key pair.
type Engine struct {
	tokenURL     string
	clientID     string
	clientSecret string
	timeout      time.Duration
	httpClient   *http.Client
	generateKey  KeyGenerator
	proofBuilder dpop.Builder
	metrics      metrics.AuthMetrics
	now          func() time.Time
}

// TokenURL returns the token endpoint of an Okta issuer.
func TokenURL(issuer string) string {
	return strings.TrimSuffix(issuer, "/") + "/v1/token"
}

// NewEngine creates an Engine. Missing endpoint or credentials are reported by
// Exchange as ErrMisconfigured so a server can start without delegation settings.
func NewEngine(opts Options) *Engine {
	e := &Engine{
		tokenURL:     opts.TokenURL,
		clientID:     opts.ClientID,
		clientSecret: opts.ClientSecret,
		timeout:      opts.Timeout,
		httpClient:   opts.HTTPClient,
		generateKey:  opts.KeyGenerator,
		proofBuilder: opts.ProofBuilder,
		metrics:      opts.Metrics,
		now:          time.Now,
	}
	if e.timeout <= 0 {
		e.timeout = DefaultTimeout
	}
	if e.httpClient == nil {
		e.httpClient = http.DefaultClient
	}
	if e.generateKey == nil {
		e.generateKey = dpop.GenerateKeyPair
	}
	if e.metrics == nil {
		e.metrics = metrics.NoOp{}
	}
	return e
}

// state is a non-terminal state of one exchange.
type state int

const (
	// stateAttempt sends the first request, without a nonce.
	stateAttempt state = iota
	// stateRetryWithNonce resends the request once with the server's nonce.
	stateRetryWithNonce
)

func (s state) String() string {
	switch s {
	case stateAttempt:
		return "attempt"
	case stateRetryWithNonce:
		return "retry_with_nonce"
	default:
		return "unknown"
	}
}

// attemptResult is the evaluation of one token endpoint response.
type attemptResult struct {
	result *Result
	// nonce is set when the server issued a usable nonce challenge.
	nonce string
	err   error
}

// Exchange trades req.SubjectToken for a token restricted to req.Scope and
// req.Audience. It makes at most two HTTP calls: the first attempt and, after a
// use_dpop_nonce challenge, exactly one retry signed with the same key.
func (e *Engine) Exchange(ctx context.Context, req Request) (*Result, error) {
	if err := e.validate(req); err != nil {
		return nil, err
	}

	start := time.Now()
	result, outcome, err := e.run(ctx, req)
	e.metrics.RecordOutcome(ctx, metrics.OperationExchange, outcome)
	e.metrics.RecordDuration(ctx, metrics.OperationExchange, time.Since(start), outcome)

	return result, err
}

func (e *Engine) validate(req Request) error {
	switch {
	case e.tokenURL == "":
		return fmt.Errorf("%w: token endpoint is missing", ErrMisconfigured)
	case e.clientID == "" || e.clientSecret == "":
		return fmt.Errorf("%w: client credentials are missing", ErrMisconfigured)
	case strings.TrimSpace(req.Scope) == "":
		return fmt.Errorf("%w: requested scope is missing", ErrMisconfigured)
	case strings.TrimSpace(req.Audience) == "":
		return fmt.Errorf("%w: requested audience is missing", ErrMisconfigured)
	case req.SubjectToken == "":
		return fmt.Errorf("%w: subject token is missing", ErrMisconfigured)
	}
	return nil
}

func (e *Engine) run(ctx context.Context, req Request) (*Result, string, error) {
	// The key pair lives only for this call and is shared by the retry so the
	// server sees the same proof key on both attempts.
	keyPair, err := e.generateKey()
	if err != nil {
		return nil, "error", fmt.Errorf("could not generate dpop key: %w", err)
	}

	logger := zap.L().With(zap.String("audience", req.Audience), zap.String("scope", req.Scope))
	if jkt, err := keyPair.Thumbprint(); err == nil {
		logger = logger.With(zap.String("jkt", jkt))
	}

	current := stateAttempt
	nonce := ""
	for {
		logger.Debug("Performing token exchange", zap.Stringer("state", current))

		res := e.attempt(ctx, keyPair, req, nonce)
		switch {
		case res.err != nil:
			logger.Warn("Token exchange failed", zap.Stringer("state", current), zap.Error(res.err))
			return nil, outcomeFor(res.err), res.err

		case res.result != nil:
			logger.Info("Token exchange succeeded", zap.Stringer("state", current))
			return res.result, "success", nil

		case current == stateAttempt:
			logger.Debug("Token endpoint issued a DPoP nonce challenge")
			current, nonce = stateRetryWithNonce, res.nonce

		default:
			err := fmt.Errorf("%w: repeated %s challenge after retrying with a nonce", ErrProtocolViolation, dpop.ErrorUseNonce)
			logger.Warn("Token exchange failed", zap.Stringer("state", current), zap.Error(err))
			return nil, "protocol_violation", err
		}
	}
}

// attempt performs one token endpoint call and evaluates its response.
func (e *Engine) attempt(ctx context.Context, keyPair *dpop.KeyPair, req Request, nonce string) attemptResult {
	proof, err := e.proofBuilder.Build(keyPair, http.MethodPost, e.tokenURL, nonce)
	if err != nil {
		return attemptResult{err: fmt.Errorf("could not build dpop proof: %w", err)}
	}

	ctx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()

	body := url.Values{
		"grant_type":           []string{GrantTypeTokenExchange},
		"subject_token_type":   []string{TokenTypeAccessToken},
		"subject_token":        []string{req.SubjectToken},
		"requested_token_type": []string{TokenTypeAccessToken},
		"scope":                []string{req.Scope},
		"audience":             []string{req.Audience},
	}.Encode()
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, e.tokenURL, strings.NewReader(body))
	if err != nil {
		return attemptResult{err: fmt.Errorf("could not build token exchange request: %w", err)}
	}
	httpReq.SetBasicAuth(e.clientID, e.clientSecret)
	httpReq.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	httpReq.Header.Set("Accept", "application/json")
	httpReq.Header.Set(dpop.HeaderName, proof)

	resp, err := e.httpClient.Do(httpReq)
	if err != nil {
		return attemptResult{err: fmt.Errorf("%w: %w", ErrTransient, err)}
	}
	defer func() { _ = resp.Body.Close() }()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return attemptResult{err: fmt.Errorf("%w: reading response: %w", ErrTransient, err)}
	}

	return e.evaluate(resp, raw)
}

// tokenResponse is a successful RFC 8693 response.
type tokenResponse struct {
	AccessToken     string `json:"access_token"`
	TokenType       string `json:"token_type"`
	IssuedTokenType string `json:"issued_token_type"`
	Scope           string `json:"scope"`
	ExpiresIn       int64  `json:"expires_in"`
}

// errorResponse is an RFC 6749 error response.
type errorResponse struct {
	Error            string `json:"error"`
	ErrorDescription string `json:"error_description"`
}

func (e *Engine) evaluate(resp *http.Response, raw []byte) attemptResult {
	if resp.StatusCode == http.StatusOK {
		var tr tokenResponse
		if err := json.Unmarshal(raw, &tr); err != nil {
			return attemptResult{err: fmt.Errorf("%w: could not decode token response: %w", ErrProtocolViolation, err)}
		}
		if tr.AccessToken == "" {
			return attemptResult{err: fmt.Errorf("%w: token response has no access_token", ErrProtocolViolation)}
		}

		result := &Result{
			AccessToken:     tr.AccessToken,
			TokenType:       tr.TokenType,
			IssuedTokenType: tr.IssuedTokenType,
			Scope:           tr.Scope,
		}
		if tr.ExpiresIn > 0 {
			result.ExpiresAt = e.now().Add(time.Duration(tr.ExpiresIn) * time.Second)
		}
		return attemptResult{result: result}
	}

	var er errorResponse
	_ = json.Unmarshal(raw, &er)

	if resp.StatusCode == http.StatusBadRequest && er.Error == dpop.ErrorUseNonce {
		nonce := resp.Header.Get(dpop.NonceHeaderName)
		if nonce == "" {
			return attemptResult{err: fmt.Errorf("%w: %s challenge without a %s header", ErrProtocolViolation, dpop.ErrorUseNonce, dpop.NonceHeaderName)}
		}
		return attemptResult{nonce: nonce}
	}

	return attemptResult{err: &RejectedError{
		StatusCode:  resp.StatusCode,
		Code:        er.Error,
		Description: er.ErrorDescription,
		Body:        truncate(string(raw), maxErrorBodyLog),
	}}
}

func outcomeFor(err error) string {
	var rejected *RejectedError
	switch {
	case errors.As(err, &rejected):
		return "rejected"
	case errors.Is(err, ErrProtocolViolation):
		return "protocol_violation"
	case errors.Is(err, ErrTransient):
		return "transient"
	default:
		return "error"
	}
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
