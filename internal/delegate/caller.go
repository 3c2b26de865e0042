// Package delegate calls the downstream API on behalf of a user with a token
// obtained through token exchange.
package delegate

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/oktamcp/mcp-okta/internal/metrics"
	"go.uber.org/zap"
	"golang.org/x/oauth2"
)

const (
	// DefaultTimeout caps a single delegated call.
	DefaultTimeout = 10 * time.Second

	maxResponseBytes = 1 << 20
)

var (
	// ErrTransient is returned when the downstream API could not be reached.
	ErrTransient = errors.New("delegated call failed")

	// ErrNotConfigured is returned when no downstream URL is set.
	ErrNotConfigured = errors.New("delegated API URL is not configured")

	errMissingToken = errors.New("access token cannot be empty")
)

// StatusError is returned when the downstream API answers with a non-2xx status.
type StatusError struct {
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("delegated API returned status %d", e.StatusCode)
}

// Response is a successful downstream answer.
type Response struct {
	StatusCode int
	// Body is the JSON payload. Non-JSON payloads are wrapped in a JSON string.
	Body json.RawMessage
}

// Options configures a Caller.
type Options struct {
	// URL is the downstream endpoint.
	URL string
	// Timeout caps each call; DefaultTimeout when zero.
	Timeout time.Duration
	// HTTPClient supplies the base transport; http.DefaultClient when nil.
	HTTPClient *http.Client
	// Metrics records call outcomes; nothing is recorded when nil.
	Metrics metrics.AuthMetrics
}

// Caller performs delegated GET requests. It is safe for concurrent use.
type Caller struct {
	url        string
	timeout    time.Duration
	httpClient *http.Client
	metrics    metrics.AuthMetrics
}

// NewCaller creates a Caller.
func NewCaller(opts Options) *Caller {
	c := &Caller{
		url:        opts.URL,
		timeout:    opts.Timeout,
		httpClient: opts.HTTPClient,
		metrics:    opts.Metrics,
	}
	if c.timeout <= 0 {
		c.timeout = DefaultTimeout
	}
	if c.httpClient == nil {
		c.httpClient = http.DefaultClient
	}
	if c.metrics == nil {
		c.metrics = metrics.NoOp{}
	}
	return c
}

// Get calls the downstream API once, presenting accessToken as a bearer token.
func (c *Caller) Get(ctx context.Context, accessToken string) (*Response, error) {
	start := time.Now()

	resp, outcome, err := c.get(ctx, accessToken)
	c.metrics.RecordOutcome(ctx, metrics.OperationDelegate, outcome)
	c.metrics.RecordDuration(ctx, metrics.OperationDelegate, time.Since(start), outcome)

	return resp, err
}

func (c *Caller) get(ctx context.Context, accessToken string) (*Response, string, error) {
	if c.url == "" {
		return nil, "error", ErrNotConfigured
	}
	if accessToken == "" {
		return nil, "error", errMissingToken
	}

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.url, nil)
	if err != nil {
		return nil, "error", fmt.Errorf("could not build delegated request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.bearerClient(accessToken).Do(req)
	if err != nil {
		zap.L().Error("Delegated call failed", zap.String("url", c.url), zap.Error(err))
		return nil, "transient", fmt.Errorf("%w: %w", ErrTransient, err)
	}
	defer func() { _ = resp.Body.Close() }()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return nil, "transient", fmt.Errorf("%w: reading response: %w", ErrTransient, err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		zap.L().Warn("Delegated API rejected the call", zap.String("url", c.url), zap.Int("status", resp.StatusCode))
		return nil, "rejected", &StatusError{StatusCode: resp.StatusCode, Body: string(raw)}
	}

	body := json.RawMessage(raw)
	if !json.Valid(raw) {
		body, err = json.Marshal(string(raw))
		if err != nil {
			return nil, "error", fmt.Errorf("could not encode delegated response: %w", err)
		}
	}

	zap.L().Debug("Delegated call succeeded", zap.String("url", c.url), zap.Int("status", resp.StatusCode))
	return &Response{StatusCode: resp.StatusCode, Body: body}, "success", nil
}

// bearerClient wraps the base client's transport so every request carries
// accessToken in the Authorization header.
func (c *Caller) bearerClient(accessToken string) *http.Client {
	return &http.Client{
		Transport: &oauth2.Transport{
			Source: oauth2.StaticTokenSource(&oauth2.Token{AccessToken: accessToken, TokenType: "Bearer"}),
			Base:   c.httpClient.Transport,
		},
		CheckRedirect: c.httpClient.CheckRedirect,
		Jar:           c.httpClient.Jar,
	}
}
