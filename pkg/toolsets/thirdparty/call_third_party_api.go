package thirdparty

import (
	"context"
	"encoding/json"
	"errors"
	"strings"

	"github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/oktamcp/mcp-okta/internal/delegate"
	"github.com/oktamcp/mcp-okta/internal/exchange"
	"github.com/oktamcp/mcp-okta/internal/middleware"
	"github.com/oktamcp/mcp-okta/pkg/response"
	"github.com/oktamcp/mcp-okta/pkg/utils"
	"go.uber.org/zap"
)

type callThirdPartyAPIParams struct{}

// apiResponse is what the tool returns to the LLM.
type apiResponse struct {
	StatusCode int             `json:"status_code"`
	Response   json.RawMessage `json:"response"`
}

// callThirdPartyAPI exchanges the caller's token for one scoped to the
// third-party API and calls it once.
func (t *Tools) callThirdPartyAPI(ctx context.Context, toolReq *mcp.CallToolRequest, _ callThirdPartyAPIParams) (*mcp.CallToolResult, any, error) {
	log := utils.NewChildLogger(toolReq, map[string]string{
		"audience": t.audience,
		"scope":    t.scope,
	})
	log.Debug("call_third_party_api called")

	subjectToken := callerToken(ctx, toolReq)
	if subjectToken == "" {
		log.Warn("No caller token available for delegation")
		return response.ErrorResult("No access token available for delegation"), nil, nil
	}

	exchanged, err := t.exchanger.Exchange(ctx, exchange.Request{
		SubjectToken: subjectToken,
		Scope:        t.scope,
		Audience:     t.audience,
	})
	if err != nil {
		log.Error("Token exchange failed", zap.Error(err))
		return exchangeErrorResult(err), nil, nil
	}

	resp, err := t.caller.Get(ctx, exchanged.AccessToken)
	if err != nil {
		log.Error("Third-party API call failed", zap.Error(err))
		return callErrorResult(err), nil, nil
	}

	out := apiResponse{StatusCode: resp.StatusCode, Response: resp.Body}
	result, err := response.TextResult(out)
	if err != nil {
		log.Error("failed to create mcp response", zap.Error(err))
		return nil, nil, err
	}

	log.Info("Third-party API call succeeded", zap.Int("status", resp.StatusCode))
	return result, nil, nil
}

// callerToken returns the caller's verified bearer token, read from the
// request context or, when the transport does not propagate it, from the
// request headers.
func callerToken(ctx context.Context, toolReq *mcp.CallToolRequest) string {
	if token := middleware.Token(ctx); token != "" {
		return token
	}
	if toolReq == nil || toolReq.Extra == nil || toolReq.Extra.Header == nil {
		return ""
	}

	scheme, token, ok := strings.Cut(toolReq.Extra.Header.Get("Authorization"), " ")
	if !ok || !strings.EqualFold(scheme, "Bearer") {
		return ""
	}
	return strings.TrimSpace(token)
}

func exchangeErrorResult(err error) *mcp.CallToolResult {
	var rejected *exchange.RejectedError
	switch {
	case errors.Is(err, exchange.ErrMisconfigured):
		return response.ErrorResult("Third-party delegation is not configured")
	case errors.As(err, &rejected):
		if rejected.Code != "" {
			return response.ErrorResult("Token exchange was rejected by the authorization server: %s", rejected.Code)
		}
		return response.ErrorResult("Token exchange was rejected by the authorization server with status %d", rejected.StatusCode)
	case errors.Is(err, exchange.ErrProtocolViolation):
		return response.ErrorResult("Token exchange failed: the authorization server violated the exchange protocol")
	case errors.Is(err, exchange.ErrTransient):
		return response.ErrorResult("Token exchange failed: the authorization server could not be reached")
	default:
		return response.ErrorResult("Token exchange failed")
	}
}

func callErrorResult(err error) *mcp.CallToolResult {
	var statusErr *delegate.StatusError
	switch {
	case errors.As(err, &statusErr):
		return response.ErrorResult("Third-party API returned status %d", statusErr.StatusCode)
	case errors.Is(err, delegate.ErrNotConfigured):
		return response.ErrorResult("Third-party delegation is not configured")
	case errors.Is(err, delegate.ErrTransient):
		return response.ErrorResult("Third-party API could not be reached")
	default:
		return response.ErrorResult("Third-party API call failed")
	}
}
