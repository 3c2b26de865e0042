package core

import (
	"context"
	"time"

	"github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/oktamcp/mcp-okta/pkg/response"
	"github.com/oktamcp/mcp-okta/pkg/utils"
	"go.uber.org/zap"
)

const timeGreeting = "Hello from authenticated MCP server!"

type getCurrentTimeParams struct{}

// currentTime is the result of get_current_time.
type currentTime struct {
	CurrentTime string  `json:"current_time" jsonschema:"the current time in ISO 8601 format"`
	Timezone    string  `json:"timezone" jsonschema:"the timezone of current_time"`
	Timestamp   float64 `json:"timestamp" jsonschema:"seconds since the Unix epoch"`
	Formatted   string  `json:"formatted" jsonschema:"the current time as YYYY-MM-DD HH:MM:SS"`
	Message     string  `json:"message"`
}

func (t *Tools) getCurrentTime(_ context.Context, toolReq *mcp.CallToolRequest, _ getCurrentTimeParams) (*mcp.CallToolResult, currentTime, error) {
	log := utils.NewChildLogger(toolReq, nil)
	log.Debug("get_current_time called")

	now := t.now().UTC()
	out := currentTime{
		CurrentTime: now.Format(time.RFC3339Nano),
		Timezone:    "UTC",
		Timestamp:   float64(now.UnixMicro()) / 1e6,
		Formatted:   now.Format(time.DateTime),
		Message:     timeGreeting,
	}

	result, err := response.TextResult(out)
	if err != nil {
		log.Error("failed to create mcp response", zap.Error(err))
		return nil, currentTime{}, err
	}

	return result, out, nil
}
