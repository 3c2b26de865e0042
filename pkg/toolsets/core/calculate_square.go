package core

import (
	"context"
	"fmt"
	"math"
	"strconv"

	"github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/oktamcp/mcp-okta/pkg/response"
	"github.com/oktamcp/mcp-okta/pkg/utils"
	"go.uber.org/zap"
)

// calculateSquareParams specifies the parameters of calculate_square.
type calculateSquareParams struct {
	Number float64 `json:"number" jsonschema:"the number to square"`
}

// square is the result of calculate_square.
type square struct {
	Input       float64 `json:"input"`
	Square      float64 `json:"square"`
	Calculation string  `json:"calculation"`
}

func (t *Tools) calculateSquare(_ context.Context, toolReq *mcp.CallToolRequest, params calculateSquareParams) (*mcp.CallToolResult, square, error) {
	log := utils.NewChildLogger(toolReq, nil)
	log.Debug("calculate_square called")

	result := params.Number * params.Number
	if math.IsInf(result, 0) {
		return response.ErrorResult("The square of %s overflows", formatNumber(params.Number)), square{}, nil
	}

	out := square{
		Input:       params.Number,
		Square:      result,
		Calculation: fmt.Sprintf("%s² = %s", formatNumber(params.Number), formatNumber(result)),
	}

	toolResult, err := response.TextResult(out)
	if err != nil {
		log.Error("failed to create mcp response", zap.Error(err))
		return nil, square{}, err
	}

	return toolResult, out, nil
}

func formatNumber(f float64) string {
	return strconv.FormatFloat(f, 'g', -1, 64)
}
