package utils

import (
	"testing"

	"github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func TestNewChildLogger(t *testing.T) {
	core, logs := observer.New(zapcore.DebugLevel)
	t.Cleanup(zap.ReplaceGlobals(zap.New(core)))

	toolReq := &mcp.CallToolRequest{Params: &mcp.CallToolParamsRaw{Name: "calculate_square"}}
	NewChildLogger(toolReq, map[string]string{"audience": "api://third-party"}).Info("called")

	entries := logs.All()
	require.Len(t, entries, 1)
	assert.Equal(t, map[string]any{
		"tool-name": "calculate_square",
		"audience":  "api://third-party",
	}, entries[0].ContextMap())
}

func TestNewChildLoggerNilRequest(t *testing.T) {
	core, logs := observer.New(zapcore.DebugLevel)
	t.Cleanup(zap.ReplaceGlobals(zap.New(core)))

	NewChildLogger(nil, nil).Info("called")

	require.Len(t, logs.All(), 1)
	assert.Empty(t, logs.All()[0].ContextMap())
}
