package cmd

import (
	"strings"

	"github.com/MakeNowJust/heredoc/v2"
	"github.com/allisson/go-env"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

var (
	logLevel string
)

var rootCmd = &cobra.Command{
	Use:   "mcp-okta",
	Short: "Okta-protected Model Context Protocol (MCP) Server",
	Long: heredoc.Doc(`
		An MCP resource server whose tools are protected by Okta-issued bearer tokens.
		Tokens are verified with RFC 7662 introspection, and delegated calls to a
		third-party API use RFC 8693 token exchange bound to a DPoP key.
	`),
	SilenceUsage: true,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		initLogger()
	},
}

// Execute runs the root command
func Execute() {
	cobra.CheckErr(rootCmd.Execute())
}

func init() {
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "Set the log level (debug, info, warn, error); defaults to LOG_LEVEL")
}

func initLogger() {
	level := logLevel
	if level == "" {
		level = env.GetString("LOG_LEVEL", "info")
	}
	zap.ReplaceGlobals(newLogger(level))
}

func newLogger(level string) *zap.Logger {
	if strings.ToLower(level) == "debug" {
		return zap.Must(zap.NewDevelopment())
	}

	config := zap.NewProductionConfig()
	// remove the "caller" key from the log output
	config.EncoderConfig.CallerKey = zapcore.OmitKey
	if parsed, err := zapcore.ParseLevel(level); err == nil {
		config.Level = zap.NewAtomicLevelAt(parsed)
	}
	return zap.Must(config.Build())
}
