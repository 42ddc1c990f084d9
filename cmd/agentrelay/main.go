// Command agentrelay runs the session relay server and a terminal chat
// client for talking to it.
package main

import (
	"os"

	"github.com/spf13/cobra"

	"github.com/hupe1980/agentrelay/logging"
)

var (
	configPath string
	logLevel   string
	logFormat  string
)

var rootCmd = &cobra.Command{
	Use:   "agentrelay",
	Short: "Streaming session relay between chat clients and agent engines",
	Long: `Agentrelay keeps conversational sessions alive between a chat client
and a tool-calling agent engine. The serve command runs the HTTP relay;
the chat command is an interactive terminal client against a running relay.`,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "config.yaml", "Path to config file (missing file falls back to defaults)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "Override log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().StringVar(&logFormat, "log-format", "", "Override log format (json, text)")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

// newLogger builds the process logger from config values with flag overrides.
func newLogger(level, format string) logging.Logger {
	if logLevel != "" {
		level = logLevel
	}
	if logFormat != "" {
		format = logFormat
	}
	return logging.NewSlogLogger(parseLogLevel(level), format, false)
}

func parseLogLevel(s string) logging.LogLevel {
	switch s {
	case "debug":
		return logging.LogLevelDebug
	case "warn":
		return logging.LogLevelWarn
	case "error":
		return logging.LogLevelError
	default:
		return logging.LogLevelInfo
	}
}
