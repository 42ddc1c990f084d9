package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	anthropicsdk "github.com/anthropics/anthropic-sdk-go"
	"github.com/spf13/cobra"

	"github.com/hupe1980/agentrelay"
	"github.com/hupe1980/agentrelay/config"
	"github.com/hupe1980/agentrelay/core"
	"github.com/hupe1980/agentrelay/engine"
	"github.com/hupe1980/agentrelay/engine/anthropic"
	"github.com/hupe1980/agentrelay/engine/openai"
	"github.com/hupe1980/agentrelay/logging"
	"github.com/hupe1980/agentrelay/server"
	"github.com/hupe1980/agentrelay/tool"
)

var (
	servePort       int
	serveLocalTools bool
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the relay HTTP server",
	Long: `Serve starts the relay: session lifecycle endpoints, the SSE event
stream and the WebSocket transport. Engine and tool server selection
come from the config file, overridable via environment variables.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runServe(cmd.Context())
	},
}

func init() {
	rootCmd.AddCommand(serveCmd)
	serveCmd.Flags().IntVar(&servePort, "port", 0, "Override listen port")
	serveCmd.Flags().BoolVar(&serveLocalTools, "local-tools", false, "Serve built-in demo tools instead of the configured tool server")
}

func runServe(ctx context.Context) error {
	cfg, err := config.LoadOrDefault(configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	if servePort > 0 {
		cfg.Server.Port = servePort
	}

	logger := newLogger(cfg.Logging.Level, cfg.Logging.Format)

	eng, err := buildEngine(cfg, logger)
	if err != nil {
		return err
	}

	rly := agentrelay.New(func(o *agentrelay.Options) {
		o.Engine = eng
		o.ToolProviders = buildProviders(cfg, logger)
		o.SessionTimeout = cfg.SessionTimeout()
		o.ReapInterval = cfg.CleanupInterval()
		o.TranscriptWindow = cfg.Session.TranscriptWindow
		o.MaxTurns = cfg.Session.MaxTurns
		o.Logger = logger
	})
	rly.Start()

	srv := server.New(rly, func(o *server.Options) {
		o.Addr = cfg.Addr()
		o.Logger = logger
	})

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	// Bounded shutdown: drain in-flight streams, then tear down sessions.
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("server.shutdown.failed", "error", err.Error())
	}
	return rly.Close(shutdownCtx)
}

// buildEngine selects the engine adapter from config. The OpenAI and
// Anthropic adapters read their API keys from the environment via their SDKs.
func buildEngine(cfg *config.Config, logger logging.Logger) (engine.Engine, error) {
	switch cfg.Engine.Provider {
	case "openai", "":
		if os.Getenv("OPENAI_API_KEY") == "" {
			logger.Warn("engine.openai.missing_api_key")
		}
		return openai.NewEngine(func(o *openai.Options) {
			if cfg.Engine.Model != "" {
				o.Model = cfg.Engine.Model
			}
			o.MaxTurns = cfg.Session.MaxTurns
			o.Logger = logger
		}), nil
	case "anthropic":
		if os.Getenv("ANTHROPIC_API_KEY") == "" {
			logger.Warn("engine.anthropic.missing_api_key")
		}
		return anthropic.NewEngine(func(o *anthropic.Options) {
			if cfg.Engine.Model != "" {
				o.Model = anthropicsdk.Model(cfg.Engine.Model)
			}
			o.MaxTurns = cfg.Session.MaxTurns
			o.Logger = logger
		}), nil
	case "scripted":
		return engine.NewScriptedEngine(), nil
	default:
		return nil, fmt.Errorf("unknown engine provider %q", cfg.Engine.Provider)
	}
}

// buildProviders wires the tool side: the configured remote tool server, or
// the built-in demo tools when --local-tools is set or no server is
// configured.
func buildProviders(cfg *config.Config, logger logging.Logger) []core.ToolProvider {
	if serveLocalTools || cfg.Tools.ServerURL == "" {
		return []core.ToolProvider{tool.NewLocalProvider("local", demoTools(), func(o *tool.LocalProviderOptions) {
			o.Logger = logger
		})}
	}
	return []core.ToolProvider{tool.NewHTTPProvider(cfg.Tools.ServerName, cfg.Tools.ServerURL, func(o *tool.HTTPProviderOptions) {
		o.Logger = logger
	})}
}

type sumArgs struct {
	A float64 `json:"a" jsonschema:"description=First addend"`
	B float64 `json:"b" jsonschema:"description=Second addend"`
}

// demoTools returns a small in-process toolset so the relay is usable
// without a tool server.
func demoTools() []tool.Tool {
	sum := tool.NewTypedFunctionTool("calculate_sum", "Calculate the sum of two numbers",
		func(ctx context.Context, args sumArgs) (any, error) {
			return args.A + args.B, nil
		})
	now := tool.NewFunctionTool("current_time", "Get the current server time",
		map[string]any{
			"type": "object",
			"properties": map[string]any{
				"format": map[string]any{
					"type":        "string",
					"description": "Timestamp format",
					"enum":        []any{"rfc3339", "unix"},
				},
			},
		},
		func(ctx context.Context, args map[string]any) (any, error) {
			if args["format"] == "unix" {
				return time.Now().Unix(), nil
			}
			return time.Now().Format(time.RFC3339), nil
		})
	return []tool.Tool{sum, now}
}
