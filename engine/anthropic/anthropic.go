// Package anthropic adapts the Anthropic Messages API (streaming +
// tool use) to the engine.Engine interface. It owns the tool execution loop:
// streamed tool_use blocks are dispatched against the session's tool
// connections and their results fed back to the model until it stops for
// end_turn.
package anthropic

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/anthropics/anthropic-sdk-go/shared/constant"

	"github.com/hupe1980/agentrelay/core"
	"github.com/hupe1980/agentrelay/engine"
	"github.com/hupe1980/agentrelay/logging"
)

// Options configures the Anthropic engine adapter (temperature, model id,
// max tokens, API key). Extend via functional options to preserve stability.
type Options struct {
	Model       anthropic.Model
	Temperature float64
	MaxTokens   int64
	// MaxTurns caps model round-trips per run when the request does not
	// set its own limit.
	MaxTurns int
	APIKey   string
	Logger   logging.Logger
}

// Engine wraps the Anthropic Messages API behind the engine.Engine interface.
type Engine struct {
	client *anthropic.Client
	opts   Options
	logger logging.Logger
}

var _ engine.Engine = (*Engine)(nil)

// NewEngine creates a new Anthropic engine using the official client
func NewEngine(optFns ...func(o *Options)) *Engine {
	opts := defaultOptions()
	for _, fn := range optFns {
		fn(&opts)
	}

	var clientOpts []option.RequestOption
	if opts.APIKey != "" {
		clientOpts = append(clientOpts, option.WithAPIKey(opts.APIKey))
	}
	client := anthropic.NewClient(clientOpts...)

	return &Engine{client: &client, opts: opts, logger: opts.Logger}
}

// NewEngineFromClient creates a new Anthropic engine from an existing client
func NewEngineFromClient(client *anthropic.Client, optFns ...func(o *Options)) *Engine {
	opts := defaultOptions()
	for _, fn := range optFns {
		fn(&opts)
	}
	return &Engine{client: client, opts: opts, logger: opts.Logger}
}

func defaultOptions() Options {
	return Options{
		Model:       anthropic.ModelClaude3_5Sonnet20241022,
		Temperature: 0.7,
		MaxTokens:   4096,
		MaxTurns:    20,
		Logger:      logging.NoOpLogger{},
	}
}

// toolCall is one complete tool_use request extracted from an accumulated
// message.
type toolCall struct {
	id, name, args string
}

// Run implements engine.Engine. Events stream on the returned channel until
// the terminal completion event or an error on the error channel.
func (e *Engine) Run(ctx context.Context, req engine.Request) (<-chan engine.Event, <-chan error) {
	out := make(chan engine.Event, 32)
	errCh := make(chan error, 1)

	go func() {
		defer close(out)
		defer close(errCh)
		if err := e.run(ctx, req, out); err != nil {
			errCh <- err
		}
	}()

	return out, errCh
}

func (e *Engine) run(ctx context.Context, req engine.Request, out chan<- engine.Event) error {
	declarations, routes, err := e.collectTools(ctx, req.Connections)
	if err != nil {
		return fmt.Errorf("collect tools: %w", err)
	}

	messages := buildMessages(req)
	maxTurns := req.MaxTurns
	if maxTurns <= 0 {
		maxTurns = e.opts.MaxTurns
	}

	start := time.Now()
	for turn := 0; turn < maxTurns; turn++ {
		msg, err := e.streamTurn(ctx, e.buildParams(messages, declarations, req.Instructions), out)
		if err != nil {
			e.logger.Error("engine.turn.failed", "turn", turn, "error", err.Error())
			return err
		}

		calls := extractCalls(msg)
		if len(calls) == 0 {
			e.logger.Info("engine.run.completed", "turns", turn+1, "duration_ms", time.Since(start).Milliseconds())
			return emit(ctx, out, engine.NewCompletedEvent())
		}

		// Carry the assistant's own tool_use turn, then answer it.
		messages = append(messages, msg.ToParam())
		results := make([]anthropic.ContentBlockParamUnion, 0, len(calls))
		for _, call := range calls {
			output, callErr := e.dispatch(ctx, routes, call)
			if err := emit(ctx, out, engine.NewToolOutputEvent(call.name, call.id, outputValue(output, callErr))); err != nil {
				return err
			}
			results = append(results, anthropic.NewToolResultBlock(call.id, resultText(output, callErr), callErr != nil))
		}
		messages = append(messages, anthropic.NewUserMessage(results...))
	}

	return fmt.Errorf("%w (%d)", engine.ErrMaxTurnsExceeded, maxTurns)
}

// streamTurn consumes one streaming message, forwarding text and tool use
// phases as engine events, and returns the fully accumulated message.
func (e *Engine) streamTurn(
	ctx context.Context,
	params anthropic.MessageNewParams,
	out chan<- engine.Event,
) (*anthropic.Message, error) {
	stream := e.client.Messages.NewStreaming(ctx, params)

	type blockInfo struct {
		id, name string
		args     strings.Builder
		isTool   bool
	}
	blocks := map[int64]*blockInfo{}

	message := anthropic.Message{}
	for stream.Next() {
		event := stream.Current()
		if err := message.Accumulate(event); err != nil {
			return nil, fmt.Errorf("accumulate stream event: %w", err)
		}

		switch ev := event.AsAny().(type) {
		case anthropic.ContentBlockStartEvent:
			if ev.ContentBlock.Type == "tool_use" {
				info := &blockInfo{id: ev.ContentBlock.ID, name: ev.ContentBlock.Name, isTool: true}
				blocks[ev.Index] = info
				if err := emit(ctx, out, engine.NewCallStartedEvent(info.name, info.id, itemID(ev.Index))); err != nil {
					return nil, err
				}
			}
		case anthropic.ContentBlockDeltaEvent:
			switch delta := ev.Delta.AsAny().(type) {
			case anthropic.TextDelta:
				if delta.Text != "" {
					if err := emit(ctx, out, engine.NewTextDeltaEvent(delta.Text)); err != nil {
						return nil, err
					}
				}
			case anthropic.InputJSONDelta:
				if info, ok := blocks[ev.Index]; ok && delta.PartialJSON != "" {
					info.args.WriteString(delta.PartialJSON)
					if err := emit(ctx, out, engine.NewArgumentsDeltaEvent(itemID(ev.Index), delta.PartialJSON)); err != nil {
						return nil, err
					}
				}
			}
		case anthropic.ContentBlockStopEvent:
			if info, ok := blocks[ev.Index]; ok && info.isTool {
				if err := emit(ctx, out, engine.NewArgumentsDoneEvent(itemID(ev.Index), info.id, info.name, info.args.String())); err != nil {
					return nil, err
				}
				if err := emit(ctx, out, engine.NewCallFinishedEvent(info.name, info.id)); err != nil {
					return nil, err
				}
			}
		}
	}
	if err := stream.Err(); err != nil {
		return nil, fmt.Errorf("anthropic streaming error: %w", err)
	}

	return &message, nil
}

// extractCalls pulls complete tool_use requests out of an accumulated message.
func extractCalls(msg *anthropic.Message) []toolCall {
	var calls []toolCall
	for _, block := range msg.Content {
		if block.Type != "tool_use" {
			continue
		}
		tu := block.AsToolUse()
		args := ""
		if tu.Input != nil {
			if raw, err := json.Marshal(tu.Input); err == nil {
				args = string(raw)
			}
		}
		calls = append(calls, toolCall{id: tu.ID, name: tu.Name, args: args})
	}
	return calls
}

// dispatch routes one call to its tool connection. Failures are returned so
// the caller can feed them back as an error tool result.
func (e *Engine) dispatch(ctx context.Context, routes map[string]core.ToolConnection, call toolCall) (any, error) {
	conn, ok := routes[call.name]
	if !ok {
		return nil, fmt.Errorf("no tool server exposes %q", call.name)
	}

	args := map[string]any{}
	if strings.TrimSpace(call.args) != "" {
		if err := json.Unmarshal([]byte(call.args), &args); err != nil {
			return nil, fmt.Errorf("malformed arguments for %q: %w", call.name, err)
		}
	}

	start := time.Now()
	result, err := conn.Call(ctx, call.name, args)
	e.logger.Info("engine.tool.executed", "tool", call.name, "duration_ms", time.Since(start).Milliseconds(), "error", err != nil)
	return result, err
}

// buildMessages converts the windowed transcript into Anthropic messages.
func buildMessages(req engine.Request) []anthropic.MessageParam {
	messages := make([]anthropic.MessageParam, 0, len(req.Transcript))
	for _, turn := range req.Transcript {
		switch turn.Role {
		case core.RoleAssistant:
			messages = append(messages, anthropic.NewAssistantMessage(anthropic.NewTextBlock(turn.Content)))
		default:
			messages = append(messages, anthropic.NewUserMessage(anthropic.NewTextBlock(turn.Content)))
		}
	}
	return messages
}

// buildParams assembles the Anthropic request parameters including tool
// declarations and the system prompt.
func (e *Engine) buildParams(
	messages []anthropic.MessageParam,
	declarations []anthropic.ToolUnionParam,
	instructions string,
) anthropic.MessageNewParams {
	params := anthropic.MessageNewParams{
		Model:       e.opts.Model,
		Messages:    messages,
		MaxTokens:   e.opts.MaxTokens,
		Temperature: anthropic.Float(e.opts.Temperature),
	}
	if instructions != "" {
		params.System = []anthropic.TextBlockParam{{Text: instructions}}
	}
	if len(declarations) > 0 {
		params.Tools = declarations
	}
	return params
}

// collectTools gathers declarations from every connection and builds the name
// to connection routing table. The first server to declare a name wins.
func (e *Engine) collectTools(
	ctx context.Context,
	conns []core.ToolConnection,
) ([]anthropic.ToolUnionParam, map[string]core.ToolConnection, error) {
	var declarations []anthropic.ToolUnionParam
	routes := map[string]core.ToolConnection{}
	for _, conn := range conns {
		tools, err := conn.Tools(ctx)
		if err != nil {
			return nil, nil, fmt.Errorf("list tools on %q: %w", conn.ServerName(), err)
		}
		for _, t := range tools {
			if _, taken := routes[t.Name]; taken {
				e.logger.Warn("engine.tool.shadowed", "tool", t.Name, "server", conn.ServerName())
				continue
			}
			routes[t.Name] = conn

			inputSchema := anthropic.ToolInputSchemaParam{
				Type: constant.Object("object"),
			}
			if t.InputSchema != nil {
				if properties, exists := t.InputSchema["properties"]; exists {
					inputSchema.Properties = properties
				}
				if required, exists := t.InputSchema["required"]; exists {
					inputSchema.Required = toStringSlice(required)
				}
			}

			toolParam := anthropic.ToolUnionParamOfTool(inputSchema, t.Name)
			if t.Description != "" && toolParam.OfTool != nil {
				toolParam.OfTool.Description = anthropic.String(t.Description)
			}
			declarations = append(declarations, toolParam)
		}
	}
	return declarations, routes, nil
}

// toStringSlice normalizes a schema "required" list that may arrive as
// []string or JSON decoded []interface{}.
func toStringSlice(v any) []string {
	switch vals := v.(type) {
	case []string:
		return vals
	case []interface{}:
		out := make([]string, 0, len(vals))
		for _, item := range vals {
			if s, ok := item.(string); ok {
				out = append(out, s)
			}
		}
		return out
	default:
		return nil
	}
}

// outputValue is what the client observes for a tool execution.
func outputValue(result any, err error) any {
	if err != nil {
		return map[string]any{"error": err.Error()}
	}
	return result
}

// resultText renders a tool result as the content fed back to the model.
func resultText(result any, err error) string {
	if err != nil {
		return fmt.Sprintf("Error: %v", err)
	}
	if s, ok := result.(string); ok {
		return s
	}
	data, mErr := json.Marshal(result)
	if mErr != nil {
		return fmt.Sprintf("%v", result)
	}
	return string(data)
}

// emit forwards one event unless the run context ends first.
func emit(ctx context.Context, out chan<- engine.Event, ev engine.Event) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	case out <- ev:
		return nil
	}
}

func itemID(idx int64) string {
	return strconv.FormatInt(idx, 10)
}

// Info returns metadata describing this Anthropic engine implementation.
func (e *Engine) Info() engine.Info {
	return engine.Info{
		Name:     string(e.opts.Model),
		Provider: "anthropic",
	}
}
