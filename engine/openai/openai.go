// Package openai adapts the OpenAI Chat Completions API (streaming +
// function/tool calling) to the engine.Engine interface. It owns the tool
// execution loop: streamed tool calls are dispatched against the session's
// tool connections and their results fed back to the model until it produces
// a final reply.
package openai

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/openai/openai-go"

	"github.com/hupe1980/agentrelay/core"
	"github.com/hupe1980/agentrelay/engine"
	"github.com/hupe1980/agentrelay/logging"
)

// aggCall aggregates partial tool call streaming deltas (id, name, arguments)
// allowing reconstruction of complete calls when the turn finishes. Internal
// helper (unexported).
type aggCall struct {
	id, name, args string
	started        bool
}

// Options configure the OpenAI engine adapter.
// Fields mirror a subset of Chat Completion parameters intentionally kept
// minimal; extend via functional options without breaking callers.
type Options struct {
	Model               string
	Temperature         float64
	MaxCompletionTokens int64
	// MaxTurns caps model round-trips per run when the request does not
	// set its own limit.
	MaxTurns int
	// ParallelToolCalls permits the model to request several calls per
	// turn. Off keeps tool traffic strictly sequential.
	ParallelToolCalls bool
	Logger            logging.Logger
}

// Engine wraps the OpenAI Chat Completions API behind the engine.Engine interface.
type Engine struct {
	client *openai.Client
	opts   Options
	logger logging.Logger
}

var _ engine.Engine = (*Engine)(nil)

// NewEngine creates a new OpenAI engine using the official client
func NewEngine(optFns ...func(o *Options)) *Engine {
	client := openai.NewClient()
	return NewEngineFromClient(&client, optFns...)
}

// NewEngineFromClient creates a new OpenAI engine from an existing client
func NewEngineFromClient(client *openai.Client, optFns ...func(o *Options)) *Engine {
	opts := Options{
		Model:               openai.ChatModelGPT4o,
		Temperature:         0.7,
		MaxCompletionTokens: 4096,
		MaxTurns:            20,
		Logger:              logging.NoOpLogger{},
	}
	for _, fn := range optFns {
		fn(&opts)
	}
	return &Engine{client: client, opts: opts, logger: opts.Logger}
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

// run drives the turn loop: stream one model turn, execute any requested
// tools, feed results back, repeat until a turn requests nothing.
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
		calls, err := e.streamTurn(ctx, e.buildParams(messages, declarations), out)
		if err != nil {
			e.logger.Error("engine.turn.failed", "turn", turn, "error", err.Error())
			return err
		}

		if len(calls) == 0 {
			e.logger.Info("engine.run.completed", "turns", turn+1, "duration_ms", time.Since(start).Milliseconds())
			return emit(ctx, out, engine.NewCompletedEvent())
		}

		messages = append(messages, assistantToolCallMessage(calls))
		for _, call := range calls {
			output, callErr := e.dispatch(ctx, routes, call)
			if err := emit(ctx, out, engine.NewToolOutputEvent(call.name, call.id, outputValue(output, callErr))); err != nil {
				return err
			}
			messages = append(messages, openai.ToolMessage(resultText(output, callErr), call.id))
		}
	}

	return fmt.Errorf("%w (%d)", engine.ErrMaxTurnsExceeded, maxTurns)
}

// collectTools gathers declarations from every connection and builds the name
// to connection routing table. The first server to declare a name wins.
func (e *Engine) collectTools(
	ctx context.Context,
	conns []core.ToolConnection,
) ([]openai.ChatCompletionToolParam, map[string]core.ToolConnection, error) {
	var declarations []openai.ChatCompletionToolParam
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
			declarations = append(declarations, openai.ChatCompletionToolParam{
				Type: "function",
				Function: openai.FunctionDefinitionParam{
					Name:        t.Name,
					Description: openai.String(t.Description),
					Parameters:  t.InputSchema,
				},
			})
		}
	}
	return declarations, routes, nil
}

// buildMessages converts the windowed transcript into OpenAI chat messages,
// leading with the assembled instructions.
func buildMessages(req engine.Request) []openai.ChatCompletionMessageParamUnion {
	messages := make([]openai.ChatCompletionMessageParamUnion, 0, len(req.Transcript)+1)
	if req.Instructions != "" {
		messages = append(messages, openai.SystemMessage(req.Instructions))
	}
	for _, turn := range req.Transcript {
		switch turn.Role {
		case core.RoleAssistant:
			messages = append(messages, openai.AssistantMessage(turn.Content))
		default:
			messages = append(messages, openai.UserMessage(turn.Content))
		}
	}
	return messages
}

// buildParams assembles the OpenAI request parameters including tool definitions.
func (e *Engine) buildParams(
	messages []openai.ChatCompletionMessageParamUnion,
	declarations []openai.ChatCompletionToolParam,
) openai.ChatCompletionNewParams {
	params := openai.ChatCompletionNewParams{
		Messages:            messages,
		Model:               e.opts.Model,
		Temperature:         openai.Float(e.opts.Temperature),
		MaxCompletionTokens: openai.Int(e.opts.MaxCompletionTokens),
	}
	if len(declarations) > 0 {
		params.Tools = declarations
		if !e.opts.ParallelToolCalls {
			params.ParallelToolCalls = openai.Bool(false)
		}
	}
	return params
}

// streamTurn consumes one streaming completion, forwarding text and tool call
// phases as engine events. It returns the aggregated calls of the turn in
// first-seen order; an empty slice means the model produced a final reply.
func (e *Engine) streamTurn(
	ctx context.Context,
	params openai.ChatCompletionNewParams,
	out chan<- engine.Event,
) ([]*aggCall, error) {
	stream := e.client.Chat.Completions.NewStreaming(ctx, params)
	toolAgg := map[int64]*aggCall{}
	var order []int64

	for stream.Next() {
		ck := stream.Current()
		for _, ch := range ck.Choices {
			if ch.Delta.Content != "" {
				if err := emit(ctx, out, engine.NewTextDeltaEvent(ch.Delta.Content)); err != nil {
					return nil, err
				}
			}
			for _, tc := range ch.Delta.ToolCalls {
				ac, ok := toolAgg[tc.Index]
				if !ok {
					ac = &aggCall{}
					toolAgg[tc.Index] = ac
					order = append(order, tc.Index)
				}
				if tc.ID != "" {
					ac.id = tc.ID
				}
				if tc.Function.Name != "" {
					ac.name = tc.Function.Name
				}
				if !ac.started && ac.name != "" {
					ac.started = true
					if err := emit(ctx, out, engine.NewCallStartedEvent(ac.name, ac.id, itemID(tc.Index))); err != nil {
						return nil, err
					}
				}
				if tc.Function.Arguments != "" {
					ac.args += tc.Function.Arguments
					if err := emit(ctx, out, engine.NewArgumentsDeltaEvent(itemID(tc.Index), tc.Function.Arguments)); err != nil {
						return nil, err
					}
				}
			}
		}
	}
	if err := stream.Err(); err != nil {
		return nil, fmt.Errorf("openai streaming error: %w", err)
	}

	calls := make([]*aggCall, 0, len(order))
	for _, idx := range order {
		ac := toolAgg[idx]
		if ac.name == "" && ac.id == "" {
			continue
		}
		if err := emit(ctx, out, engine.NewArgumentsDoneEvent(itemID(idx), ac.id, ac.name, ac.args)); err != nil {
			return nil, err
		}
		if err := emit(ctx, out, engine.NewCallFinishedEvent(ac.name, ac.id)); err != nil {
			return nil, err
		}
		calls = append(calls, ac)
	}
	return calls, nil
}

// dispatch routes one aggregated call to its tool connection. Failures are
// returned to the caller, which feeds them back to the model instead of
// aborting the run.
func (e *Engine) dispatch(ctx context.Context, routes map[string]core.ToolConnection, call *aggCall) (any, error) {
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

// assistantToolCallMessage rebuilds the assistant turn that requested calls so
// the follow-up completion sees its own request.
func assistantToolCallMessage(calls []*aggCall) openai.ChatCompletionMessageParamUnion {
	toolCalls := make([]openai.ChatCompletionMessageToolCallParam, len(calls))
	for i, ac := range calls {
		toolCalls[i] = openai.ChatCompletionMessageToolCallParam{
			ID:   ac.id,
			Type: "function",
			Function: openai.ChatCompletionMessageToolCallFunctionParam{
				Name:      ac.name,
				Arguments: ac.args,
			},
		}
	}
	return openai.ChatCompletionMessageParamUnion{OfAssistant: &openai.ChatCompletionAssistantMessageParam{
		Role:      "assistant",
		ToolCalls: toolCalls,
	}}
}

// outputValue is what the client observes for a tool execution.
func outputValue(result any, err error) any {
	if err != nil {
		return map[string]any{"error": err.Error()}
	}
	return result
}

// resultText renders a tool result as the message content fed back to the model.
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

// Info returns metadata describing this OpenAI engine implementation.
func (e *Engine) Info() engine.Info {
	return engine.Info{
		Name:     e.opts.Model,
		Provider: "openai",
	}
}
