package tool

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hupe1980/agentrelay/internal/util"
)

// -------------------- Schema & Validation Tests --------------------

func TestValidateParameters(t *testing.T) {
	schema := map[string]any{
		"type": "object",
		"properties": map[string]any{
			"x": map[string]any{"type": "integer"},
		},
		// Use []any to mirror possible JSON decoded schema shape
		"required": []any{"x"},
	}

	// Success
	err := util.ValidateParameters(map[string]any{"x": 5}, schema)
	assert.NoError(t, err)

	// Missing required
	err = util.ValidateParameters(map[string]any{}, schema)
	assert.Error(t, err)
	if vErr, ok := err.(*ValidationError); ok {
		assert.Equal(t, "x", vErr.Field)
	} else {
		t.Fatalf("expected ValidationError, got %T", err)
	}

	// Wrong type; the message names JSON types, not Go types
	err = util.ValidateParameters(map[string]any{"x": "not-int"}, schema)
	assert.Error(t, err)
	if vErr, ok := err.(*ValidationError); ok {
		assert.Contains(t, vErr.Message, "expected type integer, got string")
	} else {
		t.Fatalf("expected ValidationError, got %T", err)
	}

	// Integral floats pass for integer (JSON numbers decode as float64)
	err = util.ValidateParameters(map[string]any{"x": 5.0}, schema)
	assert.NoError(t, err)
	err = util.ValidateParameters(map[string]any{"x": 5.5}, schema)
	assert.Error(t, err)
}

func TestValidateParameters_Enum(t *testing.T) {
	schema := map[string]any{
		"type": "object",
		"properties": map[string]any{
			"unit": map[string]any{"type": "string", "enum": []any{"celsius", "fahrenheit"}},
		},
	}

	assert.NoError(t, util.ValidateParameters(map[string]any{"unit": "celsius"}, schema))

	err := util.ValidateParameters(map[string]any{"unit": "kelvin"}, schema)
	require.Error(t, err)
	vErr, ok := err.(*ValidationError)
	require.True(t, ok)
	assert.Equal(t, "unit", vErr.Field)
	assert.Contains(t, vErr.Message, "celsius, fahrenheit")
}

// -------------------- FunctionTool Tests --------------------

func TestFunctionTool_Success(t *testing.T) {
	params := map[string]any{
		"type": "object",
		"properties": map[string]any{
			"a": map[string]any{"type": "number"},
			"b": map[string]any{"type": "number"},
		},
		"required": []any{"a", "b"},
	}

	sumTool := NewFunctionTool("sum", "Add numbers", params, func(_ context.Context, args map[string]any) (any, error) {
		a := args["a"].(float64)
		b := args["b"].(float64)
		return a + b, nil
	})

	result, err := sumTool.Call(context.Background(), map[string]any{"a": 2.0, "b": 3.0})
	assert.NoError(t, err)
	assert.Equal(t, 5.0, result)
}

func TestFunctionTool_ValidationError(t *testing.T) {
	params := map[string]any{
		"type": "object",
		"properties": map[string]any{
			"a": map[string]any{"type": "number"},
		},
		"required": []any{"a"},
	}
	tTool := NewFunctionTool("test", "Test", params, func(_ context.Context, _ map[string]any) (any, error) {
		return 0, nil
	})
	_, err := tTool.Call(context.Background(), map[string]any{})
	assert.Error(t, err)
	toolErr, ok := err.(*ToolError)
	assert.True(t, ok)
	assert.Equal(t, "VALIDATION_ERROR", toolErr.Code)
}

func TestFunctionTool_ExecutionError(t *testing.T) {
	params := map[string]any{"type": "object", "properties": map[string]any{}}
	execTool := NewFunctionTool("fail", "Fails", params, func(_ context.Context, _ map[string]any) (any, error) {
		return nil, errors.New("boom")
	})
	_, err := execTool.Call(context.Background(), map[string]any{})
	assert.Error(t, err)
	toolErr, ok := err.(*ToolError)
	assert.True(t, ok)
	assert.Equal(t, "EXECUTION_ERROR", toolErr.Code)
}

func TestFunctionTool_CustomToolErrorForwarded(t *testing.T) {
	params := map[string]any{"type": "object", "properties": map[string]any{}}
	custom := NewToolError("custom", "quota exceeded", "RATE_LIMITED")
	tTool := NewFunctionTool("custom", "Custom error", params, func(_ context.Context, _ map[string]any) (any, error) {
		return nil, custom
	})
	_, err := tTool.Call(context.Background(), map[string]any{})
	assert.Same(t, custom, err)
}

type sumArgs struct {
	A float64 `json:"a"`
	B float64 `json:"b"`
}

func TestTypedFunctionTool(t *testing.T) {
	sumTool := NewTypedFunctionTool("calculate_sum", "Calculate the sum of two numbers",
		func(_ context.Context, args sumArgs) (any, error) {
			return args.A + args.B, nil
		})

	schema := sumTool.Parameters()
	props, ok := schema["properties"].(map[string]any)
	require.True(t, ok, "reflected schema should carry properties: %+v", schema)
	assert.Contains(t, props, "a")
	assert.Contains(t, props, "b")
	assert.NotContains(t, schema, "$schema")

	result, err := sumTool.Call(context.Background(), map[string]any{"a": 1.5, "b": 2.5})
	require.NoError(t, err)
	assert.Equal(t, 4.0, result)
}

// -------------------- LocalProvider Tests --------------------

func echoTool() *FunctionTool {
	return NewFunctionTool("echo", "Echo the input back",
		map[string]any{
			"type": "object",
			"properties": map[string]any{
				"text": map[string]any{"type": "string"},
			},
			"required": []any{"text"},
		},
		func(_ context.Context, args map[string]any) (any, error) {
			return args["text"], nil
		})
}

func TestLocalProvider_ConnectAndCall(t *testing.T) {
	provider := NewLocalProvider("demo", []Tool{echoTool()})
	assert.Equal(t, "demo", provider.ServerName())

	conn, err := provider.Connect(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "demo", conn.ServerName())

	tools, err := conn.Tools(context.Background())
	require.NoError(t, err)
	require.Len(t, tools, 1)
	assert.Equal(t, "echo", tools[0].Name)
	assert.Equal(t, "Echo the input back", tools[0].Description)
	assert.NotNil(t, tools[0].InputSchema)

	result, err := conn.Call(context.Background(), "echo", map[string]any{"text": "hi"})
	require.NoError(t, err)
	assert.Equal(t, "hi", result)
}

func TestLocalProvider_UnknownTool(t *testing.T) {
	provider := NewLocalProvider("demo", []Tool{echoTool()})
	conn, err := provider.Connect(context.Background())
	require.NoError(t, err)

	_, err = conn.Call(context.Background(), "missing", nil)
	assert.Error(t, err)
	toolErr, ok := err.(*ToolError)
	require.True(t, ok)
	assert.Equal(t, "UNKNOWN_TOOL", toolErr.Code)
}

func TestLocalProvider_DuplicateToolNames(t *testing.T) {
	provider := NewLocalProvider("demo", []Tool{echoTool(), echoTool()})
	_, err := provider.Connect(context.Background())
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "duplicate tool name")
}

func TestLocalConnection_CloseIsIdempotent(t *testing.T) {
	provider := NewLocalProvider("demo", []Tool{echoTool()})
	conn, err := provider.Connect(context.Background())
	require.NoError(t, err)

	assert.NoError(t, conn.Close(context.Background()))
	assert.NoError(t, conn.Close(context.Background()))

	_, err = conn.Call(context.Background(), "echo", map[string]any{"text": "hi"})
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "closed")

	_, err = conn.Tools(context.Background())
	assert.Error(t, err)
}

// -------------------- ToolError Formatting --------------------

func TestToolErrorFormatting(t *testing.T) {
	err := NewToolError("demo", "something failed", "E123")
	assert.Contains(t, err.Error(), "E123")
	assert.Contains(t, err.Error(), "demo")

	noCode := &ToolError{Tool: "demo", Message: "plain"}
	assert.Contains(t, noCode.Error(), "demo")
	assert.NotContains(t, noCode.Error(), "[")
}
