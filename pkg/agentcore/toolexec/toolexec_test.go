package toolexec

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/agentcore/runtime/pkg/agentcore/llm"
)

func toolDef(name string) llm.ToolDefinition {
	return llm.ToolDefinition{Type: "function", Function: llm.FunctionSpec{Name: name, Description: name}}
}

func TestExecutePreservesRequestOrder(t *testing.T) {
	e := New(nil, nil)
	e.Register(toolDef("slow"), func(ctx context.Context, args map[string]any) (any, error) {
		time.Sleep(30 * time.Millisecond)
		return "slow-result", nil
	})
	e.Register(toolDef("fast"), func(ctx context.Context, args map[string]any) (any, error) {
		return "fast-result", nil
	})

	calls := []llm.ToolCall{
		{ID: "1", Function: llm.FunctionCall{Name: "slow", Arguments: "{}"}},
		{ID: "2", Function: llm.FunctionCall{Name: "fast", Arguments: "{}"}},
	}

	results := e.Execute(context.Background(), CallerInfo{ID: "u1"}, calls)
	if len(results) != 2 {
		t.Fatalf("expected 2 results, got %d", len(results))
	}
	if results[0].Name != "slow" || results[0].Content != "slow-result" {
		t.Fatalf("result[0] out of order: %+v", results[0])
	}
	if results[1].Name != "fast" || results[1].Content != "fast-result" {
		t.Fatalf("result[1] out of order: %+v", results[1])
	}
}

func TestSequentialToolForcesSingleFile(t *testing.T) {
	e := New(nil, nil)
	var order []string
	e.Register(toolDef("write_file"), func(ctx context.Context, args map[string]any) (any, error) {
		order = append(order, "write_file")
		return "ok", nil
	})
	e.Register(toolDef("read_file"), func(ctx context.Context, args map[string]any) (any, error) {
		order = append(order, "read_file")
		return "ok", nil
	})

	calls := []llm.ToolCall{
		{ID: "1", Function: llm.FunctionCall{Name: "write_file", Arguments: "{}"}},
		{ID: "2", Function: llm.FunctionCall{Name: "read_file", Arguments: "{}"}},
	}
	e.Execute(context.Background(), CallerInfo{}, calls)

	if len(order) != 2 || order[0] != "write_file" || order[1] != "read_file" {
		t.Fatalf("expected sequential in-order execution, got %v", order)
	}
}

func TestUnregisteredToolReturnsError(t *testing.T) {
	e := New(nil, nil)
	results := e.Execute(context.Background(), CallerInfo{}, []llm.ToolCall{
		{ID: "1", Function: llm.FunctionCall{Name: "nope", Arguments: "{}"}},
	})
	if results[0].Err == nil {
		t.Fatal("expected error for unregistered tool")
	}
}

func TestHandlerErrorPropagates(t *testing.T) {
	e := New(nil, nil)
	e.Register(toolDef("boom"), func(ctx context.Context, args map[string]any) (any, error) {
		return nil, fmt.Errorf("kaboom")
	})
	results := e.Execute(context.Background(), CallerInfo{}, []llm.ToolCall{
		{ID: "1", Function: llm.FunctionCall{Name: "boom", Arguments: "{}"}},
	})
	if results[0].Err == nil {
		t.Fatal("expected handler error to propagate")
	}
}
