package toolexec

import (
	"context"
	"strings"
	"testing"

	"github.com/agentcore/runtime/pkg/agentcore/llm"
	"github.com/agentcore/runtime/pkg/agentcore/toolguard"
)

func guardWithDangerous(t *testing.T) *toolguard.Guard {
	t.Helper()
	g, err := toolguard.New(toolguard.Config{
		Enabled:           true,
		DangerousPatterns: []string{`rm\s+-rf`},
	}, nil, nil)
	if err != nil {
		t.Fatalf("toolguard.New: %v", err)
	}
	return g
}

func bashCall(command string) []llm.ToolCall {
	return []llm.ToolCall{{ID: "1", Function: llm.FunctionCall{Name: "bash", Arguments: `{"command": "` + command + `"}`}}}
}

func TestDangerousCommandBlockedWithoutConfirm(t *testing.T) {
	e := New(guardWithDangerous(t), nil)
	e.Register(toolDef("bash"), func(ctx context.Context, args map[string]any) (any, error) {
		return "ran", nil
	})

	results := e.Execute(context.Background(), CallerInfo{ID: "op"}, bashCall("rm -rf /tmp/x"))
	if results[0].Err == nil {
		t.Fatal("dangerous command must be blocked when no confirm func is set")
	}
}

func TestDangerousCommandConfirmedRuns(t *testing.T) {
	e := New(guardWithDangerous(t), nil)
	e.Register(toolDef("bash"), func(ctx context.Context, args map[string]any) (any, error) {
		return "ran", nil
	})

	var prompt string
	e.SetConfirm(func(p string) bool { prompt = p; return true })

	results := e.Execute(context.Background(), CallerInfo{ID: "op"}, bashCall("rm -rf /tmp/x"))
	if results[0].Err != nil {
		t.Fatalf("confirmed command should run: %v", results[0].Err)
	}
	if results[0].Content != "ran" {
		t.Fatalf("content = %q", results[0].Content)
	}
	if !strings.Contains(prompt, "rm -rf /tmp/x") {
		t.Fatalf("confirmation prompt should name the command, got %q", prompt)
	}
}

func TestDangerousCommandDenied(t *testing.T) {
	e := New(guardWithDangerous(t), nil)
	ran := false
	e.Register(toolDef("bash"), func(ctx context.Context, args map[string]any) (any, error) {
		ran = true
		return "ran", nil
	})
	e.SetConfirm(func(string) bool { return false })

	results := e.Execute(context.Background(), CallerInfo{ID: "op"}, bashCall("rm -rf /tmp/x"))
	if results[0].Err == nil || !strings.Contains(results[0].Err.Error(), "denied") {
		t.Fatalf("denied command must error, got %v", results[0].Err)
	}
	if ran {
		t.Fatal("denied command must not execute")
	}
}

func TestSkillEnvReachesHandler(t *testing.T) {
	e := New(nil, nil)
	var seen map[string]string
	e.Register(toolDef("bash"), func(ctx context.Context, args map[string]any) (any, error) {
		seen = SkillEnv(ctx)
		return "ok", nil
	})

	e.SetSkillEnv(map[string]string{"API_TOKEN": "tok"})
	e.Execute(context.Background(), CallerInfo{}, bashCall("echo hi"))
	if seen["API_TOKEN"] != "tok" {
		t.Fatalf("handler saw env %v", seen)
	}

	e.SetSkillEnv(nil)
	e.Execute(context.Background(), CallerInfo{}, bashCall("echo hi"))
	if seen != nil {
		t.Fatalf("cleared env still visible: %v", seen)
	}
}
