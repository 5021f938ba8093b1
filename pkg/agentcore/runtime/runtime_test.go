package runtime

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"

	"github.com/agentcore/runtime/pkg/agentcore/budget"
	"github.com/agentcore/runtime/pkg/agentcore/compactor"
	"github.com/agentcore/runtime/pkg/agentcore/contextprep"
	"github.com/agentcore/runtime/pkg/agentcore/llm"
	"github.com/agentcore/runtime/pkg/agentcore/metrics"
	"github.com/agentcore/runtime/pkg/agentcore/persistence"
	"github.com/agentcore/runtime/pkg/agentcore/skills"
	"github.com/agentcore/runtime/pkg/agentcore/toolexec"
	"github.com/agentcore/runtime/pkg/agentcore/toolguard"
	"github.com/agentcore/runtime/pkg/agentcore/toolloop"
)

// textOnlyLLM answers every completion with a fixed assistant reply,
// standing in for a real backend in tests that only need a turn to
// reach a terminal text response.
func textOnlyLLM(t *testing.T, reply string) *llm.Client {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]any{
			"choices": []map[string]any{
				{"message": map[string]any{"role": "assistant", "content": reply}, "finish_reason": "stop"},
			},
			"usage": map[string]any{"prompt_tokens": 10, "completion_tokens": 5, "total_tokens": 15},
		})
	}))
	t.Cleanup(srv.Close)
	return llm.NewClient(srv.URL, "test-key", "test-model", nil, nil)
}

func newTestExecutor(t *testing.T) *toolexec.Executor {
	t.Helper()
	guard, err := toolguard.New(toolguard.Config{Enabled: false}, nil, nil)
	if err != nil {
		t.Fatal(err)
	}
	return toolexec.New(guard, nil)
}

func newTestAgent(t *testing.T, reply string) *Agent {
	t.Helper()
	sessions, err := persistence.NewStore(t.TempDir(), nil)
	if err != nil {
		t.Fatal(err)
	}
	store, err := skills.OpenStore(filepath.Join(t.TempDir(), "skills.db"))
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { store.Close() })

	deps := Deps{
		Client:        textOnlyLLM(t, reply),
		Executor:      newTestExecutor(t),
		SkillRegistry: skills.NewRegistry(nil),
		SkillStore:    store,
		Sessions:      sessions,
		Metrics:       metrics.New("test-provider", "test-model"),
		ContextBudget: budget.DefaultConfig(),
		ToolLoop:      toolloop.DefaultConfig(),
		ContextPrep:   contextprep.DefaultConfig(),
		Compaction:    compactor.DefaultConfig(),
	}
	return New(deps, toolexec.CallerInfo{ID: "tester", Level: toolguard.LevelOwner})
}

func TestRunTurnReturnsAssistantReply(t *testing.T) {
	a := newTestAgent(t, "hello from the model")
	result, err := a.RunTurn(context.Background(), "conv-1", "hi there")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.FinalText != "hello from the model" {
		t.Fatalf("unexpected final text: %q", result.FinalText)
	}
	if result.Usage.PromptTokens == 0 {
		t.Fatal("expected usage to be recorded")
	}

	snap := a.deps.Metrics.Snapshot()
	if snap.ConversationID != "conv-1" {
		t.Fatalf("expected metrics to record conversation id, got %q", snap.ConversationID)
	}
	if snap.PromptTokens == 0 {
		t.Fatal("expected metrics to accumulate prompt tokens")
	}
}

func TestRunTurnPersistsHistoryAcrossCalls(t *testing.T) {
	a := newTestAgent(t, "second reply")
	if _, err := a.RunTurn(context.Background(), "conv-2", "first message"); err != nil {
		t.Fatalf("first turn failed: %v", err)
	}
	if _, err := a.RunTurn(context.Background(), "conv-2", "second message"); err != nil {
		t.Fatalf("second turn failed: %v", err)
	}

	entries, err := a.deps.Sessions.Load("conv-2")
	if err != nil {
		t.Fatal(err)
	}
	var turns int
	for _, e := range entries {
		if e.Type == persistence.EntryTurn {
			turns++
		}
	}
	if turns < 4 { // 2 user turns + 2 assistant replies
		t.Fatalf("expected at least 4 persisted turns, got %d", turns)
	}
}

func TestHandleInputDispatchesSlashCommandWithoutQueueing(t *testing.T) {
	a := newTestAgent(t, "unused")
	res, handled := a.HandleInput(context.Background(), "conv-3", "/skills")
	if !handled {
		t.Fatal("expected /skills to be handled as a command")
	}
	if res.Err != nil {
		t.Fatalf("unexpected error: %v", res.Err)
	}
	if a.queue.Pending("conv-3") != 0 {
		t.Fatal("a slash command must never be queued as a turn")
	}
}

func TestHandleInputQueuesPlainText(t *testing.T) {
	a := newTestAgent(t, "unused")
	_, handled := a.HandleInput(context.Background(), "conv-4", "what's the weather")
	if handled {
		t.Fatal("plain text should not be reported as a handled command")
	}
	if a.queue.Pending("conv-4") != 1 {
		t.Fatalf("expected the message to be queued, got %d pending", a.queue.Pending("conv-4"))
	}
}

func TestShutdownCancelsInFlightTurn(t *testing.T) {
	a := newTestAgent(t, "unused")
	ctx, cancel := a.shutdown.BeginTurn(context.Background(), "conv-5")
	defer cancel()

	a.Shutdown()

	select {
	case <-ctx.Done():
	default:
		t.Fatal("expected shutdown to cancel the in-flight turn's context")
	}
	select {
	case <-a.Done():
	default:
		t.Fatal("expected Done() to be closed after Shutdown()")
	}
}
