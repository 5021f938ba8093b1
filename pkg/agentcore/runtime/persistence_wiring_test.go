package runtime

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/agentcore/runtime/pkg/agentcore/budget"
	"github.com/agentcore/runtime/pkg/agentcore/compactor"
	"github.com/agentcore/runtime/pkg/agentcore/contextprep"
	"github.com/agentcore/runtime/pkg/agentcore/metrics"
	"github.com/agentcore/runtime/pkg/agentcore/persistence"
	"github.com/agentcore/runtime/pkg/agentcore/skills"
	"github.com/agentcore/runtime/pkg/agentcore/store"
	"github.com/agentcore/runtime/pkg/agentcore/toolexec"
	"github.com/agentcore/runtime/pkg/agentcore/toolguard"
	"github.com/agentcore/runtime/pkg/agentcore/toolloop"
	"github.com/agentcore/runtime/pkg/agentcore/vector"
)

// newStoredAgent wires a full relational store and vector index behind
// the agent, the way the production bootstrap does.
func newStoredAgent(t *testing.T, reply string) (*Agent, *store.DB, *vector.Store) {
	t.Helper()
	dir := t.TempDir()

	db, err := store.OpenSQLite(filepath.Join(dir, "store.db"), nil)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { db.Close() })

	vectors, err := vector.Open(filepath.Join(dir, "vectors.db"), nil, nil)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { vectors.Close() })

	sessions, err := persistence.NewStore(filepath.Join(dir, "sessions"), nil)
	if err != nil {
		t.Fatal(err)
	}
	skillStore, err := skills.OpenStore(filepath.Join(dir, "skills.db"))
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { skillStore.Close() })

	deps := Deps{
		Client:        textOnlyLLM(t, reply),
		Executor:      newTestExecutor(t),
		SkillRegistry: skills.NewRegistry(nil),
		SkillStore:    skillStore,
		Sessions:      sessions,
		Summaries:     db,
		Vector:        vectors,
		Relational:    db,
		Index:         vectors,
		Metrics:       metrics.New("test-provider", "test-model"),
		ContextBudget: budget.DefaultConfig(),
		ToolLoop:      toolloop.DefaultConfig(),
		ContextPrep:   contextprep.DefaultConfig(),
		Compaction:    compactor.DefaultConfig(),
	}
	return New(deps, toolexec.CallerInfo{ID: "tester", Level: toolguard.LevelOwner}), db, vectors
}

func TestRunTurnMirrorsIntoRelationalStore(t *testing.T) {
	a, db, _ := newStoredAgent(t, "stored reply")
	ctx := context.Background()

	convID, err := db.CreateConversation(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := a.RunTurn(ctx, convID, "remember this"); err != nil {
		t.Fatalf("RunTurn: %v", err)
	}

	rows, err := db.LoadConversation(ctx, convID)
	if err != nil {
		t.Fatalf("LoadConversation: %v", err)
	}
	if len(rows) != 2 {
		t.Fatalf("expected user+assistant rows, got %d: %+v", len(rows), rows)
	}
	if rows[0].Role != "user" || rows[0].Content != "remember this" {
		t.Fatalf("row 0 = %+v", rows[0])
	}
	if rows[1].Role != "assistant" || rows[1].Content != "stored reply" {
		t.Fatalf("row 1 = %+v", rows[1])
	}
}

func TestRunTurnLoadsHistoryFromRelationalStore(t *testing.T) {
	a, db, _ := newStoredAgent(t, "later reply")
	ctx := context.Background()

	convID, err := db.CreateConversation(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := a.RunTurn(ctx, convID, "first message"); err != nil {
		t.Fatal(err)
	}
	if _, err := a.RunTurn(ctx, convID, "second message"); err != nil {
		t.Fatal(err)
	}

	rows, err := db.LoadConversation(ctx, convID)
	if err != nil {
		t.Fatal(err)
	}
	// Two user turns and two assistant replies, in append order.
	if len(rows) != 4 || rows[2].Content != "second message" {
		t.Fatalf("rows = %+v", rows)
	}
}

func TestRunTurnIndexesMessagesForRecall(t *testing.T) {
	a, _, vectors := newStoredAgent(t, "the deploy finished cleanly")
	ctx := context.Background()

	if _, err := a.RunTurn(ctx, "conv-a", "how did the deploy go"); err != nil {
		t.Fatal(err)
	}

	// Recall searches exclude the asking conversation, so search from
	// another one.
	hits, err := vectors.SearchRecall(ctx, "deploy", "conv-b", 8)
	if err != nil {
		t.Fatalf("SearchRecall: %v", err)
	}
	if len(hits) == 0 {
		t.Fatal("indexed turns must be recallable from other conversations")
	}

	// And the asking conversation's own turns are excluded.
	hits, err = vectors.SearchRecall(ctx, "deploy", "conv-a", 8)
	if err != nil {
		t.Fatal(err)
	}
	if len(hits) != 0 {
		t.Fatalf("own-conversation turns must be excluded from recall, got %v", hits)
	}
}

func TestPersistSummaryHasConsumers(t *testing.T) {
	a, db, vectors := newStoredAgent(t, "unused")
	ctx := context.Background()

	a.persistSummary(ctx, "conv-s", "finished the migration, next step is cleanup", 12)

	// The summaries table feeds injectSummaries.
	got, err := db.LoadSummaries(ctx, "conv-s")
	if err != nil || len(got) != 1 {
		t.Fatalf("LoadSummaries = %v, %v", got, err)
	}

	// The session-summaries collection feeds injectCrossSession.
	hits, err := vectors.SearchCrossSession(ctx, "migration cleanup", "another-conv", 0)
	if err != nil {
		t.Fatalf("SearchCrossSession: %v", err)
	}
	if len(hits) == 0 {
		t.Fatal("persisted summaries must be searchable cross-session")
	}
}
