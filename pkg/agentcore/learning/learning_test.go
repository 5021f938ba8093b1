package learning

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/agentcore/runtime/pkg/agentcore/skills"
)

func newTestHooks(t *testing.T) (*Hooks, *skills.Store, *skills.Registry) {
	t.Helper()
	store, err := skills.OpenStore(filepath.Join(t.TempDir(), "skills.db"))
	if err != nil {
		t.Fatalf("OpenStore: %v", err)
	}
	t.Cleanup(func() { store.Close() })
	reg := skills.NewRegistry(nil)
	h := New(DefaultConfig(), store, reg, nil)
	return h, store, reg
}

func TestRecordSkillOutcomesTriggersRollback(t *testing.T) {
	h, store, _ := newTestHooks(t)
	if err := store.InsertVersion(skills.Version{SkillName: "deploy", VersionID: 1, Body: "v1", Source: skills.SourceLocal, IsActive: false, CreatedAt: time.Now()}); err != nil {
		t.Fatal(err)
	}
	if err := store.InsertVersion(skills.Version{SkillName: "deploy", VersionID: 2, Body: "v2", Source: skills.SourceAuto, PredecessorID: 1, IsActive: true, CreatedAt: time.Now()}); err != nil {
		t.Fatal(err)
	}
	h.cfg.Rollback.MinEvaluations = 2

	active := []skills.Skill{{Name: "deploy"}}
	h.RecordSkillOutcomes(active, "conv1", skills.OutcomeToolFailure, "boom")
	h.RecordSkillOutcomes(active, "conv1", skills.OutcomeToolFailure, "boom again")

	got, _, err := store.ActiveVersion("deploy")
	if err != nil {
		t.Fatal(err)
	}
	if got.VersionID != 1 {
		t.Fatalf("expected rollback to version 1, got %d", got.VersionID)
	}
}

func TestAttemptSelfReflectionSkipsUntrustedSkill(t *testing.T) {
	h, _, reg := newTestHooks(t)
	reg.SetTrust("deploy", skills.TrustUntrusted)

	called := false
	reflect := func(ctx context.Context, prompt string) (string, bool, error) {
		called = true
		return "retry worked", true, nil
	}

	_, ok := h.AttemptSelfReflection(context.Background(), []skills.Skill{{Name: "deploy"}}, "err", "output", reflect)
	if ok || called {
		t.Fatal("untrusted skill must not trigger self-reflection")
	}
}

func TestAttemptSelfReflectionSingleShotPerTurn(t *testing.T) {
	h, _, reg := newTestHooks(t)
	reg.SetTrust("deploy", skills.TrustTrusted)

	calls := 0
	reflect := func(ctx context.Context, prompt string) (string, bool, error) {
		calls++
		return "ok", true, nil
	}

	_, ok1 := h.AttemptSelfReflection(context.Background(), []skills.Skill{{Name: "deploy"}}, "err", "out", reflect)
	_, ok2 := h.AttemptSelfReflection(context.Background(), []skills.Skill{{Name: "deploy"}}, "err", "out", reflect)

	if !ok1 {
		t.Fatal("first reflection attempt should succeed")
	}
	if ok2 {
		t.Fatal("second reflection attempt in the same turn must be suppressed")
	}
	if calls != 1 {
		t.Fatalf("expected reflect to run exactly once, ran %d times", calls)
	}

	h.ResetTurn()
	if _, ok := h.AttemptSelfReflection(context.Background(), []skills.Skill{{Name: "deploy"}}, "err", "out", reflect); !ok {
		t.Fatal("reflection should be usable again after ResetTurn")
	}
}

func TestGenerateImprovedSkillRejectsOversizedBody(t *testing.T) {
	h, store, reg := newTestHooks(t)
	reg.SetTrust("deploy", skills.TrustTrusted)
	if err := store.InsertVersion(skills.Version{SkillName: "deploy", VersionID: 1, Body: "short", Source: skills.SourceLocal, IsActive: true, FailureCount: 10, CreatedAt: time.Now()}); err != nil {
		t.Fatal(err)
	}

	huge := make([]byte, 1000)
	improve := func(ctx context.Context, body, errCtx, success, feedback string) (string, error) {
		return string(huge), nil
	}

	_, ok, err := h.GenerateImprovedSkill(context.Background(), "deploy", "ctx", "", "", false, nil, improve)
	if ok || err == nil {
		t.Fatal("oversized improved body must be rejected")
	}
}

func TestParseEvaluation(t *testing.T) {
	eval := parseEvaluation("IMPROVE: 0.8 too vague, missing error handling")
	if !eval.ShouldImprove || eval.Severity != 0.8 || len(eval.Issues) != 2 {
		t.Fatalf("unexpected parse result: %+v", eval)
	}
	skip := parseEvaluation("SKIP")
	if skip.ShouldImprove {
		t.Fatal("SKIP must parse to ShouldImprove=false")
	}
}
