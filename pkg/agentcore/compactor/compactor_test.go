package compactor

import (
	"context"
	"strings"
	"testing"

	"github.com/agentcore/runtime/pkg/agentcore/conversation"
)

func toolOutputMsg(name, body string) conversation.Message {
	m := conversation.Message{Role: conversation.RoleUser}
	m.Parts = []conversation.Part{conversation.NewToolOutputPart(name, body)}
	m.FlattenContent()
	return m
}

func TestCompactTier1ClearsOldToolOutputOnly(t *testing.T) {
	cfg := DefaultConfig()
	cfg.ProtectTokens = 0
	c := New(cfg, nil, nil)

	msgs := []conversation.Message{
		toolOutputMsg("bash", strings.Repeat("x", 100)),
		toolOutputMsg("bash", strings.Repeat("y", 100)),
	}
	out, freed := c.CompactTier1(msgs)

	if out[0].Parts[0].Body != "" || out[0].Parts[0].CompactedAt == 0 {
		t.Fatalf("expected first tool output body cleared, got %+v", out[0].Parts[0])
	}
	if out[1].Parts[0].Body != "" {
		t.Fatalf("expected second tool output body cleared with zero protect budget, got %+v", out[1].Parts[0])
	}
	if freed <= 0 {
		t.Fatal("expected freed tokens > 0")
	}
	if c.Counters().ToolOutputPrunes != 1 {
		t.Fatalf("expected ToolOutputPrunes=1, got %d", c.Counters().ToolOutputPrunes)
	}
}

func TestCompactTier1NeverTouchesProtectionBoundary(t *testing.T) {
	cfg := DefaultConfig()
	cfg.ProtectTokens = 10_000 // large enough to protect everything
	c := New(cfg, nil, nil)

	msgs := []conversation.Message{
		toolOutputMsg("bash", strings.Repeat("z", 50)),
	}
	out, freed := c.CompactTier1(msgs)
	if out[0].Parts[0].Body == "" {
		t.Fatal("message inside the protection boundary must not be cleared")
	}
	if freed != 0 {
		t.Fatalf("expected no tokens freed, got %d", freed)
	}
}

func TestCompactTier1NeverTouchesExplicitlyProtectedMessage(t *testing.T) {
	cfg := DefaultConfig()
	cfg.ProtectTokens = 0
	c := New(cfg, nil, nil)

	m := toolOutputMsg("bash", strings.Repeat("z", 50))
	m.Protected = true
	out, freed := c.CompactTier1([]conversation.Message{m})
	if out[0].Parts[0].Body == "" {
		t.Fatal("explicitly protected message must never be cleared")
	}
	if freed != 0 {
		t.Fatalf("expected no tokens freed, got %d", freed)
	}
}

func TestCompactTier2ReplacesWindowWithSummary(t *testing.T) {
	cfg := DefaultConfig()
	cfg.PreserveTail = 2

	stub := func(ctx context.Context, msgs []conversation.Message) (string, error) {
		return "recap of the old stuff", nil
	}
	c := New(cfg, stub, nil)

	msgs := []conversation.Message{
		{Role: conversation.RoleSystem, Content: "sys"},
		{Role: conversation.RoleUser, Content: "1"},
		{Role: conversation.RoleAssistant, Content: "2"},
		{Role: conversation.RoleUser, Content: "3"},
		{Role: conversation.RoleAssistant, Content: "4"}, // kept (tail)
		{Role: conversation.RoleUser, Content: "5"},       // kept (tail)
	}
	out, summary, err := c.CompactTier2(context.Background(), msgs)
	if err != nil {
		t.Fatalf("CompactTier2: %v", err)
	}
	if summary != "recap of the old stuff" {
		t.Fatalf("unexpected summary: %q", summary)
	}
	// system (preserved) + summary + 2-message tail == 4
	if len(out) != 4 {
		t.Fatalf("expected 4 messages after compaction, got %d: %+v", len(out), out)
	}
	if out[0].Content != "sys" {
		t.Fatalf("expected root system message preserved at index 0, got %+v", out[0])
	}
	if !out[1].Protected || !strings.Contains(out[1].Content, "[conversation summary — 3 messages compacted]") {
		t.Fatalf("expected summary message with count marker, got %+v", out[1])
	}
	if out[2].Content != "4" || out[3].Content != "5" {
		t.Fatalf("expected tail preserved verbatim, got %+v", out[2:])
	}
	if c.Counters().ContextCompactions != 1 {
		t.Fatalf("expected ContextCompactions=1, got %d", c.Counters().ContextCompactions)
	}
}

func TestCompactTier2NoOpWhenBelowWindow(t *testing.T) {
	cfg := DefaultConfig()
	cfg.PreserveTail = 10
	stub := func(ctx context.Context, msgs []conversation.Message) (string, error) { return "x", nil }
	c := New(cfg, stub, nil)

	msgs := []conversation.Message{{Role: conversation.RoleSystem, Content: "sys"}, {Role: conversation.RoleUser, Content: "only one"}}
	out, summary, err := c.CompactTier2(context.Background(), msgs)
	if err != nil {
		t.Fatalf("CompactTier2: %v", err)
	}
	if summary != "" {
		t.Fatalf("expected no summary when below window, got %q", summary)
	}
	if len(out) != 2 {
		t.Fatalf("expected unchanged messages, got %d", len(out))
	}
}

func TestShouldCompactFalseWithoutBudget(t *testing.T) {
	cfg := DefaultConfig()
	cfg.MaxTokens = 0
	c := New(cfg, nil, nil)
	msgs := []conversation.Message{{Role: conversation.RoleUser, Content: strings.Repeat("a", 1_000_000)}}
	if c.ShouldCompact(msgs) {
		t.Fatal("ShouldCompact must be false when no budget is configured")
	}
}

func TestCompactRunsTier2WhenTier1Insufficient(t *testing.T) {
	cfg := DefaultConfig()
	cfg.MaxTokens = 100
	cfg.CompactionThreshold = 0.5
	cfg.ProtectTokens = 10_000 // Tier 1 can free nothing
	cfg.PreserveTail = 1

	stub := func(ctx context.Context, msgs []conversation.Message) (string, error) {
		return "SUMMARY", nil
	}
	c := New(cfg, stub, nil)

	msgs := []conversation.Message{
		{Role: conversation.RoleSystem, Content: "sys"},
		{Role: conversation.RoleUser, Content: strings.Repeat("a", 200)},
		{Role: conversation.RoleAssistant, Content: strings.Repeat("b", 200)},
		{Role: conversation.RoleUser, Content: strings.Repeat("c", 200)},
	}
	out, summary, err := c.Compact(context.Background(), msgs)
	if err != nil {
		t.Fatalf("Compact: %v", err)
	}
	if summary != "SUMMARY" {
		t.Fatalf("expected the Tier 2 summary returned, got %q", summary)
	}
	if len(out) >= len(msgs) {
		t.Fatalf("expected the window collapsed, got %d of %d messages", len(out), len(msgs))
	}
	if c.Counters().ContextCompactions != 1 {
		t.Fatalf("expected ContextCompactions=1, got %d", c.Counters().ContextCompactions)
	}
}

func TestCompactStopsAtTier1WhenItFreesEnough(t *testing.T) {
	cfg := DefaultConfig()
	cfg.MaxTokens = 100
	cfg.CompactionThreshold = 0.75
	cfg.ProtectTokens = 0

	c := New(cfg, nil, nil) // nil summarizer: reaching Tier 2 would error

	msgs := []conversation.Message{
		{Role: conversation.RoleSystem, Content: "sys"},
		toolOutputMsg("bash", strings.Repeat("x", 500)),
	}
	out, summary, err := c.Compact(context.Background(), msgs)
	if err != nil {
		t.Fatalf("Compact: %v", err)
	}
	if summary != "" {
		t.Fatalf("Tier 2 must not run when Tier 1 freed enough, got summary %q", summary)
	}
	if out[1].Parts[0].Body != "" {
		t.Fatal("expected the tool output body pruned")
	}
}

func TestCompactNoOpWithoutBudget(t *testing.T) {
	cfg := DefaultConfig()
	cfg.MaxTokens = 0
	c := New(cfg, nil, nil)

	msgs := []conversation.Message{{Role: conversation.RoleSystem, Content: "sys"}}
	out, summary, err := c.Compact(context.Background(), msgs)
	if err != nil || summary != "" || len(out) != 1 {
		t.Fatalf("Compact without budget must be a no-op, got %d msgs, %q, %v", len(out), summary, err)
	}
}
