package budget

import (
	"strings"
	"testing"
)

func TestAllocateSubtractsPrompts(t *testing.T) {
	cfg := DefaultConfig()
	cfg.MaxContextTokens = 10_000

	free := cfg.Allocate("", "")
	// 4000 estimated tokens of system + skills prompt (length/4).
	loaded := cfg.Allocate(strings.Repeat("s", 8_000), strings.Repeat("k", 8_000))

	if loaded.Total() >= free.Total() {
		t.Fatalf("prompt cost not subtracted: loaded %d >= free %d", loaded.Total(), free.Total())
	}
	if loaded.Total() > 10_000-4_000 {
		t.Fatalf("sub-budgets sum to %d, exceeding the %d tokens left after the prompts", loaded.Total(), 6_000)
	}
	if loaded.RecentHistory == 0 {
		t.Fatal("history share should survive a partially-loaded window")
	}
}

func TestAllocateClampsAtZero(t *testing.T) {
	cfg := DefaultConfig()
	cfg.MaxContextTokens = 100

	alloc := cfg.Allocate(strings.Repeat("s", 10_000), "")
	if alloc.Total() != 0 {
		t.Fatalf("over-full window must allocate nothing, got %d", alloc.Total())
	}
}

func TestAllocateLeavesReplyHeadroom(t *testing.T) {
	cfg := DefaultConfig()
	cfg.MaxContextTokens = 10_000

	// Fractions sum to 0.80, so at least 20% stays unallocated.
	if got := cfg.Allocate("", "").Total(); got > 8_000 {
		t.Fatalf("allocation %d eats into reply headroom", got)
	}
}
