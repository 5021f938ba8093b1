package persistence

import (
	"testing"
)

func TestSaveAndLoadTurns(t *testing.T) {
	dir := t.TempDir()
	store, err := NewStore(dir, nil)
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}

	if err := store.SaveTurn("conv/with:chars", "user", "hello"); err != nil {
		t.Fatalf("SaveTurn: %v", err)
	}
	if err := store.SaveTurn("conv/with:chars", "assistant", "hi there"); err != nil {
		t.Fatalf("SaveTurn: %v", err)
	}

	entries, err := store.Load("conv/with:chars")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if len(entries) != 2 {
		t.Fatalf("expected 2 entries, got %d", len(entries))
	}
	if entries[0].Content != "hello" || entries[1].Content != "hi there" {
		t.Fatalf("unexpected entries: %+v", entries)
	}
}

func TestSaveCompactionMarker(t *testing.T) {
	dir := t.TempDir()
	store, err := NewStore(dir, nil)
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}

	if err := store.SaveTurn("c1", "user", "first"); err != nil {
		t.Fatalf("SaveTurn: %v", err)
	}
	if err := store.SaveCompaction("c1", CompactionMeta{Tier: 2, Summary: "summary text", MessagesBefore: 50, MessagesAfter: 10}); err != nil {
		t.Fatalf("SaveCompaction: %v", err)
	}

	entries, err := store.Load("c1")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if len(entries) != 2 {
		t.Fatalf("expected 2 entries, got %d", len(entries))
	}
	if entries[1].Type != EntryCompaction {
		t.Fatalf("expected second entry to be a compaction marker, got %s", entries[1].Type)
	}
}

func TestLoadMissingConversationReturnsEmpty(t *testing.T) {
	dir := t.TempDir()
	store, err := NewStore(dir, nil)
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}
	entries, err := store.Load("never-existed")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if len(entries) != 0 {
		t.Fatalf("expected no entries, got %d", len(entries))
	}
}
