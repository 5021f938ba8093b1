package discord

import (
	"strings"
	"testing"
)

func TestSplitMessageShort(t *testing.T) {
	parts := splitMessage("hello")
	if len(parts) != 1 || parts[0] != "hello" {
		t.Fatalf("parts = %v", parts)
	}
}

func TestSplitMessageOnLineBoundaries(t *testing.T) {
	lines := make([]string, 0, 100)
	for i := 0; i < 100; i++ {
		lines = append(lines, strings.Repeat("x", 50))
	}
	text := strings.Join(lines, "\n")

	parts := splitMessage(text)
	if len(parts) < 2 {
		t.Fatalf("expected multiple parts, got %d", len(parts))
	}
	for i, p := range parts {
		if len(p) > maxMessageLen {
			t.Fatalf("part %d exceeds limit: %d bytes", i, len(p))
		}
		if p == "" {
			t.Fatalf("part %d is empty", i)
		}
	}
	if strings.Join(parts, "\n") != text {
		t.Fatal("splitting lost content")
	}
}

func TestSplitMessageOversizedLine(t *testing.T) {
	text := strings.Repeat("y", maxMessageLen*2+10)
	parts := splitMessage(text)
	total := 0
	for _, p := range parts {
		if len(p) > maxMessageLen {
			t.Fatalf("part exceeds limit: %d bytes", len(p))
		}
		total += len(p)
	}
	if total != len(text) {
		t.Fatalf("splitting changed length: %d != %d", total, len(text))
	}
}

func TestIsAffirmative(t *testing.T) {
	for _, yes := range []string{"yes", "Y", " ok ", "CONFIRM"} {
		if !isAffirmative(yes) {
			t.Fatalf("%q should be affirmative", yes)
		}
	}
	for _, no := range []string{"no", "nope", "", "yess"} {
		if isAffirmative(no) {
			t.Fatalf("%q should not be affirmative", no)
		}
	}
}

func TestAllowed(t *testing.T) {
	if !allowed(nil, "anyone") {
		t.Fatal("empty allowlist must allow everyone")
	}
	if !allowed([]string{"a", "b"}, "b") || allowed([]string{"a"}, "c") {
		t.Fatal("allowlist must match by exact id")
	}
}
