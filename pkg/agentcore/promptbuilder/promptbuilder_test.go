package promptbuilder

import (
	"strings"
	"testing"
)

func TestBuildOrdersByPriority(t *testing.T) {
	c := NewComposer(0)
	c.Add(LayerRuntime, "runtime state")
	c.Add(LayerCore, "core identity")
	c.Add(LayerSkills, "skill instructions")

	out := c.Build(0)
	coreIdx := strings.Index(out, "core identity")
	skillsIdx := strings.Index(out, "skill instructions")
	runtimeIdx := strings.Index(out, "runtime state")

	if !(coreIdx < skillsIdx && skillsIdx < runtimeIdx) {
		t.Fatalf("expected core < skills < runtime ordering, got indices %d %d %d", coreIdx, skillsIdx, runtimeIdx)
	}
}

func TestBuildTrimsLowestPriorityFirst(t *testing.T) {
	c := NewComposer(0)
	c.Add(LayerCore, "must-keep-core-content")
	c.Add(LayerRuntime, strings.Repeat("trimmable runtime filler ", 200))

	out := c.Build(20) // small budget forces trimming
	if !strings.Contains(out, "must-keep-core-content") {
		t.Fatal("core layer should survive trimming")
	}
	if strings.Contains(out, "trimmable runtime filler") {
		t.Fatal("runtime layer should have been trimmed first")
	}
}

func TestResetClearsEntries(t *testing.T) {
	c := NewComposer(0)
	c.Add(LayerCore, "turn one content")
	c.Reset()
	c.Add(LayerCore, "turn two content")

	out := c.Build(0)
	if strings.Contains(out, "turn one content") {
		t.Fatal("expected Reset to clear prior turn's entries")
	}
	if !strings.Contains(out, "turn two content") {
		t.Fatal("expected new turn's entry present")
	}
}
