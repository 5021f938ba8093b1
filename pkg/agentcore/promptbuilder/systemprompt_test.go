package promptbuilder

import (
	"strings"
	"testing"
)

func TestRebuildSystemPromptOrdersSections(t *testing.T) {
	in := SystemPromptInputs{
		SkillsPrompt:           "skills",
		EnvironmentBlock:       "env",
		ToolCatalog:            "tools",
		RemainingSkillsCatalog: "remaining",
		MCPPrompt:              "mcp",
		ProjectContext:         "project",
		RepoMap:                "repomap",
	}
	out := RebuildSystemPrompt(in, 0)

	positions := []int{
		strings.Index(out, "skills"),
		strings.Index(out, "env"),
		strings.Index(out, "tools"),
		strings.Index(out, "remaining"),
		strings.Index(out, "mcp"),
		strings.Index(out, "project"),
		strings.Index(out, "repomap"),
	}
	for i := 1; i < len(positions); i++ {
		if positions[i-1] >= positions[i] {
			t.Fatalf("expected sections in fixed assembly order, got positions %v", positions)
		}
	}
}

func TestRebuildSystemPromptOmitsEmptySections(t *testing.T) {
	in := SystemPromptInputs{SkillsPrompt: "skills", ToolCatalog: "tools"}
	out := RebuildSystemPrompt(in, 0)
	if strings.Contains(out, "\n\n\n") {
		t.Fatal("empty sections should not leave stray separators")
	}
	if out != "skills\n\ntools" {
		t.Fatalf("unexpected output: %q", out)
	}
}

func TestRebuildSystemPromptTrimsTailSectionsFirst(t *testing.T) {
	in := SystemPromptInputs{
		SkillsPrompt: "must-keep-skills",
		ToolCatalog:  "must-keep-tools",
		RepoMap:      strings.Repeat("trimmable repo content ", 200),
	}
	out := RebuildSystemPrompt(in, 10)
	if !strings.Contains(out, "must-keep-skills") {
		t.Fatal("skills prompt should survive trimming")
	}
	if strings.Contains(out, "trimmable repo content") {
		t.Fatal("repo map should be trimmed first as the most dispensable section")
	}
}
