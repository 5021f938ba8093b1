package promptbuilder

import "github.com/agentcore/runtime/pkg/agentcore/tokens"

// SystemPromptInputs holds the independently-produced blocks
// rebuild_system_prompt assembles, each already rendered to its final
// text (or empty, if that block doesn't apply this turn).
type SystemPromptInputs struct {
	SkillsPrompt           string
	EnvironmentBlock       string
	ToolCatalog            string
	RemainingSkillsCatalog string
	MCPPrompt              string
	ProjectContext         string
	RepoMap                string
}

// systemPromptSection pairs one input block with its fixed assembly
// position; sections later in this list are trimmed first when the
// composed prompt exceeds maxTokens, since they're the most
// dispensable context (repo map and project context) rather than the
// skill instructions and tool catalog the model actually needs to act.
func (in SystemPromptInputs) sections() []string {
	return []string{
		in.SkillsPrompt,
		in.EnvironmentBlock,
		in.ToolCatalog,
		in.RemainingSkillsCatalog,
		in.MCPPrompt,
		in.ProjectContext,
		in.RepoMap,
	}
}

// RebuildSystemPrompt composes the prompt in a fixed order: active
// skills prompt, environment block, tool catalog, remaining-skills
// catalog, MCP prompt, project context, then repo map — each section
// separated by a blank line, empty sections omitted entirely. When the
// result would exceed maxTokens, whole sections are dropped from the
// tail (repo map first) until it fits; a maxTokens of 0 disables
// trimming.
func RebuildSystemPrompt(in SystemPromptInputs, maxTokens int) string {
	sections := nonEmpty(in.sections())

	if maxTokens <= 0 {
		return joinSections(sections)
	}
	for len(sections) > 0 && tokens.Estimate(joinSections(sections)) > maxTokens {
		sections = sections[:len(sections)-1]
	}
	return joinSections(sections)
}

func nonEmpty(in []string) []string {
	out := make([]string, 0, len(in))
	for _, s := range in {
		if s != "" {
			out = append(out, s)
		}
	}
	return out
}

func joinSections(sections []string) string {
	out := ""
	for i, s := range sections {
		if i > 0 {
			out += "\n\n"
		}
		out += s
	}
	return out
}
