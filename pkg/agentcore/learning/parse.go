package learning

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/agentcore/runtime/pkg/agentcore/llm"
)

// parseEvaluation reads the terse "IMPROVE: <severity> <issues>" or
// "SKIP" verdict LLMEvaluate's prompt asks for. A malformed or
// unrecognized reply is treated as SKIP — the safer default when an
// evaluation can't be trusted.
func parseEvaluation(text string) SkillEvaluation {
	line := strings.TrimSpace(text)
	if strings.HasPrefix(strings.ToUpper(line), "SKIP") {
		return SkillEvaluation{ShouldImprove: false}
	}
	if !strings.HasPrefix(strings.ToUpper(line), "IMPROVE:") {
		return SkillEvaluation{ShouldImprove: false}
	}

	rest := strings.TrimSpace(line[len("IMPROVE:"):])
	fields := strings.SplitN(rest, " ", 2)
	severity := 0.5
	issues := ""
	if len(fields) > 0 {
		if v, err := strconv.ParseFloat(fields[0], 64); err == nil {
			severity = v
		}
	}
	if len(fields) > 1 {
		issues = fields[1]
	}

	var issueList []string
	for _, i := range strings.Split(issues, ",") {
		if trimmed := strings.TrimSpace(i); trimmed != "" {
			issueList = append(issueList, trimmed)
		}
	}

	return SkillEvaluation{ShouldImprove: true, Severity: severity, Issues: issueList}
}

// LLMImprove adapts an llm.Client into an ImproveFunc.
func LLMImprove(client *llm.Client) ImproveFunc {
	return func(ctx context.Context, skillBody, errorContext, successfulResponse, userFeedback string) (string, error) {
		prompt := fmt.Sprintf(
			"Rewrite the following skill instructions to fix the failure described below. "+
				"Keep the same scope and intent; only change what's needed to avoid the failure.\n\n"+
				"Current skill:\n%s\n\nFailure context: %s\n", skillBody, errorContext,
		)
		if successfulResponse != "" {
			prompt += fmt.Sprintf("\nA retry that worked produced this response, which may hint at what should have happened:\n%s\n", successfulResponse)
		}
		if userFeedback != "" {
			prompt += fmt.Sprintf("\nDirect user feedback: %s\n", userFeedback)
		}
		prompt += "\nReply with only the new skill body, no commentary."

		resp, err := client.Complete(ctx, []llm.Message{{Role: "user", Content: prompt}})
		if err != nil {
			return "", err
		}
		text, ok := resp.(llm.TextResponse)
		if !ok {
			return "", fmt.Errorf("unexpected response type %T from skill improver", resp)
		}
		return strings.TrimSpace(text.Content), nil
	}
}
