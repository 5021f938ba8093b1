package conversation

import "strings"

// ParsedToolOutput is the result of recognizing one of the three tool
// output framings in persisted or displayed text.
type ParsedToolOutput struct {
	ToolName  string
	Body      string
	ToolUseID string // only set for the native [tool_result: id] form
}

// ParseToolOutput recognizes the three framings of a tool output:
//
//	[tool output: <name>]\n```\n<body>\n```     (canonical, the only one emitted)
//	[tool output]\n```\n<body>\n```             (legacy, name inferred)
//	[tool_result: <id>]\n<body>                 (native tool-use form)
//
// The legacy form infers "bash" when the body starts with "$ ", else
// "tool". Returns false when text carries none of the framings.
func ParseToolOutput(text string) (ParsedToolOutput, bool) {
	switch {
	case strings.HasPrefix(text, "[tool output: "):
		rest := text[len("[tool output: "):]
		end := strings.Index(rest, "]")
		if end < 0 {
			return ParsedToolOutput{}, false
		}
		return ParsedToolOutput{
			ToolName: rest[:end],
			Body:     stripFence(rest[end+1:]),
		}, true

	case strings.HasPrefix(text, "[tool output]"):
		body := stripFence(text[len("[tool output]"):])
		name := "tool"
		if strings.HasPrefix(body, "$ ") {
			name = "bash"
		}
		return ParsedToolOutput{ToolName: name, Body: body}, true

	case strings.HasPrefix(text, "[tool_result: "):
		rest := text[len("[tool_result: "):]
		end := strings.Index(rest, "]")
		if end < 0 {
			return ParsedToolOutput{}, false
		}
		body := strings.TrimPrefix(rest[end+1:], "\n")
		return ParsedToolOutput{ToolUseID: rest[:end], ToolName: "tool", Body: body}, true
	}
	return ParsedToolOutput{}, false
}

// stripFence removes the leading newline and surrounding ``` fence the
// framed forms carry around the body.
func stripFence(s string) string {
	s = strings.TrimPrefix(s, "\n")
	s = strings.TrimPrefix(s, "```\n")
	s = strings.TrimSuffix(s, "```")
	s = strings.TrimSuffix(s, "\n")
	return s
}
