// Package conversation defines the shared message shape the tool loop,
// compactor, context preparer, and prompt builder all operate on, so
// none of them have to agree on a provider-specific wire format.
//
// A Message carries a flat, denormalized Content string (used for
// display and for the cheap token estimate) alongside an ordered list
// of typed Parts that is authoritative for everything else: wire-format
// conversion, part-type-aware injection and removal, and compaction.
// Keeping both lets callers that only care about "what does this
// message say" read Content, while callers that need to tell a Recall
// block from a ToolUse block walk Parts.
package conversation

import "github.com/agentcore/runtime/pkg/agentcore/llm"

// Role names who spoke a message. Only three roles ever occupy
// position 0 or later in a conversation's message list: system appears
// exactly once, at index 0.
const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// PartType discriminates the variants a Part can hold.
type PartType string

const (
	PartText         PartType = "text"
	PartImage        PartType = "image"
	PartRecall       PartType = "recall"
	PartCodeContext  PartType = "code_context"
	PartSummary      PartType = "summary"
	PartCrossSession PartType = "cross_session"
	PartToolUse      PartType = "tool_use"
	PartToolResult   PartType = "tool_result"
	PartToolOutput   PartType = "tool_output"
)

// Part is one typed unit inside a Message. Exactly one of the
// type-specific payload groups below is meaningful for a given Type;
// which one is determined entirely by Type, not by which fields happen
// to be non-zero — a ToolResult with an empty Body is still a
// ToolResult, not a Text part.
type Part struct {
	Type PartType

	// Text / Recall / CodeContext / Summary / CrossSession payload.
	Text string

	// Image payload.
	ImageData []byte
	ImageMIME string

	// ToolUse payload: an opaque call id, the tool name, and its raw
	// JSON input.
	ToolUseID    string
	ToolName     string
	ToolInput    string

	// ToolResult payload: the id of the matching ToolUse part earlier
	// in the conversation, the result body, and whether it represents
	// an error.
	ToolResultID string
	Body         string
	IsError      bool

	// ToolOutput payload: the tool that produced it, its body, and the
	// timestamp compaction cleared that body at (zero if never
	// compacted). ToolOutput differs from ToolResult in that it is the
	// user-visible framing of a completed call, not the wire-format
	// pairing with a ToolUse id; it is what the compactor prunes.
	CompactedAt int64 // unix seconds; 0 means not yet compacted
}

// NewTextPart builds a Text part.
func NewTextPart(text string) Part { return Part{Type: PartText, Text: text} }

// NewImagePart builds an Image part.
func NewImagePart(data []byte, mime string) Part {
	return Part{Type: PartImage, ImageData: data, ImageMIME: mime}
}

// NewRecallPart builds a semantic-recall injection part.
func NewRecallPart(text string) Part { return Part{Type: PartRecall, Text: text} }

// NewCodeContextPart builds a code-context injection part.
func NewCodeContextPart(text string) Part { return Part{Type: PartCodeContext, Text: text} }

// NewSummaryPart builds a conversation-summary injection part.
func NewSummaryPart(text string) Part { return Part{Type: PartSummary, Text: text} }

// NewCrossSessionPart builds a cross-session-recall injection part.
func NewCrossSessionPart(text string) Part { return Part{Type: PartCrossSession, Text: text} }

// NewToolUsePart builds a tool-call request part.
func NewToolUsePart(id, name, input string) Part {
	return Part{Type: PartToolUse, ToolUseID: id, ToolName: name, ToolInput: input}
}

// NewToolResultPart builds a part pairing with an earlier ToolUse id.
func NewToolResultPart(toolUseID, body string, isError bool) Part {
	return Part{Type: PartToolResult, ToolResultID: toolUseID, Body: body, IsError: isError}
}

// NewToolOutputPart builds the user-visible framing of a tool's
// completed output.
func NewToolOutputPart(toolName, body string) Part {
	return Part{Type: PartToolOutput, ToolName: toolName, Body: body}
}

// Message is one turn in a conversation. Invariants enforced by callers
// (not by the type itself, since Go has no dependent typing):
//   - messages[0].Role == RoleSystem, and it is the only message with
//     that role.
//   - ToolUse and ToolResult part ids pair up within the conversation.
//   - An assistant message that produced tool calls carries one Text
//     part (possibly empty) followed by one or more ToolUse parts; the
//     paired user message carries the matching ToolResult parts in the
//     same order.
type Message struct {
	Role    string
	Content string
	Parts   []Part

	// ToolCallID and ToolCalls are kept for the legacy, non-parts wire
	// path (providers that speak bare role/content/tool_call_id rather
	// than structured parts); FlattenContent and ToLLM both still honor
	// them when Parts is empty.
	ToolCallID string
	ToolCalls  []llm.ToolCall

	// Protected marks a message Tier 1 pruning always skips, on top of
	// the recent messages its ProtectTokens window already spares. The
	// compactor sets it on the Tier 2 summary message it inserts; Tier 2
	// does not exclude protected messages from the span it summarizes.
	Protected bool
}

// FirstPartType returns the Type of the message's first part, or "" if
// it has none. Injection/removal logic identifies a prior Recall,
// CodeContext, Summary, or CrossSession message by this — a system-role
// message whose first part is the matching type.
func (m Message) FirstPartType() PartType {
	if len(m.Parts) == 0 {
		return ""
	}
	return m.Parts[0].Type
}

// legacyPrefixes maps a part type to the content prefix older callers
// used before parts existed, so removal logic can still recognize an
// injection written in that form.
var legacyPrefixes = map[PartType]string{
	PartRecall:       "[recalled context]",
	PartCodeContext:  "[code context]",
	PartSummary:      "[conversation summary",
	PartCrossSession: "[related session]",
}

// IsInjectionOf reports whether m is a previously-injected message of
// the given part type, recognizing both the current parts-based form
// and the legacy content-prefix form for backward compatibility.
func IsInjectionOf(m Message, t PartType) bool {
	if m.Role != RoleSystem {
		return false
	}
	if m.FirstPartType() == t {
		return true
	}
	prefix, ok := legacyPrefixes[t]
	if !ok {
		return false
	}
	return len(m.Content) >= len(prefix) && m.Content[:len(prefix)] == prefix
}

// FlattenContent rebuilds the denormalized Content field from Parts.
// Call this after mutating Parts (e.g. clearing a ToolOutput body
// during compaction) so Content stays a faithful projection; the
// runtime never lets the two drift apart for longer than one mutation.
func (m *Message) FlattenContent() {
	if len(m.Parts) == 0 {
		return
	}
	out := ""
	for _, p := range m.Parts {
		rendered := renderPart(p)
		if rendered == "" {
			continue
		}
		if out != "" {
			out += "\n"
		}
		out += rendered
	}
	m.Content = out
}

func renderPart(p Part) string {
	switch p.Type {
	case PartText:
		return p.Text
	case PartImage:
		return "[image: " + p.ImageMIME + "]"
	case PartRecall:
		return "[recalled context]\n" + p.Text
	case PartCodeContext:
		return "[code context]\n" + p.Text
	case PartSummary:
		return p.Text
	case PartCrossSession:
		return "[related session]\n" + p.Text
	case PartToolUse:
		return ""
	case PartToolResult:
		return p.Body
	case PartToolOutput:
		return FrameToolOutput(p.ToolName, p.Body)
	default:
		return ""
	}
}

// FrameToolOutput renders the canonical on-wire framing of a tool
// output, per the runtime's message and persistence contract.
func FrameToolOutput(toolName, body string) string {
	return "[tool output: " + toolName + "]\n```\n" + body + "\n```"
}

// ToLLM converts a slice of Message into the wire Message type the LLM
// client sends, prefixed with an optional system message. Parts-based
// messages are flattened to Content first (FlattenContent is
// idempotent and cheap), since the wire client only understands flat
// role/content/tool_call pairs.
func ToLLM(system string, msgs []Message) []llm.Message {
	out := make([]llm.Message, 0, len(msgs)+1)
	if system != "" {
		out = append(out, llm.Message{Role: "system", Content: system})
	}
	for _, m := range msgs {
		content := m.Content
		if len(m.Parts) > 0 {
			clone := m
			clone.FlattenContent()
			content = clone.Content
		}
		out = append(out, llm.Message{
			Role:       m.Role,
			Content:    content,
			ToolCallID: m.ToolCallID,
			ToolCalls:  m.ToolCalls,
		})
	}
	return out
}

// ValidateInvariants checks the structural invariants the
// spec require of a message list, returning the first violation found
// (or nil). It is meant for tests and debug assertions, not the hot
// path.
func ValidateInvariants(msgs []Message) error {
	if len(msgs) == 0 {
		return errNoMessages
	}
	if msgs[0].Role != RoleSystem {
		return errFirstNotSystem
	}
	for i := 1; i < len(msgs); i++ {
		if msgs[i].Role == RoleSystem {
			switch msgs[i].FirstPartType() {
			case PartRecall, PartCodeContext, PartSummary, PartCrossSession:
				return errStraySystemInjection
			}
		}
	}
	return nil
}

type validationError string

func (e validationError) Error() string { return string(e) }

const (
	errNoMessages           = validationError("message list is empty")
	errFirstNotSystem       = validationError("message[0] is not role=system")
	errStraySystemInjection = validationError("a non-root system message carries an injection part type")
)
