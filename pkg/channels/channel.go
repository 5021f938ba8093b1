// Package channels defines the operator-facing surface the agent
// runtime talks through: a bidirectional message-plus-status sink with
// a blocking confirmation prompt. Each concrete channel (CLI, Discord,
// WhatsApp) adapts one transport to this interface; the runtime never
// sees transport specifics.
package channels

import (
	"context"

	"github.com/agentcore/runtime/pkg/agentcore/conversation"
)

// Incoming is one operator input with its origin, which the agent
// router uses to pick a profile.
type Incoming struct {
	Text           string
	User           string
	Group          string
	ConversationID string
}

// Diff is an optional rich rendering of a file-modifying tool result.
type Diff struct {
	Path    string
	Added   int
	Removed int
	Body    string
}

// FilterStats reports how much of a tool's raw output a filter kept.
type FilterStats struct {
	LinesIn  int
	LinesOut int
	Filter   string
}

// Channel is the operator conversation surface.
//
// Send* methods are best-effort: a transport hiccup is the channel's
// problem to log, never the runtime's problem to handle. Recv blocks
// until input arrives or the context is canceled; TryRecv never
// blocks.
type Channel interface {
	// Name identifies the transport ("cli", "discord", "whatsapp").
	Name() string

	// Start begins receiving operator input. Stop drains and closes.
	Start(ctx context.Context) error
	Stop() error

	Recv(ctx context.Context) (Incoming, bool)
	TryRecv() (Incoming, bool)

	// Send displays one complete message.
	Send(text string)

	// SendChunk streams a partial message; FlushChunks completes it.
	SendChunk(chunk string)
	FlushChunks()

	// SendTyping hints that the agent is working.
	SendTyping()

	// SendStatus shows a transient one-line status; empty clears it.
	SendStatus(text string)

	// SendQueueCount displays the pending-input depth.
	SendQueueCount(n int)

	// SendToolOutput displays a rich tool result. Channels without a
	// rich surface fall back to the canonical text framing.
	SendToolOutput(name, body string, diff *Diff, stats *FilterStats)

	// Confirm asks a blocking yes/no question.
	Confirm(prompt string) bool
}

// RenderToolOutput is the plain-text fallback rendering shared by
// channels without a richer tool-result surface.
func RenderToolOutput(name, body string) string {
	return conversation.FrameToolOutput(name, body)
}
