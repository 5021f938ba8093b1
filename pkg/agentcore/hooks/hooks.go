// Package hooks implements the lifecycle event bus that lets other
// components observe, and in some cases veto, the agent runtime's
// transitions: session boundaries, tool dispatch, compaction, and
// errors. It exists so that audit logging, metrics, and skill trust
// bookkeeping don't have to be wired point-to-point into the tool loop.
package hooks

import (
	"context"
	"log/slog"
	"sync"
)

// Event names a point in the runtime's lifecycle a handler can
// subscribe to.
type Event string

const (
	SessionStart       Event = "session_start"
	SessionEnd         Event = "session_end"
	UserPromptSubmit   Event = "user_prompt_submit"
	PreToolUse         Event = "pre_tool_use"
	PostToolUse        Event = "post_tool_use"
	AgentStart         Event = "agent_start"
	AgentStop          Event = "agent_stop"
	PreCompact         Event = "pre_compact"
	PostCompact        Event = "post_compact"
	MemorySave         Event = "memory_save"
	MemoryRecall       Event = "memory_recall"
	Notification       Event = "notification"
	Heartbeat          Event = "heartbeat"
	Error              Event = "error"
	ChannelConnect     Event = "channel_connect"
	ChannelDisconnect  Event = "channel_disconnect"
)

// preEvents are the events whose handlers may veto the guarded action
// by returning a non-nil error. All other events are observational:
// fire-and-forget, logged on error, never able to block anything.
var preEvents = map[Event]bool{
	UserPromptSubmit: true,
	PreToolUse:       true,
	PreCompact:       true,
}

// Payload carries event-specific data to handlers. Fields are populated
// according to which Event fired; handlers should only read the fields
// relevant to the events they registered for.
type Payload struct {
	ConversationID string
	ToolName       string
	ToolArgs       string
	Summary        string
	Err            error
	Extra          map[string]any
}

// Handler reacts to an Event. Returning a non-nil error from a handler
// registered on a Pre* event vetoes the guarded action; on any other
// event the error is logged and otherwise ignored.
type Handler func(ctx context.Context, payload Payload) error

// Bus dispatches events to registered handlers in registration order.
type Bus struct {
	mu       sync.RWMutex
	handlers map[Event][]Handler
	logger   *slog.Logger
}

// New builds an empty Bus.
func New(logger *slog.Logger) *Bus {
	if logger == nil {
		logger = slog.Default()
	}
	return &Bus{handlers: make(map[Event][]Handler), logger: logger}
}

// On registers handler to run when event fires.
func (b *Bus) On(event Event, handler Handler) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.handlers[event] = append(b.handlers[event], handler)
}

// Fire dispatches event to all registered handlers in order. For a
// Pre* event, the first handler to return an error stops dispatch and
// that error is returned to the caller as a veto; the guarded action
// must not proceed. For any other event, handler errors are logged and
// dispatch continues — observational events never block the runtime.
func (b *Bus) Fire(ctx context.Context, event Event, payload Payload) error {
	b.mu.RLock()
	handlers := append([]Handler(nil), b.handlers[event]...)
	b.mu.RUnlock()

	vetoable := preEvents[event]

	for _, h := range handlers {
		if err := h(ctx, payload); err != nil {
			if vetoable {
				return err
			}
			b.logger.Error("hook handler failed on observational event",
				"event", string(event), "error", err)
		}
	}
	return nil
}

// IsVetoable reports whether handlers registered on event are allowed
// to block the guarded action.
func IsVetoable(event Event) bool {
	return preEvents[event]
}
