// Package queue buffers inbound operator messages ahead of the agent
// loop. Back-to-back messages from the same conversation arriving
// within a short window are merged into a single turn instead of
// spawning a run per keystroke-speed message; the queue is bounded so a
// channel flooding the runtime can't grow memory without limit.
package queue

import (
	"fmt"
	"log/slog"
	"sync"
	"time"
)

// MergeWindow is how long the queue waits after the first queued
// message before flushing a merged batch, to catch a user typing
// several short messages in quick succession.
const MergeWindow = 500 * time.Millisecond

// DefaultCapacity is the maximum number of pending (unmerged) messages
// held per conversation before new arrivals are dropped.
const DefaultCapacity = 10

// Message is one inbound unit of work for a conversation.
type Message struct {
	ConversationID string
	Text           string
	ReceivedAt     time.Time
}

// pending holds the in-flight merge state for one conversation.
type pending struct {
	messages []Message
	timer    *time.Timer
}

// Queue merges and bounds inbound messages per conversation, calling
// flush with a combined batch once the merge window elapses.
type Queue struct {
	mu       sync.Mutex
	capacity int
	window   time.Duration
	pending  map[string]*pending
	flush    func(conversationID string, batch []Message)
	logger   *slog.Logger
	dropped  int
}

// New builds a Queue. flush is invoked (on its own goroutine, one per
// conversation's timer) once a merge window closes with at least one
// queued message.
func New(flush func(conversationID string, batch []Message), logger *slog.Logger) *Queue {
	if logger == nil {
		logger = slog.Default()
	}
	return &Queue{
		capacity: DefaultCapacity,
		window:   MergeWindow,
		pending:  make(map[string]*pending),
		flush:    flush,
		logger:   logger,
	}
}

// Enqueue adds msg to its conversation's pending batch, starting the
// merge-window timer if the batch has none. Later arrivals join the
// batch without extending the timer, so a batch flushes one window
// after its first message. If the conversation's pending
// batch is already at capacity, the message is dropped and logged
// rather than blocking the caller or growing without bound.
func (q *Queue) Enqueue(msg Message) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	p, ok := q.pending[msg.ConversationID]
	if !ok {
		p = &pending{}
		q.pending[msg.ConversationID] = p
	}

	if len(p.messages) >= q.capacity {
		q.dropped++
		q.logger.Warn("message queue overflow, dropping message",
			"conversation_id", msg.ConversationID,
			"capacity", q.capacity,
			"total_dropped", q.dropped,
		)
		return fmt.Errorf("message queue full for conversation %s (capacity %d)", msg.ConversationID, q.capacity)
	}

	p.messages = append(p.messages, msg)

	if p.timer == nil {
		p.timer = time.AfterFunc(q.window, func() { q.drain(msg.ConversationID) })
	}
	return nil
}

// drain flushes a conversation's pending batch and clears its timer.
func (q *Queue) drain(conversationID string) {
	q.mu.Lock()
	p, ok := q.pending[conversationID]
	if !ok || len(p.messages) == 0 {
		q.mu.Unlock()
		return
	}
	batch := p.messages
	delete(q.pending, conversationID)
	q.mu.Unlock()

	q.flush(conversationID, batch)
}

// Pending returns the number of messages currently buffered for a
// conversation, for tests and status commands.
func (q *Queue) Pending(conversationID string) int {
	q.mu.Lock()
	defer q.mu.Unlock()
	if p, ok := q.pending[conversationID]; ok {
		return len(p.messages)
	}
	return 0
}

// DroppedCount returns the lifetime count of overflow-dropped messages.
func (q *Queue) DroppedCount() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.dropped
}

// Clear empties every conversation's pending batch, stopping their
// merge timers so a stale flush doesn't fire against an already-cleared
// queue. Returns how many messages were discarded, for the
// "/clear-queue" command to report back to the operator.
func (q *Queue) Clear() int {
	q.mu.Lock()
	defer q.mu.Unlock()

	n := 0
	for id, p := range q.pending {
		if p.timer != nil {
			p.timer.Stop()
		}
		n += len(p.messages)
		delete(q.pending, id)
	}
	return n
}

// MergeText joins a batch of merged messages into the single text block
// the agent loop sees as one user turn.
func MergeText(batch []Message) string {
	if len(batch) == 1 {
		return batch[0].Text
	}
	out := ""
	for i, m := range batch {
		if i > 0 {
			out += "\n"
		}
		out += m.Text
	}
	return out
}
