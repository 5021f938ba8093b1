// Package metrics implements the runtime's single-writer/many-reader
// metrics publisher: the agent owns the only writer, cloning the prior
// snapshot, editing the clone, and publishing it wholesale so a reader
// never observes a half-updated value.
package metrics

import (
	"sync"
	"time"
)

// Snapshot is the observable state of one running agent, per the data
// model's MetricsSnapshot.
type Snapshot struct {
	Provider       string
	Model          string
	ActiveSkills   int
	TotalSkills    int
	PromptTokens   int
	CompletionTokens int
	TotalTokens    int
	CachedTokens   int
	APICallCount   int
	Cancellations  int
	Uptime         time.Duration
	ConversationID string
	LastLLMLatency time.Duration
	CompactionCount int
	PruneCount     int
	CostCents      float64
}

// clone returns a value copy; Snapshot holds no reference types so a
// plain copy is already a safe independent clone.
func (s Snapshot) clone() Snapshot { return s }

// Publisher owns the canonical Snapshot and broadcasts every update to
// its subscribers. The zero value is not usable; build one with New.
type Publisher struct {
	mu        sync.RWMutex
	current   Snapshot
	startedAt time.Time

	subMu       sync.Mutex
	subscribers map[chan Snapshot]struct{}
}

// New builds a Publisher with an initial snapshot's provider and model
// already set, and Uptime tracked from construction time.
func New(provider, model string) *Publisher {
	return &Publisher{
		current:     Snapshot{Provider: provider, Model: model},
		startedAt:   time.Now(),
		subscribers: make(map[chan Snapshot]struct{}),
	}
}

// Snapshot returns the current published state. The returned value is
// an independent copy — mutating it has no effect on the publisher.
func (p *Publisher) Snapshot() Snapshot {
	p.mu.RLock()
	defer p.mu.RUnlock()
	snap := p.current.clone()
	snap.Uptime = time.Since(p.startedAt)
	return snap
}

// Subscribe registers a channel that receives every future published
// snapshot. The channel is buffered by one so a slow reader never
// blocks the writer; a reader that falls behind simply misses
// intermediate snapshots and catches up on the next publish. Callers
// must call the returned unsubscribe func when done.
func (p *Publisher) Subscribe() (<-chan Snapshot, func()) {
	ch := make(chan Snapshot, 1)
	p.subMu.Lock()
	p.subscribers[ch] = struct{}{}
	p.subMu.Unlock()

	return ch, func() {
		p.subMu.Lock()
		defer p.subMu.Unlock()
		if _, ok := p.subscribers[ch]; ok {
			delete(p.subscribers, ch)
			close(ch)
		}
	}
}

// Update applies edit to a clone of the current snapshot and publishes
// the result atomically: readers of Snapshot see either the old or the
// new value, never a partial edit.
func (p *Publisher) Update(edit func(*Snapshot)) {
	p.mu.Lock()
	next := p.current.clone()
	edit(&next)
	p.current = next
	p.mu.Unlock()

	p.broadcast(next)
}

func (p *Publisher) broadcast(snap Snapshot) {
	snap.Uptime = time.Since(p.startedAt)
	p.subMu.Lock()
	defer p.subMu.Unlock()
	for ch := range p.subscribers {
		select {
		case ch <- snap:
		default:
			// Drop the stale pending value and replace it rather than
			// blocking the writer on a slow reader.
			select {
			case <-ch:
			default:
			}
			select {
			case ch <- snap:
			default:
			}
		}
	}
}

// AddTokens accumulates usage counters from one LLM call.
func (p *Publisher) AddTokens(prompt, completion, cached int) {
	p.Update(func(s *Snapshot) {
		s.PromptTokens += prompt
		s.CompletionTokens += completion
		s.TotalTokens += prompt + completion
		s.CachedTokens += cached
		s.APICallCount++
	})
}

// RecordLatency sets the last observed LLM call latency.
func (p *Publisher) RecordLatency(d time.Duration) {
	p.Update(func(s *Snapshot) { s.LastLLMLatency = d })
}

// RecordCancellation bumps the cancellation counter.
func (p *Publisher) RecordCancellation() {
	p.Update(func(s *Snapshot) { s.Cancellations++ })
}

// RecordCompaction bumps the compaction counter.
func (p *Publisher) RecordCompaction() {
	p.Update(func(s *Snapshot) { s.CompactionCount++ })
}

// RecordPrune bumps the skill-version prune counter.
func (p *Publisher) RecordPrune() {
	p.Update(func(s *Snapshot) { s.PruneCount++ })
}

// SetSkillCounts records the active and total skill counts for the
// current turn.
func (p *Publisher) SetSkillCounts(active, total int) {
	p.Update(func(s *Snapshot) { s.ActiveSkills, s.TotalSkills = active, total })
}

// SetConversation records which conversation the agent is currently
// serving.
func (p *Publisher) SetConversation(id string) {
	p.Update(func(s *Snapshot) { s.ConversationID = id })
}

// AddCost accumulates estimated cost in cents.
func (p *Publisher) AddCost(cents float64) {
	p.Update(func(s *Snapshot) { s.CostCents += cents })
}
