// Package compactor keeps a conversation's live message list inside its
// token budget through two tiers of shrinkage: a cheap Tier 1 pass that
// clears old ToolOutput part bodies in place, and a more expensive Tier
// 2 pass that asks the model itself to summarize everything before a
// protected tail and replaces that span with a single summary message.
package compactor

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/agentcore/runtime/pkg/agentcore/conversation"
	"github.com/agentcore/runtime/pkg/agentcore/llm"
	"github.com/agentcore/runtime/pkg/agentcore/tokens"
)

// Config tunes both compaction tiers.
type Config struct {
	// MaxTokens is the conversation's configured context budget. A
	// value of 0 disables compaction entirely, mirroring the context
	// budget's own "0 disables everything" convention.
	MaxTokens int `yaml:"max_tokens"`

	// CompactionThreshold is the fraction of MaxTokens that trips
	// ShouldCompact — defaults to 0.80.
	CompactionThreshold float64 `yaml:"compaction_threshold"`

	// ProtectTokens is how many tokens of the most recent messages
	// Tier 1 walks tail-first before drawing its protection boundary;
	// messages past that point (the recent tail) are never touched.
	ProtectTokens int `yaml:"protect_tokens"`

	// PreserveTail is how many of the most recent messages Tier 2
	// always leaves out of the compaction window, regardless of their
	// token cost.
	PreserveTail int `yaml:"preserve_tail"`

	// MaxAttempts bounds how many times the driver may shrink and retry
	// a single overflowing request before giving up.
	MaxAttempts int `yaml:"max_attempts"`
}

// DefaultConfig mirrors the values proven out in practice: an 80%
// nearing-full trip wire, a 4000-token protection zone for Tier 1, a
// 6-message preserved tail for Tier 2, and at most 3 overflow retries.
func DefaultConfig() Config {
	return Config{
		MaxTokens:           128_000,
		CompactionThreshold: 0.80,
		ProtectTokens:       4000,
		PreserveTail:        6,
		MaxAttempts:         3,
	}
}

// Summarizer produces a structured continuation note for a span of
// messages: task overview, state, discoveries, next steps, critical
// context. In production this is backed by an LLM completion; tests can
// supply a stub.
type Summarizer func(ctx context.Context, msgs []conversation.Message) (string, error)

// Counters tracks the lifetime compaction activity for a conversation,
// surfaced through the metrics snapshot.
type Counters struct {
	ToolOutputPrunes  int
	ContextCompactions int
}

// Compactor applies Tier 1 and Tier 2 compaction to a conversation.
type Compactor struct {
	cfg       Config
	summarize Summarizer
	logger    *slog.Logger
	counters  Counters
}

// New builds a Compactor. summarize is used for Tier 2; it may be nil
// if the caller never intends to invoke CompactTier2.
func New(cfg Config, summarize Summarizer, logger *slog.Logger) *Compactor {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.CompactionThreshold <= 0 {
		cfg.CompactionThreshold = 0.80
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 3
	}
	return &Compactor{cfg: cfg, summarize: summarize, logger: logger}
}

// Config returns the compactor's tuning parameters.
func (c *Compactor) Config() Config { return c.cfg }

// Counters returns a snapshot of the compactor's lifetime counters.
func (c *Compactor) Counters() Counters { return c.counters }

// ShouldCompact reports whether the running token total for msgs has
// crossed CompactionThreshold of MaxTokens. It is always false when
// MaxTokens is 0 (no budget configured).
func (c *Compactor) ShouldCompact(msgs []conversation.Message) bool {
	if c.cfg.MaxTokens <= 0 {
		return false
	}
	return EstimateTokens(msgs) > int(float64(c.cfg.MaxTokens)*c.cfg.CompactionThreshold)
}

// protectionBoundary walks msgs tail-first, summing estimated tokens
// until ProtectTokens is reached, and returns the index of the first
// message that is NOT protected (everything at or after this index is
// immutable to Tier 1). A msgs of length 0 returns 0.
func (c *Compactor) protectionBoundary(msgs []conversation.Message) int {
	budget := c.cfg.ProtectTokens
	i := len(msgs)
	for i > 0 && budget > 0 {
		i--
		budget -= tokens.Estimate(msgs[i].Content)
	}
	return i
}

// CompactTier1 clears the body of every not-yet-compacted ToolOutput
// part outside the protection boundary, in place on a copy, returning
// the new slice and the number of tokens freed. It never drops a
// message or a part, only empties ToolOutput bodies and stamps
// CompactedAt, so the turn-by-turn shape of the conversation survives.
// Messages inside the protection boundary (the recent tail, measured in
// tokens) are never modified.
func (c *Compactor) CompactTier1(msgs []conversation.Message) ([]conversation.Message, int) {
	out := make([]conversation.Message, len(msgs))
	copy(out, msgs)

	boundary := c.protectionBoundary(out)
	freed := 0

	for i := 0; i < boundary; i++ {
		if out[i].Protected {
			continue
		}
		changed := false
		parts := append([]conversation.Part(nil), out[i].Parts...)
		for pi := range parts {
			p := &parts[pi]
			if p.Type != conversation.PartToolOutput {
				continue
			}
			if p.CompactedAt != 0 || p.Body == "" {
				continue
			}
			freed += tokens.Estimate(p.Body)
			p.Body = ""
			p.CompactedAt = time.Now().Unix()
			changed = true
		}
		if changed {
			out[i].Parts = parts
			out[i].FlattenContent()
		}
	}

	if freed > 0 {
		c.counters.ToolOutputPrunes++
		c.logger.Info("tier 1 compaction applied", "tokens_freed", freed, "protection_boundary", boundary)
	}
	return out, freed
}

// CompactTier2 summarizes messages[1 : len-PreserveTail] (the root
// system message at index 0 is always preserved, as is the tail) into a
// single system message whose content is
// "[conversation summary — K messages compacted]\n<summary>", replacing
// that span. If the window is empty (not enough messages to have a
// middle at all), it returns the input unchanged and an empty summary —
// compaction with fewer than PreserveTail+2 messages does nothing.
func (c *Compactor) CompactTier2(ctx context.Context, msgs []conversation.Message) ([]conversation.Message, string, error) {
	if c.summarize == nil {
		return msgs, "", fmt.Errorf("compactor: no summarizer configured")
	}
	if len(msgs) < c.cfg.PreserveTail+2 {
		return msgs, "", nil
	}

	windowStart := 1
	windowEnd := len(msgs) - c.cfg.PreserveTail
	if windowEnd <= windowStart {
		return msgs, "", nil
	}

	window := msgs[windowStart:windowEnd]
	summary, err := c.summarize(ctx, window)
	if err != nil {
		return msgs, "", fmt.Errorf("summarizing compaction window: %w", err)
	}

	summaryMsg := conversation.Message{
		Role:      conversation.RoleSystem,
		Protected: true,
	}
	summaryMsg.Parts = []conversation.Part{conversation.NewSummaryPart(
		fmt.Sprintf("[conversation summary — %d messages compacted]\n%s", len(window), summary),
	)}
	summaryMsg.FlattenContent()

	out := make([]conversation.Message, 0, len(msgs)-len(window)+1)
	out = append(out, msgs[:windowStart]...)
	out = append(out, summaryMsg)
	out = append(out, msgs[windowEnd:]...)

	c.counters.ContextCompactions++
	c.logger.Info("tier 2 compaction applied",
		"messages_before", len(msgs),
		"messages_after", len(out),
		"window_size", len(window),
	)

	return out, summary, nil
}

// Compact runs the two-tier policy: Tier 1 first, and if it didn't free
// (total - threshold) tokens, Tier 2 as a fallback. When ShouldCompact
// is false it returns msgs unchanged without running either tier. The
// returned summary is non-empty only when Tier 2 ran, so callers can
// persist it durably and semantically.
func (c *Compactor) Compact(ctx context.Context, msgs []conversation.Message) ([]conversation.Message, string, error) {
	if !c.ShouldCompact(msgs) {
		return msgs, "", nil
	}

	total := EstimateTokens(msgs)
	target := int(float64(c.cfg.MaxTokens) * c.cfg.CompactionThreshold)

	out, freed := c.CompactTier1(msgs)
	if freed >= total-target {
		return out, "", nil
	}

	out2, summary, err := c.CompactTier2(ctx, out)
	if err != nil {
		return out, "", err
	}
	return out2, summary, nil
}

// EstimateTokens sums the cheap token estimate across msgs.
func EstimateTokens(msgs []conversation.Message) int {
	total := 0
	for _, m := range msgs {
		total += tokens.Estimate(m.Content)
	}
	return total
}

// LLMSummarizer adapts an llm.Client into a Summarizer by asking it to
// produce a structured continuation note: task overview, current
// state, discoveries (paths/errors/decisions), next steps, and any
// critical context a continuation would otherwise lose.
func LLMSummarizer(client *llm.Client) Summarizer {
	return func(ctx context.Context, msgs []conversation.Message) (string, error) {
		prompt := "The conversation below is about to be compacted out of the active context window. " +
			"Write a continuation note covering: task overview, current state, discoveries " +
			"(file paths, errors, decisions made), next steps, and any other critical context. " +
			"Be terse but complete enough that work can resume cold.\n\n"
		for _, m := range msgs {
			prompt += fmt.Sprintf("[%s]: %s\n", m.Role, m.Content)
		}

		resp, err := client.Complete(ctx, []llm.Message{
			{Role: "user", Content: prompt},
		})
		if err != nil {
			return "", err
		}
		switch r := resp.(type) {
		case llm.TextResponse:
			return r.Content, nil
		case llm.ErrorResponse:
			return "", fmt.Errorf("summarization failed: %s", r.Message)
		default:
			return "", fmt.Errorf("unexpected response type from summarizer: %T", resp)
		}
	}
}
