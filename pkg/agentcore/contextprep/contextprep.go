// Package contextprep re-assembles the injected portion of a
// conversation's message list before every user turn: it strips
// whatever Recall/Summary/CrossSession/CodeContext blocks a previous
// turn left behind, re-queries the borrowed memory and vector stores
// for fresh ones, packs each under its own sub-budget, and finally
// trims the raw history tail to whatever budget remains. None of this
// runs when no context budget is configured — a zero-value Budget is
// the runtime's explicit "don't manage the window at all" switch.
package contextprep

import (
	"context"
	"log/slog"

	"github.com/agentcore/runtime/pkg/agentcore/budget"
	"github.com/agentcore/runtime/pkg/agentcore/conversation"
	"github.com/agentcore/runtime/pkg/agentcore/tokens"
)

// SearchHit is one ranked result from a borrowed vector store, shared
// across the three kinds of semantic lookup the preparer performs
// (recall, cross-session, code).
type SearchHit struct {
	Text  string
	Score float64
}

// SummaryStore loads the persisted running summaries for a
// conversation, newest first, so injection can pack from the front.
type SummaryStore interface {
	LoadSummaries(ctx context.Context, conversationID string) ([]string, error)
}

// VectorStore is the borrowed semantic-search backend behind recall,
// cross-session, and (optionally) code-context injection. Each search
// kind is its own method because they query distinct collections
// (messages, session summaries, code chunks) with distinct exclusion
// rules.
type VectorStore interface {
	// SearchRecall returns prior messages similar to query, excluding
	// the current conversation.
	SearchRecall(ctx context.Context, query, excludeConversationID string, limit int) ([]SearchHit, error)

	// SearchCrossSession returns session summaries from other
	// conversations similar to query.
	SearchCrossSession(ctx context.Context, query, excludeConversationID string, scoreThreshold float64) ([]SearchHit, error)

	// SearchCode returns code snippets relevant to query, if a code
	// index is configured. Implementations that don't support it
	// should return (nil, nil).
	SearchCode(ctx context.Context, query string) ([]SearchHit, error)
}

// Config tunes the preparer's retrieval behavior.
type Config struct {
	CrossSessionScoreThreshold float64 `yaml:"cross_session_score_threshold"`
	RecallLimit                int     `yaml:"recall_limit"`
	CodeRAGEnabled             bool    `yaml:"code_rag_enabled"`
}

// DefaultConfig matches the values proven out in practice.
func DefaultConfig() Config {
	return Config{
		CrossSessionScoreThreshold: 0.75,
		RecallLimit:                8,
		CodeRAGEnabled:             false,
	}
}

// Preparer holds the borrowed stores and budget config needed to
// refresh one conversation's injected context ahead of a turn.
type Preparer struct {
	cfg     Config
	budgets budget.Config
	summary SummaryStore
	vector  VectorStore
	logger  *slog.Logger
}

// New builds a Preparer. summary and vector may be nil — any injection
// step backed by a nil store is silently skipped; every inject step is
// independently optional.
func New(cfg Config, budgets budget.Config, summary SummaryStore, vector VectorStore, logger *slog.Logger) *Preparer {
	if logger == nil {
		logger = slog.Default()
	}
	return &Preparer{cfg: cfg, budgets: budgets, summary: summary, vector: vector, logger: logger}
}

// Prepare runs the full injection and trim pipeline against msgs for
// the given conversation and query, returning the updated message list.
// It is a no-op returning msgs unchanged if no budget is configured
// (budgets.MaxContextTokens == 0).
func (p *Preparer) Prepare(ctx context.Context, conversationID, query string, systemPrompt, skillsPrompt string, msgs []conversation.Message) []conversation.Message {
	if p.budgets.MaxContextTokens <= 0 {
		return msgs
	}

	alloc := p.budgets.Allocate(systemPrompt, skillsPrompt)

	msgs = p.injectSummaries(ctx, conversationID, alloc.Summaries, msgs)
	msgs = p.injectCrossSession(ctx, conversationID, query, alloc.CrossSession, msgs)
	msgs = p.injectSemanticRecall(ctx, conversationID, query, alloc.SemanticRecall, msgs)
	if p.cfg.CodeRAGEnabled {
		msgs = p.injectCodeRAG(ctx, query, alloc.CodeContext, msgs)
	}
	msgs = TrimMessagesToBudget(msgs, alloc.RecentHistory)

	return msgs
}

// removeInjectionsOf deletes every prior message of type t, never
// touching index 0 (the root system message is never an injection).
func removeInjectionsOf(msgs []conversation.Message, t conversation.PartType) []conversation.Message {
	out := make([]conversation.Message, 0, len(msgs))
	for i, m := range msgs {
		if i > 0 && conversation.IsInjectionOf(m, t) {
			continue
		}
		out = append(out, m)
	}
	return out
}

// packUnderBudget greedily appends rendered chunks (newest/most
// relevant first, as the caller ordered them) until the next one would
// overflow budgetTokens, returning the joined text and how many chunks
// were used.
func packUnderBudget(chunks []string, budgetTokens int) (string, int) {
	if budgetTokens <= 0 {
		return "", 0
	}
	out := ""
	used := 0
	for _, c := range chunks {
		candidate := out
		if candidate != "" {
			candidate += "\n\n"
		}
		candidate += c
		if tokens.Estimate(candidate) > budgetTokens {
			break
		}
		out = candidate
		used++
	}
	return out, used
}

// injectSummaries removes prior Summary
// messages, load persisted summaries newest-first, pack under budget,
// and insert a single Summary message at index 1.
func (p *Preparer) injectSummaries(ctx context.Context, conversationID string, budgetTokens int, msgs []conversation.Message) []conversation.Message {
	msgs = removeInjectionsOf(msgs, conversation.PartSummary)
	if p.summary == nil || budgetTokens <= 0 {
		return msgs
	}

	summaries, err := p.summary.LoadSummaries(ctx, conversationID)
	if err != nil {
		p.logger.Warn("loading persisted summaries", "error", err)
		return msgs
	}
	if len(summaries) == 0 {
		return msgs
	}

	packed, used := packUnderBudget(summaries, budgetTokens)
	if used == 0 {
		return msgs
	}

	return insertAt1(msgs, conversation.Message{
		Role:  conversation.RoleSystem,
		Parts: []conversation.Part{conversation.NewSummaryPart(packed)},
	})
}

// injectCrossSession refreshes the cross-session block.
func (p *Preparer) injectCrossSession(ctx context.Context, conversationID, query string, budgetTokens int, msgs []conversation.Message) []conversation.Message {
	msgs = removeInjectionsOf(msgs, conversation.PartCrossSession)
	if p.vector == nil || budgetTokens <= 0 || query == "" {
		return msgs
	}

	hits, err := p.vector.SearchCrossSession(ctx, query, conversationID, p.cfg.CrossSessionScoreThreshold)
	if err != nil {
		p.logger.Warn("searching cross-session summaries", "error", err)
		return msgs
	}
	texts := filterAndRenderHits(hits, p.cfg.CrossSessionScoreThreshold)
	if len(texts) == 0 {
		return msgs
	}

	packed, used := packUnderBudget(texts, budgetTokens)
	if used == 0 {
		return msgs
	}

	return insertAt1(msgs, conversation.Message{
		Role:  conversation.RoleSystem,
		Parts: []conversation.Part{conversation.NewCrossSessionPart(packed)},
	})
}

// injectSemanticRecall refreshes the recall block.
func (p *Preparer) injectSemanticRecall(ctx context.Context, conversationID, query string, budgetTokens int, msgs []conversation.Message) []conversation.Message {
	msgs = removeInjectionsOf(msgs, conversation.PartRecall)
	if p.vector == nil || budgetTokens <= 0 || query == "" {
		return msgs
	}

	limit := p.cfg.RecallLimit
	if limit <= 0 {
		limit = 8
	}
	hits, err := p.vector.SearchRecall(ctx, query, conversationID, limit)
	if err != nil {
		p.logger.Warn("searching semantic recall", "error", err)
		return msgs
	}
	if len(hits) == 0 {
		return msgs
	}

	texts := make([]string, 0, len(hits))
	for _, h := range hits {
		texts = append(texts, h.Text)
	}
	packed, used := packUnderBudget(texts, budgetTokens)
	if used == 0 {
		return msgs
	}

	return insertAt1(msgs, conversation.Message{
		Role:  conversation.RoleSystem,
		Parts: []conversation.Part{conversation.NewRecallPart(packed)},
	})
}

// injectCodeRAG refreshes the code-context block, only called when code RAG is
// enabled.
func (p *Preparer) injectCodeRAG(ctx context.Context, query string, budgetTokens int, msgs []conversation.Message) []conversation.Message {
	msgs = removeInjectionsOf(msgs, conversation.PartCodeContext)
	if p.vector == nil || budgetTokens <= 0 || query == "" {
		return msgs
	}

	hits, err := p.vector.SearchCode(ctx, query)
	if err != nil {
		p.logger.Warn("searching code context", "error", err)
		return msgs
	}
	if len(hits) == 0 {
		return msgs
	}

	texts := make([]string, 0, len(hits))
	for _, h := range hits {
		texts = append(texts, h.Text)
	}
	packed, used := packUnderBudget(texts, budgetTokens)
	if used == 0 {
		return msgs
	}

	return insertAt1(msgs, conversation.Message{
		Role:  conversation.RoleSystem,
		Parts: []conversation.Part{conversation.NewCodeContextPart(packed)},
	})
}

// filterAndRenderHits keeps only hits at or above threshold and returns
// their rendered text, preserving the caller's ranking order.
func filterAndRenderHits(hits []SearchHit, threshold float64) []string {
	out := make([]string, 0, len(hits))
	for _, h := range hits {
		if h.Score < threshold {
			continue
		}
		out = append(out, h.Text)
	}
	return out
}

// insertAt1 inserts msg at index 1, preserving message[0] (the root
// system prompt) at index 0. msgs must already have at least one
// element.
func insertAt1(msgs []conversation.Message, msg conversation.Message) []conversation.Message {
	if msg.Content == "" {
		msg.FlattenContent()
	}
	if len(msgs) == 0 {
		return []conversation.Message{msg}
	}
	out := make([]conversation.Message, 0, len(msgs)+1)
	out = append(out, msgs[0])
	out = append(out, msg)
	out = append(out, msgs[1:]...)
	return out
}

// TrimMessagesToBudget walks history (every
// message except index 0) tail-first, keeping messages until adding the
// next one would overflow budgetTokens, then drop the prefix that
// didn't fit. message[0] (the system message) is always preserved
// regardless of budget. A budgetTokens of 0 is the identity — the
// trim never runs with no budget configured.
func TrimMessagesToBudget(msgs []conversation.Message, budgetTokens int) []conversation.Message {
	if budgetTokens <= 0 || len(msgs) <= 1 {
		return msgs
	}

	total := 0
	keepFrom := len(msgs)
	for i := len(msgs) - 1; i >= 1; i-- {
		cost := tokens.Estimate(msgs[i].Content)
		if total+cost > budgetTokens {
			break
		}
		total += cost
		keepFrom = i
	}

	if keepFrom <= 1 {
		return msgs
	}
	out := make([]conversation.Message, 0, len(msgs)-keepFrom+1)
	out = append(out, msgs[0])
	out = append(out, msgs[keepFrom:]...)
	return out
}
