// Package budget carves the model's context window into non-overlapping
// sub-budgets for the different things the context preparer injects:
// conversation summaries, cross-session recall, semantic memory hits,
// code context, and the raw recent-history tail. Each sub-budget is a
// token ceiling, not a reservation — an empty slot's tokens are simply
// unused, they are never redistributed to a neighbor within the same
// turn.
package budget

import (
	"log/slog"

	"github.com/agentcore/runtime/pkg/agentcore/tokens"
)

// Allocation is the token budget available to each context section for
// a single turn.
type Allocation struct {
	Summaries     int
	CrossSession  int
	SemanticRecall int
	CodeContext   int
	RecentHistory int
}

// Total returns the sum of every sub-budget.
func (a Allocation) Total() int {
	return a.Summaries + a.CrossSession + a.SemanticRecall + a.CodeContext + a.RecentHistory
}

// Config controls how a model's max context window is split into the
// sub-budgets above. Fractions must sum to <= 1.0 and apply to what is
// left after the system and skills prompts (see Allocate); the
// remainder is left as headroom for the model's own reply.
type Config struct {
	MaxContextTokens    int     `yaml:"max_context_tokens"`
	SummaryFraction     float64 `yaml:"summary_fraction"`
	CrossSessionFraction float64 `yaml:"cross_session_fraction"`
	SemanticFraction    float64 `yaml:"semantic_fraction"`
	CodeFraction        float64 `yaml:"code_fraction"`
	RecentFraction      float64 `yaml:"recent_fraction"`

	// NearingFullRatio is the fraction of MaxContextTokens at which the
	// preparer should trip its "nearing full" warning and start
	// favoring compaction over fresh recall injection.
	NearingFullRatio float64 `yaml:"nearing_full_ratio"`
}

// DefaultConfig returns sane defaults: roughly a third of the window for
// raw recent history, modest slices for summaries/recall/code, and an
// 80% nearing-full trip wire.
func DefaultConfig() Config {
	return Config{
		MaxContextTokens:     128_000,
		SummaryFraction:      0.10,
		CrossSessionFraction: 0.08,
		SemanticFraction:     0.12,
		CodeFraction:         0.15,
		RecentFraction:       0.35,
		NearingFullRatio:     0.80,
	}
}

// Allocate computes an Allocation from the config's fractions over
// what the window has left once the system and skills prompts are
// accounted for. The fractions sum to <= 1, so the sub-budgets sum to
// at most the remainder and the un-fractioned share stays reserved
// for the model's reply.
func (c Config) Allocate(systemPrompt, skillsPrompt string) Allocation {
	available := c.MaxContextTokens - tokens.Estimate(systemPrompt) - tokens.Estimate(skillsPrompt)
	if available < 0 {
		available = 0
	}
	return Allocation{
		Summaries:      int(float64(available) * c.SummaryFraction),
		CrossSession:   int(float64(available) * c.CrossSessionFraction),
		SemanticRecall: int(float64(available) * c.SemanticFraction),
		CodeContext:    int(float64(available) * c.CodeFraction),
		RecentHistory:  int(float64(available) * c.RecentFraction),
	}
}

// NearingFullThreshold returns the absolute token count at which the
// window is considered nearing full.
func (c Config) NearingFullThreshold() int {
	return int(float64(c.MaxContextTokens) * c.NearingFullRatio)
}

// Tracker watches the live estimated prompt-token total for a
// conversation and reports whether the window is nearing full, so the
// context preparer and compactor can react before an overflow actually
// happens at the provider.
type Tracker struct {
	cfg    Config
	logger *slog.Logger
}

// NewTracker builds a Tracker bound to cfg.
func NewTracker(cfg Config, logger *slog.Logger) *Tracker {
	if logger == nil {
		logger = slog.Default()
	}
	return &Tracker{cfg: cfg, logger: logger}
}

// NearingFull reports whether currentTokens has crossed the configured
// nearing-full ratio of the max context window.
func (t *Tracker) NearingFull(currentTokens int) bool {
	nearing := currentTokens >= t.cfg.NearingFullThreshold()
	if nearing {
		t.logger.Warn("context window nearing full",
			"current_tokens", currentTokens,
			"max_tokens", t.cfg.MaxContextTokens,
			"threshold", t.cfg.NearingFullThreshold(),
		)
	}
	return nearing
}

// Remaining returns how many tokens are left before MaxContextTokens,
// floored at zero.
func (t *Tracker) Remaining(currentTokens int) int {
	r := t.cfg.MaxContextTokens - currentTokens
	if r < 0 {
		return 0
	}
	return r
}
