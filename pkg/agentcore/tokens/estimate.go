// Package tokens provides a cheap, tokenizer-free estimate of how many
// tokens a piece of text or a message will cost once sent to an LLM
// backend. The estimate is deliberately crude — a real tokenizer is a
// per-model dependency we don't want to carry for every provider this
// runtime might talk to — but it is stable and monotonic, which is all
// the budget allocator needs.
package tokens

import "unicode/utf8"

// charsPerToken is the average number of characters per token across
// the providers this runtime has been measured against. Estimate
// divides a string's rune count (not its byte length) by it, rounding
// up; EstimateBytes divides a byte count, also rounding up. It overestimates
// for code-heavy content and underestimates for CJK text; both runtime
// and tests treat it as an approximation, not ground truth.
const charsPerToken = 4

// Estimate returns the approximate token cost of s.
func Estimate(s string) int {
	if s == "" {
		return 0
	}
	n := utf8.RuneCountInString(s)
	return (n + charsPerToken - 1) / charsPerToken
}

// EstimateBytes is like Estimate but takes a byte length directly, for
// callers that already have a size (e.g. a file on disk) and don't want
// to decode it just to count runes.
func EstimateBytes(n int) int {
	if n <= 0 {
		return 0
	}
	return (n + charsPerToken - 1) / charsPerToken
}

// Counter accumulates a running token estimate so callers don't have to
// re-scan the full text on every append. It mirrors the cached
// prompt-token sum the context preparer keeps for the active
// conversation.
type Counter struct {
	total int
}

// NewCounter returns a zeroed Counter.
func NewCounter() *Counter { return &Counter{} }

// Add estimates s and folds it into the running total, returning the
// new total.
func (c *Counter) Add(s string) int {
	c.total += Estimate(s)
	return c.total
}

// Sub removes a previously-added estimate from the running total. Used
// when a message is pruned out of the live window during compaction;
// never lets the total go negative (a pruned estimate that was computed
// against stale content should not poison the count).
func (c *Counter) Sub(s string) int {
	c.total -= Estimate(s)
	if c.total < 0 {
		c.total = 0
	}
	return c.total
}

// Total returns the current running total without modifying it.
func (c *Counter) Total() int { return c.total }

// Reset zeroes the counter, e.g. after a full session reset.
func (c *Counter) Reset() { c.total = 0 }
