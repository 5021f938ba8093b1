// Package toolloop drives the core LLM-tool conversation loop: send the
// current messages, dispatch any requested tool calls, feed the
// results back, and repeat until the model stops asking for tools or
// the turn budget runs out. It is the seam where context-window
// management, doom-loop detection, and learning hooks all plug into a
// single run.
package toolloop

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/agentcore/runtime/pkg/agentcore/compactor"
	"github.com/agentcore/runtime/pkg/agentcore/conversation"
	"github.com/agentcore/runtime/pkg/agentcore/doomloop"
	"github.com/agentcore/runtime/pkg/agentcore/hooks"
	"github.com/agentcore/runtime/pkg/agentcore/learning"
	"github.com/agentcore/runtime/pkg/agentcore/llm"
	"github.com/agentcore/runtime/pkg/agentcore/persistence"
	"github.com/agentcore/runtime/pkg/agentcore/redact"
	"github.com/agentcore/runtime/pkg/agentcore/skills"
	"github.com/agentcore/runtime/pkg/agentcore/toolexec"
)

// Config tunes the loop's turn and continuation budgets.
type Config struct {
	MaxTurns           int           `yaml:"max_turns"`
	TurnTimeout        time.Duration `yaml:"turn_timeout"`
	MaxContinuations   int           `yaml:"max_continuations"`
	ReflectionInterval int           `yaml:"reflection_interval"`

	// DoomLoop tunes the repetition detector each run starts with. A
	// zero value falls back to the detector's defaults.
	DoomLoop doomloop.Config `yaml:"doom_loop"`
}

// DefaultConfig matches the loop shape proven out in practice: 25 turns
// per run, 60 seconds per LLM call, up to 2 auto-continuations when the
// turn budget is exhausted mid-task, and a reflection nudge every 8
// turns.
func DefaultConfig() Config {
	return Config{
		MaxTurns:           25,
		TurnTimeout:        60 * time.Second,
		MaxContinuations:   2,
		ReflectionInterval: 8,
		DoomLoop:           doomloop.DefaultConfig(),
	}
}

// Usage accumulates the token usage of a run's turn calls and its final
// summary call, including those of auto-continuations. The calls made
// for self-reflection retries and Tier 2 compaction summaries are not
// counted.
type Usage struct {
	PromptTokens     int
	CompletionTokens int
	TotalTokens      int
}

func (u *Usage) add(o llm.Usage) {
	u.PromptTokens += o.PromptTokens
	u.CompletionTokens += o.CompletionTokens
	u.TotalTokens += o.TotalTokens
}

// StreamFunc receives incremental output as the loop produces it, for
// channels that want to show progress rather than waiting for the
// final reply.
type StreamFunc func(chunk string)

// TurnSink mirrors every persisted turn into stores beyond the JSONL
// session log — the relational message table and the semantic index.
// Sinks are best-effort: they log their own failures and never fail
// the turn.
type TurnSink func(ctx context.Context, conversationID, role, content string)

// SummarySink receives each Tier 2 compaction summary for durable and
// semantic storage, best-effort like TurnSink.
type SummarySink func(ctx context.Context, conversationID, summary string, messagesCompacted int)

// Run drives one conversation's tool loop against a client and an
// executor, persisting turns and firing hooks along the way.
type Run struct {
	cfg        Config
	client     *llm.Client
	executor   *toolexec.Executor
	compact    *compactor.Compactor
	store      *persistence.Store
	bus        *hooks.Bus
	logger     *slog.Logger

	conversationID string
	caller         toolexec.CallerInfo

	stream      StreamFunc
	interruptCh <-chan struct{}
	redactor    *redact.Redactor
	turnSink    TurnSink
	summarySink SummarySink

	learn        *learning.Hooks
	activeSkills []skills.Skill
}

// SetLearning binds the loop to a learning-hooks engine and the set of
// skills active for this turn, so tool failures can trigger one
// self-reflection retry and every run's outcome gets recorded against
// them. A nil learn disables both, as most callers that don't use
// skills will leave it.
func (r *Run) SetLearning(learn *learning.Hooks, activeSkills []skills.Skill) {
	r.learn = learn
	r.activeSkills = activeSkills
}

// NewRun builds a Run bound to a single conversation.
func NewRun(
	cfg Config,
	client *llm.Client,
	executor *toolexec.Executor,
	compact *compactor.Compactor,
	store *persistence.Store,
	bus *hooks.Bus,
	conversationID string,
	caller toolexec.CallerInfo,
	logger *slog.Logger,
) *Run {
	if logger == nil {
		logger = slog.Default()
	}
	if bus == nil {
		bus = hooks.New(logger)
	}
	return &Run{
		cfg:            cfg,
		client:         client,
		executor:       executor,
		compact:        compact,
		store:          store,
		bus:            bus,
		logger:         logger,
		conversationID: conversationID,
		caller:         caller,
	}
}

// SetStream registers a streaming callback for incremental output.
func (r *Run) SetStream(fn StreamFunc) { r.stream = fn }

// SetTurnSink registers the mirror for persisted turns.
func (r *Run) SetTurnSink(fn TurnSink) { r.turnSink = fn }

// SetSummarySink registers the receiver for Tier 2 summaries.
func (r *Run) SetSummarySink(fn SummarySink) { r.summarySink = fn }

// SetRedactor registers the secret redactor applied to assistant and
// tool output before it is persisted or stored — never before it is
// streamed to the operator, an ephemeral-display trade-off.
func (r *Run) SetRedactor(rd *redact.Redactor) { r.redactor = rd }

func (r *Run) redact(text string) string {
	if r.redactor == nil {
		return text
	}
	return r.redactor.Redact(text)
}

// SetInterruptChannel registers a channel the loop polls between turns;
// a pending receive causes the run to stop after the in-flight turn
// completes instead of continuing.
func (r *Run) SetInterruptChannel(ch <-chan struct{}) { r.interruptCh = ch }

// Result is what a completed run hands back to its caller.
type Result struct {
	FinalText string
	Usage     Usage
	Turns     int
	Stopped   bool // true if doom-loop detection, a hook veto, an interrupt, or the exhausted turn budget ended the run
	StopReason string
}

// Execute runs the loop to completion: the user's new message plus the
// existing history in, a final assistant reply out.
func (r *Run) Execute(ctx context.Context, system string, history []conversation.Message, userMessage string) (Result, error) {
	if err := r.bus.Fire(ctx, hooks.AgentStart, hooks.Payload{ConversationID: r.conversationID}); err != nil {
		return Result{}, fmt.Errorf("agent start vetoed: %w", err)
	}
	defer r.bus.Fire(ctx, hooks.AgentStop, hooks.Payload{ConversationID: r.conversationID})

	msgs := append(append([]conversation.Message(nil), history...), conversation.Message{Role: "user", Content: userMessage})
	if err := r.persistTurn(ctx, "user", userMessage); err != nil {
		r.logger.Error("persisting user turn", "error", err)
	}
	if r.learn != nil {
		r.learn.ResetTurn()
	}

	loopCfg := r.cfg.DoomLoop
	if loopCfg.RepeatThreshold == 0 {
		loopCfg = doomloop.DefaultConfig()
	}
	detector := doomloop.New(loopCfg, r.logger)

	var usage Usage
	turn := 0

	for turn < r.cfg.MaxTurns {
		if r.interrupted() {
			return Result{Usage: usage, Turns: turn, Stopped: true, StopReason: "interrupted"}, nil
		}

		turn++
		if r.cfg.ReflectionInterval > 0 && turn%r.cfg.ReflectionInterval == 0 {
			msgs = append(msgs, conversation.Message{
				Role:    "system",
				Content: "Pause and reflect: are you making progress toward the user's goal, or repeating yourself?",
			})
		}

		msgs, _ = r.compact.CompactTier1(msgs)

		turnCtx, cancel := context.WithTimeout(ctx, r.cfg.TurnTimeout)
		resp, err := r.callWithOverflowRetry(turnCtx, system, msgs)
		cancel()
		if err != nil {
			return Result{Usage: usage, Turns: turn}, fmt.Errorf("llm call failed on turn %d: %w", turn, err)
		}

		switch tr := resp.(type) {
		case llm.TextResponse:
			usage.add(tr.Usage_)
			if r.stream != nil {
				r.stream(tr.Content)
			}
			if err := r.persistTurn(ctx, "assistant", r.redact(tr.Content)); err != nil {
				r.logger.Error("persisting assistant turn", "error", err)
			}
			r.recordOutcome(tr.Content)
			return Result{FinalText: tr.Content, Usage: usage, Turns: turn}, nil

		case llm.ToolCallResponse:
			usage.add(tr.Usage_)
			msgs = append(msgs, conversation.Message{Role: "assistant", Content: tr.Content, ToolCalls: tr.ToolCalls})

			stop, reason := r.checkToolCalls(ctx, detector, tr.ToolCalls)
			var results []toolexec.Result
			if !stop {
				results = r.executor.Execute(ctx, r.caller, tr.ToolCalls)
			}
			var failed *toolexec.Result
			for i, res := range results {
				content := res.Content
				if res.Err != nil {
					content = fmt.Sprintf("error: %s", res.Err.Error())
					failed = &results[i]
				}
				msgs = append(msgs, conversation.Message{Role: "tool", ToolCallID: res.ToolCallID, Content: content})
				if err := r.persistTurn(ctx, "tool", r.redact(content)); err != nil {
					r.logger.Error("persisting tool turn", "error", err)
				}
			}

			if failed != nil {
				r.tryReflect(ctx, system, &msgs, failed)
			}

			if stop {
				final := "I stopped because I detected I was repeating myself without making progress: " + reason
				if err := r.persistTurn(ctx, "assistant", final); err != nil {
					r.logger.Error("persisting assistant turn", "error", err)
				}
				r.recordOutcomeExplicit(skills.OutcomeToolFailure, reason)
				return Result{FinalText: final, Usage: usage, Turns: turn, Stopped: true, StopReason: reason}, nil
			}

			detector.PushMessageHash(msgs[len(msgs)-1].Content)
			if detector.RepeatedOutputs() {
				final := "I stopped because the last three outputs were identical — no forward progress."
				if err := r.persistTurn(ctx, "assistant", final); err != nil {
					r.logger.Error("persisting assistant turn", "error", err)
				}
				r.recordOutcomeExplicit(skills.OutcomeToolFailure, "repeated identical outputs")
				return Result{FinalText: final, Usage: usage, Turns: turn, Stopped: true, StopReason: "repeated identical outputs"}, nil
			}

		case llm.ErrorResponse:
			return Result{Usage: usage, Turns: turn}, fmt.Errorf("provider error: %s", tr.Message)

		default:
			return Result{Usage: usage, Turns: turn}, fmt.Errorf("unrecognized response type %T", resp)
		}
	}

	if r.cfg.MaxContinuations > 0 {
		r.cfg.MaxContinuations--
		r.cfg.MaxTurns += r.cfg.MaxTurns / 2
		res, err := r.Execute(ctx, system, msgs, "Please continue and wrap up the task.")
		res.Usage.PromptTokens += usage.PromptTokens
		res.Usage.CompletionTokens += usage.CompletionTokens
		res.Usage.TotalTokens += usage.TotalTokens
		return res, err
	}

	summaryMsgs := append(msgs, conversation.Message{
		Role:    "user",
		Content: "You've used your full turn budget. Summarize what you've accomplished and what remains.",
	})
	resp, err := r.callWithOverflowRetry(ctx, system, summaryMsgs)
	if err != nil {
		return Result{Usage: usage, Turns: turn}, fmt.Errorf("final summary call failed: %w", err)
	}
	text, _ := resp.(llm.TextResponse)
	usage.add(text.Usage_)
	return Result{FinalText: text.Content, Usage: usage, Turns: turn, Stopped: true, StopReason: "turn budget exhausted"}, nil
}

// checkToolCalls records every requested call with the doom-loop
// detector and returns whether the run should stop.
func (r *Run) checkToolCalls(ctx context.Context, detector *doomloop.Detector, calls []llm.ToolCall) (bool, string) {
	for _, c := range calls {
		if err := r.bus.Fire(ctx, hooks.PreToolUse, hooks.Payload{
			ConversationID: r.conversationID, ToolName: c.Function.Name, ToolArgs: c.Function.Arguments,
		}); err != nil {
			return true, fmt.Sprintf("tool %q blocked by hook: %s", c.Function.Name, err.Error())
		}
		result := detector.RecordAndCheck(c.Function.Name, c.Function.Arguments)
		if result.Severity == doomloop.SeverityBreaker {
			return true, result.Message
		}
	}
	return false, ""
}

// callWithOverflowRetry calls the LLM, and on a detected context
// overflow shrinks the message list via Tier 2 compaction and retries,
// up to the compactor's MaxAttempts.
func (r *Run) callWithOverflowRetry(ctx context.Context, system string, msgs []conversation.Message) (llm.Response, error) {
	attempt := 0
	for {
		resp, err := r.client.CompleteWithTools(ctx, conversation.ToLLM(system, msgs), r.executor.Definitions())
		if err == nil {
			return resp, nil
		}
		if !llm.IsContextOverflow(err) || attempt >= r.compact.Config().MaxAttempts {
			return nil, err
		}
		attempt++

		if vetoErr := r.bus.Fire(ctx, hooks.PreCompact, hooks.Payload{ConversationID: r.conversationID}); vetoErr != nil {
			return nil, fmt.Errorf("compaction vetoed while handling overflow: %w", vetoErr)
		}

		before := len(msgs)
		compacted, summary, cErr := r.compact.CompactTier2(ctx, msgs)
		if cErr != nil {
			return nil, fmt.Errorf("compacting after overflow: %w", cErr)
		}
		msgs = compacted

		if r.store != nil {
			if err := r.store.SaveCompaction(r.conversationID, persistence.CompactionMeta{
				Tier: 2, Summary: summary, MessagesBefore: before, MessagesAfter: len(msgs),
			}); err != nil {
				r.logger.Error("persisting compaction marker", "error", err)
			}
		}
		if r.summarySink != nil && summary != "" {
			r.summarySink(ctx, r.conversationID, summary, before-len(msgs)+1)
		}
		r.bus.Fire(ctx, hooks.PostCompact, hooks.Payload{ConversationID: r.conversationID, Summary: summary})
	}
}

func (r *Run) persistTurn(ctx context.Context, role, content string) error {
	if r.turnSink != nil {
		r.turnSink(ctx, r.conversationID, role, content)
	}
	if r.store == nil {
		return nil
	}
	return r.store.SaveTurn(r.conversationID, role, content)
}

func (r *Run) interrupted() bool {
	if r.interruptCh == nil {
		return false
	}
	select {
	case <-r.interruptCh:
		return true
	default:
		return false
	}
}

// tryReflect attempts one self-reflection retry after a failed tool
// call, appending the retry's reply as an assistant message when it
// produces one. Failures here are logged, not fatal — a skill that
// can't be reflected on just falls through to its ordinary error
// handling.
func (r *Run) tryReflect(ctx context.Context, system string, msgs *[]conversation.Message, failed *toolexec.Result) {
	if r.learn == nil || len(r.activeSkills) == 0 {
		return
	}
	reflect := func(ctx context.Context, prompt string) (string, bool, error) {
		reflectMsgs := append(append([]conversation.Message(nil), *msgs...), conversation.Message{Role: "user", Content: prompt})
		resp, err := r.client.Complete(ctx, conversation.ToLLM(system, reflectMsgs))
		if err != nil {
			return "", false, err
		}
		text, ok := resp.(llm.TextResponse)
		if !ok || text.Content == "" {
			return "", false, nil
		}
		return text.Content, true, nil
	}

	errCtx := failed.Err.Error()
	reply, ok := r.learn.AttemptSelfReflection(ctx, r.activeSkills, errCtx, failed.Content, reflect)
	if !ok {
		return
	}
	*msgs = append(*msgs, conversation.Message{Role: "assistant", Content: reply})
	if err := r.persistTurn(ctx, "assistant", r.redact(reply)); err != nil {
		r.logger.Error("persisting self-reflection turn", "error", err)
	}
}

// recordOutcome classifies a final assistant reply as success or an
// empty response and records it against every active skill.
func (r *Run) recordOutcome(finalText string) {
	if finalText == "" {
		r.recordOutcomeExplicit(skills.OutcomeEmptyResponse, "")
		return
	}
	r.recordOutcomeExplicit(skills.OutcomeSuccess, "")
}

func (r *Run) recordOutcomeExplicit(outcome skills.Outcome, errorContext string) {
	if r.learn == nil || len(r.activeSkills) == 0 {
		return
	}
	r.learn.RecordSkillOutcomes(r.activeSkills, r.conversationID, outcome, errorContext)
}
