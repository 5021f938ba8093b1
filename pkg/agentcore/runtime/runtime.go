// Package runtime assembles every other pkg/agentcore package into the
// single-writer cooperative agent loop described by the system design:
// one logical task owns the message list, the queue, the doom-loop
// history, and the metrics cache, driving the tool loop turn by turn
// and yielding at well-defined suspension points (channel receive, LLM
// await, tool dispatch). Everything it touches is either owned
// outright or borrowed read-mostly, per the ownership rules the rest of
// this module follows.
package runtime

import (
	"context"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/agentcore/runtime/pkg/agentcore/budget"
	"github.com/agentcore/runtime/pkg/agentcore/commands"
	"github.com/agentcore/runtime/pkg/agentcore/compactor"
	"github.com/agentcore/runtime/pkg/agentcore/contextprep"
	"github.com/agentcore/runtime/pkg/agentcore/conversation"
	"github.com/agentcore/runtime/pkg/agentcore/hooks"
	"github.com/agentcore/runtime/pkg/agentcore/learning"
	"github.com/agentcore/runtime/pkg/agentcore/llm"
	"github.com/agentcore/runtime/pkg/agentcore/metrics"
	"github.com/agentcore/runtime/pkg/agentcore/persistence"
	"github.com/agentcore/runtime/pkg/agentcore/promptbuilder"
	"github.com/agentcore/runtime/pkg/agentcore/queue"
	"github.com/agentcore/runtime/pkg/agentcore/redact"
	"github.com/agentcore/runtime/pkg/agentcore/router"
	"github.com/agentcore/runtime/pkg/agentcore/shutdown"
	"github.com/agentcore/runtime/pkg/agentcore/skills"
	"github.com/agentcore/runtime/pkg/agentcore/store"
	"github.com/agentcore/runtime/pkg/agentcore/tokens"
	"github.com/agentcore/runtime/pkg/agentcore/toolexec"
	"github.com/agentcore/runtime/pkg/agentcore/toolloop"
	"github.com/agentcore/runtime/pkg/agentcore/vector"
)

// Deps bundles every collaborator the runtime wires together. Borrowed
// stores (Summaries, Vector) may be nil — contextprep already treats a
// nil store as "skip this injection step".
type Deps struct {
	Client       *llm.Client
	Executor     *toolexec.Executor
	SkillRegistry *skills.Registry
	SkillStore   *skills.Store
	Sessions     *persistence.Store
	Summaries    contextprep.SummaryStore
	Vector       contextprep.VectorStore

	// Relational is the durable message/summary store every persisted
	// turn and Tier 2 summary is mirrored into. store.DB satisfies it;
	// nil keeps only the JSONL session log.
	Relational RelationalStore

	// Index is the write side of the semantic store: user/assistant
	// turns land in the messages collection, Tier 2 summaries in the
	// session-summaries collection, so the Vector reads above have a
	// producer. vector.Store satisfies it.
	Index Indexer

	Bus      *hooks.Bus
	Learning *learning.Hooks
	Metrics  *metrics.Publisher
	Logger   *slog.Logger

	// Secrets resolves the env vars named by an active skill's
	// RequiredSecrets for the duration of a turn. Nil skips skill-env
	// injection entirely.
	Secrets SecretSource

	// Redactor scrubs resolved secrets from assistant and tool output
	// before persistence.
	Redactor *redact.Redactor

	// Stream receives incremental output; a channel's SendChunk
	// typically lands here. Nil callers get only the final text.
	Stream toolloop.StreamFunc

	ContextBudget budget.Config
	ToolLoop      toolloop.Config
	ContextPrep   contextprep.Config
	Compaction    compactor.Config

	// Profiles routes a conversation's origin to an agent profile
	// (instruction override, skill subset, turn budget). Nil runs
	// every turn with the base configuration.
	Profiles *router.Router

	// EnvironmentBlock, ToolCatalog, MCPPrompt, ProjectContext, and
	// RepoMap are supplied by the host product's disk-discovery and
	// permission-policy layers, which sit outside this module's scope;
	// a nil func yields an empty section for that turn.
	EnvironmentBlock func() string
	ToolCatalogBlock func() string
	MCPPrompt        func() string
	ProjectContext   func() string
	RepoMap          func() string
	MaxActiveSkills  int
}

// Agent is one running instance of the agent runtime, bound to a
// single LLM client and tool executor but capable of serving many
// conversations concurrently at the queue layer — each conversation's
// own turn execution is still single-writer over that conversation's
// message list.
type Agent struct {
	deps     Deps
	logger   *slog.Logger
	shutdown *shutdown.Supervisor
	queue    *queue.Queue
	commands *commands.Dispatcher
	compact  *compactor.Compactor
	prep     *contextprep.Preparer

	caller toolexec.CallerInfo

	originMu sync.Mutex
	origins  map[string]origin
}

// origin is where a conversation's input arrives from, recorded so
// profile routing can run inside the turn without threading
// channel/user/group through every call.
type origin struct {
	channel string
	user    string
	group   string
}

// New builds an Agent ready to serve turns. caller identifies the
// operator this agent instance acts on behalf of, for tool-guard
// permission checks.
func New(deps Deps, caller toolexec.CallerInfo) *Agent {
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	if deps.MaxActiveSkills <= 0 {
		deps.MaxActiveSkills = 6
	}
	if deps.Bus == nil {
		deps.Bus = hooks.New(logger)
	}

	a := &Agent{
		deps:     deps,
		logger:   logger,
		shutdown: shutdown.New(),
		compact:  compactor.New(deps.Compaction, summarizerOrNil(deps.Client), logger),
		prep:     contextprep.New(deps.ContextPrep, deps.ContextBudget, deps.Summaries, deps.Vector, logger),
		caller:   caller,
	}
	a.origins = make(map[string]origin)
	a.queue = queue.New(a.flushBatch, logger)
	a.commands = commands.New(
		deps.SkillRegistry, deps.SkillStore, deps.Learning, a.queue,
		nil, // MCP sub-dispatcher wiring is host-product glue, out of this module's scope
		learningImproveFunc(deps.Client), learningEvaluateFunc(deps.Client),
		nil, // disk write-back for /skill activate needs a managed skills directory the host product supplies
	)
	return a
}

// summarizerOrNil adapts an llm.Client into a compactor.Summarizer, or
// returns nil if client is nil (tests that never trigger Tier 2).
func summarizerOrNil(client *llm.Client) compactor.Summarizer {
	if client == nil {
		return nil
	}
	return compactor.LLMSummarizer(client)
}

func learningImproveFunc(client *llm.Client) learning.ImproveFunc {
	if client == nil {
		return nil
	}
	return learning.LLMImprove(client)
}

func learningEvaluateFunc(client *llm.Client) learning.EvaluateFunc {
	if client == nil {
		return nil
	}
	return learning.LLMEvaluate(client)
}

// Shutdown signals every in-flight and future turn to stop.
func (a *Agent) Shutdown() { a.shutdown.Shutdown() }

// Done exposes the process-wide shutdown signal.
func (a *Agent) Done() <-chan struct{} { return a.shutdown.Done() }

// HandleInput is the runtime's single entry point for operator input:
// a slash command is dispatched immediately (never reaching the
// queue or the LLM); anything else is enqueued and merged.
func (a *Agent) HandleInput(ctx context.Context, conversationID, text string) (commands.Result, bool) {
	if commands.IsCommand(text) {
		return a.commands.Dispatch(ctx, conversationID, text), true
	}
	if err := a.queue.Enqueue(queue.Message{ConversationID: conversationID, Text: text, ReceivedAt: time.Now()}); err != nil {
		a.logger.Warn("enqueue failed", "conversation_id", conversationID, "error", err)
	}
	return commands.Result{}, false
}

// flushBatch is the queue's flush callback: it merges a batch into one
// turn and runs it to completion. Errors are logged rather than
// propagated since there is no synchronous caller left to hand them to
// by the time the merge window has elapsed.
func (a *Agent) flushBatch(conversationID string, batch []queue.Message) {
	ctx, cancelTurn := a.shutdown.BeginTurn(context.Background(), conversationID)
	defer cancelTurn()

	text := queue.MergeText(batch)
	if _, err := a.RunTurn(ctx, conversationID, text); err != nil {
		a.logger.Error("turn failed", "conversation_id", conversationID, "error", err)
	}
}

// SetOrigin records where a conversation's input arrives from, for
// profile routing. Callers that never configure profiles can skip it.
func (a *Agent) SetOrigin(conversationID, user, group string) {
	channel := conversationID
	if i := strings.Index(conversationID, ":"); i > 0 {
		channel = conversationID[:i]
	}
	a.originMu.Lock()
	a.origins[conversationID] = origin{channel: channel, user: user, group: group}
	a.originMu.Unlock()
}

// profileFor resolves the agent profile for a conversation, or nil.
func (a *Agent) profileFor(conversationID string) *router.Profile {
	if a.deps.Profiles == nil {
		return nil
	}
	a.originMu.Lock()
	o, ok := a.origins[conversationID]
	a.originMu.Unlock()
	if !ok {
		o.channel = conversationID
		if i := strings.Index(conversationID, ":"); i > 0 {
			o.channel = conversationID[:i]
		}
	}
	return a.deps.Profiles.Resolve(o.channel, o.user, o.group)
}

// RunTurn executes one full user turn: rebuild the system prompt,
// prepare the injected context, then drive the tool loop. It is
// exported so a synchronous caller (a CLI, a test) can run a turn
// without going through the queue's asynchronous merge window.
func (a *Agent) RunTurn(ctx context.Context, conversationID, userText string) (toolloop.Result, error) {
	history := a.loadHistory(ctx, conversationID)
	profile := a.profileFor(conversationID)

	active := a.matchSkills(userText)
	if profile != nil && len(profile.Skills) > 0 {
		kept := active[:0]
		for _, s := range active {
			if profile.AllowsSkill(s.Name) {
				kept = append(kept, s)
			}
		}
		active = kept
	}
	skillsPrompt := renderSkillsPrompt(active)
	remaining := renderRemainingSkills(a.deps.SkillRegistry, active)

	system := promptbuilder.RebuildSystemPrompt(promptbuilder.SystemPromptInputs{
		SkillsPrompt:           skillsPrompt,
		EnvironmentBlock:       callOr(a.deps.EnvironmentBlock),
		ToolCatalog:            callOr(a.deps.ToolCatalogBlock),
		RemainingSkillsCatalog: remaining,
		MCPPrompt:              callOr(a.deps.MCPPrompt),
		ProjectContext:         callOr(a.deps.ProjectContext),
		RepoMap:                callOr(a.deps.RepoMap),
	}, a.deps.ContextBudget.MaxContextTokens)
	if profile != nil && profile.Instructions != "" {
		system = profile.Instructions + "\n\n" + system
	}

	if len(history) == 0 {
		history = []conversation.Message{{Role: conversation.RoleSystem, Content: system}}
	} else {
		history[0].Content = system
	}

	history = a.prep.Prepare(ctx, conversationID, userText, system, skillsPrompt, history)

	// Two-tier compaction on the hot path: Tier 1 prunes stale tool
	// output; Tier 2 summarizes the middle when that wasn't enough.
	before := len(history)
	compacted, summary, err := a.compact.Compact(ctx, history)
	if err != nil {
		a.logger.Warn("compacting before turn", "conversation_id", conversationID, "error", err)
	} else {
		history = compacted
	}
	if summary != "" {
		if a.deps.Sessions != nil {
			if err := a.deps.Sessions.SaveCompaction(conversationID, persistence.CompactionMeta{
				Tier: 2, Summary: summary, MessagesBefore: before, MessagesAfter: len(history),
			}); err != nil {
				a.logger.Warn("persisting compaction marker", "conversation_id", conversationID, "error", err)
			}
		}
		a.persistSummary(ctx, conversationID, summary, before-len(history)+1)
	}

	for _, s := range active {
		if a.deps.SkillStore != nil {
			if err := a.deps.SkillStore.RecordUsage(s.Name, conversationID); err != nil {
				a.logger.Warn("recording skill usage", "skill", s.Name, "error", err)
			}
		}
	}
	if a.deps.Metrics != nil {
		total := 0
		if a.deps.SkillRegistry != nil {
			total = len(a.deps.SkillRegistry.All())
		}
		a.deps.Metrics.SetSkillCounts(len(active), total)
		a.deps.Metrics.SetConversation(conversationID)
	}

	clearEnv := a.injectSkillEnv(active)
	defer clearEnv()

	loopCfg := a.deps.ToolLoop
	if profile != nil && profile.MaxTurns > 0 {
		loopCfg.MaxTurns = profile.MaxTurns
	}
	run := toolloop.NewRun(loopCfg, a.deps.Client, a.deps.Executor, a.compact, a.deps.Sessions, a.deps.Bus, conversationID, a.caller, a.logger)
	run.SetLearning(a.deps.Learning, active)
	if a.deps.Stream != nil {
		run.SetStream(a.deps.Stream)
	}
	if a.deps.Redactor != nil {
		run.SetRedactor(a.deps.Redactor)
	}
	run.SetTurnSink(a.mirrorTurn)
	run.SetSummarySink(a.persistSummary)

	start := time.Now()
	result, err := run.Execute(ctx, system, history[1:], userText)
	if a.deps.Metrics != nil {
		a.deps.Metrics.RecordLatency(time.Since(start))
		a.deps.Metrics.AddTokens(result.Usage.PromptTokens, result.Usage.CompletionTokens, 0)
		if result.Stopped {
			a.deps.Metrics.RecordCancellation()
		}
	}
	return result, err
}

// SecretSource is what the runtime needs from a vault: the resolved
// env map for a set of secret names. vault.Resolver satisfies it.
type SecretSource interface {
	SetSkillEnv(names []string) (map[string]string, error)
}

// RelationalStore is the durable side of conversation persistence.
type RelationalStore interface {
	AppendMessage(ctx context.Context, conversationID, role, content string) error
	LoadConversation(ctx context.Context, conversationID string) ([]store.MessageRow, error)
	SaveSummary(ctx context.Context, sum store.SummaryRow) error
}

// Indexer is the write side of the semantic store.
type Indexer interface {
	Upsert(ctx context.Context, collection, key, conversationID, text string) error
}

// mirrorTurn fans one persisted turn out to the relational store and,
// for the roles recall searches over, the semantic index. Failures are
// logged, never propagated — persistence is best-effort by contract.
func (a *Agent) mirrorTurn(ctx context.Context, conversationID, role, content string) {
	if a.deps.Relational != nil {
		if err := a.deps.Relational.AppendMessage(ctx, conversationID, role, content); err != nil {
			a.logger.Warn("appending message row", "conversation_id", conversationID, "error", err)
		}
	}
	if a.deps.Index != nil && (role == conversation.RoleUser || role == conversation.RoleAssistant) && content != "" {
		if err := a.deps.Index.Upsert(ctx, vector.CollectionMessages, uuid.NewString(), conversationID, content); err != nil {
			a.logger.Warn("indexing message", "conversation_id", conversationID, "error", err)
		}
	}
}

// persistSummary records a Tier 2 summary durably (summaries table)
// and semantically (session-summaries collection), best-effort.
func (a *Agent) persistSummary(ctx context.Context, conversationID, summary string, messagesCompacted int) {
	if summary == "" {
		return
	}
	if a.deps.Relational != nil {
		err := a.deps.Relational.SaveSummary(ctx, store.SummaryRow{
			ConversationID: conversationID,
			Content:        summary,
			TokenCount:     tokens.Estimate(summary),
		})
		if err != nil {
			a.logger.Warn("saving summary row", "conversation_id", conversationID, "error", err)
		}
	}
	if a.deps.Index != nil {
		if err := a.deps.Index.Upsert(ctx, vector.CollectionSummaries, uuid.NewString(), conversationID, summary); err != nil {
			a.logger.Warn("indexing summary", "conversation_id", conversationID, "error", err)
		}
	}
	a.logger.Info("compaction summary persisted", "conversation_id", conversationID, "messages_compacted", messagesCompacted)
}

// injectSkillEnv resolves the union of the active skills' required
// secrets into the executor's per-turn environment and returns the
// cleanup that clears it. A resolution failure logs and injects
// nothing — the skill's tools then fail with their own missing-secret
// errors, which is more diagnosable than a half-populated env.
func (a *Agent) injectSkillEnv(active []skills.Skill) func() {
	if a.deps.Secrets == nil || a.deps.Executor == nil {
		return func() {}
	}
	var names []string
	seen := make(map[string]bool)
	for _, s := range active {
		for _, n := range s.RequiredSecrets {
			if !seen[n] {
				seen[n] = true
				names = append(names, n)
			}
		}
	}
	if len(names) == 0 {
		return func() {}
	}
	env, err := a.deps.Secrets.SetSkillEnv(names)
	if err != nil {
		a.logger.Warn("resolving skill secrets", "error", err)
		return func() {}
	}
	a.deps.Executor.SetSkillEnv(env)
	return func() { a.deps.Executor.SetSkillEnv(nil) }
}

func callOr(f func() string) string {
	if f == nil {
		return ""
	}
	return f()
}

func (a *Agent) matchSkills(query string) []skills.Skill {
	if a.deps.SkillRegistry == nil {
		return nil
	}
	return a.deps.SkillRegistry.Match(query, a.deps.MaxActiveSkills)
}

func renderSkillsPrompt(active []skills.Skill) string {
	out := ""
	for i, s := range active {
		if i > 0 {
			out += "\n\n"
		}
		out += skills.PromptBlock(s)
	}
	return out
}

func renderRemainingSkills(reg *skills.Registry, active []skills.Skill) string {
	if reg == nil {
		return ""
	}
	activeNames := make(map[string]bool, len(active))
	for _, s := range active {
		activeNames[s.Name] = true
	}
	out := ""
	for _, s := range reg.All() {
		if activeNames[s.Name] {
			continue
		}
		if out != "" {
			out += "\n"
		}
		out += skills.CatalogBlock(s)
	}
	return out
}

// loadHistory reconstructs a conversation's message list from its
// persisted turns — the relational store when one is wired, the JSONL
// session log otherwise. A conversation with no prior turns returns
// nil, and RunTurn seeds a fresh system message for it.
func (a *Agent) loadHistory(ctx context.Context, conversationID string) []conversation.Message {
	if a.deps.Relational != nil {
		rows, err := a.deps.Relational.LoadConversation(ctx, conversationID)
		if err != nil {
			a.logger.Warn("loading conversation rows", "conversation_id", conversationID, "error", err)
		} else if len(rows) > 0 {
			msgs := make([]conversation.Message, 0, len(rows)+1)
			msgs = append(msgs, conversation.Message{Role: conversation.RoleSystem, Content: ""})
			for _, row := range rows {
				msgs = append(msgs, conversation.Message{Role: row.Role, Content: row.Content})
			}
			return msgs
		}
	}

	if a.deps.Sessions == nil {
		return nil
	}
	entries, err := a.deps.Sessions.Load(conversationID)
	if err != nil {
		a.logger.Warn("loading conversation history", "conversation_id", conversationID, "error", err)
		return nil
	}
	msgs := make([]conversation.Message, 0, len(entries)+1)
	msgs = append(msgs, conversation.Message{Role: conversation.RoleSystem, Content: ""})
	for _, e := range entries {
		if e.Type != persistence.EntryTurn {
			continue
		}
		msgs = append(msgs, conversation.Message{Role: e.Role, Content: e.Content})
	}
	return msgs
}
