// Package toolexec dispatches the tool calls an LLM turn requests
// against a registry of handlers, running independent calls in
// parallel while preserving the original request order in the result
// slice and forcing known-sequential tools (anything that mutates
// shared process state — environment variables, the working
// directory, an interactive shell) onto a single-file path.
package toolexec

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/agentcore/runtime/pkg/agentcore/llm"
	"github.com/agentcore/runtime/pkg/agentcore/toolguard"
)

// DefaultTimeout bounds how long a single tool call may run before it
// is canceled.
const DefaultTimeout = 30 * time.Second

// DefaultMaxParallel bounds how many tool calls from one turn run
// concurrently.
const DefaultMaxParallel = 4

// Handler executes one tool call and returns its result content.
type Handler func(ctx context.Context, args map[string]any) (any, error)

// registeredTool pairs a tool's catalog definition with its handler.
type registeredTool struct {
	definition llm.ToolDefinition
	handler    Handler
}

// Result is the outcome of one tool call, always returned in the same
// position it was requested in, regardless of completion order.
type Result struct {
	ToolCallID string
	Name       string
	Content    string
	Err        error
}

// CallerInfo identifies who is asking for a tool dispatch, for guard
// checks and audit logging.
type CallerInfo struct {
	ID    string
	Level toolguard.Level
}

// ConfirmFunc asks the operator a blocking yes/no question, used when
// the guard flags a command as needing confirmation rather than an
// outright block.
type ConfirmFunc func(prompt string) bool

// Executor holds the tool catalog and dispatches calls against it.
type Executor struct {
	mu             sync.RWMutex
	tools          map[string]registeredTool
	sequentialOnly map[string]bool
	guard          *toolguard.Guard
	confirm        ConfirmFunc
	skillEnv       map[string]string
	maxParallel    int
	timeout        time.Duration
	logger         *slog.Logger
}

// New builds an empty Executor. guard may be nil to skip permission
// checks entirely (e.g. in tests).
func New(guard *toolguard.Guard, logger *slog.Logger) *Executor {
	if logger == nil {
		logger = slog.Default()
	}
	return &Executor{
		tools:          make(map[string]registeredTool),
		sequentialOnly: defaultSequentialTools(),
		guard:          guard,
		maxParallel:    DefaultMaxParallel,
		timeout:        DefaultTimeout,
		logger:         logger,
	}
}

// defaultSequentialTools names tools that mutate shared process state
// and therefore must never run concurrently with another call from the
// same turn.
func defaultSequentialTools() map[string]bool {
	return map[string]bool{
		"bash":       true,
		"write_file": true,
		"edit_file":  true,
		"ssh":        true,
		"scp":        true,
		"exec":       true,
		"set_env":    true,
	}
}

// Register adds a tool to the catalog.
func (e *Executor) Register(def llm.ToolDefinition, handler Handler) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.tools[def.Function.Name] = registeredTool{definition: def, handler: handler}
}

// Definitions returns the tool catalog in the shape the LLM driver
// sends as the request's tool list.
func (e *Executor) Definitions() []llm.ToolDefinition {
	e.mu.RLock()
	defer e.mu.RUnlock()
	defs := make([]llm.ToolDefinition, 0, len(e.tools))
	for _, t := range e.tools {
		defs = append(defs, t.definition)
	}
	return defs
}

// Execute dispatches every call in calls, in parallel where safe,
// preserving the request order in the returned slice.
func (e *Executor) Execute(ctx context.Context, caller CallerInfo, calls []llm.ToolCall) []Result {
	if e.hasSequentialTool(calls) {
		return e.executeSequential(ctx, caller, calls)
	}
	return e.executeParallel(ctx, caller, calls)
}

func (e *Executor) hasSequentialTool(calls []llm.ToolCall) bool {
	e.mu.RLock()
	defer e.mu.RUnlock()
	for _, c := range calls {
		if e.sequentialOnly[c.Function.Name] {
			return true
		}
	}
	return false
}

func (e *Executor) executeSequential(ctx context.Context, caller CallerInfo, calls []llm.ToolCall) []Result {
	results := make([]Result, len(calls))
	for i, c := range calls {
		results[i] = e.executeSingle(ctx, caller, c)
	}
	return results
}

func (e *Executor) executeParallel(ctx context.Context, caller CallerInfo, calls []llm.ToolCall) []Result {
	results := make([]Result, len(calls))
	sem := make(chan struct{}, e.maxParallel)
	var wg sync.WaitGroup

	for i, c := range calls {
		wg.Add(1)
		sem <- struct{}{}
		go func(i int, c llm.ToolCall) {
			defer wg.Done()
			defer func() { <-sem }()
			results[i] = e.executeSingle(ctx, caller, c)
		}(i, c)
	}
	wg.Wait()
	return results
}

func (e *Executor) executeSingle(ctx context.Context, caller CallerInfo, call llm.ToolCall) Result {
	result := Result{ToolCallID: call.ID, Name: call.Function.Name}

	e.mu.RLock()
	tool, ok := e.tools[call.Function.Name]
	e.mu.RUnlock()
	if !ok {
		result.Err = fmt.Errorf("tool %q is not registered", call.Function.Name)
		return result
	}

	var args map[string]any
	if call.Function.Arguments != "" {
		if err := json.Unmarshal([]byte(call.Function.Arguments), &args); err != nil {
			result.Err = fmt.Errorf("parsing arguments for %q: %w", call.Function.Name, err)
			return result
		}
	}

	if e.guard != nil {
		commandText, _ := args["command"].(string)
		decision := e.guard.Check(call.Function.Name, caller.ID, caller.Level, commandText)
		if !decision.Allowed {
			if decision.RequiresConfirmation && e.confirmFn() != nil {
				if !e.confirmFn()(fmt.Sprintf("Run %q via %s?", commandText, call.Function.Name)) {
					result.Err = fmt.Errorf("tool %q denied by operator", call.Function.Name)
					return result
				}
				// Confirmed: fall through to execution.
			} else {
				result.Err = fmt.Errorf("tool %q blocked: %s", call.Function.Name, decision.Reason)
				return result
			}
		}
	}

	callCtx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()
	callCtx = withSkillEnv(callCtx, e.currentSkillEnv())

	output, err := tool.handler(callCtx, args)
	if err != nil {
		result.Err = err
		return result
	}

	switch v := output.(type) {
	case string:
		result.Content = v
	default:
		encoded, marshalErr := json.Marshal(v)
		if marshalErr != nil {
			result.Err = fmt.Errorf("marshaling result for %q: %w", call.Function.Name, marshalErr)
			return result
		}
		result.Content = string(encoded)
	}
	return result
}

// SetConfirm registers the operator confirmation prompt. Without one,
// confirmation-gated commands are simply blocked.
func (e *Executor) SetConfirm(fn ConfirmFunc) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.confirm = fn
}

func (e *Executor) confirmFn() ConfirmFunc {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.confirm
}

// SetSkillEnv injects (or, with nil, clears) the secret environment a
// skill's tools see for the current turn. Handlers read it back with
// SkillEnv.
func (e *Executor) SetSkillEnv(env map[string]string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.skillEnv = env
}

func (e *Executor) currentSkillEnv() map[string]string {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.skillEnv
}

type skillEnvKey struct{}

func withSkillEnv(ctx context.Context, env map[string]string) context.Context {
	if env == nil {
		return ctx
	}
	return context.WithValue(ctx, skillEnvKey{}, env)
}

// SkillEnv returns the secret environment injected for the current
// turn, or nil. Tool handlers that spawn processes merge it into the
// child environment.
func SkillEnv(ctx context.Context) map[string]string {
	env, _ := ctx.Value(skillEnvKey{}).(map[string]string)
	return env
}

// SetMaxParallel overrides the default concurrency cap.
func (e *Executor) SetMaxParallel(n int) {
	if n > 0 {
		e.maxParallel = n
	}
}

// SetTimeout overrides the default per-call timeout.
func (e *Executor) SetTimeout(d time.Duration) {
	if d > 0 {
		e.timeout = d
	}
}
