// Package commands implements the agent runtime's slash-command fast
// path: input starting with "/" never reaches the LLM. Each command is
// parsed and dispatched directly against the skill registry, skill
// store, and learning hooks.
package commands

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/agentcore/runtime/pkg/agentcore/learning"
	"github.com/agentcore/runtime/pkg/agentcore/queue"
	"github.com/agentcore/runtime/pkg/agentcore/skills"
)

// Result is the fast-path reply to show the operator; commands never
// produce an LLM turn.
type Result struct {
	Text string
	Err  error
}

// McpDispatch delegates "/mcp [args]" to the MCP sub-dispatcher, which
// lives outside this module's scope — callers wire in whatever
// implementation they have, or leave it nil to report the MCP manager
// as unconfigured.
type McpDispatch func(ctx context.Context, args string) (string, error)

// ImproveLookup resolves a skill's on-disk write-back function, which
// /skill activate hands to ActivateVersion as its writeToDisk hook so
// the activated version reaches the skill file as well as the store.
type ImproveLookup func(skillName string) (writeToDisk func(body string) error)

// Dispatcher wires the fixed command set to a registry, store, learning
// engine, and queue.
type Dispatcher struct {
	registry *skills.Registry
	store    *skills.Store
	learn    *learning.Hooks
	q        *queue.Queue
	mcp      McpDispatch
	improve  learning.ImproveFunc
	evaluate learning.EvaluateFunc
	writeTo  ImproveLookup
}

// New builds a Dispatcher. mcp, improve, evaluate, and writeTo may all
// be nil: /mcp then returns an explanatory error, /feedback only records
// the outcome when improve is nil, a nil evaluate skips the evaluation
// gate, and /skill activate skips the disk write when writeTo is nil.
func New(registry *skills.Registry, store *skills.Store, learn *learning.Hooks, q *queue.Queue, mcp McpDispatch, improve learning.ImproveFunc, evaluate learning.EvaluateFunc, writeTo ImproveLookup) *Dispatcher {
	return &Dispatcher{registry: registry, store: store, learn: learn, q: q, mcp: mcp, improve: improve, evaluate: evaluate, writeTo: writeTo}
}

// IsCommand reports whether input should be routed to Dispatch instead
// of the tool loop.
func IsCommand(input string) bool {
	return strings.HasPrefix(strings.TrimSpace(input), "/")
}

// Dispatch parses and executes one command line. conversationID scopes
// feedback/outcome recording to the conversation it was issued from.
func (d *Dispatcher) Dispatch(ctx context.Context, conversationID, input string) Result {
	fields := strings.Fields(strings.TrimSpace(input))
	if len(fields) == 0 {
		return Result{Err: fmt.Errorf("empty command")}
	}

	switch fields[0] {
	case "/clear-queue":
		return d.clearQueue()
	case "/skills":
		return d.listSkills()
	case "/skill":
		return d.skill(fields[1:])
	case "/feedback":
		return d.feedback(ctx, conversationID, fields[1:])
	case "/mcp":
		return d.mcpCommand(ctx, strings.TrimSpace(strings.TrimPrefix(input, "/mcp")))
	default:
		return Result{Text: usage()}
	}
}

func usage() string {
	return "unrecognized command. available: /clear-queue, /skills, /skill <stats|versions|activate|approve|reset|trust|block|unblock|install|remove>, /feedback <skill> <text>, /mcp [args]"
}

func (d *Dispatcher) clearQueue() Result {
	if d.q == nil {
		return Result{Err: fmt.Errorf("no message queue configured")}
	}
	n := d.q.Clear()
	return Result{Text: fmt.Sprintf("cleared %d queued message(s)", n)}
}

func (d *Dispatcher) listSkills() Result {
	if d.registry == nil {
		return Result{Err: fmt.Errorf("no skill registry configured")}
	}
	all := d.registry.All()
	if len(all) == 0 {
		return Result{Text: "no skills loaded"}
	}
	var b strings.Builder
	for _, s := range all {
		trust := d.registry.TrustOf(s.Name)
		usage := 0
		if d.store != nil {
			if n, err := d.store.UsageCount(s.Name); err == nil {
				usage = n
			}
		}
		fmt.Fprintf(&b, "%s [%s] (%d uses) — %s\n", s.Name, trust, usage, s.Description)
	}
	return Result{Text: strings.TrimRight(b.String(), "\n")}
}

func (d *Dispatcher) skill(args []string) Result {
	if d.registry == nil || d.store == nil {
		return Result{Err: fmt.Errorf("skills are not configured")}
	}
	if len(args) == 0 {
		return Result{Text: usage()}
	}

	switch args[0] {
	case "stats":
		return d.listSkills()

	case "versions":
		if len(args) < 2 {
			return Result{Text: "usage: /skill versions <name>"}
		}
		versions, err := d.store.Versions(args[1])
		if err != nil {
			return Result{Err: err}
		}
		if len(versions) == 0 {
			return Result{Text: fmt.Sprintf("%s has no recorded versions", args[1])}
		}
		var b strings.Builder
		for _, v := range versions {
			active := ""
			if v.IsActive {
				active = " (active)"
			}
			fmt.Fprintf(&b, "v%d [%s]%s: %d ok / %d fail\n", v.VersionID, v.Source, active, v.SuccessCount, v.FailureCount)
		}
		return Result{Text: strings.TrimRight(b.String(), "\n")}

	case "activate":
		if len(args) < 3 {
			return Result{Text: "usage: /skill activate <name> <version>"}
		}
		ver, err := strconv.Atoi(args[2])
		if err != nil {
			return Result{Err: fmt.Errorf("invalid version number %q", args[2])}
		}
		if d.learn == nil {
			return Result{Err: fmt.Errorf("learning hooks are not configured")}
		}
		if err := d.learn.ActivateVersion(args[1], ver, d.diskWriter(args[1])); err != nil {
			return Result{Err: err}
		}
		return Result{Text: fmt.Sprintf("activated %s v%d", args[1], ver)}

	case "approve":
		if len(args) < 2 {
			return Result{Text: "usage: /skill approve <name>"}
		}
		return d.setTrust(args[1], skills.TrustVerified)

	case "reset":
		if len(args) < 2 {
			return Result{Text: "usage: /skill reset <name>"}
		}
		return d.setTrust(args[1], skills.TrustUntrusted)

	case "trust":
		if len(args) < 3 {
			return Result{Text: "usage: /skill trust <name> <trusted|verified|untrusted|blocked>"}
		}
		level := skills.Trust(args[2])
		switch level {
		case skills.TrustTrusted, skills.TrustVerified, skills.TrustUntrusted, skills.TrustBlocked:
			return d.setTrust(args[1], level)
		default:
			return Result{Err: fmt.Errorf("unknown trust level %q", args[2])}
		}

	case "block":
		if len(args) < 2 {
			return Result{Text: "usage: /skill block <name>"}
		}
		return d.setTrust(args[1], skills.TrustBlocked)

	case "unblock":
		if len(args) < 2 {
			return Result{Text: "usage: /skill unblock <name>"}
		}
		return d.setTrust(args[1], skills.TrustUntrusted)

	case "install", "remove":
		return Result{Err: fmt.Errorf("%s requires a managed skills directory, which is not configured", args[0])}

	default:
		return Result{Text: usage()}
	}
}

func (d *Dispatcher) setTrust(name string, level skills.Trust) Result {
	d.registry.SetTrust(name, level)
	if err := d.store.SetTrust(name, level); err != nil {
		return Result{Err: fmt.Errorf("persisting trust change: %w", err)}
	}
	return Result{Text: fmt.Sprintf("%s is now %s", name, level)}
}

func (d *Dispatcher) diskWriter(name string) func(string) error {
	if d.writeTo == nil {
		return nil
	}
	return d.writeTo(name)
}

func (d *Dispatcher) feedback(ctx context.Context, conversationID string, args []string) Result {
	if len(args) < 2 {
		return Result{Text: "usage: /feedback <skill> <text>"}
	}
	name := args[0]
	text := strings.Join(args[1:], " ")

	if d.store != nil {
		if err := d.store.RecordOutcome(name, conversationID, skills.OutcomeUserRejection, text); err != nil {
			return Result{Err: fmt.Errorf("recording feedback outcome: %w", err)}
		}
	}

	if d.learn == nil || d.improve == nil {
		return Result{Text: fmt.Sprintf("recorded feedback for %s", name)}
	}

	_, improved, err := d.learn.GenerateImprovedSkill(ctx, name, text, "", text, true, d.evaluate, d.improve)
	if err != nil {
		return Result{Text: fmt.Sprintf("recorded feedback for %s (improvement attempt failed: %s)", name, err.Error())}
	}
	if !improved {
		return Result{Text: fmt.Sprintf("recorded feedback for %s", name)}
	}
	return Result{Text: fmt.Sprintf("recorded feedback for %s and generated a new skill version", name)}
}

func (d *Dispatcher) mcpCommand(ctx context.Context, args string) Result {
	if d.mcp == nil {
		return Result{Err: fmt.Errorf("no MCP manager configured")}
	}
	out, err := d.mcp(ctx, args)
	if err != nil {
		return Result{Err: err}
	}
	return Result{Text: out}
}
